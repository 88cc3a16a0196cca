package linkapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second, AuthToken: "secret"})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestCreateLinkToken(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantToken string
		wantErr   error
	}{
		{"Success", http.StatusOK, `{"link_token":"link-sandbox-123","expiration":"2026-01-01T00:00:00Z"}`, "link-sandbox-123", nil},
		{"Missing token", http.StatusOK, `{}`, "", ErrProtocol},
		{"Malformed body", http.StatusOK, `not json`, "", ErrProtocol},
		{"Server error", http.StatusBadGateway, `{"error":"upstream"}`, "", ErrServer},
		{"Client error", http.StatusBadRequest, `{"message":"userId required"}`, "", ErrClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/link/token", r.URL.Path)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "user-1", body["userId"])

				writeJSON(w, tt.status, tt.body)
			})

			token, err := client.CreateLinkToken(context.Background(), "user-1")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestCreateLinkToken_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := client.CreateLinkToken(context.Background(), "user-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsRetryable(err))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.StatusCode)
}

func TestExchangePublicToken(t *testing.T) {
	t.Run("sends contract body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/link/exchange", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "public-sandbox-1", body["public_token"])
			assert.Equal(t, "user-1", body["userId"])
			assert.Equal(t, []any{"a", "b"}, body["selected_account_ids"])
			w.WriteHeader(http.StatusNoContent)
		})

		require.NoError(t, client.ExchangePublicToken(context.Background(), "public-sandbox-1", "user-1", []string{"a", "b"}))
	})

	t.Run("nil selection sent as empty list", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []any{}, body["selected_account_ids"])
			writeJSON(w, http.StatusOK, `{"success":true}`)
		})

		require.NoError(t, client.ExchangePublicToken(context.Background(), "p", "user-1", nil))
	})

	t.Run("server detail surfaced", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"error":"INVALID_PUBLIC_TOKEN","detail":"public token expired"}`)
		})

		err := client.ExchangePublicToken(context.Background(), "p", "user-1", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExchange)
		assert.ErrorIs(t, err, ErrClient)
		assert.Equal(t, "public token expired", UserMessage(err))
	})

	t.Run("generic message without detail", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		err := client.ExchangePublicToken(context.Background(), "p", "user-1", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExchange)
		assert.Equal(t, "Failed to exchange public token", UserMessage(err))
	})
}

func TestFetchAccounts(t *testing.T) {
	t.Run("bare array", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/accounts/user-1", r.URL.Path)
			writeJSON(w, http.StatusOK, `[{"account_id":"a","name":"Checking","current_balance":100},{"account_id":"b","current_balance":null}]`)
		})

		accounts, err := client.FetchAccounts(context.Background(), "user-1")
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, "Checking", accounts[0].Name)
		assert.False(t, accounts[1].CurrentBalance.Valid)
	})

	t.Run("enveloped", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"accounts":[{"account_id":"a"}]}`)
		})

		accounts, err := client.FetchAccounts(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
	})

	t.Run("null is empty", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `null`)
		})

		accounts, err := client.FetchAccounts(context.Background(), "user-1")
		require.NoError(t, err)
		assert.NotNil(t, accounts)
		assert.Empty(t, accounts)
	})

	t.Run("non-2xx is fetch error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusForbidden, `{"message":"forbidden"}`)
		})

		_, err := client.FetchAccounts(context.Background(), "user-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFetch)
		assert.ErrorIs(t, err, ErrClient)
		assert.False(t, IsRetryable(err))
	})
}

func TestFetchTransactions(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantLimit string
	}{
		{"explicit limit", 10, "10"},
		{"default limit", 0, "50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transactions/user-1", r.URL.Path)
				assert.Equal(t, tt.wantLimit, r.URL.Query().Get("limit"))
				writeJSON(w, http.StatusOK, `[{"transaction_id":"t1","account_id":"a","amount":-12.5,"date":"2026-10-01","pending":true}]`)
			})

			txs, err := client.FetchTransactions(context.Background(), "user-1", tt.limit)
			require.NoError(t, err)
			require.Len(t, txs, 1)
			assert.True(t, txs[0].Pending)
			assert.Equal(t, "-12.5", txs[0].Amount.String())
		})
	}

	t.Run("server error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := client.FetchTransactions(context.Background(), "user-1", 5)
		assert.ErrorIs(t, err, ErrFetch)
		assert.ErrorIs(t, err, ErrServer)
	})
}

func TestDeleteAccount(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    DeleteResult
		wantErr error
	}{
		{"200 success", http.StatusOK, `{"success":true}`, DeleteResult{Success: true}, nil},
		{"204 empty body", http.StatusNoContent, ``, DeleteResult{Success: true}, nil},
		{"404 already gone", http.StatusNotFound, `{"error":"not found"}`, DeleteResult{Success: true, AlreadyDeleted: true}, nil},
		{"flagged already deleted", http.StatusOK, `{"success":true,"alreadyDeleted":true,"message":"gone"}`, DeleteResult{Success: true, AlreadyDeleted: true, Message: "gone"}, nil},
		{"reported failure", http.StatusOK, `{"success":false,"message":"item locked"}`, DeleteResult{Success: false, Message: "item locked"}, nil},
		{"server error", http.StatusInternalServerError, `{"error":"db down"}`, DeleteResult{}, ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/accounts/acc-1", r.URL.Path)
				if tt.body == "" {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			got, err := client.DeleteAccount(context.Background(), "acc-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
}

func TestRedactPath(t *testing.T) {
	assert.Equal(t, "/accounts/:id", redactPath("/accounts/user-1"))
	assert.Equal(t, "/transactions/:id", redactPath("/transactions/user-1?limit=50"))
	assert.Equal(t, "/link/token", redactPath("/link/token"))
}
