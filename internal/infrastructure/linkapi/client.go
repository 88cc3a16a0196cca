// Package linkapi is the typed HTTP client for the bank-link backend. It
// performs plain request/response calls; retries belong to the caller.
package linkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"banklink/internal/domain/banking"
)

const (
	DefaultBaseURL          = "http://localhost:3000/api"
	DefaultTimeout          = 30 * time.Second
	DefaultTransactionLimit = 50

	linkTokenPath    = "/link/token"
	exchangePath     = "/link/exchange"
	accountsPath     = "/accounts/"
	transactionsPath = "/transactions/"

	maxBodyBytes = 8 << 20
)

var tracer = otel.Tracer("banklink/linkapi")

// ClientInterface is the contract the sync engine depends on.
type ClientInterface interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken, userID string, selectedAccountIDs []string) error
	FetchAccounts(ctx context.Context, userID string) ([]banking.BankAccount, error)
	FetchTransactions(ctx context.Context, userID string, limit int) ([]banking.Transaction, error)
	DeleteAccount(ctx context.Context, accountID string) (DeleteResult, error)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	AuthToken  string       // sent as a bearer token when set
	HTTPClient *http.Client // overrides the default instrumented client
	Logger     *zap.Logger
}

// Client handles communication with the bank-link backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	logger     *zap.Logger
}

var _ ClientInterface = (*Client)(nil)

// NewClient creates a client. Empty config fields fall back to defaults.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		authToken:  cfg.AuthToken,
		logger:     logger.With(zap.String("component", "linkapi")),
	}
}

// BaseURL returns the resolved backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DeleteResult reports how the backend handled an account deletion.
type DeleteResult struct {
	Success        bool
	AlreadyDeleted bool
	Message        string
}

type linkTokenRequest struct {
	UserID string `json:"userId"`
}

type linkTokenResponse struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration,omitempty"`
}

type exchangeRequest struct {
	PublicToken        string   `json:"public_token"`
	UserID             string   `json:"userId"`
	SelectedAccountIDs []string `json:"selected_account_ids"`
}

type deleteResponse struct {
	Success        *bool  `json:"success"`
	AlreadyDeleted bool   `json:"alreadyDeleted"`
	Message        string `json:"message"`
}

// ErrorResponse is the error body shape the backend uses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (r ErrorResponse) text() string {
	for _, s := range []string{r.Detail, r.Message, r.Error} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// CreateLinkToken requests a link token for presenting the provider's linking UI.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	ctx, span := c.startSpan(ctx, OpCreateLinkToken)
	defer span.End()

	status, body, err := c.do(ctx, http.MethodPost, linkTokenPath, linkTokenRequest{UserID: userID})
	if err != nil {
		return "", c.fail(span, &Error{Op: OpCreateLinkToken, Kind: KindNetwork, Err: err})
	}
	if !isSuccess(status) {
		return "", c.fail(span, &Error{Op: OpCreateLinkToken, Kind: kindForStatus(status), StatusCode: status, Message: errorDetail(body)})
	}

	var resp linkTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", c.fail(span, &Error{Op: OpCreateLinkToken, Kind: KindProtocol, StatusCode: status, Err: fmt.Errorf("failed to unmarshal response: %w", err)})
	}
	if resp.LinkToken == "" {
		return "", c.fail(span, &Error{Op: OpCreateLinkToken, Kind: KindProtocol, StatusCode: status, Message: "response did not include a link token"})
	}

	return resp.LinkToken, nil
}

// ExchangePublicToken trades a short-lived public token for a durable access
// token held by the backend.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken, userID string, selectedAccountIDs []string) error {
	ctx, span := c.startSpan(ctx, OpExchangeToken)
	defer span.End()
	span.SetAttributes(attribute.Int("banklink.selected_accounts", len(selectedAccountIDs)))

	if selectedAccountIDs == nil {
		selectedAccountIDs = []string{}
	}

	req := exchangeRequest{
		PublicToken:        publicToken,
		UserID:             userID,
		SelectedAccountIDs: selectedAccountIDs,
	}

	status, body, err := c.do(ctx, http.MethodPost, exchangePath, req)
	if err != nil {
		return c.fail(span, &Error{Op: OpExchangeToken, Kind: KindNetwork, Message: "Failed to exchange public token", Err: err})
	}
	if !isSuccess(status) {
		msg := errorDetail(body)
		if msg == "" {
			msg = "Failed to exchange public token"
		}
		return c.fail(span, &Error{Op: OpExchangeToken, Kind: kindForStatus(status), StatusCode: status, Message: msg})
	}

	return nil
}

// FetchAccounts returns the linked accounts for a user.
func (c *Client) FetchAccounts(ctx context.Context, userID string) ([]banking.BankAccount, error) {
	ctx, span := c.startSpan(ctx, OpFetchAccounts)
	defer span.End()

	path := accountsPath + url.PathEscape(userID)
	var accounts []banking.BankAccount
	if err := c.fetchList(ctx, span, OpFetchAccounts, path, "accounts", &accounts); err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []banking.BankAccount{}
	}

	span.SetAttributes(attribute.Int("banklink.accounts", len(accounts)))
	return accounts, nil
}

// FetchTransactions returns up to limit recent transactions. A non-positive
// limit uses DefaultTransactionLimit.
func (c *Client) FetchTransactions(ctx context.Context, userID string, limit int) ([]banking.Transaction, error) {
	ctx, span := c.startSpan(ctx, OpFetchTransactions)
	defer span.End()

	if limit <= 0 {
		limit = DefaultTransactionLimit
	}

	path := transactionsPath + url.PathEscape(userID) + "?limit=" + strconv.Itoa(limit)
	var transactions []banking.Transaction
	if err := c.fetchList(ctx, span, OpFetchTransactions, path, "transactions", &transactions); err != nil {
		return nil, err
	}
	if transactions == nil {
		transactions = []banking.Transaction{}
	}

	span.SetAttributes(attribute.Int("banklink.transactions", len(transactions)))
	return transactions, nil
}

// DeleteAccount removes an account on the backend. A 404 or an
// alreadyDeleted flag counts as success.
func (c *Client) DeleteAccount(ctx context.Context, accountID string) (DeleteResult, error) {
	ctx, span := c.startSpan(ctx, OpDeleteAccount)
	defer span.End()

	status, body, err := c.do(ctx, http.MethodDelete, accountsPath+url.PathEscape(accountID), nil)
	if err != nil {
		return DeleteResult{}, c.fail(span, &Error{Op: OpDeleteAccount, Kind: KindNetwork, Err: err})
	}

	if status == http.StatusNotFound {
		c.logger.Debug("account already gone on backend", zap.String("account_id", accountID))
		return DeleteResult{Success: true, AlreadyDeleted: true}, nil
	}

	var resp deleteResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil && isSuccess(status) {
			return DeleteResult{}, c.fail(span, &Error{Op: OpDeleteAccount, Kind: KindProtocol, StatusCode: status, Err: fmt.Errorf("failed to unmarshal response: %w", err)})
		}
	}

	if resp.AlreadyDeleted {
		return DeleteResult{Success: true, AlreadyDeleted: true, Message: resp.Message}, nil
	}

	if !isSuccess(status) {
		return DeleteResult{}, c.fail(span, &Error{Op: OpDeleteAccount, Kind: kindForStatus(status), StatusCode: status, Message: errorDetail(body)})
	}

	success := resp.Success == nil || *resp.Success
	return DeleteResult{Success: success, Message: resp.Message}, nil
}

func (c *Client) fetchList(ctx context.Context, span trace.Span, op Op, path, envelopeKey string, dest any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return c.fail(span, &Error{Op: op, Kind: KindNetwork, Err: err})
	}
	if !isSuccess(status) {
		return c.fail(span, &Error{Op: op, Kind: kindForStatus(status), StatusCode: status, Message: errorDetail(body)})
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		// Some deployments wrap lists as {"accounts": [...]}.
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return c.fail(span, &Error{Op: op, Kind: KindProtocol, StatusCode: status, Err: fmt.Errorf("failed to unmarshal response: %w", err)})
		}
		inner, ok := envelope[envelopeKey]
		if !ok {
			return c.fail(span, &Error{Op: op, Kind: KindProtocol, StatusCode: status, Message: fmt.Sprintf("response did not include %s", envelopeKey)})
		}
		trimmed = inner
	}

	if err := json.Unmarshal(trimmed, dest); err != nil {
		return c.fail(span, &Error{Op: op, Kind: KindProtocol, StatusCode: status, Err: fmt.Errorf("failed to unmarshal response: %w", err)})
	}
	return nil
}

// do executes one request and returns the status and body. A non-nil error
// means the transport failed.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("path", redactPath(path)),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", redactPath(path)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", requestID),
	)

	return resp.StatusCode, body, nil
}

func (c *Client) startSpan(ctx context.Context, op Op) (context.Context, trace.Span) {
	return tracer.Start(ctx, "linkapi."+strings.ReplaceAll(string(op), " ", "_"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("banklink.op", string(op))),
	)
}

func (c *Client) fail(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String("banklink.error_kind", err.Kind.String()),
		attribute.Int("http.status_code", err.StatusCode),
	)
	return err
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func errorDetail(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	return errResp.text()
}

// redactPath drops user and account ids from log lines.
func redactPath(path string) string {
	for _, prefix := range []string{accountsPath, transactionsPath} {
		if strings.HasPrefix(path, prefix) {
			return prefix + ":id"
		}
	}
	return path
}
