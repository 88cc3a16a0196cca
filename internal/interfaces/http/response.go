package http

import (
	"encoding/json"
	"net/http"
	"time"

	"banklink/internal/domain/banking"
	"banklink/internal/domain/state"
	"banklink/internal/linksync"
)

// AccountResponse is the client-facing shape of a linked account.
type AccountResponse struct {
	AccountID        string  `json:"accountId"`
	ItemID           string  `json:"itemId"`
	InstitutionName  string  `json:"institutionName"`
	Name             string  `json:"name"`
	OfficialName     string  `json:"officialName,omitempty"`
	Type             string  `json:"type"`
	Subtype          string  `json:"subtype"`
	Mask             string  `json:"mask"`
	Currency         string  `json:"currency"`
	CurrentBalance   *string `json:"currentBalance"`   // decimal string, null when unknown
	AvailableBalance *string `json:"availableBalance"` // decimal string, null when unknown
}

type TransactionResponse struct {
	TransactionID string `json:"transactionId"`
	AccountID     string `json:"accountId"`
	Amount        string `json:"amount"`
	Date          string `json:"date"`
	Name          string `json:"name"`
	MerchantName  string `json:"merchantName,omitempty"`
	Category      string `json:"category,omitempty"`
	Pending       bool   `json:"pending"`
}

// StateResponse mirrors state.State for the client.
type StateResponse struct {
	Accounts        []AccountResponse     `json:"accounts"`
	Transactions    []TransactionResponse `json:"transactions"`
	LinkToken       string                `json:"linkToken,omitempty"`
	IsConnecting    bool                  `json:"isConnecting"`
	IsSyncing       bool                  `json:"isSyncing"`
	IsConnected     bool                  `json:"isConnected"`
	HasAccounts     bool                  `json:"hasAccounts"`
	ConnectionError *string               `json:"connectionError"`
	LastSyncTime    *string               `json:"lastSyncTime"`
	ShowBalances    bool                  `json:"showBalances"`
	IsFirstTime     bool                  `json:"isFirstTime"`
	TotalBalance    string                `json:"totalBalance"`
}

type LinkTokenResponse struct {
	LinkToken string        `json:"linkToken"`
	State     StateResponse `json:"state"`
}

type DisconnectResponse struct {
	AccountID      string        `json:"accountId"`
	Reconciled     bool          `json:"reconciled"`
	AlreadyDeleted bool          `json:"alreadyDeleted"`
	Message        string        `json:"message,omitempty"`
	State          StateResponse `json:"state"`
}

type ReorderResponse struct {
	Changed bool          `json:"changed"`
	State   StateResponse `json:"state"`
}

// ErrorResponse carries a failure alongside the state it left behind.
type ErrorResponse struct {
	Error string         `json:"error"`
	State *StateResponse `json:"state,omitempty"`
}

func toAccountResponse(acc banking.BankAccount) AccountResponse {
	resp := AccountResponse{
		AccountID:       acc.AccountID,
		ItemID:          acc.ItemID,
		InstitutionName: acc.InstitutionName,
		Name:            acc.Name,
		OfficialName:    acc.OfficialName,
		Type:            acc.Type,
		Subtype:         acc.Subtype,
		Mask:            acc.Mask,
		Currency:        acc.CurrencyCode,
	}
	if acc.CurrentBalance.Valid {
		s := acc.CurrentBalance.Decimal.StringFixed(2)
		resp.CurrentBalance = &s
	}
	if acc.AvailableBalance.Valid {
		s := acc.AvailableBalance.Decimal.StringFixed(2)
		resp.AvailableBalance = &s
	}
	return resp
}

func toTransactionResponse(tx banking.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID: tx.TransactionID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount.StringFixed(2),
		Date:          tx.Date,
		Name:          tx.Name,
		MerchantName:  tx.MerchantName,
		Category:      tx.Category,
		Pending:       tx.Pending,
	}
}

func toStateResponse(s state.State) StateResponse {
	resp := StateResponse{
		Accounts:     make([]AccountResponse, 0, len(s.Accounts)),
		Transactions: make([]TransactionResponse, 0, len(s.Transactions)),
		LinkToken:    s.LinkToken,
		IsConnecting: s.IsConnecting,
		IsSyncing:    s.IsSyncing,
		IsConnected:  s.IsConnected,
		HasAccounts:  s.HasAccounts,
		ShowBalances: s.ShowBalances,
		IsFirstTime:  s.IsFirstTime,
		TotalBalance: s.TotalBalance.StringFixed(2),
	}
	for _, acc := range s.Accounts {
		resp.Accounts = append(resp.Accounts, toAccountResponse(acc))
	}
	for _, tx := range s.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	if s.HasError() {
		msg := s.ConnectionError
		resp.ConnectionError = &msg
	}
	if !s.LastSyncTime.IsZero() {
		at := s.LastSyncTime.UTC().Format(time.RFC3339)
		resp.LastSyncTime = &at
	}
	return resp
}

func toDisconnectResponse(o linksync.DisconnectOutcome, s state.State) DisconnectResponse {
	return DisconnectResponse{
		AccountID:      o.AccountID,
		Reconciled:     o.Reconciled,
		AlreadyDeleted: o.AlreadyDeleted,
		Message:        o.Message,
		State:          toStateResponse(s),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeStateError reports a failed flow together with the resulting state,
// which already carries the connection error.
func writeStateError(w http.ResponseWriter, status int, message string, s state.State) {
	resp := toStateResponse(s)
	writeJSON(w, status, ErrorResponse{Error: message, State: &resp})
}
