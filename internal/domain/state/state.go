// Package state holds the single authoritative in-memory view of a user's
// linked accounts and the pure transition function that mutates it.
package state

import (
	"time"

	"github.com/shopspring/decimal"

	"banklink/internal/domain/banking"
)

// State is the bank-link state for one user session. Values are treated as
// immutable: every transition returns a fresh State.
type State struct {
	Accounts     []banking.BankAccount
	Transactions []banking.Transaction
	LinkToken    string

	IsConnecting    bool
	IsSyncing       bool
	ConnectionError string // empty when there is no error
	LastSyncTime    time.Time

	ShowBalances bool
	IsFirstTime  bool

	// Derived from Accounts on every account mutation.
	HasAccounts  bool
	IsConnected  bool
	TotalBalance decimal.Decimal
}

// Initial returns the empty state a session starts from.
func Initial() State {
	return State{
		Accounts:     []banking.BankAccount{},
		Transactions: []banking.Transaction{},
		ShowBalances: true,
		IsFirstTime:  true,
		TotalBalance: decimal.Zero,
	}
}

// HasError reports whether a connection error is recorded.
func (s State) HasError() bool {
	return s.ConnectionError != ""
}

// Account returns the account with the given id.
func (s State) Account(id string) (banking.BankAccount, bool) {
	for _, acc := range s.Accounts {
		if acc.AccountID == id {
			return acc, true
		}
	}
	return banking.BankAccount{}, false
}

// withAccounts replaces the account list and recomputes every derived field.
func (s State) withAccounts(accounts []banking.BankAccount) State {
	s.Accounts = accounts
	s.HasAccounts = len(accounts) > 0
	s.IsConnected = s.HasAccounts
	s.TotalBalance = banking.TotalBalance(accounts)
	return s
}
