package state

import (
	"time"

	"banklink/internal/domain/banking"
)

// Action is a closed set of state transitions. Each action type carries its
// own handler, so adding an action without a handler does not compile.
type Action interface {
	apply(State) State
	Name() string
}

// SetConnecting toggles the connecting flag. It never touches the error field.
type SetConnecting struct{ Connecting bool }

// SetSyncing toggles the syncing flag used by refreshes.
type SetSyncing struct{ Syncing bool }

// SetConnectionError records an error message. An empty message clears it.
type SetConnectionError struct{ Message string }

// SetLinkToken stores the ephemeral link token. It is never persisted.
type SetLinkToken struct{ Token string }

// SetAccounts replaces the account list.
type SetAccounts struct{ Accounts []banking.BankAccount }

// AddAccount appends one account, replacing any account with the same id.
type AddAccount struct{ Account banking.BankAccount }

// RemoveAccount drops one account and its transactions. It is computed
// against the state current at dispatch, so concurrent removals compose.
type RemoveAccount struct{ AccountID string }

// ReorderAccounts applies a display order to the current accounts. Unknown
// ids are dropped; an order matching no account leaves state unchanged.
type ReorderAccounts struct{ AccountIDs []string }

// SetTransactions replaces the transaction list.
type SetTransactions struct{ Transactions []banking.Transaction }

// SetLastSync records the time of the last successful sync.
type SetLastSync struct{ At time.Time }

// SetShowBalances stores the balance-visibility preference.
type SetShowBalances struct{ Show bool }

// SetFirstTime stores the onboarding flag.
type SetFirstTime struct{ FirstTime bool }

// ClearError removes any recorded connection error.
type ClearError struct{}

// Reset returns to the initial state, keeping only the balance-visibility preference.
type Reset struct{}

func (a SetConnecting) apply(s State) State {
	s.IsConnecting = a.Connecting
	return s
}

func (a SetSyncing) apply(s State) State {
	s.IsSyncing = a.Syncing
	return s
}

func (a SetConnectionError) apply(s State) State {
	s.ConnectionError = a.Message
	return s
}

func (a SetLinkToken) apply(s State) State {
	s.LinkToken = a.Token
	return s
}

func (a SetAccounts) apply(s State) State {
	return s.withAccounts(cloneAccounts(a.Accounts))
}

func (a AddAccount) apply(s State) State {
	accounts := make([]banking.BankAccount, 0, len(s.Accounts)+1)
	for _, acc := range s.Accounts {
		if acc.AccountID != a.Account.AccountID {
			accounts = append(accounts, acc)
		}
	}
	accounts = append(accounts, a.Account)
	return s.withAccounts(accounts)
}

func (a RemoveAccount) apply(s State) State {
	accounts, transactions := banking.WithoutAccount(s.Accounts, s.Transactions, a.AccountID)
	s.Transactions = transactions
	return s.withAccounts(accounts)
}

func (a ReorderAccounts) apply(s State) State {
	ordered := banking.Reorder(s.Accounts, a.AccountIDs)
	if len(ordered) == 0 {
		return s
	}
	return s.withAccounts(ordered)
}

func (a SetTransactions) apply(s State) State {
	s.Transactions = cloneTransactions(a.Transactions)
	return s
}

func (a SetLastSync) apply(s State) State {
	s.LastSyncTime = a.At
	return s
}

func (a SetShowBalances) apply(s State) State {
	s.ShowBalances = a.Show
	return s
}

func (a SetFirstTime) apply(s State) State {
	s.IsFirstTime = a.FirstTime
	return s
}

func (ClearError) apply(s State) State {
	s.ConnectionError = ""
	return s
}

func (Reset) apply(s State) State {
	next := Initial()
	next.ShowBalances = s.ShowBalances
	return next
}

func (SetConnecting) Name() string      { return "SetConnecting" }
func (SetSyncing) Name() string         { return "SetSyncing" }
func (SetConnectionError) Name() string { return "SetConnectionError" }
func (SetLinkToken) Name() string       { return "SetLinkToken" }
func (SetAccounts) Name() string        { return "SetAccounts" }
func (AddAccount) Name() string         { return "AddAccount" }
func (RemoveAccount) Name() string      { return "RemoveAccount" }
func (ReorderAccounts) Name() string    { return "ReorderAccounts" }
func (SetTransactions) Name() string    { return "SetTransactions" }
func (SetLastSync) Name() string        { return "SetLastSync" }
func (SetShowBalances) Name() string    { return "SetShowBalances" }
func (SetFirstTime) Name() string       { return "SetFirstTime" }
func (ClearError) Name() string         { return "ClearError" }
func (Reset) Name() string              { return "Reset" }

// Reduce is the pure transition function. It performs no I/O.
func Reduce(s State, action Action) State {
	if action == nil {
		return s
	}
	return action.apply(s)
}

func cloneAccounts(in []banking.BankAccount) []banking.BankAccount {
	out := make([]banking.BankAccount, len(in))
	copy(out, in)
	return out
}

func cloneTransactions(in []banking.Transaction) []banking.Transaction {
	out := make([]banking.Transaction, len(in))
	copy(out, in)
	return out
}
