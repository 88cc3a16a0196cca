package state

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banklink/internal/domain/banking"
)

func acc(id string, balance int64) banking.BankAccount {
	return banking.BankAccount{
		AccountID:      id,
		CurrentBalance: decimal.NewNullDecimal(decimal.NewFromInt(balance)),
	}
}

func TestReduce_SetAccountsDerivesFields(t *testing.T) {
	s := Reduce(Initial(), SetAccounts{Accounts: []banking.BankAccount{acc("1", 100), acc("2", -40)}})

	assert.True(t, s.HasAccounts)
	assert.True(t, s.IsConnected)
	assert.True(t, s.TotalBalance.Equal(decimal.NewFromInt(60)), "TotalBalance = %s, want 60", s.TotalBalance)

	s = Reduce(s, SetAccounts{Accounts: nil})
	assert.False(t, s.HasAccounts)
	assert.False(t, s.IsConnected)
	assert.True(t, s.TotalBalance.IsZero())
}

func TestReduce_AddAccountReplacesSameID(t *testing.T) {
	s := Reduce(Initial(), AddAccount{Account: acc("1", 10)})
	s = Reduce(s, AddAccount{Account: acc("2", 5)})
	s = Reduce(s, AddAccount{Account: acc("1", 20)})

	require.Len(t, s.Accounts, 2)
	assert.True(t, s.TotalBalance.Equal(decimal.NewFromInt(25)))
	assert.True(t, s.HasAccounts)
}

func TestReduce_MissingBalanceCountsAsZero(t *testing.T) {
	s := Reduce(Initial(), SetAccounts{Accounts: []banking.BankAccount{acc("1", 7), {AccountID: "2"}}})
	assert.True(t, s.TotalBalance.Equal(decimal.NewFromInt(7)))
}

func TestReduce_ConnectingDoesNotTouchError(t *testing.T) {
	s := Reduce(Initial(), SetConnectionError{Message: "boom"})

	s = Reduce(s, SetConnecting{Connecting: true})
	assert.Equal(t, "boom", s.ConnectionError)

	s = Reduce(s, SetConnecting{Connecting: false})
	assert.Equal(t, "boom", s.ConnectionError)

	s = Reduce(s, ClearError{})
	assert.False(t, s.HasError())
}

func TestReduce_ResetKeepsBalancePreference(t *testing.T) {
	s := Initial()
	s = Reduce(s, SetAccounts{Accounts: []banking.BankAccount{acc("1", 1)}})
	s = Reduce(s, SetTransactions{Transactions: []banking.Transaction{{TransactionID: "t"}}})
	s = Reduce(s, SetShowBalances{Show: false})
	s = Reduce(s, SetFirstTime{FirstTime: false})
	s = Reduce(s, SetLinkToken{Token: "link-sandbox-1"})
	s = Reduce(s, SetLastSync{At: time.Now()})
	s = Reduce(s, SetConnectionError{Message: "x"})

	s = Reduce(s, Reset{})

	assert.False(t, s.ShowBalances)
	assert.Empty(t, s.Accounts)
	assert.Empty(t, s.Transactions)
	assert.Empty(t, s.LinkToken)
	assert.True(t, s.LastSyncTime.IsZero())
	assert.True(t, s.IsFirstTime)
	assert.False(t, s.HasError())
	assert.False(t, s.HasAccounts)
}

func TestReduce_DoesNotAliasInput(t *testing.T) {
	input := []banking.BankAccount{acc("1", 1)}
	s := Reduce(Initial(), SetAccounts{Accounts: input})

	input[0].AccountID = "mutated"
	assert.Equal(t, "1", s.Accounts[0].AccountID)
}

func TestReduce_TotalBalanceInvariantOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		s := Initial()
		for step := 0; step < 30; step++ {
			switch rng.Intn(5) {
			case 0:
				n := rng.Intn(4)
				accounts := make([]banking.BankAccount, 0, n)
				for i := 0; i < n; i++ {
					a := acc(string(rune('a'+i)), rng.Int63n(2000)-1000)
					if rng.Intn(4) == 0 {
						a.CurrentBalance = decimal.NullDecimal{}
					}
					accounts = append(accounts, a)
				}
				s = Reduce(s, SetAccounts{Accounts: accounts})
			case 1:
				s = Reduce(s, AddAccount{Account: acc(string(rune('a'+rng.Intn(6))), rng.Int63n(500))})
			case 2:
				s = Reduce(s, SetConnecting{Connecting: rng.Intn(2) == 0})
			case 3:
				s = Reduce(s, Reset{})
			case 4:
				s = Reduce(s, SetConnectionError{Message: "e"})
			}

			require.True(t, s.TotalBalance.Equal(banking.TotalBalance(s.Accounts)), "run %d step %d", run, step)
			require.Equal(t, len(s.Accounts) > 0, s.HasAccounts)
			require.Equal(t, s.HasAccounts, s.IsConnected)
		}
	}
}

func TestReduce_RemoveAccountDropsTransactions(t *testing.T) {
	s := Reduce(Initial(), SetAccounts{Accounts: []banking.BankAccount{acc("a", 100), acc("b", -40)}})
	s = Reduce(s, SetTransactions{Transactions: []banking.Transaction{
		{TransactionID: "t1", AccountID: "a"},
		{TransactionID: "t2", AccountID: "b"},
	}})

	s = Reduce(s, RemoveAccount{AccountID: "b"})

	require.Len(t, s.Accounts, 1)
	assert.Equal(t, "a", s.Accounts[0].AccountID)
	require.Len(t, s.Transactions, 1)
	assert.Equal(t, "t1", s.Transactions[0].TransactionID)
	assert.True(t, s.TotalBalance.Equal(decimal.NewFromInt(100)))

	s = Reduce(s, RemoveAccount{AccountID: "a"})
	assert.False(t, s.HasAccounts)
	assert.False(t, s.IsConnected)
	assert.True(t, s.TotalBalance.IsZero())
}

func TestReduce_ReorderAccounts(t *testing.T) {
	base := Reduce(Initial(), SetAccounts{Accounts: []banking.BankAccount{acc("a", 1), acc("b", 2)}})

	tests := []struct {
		name string
		ids  []string
		want []string
	}{
		{"swap", []string{"b", "a"}, []string{"b", "a"}},
		{"unknown id dropped", []string{"b", "z"}, []string{"b"}},
		{"no match is a no-op", []string{"x", "y"}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Reduce(base, ReorderAccounts{AccountIDs: tt.ids})
			got := make([]string, 0, len(s.Accounts))
			for _, a := range s.Accounts {
				got = append(got, a.AccountID)
			}
			assert.Equal(t, tt.want, got)
			assert.True(t, s.TotalBalance.Equal(banking.TotalBalance(s.Accounts)))
		})
	}
}

func TestStore_ConcurrentRemovalsAllApply(t *testing.T) {
	const n = 200
	accounts := make([]banking.BankAccount, n)
	for i := range accounts {
		accounts[i] = acc(fmt.Sprintf("acc-%d", i), 1)
	}
	store := NewStore()
	store.Dispatch(SetAccounts{Accounts: accounts})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			store.Dispatch(RemoveAccount{AccountID: id})
		}(fmt.Sprintf("acc-%d", i))
	}
	wg.Wait()

	s := store.State()
	assert.Empty(t, s.Accounts)
	assert.False(t, s.HasAccounts)
}

func TestStore_DispatchAllNotifiesOnce(t *testing.T) {
	store := NewStore()
	ch, unsubscribe := store.Subscribe()
	defer unsubscribe()

	got := store.DispatchAll(
		SetAccounts{Accounts: []banking.BankAccount{acc("1", 5)}},
		SetTransactions{Transactions: []banking.Transaction{{TransactionID: "t", AccountID: "1"}}},
		SetLastSync{At: time.Unix(100, 0)},
	)

	assert.Len(t, got.Transactions, 1)
	assert.Equal(t, got, store.State())

	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("expected signals to coalesce into one")
	default:
	}
}

func TestStore_UnsubscribeStopsSignals(t *testing.T) {
	store := NewStore()
	ch, unsubscribe := store.Subscribe()
	unsubscribe()
	unsubscribe()

	store.Dispatch(ClearError{})

	select {
	case <-ch:
		t.Fatal("unsubscribed channel should not be signalled")
	default:
	}
}

func TestActionNames(t *testing.T) {
	actions := []Action{
		SetConnecting{}, SetSyncing{}, SetConnectionError{}, SetLinkToken{}, SetAccounts{}, AddAccount{},
		RemoveAccount{}, ReorderAccounts{}, SetTransactions{}, SetLastSync{}, SetShowBalances{}, SetFirstTime{}, ClearError{}, Reset{},
	}
	seen := map[string]bool{}
	for _, a := range actions {
		require.NotEmpty(t, a.Name())
		require.False(t, seen[a.Name()], "duplicate action name %s", a.Name())
		seen[a.Name()] = true
	}
}
