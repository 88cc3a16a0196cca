package linksync

import (
	"context"
	"sync"

	"banklink/internal/domain/banking"
	"banklink/internal/infrastructure/linkapi"
)

// MockClient implements linkapi.ClientInterface
type MockClient struct {
	CreateLinkTokenFunc     func(ctx context.Context, userID string) (string, error)
	ExchangePublicTokenFunc func(ctx context.Context, publicToken, userID string, selected []string) error
	FetchAccountsFunc       func(ctx context.Context, userID string) ([]banking.BankAccount, error)
	FetchTransactionsFunc   func(ctx context.Context, userID string, limit int) ([]banking.Transaction, error)
	DeleteAccountFunc       func(ctx context.Context, accountID string) (linkapi.DeleteResult, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockClient) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how often a method was invoked.
func (m *MockClient) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// TotalCalls returns the number of remote calls of any kind.
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MockClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	m.record("CreateLinkToken")
	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, userID)
	}
	return "link-sandbox-token", nil
}

func (m *MockClient) ExchangePublicToken(ctx context.Context, publicToken, userID string, selected []string) error {
	m.record("ExchangePublicToken")
	if m.ExchangePublicTokenFunc != nil {
		return m.ExchangePublicTokenFunc(ctx, publicToken, userID, selected)
	}
	return nil
}

func (m *MockClient) FetchAccounts(ctx context.Context, userID string) ([]banking.BankAccount, error) {
	m.record("FetchAccounts")
	if m.FetchAccountsFunc != nil {
		return m.FetchAccountsFunc(ctx, userID)
	}
	return []banking.BankAccount{}, nil
}

func (m *MockClient) FetchTransactions(ctx context.Context, userID string, limit int) ([]banking.Transaction, error) {
	m.record("FetchTransactions")
	if m.FetchTransactionsFunc != nil {
		return m.FetchTransactionsFunc(ctx, userID, limit)
	}
	return []banking.Transaction{}, nil
}

func (m *MockClient) DeleteAccount(ctx context.Context, accountID string) (linkapi.DeleteResult, error) {
	m.record("DeleteAccount")
	if m.DeleteAccountFunc != nil {
		return m.DeleteAccountFunc(ctx, accountID)
	}
	return linkapi.DeleteResult{Success: true}, nil
}
