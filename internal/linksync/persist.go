package linksync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"banklink/internal/domain/banking"
	"banklink/internal/infrastructure/storage"
)

const keyNamespace = "banklink"

// Persisted snapshot keys, namespaced per user.
const (
	keyAccounts     = "accounts"
	keyTransactions = "transactions"
	keyLastSync     = "last_sync"
	keyShowBalances = "show_balances"
	keyFirstTime    = "first_time"
)

// lastSyncLayout matches the ISO-8601 form browsers produce (millisecond precision, UTC).
const lastSyncLayout = "2006-01-02T15:04:05.000Z07:00"

// Snapshot is the subset of state mirrored to durable storage. Nil pointers
// and a zero LastSync mean the key was never written.
type Snapshot struct {
	Accounts     []banking.BankAccount
	Transactions []banking.Transaction
	LastSync     time.Time
	ShowBalances *bool
	FirstTime    *bool
}

// Persister writes a user's snapshot keys. Writes are a best-effort mirror
// of the in-memory state; callers log failures and carry on.
type Persister struct {
	store  storage.Store
	userID string
	logger *zap.Logger
}

// NewPersister creates a persister for one user.
func NewPersister(store storage.Store, userID string, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{store: store, userID: userID, logger: logger}
}

// Key returns the storage key for one snapshot field.
func (p *Persister) Key(field string) string {
	return storage.Key(keyNamespace, p.userID, field)
}

// SaveAccounts writes the account snapshot.
func (p *Persister) SaveAccounts(ctx context.Context, accounts []banking.BankAccount) error {
	return p.save(ctx, keyAccounts, accounts)
}

// SaveTransactions writes the transaction snapshot.
func (p *Persister) SaveTransactions(ctx context.Context, transactions []banking.Transaction) error {
	return p.save(ctx, keyTransactions, transactions)
}

// SaveLastSync writes the sync time as a UTC ISO-8601 string.
func (p *Persister) SaveLastSync(ctx context.Context, at time.Time) error {
	return p.save(ctx, keyLastSync, at.UTC().Format(lastSyncLayout))
}

// SaveShowBalances writes the balance-visibility preference.
func (p *Persister) SaveShowBalances(ctx context.Context, show bool) error {
	return p.save(ctx, keyShowBalances, show)
}

// SaveFirstTime writes the onboarding flag.
func (p *Persister) SaveFirstTime(ctx context.Context, firstTime bool) error {
	return p.save(ctx, keyFirstTime, firstTime)
}

func (p *Persister) save(ctx context.Context, field string, value any) error {
	if err := storage.SetJSON(ctx, p.store, p.Key(field), value); err != nil {
		return fmt.Errorf("failed to persist %s: %w", field, err)
	}
	return nil
}

// Load reads every snapshot key. Keys that fail to load are skipped and the
// first failure is returned alongside whatever could be read.
func (p *Persister) Load(ctx context.Context) (Snapshot, error) {
	var (
		snap     Snapshot
		firstErr error
	)
	record := func(field string, err error) {
		if err == nil {
			return
		}
		p.logger.Warn("failed to load persisted field", zap.String("field", field), zap.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to load %s: %w", field, err)
		}
	}

	_, err := storage.GetJSON(ctx, p.store, p.Key(keyAccounts), &snap.Accounts)
	record(keyAccounts, err)

	_, err = storage.GetJSON(ctx, p.store, p.Key(keyTransactions), &snap.Transactions)
	record(keyTransactions, err)

	var lastSync string
	found, err := storage.GetJSON(ctx, p.store, p.Key(keyLastSync), &lastSync)
	record(keyLastSync, err)
	if found && lastSync != "" {
		at, perr := time.Parse(time.RFC3339, lastSync)
		record(keyLastSync, perr)
		if perr == nil {
			snap.LastSync = at
		}
	}

	var show bool
	found, err = storage.GetJSON(ctx, p.store, p.Key(keyShowBalances), &show)
	record(keyShowBalances, err)
	if found {
		snap.ShowBalances = &show
	}

	var firstTime bool
	found, err = storage.GetJSON(ctx, p.store, p.Key(keyFirstTime), &firstTime)
	record(keyFirstTime, err)
	if found {
		snap.FirstTime = &firstTime
	}

	return snap, firstErr
}

// Clear removes the session keys on logout. The balance-visibility
// preference survives.
func (p *Persister) Clear(ctx context.Context) error {
	for _, field := range []string{keyAccounts, keyTransactions, keyLastSync, keyFirstTime} {
		if err := p.store.Remove(ctx, p.Key(field)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", field, err)
		}
	}
	return nil
}
