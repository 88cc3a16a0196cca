// Package linksync orchestrates the bank-link flows for one user session:
// link-token acquisition, public token exchange, refresh, optimistic
// disconnect and local reorder. Every state change goes through the session's
// state.Store; persistence mirrors the store after each successful mutation.
package linksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"banklink/internal/domain/banking"
	"banklink/internal/domain/state"
	"banklink/internal/infrastructure/linkapi"
	"banklink/internal/infrastructure/storage"
	"banklink/internal/shared/retry"
)

var (
	syncTracer           = otel.Tracer("banklink/linksync")
	syncMeter            = otel.Meter("banklink/linksync")
	reconcileFailures, _ = syncMeter.Int64Counter("sync.reconcile.failures", metric.WithDescription("Disconnects whose backend delete did not confirm"))
	refreshTotal, _      = syncMeter.Int64Counter("sync.refresh.total", metric.WithDescription("Refreshes by status"))
)

// ErrNoUser is returned by NewEngine when no user id is configured.
var ErrNoUser = errors.New("user id is required")

// Config wires an Engine.
type Config struct {
	UserID           string
	Client           linkapi.ClientInterface
	Store            *state.Store  // defaults to a fresh store
	Storage          storage.Store // defaults to an in-memory store
	Retry            retry.Policy
	TransactionLimit int
	Logger           *zap.Logger
	Now              func() time.Time
}

// Engine runs the bank-link flows for one user.
type Engine struct {
	userID    string
	client    linkapi.ClientInterface
	store     *state.Store
	persister *Persister
	retry     retry.Policy
	txLimit   int
	logger    *zap.Logger
	now       func() time.Time

	// persistMu orders snapshot writes; each write reads the store under it.
	persistMu sync.Mutex
}

// NewEngine creates an engine for cfg.UserID.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.UserID == "" {
		return nil, ErrNoUser
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("link api client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "sync"), zap.String("user_id", cfg.UserID))

	store := cfg.Store
	if store == nil {
		store = state.NewStore()
	}
	kv := cfg.Storage
	if kv == nil {
		kv = storage.NewMemoryStore()
	}
	limit := cfg.TransactionLimit
	if limit <= 0 {
		limit = linkapi.DefaultTransactionLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	policy := cfg.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}

	return &Engine{
		userID:    cfg.UserID,
		client:    cfg.Client,
		store:     store,
		persister: NewPersister(kv, cfg.UserID, logger),
		retry:     policy,
		txLimit:   limit,
		logger:    logger,
		now:       now,
	}, nil
}

// UserID returns the user this engine serves.
func (e *Engine) UserID() string { return e.userID }

// Store exposes the state store for observers.
func (e *Engine) Store() *state.Store { return e.store }

// State returns the current state.
func (e *Engine) State() state.State { return e.store.State() }

// Connect requests a link token. On success the token is stored and the
// engine stays in the connecting state until CompleteLink or AbortLink.
func (e *Engine) Connect(ctx context.Context) (string, error) {
	ctx, span := e.startSpan(ctx, "connect")
	defer span.End()

	e.store.DispatchAll(state.SetConnecting{Connecting: true}, state.ClearError{})

	token, err := retry.Do(ctx, e.retry, "create_link_token", func(ctx context.Context) (string, error) {
		return e.client.CreateLinkToken(ctx, e.userID)
	})
	if err != nil {
		e.store.DispatchAll(
			state.SetConnectionError{Message: linkapi.UserMessage(err)},
			state.SetConnecting{Connecting: false},
		)
		e.logger.Warn("link token request failed", zap.Error(err))
		recordSpanError(span, err)
		return "", fmt.Errorf("failed to create link token: %w", err)
	}

	e.store.Dispatch(state.SetLinkToken{Token: token})
	e.logger.Info("link token ready")
	return token, nil
}

// CompleteLink exchanges the public token reported by the linking UI and
// pulls the newly linked data. A failed refresh after a successful exchange
// is reported but the exchange stands; the next refresh picks the item up.
func (e *Engine) CompleteLink(ctx context.Context, publicToken string, metadata *banking.LinkMetadata) error {
	ctx, span := e.startSpan(ctx, "complete_link")
	defer span.End()

	var selected []string
	if metadata != nil {
		selected = metadata.SelectedAccountIDs()
		span.SetAttributes(attribute.String("banklink.institution_id", metadata.InstitutionID))
	}

	e.store.DispatchAll(state.SetConnecting{Connecting: true}, state.ClearError{})

	if err := e.client.ExchangePublicToken(ctx, publicToken, e.userID, selected); err != nil {
		e.store.DispatchAll(
			state.SetConnectionError{Message: linkapi.UserMessage(err)},
			state.SetConnecting{Connecting: false},
			state.SetLinkToken{Token: ""},
		)
		e.logger.Warn("public token exchange failed", zap.Error(err))
		recordSpanError(span, err)
		return fmt.Errorf("failed to exchange public token: %w", err)
	}

	if err := e.refresh(ctx); err != nil {
		e.store.DispatchAll(state.SetConnecting{Connecting: false}, state.SetLinkToken{Token: ""})
		e.logger.Warn("refresh after link failed, exchange kept", zap.Error(err))
		recordSpanError(span, err)
		return err
	}

	e.store.DispatchAll(
		state.SetFirstTime{FirstTime: false},
		state.SetConnecting{Connecting: false},
		state.SetLinkToken{Token: ""},
	)
	e.bestEffort(ctx, keyFirstTime, e.persister.SaveFirstTime(ctx, false))

	e.logger.Info("bank link completed", zap.Int("selected_accounts", len(selected)))
	return nil
}

// AbortLink handles an exit from the linking UI. A cancellation without an
// error payload returns to idle silently.
func (e *Engine) AbortLink(exit banking.LinkExit) {
	if exit.Cancelled() {
		e.store.DispatchAll(state.SetConnecting{Connecting: false}, state.SetLinkToken{Token: ""})
		e.logger.Debug("link cancelled by user")
		return
	}

	msg := exit.Error.Message()
	e.store.DispatchAll(
		state.SetConnecting{Connecting: false},
		state.SetLinkToken{Token: ""},
		state.SetConnectionError{Message: msg},
	)
	e.logger.Info("link exited with error",
		zap.String("error_type", exit.Error.ErrorType),
		zap.String("error_code", exit.Error.ErrorCode),
	)
}

// DisconnectOutcome records how the backend handled a disconnect. The local
// removal has already happened by the time it is returned.
type DisconnectOutcome struct {
	AccountID      string
	Reconciled     bool
	AlreadyDeleted bool
	Message        string
	Err            error // transport or server failure; never rolled back
}

// Disconnect removes the account locally, persists the reduced snapshot and
// then asks the backend to delete it. Backend failures are recorded in the
// outcome and logged, never returned as errors.
func (e *Engine) Disconnect(ctx context.Context, accountID string) DisconnectOutcome {
	ctx, span := e.startSpan(ctx, "disconnect")
	defer span.End()

	e.applyDisconnect(ctx, accountID)
	outcome := e.reconcileDisconnect(ctx, accountID)
	if !outcome.Reconciled {
		span.SetAttributes(attribute.Bool("banklink.reconciled", false))
	}
	return outcome
}

func (e *Engine) applyDisconnect(ctx context.Context, accountID string) {
	e.store.Dispatch(state.RemoveAccount{AccountID: accountID})
	e.persist(ctx, keyAccounts, keyTransactions)
}

func (e *Engine) reconcileDisconnect(ctx context.Context, accountID string) DisconnectOutcome {
	outcome := DisconnectOutcome{AccountID: accountID}

	result, err := e.client.DeleteAccount(ctx, accountID)
	if err != nil {
		outcome.Err = err
		reconcileFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "error")))
		e.logger.Warn("backend delete failed, local removal kept",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return outcome
	}

	outcome.AlreadyDeleted = result.AlreadyDeleted
	outcome.Message = result.Message
	if !result.Success {
		reconcileFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "rejected")))
		e.logger.Warn("backend rejected delete, local removal kept",
			zap.String("account_id", accountID),
			zap.String("message", result.Message),
		)
		return outcome
	}

	outcome.Reconciled = true
	e.store.Dispatch(state.ClearError{})
	e.logger.Info("account disconnected",
		zap.String("account_id", accountID),
		zap.Bool("already_deleted", result.AlreadyDeleted),
	)
	return outcome
}

// Reorder applies a local display order. Unknown ids are dropped; an order
// that matches no account leaves state untouched and reports false.
func (e *Engine) Reorder(ctx context.Context, orderedIDs []string) bool {
	next := e.store.Dispatch(state.ReorderAccounts{AccountIDs: orderedIDs})

	applied := false
	for _, id := range orderedIDs {
		if _, ok := next.Account(id); ok {
			applied = true
			break
		}
	}
	if !applied {
		return false
	}

	e.persist(ctx, keyAccounts)
	return true
}

// Refresh reloads accounts and transactions. It is a no-op without linked
// accounts. On failure the previous data is kept and the error is recorded.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.store.State().HasAccounts {
		e.logger.Debug("refresh skipped, no linked accounts")
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "skipped")))
		return nil
	}
	return e.refresh(ctx)
}

func (e *Engine) refresh(ctx context.Context) error {
	ctx, span := e.startSpan(ctx, "refresh")
	defer span.End()

	e.store.Dispatch(state.SetSyncing{Syncing: true})
	defer e.store.Dispatch(state.SetSyncing{Syncing: false})

	var (
		accounts     []banking.BankAccount
		transactions []banking.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = e.client.FetchAccounts(gctx, e.userID)
		return err
	})
	g.Go(func() error {
		var err error
		transactions, err = e.client.FetchTransactions(gctx, e.userID, e.txLimit)
		return err
	})

	if err := g.Wait(); err != nil {
		e.store.Dispatch(state.SetConnectionError{Message: linkapi.UserMessage(err)})
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		recordSpanError(span, err)
		return fmt.Errorf("failed to refresh bank data: %w", err)
	}

	next := e.store.DispatchAll(
		state.SetAccounts{Accounts: accounts},
		state.SetTransactions{Transactions: transactions},
		state.SetLastSync{At: e.now()},
		state.ClearError{},
	)

	e.persist(ctx, keyAccounts, keyTransactions, keyLastSync)

	refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	span.SetAttributes(
		attribute.Int("banklink.accounts", len(next.Accounts)),
		attribute.Int("banklink.transactions", len(next.Transactions)),
	)
	e.logger.Info("refresh completed",
		zap.Int("accounts", len(next.Accounts)),
		zap.Int("transactions", len(next.Transactions)),
	)
	return nil
}

// Hydrate loads the persisted snapshot into the store. It runs once when a
// session opens; persisted data is never read back afterwards.
func (e *Engine) Hydrate(ctx context.Context) error {
	snap, err := e.persister.Load(ctx)

	actions := make([]state.Action, 0, 5)
	if snap.Accounts != nil {
		actions = append(actions, state.SetAccounts{Accounts: snap.Accounts})
	}
	if snap.Transactions != nil {
		actions = append(actions, state.SetTransactions{Transactions: snap.Transactions})
	}
	if !snap.LastSync.IsZero() {
		actions = append(actions, state.SetLastSync{At: snap.LastSync})
	}
	if snap.ShowBalances != nil {
		actions = append(actions, state.SetShowBalances{Show: *snap.ShowBalances})
	}
	if snap.FirstTime != nil {
		actions = append(actions, state.SetFirstTime{FirstTime: *snap.FirstTime})
	}
	if len(actions) > 0 {
		e.store.DispatchAll(actions...)
	}

	if err != nil {
		return fmt.Errorf("failed to hydrate session: %w", err)
	}
	return nil
}

// SetShowBalances stores the balance-visibility preference.
func (e *Engine) SetShowBalances(ctx context.Context, show bool) {
	e.store.Dispatch(state.SetShowBalances{Show: show})
	e.bestEffort(ctx, keyShowBalances, e.persister.SaveShowBalances(ctx, show))
}

// MarkOnboarded clears the first-time flag.
func (e *Engine) MarkOnboarded(ctx context.Context) {
	e.store.Dispatch(state.SetFirstTime{FirstTime: false})
	e.bestEffort(ctx, keyFirstTime, e.persister.SaveFirstTime(ctx, false))
}

// Reset clears the session on logout. Only the balance-visibility
// preference survives, in memory and in storage.
func (e *Engine) Reset(ctx context.Context) error {
	e.store.Dispatch(state.Reset{})
	if err := e.persister.Clear(ctx); err != nil {
		e.logger.Warn("failed to clear persisted session", zap.Error(err))
		return err
	}
	return nil
}

// persist mirrors the named snapshot fields from the state current at write
// time. Writes are serialized, so the last one to land carries the latest
// state even when dispatches interleave.
func (e *Engine) persist(ctx context.Context, fields ...string) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	cur := e.store.State()
	for _, field := range fields {
		var err error
		switch field {
		case keyAccounts:
			err = e.persister.SaveAccounts(ctx, cur.Accounts)
		case keyTransactions:
			err = e.persister.SaveTransactions(ctx, cur.Transactions)
		case keyLastSync:
			if cur.LastSyncTime.IsZero() {
				continue
			}
			err = e.persister.SaveLastSync(ctx, cur.LastSyncTime)
		}
		e.bestEffort(ctx, field, err)
	}
}

func (e *Engine) bestEffort(ctx context.Context, field string, err error) {
	if err == nil {
		return
	}
	e.logger.Warn("persist failed", zap.String("field", field), zap.Error(err))
	trace.SpanFromContext(ctx).AddEvent("persist_failed", trace.WithAttributes(attribute.String("field", field)))
}

func (e *Engine) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return syncTracer.Start(ctx, "sync."+op, trace.WithAttributes(attribute.String("banklink.user_id", e.userID)))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
