// Package session owns the per-user engine and scheduler pairs. A session is
// opened explicitly, hydrated once and closed explicitly; closing stops its
// background refresh.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"banklink/internal/infrastructure/linkapi"
	"banklink/internal/infrastructure/storage"
	"banklink/internal/linksync"
	"banklink/internal/scheduler"
	"banklink/internal/shared/retry"
)

const defaultStopTimeout = 5 * time.Second

// Config configures a Manager.
type Config struct {
	Client           linkapi.ClientInterface
	Storage          storage.Store
	Retry            retry.Policy
	TransactionLimit int
	SyncInterval     time.Duration
	TickTimeout      time.Duration
	RefreshOnOpen    bool
	StopTimeout      time.Duration
	Logger           *zap.Logger
}

// Session is one user's live engine and its scheduler.
type Session struct {
	Engine    *linksync.Engine
	Scheduler *scheduler.Scheduler
	OpenedAt  time.Time
}

// Manager tracks open sessions by user id.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("link api client is required")
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemoryStore()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "session")),
		sessions: make(map[string]*Session),
	}, nil
}

// Open returns the user's session, creating, hydrating and starting it when
// it is not open yet. A failed hydration is logged and the session starts
// from whatever could be read. Hydration runs outside the manager lock; when
// two opens for the same user race, the first to register wins and the other
// is discarded before its scheduler starts.
func (m *Manager) Open(ctx context.Context, userID string) (*Session, error) {
	if s, ok := m.Get(userID); ok {
		return s, nil
	}

	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	engine, err := linksync.NewEngine(linksync.Config{
		UserID:           userID,
		Client:           cfg.Client,
		Storage:          cfg.Storage,
		Retry:            cfg.Retry,
		TransactionLimit: cfg.TransactionLimit,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	if err := engine.Hydrate(ctx); err != nil {
		m.logger.Warn("session hydrated partially", zap.String("user_id", userID), zap.Error(err))
	}

	sched, err := scheduler.New(scheduler.Config{
		Refresher:   engine,
		Store:       engine.Store(),
		Interval:    cfg.SyncInterval,
		TickTimeout: cfg.TickTimeout,
		RunOnStart:  cfg.RefreshOnOpen,
		UserID:      userID,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}
	if m.cfg.SyncInterval != cfg.SyncInterval && m.cfg.SyncInterval > 0 {
		if err := sched.SetInterval(m.cfg.SyncInterval); err != nil {
			return nil, err
		}
	}

	// The schedule outlives the request that opened the session.
	if err := sched.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	s := &Session{Engine: engine, Scheduler: sched, OpenedAt: time.Now()}
	m.sessions[userID] = s
	m.logger.Info("session opened", zap.String("user_id", userID), zap.Bool("has_accounts", engine.State().HasAccounts))
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Close stops the user's scheduler and forgets the session. It reports
// whether a session was open.
func (m *Manager) Close(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Scheduler.Shutdown(m.cfg.StopTimeout)
	m.logger.Info("session closed", zap.String("user_id", userID))
	return true
}

// Logout resets the user's persisted session, keeping the balance
// preference, and closes it if open.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	s, ok := m.Get(userID)
	if !ok {
		if err := linksync.NewPersister(m.cfg.Storage, userID, m.logger).Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear persisted session: %w", err)
		}
		return nil
	}
	err := s.Engine.Reset(ctx)
	m.Close(userID)
	if err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	return nil
}

// SetSyncInterval changes the interval for open sessions and new ones.
func (m *Manager) SetSyncInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid interval: %v", d)
	}

	m.mu.Lock()
	m.cfg.SyncInterval = d
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		if err := s.Scheduler.SetInterval(d); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll stops every session concurrently, waiting up to timeout.
func (m *Manager) CloseAll(timeout time.Duration) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if len(sessions) == 0 {
		return
	}

	m.logger.Info("closing sessions", zap.Int("count", len(sessions)))

	var wg sync.WaitGroup
	for userID, s := range sessions {
		wg.Add(1)
		go func(userID string, s *Session) {
			defer wg.Done()
			if !s.Scheduler.Shutdown(timeout) {
				m.logger.Warn("session did not stop in time", zap.String("user_id", userID))
			}
		}(userID, s)
	}
	wg.Wait()
}
