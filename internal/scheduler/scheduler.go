// Package scheduler runs a session's periodic refresh while it has linked
// accounts. At most one ticker is ever armed per scheduler.
package scheduler

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

	"banklink/internal/domain/state"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultTickTimeout = 2 * time.Minute
)

var (
	tickTracer      = otel.Tracer("banklink/scheduler")
	tickMeter       = otel.Meter("banklink/scheduler")
	tickDuration, _ = tickMeter.Float64Histogram("scheduler.tick.duration", metric.WithDescription("Scheduled refresh duration in seconds"), metric.WithUnit("s"))
	tickTotal, _    = tickMeter.Int64Counter("scheduler.tick.total", metric.WithDescription("Scheduled refreshes by status"))
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Refresher is the refresh path the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config holds configuration for the scheduler.
type Config struct {
	Refresher   Refresher
	Store       *state.Store // observed for hasAccounts transitions
	Interval    time.Duration
	TickTimeout time.Duration
	RunOnStart  bool // refresh once right away when accounts already exist
	UserID      string
	Logger      *zap.Logger
}

// Scheduler triggers Refresh on a fixed interval while the observed store
// has accounts.
type Scheduler struct {
	refresher   Refresher
	store       *state.Store
	tickTimeout time.Duration
	runOnStart  bool
	userID      string
	logger      *zap.Logger

	intervalChanged chan struct{} // coalescing; the loop reads the latest interval

	mu       sync.RWMutex
	interval time.Duration
	armed    bool
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler. It does nothing until Start.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Refresher == nil {
		return nil, fmt.Errorf("refresher is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("invalid interval: %v", cfg.Interval)
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	tickTimeout := cfg.TickTimeout
	if tickTimeout <= 0 {
		tickTimeout = DefaultTickTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		refresher:       cfg.Refresher,
		store:           cfg.Store,
		tickTimeout:     tickTimeout,
		runOnStart:      cfg.RunOnStart,
		userID:          cfg.UserID,
		logger:          logger.With(zap.String("component", "scheduler")),
		intervalChanged: make(chan struct{}, 1),
		interval:        interval,
	}, nil
}

// Start launches the scheduling loop. The loop ends when ctx is cancelled or
// Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	// Subscribe before the loop starts so no transition is missed.
	changes, unsubscribe := s.store.Subscribe()

	s.wg.Add(1)
	go s.loop(ctx, changes, unsubscribe, s.interval, s.done)

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// loop owns the ticker. Store transitions and interval changes are handled
// here so arming and disarming never race.
func (s *Scheduler) loop(ctx context.Context, changes <-chan struct{}, unsubscribe func(), interval time.Duration, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	defer unsubscribe()

	var (
		ticker *time.Ticker
		tickC  <-chan time.Time
	)
	disarm := func() {
		if ticker != nil {
			ticker.Stop()
		}
		ticker, tickC = nil, nil
		s.setArmed(false)
	}
	arm := func() {
		disarm()
		ticker = time.NewTicker(interval)
		tickC = ticker.C
		s.setArmed(true)
	}
	reconcile := func(restart bool) {
		has := s.store.State().HasAccounts
		switch {
		case has && (ticker == nil || restart):
			arm()
			s.logger.Debug("sync timer armed", zap.Duration("interval", interval))
		case !has && ticker != nil:
			disarm()
			s.logger.Debug("sync timer cancelled, no linked accounts")
		}
	}
	defer disarm()

	reconcile(false)
	if s.runOnStart && ticker != nil {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("scheduler loop stopped")
			return

		case <-changes:
			reconcile(false)

		case <-s.intervalChanged:
			interval = s.Interval()
			reconcile(true)

		case <-tickC:
			s.tick(ctx)
		}
	}
}

// tick runs one refresh. Failures are recorded and logged; the schedule keeps running.
func (s *Scheduler) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.tickTimeout)
	defer cancel()

	ctx, span := tickTracer.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.String("banklink.user_id", s.userID)),
	)
	defer span.End()

	start := time.Now()
	err := s.refresher.Refresh(ctx)
	tickDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tickTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		s.logger.Warn("scheduled refresh failed", zap.String("user_id", s.userID), zap.Error(err))
		return
	}

	tickTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	s.logger.Debug("scheduled refresh completed",
		zap.String("user_id", s.userID),
		zap.Duration("latency", time.Since(start)),
	)
}

// SetInterval changes the refresh interval. An armed timer is replaced once
// the loop is free; the call itself never waits on an in-flight tick.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid interval: %v", d)
	}

	s.mu.Lock()
	s.interval = d
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case s.intervalChanged <- struct{}{}:
	default:
	}
	return nil
}

// Interval returns the configured interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// Armed reports whether a timer is currently active.
func (s *Scheduler) Armed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

func (s *Scheduler) setArmed(armed bool) {
	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
}

// Shutdown stops the loop and waits up to timeout for an in-flight tick.
// It reports whether the loop exited in time.
func (s *Scheduler) Shutdown(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return true
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return true
	case <-time.After(timeout):
		s.logger.Warn("timeout waiting for scheduler loop to stop", zap.Duration("timeout", timeout))
		return false
	}
}
