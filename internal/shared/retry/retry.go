// Package retry wraps remote calls with a linear backoff for transient failures.
package retry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"banklink/internal/infrastructure/linkapi"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
)

var (
	retryMeter    = otel.Meter("banklink/retry")
	retryTotal, _ = retryMeter.Int64Counter("linkapi.retry.total", metric.WithDescription("Retries issued against the bank-link backend"))
)

// Policy describes how many times and how long to wait before retrying.
type Policy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // delay before retry n is BaseDelay*n
	Retryable  func(error) bool
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *zap.Logger
}

// Default returns the policy used for link-token creation.
func Default() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// Delay returns the wait before the given 1-indexed retry.
func (p Policy) Delay(retry int) time.Duration {
	return p.BaseDelay * time.Duration(retry)
}

// Do runs op, retrying while the error is retryable and attempts remain.
// The last error is returned once retries are exhausted.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = linkapi.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return result, err
		}

		retry := attempt + 1
		delay := p.Delay(retry)
		logger.Info("retrying after transient failure",
			zap.String("op", name),
			zap.Int("retry", retry),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		retryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", name)))

		if serr := sleep(ctx, delay); serr != nil {
			return result, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
