package remote

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"metacohort/pkg/repository"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryConfig tunes the retrier. MaxRetries counts retries after the first
// attempt.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// DefaultRetryConfig returns the retry settings used when none are given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Jitter:     0.2,
	}
}

// Retrier runs calls with exponential backoff while their failures are
// transient.
type Retrier struct {
	cfg    RetryConfig
	logger *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRetrier creates a retrier. Negative settings fall back to the defaults.
func NewRetrier(cfg RetryConfig, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = defaults.Jitter
	}
	return &Retrier{
		cfg:    cfg,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do calls fn until it succeeds, fails permanently or runs out of retries.
// The last failure is returned.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == r.cfg.MaxRetries {
			break
		}
		r.logger.Debug("Call failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-time.After(r.backoff(attempt)):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}

// backoff returns BaseDelay * 2^attempt capped at MaxDelay, with jitter.
func (r *Retrier) backoff(attempt int) time.Duration {
	delay := float64(r.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(r.cfg.MaxDelay) {
		delay = float64(r.cfg.MaxDelay)
	}

	r.mu.Lock()
	jitter := delay * r.cfg.Jitter * (2*r.rnd.Float64() - 1)
	r.mu.Unlock()

	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// isRetryable reports whether err is a transport failure worth another try.
// Answers from the collection itself and an open circuit are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *repository.Error
	if errors.As(err, &re) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.Unknown:
		return true
	default:
		return false
	}
}
