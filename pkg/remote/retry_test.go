package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"metacohort/pkg/repository"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"unknown", status.Error(codes.Unknown, "eof"), true},
		{"not found", status.Error(codes.NotFound, "gone"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"repository error", repository.Errorf(repository.KindRepositoryError, "GetEntityDetail", "boom"), false},
		{"circuit open", ErrCircuitOpen, false},
		{"cancelled", context.Canceled, false},
		{"plain error", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestRetrierDo(t *testing.T) {
	ctx := context.Background()
	r := NewRetrier(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, nil)

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := r.Do(ctx, "op", func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return status.Error(codes.Unavailable, "down")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after the last retry", func(t *testing.T) {
		attempts := 0
		err := r.Do(ctx, "op", func(ctx context.Context) error {
			attempts++
			return status.Error(codes.Unavailable, "down")
		})
		assert.Equal(t, codes.Unavailable, status.Code(err))
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops at a permanent failure", func(t *testing.T) {
		attempts := 0
		want := repository.Errorf(repository.KindEntityNotKnown, "GetEntityDetail", "no such entity")
		err := r.Do(ctx, "op", func(ctx context.Context) error {
			attempts++
			return want
		})
		assert.Same(t, want, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		slow := NewRetrier(RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil)
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		attempts := 0
		start := time.Now()
		err := slow.Do(ctx, "op", func(ctx context.Context) error {
			attempts++
			return status.Error(codes.Unavailable, "down")
		})
		assert.Equal(t, codes.Unavailable, status.Code(err))
		assert.Equal(t, 1, attempts)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestBackoff(t *testing.T) {
	r := NewRetrier(RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.2}, nil)

	for attempt, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second} {
		d := r.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8), "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2), "attempt %d", attempt)
	}
}

func TestNewRetrierDefaults(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: -1, BaseDelay: -1, Jitter: 3}, nil)
	defaults := DefaultRetryConfig()
	assert.Equal(t, defaults.MaxRetries, r.cfg.MaxRetries)
	assert.Equal(t, defaults.BaseDelay, r.cfg.BaseDelay)
	assert.Equal(t, defaults.Jitter, r.cfg.Jitter)
	assert.Equal(t, r.cfg.BaseDelay, r.cfg.MaxDelay)
}
