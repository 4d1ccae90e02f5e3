package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(t *testing.T, cfg PoolConfig) (*ConnectionPool, *fakeClock, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewConnectionPool(cfg, zap.New(core))
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p.now = clock.now
	t.Cleanup(func() { _ = p.Close() })
	return p, clock, logs
}

func TestPoolSharesConnections(t *testing.T) {
	p, _, _ := newTestPool(t, PoolConfig{})

	a, err := p.Get("passthrough:///cohort-a")
	require.NoError(t, err)
	again, err := p.Get("passthrough:///cohort-a")
	require.NoError(t, err)
	b, err := p.Get("passthrough:///cohort-b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, p.Stats().Connections)

	require.NoError(t, p.Release("passthrough:///cohort-a"))
	require.NoError(t, p.Release("passthrough:///unknown"))
	assert.Equal(t, 1, p.Stats().Connections)

	fresh, err := p.Get("passthrough:///cohort-a")
	require.NoError(t, err)
	assert.NotSame(t, a, fresh)
}

func TestPoolCircuitBreaker(t *testing.T) {
	const addr = "passthrough:///cohort-a"
	p, clock, logs := newTestPool(t, PoolConfig{FailureThreshold: 2, Cooldown: 10 * time.Second})
	_, err := p.Get(addr)
	require.NoError(t, err)

	p.MarkFailure(addr)
	assert.Equal(t, CircuitClosed, p.State(addr))
	p.MarkFailure(addr)
	assert.Equal(t, CircuitOpen, p.State(addr))
	assert.Equal(t, 1, logs.FilterMessage("Circuit breaker opened").Len())
	assert.Equal(t, 1, p.Stats().CircuitOpen)

	_, err = p.Get(addr)
	assert.True(t, errors.Is(err, ErrCircuitOpen))

	t.Run("half-open after the cooldown", func(t *testing.T) {
		clock.advance(11 * time.Second)
		_, err := p.Get(addr)
		require.NoError(t, err)
		assert.Equal(t, CircuitHalfOpen, p.State(addr))
	})

	t.Run("a failed probe reopens at once", func(t *testing.T) {
		p.MarkFailure(addr)
		assert.Equal(t, CircuitOpen, p.State(addr))
		_, err := p.Get(addr)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})

	t.Run("a success closes the circuit", func(t *testing.T) {
		clock.advance(11 * time.Second)
		_, err := p.Get(addr)
		require.NoError(t, err)
		p.MarkSuccess(addr)
		assert.Equal(t, CircuitClosed, p.State(addr))
		assert.Equal(t, 1, logs.FilterMessage("Circuit breaker closed").Len())
	})
}

func TestPoolReapsIdleConnections(t *testing.T) {
	p, clock, _ := newTestPool(t, PoolConfig{IdleTimeout: time.Minute})
	_, err := p.Get("passthrough:///idle")
	require.NoError(t, err)
	clock.advance(30 * time.Second)
	_, err = p.Get("passthrough:///busy")
	require.NoError(t, err)

	clock.advance(45 * time.Second)
	p.performMaintenance()

	assert.Equal(t, 1, p.Stats().Connections)
	assert.Equal(t, CircuitClosed, p.State("passthrough:///busy"))
}

func TestPoolClose(t *testing.T) {
	p := NewConnectionPool(PoolConfig{MaintenanceInterval: time.Millisecond}, nil)
	_, err := p.Get("passthrough:///cohort-a")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Stats().Connections)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "CircuitState(7)", CircuitState(7).String())
}
