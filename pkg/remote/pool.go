package remote

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrCircuitOpen is returned while an address is failing and cooling down.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the circuit breaker state of one address.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls
	CircuitHalfOpen                     // Cooldown over, testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("CircuitState(%d)", int(s))
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	// Credentials secure every connection. Nil means plaintext.
	Credentials credentials.TransportCredentials
	// DialOptions are appended to the pool's own options.
	DialOptions []grpc.DialOption

	FailureThreshold    int
	Cooldown            time.Duration
	IdleTimeout         time.Duration
	MaintenanceInterval time.Duration
}

// DefaultPoolConfig returns the pool settings used when none are given.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		FailureThreshold:    3,
		Cooldown:            30 * time.Second,
		IdleTimeout:         5 * time.Minute,
		MaintenanceInterval: 30 * time.Second,
	}
}

// PoolStats summarises the pool.
type PoolStats struct {
	Connections int
	Healthy     int
	Unhealthy   int
	CircuitOpen int
}

// ConnectionPool shares one gRPC connection per member address and tracks a
// circuit breaker for each.
type ConnectionPool struct {
	mu          sync.Mutex
	connections map[string]*pooledConnection
	cfg         PoolConfig
	logger      *zap.Logger
	now         func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type pooledConnection struct {
	conn     *grpc.ClientConn
	address  string
	created  time.Time
	lastUsed time.Time
	useCount int64

	failures     int
	lastFailure  time.Time
	circuitState CircuitState
}

// NewConnectionPool creates a pool and starts its maintenance loop when
// MaintenanceInterval is positive.
func NewConnectionPool(cfg PoolConfig, logger *zap.Logger) *ConnectionPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultPoolConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}

	p := &ConnectionPool{
		connections: make(map[string]*pooledConnection),
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	if cfg.MaintenanceInterval > 0 {
		p.wg.Add(1)
		go p.maintainConnections()
	}
	return p
}

// Get returns the connection for address, creating it if needed. It fails
// with ErrCircuitOpen while the address is cooling down.
func (p *ConnectionPool) Get(address string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	pooled, ok := p.connections[address]
	if ok && pooled.conn.GetState() == connectivity.Shutdown {
		delete(p.connections, address)
		ok = false
	}
	if ok {
		if pooled.circuitState == CircuitOpen {
			if now.Sub(pooled.lastFailure) < p.cfg.Cooldown {
				return nil, fmt.Errorf("%s: %w", address, ErrCircuitOpen)
			}
			pooled.circuitState = CircuitHalfOpen
			p.logger.Info("Circuit breaker moved to half-open", zap.String("address", address))
		}
		pooled.lastUsed = now
		pooled.useCount++
		return pooled.conn, nil
	}

	conn, err := p.dial(address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}
	p.connections[address] = &pooledConnection{
		conn:         conn,
		address:      address,
		created:      now,
		lastUsed:     now,
		useCount:     1,
		circuitState: CircuitClosed,
	}
	p.logger.Debug("Created connection to cohort member", zap.String("address", address))
	return conn, nil
}

func (p *ConnectionPool) dial(address string) (*grpc.ClientConn, error) {
	creds := p.cfg.Credentials
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, p.cfg.DialOptions...)
	return grpc.NewClient(address, opts...)
}

// MarkFailure records a transport failure. The circuit opens at the
// threshold, or at once when a half-open probe fails.
func (p *ConnectionPool) MarkFailure(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pooled, ok := p.connections[address]
	if !ok {
		return
	}
	pooled.failures++
	pooled.lastFailure = p.now()
	if pooled.circuitState == CircuitOpen {
		return
	}
	if pooled.circuitState == CircuitHalfOpen || pooled.failures >= p.cfg.FailureThreshold {
		pooled.circuitState = CircuitOpen
		p.logger.Warn("Circuit breaker opened",
			zap.String("address", address),
			zap.Int("failures", pooled.failures))
	}
}

// MarkSuccess closes the circuit for address.
func (p *ConnectionPool) MarkSuccess(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pooled, ok := p.connections[address]
	if !ok {
		return
	}
	if pooled.circuitState != CircuitClosed {
		p.logger.Info("Circuit breaker closed", zap.String("address", address))
	}
	pooled.failures = 0
	pooled.circuitState = CircuitClosed
}

// State returns the circuit state for address. Unknown addresses are closed.
func (p *ConnectionPool) State(address string) CircuitState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pooled, ok := p.connections[address]; ok {
		return pooled.circuitState
	}
	return CircuitClosed
}

// Release closes and forgets the connection for address.
func (p *ConnectionPool) Release(address string) error {
	p.mu.Lock()
	pooled, ok := p.connections[address]
	delete(p.connections, address)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return pooled.conn.Close()
}

func (p *ConnectionPool) maintainConnections() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performMaintenance()
		case <-p.stopCh:
			return
		}
	}
}

// performMaintenance closes connections idle for longer than IdleTimeout.
func (p *ConnectionPool) performMaintenance() {
	p.mu.Lock()
	now := p.now()
	var idle []*pooledConnection
	for address, pooled := range p.connections {
		if now.Sub(pooled.lastUsed) > p.cfg.IdleTimeout {
			idle = append(idle, pooled)
			delete(p.connections, address)
		}
	}
	p.mu.Unlock()

	for _, pooled := range idle {
		if err := pooled.conn.Close(); err != nil {
			p.logger.Debug("Failed to close idle connection",
				zap.String("address", pooled.address),
				zap.Error(err))
			continue
		}
		p.logger.Debug("Removed idle connection", zap.String("address", pooled.address))
	}
}

// Stats returns a snapshot of the pool.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{Connections: len(p.connections)}
	for _, pooled := range p.connections {
		switch pooled.conn.GetState() {
		case connectivity.TransientFailure, connectivity.Shutdown:
			stats.Unhealthy++
		default:
			stats.Healthy++
		}
		if pooled.circuitState == CircuitOpen {
			stats.CircuitOpen++
		}
	}
	return stats
}

// Close stops maintenance and closes every connection.
func (p *ConnectionPool) Close() error {
	p.closeOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	connections := p.connections
	p.connections = make(map[string]*pooledConnection)
	p.mu.Unlock()

	var errs []error
	for _, pooled := range connections {
		if err := pooled.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pooled.address, err))
		}
	}
	return errors.Join(errs...)
}
