package federation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"metacohort/pkg/repository"

	"go.uber.org/zap"
)

// PeerStatus represents the health status of a peer
type PeerStatus int

const (
	PeerUnknown PeerStatus = iota
	PeerAlive
	PeerSuspected
	PeerDead
)

func (s PeerStatus) String() string {
	switch s {
	case PeerAlive:
		return "alive"
	case PeerSuspected:
		return "suspected"
	case PeerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Peer is the probe state of one remote cohort member.
type Peer struct {
	Address      string
	CollectionID string
	LastSeen     time.Time
	Status       PeerStatus
	Failures     int
}

// Dialer opens a connector to the member listening at address.
type Dialer interface {
	Dial(ctx context.Context, address string) (repository.Connector, error)
}

// MembershipConfig tunes the failure detector.
type MembershipConfig struct {
	// UserID is the identity probes are made under.
	UserID        string
	ProbeInterval time.Duration
	// SuspectAfter and DeadAfter count consecutive failed probes.
	SuspectAfter int
	DeadAfter    int
	CallTimeout  time.Duration
}

// DefaultMembershipConfig returns the defaults used by serve.
func DefaultMembershipConfig() MembershipConfig {
	return MembershipConfig{
		UserID:        "metacohort",
		ProbeInterval: 10 * time.Second,
		SuspectAfter:  1,
		DeadAfter:     3,
		CallTimeout:   5 * time.Second,
	}
}

type peerState struct {
	Peer
	connector  repository.Connector
	registered bool
}

// Membership probes a static list of peers and keeps the enterprise layer's
// remote members in step with which of them are reachable. A peer joins when a
// probe first succeeds, is suspected after SuspectAfter failures and is removed
// after DeadAfter failures. A dead peer is redialled on the next round.
type Membership struct {
	mu      sync.Mutex
	peers   map[string]*peerState
	dialer  Dialer
	manager ConnectorManager
	cfg     MembershipConfig

	logger  *zap.Logger
	metrics *Metrics
	audit   Auditor
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MembershipOption configures a Membership.
type MembershipOption func(*Membership)

func WithMembershipLogger(logger *zap.Logger) MembershipOption {
	return func(ms *Membership) { ms.logger = logger }
}

func WithMembershipMetrics(metrics *Metrics) MembershipOption {
	return func(ms *Membership) { ms.metrics = metrics }
}

func WithMembershipAuditor(auditor Auditor) MembershipOption {
	return func(ms *Membership) { ms.audit = auditor }
}

func WithMembershipClock(now func() time.Time) MembershipOption {
	return func(ms *Membership) { ms.now = now }
}

func NewMembership(manager ConnectorManager, dialer Dialer, cfg MembershipConfig, opts ...MembershipOption) *Membership {
	defaults := DefaultMembershipConfig()
	if cfg.UserID == "" {
		cfg.UserID = defaults.UserID
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaults.ProbeInterval
	}
	if cfg.SuspectAfter <= 0 {
		cfg.SuspectAfter = defaults.SuspectAfter
	}
	if cfg.DeadAfter < cfg.SuspectAfter {
		cfg.DeadAfter = cfg.SuspectAfter
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}

	ms := &Membership{
		peers:   make(map[string]*peerState),
		dialer:  dialer,
		manager: manager,
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}
	if ms.logger == nil {
		ms.logger = zap.NewNop()
	}
	if ms.audit == nil {
		ms.audit = NewLogAuditor(ms.logger)
	}
	return ms
}

// AddPeer adds an address to probe. It has no effect if the address is known.
func (ms *Membership) AddPeer(address string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.peers[address]; ok {
		return
	}
	ms.peers[address] = &peerState{Peer: Peer{Address: address}}
	ms.logger.Info("Added peer", zap.String("address", address))
}

// RemovePeer stops probing address and unregisters its member.
func (ms *Membership) RemovePeer(address string) {
	ms.mu.Lock()
	state, ok := ms.peers[address]
	if ok {
		delete(ms.peers, address)
	}
	ms.mu.Unlock()
	if ok {
		ms.release(state)
	}
}

// release unregisters the peer's member, or just closes its connector if it
// never joined.
func (ms *Membership) release(state *peerState) {
	if state.registered {
		ms.manager.RemoveRemoteConnector(state.CollectionID)
		return
	}
	if state.connector != nil {
		if err := state.connector.Disconnect(); err != nil {
			ms.logger.Warn("Failed to disconnect peer",
				zap.String("address", state.Address),
				zap.Error(err))
		}
	}
}

// Peers returns a copy of every peer's state ordered by address.
func (ms *Membership) Peers() []Peer {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Peer, 0, len(ms.peers))
	for _, state := range ms.peers {
		out = append(out, state.Peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Start probes immediately and then every ProbeInterval until Stop.
func (ms *Membership) Start() {
	ms.wg.Add(1)
	go ms.probeLoop()
}

// Stop halts probing and waits for the current round to finish.
func (ms *Membership) Stop() {
	ms.stopOnce.Do(func() { close(ms.stopCh) })
	ms.wg.Wait()
}

func (ms *Membership) probeLoop() {
	defer ms.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ms.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ms.ProbeOnce(ctx)
	ticker := time.NewTicker(ms.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.ProbeOnce(ctx)
		case <-ms.stopCh:
			return
		}
	}
}

// ProbeOnce probes every peer concurrently and applies the outcomes.
func (ms *Membership) ProbeOnce(ctx context.Context) {
	ms.mu.Lock()
	addresses := make([]string, 0, len(ms.peers))
	for address := range ms.peers {
		addresses = append(addresses, address)
	}
	ms.mu.Unlock()

	var wg sync.WaitGroup
	for _, address := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			ms.probe(ctx, address)
		}(address)
	}
	wg.Wait()
	ms.metrics.probed(ms.now())
}

func (ms *Membership) probe(ctx context.Context, address string) {
	ms.mu.Lock()
	state, ok := ms.peers[address]
	var connector repository.Connector
	if ok {
		connector = state.connector
	}
	ms.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ms.cfg.CallTimeout)
	defer cancel()

	dialed := connector == nil
	if dialed {
		c, err := ms.dialer.Dial(ctx, address)
		if err != nil {
			ms.failed(address, fmt.Errorf("dial %s: %w", address, err))
			return
		}
		connector = c
	}

	id, err := connector.Collection().GetMetadataCollectionID(ctx, ms.cfg.UserID)
	if err != nil {
		ms.failed(address, err)
		if dialed {
			ms.discard(address, connector)
		}
		return
	}
	ms.alive(address, connector, id)
}

// discard closes a freshly dialled connector whose first probe failed.
func (ms *Membership) discard(address string, connector repository.Connector) {
	if err := connector.Disconnect(); err != nil {
		ms.logger.Debug("Failed to close unused connector",
			zap.String("address", address),
			zap.Error(err))
	}
}

func (ms *Membership) alive(address string, connector repository.Connector, id string) {
	ms.mu.Lock()
	state, ok := ms.peers[address]
	if !ok {
		ms.mu.Unlock()
		ms.discard(address, connector)
		return
	}
	previous := state.Peer
	wasRegistered := state.registered
	state.connector = connector
	state.CollectionID = id
	state.Status = PeerAlive
	state.Failures = 0
	state.LastSeen = ms.now()
	join := !wasRegistered || previous.CollectionID != id
	state.registered = true
	ms.mu.Unlock()

	ms.metrics.probe("success")
	ms.metrics.peerStatus(address, PeerAlive)

	if wasRegistered && previous.CollectionID != id {
		ms.logger.Info("Peer re-announced under a new collection id",
			zap.String("address", address),
			zap.String("old_collection_id", previous.CollectionID),
			zap.String("collection_id", id))
		ms.manager.RemoveRemoteConnector(previous.CollectionID)
	}
	if join {
		ms.logger.Info("Peer joined",
			zap.String("address", address),
			zap.String("collection_id", id))
		ms.manager.AddRemoteConnector(id, connector)
	} else if previous.Status == PeerSuspected {
		ms.logger.Info("Suspected peer is alive again",
			zap.String("address", address),
			zap.String("collection_id", id))
	}
}

func (ms *Membership) failed(address string, err error) {
	ms.mu.Lock()
	state, ok := ms.peers[address]
	if !ok {
		ms.mu.Unlock()
		return
	}
	state.Failures++
	previous := state.Status
	var dead *peerState
	switch {
	case state.Failures >= ms.cfg.DeadAfter && previous != PeerDead:
		state.Status = PeerDead
		released := *state
		dead = &released
		state.connector = nil
		state.registered = false
	case state.Failures >= ms.cfg.SuspectAfter && previous == PeerAlive:
		state.Status = PeerSuspected
	}
	current := state.Peer
	ms.mu.Unlock()

	ms.metrics.probe("failure")
	ms.metrics.peerStatus(address, current.Status)
	ms.logger.Warn("Peer probe failed",
		zap.String("address", address),
		zap.Int("failures", current.Failures),
		zap.Stringer("status", current.Status),
		zap.Error(err))

	if current.Status == PeerSuspected && previous != PeerSuspected {
		ms.audit.Record(AuditEvent{
			Code:     AuditPeerSuspected,
			Severity: SeverityWarning,
			Message:  "Cohort peer is not answering probes",
			Params:   map[string]string{"address": address, "collection_id": current.CollectionID},
		})
	}
	if dead != nil {
		ms.audit.Record(AuditEvent{
			Code:     AuditPeerDead,
			Severity: SeverityError,
			Message:  "Cohort peer declared dead and removed from the enterprise layer",
			Params:   map[string]string{"address": address, "collection_id": current.CollectionID},
		})
		ms.release(dead)
	}
}
