package federation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"metacohort/pkg/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDialer hands out the connector registered for an address, or fails when
// the address is marked down.
type fakeDialer struct {
	mu      sync.Mutex
	targets map[string]repository.Connector
	down    map[string]bool
	dials   map[string]int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		targets: make(map[string]repository.Connector),
		down:    make(map[string]bool),
		dials:   make(map[string]int),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (repository.Connector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[address]++
	if d.down[address] {
		return nil, errors.New("connection refused")
	}
	c, ok := d.targets[address]
	if !ok {
		return nil, errors.New("no route to host")
	}
	return &switchable{Connector: c, dialer: d, address: address}, nil
}

func (d *fakeDialer) set(address string, c repository.Connector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets[address] = c
}

func (d *fakeDialer) setDown(address string, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down[address] = down
}

func (d *fakeDialer) isDown(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.down[address]
}

func (d *fakeDialer) dialCount(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[address]
}

// switchable fails every call while its address is marked down.
type switchable struct {
	repository.Connector
	dialer  *fakeDialer
	address string
}

func (s *switchable) Collection() repository.MetadataCollection {
	if s.dialer.isDown(s.address) {
		return newFailing(s.address, errors.New("connection reset"))
	}
	return s.Connector.Collection()
}

func newTestMembership(t *testing.T, cfg MembershipConfig) (*Membership, *EnterpriseCollection, *fakeDialer, *AuditLog, *Metrics) {
	t.Helper()
	audit := NewAuditLog(nil)
	metrics := NewMetrics(prometheus.NewRegistry())
	ec := NewEnterpriseCollection("enterprise", WithAuditor(audit))
	dialer := newFakeDialer()
	ms := NewMembership(ec, dialer, cfg, WithMembershipAuditor(audit), WithMembershipMetrics(metrics))
	return ms, ec, dialer, audit, metrics
}

func registeredIDs(t *testing.T, ec *EnterpriseCollection) []string {
	t.Helper()
	members, err := ec.Registry().Snapshot()
	if err != nil {
		return nil
	}
	return memberIDs(members)
}

func TestMembershipJoinSuspectDead(t *testing.T) {
	ctx := context.Background()
	ms, ec, dialer, audit, metrics := newTestMembership(t, MembershipConfig{SuspectAfter: 1, DeadAfter: 3})
	dialer.set("peer-b:7070", newMember(t, "cohort-b"))
	ms.AddPeer("peer-b:7070")
	ms.AddPeer("peer-b:7070")
	require.Len(t, ms.Peers(), 1)

	ms.ProbeOnce(ctx)
	peers := ms.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, PeerAlive, peers[0].Status)
	assert.Equal(t, "cohort-b", peers[0].CollectionID)
	assert.Equal(t, []string{"cohort-b"}, registeredIDs(t, ec))
	assert.Equal(t, 1, audit.Count(AuditMemberJoined))

	ms.ProbeOnce(ctx)
	assert.Equal(t, 1, dialer.dialCount("peer-b:7070"), "a live peer keeps its connector")
	assert.Equal(t, 1, audit.Count(AuditMemberJoined))

	dialer.setDown("peer-b:7070", true)
	ms.ProbeOnce(ctx)
	assert.Equal(t, PeerSuspected, ms.Peers()[0].Status)
	assert.Equal(t, []string{"cohort-b"}, registeredIDs(t, ec), "suspected peers stay registered")
	assert.Equal(t, 1, audit.Count(AuditPeerSuspected))

	ms.ProbeOnce(ctx)
	ms.ProbeOnce(ctx)
	peers = ms.Peers()
	assert.Equal(t, PeerDead, peers[0].Status)
	assert.Equal(t, 3, peers[0].Failures)
	assert.Empty(t, registeredIDs(t, ec))
	assert.Equal(t, 1, audit.Count(AuditPeerDead))
	assert.Equal(t, 1, audit.Count(AuditMemberLeft))
	assert.Equal(t, float64(PeerDead), testutil.ToFloat64(metrics.PeerStatus.WithLabelValues("peer-b:7070")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.PeerProbes.WithLabelValues("failure")))

	t.Run("dead peers are redialled and rejoin", func(t *testing.T) {
		dialer.setDown("peer-b:7070", false)
		ms.ProbeOnce(ctx)
		assert.Equal(t, PeerAlive, ms.Peers()[0].Status)
		assert.Equal(t, []string{"cohort-b"}, registeredIDs(t, ec))
		assert.Equal(t, 2, audit.Count(AuditMemberJoined))
	})
}

func TestMembershipUnreachablePeerNeverJoins(t *testing.T) {
	ctx := context.Background()
	ms, ec, _, audit, _ := newTestMembership(t, MembershipConfig{SuspectAfter: 1, DeadAfter: 2})
	ms.AddPeer("nowhere:7070")

	ms.ProbeOnce(ctx)
	assert.Equal(t, 1, ms.Peers()[0].Failures)
	assert.Equal(t, PeerUnknown, ms.Peers()[0].Status)

	ms.ProbeOnce(ctx)
	assert.Equal(t, PeerDead, ms.Peers()[0].Status)
	assert.Empty(t, registeredIDs(t, ec))
	assert.Equal(t, 0, audit.Count(AuditMemberLeft))
	assert.Equal(t, 1, audit.Count(AuditPeerDead))
}

func TestMembershipCollectionIDChange(t *testing.T) {
	ctx := context.Background()
	ms, ec, dialer, _, _ := newTestMembership(t, MembershipConfig{DeadAfter: 1})
	dialer.set("peer:7070", newMember(t, "cohort-old"))
	ms.AddPeer("peer:7070")
	ms.ProbeOnce(ctx)
	require.Equal(t, []string{"cohort-old"}, registeredIDs(t, ec))

	// The process behind the address restarts with a new identity.
	dialer.setDown("peer:7070", true)
	ms.ProbeOnce(ctx)
	require.Empty(t, registeredIDs(t, ec))
	dialer.set("peer:7070", newMember(t, "cohort-new"))
	dialer.setDown("peer:7070", false)
	ms.ProbeOnce(ctx)

	assert.Equal(t, []string{"cohort-new"}, registeredIDs(t, ec))
	assert.Equal(t, "cohort-new", ms.Peers()[0].CollectionID)
}

func TestMembershipRemovePeer(t *testing.T) {
	ctx := context.Background()
	ms, ec, dialer, _, _ := newTestMembership(t, MembershipConfig{})
	dialer.set("a:7070", newMember(t, "cohort-a"))
	dialer.set("b:7070", newMember(t, "cohort-b"))
	ms.AddPeer("b:7070")
	ms.AddPeer("a:7070")
	ms.ProbeOnce(ctx)

	peers := ms.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "a:7070", peers[0].Address)
	assert.ElementsMatch(t, []string{"cohort-a", "cohort-b"}, registeredIDs(t, ec))

	ms.RemovePeer("a:7070")
	ms.RemovePeer("unknown:7070")
	assert.Len(t, ms.Peers(), 1)
	assert.Equal(t, []string{"cohort-b"}, registeredIDs(t, ec))
}

func TestMembershipStartStop(t *testing.T) {
	ms, ec, dialer, _, metrics := newTestMembership(t, MembershipConfig{ProbeInterval: 10 * time.Millisecond})
	dialer.set("peer:7070", newMember(t, "cohort-b"))
	ms.AddPeer("peer:7070")

	ms.Start()
	assert.Eventually(t, func() bool {
		return len(registeredIDs(t, ec)) == 1
	}, time.Second, 5*time.Millisecond)
	ms.Stop()
	ms.Stop()

	assert.Greater(t, testutil.ToFloat64(metrics.LastProbeTime), float64(0))
}

func TestDefaultMembershipConfig(t *testing.T) {
	ms := NewMembership(NewEnterpriseCollection("enterprise"), newFakeDialer(), MembershipConfig{SuspectAfter: 5, DeadAfter: 2})
	assert.Equal(t, 5, ms.cfg.SuspectAfter)
	assert.Equal(t, 5, ms.cfg.DeadAfter, "dead threshold is raised to the suspect threshold")
	assert.Equal(t, DefaultMembershipConfig().ProbeInterval, ms.cfg.ProbeInterval)
	assert.Equal(t, "metacohort", ms.cfg.UserID)
}
