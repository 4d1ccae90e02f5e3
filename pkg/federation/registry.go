package federation

import (
	"sync"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"go.uber.org/zap"
)

// Member is one collection in a registry snapshot.
type Member struct {
	ID        string
	Connector repository.Connector
	Local     bool
}

// Collection returns the member's metadata collection.
func (m Member) Collection() repository.MetadataCollection {
	return m.Connector.Collection()
}

// matches reports whether the member is home to h or replicates it.
func (m Member) matches(h types.Homed) bool {
	return m.ID == h.HomeCollection() || (h.ReplicatedByCollection() != "" && m.ID == h.ReplicatedByCollection())
}

// Registry holds the local member and the remote members in registration order.
// Every mutation and every snapshot takes the same mutex, so a snapshot never
// observes a half-applied change.
type Registry struct {
	mu      sync.Mutex
	local   *Member
	remotes []Member
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// SetLocal installs the local member. A nil connector clears it.
func (r *Registry) SetLocal(id string, connector repository.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if connector == nil {
		r.local = nil
		return
	}
	r.local = &Member{ID: id, Connector: connector, Local: true}
}

// AddOrRefresh registers a remote member, replacing the connector of an existing
// member with the same id in place. It reports whether the member was refreshed.
// The replaced connector is not disconnected: requests holding a snapshot keep
// using it, and it may share its transport with the replacement.
func (r *Registry) AddOrRefresh(id string, connector repository.Connector) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.remotes {
		if m.ID != id {
			continue
		}
		r.remotes[i].Connector = connector
		return true
	}
	r.remotes = append(r.remotes, Member{ID: id, Connector: connector})
	return false
}

// Remove unregisters and disconnects a remote member. It reports whether the id was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.remotes {
		if m.ID == id {
			r.remotes = append(r.remotes[:i:i], r.remotes[i+1:]...)
			r.disconnect(m)
			return true
		}
	}
	return false
}

// DisconnectAll disconnects and forgets every member, local included.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local != nil {
		r.disconnect(*r.local)
		r.local = nil
	}
	for _, m := range r.remotes {
		r.disconnect(m)
	}
	r.remotes = nil
}

// disconnect logs and swallows a failed disconnect; the member is gone either way.
func (r *Registry) disconnect(m Member) {
	if m.Connector == nil {
		return
	}
	if err := m.Connector.Disconnect(); err != nil {
		r.logger.Warn("Failed to disconnect member",
			zap.String("collection_id", m.ID),
			zap.Error(err))
	}
}

// Snapshot returns a copy of the members, local first.
func (r *Registry) Snapshot() ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() ([]Member, error) {
	out := make([]Member, 0, len(r.remotes)+1)
	if r.local != nil {
		out = append(out, *r.local)
	}
	out = append(out, r.remotes...)
	if len(out) == 0 {
		return nil, repository.Errorf(repository.KindNoRepositories, "", "no metadata collections are registered")
	}
	return out, nil
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.remotes)
	if r.local != nil {
		n++
	}
	return n
}

// LocalID returns the local member's collection id, or "" if none is set.
func (r *Registry) LocalID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == nil {
		return ""
	}
	return r.local.ID
}

// HomeConnector returns the member that may mutate h: the local member when it is
// home or replicates h, otherwise the first matching remote in registration order.
func (r *Registry) HomeConnector(method string, h types.Homed) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, err := r.snapshotLocked()
	if err != nil {
		return Member{}, err
	}
	for _, m := range members {
		if m.matches(h) {
			return m, nil
		}
	}
	return Member{}, repository.Errorf(repository.KindNoHome, method,
		"no registered member is home to %s; its home metadata collection is %s", h.Identity(), h.HomeCollection())
}

// HomeLocalRemoteOrder returns every member reordered so that the members matching
// h come first, then the local member, then the rest in registration order.
func (r *Registry) HomeLocalRemoteOrder(h types.Homed) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, err := r.snapshotLocked()
	if err != nil {
		return nil, err
	}
	var home, local, rest []Member
	for _, m := range members {
		switch {
		case m.matches(h):
			home = append(home, m)
		case m.Local:
			local = append(local, m)
		default:
			rest = append(rest, m)
		}
	}
	return append(append(home, local...), rest...), nil
}
