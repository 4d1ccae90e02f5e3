package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"metacohort/pkg/federation"
	"metacohort/pkg/memory"
	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const user = "garygeeke"

// cohortNet routes passthrough addresses to in-memory listeners.
type cohortNet struct {
	mu        sync.Mutex
	listeners map[string]*bufconn.Listener
}

func newCohortNet() *cohortNet {
	return &cohortNet{listeners: make(map[string]*bufconn.Listener)}
}

func (n *cohortNet) dial(ctx context.Context, addr string) (net.Conn, error) {
	n.mu.Lock()
	lis, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no member listening at %s", addr)
	}
	return lis.DialContext(ctx)
}

// serve starts a server for collection and returns the address to dial it at.
func (n *cohortNet) serve(t *testing.T, name string, collection repository.MetadataCollection, opts ...grpc.ServerOption) string {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, err := NewServer(collection, TLSConfig{}, zap.NewNop(), opts...)
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	n.mu.Lock()
	n.listeners[name] = lis
	n.mu.Unlock()
	return "passthrough:///" + name
}

func (n *cohortNet) pool(t *testing.T) *ConnectionPool {
	t.Helper()
	p := NewConnectionPool(PoolConfig{
		DialOptions: []grpc.DialOption{grpc.WithContextDialer(n.dial)},
	}, zap.NewNop())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func fastRetrier(retries int) *Retrier {
	return NewRetrier(RetryConfig{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
}

func newMember(t *testing.T, id string, opts ...memory.Option) *memory.Repository {
	t.Helper()
	r := memory.New(id, opts...)
	require.NoError(t, r.AddTypeDefGallery(context.Background(), user, memory.BaseTypes()))
	return r
}

func countCalls(counter *atomic.Int32) grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		counter.Add(1)
		return handler(ctx, req)
	})
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	cohort := newCohortNet()
	addr := cohort.serve(t, "cohort-b", newMember(t, "cohort-b"))
	client := NewClient(addr, cohort.pool(t), WithRetrier(fastRetrier(0)))

	id, err := client.GetMetadataCollectionID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "cohort-b", id)

	added, err := client.AddEntity(ctx, user, types.NewEntity{
		TypeGUID:   memory.AssetGUID,
		Properties: types.InstanceProperties{"name": "orders", "qualifiedName": "asset::orders"},
	})
	require.NoError(t, err)
	require.NotNil(t, added)
	assert.Equal(t, "cohort-b", added.HomeMetadataCollectionID)

	t.Run("reads what was written", func(t *testing.T) {
		got, err := client.GetEntityDetail(ctx, user, added.GUID)
		require.NoError(t, err)
		assert.Equal(t, added.GUID, got.GUID)
		assert.Equal(t, "orders", got.Properties["name"])

		found, err := client.FindEntities(ctx, user, types.EntityQuery{TypeGUID: memory.AssetGUID})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, added.GUID, found[0].GUID)
	})

	t.Run("unknown instances come back as nil", func(t *testing.T) {
		e, err := client.IsEntityKnown(ctx, user, "no-such-guid")
		require.NoError(t, err)
		assert.Nil(t, e)

		r, err := client.IsRelationshipKnown(ctx, user, "no-such-guid")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("type queries", func(t *testing.T) {
		def, err := client.GetTypeDefByGUID(ctx, user, memory.AssetGUID)
		require.NoError(t, err)
		assert.Equal(t, memory.AssetGUID, def.GUID)

		ok, err := client.VerifyTypeDef(ctx, user, def)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("writes without a result", func(t *testing.T) {
		_, err := client.DeleteEntity(ctx, user, memory.AssetGUID, "", added.GUID)
		require.NoError(t, err)
		require.NoError(t, client.PurgeEntity(ctx, user, memory.AssetGUID, "", added.GUID))

		e, err := client.IsEntityKnown(ctx, user, added.GUID)
		require.NoError(t, err)
		assert.Nil(t, e)
	})
}

func TestErrorKindsCrossTheWire(t *testing.T) {
	ctx := context.Background()
	cohort := newCohortNet()
	var calls atomic.Int32
	deny := memory.WithAuthorizer(func(userID, method string) error {
		if userID == "mallory" {
			return errors.New("not a cohort user")
		}
		return nil
	})
	addr := cohort.serve(t, "cohort-b", newMember(t, "cohort-b", deny), countCalls(&calls))
	client := NewClient(addr, cohort.pool(t), WithRetrier(fastRetrier(3)))

	tests := []struct {
		name   string
		call   func() error
		kind   repository.Kind
		method string
	}{
		{
			name: "entity not known",
			call: func() error {
				_, err := client.GetEntityDetail(ctx, user, "no-such-guid")
				return err
			},
			kind:   repository.KindEntityNotKnown,
			method: "GetEntityDetail",
		},
		{
			name: "user not authorized",
			call: func() error {
				_, err := client.FindEntities(ctx, "mallory", types.EntityQuery{})
				return err
			},
			kind:   repository.KindUserNotAuthorized,
			method: "FindEntities",
		},
		{
			name: "type not known",
			call: func() error {
				_, err := client.GetTypeDefByName(ctx, user, "NoSuchType")
				return err
			},
			kind:   repository.KindTypeDefNotKnown,
			method: "GetTypeDefByName",
		},
		{
			name: "wrong number of arguments",
			call: func() error {
				var out *types.EntityDetail
				return client.call(ctx, "GetEntityDetail", user, &out)
			},
			kind:   repository.KindInvalidParameter,
			method: "GetEntityDetail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := calls.Load()
			err := tt.call()
			require.Error(t, err)

			var re *repository.Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.method, re.Method)
			assert.Equal(t, int32(1), calls.Load()-before, "answers from the member are not retried")
		})
	}
}

func TestTransportFailures(t *testing.T) {
	ctx := context.Background()
	cohort := newCohortNet()
	pool := cohort.pool(t)
	client := NewClient("passthrough:///nowhere", pool,
		WithRetrier(fastRetrier(1)),
		WithCallTimeout(time.Second))

	_, err := client.GetMetadataCollectionID(ctx, user)
	require.Error(t, err)
	assert.Equal(t, repository.KindRepositoryError, repository.KindOf(err))
	assert.Contains(t, err.Error(), "nowhere")

	t.Run("circuit opens after repeated failures", func(t *testing.T) {
		_, _ = client.GetMetadataCollectionID(ctx, user)
		assert.Equal(t, CircuitOpen, pool.State("passthrough:///nowhere"))

		_, err := client.GetMetadataCollectionID(ctx, user)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, repository.KindRepositoryError, repository.KindOf(err))
	})

	t.Run("disconnect forgets the address", func(t *testing.T) {
		require.NoError(t, client.Disconnect())
		assert.Equal(t, CircuitClosed, pool.State("passthrough:///nowhere"))
		assert.Equal(t, 0, pool.Stats().Connections)
	})
}

func TestCallHonoursCancelledContext(t *testing.T) {
	cohort := newCohortNet()
	addr := cohort.serve(t, "cohort-b", newMember(t, "cohort-b"))
	client := NewClient(addr, cohort.pool(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GetMetadataCollectionID(ctx, user)
	require.Error(t, err)
	assert.Equal(t, repository.KindRepositoryError, repository.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnterpriseOverRemoteMembers(t *testing.T) {
	ctx := context.Background()
	cohort := newCohortNet()
	pool := cohort.pool(t)

	localRepo := newMember(t, "cohort-a")
	remoteRepo := newMember(t, "cohort-b")
	addr := cohort.serve(t, "cohort-b", remoteRepo)

	ec := federation.NewEnterpriseCollection("enterprise")
	ec.SetLocalConnector("cohort-a", localRepo)
	ec.AddRemoteConnector("cohort-b", NewClient(addr, pool, WithRetrier(fastRetrier(0))))

	_, err := localRepo.AddEntity(ctx, user, types.NewEntity{
		TypeGUID:   memory.AssetGUID,
		Properties: types.InstanceProperties{"name": "local", "qualifiedName": "asset::local"},
	})
	require.NoError(t, err)
	remoteEntity, err := remoteRepo.AddEntity(ctx, user, types.NewEntity{
		TypeGUID:   memory.AssetGUID,
		Properties: types.InstanceProperties{"name": "remote", "qualifiedName": "asset::remote"},
	})
	require.NoError(t, err)

	found, err := ec.FindEntities(ctx, user, types.EntityQuery{TypeGUID: memory.AssetGUID})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	t.Run("updates reach the home member", func(t *testing.T) {
		updated, err := ec.UpdateEntityProperties(ctx, user, remoteEntity.GUID,
			types.InstanceProperties{"name": "renamed", "qualifiedName": "asset::remote"})
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Properties["name"])

		stored, err := remoteRepo.GetEntityDetail(ctx, user, remoteEntity.GUID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", stored.Properties["name"])
	})

	t.Run("removing the member disconnects it", func(t *testing.T) {
		ec.RemoveRemoteConnector("cohort-b")
		assert.Equal(t, 0, pool.Stats().Connections)

		found, err := ec.FindEntities(ctx, user, types.EntityQuery{TypeGUID: memory.AssetGUID})
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})
}

func TestMembershipOverRemoteDialer(t *testing.T) {
	ctx := context.Background()
	cohort := newCohortNet()
	addr := cohort.serve(t, "cohort-b", newMember(t, "cohort-b"))

	ec := federation.NewEnterpriseCollection("enterprise")
	dialer := NewDialer(cohort.pool(t), WithRetrier(fastRetrier(0)))
	ms := federation.NewMembership(ec, dialer, federation.MembershipConfig{})

	ms.AddPeer(addr)
	ms.AddPeer("passthrough:///nowhere")
	ms.ProbeOnce(ctx)

	members, err := ec.Registry().Snapshot()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "cohort-b", members[0].ID)

	for _, p := range ms.Peers() {
		if p.Address == addr {
			assert.Equal(t, federation.PeerAlive, p.Status)
		} else {
			assert.Equal(t, 1, p.Failures)
		}
	}
}

func TestDialerRejectsEmptyAddress(t *testing.T) {
	d := NewDialer(NewConnectionPool(PoolConfig{}, nil))
	_, err := d.Dial(context.Background(), " ")
	assert.Equal(t, repository.KindInvalidParameter, repository.KindOf(err))
}

func TestServiceDescCoversCollection(t *testing.T) {
	desc := serviceDesc()
	assert.Equal(t, ServiceName, desc.ServiceName)
	assert.Len(t, desc.Methods, len(handlers))
	for i, m := range desc.Methods {
		assert.NotNil(t, m.Handler, m.MethodName)
		if i > 0 {
			assert.Less(t, desc.Methods[i-1].MethodName, m.MethodName)
		}
	}
}
