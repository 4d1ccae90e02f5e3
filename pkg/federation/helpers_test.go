package federation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"metacohort/pkg/memory"
	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"github.com/stretchr/testify/require"
)

const user = "garygeeke"

func newMember(t *testing.T, id string) *memory.Repository {
	t.Helper()
	r := memory.New(id)
	require.NoError(t, r.AddTypeDefGallery(context.Background(), user, memory.BaseTypes()))
	return r
}

func addAsset(t *testing.T, c repository.MetadataCollection, name string) *types.EntityDetail {
	t.Helper()
	e, err := c.AddEntity(context.Background(), user, types.NewEntity{
		TypeGUID:   memory.AssetGUID,
		Properties: types.InstanceProperties{"name": name, "qualifiedName": "asset::" + name},
	})
	require.NoError(t, err)
	return e
}

// newCohort builds an enterprise collection whose local member is the first
// connector and whose remote members are the rest, registered under their ids.
func newCohort(t *testing.T, audit *AuditLog, members ...Member) *EnterpriseCollection {
	t.Helper()
	opts := []Option{}
	if audit != nil {
		opts = append(opts, WithAuditor(audit))
	}
	ec := NewEnterpriseCollection("enterprise", opts...)
	for i, m := range members {
		if i == 0 && m.Local {
			ec.SetLocalConnector(m.ID, m.Connector)
			continue
		}
		ec.AddRemoteConnector(m.ID, m.Connector)
	}
	return ec
}

func local(id string, c repository.Connector) Member  { return Member{ID: id, Connector: c, Local: true} }
func remote(id string, c repository.Connector) Member { return Member{ID: id, Connector: c} }

// countingConnector counts how often its collection is reached.
type countingConnector struct {
	repository.Connector
	calls       atomic.Int32
	disconnects atomic.Int32
}

func (c *countingConnector) Collection() repository.MetadataCollection {
	c.calls.Add(1)
	return c.Connector.Collection()
}

func (c *countingConnector) Disconnect() error {
	c.disconnects.Add(1)
	return c.Connector.Disconnect()
}

// failingCollection answers the common read and write calls with err. Calls
// it does not override reach the embedded repository.
type failingCollection struct {
	repository.MetadataCollection
	err error
}

func newFailing(id string, err error) *failingCollection {
	return &failingCollection{MetadataCollection: memory.New(id), err: err}
}

func (f *failingCollection) Collection() repository.MetadataCollection { return f }
func (f *failingCollection) Disconnect() error                         { return nil }

func (f *failingCollection) GetMetadataCollectionID(ctx context.Context, userID string) (string, error) {
	return "", f.err
}

func (f *failingCollection) GetAllTypes(ctx context.Context, userID string) (*types.TypeDefGallery, error) {
	return nil, f.err
}

func (f *failingCollection) GetEntitySummary(ctx context.Context, userID, guid string) (*types.EntitySummary, error) {
	return nil, f.err
}

func (f *failingCollection) GetEntityDetail(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	return nil, f.err
}

func (f *failingCollection) GetEntityDetailAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.EntityDetail, error) {
	return nil, f.err
}

func (f *failingCollection) FindEntities(ctx context.Context, userID string, q types.EntityQuery) ([]*types.EntityDetail, error) {
	return nil, f.err
}

func (f *failingCollection) AddEntity(ctx context.Context, userID string, req types.NewEntity) (*types.EntityDetail, error) {
	return nil, f.err
}

func (f *failingCollection) ClassifyEntity(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	return nil, f.err
}

func (f *failingCollection) GetLinkingEntities(ctx context.Context, userID, startGUID, endGUID string, q types.GraphQuery) (*types.InstanceGraph, error) {
	return nil, f.err
}

func (f *failingCollection) GetEntityNeighborhood(ctx context.Context, userID, entityGUID string, q types.NeighborhoodQuery) (*types.InstanceGraph, error) {
	return nil, f.err
}

func (f *failingCollection) GetRelatedEntities(ctx context.Context, userID, startGUID string, q types.RelatedQuery) ([]*types.EntityDetail, error) {
	return nil, f.err
}

// emptyGraphs answers every neighborhood query with an empty graph.
type emptyGraphs struct {
	*memory.Repository
}

func (e *emptyGraphs) Collection() repository.MetadataCollection { return e }

func (e *emptyGraphs) GetEntityNeighborhood(ctx context.Context, userID, entityGUID string, q types.NeighborhoodQuery) (*types.InstanceGraph, error) {
	return &types.InstanceGraph{}, nil
}

// hookedCollection runs hooks around selected calls on a real repository.
type hookedCollection struct {
	*memory.Repository
	beforeFind func()
	afterFind  func()
	asOfCalls  atomic.Int32
	onAsOf     func(call int32)
}

func (h *hookedCollection) Collection() repository.MetadataCollection { return h }

func (h *hookedCollection) FindEntities(ctx context.Context, userID string, q types.EntityQuery) ([]*types.EntityDetail, error) {
	if h.beforeFind != nil {
		h.beforeFind()
	}
	out, err := h.Repository.FindEntities(ctx, userID, q)
	if h.afterFind != nil {
		h.afterFind()
	}
	return out, err
}

func (h *hookedCollection) GetEntityDetailAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.EntityDetail, error) {
	n := h.asOfCalls.Add(1)
	if h.onAsOf != nil {
		h.onAsOf(n)
	}
	return h.Repository.GetEntityDetailAsOf(ctx, userID, guid, asOf)
}

// noClassify refuses classification so callers move on to the next member.
type noClassify struct {
	*memory.Repository
}

func (n *noClassify) Collection() repository.MetadataCollection { return n }

func (n *noClassify) ClassifyEntity(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	return nil, repository.NotSupported("ClassifyEntity", n.MetadataCollectionID())
}

func guids(es []*types.EntityDetail) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.GUID)
	}
	return out
}
