package federation

import (
	"context"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"
)

// graphUnion accumulates instances from several members keyed by GUID. A later
// copy of an instance replaces an earlier one but keeps its position.
type graphUnion struct {
	entities      map[string]*types.EntityDetail
	entityOrder   []string
	relationships map[string]*types.Relationship
	relOrder      []string
}

func newGraphUnion() *graphUnion {
	return &graphUnion{
		entities:      make(map[string]*types.EntityDetail),
		relationships: make(map[string]*types.Relationship),
	}
}

func (u *graphUnion) addEntities(es []*types.EntityDetail) {
	for _, e := range es {
		if e == nil {
			continue
		}
		if _, ok := u.entities[e.GUID]; !ok {
			u.entityOrder = append(u.entityOrder, e.GUID)
		}
		u.entities[e.GUID] = e
	}
}

func (u *graphUnion) addRelationships(rs []*types.Relationship) {
	for _, r := range rs {
		if r == nil {
			continue
		}
		if _, ok := u.relationships[r.GUID]; !ok {
			u.relOrder = append(u.relOrder, r.GUID)
		}
		u.relationships[r.GUID] = r
	}
}

func (u *graphUnion) fold(g *types.InstanceGraph) bool {
	if g != nil {
		u.addEntities(g.Entities)
		u.addRelationships(g.Relationships)
	}
	return false
}

func (u *graphUnion) empty() bool {
	return len(u.entityOrder) == 0 && len(u.relOrder) == 0
}

func (u *graphUnion) entityList() []*types.EntityDetail {
	out := make([]*types.EntityDetail, 0, len(u.entityOrder))
	for _, guid := range u.entityOrder {
		out = append(out, u.entities[guid])
	}
	return out
}

func (u *graphUnion) graph() *types.InstanceGraph {
	out := &types.InstanceGraph{}
	if len(u.entityOrder) > 0 {
		out.Entities = u.entityList()
	}
	for _, guid := range u.relOrder {
		out.Relationships = append(out.Relationships, u.relationships[guid])
	}
	return out
}

// traverse fans a graph query out to every member. Member failures surface
// only when no member contributed an instance.
func (ec *EnterpriseCollection) traverse(ctx context.Context, method string,
	call func(context.Context, repository.MetadataCollection) (*types.InstanceGraph, error)) (*types.InstanceGraph, error) {
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	u := newGraphUnion()
	ex := newExecutor(ec, method, func(ctx context.Context, m Member) (*types.InstanceGraph, error) {
		return call(ctx, m.Collection())
	}, u.fold, graphPolicy)
	Parallel(ctx, members, ex)
	if err := ex.finish(ctx, func() bool { return !u.empty() }); err != nil {
		return nil, err
	}
	return u.graph(), nil
}

func (ec *EnterpriseCollection) GetLinkingEntities(ctx context.Context, userID, startGUID, endGUID string, q types.GraphQuery) (*types.InstanceGraph, error) {
	const method = "GetLinkingEntities"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(startGUID, "startEntityGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(endGUID, "endEntityGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	if err := ec.validator.AsOfTime(q.AsOfTime, method); err != nil {
		return nil, err
	}
	return ec.traverse(ctx, method, func(ctx context.Context, c repository.MetadataCollection) (*types.InstanceGraph, error) {
		return c.GetLinkingEntities(ctx, userID, startGUID, endGUID, q)
	})
}

func (ec *EnterpriseCollection) GetEntityNeighborhood(ctx context.Context, userID, entityGUID string, q types.NeighborhoodQuery) (*types.InstanceGraph, error) {
	const method = "GetEntityNeighborhood"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Level(q.Level, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	if err := ec.validator.AsOfTime(q.AsOfTime, method); err != nil {
		return nil, err
	}
	return ec.traverse(ctx, method, func(ctx context.Context, c repository.MetadataCollection) (*types.InstanceGraph, error) {
		return c.GetEntityNeighborhood(ctx, userID, entityGUID, q)
	})
}

func (ec *EnterpriseCollection) GetRelatedEntities(ctx context.Context, userID, startGUID string, q types.RelatedQuery) ([]*types.EntityDetail, error) {
	const method = "GetRelatedEntities"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(startGUID, "startEntityGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	u := newGraphUnion()
	ex := newExecutor(ec, method, func(ctx context.Context, m Member) ([]*types.EntityDetail, error) {
		return m.Collection().GetRelatedEntities(ctx, userID, startGUID, q)
	}, func(es []*types.EntityDetail) bool {
		u.addEntities(es)
		return false
	}, graphPolicy)
	Parallel(ctx, members, ex)
	if err := ex.finish(ctx, func() bool { return !u.empty() }); err != nil {
		return nil, err
	}
	return u.entityList(), nil
}
