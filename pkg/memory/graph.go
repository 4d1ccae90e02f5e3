package memory

import (
	"context"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"
)

// graphView is a point-in-time adjacency over the relationships held here.
type graphView struct {
	edges map[string][]*types.Relationship
}

func (r *Repository) graphLocked(asOf *time.Time, statuses []types.InstanceStatus, relTypeGUIDs []string) graphView {
	g := graphView{edges: make(map[string][]*types.Relationship)}
	for _, rec := range r.relationships {
		rel := rec.current()
		if asOf != nil {
			if rel = rec.asOf(*asOf); rel == nil {
				continue
			}
		}
		if !statusAllowed(rel.Status, statuses) {
			continue
		}
		if len(relTypeGUIDs) > 0 && !contains(relTypeGUIDs, rel.Type.TypeDefGUID) {
			continue
		}
		if rel.End1 == nil || rel.End2 == nil {
			continue
		}
		g.edges[rel.End1.GUID] = append(g.edges[rel.End1.GUID], rel)
		g.edges[rel.End2.GUID] = append(g.edges[rel.End2.GUID], rel)
	}
	for guid := range g.edges {
		sortInstances(g.edges[guid], relationshipHeader, relationshipProps, types.Paging{})
	}
	return g
}

// entityAtLocked resolves an entity for inclusion in a graph. Proxies are
// returned as detail without properties.
func (r *Repository) entityAtLocked(guid string, asOf *time.Time) *types.EntityDetail {
	if rec, ok := r.entities[guid]; ok {
		if asOf == nil {
			return rec.current().Clone()
		}
		if e := rec.asOf(*asOf); e != nil {
			return e.Clone()
		}
		return nil
	}
	if p, ok := r.proxies[guid]; ok {
		return &types.EntityDetail{EntitySummary: p.Clone().EntitySummary}
	}
	return nil
}

func (r *Repository) entityFilterLocked(method string, typeGUIDs, classificationNames []string, statuses []types.InstanceStatus) (func(*types.EntityDetail) bool, error) {
	var typeOKs []func(types.InstanceType) bool
	for _, guid := range typeGUIDs {
		ok, err := r.typeFilterLocked(method, guid, nil)
		if err != nil {
			return nil, err
		}
		typeOKs = append(typeOKs, ok)
	}
	return func(e *types.EntityDetail) bool {
		if !statusAllowed(e.Status, statuses) || !hasClassifications(&e.EntitySummary, classificationNames) {
			return false
		}
		if len(typeOKs) == 0 {
			return true
		}
		for _, ok := range typeOKs {
			if ok(e.Type) {
				return true
			}
		}
		return false
	}, nil
}

// GetLinkingEntities returns the shortest chain of relationships between two entities.
func (r *Repository) GetLinkingEntities(ctx context.Context, userID, startGUID, endGUID string, q types.GraphQuery) (*types.InstanceGraph, error) {
	const method = "GetLinkingEntities"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(startGUID, "startEntityGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(endGUID, "endEntityGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	if err := r.validator.AsOfTime(q.AsOfTime, method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.entityAtLocked(startGUID, q.AsOfTime) == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", startGUID, r.id)
	}
	if r.entityAtLocked(endGUID, q.AsOfTime) == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", endGUID, r.id)
	}

	g := r.graphLocked(q.AsOfTime, q.Statuses, nil)
	via := map[string]*types.Relationship{startGUID: nil}
	queue := []string{startGUID}
	for len(queue) > 0 && via[endGUID] == nil && startGUID != endGUID {
		cur := queue[0]
		queue = queue[1:]
		for _, rel := range g.edges[cur] {
			next := rel.OtherEnd(cur)
			if _, seen := via[next]; seen {
				continue
			}
			via[next] = rel
			queue = append(queue, next)
		}
	}

	out := &types.InstanceGraph{}
	if _, reached := via[endGUID]; !reached {
		return out, nil
	}
	for guid := endGUID; ; {
		if e := r.entityAtLocked(guid, q.AsOfTime); e != nil {
			out.Entities = append(out.Entities, e)
		}
		rel := via[guid]
		if rel == nil {
			break
		}
		out.Relationships = append(out.Relationships, rel.Clone())
		guid = rel.OtherEnd(guid)
	}
	return out, nil
}

// GetEntityNeighborhood returns the entities and relationships within q.Level hops.
// Level 0 returns the starting entity alone.
func (r *Repository) GetEntityNeighborhood(ctx context.Context, userID, entityGUID string, q types.NeighborhoodQuery) (*types.InstanceGraph, error) {
	const method = "GetEntityNeighborhood"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.Level(q.Level, method); err != nil {
		return nil, err
	}
	if err := r.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	if err := r.validator.AsOfTime(q.AsOfTime, method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := r.entityAtLocked(entityGUID, q.AsOfTime)
	if start == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", entityGUID, r.id)
	}
	keep, err := r.entityFilterLocked(method, q.EntityTypeGUIDs, q.ClassificationNames, q.Statuses)
	if err != nil {
		return nil, err
	}

	g := r.graphLocked(q.AsOfTime, q.Statuses, q.RelationshipTypeGUIDs)
	out := &types.InstanceGraph{Entities: []*types.EntityDetail{start}}
	seenEntity := map[string]bool{entityGUID: true}
	seenRel := map[string]bool{}
	frontier := []string{entityGUID}
	for level := 0; level < q.Level && len(frontier) > 0; level++ {
		var next []string
		for _, guid := range frontier {
			for _, rel := range g.edges[guid] {
				if seenRel[rel.GUID] {
					continue
				}
				other := rel.OtherEnd(guid)
				e := r.entityAtLocked(other, q.AsOfTime)
				if e == nil || !keep(e) {
					continue
				}
				seenRel[rel.GUID] = true
				out.Relationships = append(out.Relationships, rel.Clone())
				if !seenEntity[other] {
					seenEntity[other] = true
					out.Entities = append(out.Entities, e)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// GetRelatedEntities returns every entity reachable from the start entity, excluding it.
func (r *Repository) GetRelatedEntities(ctx context.Context, userID, startGUID string, q types.RelatedQuery) ([]*types.EntityDetail, error) {
	const method = "GetRelatedEntities"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(startGUID, "startEntityGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := r.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.entityAtLocked(startGUID, q.AsOfTime) == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", startGUID, r.id)
	}
	keep, err := r.entityFilterLocked(method, q.EntityTypeGUIDs, q.ClassificationNames, q.Statuses)
	if err != nil {
		return nil, err
	}

	g := r.graphLocked(q.AsOfTime, q.Statuses, nil)
	seen := map[string]bool{startGUID: true}
	queue := []string{startGUID}
	var out []*types.EntityDetail
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, rel := range g.edges[cur] {
			other := rel.OtherEnd(cur)
			if seen[other] {
				continue
			}
			seen[other] = true
			queue = append(queue, other)
			if e := r.entityAtLocked(other, q.AsOfTime); e != nil && keep(e) {
				out = append(out, e)
			}
		}
	}
	sortInstances(out, entityHeader, entityProps, q.Paging)
	return page(out, q.FromElement, q.PageSize), nil
}
