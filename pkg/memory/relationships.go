package memory

import (
	"context"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"go.uber.org/zap"
)

func (r *Repository) appendRelationshipVersion(rec *relationshipRecord, userID string, mutate func(*types.Relationship)) *types.Relationship {
	next := rec.current().Clone()
	mutate(next)
	next.Version++
	next.UpdatedBy = userID
	next.UpdateTime = r.now()
	rec.versions = append(rec.versions, next)
	return next.Clone()
}

func (r *Repository) ownedRelationshipLocked(method, guid string) (*relationshipRecord, error) {
	rec, ok := r.relationships[guid]
	if !ok {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to %s", guid, r.id)
	}
	if cur := rec.current(); !r.owns(cur) {
		return nil, r.notHome(method, cur)
	}
	return rec, nil
}

// endProxyLocked returns a proxy for an entity end. Full detail takes precedence over a stored proxy.
func (r *Repository) endProxyLocked(guid string) *types.EntityProxy {
	if rec, ok := r.entities[guid]; ok {
		return rec.current().Proxy()
	}
	if p, ok := r.proxies[guid]; ok {
		return p.Clone()
	}
	return nil
}

func (r *Repository) findRelationshipsLocked(method, typeGUID string, subtypeGUIDs []string, statuses []types.InstanceStatus,
	paging types.Paging, keep func(*types.Relationship) bool) ([]*types.Relationship, error) {
	typeOK, err := r.typeFilterLocked(method, typeGUID, subtypeGUIDs)
	if err != nil {
		return nil, err
	}
	var out []*types.Relationship
	for _, rec := range r.relationships {
		rel := rec.current()
		if paging.AsOfTime != nil {
			if rel = rec.asOf(*paging.AsOfTime); rel == nil {
				continue
			}
		}
		if !typeOK(rel.Type) || !statusAllowed(rel.Status, statuses) || !keep(rel) {
			continue
		}
		out = append(out, rel.Clone())
	}
	sortInstances(out, relationshipHeader, relationshipProps, paging)
	return page(out, paging.FromElement, paging.PageSize), nil
}

func (r *Repository) GetRelationshipsForEntity(ctx context.Context, userID, entityGUID string, q types.RelationshipsForEntityQuery) ([]*types.Relationship, error) {
	const method = "GetRelationshipsForEntity"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(entityGUID, "entityGUID", method); err != nil {
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
	_, held := r.entities[entityGUID]
	_, proxied := r.proxies[entityGUID]
	if !held && !proxied {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", entityGUID, r.id)
	}
	return r.findRelationshipsLocked(method, q.RelationshipTypeGUID, nil, q.Statuses, q.Paging, func(rel *types.Relationship) bool {
		return rel.OtherEnd(entityGUID) != ""
	})
}

func (r *Repository) IsRelationshipKnown(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "IsRelationshipKnown"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.relationships[guid]; ok {
		return rec.current().Clone(), nil
	}
	return nil, nil
}

func (r *Repository) GetRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "GetRelationship"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.relationships[guid]; ok {
		return rec.current().Clone(), nil
	}
	return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to %s", guid, r.id)
}

func (r *Repository) GetRelationshipAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.Relationship, error) {
	const method = "GetRelationshipAsOf"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := r.validator.AsOfTime(&asOf, method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.relationships[guid]
	if !ok {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to %s", guid, r.id)
	}
	rel := rec.asOf(asOf)
	if rel == nil {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method,
			"relationship %s did not exist at %s", guid, asOf.Format(time.RFC3339))
	}
	return rel.Clone(), nil
}

func (r *Repository) GetRelationshipHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.Relationship, error) {
	const method = "GetRelationshipHistory"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := r.validator.History(q, method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.relationships[guid]
	if !ok {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to %s", guid, r.id)
	}
	return history(rec.versions, relationshipHeader, (*types.Relationship).Clone, q), nil
}

func (r *Repository) FindRelationships(ctx context.Context, userID string, q types.RelationshipQuery) ([]*types.Relationship, error) {
	const method = "FindRelationships"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := r.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	if err := r.validator.SearchProperties(q.MatchProperties, method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findRelationshipsLocked(method, q.TypeGUID, q.SubtypeGUIDs, q.Statuses, q.Paging, func(rel *types.Relationship) bool {
		return matchSearch(rel.Properties, q.MatchProperties)
	})
}

func (r *Repository) FindRelationshipsByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.Relationship, error) {
	const method = "FindRelationshipsByProperty"
	if err := r.checkUser(userID, method); err != nil {
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
	return r.findRelationshipsLocked(method, q.TypeGUID, nil, q.Statuses, q.Paging, func(rel *types.Relationship) bool {
		return matchProperties(rel.Properties, q.MatchProperties, q.MatchCriteria)
	})
}

func (r *Repository) FindRelationshipsByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.Relationship, error) {
	const method = "FindRelationshipsByPropertyValue"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.Regex(q.SearchCriteria, "searchCriteria", method); err != nil {
		return nil, err
	}
	if err := r.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := r.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	re, _ := types.CompileFull(q.SearchCriteria)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findRelationshipsLocked(method, q.TypeGUID, nil, q.Statuses, q.Paging, func(rel *types.Relationship) bool {
		return anyStringMatches(rel.Properties, re)
	})
}

// AddRelationship links two entities. Each end must be held here as detail or as a proxy.
func (r *Repository) AddRelationship(ctx context.Context, userID string, req types.NewRelationship) (*types.Relationship, error) {
	const method = "AddRelationship"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(req.TypeGUID, "typeGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(req.End1GUID, "end1GUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(req.End2GUID, "end2GUID", method); err != nil {
		return nil, err
	}
	if req.InitialStatus != "" {
		if err := r.validator.InitialStatus(req.InitialStatus, method); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def := r.typeLocked(req.TypeGUID)
	if def == nil {
		return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "type %s is not known to %s", req.TypeGUID, r.id)
	}
	if def.Category != types.CategoryRelationshipDef {
		return nil, repository.Errorf(repository.KindTypeError, method, "type %s is a %s, not a relationship type", def.Name, def.Category)
	}
	if err := r.checkPropertiesLocked(def, req.Properties, method); err != nil {
		return nil, err
	}
	end1 := r.endProxyLocked(req.End1GUID)
	if end1 == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "end 1 entity %s is not known to %s", req.End1GUID, r.id)
	}
	end2 := r.endProxyLocked(req.End2GUID)
	if end2 == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "end 2 entity %s is not known to %s", req.End2GUID, r.id)
	}
	if def.End1 != nil && def.End1.EntityType.Name != "" && !end1.Type.IsA(def.End1.EntityType.Name) {
		return nil, repository.Errorf(repository.KindTypeError, method, "end 1 of %s must be a %s", def.Name, def.End1.EntityType.Name)
	}
	if def.End2 != nil && def.End2.EntityType.Name != "" && !end2.Type.IsA(def.End2.EntityType.Name) {
		return nil, repository.Errorf(repository.KindTypeError, method, "end 2 of %s must be a %s", def.Name, def.End2.EntityType.Name)
	}
	status := req.InitialStatus
	if status == "" {
		status = def.InitialStatus
	}
	if status == "" {
		status = types.StatusActive
	}
	if !def.ValidStatus(status) {
		return nil, repository.Errorf(repository.KindStatusNotSupported, method, "status %s is not valid for type %s", status, def.Name)
	}

	now := r.now()
	rel := &types.Relationship{Properties: req.Properties.Clone(), End1: end1, End2: end2}
	rel.GUID = r.newGUID()
	rel.Type = r.instanceTypeLocked(def)
	rel.Provenance = types.ProvenanceLocalCohort
	rel.HomeMetadataCollectionID = r.id
	rel.HomeMetadataCollectionName = r.name
	rel.Status = status
	rel.Version = 1
	rel.CreatedBy = userID
	rel.UpdatedBy = userID
	rel.CreateTime = now
	rel.UpdateTime = now
	r.relationships[rel.GUID] = &relationshipRecord{versions: []*types.Relationship{rel}}

	r.logger.Debug("Added relationship",
		zap.String("collection_id", r.id),
		zap.String("guid", rel.GUID),
		zap.String("type", def.Name))
	return rel.Clone(), nil
}

func (r *Repository) UpdateRelationshipStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.Relationship, error) {
	const method = "UpdateRelationshipStatus"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := r.validator.NewStatus(status, method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedRelationshipLocked(method, guid)
	if err != nil {
		return nil, err
	}
	cur := rec.current()
	if cur.Status == types.StatusDeleted {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is deleted", guid)
	}
	if def := r.typeLocked(cur.Type.TypeDefGUID); def != nil && !def.ValidStatus(status) {
		return nil, repository.Errorf(repository.KindStatusNotSupported, method, "status %s is not valid for type %s", status, def.Name)
	}
	return r.appendRelationshipVersion(rec, userID, func(x *types.Relationship) { x.Status = status }), nil
}

func (r *Repository) UpdateRelationshipProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.Relationship, error) {
	const method = "UpdateRelationshipProperties"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedRelationshipLocked(method, guid)
	if err != nil {
		return nil, err
	}
	cur := rec.current()
	if cur.Status == types.StatusDeleted {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is deleted", guid)
	}
	if def := r.typeLocked(cur.Type.TypeDefGUID); def != nil {
		if err := r.checkPropertiesLocked(def, props, method); err != nil {
			return nil, err
		}
	}
	return r.appendRelationshipVersion(rec, userID, func(x *types.Relationship) { x.Properties = props.Clone() }), nil
}

func (r *Repository) UndoRelationshipUpdate(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "UndoRelationshipUpdate"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedRelationshipLocked(method, guid)
	if err != nil {
		return nil, err
	}
	if len(rec.versions) < 2 {
		return nil, repository.Errorf(repository.KindInvalidParameter, method, "relationship %s has no earlier version", guid)
	}
	prev := rec.versions[len(rec.versions)-2]
	return r.appendRelationshipVersion(rec, userID, func(x *types.Relationship) {
		x.Status = prev.Status
		x.StatusOnDelete = prev.StatusOnDelete
		x.Properties = prev.Properties.Clone()
	}), nil
}

func (r *Repository) checkRelationshipType(method string, rel *types.Relationship, typeGUID, typeName string) error {
	if err := r.validator.TypeName(typeGUID, typeName, method); err != nil {
		return err
	}
	if (typeGUID != "" && rel.Type.TypeDefGUID != typeGUID) || (typeName != "" && rel.Type.TypeDefName != typeName) {
		return repository.Errorf(repository.KindInvalidParameter, method,
			"relationship %s is of type %s, not %s %s", rel.GUID, rel.Type.TypeDefName, typeGUID, typeName)
	}
	return nil
}

func (r *Repository) DeleteRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.Relationship, error) {
	const method = "DeleteRelationship"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedRelationshipLocked(method, guid)
	if err != nil {
		return nil, err
	}
	cur := rec.current()
	if err := r.checkRelationshipType(method, cur, typeGUID, typeName); err != nil {
		return nil, err
	}
	if cur.Status == types.StatusDeleted {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is already deleted", guid)
	}
	return r.appendRelationshipVersion(rec, userID, func(x *types.Relationship) {
		x.StatusOnDelete = x.Status
		x.Status = types.StatusDeleted
	}), nil
}

func (r *Repository) PurgeRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) error {
	const method = "PurgeRelationship"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedRelationshipLocked(method, guid)
	if err != nil {
		return err
	}
	cur := rec.current()
	if err := r.checkRelationshipType(method, cur, typeGUID, typeName); err != nil {
		return err
	}
	if cur.Status != types.StatusDeleted {
		return repository.Errorf(repository.KindRelationshipNotDeleted, method, "relationship %s must be deleted before it is purged", guid)
	}
	delete(r.relationships, guid)
	return nil
}

func (r *Repository) RestoreRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "RestoreRelationship"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedRelationshipLocked(method, guid)
	if err != nil {
		return nil, err
	}
	if rec.current().Status != types.StatusDeleted {
		return nil, repository.Errorf(repository.KindRelationshipNotDeleted, method, "relationship %s is not deleted", guid)
	}
	return r.appendRelationshipVersion(rec, userID, func(x *types.Relationship) {
		x.Status = x.StatusOnDelete
		if x.Status == "" {
			x.Status = types.StatusActive
		}
		x.StatusOnDelete = ""
	}), nil
}

func (r *Repository) ReIdentifyRelationship(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.Relationship, error) {
	return nil, repository.NotSupported("ReIdentifyRelationship", r.id)
}

func (r *Repository) ReTypeRelationship(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.Relationship, error) {
	return nil, repository.NotSupported("ReTypeRelationship", r.id)
}

func (r *Repository) ReHomeRelationship(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.Relationship, error) {
	return nil, repository.NotSupported("ReHomeRelationship", r.id)
}
