package memory

import (
	"context"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"go.uber.org/zap"
)

// typeFilterLocked builds an instance type predicate from a type GUID and an
// optional list of subtype GUIDs. Unknown GUIDs are a TypeError.
func (r *Repository) typeFilterLocked(method, typeGUID string, subtypeGUIDs []string) (func(types.InstanceType) bool, error) {
	var name string
	if typeGUID != "" {
		def := r.typeDefs[typeGUID]
		if def == nil {
			return nil, repository.Errorf(repository.KindTypeError, method, "type %s is not known to %s", typeGUID, r.id)
		}
		name = def.Name
	}
	subNames := make([]string, 0, len(subtypeGUIDs))
	for _, guid := range subtypeGUIDs {
		def := r.typeDefs[guid]
		if def == nil {
			return nil, repository.Errorf(repository.KindTypeError, method, "subtype %s is not known to %s", guid, r.id)
		}
		subNames = append(subNames, def.Name)
	}
	return func(it types.InstanceType) bool {
		if name != "" && !it.IsA(name) {
			return false
		}
		if len(subNames) == 0 {
			return true
		}
		for _, n := range subNames {
			if it.IsA(n) {
				return true
			}
		}
		return false
	}, nil
}

func (r *Repository) entityNotKnown(method, guid string) error {
	if _, ok := r.proxies[guid]; ok {
		return repository.Errorf(repository.KindEntityProxyOnly, method, "only a proxy for entity %s is held by %s", guid, r.id)
	}
	return repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", guid, r.id)
}

// ownedEntityLocked returns the record of an entity this repository may update.
func (r *Repository) ownedEntityLocked(method, guid string) (*entityRecord, error) {
	rec, ok := r.entities[guid]
	if !ok {
		return nil, r.entityNotKnown(method, guid)
	}
	if cur := rec.current(); !r.owns(cur) {
		return nil, r.notHome(method, cur)
	}
	return rec, nil
}

// appendEntityVersion records a new version derived from the current one.
func (r *Repository) appendEntityVersion(rec *entityRecord, userID string, mutate func(*types.EntityDetail)) *types.EntityDetail {
	next := rec.current().Clone()
	mutate(next)
	next.Version++
	next.UpdatedBy = userID
	next.UpdateTime = r.now()
	rec.versions = append(rec.versions, next)
	return next.Clone()
}

func (r *Repository) findEntitiesLocked(method, typeGUID string, subtypeGUIDs []string, statuses []types.InstanceStatus,
	paging types.Paging, keep func(*types.EntityDetail) bool) ([]*types.EntityDetail, error) {
	typeOK, err := r.typeFilterLocked(method, typeGUID, subtypeGUIDs)
	if err != nil {
		return nil, err
	}
	var out []*types.EntityDetail
	for _, rec := range r.entities {
		e := rec.current()
		if paging.AsOfTime != nil {
			if e = rec.asOf(*paging.AsOfTime); e == nil {
				continue
			}
		}
		if !typeOK(e.Type) || !statusAllowed(e.Status, statuses) || !keep(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	sortInstances(out, entityHeader, entityProps, paging)
	return page(out, paging.FromElement, paging.PageSize), nil
}

func (r *Repository) IsEntityKnown(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "IsEntityKnown"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.entities[guid]; ok {
		return rec.current().Clone(), nil
	}
	return nil, nil
}

func (r *Repository) GetEntitySummary(ctx context.Context, userID, guid string) (*types.EntitySummary, error) {
	const method = "GetEntitySummary"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.entities[guid]; ok {
		return rec.current().Summary(), nil
	}
	if proxy, ok := r.proxies[guid]; ok {
		return &proxy.Clone().EntitySummary, nil
	}
	return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", guid, r.id)
}

func (r *Repository) GetEntityDetail(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "GetEntityDetail"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.entities[guid]; ok {
		return rec.current().Clone(), nil
	}
	return nil, r.entityNotKnown(method, guid)
}

func (r *Repository) GetEntityDetailAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.EntityDetail, error) {
	const method = "GetEntityDetailAsOf"
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
	rec, ok := r.entities[guid]
	if !ok {
		return nil, r.entityNotKnown(method, guid)
	}
	e := rec.asOf(asOf)
	if e == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method,
			"entity %s did not exist at %s", guid, asOf.Format(time.RFC3339))
	}
	return e.Clone(), nil
}

func (r *Repository) GetEntityDetailHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.EntityDetail, error) {
	const method = "GetEntityDetailHistory"
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
	rec, ok := r.entities[guid]
	if !ok {
		return nil, r.entityNotKnown(method, guid)
	}
	return history(rec.versions, entityHeader, (*types.EntityDetail).Clone, q), nil
}

// history selects the versions updated within the query's time range.
func history[T any](versions []T, header func(T) *types.InstanceHeader, clone func(T) T, q types.HistoryQuery) []T {
	var out []T
	for _, v := range versions {
		h := header(v)
		if q.FromTime != nil && h.UpdateTime.Before(*q.FromTime) {
			continue
		}
		if q.ToTime != nil && h.UpdateTime.After(*q.ToTime) {
			continue
		}
		out = append(out, clone(v))
	}
	if q.Order == types.HistoryBackwards {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return page(out, q.FromElement, q.PageSize)
}

func (r *Repository) FindEntities(ctx context.Context, userID string, q types.EntityQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntities"
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
	return r.findEntitiesLocked(method, q.TypeGUID, q.SubtypeGUIDs, q.Statuses, q.Paging, func(e *types.EntityDetail) bool {
		return matchSearch(e.Properties, q.MatchProperties) && matchClassifications(&e.EntitySummary, q.MatchClassifications)
	})
}

func (r *Repository) FindEntitiesByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntitiesByProperty"
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
	return r.findEntitiesLocked(method, q.TypeGUID, nil, q.Statuses, q.Paging, func(e *types.EntityDetail) bool {
		return matchProperties(e.Properties, q.MatchProperties, q.MatchCriteria) &&
			hasClassifications(&e.EntitySummary, q.LimitByClassifications)
	})
}

func (r *Repository) FindEntitiesByClassification(ctx context.Context, userID string, q types.ClassificationQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntitiesByClassification"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.Name(q.ClassificationName, "classificationName", method); err != nil {
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
	return r.findEntitiesLocked(method, q.TypeGUID, nil, q.Statuses, q.Paging, func(e *types.EntityDetail) bool {
		cls := e.Classification(q.ClassificationName)
		return cls != nil && matchProperties(cls.Properties, q.MatchProperties, q.MatchCriteria)
	})
}

func (r *Repository) FindEntitiesByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntitiesByPropertyValue"
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
	return r.findEntitiesLocked(method, q.TypeGUID, nil, q.Statuses, q.Paging, func(e *types.EntityDetail) bool {
		return anyStringMatches(e.Properties, re) && hasClassifications(&e.EntitySummary, q.LimitByClassifications)
	})
}

func (r *Repository) AddEntity(ctx context.Context, userID string, req types.NewEntity) (*types.EntityDetail, error) {
	const method = "AddEntity"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(req.TypeGUID, "typeGUID", method); err != nil {
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
	if def.Category != types.CategoryEntityDef {
		return nil, repository.Errorf(repository.KindTypeError, method, "type %s is a %s, not an entity type", def.Name, def.Category)
	}
	if err := r.checkPropertiesLocked(def, req.Properties, method); err != nil {
		return nil, err
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
	e := &types.EntityDetail{Properties: req.Properties.Clone()}
	e.GUID = r.newGUID()
	e.Type = r.instanceTypeLocked(def)
	e.Provenance = types.ProvenanceLocalCohort
	e.HomeMetadataCollectionID = r.id
	e.HomeMetadataCollectionName = r.name
	e.Status = status
	e.Version = 1
	e.CreatedBy = userID
	e.UpdatedBy = userID
	e.CreateTime = now
	e.UpdateTime = now
	for _, c := range req.Classifications {
		cls, err := r.newClassificationLocked(method, userID, c.Name, c.Properties, now)
		if err != nil {
			return nil, err
		}
		if e.Classification(cls.Name) != nil {
			return nil, repository.Errorf(repository.KindClassificationError, method, "classification %s is given twice", cls.Name)
		}
		e.Classifications = append(e.Classifications, cls)
	}
	r.entities[e.GUID] = &entityRecord{versions: []*types.EntityDetail{e}}
	delete(r.proxies, e.GUID)

	r.logger.Debug("Added entity",
		zap.String("collection_id", r.id),
		zap.String("guid", e.GUID),
		zap.String("type", def.Name))
	return e.Clone(), nil
}

// AddEntityProxy stores a proxy unless full detail for the entity is already held.
func (r *Repository) AddEntityProxy(ctx context.Context, userID string, proxy *types.EntityProxy) error {
	const method = "AddEntityProxy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if proxy == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "proxy must not be nil")
	}
	if err := r.validator.GUID(proxy.GUID, "proxy.guid", method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[proxy.GUID]; ok {
		return nil
	}
	if existing, ok := r.proxies[proxy.GUID]; ok && existing.Version > proxy.Version {
		return nil
	}
	r.proxies[proxy.GUID] = proxy.Clone()
	return nil
}

func (r *Repository) UpdateEntityStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.EntityDetail, error) {
	const method = "UpdateEntityStatus"
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
	rec, err := r.ownedEntityLocked(method, guid)
	if err != nil {
		return nil, err
	}
	cur := rec.current()
	if cur.Status == types.StatusDeleted {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is deleted", guid)
	}
	if def := r.typeLocked(cur.Type.TypeDefGUID); def != nil && !def.ValidStatus(status) {
		return nil, repository.Errorf(repository.KindStatusNotSupported, method, "status %s is not valid for type %s", status, def.Name)
	}
	return r.appendEntityVersion(rec, userID, func(e *types.EntityDetail) { e.Status = status }), nil
}

func (r *Repository) UpdateEntityProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.EntityDetail, error) {
	const method = "UpdateEntityProperties"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedEntityLocked(method, guid)
	if err != nil {
		return nil, err
	}
	cur := rec.current()
	if cur.Status == types.StatusDeleted {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is deleted", guid)
	}
	if def := r.typeLocked(cur.Type.TypeDefGUID); def != nil {
		if err := r.checkPropertiesLocked(def, props, method); err != nil {
			return nil, err
		}
	}
	return r.appendEntityVersion(rec, userID, func(e *types.EntityDetail) { e.Properties = props.Clone() }), nil
}

// UndoEntityUpdate restores the previous version's content as a new version.
func (r *Repository) UndoEntityUpdate(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "UndoEntityUpdate"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedEntityLocked(method, guid)
	if err != nil {
		return nil, err
	}
	if len(rec.versions) < 2 {
		return nil, repository.Errorf(repository.KindInvalidParameter, method, "entity %s has no earlier version", guid)
	}
	prev := rec.versions[len(rec.versions)-2]
	return r.appendEntityVersion(rec, userID, func(e *types.EntityDetail) {
		e.Status = prev.Status
		e.StatusOnDelete = prev.StatusOnDelete
		e.Properties = prev.Properties.Clone()
		e.Classifications = prev.Summary().Classifications
	}), nil
}

func (r *Repository) checkEntityType(method string, e *types.EntityDetail, typeGUID, typeName string) error {
	if err := r.validator.TypeName(typeGUID, typeName, method); err != nil {
		return err
	}
	if (typeGUID != "" && e.Type.TypeDefGUID != typeGUID) || (typeName != "" && e.Type.TypeDefName != typeName) {
		return repository.Errorf(repository.KindInvalidParameter, method,
			"entity %s is of type %s, not %s %s", e.GUID, e.Type.TypeDefName, typeGUID, typeName)
	}
	return nil
}

// DeleteEntity soft-deletes the entity along with the relationships attached to it here.
func (r *Repository) DeleteEntity(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.EntityDetail, error) {
	const method = "DeleteEntity"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedEntityLocked(method, guid)
	if err != nil {
		return nil, err
	}
	cur := rec.current()
	if err := r.checkEntityType(method, cur, typeGUID, typeName); err != nil {
		return nil, err
	}
	if cur.Status == types.StatusDeleted {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is already deleted", guid)
	}
	for _, rel := range r.relationships {
		c := rel.current()
		if c.OtherEnd(guid) == "" || c.Status == types.StatusDeleted || !r.owns(c) {
			continue
		}
		r.appendRelationshipVersion(rel, userID, func(x *types.Relationship) {
			x.StatusOnDelete = x.Status
			x.Status = types.StatusDeleted
		})
	}
	return r.appendEntityVersion(rec, userID, func(e *types.EntityDetail) {
		e.StatusOnDelete = e.Status
		e.Status = types.StatusDeleted
	}), nil
}

// PurgeEntity removes a deleted entity and every relationship attached to it.
func (r *Repository) PurgeEntity(ctx context.Context, userID, typeGUID, typeName, guid string) error {
	const method = "PurgeEntity"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedEntityLocked(method, guid)
	if err != nil {
		return err
	}
	cur := rec.current()
	if err := r.checkEntityType(method, cur, typeGUID, typeName); err != nil {
		return err
	}
	if cur.Status != types.StatusDeleted {
		return repository.Errorf(repository.KindEntityNotDeleted, method, "entity %s must be deleted before it is purged", guid)
	}
	for relGUID, rel := range r.relationships {
		if rel.current().OtherEnd(guid) != "" {
			delete(r.relationships, relGUID)
		}
	}
	delete(r.entities, guid)
	r.logger.Debug("Purged entity", zap.String("collection_id", r.id), zap.String("guid", guid))
	return nil
}

func (r *Repository) RestoreEntity(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "RestoreEntity"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedEntityLocked(method, guid)
	if err != nil {
		return nil, err
	}
	if rec.current().Status != types.StatusDeleted {
		return nil, repository.Errorf(repository.KindEntityNotDeleted, method, "entity %s is not deleted", guid)
	}
	return r.appendEntityVersion(rec, userID, func(e *types.EntityDetail) {
		e.Status = e.StatusOnDelete
		if e.Status == "" {
			e.Status = types.StatusActive
		}
		e.StatusOnDelete = ""
	}), nil
}

func (r *Repository) classificationDefLocked(method, name string) (*types.TypeDef, error) {
	def := r.typeByNameLocked(name)
	if def == nil || def.Category != types.CategoryClassificationDef {
		return nil, repository.Errorf(repository.KindClassificationError, method, "%s is not a classification known to %s", name, r.id)
	}
	return def, nil
}

func (r *Repository) newClassificationLocked(method, userID, name string, props types.InstanceProperties, now time.Time) (*types.Classification, error) {
	def, err := r.classificationDefLocked(method, name)
	if err != nil {
		return nil, err
	}
	if err := r.checkPropertiesLocked(def, props, method); err != nil {
		return nil, err
	}
	return &types.Classification{
		Name:                     def.Name,
		Type:                     r.instanceTypeLocked(def),
		Origin:                   types.OriginAssigned,
		HomeMetadataCollectionID: r.id,
		Status:                   types.StatusActive,
		Version:                  1,
		Properties:               props.Clone(),
		CreatedBy:                userID,
		UpdatedBy:                userID,
		CreateTime:               now,
		UpdateTime:               now,
	}, nil
}

// classifyTarget applies fn to the classifications of the entity, whether full
// detail or only a proxy is held, and returns the resulting entity.
func (r *Repository) classifyTarget(method, userID, guid string, fn func(*types.EntitySummary) error) (*types.EntityDetail, error) {
	if rec, ok := r.entities[guid]; ok {
		if rec.current().Status == types.StatusDeleted {
			return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is deleted", guid)
		}
		probe := rec.current().Clone()
		if err := fn(&probe.EntitySummary); err != nil {
			return nil, err
		}
		return r.appendEntityVersion(rec, userID, func(e *types.EntityDetail) {
			e.Classifications = probe.Classifications
		}), nil
	}
	if proxy, ok := r.proxies[guid]; ok {
		next := proxy.Clone()
		if err := fn(&next.EntitySummary); err != nil {
			return nil, err
		}
		r.proxies[guid] = next
		return &types.EntityDetail{EntitySummary: next.Clone().EntitySummary}, nil
	}
	return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", guid, r.id)
}

func (r *Repository) ClassifyEntity(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	const method = "ClassifyEntity"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.Name(classificationName, "classificationName", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cls, err := r.newClassificationLocked(method, userID, classificationName, props, r.now())
	if err != nil {
		return nil, err
	}
	return r.classifyTarget(method, userID, entityGUID, func(e *types.EntitySummary) error {
		if e.Classification(classificationName) != nil {
			return repository.Errorf(repository.KindClassificationError, method,
				"entity %s is already classified as %s", entityGUID, classificationName)
		}
		e.Classifications = append(e.Classifications, cls)
		return nil
	})
}

func (r *Repository) DeclassifyEntity(ctx context.Context, userID, entityGUID, classificationName string) (*types.EntityDetail, error) {
	const method = "DeclassifyEntity"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.Name(classificationName, "classificationName", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classifyTarget(method, userID, entityGUID, func(e *types.EntitySummary) error {
		for i, c := range e.Classifications {
			if c.Name != classificationName {
				continue
			}
			if !r.owns(c) {
				return r.notHome(method, c)
			}
			e.Classifications = append(e.Classifications[:i], e.Classifications[i+1:]...)
			return nil
		}
		return repository.Errorf(repository.KindClassificationError, method,
			"entity %s is not classified as %s", entityGUID, classificationName)
	})
}

func (r *Repository) UpdateEntityClassification(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	const method = "UpdateEntityClassification"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := r.validator.Name(classificationName, "classificationName", method); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def, err := r.classificationDefLocked(method, classificationName)
	if err != nil {
		return nil, err
	}
	if err := r.checkPropertiesLocked(def, props, method); err != nil {
		return nil, err
	}
	now := r.now()
	return r.classifyTarget(method, userID, entityGUID, func(e *types.EntitySummary) error {
		c := e.Classification(classificationName)
		if c == nil {
			return repository.Errorf(repository.KindClassificationError, method,
				"entity %s is not classified as %s", entityGUID, classificationName)
		}
		if !r.owns(c) {
			return r.notHome(method, c)
		}
		c.Properties = props.Clone()
		c.Version++
		c.UpdatedBy = userID
		c.UpdateTime = now
		return nil
	})
}

func (r *Repository) ReIdentifyEntity(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.EntityDetail, error) {
	return nil, repository.NotSupported("ReIdentifyEntity", r.id)
}

func (r *Repository) ReTypeEntity(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.EntityDetail, error) {
	return nil, repository.NotSupported("ReTypeEntity", r.id)
}

func (r *Repository) ReHomeEntity(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.EntityDetail, error) {
	return nil, repository.NotSupported("ReHomeEntity", r.id)
}
