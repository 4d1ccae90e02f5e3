package memory

import (
	"context"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"go.uber.org/zap"
)

// SaveEntityReferenceCopy stores a copy of an entity homed elsewhere. A newer
// copy replaces an older one; an older copy is ignored.
func (r *Repository) SaveEntityReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail) error {
	const method = "SaveEntityReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if entity == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "entity must not be nil")
	}
	if err := r.validator.GUID(entity.GUID, "entity.guid", method); err != nil {
		return err
	}
	if entity.HomeMetadataCollectionID == r.id {
		return repository.Errorf(repository.KindInvalidParameter, method, "entity %s is homed in this collection", entity.GUID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.entities[entity.GUID]; ok {
		cur := rec.current()
		if cur.HomeMetadataCollectionID == r.id {
			return repository.Errorf(repository.KindInvalidParameter, method, "entity %s is homed in this collection", entity.GUID)
		}
		if cur.Version >= entity.Version {
			return nil
		}
		rec.versions = append(rec.versions, entity.Clone())
		return nil
	}
	r.entities[entity.GUID] = &entityRecord{versions: []*types.EntityDetail{entity.Clone()}}
	delete(r.proxies, entity.GUID)
	r.logger.Debug("Saved entity reference copy",
		zap.String("collection_id", r.id),
		zap.String("guid", entity.GUID),
		zap.String("home", entity.HomeMetadataCollectionID))
	return nil
}

func (r *Repository) PurgeEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	const method = "PurgeEntityReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entities[guid]
	if !ok {
		if _, proxied := r.proxies[guid]; proxied {
			delete(r.proxies, guid)
			return nil
		}
		return repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", guid, r.id)
	}
	cur := rec.current()
	if cur.HomeMetadataCollectionID == r.id || (homeID != "" && cur.HomeMetadataCollectionID != homeID) {
		return repository.Errorf(repository.KindInvalidParameter, method, "entity %s is not a reference copy from %s", guid, homeID)
	}
	if err := r.checkEntityType(method, cur, typeGUID, typeName); err != nil {
		return err
	}
	delete(r.entities, guid)
	return nil
}

// RefreshEntityReferenceCopy only checks the copy is held. Members here are
// not event-driven, so the home pushes refreshes with SaveEntityReferenceCopy.
func (r *Repository) RefreshEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	const method = "RefreshEntityReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.entities[guid]; !ok {
		return repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to %s", guid, r.id)
	}
	return nil
}

func (r *Repository) SaveRelationshipReferenceCopy(ctx context.Context, userID string, rel *types.Relationship) error {
	const method = "SaveRelationshipReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if rel == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "relationship must not be nil")
	}
	if err := r.validator.GUID(rel.GUID, "relationship.guid", method); err != nil {
		return err
	}
	if rel.HomeMetadataCollectionID == r.id {
		return repository.Errorf(repository.KindInvalidParameter, method, "relationship %s is homed in this collection", rel.GUID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, end := range []*types.EntityProxy{rel.End1, rel.End2} {
		if end == nil {
			continue
		}
		if _, held := r.entities[end.GUID]; !held {
			if _, proxied := r.proxies[end.GUID]; !proxied {
				r.proxies[end.GUID] = end.Clone()
			}
		}
	}
	if rec, ok := r.relationships[rel.GUID]; ok {
		cur := rec.current()
		if cur.HomeMetadataCollectionID == r.id {
			return repository.Errorf(repository.KindInvalidParameter, method, "relationship %s is homed in this collection", rel.GUID)
		}
		if cur.Version < rel.Version {
			rec.versions = append(rec.versions, rel.Clone())
		}
		return nil
	}
	r.relationships[rel.GUID] = &relationshipRecord{versions: []*types.Relationship{rel.Clone()}}
	return nil
}

func (r *Repository) PurgeRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	const method = "PurgeRelationshipReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.relationships[guid]
	if !ok {
		return repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to %s", guid, r.id)
	}
	cur := rec.current()
	if cur.HomeMetadataCollectionID == r.id || (homeID != "" && cur.HomeMetadataCollectionID != homeID) {
		return repository.Errorf(repository.KindInvalidParameter, method, "relationship %s is not a reference copy from %s", guid, homeID)
	}
	if err := r.checkRelationshipType(method, cur, typeGUID, typeName); err != nil {
		return err
	}
	delete(r.relationships, guid)
	return nil
}

func (r *Repository) RefreshRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	const method = "RefreshRelationshipReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.relationships[guid]; !ok {
		return repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to %s", guid, r.id)
	}
	return nil
}

// SaveClassificationReferenceCopy attaches a classification homed elsewhere to
// an entity held here as detail or proxy.
func (r *Repository) SaveClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error {
	const method = "SaveClassificationReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if entity == nil || classification == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "entity and classification must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[entity.GUID]; !ok {
		if _, proxied := r.proxies[entity.GUID]; !proxied {
			r.proxies[entity.GUID] = entity.Proxy()
		}
	}
	_, err := r.classifyTarget(method, userID, entity.GUID, func(e *types.EntitySummary) error {
		for i, c := range e.Classifications {
			if c.Name == classification.Name {
				e.Classifications[i] = classification.Clone()
				return nil
			}
		}
		e.Classifications = append(e.Classifications, classification.Clone())
		return nil
	})
	return err
}

func (r *Repository) PurgeClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error {
	const method = "PurgeClassificationReferenceCopy"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if entity == nil || classification == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "entity and classification must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.classifyTarget(method, userID, entity.GUID, func(e *types.EntitySummary) error {
		for i, c := range e.Classifications {
			if c.Name == classification.Name {
				e.Classifications = append(e.Classifications[:i], e.Classifications[i+1:]...)
				return nil
			}
		}
		return repository.Errorf(repository.KindClassificationError, method,
			"entity %s is not classified as %s", entity.GUID, classification.Name)
	})
	return err
}

// SaveInstanceReferenceCopies saves every entity then every relationship of the batch.
func (r *Repository) SaveInstanceReferenceCopies(ctx context.Context, userID string, batch *types.InstanceGraph) error {
	const method = "SaveInstanceReferenceCopies"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if batch == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "batch must not be nil")
	}
	for _, e := range batch.Entities {
		if err := r.SaveEntityReferenceCopy(ctx, userID, e); err != nil {
			return err
		}
	}
	for _, rel := range batch.Relationships {
		if err := r.SaveRelationshipReferenceCopy(ctx, userID, rel); err != nil {
			return err
		}
	}
	return nil
}
