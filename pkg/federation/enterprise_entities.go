package federation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"go.uber.org/zap"
)

func entityKey(e *types.EntityDetail) string { return e.GUID }

func versionKey(h *types.InstanceHeader) string { return fmt.Sprintf("%s/%d", h.GUID, h.Version) }

// orderHistory sorts merged versions oldest first, or newest first for a backwards query.
func orderHistory[T any](items []T, header func(T) *types.InstanceHeader, order types.HistorySequencingOrder) []T {
	sort.SliceStable(items, func(i, j int) bool {
		hi, hj := header(items[i]), header(items[j])
		if hi.Version != hj.Version {
			return hi.Version < hj.Version
		}
		return hi.GUID < hj.GUID
	})
	if order == types.HistoryBackwards {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items
}

// onHome runs a mutation on the single member that owns the instance.
func onHome[T any](ctx context.Context, ec *EnterpriseCollection, method string, home Member, p policy,
	call func(context.Context, repository.MetadataCollection) (*T, error)) (*T, error) {
	out, err := first(ctx, ec, method, Sequential, []Member{home}, p, func(ctx context.Context, m Member) (*T, error) {
		return call(ctx, m.Collection())
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, repository.Errorf(repository.KindRepositoryError, method, "member %s returned no result", home.ID)
	}
	return out, nil
}

// entitySummary locates an entity anywhere in the cohort.
func (ec *EnterpriseCollection) entitySummary(ctx context.Context, method, userID, guid string) (*types.EntitySummary, error) {
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	summary, err := first(ctx, ec, method, Parallel, members, entityLookupPolicy, func(ctx context.Context, m Member) (*types.EntitySummary, error) {
		return m.Collection().GetEntitySummary(ctx, userID, guid)
	})
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to any member", guid)
	}
	return summary, nil
}

// entityHome resolves the entity and the member allowed to change it.
func (ec *EnterpriseCollection) entityHome(ctx context.Context, method, userID, guid string) (Member, error) {
	summary, err := ec.entitySummary(ctx, method, userID, guid)
	if err != nil {
		return Member{}, err
	}
	home, err := ec.registry.HomeConnector(method, &summary.InstanceHeader)
	if err != nil {
		return Member{}, ec.noHome(err, &summary.InstanceHeader)
	}
	return home, nil
}

func (ec *EnterpriseCollection) IsEntityKnown(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "IsEntityKnown"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	return first(ctx, ec, method, Parallel, members, entityLookupPolicy, func(ctx context.Context, m Member) (*types.EntityDetail, error) {
		return m.Collection().IsEntityKnown(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) GetEntitySummary(ctx context.Context, userID, guid string) (*types.EntitySummary, error) {
	const method = "GetEntitySummary"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	return ec.entitySummary(ctx, method, userID, guid)
}

func (ec *EnterpriseCollection) GetEntityDetail(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "GetEntityDetail"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	detail, err := first(ctx, ec, method, Parallel, members, entityLookupPolicy, func(ctx context.Context, m Member) (*types.EntityDetail, error) {
		return m.Collection().GetEntityDetail(ctx, userID, guid)
	})
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to any member", guid)
	}
	return detail, nil
}

// GetEntityDetailAsOf retries when no member can answer, since the home member
// may be joining the cohort. Each attempt takes a fresh registry snapshot.
func (ec *EnterpriseCollection) GetEntityDetailAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.EntityDetail, error) {
	const method = "GetEntityDetailAsOf"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := ec.validator.AsOfTime(&asOf, method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()

	for attempt := 0; ; attempt++ {
		members, err := ec.members(method)
		if err != nil {
			return nil, err
		}
		detail, err := first(ctx, ec, method, Parallel, members, entityLookupPolicy, func(ctx context.Context, m Member) (*types.EntityDetail, error) {
			return m.Collection().GetEntityDetailAsOf(ctx, userID, guid, asOf)
		})
		if err == nil && detail != nil {
			return detail, nil
		}
		if err == nil {
			err = repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to any member", guid)
		}
		kind := repository.KindOf(err)
		if kind != repository.KindEntityNotKnown && kind != repository.KindEntityProxyOnly {
			return nil, err
		}
		if attempt >= ec.asOfRetries {
			return nil, err
		}

		ec.metrics.asOfRetry()
		ec.audit.Record(AuditEvent{
			Code:     AuditAsOfRetry,
			Severity: SeverityWarning,
			Message:  "Retrying as-of entity retrieval",
			Params: map[string]string{
				"guid":    guid,
				"attempt": fmt.Sprint(attempt + 1),
				"kind":    kind.String(),
			},
		})
		ec.logger.Warn("Entity not found at as-of time, retrying",
			zap.String("guid", guid),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", ec.asOfRetries))

		if ec.retryDelay > 0 {
			select {
			case <-time.After(ec.retryDelay):
			case <-ctx.Done():
				return nil, repository.Wrap(repository.KindRepositoryError, method, ctx.Err())
			}
		}
	}
}

func (ec *EnterpriseCollection) GetEntityDetailHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.EntityDetail, error) {
	const method = "GetEntityDetailHistory"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := ec.validator.History(q, method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	versions, err := merge(ctx, ec, method, members, entityHistoryPolicy, func(e *types.EntityDetail) string {
		return versionKey(&e.InstanceHeader)
	}, func(ctx context.Context, c repository.MetadataCollection) ([]*types.EntityDetail, error) {
		return c.GetEntityDetailHistory(ctx, userID, guid, q)
	})
	if err != nil {
		return nil, err
	}
	return orderHistory(versions, func(e *types.EntityDetail) *types.InstanceHeader { return &e.InstanceHeader }, q.Order), nil
}

// GetRelationshipsForEntity tolerates members that do not know the entity. When
// nothing is found the entity must still exist somewhere in the cohort.
func (ec *EnterpriseCollection) GetRelationshipsForEntity(ctx context.Context, userID, entityGUID string, q types.RelationshipsForEntityQuery) ([]*types.Relationship, error) {
	const method = "GetRelationshipsForEntity"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(entityGUID, "entityGUID", method); err != nil {
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
	rels, err := merge(ctx, ec, method, members, entityRelationsPolicy, relationshipKey,
		func(ctx context.Context, c repository.MetadataCollection) ([]*types.Relationship, error) {
			return c.GetRelationshipsForEntity(ctx, userID, entityGUID, q)
		})
	if err != nil || len(rels) > 0 {
		return rels, err
	}

	// A member holding only a proxy does not make the entity known.
	known, err := first(ctx, ec, method, Parallel, members, entityLookupPolicy, func(ctx context.Context, m Member) (*types.EntityDetail, error) {
		return m.Collection().IsEntityKnown(ctx, userID, entityGUID)
	})
	if err != nil {
		return nil, err
	}
	if known == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "entity %s is not known to any member", entityGUID)
	}
	return rels, nil
}

func (ec *EnterpriseCollection) FindEntities(ctx context.Context, userID string, q types.EntityQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntities"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	if err := ec.validator.SearchProperties(q.MatchProperties, method); err != nil {
		return nil, err
	}
	return ec.findEntities(ctx, method, func(ctx context.Context, c repository.MetadataCollection) ([]*types.EntityDetail, error) {
		return c.FindEntities(ctx, userID, q)
	})
}

func (ec *EnterpriseCollection) FindEntitiesByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntitiesByProperty"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	return ec.findEntities(ctx, method, func(ctx context.Context, c repository.MetadataCollection) ([]*types.EntityDetail, error) {
		return c.FindEntitiesByProperty(ctx, userID, q)
	})
}

func (ec *EnterpriseCollection) FindEntitiesByClassification(ctx context.Context, userID string, q types.ClassificationQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntitiesByClassification"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Name(q.ClassificationName, "classificationName", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	return ec.findEntities(ctx, method, func(ctx context.Context, c repository.MetadataCollection) ([]*types.EntityDetail, error) {
		return c.FindEntitiesByClassification(ctx, userID, q)
	})
}

func (ec *EnterpriseCollection) FindEntitiesByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.EntityDetail, error) {
	const method = "FindEntitiesByPropertyValue"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Regex(q.SearchCriteria, "searchCriteria", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	return ec.findEntities(ctx, method, func(ctx context.Context, c repository.MetadataCollection) ([]*types.EntityDetail, error) {
		return c.FindEntitiesByPropertyValue(ctx, userID, q)
	})
}

func (ec *EnterpriseCollection) findEntities(ctx context.Context, method string,
	call func(context.Context, repository.MetadataCollection) ([]*types.EntityDetail, error)) ([]*types.EntityDetail, error) {
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	return merge(ctx, ec, method, members, findPolicy, entityKey, call)
}

// AddEntity creates the entity on the first member, in cohort order, that accepts it.
func (ec *EnterpriseCollection) AddEntity(ctx context.Context, userID string, req types.NewEntity) (*types.EntityDetail, error) {
	const method = "AddEntity"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(req.TypeGUID, "typeGUID", method); err != nil {
		return nil, err
	}
	if req.InitialStatus != "" {
		if err := ec.validator.InitialStatus(req.InitialStatus, method); err != nil {
			return nil, err
		}
	}
	defer ec.begin(method, strategySequential)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	detail, err := first(ctx, ec, method, Sequential, members, addPolicy, func(ctx context.Context, m Member) (*types.EntityDetail, error) {
		return m.Collection().AddEntity(ctx, userID, req)
	})
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, repository.Errorf(repository.KindRepositoryError, method, "no member created the entity")
	}
	return detail, nil
}

func (ec *EnterpriseCollection) AddEntityProxy(ctx context.Context, userID string, proxy *types.EntityProxy) error {
	const method = "AddEntityProxy"
	if err := ec.validator.UserID(userID, method); err != nil {
		return err
	}
	if proxy == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "proxy must not be nil")
	}
	if err := ec.validator.GUID(proxy.GUID, "proxy.guid", method); err != nil {
		return err
	}
	defer ec.begin(method, strategySequential)()
	members, err := ec.members(method)
	if err != nil {
		return err
	}
	return once(ctx, ec, method, Sequential, members, addPolicy, func(ctx context.Context, m Member) error {
		return m.Collection().AddEntityProxy(ctx, userID, proxy)
	})
}

func (ec *EnterpriseCollection) UpdateEntityStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.EntityDetail, error) {
	const method = "UpdateEntityStatus"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := ec.validator.NewStatus(status, method); err != nil {
		return nil, err
	}
	return ec.updateEntity(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.UpdateEntityStatus(ctx, userID, guid, status)
	})
}

func (ec *EnterpriseCollection) UpdateEntityProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.EntityDetail, error) {
	const method = "UpdateEntityProperties"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateEntity(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.UpdateEntityProperties(ctx, userID, guid, props)
	})
}

func (ec *EnterpriseCollection) UndoEntityUpdate(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "UndoEntityUpdate"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateEntity(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.UndoEntityUpdate(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) DeleteEntity(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.EntityDetail, error) {
	const method = "DeleteEntity"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.TypeName(typeGUID, typeName, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateEntity(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.DeleteEntity(ctx, userID, typeGUID, typeName, guid)
	})
}

func (ec *EnterpriseCollection) PurgeEntity(ctx context.Context, userID, typeGUID, typeName, guid string) error {
	const method = "PurgeEntity"
	if err := ec.validator.UserID(userID, method); err != nil {
		return err
	}
	if err := ec.validator.TypeName(typeGUID, typeName, method); err != nil {
		return err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	defer ec.begin(method, strategySequential)()
	home, err := ec.entityHome(ctx, method, userID, guid)
	if err != nil {
		return err
	}
	return once(ctx, ec, method, Sequential, []Member{home}, homeEntityPolicy, func(ctx context.Context, m Member) error {
		return m.Collection().PurgeEntity(ctx, userID, typeGUID, typeName, guid)
	})
}

func (ec *EnterpriseCollection) RestoreEntity(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	const method = "RestoreEntity"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateEntity(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.RestoreEntity(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) updateEntity(ctx context.Context, method, userID, guid string,
	call func(context.Context, repository.MetadataCollection) (*types.EntityDetail, error)) (*types.EntityDetail, error) {
	defer ec.begin(method, strategySequential)()
	home, err := ec.entityHome(ctx, method, userID, guid)
	if err != nil {
		return nil, err
	}
	return onHome(ctx, ec, method, home, homeEntityPolicy, call)
}

func (ec *EnterpriseCollection) ClassifyEntity(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	const method = "ClassifyEntity"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Name(classificationName, "classificationName", method); err != nil {
		return nil, err
	}
	return ec.classify(ctx, method, userID, entityGUID, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.ClassifyEntity(ctx, userID, entityGUID, classificationName, props)
	})
}

func (ec *EnterpriseCollection) DeclassifyEntity(ctx context.Context, userID, entityGUID, classificationName string) (*types.EntityDetail, error) {
	const method = "DeclassifyEntity"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Name(classificationName, "classificationName", method); err != nil {
		return nil, err
	}
	return ec.classify(ctx, method, userID, entityGUID, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.DeclassifyEntity(ctx, userID, entityGUID, classificationName)
	})
}

func (ec *EnterpriseCollection) UpdateEntityClassification(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	const method = "UpdateEntityClassification"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(entityGUID, "entityGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.Name(classificationName, "classificationName", method); err != nil {
		return nil, err
	}
	return ec.classify(ctx, method, userID, entityGUID, func(ctx context.Context, c repository.MetadataCollection) (*types.EntityDetail, error) {
		return c.UpdateEntityClassification(ctx, userID, entityGUID, classificationName, props)
	})
}

// classify tries the entity's home first, then the local member, then the rest.
// A local member that does not hold the entity stores a proxy for it and
// classifies the proxy.
func (ec *EnterpriseCollection) classify(ctx context.Context, method, userID, guid string,
	call func(context.Context, repository.MetadataCollection) (*types.EntityDetail, error)) (*types.EntityDetail, error) {
	defer ec.begin(method, strategySequential)()
	summary, err := ec.entitySummary(ctx, method, userID, guid)
	if err != nil {
		return nil, err
	}
	members, err := ec.registry.HomeLocalRemoteOrder(&summary.InstanceHeader)
	if err != nil {
		return nil, repository.Wrap(repository.KindNoRepositories, method, err)
	}
	detail, err := first(ctx, ec, method, Sequential, members, classifyPolicy, func(ctx context.Context, m Member) (*types.EntityDetail, error) {
		c := m.Collection()
		detail, err := call(ctx, c)
		if err == nil || !m.Local || repository.KindOf(err) != repository.KindEntityNotKnown {
			return detail, err
		}
		ec.logger.Debug("Saving entity proxy on the local member before classifying",
			zap.String("method", method),
			zap.String("guid", guid),
			zap.String("collection_id", m.ID))
		if err := c.AddEntityProxy(ctx, userID, summary.Proxy()); err != nil {
			return nil, err
		}
		return call(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, repository.Errorf(repository.KindEntityNotKnown, method, "no member could classify entity %s", guid)
	}
	return detail, nil
}
