package federation

import (
	"context"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"go.uber.org/zap"
)

func relationshipKey(r *types.Relationship) string { return r.GUID }

// relationshipHome resolves the relationship and the member allowed to change it.
func (ec *EnterpriseCollection) relationshipHome(ctx context.Context, method, userID, guid string) (Member, error) {
	members, err := ec.members(method)
	if err != nil {
		return Member{}, err
	}
	rel, err := first(ctx, ec, method, Parallel, members, relLookupPolicy, func(ctx context.Context, m Member) (*types.Relationship, error) {
		return m.Collection().GetRelationship(ctx, userID, guid)
	})
	if err != nil {
		return Member{}, err
	}
	if rel == nil {
		return Member{}, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to any member", guid)
	}
	home, err := ec.registry.HomeConnector(method, &rel.InstanceHeader)
	if err != nil {
		return Member{}, ec.noHome(err, &rel.InstanceHeader)
	}
	return home, nil
}

func (ec *EnterpriseCollection) lookupRelationship(ctx context.Context, method, guid string, notKnown bool,
	call func(context.Context, repository.MetadataCollection) (*types.Relationship, error)) (*types.Relationship, error) {
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	rel, err := first(ctx, ec, method, Parallel, members, relLookupPolicy, func(ctx context.Context, m Member) (*types.Relationship, error) {
		return call(ctx, m.Collection())
	})
	if err != nil {
		return nil, err
	}
	if rel == nil && notKnown {
		return nil, repository.Errorf(repository.KindRelationshipNotKnown, method, "relationship %s is not known to any member", guid)
	}
	return rel, nil
}

func (ec *EnterpriseCollection) IsRelationshipKnown(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "IsRelationshipKnown"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.lookupRelationship(ctx, method, guid, false, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.IsRelationshipKnown(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) GetRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "GetRelationship"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.lookupRelationship(ctx, method, guid, true, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.GetRelationship(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) GetRelationshipAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.Relationship, error) {
	const method = "GetRelationshipAsOf"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := ec.validator.AsOfTime(&asOf, method); err != nil {
		return nil, err
	}
	return ec.lookupRelationship(ctx, method, guid, true, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.GetRelationshipAsOf(ctx, userID, guid, asOf)
	})
}

func (ec *EnterpriseCollection) GetRelationshipHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.Relationship, error) {
	const method = "GetRelationshipHistory"
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
	versions, err := merge(ctx, ec, method, members, relHistoryPolicy, func(r *types.Relationship) string {
		return versionKey(&r.InstanceHeader)
	}, func(ctx context.Context, c repository.MetadataCollection) ([]*types.Relationship, error) {
		return c.GetRelationshipHistory(ctx, userID, guid, q)
	})
	if err != nil {
		return nil, err
	}
	return orderHistory(versions, func(r *types.Relationship) *types.InstanceHeader { return &r.InstanceHeader }, q.Order), nil
}

func (ec *EnterpriseCollection) FindRelationships(ctx context.Context, userID string, q types.RelationshipQuery) ([]*types.Relationship, error) {
	const method = "FindRelationships"
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
	return ec.findRelationships(ctx, method, func(ctx context.Context, c repository.MetadataCollection) ([]*types.Relationship, error) {
		return c.FindRelationships(ctx, userID, q)
	})
}

func (ec *EnterpriseCollection) FindRelationshipsByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.Relationship, error) {
	const method = "FindRelationshipsByProperty"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Paging(q.Paging, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Statuses(q.Statuses, method); err != nil {
		return nil, err
	}
	return ec.findRelationships(ctx, method, func(ctx context.Context, c repository.MetadataCollection) ([]*types.Relationship, error) {
		return c.FindRelationshipsByProperty(ctx, userID, q)
	})
}

func (ec *EnterpriseCollection) FindRelationshipsByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.Relationship, error) {
	const method = "FindRelationshipsByPropertyValue"
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
	return ec.findRelationships(ctx, method, func(ctx context.Context, c repository.MetadataCollection) ([]*types.Relationship, error) {
		return c.FindRelationshipsByPropertyValue(ctx, userID, q)
	})
}

func (ec *EnterpriseCollection) findRelationships(ctx context.Context, method string,
	call func(context.Context, repository.MetadataCollection) ([]*types.Relationship, error)) ([]*types.Relationship, error) {
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	return merge(ctx, ec, method, members, findPolicy, relationshipKey, call)
}

// AddRelationship creates the relationship on the first member, in cohort order,
// that accepts it. Before asking a member, proxies are saved there for any end
// the member is neither home to nor replicates. Proxies left behind on members
// that then refuse the relationship are not removed.
func (ec *EnterpriseCollection) AddRelationship(ctx context.Context, userID string, req types.NewRelationship) (*types.Relationship, error) {
	const method = "AddRelationship"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(req.TypeGUID, "typeGUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(req.End1GUID, "end1GUID", method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(req.End2GUID, "end2GUID", method); err != nil {
		return nil, err
	}
	if req.InitialStatus != "" {
		if err := ec.validator.InitialStatus(req.InitialStatus, method); err != nil {
			return nil, err
		}
	}
	defer ec.begin(method, strategySequential)()

	end1, err := ec.entitySummary(ctx, method, userID, req.End1GUID)
	if err != nil {
		return nil, err
	}
	end2, err := ec.entitySummary(ctx, method, userID, req.End2GUID)
	if err != nil {
		return nil, err
	}
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}

	rel, err := first(ctx, ec, method, Sequential, members, addPolicy, func(ctx context.Context, m Member) (*types.Relationship, error) {
		c := m.Collection()
		for _, end := range []*types.EntitySummary{end1, end2} {
			if m.matches(&end.InstanceHeader) {
				continue
			}
			if err := c.AddEntityProxy(ctx, userID, end.Proxy()); err != nil {
				return nil, err
			}
			ec.logger.Debug("Saved relationship end proxy",
				zap.String("collection_id", m.ID),
				zap.String("guid", end.GUID))
		}
		return c.AddRelationship(ctx, userID, req)
	})
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, repository.Errorf(repository.KindRepositoryError, method, "no member created the relationship")
	}
	return rel, nil
}

func (ec *EnterpriseCollection) UpdateRelationshipStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.Relationship, error) {
	const method = "UpdateRelationshipStatus"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	if err := ec.validator.NewStatus(status, method); err != nil {
		return nil, err
	}
	return ec.updateRelationship(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.UpdateRelationshipStatus(ctx, userID, guid, status)
	})
}

func (ec *EnterpriseCollection) UpdateRelationshipProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.Relationship, error) {
	const method = "UpdateRelationshipProperties"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateRelationship(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.UpdateRelationshipProperties(ctx, userID, guid, props)
	})
}

func (ec *EnterpriseCollection) UndoRelationshipUpdate(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "UndoRelationshipUpdate"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateRelationship(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.UndoRelationshipUpdate(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) DeleteRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.Relationship, error) {
	const method = "DeleteRelationship"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.TypeName(typeGUID, typeName, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateRelationship(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.DeleteRelationship(ctx, userID, typeGUID, typeName, guid)
	})
}

func (ec *EnterpriseCollection) PurgeRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) error {
	const method = "PurgeRelationship"
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
	home, err := ec.relationshipHome(ctx, method, userID, guid)
	if err != nil {
		return err
	}
	return once(ctx, ec, method, Sequential, []Member{home}, homeRelPolicy, func(ctx context.Context, m Member) error {
		return m.Collection().PurgeRelationship(ctx, userID, typeGUID, typeName, guid)
	})
}

func (ec *EnterpriseCollection) RestoreRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	const method = "RestoreRelationship"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.updateRelationship(ctx, method, userID, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.Relationship, error) {
		return c.RestoreRelationship(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) updateRelationship(ctx context.Context, method, userID, guid string,
	call func(context.Context, repository.MetadataCollection) (*types.Relationship, error)) (*types.Relationship, error) {
	defer ec.begin(method, strategySequential)()
	home, err := ec.relationshipHome(ctx, method, userID, guid)
	if err != nil {
		return nil, err
	}
	return onHome(ctx, ec, method, home, homeRelPolicy, call)
}
