package federation

import (
	"context"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"
)

// unionGallery merges the galleries of every member. A typedef returned by more
// than one member keeps the last copy folded in.
func (ec *EnterpriseCollection) unionGallery(ctx context.Context, method, userID string) (*types.TypeDefGallery, error) {
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	gallery := &types.TypeDefGallery{}
	ex := newExecutor(ec, method, func(ctx context.Context, m Member) (*types.TypeDefGallery, error) {
		return m.Collection().GetAllTypes(ctx, userID)
	}, func(g *types.TypeDefGallery) bool {
		gallery.Merge(g)
		return false
	}, unionPolicy)
	Parallel(ctx, members, ex)
	err = ex.finish(ctx, func() bool {
		return len(gallery.TypeDefs) > 0 || len(gallery.AttributeTypeDefs) > 0
	})
	if err != nil {
		return nil, err
	}
	return gallery, nil
}

func (ec *EnterpriseCollection) GetAllTypes(ctx context.Context, userID string) (*types.TypeDefGallery, error) {
	const method = "GetAllTypes"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	return ec.unionGallery(ctx, method, userID)
}

func (ec *EnterpriseCollection) FindTypesByName(ctx context.Context, userID, name string) (*types.TypeDefGallery, error) {
	const method = "FindTypesByName"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Regex(name, "name", method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	gallery, err := ec.unionGallery(ctx, method, userID)
	if err != nil {
		return nil, err
	}
	expr, _ := types.CompileFull(name)
	return gallery.MatchingName(expr), nil
}

func (ec *EnterpriseCollection) FindTypeDefsByCategory(ctx context.Context, userID string, category types.TypeDefCategory) ([]*types.TypeDef, error) {
	const method = "FindTypeDefsByCategory"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	gallery, err := ec.unionGallery(ctx, method, userID)
	if err != nil {
		return nil, err
	}
	return gallery.FilterTypeDefs(func(d *types.TypeDef) bool { return d.Category == category }), nil
}

func (ec *EnterpriseCollection) FindAttributeTypeDefsByCategory(ctx context.Context, userID string, category types.AttributeTypeDefCategory) ([]*types.AttributeTypeDef, error) {
	const method = "FindAttributeTypeDefsByCategory"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	gallery, err := ec.unionGallery(ctx, method, userID)
	if err != nil {
		return nil, err
	}
	return gallery.FilterAttributeTypeDefs(func(d *types.AttributeTypeDef) bool { return d.Category == category }), nil
}

func (ec *EnterpriseCollection) FindTypeDefsByProperty(ctx context.Context, userID string, criteria *types.TypeDefProperties) ([]*types.TypeDef, error) {
	const method = "FindTypeDefsByProperty"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if criteria == nil || len(criteria.Names) == 0 {
		return nil, repository.Errorf(repository.KindInvalidParameter, method, "match criteria must name at least one property")
	}
	defer ec.begin(method, strategyParallel)()
	gallery, err := ec.unionGallery(ctx, method, userID)
	if err != nil {
		return nil, err
	}
	return gallery.FilterTypeDefs(func(d *types.TypeDef) bool { return d.DeclaresAll(criteria.Names) }), nil
}

func (ec *EnterpriseCollection) FindTypesByExternalID(ctx context.Context, userID, standard, organization, identifier string) ([]*types.TypeDef, error) {
	const method = "FindTypesByExternalID"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if standard == "" && organization == "" && identifier == "" {
		return nil, repository.Errorf(repository.KindInvalidParameter, method, "at least one of standard, organization or identifier is required")
	}
	defer ec.begin(method, strategyParallel)()
	gallery, err := ec.unionGallery(ctx, method, userID)
	if err != nil {
		return nil, err
	}
	return gallery.FilterTypeDefs(func(d *types.TypeDef) bool { return d.MapsTo(standard, organization, identifier) }), nil
}

func (ec *EnterpriseCollection) SearchTypeDefs(ctx context.Context, userID, searchCriteria string) ([]*types.TypeDef, error) {
	const method = "SearchTypeDefs"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Regex(searchCriteria, "searchCriteria", method); err != nil {
		return nil, err
	}
	defer ec.begin(method, strategyParallel)()
	gallery, err := ec.unionGallery(ctx, method, userID)
	if err != nil {
		return nil, err
	}
	expr, _ := types.CompileFull(searchCriteria)
	return gallery.FilterTypeDefs(func(d *types.TypeDef) bool {
		return types.FullMatch(expr, d.Name) || types.FullMatch(expr, d.Description)
	}), nil
}

func (ec *EnterpriseCollection) GetTypeDefByGUID(ctx context.Context, userID, guid string) (*types.TypeDef, error) {
	const method = "GetTypeDefByGUID"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.lookupTypeDef(ctx, method, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.TypeDef, error) {
		return c.GetTypeDefByGUID(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) GetTypeDefByName(ctx context.Context, userID, name string) (*types.TypeDef, error) {
	const method = "GetTypeDefByName"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Name(name, "name", method); err != nil {
		return nil, err
	}
	return ec.lookupTypeDef(ctx, method, name, func(ctx context.Context, c repository.MetadataCollection) (*types.TypeDef, error) {
		return c.GetTypeDefByName(ctx, userID, name)
	})
}

func (ec *EnterpriseCollection) lookupTypeDef(ctx context.Context, method, ref string,
	call func(context.Context, repository.MetadataCollection) (*types.TypeDef, error)) (*types.TypeDef, error) {
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	def, err := first(ctx, ec, method, Parallel, members, typeLookupPolicy, func(ctx context.Context, m Member) (*types.TypeDef, error) {
		return call(ctx, m.Collection())
	})
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "typedef %s is not known to any member", ref)
	}
	return def, nil
}

func (ec *EnterpriseCollection) GetAttributeTypeDefByGUID(ctx context.Context, userID, guid string) (*types.AttributeTypeDef, error) {
	const method = "GetAttributeTypeDefByGUID"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	return ec.lookupAttributeTypeDef(ctx, method, guid, func(ctx context.Context, c repository.MetadataCollection) (*types.AttributeTypeDef, error) {
		return c.GetAttributeTypeDefByGUID(ctx, userID, guid)
	})
}

func (ec *EnterpriseCollection) GetAttributeTypeDefByName(ctx context.Context, userID, name string) (*types.AttributeTypeDef, error) {
	const method = "GetAttributeTypeDefByName"
	if err := ec.validator.UserID(userID, method); err != nil {
		return nil, err
	}
	if err := ec.validator.Name(name, "name", method); err != nil {
		return nil, err
	}
	return ec.lookupAttributeTypeDef(ctx, method, name, func(ctx context.Context, c repository.MetadataCollection) (*types.AttributeTypeDef, error) {
		return c.GetAttributeTypeDefByName(ctx, userID, name)
	})
}

func (ec *EnterpriseCollection) lookupAttributeTypeDef(ctx context.Context, method, ref string,
	call func(context.Context, repository.MetadataCollection) (*types.AttributeTypeDef, error)) (*types.AttributeTypeDef, error) {
	defer ec.begin(method, strategyParallel)()
	members, err := ec.members(method)
	if err != nil {
		return nil, err
	}
	def, err := first(ctx, ec, method, Parallel, members, typeLookupPolicy, func(ctx context.Context, m Member) (*types.AttributeTypeDef, error) {
		return call(ctx, m.Collection())
	})
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "attribute typedef %s is not known to any member", ref)
	}
	return def, nil
}

// verify asks members in turn. A member that knows the type answers true or
// reports a conflict, either of which ends the search; false moves on.
func (ec *EnterpriseCollection) verify(ctx context.Context, method string, call func(context.Context, repository.MetadataCollection) (bool, error)) (bool, error) {
	defer ec.begin(method, strategySequential)()
	members, err := ec.members(method)
	if err != nil {
		return false, err
	}
	verified, answered := false, false
	ex := newExecutor(ec, method, func(ctx context.Context, m Member) (bool, error) {
		return call(ctx, m.Collection())
	}, func(ok bool) bool {
		answered = true
		verified = verified || ok
		return ok
	}, verifyPolicy)
	Sequential(ctx, members, ex)
	if err := ex.finish(ctx, func() bool { return verified || answered }); err != nil {
		return false, err
	}
	if err := ex.captured(repository.KindTypeDefConflict); err != nil {
		return false, err
	}
	return verified, nil
}

func (ec *EnterpriseCollection) VerifyTypeDef(ctx context.Context, userID string, def *types.TypeDef) (bool, error) {
	const method = "VerifyTypeDef"
	if err := ec.validator.UserID(userID, method); err != nil {
		return false, err
	}
	if err := ec.validator.TypeDef(def, method); err != nil {
		return false, err
	}
	return ec.verify(ctx, method, func(ctx context.Context, c repository.MetadataCollection) (bool, error) {
		return c.VerifyTypeDef(ctx, userID, def)
	})
}

func (ec *EnterpriseCollection) VerifyAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) (bool, error) {
	const method = "VerifyAttributeTypeDef"
	if err := ec.validator.UserID(userID, method); err != nil {
		return false, err
	}
	if err := ec.validator.AttributeTypeDef(def, method); err != nil {
		return false, err
	}
	return ec.verify(ctx, method, func(ctx context.Context, c repository.MetadataCollection) (bool, error) {
		return c.VerifyAttributeTypeDef(ctx, userID, def)
	})
}
