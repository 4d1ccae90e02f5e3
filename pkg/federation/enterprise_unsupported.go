package federation

import (
	"context"

	"metacohort/pkg/types"
)

// Type maintenance, instance re-identification and reference copies only make
// sense against a single member, so the enterprise view refuses them.

func (ec *EnterpriseCollection) AddTypeDefGallery(ctx context.Context, userID string, gallery *types.TypeDefGallery) error {
	return ec.notSupported("AddTypeDefGallery")
}

func (ec *EnterpriseCollection) AddTypeDef(ctx context.Context, userID string, def *types.TypeDef) error {
	return ec.notSupported("AddTypeDef")
}

func (ec *EnterpriseCollection) AddAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) error {
	return ec.notSupported("AddAttributeTypeDef")
}

func (ec *EnterpriseCollection) UpdateTypeDef(ctx context.Context, userID string, patch *types.TypeDefPatch) (*types.TypeDef, error) {
	return nil, ec.notSupported("UpdateTypeDef")
}

func (ec *EnterpriseCollection) DeleteTypeDef(ctx context.Context, userID, guid, name string) error {
	return ec.notSupported("DeleteTypeDef")
}

func (ec *EnterpriseCollection) DeleteAttributeTypeDef(ctx context.Context, userID, guid, name string) error {
	return ec.notSupported("DeleteAttributeTypeDef")
}

func (ec *EnterpriseCollection) ReIdentifyTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.TypeDef, error) {
	return nil, ec.notSupported("ReIdentifyTypeDef")
}

func (ec *EnterpriseCollection) ReIdentifyAttributeTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.AttributeTypeDef, error) {
	return nil, ec.notSupported("ReIdentifyAttributeTypeDef")
}

func (ec *EnterpriseCollection) ReIdentifyEntity(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.EntityDetail, error) {
	return nil, ec.notSupported("ReIdentifyEntity")
}

func (ec *EnterpriseCollection) ReTypeEntity(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.EntityDetail, error) {
	return nil, ec.notSupported("ReTypeEntity")
}

func (ec *EnterpriseCollection) ReHomeEntity(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.EntityDetail, error) {
	return nil, ec.notSupported("ReHomeEntity")
}

func (ec *EnterpriseCollection) ReIdentifyRelationship(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.Relationship, error) {
	return nil, ec.notSupported("ReIdentifyRelationship")
}

func (ec *EnterpriseCollection) ReTypeRelationship(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.Relationship, error) {
	return nil, ec.notSupported("ReTypeRelationship")
}

func (ec *EnterpriseCollection) ReHomeRelationship(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.Relationship, error) {
	return nil, ec.notSupported("ReHomeRelationship")
}

func (ec *EnterpriseCollection) SaveEntityReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail) error {
	return ec.notSupported("SaveEntityReferenceCopy")
}

func (ec *EnterpriseCollection) PurgeEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return ec.notSupported("PurgeEntityReferenceCopy")
}

func (ec *EnterpriseCollection) RefreshEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return ec.notSupported("RefreshEntityReferenceCopy")
}

func (ec *EnterpriseCollection) SaveRelationshipReferenceCopy(ctx context.Context, userID string, rel *types.Relationship) error {
	return ec.notSupported("SaveRelationshipReferenceCopy")
}

func (ec *EnterpriseCollection) PurgeRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return ec.notSupported("PurgeRelationshipReferenceCopy")
}

func (ec *EnterpriseCollection) RefreshRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return ec.notSupported("RefreshRelationshipReferenceCopy")
}

func (ec *EnterpriseCollection) SaveClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error {
	return ec.notSupported("SaveClassificationReferenceCopy")
}

func (ec *EnterpriseCollection) PurgeClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error {
	return ec.notSupported("PurgeClassificationReferenceCopy")
}

func (ec *EnterpriseCollection) SaveInstanceReferenceCopies(ctx context.Context, userID string, batch *types.InstanceGraph) error {
	return ec.notSupported("SaveInstanceReferenceCopies")
}
