// Package repository defines the metadata collection contract shared by every
// member of a cohort and by the enterprise federation layer that fronts them.
package repository

import (
	"context"
	"time"

	"metacohort/pkg/types"
)

// TypeDefReader covers type queries and verification.
type TypeDefReader interface {
	GetMetadataCollectionID(ctx context.Context, userID string) (string, error)
	GetAllTypes(ctx context.Context, userID string) (*types.TypeDefGallery, error)
	FindTypesByName(ctx context.Context, userID, name string) (*types.TypeDefGallery, error)
	FindTypeDefsByCategory(ctx context.Context, userID string, category types.TypeDefCategory) ([]*types.TypeDef, error)
	FindAttributeTypeDefsByCategory(ctx context.Context, userID string, category types.AttributeTypeDefCategory) ([]*types.AttributeTypeDef, error)
	FindTypeDefsByProperty(ctx context.Context, userID string, criteria *types.TypeDefProperties) ([]*types.TypeDef, error)
	FindTypesByExternalID(ctx context.Context, userID, standard, organization, identifier string) ([]*types.TypeDef, error)
	SearchTypeDefs(ctx context.Context, userID, searchCriteria string) ([]*types.TypeDef, error)
	GetTypeDefByGUID(ctx context.Context, userID, guid string) (*types.TypeDef, error)
	GetAttributeTypeDefByGUID(ctx context.Context, userID, guid string) (*types.AttributeTypeDef, error)
	GetTypeDefByName(ctx context.Context, userID, name string) (*types.TypeDef, error)
	GetAttributeTypeDefByName(ctx context.Context, userID, name string) (*types.AttributeTypeDef, error)
	VerifyTypeDef(ctx context.Context, userID string, def *types.TypeDef) (bool, error)
	VerifyAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) (bool, error)
}

// TypeDefMaintainer covers type creation and identity changes.
type TypeDefMaintainer interface {
	AddTypeDefGallery(ctx context.Context, userID string, gallery *types.TypeDefGallery) error
	AddTypeDef(ctx context.Context, userID string, def *types.TypeDef) error
	AddAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) error
	UpdateTypeDef(ctx context.Context, userID string, patch *types.TypeDefPatch) (*types.TypeDef, error)
	DeleteTypeDef(ctx context.Context, userID, guid, name string) error
	DeleteAttributeTypeDef(ctx context.Context, userID, guid, name string) error
	ReIdentifyTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.TypeDef, error)
	ReIdentifyAttributeTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.AttributeTypeDef, error)
}

// EntityReader covers entity retrieval and search.
type EntityReader interface {
	// IsEntityKnown returns nil without error when the entity is not held.
	IsEntityKnown(ctx context.Context, userID, guid string) (*types.EntityDetail, error)
	GetEntitySummary(ctx context.Context, userID, guid string) (*types.EntitySummary, error)
	GetEntityDetail(ctx context.Context, userID, guid string) (*types.EntityDetail, error)
	GetEntityDetailAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.EntityDetail, error)
	GetEntityDetailHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.EntityDetail, error)
	GetRelationshipsForEntity(ctx context.Context, userID, entityGUID string, q types.RelationshipsForEntityQuery) ([]*types.Relationship, error)
	FindEntities(ctx context.Context, userID string, q types.EntityQuery) ([]*types.EntityDetail, error)
	FindEntitiesByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.EntityDetail, error)
	FindEntitiesByClassification(ctx context.Context, userID string, q types.ClassificationQuery) ([]*types.EntityDetail, error)
	FindEntitiesByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.EntityDetail, error)
}

// RelationshipReader covers relationship retrieval and search.
type RelationshipReader interface {
	// IsRelationshipKnown returns nil without error when the relationship is not held.
	IsRelationshipKnown(ctx context.Context, userID, guid string) (*types.Relationship, error)
	GetRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error)
	GetRelationshipAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.Relationship, error)
	GetRelationshipHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.Relationship, error)
	FindRelationships(ctx context.Context, userID string, q types.RelationshipQuery) ([]*types.Relationship, error)
	FindRelationshipsByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.Relationship, error)
	FindRelationshipsByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.Relationship, error)
}

// GraphReader covers traversal queries returning compound results.
type GraphReader interface {
	GetLinkingEntities(ctx context.Context, userID, startGUID, endGUID string, q types.GraphQuery) (*types.InstanceGraph, error)
	GetEntityNeighborhood(ctx context.Context, userID, entityGUID string, q types.NeighborhoodQuery) (*types.InstanceGraph, error)
	GetRelatedEntities(ctx context.Context, userID, startGUID string, q types.RelatedQuery) ([]*types.EntityDetail, error)
}

// EntityWriter covers entity and classification maintenance.
type EntityWriter interface {
	AddEntity(ctx context.Context, userID string, req types.NewEntity) (*types.EntityDetail, error)
	AddEntityProxy(ctx context.Context, userID string, proxy *types.EntityProxy) error
	UpdateEntityStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.EntityDetail, error)
	UpdateEntityProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.EntityDetail, error)
	UndoEntityUpdate(ctx context.Context, userID, guid string) (*types.EntityDetail, error)
	DeleteEntity(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.EntityDetail, error)
	PurgeEntity(ctx context.Context, userID, typeGUID, typeName, guid string) error
	RestoreEntity(ctx context.Context, userID, guid string) (*types.EntityDetail, error)
	ClassifyEntity(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error)
	DeclassifyEntity(ctx context.Context, userID, entityGUID, classificationName string) (*types.EntityDetail, error)
	UpdateEntityClassification(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error)
}

// RelationshipWriter covers relationship maintenance.
type RelationshipWriter interface {
	AddRelationship(ctx context.Context, userID string, req types.NewRelationship) (*types.Relationship, error)
	UpdateRelationshipStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.Relationship, error)
	UpdateRelationshipProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.Relationship, error)
	UndoRelationshipUpdate(ctx context.Context, userID, guid string) (*types.Relationship, error)
	DeleteRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.Relationship, error)
	PurgeRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) error
	RestoreRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error)
}

// InstanceMaintainer covers changes to instance identity, type and home.
type InstanceMaintainer interface {
	ReIdentifyEntity(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.EntityDetail, error)
	ReTypeEntity(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.EntityDetail, error)
	ReHomeEntity(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.EntityDetail, error)
	ReIdentifyRelationship(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.Relationship, error)
	ReTypeRelationship(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.Relationship, error)
	ReHomeRelationship(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.Relationship, error)
}

// ReferenceCopier covers the maintenance of non-authoritative copies.
type ReferenceCopier interface {
	SaveEntityReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail) error
	PurgeEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error
	RefreshEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error
	SaveRelationshipReferenceCopy(ctx context.Context, userID string, rel *types.Relationship) error
	PurgeRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error
	RefreshRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error
	SaveClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error
	PurgeClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error
	SaveInstanceReferenceCopies(ctx context.Context, userID string, batch *types.InstanceGraph) error
}

// MetadataCollection is the full operation set exposed by a repository.
type MetadataCollection interface {
	TypeDefReader
	TypeDefMaintainer
	EntityReader
	RelationshipReader
	GraphReader
	EntityWriter
	RelationshipWriter
	InstanceMaintainer
	ReferenceCopier
}

// Connector is the handle a cohort member is registered under.
type Connector interface {
	Collection() MetadataCollection
	Disconnect() error
}
