package remote

import (
	"context"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"
)

type handler func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error)

// handlers maps each collection operation to its server-side decoding.
var handlers = map[string]handler{
	// Types

	"GetMetadataCollectionID": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		if err := r.scan(); err != nil {
			return nil, err
		}
		return c.GetMetadataCollectionID(ctx, r.UserID)
	},
	"GetAllTypes": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		if err := r.scan(); err != nil {
			return nil, err
		}
		return c.GetAllTypes(ctx, r.UserID)
	},
	"FindTypesByName": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var name string
		if err := r.scan(&name); err != nil {
			return nil, err
		}
		return c.FindTypesByName(ctx, r.UserID, name)
	},
	"FindTypeDefsByCategory": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var category types.TypeDefCategory
		if err := r.scan(&category); err != nil {
			return nil, err
		}
		return c.FindTypeDefsByCategory(ctx, r.UserID, category)
	},
	"FindAttributeTypeDefsByCategory": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var category types.AttributeTypeDefCategory
		if err := r.scan(&category); err != nil {
			return nil, err
		}
		return c.FindAttributeTypeDefsByCategory(ctx, r.UserID, category)
	},
	"FindTypeDefsByProperty": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var criteria *types.TypeDefProperties
		if err := r.scan(&criteria); err != nil {
			return nil, err
		}
		return c.FindTypeDefsByProperty(ctx, r.UserID, criteria)
	},
	"FindTypesByExternalID": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var standard, organization, identifier string
		if err := r.scan(&standard, &organization, &identifier); err != nil {
			return nil, err
		}
		return c.FindTypesByExternalID(ctx, r.UserID, standard, organization, identifier)
	},
	"SearchTypeDefs": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var criteria string
		if err := r.scan(&criteria); err != nil {
			return nil, err
		}
		return c.SearchTypeDefs(ctx, r.UserID, criteria)
	},
	"GetTypeDefByGUID": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.GetTypeDefByGUID(ctx, r.UserID, guid)
	},
	"GetAttributeTypeDefByGUID": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.GetAttributeTypeDefByGUID(ctx, r.UserID, guid)
	},
	"GetTypeDefByName": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var name string
		if err := r.scan(&name); err != nil {
			return nil, err
		}
		return c.GetTypeDefByName(ctx, r.UserID, name)
	},
	"GetAttributeTypeDefByName": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var name string
		if err := r.scan(&name); err != nil {
			return nil, err
		}
		return c.GetAttributeTypeDefByName(ctx, r.UserID, name)
	},
	"VerifyTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var def *types.TypeDef
		if err := r.scan(&def); err != nil {
			return nil, err
		}
		return c.VerifyTypeDef(ctx, r.UserID, def)
	},
	"VerifyAttributeTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var def *types.AttributeTypeDef
		if err := r.scan(&def); err != nil {
			return nil, err
		}
		return c.VerifyAttributeTypeDef(ctx, r.UserID, def)
	},
	"AddTypeDefGallery": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var gallery *types.TypeDefGallery
		if err := r.scan(&gallery); err != nil {
			return nil, err
		}
		return nil, c.AddTypeDefGallery(ctx, r.UserID, gallery)
	},
	"AddTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var def *types.TypeDef
		if err := r.scan(&def); err != nil {
			return nil, err
		}
		return nil, c.AddTypeDef(ctx, r.UserID, def)
	},
	"AddAttributeTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var def *types.AttributeTypeDef
		if err := r.scan(&def); err != nil {
			return nil, err
		}
		return nil, c.AddAttributeTypeDef(ctx, r.UserID, def)
	},
	"UpdateTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var patch *types.TypeDefPatch
		if err := r.scan(&patch); err != nil {
			return nil, err
		}
		return c.UpdateTypeDef(ctx, r.UserID, patch)
	},
	"DeleteTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, name string
		if err := r.scan(&guid, &name); err != nil {
			return nil, err
		}
		return nil, c.DeleteTypeDef(ctx, r.UserID, guid, name)
	},
	"DeleteAttributeTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, name string
		if err := r.scan(&guid, &name); err != nil {
			return nil, err
		}
		return nil, c.DeleteAttributeTypeDef(ctx, r.UserID, guid, name)
	},
	"ReIdentifyTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, name, newGUID, newName string
		if err := r.scan(&guid, &name, &newGUID, &newName); err != nil {
			return nil, err
		}
		return c.ReIdentifyTypeDef(ctx, r.UserID, guid, name, newGUID, newName)
	},
	"ReIdentifyAttributeTypeDef": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, name, newGUID, newName string
		if err := r.scan(&guid, &name, &newGUID, &newName); err != nil {
			return nil, err
		}
		return c.ReIdentifyAttributeTypeDef(ctx, r.UserID, guid, name, newGUID, newName)
	},

	// Entity reads

	"IsEntityKnown": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.IsEntityKnown(ctx, r.UserID, guid)
	},
	"GetEntitySummary": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.GetEntitySummary(ctx, r.UserID, guid)
	},
	"GetEntityDetail": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.GetEntityDetail(ctx, r.UserID, guid)
	},
	"GetEntityDetailAsOf": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var asOf time.Time
		if err := r.scan(&guid, &asOf); err != nil {
			return nil, err
		}
		return c.GetEntityDetailAsOf(ctx, r.UserID, guid, asOf)
	},
	"GetEntityDetailHistory": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var q types.HistoryQuery
		if err := r.scan(&guid, &q); err != nil {
			return nil, err
		}
		return c.GetEntityDetailHistory(ctx, r.UserID, guid, q)
	},
	"GetRelationshipsForEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var q types.RelationshipsForEntityQuery
		if err := r.scan(&guid, &q); err != nil {
			return nil, err
		}
		return c.GetRelationshipsForEntity(ctx, r.UserID, guid, q)
	},
	"FindEntities": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var q types.EntityQuery
		if err := r.scan(&q); err != nil {
			return nil, err
		}
		return c.FindEntities(ctx, r.UserID, q)
	},
	"FindEntitiesByProperty": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var q types.PropertyQuery
		if err := r.scan(&q); err != nil {
			return nil, err
		}
		return c.FindEntitiesByProperty(ctx, r.UserID, q)
	},
	"FindEntitiesByClassification": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var q types.ClassificationQuery
		if err := r.scan(&q); err != nil {
			return nil, err
		}
		return c.FindEntitiesByClassification(ctx, r.UserID, q)
	},
	"FindEntitiesByPropertyValue": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var q types.ValueQuery
		if err := r.scan(&q); err != nil {
			return nil, err
		}
		return c.FindEntitiesByPropertyValue(ctx, r.UserID, q)
	},

	// Relationship reads

	"IsRelationshipKnown": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.IsRelationshipKnown(ctx, r.UserID, guid)
	},
	"GetRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.GetRelationship(ctx, r.UserID, guid)
	},
	"GetRelationshipAsOf": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var asOf time.Time
		if err := r.scan(&guid, &asOf); err != nil {
			return nil, err
		}
		return c.GetRelationshipAsOf(ctx, r.UserID, guid, asOf)
	},
	"GetRelationshipHistory": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var q types.HistoryQuery
		if err := r.scan(&guid, &q); err != nil {
			return nil, err
		}
		return c.GetRelationshipHistory(ctx, r.UserID, guid, q)
	},
	"FindRelationships": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var q types.RelationshipQuery
		if err := r.scan(&q); err != nil {
			return nil, err
		}
		return c.FindRelationships(ctx, r.UserID, q)
	},
	"FindRelationshipsByProperty": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var q types.PropertyQuery
		if err := r.scan(&q); err != nil {
			return nil, err
		}
		return c.FindRelationshipsByProperty(ctx, r.UserID, q)
	},
	"FindRelationshipsByPropertyValue": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var q types.ValueQuery
		if err := r.scan(&q); err != nil {
			return nil, err
		}
		return c.FindRelationshipsByPropertyValue(ctx, r.UserID, q)
	},

	// Graph

	"GetLinkingEntities": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var start, end string
		var q types.GraphQuery
		if err := r.scan(&start, &end, &q); err != nil {
			return nil, err
		}
		return c.GetLinkingEntities(ctx, r.UserID, start, end, q)
	},
	"GetEntityNeighborhood": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var q types.NeighborhoodQuery
		if err := r.scan(&guid, &q); err != nil {
			return nil, err
		}
		return c.GetEntityNeighborhood(ctx, r.UserID, guid, q)
	},
	"GetRelatedEntities": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var q types.RelatedQuery
		if err := r.scan(&guid, &q); err != nil {
			return nil, err
		}
		return c.GetRelatedEntities(ctx, r.UserID, guid, q)
	},

	// Entity writes

	"AddEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var req types.NewEntity
		if err := r.scan(&req); err != nil {
			return nil, err
		}
		return c.AddEntity(ctx, r.UserID, req)
	},
	"AddEntityProxy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var proxy *types.EntityProxy
		if err := r.scan(&proxy); err != nil {
			return nil, err
		}
		return nil, c.AddEntityProxy(ctx, r.UserID, proxy)
	},
	"UpdateEntityStatus": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var st types.InstanceStatus
		if err := r.scan(&guid, &st); err != nil {
			return nil, err
		}
		return c.UpdateEntityStatus(ctx, r.UserID, guid, st)
	},
	"UpdateEntityProperties": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var props types.InstanceProperties
		if err := r.scan(&guid, &props); err != nil {
			return nil, err
		}
		return c.UpdateEntityProperties(ctx, r.UserID, guid, props)
	},
	"UndoEntityUpdate": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.UndoEntityUpdate(ctx, r.UserID, guid)
	},
	"DeleteEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var typeGUID, typeName, guid string
		if err := r.scan(&typeGUID, &typeName, &guid); err != nil {
			return nil, err
		}
		return c.DeleteEntity(ctx, r.UserID, typeGUID, typeName, guid)
	},
	"PurgeEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var typeGUID, typeName, guid string
		if err := r.scan(&typeGUID, &typeName, &guid); err != nil {
			return nil, err
		}
		return nil, c.PurgeEntity(ctx, r.UserID, typeGUID, typeName, guid)
	},
	"RestoreEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.RestoreEntity(ctx, r.UserID, guid)
	},
	"ClassifyEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, name string
		var props types.InstanceProperties
		if err := r.scan(&guid, &name, &props); err != nil {
			return nil, err
		}
		return c.ClassifyEntity(ctx, r.UserID, guid, name, props)
	},
	"DeclassifyEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, name string
		if err := r.scan(&guid, &name); err != nil {
			return nil, err
		}
		return c.DeclassifyEntity(ctx, r.UserID, guid, name)
	},
	"UpdateEntityClassification": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, name string
		var props types.InstanceProperties
		if err := r.scan(&guid, &name, &props); err != nil {
			return nil, err
		}
		return c.UpdateEntityClassification(ctx, r.UserID, guid, name, props)
	},

	// Relationship writes

	"AddRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var req types.NewRelationship
		if err := r.scan(&req); err != nil {
			return nil, err
		}
		return c.AddRelationship(ctx, r.UserID, req)
	},
	"UpdateRelationshipStatus": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var st types.InstanceStatus
		if err := r.scan(&guid, &st); err != nil {
			return nil, err
		}
		return c.UpdateRelationshipStatus(ctx, r.UserID, guid, st)
	},
	"UpdateRelationshipProperties": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var props types.InstanceProperties
		if err := r.scan(&guid, &props); err != nil {
			return nil, err
		}
		return c.UpdateRelationshipProperties(ctx, r.UserID, guid, props)
	},
	"UndoRelationshipUpdate": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.UndoRelationshipUpdate(ctx, r.UserID, guid)
	},
	"DeleteRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var typeGUID, typeName, guid string
		if err := r.scan(&typeGUID, &typeName, &guid); err != nil {
			return nil, err
		}
		return c.DeleteRelationship(ctx, r.UserID, typeGUID, typeName, guid)
	},
	"PurgeRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var typeGUID, typeName, guid string
		if err := r.scan(&typeGUID, &typeName, &guid); err != nil {
			return nil, err
		}
		return nil, c.PurgeRelationship(ctx, r.UserID, typeGUID, typeName, guid)
	},
	"RestoreRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		if err := r.scan(&guid); err != nil {
			return nil, err
		}
		return c.RestoreRelationship(ctx, r.UserID, guid)
	},

	// Identity, type and home changes

	"ReIdentifyEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var typeGUID, typeName, guid, newGUID string
		if err := r.scan(&typeGUID, &typeName, &guid, &newGUID); err != nil {
			return nil, err
		}
		return c.ReIdentifyEntity(ctx, r.UserID, typeGUID, typeName, guid, newGUID)
	},
	"ReTypeEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var current, target *types.TypeDefSummary
		if err := r.scan(&guid, &current, &target); err != nil {
			return nil, err
		}
		return c.ReTypeEntity(ctx, r.UserID, guid, current, target)
	},
	"ReHomeEntity": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, typeGUID, typeName, homeID, newHomeID, newHomeName string
		if err := r.scan(&guid, &typeGUID, &typeName, &homeID, &newHomeID, &newHomeName); err != nil {
			return nil, err
		}
		return c.ReHomeEntity(ctx, r.UserID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName)
	},
	"ReIdentifyRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var typeGUID, typeName, guid, newGUID string
		if err := r.scan(&typeGUID, &typeName, &guid, &newGUID); err != nil {
			return nil, err
		}
		return c.ReIdentifyRelationship(ctx, r.UserID, typeGUID, typeName, guid, newGUID)
	},
	"ReTypeRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid string
		var current, target *types.TypeDefSummary
		if err := r.scan(&guid, &current, &target); err != nil {
			return nil, err
		}
		return c.ReTypeRelationship(ctx, r.UserID, guid, current, target)
	},
	"ReHomeRelationship": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, typeGUID, typeName, homeID, newHomeID, newHomeName string
		if err := r.scan(&guid, &typeGUID, &typeName, &homeID, &newHomeID, &newHomeName); err != nil {
			return nil, err
		}
		return c.ReHomeRelationship(ctx, r.UserID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName)
	},

	// Reference copies

	"SaveEntityReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var entity *types.EntityDetail
		if err := r.scan(&entity); err != nil {
			return nil, err
		}
		return nil, c.SaveEntityReferenceCopy(ctx, r.UserID, entity)
	},
	"PurgeEntityReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, typeGUID, typeName, homeID string
		if err := r.scan(&guid, &typeGUID, &typeName, &homeID); err != nil {
			return nil, err
		}
		return nil, c.PurgeEntityReferenceCopy(ctx, r.UserID, guid, typeGUID, typeName, homeID)
	},
	"RefreshEntityReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, typeGUID, typeName, homeID string
		if err := r.scan(&guid, &typeGUID, &typeName, &homeID); err != nil {
			return nil, err
		}
		return nil, c.RefreshEntityReferenceCopy(ctx, r.UserID, guid, typeGUID, typeName, homeID)
	},
	"SaveRelationshipReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var rel *types.Relationship
		if err := r.scan(&rel); err != nil {
			return nil, err
		}
		return nil, c.SaveRelationshipReferenceCopy(ctx, r.UserID, rel)
	},
	"PurgeRelationshipReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, typeGUID, typeName, homeID string
		if err := r.scan(&guid, &typeGUID, &typeName, &homeID); err != nil {
			return nil, err
		}
		return nil, c.PurgeRelationshipReferenceCopy(ctx, r.UserID, guid, typeGUID, typeName, homeID)
	},
	"RefreshRelationshipReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var guid, typeGUID, typeName, homeID string
		if err := r.scan(&guid, &typeGUID, &typeName, &homeID); err != nil {
			return nil, err
		}
		return nil, c.RefreshRelationshipReferenceCopy(ctx, r.UserID, guid, typeGUID, typeName, homeID)
	},
	"SaveClassificationReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var entity *types.EntityDetail
		var classification *types.Classification
		if err := r.scan(&entity, &classification); err != nil {
			return nil, err
		}
		return nil, c.SaveClassificationReferenceCopy(ctx, r.UserID, entity, classification)
	},
	"PurgeClassificationReferenceCopy": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var entity *types.EntityDetail
		var classification *types.Classification
		if err := r.scan(&entity, &classification); err != nil {
			return nil, err
		}
		return nil, c.PurgeClassificationReferenceCopy(ctx, r.UserID, entity, classification)
	},
	"SaveInstanceReferenceCopies": func(ctx context.Context, c repository.MetadataCollection, r *request) (interface{}, error) {
		var batch *types.InstanceGraph
		if err := r.scan(&batch); err != nil {
			return nil, err
		}
		return nil, c.SaveInstanceReferenceCopies(ctx, r.UserID, batch)
	},
}
