package memory

import "metacohort/pkg/types"

// GUIDs of the base types every served member starts with.
const (
	ReferenceableGUID   = "a32316b8-dc8c-48c5-b12b-71c1b2a080bf"
	AssetGUID           = "896d14c2-7522-4f6c-8519-757711943fe6"
	AssetLinkGUID       = "c2ea6ec0-8d3e-4e8b-9e1a-4f9b7a0c0d6f"
	ConfidentialityGUID = "742ddb7d-9a4a-4eb5-8ac2-1d69953bd2b6"
	CertificationGUID   = "390559eb-6a0c-4dd7-bc95-b9074caffa7f"
)

// BaseTypes returns a small gallery: an entity supertype and subtype, one
// relationship type between assets and two classifications.
func BaseTypes() *types.TypeDefGallery {
	referenceable := &types.TypeDef{
		GUID:     ReferenceableGUID,
		Name:     "Referenceable",
		Category: types.CategoryEntityDef,
		Version:  1,
		Attributes: []*types.TypeDefAttribute{
			{Name: "qualifiedName", AttributeType: "string", Unique: true, Indexable: true},
		},
	}
	asset := &types.TypeDef{
		GUID:      AssetGUID,
		Name:      "Asset",
		Category:  types.CategoryEntityDef,
		Version:   1,
		SuperType: &types.TypeDefLink{GUID: ReferenceableGUID, Name: "Referenceable"},
		Attributes: []*types.TypeDefAttribute{
			{Name: "name", AttributeType: "string", Indexable: true},
			{Name: "description", AttributeType: "string"},
			{Name: "owner", AttributeType: "string"},
		},
		ExternalStandardMappings: []*types.ExternalStandardMapping{
			{Standard: "dcat", Organization: "w3c", Identifier: "Resource"},
		},
	}
	link := &types.TypeDef{
		GUID:     AssetLinkGUID,
		Name:     "AssetLink",
		Category: types.CategoryRelationshipDef,
		Version:  1,
		Attributes: []*types.TypeDefAttribute{
			{Name: "label", AttributeType: "string"},
		},
		End1: &types.RelationshipEndDef{EntityType: types.TypeDefLink{GUID: AssetGUID, Name: "Asset"}, AttributeName: "linksTo"},
		End2: &types.RelationshipEndDef{EntityType: types.TypeDefLink{GUID: AssetGUID, Name: "Asset"}, AttributeName: "linkedFrom"},
	}
	confidentiality := &types.TypeDef{
		GUID:     ConfidentialityGUID,
		Name:     "Confidentiality",
		Category: types.CategoryClassificationDef,
		Version:  1,
		Attributes: []*types.TypeDefAttribute{
			{Name: "level", AttributeType: "int"},
		},
		ValidEntityDefs: []types.TypeDefLink{{GUID: ReferenceableGUID, Name: "Referenceable"}},
	}
	certification := &types.TypeDef{
		GUID:     CertificationGUID,
		Name:     "Certification",
		Category: types.CategoryClassificationDef,
		Version:  1,
		Attributes: []*types.TypeDefAttribute{
			{Name: "authority", AttributeType: "string"},
		},
	}
	return &types.TypeDefGallery{
		TypeDefs: []*types.TypeDef{referenceable, asset, link, confidentiality, certification},
		AttributeTypeDefs: []*types.AttributeTypeDef{
			{GUID: "b34a64b9-554a-42b1-8f8a-7d5c2339f9c4", Name: "string", Category: types.CategoryPrimitive, Version: 1},
			{GUID: "7fc49104-fd3a-46c8-b6bf-f16b6074cd35", Name: "int", Category: types.CategoryPrimitive, Version: 1},
		},
	}
}
