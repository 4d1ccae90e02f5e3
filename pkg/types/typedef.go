package types

import "regexp"

type TypeDefCategory string

const (
	CategoryEntityDef         TypeDefCategory = "ENTITY_DEF"
	CategoryRelationshipDef   TypeDefCategory = "RELATIONSHIP_DEF"
	CategoryClassificationDef TypeDefCategory = "CLASSIFICATION_DEF"
)

type AttributeTypeDefCategory string

const (
	CategoryPrimitive  AttributeTypeDefCategory = "PRIMITIVE"
	CategoryEnumDef    AttributeTypeDefCategory = "ENUM_DEF"
	CategoryCollection AttributeTypeDefCategory = "COLLECTION"
)

type TypeDefStatus string

const (
	TypeDefActive     TypeDefStatus = "ACTIVE_TYPEDEF"
	TypeDefDeprecated TypeDefStatus = "DEPRECATED_TYPEDEF"
)

// TypeDefLink is a lightweight reference to another TypeDef.
type TypeDefLink struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// TypeDefAttribute describes one property of a TypeDef.
type TypeDefAttribute struct {
	Name          string `json:"name"`
	AttributeType string `json:"attribute_type"`
	Description   string `json:"description,omitempty"`
	Unique        bool   `json:"unique,omitempty"`
	Indexable     bool   `json:"indexable,omitempty"`
}

// ExternalStandardMapping links a TypeDef to a term in an external standard.
type ExternalStandardMapping struct {
	Standard     string `json:"standard,omitempty"`
	Organization string `json:"organization,omitempty"`
	Identifier   string `json:"identifier,omitempty"`
}

// RelationshipEndDef describes one end of a relationship type.
type RelationshipEndDef struct {
	EntityType    TypeDefLink `json:"entity_type"`
	AttributeName string      `json:"attribute_name"`
}

type TypeDef struct {
	GUID                     string                     `json:"guid"`
	Name                     string                     `json:"name"`
	Category                 TypeDefCategory            `json:"category"`
	Status                   TypeDefStatus              `json:"status,omitempty"`
	Version                  int64                      `json:"version"`
	VersionName              string                     `json:"version_name,omitempty"`
	Description              string                     `json:"description,omitempty"`
	SuperType                *TypeDefLink               `json:"super_type,omitempty"`
	Origin                   string                     `json:"origin,omitempty"`
	Attributes               []*TypeDefAttribute        `json:"attributes,omitempty"`
	ValidInstanceStatuses    []InstanceStatus           `json:"valid_instance_statuses,omitempty"`
	InitialStatus            InstanceStatus             `json:"initial_status,omitempty"`
	ExternalStandardMappings []*ExternalStandardMapping `json:"external_standard_mappings,omitempty"`
	End1                     *RelationshipEndDef        `json:"end1,omitempty"`
	End2                     *RelationshipEndDef        `json:"end2,omitempty"`
	ValidEntityDefs          []TypeDefLink              `json:"valid_entity_defs,omitempty"`
}

// HasAttribute reports whether the TypeDef declares the named property.
func (t *TypeDef) HasAttribute(name string) bool {
	for _, a := range t.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

// ValidStatus reports whether instances of this type may take the given status.
// A TypeDef that lists no statuses accepts any non-unknown status.
func (t *TypeDef) ValidStatus(s InstanceStatus) bool {
	if len(t.ValidInstanceStatuses) == 0 {
		return s != StatusUnknown && s != ""
	}
	for _, v := range t.ValidInstanceStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Summary returns the identifying subset of the TypeDef.
func (t *TypeDef) Summary() *TypeDefSummary {
	return &TypeDefSummary{GUID: t.GUID, Name: t.Name, Category: t.Category, Version: t.Version}
}

type AttributeTypeDef struct {
	GUID        string                   `json:"guid"`
	Name        string                   `json:"name"`
	Category    AttributeTypeDefCategory `json:"category"`
	Version     int64                    `json:"version"`
	VersionName string                   `json:"version_name,omitempty"`
	Description string                   `json:"description,omitempty"`
	ElementDefs []string                 `json:"element_defs,omitempty"`
}

// TypeDefSummary identifies a TypeDef at a specific version.
type TypeDefSummary struct {
	GUID     string          `json:"guid"`
	Name     string          `json:"name"`
	Category TypeDefCategory `json:"category"`
	Version  int64           `json:"version"`
}

// TypeDefGallery is the full set of types a collection supports.
type TypeDefGallery struct {
	TypeDefs          []*TypeDef          `json:"type_defs,omitempty"`
	AttributeTypeDefs []*AttributeTypeDef `json:"attribute_type_defs,omitempty"`
}

// TypeDefProperties lists property names a TypeDef must declare to match.
type TypeDefProperties struct {
	Names []string `json:"names"`
}

// TypeDefPatch describes an in-place change to a TypeDef.
type TypeDefPatch struct {
	TypeDefGUID         string              `json:"type_def_guid"`
	TypeDefName         string              `json:"type_def_name"`
	ApplyToVersion      int64               `json:"apply_to_version"`
	UpdateToVersion     int64               `json:"update_to_version"`
	NewVersionName      string              `json:"new_version_name,omitempty"`
	Description         string              `json:"description,omitempty"`
	PropertyDefinitions []*TypeDefAttribute `json:"property_definitions,omitempty"`
}

// Merge folds other into g. A TypeDef already present under the same GUID is replaced.
func (g *TypeDefGallery) Merge(other *TypeDefGallery) {
	if other == nil {
		return
	}
	for _, def := range other.TypeDefs {
		g.TypeDefs = replaceOrAppend(g.TypeDefs, def, func(d *TypeDef) bool { return d.GUID == def.GUID })
	}
	for _, def := range other.AttributeTypeDefs {
		g.AttributeTypeDefs = replaceOrAppend(g.AttributeTypeDefs, def, func(d *AttributeTypeDef) bool { return d.GUID == def.GUID })
	}
}

func replaceOrAppend[T any](list []T, item T, same func(T) bool) []T {
	for i, existing := range list {
		if same(existing) {
			list[i] = item
			return list
		}
	}
	return append(list, item)
}

// FilterTypeDefs returns the TypeDefs accepted by keep, in gallery order.
func (g *TypeDefGallery) FilterTypeDefs(keep func(*TypeDef) bool) []*TypeDef {
	var out []*TypeDef
	for _, def := range g.TypeDefs {
		if keep(def) {
			out = append(out, def)
		}
	}
	return out
}

// FilterAttributeTypeDefs returns the AttributeTypeDefs accepted by keep, in gallery order.
func (g *TypeDefGallery) FilterAttributeTypeDefs(keep func(*AttributeTypeDef) bool) []*AttributeTypeDef {
	var out []*AttributeTypeDef
	for _, def := range g.AttributeTypeDefs {
		if keep(def) {
			out = append(out, def)
		}
	}
	return out
}

// MatchingName returns the subset of the gallery whose names fully match expr.
func (g *TypeDefGallery) MatchingName(expr *regexp.Regexp) *TypeDefGallery {
	return &TypeDefGallery{
		TypeDefs:          g.FilterTypeDefs(func(d *TypeDef) bool { return FullMatch(expr, d.Name) }),
		AttributeTypeDefs: g.FilterAttributeTypeDefs(func(d *AttributeTypeDef) bool { return FullMatch(expr, d.Name) }),
	}
}

// DeclaresAll reports whether the TypeDef declares every listed property.
func (t *TypeDef) DeclaresAll(names []string) bool {
	for _, n := range names {
		if !t.HasAttribute(n) {
			return false
		}
	}
	return true
}

// MapsTo reports whether any external standard mapping matches the non-empty parts of the triple.
func (t *TypeDef) MapsTo(standard, organization, identifier string) bool {
	for _, m := range t.ExternalStandardMappings {
		if (standard == "" || m.Standard == standard) &&
			(organization == "" || m.Organization == organization) &&
			(identifier == "" || m.Identifier == identifier) {
			return true
		}
	}
	return false
}

// CompileFull compiles expr anchored at both ends, so it must match a whole value.
func CompileFull(expr string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + expr + ")$")
}

// FullMatch reports whether expr, compiled with CompileFull, matches s.
func FullMatch(expr *regexp.Regexp, s string) bool {
	return expr.MatchString(s)
}
