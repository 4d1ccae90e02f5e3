package types

import "time"

type InstanceStatus string

const (
	StatusUnknown  InstanceStatus = "UNKNOWN"
	StatusProposed InstanceStatus = "PROPOSED"
	StatusDraft    InstanceStatus = "DRAFT"
	StatusPrepared InstanceStatus = "PREPARED"
	StatusActive   InstanceStatus = "ACTIVE"
	StatusDeleted  InstanceStatus = "DELETED"
)

type InstanceProvenance string

const (
	ProvenanceLocalCohort    InstanceProvenance = "LOCAL_COHORT"
	ProvenanceExternalSource InstanceProvenance = "EXTERNAL_SOURCE"
)

type ClassificationOrigin string

const (
	OriginAssigned   ClassificationOrigin = "ASSIGNED"
	OriginPropagated ClassificationOrigin = "PROPAGATED"
)

// InstanceProperties holds the attribute values of an instance keyed by property name.
type InstanceProperties map[string]interface{}

// Clone returns a shallow copy.
func (p InstanceProperties) Clone() InstanceProperties {
	if p == nil {
		return nil
	}
	out := make(InstanceProperties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// InstanceType names the TypeDef an instance was created from.
type InstanceType struct {
	TypeDefGUID     string          `json:"type_def_guid"`
	TypeDefName     string          `json:"type_def_name"`
	TypeDefCategory TypeDefCategory `json:"type_def_category"`
	SuperTypeNames  []string        `json:"super_type_names,omitempty"`
}

// IsA reports whether the type is, or inherits from, the named type.
func (t InstanceType) IsA(name string) bool {
	if t.TypeDefName == name {
		return true
	}
	for _, s := range t.SuperTypeNames {
		if s == name {
			return true
		}
	}
	return false
}

// Homed is implemented by anything that has a home metadata collection.
type Homed interface {
	Identity() string
	HomeCollection() string
	ReplicatedByCollection() string
}

// InstanceHeader is shared by entities and relationships.
type InstanceHeader struct {
	GUID                       string             `json:"guid"`
	Type                       InstanceType       `json:"type"`
	Provenance                 InstanceProvenance `json:"provenance,omitempty"`
	HomeMetadataCollectionID   string             `json:"home_metadata_collection_id"`
	HomeMetadataCollectionName string             `json:"home_metadata_collection_name,omitempty"`
	ReplicatedBy               string             `json:"replicated_by,omitempty"`
	Status                     InstanceStatus     `json:"status"`
	StatusOnDelete             InstanceStatus     `json:"status_on_delete,omitempty"`
	Version                    int64              `json:"version"`
	CreatedBy                  string             `json:"created_by,omitempty"`
	UpdatedBy                  string             `json:"updated_by,omitempty"`
	CreateTime                 time.Time          `json:"create_time"`
	UpdateTime                 time.Time          `json:"update_time"`
}

func (h *InstanceHeader) Identity() string               { return h.GUID }
func (h *InstanceHeader) HomeCollection() string         { return h.HomeMetadataCollectionID }
func (h *InstanceHeader) ReplicatedByCollection() string { return h.ReplicatedBy }

// Classification is attached to an entity and may be homed somewhere other than the entity.
type Classification struct {
	Name                     string               `json:"name"`
	Type                     InstanceType         `json:"type"`
	Origin                   ClassificationOrigin `json:"origin,omitempty"`
	OriginGUID               string               `json:"origin_guid,omitempty"`
	HomeMetadataCollectionID string               `json:"home_metadata_collection_id"`
	ReplicatedBy             string               `json:"replicated_by,omitempty"`
	Status                   InstanceStatus       `json:"status"`
	Version                  int64                `json:"version"`
	Properties               InstanceProperties   `json:"properties,omitempty"`
	CreatedBy                string               `json:"created_by,omitempty"`
	UpdatedBy                string               `json:"updated_by,omitempty"`
	CreateTime               time.Time            `json:"create_time"`
	UpdateTime               time.Time            `json:"update_time"`
}

func (c *Classification) Identity() string               { return c.Name }
func (c *Classification) HomeCollection() string         { return c.HomeMetadataCollectionID }
func (c *Classification) ReplicatedByCollection() string { return c.ReplicatedBy }

// Clone returns a copy that shares no maps with c.
func (c *Classification) Clone() *Classification {
	if c == nil {
		return nil
	}
	out := *c
	out.Properties = c.Properties.Clone()
	return &out
}

type EntitySummary struct {
	InstanceHeader
	Classifications []*Classification `json:"classifications,omitempty"`
}

// Classification returns the named classification, or nil.
func (e *EntitySummary) Classification(name string) *Classification {
	for _, c := range e.Classifications {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Proxy builds the minimal stand-in used as a relationship end.
func (e *EntitySummary) Proxy() *EntityProxy {
	p := &EntityProxy{EntitySummary: EntitySummary{InstanceHeader: e.InstanceHeader}}
	for _, c := range e.Classifications {
		p.Classifications = append(p.Classifications, c.Clone())
	}
	return p
}

func (e *EntitySummary) cloneClassifications() []*Classification {
	if e.Classifications == nil {
		return nil
	}
	out := make([]*Classification, 0, len(e.Classifications))
	for _, c := range e.Classifications {
		out = append(out, c.Clone())
	}
	return out
}

type EntityDetail struct {
	EntitySummary
	Properties InstanceProperties `json:"properties,omitempty"`
}

// Summary strips the properties from the entity.
func (e *EntityDetail) Summary() *EntitySummary {
	return &EntitySummary{
		InstanceHeader:  e.InstanceHeader,
		Classifications: e.cloneClassifications(),
	}
}

// Clone returns a deep copy of the entity's mutable parts.
func (e *EntityDetail) Clone() *EntityDetail {
	if e == nil {
		return nil
	}
	out := &EntityDetail{
		EntitySummary: EntitySummary{InstanceHeader: e.InstanceHeader, Classifications: e.cloneClassifications()},
		Properties:    e.Properties.Clone(),
	}
	return out
}

// EntityProxy stands in for an entity whose full detail lives on another member.
type EntityProxy struct {
	EntitySummary
	UniqueProperties InstanceProperties `json:"unique_properties,omitempty"`
}

// Clone returns a deep copy of the proxy.
func (p *EntityProxy) Clone() *EntityProxy {
	if p == nil {
		return nil
	}
	return &EntityProxy{
		EntitySummary:    EntitySummary{InstanceHeader: p.InstanceHeader, Classifications: p.cloneClassifications()},
		UniqueProperties: p.UniqueProperties.Clone(),
	}
}

type Relationship struct {
	InstanceHeader
	Properties InstanceProperties `json:"properties,omitempty"`
	End1       *EntityProxy       `json:"end1"`
	End2       *EntityProxy       `json:"end2"`
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	return &Relationship{
		InstanceHeader: r.InstanceHeader,
		Properties:     r.Properties.Clone(),
		End1:           r.End1.Clone(),
		End2:           r.End2.Clone(),
	}
}

// OtherEnd returns the GUID at the opposite end from entityGUID, or "" if entityGUID is not an end.
func (r *Relationship) OtherEnd(entityGUID string) string {
	switch {
	case r.End1 != nil && r.End1.GUID == entityGUID:
		if r.End2 != nil {
			return r.End2.GUID
		}
	case r.End2 != nil && r.End2.GUID == entityGUID:
		if r.End1 != nil {
			return r.End1.GUID
		}
	}
	return ""
}

// InstanceGraph is the result of traversal queries.
type InstanceGraph struct {
	Entities      []*EntityDetail `json:"entities,omitempty"`
	Relationships []*Relationship `json:"relationships,omitempty"`
}

// NewEntity describes an entity to create.
type NewEntity struct {
	TypeGUID        string             `json:"type_guid"`
	Properties      InstanceProperties `json:"properties,omitempty"`
	Classifications []*Classification  `json:"classifications,omitempty"`
	InitialStatus   InstanceStatus     `json:"initial_status,omitempty"`
}

// NewRelationship describes a relationship to create between two existing entities.
type NewRelationship struct {
	TypeGUID      string             `json:"type_guid"`
	Properties    InstanceProperties `json:"properties,omitempty"`
	End1GUID      string             `json:"end1_guid"`
	End2GUID      string             `json:"end2_guid"`
	InitialStatus InstanceStatus     `json:"initial_status,omitempty"`
}
