package types

import "time"

type SequencingOrder string

const (
	SequenceAny                SequencingOrder = "ANY"
	SequenceGUID               SequencingOrder = "GUID"
	SequenceCreationDateRecent SequencingOrder = "CREATION_DATE_RECENT"
	SequenceCreationDateOldest SequencingOrder = "CREATION_DATE_OLDEST"
	SequenceLastUpdateRecent   SequencingOrder = "LAST_UPDATE_RECENT"
	SequenceLastUpdateOldest   SequencingOrder = "LAST_UPDATE_OLDEST"
	SequencePropertyAscending  SequencingOrder = "PROPERTY_ASCENDING"
	SequencePropertyDescending SequencingOrder = "PROPERTY_DESCENDING"
)

// NeedsProperty reports whether the order sorts on a named property.
func (o SequencingOrder) NeedsProperty() bool {
	return o == SequencePropertyAscending || o == SequencePropertyDescending
}

type HistorySequencingOrder string

const (
	HistoryForwards  HistorySequencingOrder = "FORWARDS"
	HistoryBackwards HistorySequencingOrder = "BACKWARDS"
)

type MatchCriteria string

const (
	MatchAll  MatchCriteria = "ALL"
	MatchAny  MatchCriteria = "ANY"
	MatchNone MatchCriteria = "NONE"
)

type ComparisonOperator string

const (
	OpEqual    ComparisonOperator = "EQ"
	OpNotEqual ComparisonOperator = "NEQ"
	OpLike     ComparisonOperator = "LIKE"
	OpIsNull   ComparisonOperator = "IS_NULL"
	OpNotNull  ComparisonOperator = "NOT_NULL"
)

// PropertyCondition compares one named property against a value.
// For OpLike the value is a regular expression.
type PropertyCondition struct {
	Property string             `json:"property"`
	Operator ComparisonOperator `json:"operator"`
	Value    interface{}        `json:"value,omitempty"`
}

// SearchProperties is a list of conditions combined by MatchCriteria.
type SearchProperties struct {
	Conditions    []PropertyCondition `json:"conditions"`
	MatchCriteria MatchCriteria       `json:"match_criteria,omitempty"`
}

// ClassificationCondition requires a named classification, optionally with matching properties.
type ClassificationCondition struct {
	Name            string            `json:"name"`
	MatchProperties *SearchProperties `json:"match_properties,omitempty"`
}

type SearchClassifications struct {
	Conditions    []ClassificationCondition `json:"conditions"`
	MatchCriteria MatchCriteria             `json:"match_criteria,omitempty"`
}

// Paging carries the per-member paging and sequencing parameters of a find.
// They are forwarded to each member unchanged.
type Paging struct {
	FromElement        int             `json:"from_element,omitempty"`
	PageSize           int             `json:"page_size,omitempty"`
	SequencingProperty string          `json:"sequencing_property,omitempty"`
	SequencingOrder    SequencingOrder `json:"sequencing_order,omitempty"`
	AsOfTime           *time.Time      `json:"as_of_time,omitempty"`
}

type EntityQuery struct {
	TypeGUID             string                 `json:"type_guid,omitempty"`
	SubtypeGUIDs         []string               `json:"subtype_guids,omitempty"`
	MatchProperties      *SearchProperties      `json:"match_properties,omitempty"`
	Statuses             []InstanceStatus       `json:"statuses,omitempty"`
	MatchClassifications *SearchClassifications `json:"match_classifications,omitempty"`
	Paging
}

type PropertyQuery struct {
	TypeGUID               string             `json:"type_guid,omitempty"`
	MatchProperties        InstanceProperties `json:"match_properties,omitempty"`
	MatchCriteria          MatchCriteria      `json:"match_criteria,omitempty"`
	Statuses               []InstanceStatus   `json:"statuses,omitempty"`
	LimitByClassifications []string           `json:"limit_by_classifications,omitempty"`
	Paging
}

type ClassificationQuery struct {
	TypeGUID           string             `json:"type_guid,omitempty"`
	ClassificationName string             `json:"classification_name"`
	MatchProperties    InstanceProperties `json:"match_properties,omitempty"`
	MatchCriteria      MatchCriteria      `json:"match_criteria,omitempty"`
	Statuses           []InstanceStatus   `json:"statuses,omitempty"`
	Paging
}

// ValueQuery matches a regular expression against every string property.
type ValueQuery struct {
	TypeGUID               string           `json:"type_guid,omitempty"`
	SearchCriteria         string           `json:"search_criteria"`
	Statuses               []InstanceStatus `json:"statuses,omitempty"`
	LimitByClassifications []string         `json:"limit_by_classifications,omitempty"`
	Paging
}

type RelationshipQuery struct {
	TypeGUID        string            `json:"type_guid,omitempty"`
	SubtypeGUIDs    []string          `json:"subtype_guids,omitempty"`
	MatchProperties *SearchProperties `json:"match_properties,omitempty"`
	Statuses        []InstanceStatus  `json:"statuses,omitempty"`
	Paging
}

type RelationshipsForEntityQuery struct {
	RelationshipTypeGUID string           `json:"relationship_type_guid,omitempty"`
	Statuses             []InstanceStatus `json:"statuses,omitempty"`
	Paging
}

type HistoryQuery struct {
	FromTime    *time.Time             `json:"from_time,omitempty"`
	ToTime      *time.Time             `json:"to_time,omitempty"`
	FromElement int                    `json:"from_element,omitempty"`
	PageSize    int                    `json:"page_size,omitempty"`
	Order       HistorySequencingOrder `json:"order,omitempty"`
}

type GraphQuery struct {
	Statuses []InstanceStatus `json:"statuses,omitempty"`
	AsOfTime *time.Time       `json:"as_of_time,omitempty"`
}

type NeighborhoodQuery struct {
	EntityTypeGUIDs       []string         `json:"entity_type_guids,omitempty"`
	RelationshipTypeGUIDs []string         `json:"relationship_type_guids,omitempty"`
	Statuses              []InstanceStatus `json:"statuses,omitempty"`
	ClassificationNames   []string         `json:"classification_names,omitempty"`
	AsOfTime              *time.Time       `json:"as_of_time,omitempty"`
	Level                 int              `json:"level"`
}

type RelatedQuery struct {
	EntityTypeGUIDs     []string         `json:"entity_type_guids,omitempty"`
	Statuses            []InstanceStatus `json:"statuses,omitempty"`
	ClassificationNames []string         `json:"classification_names,omitempty"`
	Paging
}
