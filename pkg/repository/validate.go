package repository

import (
	"regexp"
	"time"

	"metacohort/pkg/types"
)

// Validator checks operation parameters before any work is done.
// Every check returns nil or an *Error naming the method.
type Validator struct {
	// Authorize, when set, is consulted after the user id is known to be present.
	Authorize func(userID, method string) error
	// Now supplies the clock for as-of checks.
	Now func() time.Time
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v Validator) UserID(userID, method string) error {
	if userID == "" {
		return Errorf(KindUserNotAuthorized, method, "a user id is required")
	}
	if v.Authorize != nil {
		if err := v.Authorize(userID, method); err != nil {
			if KindOf(err) == KindUserNotAuthorized {
				return err
			}
			return Wrap(KindUserNotAuthorized, method, err)
		}
	}
	return nil
}

func (v Validator) GUID(guid, param, method string) error {
	if guid == "" {
		return Errorf(KindInvalidParameter, method, "parameter %s must not be empty", param)
	}
	return nil
}

func (v Validator) Name(name, param, method string) error {
	if name == "" {
		return Errorf(KindInvalidParameter, method, "parameter %s must not be empty", param)
	}
	return nil
}

// TypeName checks that at least one of the identifying pair is supplied.
func (v Validator) TypeName(guid, name, method string) error {
	if guid == "" && name == "" {
		return Errorf(KindInvalidParameter, method, "a type guid or type name is required")
	}
	return nil
}

func (v Validator) AsOfTime(asOf *time.Time, method string) error {
	if asOf == nil {
		return nil
	}
	if asOf.After(v.now()) {
		return Errorf(KindInvalidParameter, method, "as-of time %s is in the future", asOf.Format(time.RFC3339))
	}
	return nil
}

func (v Validator) Paging(p types.Paging, method string) error {
	if p.FromElement < 0 {
		return Errorf(KindPagingError, method, "from element %d is negative", p.FromElement)
	}
	if p.PageSize < 0 {
		return Errorf(KindPagingError, method, "page size %d is negative", p.PageSize)
	}
	if p.SequencingOrder.NeedsProperty() && p.SequencingProperty == "" {
		return Errorf(KindInvalidParameter, method, "sequencing order %s needs a sequencing property", p.SequencingOrder)
	}
	return v.AsOfTime(p.AsOfTime, method)
}

func (v Validator) History(q types.HistoryQuery, method string) error {
	if q.FromElement < 0 || q.PageSize < 0 {
		return Errorf(KindPagingError, method, "from element %d and page size %d must not be negative", q.FromElement, q.PageSize)
	}
	if q.FromTime != nil && q.ToTime != nil && q.FromTime.After(*q.ToTime) {
		return Errorf(KindInvalidParameter, method, "history range starts after it ends")
	}
	return nil
}

// Statuses rejects filters that can never match an instance.
func (v Validator) Statuses(statuses []types.InstanceStatus, method string) error {
	for _, s := range statuses {
		if s == types.StatusUnknown || s == "" {
			return Errorf(KindStatusNotSupported, method, "status %q is not a valid filter", s)
		}
	}
	return nil
}

// InitialStatus rejects statuses an instance may not be created with.
func (v Validator) InitialStatus(s types.InstanceStatus, method string) error {
	if s == types.StatusDeleted || s == types.StatusUnknown {
		return Errorf(KindStatusNotSupported, method, "instances cannot be created with status %s", s)
	}
	return nil
}

func (v Validator) NewStatus(s types.InstanceStatus, method string) error {
	if s == "" || s == types.StatusUnknown {
		return Errorf(KindStatusNotSupported, method, "status %q cannot be set", s)
	}
	if s == types.StatusDeleted {
		return Errorf(KindStatusNotSupported, method, "use the delete operation to set status %s", s)
	}
	return nil
}

// Regex checks that a search criteria string compiles.
func (v Validator) Regex(expr, param, method string) error {
	if expr == "" {
		return Errorf(KindInvalidParameter, method, "parameter %s must not be empty", param)
	}
	if _, err := regexp.Compile(expr); err != nil {
		return Errorf(KindInvalidParameter, method, "parameter %s is not a valid regular expression: %v", param, err)
	}
	return nil
}

func (v Validator) SearchProperties(sp *types.SearchProperties, method string) error {
	if sp == nil {
		return nil
	}
	for _, c := range sp.Conditions {
		if c.Property == "" {
			return Errorf(KindInvalidParameter, method, "search condition has no property name")
		}
		if c.Operator == types.OpLike {
			expr, ok := c.Value.(string)
			if !ok {
				return Errorf(KindInvalidParameter, method, "LIKE condition on %s needs a string expression", c.Property)
			}
			if _, err := regexp.Compile(expr); err != nil {
				return Errorf(KindInvalidParameter, method, "LIKE condition on %s: %v", c.Property, err)
			}
		}
	}
	return nil
}

func (v Validator) TypeDef(def *types.TypeDef, method string) error {
	if def == nil {
		return Errorf(KindInvalidParameter, method, "typedef must not be nil")
	}
	if def.GUID == "" || def.Name == "" {
		return Errorf(KindInvalidTypeDef, method, "typedef must have a guid and a name")
	}
	return nil
}

func (v Validator) AttributeTypeDef(def *types.AttributeTypeDef, method string) error {
	if def == nil {
		return Errorf(KindInvalidParameter, method, "attribute typedef must not be nil")
	}
	if def.GUID == "" || def.Name == "" {
		return Errorf(KindInvalidTypeDef, method, "attribute typedef must have a guid and a name")
	}
	return nil
}

// Neighborhood checks traversal depth.
func (v Validator) Level(level int, method string) error {
	if level < 0 {
		return Errorf(KindInvalidParameter, method, "level %d is negative", level)
	}
	return nil
}
