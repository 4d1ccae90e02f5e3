package memory

import (
	"fmt"
	"regexp"
	"sort"

	"metacohort/pkg/types"
)

func sortGallery(g *types.TypeDefGallery) {
	sort.Slice(g.TypeDefs, func(i, j int) bool { return g.TypeDefs[i].Name < g.TypeDefs[j].Name })
	sort.Slice(g.AttributeTypeDefs, func(i, j int) bool { return g.AttributeTypeDefs[i].Name < g.AttributeTypeDefs[j].Name })
}

// statusAllowed applies a status filter. Without a filter deleted instances are hidden.
func statusAllowed(status types.InstanceStatus, filter []types.InstanceStatus) bool {
	if len(filter) == 0 {
		return status != types.StatusDeleted
	}
	for _, s := range filter {
		if s == status {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// valueMatches compares a stored value with a requested one. Requested strings
// are treated as regular expressions that must match the whole stored string.
func valueMatches(stored, wanted interface{}) bool {
	expr, ok := wanted.(string)
	if !ok {
		return valuesEqual(stored, wanted)
	}
	s, ok := stored.(string)
	if !ok {
		return valuesEqual(stored, wanted)
	}
	re, err := types.CompileFull(expr)
	if err != nil {
		return s == expr
	}
	return types.FullMatch(re, s)
}

// combine folds per-item results under the match criteria. An empty list always matches.
func combine(criteria types.MatchCriteria, results []bool) bool {
	if len(results) == 0 {
		return true
	}
	switch criteria {
	case types.MatchAny:
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	case types.MatchNone:
		for _, ok := range results {
			if ok {
				return false
			}
		}
		return true
	default:
		for _, ok := range results {
			if !ok {
				return false
			}
		}
		return true
	}
}

func matchProperties(props, wanted types.InstanceProperties, criteria types.MatchCriteria) bool {
	results := make([]bool, 0, len(wanted))
	for name, want := range wanted {
		got, ok := props[name]
		results = append(results, ok && valueMatches(got, want))
	}
	return combine(criteria, results)
}

func matchCondition(props types.InstanceProperties, c types.PropertyCondition) bool {
	got, present := props[c.Property]
	present = present && got != nil
	switch c.Operator {
	case types.OpIsNull:
		return !present
	case types.OpNotNull:
		return present
	case types.OpNotEqual:
		return !present || !valuesEqual(got, c.Value)
	case types.OpLike:
		s, ok := got.(string)
		if !present || !ok {
			return false
		}
		expr, _ := c.Value.(string)
		re, err := types.CompileFull(expr)
		return err == nil && types.FullMatch(re, s)
	default:
		return present && valuesEqual(got, c.Value)
	}
}

func matchSearch(props types.InstanceProperties, sp *types.SearchProperties) bool {
	if sp == nil {
		return true
	}
	results := make([]bool, 0, len(sp.Conditions))
	for _, c := range sp.Conditions {
		results = append(results, matchCondition(props, c))
	}
	return combine(sp.MatchCriteria, results)
}

func matchClassifications(e *types.EntitySummary, sc *types.SearchClassifications) bool {
	if sc == nil {
		return true
	}
	results := make([]bool, 0, len(sc.Conditions))
	for _, c := range sc.Conditions {
		cls := e.Classification(c.Name)
		results = append(results, cls != nil && matchSearch(cls.Properties, c.MatchProperties))
	}
	return combine(sc.MatchCriteria, results)
}

// hasClassifications requires every named classification to be present.
func hasClassifications(e *types.EntitySummary, names []string) bool {
	for _, n := range names {
		if e.Classification(n) == nil {
			return false
		}
	}
	return true
}

func anyStringMatches(props types.InstanceProperties, re *regexp.Regexp) bool {
	for _, v := range props {
		if s, ok := v.(string); ok && types.FullMatch(re, s) {
			return true
		}
	}
	return false
}

// sortInstances orders items by the paging sequencing order. GUID order breaks
// ties and is used for ANY so that results are stable across calls.
func sortInstances[T any](items []T, header func(T) *types.InstanceHeader, props func(T) types.InstanceProperties, p types.Paging) {
	less := func(a, b T) int {
		ha, hb := header(a), header(b)
		switch p.SequencingOrder {
		case types.SequenceCreationDateRecent:
			return -compareTime(ha.CreateTime.UnixNano(), hb.CreateTime.UnixNano())
		case types.SequenceCreationDateOldest:
			return compareTime(ha.CreateTime.UnixNano(), hb.CreateTime.UnixNano())
		case types.SequenceLastUpdateRecent:
			return -compareTime(ha.UpdateTime.UnixNano(), hb.UpdateTime.UnixNano())
		case types.SequenceLastUpdateOldest:
			return compareTime(ha.UpdateTime.UnixNano(), hb.UpdateTime.UnixNano())
		case types.SequencePropertyAscending, types.SequencePropertyDescending:
			va := fmt.Sprint(props(a)[p.SequencingProperty])
			vb := fmt.Sprint(props(b)[p.SequencingProperty])
			c := 0
			if va < vb {
				c = -1
			} else if va > vb {
				c = 1
			}
			if p.SequencingOrder == types.SequencePropertyDescending {
				c = -c
			}
			return c
		}
		return 0
	}
	sort.SliceStable(items, func(i, j int) bool {
		if c := less(items[i], items[j]); c != 0 {
			return c < 0
		}
		return header(items[i]).GUID < header(items[j]).GUID
	})
}

func compareTime(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// page slices items to [from, from+size). A zero size means no limit.
func page[T any](items []T, from, size int) []T {
	if from >= len(items) {
		return nil
	}
	items = items[from:]
	if size > 0 && size < len(items) {
		items = items[:size]
	}
	return items
}

func entityHeader(e *types.EntityDetail) *types.InstanceHeader        { return &e.InstanceHeader }
func entityProps(e *types.EntityDetail) types.InstanceProperties      { return e.Properties }
func relationshipHeader(r *types.Relationship) *types.InstanceHeader   { return &r.InstanceHeader }
func relationshipProps(r *types.Relationship) types.InstanceProperties { return r.Properties }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
