package pipeline

import (
	"strings"

	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

// Sanitize normalizes a model-produced filter literal before it reaches the
// record store: surrounding whitespace and a leading protocol are stripped,
// everything from the first ':', '/', '?', '#', or '&' onward is removed,
// and trailing structural characters are dropped. Applying it twice yields
// the same result as once.
func Sanitize(value string) string {
	v := strings.TrimSpace(value)
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	if i := strings.IndexAny(v, ":/?#&"); i != -1 {
		v = v[:i]
	}
	v = strings.TrimRight(v, `{}[],"'`)
	return strings.TrimSpace(v)
}

// SanitizeGroups sanitizes every literal in the given filter groups. Filters
// whose operator requires a literal but whose literal sanitizes to nothing
// are dropped, as are groups left without filters. Existence-check filters
// carry no literal and pass through untouched.
func SanitizeGroups(groups []hubspot.FilterGroup) []hubspot.FilterGroup {
	out := make([]hubspot.FilterGroup, 0, len(groups))
	for _, group := range groups {
		filters := make([]hubspot.Filter, 0, len(group.Filters))
		for _, f := range group.Filters {
			switch f.Operator {
			case hubspot.OpHasProperty, hubspot.OpNotHasProperty:
				f.Value = ""
				f.Values = nil
			case hubspot.OpIn, hubspot.OpNotIn:
				values := make([]string, 0, len(f.Values))
				for _, v := range f.Values {
					if cleaned := Sanitize(v); cleaned != "" {
						values = append(values, cleaned)
					}
				}
				if len(values) == 0 {
					continue
				}
				f.Value = ""
				f.Values = values
			default:
				cleaned := Sanitize(f.Value)
				if cleaned == "" {
					continue
				}
				f.Value = cleaned
				f.Values = nil
			}
			filters = append(filters, f)
		}
		if len(filters) > 0 {
			out = append(out, hubspot.FilterGroup{Filters: filters})
		}
	}
	return out
}
