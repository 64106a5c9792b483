package hubspot

import "time"

// Operator is a HubSpot search filter operator.
type Operator string

const (
	OpEq             Operator = "EQ"
	OpContainsToken  Operator = "CONTAINS_TOKEN"
	OpIn             Operator = "IN"
	OpNotIn          Operator = "NOT_IN"
	OpHasProperty    Operator = "HAS_PROPERTY"
	OpNotHasProperty Operator = "NOT_HAS_PROPERTY"
)

// Filter is a single search condition. Exactly one of Value or Values is
// populated depending on the operator: Value for EQ/CONTAINS_TOKEN, Values
// for IN/NOT_IN, neither for HAS_PROPERTY/NOT_HAS_PROPERTY. The store does
// not enforce this; the caller constructing the request does.
type Filter struct {
	PropertyName string   `json:"propertyName"`
	Operator     Operator `json:"operator"`
	Value        string   `json:"value,omitempty"`
	Values       []string `json:"values,omitempty"`
}

// FilterGroup is a set of AND-combined filters. Multiple groups in one
// search request are OR-combined.
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// SearchRequest is the body for the CRM object search endpoint.
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

// Record is a company record as returned by the CRM.
type Record struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Archived   bool              `json:"archived"`
}

// searchResponse is the wire shape of a search result page.
type searchResponse struct {
	Total   int      `json:"total"`
	Results []Record `json:"results"`
}

// mergeRequest is the body for the company merge endpoint.
type mergeRequest struct {
	PrimaryObjectID string `json:"primaryObjectId"`
	ObjectIDToMerge string `json:"objectIdToMerge"`
}

// updateRequest is the body for the company patch endpoint.
type updateRequest struct {
	Properties map[string]string `json:"properties"`
}
