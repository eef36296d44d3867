package parser

import (
	"github.com/pipewright/pipewright/pkg/query/stage"
)

// RawQuery is a decoded query string. Values are either strings or nested
// RawQuery maps produced from bracket and dot syntax.
type RawQuery map[string]interface{}

// Request is the parsed form of a query string
type Request struct {
	Filters   []FilterClause   `json:"filters,omitempty"`
	Populates []PopulateClause `json:"populates,omitempty"`
	Sort      []SortKey        `json:"sort,omitempty"`
	Fields    []FieldSelector  `json:"fields,omitempty"`
	Page      string           `json:"page,omitempty"`
	Limit     string           `json:"limit,omitempty"`
	Search    string           `json:"search,omitempty"`
	Lang      string           `json:"lang,omitempty"`
}

// FilterKind distinguishes the forms a filter can take
type FilterKind int

const (
	// FilterEquals matches the field against a single value
	FilterEquals FilterKind = iota
	// FilterRegex matches the field case-insensitively against a pattern
	FilterRegex
	// FilterOperator applies a comparison or set operator
	FilterOperator
)

func (k FilterKind) String() string {
	switch k {
	case FilterEquals:
		return "equals"
	case FilterRegex:
		return "regex"
	case FilterOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// FilterClause is one field filter, e.g. price[gt]=5
type FilterClause struct {
	Path string         `json:"path"`
	Kind FilterKind     `json:"kind"`
	Op   stage.Operator `json:"op,omitempty"`
	// Values holds one raw value, or the operands of in and nin.
	Values []string `json:"values"`
}

// Value returns the first raw value
func (f FilterClause) Value() string {
	if len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

// IsSet reports whether the clause carries a set operator
func (f FilterClause) IsSet() bool {
	return f.Kind == FilterOperator && (f.Op == stage.OpIn || f.Op == stage.OpNin)
}

// PopulateClause asks for a relation field to be joined, e.g. users[p]=name
type PopulateClause struct {
	// Path is dotted; the nested join separator has already been normalized.
	Path string `json:"path"`
	// Select is empty when every field of the joined document is kept.
	Select []FieldSelector `json:"select,omitempty"`
}

// Wildcard reports whether the join keeps every field
func (p PopulateClause) Wildcard() bool {
	return len(p.Select) == 0
}

// SortKey is one entry of the sort parameter
type SortKey struct {
	Field     string          `json:"field"`
	Direction stage.Direction `json:"direction"`
}

// FieldSelector is one entry of a field list; a leading '-' excludes
type FieldSelector struct {
	Field   string `json:"field"`
	Exclude bool   `json:"exclude,omitempty"`
}
