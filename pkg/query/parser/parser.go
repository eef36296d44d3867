// Package parser turns decoded query strings into a typed request that the
// compiler consumes.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/pipewright/pipewright/pkg/query/stage"
)

// ErrMalformedQuery is wrapped by every error Parse returns
var ErrMalformedQuery = errors.New("malformed query")

// Control keys are consumed by the sort, projection, pagination, search and
// language steps and never become filters.
const (
	KeySearch   = "search"
	KeyPage     = "page"
	KeySort     = "sort"
	KeyLimit    = "limit"
	KeySkip     = "skip"
	KeyFields   = "fields"
	KeyPopulate = "populate"
	KeyLang     = "lang"
)

const (
	// MarkerPopulate marks a value as a join request, e.g. users[p]=name
	MarkerPopulate = "p"
	// MarkerRegex marks a value as a substring match, e.g. name[s]=jo
	MarkerRegex = "s"
	// JoinSeparator separates the segments of a nested join path
	JoinSeparator = "->"
	// ListSeparator separates entries of list-valued parameters
	ListSeparator = ";"
	// Wildcard keeps every field of a joined document
	Wildcard = "*"
)

var controlKeys = map[string]struct{}{
	KeySearch:   {},
	KeyPage:     {},
	KeySort:     {},
	KeyLimit:    {},
	KeySkip:     {},
	KeyFields:   {},
	KeyPopulate: {},
	KeyLang:     {},
}

var operators = map[string]stage.Operator{
	"gt":  stage.OpGt,
	"gte": stage.OpGte,
	"lt":  stage.OpLt,
	"lte": stage.OpLte,
	"ne":  stage.OpNe,
	"in":  stage.OpIn,
	"nin": stage.OpNin,
}

// IsControlKey reports whether key is reserved for a non-filter parameter
func IsControlKey(key string) bool {
	_, ok := controlKeys[key]
	return ok
}

// QueryParser parses decoded query strings
type QueryParser struct{}

// NewQueryParser creates a new query parser
func NewQueryParser() *QueryParser {
	return &QueryParser{}
}

// ParseValues decodes and parses raw query parameters
func (p *QueryParser) ParseValues(values url.Values) (*Request, error) {
	return p.Parse(Decode(values))
}

// ParseString parses an encoded query string, with or without a leading '?'
func (p *QueryParser) ParseString(query string) (*Request, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	return p.ParseValues(values)
}

// Parse builds a Request from a decoded query. Filters and joins are ordered
// by path so equal queries produce equal requests.
func (p *QueryParser) Parse(q RawQuery) (*Request, error) {
	req := &Request{}

	keys := sortedKeys(q)
	for _, key := range keys {
		value := q[key]
		if IsControlKey(key) {
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a plain value", ErrMalformedQuery, key)
			}
			p.parseControl(req, key, s)
			continue
		}
		if err := p.parseField(req, []string{key}, value); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(req.Filters, func(i, j int) bool { return req.Filters[i].Path < req.Filters[j].Path })
	sort.SliceStable(req.Populates, func(i, j int) bool { return req.Populates[i].Path < req.Populates[j].Path })
	return req, nil
}

func (p *QueryParser) parseControl(req *Request, key, value string) {
	switch key {
	case KeySearch:
		req.Search = value
	case KeyPage:
		req.Page = strings.TrimSpace(value)
	case KeyLimit:
		req.Limit = strings.TrimSpace(value)
	case KeyLang:
		req.Lang = strings.TrimSpace(value)
	case KeySort:
		for _, entry := range splitList(value) {
			if strings.HasPrefix(entry, "-") {
				req.Sort = append(req.Sort, SortKey{Field: entry[1:], Direction: stage.Descending})
			} else {
				req.Sort = append(req.Sort, SortKey{Field: entry, Direction: stage.Ascending})
			}
		}
	case KeyFields:
		req.Fields = parseSelectors(value)
	}
	// skip and populate are reserved but carry no meaning of their own
}

func (p *QueryParser) parseField(req *Request, path []string, value interface{}) error {
	switch v := value.(type) {
	case string:
		req.Filters = append(req.Filters, leafClause(path, v))
		return nil

	case RawQuery:
		if marker, ok := v[MarkerPopulate]; ok {
			payload, ok := marker.(string)
			if !ok {
				return fmt.Errorf("%w: %s[%s] must be a plain value", ErrMalformedQuery, strings.Join(path, "."), MarkerPopulate)
			}
			req.Populates = append(req.Populates, populateClause(path, payload))
			return nil
		}
		if marker, ok := v[MarkerRegex]; ok {
			pattern, ok := marker.(string)
			if !ok {
				return fmt.Errorf("%w: %s[%s] must be a plain value", ErrMalformedQuery, strings.Join(path, "."), MarkerRegex)
			}
			req.Filters = append(req.Filters, FilterClause{
				Path:   strings.Join(path, "."),
				Kind:   FilterRegex,
				Values: []string{pattern},
			})
			return nil
		}
		for _, key := range sortedKeys(v) {
			child := append(append([]string(nil), path...), key)
			if err := p.parseField(req, child, v[key]); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported value %T for %s", ErrMalformedQuery, value, strings.Join(path, "."))
	}
}

func leafClause(path []string, value string) FilterClause {
	if len(path) > 1 {
		if op, ok := operators[path[len(path)-1]]; ok {
			clause := FilterClause{
				Path: strings.Join(path[:len(path)-1], "."),
				Kind: FilterOperator,
				Op:   op,
			}
			if op == stage.OpIn || op == stage.OpNin {
				clause.Values = strings.Split(value, ListSeparator)
			} else {
				clause.Values = []string{value}
			}
			return clause
		}
	}
	return FilterClause{
		Path:   strings.Join(path, "."),
		Kind:   FilterEquals,
		Values: []string{value},
	}
}

func populateClause(path []string, payload string) PopulateClause {
	clause := PopulateClause{
		Path: strings.ReplaceAll(strings.Join(path, "."), JoinSeparator, "."),
	}
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == Wildcard {
		return clause
	}
	for _, entry := range splitList(payload) {
		entry = strings.TrimPrefix(entry, "+")
		if strings.HasPrefix(entry, "-") {
			clause.Select = append(clause.Select, FieldSelector{Field: entry[1:], Exclude: true})
		} else {
			clause.Select = append(clause.Select, FieldSelector{Field: entry})
		}
	}
	return clause
}

func parseSelectors(value string) []FieldSelector {
	var out []FieldSelector
	for _, entry := range splitList(value) {
		if strings.HasPrefix(entry, "-") {
			out = append(out, FieldSelector{Field: entry[1:], Exclude: true})
		} else {
			out = append(out, FieldSelector{Field: entry})
		}
	}
	return out
}

// splitList splits a ';'-separated list, dropping blank entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ListSeparator) {
		part = strings.TrimSpace(part)
		if part == "" || part == "-" || part == "+" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func sortedKeys(q RawQuery) []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
