package stage

import (
	"fmt"
	"sort"
	"strings"
)

// Operator is a comparison or set-membership operator.
type Operator string

const (
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpNe  Operator = "ne"
	OpIn  Operator = "in"
	OpNin Operator = "nin"
)

// Criterion is one condition of a Match stage. Key identifies the condition
// for merging: two criteria with the same key describe the same constraint.
type Criterion interface {
	Key() string
	isCriterion()
}

// Eq requires Field to equal Value.
type Eq struct {
	Field string
	Value interface{}
}

func (e Eq) Key() string    { return e.Field }
func (Eq) isCriterion()     {}
func (e Eq) String() string { return fmt.Sprintf("%s=%v", e.Field, e.Value) }

// Cmp applies Op to Field and Value. For OpIn and OpNin Value is a slice.
type Cmp struct {
	Field string
	Op    Operator
	Value interface{}
}

func (c Cmp) Key() string    { return c.Field }
func (Cmp) isCriterion()     {}
func (c Cmp) String() string { return fmt.Sprintf("%s[%s]=%v", c.Field, c.Op, c.Value) }

// Regex is a case-insensitive regular expression match on Field.
type Regex struct {
	Field   string
	Pattern string
}

func (r Regex) Key() string    { return r.Field }
func (Regex) isCriterion()     {}
func (r Regex) String() string { return fmt.Sprintf("%s~/%s/i", r.Field, r.Pattern) }

// Or is satisfied when any of its terms is.
type Or struct {
	Terms []Criterion
}

// Key is derived from the set of fields the terms constrain, so two
// alternatives over the same fields collide and alternatives over different
// fields coexist.
func (o Or) Key() string {
	seen := make(map[string]struct{}, len(o.Terms))
	fields := make([]string, 0, len(o.Terms))
	for _, t := range o.Terms {
		k := t.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return "$or:" + strings.Join(fields, ",")
}

func (Or) isCriterion() {}

func (o Or) String() string {
	parts := make([]string, len(o.Terms))
	for i, t := range o.Terms {
		parts[i] = fmt.Sprint(t)
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

// Expression is a computed value used by AddFields.
type Expression interface {
	isExpression()
}

// ScoreTerm contributes Weight to a RelevanceScore when Path matches
// Pattern case-insensitively, and zero otherwise.
type ScoreTerm struct {
	Path    string
	Pattern string
	Weight  int
}

// RelevanceScore sums the weights of the matching terms.
type RelevanceScore struct {
	Terms []ScoreTerm
}

func (RelevanceScore) isExpression() {}
