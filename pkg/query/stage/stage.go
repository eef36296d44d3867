// Package stage defines the closed set of aggregation pipeline stages the
// compiler produces, and their rendering to BSON documents.
package stage

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Kind identifies the variant of a Stage.
type Kind string

const (
	KindMatch     Kind = "match"
	KindSort      Kind = "sort"
	KindProject   Kind = "project"
	KindSkip      Kind = "skip"
	KindLimit     Kind = "limit"
	KindAddFields Kind = "addFields"
	KindSet       Kind = "set"
	KindLookup    Kind = "lookup"
	KindCount     Kind = "count"
	KindFacet     Kind = "facet"
	KindRaw       Kind = "raw"
)

// Stage is one step of an aggregation pipeline. Stages are values and are
// never mutated after construction; every combining operation returns a new
// stage.
type Stage interface {
	Kind() Kind
	String() string
	isStage()
}

// Direction is a sort direction.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Match filters documents by a conjunction of criteria.
type Match struct {
	Criteria []Criterion
}

func (Match) Kind() Kind { return KindMatch }
func (Match) isStage()   {}
func (m Match) String() string {
	return fmt.Sprintf("Match(criteria=%d)", len(m.Criteria))
}

// Merge returns a Match holding the criteria of m followed by those of other.
// A criterion of other replaces any criterion of m with the same key, except
// that comparison bounds with different operators on one field accumulate.
func (m Match) Merge(other Match) Match {
	out := make([]Criterion, len(m.Criteria))
	copy(out, m.Criteria)
	for _, c := range other.Criteria {
		out = upsertCriterion(out, c)
	}
	return Match{Criteria: out}
}

func upsertCriterion(list []Criterion, c Criterion) []Criterion {
	out := make([]Criterion, 0, len(list)+1)
	placed := false
	for _, existing := range list {
		if existing.Key() == c.Key() && !isBoundPair(existing, c) {
			if !placed {
				out = append(out, c)
				placed = true
			}
			continue
		}
		out = append(out, existing)
	}
	if !placed {
		out = append(out, c)
	}
	return out
}

func isBoundPair(a, b Criterion) bool {
	x, ok := a.(Cmp)
	if !ok {
		return false
	}
	y, ok := b.(Cmp)
	return ok && x.Op != y.Op
}

// SortKey is one field of a Sort stage.
type SortKey struct {
	Field     string
	Direction Direction
}

// Sort orders documents by an ordered list of keys.
type Sort struct {
	Keys []SortKey
}

func (Sort) Kind() Kind { return KindSort }
func (Sort) isStage()   {}
func (s Sort) String() string {
	return fmt.Sprintf("Sort(keys=%v)", s.Keys)
}

// Has reports whether field is one of the sort keys.
func (s Sort) Has(field string) bool {
	for _, k := range s.Keys {
		if k.Field == field {
			return true
		}
	}
	return false
}

// Merge returns a Sort with the keys of other written over s. A key already
// present keeps its position and takes the new direction; new keys are
// appended in order.
func (s Sort) Merge(other Sort) Sort {
	out := make([]SortKey, len(s.Keys), len(s.Keys)+len(other.Keys))
	copy(out, s.Keys)
next:
	for _, k := range other.Keys {
		for i := range out {
			if out[i].Field == k.Field {
				out[i].Direction = k.Direction
				continue next
			}
		}
		out = append(out, k)
	}
	return Sort{Keys: out}
}

// Projection is one field of a Project stage.
type Projection struct {
	Field   string
	Include bool
}

// Project includes or excludes fields from the output documents.
type Project struct {
	Fields []Projection
}

func (Project) Kind() Kind { return KindProject }
func (Project) isStage()   {}
func (p Project) String() string {
	return fmt.Sprintf("Project(fields=%v)", p.Fields)
}

// Merge returns a Project with the entries of other written over p, using
// the same positional rule as Sort.Merge.
func (p Project) Merge(other Project) Project {
	out := make([]Projection, len(p.Fields), len(p.Fields)+len(other.Fields))
	copy(out, p.Fields)
next:
	for _, f := range other.Fields {
		for i := range out {
			if out[i].Field == f.Field {
				out[i].Include = f.Include
				continue next
			}
		}
		out = append(out, f)
	}
	return Project{Fields: out}
}

// Skip drops the first N documents.
type Skip struct {
	N int64
}

func (Skip) Kind() Kind       { return KindSkip }
func (Skip) isStage()         {}
func (s Skip) String() string { return fmt.Sprintf("Skip(%d)", s.N) }

// Limit keeps at most N documents.
type Limit struct {
	N int64
}

func (Limit) Kind() Kind       { return KindLimit }
func (Limit) isStage()         {}
func (l Limit) String() string { return fmt.Sprintf("Limit(%d)", l.N) }

// AddFields computes Field from Expr on every document.
type AddFields struct {
	Field string
	Expr  Expression
}

func (AddFields) Kind() Kind { return KindAddFields }
func (AddFields) isStage()   {}
func (a AddFields) String() string {
	return fmt.Sprintf("AddFields(%s)", a.Field)
}

// SetDefault forces Field to an empty array when it is null or missing, so
// that a following Lookup never correlates against a missing value.
type SetDefault struct {
	Field string
}

func (SetDefault) Kind() Kind { return KindSet }
func (SetDefault) isStage()   {}
func (s SetDefault) String() string {
	return fmt.Sprintf("SetDefault(%s)", s.Field)
}

// Correlation selects how a Lookup matches foreign documents.
type Correlation int

const (
	// Equality matches the foreign field against a scalar local value.
	Equality Correlation = iota
	// Membership matches the foreign field against any element of an array
	// local value.
	Membership
)

func (c Correlation) String() string {
	if c == Membership {
		return "in"
	}
	return "eq"
}

// Lookup joins documents of another collection into As.
type Lookup struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
	Correlation  Correlation
	// Pipeline runs inside the joined collection after correlation.
	Pipeline []Stage
}

func (Lookup) Kind() Kind { return KindLookup }
func (Lookup) isStage()   {}
func (l Lookup) String() string {
	return fmt.Sprintf("Lookup(from=%s, local=%s, as=%s, correlation=%s)", l.From, l.LocalField, l.As, l.Correlation)
}

// Count replaces the stream with a single document {Field: n}.
type Count struct {
	Field string
}

func (Count) Kind() Kind       { return KindCount }
func (Count) isStage()         {}
func (c Count) String() string { return fmt.Sprintf("Count(%s)", c.Field) }

// Branch is one named sub-pipeline of a Facet.
type Branch struct {
	Name   string
	Stages []Stage
}

// Facet runs several sub-pipelines over the same input in one pass.
type Facet struct {
	Branches []Branch
}

func (Facet) Kind() Kind { return KindFacet }
func (Facet) isStage()   {}
func (f Facet) String() string {
	names := make([]string, len(f.Branches))
	for i, b := range f.Branches {
		names[i] = b.Name
	}
	return fmt.Sprintf("Facet(branches=%v)", names)
}

// Raw is a caller-supplied stage document passed through untouched.
type Raw struct {
	Doc bson.D
}

func (Raw) Kind() Kind       { return KindRaw }
func (Raw) isStage()         {}
func (r Raw) String() string { return fmt.Sprintf("Raw(%v)", r.Doc) }
