package compiler

import (
	"strings"

	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/pipewright/pipewright/pkg/query/stage"
)

// Populate joins every requested relation field. Each join first defaults
// the local field to an empty array, then looks up the referenced
// collection by _id: membership for array fields, equality otherwise.
func (c *Compiler) Populate() *Compiler {
	if c.err != nil {
		return c
	}

	for _, p := range c.classified.Populates {
		lookup, err := c.lookup(p)
		if err != nil {
			c.fail(err)
			return c
		}
		c.stages = append(c.stages, stage.SetDefault{Field: p.Path}, lookup)
	}
	return c
}

func (c *Compiler) lookup(p parser.PopulateClause) (stage.Lookup, *Error) {
	ref, ok := c.desc.RelationTarget(p.Path)
	if !ok {
		return stage.Lookup{}, newError(KindUnresolvedRelation, p.Path, "field has no relation target", nil)
	}

	correlation := stage.Equality
	if c.desc.DeclaredType(p.Path) == schema.TypeArray {
		correlation = stage.Membership
	}

	var inner []stage.Stage
	if !p.Wildcard() {
		var sel stage.Project
		for _, f := range p.Select {
			sel = sel.Merge(stage.Project{Fields: []stage.Projection{{Field: f.Field, Include: !f.Exclude}}})
		}
		inner = append(inner, sel)
	}
	if hidden := c.hiddenFields(); len(hidden.Fields) > 0 {
		inner = append(inner, hidden)
	}

	return stage.Lookup{
		From:         CollectionName(ref),
		LocalField:   p.Path,
		ForeignField: "_id",
		As:           p.Path,
		Correlation:  correlation,
		Pipeline:     inner,
	}, nil
}

// CollectionName derives the collection backing a relation target:
// lower-cased and pluralized with a trailing "s".
func CollectionName(ref string) string {
	return strings.ToLower(ref) + "s"
}
