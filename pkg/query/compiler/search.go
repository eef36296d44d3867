package compiler

import (
	"regexp"

	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"go.uber.org/zap"
)

// RelevanceField is the computed field holding a search match score
const RelevanceField = "relevance"

// Search matches the search text against fields, in priority order. It adds
// a relevance score where a match on an earlier field scores closer to zero,
// and sorts on it when the sort parameter names relevance. Search does
// nothing when there is no search text or when any field is not a string.
func (c *Compiler) Search(fields []string) *Compiler {
	if c.err != nil || c.req.Search == "" || len(fields) == 0 {
		return c
	}

	for _, f := range fields {
		if t := c.desc.DeclaredType(f); t != schema.TypeString {
			c.logger.Debug("Skipping search on non-string field",
				zap.String("field", f),
				zap.Stringer("type", t))
			return c
		}
	}

	pattern := regexp.QuoteMeta(c.req.Search)

	var terms []stage.Criterion
	for _, f := range fields {
		for _, p := range c.queryPaths(f) {
			terms = append(terms, stage.Regex{Field: p, Pattern: pattern})
		}
	}

	score := make([]stage.ScoreTerm, len(terms))
	for i, t := range terms {
		score[i] = stage.ScoreTerm{
			Path:    t.Key(),
			Pattern: pattern,
			Weight:  -(i + 1),
		}
	}

	c.stages = append(c.stages,
		stage.Match{Criteria: []stage.Criterion{stage.Or{Terms: terms}}},
		stage.AddFields{Field: RelevanceField, Expr: stage.RelevanceScore{Terms: score}},
	)

	if dir, ok := c.relevanceDirection(); ok {
		c.stages = append(c.stages, stage.Sort{Keys: []stage.SortKey{{Field: RelevanceField, Direction: dir}}})
	}
	return c
}

func (c *Compiler) relevanceDirection() (stage.Direction, bool) {
	for _, k := range c.req.Sort {
		if k.Field == RelevanceField {
			return k.Direction, true
		}
	}
	return 0, false
}
