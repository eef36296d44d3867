package compiler

import (
	"github.com/pipewright/pipewright/pkg/query/stage"
)

// Sort emits the requested sort, or the configured default sort when the
// query has none.
func (c *Compiler) Sort() *Compiler {
	if c.err != nil {
		return c
	}

	if len(c.req.Sort) == 0 {
		def := c.settings.DefaultSort
		if def.Field == "" {
			return c
		}
		dir := stage.Ascending
		if def.Descending {
			dir = stage.Descending
		}
		c.stages = append(c.stages, stage.Sort{Keys: []stage.SortKey{{Field: def.Field, Direction: dir}}})
		return c
	}

	var s stage.Sort
	for _, k := range c.req.Sort {
		s = s.Merge(stage.Sort{Keys: []stage.SortKey{{Field: k.Field, Direction: k.Direction}}})
	}
	c.stages = append(c.stages, s)
	return c
}
