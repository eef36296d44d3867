package compiler

import (
	"github.com/pipewright/pipewright/pkg/query/stage"
)

// LimitFields emits the projection from the fields parameter. Translatable
// fields also project their per-language values. Configured hidden fields
// are always excluded.
func (c *Compiler) LimitFields() *Compiler {
	if c.err != nil {
		return c
	}

	var p stage.Project
	for _, sel := range c.req.Fields {
		entries := []stage.Projection{{Field: sel.Field, Include: !sel.Exclude}}
		if c.translatable(sel.Field) {
			for _, path := range c.translatedPaths(sel.Field) {
				entries = append(entries, stage.Projection{Field: path, Include: !sel.Exclude})
			}
		}
		p = p.Merge(stage.Project{Fields: entries})
	}
	p = p.Merge(c.hiddenFields())

	if len(p.Fields) > 0 {
		c.stages = append(c.stages, p)
	}
	return c
}

func (c *Compiler) hiddenFields() stage.Project {
	var p stage.Project
	for _, f := range c.settings.FieldsToHide {
		p.Fields = append(p.Fields, stage.Projection{Field: f, Include: false})
	}
	return p
}
