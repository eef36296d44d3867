package compiler

import (
	"fmt"

	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"github.com/spf13/cast"
)

// Filter emits one Match stage per filter clause on a known field. Values
// are coerced to the field's declared type; a translatable field matches
// either its current-language or default-language value.
func (c *Compiler) Filter() *Compiler {
	if c.err != nil {
		return c
	}

	for _, f := range c.classified.Filters {
		crit, err := c.filterCriterion(f)
		if err != nil {
			c.fail(err)
			return c
		}
		c.stages = append(c.stages, stage.Match{Criteria: []stage.Criterion{crit}})
	}
	return c
}

func (c *Compiler) filterCriterion(f parser.FilterClause) (stage.Criterion, *Error) {
	paths := c.queryPaths(f.Path)
	build := func(path string) stage.Criterion { return stage.Regex{Field: path, Pattern: f.Value()} }

	switch f.Kind {
	case parser.FilterEquals:
		v, err := coerce(f.Path, c.desc.DeclaredType(f.Path), f.Value())
		if err != nil {
			return nil, err
		}
		build = func(path string) stage.Criterion { return stage.Eq{Field: path, Value: v} }

	case parser.FilterOperator:
		var operand interface{}
		if f.IsSet() {
			values := make([]interface{}, 0, len(f.Values))
			for _, raw := range f.Values {
				v, err := coerce(f.Path, c.desc.DeclaredType(f.Path), raw)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			operand = values
		} else {
			v, err := coerce(f.Path, c.desc.DeclaredType(f.Path), f.Value())
			if err != nil {
				return nil, err
			}
			operand = v
		}
		build = func(path string) stage.Criterion { return stage.Cmp{Field: path, Op: f.Op, Value: operand} }
	}

	if len(paths) == 1 {
		return build(paths[0]), nil
	}
	terms := make([]stage.Criterion, len(paths))
	for i, p := range paths {
		terms[i] = build(p)
	}
	return stage.Or{Terms: terms}, nil
}

// coerce converts a raw query value to the Go value stored for a field of
// type t. String, Array and Relation values are left as they are.
func coerce(field string, t schema.FieldType, raw string) (interface{}, *Error) {
	switch t {
	case schema.TypeNumber:
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, newError(KindInvalidFilterValue, field, fmt.Sprintf("value %q is not a number", raw), err)
		}
		return n, nil
	case schema.TypeDate:
		d, err := cast.ToTimeE(raw)
		if err != nil {
			return nil, newError(KindInvalidFilterValue, field, fmt.Sprintf("value %q is not a date", raw), err)
		}
		return d, nil
	case schema.TypeBoolean:
		return raw == "true", nil
	default:
		return raw, nil
	}
}
