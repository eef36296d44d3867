package compiler

import (
	"fmt"
	"math"

	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"github.com/spf13/cast"
)

// Paginate emits Skip and Limit for the requested page. A limit of -1 or
// less disables pagination. Missing or zero values fall back to page 1 and
// the configured default limit.
func (c *Compiler) Paginate() *Compiler {
	if c.err != nil {
		return c
	}

	rawLimit, err := parseNumber(parser.KeyLimit, c.req.Limit)
	if err != nil {
		c.fail(err)
		return c
	}
	if rawLimit <= -1 {
		return c
	}
	limit, err := toInt(parser.KeyLimit, c.req.Limit, rawLimit)
	if err != nil {
		c.fail(err)
		return c
	}
	if limit == 0 {
		limit = int64(c.settings.Pagination.DefaultLimit)
	}

	rawPage, err := parseNumber(parser.KeyPage, c.req.Page)
	if err != nil {
		c.fail(err)
		return c
	}
	page, err := toInt(parser.KeyPage, c.req.Page, rawPage)
	if err != nil {
		c.fail(err)
		return c
	}
	if page < 0 {
		c.fail(newError(KindInvalidPagination, parser.KeyPage, fmt.Sprintf("page must not be negative, got %d", page), nil))
		return c
	}
	if page == 0 {
		page = 1
	}

	c.stages = append(c.stages, stage.Skip{N: limit * (page - 1)}, stage.Limit{N: limit})
	return c
}

// parseNumber parses a pagination value; an empty value parses as zero
func parseNumber(field, raw string) (float64, *Error) {
	if raw == "" {
		return 0, nil
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, newError(KindInvalidPagination, field, fmt.Sprintf("value %q is not a number", raw), err)
	}
	return f, nil
}

// toInt accepts f only when it is a whole number within int32 range
func toInt(field, raw string, f float64) (int64, *Error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, newError(KindInvalidPagination, field, fmt.Sprintf("value %q is not a valid integer", raw), nil)
	}
	return int64(f), nil
}
