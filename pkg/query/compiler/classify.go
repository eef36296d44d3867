package compiler

import (
	"strings"

	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/schema"
)

// Classified holds the clauses of a request that refer to known fields
type Classified struct {
	Filters   []parser.FilterClause
	Populates []parser.PopulateClause
}

// Classify drops clauses on fields the descriptor does not know. Control
// keys never reach here: the parser has already moved them out of the
// filter list. A join is kept when the first segment of its path is known.
func Classify(req *parser.Request, desc schema.Descriptor) Classified {
	var out Classified
	for _, f := range req.Filters {
		if desc.Has(f.Path) {
			out.Filters = append(out.Filters, f)
		}
	}
	for _, p := range req.Populates {
		root := p.Path
		if i := strings.IndexByte(root, '.'); i >= 0 {
			root = root[:i]
		}
		if desc.Has(root) {
			out.Populates = append(out.Populates, p)
		}
	}
	return out
}
