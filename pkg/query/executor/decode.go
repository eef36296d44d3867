package executor

import (
	"fmt"

	"github.com/pipewright/pipewright/pkg/query/compiler"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// decodeFacet reads the single document a $facet stage produces
func decodeFacet(docs []bson.M, withCount bool) (*Result, error) {
	result := &Result{Documents: []bson.M{}}
	if withCount {
		var zero int64
		result.TotalCount = &zero
	}
	if len(docs) == 0 {
		return result, nil
	}
	if len(docs) > 1 {
		return nil, fmt.Errorf("expected one facet document, got %d", len(docs))
	}

	documents, err := toDocuments(docs[0][DocumentsBranch])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", DocumentsBranch, err)
	}
	result.Documents = documents

	if withCount {
		counts, err := toDocuments(docs[0][TotalCountBranch])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", TotalCountBranch, err)
		}
		if len(counts) > 0 {
			n, err := toInt64(counts[0][compiler.CountField])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", TotalCountBranch, err)
			}
			result.TotalCount = &n
		}
	}

	return result, nil
}

func toDocuments(v interface{}) ([]bson.M, error) {
	var items []interface{}
	switch arr := v.(type) {
	case nil:
		return []bson.M{}, nil
	case primitive.A:
		items = arr
	case []interface{}:
		items = arr
	case []bson.M:
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected branch type %T", v)
	}

	out := make([]bson.M, 0, len(items))
	for _, item := range items {
		switch doc := item.(type) {
		case bson.M:
			out = append(out, doc)
		case bson.D:
			out = append(out, doc.Map())
		default:
			return nil, fmt.Errorf("unexpected document type %T", item)
		}
	}
	return out, nil
}

func toInt64(v interface{}) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("missing %s", compiler.CountField)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("unexpected count value: %w", err)
	}
	return n, nil
}
