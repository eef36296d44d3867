package stage

import (
	"bytes"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// lookupVar names the let-variable that carries the local field into a
// Lookup sub-pipeline.
const lookupVar = "localFieldValue"

// Render converts a stage into its aggregation document.
func Render(s Stage) bson.D {
	switch st := s.(type) {
	case Match:
		return bson.D{{Key: "$match", Value: renderCriteria(st.Criteria)}}
	case Sort:
		doc := make(bson.D, 0, len(st.Keys))
		for _, k := range st.Keys {
			doc = append(doc, bson.E{Key: k.Field, Value: int(k.Direction)})
		}
		return bson.D{{Key: "$sort", Value: doc}}
	case Project:
		doc := make(bson.D, 0, len(st.Fields))
		for _, f := range st.Fields {
			v := 0
			if f.Include {
				v = 1
			}
			doc = append(doc, bson.E{Key: f.Field, Value: v})
		}
		return bson.D{{Key: "$project", Value: doc}}
	case Skip:
		return bson.D{{Key: "$skip", Value: st.N}}
	case Limit:
		return bson.D{{Key: "$limit", Value: st.N}}
	case AddFields:
		return bson.D{{Key: "$addFields", Value: bson.D{{Key: st.Field, Value: renderExpression(st.Expr)}}}}
	case SetDefault:
		return bson.D{{Key: "$set", Value: bson.D{{
			Key:   st.Field,
			Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + st.Field, bson.A{}}}},
		}}}}
	case Lookup:
		return renderLookup(st)
	case Count:
		return bson.D{{Key: "$count", Value: st.Field}}
	case Facet:
		doc := make(bson.D, 0, len(st.Branches))
		for _, b := range st.Branches {
			doc = append(doc, bson.E{Key: b.Name, Value: RenderPipeline(b.Stages)})
		}
		return bson.D{{Key: "$facet", Value: doc}}
	case Raw:
		return st.Doc
	default:
		panic(fmt.Sprintf("stage: unknown stage type %T", s))
	}
}

// RenderPipeline converts a stage sequence into an aggregation pipeline.
func RenderPipeline(stages []Stage) bson.A {
	out := make(bson.A, 0, len(stages))
	for _, s := range stages {
		out = append(out, Render(s))
	}
	return out
}

// MarshalJSON renders stages as a relaxed extended JSON array, for logs and
// explain output.
func MarshalJSON(stages []Stage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, s := range stages {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := bson.MarshalExtJSON(Render(s), false, false)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s stage: %w", s.Kind(), err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func renderCriteria(criteria []Criterion) bson.D {
	doc := bson.D{}
	var ors bson.A
	for _, c := range criteria {
		switch cr := c.(type) {
		case Cmp:
			doc = appendBound(doc, cr)
		case Or:
			ors = append(ors, renderOrTerms(cr))
		default:
			doc = append(doc, renderCriterion(c))
		}
	}
	switch len(ors) {
	case 0:
	case 1:
		doc = append(doc, bson.E{Key: "$or", Value: ors[0]})
	default:
		and := make(bson.A, len(ors))
		for i, terms := range ors {
			and[i] = bson.D{{Key: "$or", Value: terms}}
		}
		doc = append(doc, bson.E{Key: "$and", Value: and})
	}
	return doc
}

// appendBound folds comparison operators on the same field into one
// operator document.
func appendBound(doc bson.D, c Cmp) bson.D {
	op := bson.E{Key: "$" + string(c.Op), Value: c.Value}
	for i := range doc {
		if doc[i].Key != c.Field {
			continue
		}
		if ops, ok := doc[i].Value.(bson.D); ok && isOperatorDoc(ops) {
			doc[i].Value = append(ops, op)
			return doc
		}
	}
	return append(doc, bson.E{Key: c.Field, Value: bson.D{op}})
}

func isOperatorDoc(d bson.D) bool {
	return len(d) > 0 && len(d[0].Key) > 0 && d[0].Key[0] == '$' && d[0].Key != "$regex"
}

func renderOrTerms(o Or) bson.A {
	terms := make(bson.A, 0, len(o.Terms))
	for _, t := range o.Terms {
		terms = append(terms, renderCriteria([]Criterion{t}))
	}
	return terms
}

func renderCriterion(c Criterion) bson.E {
	switch cr := c.(type) {
	case Eq:
		return bson.E{Key: cr.Field, Value: cr.Value}
	case Regex:
		return bson.E{Key: cr.Field, Value: bson.D{
			{Key: "$regex", Value: cr.Pattern},
			{Key: "$options", Value: "i"},
		}}
	case Cmp:
		return bson.E{Key: cr.Field, Value: bson.D{{Key: "$" + string(cr.Op), Value: cr.Value}}}
	default:
		panic(fmt.Sprintf("stage: unknown criterion type %T", c))
	}
}

func renderExpression(e Expression) interface{} {
	switch ex := e.(type) {
	case RelevanceScore:
		sum := make(bson.A, 0, len(ex.Terms))
		for _, t := range ex.Terms {
			sum = append(sum, bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: bson.D{{Key: "$regexMatch", Value: bson.D{
					{Key: "input", Value: "$" + t.Path},
					{Key: "regex", Value: t.Pattern},
					{Key: "options", Value: "i"},
				}}}},
				{Key: "then", Value: t.Weight},
				{Key: "else", Value: 0},
			}}})
		}
		return bson.D{{Key: "$sum", Value: sum}}
	default:
		panic(fmt.Sprintf("stage: unknown expression type %T", e))
	}
}

func renderLookup(l Lookup) bson.D {
	op := "$eq"
	if l.Correlation == Membership {
		op = "$in"
	}
	foreign := l.ForeignField
	if foreign == "" {
		foreign = "_id"
	}
	pipeline := bson.A{bson.D{{Key: "$match", Value: bson.D{{
		Key:   "$expr",
		Value: bson.D{{Key: op, Value: bson.A{"$" + foreign, "$$" + lookupVar}}},
	}}}}}
	pipeline = append(pipeline, RenderPipeline(l.Pipeline)...)

	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: l.From},
		{Key: "let", Value: bson.D{{Key: lookupVar, Value: "$" + l.LocalField}}},
		{Key: "pipeline", Value: pipeline},
		{Key: "as", Value: l.As},
	}}}
}
