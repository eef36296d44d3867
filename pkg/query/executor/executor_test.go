package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pipewright/pipewright/pkg/query/compiler"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAggregator struct {
	docs       []bson.M
	err        error
	collection string
	pipeline   bson.A
}

func (f *fakeAggregator) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	f.collection = collection
	f.pipeline = pipeline
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.docs, f.err
}

type execution struct {
	collection, operation, status string
	documents                     int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []execution
}

func (r *fakeRecorder) RecordExecution(collection, operation, status string, _ time.Duration, documents int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, execution{collection, operation, status, documents})
}

func pipeline(withCount bool) *compiler.Pipeline {
	stages := []stage.Stage{
		stage.Match{Criteria: []stage.Criterion{stage.Eq{Field: "name", Value: "Jane"}}},
		stage.Skip{N: 0},
		stage.Limit{N: 10},
	}
	p := &compiler.Pipeline{Stages: stages}
	if withCount {
		p.CountStages = compiler.CountPipeline(stages)
	}
	return p
}

func TestBuildFacet(t *testing.T) {
	p := pipeline(true)
	f := BuildFacet(p)
	require.Len(t, f.Branches, 2)
	assert.Equal(t, DocumentsBranch, f.Branches[0].Name)
	assert.Equal(t, p.Stages, f.Branches[0].Stages)
	assert.Equal(t, TotalCountBranch, f.Branches[1].Name)
	assert.Equal(t, []stage.Stage{
		stage.Match{Criteria: []stage.Criterion{stage.Eq{Field: "name", Value: "Jane"}}},
		stage.Count{Field: "total"},
	}, f.Branches[1].Stages)

	f = BuildFacet(pipeline(false))
	require.Len(t, f.Branches, 1)
	assert.Equal(t, DocumentsBranch, f.Branches[0].Name)
}

func TestExecute(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{
		"documents":  bson.A{bson.M{"name": "Jane"}, bson.D{{Key: "name", Value: "Jane"}}},
		"totalCount": bson.A{bson.M{"total": int32(42)}},
	}}}
	rec := &fakeRecorder{}
	e := NewExecutor(agg, nil, rec)

	res, err := e.Execute(context.Background(), "items", pipeline(true))
	require.NoError(t, err)

	assert.Equal(t, "items", agg.collection)
	require.Len(t, agg.pipeline, 1)
	facet := agg.pipeline[0].(bson.D)
	assert.Equal(t, "$facet", facet[0].Key)

	assert.Len(t, res.Documents, 2)
	assert.Equal(t, "Jane", res.Documents[1]["name"])
	require.NotNil(t, res.TotalCount)
	assert.Equal(t, int64(42), *res.TotalCount)

	assert.Equal(t, []execution{{"items", OperationFacet, "ok", 2}}, rec.calls)
}

func TestExecuteCountDefaultsToZero(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{
		"documents":  bson.A{},
		"totalCount": bson.A{},
	}}}
	res, err := NewExecutor(agg, nil, nil).Execute(context.Background(), "items", pipeline(true))
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	require.NotNil(t, res.TotalCount)
	assert.Equal(t, int64(0), *res.TotalCount)
}

func TestExecuteCountDisabled(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{"documents": bson.A{bson.M{"a": 1}}}}}
	res, err := NewExecutor(agg, nil, nil).Execute(context.Background(), "items", pipeline(false))
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
	assert.Nil(t, res.TotalCount)

	facet := agg.pipeline[0].(bson.D)[0].Value.(bson.D)
	require.Len(t, facet, 1)
	assert.Equal(t, DocumentsBranch, facet[0].Key)
}

func TestExecuteEngineError(t *testing.T) {
	boom := errors.New("connection reset")
	rec := &fakeRecorder{}
	_, err := NewExecutor(&fakeAggregator{err: boom}, nil, rec).Execute(context.Background(), "items", pipeline(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "error", rec.calls[0].status)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecutor(&fakeAggregator{}, nil, nil).Execute(ctx, "items", pipeline(true))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteRejectsMalformedResult(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{"documents": "nope"}}}
	_, err := NewExecutor(agg, nil, nil).Execute(context.Background(), "items", pipeline(false))
	assert.Error(t, err)

	agg = &fakeAggregator{docs: []bson.M{{}, {}}}
	_, err = NewExecutor(agg, nil, nil).Execute(context.Background(), "items", pipeline(false))
	assert.Error(t, err)
}

func TestExecuteLogsQuery(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := pipeline(true)
	p.LogQuery = true

	agg := &fakeAggregator{docs: []bson.M{{"documents": bson.A{}}}}
	_, err := NewExecutor(agg, zap.New(core), nil).Execute(context.Background(), "items", p)
	require.NoError(t, err)

	entries := logs.FilterMessage("Aggregation pipeline").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["pipeline"], `"$facet"`)
	assert.Contains(t, entries[0].ContextMap()["pipeline"], `"totalCount"`)
}

func TestCount(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{"total": int32(7)}}}
	n, err := NewExecutor(agg, nil, nil).Count(context.Background(), "items", pipeline(false))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	last := agg.pipeline[len(agg.pipeline)-1].(bson.D)
	assert.Equal(t, bson.D{{Key: "$count", Value: "total"}}, last)
	for _, s := range agg.pipeline {
		key := s.(bson.D)[0].Key
		assert.NotEqual(t, "$skip", key)
		assert.NotEqual(t, "$limit", key)
	}

	n, err = NewExecutor(&fakeAggregator{}, nil, nil).Count(context.Background(), "items", pipeline(true))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestToInt64(t *testing.T) {
	for _, v := range []interface{}{int32(3), int64(3), 3, 3.0, "3"} {
		n, err := toInt64(v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, int64(3), n)
	}
	for _, v := range []interface{}{nil, "three", bson.M{}} {
		_, err := toInt64(v)
		assert.Error(t, err, "%T", v)
	}
}
