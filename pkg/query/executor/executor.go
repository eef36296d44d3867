// Package executor runs compiled pipelines against an aggregation engine.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/pipewright/pipewright/pkg/common/metrics"
	"github.com/pipewright/pipewright/pkg/query/compiler"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Branch names of the faceted pipeline
const (
	DocumentsBranch  = "documents"
	TotalCountBranch = "totalCount"
)

// Operation labels for recorded executions
const (
	OperationFacet = "facet"
	OperationCount = "count"
)

// Aggregator runs an aggregation pipeline on a collection and returns the
// resulting documents. Cancellation and timeouts are up to the
// implementation, through ctx.
type Aggregator interface {
	Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error)
}

// Recorder receives one call per engine round trip
type Recorder interface {
	RecordExecution(collection, operation, status string, duration time.Duration, documents int)
}

// Result is the outcome of a faceted execution
type Result struct {
	Documents []bson.M `json:"documents"`
	// TotalCount is nil when total counts are disabled.
	TotalCount *int64 `json:"totalCount"`
}

// Executor runs pipelines in a single engine round trip each
type Executor struct {
	agg      Aggregator
	logger   *zap.Logger
	recorder Recorder
}

// NewExecutor creates an executor. recorder may be nil.
func NewExecutor(agg Aggregator, logger *zap.Logger, recorder Recorder) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		agg:      agg,
		logger:   logger,
		recorder: recorder,
	}
}

// BuildFacet wraps a pipeline into the documents and totalCount branches.
// The count branch is left out when p has no count stages.
func BuildFacet(p *compiler.Pipeline) stage.Facet {
	f := stage.Facet{Branches: []stage.Branch{
		{Name: DocumentsBranch, Stages: p.Stages},
	}}
	if p.CountStages != nil {
		f.Branches = append(f.Branches, stage.Branch{Name: TotalCountBranch, Stages: p.CountStages})
	}
	return f
}

// Execute fetches the documents and, when enabled, the total count of a
// pipeline in one request. Engine errors are returned wrapped and are not
// retried.
func (e *Executor) Execute(ctx context.Context, collection string, p *compiler.Pipeline) (*Result, error) {
	facet := []stage.Stage{BuildFacet(p)}
	if p.LogQuery {
		e.logPipeline(collection, facet)
	}

	start := time.Now()
	docs, err := e.agg.Aggregate(ctx, collection, stage.RenderPipeline(facet))
	if err != nil {
		e.record(collection, OperationFacet, metrics.StatusError, start, 0)
		return nil, fmt.Errorf("failed to execute pipeline on %s: %w", collection, err)
	}

	result, err := decodeFacet(docs, p.CountStages != nil)
	if err != nil {
		e.record(collection, OperationFacet, metrics.StatusError, start, 0)
		return nil, fmt.Errorf("failed to decode result from %s: %w", collection, err)
	}
	e.record(collection, OperationFacet, metrics.StatusOK, start, len(result.Documents))

	e.logger.Debug("Executed pipeline",
		zap.String("collection", collection),
		zap.Int("documents", len(result.Documents)),
		zap.Duration("took", time.Since(start)))

	return result, nil
}

// Count runs only the count pipeline and returns the number of matching
// documents, or 0 when nothing matches. It runs even when total counts are
// disabled for Execute.
func (e *Executor) Count(ctx context.Context, collection string, p *compiler.Pipeline) (int64, error) {
	stages := p.CountStages
	if stages == nil {
		stages = compiler.CountPipeline(p.Stages)
	}
	if p.LogQuery {
		e.logPipeline(collection, stages)
	}

	start := time.Now()
	docs, err := e.agg.Aggregate(ctx, collection, stage.RenderPipeline(stages))
	if err != nil {
		e.record(collection, OperationCount, metrics.StatusError, start, 0)
		return 0, fmt.Errorf("failed to count on %s: %w", collection, err)
	}
	e.record(collection, OperationCount, metrics.StatusOK, start, 0)

	if len(docs) == 0 {
		return 0, nil
	}
	n, err := toInt64(docs[0][compiler.CountField])
	if err != nil {
		return 0, fmt.Errorf("failed to decode count from %s: %w", collection, err)
	}
	return n, nil
}

func (e *Executor) logPipeline(collection string, stages []stage.Stage) {
	out, err := stage.MarshalJSON(stages)
	if err != nil {
		e.logger.Warn("Failed to render pipeline for logging", zap.Error(err))
		return
	}
	e.logger.Info("Aggregation pipeline",
		zap.String("collection", collection),
		zap.String("pipeline", string(out)))
}

func (e *Executor) record(collection, operation, status string, start time.Time, documents int) {
	if e.recorder != nil {
		e.recorder.RecordExecution(collection, operation, status, time.Since(start), documents)
	}
}
