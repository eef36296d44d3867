package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pipewright/pipewright/pkg/common/config"
	"github.com/pipewright/pipewright/pkg/common/metrics"
	"github.com/pipewright/pipewright/pkg/query/cache"
	"github.com/pipewright/pipewright/pkg/query/compiler"
	"github.com/pipewright/pipewright/pkg/query/executor"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"go.uber.org/zap"
)

// ErrUnknownCollection is returned for collections missing from the schema
var ErrUnknownCollection = errors.New("unknown collection")

// QueryService compiles and runs queries against the registered collections.
// It is shared by the REST and gRPC front ends.
type QueryService struct {
	registry *schema.Registry
	settings config.CompilerSettings
	cache    *cache.PipelineCache
	executor *executor.Executor
	metrics  *metrics.MetricsCollector
	logger   *zap.Logger
}

// NewQueryService creates a query service. settings are the process-wide
// compiler settings; collections may override them in the schema file.
// collector may be nil.
func NewQueryService(registry *schema.Registry, settings config.CompilerSettings, pipelines *cache.PipelineCache, exec *executor.Executor, collector *metrics.MetricsCollector, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		registry: registry,
		settings: settings.Clone(),
		cache:    pipelines,
		executor: exec,
		metrics:  collector,
		logger:   logger,
	}
}

// DefaultLang returns the language used for collection when the request
// names none
func (s *QueryService) DefaultLang(collection string) string {
	return s.registry.Settings(collection, s.settings).Translations.DefaultLang
}

// Compile returns the pipeline for req on collection, from the cache when
// an identical request was compiled before. An empty lang selects the
// collection's default language.
func (s *QueryService) Compile(collection, lang string, req *parser.Request) (*compiler.Pipeline, error) {
	coll, ok := s.registry.Get(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	settings := s.registry.Settings(collection, s.settings)
	if lang == "" {
		lang = settings.Translations.DefaultLang
	}

	key, err := cache.Key(collection, lang, req)
	if err != nil {
		return nil, err
	}

	p, hit, err := s.cache.GetOrCompile(key, func() (*compiler.Pipeline, error) {
		start := time.Now()
		p, err := compiler.New(coll, settings, lang, req, s.logger).
			Filter().
			Search(coll.SearchFields()).
			Sort().
			LimitFields().
			Paginate().
			Populate().
			Compile()
		s.recordCompile(collection, start, p, err)
		return p, err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Pipeline ready",
		zap.String("collection", collection),
		zap.String("lang", lang),
		zap.Bool("cached", hit),
		zap.Int("stages", len(p.Stages)))
	return p, nil
}

// Execute compiles req and runs it with its total count in one round trip
func (s *QueryService) Execute(ctx context.Context, collection, lang string, req *parser.Request) (*executor.Result, error) {
	p, err := s.Compile(collection, lang, req)
	if err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, collection, p)
}

// Count compiles req and returns the number of matching documents,
// ignoring pagination
func (s *QueryService) Count(ctx context.Context, collection, lang string, req *parser.Request) (int64, error) {
	p, err := s.Compile(collection, lang, req)
	if err != nil {
		return 0, err
	}
	return s.executor.Count(ctx, collection, p)
}

func (s *QueryService) recordCompile(collection string, start time.Time, p *compiler.Pipeline, err error) {
	if s.metrics == nil {
		return
	}
	if err != nil {
		s.metrics.RecordCompile(collection, metrics.StatusError, time.Since(start), 0)
		return
	}
	s.metrics.RecordCompile(collection, metrics.StatusOK, time.Since(start), len(p.Stages))
}
