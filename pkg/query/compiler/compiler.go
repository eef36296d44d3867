// Package compiler translates a parsed query into an aggregation pipeline.
//
// A Compiler is built for one request. Each step appends stages in call
// order; Compile reorders them into canonical form:
//
//	p, err := compiler.New(coll, settings, lang, req, logger).
//		Filter().
//		Search(coll.SearchFields()).
//		Sort().
//		LimitFields().
//		Paginate().
//		Populate().
//		Compile()
//
// The first failing step is remembered and returned by Compile; later steps
// do nothing.
package compiler

import (
	"github.com/pipewright/pipewright/pkg/common/config"
	"github.com/pipewright/pipewright/pkg/query/optimizer"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// CountField is the field the count branch writes its total to
const CountField = "total"

// Pipeline is a compiled, canonically ordered pipeline
type Pipeline struct {
	Stages []stage.Stage
	// CountStages is Stages without Skip and Limit, ending with a Count.
	// It is nil when total counts are disabled.
	CountStages []stage.Stage
	LogQuery    bool
}

// Compiler builds the pipeline for a single request. It is not safe for
// concurrent use.
type Compiler struct {
	desc       schema.Descriptor
	settings   config.CompilerSettings
	lang       string
	req        *parser.Request
	classified Classified
	stages     []stage.Stage
	err        error
	logger     *zap.Logger
}

// New creates a compiler. An empty lang selects the default language of the
// settings. The settings are copied; later changes to the caller's value do
// not affect this compiler.
func New(desc schema.Descriptor, settings config.CompilerSettings, lang string, req *parser.Request, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if req == nil {
		req = &parser.Request{}
	}
	if lang == "" {
		lang = settings.Translations.DefaultLang
	}
	return &Compiler{
		desc:       desc,
		settings:   settings.Clone(),
		lang:       lang,
		req:        req,
		classified: Classify(req, desc),
		logger:     logger,
	}
}

// Lang returns the language used for translatable fields
func (c *Compiler) Lang() string {
	return c.lang
}

// AddStage appends a caller-supplied stage. It is reordered with the rest.
func (c *Compiler) AddStage(s stage.Stage) *Compiler {
	if c.err == nil && s != nil {
		c.stages = append(c.stages, s)
	}
	return c
}

// AddRawStage appends a stage document that is passed to the engine as it
// is, such as an $unwind or $group the query grammar cannot express
func (c *Compiler) AddRawStage(doc bson.D) *Compiler {
	if len(doc) == 0 {
		return c
	}
	return c.AddStage(stage.Raw{Doc: doc})
}

// Stages returns the stages appended so far, in call order
func (c *Compiler) Stages() []stage.Stage {
	out := make([]stage.Stage, len(c.stages))
	copy(out, c.stages)
	return out
}

// Err returns the first error raised by a step
func (c *Compiler) Err() error {
	return c.err
}

// Compile reorders the collected stages and derives the count pipeline
func (c *Compiler) Compile() (*Pipeline, error) {
	if c.err != nil {
		return nil, c.err
	}

	stages := optimizer.Reorder(c.stages)
	p := &Pipeline{
		Stages:   stages,
		LogQuery: c.settings.Debug.LogQuery,
	}
	if c.settings.EnableTotalCount {
		p.CountStages = CountPipeline(stages)
	}

	c.logger.Debug("Compiled pipeline",
		zap.Int("input_stages", len(c.stages)),
		zap.Int("stages", len(stages)),
		zap.Bool("total_count", p.CountStages != nil))

	return p, nil
}

// CountPipeline returns stages without Skip and Limit, followed by a Count
func CountPipeline(stages []stage.Stage) []stage.Stage {
	out := make([]stage.Stage, 0, len(stages)+1)
	for _, s := range stages {
		switch s.Kind() {
		case stage.KindSkip, stage.KindLimit:
			continue
		}
		out = append(out, s)
	}
	return append(out, stage.Count{Field: CountField})
}

func (c *Compiler) fail(err *Error) {
	if c.err == nil {
		c.err = err
		c.logger.Debug("Compilation step failed", zap.Error(err))
	}
}

func (c *Compiler) translatable(field string) bool {
	if !c.settings.Translations.Enabled {
		return false
	}
	_, ok := c.desc.TranslatableFields()[field]
	return ok
}

// translatedPaths returns the per-language paths of a translatable field:
// the current language first, then the default language when it differs.
func (c *Compiler) translatedPaths(field string) []string {
	paths := []string{"translations." + c.lang + "." + field}
	if def := c.settings.Translations.DefaultLang; c.lang != def {
		paths = append(paths, "translations."+def+"."+field)
	}
	return paths
}

// queryPaths returns the paths a criterion on field must be applied to
func (c *Compiler) queryPaths(field string) []string {
	if c.translatable(field) {
		return c.translatedPaths(field)
	}
	return []string{field}
}
