package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pipewright/pipewright/pkg/common/config"
	"github.com/pipewright/pipewright/pkg/query/compiler"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var (
	compileSchema string
	compileLang   string
	compileStages []string
)

var compileCmd = &cobra.Command{
	Use:   "compile <collection> <query>",
	Short: "Print the pipeline a query compiles to, without running it",
	Example: `  pipewright compile items 'name[s]=lamp&sort=-createdAt&page=2&limit=10'
  pipewright compile --lang it items 'owner[p]=email&fields=name;-secret'
  pipewright compile --stage '{"$unwind": "$tags"}' items 'tags=red'`,
	Args: cobra.ExactArgs(2),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileSchema, "schema", "", "schema file (defaults to schema_file from the config)")
	compileCmd.Flags().StringVar(&compileLang, "lang", "", "language for translatable fields")
	compileCmd.Flags().StringArrayVar(&compileStages, "stage", nil, "extra stage as extended JSON, appended after the filter (repeatable)")
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(cfgFile)
	if err != nil {
		return err
	}
	schemaFile := cfg.SchemaFile
	if compileSchema != "" {
		schemaFile = compileSchema
	}
	registry, err := schema.LoadRegistry(schemaFile, cfg.Compiler)
	if err != nil {
		return err
	}
	extra, err := parseRawStages(compileStages)
	if err != nil {
		return err
	}
	return explain(cmd.OutOrStdout(), registry, cfg.Compiler, args[0], args[1], compileLang, extra, logger)
}

// parseRawStages decodes each argument as a single extended JSON stage document
func parseRawStages(args []string) ([]bson.D, error) {
	docs := make([]bson.D, 0, len(args))
	for _, a := range args {
		var doc bson.D
		if err := bson.UnmarshalExtJSON([]byte(a), false, &doc); err != nil {
			return nil, fmt.Errorf("invalid --stage %q: %w", a, err)
		}
		if len(doc) != 1 {
			return nil, fmt.Errorf("invalid --stage %q: a stage has exactly one operator, got %d", a, len(doc))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type explainOutput struct {
	Collection    string          `json:"collection"`
	Lang          string          `json:"lang"`
	Pipeline      json.RawMessage `json:"pipeline"`
	CountPipeline json.RawMessage `json:"countPipeline,omitempty"`
}

// explain compiles query for collection, with any extra raw stages, and
// writes both pipelines to w as indented JSON
func explain(w io.Writer, registry *schema.Registry, defaults config.CompilerSettings, collection, query, lang string, extra []bson.D, logger *zap.Logger) error {
	coll, ok := registry.Get(collection)
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}
	req, err := parser.NewQueryParser().ParseString(query)
	if err != nil {
		return err
	}
	if lang == "" {
		lang = req.Lang
	}

	c := compiler.New(coll, registry.Settings(collection, defaults), lang, req, logger).Filter()
	for _, doc := range extra {
		c.AddRawStage(doc)
	}
	p, err := c.Search(coll.SearchFields()).
		Sort().
		LimitFields().
		Paginate().
		Populate().
		Compile()
	if err != nil {
		return err
	}

	out := explainOutput{Collection: collection, Lang: c.Lang()}
	if out.Pipeline, err = stage.MarshalJSON(p.Stages); err != nil {
		return err
	}
	if p.CountStages != nil {
		if out.CountPipeline, err = stage.MarshalJSON(p.CountStages); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
