package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// CompilerSettings configures how query strings are compiled into pipelines.
//
// A CompilerSettings value is produced once at startup and copied into every
// compiler; it must not be changed while compilations are running. Use
// Clone when a modified copy is needed.
type CompilerSettings struct {
	EnableTotalCount bool                `yaml:"enable_total_count"`
	FieldsToHide     []string            `yaml:"fields_to_hide"`
	Translations     TranslationSettings `yaml:"translations"`
	Pagination       PaginationSettings  `yaml:"pagination"`
	Debug            DebugSettings       `yaml:"debug"`
	DefaultSort      DefaultSortSettings `yaml:"default_sort"`
}

// TranslationSettings controls per-language field lookup
type TranslationSettings struct {
	Enabled     bool   `yaml:"enabled"`
	DefaultLang string `yaml:"default_lang"`
}

// PaginationSettings controls paging when the query does not set a limit
type PaginationSettings struct {
	DefaultLimit int `yaml:"default_limit"`
}

// DebugSettings controls diagnostic output
type DebugSettings struct {
	LogQuery bool `yaml:"log_query"`
}

// DefaultSortSettings names the sort applied when the query has none
type DefaultSortSettings struct {
	Field      string `yaml:"field"`
	Descending bool   `yaml:"descending"`
}

// DefaultCompilerSettings returns the built-in compiler defaults
func DefaultCompilerSettings() CompilerSettings {
	return CompilerSettings{
		EnableTotalCount: true,
		FieldsToHide:     []string{},
		Translations: TranslationSettings{
			Enabled:     false,
			DefaultLang: "en",
		},
		Pagination: PaginationSettings{
			DefaultLimit: 25,
		},
		DefaultSort: DefaultSortSettings{
			Field:      "createdAt",
			Descending: true,
		},
	}
}

// Clone returns a deep copy of s
func (s CompilerSettings) Clone() CompilerSettings {
	out := s
	if s.FieldsToHide != nil {
		out.FieldsToHide = make([]string, len(s.FieldsToHide))
		copy(out.FieldsToHide, s.FieldsToHide)
	}
	return out
}

// Validate checks that the settings can drive a compilation
func (s CompilerSettings) Validate() error {
	if s.Translations.DefaultLang == "" {
		return fmt.Errorf("compiler.translations.default_lang must not be empty")
	}
	if s.Pagination.DefaultLimit <= 0 {
		return fmt.Errorf("compiler.pagination.default_limit must be positive, got %d", s.Pagination.DefaultLimit)
	}
	return nil
}

func setCompilerDefaults(v *viper.Viper) {
	d := DefaultCompilerSettings()
	v.SetDefault("compiler.enable_total_count", d.EnableTotalCount)
	v.SetDefault("compiler.fields_to_hide", d.FieldsToHide)
	v.SetDefault("compiler.translations.enabled", d.Translations.Enabled)
	v.SetDefault("compiler.translations.default_lang", d.Translations.DefaultLang)
	v.SetDefault("compiler.pagination.default_limit", d.Pagination.DefaultLimit)
	v.SetDefault("compiler.debug.log_query", d.Debug.LogQuery)
	v.SetDefault("compiler.default_sort.field", d.DefaultSort.Field)
	v.SetDefault("compiler.default_sort.descending", d.DefaultSort.Descending)
}

func compilerSettingsFrom(v *viper.Viper) CompilerSettings {
	return CompilerSettings{
		EnableTotalCount: v.GetBool("compiler.enable_total_count"),
		FieldsToHide:     v.GetStringSlice("compiler.fields_to_hide"),
		Translations: TranslationSettings{
			Enabled:     v.GetBool("compiler.translations.enabled"),
			DefaultLang: v.GetString("compiler.translations.default_lang"),
		},
		Pagination: PaginationSettings{
			DefaultLimit: v.GetInt("compiler.pagination.default_limit"),
		},
		Debug: DebugSettings{
			LogQuery: v.GetBool("compiler.debug.log_query"),
		},
		DefaultSort: DefaultSortSettings{
			Field:      v.GetString("compiler.default_sort.field"),
			Descending: v.GetBool("compiler.default_sort.descending"),
		},
	}
}
