package schema

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pipewright/pipewright/pkg/common/config"
	"gopkg.in/yaml.v3"
)

// Registry holds the collections a server can query
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	settings    map[string]config.CompilerSettings
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[string]*Collection),
		settings:    make(map[string]config.CompilerSettings),
	}
}

// Register adds a collection, replacing any collection with the same name
func (r *Registry) Register(c *Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[c.Name()] = c
}

// SetSettings overrides the compiler settings used for one collection
func (r *Registry) SetSettings(collection string, s config.CompilerSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[collection] = s.Clone()
}

// Get returns the named collection
func (r *Registry) Get(name string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	return c, ok
}

// Settings returns the settings override for a collection, or defaults when
// the collection has none
func (r *Registry) Settings(collection string, defaults config.CompilerSettings) config.CompilerSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.settings[collection]; ok {
		return s.Clone()
	}
	return defaults.Clone()
}

// Names returns the registered collection names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type fileSchema struct {
	Collections map[string]fileCollection `yaml:"collections"`
}

type fileCollection struct {
	Fields       map[string]fileField `yaml:"fields"`
	SearchFields []string             `yaml:"search_fields"`
	Settings     *yaml.Node           `yaml:"settings"`
}

type fileField struct {
	Type         string `yaml:"type"`
	Ref          string `yaml:"ref"`
	Translatable bool   `yaml:"translatable"`
}

// LoadRegistry reads a YAML schema file. A collection's settings block is
// applied on top of defaults, so it only needs to name the keys it changes.
//
//	collections:
//	  items:
//	    search_fields: [name, description]
//	    fields:
//	      name: {type: string, translatable: true}
//	      users: {type: array, ref: User}
//	    settings:
//	      fields_to_hide: [secret]
func LoadRegistry(path string, defaults config.CompilerSettings) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return ParseRegistry(data, defaults)
}

// ParseRegistry builds a registry from YAML schema content
func ParseRegistry(data []byte, defaults config.CompilerSettings) (*Registry, error) {
	var fs fileSchema
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	r := NewRegistry()
	for name, fc := range fs.Collections {
		fields := make([]Field, 0, len(fc.Fields))
		for path, ff := range fc.Fields {
			t, err := ParseFieldType(ff.Type)
			if err != nil {
				return nil, fmt.Errorf("collection %s field %s: %w", name, path, err)
			}
			fields = append(fields, Field{
				Path:         path,
				Type:         t,
				Ref:          ff.Ref,
				Translatable: ff.Translatable,
			})
		}

		c, err := NewCollection(name, fields)
		if err != nil {
			return nil, err
		}
		for _, sf := range fc.SearchFields {
			if !c.Has(sf) {
				return nil, fmt.Errorf("collection %s: search field %s is not declared", name, sf)
			}
		}
		r.Register(c.WithSearchFields(fc.SearchFields...))

		if fc.Settings != nil {
			s := defaults.Clone()
			if err := fc.Settings.Decode(&s); err != nil {
				return nil, fmt.Errorf("collection %s settings: %w", name, err)
			}
			if err := s.Validate(); err != nil {
				return nil, fmt.Errorf("collection %s settings: %w", name, err)
			}
			r.SetSettings(name, s)
		}
	}

	return r, nil
}
