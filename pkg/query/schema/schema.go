// Package schema describes the collections a query can target: which field
// paths exist, their declared types, and which fields join to other
// collections.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType is the declared type of a field
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeString
	TypeNumber
	TypeDate
	TypeBoolean
	TypeArray
	TypeRelation
)

var fieldTypeNames = map[FieldType]string{
	TypeUnknown:  "unknown",
	TypeString:   "string",
	TypeNumber:   "number",
	TypeDate:     "date",
	TypeBoolean:  "boolean",
	TypeArray:    "array",
	TypeRelation: "relation",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType parses a type name, case-insensitively
func ParseFieldType(s string) (FieldType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for t, name := range fieldTypeNames {
		if t != TypeUnknown && name == want {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown field type %q", s)
}

// Descriptor exposes the parts of a collection schema the compiler needs.
// Implementations must be safe for concurrent reads.
type Descriptor interface {
	// Has reports whether path is a declared field or the prefix of one.
	Has(path string) bool
	// DeclaredType returns the type of path, or TypeUnknown.
	DeclaredType(path string) FieldType
	// RelationTarget returns the collection path refers to, if any.
	RelationTarget(path string) (string, bool)
	// TranslatableFields returns the names of fields stored per language.
	TranslatableFields() map[string]struct{}
}

// Field is a declared field of a collection
type Field struct {
	Path         string
	Type         FieldType
	Ref          string
	Translatable bool
}

// Collection is a Descriptor built from a fixed list of fields
type Collection struct {
	name         string
	fields       map[string]Field
	prefixes     map[string]struct{}
	translatable map[string]struct{}
	searchFields []string
}

// NewCollection creates a collection descriptor
func NewCollection(name string, fields []Field) (*Collection, error) {
	c := &Collection{
		name:         name,
		fields:       make(map[string]Field, len(fields)),
		prefixes:     make(map[string]struct{}),
		translatable: make(map[string]struct{}),
	}

	for _, f := range fields {
		if f.Path == "" {
			return nil, fmt.Errorf("collection %s: field with empty path", name)
		}
		if _, exists := c.fields[f.Path]; exists {
			return nil, fmt.Errorf("collection %s: duplicate field %s", name, f.Path)
		}
		if f.Type == TypeRelation && f.Ref == "" {
			return nil, fmt.Errorf("collection %s: relation field %s has no ref", name, f.Path)
		}
		c.fields[f.Path] = f

		parts := strings.Split(f.Path, ".")
		for i := 1; i < len(parts); i++ {
			c.prefixes[strings.Join(parts[:i], ".")] = struct{}{}
		}
		if f.Translatable {
			c.translatable[f.Path] = struct{}{}
		}
	}

	return c, nil
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Has(path string) bool {
	if _, ok := c.fields[path]; ok {
		return true
	}
	_, ok := c.prefixes[path]
	return ok
}

func (c *Collection) DeclaredType(path string) FieldType {
	if f, ok := c.fields[path]; ok {
		return f.Type
	}
	return TypeUnknown
}

func (c *Collection) RelationTarget(path string) (string, bool) {
	f, ok := c.fields[path]
	if !ok || f.Ref == "" {
		return "", false
	}
	return f.Ref, true
}

func (c *Collection) TranslatableFields() map[string]struct{} {
	return c.translatable
}

// WithSearchFields sets the default fields used for full-text search
func (c *Collection) WithSearchFields(fields ...string) *Collection {
	c.searchFields = fields
	return c
}

// SearchFields returns the default fields used for full-text search
func (c *Collection) SearchFields() []string {
	return c.searchFields
}

// Fields returns the declared fields sorted by path
func (c *Collection) Fields() []Field {
	out := make([]Field, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
