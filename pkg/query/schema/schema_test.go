package schema

import (
	"testing"

	"github.com/pipewright/pipewright/pkg/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemFields() []Field {
	return []Field{
		{Path: "name", Type: TypeString, Translatable: true},
		{Path: "description", Type: TypeString, Translatable: true},
		{Path: "price", Type: TypeNumber},
		{Path: "createdAt", Type: TypeDate},
		{Path: "active", Type: TypeBoolean},
		{Path: "variant.color", Type: TypeString},
		{Path: "users", Type: TypeArray, Ref: "User"},
		{Path: "owner", Type: TypeRelation, Ref: "User"},
	}
}

func TestCollectionDescriptor(t *testing.T) {
	c, err := NewCollection("items", itemFields())
	require.NoError(t, err)

	assert.Equal(t, "items", c.Name())
	assert.True(t, c.Has("price"))
	assert.True(t, c.Has("variant.color"))
	assert.True(t, c.Has("variant"), "prefix of a nested path is known")
	assert.False(t, c.Has("variant.size"))
	assert.False(t, c.Has("missing"))

	assert.Equal(t, TypeNumber, c.DeclaredType("price"))
	assert.Equal(t, TypeUnknown, c.DeclaredType("variant"))
	assert.Equal(t, TypeUnknown, c.DeclaredType("missing"))

	ref, ok := c.RelationTarget("users")
	assert.True(t, ok)
	assert.Equal(t, "User", ref)
	_, ok = c.RelationTarget("price")
	assert.False(t, ok)

	assert.Equal(t, map[string]struct{}{"name": {}, "description": {}}, c.TranslatableFields())
	assert.Len(t, c.Fields(), 8)
	assert.Equal(t, "active", c.Fields()[0].Path)
}

func TestNewCollectionRejectsInvalidFields(t *testing.T) {
	_, err := NewCollection("items", []Field{{Path: "owner", Type: TypeRelation}})
	assert.Error(t, err)

	_, err = NewCollection("items", []Field{{Path: "a", Type: TypeString}, {Path: "a", Type: TypeNumber}})
	assert.Error(t, err)

	_, err = NewCollection("items", []Field{{Path: "", Type: TypeString}})
	assert.Error(t, err)
}

func TestParseFieldType(t *testing.T) {
	for _, name := range []string{"string", "Number", "DATE", "boolean", "array", "relation"} {
		ft, err := ParseFieldType(name)
		require.NoError(t, err, name)
		assert.NotEqual(t, TypeUnknown, ft)
	}

	_, err := ParseFieldType("objectid")
	assert.Error(t, err)
	assert.Equal(t, "date", TypeDate.String())
}

const testSchema = `
collections:
  items:
    search_fields: [name, description]
    fields:
      name: {type: string, translatable: true}
      description: {type: string, translatable: true}
      price: {type: number}
      users: {type: array, ref: User}
    settings:
      fields_to_hide: [secret]
      pagination:
        default_limit: 10
  users:
    fields:
      name: {type: string}
      email: {type: string}
`

func TestParseRegistry(t *testing.T) {
	defaults := config.DefaultCompilerSettings()
	r, err := ParseRegistry([]byte(testSchema), defaults)
	require.NoError(t, err)

	assert.Equal(t, []string{"items", "users"}, r.Names())

	items, ok := r.Get("items")
	require.True(t, ok)
	assert.Equal(t, []string{"name", "description"}, items.SearchFields())
	assert.Equal(t, TypeArray, items.DeclaredType("users"))

	s := r.Settings("items", defaults)
	assert.Equal(t, []string{"secret"}, s.FieldsToHide)
	assert.Equal(t, 10, s.Pagination.DefaultLimit)
	assert.True(t, s.EnableTotalCount, "keys absent from the override keep their defaults")
	assert.Equal(t, "createdAt", s.DefaultSort.Field)

	assert.Equal(t, defaults, r.Settings("users", defaults))

	_, ok = r.Get("orders")
	assert.False(t, ok)
}

func TestParseRegistryErrors(t *testing.T) {
	defaults := config.DefaultCompilerSettings()

	_, err := ParseRegistry([]byte("collections: [\n"), defaults)
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("collections:\n  a:\n    fields:\n      x: {type: blob}\n"), defaults)
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("collections:\n  a:\n    search_fields: [y]\n    fields:\n      x: {type: string}\n"), defaults)
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("collections:\n  a:\n    fields:\n      x: {type: string}\n    settings:\n      pagination:\n        default_limit: -1\n"), defaults)
	assert.Error(t, err)
}

func TestLoadRegistryMissingFile(t *testing.T) {
	_, err := LoadRegistry("/nonexistent/schema.yaml", config.DefaultCompilerSettings())
	assert.Error(t, err)
}
