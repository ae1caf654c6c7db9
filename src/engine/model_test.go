package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contentd/src/errs"
	"contentd/src/schema"
)

func testCompiler() *ModelCompiler {
	return NewModelCompiler(zap.NewNop().Sugar())
}

func productSchema() *schema.Document {
	return &schema.Document{
		Name:    schema.NameForms{Singular: "product", Plural: "Products"},
		Version: 3,
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: "string", Required: true},
			{Name: "sku", Type: "string", Unique: true},
			{Name: "price", Type: "number"},
			{Name: "active", Type: "boolean"},
			{Name: "createdAt", Type: "date"},
			{Name: "vendor", Type: "relation", Relation: &schema.RelationDef{Ref: "vendors"}},
			{Name: "categories", Type: "array", Relation: &schema.RelationDef{Ref: "categories", Type: "manyToMany"}},
			{Name: "dimensions", Type: "object", Fields: []schema.FieldDefinition{
				{Name: "width", Type: "number"},
				{Name: "barcode", Type: "string", Unique: true},
				{Name: "origin", Type: "relation", Relation: &schema.RelationDef{Ref: "countries"}},
			}},
		},
	}
}

func TestCompileRejectsMissingFields(t *testing.T) {
	_, err := testCompiler().Compile(&schema.Document{
		Name: schema.NameForms{Singular: "empty"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.SchemaInvalid))
}

func TestCompileDescriptorTables(t *testing.T) {
	desc, err := testCompiler().Compile(productSchema())
	require.NoError(t, err)

	assert.Equal(t, "product", desc.Name)
	assert.Equal(t, "products", desc.Collection)
	assert.Equal(t, 3, desc.Version)

	assert.Equal(t, KindString, desc.Types["title"].Kind)
	assert.Equal(t, KindNumber, desc.Types["price"].Kind)
	assert.Equal(t, KindBool, desc.Types["active"].Kind)
	assert.Equal(t, KindDate, desc.Types["createdAt"].Kind)
	assert.True(t, desc.Required["title"])
	assert.False(t, desc.Required["price"])

	// Scalar relations compile to identifiers, array relations to identifier lists.
	assert.Equal(t, KindObjectID, desc.Types["vendor"].Kind)
	require.Equal(t, KindArray, desc.Types["categories"].Kind)
	assert.Equal(t, KindObjectID, desc.Types["categories"].Elem.Kind)
}

func TestCompileIsDeterministic(t *testing.T) {
	first, err := testCompiler().Compile(productSchema())
	require.NoError(t, err)
	second, err := testCompiler().Compile(productSchema())
	require.NoError(t, err)

	assert.Equal(t, first.FieldOrder, second.FieldOrder)
	assert.Equal(t, first.Types, second.Types)
	assert.Equal(t, first.Required, second.Required)
	assert.Equal(t, first.Unique, second.Unique)
	assert.Equal(t, first.Relations, second.Relations)
	assert.Equal(t, first.AllPaths(), second.AllPaths())
}

func TestCompileBubblesNestedRelationsAndUniques(t *testing.T) {
	desc, err := testCompiler().Compile(productSchema())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sku", "dimensions.barcode"}, desc.Unique)

	origin := desc.RelationFor("dimensions.origin")
	require.NotNil(t, origin)
	assert.Equal(t, "countries", origin.Target)

	vendor := desc.RelationFor("vendor")
	require.NotNil(t, vendor)
	assert.Equal(t, "vendors", vendor.Target)
}

func TestCompileSearchableAndSortable(t *testing.T) {
	desc, err := testCompiler().Compile(productSchema())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"title", "sku"}, desc.Searchable)
	assert.ElementsMatch(t, []string{"price", "active", "createdAt"}, desc.Sortable)
}

func TestCompileUnknownTypeDefaultsToMixed(t *testing.T) {
	desc, err := testCompiler().Compile(&schema.Document{
		Name: schema.NameForms{Singular: "thing"},
		Fields: []schema.FieldDefinition{
			{Name: "payload", Type: "quaternion"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, KindMixed, desc.Types["payload"].Kind)
}

func TestRegisterIsIdempotentUnlessForced(t *testing.T) {
	registry := NewModelRegistry()

	first := &ModelDescriptor{Name: "product", Version: 1}
	second := &ModelDescriptor{Name: "product", Version: 2}

	assert.Same(t, first, registry.Register(first, false))
	assert.Same(t, first, registry.Register(second, false))
	assert.Same(t, second, registry.Register(second, true))
	assert.Same(t, second, registry.Get("product"))

	registry.Drop("product")
	assert.Nil(t, registry.Get("product"))
}
