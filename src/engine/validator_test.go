package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"contentd/src/errs"
	"contentd/src/schema"
)

func petFields() []schema.FieldDefinition {
	return []schema.FieldDefinition{
		{Name: "name", Type: "string", Required: true},
		{Name: "species", Type: "string", Required: true, Enum: &schema.EnumSpec{
			Variants: map[string]schema.EnumVariant{
				"cat": {Fields: []schema.FieldDefinition{
					{Name: "meowVolume", Type: "number", Required: true},
				}},
				"dog": {Fields: []schema.FieldDefinition{
					{Name: "barkVolume", Type: "number", Required: true},
				}},
			},
		}},
	}
}

func TestValidateRequiredFields(t *testing.T) {
	v, err := CompileValidator([]schema.FieldDefinition{
		{Name: "title", Type: "string", Required: true},
		{Name: "price", Type: "number"},
	})
	require.NoError(t, err)

	verrs := v.Validate(map[string]any{"price": 9.5})
	require.Len(t, verrs, 1)
	assert.Equal(t, "title", verrs[0].Field)
	assert.Equal(t, "is required", verrs[0].Message)

	assert.Empty(t, v.Validate(map[string]any{"title": "lamp"}))
}

func TestValidateTypeChecks(t *testing.T) {
	v, err := CompileValidator([]schema.FieldDefinition{
		{Name: "title", Type: "string"},
		{Name: "price", Type: "number"},
		{Name: "active", Type: "boolean"},
		{Name: "releasedAt", Type: "date"},
		{Name: "vendor", Type: "relation", Relation: &schema.RelationDef{Ref: "vendors"}},
	})
	require.NoError(t, err)

	verrs := v.Validate(map[string]any{
		"title":      42,
		"price":      "cheap",
		"active":     "yes",
		"releasedAt": "not a date",
		"vendor":     "zzz",
	})
	require.Len(t, verrs, 5)

	assert.Empty(t, v.Validate(map[string]any{
		"title":      "lamp",
		"price":      9.5,
		"active":     true,
		"releasedAt": "2026-03-15",
		"vendor":     primitive.NewObjectID().Hex(),
	}))
}

func TestValidatePattern(t *testing.T) {
	v, err := CompileValidator([]schema.FieldDefinition{
		{Name: "sku", Type: "string", Pattern: `^[A-Z]{2}-\d{4}$`},
	})
	require.NoError(t, err)

	assert.Empty(t, v.Validate(map[string]any{"sku": "AB-1234"}))

	verrs := v.Validate(map[string]any{"sku": "nope"})
	require.Len(t, verrs, 1)
	assert.Equal(t, "sku", verrs[0].Field)
}

func TestCompileValidatorRejectsBadPattern(t *testing.T) {
	_, err := CompileValidator([]schema.FieldDefinition{
		{Name: "sku", Type: "string", Pattern: `([`},
	})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.SchemaInvalid))
}

func TestValidatePlainEnumMembership(t *testing.T) {
	v, err := CompileValidator([]schema.FieldDefinition{
		{Name: "status", Type: "string", Enum: &schema.EnumSpec{Values: []string{"draft", "published"}}},
	})
	require.NoError(t, err)

	assert.Empty(t, v.Validate(map[string]any{"status": "draft"}))
	assert.Len(t, v.Validate(map[string]any{"status": "archived"}), 1)
}

// Variant fields validate as siblings of the discriminator, and only the
// chosen variant's rules apply.
func TestValidateDiscriminatedVariants(t *testing.T) {
	v, err := CompileValidator(petFields())
	require.NoError(t, err)

	assert.Empty(t, v.Validate(map[string]any{
		"name": "Momo", "species": "cat", "meowVolume": 7.0,
	}))
	assert.Empty(t, v.Validate(map[string]any{
		"name": "Rex", "species": "dog", "barkVolume": 11.0,
	}))

	// A cat without its variant-required sibling fails.
	verrs := v.Validate(map[string]any{"name": "Momo", "species": "cat"})
	require.Len(t, verrs, 1)
	assert.Equal(t, "meowVolume", verrs[0].Field)

	// A dog is not held to the cat variant's rules.
	verrs = v.Validate(map[string]any{"name": "Rex", "species": "dog", "barkVolume": 3.0, "meowVolume": "loud"})
	assert.Empty(t, verrs)

	// An unknown discriminator value fails membership.
	verrs = v.Validate(map[string]any{"name": "Blub", "species": "fish"})
	require.Len(t, verrs, 1)
	assert.Equal(t, "species", verrs[0].Field)
}

func TestValidateNestedObjectsAndArrays(t *testing.T) {
	v, err := CompileValidator([]schema.FieldDefinition{
		{Name: "dimensions", Type: "object", Fields: []schema.FieldDefinition{
			{Name: "width", Type: "number", Required: true},
		}},
		{Name: "tags", Type: "array", ItemType: "string"},
		{Name: "lines", Type: "array", Fields: []schema.FieldDefinition{
			{Name: "qty", Type: "number", Required: true},
		}},
	})
	require.NoError(t, err)

	verrs := v.Validate(map[string]any{
		"dimensions": map[string]any{},
		"tags":       []any{"a", 2},
		"lines":      []any{map[string]any{"qty": 1}, map[string]any{}},
	})

	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field
	}
	assert.ElementsMatch(t, []string{"dimensions.width", "tags.1", "lines.1.qty"}, fields)
}

func TestValidateNilDocument(t *testing.T) {
	v, err := CompileValidator(nil)
	require.NoError(t, err)

	verrs := v.Validate(nil)
	require.Len(t, verrs, 1)
	assert.Equal(t, "(root)", verrs[0].Field)
}

func TestValidateItemsCollectsEveryFailure(t *testing.T) {
	v, err := CompileValidator([]schema.FieldDefinition{
		{Name: "title", Type: "string", Required: true},
	})
	require.NoError(t, err)

	err = v.ValidateItems([]map[string]any{
		{"title": "ok"},
		{},
		{"title": 42},
	})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ValidationFailed))

	assert.NoError(t, v.ValidateItems([]map[string]any{{"title": "a"}, {"title": "b"}}))
}

func TestStructuralSchemaShape(t *testing.T) {
	v, err := CompileValidator(petFields())
	require.NoError(t, err)

	assert.Equal(t, "http://json-schema.org/draft-07/schema#", v.Schema["$schema"])
	assert.ElementsMatch(t, []string{"name", "species"}, v.Schema["required"])

	props := v.Schema["properties"].(map[string]any)
	species := props["species"].(map[string]any)
	assert.ElementsMatch(t, []string{"cat", "dog"}, species["enum"])

	// One AND-combined conditional per variant.
	conditions := v.Schema["allOf"].([]map[string]any)
	require.Len(t, conditions, 2)
	for _, cond := range conditions {
		require.Contains(t, cond, "if")
		require.Contains(t, cond, "then")
	}
}

func TestValidatorRegistryVersioning(t *testing.T) {
	reg := NewValidatorRegistry()
	v1 := &Validator{}
	v2 := &Validator{}

	reg.Store("product", 1, v1)
	reg.Store("product", 2, v2)

	assert.Same(t, v1, reg.Lookup("product", 1))
	assert.Same(t, v2, reg.Lookup("product", 2))
	assert.Nil(t, reg.Lookup("product", 3))

	reg.Invalidate("product")
	assert.Nil(t, reg.Lookup("product", 1))

	reg.Store("product", 1, v1)
	reg.InvalidateAll()
	assert.Nil(t, reg.Lookup("product", 1))
}
