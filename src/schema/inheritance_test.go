package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentd/src/errs"
)

func TestResolveMergesParentChain(t *testing.T) {
	reg, _ := testRegistry(
		&Document{
			Name:       NameForms{Singular: "content"},
			IsAbstract: true,
			Fields: []FieldDefinition{
				{Name: "title", Type: "string", Required: true},
				{Name: "slug", Type: "string"},
			},
			Behaviors: map[string]string{"timestamps": "on", "audit": "off"},
		},
		&Document{
			Name:   NameForms{Singular: "article"},
			Parent: "content",
			Fields: []FieldDefinition{
				{Name: "body", Type: "string"},
				{Name: "slug", Type: "string", Unique: true},
			},
			Behaviors: map[string]string{"audit": "on"},
		},
	)

	doc, err := reg.Resolve(context.Background(), "article")
	require.NoError(t, err)

	// Non-shadowed parent fields first, child fields in declared order, the
	// shadowing child definition winning.
	names := make([]string, len(doc.Fields))
	for i, f := range doc.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"title", "body", "slug"}, names)
	assert.True(t, doc.Fields[2].Unique)

	assert.Equal(t, map[string]string{"timestamps": "on", "audit": "on"}, doc.Behaviors)
}

func TestResolveWithoutParentReturnsDocument(t *testing.T) {
	reg, _ := testRegistry(&Document{
		Name:   NameForms{Singular: "tag"},
		Fields: []FieldDefinition{{Name: "label", Type: "string"}},
	})

	doc, err := reg.Resolve(context.Background(), "tag")
	require.NoError(t, err)
	assert.Equal(t, "tag", doc.LogicalName())
}

func TestResolveDetectsInheritanceCycles(t *testing.T) {
	reg, _ := testRegistry(
		&Document{Name: NameForms{Singular: "a"}, Parent: "b"},
		&Document{Name: NameForms{Singular: "b"}, Parent: "c"},
		&Document{Name: NameForms{Singular: "c"}, Parent: "a"},
	)

	_, err := reg.Resolve(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.SchemaInvalid))
	assert.Contains(t, err.Error(), "circular inheritance")
}

func TestResolveMissingParentFails(t *testing.T) {
	reg, _ := testRegistry(&Document{Name: NameForms{Singular: "child"}, Parent: "ghost"})

	_, err := reg.Resolve(context.Background(), "child")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.SchemaNotFound))
}
