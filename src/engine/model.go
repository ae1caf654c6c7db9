package engine

import (
	"sync"

	"go.uber.org/zap"

	"contentd/src/errs"
	"contentd/src/helpers"
	"contentd/src/schema"
)

// RelationBinding records a relation field without resolving its target.
// Resolution is lazy: the target schema is looked up when a pipeline needs
// its collection name, which keeps mutually-referencing schemas loadable.
type RelationBinding struct {
	Path        string
	Target      string
	Cardinality string
	OnDelete    string
}

// IndexHint is forwarded to the storage layer when a model is registered.
type IndexHint struct {
	Field  string
	Type   string
	Unique bool
}

// ModelDescriptor is the compiled, immutable snapshot of one schema. Once
// registered it is never mutated; schema changes compile a replacement.
type ModelDescriptor struct {
	Name       string
	Collection string
	Version    int

	// FieldOrder preserves declaration order for projection logic.
	FieldOrder []string
	Types      map[string]ConcreteType
	Required   map[string]bool
	Unique     []string
	Relations  []RelationBinding

	// Searchable lists string fields (keyword targets); Sortable lists the
	// number/date/bool fields the sort whitelist allows.
	Searchable []string
	Sortable   []string

	// Nested holds sub-descriptors for object and array-of-object fields,
	// keyed by field name, order preserved via FieldOrder.
	Nested map[string]*ModelDescriptor

	IndexHints []IndexHint

	// Fields keeps the merged field tree the descriptor was compiled from,
	// for the resolvers and validators that walk it directly.
	Fields []schema.FieldDefinition
}

// AllPaths flattens every field path in declaration order, nested fields as
// dotted names. Used as the known-field universe for the filter grammar.
func (d *ModelDescriptor) AllPaths() []string {
	var paths []string
	d.appendPaths("", &paths)
	return paths
}

func (d *ModelDescriptor) appendPaths(prefix string, out *[]string) {
	for _, name := range d.FieldOrder {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		*out = append(*out, path)
		if sub, ok := d.Nested[name]; ok {
			sub.appendPaths(path, out)
		}
	}
}

// RelationFor returns the binding for a field path, nil when the path is not
// a relation.
func (d *ModelDescriptor) RelationFor(path string) *RelationBinding {
	for i := range d.Relations {
		if d.Relations[i].Path == path {
			return &d.Relations[i]
		}
	}
	return nil
}

// ModelCompiler turns inheritance-merged schema documents into descriptors.
type ModelCompiler struct {
	logger *zap.SugaredLogger
}

func NewModelCompiler(logger *zap.SugaredLogger) *ModelCompiler {
	return &ModelCompiler{logger: logger}
}

// Compile builds a descriptor from a schema document whose inheritance chain
// has already been merged.
func (c *ModelCompiler) Compile(doc *schema.Document) (*ModelDescriptor, error) {
	if doc == nil || doc.Fields == nil {
		return nil, errs.New(errs.SchemaInvalid, "invalid schema: \"fields\" must be a list")
	}

	desc, err := c.compileFields(doc.LogicalName(), "", doc.Fields)
	if err != nil {
		return nil, err
	}
	desc.Collection = helpers.NormalizeCollectionName(doc.CollectionName())
	desc.Version = doc.Version
	return desc, nil
}

func (c *ModelCompiler) compileFields(name, prefix string, fields []schema.FieldDefinition) (*ModelDescriptor, error) {
	desc := &ModelDescriptor{
		Name:     name,
		Types:    make(map[string]ConcreteType, len(fields)),
		Required: make(map[string]bool),
		Nested:   make(map[string]*ModelDescriptor),
		Fields:   fields,
	}

	for i := range fields {
		field := &fields[i]
		if field.Name == "" || field.Type == "" {
			return nil, errs.New(errs.SchemaInvalid,
				"field %q is missing name or type", field.Name)
		}

		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		concrete, known := MapType(field.Type, field.ItemType)
		if field.IsRelation() {
			concrete = ConcreteType{Kind: KindObjectID}
			if field.Type == "array" {
				elem := ConcreteType{Kind: KindObjectID}
				concrete = ConcreteType{Kind: KindArray, Elem: &elem}
			}
			known = true
		}
		if !known {
			c.logger.Warnw("unknown field type, defaulting to mixed",
				"field", path, "type", field.Type)
		}

		desc.FieldOrder = append(desc.FieldOrder, field.Name)
		desc.Types[field.Name] = concrete
		if field.Required {
			desc.Required[field.Name] = true
		}
		if field.Unique || (field.Index != nil && field.Index.Type == "unique") {
			desc.Unique = append(desc.Unique, path)
		}
		if field.Index != nil {
			desc.IndexHints = append(desc.IndexHints, IndexHint{
				Field:  path,
				Type:   field.Index.Type,
				Unique: field.Index.Type == "unique" || field.Unique,
			})
		}

		switch {
		case field.IsRelation():
			desc.Relations = append(desc.Relations, RelationBinding{
				Path:        path,
				Target:      field.Relation.Ref,
				Cardinality: field.Relation.Type,
				OnDelete:    field.Relation.OnDelete,
			})
		case len(field.Fields) > 0 && (concrete.Kind == KindObject || concrete.Kind == KindArray):
			sub, err := c.compileFields(name, path, field.Fields)
			if err != nil {
				return nil, err
			}
			desc.Nested[field.Name] = sub
			desc.Relations = append(desc.Relations, sub.Relations...)
			desc.Unique = append(desc.Unique, sub.Unique...)
		}

		if prefix == "" {
			switch concrete.Kind {
			case KindString, KindSymbol, KindCode:
				desc.Searchable = append(desc.Searchable, field.Name)
			case KindNumber, KindDecimal, KindDate, KindBool:
				desc.Sortable = append(desc.Sortable, field.Name)
			}
		}
	}

	return desc, nil
}

// ModelRegistry is the process-wide descriptor table. Registration is
// idempotent: an existing name returns the cached descriptor unless the
// caller forces a refresh. Replacement publishes a whole new descriptor.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]*ModelDescriptor
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: make(map[string]*ModelDescriptor)}
}

// Register stores a descriptor under its logical name. When the name is
// already registered and force is false, the previously compiled descriptor
// wins, mirroring the host runtime's duplicate-model guard.
func (r *ModelRegistry) Register(desc *ModelDescriptor, force bool) *ModelDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.models[desc.Name]; ok && !force {
		return existing
	}
	r.models[desc.Name] = desc
	return desc
}

// Get returns the registered descriptor, nil when absent.
func (r *ModelRegistry) Get(name string) *ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// Drop removes a descriptor; the next compile republishes it.
func (r *ModelRegistry) Drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, name)
}
