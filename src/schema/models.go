package schema

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// NameForms are the naming variants a content type is known by. Endpoint is
// what the REST layer matches on, Collection is the physical collection name.
type NameForms struct {
	Singular   string `bson:"singular" yaml:"singular" json:"singular"`
	Plural     string `bson:"plural" yaml:"plural" json:"plural"`
	Endpoint   string `bson:"endpoint,omitempty" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Collection string `bson:"collection,omitempty" yaml:"collection,omitempty" json:"collection,omitempty"`
}

// RelationDef points a field at another schema's collection.
type RelationDef struct {
	Ref      string `bson:"ref" yaml:"ref" json:"ref"`
	Type     string `bson:"type,omitempty" yaml:"type,omitempty" json:"type,omitempty"` // oneToOne | oneToMany | manyToMany
	OnDelete string `bson:"onDelete,omitempty" yaml:"onDelete,omitempty" json:"onDelete,omitempty"`
}

// EnumVariant is one branch of a discriminated string enum. A variant may
// carry its own nested field list.
type EnumVariant struct {
	Label  string            `bson:"label,omitempty" yaml:"label,omitempty" json:"label,omitempty"`
	Fields []FieldDefinition `bson:"fields,omitempty" yaml:"fields,omitempty" json:"fields,omitempty"`
}

// EnumSpec accepts both enum shapes the registry stores: a plain list of
// allowed values, or a map of variant name to variant definition.
type EnumSpec struct {
	Values   []string
	Variants map[string]EnumVariant
}

// IsVariantMap reports whether this enum is a discriminated union.
func (e *EnumSpec) IsVariantMap() bool {
	return e != nil && len(e.Variants) > 0
}

// VariantNames returns the allowed discriminator values.
func (e *EnumSpec) VariantNames() []string {
	if e == nil {
		return nil
	}
	if len(e.Variants) > 0 {
		names := make([]string, 0, len(e.Variants))
		for name := range e.Variants {
			names = append(names, name)
		}
		return names
	}
	return e.Values
}

func (e *EnumSpec) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bson.TypeArray:
		var raw []any
		if err := bson.UnmarshalValue(t, data, &raw); err != nil {
			return err
		}
		e.Values = stringifyEnumValues(raw)
		return nil
	case bson.TypeEmbeddedDocument:
		return bson.UnmarshalValue(t, data, &e.Variants)
	case bson.TypeString:
		var s string
		if err := bson.UnmarshalValue(t, data, &s); err != nil {
			return err
		}
		e.Values = []string{s}
		return nil
	case bson.TypeNull:
		return nil
	}
	return fmt.Errorf("enum must be a list or a variant map, got %s", t)
}

func (e EnumSpec) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if len(e.Variants) > 0 {
		return bson.MarshalValue(e.Variants)
	}
	return bson.MarshalValue(e.Values)
}

func (e *EnumSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var raw []any
		if err := value.Decode(&raw); err != nil {
			return err
		}
		e.Values = stringifyEnumValues(raw)
		return nil
	case yaml.MappingNode:
		return value.Decode(&e.Variants)
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		e.Values = []string{s}
		return nil
	}
	return fmt.Errorf("enum must be a list or a variant map")
}

func (e EnumSpec) MarshalYAML() (any, error) {
	if len(e.Variants) > 0 {
		return e.Variants, nil
	}
	return e.Values, nil
}

// stringifyEnumValues normalizes enum list entries, which may be bare scalars
// or objects carrying a label.
func stringifyEnumValues(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case map[string]any:
			if label, ok := val["label"].(string); ok {
				out = append(out, label)
				continue
			}
			out = append(out, fmt.Sprintf("%v", val))
		case bson.M:
			if label, ok := val["label"].(string); ok {
				out = append(out, label)
				continue
			}
			out = append(out, fmt.Sprintf("%v", val))
		default:
			out = append(out, fmt.Sprintf("%v", val))
		}
	}
	return out
}

// HashingDef marks a field whose stored value is a bcrypt hash.
type HashingDef struct {
	Algorithm string `bson:"algorithm,omitempty" yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	Rounds    int    `bson:"rounds,omitempty" yaml:"rounds,omitempty" json:"rounds,omitempty"`
}

// EncryptionDef marks a field encrypted at rest.
type EncryptionDef struct {
	Algorithm string `bson:"algorithm,omitempty" yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	SecretKey string `bson:"secretKey,omitempty" yaml:"secretKey,omitempty" json:"secretKey,omitempty"`
}

// AccessDef lists the roles allowed to read or write a field.
type AccessDef struct {
	Read  []string `bson:"read,omitempty" yaml:"read,omitempty" json:"read,omitempty"`
	Write []string `bson:"write,omitempty" yaml:"write,omitempty" json:"write,omitempty"`
}

// ComputedDef references user-supplied computed-field logic. Execution is a
// separate capability; the compiler only carries the spec through.
type ComputedDef struct {
	Logic string `bson:"logic,omitempty" yaml:"logic,omitempty" json:"logic,omitempty"`
	Async bool   `bson:"async,omitempty" yaml:"async,omitempty" json:"async,omitempty"`
}

// IndexDef is a per-field index hint forwarded to the storage layer.
type IndexDef struct {
	Type    string         `bson:"type,omitempty" yaml:"type,omitempty" json:"type,omitempty"`
	Options map[string]any `bson:"options,omitempty" yaml:"options,omitempty" json:"options,omitempty"`
}

// FieldDefinition is one node of a schema's field tree. Fields nest through
// Fields (object / array-of-object) and through enum variants.
type FieldDefinition struct {
	Name string `bson:"name" yaml:"name" json:"name"`
	Type string `bson:"type" yaml:"type" json:"type"`

	// ItemType refines array fields that hold primitives ("string", "number", ...)
	ItemType string `bson:"itemType,omitempty" yaml:"itemType,omitempty" json:"itemType,omitempty"`

	Label       string `bson:"label,omitempty" yaml:"label,omitempty" json:"label,omitempty"`
	Description string `bson:"description,omitempty" yaml:"description,omitempty" json:"description,omitempty"`
	Group       string `bson:"group,omitempty" yaml:"group,omitempty" json:"group,omitempty"`

	Required bool   `bson:"required,omitempty" yaml:"required,omitempty" json:"required,omitempty"`
	Unique   bool   `bson:"unique,omitempty" yaml:"unique,omitempty" json:"unique,omitempty"`
	Default  any    `bson:"default,omitempty" yaml:"default,omitempty" json:"default,omitempty"`
	Pattern  string `bson:"pattern,omitempty" yaml:"pattern,omitempty" json:"pattern,omitempty"`

	Enum   *EnumSpec         `bson:"enum,omitempty" yaml:"enum,omitempty" json:"enum,omitempty"`
	Fields []FieldDefinition `bson:"fields,omitempty" yaml:"fields,omitempty" json:"fields,omitempty"`

	Relation *RelationDef `bson:"relation,omitempty" yaml:"relation,omitempty" json:"relation,omitempty"`

	Hashing    *HashingDef    `bson:"hashing,omitempty" yaml:"hashing,omitempty" json:"hashing,omitempty"`
	Encryption *EncryptionDef `bson:"encryption,omitempty" yaml:"encryption,omitempty" json:"encryption,omitempty"`
	Access     *AccessDef     `bson:"access,omitempty" yaml:"access,omitempty" json:"access,omitempty"`
	Computed   *ComputedDef   `bson:"computed,omitempty" yaml:"computed,omitempty" json:"computed,omitempty"`
	Index      *IndexDef      `bson:"index,omitempty" yaml:"index,omitempty" json:"index,omitempty"`

	Virtual bool `bson:"virtual,omitempty" yaml:"virtual,omitempty" json:"virtual,omitempty"`
}

// IsRelation reports whether the field references another schema.
func (f *FieldDefinition) IsRelation() bool {
	return f.Relation != nil && f.Relation.Ref != ""
}

// AuthDef holds per-schema auth behavior flags.
type AuthDef struct {
	AllowAnonymousCreate bool `bson:"allowAnonymousCreate,omitempty" yaml:"allowAnonymousCreate,omitempty" json:"allowAnonymousCreate,omitempty"`
}

// AuditDef toggles audit-trail capture for a schema.
type AuditDef struct {
	Enabled bool `bson:"enabled,omitempty" yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Document is a full content-type definition as stored in the registry.
type Document struct {
	ID primitive.ObjectID `bson:"_id,omitempty" yaml:"-" json:"id,omitempty"`

	Name        NameForms `bson:"name" yaml:"name" json:"name"`
	Description string    `bson:"description,omitempty" yaml:"description,omitempty" json:"description,omitempty"`

	Parent     string `bson:"parent,omitempty" yaml:"parent,omitempty" json:"parent,omitempty"`
	IsAbstract bool   `bson:"isAbstract,omitempty" yaml:"isAbstract,omitempty" json:"isAbstract,omitempty"`
	IsSystem   bool   `bson:"isSystem,omitempty" yaml:"isSystem,omitempty" json:"isSystem,omitempty"`
	IsHidden   bool   `bson:"isHidden,omitempty" yaml:"isHidden,omitempty" json:"isHidden,omitempty"`
	I18n       bool   `bson:"i18n,omitempty" yaml:"i18n,omitempty" json:"i18n,omitempty"`

	Version int `bson:"version,omitempty" yaml:"version,omitempty" json:"version,omitempty"`

	Auth  AuthDef  `bson:"auth,omitempty" yaml:"auth,omitempty" json:"auth,omitempty"`
	Audit AuditDef `bson:"audit,omitempty" yaml:"audit,omitempty" json:"audit,omitempty"`

	Fields []FieldDefinition `bson:"fields" yaml:"fields" json:"fields"`

	Behaviors map[string]string `bson:"behaviors,omitempty" yaml:"behaviors,omitempty" json:"behaviors,omitempty"`

	CreatedAt time.Time `bson:"createdAt,omitempty" yaml:"-" json:"createdAt,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt,omitempty" yaml:"-" json:"updatedAt,omitempty"`
}

// LogicalName is the cache key for a schema: the endpoint form when present,
// the singular form otherwise.
func (d *Document) LogicalName() string {
	if d.Name.Endpoint != "" {
		return d.Name.Endpoint
	}
	return d.Name.Singular
}

// CollectionName resolves the physical collection the schema's documents
// live in.
func (d *Document) CollectionName() string {
	if d.Name.Collection != "" {
		return d.Name.Collection
	}
	return d.Name.Plural
}

// FieldByName scans a field list for a name. Returns nil when absent.
func FieldByName(fields []FieldDefinition, name string) *FieldDefinition {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}
