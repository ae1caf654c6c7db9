package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/multierr"

	"contentd/src/errs"
	"contentd/src/schema"
)

// ValidationError is one structural failure, addressed by a dot-joined field
// path. The root document is addressed as "(root)".
type ValidationError struct {
	Field   string `json:"field" bson:"field"`
	Message string `json:"message" bson:"message"`
}

// Validator is a compiled structural validator plus the structural schema it
// was compiled from, kept for introspection and documentation endpoints.
// Immutable once compiled.
type Validator struct {
	Schema map[string]any

	fields   []schema.FieldDefinition
	patterns map[string]*regexp.Regexp
}

// CompileValidator converts a field tree into a structural schema and a
// reusable validation function. Fails only on uncompilable patterns.
func CompileValidator(fields []schema.FieldDefinition) (*Validator, error) {
	v := &Validator{
		fields:   fields,
		patterns: make(map[string]*regexp.Regexp),
	}
	if err := v.compilePatterns("", fields); err != nil {
		return nil, err
	}

	props, required, conditions := buildStructural(fields)
	doc := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	if len(conditions) > 0 {
		doc["allOf"] = conditions
	}
	v.Schema = doc
	return v, nil
}

func (v *Validator) compilePatterns(prefix string, fields []schema.FieldDefinition) error {
	for i := range fields {
		field := &fields[i]
		path := joinPath(prefix, field.Name)
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err != nil {
				return errs.Wrap(errs.SchemaInvalid, err,
					"field %q: invalid pattern %q", path, field.Pattern)
			}
			v.patterns[path] = re
		}
		if len(field.Fields) > 0 {
			if err := v.compilePatterns(path, field.Fields); err != nil {
				return err
			}
		}
		if field.Enum.IsVariantMap() {
			for name, variant := range field.Enum.Variants {
				if err := v.compilePatterns(joinPath(prefix, name), variant.Fields); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// buildStructural emits the introspectable schema document: properties,
// required list, and one if/then conditional per enum variant, AND-combined.
func buildStructural(fields []schema.FieldDefinition) (map[string]any, []string, []map[string]any) {
	props := make(map[string]any)
	var required []string
	var conditions []map[string]any

	for i := range fields {
		field := &fields[i]

		if field.Type == "string" && field.Enum.IsVariantMap() {
			names := field.Enum.VariantNames()
			deepSet(props, field.Name, map[string]any{"type": "string", "enum": names})
			for _, name := range names {
				variant := field.Enum.Variants[name]
				varProps, varRequired, _ := buildStructural(variant.Fields)
				then := map[string]any{"properties": varProps}
				if len(varRequired) > 0 {
					then["required"] = varRequired
				}
				conditions = append(conditions, map[string]any{
					"if": map[string]any{
						"properties": map[string]any{
							field.Name: map[string]any{"const": name},
						},
						"required": []string{field.Name},
					},
					"then": then,
				})
			}
			if field.Required {
				required = append(required, field.Name)
			}
			continue
		}

		deepSet(props, field.Name, structuralField(field))
		if field.Required {
			required = append(required, field.Name)
		}
	}

	return props, required, conditions
}

func structuralField(field *schema.FieldDefinition) map[string]any {
	out := map[string]any{}
	switch strings.ToLower(field.Type) {
	case "string":
		out["type"] = "string"
		if field.Pattern != "" {
			out["pattern"] = field.Pattern
		}
	case "number", "int", "float", "double", "decimal":
		out["type"] = "number"
	case "boolean", "bool":
		out["type"] = "boolean"
	case "date":
		out["type"] = "string"
		out["format"] = "date-time"
	case "relation":
		out["type"] = "string"
	case "object":
		out["type"] = "object"
		props, required, _ := buildStructural(field.Fields)
		out["properties"] = props
		if len(required) > 0 {
			out["required"] = required
		}
	case "array":
		out["type"] = "array"
		if len(field.Fields) > 0 {
			props, required, _ := buildStructural(field.Fields)
			items := map[string]any{"type": "object", "properties": props}
			if len(required) > 0 {
				items["required"] = required
			}
			out["items"] = items
		} else if field.ItemType != "" {
			out["items"] = map[string]any{"type": strings.ToLower(field.ItemType)}
		} else {
			out["items"] = map[string]any{"type": "string"}
		}
	default:
		out["type"] = "string"
	}

	if field.Enum != nil && len(field.Enum.Values) > 0 {
		out["enum"] = field.Enum.Values
	}
	return out
}

// deepSet places a property under a dotted name, materializing intermediate
// object schemas so dotted field names land in the right nesting level.
func deepSet(props map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := props
	for len(parts) > 1 {
		key := parts[0]
		parts = parts[1:]
		node, ok := current[key].(map[string]any)
		if !ok {
			node = map[string]any{"type": "object", "properties": map[string]any{}}
			current[key] = node
		}
		nested, ok := node["properties"].(map[string]any)
		if !ok {
			nested = map[string]any{}
			node["properties"] = nested
		}
		current = nested
	}
	current[parts[0]] = value
}

// Validate checks one candidate document. A nil or empty result means valid.
func (v *Validator) Validate(candidate map[string]any) []ValidationError {
	if candidate == nil {
		return []ValidationError{{Field: "(root)", Message: "document must be an object"}}
	}
	return v.validateFields("", v.fields, candidate)
}

// ValidateItems validates a bulk payload, collecting every item's errors.
// The aggregate fails if any item is invalid.
func (v *Validator) ValidateItems(items []map[string]any) error {
	var combined error
	for i, item := range items {
		if verrs := v.Validate(item); len(verrs) > 0 {
			itemErr := errs.New(errs.ValidationFailed, "item %d failed validation", i).
				With("index", i).With("errors", verrs)
			combined = multierr.Append(combined, itemErr)
		}
	}
	if combined == nil {
		return nil
	}
	return errs.Wrap(errs.ValidationFailed, combined, "validation failed")
}

func (v *Validator) validateFields(prefix string, fields []schema.FieldDefinition, obj map[string]any) []ValidationError {
	var out []ValidationError

	for i := range fields {
		field := &fields[i]
		path := joinPath(prefix, field.Name)
		value, present := obj[field.Name]

		if field.Required && (!present || value == nil) {
			out = append(out, ValidationError{Field: path, Message: "is required"})
			continue
		}
		if !present || value == nil {
			continue
		}

		out = append(out, v.validateValue(prefix, path, field, value, obj)...)
	}

	return out
}

func (v *Validator) validateValue(prefix, path string, field *schema.FieldDefinition, value any, obj map[string]any) []ValidationError {
	var out []ValidationError

	switch strings.ToLower(field.Type) {
	case "string":
		s, ok := value.(string)
		if !ok {
			return []ValidationError{{Field: path, Message: "must be a string"}}
		}
		if re, ok := v.patterns[path]; ok && !re.MatchString(s) {
			out = append(out, ValidationError{Field: path,
				Message: fmt.Sprintf("must match pattern %q", field.Pattern)})
		}
		if field.Enum != nil {
			names := field.Enum.VariantNames()
			if len(names) > 0 && !containsString(names, s) {
				out = append(out, ValidationError{Field: path,
					Message: fmt.Sprintf("must be one of %s", strings.Join(names, ", "))})
			}
		}
		if field.Enum.IsVariantMap() {
			if variant, ok := field.Enum.Variants[s]; ok && len(variant.Fields) > 0 {
				// Variant fields are validated as siblings at the same level.
				out = append(out, v.validateFields(prefix, variant.Fields, obj)...)
			}
		}

	case "number", "int", "int32", "int64", "long", "float", "double", "decimal", "decimal128":
		if !isNumber(value) {
			out = append(out, ValidationError{Field: path, Message: "must be a number"})
		}

	case "boolean", "bool":
		if _, ok := value.(bool); !ok {
			out = append(out, ValidationError{Field: path, Message: "must be a boolean"})
		}

	case "date", "timestamp":
		if !isDate(value) {
			out = append(out, ValidationError{Field: path,
				Message: "must be a date-time string"})
		}

	case "relation", "objectid", "oid":
		if !isReference(value) {
			out = append(out, ValidationError{Field: path,
				Message: "must be a reference identifier"})
		}

	case "object":
		nested, ok := asMap(value)
		if !ok {
			return []ValidationError{{Field: path, Message: "must be an object"}}
		}
		if len(field.Fields) > 0 {
			out = append(out, v.validateFields(path, field.Fields, nested)...)
		}

	case "array":
		items, ok := value.([]any)
		if !ok {
			return []ValidationError{{Field: path, Message: "must be an array"}}
		}
		for j, item := range items {
			itemPath := path + "." + strconv.Itoa(j)
			if len(field.Fields) > 0 {
				nested, ok := asMap(item)
				if !ok {
					out = append(out, ValidationError{Field: itemPath, Message: "must be an object"})
					continue
				}
				out = append(out, v.validateFields(itemPath, field.Fields, nested)...)
				continue
			}
			itemType := field.ItemType
			if itemType == "" {
				itemType = "string"
			}
			out = append(out, validateScalar(itemPath, itemType, item)...)
		}
	}

	return out
}

func validateScalar(path, declared string, value any) []ValidationError {
	switch strings.ToLower(declared) {
	case "string":
		if _, ok := value.(string); !ok {
			return []ValidationError{{Field: path, Message: "must be a string"}}
		}
	case "number", "int", "float", "double", "decimal":
		if !isNumber(value) {
			return []ValidationError{{Field: path, Message: "must be a number"}}
		}
	case "boolean", "bool":
		if _, ok := value.(bool); !ok {
			return []ValidationError{{Field: path, Message: "must be a boolean"}}
		}
	case "date":
		if !isDate(value) {
			return []ValidationError{{Field: path, Message: "must be a date-time string"}}
		}
	case "relation", "objectid", "oid":
		if !isReference(value) {
			return []ValidationError{{Field: path, Message: "must be a reference identifier"}}
		}
	}
	return nil
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64, primitive.Decimal128:
		return true
	}
	return false
}

func isDate(value any) bool {
	switch v := value.(type) {
	case time.Time, primitive.DateTime:
		return true
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return true
		}
		_, err := time.Parse("2006-01-02", v)
		return err == nil
	}
	return false
}

func isReference(value any) bool {
	switch v := value.(type) {
	case primitive.ObjectID:
		return true
	case string:
		_, err := primitive.ObjectIDFromHex(v)
		return err == nil
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// ValidatorRegistry caches compiled validators keyed by schema name and
// version. A schema bump changes the key, so stale entries are simply never
// hit again; replacement publishes whole validators, never mutates them.
type ValidatorRegistry struct {
	mu         sync.RWMutex
	validators map[string]*Validator
}

func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{validators: make(map[string]*Validator)}
}

func validatorKey(name string, version int) string {
	return name + "@" + strconv.Itoa(version)
}

// Lookup returns the cached validator, nil on miss.
func (r *ValidatorRegistry) Lookup(name string, version int) *Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validators[validatorKey(name, version)]
}

// Store publishes a validator for a schema version.
func (r *ValidatorRegistry) Store(name string, version int, v *Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[validatorKey(name, version)] = v
}

// Invalidate drops every cached version of one schema.
func (r *ValidatorRegistry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := name + "@"
	for key := range r.validators {
		if strings.HasPrefix(key, prefix) {
			delete(r.validators, key)
		}
	}
}

// InvalidateAll drops the whole cache, used when schema sources reload.
func (r *ValidatorRegistry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = make(map[string]*Validator)
}
