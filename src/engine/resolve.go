package engine

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"contentd/src/errs"
	"contentd/src/schema"
)

// ResolveRelations rewrites every relation-typed value in doc into a
// canonical ObjectID, walking nested objects, arrays of objects and
// discriminated-enum variant payloads, all driven by the owning field tree.
// The input map is not mutated; absent keys stay absent.
func ResolveRelations(doc map[string]any, fields []schema.FieldDefinition) (map[string]any, error) {
	if doc == nil {
		return nil, nil
	}

	result := make(map[string]any, len(doc))
	for k, v := range doc {
		result[k] = v
	}

	for i := range fields {
		field := &fields[i]
		value, present := result[field.Name]
		if !present || value == nil {
			continue
		}

		switch {
		case field.IsRelation():
			resolved, err := coerceReference(field.Name, value)
			if err != nil {
				return nil, err
			}
			result[field.Name] = resolved

		case field.Type == "object" && len(field.Fields) > 0:
			if nested, ok := asMap(value); ok {
				sub, err := ResolveRelations(nested, field.Fields)
				if err != nil {
					return nil, err
				}
				result[field.Name] = sub
			}

		case field.Type == "array" && len(field.Fields) > 0:
			if items, ok := value.([]any); ok {
				resolved := make([]any, len(items))
				for j, item := range items {
					if nested, ok := asMap(item); ok {
						sub, err := ResolveRelations(nested, field.Fields)
						if err != nil {
							return nil, err
						}
						resolved[j] = sub
						continue
					}
					resolved[j] = item
				}
				result[field.Name] = resolved
			}

		case field.Type == "string" && field.Enum.IsVariantMap():
			// The variant payload lives under a sibling key named after the
			// chosen variant, not under the discriminator field itself.
			variant, ok := value.(string)
			if !ok {
				continue
			}
			def, found := field.Enum.Variants[variant]
			if !found || len(def.Fields) == 0 {
				continue
			}
			if payload, ok := asMap(result[variant]); ok {
				sub, err := ResolveRelations(payload, def.Fields)
				if err != nil {
					return nil, err
				}
				result[variant] = sub
			}
		}
	}

	return result, nil
}

// coerceReference turns a relation value into an ObjectID. Objects contribute
// their _id sub-field; arrays resolve element-wise; anything else is treated
// as the identifier itself.
func coerceReference(path string, value any) (any, error) {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v, nil
	case string:
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidReference, err,
				"field %q: malformed reference identifier %q", path, v).
				With("field", path)
		}
		return id, nil
	case []any:
		ids := make([]any, len(v))
		for i, item := range v {
			id, err := coerceReference(path, item)
			if err != nil {
				return nil, err
			}
			ids[i] = id
		}
		return ids, nil
	case map[string]any:
		if id, ok := v["_id"]; ok {
			return coerceReference(path, id)
		}
		return nil, errs.New(errs.InvalidReference,
			"field %q: related object carries no _id", path).With("field", path)
	case bson.M:
		return coerceReference(path, map[string]any(v))
	}
	return nil, errs.New(errs.InvalidReference,
		"field %q: cannot coerce %T into a reference identifier", path, value).
		With("field", path)
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case bson.M:
		return map[string]any(v), true
	}
	return nil, false
}
