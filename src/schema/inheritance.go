package schema

import (
	"context"

	"contentd/src/errs"
)

// Resolve loads a schema and merges its inheritance chain into a single
// flattened document: parent fields the child does not shadow come first,
// child fields keep their declared order, behaviors merge child-wins.
// Cycles in the parent chain are a hard error, not a stack overflow.
func (r *Registry) Resolve(ctx context.Context, name string) (*Document, error) {
	return r.resolve(ctx, name, make(map[string]bool))
}

func (r *Registry) resolve(ctx context.Context, name string, visited map[string]bool) (*Document, error) {
	if visited[name] {
		return nil, errs.New(errs.SchemaInvalid, "circular inheritance detected at %q", name)
	}
	visited[name] = true

	doc, err := r.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	if doc.Parent == "" {
		return doc, nil
	}

	parent, err := r.resolve(ctx, doc.Parent, visited)
	if err != nil {
		return nil, err
	}

	merged := *doc
	merged.Fields = mergeFields(parent.Fields, doc.Fields)
	merged.Behaviors = mergeBehaviors(parent.Behaviors, doc.Behaviors)
	return &merged, nil
}

func mergeFields(parent, child []FieldDefinition) []FieldDefinition {
	shadowed := make(map[string]bool, len(child))
	for _, f := range child {
		shadowed[f.Name] = true
	}

	merged := make([]FieldDefinition, 0, len(parent)+len(child))
	for _, f := range parent {
		if !shadowed[f.Name] {
			merged = append(merged, f)
		}
	}
	return append(merged, child...)
}

func mergeBehaviors(parent, child map[string]string) map[string]string {
	if len(parent) == 0 {
		return child
	}
	merged := make(map[string]string, len(parent)+len(child))
	for k, v := range parent {
		merged[k] = v
	}
	for k, v := range child {
		merged[k] = v
	}
	return merged
}
