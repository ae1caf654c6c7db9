package engine

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"contentd/src/errs"
	"contentd/src/helpers"
	"contentd/src/schema"
)

// maxPopulateDepth caps dotted-path recursion. Deeper paths are silently
// truncated rather than rejected.
const maxPopulateDepth = 10

// PopulatePath is one parsed relation-population entry: a dotted path plus
// an optional list of sub-fields to keep from the merged relation object.
type PopulatePath struct {
	Path   string
	Select []string
}

// JoinSpec is an ad-hoc, schema-independent lookup.
type JoinSpec struct {
	From         string
	LocalField   string
	ForeignField string
}

// PipelineRequest carries everything one aggregation build needs. Pipelines
// are rebuilt per request, never cached.
type PipelineRequest struct {
	Match    bson.M
	Populate []PopulatePath
	Exclude  []string
	Joins    []JoinSpec

	// ComputedFields is a caller-supplied $addFields document.
	ComputedFields bson.M

	// Projection restricts output to these field names; _id stays implicit.
	Projection []string

	Sort bson.D

	Page  int64
	Limit int64

	// LastID switches pagination to identifier cursoring; Random switches
	// to sampling. Each excludes offset skipping.
	LastID *primitive.ObjectID
	Random bool
}

// ParsePopulate splits "a.b:x|y,c" into populate paths with selections.
func ParsePopulate(input string) []PopulatePath {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var paths []PopulatePath
	for _, raw := range strings.Split(input, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		path, selects, _ := strings.Cut(entry, ":")
		p := PopulatePath{Path: path}
		if selects != "" {
			p.Select = strings.Split(selects, "|")
		}
		paths = append(paths, p)
	}
	return paths
}

// ParseExclude splits a comma-separated exclusion list.
func ParseExclude(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var out []string
	for _, raw := range strings.Split(input, ",") {
		if e := strings.TrimSpace(raw); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// ParseJoins parses "collection:local=foreign" specs; the foreign field
// defaults to _id.
func ParseJoins(input string) ([]JoinSpec, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	var joins []JoinSpec
	for _, raw := range strings.Split(input, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		from, fieldPart, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(from) == "" {
			return nil, errs.New(errs.InvalidFilterValue,
				"join %q: expected \"collection:localField=foreignField\"", entry)
		}
		local, foreign, hasForeign := strings.Cut(fieldPart, "=")
		if strings.TrimSpace(local) == "" {
			return nil, errs.New(errs.InvalidFilterValue,
				"join %q: missing local field", entry)
		}
		if !hasForeign || strings.TrimSpace(foreign) == "" {
			foreign = "_id"
		}
		joins = append(joins, JoinSpec{
			From:         strings.TrimSpace(from),
			LocalField:   strings.TrimSpace(local),
			ForeignField: strings.TrimSpace(foreign),
		})
	}
	return joins, nil
}

// AutoProjection derives projection fields from populate selections when the
// caller asked for sub-fields but no explicit field list.
func AutoProjection(paths []PopulatePath) []string {
	var fields []string
	for _, p := range paths {
		for _, sub := range p.Select {
			fields = append(fields, p.Path+"."+sub)
		}
	}
	return fields
}

// pipelineBuilder accumulates stages for one build. It is throwaway state;
// a new builder runs per request.
type pipelineBuilder struct {
	stages  []bson.D
	visited map[string]bool
	unwound map[string]bool

	fields  []schema.FieldDefinition
	exclude []string
}

// BuildPipeline assembles the ordered stage list for one query request
// against the given (inheritance-merged) field tree. The stage order is
// fixed: match, population lookups, one trailing regroup, joins, computed
// fields, projection, sort, pagination. Whatever relations expand along the
// way, the regroup guarantees one output document per matched input document.
func BuildPipeline(req PipelineRequest, fields []schema.FieldDefinition) ([]bson.D, error) {
	b := &pipelineBuilder{
		visited: make(map[string]bool),
		unwound: make(map[string]bool),
		fields:  fields,
		exclude: req.Exclude,
	}

	match := bson.M{}
	for k, v := range req.Match {
		match[k] = v
	}
	if req.LastID != nil {
		match["_id"] = bson.M{"$lt": *req.LastID}
	}
	b.stages = append(b.stages, bson.D{{Key: "$match", Value: match}})

	if hasWildcard(req.Populate) {
		b.populateAll()
	} else {
		for _, p := range req.Populate {
			b.populatePath(strings.Split(p.Path, "."), fields, "", 0, p.Select)
		}
	}

	// The regroup runs exactly once, after every lookup, collapsing each
	// unwound path back into an array while untouched fields pick first.
	if len(b.unwound) > 0 {
		group := bson.M{"_id": "$_id"}
		for i := range fields {
			name := fields[i].Name
			if b.unwound[name] {
				group[name] = bson.M{"$push": "$" + name}
			} else {
				group[name] = bson.M{"$first": "$" + name}
			}
		}
		b.stages = append(b.stages, bson.D{{Key: "$group", Value: group}})
	}

	for _, join := range req.Joins {
		b.stages = append(b.stages, bson.D{{Key: "$lookup", Value: bson.M{
			"from":         join.From,
			"localField":   join.LocalField,
			"foreignField": join.ForeignField,
			"as":           join.From,
		}}})
	}

	if len(req.ComputedFields) > 0 {
		b.stages = append(b.stages, bson.D{{Key: "$addFields", Value: req.ComputedFields}})
	}

	if len(req.Projection) > 0 {
		projection := bson.M{}
		for _, field := range req.Projection {
			if f := strings.TrimSpace(field); f != "" {
				projection[f] = 1
			}
		}
		b.stages = append(b.stages, bson.D{{Key: "$project", Value: projection}})
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}

	switch {
	case req.Random:
		b.stages = append(b.stages, bson.D{{Key: "$sample", Value: bson.M{"size": limit}}})
	default:
		if len(req.Sort) > 0 {
			b.stages = append(b.stages, bson.D{{Key: "$sort", Value: req.Sort}})
		}
		if req.LastID == nil {
			if skip := (req.Page - 1) * limit; skip > 0 {
				b.stages = append(b.stages, bson.D{{Key: "$skip", Value: skip}})
			}
		}
		b.stages = append(b.stages, bson.D{{Key: "$limit", Value: limit}})
	}

	return b.stages, nil
}

// BuildFacetPipeline wraps an item pipeline in a $facet that computes the
// total from the bare match predicate in parallel. Population must never
// change the matched-document count, so the two branches agree by
// construction.
func BuildFacetPipeline(items []bson.D, match bson.M) []bson.D {
	return []bson.D{{{Key: "$facet", Value: bson.M{
		"items": items,
		"total": []bson.D{
			{{Key: "$match", Value: match}},
			{{Key: "$count", Value: "count"}},
		},
	}}}}
}

func hasWildcard(paths []PopulatePath) bool {
	for _, p := range paths {
		if p.Path == "all" {
			return true
		}
	}
	return false
}

// populateAll expands the wildcard: one lookup per top-level relation field,
// skipping excluded ones. Array-typed relations keep their multiplicity and
// are not unwound.
func (b *pipelineBuilder) populateAll() {
	for i := range b.fields {
		field := &b.fields[i]
		if !field.IsRelation() || b.isExcluded(field.Name) {
			continue
		}
		b.stages = append(b.stages, bson.D{{Key: "$lookup", Value: bson.M{
			"from":         helpers.NormalizeCollectionName(field.Relation.Ref),
			"localField":   field.Name,
			"foreignField": "_id",
			"as":           field.Name,
		}}})
		if field.Type != "array" {
			b.stages = append(b.stages, bson.D{{Key: "$unwind", Value: bson.M{
				"path":                       "$" + field.Name,
				"preserveNullAndEmptyArrays": true,
			}}})
		}
	}
}

// populatePath walks one dotted path level by level, unwinding whatever sits
// on the way to the relation so the lookup can be scalar-keyed.
func (b *pipelineBuilder) populatePath(parts []string, fields []schema.FieldDefinition, basePath string, depth int, selects []string) {
	if depth > maxPopulateDepth || len(parts) == 0 {
		return
	}

	head, tail := parts[0], parts[1:]
	currentPath := head
	if basePath != "" {
		currentPath = basePath + "." + head
	}
	if b.visited[currentPath] || b.isExcluded(currentPath) {
		return
	}
	b.visited[currentPath] = true

	field := schema.FieldByName(fields, head)
	if field == nil {
		return
	}

	isArray := field.Type == "array"
	isObject := field.Type == "object" || len(field.Fields) > 0
	isRelation := field.IsRelation()

	if isArray || (isObject && !isRelation) {
		b.stages = append(b.stages, bson.D{{Key: "$unwind", Value: bson.M{
			"path":                       "$" + currentPath,
			"preserveNullAndEmptyArrays": true,
		}}})
		b.unwound[rootSegment(currentPath)] = true
	}

	if isRelation {
		b.lookupRelation(currentPath, field, len(tail) == 0, selects)
	}

	if len(tail) > 0 && len(field.Fields) > 0 {
		b.populatePath(tail, field.Fields, currentPath, depth+1, selects)
	}
}

// lookupRelation emits the lookup/merge stage pair for one relation segment.
// The looked-up document is merged into the field's position; when the
// lookup finds nothing the original identifier is preserved instead of the
// field being nulled out.
func (b *pipelineBuilder) lookupRelation(path string, field *schema.FieldDefinition, last bool, selects []string) {
	alias := strings.ReplaceAll(path, ".", "_") + "_lookup"

	b.stages = append(b.stages, bson.D{{Key: "$lookup", Value: bson.M{
		"from":         helpers.NormalizeCollectionName(field.Relation.Ref),
		"localField":   path,
		"foreignField": "_id",
		"as":           alias,
	}}})

	b.stages = append(b.stages, bson.D{{Key: "$addFields", Value: bson.M{
		path: bson.M{
			"$cond": bson.M{
				"if": bson.M{"$gt": bson.A{bson.M{"$size": "$" + alias}, 0}},
				"then": bson.M{"$mergeObjects": bson.A{
					bson.M{"_id": "$" + path},
					bson.M{"$arrayElemAt": bson.A{"$" + alias, 0}},
				}},
				"else": bson.M{"_id": "$" + path},
			},
		},
	}}})

	b.stages = append(b.stages, bson.D{{Key: "$unset", Value: alias}})

	if last && len(selects) > 0 {
		// Restrict the merged relation object to the selected sub-fields;
		// the identifier always survives.
		kept := bson.M{"_id": "$" + path + "._id"}
		for _, sub := range selects {
			if s := strings.TrimSpace(sub); s != "" {
				kept[s] = "$" + path + "." + s
			}
		}
		b.stages = append(b.stages, bson.D{{Key: "$addFields", Value: bson.M{path: kept}}})
	}
}

func (b *pipelineBuilder) isExcluded(path string) bool {
	for _, ex := range b.exclude {
		if path == ex || strings.HasPrefix(path, ex+".") {
			return true
		}
	}
	return false
}

func rootSegment(path string) string {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}
