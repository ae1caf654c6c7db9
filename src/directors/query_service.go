package directors

import (
	"context"
	"net/url"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"contentd/src/engine"
	"contentd/src/errs"
	"contentd/src/schema"
	"contentd/src/security"
	"contentd/src/settings"
)

// Executor is the slice of the storage layer the services consume. The mongo
// implementation lives in src/storage.
type Executor interface {
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]map[string]any, error)
	Count(ctx context.Context, collection string, predicate bson.M) (int64, error)
	FindOne(ctx context.Context, collection string, predicate bson.M) (map[string]any, error)
	InsertOne(ctx context.Context, collection string, doc map[string]any) (primitive.ObjectID, error)
	UpdateByID(ctx context.Context, collection string, id primitive.ObjectID, set map[string]any) (map[string]any, error)
	DeleteByID(ctx context.Context, collection string, id primitive.ObjectID) (bool, error)
	Distinct(ctx context.Context, collection, field string, predicate bson.M) ([]any, error)
}

// Pagination is the paging block of a list envelope.
type Pagination struct {
	Page  int64 `json:"page"`
	Limit int64 `json:"limit"`
	Pages int64 `json:"pages"`
}

// Envelope is the list-response shape existing clients consume.
type Envelope struct {
	Items      []map[string]any `json:"items"`
	Total      int64            `json:"total"`
	Pagination Pagination       `json:"pagination"`
}

// QueryService drives the read path: schema resolution, filter and pipeline
// compilation, execution, and envelope assembly.
type QueryService struct {
	registry *schema.Registry
	compiler *engine.ModelCompiler
	models   *engine.ModelRegistry
	exec     Executor
	settings *settings.Arguments
	logger   *zap.SugaredLogger
}

func NewQueryService(registry *schema.Registry, compiler *engine.ModelCompiler,
	models *engine.ModelRegistry, exec Executor,
	settings *settings.Arguments, logger *zap.SugaredLogger) *QueryService {
	return &QueryService{
		registry: registry,
		compiler: compiler,
		models:   models,
		exec:     exec,
		settings: settings,
		logger:   logger,
	}
}

// descriptor resolves a schema (inheritance merged) and returns its compiled
// descriptor, recompiling only when the schema version moved.
func (s *QueryService) descriptor(ctx context.Context, name string) (*engine.ModelDescriptor, *schema.Document, error) {
	doc, err := s.registry.Resolve(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if doc.IsAbstract {
		return nil, nil, errs.New(errs.SchemaNotFound,
			"schema %q is abstract and cannot be served", name)
	}

	if cached := s.models.Get(doc.LogicalName()); cached != nil && cached.Version == doc.Version {
		return cached, doc, nil
	}

	desc, err := s.compiler.Compile(doc)
	if err != nil {
		return nil, nil, err
	}
	return s.models.Register(desc, true), doc, nil
}

// List serves the full read grammar: filters, keyword, sort, population,
// joins, computed fields, projection, and pagination.
func (s *QueryService) List(ctx context.Context, name string, values url.Values) (*Envelope, error) {
	q, err := engine.ParseListQuery(values, engine.ListDefaults{
		PageSize:    int64(s.settings.DefaultPageSize),
		MaxPageSize: int64(s.settings.MaxPageSize),
	})
	if err != nil {
		return nil, err
	}

	desc, doc, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}

	predicate, err := engine.BuildFilter(engine.FilterInput{
		Filters:          q.Filters,
		Searchable:       desc.Searchable,
		AllFields:        desc.AllPaths(),
		Keyword:          q.Keyword,
		Language:         q.Language,
		MaxKeywordLength: s.settings.MaxKeywordLength,
		Types:            desc.Types,
	})
	if err != nil {
		return nil, err
	}

	var sortSpec bson.D
	if !q.Random {
		sortSpec = engine.BuildSort(q.Sort, q.Order, desc.Sortable)
	}

	projection := q.Fields
	if len(projection) == 0 {
		projection = engine.AutoProjection(q.Populate)
	}

	pipeline, err := engine.BuildPipeline(engine.PipelineRequest{
		Match:          predicate,
		Populate:       q.Populate,
		Exclude:        q.Exclude,
		Joins:          q.Joins,
		ComputedFields: q.AddFields,
		Projection:     projection,
		Sort:           sortSpec,
		Page:           q.Page,
		Limit:          q.Limit,
		LastID:         q.LastID,
		Random:         q.Random,
	}, doc.Fields)
	if err != nil {
		return nil, err
	}

	var (
		items []map[string]any
		total int64
	)
	if q.Facet {
		facetResult, err := s.exec.Aggregate(ctx, desc.Collection,
			engine.BuildFacetPipeline(pipeline, predicate))
		if err != nil {
			return nil, err
		}
		items, total = unpackFacet(facetResult)
	} else {
		items, err = s.exec.Aggregate(ctx, desc.Collection, pipeline)
		if err != nil {
			return nil, err
		}
		total, err = s.exec.Count(ctx, desc.Collection, predicate)
		if err != nil {
			return nil, err
		}
	}

	for _, item := range items {
		security.RevealEncryptedFields(item, doc.Fields)
	}

	pages := int64(0)
	if q.Limit > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}

	return &Envelope{
		Items: items,
		Total: total,
		Pagination: Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Pages: pages,
		},
	}, nil
}

// unpackFacet flattens the single $facet result document into items + count.
func unpackFacet(result []map[string]any) ([]map[string]any, int64) {
	if len(result) == 0 {
		return nil, 0
	}

	var items []map[string]any
	if raw, ok := result[0]["items"].([]any); ok {
		for _, entry := range raw {
			switch doc := entry.(type) {
			case map[string]any:
				items = append(items, doc)
			case bson.M:
				items = append(items, map[string]any(doc))
			}
		}
	}

	var total int64
	if raw, ok := result[0]["total"].([]any); ok && len(raw) > 0 {
		if first, ok := raw[0].(map[string]any); ok {
			total = asInt64(first["count"])
		} else if first, ok := raw[0].(bson.M); ok {
			total = asInt64(first["count"])
		}
	}
	return items, total
}

func asInt64(value any) int64 {
	switch v := value.(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// GetByID fetches one document by identifier.
func (s *QueryService) GetByID(ctx context.Context, name, id string) (map[string]any, error) {
	desc, doc, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.New(errs.InvalidReference, "malformed identifier %q", id)
	}
	item, err := s.exec.FindOne(ctx, desc.Collection, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errs.New(errs.SchemaNotFound, "%s not found", name)
	}
	security.RevealEncryptedFields(item, doc.Fields)
	return item, nil
}

// GetByField fetches documents by an allowed key. sort=rand samples instead
// of sorting. A nil allowedKeys falls back to the descriptor's declared
// field paths, so callers never open the lookup to arbitrary keys.
func (s *QueryService) GetByField(ctx context.Context, name, key, value, sort string, limit int64, allowedKeys []string) ([]map[string]any, error) {
	desc, doc, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(allowedKeys) == 0 {
		allowedKeys = append(desc.AllPaths(), "_id")
	}
	if !contains(allowedKeys, key) {
		return nil, errs.New(errs.InvalidFilterValue,
			"invalid field %q for lookup", key)
	}
	if limit <= 0 {
		limit = 1
	}

	pipeline := []bson.D{{{Key: "$match", Value: bson.M{key: value}}}}
	if sort == "rand" {
		pipeline = append(pipeline, bson.D{{Key: "$sample", Value: bson.M{"size": limit}}})
	} else {
		if spec := engine.BuildSort(sort, "asc", nil); len(spec) > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$sort", Value: spec}})
		}
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	items, err := s.exec.Aggregate(ctx, desc.Collection, pipeline)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		security.RevealEncryptedFields(item, doc.Fields)
	}
	return items, nil
}

// Distinct lists the distinct values of one field.
func (s *QueryService) Distinct(ctx context.Context, name, field string) ([]any, error) {
	desc, _, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.exec.Distinct(ctx, desc.Collection, field, bson.M{})
}

// StructuralSchema exposes the compiled validator's schema document for
// introspection endpoints.
func (s *QueryService) StructuralSchema(ctx context.Context, name string) (map[string]any, error) {
	_, doc, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	validator, err := engine.CompileValidator(doc.Fields)
	if err != nil {
		return nil, err
	}
	return validator.Schema, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
