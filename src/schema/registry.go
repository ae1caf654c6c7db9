package schema

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"contentd/src/errs"
)

// Store is the read-through schema source the registry sits in front of.
// The mongo implementation lives in src/storage.
type Store interface {
	// LoadSchema matches any name form (singular, plural, endpoint,
	// collection). Returns nil, nil when no schema matches.
	LoadSchema(ctx context.Context, name string) (*Document, error)
	LoadAllSchemas(ctx context.Context) ([]*Document, error)
	CreateSchema(ctx context.Context, doc *Document) (string, error)
	UpdateSchema(ctx context.Context, doc *Document) error
}

// Registry is the in-memory schema cache. Cached documents are immutable;
// invalidation drops the entry and the next load replaces it wholesale.
type Registry struct {
	store  Store
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]*Document
}

func NewRegistry(store Store, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		cache:  make(map[string]*Document),
	}
}

// Load returns the schema known by name, reading through to the store on a
// cache miss. Inheritance is NOT merged here; use Resolve for that.
func (r *Registry) Load(ctx context.Context, name string) (*Document, error) {
	r.mu.RLock()
	doc, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return doc, nil
	}

	doc, err := r.store.LoadSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errs.New(errs.SchemaNotFound, "schema %q not found", name)
	}

	r.mu.Lock()
	r.cache[name] = doc
	r.mu.Unlock()
	return doc, nil
}

// LoadAll fetches every schema and primes the cache.
func (r *Registry) LoadAll(ctx context.Context) ([]*Document, error) {
	docs, err := r.store.LoadAllSchemas(ctx)
	if err != nil {
		return nil, err
	}

	fresh := make(map[string]*Document, len(docs))
	for _, doc := range docs {
		fresh[doc.LogicalName()] = doc
	}
	r.mu.Lock()
	r.cache = fresh
	r.mu.Unlock()

	return docs, nil
}

// Create stores a new schema and invalidates the cache so readers pick the
// fresh set up on their next load.
func (r *Registry) Create(ctx context.Context, doc *Document) (string, error) {
	id, err := r.store.CreateSchema(ctx, doc)
	if err != nil {
		return "", err
	}
	r.InvalidateAll()
	r.logger.Infow("schema created", "name", doc.LogicalName(), "id", id)
	return id, nil
}

// Update replaces a schema definition and drops every cached entry that could
// reference it (any schema may inherit from it, so all entries go).
func (r *Registry) Update(ctx context.Context, doc *Document) error {
	if err := r.store.UpdateSchema(ctx, doc); err != nil {
		return err
	}
	r.InvalidateAll()
	r.logger.Infow("schema updated", "name", doc.LogicalName())
	return nil
}

// Invalidate drops one cached schema.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

// InvalidateAll empties the cache.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*Document)
	r.mu.Unlock()
}
