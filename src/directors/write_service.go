package directors

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"contentd/src/engine"
	"contentd/src/errs"
	"contentd/src/helpers"
	"contentd/src/schema"
	"contentd/src/security"
	"contentd/src/settings"
)

// CleanupHook is a best-effort side effect run after a hard delete (binary
// asset removal and the like). Failures are logged, never propagated.
type CleanupHook func(ctx context.Context, schemaName string, doc map[string]any) error

// WriteService drives the write path: relation resolution, validation,
// field security, uniqueness probes, and the storage write itself.
type WriteService struct {
	registry   *schema.Registry
	compiler   *engine.ModelCompiler
	models     *engine.ModelRegistry
	validators *engine.ValidatorRegistry
	exec       Executor
	settings   *settings.Arguments
	logger     *zap.SugaredLogger

	cleanups []CleanupHook
}

func NewWriteService(registry *schema.Registry, compiler *engine.ModelCompiler,
	models *engine.ModelRegistry, validators *engine.ValidatorRegistry,
	exec Executor, settings *settings.Arguments, logger *zap.SugaredLogger) *WriteService {
	return &WriteService{
		registry:   registry,
		compiler:   compiler,
		models:     models,
		validators: validators,
		exec:       exec,
		settings:   settings,
		logger:     logger,
	}
}

// OnDelete registers a best-effort cleanup hook.
func (s *WriteService) OnDelete(hook CleanupHook) {
	s.cleanups = append(s.cleanups, hook)
}

func (s *WriteService) descriptor(ctx context.Context, name string) (*engine.ModelDescriptor, *schema.Document, error) {
	doc, err := s.registry.Resolve(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if doc.IsAbstract {
		return nil, nil, errs.New(errs.SchemaNotFound,
			"schema %q is abstract and cannot be written to", name)
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

func (s *WriteService) validator(doc *schema.Document) (*engine.Validator, error) {
	name := doc.LogicalName()
	if cached := s.validators.Lookup(name, doc.Version); cached != nil {
		return cached, nil
	}
	validator, err := engine.CompileValidator(doc.Fields)
	if err != nil {
		return nil, err
	}
	s.validators.Store(name, doc.Version, validator)
	return validator, nil
}

// prepare runs the per-item write gates in order: relation resolution,
// structural validation, field security. All-or-nothing per item.
func (s *WriteService) prepare(doc *schema.Document, validator *engine.Validator, payload map[string]any) (map[string]any, error) {
	resolved, err := engine.ResolveRelations(payload, doc.Fields)
	if err != nil {
		return nil, err
	}
	if verrs := validator.Validate(resolved); len(verrs) > 0 {
		return nil, errs.New(errs.ValidationFailed, "validation failed").
			With("errors", verrs)
	}
	if err := security.ApplyFieldSecurity(resolved, doc.Fields); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "field security failed")
	}
	return resolved, nil
}

// probeUnique checks every unique field of the descriptor against storage.
// excludeID skips the document being updated.
func (s *WriteService) probeUnique(ctx context.Context, desc *engine.ModelDescriptor, doc map[string]any, excludeID *primitive.ObjectID) error {
	for _, field := range desc.Unique {
		value := dottedLookup(doc, field)
		if value == nil {
			continue
		}
		predicate := bson.M{field: value}
		if excludeID != nil {
			predicate["_id"] = bson.M{"$ne": *excludeID}
		}
		existing, err := s.exec.FindOne(ctx, desc.Collection, predicate)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.New(errs.UniquenessConflict,
				"%s with this %s already exists", desc.Name, field).
				With("field", field).
				With("conflictId", existing["_id"])
		}
	}
	return nil
}

// Create validates, resolves and writes one document.
func (s *WriteService) Create(ctx context.Context, name string, payload map[string]any) (map[string]any, error) {
	desc, doc, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	validator, err := s.validator(doc)
	if err != nil {
		return nil, err
	}

	item, err := s.prepare(doc, validator, payload)
	if err != nil {
		return nil, err
	}
	if err := s.probeUnique(ctx, desc, item, nil); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item["createdAt"] = now
	item["updatedAt"] = now

	id, err := s.exec.InsertOne(ctx, desc.Collection, item)
	if err != nil {
		return nil, err
	}
	item["_id"] = id
	s.logger.Infow("document created", "schema", name, "id", id.Hex())
	return item, nil
}

// CreateBulk writes many documents. Every item is validated up front so the
// caller sees all structural errors at once; items are then written in input
// order and the response array mirrors that order.
func (s *WriteService) CreateBulk(ctx context.Context, name string, payloads []map[string]any) ([]map[string]any, error) {
	if len(payloads) == 0 {
		return nil, errs.New(errs.ValidationFailed,
			"request body must contain an \"items\" array with at least one element")
	}

	desc, doc, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	validator, err := s.validator(doc)
	if err != nil {
		return nil, err
	}

	resolved := make([]map[string]any, len(payloads))
	for i, payload := range payloads {
		item, err := engine.ResolveRelations(payload, doc.Fields)
		if err != nil {
			return nil, err
		}
		resolved[i] = item
	}

	if err := validator.ValidateItems(resolved); err != nil {
		return nil, err
	}

	created := make([]map[string]any, 0, len(resolved))
	for _, item := range resolved {
		if err := security.ApplyFieldSecurity(item, doc.Fields); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "field security failed")
		}
		if err := s.probeUnique(ctx, desc, item, nil); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		item["createdAt"] = now
		item["updatedAt"] = now
		id, err := s.exec.InsertOne(ctx, desc.Collection, item)
		if err != nil {
			return nil, err
		}
		item["_id"] = id
		created = append(created, item)
	}

	s.logger.Infow("documents created", "schema", name, "count", len(created))
	return created, nil
}

// Update merges the payload over the stored document, revalidates the merged
// result, and writes the changed fields.
func (s *WriteService) Update(ctx context.Context, name, id string, payload map[string]any) (map[string]any, error) {
	desc, doc, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.New(errs.InvalidReference, "malformed identifier %q", id)
	}

	existing, err := s.exec.FindOne(ctx, desc.Collection, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errs.New(errs.SchemaNotFound, "%s not found", name)
	}

	validator, err := s.validator(doc)
	if err != nil {
		return nil, err
	}

	changed, err := s.prepareUpdate(doc, validator, existing, payload)
	if err != nil {
		return nil, err
	}
	if err := s.probeUnique(ctx, desc, changed, &oid); err != nil {
		return nil, err
	}

	changed["updatedAt"] = time.Now().UTC()
	updated, err := s.exec.UpdateByID(ctx, desc.Collection, oid, changed)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("document updated", "schema", name, "id", id)
	return updated, nil
}

// prepareUpdate resolves the payload's relations, then validates the merge
// of payload over the stored document so partial updates cannot dodge
// required-field or variant constraints.
func (s *WriteService) prepareUpdate(doc *schema.Document, validator *engine.Validator, existing, payload map[string]any) (map[string]any, error) {
	resolved, err := engine.ResolveRelations(payload, doc.Fields)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(existing)+len(resolved))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range resolved {
		merged[k] = v
	}
	if verrs := validator.Validate(merged); len(verrs) > 0 {
		return nil, errs.New(errs.ValidationFailed, "validation failed").
			With("errors", verrs)
	}

	if err := security.ApplyFieldSecurity(resolved, doc.Fields); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "field security failed")
	}
	return resolved, nil
}

// Delete hard-deletes a document and fires the cleanup hooks best-effort.
func (s *WriteService) Delete(ctx context.Context, name, id string) error {
	desc, _, err := s.descriptor(ctx, name)
	if err != nil {
		return err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return errs.New(errs.InvalidReference, "malformed identifier %q", id)
	}

	existing, err := s.exec.FindOne(ctx, desc.Collection, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if existing == nil {
		return errs.New(errs.SchemaNotFound, "%s not found", name)
	}

	deleted, err := s.exec.DeleteByID(ctx, desc.Collection, oid)
	if err != nil {
		return err
	}
	if !deleted {
		return errs.New(errs.SchemaNotFound, "%s not found", name)
	}

	s.runCleanups(ctx, name, existing)
	s.logger.Infow("document deleted", "schema", name, "id", id)
	return nil
}

// runCleanups settles every hook; individual failures are logged and
// swallowed, the delete already succeeded.
func (s *WriteService) runCleanups(ctx context.Context, name string, doc map[string]any) {
	if len(s.cleanups) == 0 {
		return
	}
	tasks := make([]func() error, len(s.cleanups))
	for i, hook := range s.cleanups {
		tasks[i] = func() error { return hook(ctx, name, doc) }
	}
	for _, result := range helpers.SettleAll(tasks) {
		if result.Err != nil {
			s.logger.Warnw("cleanup hook failed",
				"schema", name, "hook", result.Index, "error", result.Err)
		}
	}
}

// SoftDelete flags a document deleted without removing it.
func (s *WriteService) SoftDelete(ctx context.Context, name, id string) (map[string]any, error) {
	return s.setDeleted(ctx, name, id, true)
}

// Restore clears the soft-delete flag.
func (s *WriteService) Restore(ctx context.Context, name, id string) (map[string]any, error) {
	return s.setDeleted(ctx, name, id, false)
}

func (s *WriteService) setDeleted(ctx context.Context, name, id string, deleted bool) (map[string]any, error) {
	desc, _, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.New(errs.InvalidReference, "malformed identifier %q", id)
	}

	set := map[string]any{"isDeleted": deleted, "updatedAt": time.Now().UTC()}
	if deleted {
		set["deletedAt"] = time.Now().UTC()
	} else {
		set["deletedAt"] = nil
	}

	updated, err := s.exec.UpdateByID(ctx, desc.Collection, oid, set)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, errs.New(errs.SchemaNotFound, "%s not found", name)
	}
	return updated, nil
}

// dottedLookup walks a dotted path into nested maps.
func dottedLookup(doc map[string]any, path string) any {
	current := any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
