package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"contentd/src/directors"
	"contentd/src/errs"
	"contentd/src/helpers"
	"contentd/src/schema"
	"contentd/src/settings"
)

// Server is the thin REST boundary over the generic query and write
// services. One set of handlers serves every content type; the schema name
// in the path selects the model.
type Server struct {
	query    *directors.QueryService
	write    *directors.WriteService
	registry *schema.Registry
	settings *settings.Arguments
	logger   *zap.SugaredLogger

	httpServer *http.Server
}

func NewServer(query *directors.QueryService, write *directors.WriteService,
	registry *schema.Registry, settings *settings.Arguments,
	logger *zap.SugaredLogger) *Server {
	return &Server{
		query:    query,
		write:    write,
		registry: registry,
		settings: settings,
		logger:   logger,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/{schema}", s.handleList)
	mux.HandleFunc("POST /api/{schema}", s.handleCreate)
	mux.HandleFunc("GET /api/{schema}/describe", s.handleDescribe)
	mux.HandleFunc("GET /api/{schema}/distinct/{field}", s.handleDistinct)
	mux.HandleFunc("GET /api/{schema}/by/{field}/{value}", s.handleGetByField)
	mux.HandleFunc("GET /api/{schema}/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/{schema}/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/{schema}/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/{schema}/{id}/restore", s.handleRestore)

	mux.HandleFunc("GET /admin/schemas", s.handleListSchemas)
	mux.HandleFunc("POST /admin/schemas", s.handleCreateSchema)

	return mux
}

type requestLoggerKey struct{}

// withRequestID tags every request with a fresh id, echoes it in the
// X-Request-Id header and carries an id-scoped logger in the context so
// error logs correlate with the response a client saw.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := helpers.GenerateUUID()
		w.Header().Set("X-Request-Id", id)
		scoped := s.logger.With("requestId", id)
		ctx := context.WithValue(r.Context(), requestLoggerKey{}, scoped)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger returns the id-scoped logger for a request, falling back to
// the server logger for anything served outside the middleware.
func (s *Server) requestLogger(r *http.Request) *zap.SugaredLogger {
	if scoped, ok := r.Context().Value(requestLoggerKey{}).(*zap.SugaredLogger); ok {
		return scoped
	}
	return s.logger
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withRequestID(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.Infow("server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	envelope, err := s.query.List(r.Context(), r.PathValue("schema"), r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.query.GetByID(r.Context(), r.PathValue("schema"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	doc, err := s.query.StructuralSchema(r.Context(), r.PathValue("schema"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDistinct(w http.ResponseWriter, r *http.Request) {
	values, err := s.query.Distinct(r.Context(), r.PathValue("schema"), r.PathValue("field"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"values": values})
}

func (s *Server) handleGetByField(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.settings.DefaultPageSize)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = min(n, int64(s.settings.MaxPageSize))
		}
	}
	items, err := s.query.GetByField(r.Context(),
		r.PathValue("schema"), r.PathValue("field"), r.PathValue("value"),
		r.URL.Query().Get("sort"), limit, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleCreate accepts either a single document or a bulk {"items": [...]}
// payload on the same route.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("schema")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, errs.New(errs.ValidationFailed, "request body must be a JSON object"))
		return
	}

	if rawItems, ok := body["items"].([]any); ok {
		items := make([]map[string]any, 0, len(rawItems))
		for _, raw := range rawItems {
			item, ok := raw.(map[string]any)
			if !ok {
				s.writeError(w, r, errs.New(errs.ValidationFailed, "every item must be an object"))
				return
			}
			items = append(items, item)
		}
		created, err := s.write.CreateBulk(r.Context(), name, items)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{"items": created})
		return
	}

	created, err := s.write.Create(r.Context(), name, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, errs.New(errs.ValidationFailed, "request body must be a JSON object"))
		return
	}
	updated, err := s.write.Update(r.Context(), r.PathValue("schema"), r.PathValue("id"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("schema"), r.PathValue("id")

	if r.URL.Query().Get("soft") == "true" {
		updated, err := s.write.SoftDelete(r.Context(), name, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
		return
	}

	if err := s.write.Delete(r.Context(), name, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	updated, err := s.write.Restore(r.Context(), r.PathValue("schema"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	docs, err := s.registry.LoadAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schemas": docs})
}

func (s *Server) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	var doc schema.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, r, errs.New(errs.SchemaInvalid, "schema body must be a JSON object"))
		return
	}
	id, err := s.registry.Create(r.Context(), &doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warnw("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	body := map[string]any{
		"error": map[string]any{
			"code":    string(errs.CodeOf(err)),
			"message": err.Error(),
		},
	}
	var coded *errs.Error
	if errors.As(err, &coded) && len(coded.Context) > 0 {
		body["error"].(map[string]any)["context"] = coded.Context
	}
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Errorw("request failed", "error", err)
	}
	s.writeJSON(w, status, body)
}
