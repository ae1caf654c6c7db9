package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contentd/src/settings"
)

func TestRequestIDAttachedToEveryResponse(t *testing.T) {
	s := NewServer(nil, nil, nil, &settings.Arguments{}, zap.NewNop().Sugar())
	handler := s.withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, s.requestLogger(r))
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	require.NotEmpty(t, first.Header().Get("X-Request-Id"))
	require.NotEmpty(t, second.Header().Get("X-Request-Id"))
	assert.NotEqual(t, first.Header().Get("X-Request-Id"), second.Header().Get("X-Request-Id"))
}

func TestRequestLoggerFallsBackOutsideMiddleware(t *testing.T) {
	s := NewServer(nil, nil, nil, &settings.Arguments{}, zap.NewNop().Sugar())
	r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	assert.NotNil(t, s.requestLogger(r))
}
