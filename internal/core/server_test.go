package core

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shovel/internal/config"
	"shovel/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{Environment: "local", Service: "shovel"}, slog.Default())
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, slog.Default())
	assert.Error(t, err)

	_, err = NewServer(&config.Config{}, nil)
	assert.Error(t, err)
}

func TestServer_GeneratesRequestID(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		OK(w, r, map[string]string{"request_id": types.GetRequestID(r.Context())})
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.Data["request_id"], "context id matches the response header")
}

func TestServer_PropagatesInboundRequestID(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		OK(w, r, nil)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_RecoversFromPanic(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp APIErrorResponse
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "exploded", "panic detail never leaks to clients")
}
