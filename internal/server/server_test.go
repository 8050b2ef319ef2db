package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/automata/internal/auth"
	"github.com/sakif/automata/internal/config"
	sqliteRepo "github.com/sakif/automata/internal/repository/sqlite"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = sqliteRepo.MemoryPath
	cfg.Moderators = []string{"mod"}

	s, err := newServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), auth.NewPasswordServiceForTest(4))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestRoutes_AuthBoundary(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/users",
		strings.NewReader(`{"username":"mod","password":"long enough"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"isModerator":true`)

	tests := []struct {
		name   string
		method string
		path   string
		auth   bool
		status int
	}{
		{"public list", http.MethodGet, "/api/contributions", false, http.StatusOK},
		{"me anonymous", http.MethodGet, "/api/me", false, http.StatusUnauthorized},
		{"me authenticated", http.MethodGet, "/api/me", true, http.StatusOK},
		{"submit anonymous", http.MethodPost, "/api/contributions", false, http.StatusUnauthorized},
		{"rate anonymous", http.MethodPost, "/api/contributions/abc/rate", false, http.StatusUnauthorized},
		{"unknown route", http.MethodGet, "/nope", false, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.SetBasicAuth("mod", "long enough")
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}
