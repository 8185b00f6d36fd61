package registrytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func setupServer(t *testing.T, orgs []string) *Server {
	t.Helper()
	srv, err := New(t.TempDir(), "secret", orgs, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	srv := setupServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/packages/mylib", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/packages/mylib", "wrong", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	var payload errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if payload.Code != http.StatusUnauthorized {
		t.Errorf("payload code = %d, want 401", payload.Code)
	}
}

func TestUnknownRouteAnswersJSON(t *testing.T) {
	srv := setupServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v2/nope", "secret", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var payload errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
}

func TestPublishRejectsEmptyArchive(t *testing.T) {
	srv := setupServer(t, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/packages/mylib/releases/1.0.0", "secret", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReleaseDeleteCascadesDocs(t *testing.T) {
	srv := setupServer(t, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/packages/mylib/releases/1.0.0", "secret", "release")
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish release: status = %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/packages/mylib/releases/1.0.0/docs", "secret", "docs")
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish docs: status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/packages/mylib/releases/1.0.0", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete release: status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/packages/mylib/releases/1.0.0/docs", "secret", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("docs after release delete: status = %d, want 404", rec.Code)
	}
	if srv.HasRelease("", "mylib", "1.0.0") {
		t.Error("release still present after delete")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := setupServer(t, []string{"acme"})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/users/me/organizations", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}
