// Package registrytest runs a miniature package registry in-process so
// gateway and command tests can exercise real HTTP against real state.
package registrytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/core/models"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Server is an in-process registry with bearer-token auth, a fixed
// organization list for the authenticated user, and SQLite-backed state.
type Server struct {
	store  *store
	token  string
	orgs   []models.Organization
	logger zerolog.Logger
}

// New creates a Server storing its database under dataDir. Requests must
// carry the given bearer token; orgs is the organization list answered
// for the authenticated user.
func New(dataDir, token string, orgs []string, logger zerolog.Logger) (*Server, error) {
	st, err := newStore(dataDir)
	if err != nil {
		return nil, err
	}
	list := make([]models.Organization, 0, len(orgs))
	for _, name := range orgs {
		list = append(list, models.Organization{Name: name, Role: "admin"})
	}
	return &Server{store: st, token: token, orgs: list, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Server) Close() error {
	return s.store.close()
}

// HasRelease reports whether a release exists, for test assertions.
func (s *Server) HasRelease(repo, name, version string) bool {
	_, err := s.store.releaseID(repo, name, version)
	return err == nil
}

// Owners returns the current owners of a package, for test assertions.
func (s *Server) Owners(repo, name string) []string {
	info, err := s.store.getPackage(repo, name)
	if err != nil {
		return nil
	}
	return info.Owners
}

// Router returns the chi router with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.authMiddleware)

	packageRoutes := func(r chi.Router) {
		r.Get("/", s.getPackage)
		r.Put("/owners/{owner}", s.putOwner)
		r.Post("/releases/{version}", s.publishRelease)
		r.Delete("/releases/{version}", s.deleteRelease)
		r.Post("/releases/{version}/docs", s.publishDocs)
		r.Delete("/releases/{version}/docs", s.deleteDocs)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/users/me/organizations", s.listOrganizations)
		r.Route("/packages/{name}", packageRoutes)
		r.Route("/repos/{org}/packages/{name}", packageRoutes)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	return r
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("registrytest request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		if strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")) != s.token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func scope(r *http.Request) (repo, name, version string) {
	return chi.URLParam(r, "org"), chi.URLParam(r, "name"), chi.URLParam(r, "version")
}

func (s *Server) publishRelease(w http.ResponseWriter, r *http.Request) {
	repo, name, version := scope(r)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty release archive")
		return
	}

	replace := r.URL.Query().Get("replace") == "true"
	release, err := s.store.createRelease(repo, name, version, data, replace)
	if err != nil {
		if errors.Is(err, errConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store release")
		return
	}
	writeJSON(w, http.StatusCreated, release)
}

func (s *Server) deleteRelease(w http.ResponseWriter, r *http.Request) {
	repo, name, version := scope(r)
	if err := s.store.deleteRelease(repo, name, version); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("release %s@%s not found", name, version))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete release")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) publishDocs(w http.ResponseWriter, r *http.Request) {
	repo, name, version := scope(r)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}

	if err := s.store.putDocs(repo, name, version, data); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("release %s@%s not published", name, version))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store docs")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) deleteDocs(w http.ResponseWriter, r *http.Request) {
	repo, name, version := scope(r)
	if err := s.store.deleteDocs(repo, name, version); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no docs for %s@%s", name, version))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete docs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) getPackage(w http.ResponseWriter, r *http.Request) {
	repo, name, _ := scope(r)
	info, err := s.store.getPackage(repo, name)
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("package %s not found", name))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) putOwner(w http.ResponseWriter, r *http.Request) {
	repo, name, _ := scope(r)
	owner := chi.URLParam(r, "owner")
	level := r.URL.Query().Get("level")
	if level == "" {
		level = "full"
	}
	transfer := r.URL.Query().Get("transfer") == "true"

	if err := s.store.setOwner(repo, name, owner, level, transfer); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("package %s not found", name))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update owners")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listOrganizations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orgs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: msg,
	})
}
