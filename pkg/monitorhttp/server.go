// Package monitorhttp is the optional HTTP status surface spec §1
// classes as a thin, non-core shell: a read-only view onto sessions'
// trace documents, turned on only by `status --serve`. Grounded
// on the teacher's internal/api package (router.go/handlers.go): the
// same chi router plus stdlib-middleware-stack shape and writeJSON/
// writeError helpers, narrowed from a full project-index REST API down
// to the two endpoints this surface needs.
package monitorhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sdqctl/sdqctl/pkg/render"
)

// TraceStore locates a session's trace document by session directory
// name (the identifier the engine uses for the directory under the
// configured session root — the adapter-issued session id unless a
// SESSION-NAME header directive overrode it).
type TraceStore interface {
	Trace(id string) (*render.Document, bool, error)
}

// Server is the monitorhttp HTTP surface: health check plus one
// trace-retrieval endpoint per session.
type Server struct {
	store  TraceStore
	router chi.Router
}

// NewServer builds a Server backed by store.
func NewServer(store TraceStore) *Server {
	s := &Server{store: store}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/trace", s.handleTrace)
	})

	s.router = r
}

// Handler returns the HTTP handler (for http.Server/httptest wiring).
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, ok, err := s.store.Trace(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no trace recorded for session "+id)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
