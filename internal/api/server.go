package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobdesk/internal/domain"
	"jobdesk/internal/lifecycle"
	"jobdesk/internal/store"
)

type Server struct {
	r    *chi.Mux
	jobs *lifecycle.Service
}

func NewServer(jobs *lifecycle.Service) http.Handler {
	return NewServerWithDebug(jobs, false)
}

func NewServerWithDebug(jobs *lifecycle.Service, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s := &Server{r: r, jobs: jobs}

	r.Get("/health", s.health)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.createJob)
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Post("/{id}/run", s.runJob)
		r.Patch("/{id}", s.updateJob)
		r.Delete("/{id}", s.deleteJob)
	})

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createJobReq struct {
	TaskName string          `json:"taskName"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, 400, err.Error())
		return
	}
	id, err := s.jobs.Create(r.Context(), req.TaskName, req.Payload, req.Priority)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Job created successfully",
		"jobId":   id,
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	f := store.Filter{
		Status:   r.URL.Query().Get("status"),
		Priority: r.URL.Query().Get("priority"),
	}
	jobs, err := s.jobs.List(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, 200, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeMessage(w, 404, "Job not found")
		return
	}
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, j)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeMessage(w, 404, "Job not found")
		return
	}
	if err := s.jobs.Run(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, 200, "Job started")
}

type updateJobReq struct {
	TaskName string `json:"taskName"`
	Priority string `json:"priority"`
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeMessage(w, 404, "Job not found")
		return
	}
	var req updateJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, 400, err.Error())
		return
	}
	if err := s.jobs.Update(r.Context(), id, req.TaskName, req.Priority); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, 200, "Job updated successfully")
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeMessage(w, 404, "Job not found")
		return
	}
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, 200, "Job deleted successfully")
}

// jobID parses the path id. A non-numeric id can't match any row, so callers
// treat a parse failure as not found.
func jobID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var stateErr *lifecycle.InvalidStateError
	switch {
	case errors.Is(err, lifecycle.ErrMissingFields):
		writeMessage(w, 400, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, 404, "Job not found")
	case errors.As(err, &stateErr):
		writeMessage(w, 400, stateErr.Error())
	default:
		writeMessage(w, 500, err.Error())
	}
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
