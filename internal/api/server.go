// Package api exposes queries, connectivity and cache maintenance over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/steady/internal/cache"
	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/network"
	"github.com/vietddude/steady/internal/query"
)

// Health statuses reported by /health.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusOffline  = "offline"
)

// NetworkResponse is the body of GET /network.
type NetworkResponse struct {
	IsOnline            bool      `json:"is_online"`
	LastOnlineCheck     time.Time `json:"last_online_check"`
	FailedRequests      int       `json:"failed_requests"`
	ShouldShowOfflineUI bool      `json:"should_show_offline_ui"`
}

// HealthResponse is the body of GET /health. Checks holds one entry per
// backend check, "ok" or the error text.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// CheckFunc reports whether a backend is reachable.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// QueryResponse is the body of the query endpoints.
type QueryResponse struct {
	Key          string    `json:"key"`
	Data         any       `json:"data"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	FromCache    bool      `json:"from_cache"`
	IsOffline    bool      `json:"is_offline"`
	HasStaleData bool      `json:"has_stale_data"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Publisher sends change events to the configured notification primitive.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Server provides the HTTP endpoints.
type Server struct {
	coord     *query.Coordinator
	monitor   *network.Monitor
	store     *cache.Store
	publisher Publisher
	checks    map[string]CheckFunc
	router    *mux.Router
	server    *http.Server
}

// NewServer creates a new API server. store may be nil.
func NewServer(coord *query.Coordinator, monitor *network.Monitor, store *cache.Store, port int) *Server {
	s := &Server{
		coord:   coord,
		monitor: monitor,
		store:   store,
		checks:  make(map[string]CheckFunc),
		router:  mux.NewRouter(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes attaches every endpoint to r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/network", s.handleNetwork).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/queries", s.handleListQueries).Methods("GET")
	r.HandleFunc("/queries/{key}", s.handleGetQuery).Methods("GET")
	r.HandleFunc("/queries/{key}/refetch", s.handleRefetch).Methods("POST")
	r.HandleFunc("/queries/{key}/invalidate", s.handleInvalidate).Methods("POST")

	r.HandleFunc("/cache/sweep", s.handleSweep).Methods("POST")
	r.HandleFunc("/cache/{key}", s.handleRemoveCache).Methods("DELETE")
	r.HandleFunc("/cache", s.handleClearCache).Methods("DELETE")

	r.HandleFunc("/events", s.handlePublish).Methods("POST")
}

// SetPublisher enables POST /events.
func (s *Server) SetPublisher(p Publisher) {
	s.publisher = p
}

// AddCheck adds a backend check to /health. A failing check reports degraded.
func (s *Server) AddCheck(name string, fn CheckFunc) {
	s.checks[name] = fn
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := StatusHealthy
	code := http.StatusOK
	switch {
	case !s.monitor.IsOnline():
		status = StatusOffline
		code = http.StatusServiceUnavailable
	case s.monitor.ShouldShowOfflineUI():
		status = StatusDegraded
	}

	resp := HealthResponse{Status: status}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				if resp.Status == StatusHealthy {
					resp.Status = StatusDegraded
				}
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.State()
	writeJSON(w, http.StatusOK, NetworkResponse{
		IsOnline:            st.IsOnline,
		LastOnlineCheck:     st.LastOnlineCheck,
		FailedRequests:      st.FailedRequests,
		ShouldShowOfflineUI: s.monitor.ShouldShowOfflineUI(),
	})
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	keys := s.coord.Keys()
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string][]string{"queries": keys})
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeResult(w, q, q.Fetch(r.Context()))
}

func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeResult(w, q, q.Refetch(r.Context()))
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q.Invalidate()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRemoveCache(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	s.store.Remove(r.Context(), mux.Vars(r)["key"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.store.Clear(r.Context())})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.store.ClearExpired(r.Context())})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		http.Error(w, "Realtime disabled", http.StatusNotImplemented)
		return
	}
	var ev domain.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if ev.Topic == "" || ev.Type == "" {
		http.Error(w, "topic and type are required", http.StatusBadRequest)
		return
	}
	if err := s.publisher.Publish(r.Context(), ev); err != nil {
		http.Error(w, fmt.Sprintf("Failed to publish event: %v", err), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*query.Query, bool) {
	key := mux.Vars(r)["key"]
	q, ok := s.coord.Get(key)
	if !ok {
		http.Error(w, "Query not found", http.StatusNotFound)
		return nil, false
	}
	return q, true
}

func (s *Server) requireCache(w http.ResponseWriter) bool {
	if s.store == nil {
		http.Error(w, "Cache disabled", http.StatusNotImplemented)
		return false
	}
	return true
}

// writeResult answers 200 for fresh or fallback data and 502 when a fetch
// failed with nothing to show.
func (s *Server) writeResult(w http.ResponseWriter, q *query.Query, res query.Result) {
	resp := QueryResponse{
		Key:          q.Key(),
		Data:         res.Data,
		FromCache:    res.FromCache,
		IsOffline:    q.IsOffline(),
		HasStaleData: q.HasStaleData(),
		FetchedAt:    q.FetchedAt(),
	}
	code := http.StatusOK
	if res.Err != nil {
		resp.Error = res.Err.Error()
		resp.ErrorKind = s.coord.ErrorKind(res.Err).String()
		if !res.FromCache {
			code = http.StatusBadGateway
		}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
