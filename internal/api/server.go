// Package api provides the HTTP API for observing a running economy.
// Every endpoint is a read-only GET; the simulation is never driven from here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/persistence"
)

// Options configures a Server.
type Options struct {
	Port      int
	RateLimit int // requests per client per minute
	CacheSize int // cached responses
}

// Server serves the economy over HTTP.
type Server struct {
	Sim   *engine.Simulation
	Eng   *engine.Engine  // optional, reports whether the run is live
	DB    *persistence.DB // optional, enables the /runs endpoints
	RunID string

	port    int
	limiter *RateLimiter
	cache   *lru.Cache // encoded responses keyed by URL and log length
}

// New creates a server for sim.
func New(sim *engine.Simulation, eng *engine.Engine, db *persistence.DB, runID string, opts Options) (*Server, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 120
	}
	cache, err := lru.New(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("api: response cache: %w", err)
	}
	return &Server{
		Sim:     sim,
		Eng:     eng,
		DB:      db,
		RunID:   runID,
		port:    opts.Port,
		limiter: NewRateLimiter(opts.RateLimit, time.Minute),
		cache:   cache,
	}, nil
}

// Handler returns the routed handler with CORS and rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/snapshots", s.cached(s.snapshots))
	mux.HandleFunc("GET /api/v1/snapshots/{cycle}", s.cached(s.snapshotAt))
	mux.HandleFunc("GET /api/v1/transitions", s.cached(s.transitions))
	mux.HandleFunc("GET /api/v1/decisions", s.cached(s.decisions))
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/goods", s.handleGoods)
	mux.HandleFunc("GET /api/v1/consumer/{id}", s.handleConsumer)

	// Stored runs.
	mux.HandleFunc("GET /api/v1/runs", s.withDB(s.handleRuns))
	mux.HandleFunc("GET /api/v1/runs/{id}", s.withDB(s.handleRun))
	mux.HandleFunc("GET /api/v1/runs/{id}/snapshots", s.withDB(s.cached(s.runSnapshots)))

	return corsMiddleware(RateLimitMiddleware(s.limiter, mux))
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "persistence", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// httpError carries a status code out of a cached producer.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func notFound(msg string) error   { return &httpError{http.StatusNotFound, msg} }
func badRequest(msg string) error { return &httpError{http.StatusBadRequest, msg} }

// cached serves the producer's output from the LRU cache. The key includes
// the log length so every closed cycle invalidates what came before.
func (s *Server) cached(produce func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.RequestURI() + "#" + strconv.Itoa(s.Sim.Log().Len())
		if v, ok := s.cache.Get(key); ok {
			w.Header().Set("X-Cache", "hit")
			writeRaw(w, v.([]byte))
			return
		}
		data, err := produce(r)
		if err != nil {
			writeError(w, err)
			return
		}
		body, err := encode(data)
		if err != nil {
			slog.Error("encode response", "path", r.URL.Path, "error", err)
			http.Error(w, "encoding failed", http.StatusInternalServerError)
			return
		}
		s.cache.Add(key, body)
		w.Header().Set("X-Cache", "miss")
		writeRaw(w, body)
	}
}

func (s *Server) withDB(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DB == nil {
			http.Error(w, "database not available", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

type statusResponse struct {
	Scenario   string           `json:"scenario"`
	RunID      string           `json:"run_id,omitempty"`
	Cycle      uint64           `json:"cycle"`
	Time       string           `json:"sim_time"`
	Running    bool             `json:"running"`
	PolicyRate float64          `json:"policy_rate"`
	Crisis     crisis.Status    `json:"crisis"`
	Latest     *engine.Snapshot `json:"latest,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cycle := s.Sim.Cycle()
	status := statusResponse{
		Scenario:   s.Sim.Scenario().Name,
		RunID:      s.RunID,
		Cycle:      cycle,
		Time:       engine.CycleTime(cycle),
		Running:    s.Eng != nil && s.Eng.Running(),
		PolicyRate: s.Sim.PolicyRate(),
		Crisis:     s.Sim.CrisisStatus(),
	}
	if last, ok := s.Sim.Log().Last(); ok {
		status.Latest = &last
	}
	writeJSON(w, status)
}

// snapshots lists the log, or with ?since=N only the cycles after N.
func (s *Server) snapshots(r *http.Request) (any, error) {
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, badRequest("invalid since")
		}
		since = n
	}
	snaps := s.Sim.Log().Since(since)
	if snaps == nil {
		snaps = []engine.Snapshot{}
	}
	return snaps, nil
}

func (s *Server) snapshotAt(r *http.Request) (any, error) {
	cycle, err := strconv.ParseUint(r.PathValue("cycle"), 10, 64)
	if err != nil {
		return nil, badRequest("invalid cycle")
	}
	snap, ok := s.Sim.Log().At(cycle)
	if !ok {
		return nil, notFound("cycle not found")
	}
	return snap, nil
}

func (s *Server) transitions(r *http.Request) (any, error) {
	return s.Sim.Log().Transitions(), nil
}

func (s *Server) decisions(r *http.Request) (any, error) {
	return s.Sim.Log().Decisions(), nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.Sim.Log().Events()
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []engine.Event{}
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	writeJSON(w, events[start:])
}

func (s *Server) handleGoods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Goods())
}

type consumerResponse struct {
	agents.Consumer
	Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleConsumer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid consumer id", http.StatusBadRequest)
		return
	}
	c, ok := s.Sim.Consumer(ledger.AgentID(id))
	if !ok {
		http.Error(w, "consumer not found", http.StatusNotFound)
		return
	}
	writeJSON(w, consumerResponse{Consumer: c, Balance: s.Sim.Balance(c.ID)})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.DB.Runs(r.Context())
	if err != nil {
		slog.Error("list runs", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.DB.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) runSnapshots(r *http.Request) (any, error) {
	id := r.PathValue("id")
	if _, err := s.DB.GetRun(r.Context(), id); err != nil {
		return nil, err
	}
	snaps, err := s.DB.Snapshots(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []engine.Snapshot{}
	}
	return snaps, nil
}

func writeError(w http.ResponseWriter, err error) {
	var he *httpError
	switch {
	case errors.As(err, &he):
		http.Error(w, he.msg, he.code)
	case errors.Is(err, persistence.ErrRunNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	default:
		slog.Error("api request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func encode(data any) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
	w.Write([]byte("\n"))
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
