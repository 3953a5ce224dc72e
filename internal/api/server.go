// Package api provides the HTTP API for scoring and simulating parameter
// vectors against the loaded dataset and browsing stored fit runs.
// GET endpoints are read-only. POST endpoints run simulations and are
// rate limited per client IP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/fit"
	"github.com/talgya/berrysim/internal/persistence"
)

// Request limits for the compute endpoints.
const (
	maxSamples = 200
	maxDays    = 3650
	maxBody    = 1 << 16
)

// Server serves the objective and stored runs over HTTP.
type Server struct {
	Objective *fit.Objective  // Nil disables score and simulate
	DB        *persistence.DB // Nil disables run browsing
	Port      int
	RateLimit int // Compute requests per IP per minute; 0 = unlimited
	Version   string

	started  time.Time
	requests atomic.Int64
	limiter  *RateLimiter
	srv      *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(s.RateLimit, time.Minute)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/run/{id}", s.handleRunDetail)

	// Compute endpoints.
	mux.HandleFunc("POST /api/v1/score", RateLimitMiddleware(s.limiter, s.handleScore))
	mux.HandleFunc("POST /api/v1/simulate", RateLimitMiddleware(s.limiter, s.handleSimulate))

	return s.countRequests(corsMiddleware(mux))
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "dataset", s.Objective != nil, "db", s.DB != nil, "rate_limit", s.RateLimit)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set BERRYSIM_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("BERRYSIM_CORS_ORIGINS"); env != "" {
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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":     "berrysim",
		"version":  s.Version,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"requests": s.requests.Load(),
		"params":   engine.VectorLabels(),
	}
	if s.Objective != nil {
		d := s.Objective.Data
		status["dataset"] = map[string]any{
			"source":   d.Source,
			"rows":     d.Len(),
			"last_day": d.LastDay(),
			"start":    d.StartDate().Format("2006-01-02"),
		}
	}
	if s.DB != nil {
		if last, err := s.DB.GetMeta("last_run"); err == nil {
			status["last_run"] = last
		}
	}
	writeJSON(w, status)
}

type scoreRequest struct {
	X       []float64 `json:"x"`
	Samples int       `json:"samples"` // >0 also returns averaged row totals
}

type scoreResponse struct {
	Score    *float64  `json:"score"` // null when every cell was NaN
	Averaged []float64 `json:"averaged,omitempty"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if s.Objective == nil {
		writeError(w, http.StatusServiceUnavailable, "no dataset loaded")
		return
	}
	var req scoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Samples > maxSamples {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("samples must be at most %d", maxSamples))
		return
	}

	ps, err := engine.Unwrap(req.X, s.Objective.Init)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.checkPopulation(ps, s.Objective.Data.LastDay()+1); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := s.Objective.Score(req.X)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := scoreResponse{Score: finite(v)}
	if req.Samples > 0 {
		avg, err := s.Objective.ScoreAveraged(r.Context(), req.X, req.Samples)
		if errors.Is(err, engine.ErrPopulationLimit) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Averaged = zeroNaN(avg)
	}
	writeJSON(w, resp)
}

type simulateRequest struct {
	X       []float64 `json:"x"`
	Seed    uint64    `json:"seed"`    // 0 = next seed from the objective
	Days    int       `json:"days"`    // 0 = through the last observed day
	Harvest *bool     `json:"harvest"` // Default true
}

type simulateResponse struct {
	Seed   uint64             `json:"seed"`
	Stats  engine.SimStats    `json:"stats"`
	Series []engine.DayRecord `json:"series"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if s.Objective == nil {
		writeError(w, http.StatusServiceUnavailable, "no dataset loaded")
		return
	}
	var req simulateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Days < 0 || req.Days > maxDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be 0-%d", maxDays))
		return
	}
	ps, err := engine.Unwrap(req.X, s.Objective.Init)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	seed := req.Seed
	if seed == 0 {
		seed = s.Objective.Seeder.NextSeed()
	}
	lastDay := s.Objective.Data.LastDay()
	if req.Days > 0 {
		lastDay = req.Days - 1
	}
	if err := s.checkPopulation(ps, lastDay+1); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	harvest := req.Harvest == nil || *req.Harvest

	sim := s.Objective.NewSimulation(seed)
	_, full := sim.Evaluate([]int{lastDay}, ps, harvest)

	slog.Debug("simulate request", "seed", seed, "days", len(full), "picked", sim.Stats.Picked)
	writeJSON(w, simulateResponse{Seed: seed, Stats: sim.Stats, Series: full})
}

// checkPopulation rejects a request whose initial counts plus expected
// arrivals over days exceed the objective's population cap.
func (s *Server) checkPopulation(ps engine.ParameterSet, days int) error {
	limit := s.Objective.MaxPopulation
	if limit <= 0 {
		return nil
	}
	expected := math.Abs(ps.Lambda) * float64(days)
	for _, sp := range ps.Stages {
		expected += float64(sp.Init)
	}
	if math.IsNaN(expected) || expected > float64(limit) {
		return fmt.Errorf("%w: lambda %g over %d days expects about %.0f berries, limit is %d",
			engine.ErrPopulationLimit, ps.Lambda, days, expected, limit)
	}
	return nil
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "database not available")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "database not available")
		return
	}
	id := r.PathValue("id")
	run, err := s.DB.GetRun(id)
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.Error("get run failed", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}

	detail := map[string]any{"run": run}
	series, err := s.DB.Series(id)
	if err != nil {
		slog.Error("load series failed", "run", id, "error", err)
	} else {
		detail["series"] = series
	}
	if r.URL.Query().Get("trials") != "" {
		trials, err := s.DB.Trials(id)
		if err != nil {
			slog.Error("load trials failed", "run", id, "error", err)
		} else {
			detail["trials"] = trials
		}
	}
	writeJSON(w, detail)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

// finite returns nil for values JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func zeroNaN(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[i] = v
	}
	return out
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
