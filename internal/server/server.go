// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/esgpilot/airouter/internal/audit"
	"github.com/esgpilot/airouter/internal/cache"
	"github.com/esgpilot/airouter/internal/router"
	"github.com/esgpilot/airouter/internal/score"
	"github.com/esgpilot/airouter/internal/sessions"
)

// Version is the server version reported by /health.
const Version = "0.3.0"

// MaxRequestBody is the maximum accepted request body size (1MB).
const MaxRequestBody = 1 << 20

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks request counters. Safe for concurrent use.
type ServerStats struct {
	mu sync.Mutex

	StartTime   time.Time        `json:"start_time"`
	Total       int64            `json:"total_requests"`
	Completed   int64            `json:"completed"`
	Rejected    int64            `json:"rejected"`
	Failed      int64            `json:"failed"`
	CacheHits   int64            `json:"cache_hits"`
	TotalTokens int64            `json:"total_tokens"`
	ByBackend   map[string]int64 `json:"by_backend"`
}

// NewServerStats creates stats with the start time set.
func NewServerStats() *ServerStats {
	return &ServerStats{
		StartTime: time.Now(),
		ByBackend: make(map[string]int64),
	}
}

// RecordResult folds one routing outcome into the counters.
func (s *ServerStats) RecordResult(resp router.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Total++
	switch {
	case err == nil:
		s.Completed++
		s.TotalTokens += int64(resp.Tokens)
		if resp.FromCache {
			s.CacheHits++
		}
		if resp.Backend != "" {
			s.ByBackend[resp.Backend]++
		}
	case router.IsValidation(err):
		s.Rejected++
	default:
		s.Failed++
	}
}

// Snapshot returns a copy of the counters for serialization.
func (s *ServerStats) Snapshot() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byBackend := make(map[string]int64, len(s.ByBackend))
	for k, v := range s.ByBackend {
		byBackend[k] = v
	}
	return ServerStats{
		StartTime:   s.StartTime,
		Total:       s.Total,
		Completed:   s.Completed,
		Rejected:    s.Rejected,
		Failed:      s.Failed,
		CacheHits:   s.CacheHits,
		TotalTokens: s.TotalTokens,
		ByBackend:   byBackend,
	}
}

// Uptime returns time since the server started.
func (s *ServerStats) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP surface of the router.
type Server struct {
	addr   string
	engine *router.Engine
	stats  *ServerStats

	cache    *cache.ResponseCache
	sessions *sessions.Store
	prober   router.Availability
	auditLog *audit.Store

	auth         *AuthConfig
	cors         *CORSConfig
	ratePerMin   int
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	cloudConfigured bool

	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a server for the given engine, listening on addr.
func NewServer(addr string, engine *router.Engine) *Server {
	s := &Server{
		addr:         addr,
		engine:       engine,
		stats:        NewServerStats(),
		auth:         DefaultAuthConfig(),
		cors:         DefaultCORSConfig(),
		ratePerMin:   120,
		readTimeout:  30 * time.Second,
		writeTimeout: 2 * time.Minute,
		idleTimeout:  120 * time.Second,
		mux:          http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// WithCache attaches the response cache for the stats/clear endpoints.
func (s *Server) WithCache(c *cache.ResponseCache) *Server {
	s.cache = c
	return s
}

// WithSessions attaches the session store for the stats endpoint.
func (s *Server) WithSessions(st *sessions.Store) *Server {
	s.sessions = st
	return s
}

// WithProber attaches the local-availability prober for /health.
func (s *Server) WithProber(p router.Availability) *Server {
	s.prober = p
	return s
}

// WithAudit attaches the request log for the recent-requests endpoint.
func (s *Server) WithAudit(a *audit.Store) *Server {
	s.auditLog = a
	return s
}

// WithAuth sets the auth configuration.
func (s *Server) WithAuth(cfg *AuthConfig) *Server {
	if cfg != nil {
		s.auth = cfg
	}
	return s
}

// WithCORS sets the CORS configuration.
func (s *Server) WithCORS(cfg *CORSConfig) *Server {
	if cfg != nil {
		s.cors = cfg
	}
	return s
}

// WithRateLimit sets the per-client request budget per minute (0 disables).
func (s *Server) WithRateLimit(perMinute int) *Server {
	s.ratePerMin = perMinute
	return s
}

// WithTimeouts sets the HTTP read and write timeouts. Non-positive values
// keep the defaults.
func (s *Server) WithTimeouts(read, write time.Duration) *Server {
	if read > 0 {
		s.readTimeout = read
	}
	if write > 0 {
		s.writeTimeout = write
	}
	return s
}

// WithCloudConfigured records whether a cloud key is present, for /health.
func (s *Server) WithCloudConfigured(ok bool) *Server {
	s.cloudConfigured = ok
	return s
}

// setupRoutes registers all endpoints on the mux.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/route", s.handleRoute)
	s.mux.HandleFunc("GET /v1/analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /v1/requests", s.handleRecentRequests)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleRoute is the main routing endpoint.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	body := http.MaxBytesReader(w, r.Body, MaxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	resp, err := s.engine.Handle(r.Context(), req)
	s.stats.RecordResult(resp, err)

	if err != nil {
		status := http.StatusInternalServerError
		if router.IsValidation(err) {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, router.Response{Success: false, Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// analyzeResponse is the /v1/analyze payload.
type analyzeResponse struct {
	Prompt   string         `json:"prompt"`
	Analysis score.Analysis `json:"analysis"`
	Tokens   int            `json:"estimated_tokens"`
}

// handleAnalyze returns the complexity breakdown for a prompt without
// routing it anywhere.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		s.writeError(w, http.StatusBadRequest, "prompt query parameter is required")
		return
	}

	s.writeJSON(w, http.StatusOK, analyzeResponse{
		Prompt:   prompt,
		Analysis: score.Analyze(prompt),
		Tokens:   score.EstimateTokens(prompt),
	})
}

// handleRecentRequests returns the most recent audit records.
func (s *Server) handleRecentRequests(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		s.writeError(w, http.StatusNotFound, "request log not enabled")
		return
	}

	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			s.writeError(w, http.StatusBadRequest, "n must be an integer in [1,500]")
			return
		}
		n = parsed
	}

	records, err := s.auditLog.Recent(n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read request log")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(records),
		"requests": records,
	})
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	UptimeSecs      float64 `json:"uptime_secs"`
	CloudConfigured bool    `json:"cloud_configured"`
	LocalAvailable  bool    `json:"local_available"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:          "ok",
		Version:         Version,
		UptimeSecs:      s.stats.Uptime().Seconds(),
		CloudConfigured: s.cloudConfigured,
	}
	if s.prober != nil {
		resp.LocalAvailable = s.prober.Available(r.Context())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statsResponse is the /stats payload.
type statsResponse struct {
	ServerStats
	UptimeSecs   float64      `json:"uptime_secs"`
	Sessions     int          `json:"active_sessions"`
	Cache        *cache.Stats `json:"cache,omitempty"`
	AuditRecords int          `json:"audit_records,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		ServerStats: s.stats.Snapshot(),
		UptimeSecs:  s.stats.Uptime().Seconds(),
	}
	if s.sessions != nil {
		resp.Sessions = s.sessions.Len()
	}
	if s.cache != nil {
		st := s.cache.Stats()
		resp.Cache = &st
	}
	if s.auditLog != nil {
		if n, err := s.auditLog.Count(); err == nil {
			resp.AuditRecords = n
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// cacheStatsResponse is the /cache/stats payload.
type cacheStatsResponse struct {
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
	TTLSecs float64 `json:"ttl_secs"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotFound, "cache not enabled")
		return
	}

	st := s.cache.Stats()
	s.writeJSON(w, http.StatusOK, cacheStatsResponse{
		Hits:    st.Hits,
		Misses:  st.Misses,
		Entries: st.Entries,
		HitRate: st.HitRate(),
		TTLSecs: s.cache.TTL().Seconds(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotFound, "cache not enabled")
		return
	}

	s.cache.Clear()
	log.Printf("CACHE_CLEARED | by=%s", GetClientIP(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server. Blocks until the server stops.
func (s *Server) Start() error {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(s.cors),
	}
	if s.ratePerMin > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.ratePerMin)))
	}
	if s.auth.Enabled {
		middlewares = append(middlewares, AuthMiddleware(s.auth))
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      Chain(middlewares...)(s.mux),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	log.Printf("SERVER_START | addr=%s version=%s", s.addr, Version)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	if s.cache != nil {
		st := s.cache.Stats()
		log.Printf("CACHE_STATS | entries=%d hits=%d misses=%d", st.Entries, st.Hits, st.Misses)
	}

	return s.server.Shutdown(ctx)
}

// Handler returns the route mux without middleware. Test hook.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response in the routing failure shape.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, router.Response{Success: false, Error: message})
}
