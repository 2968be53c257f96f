// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esgpilot/airouter/internal/audit"
	"github.com/esgpilot/airouter/internal/backend"
	"github.com/esgpilot/airouter/internal/cache"
	"github.com/esgpilot/airouter/internal/router"
	"github.com/esgpilot/airouter/internal/sessions"
	"github.com/esgpilot/airouter/internal/validate"
)

// scriptedBackend answers every completion with a fixed result.
type scriptedBackend struct {
	name    string
	content string
	err     error
}

func (b *scriptedBackend) Complete(ctx context.Context, model string, messages []backend.Message, params backend.Params) (*backend.Completion, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &backend.Completion{Content: b.content, Model: model, PromptTokens: 8, CompletionTokens: 4}, nil
}

func (b *scriptedBackend) Name() string { return b.name }

type staticProber struct {
	up bool
}

func (p staticProber) Available(ctx context.Context) bool { return p.up }

func newTestServer(t *testing.T, cloudErr error) *Server {
	t.Helper()

	tracker := router.NewFailureTracker()
	prober := staticProber{}
	responseCache := cache.New(5 * time.Minute)
	store := sessions.NewStore(sessions.DefaultConfig())

	engine := router.NewEngine(router.EngineConfig{
		Validator: validate.New([]string{"classified"}),
		Sessions:  store,
		Cache:     responseCache,
		Selector:  router.NewSelector(router.DefaultSelectorConfig(), tracker, prober),
		Tracker:   tracker,
		Cloud:     &scriptedBackend{name: "cloud", content: "cloud answer", err: cloudErr},
		Local:     &scriptedBackend{name: "local", content: "local answer"},
		Prober:    prober,
	})

	return NewServer("127.0.0.1:0", engine).
		WithCache(responseCache).
		WithSessions(store).
		WithProber(prober)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestRouteEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, payload := doJSON(t, srv.Handler(), http.MethodPost, "/v1/route",
		`{"prompt": "hi", "user_id": "u1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "cloud answer", payload["result"])
	assert.Equal(t, "cloud", payload["backend"])
	assert.Equal(t, "Standard query", payload["reason"])
}

func TestRouteRequiresUserID(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, payload := doJSON(t, srv.Handler(), http.MethodPost, "/v1/route", `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "user_id")
}

func TestRouteRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/v1/route", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteValidationFailureIs400(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, payload := doJSON(t, srv.Handler(), http.MethodPost, "/v1/route",
		`{"prompt": "   ", "user_id": "u1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, payload["success"])
	assert.NotEmpty(t, payload["error"])
}

func TestRouteBackendFailureIs500(t *testing.T) {
	srv := newTestServer(t, errors.New("upstream down"))

	rec, payload := doJSON(t, srv.Handler(), http.MethodPost, "/v1/route",
		`{"prompt": "hi", "user_id": "u1", "user_role": "admin"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "upstream down")
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, payload := doJSON(t, srv.Handler(), http.MethodGet,
		"/v1/analyze?prompt=compare+scope+1+and+scope+2+emissions", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, payload["prompt"])
	assert.NotNil(t, payload["analysis"])
	assert.Greater(t, payload["estimated_tokens"], float64(0))
}

func TestAnalyzeRequiresPrompt(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/v1/analyze", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil).WithCloudConfigured(true)

	rec, payload := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, Version, payload["version"])
	assert.Equal(t, true, payload["cloud_configured"])
	assert.Equal(t, false, payload["local_available"])
}

func TestStatsEndpointCountsRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	doJSON(t, srv.Handler(), http.MethodPost, "/v1/route", `{"prompt": "hi", "user_id": "u1"}`)
	doJSON(t, srv.Handler(), http.MethodPost, "/v1/route", `{"prompt": "   ", "user_id": "u1"}`)

	rec, payload := doJSON(t, srv.Handler(), http.MethodGet, "/stats", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), payload["total_requests"])
	assert.Equal(t, float64(1), payload["completed"])
	assert.Equal(t, float64(1), payload["rejected"])
	assert.Equal(t, float64(1), payload["active_sessions"])
}

func TestCacheStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	doJSON(t, srv.Handler(), http.MethodPost, "/v1/route", `{"prompt": "hi", "user_id": "u1"}`)
	doJSON(t, srv.Handler(), http.MethodPost, "/v1/route", `{"prompt": "hi", "user_id": "u1"}`)

	rec, payload := doJSON(t, srv.Handler(), http.MethodGet, "/cache/stats", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), payload["hits"])
	assert.Equal(t, float64(1), payload["entries"])
	assert.Equal(t, float64(300), payload["ttl_secs"])
}

func TestCacheClearEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	doJSON(t, srv.Handler(), http.MethodPost, "/v1/route", `{"prompt": "hi", "user_id": "u1"}`)

	rec, payload := doJSON(t, srv.Handler(), http.MethodPost, "/cache/clear", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cleared", payload["status"])

	_, stats := doJSON(t, srv.Handler(), http.MethodGet, "/cache/stats", "")
	assert.Equal(t, float64(0), stats["entries"])
}

func TestRecentRequestsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("not_enabled", func(t *testing.T) {
		rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/v1/requests", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("with_log", func(t *testing.T) {
		store, err := audit.Open(filepath.Join(t.TempDir(), "requests.db"))
		require.NoError(t, err)
		defer store.Close()

		store.Log(audit.Record{UserID: "u1", Prompt: "p", Status: audit.StatusCompleted})
		srv.WithAudit(store)

		rec, payload := doJSON(t, srv.Handler(), http.MethodGet, "/v1/requests?n=10", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), payload["count"])

		_, stats := doJSON(t, srv.Handler(), http.MethodGet, "/stats", "")
		assert.Equal(t, float64(1), stats["audit_records"])
	})

	t.Run("bad_limit", func(t *testing.T) {
		rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/v1/requests?n=9999", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWithTimeouts(t *testing.T) {
	srv := newTestServer(t, nil).WithTimeouts(10*time.Second, 45*time.Second)
	assert.Equal(t, 10*time.Second, srv.readTimeout)
	assert.Equal(t, 45*time.Second, srv.writeTimeout)

	// Non-positive values keep the current settings
	srv.WithTimeouts(0, -1)
	assert.Equal(t, 10*time.Second, srv.readTimeout)
	assert.Equal(t, 45*time.Second, srv.writeTimeout)
}

func TestServerStatsRecordResult(t *testing.T) {
	stats := NewServerStats()

	stats.RecordResult(router.Response{Tokens: 10, Backend: "cloud"}, nil)
	stats.RecordResult(router.Response{Tokens: 5, Backend: "local", FromCache: true}, nil)
	stats.RecordResult(router.Response{}, &router.ValidationError{Code: "EmptyPrompt"})
	stats.RecordResult(router.Response{}, errors.New("backend down"))

	snap := stats.Snapshot()
	assert.Equal(t, int64(4), snap.Total)
	assert.Equal(t, int64(2), snap.Completed)
	assert.Equal(t, int64(1), snap.Rejected)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(15), snap.TotalTokens)
	assert.Equal(t, int64(1), snap.ByBackend["cloud"])
	assert.Equal(t, int64(1), snap.ByBackend["local"])
}
