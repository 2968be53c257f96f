// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router routes chat prompts across cloud and local completion
// backends.
//
// The engine validates, consults the response cache, selects a model via a
// fixed rule cascade, dispatches with session context embedded in a system
// prompt, and records one audit row per request. Consecutive cloud failures
// bias future selections toward the local backend.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/esgpilot/airouter/internal/audit"
	"github.com/esgpilot/airouter/internal/backend"
	"github.com/esgpilot/airouter/internal/cache"
	"github.com/esgpilot/airouter/internal/score"
	"github.com/esgpilot/airouter/internal/sessions"
	"github.com/esgpilot/airouter/internal/validate"
)

// =============================================================================
// ERRORS
// =============================================================================

// ValidationError reports a prompt rejected before any backend call.
// Never retried; callers map it to HTTP 400.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// BackendError reports a completion failure after validation passed.
// Callers map it to HTTP 500 with the underlying message.
type BackendError struct {
	Backend string
	Cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Request is one routing invocation.
type Request struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id"`

	// SessionID defaults to UserID when empty.
	SessionID string `json:"session_id,omitempty"`

	UserRole       string `json:"user_role,omitempty"`
	Model          string `json:"model,omitempty"`
	ManualOverride bool   `json:"manual_override,omitempty"`
}

// ContextInfo summarizes the session context attached to a response.
type ContextInfo struct {
	MessageCount int      `json:"message_count"`
	Topics       []string `json:"topics,omitempty"`
}

// Response is the result of a routed request.
type Response struct {
	Success      bool         `json:"success"`
	Result       string       `json:"result,omitempty"`
	Model        string       `json:"model,omitempty"`
	Backend      string       `json:"backend,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	ProcessingMS int64        `json:"processing_time_ms"`
	Tokens       int          `json:"tokens,omitempty"`
	FromCache    bool         `json:"from_cache,omitempty"`
	Context      *ContextInfo `json:"context,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Auditor receives one record per request. *audit.Store satisfies it.
type Auditor interface {
	Log(rec audit.Record)
}

// =============================================================================
// ENGINE
// =============================================================================

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Validator *validate.Validator
	Sessions  *sessions.Store

	// Cache may be nil when response caching is disabled.
	Cache *cache.ResponseCache

	Selector *Selector
	Tracker  *FailureTracker

	// Cloud and Local are the completion backends. Local may be nil when
	// no local endpoint is configured.
	Cloud backend.Completer
	Local backend.Completer

	// Prober gates the one-shot local fallback after a cloud failure.
	Prober Availability

	// Auditor receives request-log records. May be nil.
	Auditor Auditor

	// Params are the generation parameters passed to backends.
	Params backend.Params
}

// Engine is the request orchestrator.
// Safe for concurrent use; all shared state lives in its collaborators.
type Engine struct {
	cfg EngineConfig
}

// NewEngine creates an engine from its collaborators.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Handle routes one prompt end to end.
//
// Sequence: validate, consult the cache, select a model, dispatch with the
// session summary as a system prompt, then update context, cache, and audit
// log. Context and cache are written only after a successful completion; a
// failed backend call never poisons the cache.
func (e *Engine) Handle(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.UserID
	}

	// Validation gate. Rejected prompts never reach a backend.
	if v := e.cfg.Validator.Validate(req.Prompt); !v.Valid {
		e.log(audit.Record{
			UserID:         req.UserID,
			Prompt:         req.Prompt,
			RequestedModel: req.Model,
			ManualOverride: req.ManualOverride,
			Status:         audit.StatusRejected,
			ErrorMessage:   v.Reason,
			Metadata:       audit.Metadata{Reason: v.Code},
		})
		return Response{}, &ValidationError{Code: v.Code, Reason: v.Reason}
	}

	// Cache lookup. A hit short-circuits selection and dispatch entirely.
	if entry := e.lookupCache(req.Prompt, sessionID); entry != nil {
		sctx := e.cfg.Sessions.GetOrCreate(sessionID, req.UserID)
		e.cfg.Sessions.Update(sctx, "user", req.Prompt)
		snap := e.cfg.Sessions.Update(sctx, "assistant", entry.Response)

		e.log(audit.Record{
			UserID:         req.UserID,
			Prompt:         req.Prompt,
			RequestedModel: req.Model,
			ModelUsed:      entry.Model,
			ManualOverride: req.ManualOverride,
			Status:         audit.StatusCompleted,
			Tokens:         entry.Tokens,
			Metadata: audit.Metadata{
				Reason:      entry.Reason,
				FromCache:   true,
				ContextSize: snap.TurnCount,
				Topics:      snap.Topics,
			},
		})

		return Response{
			Success:      true,
			Result:       entry.Response,
			Model:        entry.Model,
			Backend:      entry.Backend,
			Reason:       entry.Reason,
			ProcessingMS: 0,
			Tokens:       entry.Tokens,
			FromCache:    true,
			Context:      &ContextInfo{MessageCount: snap.TurnCount, Topics: snap.Topics},
		}, nil
	}

	sctx := e.cfg.Sessions.GetOrCreate(sessionID, req.UserID)
	snap := e.cfg.Sessions.Snapshot(sctx)

	sel := e.cfg.Selector.Select(ctx, SelectInput{
		Prompt:         req.Prompt,
		UserRole:       req.UserRole,
		RequestedModel: req.Model,
		ManualOverride: req.ManualOverride,
		Context:        snap,
	})

	messages := e.buildMessages(sctx, req.Prompt)

	completion, backendName, err := e.dispatch(ctx, sel, messages)
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		e.log(audit.Record{
			UserID:         req.UserID,
			Prompt:         req.Prompt,
			RequestedModel: req.Model,
			ModelUsed:      sel.Model,
			ManualOverride: req.ManualOverride,
			Status:         audit.StatusFailed,
			ProcessingMS:   elapsed,
			ErrorMessage:   err.Error(),
			Metadata: audit.Metadata{
				Reason:      sel.Reason,
				Complexity:  sel.Complexity,
				ContextSize: snap.TurnCount,
				Topics:      snap.Topics,
			},
		})
		return Response{}, &BackendError{Backend: backendName, Cause: err}
	}

	tokens := completion.TotalTokens()
	if tokens == 0 {
		tokens = score.EstimateTokens(completion.Content)
	}

	// Success path side effects, in order: context, cache, audit.
	e.cfg.Sessions.Update(sctx, "user", req.Prompt)
	snap = e.cfg.Sessions.Update(sctx, "assistant", completion.Content)

	if e.cfg.Cache != nil {
		e.cfg.Cache.Set(req.Prompt, sessionID, cache.Entry{
			Response: completion.Content,
			Model:    completion.Model,
			Backend:  backendName,
			Tokens:   tokens,
			Reason:   sel.Reason,
		})
	}

	elapsed := time.Since(start).Milliseconds()
	e.log(audit.Record{
		UserID:         req.UserID,
		Prompt:         req.Prompt,
		RequestedModel: req.Model,
		ModelUsed:      completion.Model,
		ManualOverride: req.ManualOverride,
		Status:         audit.StatusCompleted,
		ProcessingMS:   elapsed,
		Tokens:         tokens,
		Metadata: audit.Metadata{
			Reason:      sel.Reason,
			Complexity:  sel.Complexity,
			ContextSize: snap.TurnCount,
			Topics:      snap.Topics,
		},
	})

	return Response{
		Success:      true,
		Result:       completion.Content,
		Model:        completion.Model,
		Backend:      backendName,
		Reason:       sel.Reason,
		ProcessingMS: elapsed,
		Tokens:       tokens,
		Context:      &ContextInfo{MessageCount: snap.TurnCount, Topics: snap.Topics},
	}, nil
}

// lookupCache consults the response cache, if one is configured.
func (e *Engine) lookupCache(prompt, sessionID string) *cache.Entry {
	if e.cfg.Cache == nil {
		return nil
	}
	return e.cfg.Cache.Get(prompt, sessionID)
}

// buildMessages renders the dispatch payload: the session summary as a
// system prompt when non-empty, then the user prompt.
func (e *Engine) buildMessages(sctx *sessions.Context, prompt string) []backend.Message {
	var messages []backend.Message
	if summary := e.cfg.Sessions.Summarize(sctx); summary != "" {
		messages = append(messages, backend.NewSystemMessage(summary))
	}
	return append(messages, backend.NewUserMessage(prompt))
}

// dispatch sends the completion to the selected backend. A cloud failure
// increments the failure tracker and permits one fallback attempt against
// the local backend when it is reachable.
func (e *Engine) dispatch(ctx context.Context, sel Selection, messages []backend.Message) (*backend.Completion, string, error) {
	if sel.UseLocal {
		completion, err := e.cfg.Local.Complete(ctx, sel.Model, messages, e.cfg.Params)
		if err != nil {
			return nil, e.cfg.Local.Name(), err
		}
		return completion, e.cfg.Local.Name(), nil
	}

	completion, err := e.cfg.Cloud.Complete(ctx, sel.Model, messages, e.cfg.Params)
	if err == nil {
		e.cfg.Tracker.RecordSuccess()
		return completion, e.cfg.Cloud.Name(), nil
	}

	e.cfg.Tracker.RecordFailure()
	log.Printf("CLOUD_FAILURE | count=%d error=%v", e.cfg.Tracker.Count(), err)

	// A cached "unavailable" must not block the fallback; force a fresh probe.
	if inv, ok := e.cfg.Prober.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}

	if e.cfg.Local != nil && e.cfg.Prober != nil && e.cfg.Prober.Available(ctx) {
		localModel := e.cfg.Selector.Config().Models.Local
		completion, localErr := e.cfg.Local.Complete(ctx, localModel, messages, e.cfg.Params)
		if localErr == nil {
			log.Printf("LOCAL_FALLBACK | model=%s", localModel)
			return completion, e.cfg.Local.Name(), nil
		}
		return nil, e.cfg.Local.Name(), fmt.Errorf("cloud failed (%v); local fallback failed: %w", err, localErr)
	}

	return nil, e.cfg.Cloud.Name(), err
}

// log forwards to the configured auditor, if any.
func (e *Engine) log(rec audit.Record) {
	if e.cfg.Auditor != nil {
		e.cfg.Auditor.Log(rec)
	}
}
