// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"fmt"
	"log"

	"github.com/esgpilot/airouter/internal/score"
	"github.com/esgpilot/airouter/internal/sessions"
)

// =============================================================================
// TYPES
// =============================================================================

// Models names the three routing targets.
type Models struct {
	// Advanced is the reasoning-grade cloud model.
	Advanced string

	// Standard is the default cloud model.
	Standard string

	// Local is the self-hosted model.
	Local string
}

// DefaultModels returns the default routing targets.
func DefaultModels() Models {
	return Models{
		Advanced: "deepseek-reasoner",
		Standard: "deepseek-chat",
		Local:    "llama3.1:8b",
	}
}

// SelectorConfig holds model-selection thresholds.
type SelectorConfig struct {
	Models Models

	// PriorityRoles always receive the advanced model.
	PriorityRoles []string

	// HybridEnabled allows low-complexity prompts onto the local backend.
	HybridEnabled bool

	// LocalThreshold is the complexity at or below which a prompt may go
	// local when hybrid routing is enabled.
	LocalThreshold float64

	// ComplexityThreshold is the complexity above which a prompt is
	// escalated to the advanced model.
	ComplexityThreshold float64

	// LengthThreshold is the prompt length in characters above which a
	// prompt is escalated to the advanced model.
	LengthThreshold int

	// FallbackThreshold is the consecutive cloud-failure count at which
	// routing prefers the local backend.
	FallbackThreshold int
}

// DefaultSelectorConfig returns the default selection thresholds.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Models:              DefaultModels(),
		PriorityRoles:       []string{"admin", "analyst"},
		HybridEnabled:       true,
		LocalThreshold:      0.35,
		ComplexityThreshold: 0.6,
		LengthThreshold:     150,
		FallbackThreshold:   DefaultFallbackThreshold,
	}
}

// Selection is the outcome of model selection.
type Selection struct {
	// Model is the model identifier to dispatch with.
	Model string `json:"model"`

	// Reason explains the routing decision.
	Reason string `json:"reason"`

	// UseLocal is true when the local backend was chosen.
	UseLocal bool `json:"use_local"`

	// Complexity is the lexical complexity computed during selection.
	Complexity float64 `json:"complexity"`
}

// SelectInput carries everything selection looks at.
type SelectInput struct {
	Prompt         string
	UserRole       string
	RequestedModel string
	ManualOverride bool

	// Context is a snapshot of the session state; the zero value stands for
	// a fresh session.
	Context sessions.Snapshot
}

// Availability reports whether the local backend is reachable.
// *local.Prober satisfies it; tests substitute a fixed answer.
type Availability interface {
	Available(ctx context.Context) bool
}

// FailureCounter exposes the consecutive-failure count selection consults.
type FailureCounter interface {
	Count() int
}

// =============================================================================
// SELECTOR
// =============================================================================

// multiTurnFloor is the prior-turn count above which a session counts as a
// significant multi-turn conversation.
const multiTurnFloor = 3

// Selector picks a backend and model for each prompt by walking a fixed
// rule cascade. Earlier rules always win.
type Selector struct {
	cfg      SelectorConfig
	failures FailureCounter
	prober   Availability
}

// selectionRule is one step of the cascade. A rule returns a selection and
// true when it claims the prompt.
type selectionRule struct {
	name  string
	apply func(ctx context.Context, in SelectInput, complexity float64) (Selection, bool)
}

// NewSelector creates a selector. Zero-value thresholds fall back to defaults.
func NewSelector(cfg SelectorConfig, failures FailureCounter, prober Availability) *Selector {
	def := DefaultSelectorConfig()
	if cfg.Models.Advanced == "" {
		cfg.Models.Advanced = def.Models.Advanced
	}
	if cfg.Models.Standard == "" {
		cfg.Models.Standard = def.Models.Standard
	}
	if cfg.Models.Local == "" {
		cfg.Models.Local = def.Models.Local
	}
	if cfg.LocalThreshold <= 0 {
		cfg.LocalThreshold = def.LocalThreshold
	}
	if cfg.ComplexityThreshold <= 0 {
		cfg.ComplexityThreshold = def.ComplexityThreshold
	}
	if cfg.LengthThreshold <= 0 {
		cfg.LengthThreshold = def.LengthThreshold
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = def.FallbackThreshold
	}
	return &Selector{cfg: cfg, failures: failures, prober: prober}
}

// Config returns the selector's effective configuration.
func (s *Selector) Config() SelectorConfig {
	return s.cfg
}

// Select walks the rule cascade in order and returns the first match.
// The final rule always matches, so a selection is always returned.
func (s *Selector) Select(ctx context.Context, in SelectInput) Selection {
	complexity := score.Lexical(in.Prompt)

	for _, rule := range s.rules() {
		if sel, ok := rule.apply(ctx, in, complexity); ok {
			sel.Complexity = complexity
			log.Printf("MODEL_SELECT | rule=%s model=%s local=%v complexity=%.3f",
				rule.name, sel.Model, sel.UseLocal, complexity)
			return sel
		}
	}

	// Unreachable: the default rule always claims the prompt.
	return Selection{Model: s.cfg.Models.Standard, Reason: "Standard query", Complexity: complexity}
}

// rules returns the cascade in precedence order.
func (s *Selector) rules() []selectionRule {
	return []selectionRule{
		{
			name: "manual_override",
			apply: func(_ context.Context, in SelectInput, _ float64) (Selection, bool) {
				if in.ManualOverride && in.RequestedModel != "" {
					return Selection{Model: in.RequestedModel, Reason: "Manual override"}, true
				}
				return Selection{}, false
			},
		},
		{
			name: "failure_fallback",
			apply: func(ctx context.Context, _ SelectInput, _ float64) (Selection, bool) {
				if s.failures.Count() >= s.cfg.FallbackThreshold && s.prober.Available(ctx) {
					return Selection{
						Model:    s.cfg.Models.Local,
						Reason:   "API fallback threshold reached",
						UseLocal: true,
					}, true
				}
				return Selection{}, false
			},
		},
		{
			name: "priority_role",
			apply: func(_ context.Context, in SelectInput, _ float64) (Selection, bool) {
				for _, role := range s.cfg.PriorityRoles {
					if in.UserRole == role {
						return Selection{Model: s.cfg.Models.Advanced, Reason: "Priority user"}, true
					}
				}
				return Selection{}, false
			},
		},
		{
			name: "hybrid_local",
			apply: func(ctx context.Context, _ SelectInput, complexity float64) (Selection, bool) {
				if s.cfg.HybridEnabled && complexity <= s.cfg.LocalThreshold && s.prober.Available(ctx) {
					return Selection{
						Model:    s.cfg.Models.Local,
						Reason:   fmt.Sprintf("Low complexity (%.3f) handled locally", complexity),
						UseLocal: true,
					}, true
				}
				return Selection{}, false
			},
		},
		{
			name: "multi_turn",
			apply: func(_ context.Context, in SelectInput, _ float64) (Selection, bool) {
				if in.Context.TurnCount > multiTurnFloor {
					return Selection{
						Model:  s.cfg.Models.Advanced,
						Reason: "Multi-turn conversation with significant context",
					}, true
				}
				return Selection{}, false
			},
		},
		{
			name: "escalation",
			apply: func(_ context.Context, in SelectInput, complexity float64) (Selection, bool) {
				if len(in.Prompt) > s.cfg.LengthThreshold || complexity > s.cfg.ComplexityThreshold {
					return Selection{
						Model:  s.cfg.Models.Advanced,
						Reason: fmt.Sprintf("High complexity (%.3f)", complexity),
					}, true
				}
				return Selection{}, false
			},
		},
		{
			name: "default",
			apply: func(_ context.Context, _ SelectInput, _ float64) (Selection, bool) {
				return Selection{Model: s.cfg.Models.Standard, Reason: "Standard query"}, true
			},
		},
	}
}
