// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validate rejects empty or policy-violating prompts before any
// model is invoked.
//
// Validation runs ahead of cache lookup and model selection so rejected
// prompts never consume a backend call and never populate the cache. Rejected
// prompts are still audited by the caller.
package validate

import (
	"fmt"
	"strings"
	"sync"
)

// Failure codes reported in Result.Code.
const (
	CodeEmptyPrompt       = "EmptyPrompt"
	CodeRestrictedContent = "RestrictedContent"
)

// Result is the outcome of validating a prompt.
type Result struct {
	Valid bool

	// Code is one of the Code* constants when Valid is false.
	Code string

	// Reason is a human-readable explanation; for restricted content it
	// names the matched term.
	Reason string
}

// Validator checks prompts against the configured content policy.
// Safe for concurrent use; the restricted-term list can be swapped at
// runtime by the config watcher.
type Validator struct {
	mu    sync.RWMutex
	terms []string // lowercase restricted substrings
}

// New creates a Validator with the given restricted terms.
// Terms are matched as case-insensitive substrings.
func New(restrictedTerms []string) *Validator {
	v := &Validator{}
	v.SetRestrictedTerms(restrictedTerms)
	return v
}

// SetRestrictedTerms replaces the restricted-term list.
// Empty or whitespace-only terms are dropped.
func (v *Validator) SetRestrictedTerms(terms []string) {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}

	v.mu.Lock()
	v.terms = lowered
	v.mu.Unlock()
}

// RestrictedTerms returns a copy of the current restricted-term list.
func (v *Validator) RestrictedTerms() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

// Validate checks a prompt against the policy. No side effects.
//
// Checks (in order):
//  1. EmptyPrompt: the trimmed prompt has zero length
//  2. RestrictedContent: the lowercased prompt contains a restricted term
func (v *Validator) Validate(prompt string) Result {
	if strings.TrimSpace(prompt) == "" {
		return Result{
			Valid:  false,
			Code:   CodeEmptyPrompt,
			Reason: "prompt is empty",
		}
	}

	lowered := strings.ToLower(prompt)

	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, term := range v.terms {
		if strings.Contains(lowered, term) {
			return Result{
				Valid:  false,
				Code:   CodeRestrictedContent,
				Reason: fmt.Sprintf("prompt contains restricted term %q", term),
			}
		}
	}

	return Result{Valid: true}
}
