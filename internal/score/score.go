// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package score derives 0-1 complexity estimates for prompts.
//
// Two estimators are provided. Lexical is the scorer the router uses for
// model selection: a weighted blend of lexical diversity, average word
// length, and prompt length. Analyze is a richer diagnostic estimator that
// additionally counts reasoning verbs, domain keywords, and multi-step
// phrasing; it backs the analysis endpoint but does not drive routing.
package score

import (
	"strings"
)

// ============================================================================
// LEXICAL SCORER
// ============================================================================

// Weights and normalization constants for the lexical scorer.
// These must stay fixed: tests assert exact scores to 6 decimal places.
const (
	diversityWeight  = 0.4
	wordLenWeight    = 0.3
	lengthWeight     = 0.3
	lengthNormChars  = 500.0
	wordLenNormChars = 8.0
)

// Lexical computes a 0-1 complexity estimate from lexical diversity,
// average word length, and overall prompt length.
//
// An empty or whitespace-only prompt scores 0. The validator rejects those
// upstream, but the scorer stays defensive so it can never divide by zero.
func Lexical(prompt string) float64 {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(words))
	totalLen := 0
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
		totalLen += len(w)
	}

	lexicalDiversity := float64(len(unique)) / float64(len(words))
	avgWordLength := float64(totalLen) / float64(len(words))

	lengthFactor := float64(len(prompt)) / lengthNormChars
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	wordLengthFactor := avgWordLength / wordLenNormChars
	if wordLengthFactor > 1 {
		wordLengthFactor = 1
	}

	return diversityWeight*lexicalDiversity +
		wordLenWeight*wordLengthFactor +
		lengthWeight*lengthFactor
}

// ============================================================================
// KEYWORD ESTIMATOR
// ============================================================================

// Keyword lists for the diagnostic estimator. Matching is lowercase
// substring, the same cheap heuristic the rest of the router uses.
var (
	reasoningVerbs = []string{
		"explain", "analyze", "compare", "evaluate", "assess",
		"justify", "reason", "derive", "forecast", "recommend",
	}

	domainTerms = []string{
		"emission", "carbon", "scope 1", "scope 2", "scope 3",
		"sustainability", "governance", "materiality", "benchmark",
		"ghg", "esg", "compliance", "disclosure",
	}

	multiStepPhrases = []string{
		"step by step", "first", "then", "finally",
		"break down", "walk through", "and then",
	}
)

// Analysis is the detailed complexity breakdown for a prompt.
type Analysis struct {
	// Lexical is the base lexical score (same value Lexical returns).
	Lexical float64 `json:"lexical"`

	// ReasoningHits counts matched reasoning verbs.
	ReasoningHits int `json:"reasoning_hits"`

	// DomainHits counts matched domain terms.
	DomainHits int `json:"domain_hits"`

	// MultiStep is true when the prompt asks for multi-step work.
	MultiStep bool `json:"multi_step"`

	// Questions is the number of question marks in the prompt.
	Questions int `json:"questions"`

	// Score is the combined 0-1 estimate, capped at 1.
	Score float64 `json:"score"`
}

// Analyze computes the keyword-rich complexity estimate.
// Each signal adds a bounded increment on top of the lexical base:
// reasoning verbs up to +0.15, domain terms up to +0.15, multi-step
// phrasing +0.1, question density up to +0.1. The total is capped at 1.
func Analyze(prompt string) Analysis {
	a := Analysis{Lexical: Lexical(prompt)}
	lowered := strings.ToLower(prompt)

	for _, v := range reasoningVerbs {
		if strings.Contains(lowered, v) {
			a.ReasoningHits++
		}
	}
	for _, t := range domainTerms {
		if strings.Contains(lowered, t) {
			a.DomainHits++
		}
	}
	for _, p := range multiStepPhrases {
		if strings.Contains(lowered, p) {
			a.MultiStep = true
			break
		}
	}
	a.Questions = strings.Count(prompt, "?")

	score := a.Lexical
	score += capped(0.05*float64(a.ReasoningHits), 0.15)
	score += capped(0.05*float64(a.DomainHits), 0.15)
	if a.MultiStep {
		score += 0.1
	}
	score += capped(0.05*float64(a.Questions), 0.1)
	if score > 1 {
		score = 1
	}
	a.Score = score

	return a
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

// ============================================================================
// TOKEN ESTIMATION
// ============================================================================

// EstimateTokens approximates the token count of a text.
// GPT-style: ~4 chars per token on average; blends word and character
// estimates for better accuracy. Used when a backend reports no usage.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	return (words + chars/4) / 2
}
