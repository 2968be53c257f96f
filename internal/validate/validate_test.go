// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"strings"
	"testing"
)

func TestValidateEmptyPrompt(t *testing.T) {
	v := New(nil)

	cases := []struct {
		name   string
		prompt string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"tabs_newlines", "\t\n  \r\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Validate(tc.prompt)
			if result.Valid {
				t.Fatalf("expected invalid, got valid for %q", tc.prompt)
			}
			if result.Code != CodeEmptyPrompt {
				t.Errorf("expected code %s, got %s", CodeEmptyPrompt, result.Code)
			}
		})
	}
}

func TestValidateRestrictedContent(t *testing.T) {
	v := New([]string{"forbidden", "secret sauce"})

	cases := []struct {
		name   string
		prompt string
	}{
		{"exact", "this is forbidden content"},
		{"upper", "this is FORBIDDEN content"},
		{"mixed", "this is ForBidden content"},
		{"embedded", "absolutely forbiddenish"},
		{"multi_word_term", "tell me the Secret Sauce recipe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Validate(tc.prompt)
			if result.Valid {
				t.Fatalf("expected invalid for %q", tc.prompt)
			}
			if result.Code != CodeRestrictedContent {
				t.Errorf("expected code %s, got %s", CodeRestrictedContent, result.Code)
			}
			if !strings.Contains(result.Reason, "restricted term") {
				t.Errorf("reason should name the matched term, got %q", result.Reason)
			}
		})
	}
}

func TestValidateCleanPrompt(t *testing.T) {
	v := New([]string{"forbidden"})

	result := v.Validate("summarize our carbon emissions for Q3")
	if !result.Valid {
		t.Fatalf("expected valid, got code=%s reason=%q", result.Code, result.Reason)
	}
}

func TestValidateNoTermsConfigured(t *testing.T) {
	v := New(nil)

	if result := v.Validate("anything goes"); !result.Valid {
		t.Fatalf("expected valid with no restricted terms, got %s", result.Code)
	}
}

func TestSetRestrictedTermsSwap(t *testing.T) {
	v := New([]string{"alpha"})

	if v.Validate("contains alpha here").Valid {
		t.Fatal("expected alpha to be restricted")
	}

	v.SetRestrictedTerms([]string{"beta"})

	if !v.Validate("contains alpha here").Valid {
		t.Error("alpha should be allowed after swap")
	}
	if v.Validate("contains beta here").Valid {
		t.Error("beta should be restricted after swap")
	}
}

func TestSetRestrictedTermsDropsBlanks(t *testing.T) {
	v := New([]string{"  ", "", "  real  "})

	terms := v.RestrictedTerms()
	if len(terms) != 1 || terms[0] != "real" {
		t.Fatalf("expected [real], got %v", terms)
	}
}
