// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import "testing"

func TestMessageConstructors(t *testing.T) {
	if m := NewUserMessage("q"); m.Role != "user" || m.Content != "q" {
		t.Errorf("user message = %+v", m)
	}
	if m := NewAssistantMessage("a"); m.Role != "assistant" {
		t.Errorf("assistant message = %+v", m)
	}
	if m := NewSystemMessage("s"); m.Role != "system" {
		t.Errorf("system message = %+v", m)
	}
}

func TestTotalTokens(t *testing.T) {
	c := Completion{PromptTokens: 12, CompletionTokens: 30}
	if got := c.TotalTokens(); got != 42 {
		t.Errorf("TotalTokens = %d", got)
	}
	var zero Completion
	if got := zero.TotalTokens(); got != 0 {
		t.Errorf("zero completion TotalTokens = %d", got)
	}
}
