// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the chat-completion capability shared by all
// inference backends.
//
// The router depends only on the Completer interface; the cloud and local
// clients are interchangeable implementations, which also makes it trivial to
// substitute a fake backend in tests.
package backend

import "context"

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// Params holds generation parameters for a completion request.
// Zero values mean "use the backend's default".
type Params struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Completion is the result of a successful chat completion.
type Completion struct {
	// Content is the generated assistant text.
	Content string

	// Model is the model identifier that actually served the request.
	Model string

	// PromptTokens and CompletionTokens are backend-reported usage.
	// Zero when the backend does not report usage.
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns the total tokens used (prompt + completion).
func (c *Completion) TotalTokens() int {
	return c.PromptTokens + c.CompletionTokens
}

// Completer is the capability of completing a chat given messages.
type Completer interface {
	// Complete generates an assistant reply for the conversation.
	// Implementations must honor ctx cancellation and return a non-nil
	// error on any non-2xx response or transport failure.
	Complete(ctx context.Context, model string, messages []Message, params Params) (*Completion, error)

	// Name identifies the backend family ("cloud" or "local") for logs
	// and audit records.
	Name() string
}
