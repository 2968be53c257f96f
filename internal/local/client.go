// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package local provides the HTTP client for a self-hosted Ollama-compatible
// inference endpoint, plus the availability prober the model selector
// consults before routing to it.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/esgpilot/airouter/internal/backend"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the local inference client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "local inference endpoint is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the local client.
type ClientConfig struct {
	// BaseURL is the inference API base URL (default: http://127.0.0.1:11434)
	// Explicit IPv4 avoids IPv6 resolution issues with "localhost" on Windows.
	BaseURL string

	// Timeout for completion requests (default: 30s)
	Timeout time.Duration

	// ProbeTimeout for availability probes (default: 3s)
	ProbeTimeout time.Duration

	// DefaultModel to use if none specified (default: "llama3.1:8b")
	DefaultModel string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://127.0.0.1:11434",
		Timeout:      30 * time.Second,
		ProbeTimeout: 3 * time.Second,
		DefaultModel: "llama3.1:8b",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the local inference API.
// It implements backend.Completer and is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a local client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a local client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = def.ProbeTimeout
	}
	if config.DefaultModel == "" {
		config.DefaultModel = def.DefaultModel
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name identifies the backend family for logs and audit records.
func (c *Client) Name() string {
	return "local"
}

// DefaultModel returns the configured default model.
func (c *Client) DefaultModel() string {
	return c.config.DefaultModel
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatRequest is the request body for the chat endpoint.
type chatRequest struct {
	Model    string            `json:"model"`
	Messages []backend.Message `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  *chatOptions      `json:"options,omitempty"`
}

// chatOptions carries generation parameters in the local API's format.
type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

// chatResponse is the response body from the chat endpoint.
type chatResponse struct {
	Model           string          `json:"model"`
	Message         backend.Message `json:"message"`
	Done            bool            `json:"done"`
	PromptEvalCount int             `json:"prompt_eval_count"`
	EvalCount       int             `json:"eval_count"`
}

// apiError is the error body returned on non-2xx status.
type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// COMPLETION
// =============================================================================

// Complete sends a non-streaming chat request and returns the completion.
func (c *Client) Complete(ctx context.Context, model string, messages []backend.Message, params backend.Params) (*backend.Completion, error) {
	if model == "" {
		model = c.config.DefaultModel
	}

	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	if params != (backend.Params{}) {
		reqBody.Options = &chatOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
			TopP:        params.TopP,
		}
	}

	resp, err := c.doChat(ctx, reqBody, c.httpClient)
	if err != nil {
		return nil, err
	}

	return &backend.Completion{
		Content:          resp.Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

// doChat posts a chat request and decodes the response.
func (c *Client) doChat(ctx context.Context, reqBody chatRequest, client *http.Client) (*chatResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ErrTimeout
		}
		return nil, ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
		}
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "chat request failed: " + resp.Status,
		}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return &result, nil
}

// =============================================================================
// AVAILABILITY PROBE
// =============================================================================

// Probe checks whether the local endpoint can serve a completion.
// It issues a chat request with a 1-token budget and the probe timeout
// against the same endpoint completions use.
func (c *Client) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	reqBody := chatRequest{
		Model:    c.config.DefaultModel,
		Messages: []backend.Message{backend.NewUserMessage("ping")},
		Stream:   false,
		Options:  &chatOptions{NumPredict: 1},
	}

	probeClient := &http.Client{Timeout: c.config.ProbeTimeout}
	_, err := c.doChat(probeCtx, reqBody, probeClient)
	return err
}

// IsNotRunning checks if an error indicates the endpoint is not running.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotRunning
	}
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return errors.Is(err, ErrTimeout)
}
