// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for airouter.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation. A missing config file is not an error; the
// built-in defaults apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/esgpilot/airouter/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete airouter configuration.
type Config struct {
	// Version of the config schema.
	Version string `toml:"version" json:"version"`

	// Server configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Routing configuration
	Routing RoutingConfig `toml:"routing" json:"routing"`

	// Cloud backend configuration
	Cloud CloudConfig `toml:"cloud" json:"cloud"`

	// Local backend configuration
	Local LocalConfig `toml:"local" json:"local"`

	// Session context configuration
	Sessions SessionsConfig `toml:"sessions" json:"sessions"`

	// Response cache configuration
	Cache CacheConfig `toml:"cache" json:"cache"`

	// Prompt validation configuration
	Validation ValidationConfig `toml:"validation" json:"validation"`

	// Audit log configuration
	Audit AuditConfig `toml:"audit" json:"audit"`

	// Generation parameters passed to backends
	Generation GenerationConfig `toml:"generation" json:"generation"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// ListenAddr is the address the server binds to.
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
	// APIKey is the bearer token required on API requests (empty = no auth).
	APIKey string `toml:"api_key" json:"api_key"`
	// RateLimitPerMin is the per-client request budget per minute (0 = off).
	RateLimitPerMin int `toml:"rate_limit_per_min" json:"rate_limit_per_min"`
	// CORSOrigins lists allowed CORS origins.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
	// TrustedProxies lists proxy IPs whose X-Forwarded-For is trusted.
	TrustedProxies []string `toml:"trusted_proxies" json:"trusted_proxies"`
	// ReadTimeoutSecs is the HTTP read timeout in seconds.
	ReadTimeoutSecs int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	// WriteTimeoutSecs is the HTTP write timeout in seconds.
	WriteTimeoutSecs int `toml:"write_timeout_secs" json:"write_timeout_secs"`
}

// RoutingConfig contains model selection configuration.
type RoutingConfig struct {
	// AdvancedModel is the reasoning-grade cloud model.
	AdvancedModel string `toml:"advanced_model" json:"advanced_model"`
	// StandardModel is the default cloud model.
	StandardModel string `toml:"standard_model" json:"standard_model"`
	// LocalModel is the model served by the local backend.
	LocalModel string `toml:"local_model" json:"local_model"`
	// PriorityRoles always receive the advanced model.
	PriorityRoles []string `toml:"priority_roles" json:"priority_roles"`
	// HybridEnabled allows low-complexity prompts onto the local backend.
	HybridEnabled bool `toml:"hybrid_enabled" json:"hybrid_enabled"`
	// LocalThreshold is the complexity at or below which a prompt may go local.
	LocalThreshold float64 `toml:"local_threshold" json:"local_threshold"`
	// ComplexityThreshold escalates prompts above it to the advanced model.
	ComplexityThreshold float64 `toml:"complexity_threshold" json:"complexity_threshold"`
	// LengthThreshold escalates prompts longer than it (chars) to the advanced model.
	LengthThreshold int `toml:"length_threshold" json:"length_threshold"`
	// FallbackThreshold is the consecutive cloud-failure count that shifts
	// routing preference to the local backend.
	FallbackThreshold int `toml:"fallback_threshold" json:"fallback_threshold"`
}

// CloudConfig contains cloud backend configuration.
type CloudConfig struct {
	// APIKey is the cloud API key.
	APIKey string `toml:"api_key" json:"api_key"`
	// BaseURL overrides the default API base URL.
	BaseURL string `toml:"base_url" json:"base_url"`
	// MaxRetries is the retry budget for transient errors.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// LocalConfig contains local backend configuration.
type LocalConfig struct {
	// BaseURL is the local inference endpoint.
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// ProbeTimeoutSecs is the availability-probe timeout in seconds.
	ProbeTimeoutSecs int `toml:"probe_timeout_secs" json:"probe_timeout_secs"`
}

// SessionsConfig contains session context configuration.
type SessionsConfig struct {
	// Window is the number of turns rendered into a context summary.
	Window int `toml:"window" json:"window"`
	// MaxTopics bounds the per-session topic set.
	MaxTopics int `toml:"max_topics" json:"max_topics"`
	// ExpirationMins is the idle time in minutes before a session is evicted.
	ExpirationMins int `toml:"expiration_mins" json:"expiration_mins"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	// Enabled controls whether response caching is active.
	Enabled bool `toml:"enabled" json:"enabled"`
	// TTLMins is the entry time-to-live in minutes.
	TTLMins int `toml:"ttl_mins" json:"ttl_mins"`
}

// ValidationConfig contains prompt validation configuration.
type ValidationConfig struct {
	// RestrictedTerms are rejected wherever they appear in a prompt,
	// case-insensitively. Hot-reloadable via the config watcher.
	RestrictedTerms []string `toml:"restricted_terms" json:"restricted_terms"`
}

// AuditConfig contains audit log configuration.
type AuditConfig struct {
	// Enabled controls whether request-log records are written.
	Enabled bool `toml:"enabled" json:"enabled"`
	// DatabasePath is the SQLite file for the request log.
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// GenerationConfig contains the generation parameters sent to backends.
type GenerationConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`
	TopP        float64 `toml:"top_p" json:"top_p"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			ListenAddr:       "127.0.0.1:8090",
			RateLimitPerMin:  120,
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 120,
		},
		Routing: RoutingConfig{
			AdvancedModel:       "deepseek-reasoner",
			StandardModel:       "deepseek-chat",
			LocalModel:          "llama3.1:8b",
			PriorityRoles:       []string{"admin", "analyst"},
			HybridEnabled:       true,
			LocalThreshold:      0.35,
			ComplexityThreshold: 0.6,
			LengthThreshold:     150,
			FallbackThreshold:   3,
		},
		Cloud: CloudConfig{
			BaseURL:     "https://api.deepseek.com/v1",
			MaxRetries:  3,
			TimeoutSecs: 60,
		},
		Local: LocalConfig{
			BaseURL:          "http://127.0.0.1:11434",
			TimeoutSecs:      30,
			ProbeTimeoutSecs: 3,
		},
		Sessions: SessionsConfig{
			Window:         5,
			MaxTopics:      10,
			ExpirationMins: 30,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTLMins: 5,
		},
		Validation: ValidationConfig{
			RestrictedTerms: []string{},
		},
		Audit: AuditConfig{
			Enabled:      true,
			DatabasePath: defaultAuditPath(),
		},
		Generation: GenerationConfig{
			Temperature: 0.7,
			MaxTokens:   2048,
			TopP:        1.0,
		},
	}
}

// defaultAuditPath returns ~/.airouter/requests.db, falling back to a
// relative path when the home directory cannot be resolved.
func defaultAuditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "requests.db"
	}
	return filepath.Join(home, ".airouter", "requests.db")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".airouter", "config.toml")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config at path, merging over defaults and applying
// environment overrides. An empty path means DefaultPath(); a missing file
// means defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies AIROUTER_* environment variables over the
// loaded values. Secrets are expected to arrive this way rather than in
// the config file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("AIROUTER_LISTEN"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("AIROUTER_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("AIROUTER_CLOUD_KEY"); v != "" {
		c.Cloud.APIKey = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" && c.Cloud.APIKey == "" {
		c.Cloud.APIKey = v
	}
	if v := os.Getenv("AIROUTER_CLOUD_URL"); v != "" {
		c.Cloud.BaseURL = v
	}
	if v := os.Getenv("AIROUTER_LOCAL_URL"); v != "" {
		c.Local.BaseURL = v
	}
	if v := os.Getenv("AIROUTER_AUDIT_DB"); v != "" {
		c.Audit.DatabasePath = v
	}
	if v := os.Getenv("AIROUTER_HYBRID"); v != "" {
		c.Routing.HybridEnabled = parseBool(v, c.Routing.HybridEnabled)
	}
	if v := os.Getenv("AIROUTER_RESTRICTED_TERMS"); v != "" {
		c.Validation.RestrictedTerms = splitAndTrim(v)
	}
}

// fillDefaults replaces zero values left by a sparse config file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = def.Server.ListenAddr
	}
	if c.Server.ReadTimeoutSecs <= 0 {
		c.Server.ReadTimeoutSecs = def.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs <= 0 {
		c.Server.WriteTimeoutSecs = def.Server.WriteTimeoutSecs
	}
	if c.Routing.AdvancedModel == "" {
		c.Routing.AdvancedModel = def.Routing.AdvancedModel
	}
	if c.Routing.StandardModel == "" {
		c.Routing.StandardModel = def.Routing.StandardModel
	}
	if c.Routing.LocalModel == "" {
		c.Routing.LocalModel = def.Routing.LocalModel
	}
	if c.Routing.LocalThreshold <= 0 {
		c.Routing.LocalThreshold = def.Routing.LocalThreshold
	}
	if c.Routing.ComplexityThreshold <= 0 {
		c.Routing.ComplexityThreshold = def.Routing.ComplexityThreshold
	}
	if c.Routing.LengthThreshold <= 0 {
		c.Routing.LengthThreshold = def.Routing.LengthThreshold
	}
	if c.Routing.FallbackThreshold <= 0 {
		c.Routing.FallbackThreshold = def.Routing.FallbackThreshold
	}
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = def.Cloud.BaseURL
	}
	if c.Cloud.MaxRetries <= 0 {
		c.Cloud.MaxRetries = def.Cloud.MaxRetries
	}
	if c.Cloud.TimeoutSecs <= 0 {
		c.Cloud.TimeoutSecs = def.Cloud.TimeoutSecs
	}
	if c.Local.BaseURL == "" {
		c.Local.BaseURL = def.Local.BaseURL
	}
	if c.Local.TimeoutSecs <= 0 {
		c.Local.TimeoutSecs = def.Local.TimeoutSecs
	}
	if c.Local.ProbeTimeoutSecs <= 0 {
		c.Local.ProbeTimeoutSecs = def.Local.ProbeTimeoutSecs
	}
	if c.Sessions.Window <= 0 {
		c.Sessions.Window = def.Sessions.Window
	}
	if c.Sessions.MaxTopics <= 0 {
		c.Sessions.MaxTopics = def.Sessions.MaxTopics
	}
	if c.Sessions.ExpirationMins <= 0 {
		c.Sessions.ExpirationMins = def.Sessions.ExpirationMins
	}
	if c.Cache.TTLMins <= 0 {
		c.Cache.TTLMins = def.Cache.TTLMins
	}
	if c.Audit.DatabasePath == "" {
		c.Audit.DatabasePath = def.Audit.DatabasePath
	}
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = def.Generation.Temperature
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if c.Generation.TopP <= 0 {
		c.Generation.TopP = def.Generation.TopP
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the config as TOML to path atomically.
// Secrets sourced from the environment are written as-is; callers that keep
// keys out of the file should blank them before saving.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks field ranges. Returns the first problem found.
func (c *Config) Validate() error {
	if c.Routing.LocalThreshold < 0 || c.Routing.LocalThreshold > 1 {
		return ValidationError{"routing.local_threshold", "must be in [0,1]"}
	}
	if c.Routing.ComplexityThreshold < 0 || c.Routing.ComplexityThreshold > 1 {
		return ValidationError{"routing.complexity_threshold", "must be in [0,1]"}
	}
	if c.Routing.LocalThreshold > c.Routing.ComplexityThreshold {
		return ValidationError{"routing.local_threshold", "must not exceed routing.complexity_threshold"}
	}
	if c.Server.RateLimitPerMin < 0 {
		return ValidationError{"server.rate_limit_per_min", "must be >= 0"}
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return ValidationError{"generation.temperature", "must be in [0,2]"}
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		return ValidationError{"generation.top_p", "must be in [0,1]"}
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMins) * time.Minute
}

// SessionExpiration returns the session idle expiration as a duration.
func (c *Config) SessionExpiration() time.Duration {
	return time.Duration(c.Sessions.ExpirationMins) * time.Minute
}

// =============================================================================
// HELPERS
// =============================================================================

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
