// airouter - hybrid cloud/local AI request router.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esgpilot/airouter/internal/audit"
	"github.com/esgpilot/airouter/internal/backend"
	"github.com/esgpilot/airouter/internal/cache"
	"github.com/esgpilot/airouter/internal/cloud"
	"github.com/esgpilot/airouter/internal/config"
	"github.com/esgpilot/airouter/internal/local"
	"github.com/esgpilot/airouter/internal/router"
	"github.com/esgpilot/airouter/internal/server"
	"github.com/esgpilot/airouter/internal/sessions"
	"github.com/esgpilot/airouter/internal/validate"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// shutdownGrace is how long in-flight requests get to finish on shutdown.
const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.airouter/config.toml)")
	listenAddr := flag.String("listen", "", "listen address override")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("airouter %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("STARTUP_FAILED | error=%v", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	if err := run(cfg, *configPath); err != nil {
		log.Fatalf("FATAL | error=%v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Shared stores
	validator := validate.New(cfg.Validation.RestrictedTerms)
	sessionStore := sessions.NewStore(sessions.Config{
		Window:     cfg.Sessions.Window,
		MaxTopics:  cfg.Sessions.MaxTopics,
		Expiration: cfg.SessionExpiration(),
	})

	var responseCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		responseCache = cache.New(cfg.CacheTTL())
	} else {
		log.Printf("CACHE_DISABLED | every request dispatches to a backend")
	}

	// Backends
	cloudClient := cloud.NewClient(cfg.Cloud.APIKey).
		WithBaseURL(cfg.Cloud.BaseURL).
		WithMaxRetries(cfg.Cloud.MaxRetries)
	if !cloudClient.IsConfigured() {
		log.Printf("CLOUD_UNCONFIGURED | set AIROUTER_CLOUD_KEY to enable cloud routing")
	} else {
		log.Printf("CLOUD_READY | key_fingerprint=%s", cloudClient.KeyFingerprint())
	}

	localClient := local.NewClientWithConfig(&local.ClientConfig{
		BaseURL:      cfg.Local.BaseURL,
		Timeout:      time.Duration(cfg.Local.TimeoutSecs) * time.Second,
		ProbeTimeout: time.Duration(cfg.Local.ProbeTimeoutSecs) * time.Second,
		DefaultModel: cfg.Routing.LocalModel,
	})
	prober := local.NewProber(localClient)

	// Audit log
	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		var err error
		auditStore, err = audit.Open(cfg.Audit.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open request log: %w", err)
		}
		defer auditStore.Close()
	}

	// Routing engine
	tracker := router.NewFailureTracker()
	selector := router.NewSelector(router.SelectorConfig{
		Models: router.Models{
			Advanced: cfg.Routing.AdvancedModel,
			Standard: cfg.Routing.StandardModel,
			Local:    cfg.Routing.LocalModel,
		},
		PriorityRoles:       cfg.Routing.PriorityRoles,
		HybridEnabled:       cfg.Routing.HybridEnabled,
		LocalThreshold:      cfg.Routing.LocalThreshold,
		ComplexityThreshold: cfg.Routing.ComplexityThreshold,
		LengthThreshold:     cfg.Routing.LengthThreshold,
		FallbackThreshold:   cfg.Routing.FallbackThreshold,
	}, tracker, prober)

	engineCfg := router.EngineConfig{
		Validator: validator,
		Sessions:  sessionStore,
		Cache:     responseCache,
		Selector:  selector,
		Tracker:   tracker,
		Cloud:     cloudClient,
		Local:     localClient,
		Prober:    prober,
		Params: backend.Params{
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			TopP:        cfg.Generation.TopP,
		},
	}
	if auditStore != nil {
		engineCfg.Auditor = auditStore
	}
	engine := router.NewEngine(engineCfg)

	// Config hot reload: restricted terms take effect without a restart
	watchPath := configPath
	if watchPath == "" {
		watchPath = config.DefaultPath()
	}
	if _, err := os.Stat(watchPath); err == nil {
		watcher, err := config.NewWatcher(watchPath, func(fresh *config.Config) {
			validator.SetRestrictedTerms(fresh.Validation.RestrictedTerms)
		})
		if err != nil {
			log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		} else if err := watcher.Watch(); err != nil {
			log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		} else {
			defer watcher.Close()
		}
	}

	// HTTP server
	server.SetTrustedProxies(cfg.Server.TrustedProxies)
	srv := server.NewServer(cfg.Server.ListenAddr, engine).
		WithSessions(sessionStore).
		WithProber(prober).
		WithRateLimit(cfg.Server.RateLimitPerMin).
		WithTimeouts(
			time.Duration(cfg.Server.ReadTimeoutSecs)*time.Second,
			time.Duration(cfg.Server.WriteTimeoutSecs)*time.Second,
		).
		WithCloudConfigured(cloudClient.IsConfigured()).
		WithAuth(&server.AuthConfig{
			Enabled:     cfg.Server.APIKey != "",
			BearerToken: cfg.Server.APIKey,
		})
	if responseCache != nil {
		srv = srv.WithCache(responseCache)
	}
	if auditStore != nil {
		srv = srv.WithAudit(auditStore)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		corsCfg := server.DefaultCORSConfig()
		corsCfg.AllowedOrigins = cfg.Server.CORSOrigins
		srv = srv.WithCORS(corsCfg)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("SIGNAL | received=%v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
