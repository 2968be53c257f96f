// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import (
	"context"
	"log"
	"sync"
	"time"
)

// probeCacheTTL is how long a probe result is trusted before re-probing.
// A stale read is acceptable: availability is a soft routing hint.
const probeCacheTTL = 5 * time.Minute

// Pinger is the probe capability the cached prober wraps.
// *Client satisfies it; tests substitute a fake.
type Pinger interface {
	Probe(ctx context.Context) error
}

// Prober caches local-backend availability so the selector does not probe
// on every request. Probe failures are treated as "unavailable" and never
// surfaced to callers. Safe for concurrent use.
type Prober struct {
	mu      sync.Mutex
	pinger  Pinger
	ttl     time.Duration
	checked time.Time
	ok      bool

	// now is injectable for cache-expiry tests.
	now func() time.Time
}

// NewProber creates a prober around the given pinger.
func NewProber(p Pinger) *Prober {
	return &Prober{
		pinger: p,
		ttl:    probeCacheTTL,
		now:    time.Now,
	}
}

// WithTTL overrides the probe cache TTL.
func (p *Prober) WithTTL(ttl time.Duration) *Prober {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttl = ttl
	return p
}

// WithClock overrides the prober's clock. Test hook.
func (p *Prober) WithClock(now func() time.Time) *Prober {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
	return p
}

// Available reports whether the local backend is usable, probing at most
// once per TTL window.
func (p *Prober) Available(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.checked.IsZero() && p.now().Sub(p.checked) < p.ttl {
		return p.ok
	}

	err := p.pinger.Probe(ctx)
	p.checked = p.now()
	p.ok = err == nil
	if err != nil {
		log.Printf("LOCAL_PROBE | available=false error=%v", err)
	}
	return p.ok
}

// Invalidate drops the cached result so the next Available call re-probes.
// The router calls this after a cloud failure, before deciding on fallback.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checked = time.Time{}
}
