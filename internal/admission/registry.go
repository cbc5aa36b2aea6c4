// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package admission

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"flowgate/internal/types"
)

// Reason is the admission outcome, surfaced verbatim in the HTTP response
// and in audit entries.
type Reason string

const (
	ReasonAdmitted       Reason = "admitted"
	ReasonUnknownSource  Reason = "blocked:unknown_source"
	ReasonDisabled       Reason = "blocked:disabled"
	ReasonNoAllowlist    Reason = "blocked:no_allowlist"
	ReasonNotInAllowlist Reason = "blocked:not_in_allowlist"
	ReasonRateLimited    Reason = "rate_limited"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed  bool
	Reason   Reason
	OverCap  bool // admitted despite exceeding max_eps (block_on_exceed=false)
}

type entry struct {
	source  types.Source
	nets    []*net.IPNet
	bucket  *TokenBucket
	overCap atomic.Int64
}

// Registry holds Source entities and their admission state. Reads
// (admission checks) are the hot path and take the RWMutex read lock only
// long enough to grab a pointer to the entry; the token bucket itself is
// lock-free. A successful Admit takes the write lock briefly to stamp
// last_seen.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*entry)}
}

// Put inserts or replaces a source. Replacing a source resets its token
// bucket to the new max_eps.
func (r *Registry) Put(s types.Source) {
	nets := parseCIDRs(s.AllowedIPs)
	e := &entry{source: s, nets: nets, bucket: NewTokenBucket(s.MaxEPS)}

	r.mu.Lock()
	r.sources[s.ID] = e
	r.mu.Unlock()
}

// Remove deletes a source.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sources, id)
	r.mu.Unlock()
}

// Get returns a copy of the source entity, if present.
func (r *Registry) Get(id string) (types.Source, bool) {
	r.mu.RLock()
	e, ok := r.sources[id]
	r.mu.RUnlock()
	if !ok {
		return types.Source{}, false
	}
	return e.source, true
}

// List returns a snapshot of all sources.
func (r *Registry) List() []types.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Source, 0, len(r.sources))
	for _, e := range r.sources {
		out = append(out, e.source)
	}
	return out
}

// OverCapCount returns the observability counter of requests admitted
// despite exceeding max_eps (block_on_exceed=false path).
func (r *Registry) OverCapCount(id string) int64 {
	r.mu.RLock()
	e, ok := r.sources[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.overCap.Load()
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		nets = append(nets, ipnet)
	}
	return nets
}

func matchesAny(nets []*net.IPNet, clientAddr string) bool {
	ip := net.ParseIP(clientAddr)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Admit runs the admission algorithm and, on success, updates
// last_seen and consumes the token bucket. It mutates registry state; use
// Test for a side-effect-free dry run.
func (r *Registry) Admit(sourceID, clientAddr string, recordCount int64) Decision {
	r.mu.RLock()
	e, ok := r.sources[sourceID]
	r.mu.RUnlock()
	if !ok {
		return Decision{Allowed: false, Reason: ReasonUnknownSource}
	}

	if e.source.Status == types.SourceDisabled {
		return Decision{Allowed: false, Reason: ReasonDisabled}
	}
	if len(e.source.AllowedIPs) == 0 {
		return Decision{Allowed: false, Reason: ReasonNoAllowlist}
	}
	if !matchesAny(e.nets, clientAddr) {
		return Decision{Allowed: false, Reason: ReasonNotInAllowlist}
	}

	overCap := false
	if e.source.MaxEPS > 0 && !e.bucket.TryAcquire(recordCount) {
		if e.source.BlockOnExceed {
			return Decision{Allowed: false, Reason: ReasonRateLimited}
		}
		overCap = true
		e.overCap.Add(1)
	}

	r.mu.Lock()
	e.source.LastSeen = time.Now()
	r.mu.Unlock()

	return Decision{Allowed: true, Reason: ReasonAdmitted, OverCap: overCap}
}

// Test performs the same checks as Admit with
// no state change: last_seen is not updated and no tokens are consumed.
// Backs the admin admission_test dry-run endpoint.
func (r *Registry) Test(sourceID, clientAddr string) Decision {
	r.mu.RLock()
	e, ok := r.sources[sourceID]
	r.mu.RUnlock()
	if !ok {
		return Decision{Allowed: false, Reason: ReasonUnknownSource}
	}
	if e.source.Status == types.SourceDisabled {
		return Decision{Allowed: false, Reason: ReasonDisabled}
	}
	if len(e.source.AllowedIPs) == 0 {
		return Decision{Allowed: false, Reason: ReasonNoAllowlist}
	}
	if !matchesAny(e.nets, clientAddr) {
		return Decision{Allowed: false, Reason: ReasonNotInAllowlist}
	}
	if e.source.MaxEPS > 0 && e.bucket.Available() < 1 {
		if e.source.BlockOnExceed {
			return Decision{Allowed: false, Reason: ReasonRateLimited}
		}
	}
	return Decision{Allowed: true, Reason: ReasonAdmitted}
}
