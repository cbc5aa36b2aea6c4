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

// Package threatintel implements C2: a threat-intel matcher loaded from a
// single line-oriented file of CIDR and domain:<name> entries. Reload
// semantics mirror geoasn.Lookup — a fresh snapshot is built off to the side
// and published via atomic swap so concurrent readers never block.
package threatintel

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"flowgate/internal/types"
)

// snapshot is the immutable, fully-built matcher state for one file load.
type snapshot struct {
	v4         *prefixTrie
	v6         *prefixTrie
	domains    map[string]struct{}
	indicators map[string]types.Indicator
}

// Matcher is the public, thread-safe handle. The zero value (via New) always
// returns empty matches until a load succeeds. mutMu serializes admin-driven
// Put/Remove calls so read-modify-rebuild-swap never races against itself;
// MatchIP/MatchDomain readers never take this lock.
type Matcher struct {
	handle atomic.Pointer[snapshot]
	path   string
	mutMu  sync.Mutex
}

// New constructs a Matcher and performs an initial load from path. A load
// failure leaves the matcher returning empty results rather than erroring,
// matching C1's "never throws" policy for C2 as well.
func New(path string) *Matcher {
	m := &Matcher{path: path}
	m.handle.Store(emptySnapshot())
	_ = m.Reload()
	return m
}

func emptySnapshot() *snapshot {
	return &snapshot{v4: newPrefixTrie(), v6: newPrefixTrie(), domains: map[string]struct{}{}, indicators: map[string]types.Indicator{}}
}

// indicatorID derives a stable id for a file-loaded entry (which carries no
// id of its own) from its kind and value, so admin Put/Remove calls can
// address entries uniformly whether they came from the file or the API.
func indicatorID(kind types.IndicatorKind, value string) string {
	h := sha256.Sum256([]byte(string(kind) + "|" + value))
	return hex.EncodeToString(h[:])[:16]
}

// rebuildFrom constructs a fresh snapshot's tries/domain set from an
// indicators map, for both file Reload and admin Put/Remove — there's one
// code path that turns "the current set of indicators" into matchable
// structures.
func rebuildFrom(indicators map[string]types.Indicator) *snapshot {
	next := emptySnapshot()
	for id, ind := range indicators {
		next.indicators[id] = ind
		switch ind.Kind {
		case types.IndicatorDomain:
			next.domains[strings.ToLower(ind.Value)] = struct{}{}
		case types.IndicatorCIDR:
			_, ipnet, err := net.ParseCIDR(ind.Value)
			if err != nil {
				continue
			}
			if ipnet.IP.To4() != nil {
				next.v4.insert(ind.Value, ipnet)
			} else {
				next.v6.insert(ind.Value, ipnet)
			}
		}
	}
	return next
}

// Reload re-reads the configured file and atomically publishes a new
// snapshot. Blank lines and lines starting with '#' are comments and are
// skipped; everything else is either a CIDR or a "domain:<name>" entry.
func (m *Matcher) Reload() error {
	if m.path == "" {
		return nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	indicators := map[string]types.Indicator{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "domain:") {
			name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "domain:")))
			if name != "" {
				id := indicatorID(types.IndicatorDomain, name)
				indicators[id] = types.Indicator{ID: id, Kind: types.IndicatorDomain, Value: name}
			}
			continue
		}
		if _, _, err := net.ParseCIDR(line); err != nil {
			continue // invalid entries are skipped, not fatal
		}
		id := indicatorID(types.IndicatorCIDR, line)
		indicators[id] = types.Indicator{ID: id, Kind: types.IndicatorCIDR, Value: line}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	m.handle.Store(rebuildFrom(indicators))
	return nil
}

// List returns a snapshot of every loaded indicator (file-loaded and
// admin-added alike).
func (m *Matcher) List() []types.Indicator {
	snap := m.handle.Load()
	out := make([]types.Indicator, 0, len(snap.indicators))
	for _, ind := range snap.indicators {
		out = append(out, ind)
	}
	return out
}

// Put adds or replaces an indicator and republishes a freshly rebuilt
// snapshot. If ind.ID is empty, one is derived from kind+value so repeated
// Puts of the same CIDR/domain are idempotent.
func (m *Matcher) Put(ind types.Indicator) types.Indicator {
	if ind.ID == "" {
		ind.ID = indicatorID(ind.Kind, ind.Value)
	}
	m.mutMu.Lock()
	defer m.mutMu.Unlock()
	cur := m.handle.Load()
	next := make(map[string]types.Indicator, len(cur.indicators)+1)
	for id, v := range cur.indicators {
		next[id] = v
	}
	next[ind.ID] = ind
	m.handle.Store(rebuildFrom(next))
	return ind
}

// Remove deletes an indicator by id and republishes a rebuilt snapshot.
// Reports whether the id was present.
func (m *Matcher) Remove(id string) bool {
	m.mutMu.Lock()
	defer m.mutMu.Unlock()
	cur := m.handle.Load()
	if _, ok := cur.indicators[id]; !ok {
		return false
	}
	next := make(map[string]types.Indicator, len(cur.indicators))
	for eid, v := range cur.indicators {
		if eid != id {
			next[eid] = v
		}
	}
	m.handle.Store(rebuildFrom(next))
	return true
}

// MatchIP returns the CIDR strings covering addr, longest-prefix first.
func (m *Matcher) MatchIP(ip string) []string {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil
	}
	snap := m.handle.Load()
	if snap == nil {
		return nil
	}
	if v4 := addr.To4(); v4 != nil {
		return snap.v4.matches(v4)
	}
	return snap.v6.matches(addr.To16())
}

// MatchDomain returns the matched domain names for name (exact match only,
// exact match only).
func (m *Matcher) MatchDomain(name string) []string {
	snap := m.handle.Load()
	if snap == nil {
		return nil
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := snap.domains[name]; ok {
		return []string{name}
	}
	return nil
}
