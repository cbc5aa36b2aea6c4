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

// Package idempotency implements C5: a bounded (tenant, endpoint,
// client_key) -> response cache with TTL and in-flight request collapsing.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"flowgate/internal/types"
)

const defaultNegativeTTL = 2 * time.Minute

type cacheEntry struct {
	key       string
	rec       *types.IdempotencyRecord
	failed    bool
	expiresAt time.Time
}

// Store is a bounded idempotency cache. Entries beyond Capacity are
// evicted LRU-first (by last access), ahead of TTL pruning, per the
// capacity-before-TTL decision recorded in the grounding ledger. Concurrent
// callers racing on the same key are collapsed through a singleflight.Group
// so only one ever executes the underlying work.
type Store struct {
	mu       sync.Mutex
	elems    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	negTTL   time.Duration
	sf       singleflight.Group
}

// New returns a Store bounded to capacity entries with the given TTL for
// successful responses. capacity <= 0 means unbounded.
func New(capacity int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		elems:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		negTTL:   defaultNegativeTTL,
	}
}

// Begin reports whether key already has a cached, non-expired result.
func (s *Store) Begin(key string) (rec *types.IdempotencyRecord, hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elems[key]
	if !ok {
		return nil, false
	}
	ce := el.Value.(*cacheEntry)
	if time.Now().After(ce.expiresAt) {
		s.order.Remove(el)
		delete(s.elems, key)
		return nil, false
	}
	s.order.MoveToFront(el)
	if ce.failed {
		return nil, false
	}
	return ce.rec, true
}

func (s *Store) commit(key string, rec *types.IdempotencyRecord) {
	s.put(key, &cacheEntry{key: key, rec: rec, expiresAt: time.Now().Add(s.ttl)})
}

func (s *Store) commitNegative(key string) {
	s.put(key, &cacheEntry{key: key, failed: true, expiresAt: time.Now().Add(s.negTTL)})
}

func (s *Store) put(key string, ce *cacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.elems[key]; ok {
		el.Value = ce
		s.order.MoveToFront(el)
		return
	}
	el := s.order.PushFront(ce)
	s.elems[key] = el
	s.evictLocked()
}

// evictLocked drops the least-recently-used entry while over capacity.
// Must be called with s.mu held.
func (s *Store) evictLocked() {
	if s.capacity <= 0 {
		return
	}
	for s.order.Len() > s.capacity {
		back := s.order.Back()
		if back == nil {
			return
		}
		ce := back.Value.(*cacheEntry)
		s.order.Remove(back)
		delete(s.elems, ce.key)
	}
}

// PruneExpired removes all entries past their TTL. Intended to be driven
// by a periodic maintenance task.
func (s *Store) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	var next *list.Element
	for el := s.order.Back(); el != nil; el = next {
		next = el.Prev()
		ce := el.Value.(*cacheEntry)
		if now.After(ce.expiresAt) {
			s.order.Remove(el)
			delete(s.elems, ce.key)
			removed++
		}
	}
	return removed
}

// Len reports the current entry count, for observability.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Do runs fn at most once per key among concurrently racing callers. A
// cache hit short-circuits fn entirely. A caller whose ctx is canceled
// while waiting stops waiting immediately; the in-flight primary call (if
// any) is unaffected and still commits its result for later callers.
func (s *Store) Do(ctx context.Context, key string, fn func(ctx context.Context) (*types.IdempotencyRecord, error)) (rec *types.IdempotencyRecord, hit bool, err error) {
	if rec, ok := s.Begin(key); ok {
		return rec, true, nil
	}

	ch := s.sf.DoChan(key, func() (interface{}, error) {
		rec, err := fn(context.Background())
		if err != nil {
			s.commitNegative(key)
			return nil, err
		}
		s.commit(key, rec)
		return rec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*types.IdempotencyRecord), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
