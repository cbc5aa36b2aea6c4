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

package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowgate/internal/types"
)

func TestDo_CachesSuccessfulResult(t *testing.T) {
	s := New(10, time.Hour)
	var calls atomic.Int64
	fn := func(ctx context.Context) (*types.IdempotencyRecord, error) {
		calls.Add(1)
		return &types.IdempotencyRecord{StatusCode: 200, Body: []byte("ok")}, nil
	}

	rec1, hit1, err := s.Do(context.Background(), "k1", fn)
	if err != nil || hit1 {
		t.Fatalf("first call: rec=%v hit=%v err=%v", rec1, hit1, err)
	}
	rec2, hit2, err := s.Do(context.Background(), "k1", fn)
	if err != nil || !hit2 {
		t.Fatalf("second call: rec=%v hit=%v err=%v", rec2, hit2, err)
	}
	if string(rec1.Body) != string(rec2.Body) {
		t.Fatalf("expected byte-identical cached body")
	}
	if calls.Load() != 1 {
		t.Fatalf("fn called %d times, want 1", calls.Load())
	}
}

func TestDo_CollapsesConcurrentCallers(t *testing.T) {
	s := New(10, time.Hour)
	var calls atomic.Int64
	release := make(chan struct{})
	fn := func(ctx context.Context) (*types.IdempotencyRecord, error) {
		calls.Add(1)
		<-release
		return &types.IdempotencyRecord{StatusCode: 200, Body: []byte("done")}, nil
	}

	var wg sync.WaitGroup
	results := make([]*types.IdempotencyRecord, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rec, _, _ := s.Do(context.Background(), "same-key", fn)
			results[idx] = rec
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("fn called %d times, want exactly 1 for collapsed callers", calls.Load())
	}
	for _, r := range results {
		if r == nil || string(r.Body) != "done" {
			t.Fatalf("expected all callers to observe the shared result, got %v", r)
		}
	}
}

func TestDo_CancellationFreesWaiterButNotPrimary(t *testing.T) {
	s := New(10, time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (*types.IdempotencyRecord, error) {
		close(started)
		<-release
		return &types.IdempotencyRecord{StatusCode: 200, Body: []byte("primary-done")}, nil
	}

	go func() {
		s.Do(context.Background(), "k", fn)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Do(ctx, "k", fn)
	if err == nil {
		t.Fatalf("expected canceled waiter to return an error")
	}

	close(release)
	time.Sleep(10 * time.Millisecond)
	if rec, hit := s.Begin("k"); !hit || string(rec.Body) != "primary-done" {
		t.Fatalf("primary call should have committed despite waiter cancellation: rec=%v hit=%v", rec, hit)
	}
}

func TestDo_FailureCachedNegativelyThenRetriable(t *testing.T) {
	s := New(10, time.Hour)
	s.negTTL = time.Millisecond // speed up test
	var calls atomic.Int64
	failFn := func(ctx context.Context) (*types.IdempotencyRecord, error) {
		calls.Add(1)
		return nil, context.DeadlineExceeded
	}
	_, _, err := s.Do(context.Background(), "k", failFn)
	if err == nil {
		t.Fatalf("expected error from fn")
	}
	if _, hit := s.Begin("k"); hit {
		t.Fatalf("a failed attempt must not be returned as a cache hit")
	}

	time.Sleep(5 * time.Millisecond)
	okFn := func(ctx context.Context) (*types.IdempotencyRecord, error) {
		return &types.IdempotencyRecord{StatusCode: 200, Body: []byte("ok-on-retry")}, nil
	}
	rec, _, err := s.Do(context.Background(), "k", okFn)
	if err != nil || string(rec.Body) != "ok-on-retry" {
		t.Fatalf("expected retry after negative TTL expiry to succeed, got rec=%v err=%v", rec, err)
	}
}

func TestStore_CapacityEvictsLRUBeforeTTL(t *testing.T) {
	s := New(2, time.Hour)
	ctx := context.Background()
	mk := func(body string) func(context.Context) (*types.IdempotencyRecord, error) {
		return func(ctx context.Context) (*types.IdempotencyRecord, error) {
			return &types.IdempotencyRecord{StatusCode: 200, Body: []byte(body)}, nil
		}
	}
	s.Do(ctx, "a", mk("a"))
	s.Do(ctx, "b", mk("b"))
	s.Do(ctx, "c", mk("c")) // evicts "a", the LRU entry

	if _, hit := s.Begin("a"); hit {
		t.Fatalf("expected 'a' evicted under capacity pressure")
	}
	if _, hit := s.Begin("b"); !hit {
		t.Fatalf("expected 'b' retained")
	}
	if _, hit := s.Begin("c"); !hit {
		t.Fatalf("expected 'c' retained")
	}
	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestPruneExpired(t *testing.T) {
	s := New(10, time.Millisecond)
	s.Do(context.Background(), "k", func(ctx context.Context) (*types.IdempotencyRecord, error) {
		return &types.IdempotencyRecord{StatusCode: 200}, nil
	})
	time.Sleep(5 * time.Millisecond)
	if removed := s.PruneExpired(time.Now()); removed != 1 {
		t.Fatalf("PruneExpired() = %d, want 1", removed)
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("Len() after prune = %d, want 0", got)
	}
}
