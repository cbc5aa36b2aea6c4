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

// Package admission implements C4: source registry and EPS admission
// control. TokenBucket here is the per-source rate limiter, lock-free via
// atomic compare-and-swap
// of a packed (tokens, last_refill_ns) word"), grounded directly on the
// teacher's benchmarks.AtomicLimiter CAS-retry shape and the striped-atomic
// style of pkg/vsa/vsa.go — both avoid a mutex on the hot admission path.
package admission

import (
	"sync/atomic"
	"time"
)

// TokenBucket is a lock-free, per-source rate limiter with rate and burst
// both equal to the configured max_eps. The packed word holds
// whole tokens in the high 32 bits and a relative refill timestamp (whole
// seconds since the bucket's epoch) in the low 32 bits — second-granularity
// matches the "tokens/sec" rate model and its windowing tolerance, and
// keeps the CAS loop branch-free.
type TokenBucket struct {
	word  atomic.Uint64
	epoch time.Time
	rate  uint32 // tokens/sec == max_eps
	burst uint32 // == max_eps
}

// NewTokenBucket constructs a bucket starting full, at the given rate
// (tokens/sec) with burst capacity equal to rate. ratePerSec == 0 means
// "unlimited" — callers should bypass TryAcquire entirely in that case,
// but TryAcquire also treats rate 0 as always-admit defensively.
func NewTokenBucket(ratePerSec int64) *TokenBucket {
	r := uint32(0)
	if ratePerSec > 0 {
		r = uint32(ratePerSec)
	}
	tb := &TokenBucket{epoch: time.Now(), rate: r, burst: r}
	tb.word.Store(pack(r, 0))
	return tb
}

func pack(tokens, tsSec uint32) uint64 {
	return uint64(tokens)<<32 | uint64(tsSec)
}

func unpack(w uint64) (tokens, tsSec uint32) {
	return uint32(w >> 32), uint32(w)
}

func clampU32(v uint64, max uint32) uint32 {
	if v > uint64(max) {
		return max
	}
	return uint32(v)
}

// TryAcquire attempts to consume n tokens. It refills based on elapsed whole
// seconds since the last refill (or acquire), then checks availability —
// all via a CAS retry loop, never blocking.
func (tb *TokenBucket) TryAcquire(n int64) bool {
	if tb.rate == 0 {
		return true // unlimited
	}
	if n <= 0 {
		return true
	}
	for {
		old := tb.word.Load()
		tokens, tsSec := unpack(old)
		nowSec := uint32(time.Since(tb.epoch).Seconds())
		elapsed := nowSec - tsSec // correct under uint32 wraparound for realistic uptimes
		refilled := tokens
		newTS := tsSec
		if elapsed > 0 {
			add := uint64(elapsed) * uint64(tb.rate)
			refilled = clampU32(uint64(tokens)+add, tb.burst)
			newTS = nowSec
		}
		if uint64(refilled) < uint64(n) {
			// Publish the refill even on failure so the next attempt starts
			// from an up-to-date baseline; best-effort, failure is fine.
			if newTS != tsSec {
				tb.word.CompareAndSwap(old, pack(refilled, newTS))
			}
			return false
		}
		newWord := pack(refilled-uint32(n), newTS)
		if tb.word.CompareAndSwap(old, newWord) {
			return true
		}
	}
}

// Available returns a point-in-time estimate of available tokens, for
// observability only (not gated against concurrent consumption).
func (tb *TokenBucket) Available() int64 {
	tokens, _ := unpack(tb.word.Load())
	return int64(tokens)
}
