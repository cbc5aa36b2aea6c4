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

package metrics

import "testing"

func TestAggregator_CountersAccumulate(t *testing.T) {
	a := New()
	a.IncRequests()
	a.IncRequests()
	a.IncRequestsFailed()
	a.RecordBatch(10, 2, 150)

	snap := a.Snapshot()
	if snap.Totals.RequestsTotal != 2 {
		t.Fatalf("RequestsTotal = %d, want 2", snap.Totals.RequestsTotal)
	}
	if snap.Totals.RequestsFailed != 1 {
		t.Fatalf("RequestsFailed = %d, want 1", snap.Totals.RequestsFailed)
	}
	if snap.Totals.RecordsProcessed != 10 {
		t.Fatalf("RecordsProcessed = %d, want 10", snap.Totals.RecordsProcessed)
	}
	if snap.Totals.ThreatMatchesTotal != 2 {
		t.Fatalf("ThreatMatchesTotal = %d, want 2", snap.Totals.ThreatMatchesTotal)
	}
}

func TestAggregator_PercentilesOverReservoir(t *testing.T) {
	a := New()
	for i := 1; i <= 100; i++ {
		a.ObserveLatency(float64(i))
	}
	snap := a.Snapshot()
	if snap.QueueLagP50 <= 0 || snap.QueueLagP99 < snap.QueueLagP50 {
		t.Fatalf("unexpected percentiles: p50=%v p95=%v p99=%v", snap.QueueLagP50, snap.QueueLagP95, snap.QueueLagP99)
	}
}

func TestAggregator_EmptyLatencyReservoirYieldsZero(t *testing.T) {
	a := New()
	snap := a.Snapshot()
	if snap.QueueLagP50 != 0 || snap.QueueLagP95 != 0 || snap.QueueLagP99 != 0 {
		t.Fatalf("expected zero percentiles with no samples, got %+v", snap)
	}
}

func TestAggregator_BackpressureAndActiveSources(t *testing.T) {
	a := New()
	a.SetBackpressure(true)
	a.SetActiveSources(7)
	snap := a.Snapshot()
	if !snap.Backpressure {
		t.Fatalf("expected Backpressure=true")
	}
	if snap.ActiveSourceCount != 7 {
		t.Fatalf("ActiveSourceCount = %d, want 7", snap.ActiveSourceCount)
	}
}

func TestAggregator_Events5mHasFixedWindow(t *testing.T) {
	a := New()
	a.RecordBatch(5, 0, 0)
	snap := a.Snapshot()
	if len(snap.Events5m) != windowSeconds {
		t.Fatalf("Events5m length = %d, want %d", len(snap.Events5m), windowSeconds)
	}
}
