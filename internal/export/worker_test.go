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

package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowgate/internal/ingest"
	"flowgate/internal/types"
)

type fakeMetrics struct {
	drops atomic.Int64
	bp    atomic.Bool
}

func (f *fakeMetrics) IncDrops()                 { f.drops.Add(1) }
func (f *fakeMetrics) IncOutputsTestSuccess()     {}
func (f *fakeMetrics) IncOutputsTestFail()        {}
func (f *fakeMetrics) SetBackpressure(v bool)     { f.bp.Store(v) }

type fakeSink struct {
	name     string
	mu       sync.Mutex
	received [][]types.EnrichedRecord
	failN    int // number of calls to fail before succeeding
	calls    int
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(ctx context.Context, batchID string, records []types.EnrichedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return errors.New("simulated failure")
	}
	cp := make([]types.EnrichedRecord, len(records))
	copy(cp, records)
	s.received = append(s.received, cp)
	return nil
}

func mkBatch(n int) ingest.EnrichedBatch {
	recs := make([]types.EnrichedRecord, n)
	for i := range recs {
		recs[i] = types.EnrichedRecord{ID: "r"}
	}
	return ingest.EnrichedBatch{ID: "b", Records: recs}
}

func TestWorkerFlushesOnBatchMax(t *testing.T) {
	sink := &fakeSink{name: "test"}
	dlq := NewDLQ("", time.Hour)
	w := NewWorker(sink, dlq, WorkerConfig{BatchMax: 5, FlushInterval: time.Hour}, &fakeMetrics{})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.Submit(mkBatch(5))
	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	got := len(sink.received)
	sink.mu.Unlock()
	if got != 1 {
		t.Fatalf("expected 1 flush once batch_max reached, got %d", got)
	}
	cancel()
	<-w.Done()
}

func TestWorkerFlushesOnTicker(t *testing.T) {
	sink := &fakeSink{name: "test"}
	dlq := NewDLQ("", time.Hour)
	w := NewWorker(sink, dlq, WorkerConfig{BatchMax: 1000, FlushInterval: 20 * time.Millisecond}, &fakeMetrics{})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.Submit(mkBatch(2))
	time.Sleep(100 * time.Millisecond)

	sink.mu.Lock()
	got := len(sink.received)
	sink.mu.Unlock()
	if got == 0 {
		t.Fatal("expected ticker-driven flush to have occurred")
	}
	cancel()
	<-w.Done()
}

func TestWorkerDepositsDLQAfterRetriesExhausted(t *testing.T) {
	sink := &fakeSink{name: "test", failN: 100}
	dlq := NewDLQ("", time.Hour)
	w := NewWorker(sink, dlq, WorkerConfig{BatchMax: 1, FlushInterval: time.Hour, MaxRetries: 1}, &fakeMetrics{})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.Submit(mkBatch(1))
	time.Sleep(2 * time.Second)

	if dlq.Len() != 1 {
		t.Fatalf("expected 1 DLQ entry after exhausting retries, got %d", dlq.Len())
	}
	cancel()
	<-w.Done()
}

func TestReplayRemovesEntryOnSuccess(t *testing.T) {
	sink := &fakeSink{name: "test"}
	dlq := NewDLQ("", time.Hour)
	w := NewWorker(sink, dlq, WorkerConfig{}, &fakeMetrics{})

	payload, _ := json.Marshal([]types.EnrichedRecord{{ID: "x"}})
	dlq.Add(types.DLQEntry{ID: "e1", Destination: "test", Payload: payload, FirstAttempt: time.Now(), NextEligible: time.Now().Add(-time.Second)})

	w.replayOnce(context.Background())
	if dlq.Len() != 0 {
		t.Fatalf("expected replay to remove the entry, got len %d", dlq.Len())
	}
}

func TestReplaySkipsOtherDestinations(t *testing.T) {
	sink := &fakeSink{name: "splunk"}
	dlq := NewDLQ("", time.Hour)
	w := NewWorker(sink, dlq, WorkerConfig{}, &fakeMetrics{})

	payload, _ := json.Marshal([]types.EnrichedRecord{{ID: "x"}})
	dlq.Add(types.DLQEntry{ID: "e1", Destination: "elastic", Payload: payload, FirstAttempt: time.Now(), NextEligible: time.Now().Add(-time.Second)})

	w.replayOnce(context.Background())
	if dlq.Len() != 1 {
		t.Fatalf("expected worker to leave entries for other sinks untouched, got len %d", dlq.Len())
	}
}

func TestSubmitDropsOldestWhenQueueFull(t *testing.T) {
	sink := &fakeSink{name: "test"}
	dlq := NewDLQ("", time.Hour)
	mx := &fakeMetrics{}
	w := NewWorker(sink, dlq, WorkerConfig{QueueCapacity: 1, FlushInterval: time.Hour}, mx)

	w.Submit(mkBatch(1))
	w.Submit(mkBatch(1))

	if mx.drops.Load() == 0 {
		t.Fatal("expected drops_total to increment when queue saturates")
	}
}
