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
	"math/rand"
	"time"

	"github.com/google/uuid"

	"flowgate/internal/ingest"
	"flowgate/internal/logging"
	"flowgate/internal/types"
)

// Backoff parameters: base 500ms, factor 2, jitter ±20%,
// cap 30s.
const (
	backoffBase   = 500 * time.Millisecond
	backoffFactor = 2.0
	backoffCap    = 30 * time.Second
	backoffJitter = 0.20
)

func backoffDelay(attempt int) time.Duration {
	d := float64(backoffBase) * pow(backoffFactor, attempt)
	if d > float64(backoffCap) {
		d = float64(backoffCap)
	}
	jitter := 1 + (rand.Float64()*2-1)*backoffJitter
	d *= jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// WorkerConfig tunes one export worker's batching, retry, and DLQ replay
// behavior.
type WorkerConfig struct {
	BatchMax        int
	FlushInterval   time.Duration
	MaxRetries      int
	DLQReplayPeriod time.Duration
	ShutdownGrace   time.Duration
	QueueCapacity   int
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchMax <= 0 {
		c.BatchMax = 2000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 1500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DLQReplayPeriod <= 0 {
		c.DLQReplayPeriod = 60 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	return c
}

// MetricsSink is the subset of metrics.Aggregator the export worker reports
// to, kept as a narrow interface so this package doesn't import metrics
// directly and create an import cycle with anything metrics might later
// need from export.
type MetricsSink interface {
	IncDrops()
	IncOutputsTestSuccess()
	IncOutputsTestFail()
	SetBackpressure(bool)
}

// Worker is one sink's export pipeline: a bounded input queue, a coalescing
// buffer, retrying delivery, and DLQ fallback, all driven by a ticker-driven
// cycle with a stop channel and a final flush on shutdown.
type Worker struct {
	name   string
	sink   Sink
	dlq    *DLQ
	cfg    WorkerConfig
	log    *logging.Logger
	mx     MetricsSink
	queue  chan ingest.EnrichedBatch
	done   chan struct{}
}

// NewWorker wires a Worker around sink, with entries that exhaust retries
// deposited in dlq.
func NewWorker(sink Sink, dlq *DLQ, cfg WorkerConfig, mx MetricsSink) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		name:   sink.Name(),
		sink:   sink,
		dlq:    dlq,
		cfg:    cfg,
		log:    logging.New("export/" + sink.Name()),
		mx:     mx,
		queue:  make(chan ingest.EnrichedBatch, cfg.QueueCapacity),
		done:   make(chan struct{}),
	}
}

// Submit enqueues batch for delivery. If the queue is
// already full the oldest queued batch is dropped (incrementing
// drops_total) to admit the new one, preserving recency for operators.
func (w *Worker) Submit(batch ingest.EnrichedBatch) bool {
	w.updateBackpressure()
	select {
	case w.queue <- batch:
		return true
	default:
		select {
		case <-w.queue:
			if w.mx != nil {
				w.mx.IncDrops()
			}
		default:
		}
		select {
		case w.queue <- batch:
			return true
		default:
			if w.mx != nil {
				w.mx.IncDrops()
			}
			return false
		}
	}
}

func (w *Worker) updateBackpressure() {
	if w.mx == nil {
		return
	}
	full := float64(len(w.queue)) / float64(cap(w.queue))
	w.mx.SetBackpressure(full > 0.8)
}

// Run drives the coalescing-flush loop until ctx is canceled, then drains
// any buffered records into the DLQ within the configured grace window.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	var buffer []types.EnrichedRecord
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		w.deliverWithRetry(ctx, buffer)
		buffer = nil
	}

	for {
		select {
		case batch, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, batch.Records...)
			if len(buffer) >= w.cfg.BatchMax {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		}
	}
}

// shutdown implements the graceful drain: within cfg.ShutdownGrace, attempt
// one more delivery of the buffered records and anything still queued;
// whatever remains goes straight to the DLQ rather than being lost.
func (w *Worker) shutdown(buffer []types.EnrichedRecord) {
	grace, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownGrace)
	defer cancel()

drain:
	for {
		select {
		case batch, ok := <-w.queue:
			if !ok {
				break drain
			}
			buffer = append(buffer, batch.Records...)
		default:
			break drain
		}
	}

	if len(buffer) == 0 {
		return
	}
	if err := w.sink.Send(grace, uuid.NewString(), buffer); err != nil {
		w.depositDLQ(buffer, err)
	}
}

// deliverWithRetry attempts delivery once and then retries up to
// cfg.MaxRetries more times with exponential backoff (MaxRetries+1 attempts
// in all) before giving up and depositing the batch in the DLQ.
func (w *Worker) deliverWithRetry(ctx context.Context, records []types.EnrichedRecord) {
	batchID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt - 1)):
			case <-ctx.Done():
				w.depositDLQ(records, ctx.Err())
				return
			}
		}
		err := w.sink.Send(ctx, batchID, records)
		if err == nil {
			w.log.Infof("delivered batch %s (%d records) after %d attempt(s)", batchID, len(records), attempt+1)
			return
		}
		lastErr = err
		w.log.Warnf("delivery attempt %d for batch %s failed: %v", attempt+1, batchID, err)
	}
	w.depositDLQ(records, lastErr)
}

func (w *Worker) depositDLQ(records []types.EnrichedRecord, cause error) {
	payload, err := json.Marshal(records)
	if err != nil {
		w.log.Errorf("dlq: failed to marshal batch: %v", err)
		return
	}
	now := time.Now()
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	w.dlq.Add(types.DLQEntry{
		ID:           uuid.NewString(),
		Destination:  w.name,
		Payload:      payload,
		FirstAttempt: now,
		LastAttempt:  now,
		Attempts:     w.cfg.MaxRetries + 1,
		NextEligible: now.Add(w.cfg.DLQReplayPeriod),
		LastError:    reason,
	})
	w.log.Warnf("batch deposited in DLQ after exhausting retries: %v", cause)
}

// ReplayLoop periodically prunes DLQ entries past the retention horizon and
// attempts redelivery of eligible entries for this sink until ctx is
// canceled.
func (w *Worker) ReplayLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DLQReplayPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.replayOnce(ctx)
		}
	}
}

func (w *Worker) replayOnce(ctx context.Context) {
	now := time.Now()
	w.dlq.PruneExpired(now)
	for _, entry := range w.dlq.Eligible(now) {
		if entry.Destination != w.name {
			continue
		}
		var records []types.EnrichedRecord
		if err := json.Unmarshal(entry.Payload, &records); err != nil {
			w.log.Errorf("dlq replay: corrupt payload for %s: %v", entry.ID, err)
			continue
		}
		if err := w.sink.Send(ctx, entry.ID, records); err != nil {
			w.dlq.RecordAttempt(entry.ID, now, now.Add(w.cfg.DLQReplayPeriod), err.Error())
			w.log.Warnf("dlq replay failed for %s: %v", entry.ID, err)
			continue
		}
		w.dlq.Remove(entry.ID)
		w.log.Infof("dlq replay succeeded for %s (%d records)", entry.ID, len(records))
	}
}

// Done returns a channel closed once Run has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
