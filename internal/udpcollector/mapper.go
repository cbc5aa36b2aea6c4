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

package udpcollector

import (
	"context"
	"time"

	"flowgate/internal/ingest"
	"flowgate/internal/logging"
	"flowgate/internal/types"
)

// Processor is the subset of ingest.Pipeline the mapper depends on.
type Processor interface {
	Process(ctx context.Context, sourceID string, raw []types.RawRecord) ingest.Result
}

// MapperConfig tunes the UDP mapper's self-batching by count or time.
type MapperConfig struct {
	SourceID      string // stamped onto every record the mapper forwards; default "udp"
	BatchMax      int
	FlushInterval time.Duration
}

func (c MapperConfig) withDefaults() MapperConfig {
	if c.SourceID == "" {
		c.SourceID = "udp"
	}
	if c.BatchMax <= 0 {
		c.BatchMax = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	return c
}

// Mapper drains a Queue and forwards canonical records into the ingest
// pipeline, stamping source_id per cfg.SourceID. It is the in-process
// replacement for a separate worker-plus-pipe join: one goroutine, one
// bounded queue, no framing.
type Mapper struct {
	queue *Queue
	proc  Processor
	cfg   MapperConfig
	log   *logging.Logger
}

// NewMapper wires a Mapper around queue, forwarding batches to proc.
func NewMapper(queue *Queue, proc Processor, cfg MapperConfig) *Mapper {
	return &Mapper{queue: queue, proc: proc, cfg: cfg.withDefaults(), log: logging.New("udpcollector/mapper")}
}

// Run drains the queue until ctx is canceled or the queue is closed,
// self-batching by count or time before calling Process. Consumer
// cancellation is immediate: any buffered-but-unflushed
// records at shutdown are simply dropped rather than blocking exit.
func (m *Mapper) Run(ctx context.Context) {
	batch := make([]types.RawRecord, 0, m.cfg.BatchMax)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	recvCh := make(chan types.RawRecord)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			rec, ok := m.queue.Pop()
			if !ok {
				return
			}
			select {
			case recvCh <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.proc.Process(ctx, m.cfg.SourceID, batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-recvCh:
			batch = append(batch, rec)
			if len(batch) >= m.cfg.BatchMax {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			m.queue.Close()
			return
		case <-done:
			flush()
			return
		}
	}
}
