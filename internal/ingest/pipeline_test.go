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

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"flowgate/internal/metrics"
	"flowgate/internal/threatintel"
	"flowgate/internal/types"
)

type captureSink struct {
	batches []EnrichedBatch
	admit   bool
}

func (c *captureSink) Submit(b EnrichedBatch) bool {
	c.batches = append(c.batches, b)
	return c.admit
}

func sequentialIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
}

func TestPipeline_AcceptsValidRecords(t *testing.T) {
	sink := &captureSink{admit: true}
	p := New(nil, nil, metrics.New(), sink, sequentialIDs())

	res := p.Process(context.Background(), "s1", []types.RawRecord{
		{SrcIP: "10.0.0.1", DstIP: "8.8.8.8", Bytes: 100, Packets: 1},
	})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Accepted) != 1 {
		t.Fatalf("Accepted = %d, want 1", len(res.Accepted))
	}
	if len(sink.batches) != 1 {
		t.Fatalf("expected one batch submitted to sink")
	}
}

func TestPipeline_RejectsMalformedRecordsButKeepsRest(t *testing.T) {
	sink := &captureSink{admit: true}
	p := New(nil, nil, metrics.New(), sink, sequentialIDs())

	res := p.Process(context.Background(), "s1", []types.RawRecord{
		{SrcIP: "not-an-ip", DstIP: "8.8.8.8", Bytes: 1},
		{SrcIP: "10.0.0.1", DstIP: "8.8.8.8", Bytes: 1},
	})
	if len(res.Errors) != 1 || res.Errors[0].Index != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Accepted) != 1 {
		t.Fatalf("Accepted = %d, want 1", len(res.Accepted))
	}
}

func TestPipeline_RejectsRecordMissingBothAddresses(t *testing.T) {
	sink := &captureSink{admit: true}
	p := New(nil, nil, metrics.New(), sink, sequentialIDs())

	res := p.Process(context.Background(), "s1", []types.RawRecord{{Bytes: 1}})
	if len(res.Errors) != 1 || len(res.Accepted) != 0 {
		t.Fatalf("expected single record rejected for missing addresses: %+v", res)
	}
}

func TestPipeline_EnrichesWithThreatIntelMatch(t *testing.T) {
	path := writeThreatList(t, "45.149.3.0/24\n")
	ti := threatintel.New(path)
	sink := &captureSink{admit: true}
	p := New(nil, ti, metrics.New(), sink, sequentialIDs())

	res := p.Process(context.Background(), "s1", []types.RawRecord{
		{SrcIP: "45.149.3.10", DstIP: "8.8.8.8", SrcPort: 51514, DstPort: 445, Bytes: 2_000_000, Protocol: types.ProtoTCP},
	})
	if len(res.Accepted) != 1 {
		t.Fatalf("Accepted = %d, want 1", len(res.Accepted))
	}
	rec := res.Accepted[0]
	if len(rec.TI.Matches) != 1 {
		t.Fatalf("expected TI match, got %+v", rec.TI)
	}
	if rec.Risk != 90 {
		t.Fatalf("Risk = %d, want 90", rec.Risk)
	}
}

func TestPipeline_DropCountedWhenSinkRefuses(t *testing.T) {
	sink := &captureSink{admit: false}
	agg := metrics.New()
	p := New(nil, nil, agg, sink, sequentialIDs())

	p.Process(context.Background(), "s1", []types.RawRecord{{SrcIP: "10.0.0.1"}})
	if got := agg.Snapshot().Totals.DropsTotal; got != 1 {
		t.Fatalf("DropsTotal = %d, want 1", got)
	}
}

func writeThreatList(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write threat list: %v", err)
	}
	return path
}
