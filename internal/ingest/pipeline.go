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

// Package ingest implements C7: the format-agnostic validate/enrich/
// hand-off pipeline shared by the HTTP ingest handlers and the UDP
// mapper. Format-specific JSON decoding (DecodeByFormat in formats.go) is
// invoked by the httpapi handlers before Pipeline.Process; by the time a
// batch reaches Process it is already a slice of RawRecord.
package ingest

import (
	"context"
	"fmt"
	"net"
	"sort"

	"flowgate/internal/geoasn"
	"flowgate/internal/metrics"
	"flowgate/internal/risk"
	"flowgate/internal/threatintel"
	"flowgate/internal/types"
)

const MaxBatchRecords = 10_000

// MaxPayloadBytes bounds the raw request body, post-decompression.
const MaxPayloadBytes = 5 * 1024 * 1024

// RecordError reports why a single record in a batch was rejected.
type RecordError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result is the outcome of processing one batch.
type Result struct {
	Accepted []types.EnrichedRecord
	Errors   []RecordError
}

// Sink receives enriched batches for export (C9). Submit returns false if
// the batch was dropped under back-pressure.
type Sink interface {
	Submit(batch EnrichedBatch) bool
}

// EnrichedBatch is the unit of work handed to export workers.
type EnrichedBatch struct {
	ID       string
	SourceID string
	Records  []types.EnrichedRecord
}

// IDGenerator produces a unique id for an enriched record or batch.
type IDGenerator func() string

// Pipeline wires C1 (geo/ASN), C2 (threat intel), C3 (risk) and C8
// (metrics) around per-batch validation and hand-off to C9.
type Pipeline struct {
	geo     *geoasn.Lookup
	ti      *threatintel.Matcher
	metrics *metrics.Aggregator
	sink    Sink
	newID   IDGenerator
}

// New wires a Pipeline from its collaborators.
func New(geo *geoasn.Lookup, ti *threatintel.Matcher, agg *metrics.Aggregator, sink Sink, newID IDGenerator) *Pipeline {
	return &Pipeline{geo: geo, ti: ti, metrics: agg, sink: sink, newID: newID}
}

// Process validates, enriches, and hands off one batch. Timeline events
// ("validated", "enriched") are the caller's responsibility to attach to
// the in-flight audit entry, since Pipeline has no notion of audit state.
func (p *Pipeline) Process(ctx context.Context, sourceID string, raw []types.RawRecord) Result {
	var res Result
	res.Accepted = make([]types.EnrichedRecord, 0, len(raw))

	var riskSum int64
	threatMatches := 0

	for i, rec := range raw {
		if err := validate(rec); err != "" {
			res.Errors = append(res.Errors, RecordError{Index: i, Reason: err})
			continue
		}
		enriched := p.enrich(rec)
		if len(enriched.TI.Matches) > 0 {
			threatMatches++
		}
		riskSum += int64(enriched.Risk)
		res.Accepted = append(res.Accepted, enriched)
	}

	if len(res.Accepted) > 0 {
		batch := EnrichedBatch{ID: p.newID(), SourceID: sourceID, Records: res.Accepted}
		if p.sink != nil && !p.sink.Submit(batch) {
			p.metrics.IncDrops()
		}
	}
	if p.metrics != nil {
		p.metrics.RecordBatch(len(res.Accepted), threatMatches, riskSum)
	}

	return res
}

// Enrich runs C1/C2/C3 over a single record without admission, batching, or
// a hand-off to C9 — backs the read-only /v1/lookup endpoint, which probes
// enrichment for one address without ingesting it.
func (p *Pipeline) Enrich(rec types.RawRecord) types.EnrichedRecord {
	return p.enrich(rec)
}

// matchEndpoints checks both the source and destination address against the
// threat-intel matcher: geo/ASN enrich only the destination-preferred
// primary address, but a known-bad source must still be flagged even when
// the destination is clean. Results from both endpoints are deduped and
// returned longest-prefix first.
func matchEndpoints(ti *threatintel.Matcher, srcIP, dstIP string) []string {
	var combined []string
	if srcIP != "" {
		combined = append(combined, ti.MatchIP(srcIP)...)
	}
	if dstIP != "" && dstIP != srcIP {
		combined = append(combined, ti.MatchIP(dstIP)...)
	}
	if len(combined) == 0 {
		return []string{}
	}

	seen := make(map[string]bool, len(combined))
	deduped := make([]string, 0, len(combined))
	for _, cidr := range combined {
		if seen[cidr] {
			continue
		}
		seen[cidr] = true
		deduped = append(deduped, cidr)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return prefixBits(deduped[i]) > prefixBits(deduped[j])
	})
	return deduped
}

// prefixBits returns cidr's mask length, or -1 if it cannot be parsed (sorts
// last rather than panicking on unexpected matcher output).
func prefixBits(cidr string) int {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return -1
	}
	ones, _ := ipnet.Mask.Size()
	return ones
}

func validate(rec types.RawRecord) string {
	if rec.SrcIP == "" && rec.DstIP == "" {
		return "missing src_ip and dst_ip"
	}
	if rec.SrcIP != "" && net.ParseIP(rec.SrcIP) == nil {
		return fmt.Sprintf("invalid src_ip %q", rec.SrcIP)
	}
	if rec.DstIP != "" && net.ParseIP(rec.DstIP) == nil {
		return fmt.Sprintf("invalid dst_ip %q", rec.DstIP)
	}
	if rec.Bytes < 0 || rec.Packets < 0 {
		return "negative bytes or packets"
	}
	return ""
}

func (p *Pipeline) enrich(rec types.RawRecord) types.EnrichedRecord {
	addr := rec.PrimaryAddress()

	var geo *types.Geo
	var asn *types.ASN
	if p.geo != nil {
		lookup := p.geo.Lookup(addr)
		if lookup.Geo != nil {
			geo = &types.Geo{Country: lookup.Geo.Country, City: lookup.Geo.City, Lat: lookup.Geo.Lat, Lon: lookup.Geo.Lon}
		}
		if lookup.ASN != nil {
			asn = &types.ASN{Number: lookup.ASN.Number, Org: lookup.ASN.Org}
		}
	}

	matches := []string{}
	if p.ti != nil {
		matches = matchEndpoints(p.ti, rec.SrcIP, rec.DstIP)
	}
	ti := types.ThreatIntel{Matches: matches}

	score := risk.Score(rec, len(matches) > 0)

	return types.EnrichedRecord{
		ID:    p.newID(),
		Raw:   rec,
		Geo:   geo,
		ASN:   asn,
		TI:    ti,
		Risk:  score,
	}
}
