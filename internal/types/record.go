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

// Package types holds the canonical shapes that cross component boundaries:
// raw flow records, their enriched counterparts, sources, indicators, audit
// entries, idempotency records and dead-letter entries. Nothing here owns
// behavior beyond small, pure helpers — ownership lives in the component
// packages (admission, idempotency, audit, export) that manage these values.
package types

// Protocol is the transport protocol of a raw record.
type Protocol string

const (
	ProtoTCP   Protocol = "tcp"
	ProtoUDP   Protocol = "udp"
	ProtoICMP  Protocol = "icmp"
	ProtoOther Protocol = "other"
)

// ParseProtocol normalizes a free-form protocol string (as seen in Zeek logs,
// flow JSON, or NetFlow protocol numbers already mapped to names) into the
// canonical enum. Unknown values map to ProtoOther rather than failing —
// format adapters must never abort a batch over one field.
func ParseProtocol(s string) Protocol {
	switch s {
	case "tcp", "TCP", "6":
		return ProtoTCP
	case "udp", "UDP", "17":
		return ProtoUDP
	case "icmp", "ICMP", "1":
		return ProtoICMP
	default:
		return ProtoOther
	}
}

// RawRecord is the canonical, normalized shape every format adapter (Zeek,
// generic flow JSON, NetFlow/IPFIX) converts into. It is a short-lived value
// passed by copy through the pipeline — nothing downstream mutates it in
// place.
type RawRecord struct {
	TS            float64  // epoch seconds, sub-second precision
	SrcIP         string
	SrcPort       int
	DstIP         string
	DstPort       int
	Protocol      Protocol
	Bytes         int64
	Packets       int64
	Service       string // optional service label, "" if absent
	AppHint       string // optional application-layer hint, "" if absent
}

// PrimaryAddress resolves the address enrichment should key off: destination
// preferred, source as fallback, per spec.
func (r RawRecord) PrimaryAddress() string {
	if r.DstIP != "" {
		return r.DstIP
	}
	return r.SrcIP
}

// Geo is nullable geo-location context. All fields are optional; a zero
// value Geo is not distinguishable from "no geo data" except via the
// pointer that wraps it in EnrichedRecord.
type Geo struct {
	Country string
	City    string
	Lat     float64
	Lon     float64
}

// ASN is nullable autonomous-system context.
type ASN struct {
	Number int
	Org    string
}

// ThreatIntel holds the ordered sequence of indicator strings that matched a
// record. The slice is never nil in an EnrichedRecord — possibly-empty, per
// invariant.
type ThreatIntel struct {
	Matches []string
}

// EnrichedRecord is a RawRecord plus enrichment context, a clamped risk
// score and a stable id.
type EnrichedRecord struct {
	ID    string
	Raw   RawRecord
	Geo   *Geo
	ASN   *ASN
	TI    ThreatIntel
	Risk  int
}
