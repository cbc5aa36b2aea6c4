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
	"encoding/json"
	"fmt"

	"flowgate/internal/types"
)

// flowRecordV1 is the wire shape for format "flows.v1".
type flowRecordV1 struct {
	TS       float64 `json:"ts"`
	SrcIP    string  `json:"src_ip"`
	SrcPort  int     `json:"src_port"`
	DstIP    string  `json:"dst_ip"`
	DstPort  int     `json:"dst_port"`
	Protocol string  `json:"protocol"`
	Bytes    int64   `json:"bytes"`
	Packets  int64   `json:"packets"`
	Service  string  `json:"service"`
}

// zeekConnRecordV1 is the wire shape for format "zeek.conn.v1", modeled on
// Zeek's conn.log field names.
type zeekConnRecordV1 struct {
	TS          float64 `json:"ts"`
	IDOrigH     string  `json:"id.orig_h"`
	IDOrigP     int     `json:"id.orig_p"`
	IDRespH     string  `json:"id.resp_h"`
	IDRespP     int     `json:"id.resp_p"`
	Proto       string  `json:"proto"`
	OrigBytes   int64   `json:"orig_bytes"`
	RespBytes   int64   `json:"resp_bytes"`
	OrigPkts    int64   `json:"orig_pkts"`
	RespPkts    int64   `json:"resp_pkts"`
	Service     string  `json:"service"`
}

// DecodeFlowsV1 unmarshals a "flows.v1" records array into RawRecords.
func DecodeFlowsV1(raw []json.RawMessage) ([]types.RawRecord, []RecordError) {
	out := make([]types.RawRecord, 0, len(raw))
	var errs []RecordError
	for i, r := range raw {
		var f flowRecordV1
		if err := json.Unmarshal(r, &f); err != nil {
			errs = append(errs, RecordError{Index: i, Reason: fmt.Sprintf("malformed flows.v1 record: %v", err)})
			continue
		}
		out = append(out, types.RawRecord{
			TS:       f.TS,
			SrcIP:    f.SrcIP,
			SrcPort:  f.SrcPort,
			DstIP:    f.DstIP,
			DstPort:  f.DstPort,
			Protocol: types.ParseProtocol(f.Protocol),
			Bytes:    f.Bytes,
			Packets:  f.Packets,
			Service:  f.Service,
		})
	}
	return out, errs
}

// DecodeZeekConnV1 unmarshals a "zeek.conn.v1" records array into
// RawRecords, combining Zeek's originator/responder byte and packet
// counts into the canonical bytes/packets totals.
func DecodeZeekConnV1(raw []json.RawMessage) ([]types.RawRecord, []RecordError) {
	out := make([]types.RawRecord, 0, len(raw))
	var errs []RecordError
	for i, r := range raw {
		var z zeekConnRecordV1
		if err := json.Unmarshal(r, &z); err != nil {
			errs = append(errs, RecordError{Index: i, Reason: fmt.Sprintf("malformed zeek.conn.v1 record: %v", err)})
			continue
		}
		out = append(out, types.RawRecord{
			TS:       z.TS,
			SrcIP:    z.IDOrigH,
			SrcPort:  z.IDOrigP,
			DstIP:    z.IDRespH,
			DstPort:  z.IDRespP,
			Protocol: types.ParseProtocol(z.Proto),
			Bytes:    z.OrigBytes + z.RespBytes,
			Packets:  z.OrigPkts + z.RespPkts,
			Service:  z.Service,
		})
	}
	return out, errs
}

// DecodeByFormat dispatches to the decoder for format, or reports an
// unknown-format error for the whole batch (caller maps this to HTTP 400).
func DecodeByFormat(format string, raw []json.RawMessage) ([]types.RawRecord, []RecordError, error) {
	switch format {
	case "flows.v1":
		recs, errs := DecodeFlowsV1(raw)
		return recs, errs, nil
	case "zeek.conn.v1":
		recs, errs := DecodeZeekConnV1(raw)
		return recs, errs, nil
	case "netflow.v1":
		// JSON-encoded NetFlow/IPFIX records posted to /v1/ingest/netflow share
		// flows.v1's field shape (ts/src/dst/proto/bytes/packets); the binary
		// wire decoder for UDP-collected NetFlow datagrams lives separately in
		// udpcollector/netflow.go, since that's a different transport entirely.
		recs, errs := DecodeFlowsV1(raw)
		return recs, errs, nil
	default:
		return nil, nil, fmt.Errorf("unknown format %q", format)
	}
}
