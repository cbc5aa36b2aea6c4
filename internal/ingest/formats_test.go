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
	"testing"

	"flowgate/internal/types"
)

func TestDecodeFlowsV1(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"ts":1723351200.4,"src_ip":"45.149.3.10","dst_ip":"8.8.8.8","src_port":51514,"dst_port":445,"protocol":"tcp","bytes":2000000,"packets":10}`),
	}
	recs, errs := DecodeFlowsV1(raw)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(recs) != 1 || recs[0].Protocol != types.ProtoTCP || recs[0].DstPort != 445 {
		t.Fatalf("unexpected record: %+v", recs)
	}
}

func TestDecodeFlowsV1_MalformedRecordReported(t *testing.T) {
	raw := []json.RawMessage{json.RawMessage(`{"bytes":"not-a-number"}`)}
	recs, errs := DecodeFlowsV1(raw)
	if len(recs) != 0 || len(errs) != 1 {
		t.Fatalf("expected single decode error, got recs=%v errs=%v", recs, errs)
	}
}

func TestDecodeZeekConnV1_CombinesOrigRespCounts(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"ts":1.0,"id.orig_h":"10.0.0.1","id.orig_p":1234,"id.resp_h":"10.0.0.2","id.resp_p":80,"proto":"tcp","orig_bytes":100,"resp_bytes":200,"orig_pkts":2,"resp_pkts":3}`),
	}
	recs, errs := DecodeZeekConnV1(raw)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record")
	}
	r := recs[0]
	if r.SrcIP != "10.0.0.1" || r.DstIP != "10.0.0.2" || r.Bytes != 300 || r.Packets != 5 {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func TestDecodeByFormat_UnknownFormatErrors(t *testing.T) {
	_, _, err := DecodeByFormat("bogus.v9", nil)
	if err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
