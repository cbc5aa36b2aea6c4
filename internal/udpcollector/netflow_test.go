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
	"encoding/binary"
	"testing"

	"flowgate/internal/types"
)

func buildV5Packet(t *testing.T, src, dst [4]byte, srcPort, dstPort uint16, proto byte, bytesCount, packets uint32) []byte {
	t.Helper()
	header := make([]byte, 24)
	binary.BigEndian.PutUint16(header[0:2], 5) // version
	binary.BigEndian.PutUint16(header[2:4], 1) // count

	rec := make([]byte, 48)
	copy(rec[0:4], src[:])
	copy(rec[4:8], dst[:])
	binary.BigEndian.PutUint32(rec[16:20], packets)
	binary.BigEndian.PutUint32(rec[20:24], bytesCount)
	binary.BigEndian.PutUint16(rec[32:34], srcPort)
	binary.BigEndian.PutUint16(rec[34:36], dstPort)
	rec[38] = proto

	return append(header, rec...)
}

func TestDecodeV5_SingleRecord(t *testing.T) {
	d := NewDecoder()
	pkt := buildV5Packet(t, [4]byte{10, 0, 0, 1}, [4]byte{8, 8, 8, 8}, 51514, 445, 6, 2_000_000, 100)
	recs, err := d.Decode("exporter1", pkt)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Decode() returned %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.SrcIP != "10.0.0.1" || r.DstIP != "8.8.8.8" || r.SrcPort != 51514 || r.DstPort != 445 {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.Protocol != types.ProtoTCP || r.Bytes != 2_000_000 || r.Packets != 100 {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func TestDecodeV5_TruncatedPacketErrors(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode("exporter1", []byte{0, 5, 0, 1})
	if err == nil {
		t.Fatalf("expected error decoding truncated v5 packet")
	}
}

func buildV9TemplateAndData(t *testing.T) (tmplPkt, dataPkt []byte) {
	t.Helper()
	// Template flowset: set ID 0, template ID 256, 6 fields.
	fields := []fieldSpec{
		{fieldType: fieldIPv4SrcAddr, length: 4},
		{fieldType: fieldIPv4DstAddr, length: 4},
		{fieldType: fieldL4SrcPort, length: 2},
		{fieldType: fieldL4DstPort, length: 2},
		{fieldType: fieldProtocol, length: 1},
		{fieldType: fieldInBytes, length: 4},
	}
	tmplBody := make([]byte, 4+4*len(fields))
	binary.BigEndian.PutUint16(tmplBody[0:2], 256)
	binary.BigEndian.PutUint16(tmplBody[2:4], uint16(len(fields)))
	pos := 4
	for _, f := range fields {
		binary.BigEndian.PutUint16(tmplBody[pos:pos+2], f.fieldType)
		binary.BigEndian.PutUint16(tmplBody[pos+2:pos+4], f.length)
		pos += 4
	}

	tmplSet := make([]byte, 4+len(tmplBody))
	binary.BigEndian.PutUint16(tmplSet[0:2], 0) // template flowset ID
	binary.BigEndian.PutUint16(tmplSet[2:4], uint16(len(tmplSet)))
	copy(tmplSet[4:], tmplBody)

	header := make([]byte, 16)
	binary.BigEndian.PutUint16(header[0:2], 9)
	tmplPkt = append(header, tmplSet...)

	recordLen := 4 + 4 + 2 + 2 + 1 + 4
	dataBody := make([]byte, recordLen)
	copy(dataBody[0:4], []byte{192, 168, 1, 1})
	copy(dataBody[4:8], []byte{1, 1, 1, 1})
	binary.BigEndian.PutUint16(dataBody[8:10], 3389)
	binary.BigEndian.PutUint16(dataBody[10:12], 12345)
	dataBody[12] = 6
	binary.BigEndian.PutUint32(dataBody[13:17], 55555)

	dataSet := make([]byte, 4+len(dataBody))
	binary.BigEndian.PutUint16(dataSet[0:2], 256) // references template 256
	binary.BigEndian.PutUint16(dataSet[2:4], uint16(len(dataSet)))
	copy(dataSet[4:], dataBody)

	dataPkt = append(append([]byte{}, header...), dataSet...)
	return tmplPkt, dataPkt
}

func TestDecodeV9_TemplateThenData(t *testing.T) {
	d := NewDecoder()
	tmplPkt, dataPkt := buildV9TemplateAndData(t)

	recs, err := d.Decode("10.0.0.2", tmplPkt)
	if err != nil {
		t.Fatalf("template decode error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("template-only flowset should yield 0 records, got %d", len(recs))
	}

	recs, err = d.Decode("10.0.0.2", dataPkt)
	if err != nil {
		t.Fatalf("data decode error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 data record, got %d", len(recs))
	}
	r := recs[0]
	if r.SrcIP != "192.168.1.1" || r.DstIP != "1.1.1.1" || r.SrcPort != 3389 || r.DstPort != 12345 {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.Protocol != types.ProtoTCP || r.Bytes != 55555 {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func TestDecodeV9_DataWithoutTemplateYieldsNothing(t *testing.T) {
	d := NewDecoder()
	_, dataPkt := buildV9TemplateAndData(t)
	recs, err := d.Decode("unknown-exporter", dataPkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected 0 records without a prior template, got %d", len(recs))
	}
}

func TestDecode_UnrecognizedVersion(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode("x", []byte{0, 1, 0, 0})
	if err == nil {
		t.Fatalf("expected error for unrecognized version")
	}
}
