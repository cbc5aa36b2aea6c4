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

// Package udpcollector implements C6: the UDP flow collector and mapper.
// No example repo or ecosystem library in the retrieval pack decodes
// NetFlow/IPFIX, so the wire-format recognizer below is hand-rolled
// against the public NetFlow v5/v9 and IPFIX (RFC 7011) header layouts;
// recorded as a justified standard-library build in the grounding ledger.
package udpcollector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"flowgate/internal/types"
)

var errShortPacket = errors.New("udpcollector: packet shorter than declared header")

// IPFIX/NetFlow v9 field type numbers this decoder understands. Unknown
// field types are skipped by declared length rather than rejected, since
// templates legitimately carry vendor fields we don't need.
const (
	fieldInBytes      = 1
	fieldInPkts       = 2
	fieldProtocol     = 4
	fieldL4SrcPort    = 7
	fieldIPv4SrcAddr  = 8
	fieldInputSnmp    = 10
	fieldL4DstPort    = 11
	fieldIPv4DstAddr  = 12
	fieldIPv6SrcAddr  = 27
	fieldIPv6DstAddr  = 28
)

type fieldSpec struct {
	fieldType uint16
	length    uint16
}

type template struct {
	fields []fieldSpec
}

// templateCache stores v9/IPFIX templates keyed by exporter address and
// template ID; it is long-lived per collector instance and grows only as
// new exporters/templates are observed.
type templateCache struct {
	mu        sync.Mutex
	templates map[string]map[uint16]template
}

func newTemplateCache() *templateCache {
	return &templateCache{templates: make(map[string]map[uint16]template)}
}

func (c *templateCache) put(exporter string, id uint16, t template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.templates[exporter]
	if !ok {
		m = make(map[uint16]template)
		c.templates[exporter] = m
	}
	m[id] = t
}

func (c *templateCache) get(exporter string, id uint16) (template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.templates[exporter]
	if !ok {
		return template{}, false
	}
	t, ok := m[id]
	return t, ok
}

// Decoder recognizes NetFlow v5, v9, and IPFIX packets and emits one
// RawRecord per flow record. It is safe for concurrent use by a single
// reader goroutine per exporter stream (the template cache itself is
// mutex-guarded for the rare case of multiple exporters sharing a decoder).
type Decoder struct {
	templates *templateCache
}

// NewDecoder returns a ready-to-use decoder with an empty template cache.
func NewDecoder() *Decoder {
	return &Decoder{templates: newTemplateCache()}
}

// Decode parses a single UDP datagram from exporterAddr and returns zero
// or more canonical records. Template (control) flowsets in v9/IPFIX
// produce zero records but still update the decoder's state.
func (d *Decoder) Decode(exporterAddr string, payload []byte) ([]types.RawRecord, error) {
	if len(payload) < 2 {
		return nil, errShortPacket
	}
	version := binary.BigEndian.Uint16(payload[0:2])
	switch version {
	case 5:
		return d.decodeV5(payload)
	case 9:
		return d.decodeV9OrIPFIX(exporterAddr, payload, false)
	case 10:
		return d.decodeV9OrIPFIX(exporterAddr, payload, true)
	default:
		return nil, fmt.Errorf("udpcollector: unrecognized NetFlow/IPFIX version %d", version)
	}
}

// decodeV5 parses the fixed NetFlow v5 header (24 bytes) followed by
// fixed 48-byte flow records.
func (d *Decoder) decodeV5(payload []byte) ([]types.RawRecord, error) {
	const headerLen = 24
	const recordLen = 48
	if len(payload) < headerLen {
		return nil, errShortPacket
	}
	count := int(binary.BigEndian.Uint16(payload[2:4]))
	body := payload[headerLen:]
	if len(body) < count*recordLen {
		return nil, errShortPacket
	}
	out := make([]types.RawRecord, 0, count)
	for i := 0; i < count; i++ {
		rec := body[i*recordLen : (i+1)*recordLen]
		srcIP := net.IP(rec[0:4]).String()
		dstIP := net.IP(rec[4:8]).String()
		packets := binary.BigEndian.Uint32(rec[16:20])
		bytesCount := binary.BigEndian.Uint32(rec[20:24])
		srcPort := binary.BigEndian.Uint16(rec[32:34])
		dstPort := binary.BigEndian.Uint16(rec[34:36])
		proto := rec[38]
		out = append(out, types.RawRecord{
			SrcIP:    srcIP,
			DstIP:    dstIP,
			SrcPort:  int(srcPort),
			DstPort:  int(dstPort),
			Protocol: protocolFromIANA(proto),
			Bytes:    int64(bytesCount),
			Packets:  int64(packets),
		})
	}
	return out, nil
}

// decodeV9OrIPFIX walks the FlowSet sequence shared by NetFlow v9 and
// IPFIX: a common 16-byte preamble (version differs) then a list of
// flowsets, each a (set ID, length) pair followed by either template
// definitions (set ID 0 for v9 / 2 for IPFIX, 3 for IPFIX options) or
// data records referencing a previously-seen template.
func (d *Decoder) decodeV9OrIPFIX(exporter string, payload []byte, ipfix bool) ([]types.RawRecord, error) {
	const headerLen = 16
	if len(payload) < headerLen {
		return nil, errShortPacket
	}
	var out []types.RawRecord
	offset := headerLen
	templateSetID := uint16(0)
	if ipfix {
		templateSetID = 2
	}
	for offset+4 <= len(payload) {
		setID := binary.BigEndian.Uint16(payload[offset : offset+2])
		setLen := int(binary.BigEndian.Uint16(payload[offset+2 : offset+4]))
		if setLen < 4 || offset+setLen > len(payload) {
			return out, errShortPacket
		}
		body := payload[offset+4 : offset+setLen]
		switch {
		case setID == templateSetID:
			d.parseTemplates(exporter, body)
		case setID == 3 && ipfix:
			// options templates carry exporter-scoped metadata we don't
			// need for enrichment; skip without error.
		case setID >= 256:
			recs := d.parseDataSet(exporter, setID, body)
			out = append(out, recs...)
		}
		offset += setLen
	}
	return out, nil
}

func (d *Decoder) parseTemplates(exporter string, body []byte) {
	pos := 0
	for pos+4 <= len(body) {
		id := binary.BigEndian.Uint16(body[pos : pos+2])
		fieldCount := int(binary.BigEndian.Uint16(body[pos+2 : pos+4]))
		pos += 4
		fields := make([]fieldSpec, 0, fieldCount)
		for i := 0; i < fieldCount && pos+4 <= len(body); i++ {
			ftype := binary.BigEndian.Uint16(body[pos : pos+2])
			flen := binary.BigEndian.Uint16(body[pos+2 : pos+4])
			fields = append(fields, fieldSpec{fieldType: ftype, length: flen})
			pos += 4
		}
		d.templates.put(exporter, id, template{fields: fields})
	}
}

func (d *Decoder) parseDataSet(exporter string, templateID uint16, body []byte) []types.RawRecord {
	t, ok := d.templates.get(exporter, templateID)
	if !ok || len(t.fields) == 0 {
		return nil
	}
	recordLen := 0
	for _, f := range t.fields {
		recordLen += int(f.length)
	}
	if recordLen == 0 {
		return nil
	}
	var out []types.RawRecord
	pos := 0
	for pos+recordLen <= len(body) {
		rec := decodeRecordFields(body[pos:pos+recordLen], t.fields)
		out = append(out, rec)
		pos += recordLen
	}
	return out
}

func decodeRecordFields(raw []byte, fields []fieldSpec) types.RawRecord {
	var rec types.RawRecord
	pos := 0
	for _, f := range fields {
		end := pos + int(f.length)
		if end > len(raw) {
			break
		}
		val := raw[pos:end]
		switch f.fieldType {
		case fieldIPv4SrcAddr:
			if len(val) == 4 {
				rec.SrcIP = net.IP(val).String()
			}
		case fieldIPv4DstAddr:
			if len(val) == 4 {
				rec.DstIP = net.IP(val).String()
			}
		case fieldIPv6SrcAddr:
			if len(val) == 16 {
				rec.SrcIP = net.IP(val).String()
			}
		case fieldIPv6DstAddr:
			if len(val) == 16 {
				rec.DstIP = net.IP(val).String()
			}
		case fieldL4SrcPort:
			rec.SrcPort = int(beUint(val))
		case fieldL4DstPort:
			rec.DstPort = int(beUint(val))
		case fieldProtocol:
			rec.Protocol = protocolFromIANA(byte(beUint(val)))
		case fieldInBytes:
			rec.Bytes = int64(beUint(val))
		case fieldInPkts:
			rec.Packets = int64(beUint(val))
		}
		pos = end
	}
	return rec
}

// beUint reads a big-endian unsigned integer of 1-8 bytes, the only
// widths NetFlow v9/IPFIX field encodings use.
func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func protocolFromIANA(p byte) types.Protocol {
	switch p {
	case 6:
		return types.ProtoTCP
	case 17:
		return types.ProtoUDP
	case 1:
		return types.ProtoICMP
	default:
		return types.ProtoOther
	}
}
