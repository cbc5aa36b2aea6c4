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
	"net"
	"sync/atomic"
	"time"

	"flowgate/internal/logging"
)

// Stats are the counters exposed for C6 observability.
type Stats struct {
	PacketsTotal      int64
	BytesTotal        int64
	DecodeErrorsTotal int64
	DroppedTotal      int64
	LastPacketUnixMS  int64
}

// Collector binds a UDP socket and feeds decoded records into a bounded
// Queue for the ingest mapper to consume. Grounded on the single-goroutine
// accept-and-dispatch loop shape of cmd/ratelimiter-api/main.go, adapted
// from TCP accept to UDP datagram read.
type Collector struct {
	addr    string
	decoder *Decoder
	queue   *Queue
	log     *logging.Logger

	conn *net.UDPConn

	packets      atomic.Int64
	bytesTotal   atomic.Int64
	decodeErrors atomic.Int64
	lastPacketMS atomic.Int64
}

// New returns a Collector bound to addr (host:port, default ":2055") once
// Run is called.
func New(addr string, decoder *Decoder, queue *Queue) *Collector {
	return &Collector{addr: addr, decoder: decoder, queue: queue, log: logging.New("udpcollector")}
}

// Run binds the UDP socket and reads datagrams until ctx is canceled.
// Cancellation is immediate: in-flight decode errors are counted but never
// block shutdown, per spec.
func (c *Collector) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", c.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	c.conn = conn
	c.log.Infof("udp collector listening on %s", c.addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				c.log.Warnf("udp read error: %v", err)
				continue
			}
		}
		c.handleDatagram(raddr.IP.String(), buf[:n])
	}
}

func (c *Collector) handleDatagram(exporter string, payload []byte) {
	c.packets.Add(1)
	c.bytesTotal.Add(int64(len(payload)))
	c.lastPacketMS.Store(time.Now().UnixMilli())

	records, err := c.decoder.Decode(exporter, payload)
	if err != nil {
		c.decodeErrors.Add(1)
		return
	}
	for _, rec := range records {
		if rec.SrcIP == "" && rec.DstIP == "" {
			continue // template-only flowset or unrecognized field set
		}
		c.queue.Push(rec)
	}
}

// Stats returns a point-in-time snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	return Stats{
		PacketsTotal:      c.packets.Load(),
		BytesTotal:        c.bytesTotal.Load(),
		DecodeErrorsTotal: c.decodeErrors.Load(),
		DroppedTotal:      c.queue.Dropped(),
		LastPacketUnixMS:  c.lastPacketMS.Load(),
	}
}

// Healthy reports "running" health: the socket is bound (Run has started)
// and the consumer is making progress — either no packets have ever been
// observed (still warming up) or the last packet arrived within
// freshnessWindow.
func (c *Collector) Healthy(freshnessWindow time.Duration) bool {
	if c.conn == nil {
		return false
	}
	last := c.lastPacketMS.Load()
	if last == 0 {
		return true
	}
	age := time.Since(time.UnixMilli(last))
	return age <= freshnessWindow
}
