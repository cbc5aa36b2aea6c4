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

// Package export implements C9: batched, asynchronous delivery of enriched
// record batches to downstream sinks (Splunk HEC, Elasticsearch bulk), with
// retry/backoff and a dead-letter queue for batches that exhaust retries.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"flowgate/internal/types"
)

// Sink delivers one already-serialized batch to a downstream system. A
// Sink's Send must be idempotent-tolerant: the export batch id travels with
// the payload so sink-side duplicate detection (at-least-once delivery,
// at-least-once delivery) is possible, but Sink itself does not dedupe.
type Sink interface {
	Name() string
	Send(ctx context.Context, batchID string, records []types.EnrichedRecord) error
}

// httpError captures a non-2xx HTTP response for DLQ diagnostics.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("export: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("export: send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := make([]byte, 512)
		n, _ := resp.Body.Read(buf)
		return &httpError{status: resp.StatusCode, body: string(buf[:n])}
	}
	return nil
}

// SplunkSink posts one HEC event per record to a Splunk HTTP Event
// Collector endpoint, matching the documented HEC wire shape
// (`{"event": ..., "time": ...}` per line).
type SplunkSink struct {
	url    string
	token  string
	client *http.Client
}

// NewSplunkSink returns a Sink that posts to a Splunk HEC endpoint. token is
// sent as `Authorization: Splunk <token>`.
func NewSplunkSink(url, token string, client *http.Client) *SplunkSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SplunkSink{url: url, token: token, client: client}
}

func (s *SplunkSink) Name() string { return "splunk" }

func (s *SplunkSink) Send(ctx context.Context, batchID string, records []types.EnrichedRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		event := map[string]interface{}{
			"time":  r.Raw.TS,
			"event": r,
			"fields": map[string]string{
				"batch_id": batchID,
			},
		}
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("export/splunk: encode record: %w", err)
		}
	}
	headers := map[string]string{}
	if s.token != "" {
		headers["Authorization"] = "Splunk " + s.token
	}
	return postJSON(ctx, s.client, s.url, headers, buf.Bytes())
}

// ElasticSink posts a batch using Elasticsearch's `_bulk` NDJSON protocol:
// an action line followed by a document line, per record.
type ElasticSink struct {
	url    string
	index  string
	client *http.Client
}

// NewElasticSink returns a Sink that posts to an Elasticsearch `_bulk`
// endpoint, indexing every record into index.
func NewElasticSink(url, index string, client *http.Client) *ElasticSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if index == "" {
		index = "flowgate"
	}
	return &ElasticSink{url: url, index: index, client: client}
}

func (s *ElasticSink) Name() string { return "elastic" }

// Switchable wraps another Sink behind an atomic pointer so POST
// /v1/outputs/{splunk|elastic} can swap delivery configuration
// (URL, token, index) at runtime without the already-running Worker ever
// needing to stop: Worker holds a Switchable, not the concrete sink, and
// every Send call dereferences whatever was last published via Set.
type Switchable struct {
	name string
	cur  atomic.Pointer[Sink]
}

// NewSwitchable returns a Switchable named name, initially delegating to
// initial (which may be a no-op sink if no destination is configured yet).
func NewSwitchable(name string, initial Sink) *Switchable {
	sw := &Switchable{name: name}
	sw.cur.Store(&initial)
	return sw
}

// Set republishes the concrete sink every subsequent Send delegates to.
func (sw *Switchable) Set(s Sink) {
	sw.cur.Store(&s)
}

func (sw *Switchable) Name() string { return sw.name }

func (sw *Switchable) Send(ctx context.Context, batchID string, records []types.EnrichedRecord) error {
	return (*sw.cur.Load()).Send(ctx, batchID, records)
}

// NoopSink discards every batch, reporting success. Used as a Switchable's
// initial delegate before an operator has configured a real destination via
// POST /v1/outputs/{splunk|elastic}.
type NoopSink struct{ name string }

func NewNoopSink(name string) *NoopSink { return &NoopSink{name: name} }

func (n *NoopSink) Name() string { return n.name }

func (n *NoopSink) Send(ctx context.Context, batchID string, records []types.EnrichedRecord) error {
	return nil
}

func (s *ElasticSink) Send(ctx context.Context, batchID string, records []types.EnrichedRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		action := map[string]interface{}{"index": map[string]string{"_index": s.index, "_id": r.ID}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("export/elastic: encode action: %w", err)
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("export/elastic: encode record: %w", err)
		}
	}
	return postJSON(ctx, s.client, s.url+"/_bulk", map[string]string{"Content-Type": "application/x-ndjson"}, buf.Bytes())
}
