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

package httpapi

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"flowgate/internal/apierr"
	"flowgate/internal/ingest"
	"flowgate/internal/types"
)

// ingestEnvelope is the wire shape for POST /v1/ingest.
type ingestEnvelope struct {
	CollectorID string            `json:"collector_id"`
	Format      string            `json:"format"`
	Records     []json.RawMessage `json:"records"`
}

type ingestResponse struct {
	Accepted int                    `json:"accepted"`
	Records  []types.EnrichedRecord `json:"records,omitempty"`
	Errors   []ingest.RecordError   `json:"errors,omitempty"`
}

func (s *Server) handleIngestMixed(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	s.processIngest(w, r, rc, "")
}

func (s *Server) handleIngestZeek(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	s.processIngest(w, r, rc, "zeek.conn.v1")
}

func (s *Server) handleIngestNetflow(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	s.processIngest(w, r, rc, "netflow.v1")
}

func (s *Server) handleIngestBulk(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	s.processIngest(w, r, rc, "")
}

// processIngest implements the shared admission -> idempotency -> pipeline
// ordering the gateway requires: admission (C4) runs before idempotency
// (C5), since an unadmitted request must never occupy an idempotency slot.
// forceFormat overrides the
// envelope's own format field for the shortcut endpoints (/ingest/zeek,
// /ingest/netflow).
func (s *Server) processIngest(w http.ResponseWriter, r *http.Request, rc *reqCtx, forceFormat string) {
	if r.Method != http.MethodPost {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
		return
	}

	body, err := readBoundedBody(r)
	if err != nil {
		s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
		return
	}

	var env ingestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed envelope: "+err.Error()))
		return
	}
	format := env.Format
	if forceFormat != "" {
		format = forceFormat
	}
	if len(env.Records) > ingest.MaxBatchRecords {
		s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, "batch exceeds max records"))
		return
	}

	sourceID := env.CollectorID
	if sourceID == "" {
		sourceID = "http"
	}

	if s.registry != nil {
		decision := s.registry.Admit(sourceID, rc.clientAddr, int64(len(env.Records)))
		if !decision.Allowed {
			s.writeErr(w, rc, apierr.New(apierr.Blocked, string(decision.Reason)))
			return
		}
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" || s.idem == nil {
		status, resp := s.runIngest(r.Context(), sourceID, format, env.Records, rc)
		s.writeJSON(w, status, resp)
		return
	}

	key := types.IdempotencyKey(rc.principal.TenantID, r.URL.Path, idemKey)
	rec, hit, err := s.idem.Do(r.Context(), key, func(ctx context.Context) (*types.IdempotencyRecord, error) {
		status, resp := s.runIngest(ctx, sourceID, format, env.Records, rc)
		payload, merr := json.Marshal(resp)
		if merr != nil {
			return nil, merr
		}
		return &types.IdempotencyRecord{StatusCode: status, Body: payload}, nil
	})
	if err != nil {
		s.writeErr(w, rc, apierr.New(apierr.FatalInternal, "ingest failed: "+err.Error()))
		return
	}

	// When replicas share REDIS_ADDR, the first committer across the whole
	// fleet wins: a miss in this process's local store may still collide
	// with a commit another replica already made for the same key.
	if !hit && s.redis != nil {
		if status, body, wasFirst, rerr := s.redis.CommitOrFetch(r.Context(), key, rec.StatusCode, rec.Body); rerr == nil && !wasFirst {
			rec = &types.IdempotencyRecord{StatusCode: status, Body: body}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

func (s *Server) runIngest(ctx context.Context, sourceID, format string, rawRecords []json.RawMessage, rc *reqCtx) (int, ingestResponse) {
	raw, decodeErrs, err := ingest.DecodeByFormat(format, rawRecords)
	if err != nil {
		rc.MarkValidationFailed()
		return http.StatusBadRequest, ingestResponse{Errors: []ingest.RecordError{{Index: -1, Reason: err.Error()}}}
	}
	rc.Emit("validated", nil)

	result := s.pipeline.Process(ctx, sourceID, raw)
	result.Errors = append(decodeErrs, result.Errors...)
	rc.Emit("enriched", nil)
	rc.Emit("posthook", nil)

	if len(result.Errors) > 0 {
		rc.MarkValidationFailed()
		return http.StatusMultiStatus, ingestResponse{Accepted: len(result.Accepted), Records: result.Accepted, Errors: result.Errors}
	}
	return http.StatusOK, ingestResponse{Accepted: len(result.Accepted), Records: result.Accepted}
}

// readBoundedBody reads r.Body, transparently gzip-decompressing if
// Content-Encoding: gzip is set, and enforces ingest.MaxPayloadBytes on the
// post-decompression size.
func readBoundedBody(r *http.Request) ([]byte, error) {
	reader := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	limited := io.LimitReader(reader, ingest.MaxPayloadBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > ingest.MaxPayloadBytes {
		return nil, errPayloadTooLarge
	}
	return body, nil
}

var errPayloadTooLarge = &payloadTooLargeErr{}

type payloadTooLargeErr struct{}

func (e *payloadTooLargeErr) Error() string { return "payload exceeds maximum size" }

// lookupRequest is the body for POST /v1/lookup: enrich a single address
// without running it through admission/idempotency/export.
type lookupRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if r.Method != http.MethodPost {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
		return
	}
	body, err := readBoundedBody(r)
	if err != nil {
		s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
		return
	}
	var req lookupRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Address == "" {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "missing address"))
		return
	}

	if net.ParseIP(req.Address) == nil {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "invalid address"))
		return
	}

	raw := types.RawRecord{TS: float64(time.Now().Unix()), DstIP: req.Address, Protocol: types.ProtoOther}
	s.writeJSON(w, http.StatusOK, s.pipeline.Enrich(raw))
}
