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

// admin_handlers.go implements the read-only query surface (metrics,
// system, audit) and the admin-scoped mutation endpoints (sources,
// indicators, output configuration) — every Server method RegisterRoutes
// wires up beyond ingest and lookup.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowgate/internal/apierr"
	"flowgate/internal/audit"
	"flowgate/internal/export"
	"flowgate/internal/logging"
	"flowgate/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.metrics == nil {
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// systemInfo is the GET /v1/system response body: versions, feature flags,
// and the live status of the geo/ASN and UDP subsystems.
type systemInfo struct {
	Version      string            `json:"version"`
	UptimeSec    float64           `json:"uptime_sec"`
	WarmingUp    bool              `json:"warming_up"`
	Config       map[string]string `json:"config"`
	GeoLoaded    bool              `json:"geo_loaded"`
	UDPRunning   bool              `json:"udp_running"`
	ActiveSrcs   int               `json:"active_sources"`
	Backpressure bool              `json:"backpressure"`
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	info := systemInfo{
		Version:   Version,
		UptimeSec: time.Since(s.startedAt).Seconds(),
		Config:    s.cfg.Snapshot(),
	}
	if s.warmingUp != nil {
		info.WarmingUp = s.warmingUp.Load()
	}
	if s.geo != nil {
		info.GeoLoaded = true
	}
	if s.udpHealthy != nil {
		info.UDPRunning = s.udpHealthy()
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		info.ActiveSrcs = snap.ActiveSourceCount
		info.Backpressure = snap.Backpressure
	}
	s.writeJSON(w, http.StatusOK, info)
}

// --- Sources (C4) -----------------------------------------------------

// sourceDTO is the wire shape for source CRUD bodies; it is intentionally
// looser than types.Source (optional ID, plain strings) since callers
// creating a source don't yet have an id or a last_seen.
type sourceDTO struct {
	ID             string   `json:"id"`
	TenantID       string   `json:"tenant_id"`
	DisplayName    string   `json:"display_name"`
	DeclaredType   string   `json:"declared_type"`
	CollectorLabel string   `json:"collector_label"`
	Status         string   `json:"status"`
	AllowedIPs     []string `json:"allowed_ips"`
	MaxEPS         int64    `json:"max_eps"`
	BlockOnExceed  bool     `json:"block_on_exceed"`
}

func (d sourceDTO) toSource() types.Source {
	status := types.SourceEnabled
	if d.Status == string(types.SourceDisabled) {
		status = types.SourceDisabled
	}
	return types.Source{
		ID:             d.ID,
		TenantID:       d.TenantID,
		DisplayName:    d.DisplayName,
		DeclaredType:   types.SourceType(d.DeclaredType),
		ObservedType:   types.SourceUnknown,
		CollectorLabel: d.CollectorLabel,
		Status:         status,
		AllowedIPs:     d.AllowedIPs,
		MaxEPS:         d.MaxEPS,
		BlockOnExceed:  d.BlockOnExceed,
	}
}

// sourcesPath strips the /v1/sources/ prefix and returns the remaining
// path segments, e.g. "src-1/admission/test" -> ["src-1", "admission", "test"].
func sourcesPath(r *http.Request) []string {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/sources/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (s *Server) handleSourcesCollection(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.registry == nil {
		s.writeErr(w, rc, apierr.New(apierr.FatalInternal, "source registry unavailable"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"sources": s.registry.List()})
	case http.MethodPost:
		body, err := readBoundedBody(r)
		if err != nil {
			s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
			return
		}
		var dto sourceDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed source: "+err.Error()))
			return
		}
		if dto.ID == "" {
			dto.ID = uuid.NewString()
		}
		src := dto.toSource()
		src.LastSeen = time.Now()
		s.registry.Put(src)
		if s.metrics != nil {
			s.metrics.SetActiveSources(len(s.registry.List()))
		}
		s.writeJSON(w, http.StatusOK, src)
	default:
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
	}
}

func (s *Server) handleSourcesItem(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.registry == nil {
		s.writeErr(w, rc, apierr.New(apierr.FatalInternal, "source registry unavailable"))
		return
	}
	segs := sourcesPath(r)
	if len(segs) == 0 {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "missing source id"))
		return
	}
	id := segs[0]

	if len(segs) == 3 && segs[1] == "admission" && segs[2] == "test" {
		s.handleAdmissionTest(w, r, rc, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		src, ok := s.registry.Get(id)
		if !ok {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "unknown source"))
			return
		}
		s.writeJSON(w, http.StatusOK, src)
	case http.MethodPut:
		body, err := readBoundedBody(r)
		if err != nil {
			s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
			return
		}
		var dto sourceDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed source: "+err.Error()))
			return
		}
		dto.ID = id
		existing, _ := s.registry.Get(id)
		src := dto.toSource()
		src.LastSeen = existing.LastSeen
		s.registry.Put(src)
		s.writeJSON(w, http.StatusOK, src)
	case http.MethodDelete:
		s.registry.Remove(id)
		if s.metrics != nil {
			s.metrics.SetActiveSources(len(s.registry.List()))
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
	default:
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
	}
}

// admissionTestRequest is POST /v1/sources/{id}/admission/test's body
// (a side-effect-free admission_test interface).
type admissionTestRequest struct {
	ClientIP string `json:"client_ip"`
}

func (s *Server) handleAdmissionTest(w http.ResponseWriter, r *http.Request, rc *reqCtx, sourceID string) {
	if r.Method != http.MethodPost {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
		return
	}
	body, err := readBoundedBody(r)
	if err != nil {
		s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
		return
	}
	var req admissionTestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed request: "+err.Error()))
		return
	}
	decision := s.registry.Test(sourceID, req.ClientIP)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed": decision.Allowed,
		"reason":  string(decision.Reason),
	})
}

// --- Threat-intel indicators (C2) -------------------------------------

type indicatorDTO struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func indicatorsPathID(r *http.Request) string {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/indicators/")
	return strings.Trim(trimmed, "/")
}

func (s *Server) handleIndicatorsCollection(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.ti == nil {
		s.writeErr(w, rc, apierr.New(apierr.FatalInternal, "threat-intel matcher unavailable"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"indicators": s.ti.List()})
	case http.MethodPut:
		body, err := readBoundedBody(r)
		if err != nil {
			s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
			return
		}
		var dto indicatorDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed indicator: "+err.Error()))
			return
		}
		ind := s.ti.Put(types.Indicator{ID: dto.ID, Kind: types.IndicatorKind(dto.Kind), Value: dto.Value})
		s.writeJSON(w, http.StatusOK, ind)
	default:
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
	}
}

func (s *Server) handleIndicatorsItem(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.ti == nil {
		s.writeErr(w, rc, apierr.New(apierr.FatalInternal, "threat-intel matcher unavailable"))
		return
	}
	id := indicatorsPathID(r)
	if id == "" {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "missing indicator id"))
		return
	}
	switch r.Method {
	case http.MethodPut:
		body, err := readBoundedBody(r)
		if err != nil {
			s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
			return
		}
		var dto indicatorDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed indicator: "+err.Error()))
			return
		}
		dto.ID = id
		ind := s.ti.Put(types.Indicator{ID: dto.ID, Kind: types.IndicatorKind(dto.Kind), Value: dto.Value})
		s.writeJSON(w, http.StatusOK, ind)
	case http.MethodDelete:
		ok := s.ti.Remove(id)
		if !ok {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "unknown indicator"))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
	default:
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
	}
}

// --- Output (sink) configuration (C9) ----------------------------------

type outputConfigRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"` // Splunk HEC token
	Index string `json:"index"` // Elasticsearch index
}

func outputsPathTarget(r *http.Request) string {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/outputs/")
	return strings.Trim(trimmed, "/")
}

func (s *Server) handleOutputsConfig(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if r.Method != http.MethodPost {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
		return
	}
	target := outputsPathTarget(r)
	body, err := readBoundedBody(r)
	if err != nil {
		s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
		return
	}
	var req outputConfigRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed config: "+err.Error()))
		return
	}
	if req.URL == "" {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "missing url"))
		return
	}

	switch target {
	case "splunk":
		if s.splunkSink == nil {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "splunk output not enabled"))
			return
		}
		sw, ok := s.splunkSink.(*export.Switchable)
		if !ok {
			s.writeErr(w, rc, apierr.New(apierr.FatalInternal, "splunk output not reconfigurable"))
			return
		}
		sw.Set(export.NewSplunkSink(req.URL, req.Token, nil))
	case "elastic":
		if s.elasticSink == nil {
			s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "elastic output not enabled"))
			return
		}
		sw, ok := s.elasticSink.(*export.Switchable)
		if !ok {
			s.writeErr(w, rc, apierr.New(apierr.FatalInternal, "elastic output not reconfigurable"))
			return
		}
		sw.Set(export.NewElasticSink(req.URL, req.Index, nil))
	default:
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "unknown output target "+target))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"target": target, "status": "configured"})
}

type outputsTestRequest struct {
	Target string `json:"target"`
}

type outputsTestResponse struct {
	Target    string  `json:"target"`
	OK        bool    `json:"ok"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func (s *Server) handleOutputsTest(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if r.Method != http.MethodPost {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
		return
	}
	body, err := readBoundedBody(r)
	if err != nil {
		s.writeErr(w, rc, apierr.New(apierr.PayloadTooLarge, err.Error()))
		return
	}
	var req outputsTestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "malformed request: "+err.Error()))
		return
	}

	var sink export.Sink
	switch req.Target {
	case "splunk":
		sink = s.splunkSink
	case "elastic":
		sink = s.elasticSink
	default:
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "unknown output target "+req.Target))
		return
	}
	if sink == nil {
		s.writeJSON(w, http.StatusOK, outputsTestResponse{Target: req.Target, OK: false, Error: "not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	probe := types.EnrichedRecord{ID: uuid.NewString(), Raw: types.RawRecord{TS: float64(time.Now().Unix())}, TI: types.ThreatIntel{Matches: []string{}}}
	start := time.Now()
	sendErr := sink.Send(ctx, "probe-"+uuid.NewString(), []types.EnrichedRecord{probe})
	latency := time.Since(start).Seconds() * 1000

	resp := outputsTestResponse{Target: req.Target, LatencyMS: latency}
	if sendErr != nil {
		resp.Error = sendErr.Error()
		if s.metrics != nil {
			s.metrics.IncOutputsTestFail()
		}
	} else {
		resp.OK = true
		if s.metrics != nil {
			s.metrics.IncOutputsTestSuccess()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Request audit (C10) ------------------------------------------------

func (s *Server) auditFilterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		Method:            q.Get("method"),
		PathSubstring:     q.Get("path"),
		ClientAddr:        q.Get("client_addr"),
		TenantID:          q.Get("tenant_id"),
		ExcludeMonitoring: q.Get("exclude_monitoring") == "true",
	}
	if sc := q.Get("status_class"); sc != "" {
		if n, err := strconv.Atoi(sc); err == nil {
			f.StatusClass = n
		}
	}
	if lim := q.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil {
			f.Limit = n
		}
	}
	if off := q.Get("offset"); off != "" {
		if n, err := strconv.Atoi(off); err == nil {
			f.Offset = n
		}
	}
	if win := q.Get("window"); win != "" {
		if d, err := time.ParseDuration(win); err == nil {
			f.Since = time.Now().Add(-d)
		}
	}
	return f
}

func (s *Server) handleRequestsList(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.audit == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": []types.AuditEntry{}, "total": 0})
		return
	}
	f := s.auditFilterFromQuery(r)
	lastModified, total := s.audit.Snapshot(f)
	etag := audit.ETag(lastModified, total)
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	entries, total := s.audit.List(f)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": total})
}

func requestsPathID(r *http.Request) string {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/admin/requests/")
	return strings.Trim(trimmed, "/")
}

func (s *Server) handleRequestsItem(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.audit == nil {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "unknown request id"))
		return
	}
	id := requestsPathID(r)
	entry, ok := s.audit.Get(id)
	if !ok {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "unknown request id"))
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRequestsStream(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if s.audit == nil {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "audit ring unavailable"))
		return
	}
	sse := newSSEWriter(w)

	var lastSeq uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastSeq = n
		}
	}
	ch, cancel := s.audit.Subscribe()
	defer cancel()

	seq := s.audit.LastSeq()
	if lastSeq > 0 && lastSeq < seq {
		for _, e := range s.audit.Tail(lastSeq) {
			body, _ := json.Marshal(e)
			sse.send(e.ID, "request", string(body))
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			body, _ := json.Marshal(e)
			sse.send(e.ID, "request", string(body))
		}
	}
}

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	sse := newSSEWriter(w)
	ch, cancel := logging.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			sse.send("", "log", line)
		}
	}
}

// --- Admin security --------------------------------------------------

type syncAllowlistResponse struct {
	SourcesCount int `json:"sources_count"`
	CIDRCount    int `json:"cidr_count"`
	UniqueCIDR   int `json:"unique_cidr_count"`
}

// handleSyncAllowlist computes the union of every enabled source's
// allowlist and reports counts. Pushing this union to the host firewall is
// an external collaborator's concern beyond the interfaces the core
// exposes — this endpoint is the core's side of that contract: a stable,
// queryable union an external sync agent can poll and apply.
func (s *Server) handleSyncAllowlist(w http.ResponseWriter, r *http.Request, rc *reqCtx) {
	if r.Method != http.MethodPost {
		s.writeErr(w, rc, apierr.New(apierr.ClientMalformed, "method not allowed"))
		return
	}
	if s.registry == nil {
		s.writeJSON(w, http.StatusOK, syncAllowlistResponse{})
		return
	}
	sources := s.registry.List()
	seen := make(map[string]struct{})
	total := 0
	for _, src := range sources {
		if src.Status != types.SourceEnabled {
			continue
		}
		for _, cidr := range src.AllowedIPs {
			total++
			seen[cidr] = struct{}{}
		}
	}
	s.log.Infof("allowlist sync: %d sources, %d cidrs (%d unique)", len(sources), total, len(seen))
	s.writeJSON(w, http.StatusOK, syncAllowlistResponse{
		SourcesCount: len(sources),
		CIDRCount:    total,
		UniqueCIDR:   len(seen),
	})
}
