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
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flowgate/internal/admission"
	"flowgate/internal/apierr"
	"flowgate/internal/audit"
	"flowgate/internal/config"
	"flowgate/internal/export"
	"flowgate/internal/geoasn"
	"flowgate/internal/idempotency"
	"flowgate/internal/ingest"
	"flowgate/internal/logging"
	"flowgate/internal/metrics"
	"flowgate/internal/threatintel"
	"flowgate/internal/types"
)

// Version is reported by GET /v1/version. Not derived from build info since
// Version reporting is an external collaborator's concern;
// this is a fixed string the way a small gateway binary would carry one.
const Version = "1.0.0"

// Server wires every other component behind the public HTTP surface (C11):
// authentication, admission ordering, ingest dispatch, and the read-only
// query endpoints over C8/C10. Routing uses a plain net/http.ServeMux.
type Server struct {
	cfg config.Config
	log *logging.Logger

	geo      *geoasn.Lookup
	ti       *threatintel.Matcher
	registry *admission.Registry
	idem     *idempotency.Store
	redis    *idempotency.RedisBackend
	pipeline *ingest.Pipeline
	metrics  *metrics.Aggregator
	audit    *audit.Ring
	keys     *keyTable

	splunkSink    export.Sink
	elasticSink   export.Sink
	splunkWorker  *export.Worker
	elasticWorker *export.Worker

	warmingUp  *atomic.Bool
	startedAt  time.Time
	udpHealthy func() bool
}

// Collaborators groups Server's dependencies so NewServer's signature stays
// readable as the component count grows.
type Collaborators struct {
	Geo           *geoasn.Lookup
	TI            *threatintel.Matcher
	Registry      *admission.Registry
	Idem          *idempotency.Store
	Redis         *idempotency.RedisBackend
	Pipeline      *ingest.Pipeline
	Metrics       *metrics.Aggregator
	Audit         *audit.Ring
	SplunkSink    export.Sink
	ElasticSink   export.Sink
	SplunkWorker  *export.Worker
	ElasticWorker *export.Worker
	WarmingUp     *atomic.Bool
	UDPHealthy    func() bool
}

// NewServer assembles the HTTP surface from its collaborators.
func NewServer(cfg config.Config, c Collaborators) *Server {
	return &Server{
		cfg:           cfg,
		log:           logging.New("httpapi"),
		geo:           c.Geo,
		ti:            c.TI,
		registry:      c.Registry,
		idem:          c.Idem,
		redis:         c.Redis,
		pipeline:      c.Pipeline,
		metrics:       c.Metrics,
		audit:         c.Audit,
		keys:          NewKeyTable(cfg.AdminKeys, cfg.UserKeys, cfg.AllowDevKeys),
		splunkSink:    c.SplunkSink,
		elasticSink:   c.ElasticSink,
		splunkWorker:  c.SplunkWorker,
		elasticWorker: c.ElasticWorker,
		warmingUp:     c.WarmingUp,
		startedAt:     time.Now(),
		udpHealthy:    c.UDPHealthy,
	}
}

// RegisterRoutes maps the full route table onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/health", s.route("", true, false, s.handleHealth))
	mux.HandleFunc("/v1/version", s.route("", true, false, s.handleVersion))

	mux.HandleFunc("/v1/ingest", s.route(ScopeIngest, false, false, s.handleIngestMixed))
	mux.HandleFunc("/v1/ingest/zeek", s.route(ScopeIngest, false, false, s.handleIngestZeek))
	mux.HandleFunc("/v1/ingest/netflow", s.route(ScopeIngest, false, false, s.handleIngestNetflow))
	mux.HandleFunc("/v1/ingest/bulk", s.route(ScopeIngest, false, false, s.handleIngestBulk))
	mux.HandleFunc("/v1/lookup", s.route(ScopeReadMetrics, false, false, s.handleLookup))

	mux.HandleFunc("/v1/metrics", s.route(ScopeReadMetrics, false, false, s.handleMetrics))
	mux.HandleFunc("/v1/system", s.route(ScopeAdmin, false, false, s.handleSystem))

	mux.HandleFunc("/v1/sources", s.route(ScopeAdmin, false, false, s.handleSourcesCollection))
	mux.HandleFunc("/v1/sources/", s.route(ScopeAdmin, false, false, s.handleSourcesItem))

	mux.HandleFunc("/v1/indicators", s.route(ScopeManageIndicators, false, false, s.handleIndicatorsCollection))
	mux.HandleFunc("/v1/indicators/", s.route(ScopeManageIndicators, false, false, s.handleIndicatorsItem))

	mux.HandleFunc("/v1/outputs/test", s.route(ScopeExport, false, false, s.handleOutputsTest))
	mux.HandleFunc("/v1/outputs/", s.route(ScopeExport, false, false, s.handleOutputsConfig))

	mux.HandleFunc("/v1/admin/requests", s.route(ScopeReadRequests, false, false, s.handleRequestsList))
	mux.HandleFunc("/v1/admin/requests/stream", s.route(ScopeReadRequests, false, true, s.handleRequestsStream))
	mux.HandleFunc("/v1/admin/requests/", s.route(ScopeReadRequests, false, false, s.handleRequestsItem))
	mux.HandleFunc("/v1/admin/security/sync-allowlist", s.route(ScopeAdmin, false, false, s.handleSyncAllowlist))

	mux.HandleFunc("/v1/logs/stream", s.route(ScopeReadRequests, false, true, s.handleLogsStream))
}

type businessHandler func(w http.ResponseWriter, r *http.Request, rc *reqCtx)

// route wraps a business handler with authentication, warming_up gating,
// and audit-entry bookkeeping. public bypasses both auth and warming_up;
// allowQueryParamKey additionally accepts `?key=` (event-stream endpoints
// only).
func (s *Server) route(scope Scope, public bool, allowQueryParamKey bool, h businessHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientAddr := clientAddress(r)

		if !public && s.warmingUp != nil && s.warmingUp.Load() {
			s.writeErr(w, nil, apierr.New(apierr.WarmingUp, "migrations in progress"))
			return
		}

		var principal keyPrincipal
		if !public {
			key := extractKey(r, allowQueryParamKey)
			if key == "" {
				s.writeErr(w, nil, apierr.New(apierr.Unauthorized, "missing API key"))
				return
			}
			p, ok := s.keys.Resolve(key)
			if !ok {
				s.writeErr(w, nil, apierr.New(apierr.Unauthorized, "unknown API key"))
				return
			}
			if scope != "" && !p.has(scope) {
				s.writeErr(w, nil, apierr.New(apierr.Forbidden, "missing scope "+string(scope)))
				return
			}
			principal = p
			principal.fp = fingerprint(key)
		}

		rc := newReqCtx(uuid.NewString(), clientAddr, principal)
		rec := wrapRecorder(w)

		defer func() {
			rc.Emit("completed", nil)
			s.appendAudit(r, rec, rc)
		}()

		h(rec, r, rc)
	}
}

func (s *Server) appendAudit(r *http.Request, rec *statusRecorder, rc *reqCtx) {
	if s.audit == nil {
		return
	}
	fitness := audit.Fitness(rc.validationFailed, rc.exportFailures, rec.status)
	entry := types.AuditEntry{
		ID:             rc.traceID,
		TraceID:        rc.traceID,
		Timestamp:      rc.startedAt,
		Method:         r.Method,
		Path:           r.URL.Path,
		StatusCode:     rec.status,
		DurationMS:     float64(time.Since(rc.startedAt).Microseconds()) / 1000.0,
		ClientAddr:     rc.clientAddr,
		TenantID:       rc.principal.TenantID,
		KeyFingerprint: rc.principal.fp,
		BytesIn:        r.ContentLength,
		BytesOut:       rec.bytesOut,
		Result:         resultFor(rec.status),
		Timeline:       rc.timeline,
		Error:          rc.errMsg,
		Fitness:        fitness,
	}
	s.audit.Append(redactEntry(entry, s.cfg.RedactFields))
	if s.metrics != nil {
		s.metrics.IncRequests()
		if rec.status >= 400 {
			s.metrics.IncRequestsFailed()
		}
	}
}

// redactEntry replaces configured field values in timeline meta with a
// fixed placeholder before the entry ever reaches the ring, applied once
// at write time rather than via reflection at read time.
func redactEntry(e types.AuditEntry, redactFields []string) types.AuditEntry {
	if len(redactFields) == 0 {
		return e
	}
	redact := make(map[string]bool, len(redactFields))
	for _, f := range redactFields {
		redact[strings.ToLower(f)] = true
	}
	for i, ev := range e.Timeline {
		if ev.Meta == nil {
			continue
		}
		for k := range ev.Meta {
			if redact[strings.ToLower(k)] {
				ev.Meta[k] = "[redacted]"
			}
		}
		e.Timeline[i] = ev
	}
	return e
}

func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeErr(w http.ResponseWriter, rc *reqCtx, e *apierr.Error) {
	if rc != nil {
		rc.SetError(e.Reason)
	}
	s.writeJSON(w, e.Kind.Status(), map[string]string{"error": string(e.Kind), "reason": e.Reason})
}

// ListenAndServe starts the HTTP server on addr with the same timeout
// profile throughout the rest of this package's handlers.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Infof("flowgate HTTP surface listening on %s", addr)
	return httpServer.ListenAndServe()
}
