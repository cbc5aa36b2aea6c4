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
	"net/http"
	"time"

	"flowgate/internal/types"
)

// reqCtx carries the per-request state a handler needs to report back to
// the audit middleware: timeline events, the resolved tenant, and the
// penalty inputs for the fitness computation.
type reqCtx struct {
	traceID    string
	principal  keyPrincipal
	clientAddr string
	startedAt  time.Time

	timeline          []types.TimelineEvent
	validationFailed  bool
	exportFailures    int
	errMsg            string
}

func newReqCtx(traceID, clientAddr string, principal keyPrincipal) *reqCtx {
	rc := &reqCtx{traceID: traceID, clientAddr: clientAddr, principal: principal, startedAt: time.Now()}
	rc.Emit("received", nil)
	return rc
}

// Emit appends a timeline event at the current wall-clock time.
func (rc *reqCtx) Emit(stage string, meta map[string]string) {
	rc.timeline = append(rc.timeline, types.TimelineEvent{Stage: stage, At: time.Now(), Meta: meta})
}

func (rc *reqCtx) MarkValidationFailed() { rc.validationFailed = true }
func (rc *reqCtx) MarkExportFailure()    { rc.exportFailures++ }
func (rc *reqCtx) SetError(msg string)   { rc.errMsg = msg }

// statusRecorder captures the status code and byte count a handler writes,
// so the audit middleware can build an AuditEntry without every handler
// threading that bookkeeping through by hand.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	bytesOut  int64
	wroteHead bool
}

func wrapRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHead {
		return
	}
	r.wroteHead = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytesOut += int64(n)
	return n, err
}

func resultFor(status int) types.AuditResult {
	switch {
	case status == http.StatusTooManyRequests:
		return types.ResultRateLimited
	case status >= 500:
		return types.ResultServerError
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return types.ResultBlocked
	case status >= 400:
		return types.ResultClientError
	default:
		return types.ResultOK
	}
}
