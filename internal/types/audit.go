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

package types

import "time"

// AuditResult classifies how a request completed.
type AuditResult string

const (
	ResultOK          AuditResult = "ok"
	ResultClientError AuditResult = "client_error"
	ResultServerError AuditResult = "server_error"
	ResultBlocked     AuditResult = "blocked"
	ResultRateLimited AuditResult = "rate_limited"
)

// TimelineEvent is one stage marker within a request's lifecycle.
type TimelineEvent struct {
	Stage string // received, validated, enriched, exported, completed, posthook
	At    time.Time
	Meta  map[string]string
}

// AuditEntry is an immutable record of one completed HTTP request.
type AuditEntry struct {
	ID             string
	TraceID        string
	Timestamp      time.Time
	Method         string
	Path           string
	StatusCode     int
	DurationMS     float64
	ClientAddr     string
	TenantID       string
	KeyFingerprint string // first/last 3 chars of the API key
	BytesIn        int64
	BytesOut       int64
	Result         AuditResult
	Timeline       []TimelineEvent
	Error          string
	Fitness        float64
}
