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

// SourceType is a source's declared or observed transport origin.
type SourceType string

const (
	SourceHTTP    SourceType = "http"
	SourceUDP     SourceType = "udp"
	SourceUnknown SourceType = "unknown"
)

// SourceStatus is whether a source is currently admitted at all.
type SourceStatus string

const (
	SourceEnabled  SourceStatus = "enabled"
	SourceDisabled SourceStatus = "disabled"
)

// Source is the admission and identity record for an ingest origin.
type Source struct {
	ID              string
	TenantID        string
	DisplayName     string
	DeclaredType    SourceType
	ObservedType    SourceType
	CollectorLabel  string
	Status          SourceStatus
	AllowedIPs      []string // CIDR strings; empty slice ⇒ deny all
	MaxEPS          int64    // 0 ⇒ unlimited
	BlockOnExceed   bool
	LastSeen        time.Time
}
