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

// Package httpapi implements C11: the public HTTP surface — authentication,
// admission ordering, ingest dispatch, and the read-only query endpoints
// over C8/C10. Routing uses a plain net/http.ServeMux rather than a
// router framework.
package httpapi

import (
	"net/http"
	"strings"
)

// Scope is one of the named authentication scopes.
type Scope string

const (
	ScopeIngest           Scope = "ingest"
	ScopeManageIndicators Scope = "manage_indicators"
	ScopeExport           Scope = "export"
	ScopeReadRequests     Scope = "read_requests"
	ScopeReadMetrics      Scope = "read_metrics"
	ScopeAdmin            Scope = "admin"
)

// keyPrincipal is the resolved identity behind an API key.
type keyPrincipal struct {
	TenantID string
	Scopes   map[Scope]bool
	fp       string // first/last-3-chars fingerprint, for audit entries
}

func (p keyPrincipal) has(s Scope) bool { return p.Scopes[s] }

// allScopes grants every scope — used for admin keys.
func allScopes() map[Scope]bool {
	return map[Scope]bool{
		ScopeIngest: true, ScopeManageIndicators: true, ScopeExport: true,
		ScopeReadRequests: true, ScopeReadMetrics: true, ScopeAdmin: true,
	}
}

// userScopes is granted to USER_KEYS: everything except admin mutation and
// threat-intel/export configuration.
func userScopes() map[Scope]bool {
	return map[Scope]bool{ScopeIngest: true, ScopeReadRequests: true, ScopeReadMetrics: true}
}

// keyTable resolves API keys to principals. Built once at startup from
// config; admin and user keys are disjoint sets by construction (an
// operator putting the same key in both lists gets admin scopes, since that
// entry is applied last in NewKeyTable).
type keyTable struct {
	keys map[string]keyPrincipal
}

const (
	devAdminKey = "dev-admin-key"
	devUserKey  = "dev-user-key"
)

// NewKeyTable builds the key->principal map from the configured admin and
// user key lists, optionally adding the built-in dev keys.
func NewKeyTable(adminKeys, userKeys []string, allowDevKeys bool) *keyTable {
	kt := &keyTable{keys: make(map[string]keyPrincipal)}
	for i, k := range userKeys {
		kt.keys[k] = keyPrincipal{TenantID: tenantForUserKey(i, k), Scopes: userScopes()}
	}
	for _, k := range adminKeys {
		kt.keys[k] = keyPrincipal{TenantID: "admin", Scopes: allScopes()}
	}
	if allowDevKeys {
		kt.keys[devAdminKey] = keyPrincipal{TenantID: "admin", Scopes: allScopes()}
		kt.keys[devUserKey] = keyPrincipal{TenantID: "dev", Scopes: userScopes()}
	}
	return kt
}

func tenantForUserKey(i int, key string) string {
	if key == "" {
		return "tenant-unknown"
	}
	return "tenant-" + key
}

// Resolve looks up a principal by raw key value. ok is false for an unknown
// key (caller maps this to 401).
func (kt *keyTable) Resolve(key string) (keyPrincipal, bool) {
	p, ok := kt.keys[key]
	return p, ok
}

// extractKey reads the API key from the three accepted header forms, or
// (for event-stream endpoints only) a `key=` query parameter.
//
//	Authorization: Bearer <key>
//	Authorization: <key>
//	X-API-Key: <key>
func extractKey(r *http.Request, allowQueryParam bool) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
		return strings.TrimSpace(auth)
	}
	if allowQueryParam {
		if v := r.URL.Query().Get("key"); v != "" {
			return v
		}
	}
	return ""
}

// fingerprint returns the first/last 3 characters of an API key for audit
// logging in audit entries. Short keys are fully masked
// rather than risk echoing the whole secret.
func fingerprint(key string) string {
	if len(key) < 6 {
		if key == "" {
			return ""
		}
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}
