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

// IdempotencyRecord stores the prior response for a (tenant, endpoint,
// client key) tuple, TTL-pruned.
type IdempotencyRecord struct {
	TenantID   string
	Endpoint   string
	ClientKey  string
	StatusCode int
	Body       []byte
	CreatedAt  time.Time
	TTL        time.Duration
}

// Key returns the composite lookup key for the record.
func (r IdempotencyRecord) Key() string {
	return r.TenantID + "\x00" + r.Endpoint + "\x00" + r.ClientKey
}

func IdempotencyKey(tenantID, endpoint, clientKey string) string {
	return tenantID + "\x00" + endpoint + "\x00" + clientKey
}
