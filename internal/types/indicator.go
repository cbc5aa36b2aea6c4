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

// IndicatorKind distinguishes the two shapes threat-intel indicators take.
type IndicatorKind string

const (
	IndicatorCIDR   IndicatorKind = "cidr"
	IndicatorDomain IndicatorKind = "domain"
)

// Indicator is a single threat-intel entry. Confidence is implicitly 1.0
// for v1 (spec §3) so it is not modeled as a field yet.
type Indicator struct {
	ID    string
	Kind  IndicatorKind
	Value string // CIDR string or domain name, per Kind
}
