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

// Package risk implements C3: a pure, deterministic risk-scoring rubric.
// No state, no allocation beyond the return value — unit-testable by
// construction.
package risk

import "flowgate/internal/types"

var riskyDstPorts = map[int]bool{23: true, 445: true, 1433: true, 3389: true}

// Score computes the 0..100 risk score for raw, given whether any TI
// indicator matched it. The rubric is fixed:
//
//	base 10
//	+60 if any TI match
//	+10 if dst port is in {23, 445, 1433, 3389}
//	+10 if src port >= 1024 and bytes > 1,000,000
//	clamp to [0, 100]
func Score(raw types.RawRecord, tiMatched bool) int {
	score := 10
	if tiMatched {
		score += 60
	}
	if riskyDstPorts[raw.DstPort] {
		score += 10
	}
	if raw.SrcPort >= 1024 && raw.Bytes > 1_000_000 {
		score += 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
