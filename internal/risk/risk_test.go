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

package risk

import (
	"testing"

	"flowgate/internal/types"
)

func TestScore_PinnedScenario(t *testing.T) {
	// pinned scenario: TI match + risky dst port + ephemeral src port
	// with large byte count must score exactly 90.
	raw := types.RawRecord{
		TS:       1723351200.4,
		SrcIP:    "45.149.3.10",
		DstIP:    "8.8.8.8",
		SrcPort:  51514,
		DstPort:  445,
		Bytes:    2_000_000,
		Protocol: types.ProtoTCP,
	}
	got := Score(raw, true)
	if got != 90 {
		t.Fatalf("Score() = %d, want 90", got)
	}
}

func TestScore_BaseOnly(t *testing.T) {
	raw := types.RawRecord{SrcPort: 80, DstPort: 80, Bytes: 100}
	if got := Score(raw, false); got != 10 {
		t.Fatalf("Score() = %d, want 10", got)
	}
}

func TestScore_AllRulesFire(t *testing.T) {
	raw := types.RawRecord{SrcPort: 2000, DstPort: 3389, Bytes: 5_000_000}
	if got := Score(raw, true); got != 90 {
		t.Fatalf("Score() = %d, want 90", got)
	}
}

func TestScore_Deterministic(t *testing.T) {
	raw := types.RawRecord{SrcPort: 1024, DstPort: 1433, Bytes: 1_000_001}
	a := Score(raw, true)
	b := Score(raw, true)
	if a != b {
		t.Fatalf("Score() is not deterministic: %d != %d", a, b)
	}
}

func TestScore_EphemeralBoundary(t *testing.T) {
	// src_port must be >=1024 AND bytes strictly > 1,000,000.
	raw := types.RawRecord{SrcPort: 1023, DstPort: 80, Bytes: 2_000_000}
	if got := Score(raw, false); got != 10 {
		t.Fatalf("Score() = %d, want 10 (src_port below ephemeral threshold)", got)
	}
	raw.SrcPort = 1024
	raw.Bytes = 1_000_000
	if got := Score(raw, false); got != 10 {
		t.Fatalf("Score() = %d, want 10 (bytes not strictly greater)", got)
	}
	raw.Bytes = 1_000_001
	if got := Score(raw, false); got != 20 {
		t.Fatalf("Score() = %d, want 20", got)
	}
}
