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

package admission

import (
	"testing"

	"flowgate/internal/types"
)

func TestAdmit_UnknownSource(t *testing.T) {
	r := NewRegistry()
	d := r.Admit("nope", "10.0.0.1", 1)
	if d.Allowed || d.Reason != ReasonUnknownSource {
		t.Fatalf("Admit() = %+v, want blocked:unknown_source", d)
	}
}

func TestAdmit_Disabled(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceDisabled, AllowedIPs: []string{"10.0.0.0/24"}})
	d := r.Admit("s1", "10.0.0.5", 1)
	if d.Allowed || d.Reason != ReasonDisabled {
		t.Fatalf("Admit() = %+v, want blocked:disabled", d)
	}
}

func TestAdmit_EmptyAllowlistDeniesAll(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: nil})
	d := r.Admit("s1", "10.0.0.5", 1)
	if d.Allowed || d.Reason != ReasonNoAllowlist {
		t.Fatalf("Admit() = %+v, want blocked:no_allowlist", d)
	}
}

func TestAdmit_NotInAllowlist(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: []string{"10.0.0.0/24"}})
	d := r.Admit("s1", "192.0.2.5", 1)
	if d.Allowed || d.Reason != ReasonNotInAllowlist {
		t.Fatalf("Admit() = %+v, want blocked:not_in_allowlist", d)
	}
}

func TestAdmit_IPv6Allowlist(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: []string{"2001:db8::/32"}})
	d := r.Admit("s1", "2001:db8::1", 1)
	if !d.Allowed {
		t.Fatalf("Admit() = %+v, want admitted", d)
	}
}

func TestAdmit_RateLimitedWhenBlockOnExceed(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: []string{"10.0.0.0/24"}, MaxEPS: 5, BlockOnExceed: true})
	d := r.Admit("s1", "10.0.0.5", 5)
	if !d.Allowed {
		t.Fatalf("first admit should consume the full burst: %+v", d)
	}
	d = r.Admit("s1", "10.0.0.5", 1)
	if d.Allowed || d.Reason != ReasonRateLimited {
		t.Fatalf("Admit() = %+v, want rate_limited", d)
	}
}

func TestAdmit_OverCapAdmitsWhenNotBlocking(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: []string{"10.0.0.0/24"}, MaxEPS: 5, BlockOnExceed: false})
	r.Admit("s1", "10.0.0.5", 5)
	d := r.Admit("s1", "10.0.0.5", 1)
	if !d.Allowed || !d.OverCap {
		t.Fatalf("Admit() = %+v, want admitted with OverCap=true", d)
	}
	if got := r.OverCapCount("s1"); got != 1 {
		t.Fatalf("OverCapCount() = %d, want 1", got)
	}
}

func TestAdmit_UnlimitedWhenMaxEPSZero(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: []string{"10.0.0.0/24"}, MaxEPS: 0})
	for i := 0; i < 100; i++ {
		if d := r.Admit("s1", "10.0.0.5", 10_000); !d.Allowed {
			t.Fatalf("Admit() = %+v, want admitted (unlimited)", d)
		}
	}
}

func TestAdmit_UpdatesLastSeen(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: []string{"10.0.0.0/24"}})
	before, _ := r.Get("s1")
	if !before.LastSeen.IsZero() {
		t.Fatalf("expected zero LastSeen before first admit")
	}
	r.Admit("s1", "10.0.0.5", 1)
	after, _ := r.Get("s1")
	if after.LastSeen.IsZero() {
		t.Fatalf("expected LastSeen to be set after admit")
	}
}

func TestTest_IsSideEffectFree(t *testing.T) {
	r := NewRegistry()
	r.Put(types.Source{ID: "s1", Status: types.SourceEnabled, AllowedIPs: []string{"10.0.0.0/24"}, MaxEPS: 5, BlockOnExceed: true})
	d1 := r.Test("s1", "10.0.0.5")
	d2 := r.Test("s1", "10.0.0.5")
	if d1 != d2 {
		t.Fatalf("Test() not idempotent: %+v != %+v", d1, d2)
	}
	if !d1.Allowed {
		t.Fatalf("Test() = %+v, want admitted", d1)
	}
	before, _ := r.Get("s1")
	if !before.LastSeen.IsZero() {
		t.Fatalf("Test() must not mutate last_seen")
	}
}
