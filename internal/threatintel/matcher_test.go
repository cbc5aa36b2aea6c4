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

package threatintel

import (
	"os"
	"path/filepath"
	"testing"
)

func writeList(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "threatlist.csv")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write threatlist: %v", err)
	}
	return p
}

func TestMatcher_CIDRAndDomain(t *testing.T) {
	path := writeList(t, "# comment\n\n45.149.3.0/24\ndomain:evil.example\n")
	m := New(path)

	if got := m.MatchIP("45.149.3.10"); len(got) != 1 || got[0] != "45.149.3.0/24" {
		t.Fatalf("MatchIP = %v, want [45.149.3.0/24]", got)
	}
	if got := m.MatchIP("8.8.8.8"); len(got) != 0 {
		t.Fatalf("MatchIP = %v, want none", got)
	}
	if got := m.MatchDomain("evil.example"); len(got) != 1 {
		t.Fatalf("MatchDomain = %v, want match", got)
	}
	if got := m.MatchDomain("benign.example"); len(got) != 0 {
		t.Fatalf("MatchDomain = %v, want none", got)
	}
}

func TestMatcher_LongestPrefixFirst(t *testing.T) {
	path := writeList(t, "10.0.0.0/8\n10.0.0.0/24\n10.0.0.0/16\n")
	m := New(path)

	got := m.MatchIP("10.0.0.5")
	want := []string{"10.0.0.0/24", "10.0.0.0/16", "10.0.0.0/8"}
	if len(got) != len(want) {
		t.Fatalf("MatchIP = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MatchIP[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestMatcher_IPv6(t *testing.T) {
	path := writeList(t, "2001:db8::/32\n")
	m := New(path)
	if got := m.MatchIP("2001:db8::1"); len(got) != 1 {
		t.Fatalf("MatchIP = %v, want match", got)
	}
	if got := m.MatchIP("2001:db9::1"); len(got) != 0 {
		t.Fatalf("MatchIP = %v, want none", got)
	}
}

func TestMatcher_MissingFileYieldsEmpty(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "does-not-exist.csv"))
	if got := m.MatchIP("1.2.3.4"); got != nil {
		t.Fatalf("MatchIP = %v, want nil", got)
	}
}
