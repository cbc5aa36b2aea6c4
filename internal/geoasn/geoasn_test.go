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

package geoasn

import "testing"

func TestLookup_NoDatabasesConfigured(t *testing.T) {
	l := New("", "")
	res := l.Lookup("8.8.8.8")
	if res.Geo != nil || res.ASN != nil {
		t.Fatalf("Lookup() = %+v, want all-nil with no databases configured", res)
	}
}

func TestLookup_InvalidAddress(t *testing.T) {
	l := New("", "")
	res := l.Lookup("not-an-ip")
	if res.Geo != nil || res.ASN != nil {
		t.Fatalf("Lookup() = %+v, want all-nil for invalid input", res)
	}
}

func TestLookup_MissingDBFileDoesNotError(t *testing.T) {
	l := New("/nonexistent/city.mmdb", "/nonexistent/asn.mmdb")
	res := l.Lookup("8.8.8.8")
	if res.Geo != nil || res.ASN != nil {
		t.Fatalf("Lookup() = %+v, want all-nil when DB files are missing", res)
	}
}

func TestLookup_ReloadIsSafeWithoutDatabases(t *testing.T) {
	l := New("", "")
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload() with no configured paths returned error: %v", err)
	}
	l.Close()
}
