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

// Package geoasn implements C1: IP -> {geo, asn} lookups against two
// MaxMind-format database files, loaded once at startup and swappable
// without blocking concurrent readers. The atomic-handle-swap pattern here
// follows a shared-singleton redesign: readers never take a lock, a Reload
// publishes a fresh *Lookup behind an atomic.Pointer rather than mutating
// the existing one in place.
package geoasn

import (
	"net"
	"sync/atomic"

	"github.com/oschwald/maxminddb-golang"
)

// Geo mirrors types.Geo but stays local to this package to avoid a
// dependency on higher-level types; callers convert.
type Geo struct {
	Country string
	City    string
	Lat     float64
	Lon     float64
}

type ASN struct {
	Number int
	Org    string
}

// Result is the return shape of Lookup; any field may be nil when the
// corresponding database is missing or the address isn't found.
type Result struct {
	Geo *Geo
	ASN *ASN
}

type cityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

type asnRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// readers is the atomically-swapped pair of open database handles. A nil
// pointer inside means that database was not configured/loaded — Lookup
// treats it as "no data" rather than an error.
type readers struct {
	city *maxminddb.Reader
	asn  *maxminddb.Reader
}

// Lookup is the public, thread-safe handle components depend on. The zero
// value is usable and always returns nulls until Reload succeeds.
type Lookup struct {
	handle atomic.Pointer[readers]

	cityPath string
	asnPath  string
}

// New constructs a Lookup and performs an initial load. Load failures are
// not fatal — missing DBs simply yield nulls on lookup.
func New(cityPath, asnPath string) *Lookup {
	l := &Lookup{cityPath: cityPath, asnPath: asnPath}
	l.handle.Store(&readers{})
	_ = l.Reload()
	return l
}

// Reload opens (or re-opens) the configured database files and atomically
// publishes the new handle pair. Existing readers keep using the old pair
// until this swap completes; in-flight Lookup calls are never blocked.
func (l *Lookup) Reload() error {
	next := &readers{}
	var firstErr error

	if l.cityPath != "" {
		r, err := maxminddb.Open(l.cityPath)
		if err != nil {
			firstErr = err
		} else {
			next.city = r
		}
	}
	if l.asnPath != "" {
		r, err := maxminddb.Open(l.asnPath)
		if err != nil && firstErr == nil {
			firstErr = err
		} else if err == nil {
			next.asn = r
		}
	}

	old := l.handle.Swap(next)
	if old != nil {
		if old.city != nil {
			_ = old.city.Close()
		}
		if old.asn != nil {
			_ = old.asn.Close()
		}
	}
	return firstErr
}

// Close releases the currently-open database handles.
func (l *Lookup) Close() error {
	r := l.handle.Load()
	if r == nil {
		return nil
	}
	if r.city != nil {
		_ = r.city.Close()
	}
	if r.asn != nil {
		_ = r.asn.Close()
	}
	return nil
}

// Lookup resolves geo and ASN context for ip. It never allocates beyond the
// returned Result and never errors — invalid input or missing databases
// simply yield nil fields; geo/ASN lookups never throw.
func (l *Lookup) Lookup(ip string) Result {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Result{}
	}
	r := l.handle.Load()
	if r == nil {
		return Result{}
	}

	var res Result
	if r.city != nil {
		var rec cityRecord
		if err := r.city.Lookup(addr, &rec); err == nil {
			if rec.Country.ISOCode != "" || len(rec.City.Names) > 0 {
				res.Geo = &Geo{
					Country: rec.Country.ISOCode,
					City:    rec.City.Names["en"],
					Lat:     rec.Location.Latitude,
					Lon:     rec.Location.Longitude,
				}
			}
		}
	}
	if r.asn != nil {
		var rec asnRecord
		if err := r.asn.Lookup(addr, &rec); err == nil && rec.AutonomousSystemNumber != 0 {
			res.ASN = &ASN{Number: int(rec.AutonomousSystemNumber), Org: rec.AutonomousSystemOrganization}
		}
	}
	return res
}
