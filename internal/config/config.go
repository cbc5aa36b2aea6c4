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

// Package config loads the environment-variable knobs into
// a typed snapshot, parsed once at startup and stored for later reporting
// through Snapshot below.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Config is the fully-resolved set of environment knobs.
type Config struct {
	AppPort   int
	UDPPort   int

	GeoIPDBCity string
	GeoIPDBASN  string

	ThreatListCSV string

	AdminKeys   []string
	UserKeys    []string
	AllowDevKeys bool

	RedactHeaders []string
	RedactFields  []string

	RateLimitIngestRPM  int
	RateLimitDefaultRPM int

	AuditRingSize int
	AuditTTLSec   int

	ExportBatchMax   int
	ExportFlushMS    int
	DLQRetentionSec  int

	UDPQueueCap    int
	UDPQueuePolicy string // drop-newest (default), drop-oldest, block

	FeatureSources bool
	FeatureUDPHead bool

	RedisAddr    string
	PostgresDSN  string
	SplunkHECURL   string
	SplunkHECToken string
	ElasticBulkURL string

	// PromMetricsAddr, when non-empty, starts an internal-admin-network-only
	// /metrics endpoint (Prometheus exposition format) alongside the
	// structured JSON snapshot GET /v1/metrics always serves.
	PromMetricsAddr string
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitCSVEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the process environment into a Config, applying the default
// passed to each getEnv* call below when a variable is unset.
func Load() Config {
	return Config{
		AppPort: getEnvInt("APP_PORT", 8080),
		UDPPort: getEnvInt("UDP_PORT", 2055),

		GeoIPDBCity: getEnv("GEOIP_DB_CITY", ""),
		GeoIPDBASN:  getEnv("GEOIP_DB_ASN", ""),

		ThreatListCSV: getEnv("THREATLIST_CSV", ""),

		AdminKeys:    splitCSVEnv("ADMIN_KEYS"),
		UserKeys:     splitCSVEnv("USER_KEYS"),
		AllowDevKeys: getEnvBool("ALLOW_DEV_KEYS", false),

		RedactHeaders: append([]string{"Authorization"}, splitCSVEnv("REDACT_HEADERS")...),
		RedactFields:  splitCSVEnv("REDACT_FIELDS"),

		RateLimitIngestRPM:  getEnvInt("RATE_LIMIT_INGEST_RPM", 0),
		RateLimitDefaultRPM: getEnvInt("RATE_LIMIT_DEFAULT_RPM", 0),

		AuditRingSize: getEnvInt("AUDIT_RING_SIZE", 10000),
		AuditTTLSec:   getEnvInt("AUDIT_TTL_SEC", 24*3600),

		ExportBatchMax:  getEnvInt("EXPORT_BATCH_MAX", 2000),
		ExportFlushMS:   getEnvInt("EXPORT_FLUSH_MS", 1500),
		DLQRetentionSec: getEnvInt("DLQ_RETENTION_SEC", 7*24*3600),

		UDPQueueCap:    getEnvInt("UDP_QUEUE_CAP", 10000),
		UDPQueuePolicy: getEnv("UDP_QUEUE_POLICY", "drop-newest"),

		FeatureSources: getEnvBool("FEATURE_SOURCES", true),
		FeatureUDPHead: getEnvBool("FEATURE_UDP_HEAD", true),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		SplunkHECURL:   getEnv("SPLUNK_HEC_URL", ""),
		SplunkHECToken: getEnv("SPLUNK_HEC_TOKEN", ""),
		ElasticBulkURL: getEnv("ELASTIC_BULK_URL", ""),

		PromMetricsAddr: getEnv("PROM_METRICS_ADDR", ""),
	}
}

// Snapshot renders the resolved config as a key/value map, for the /system
// endpoint. The map is unordered; SortedKeys gives a deterministic order.
func (c Config) Snapshot() map[string]string {
	m := map[string]string{
		"app_port":               strconv.Itoa(c.AppPort),
		"udp_port":               strconv.Itoa(c.UDPPort),
		"rate_limit_ingest_rpm":  strconv.Itoa(c.RateLimitIngestRPM),
		"rate_limit_default_rpm": strconv.Itoa(c.RateLimitDefaultRPM),
		"audit_ring_size":        strconv.Itoa(c.AuditRingSize),
		"audit_ttl_sec":          strconv.Itoa(c.AuditTTLSec),
		"export_batch_max":       strconv.Itoa(c.ExportBatchMax),
		"export_flush_ms":        strconv.Itoa(c.ExportFlushMS),
		"dlq_retention_sec":      strconv.Itoa(c.DLQRetentionSec),
		"udp_queue_cap":          strconv.Itoa(c.UDPQueueCap),
		"udp_queue_policy":       c.UDPQueuePolicy,
		"feature_sources":        fmt.Sprintf("%t", c.FeatureSources),
		"feature_udp_head":       fmt.Sprintf("%t", c.FeatureUDPHead),
		"prom_metrics_enabled":   fmt.Sprintf("%t", c.PromMetricsAddr != ""),
	}
	return m
}

// SortedKeys returns the Snapshot's keys in sorted order for deterministic
// rendering.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
