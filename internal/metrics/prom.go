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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counterparts to Totals/Snapshot, exposed on an internal
// /metrics mux alongside the structured JSON snapshot GET /v1/metrics
// returns. Global only: one process runs one Aggregator, so there is no
// label cardinality to manage.
var (
	requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_requests_total",
		Help: "Total HTTP requests handled by the gateway.",
	})
	requestsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_requests_failed_total",
		Help: "Total HTTP requests that ended in a 4xx or 5xx response.",
	})
	recordsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_records_processed_total",
		Help: "Total telemetry records that passed validation and were enriched.",
	})
	batchesTotalProm = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_batches_total",
		Help: "Total batches handed to the export fanout.",
	})
	threatMatchesTotalProm = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_threat_matches_total",
		Help: "Total records with at least one threat-intel match.",
	})
	outputsTestSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_outputs_test_success_total",
		Help: "Total successful POST /v1/outputs/test probes.",
	})
	outputsTestFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_outputs_test_fail_total",
		Help: "Total failed POST /v1/outputs/test probes.",
	})
	udpHeadPacketsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_udp_head_packets_total",
		Help: "Total raw UDP datagrams received by the collector.",
	})
	udpHeadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_udp_head_bytes_total",
		Help: "Total raw UDP bytes received by the collector.",
	})
	dropsTotalProm = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_drops_total",
		Help: "Total batches dropped: evicted from a full export worker queue, or accepted by no sink.",
	})
	recordLatencyMS = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowgate_record_latency_ms",
		Help:    "Distribution of per-batch export latency samples, in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	activeSourceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowgate_active_sources",
		Help: "Number of sources currently registered in the admission table.",
	})
	backpressureGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowgate_backpressure",
		Help: "1 when the gateway is shedding load under back-pressure, 0 otherwise.",
	})
)

func init() {
	prometheus.MustRegister(
		requestsTotal, requestsFailedTotal, recordsProcessedTotal, batchesTotalProm,
		threatMatchesTotalProm, outputsTestSuccessTotal, outputsTestFailTotal,
		udpHeadPacketsTotal, udpHeadBytesTotal, dropsTotalProm, recordLatencyMS,
		activeSourceGauge, backpressureGauge,
	)
}

// StartPromEndpoint exposes the registered collectors on addr's /metrics
// path in a background goroutine. Intended for an internal admin network,
// separate from the public HTTP surface (C11) — it is only started when
// PROM_METRICS_ADDR is set.
func StartPromEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
