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

// Command flowgate wires every component (C1-C11) into one process, the
// same way a small gateway binary typically assembles its collaborators:
// load configuration once, construct collaborators bottom-up, then start
// the HTTP surface and the background tasks that keep it fed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"flowgate/internal/admission"
	"flowgate/internal/audit"
	"flowgate/internal/config"
	"flowgate/internal/export"
	"flowgate/internal/geoasn"
	"flowgate/internal/httpapi"
	"flowgate/internal/idempotency"
	"flowgate/internal/ingest"
	"flowgate/internal/logging"
	"flowgate/internal/metrics"
	"flowgate/internal/persistence"
	"flowgate/internal/threatintel"
	"flowgate/internal/udpcollector"
)

const (
	idempotencyCapacity = 10000
	auditPruneInterval  = 60 * time.Second
)

func main() {
	cfg := config.Load()
	log := logging.New("cmd/flowgate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	warmingUp := &atomic.Bool{}
	warmingUp.Store(cfg.PostgresDSN != "")

	if cfg.PostgresDSN != "" {
		db, err := persistence.Open(cfg.PostgresDSN)
		if err != nil {
			log.Errorf("persistence: %v", err)
			os.Exit(1)
		}
		if err := persistence.Migrate(db); err != nil {
			log.Errorf("persistence: migrate: %v", err)
			os.Exit(1)
		}
		log.Infof("persistence: migrations applied")
		warmingUp.Store(false)
	}

	geo := geoasn.New(cfg.GeoIPDBCity, cfg.GeoIPDBASN)
	ti := threatintel.New(cfg.ThreatListCSV)
	registry := admission.NewRegistry()

	idem := idempotency.New(idempotencyCapacity, 24*time.Hour)
	var redisBackend *idempotency.RedisBackend
	if cfg.RedisAddr != "" {
		redisBackend = idempotency.NewRedisBackend(cfg.RedisAddr, 24*time.Hour)
		log.Infof("idempotency: cross-replica commit markers enabled via %s", cfg.RedisAddr)
	}

	agg := metrics.New()
	go agg.Run(ctx)
	if cfg.PromMetricsAddr != "" {
		metrics.StartPromEndpoint(cfg.PromMetricsAddr)
		log.Infof("metrics: prometheus exposition on %s/metrics", cfg.PromMetricsAddr)
	}

	auditRing := audit.New(cfg.AuditRingSize, time.Duration(cfg.AuditTTLSec)*time.Second)
	go runAuditPruner(ctx, auditRing, log)

	dlq := export.NewDLQ("flowgate-dlq.jsonl", time.Duration(cfg.DLQRetentionSec)*time.Second)

	splunkSwitch := export.NewSwitchable("splunk", defaultSplunkSink(cfg))
	elasticSwitch := export.NewSwitchable("elastic", defaultElasticSink(cfg))

	workerCfg := export.WorkerConfig{
		BatchMax:      cfg.ExportBatchMax,
		FlushInterval: time.Duration(cfg.ExportFlushMS) * time.Millisecond,
	}
	splunkWorker := export.NewWorker(splunkSwitch, dlq, workerCfg, agg)
	elasticWorker := export.NewWorker(elasticSwitch, dlq, workerCfg, agg)
	go splunkWorker.Run(ctx)
	go elasticWorker.Run(ctx)
	go splunkWorker.ReplayLoop(ctx)
	go elasticWorker.ReplayLoop(ctx)

	fanout := export.NewFanout(splunkWorker, elasticWorker)
	pipeline := ingest.New(geo, ti, agg, fanout, func() string { return uuid.NewString() })

	var udpCollector *udpcollector.Collector
	if cfg.FeatureUDPHead {
		queue := udpcollector.NewQueue(cfg.UDPQueueCap, udpcollector.QueuePolicy(cfg.UDPQueuePolicy))
		decoder := udpcollector.NewDecoder()
		udpCollector = udpcollector.New(fmt.Sprintf(":%d", cfg.UDPPort), decoder, queue)
		mapper := udpcollector.NewMapper(queue, pipeline, udpcollector.MapperConfig{SourceID: "udp"})
		go func() {
			if err := udpCollector.Run(ctx); err != nil {
				log.Errorf("udp collector exited: %v", err)
			}
		}()
		go mapper.Run(ctx)
	}

	server := httpapi.NewServer(cfg, httpapi.Collaborators{
		Geo:           geo,
		TI:            ti,
		Registry:      registry,
		Idem:          idem,
		Redis:         redisBackend,
		Pipeline:      pipeline,
		Metrics:       agg,
		Audit:         auditRing,
		SplunkSink:    splunkSwitch,
		ElasticSink:   elasticSwitch,
		SplunkWorker:  splunkWorker,
		ElasticWorker: elasticWorker,
		WarmingUp:     warmingUp,
		UDPHealthy: func() bool {
			if udpCollector == nil {
				return false
			}
			return udpCollector.Healthy(30 * time.Second)
		},
	})

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.AppPort),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("flowgate listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	cancel()
	<-splunkWorker.Done()
	<-elasticWorker.Done()
}

func runAuditPruner(ctx context.Context, ring *audit.Ring, log *logging.Logger) {
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := ring.PruneExpired(time.Now()); n > 0 {
				log.Infof("audit: pruned %d expired entries", n)
			}
		}
	}
}

func defaultSplunkSink(cfg config.Config) export.Sink {
	if cfg.SplunkHECURL == "" {
		return export.NewNoopSink("splunk")
	}
	return export.NewSplunkSink(cfg.SplunkHECURL, cfg.SplunkHECToken, nil)
}

func defaultElasticSink(cfg config.Config) export.Sink {
	if cfg.ElasticBulkURL == "" {
		return export.NewNoopSink("elastic")
	}
	return export.NewElasticSink(cfg.ElasticBulkURL, "", nil)
}
