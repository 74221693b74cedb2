// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Command faildetectord runs one tenant's failure detector against a
// simulated commit-log writer and serves its metrics over HTTP. It exists
// to exercise the detector end to end: with -hang-after set, the simulated
// writer freezes after that duration and the hang surfaces in the logs and
// in the failure_detector_active_faults series.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jscblack/oceanbase-dev/pkg/faildetector"
	"github.com/jscblack/oceanbase-dev/pkg/faildetector/diskhang"
	"github.com/jscblack/oceanbase-dev/pkg/settings"
	"github.com/jscblack/oceanbase-dev/pkg/util/log"
	"github.com/jscblack/oceanbase-dev/pkg/util/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tenantID    = flag.Uint64("tenant", 1001, "tenant id the detector is scoped to")
	listenAddr  = flag.String("listen", ":8080", "address to serve /metrics on")
	sensitivity = flag.Int64("sensitivity", 25, "disk hang sensitivity in [0, 100]; 0 disables baseline detection")
	tolerance   = flag.Duration("tolerance", 5*time.Second, "pending write tolerance before the log disk counts as hung")
	hangAfter   = flag.Duration("hang-after", 0, "freeze the simulated log writer after this long (0 keeps it healthy)")
	listOnly    = flag.Bool("list-settings", false, "print the known settings and exit")
)

func listSettings() {
	for _, key := range settings.Keys() {
		_, desc, _ := settings.Lookup(key)
		fmt.Printf("%s\t%s\n", key, desc)
	}
}

// simulatedLogIO models a steady commit-log writer: 200 writes of 4 KiB per
// second, 2ms each. Past hangAfter (when non-zero) the counters and the
// progress timestamp freeze, as they would if every write got stuck in the
// device queue.
type simulatedLogIO struct {
	start     time.Time
	hangAfter time.Duration
}

func (s *simulatedLogIO) IOStatistics() (diskhang.Stats, error) {
	working := timeutil.Since(s.start)
	if s.hangAfter > 0 && working > s.hangAfter {
		working = s.hangAfter
	}
	count := int64(working.Seconds() * 200)
	return diskhang.Stats{
		LastWorkingTime: s.start.Add(working).UnixMicro(),
		AccumWriteCount: count,
		AccumWriteSize:  count * 4096,
		AccumWriteRT:    count * 2000,
	}, nil
}

type healthySources struct{}

func (healthySources) DeviceHealthStatus() (faildetector.DeviceHealthStatus, int64, error) {
	return faildetector.DeviceHealthNormal, -1, nil
}

func (healthySources) CheckDiskSpaceEnough() (bool, error) { return true, nil }

func (healthySources) IsTenantNotRefreshed(tenantID uint64) (bool, error) { return false, nil }

func applySettings() error {
	u := settings.MakeUpdater()
	if err := u.Set(
		"failure_detector.log_storage.warning_trigger_percentage",
		settings.EncodeInt(*sensitivity), "i",
	); err != nil {
		return err
	}
	if err := u.Set(
		"failure_detector.log_storage.warning_tolerance_time",
		settings.EncodeDuration(*tolerance), "d",
	); err != nil {
		return err
	}
	u.Done()
	return nil
}

func main() {
	flag.Parse()
	if *listOnly {
		listSettings()
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := applySettings(); err != nil {
		log.Fatalf(ctx, "applying settings: %v", err)
	}

	reg := prometheus.NewRegistry()
	sources := faildetector.Sources{
		LogIO:        &simulatedLogIO{start: timeutil.Now(), hangAfter: *hangAfter},
		DiskSpace:    healthySources{},
		DeviceHealth: healthySources{},
		Schema:       healthySources{},
	}
	coordinator, err := faildetector.NewCoordinator(
		*tenantID, sources, faildetector.NewMemoryAuditSink(), reg)
	if err != nil {
		log.Fatalf(ctx, "constructing coordinator: %v", err)
	}
	if err := coordinator.Start(ctx); err != nil {
		log.Fatalf(ctx, "starting coordinator: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf(ctx, "metrics server: %v", err)
		}
	}()
	log.Infof(ctx, "serving metrics on %s", *listenAddr)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case <-ticker.C:
			registry := coordinator.Registry()
			log.Infof(ctx, "clog fatal=%v data disk fatal=%v schema stale=%v",
				registry.IsClogDiskHasFatalError(),
				registry.IsDataDiskHasFatalError(),
				registry.IsSchemaNotRefreshed())
		case <-ctx.Done():
			done = true
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	coordinator.Stop(shutdownCtx)
	coordinator.Wait()
	coordinator.Destroy()
	log.Infof(shutdownCtx, "failure detector shut down")
}
