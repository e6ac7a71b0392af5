// Command kvmaster runs the coordinator: it accepts client GET/PUT/DEL
// and slave REGISTER requests, places keys across the registered slaves
// by consistent hashing, and drives two-phase commit for writes.
//
// Configuration is read from CLI flags (and an optional --config JSONC
// file); see internal/config for the full set. A side-channel HTTP
// server exposes /healthz, /stats, and /metrics next to the core wire
// protocol listener.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/kvring/internal/admin"
	"github.com/dreamware/kvring/internal/config"
	"github.com/dreamware/kvring/internal/coordinator"
	"github.com/dreamware/kvring/internal/kvlog"
	"github.com/dreamware/kvring/internal/metrics"
	"github.com/dreamware/kvring/internal/netsvc"
	"github.com/dreamware/kvring/internal/queue"
)

func main() {
	cfg, err := config.ParseMaster(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvmaster:", err)
		os.Exit(1)
	}

	kvlog.Init(kvlog.Config{JSON: cfg.LogJSON})
	log := kvlog.Component("kvmaster")

	registry := prometheus.NewRegistry()
	sink := metrics.New(registry)

	coord := coordinator.New(coordinator.Config{
		Logger:     kvlog.Component("coordinator"),
		Metrics:    sink,
		Capacity:   cfg.Capacity,
		Redundancy: cfg.Redundancy,
		CacheSets:  cfg.CacheSets,
		CacheCap:   cfg.CacheCap,
		Connect:    cfg.ConnectTimeout(),
		Host:       cfg.Host,
		Port:       cfg.Port,
	})

	q := queue.New(cfg.QueueDepth)
	acceptor, err := netsvc.Listen(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), q, log)
	if err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}

	for i := 0; i < cfg.MaxThreads; i++ {
		go netsvc.Serve(q, coord.Handle, log)
	}
	go acceptor.Serve()

	adminAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1)
	adminSrv := admin.New(adminAddr, coord, registry, kvlog.Component("admin"))
	go func() {
		if err := adminSrv.Serve(); err != nil {
			log.Error().Err(err).Msg("admin server stopped")
		}
	}()

	log.Info().Str("addr", acceptor.Addr().String()).Str("admin", adminAddr).Msg("kvmaster listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("kvmaster shutting down")
	acceptor.Stop() //nolint:errcheck
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin shutdown error")
	}
	log.Info().Msg("kvmaster stopped")
}
