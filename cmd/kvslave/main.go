// Command kvslave runs a replica server: a persistent hash-chained store
// fronted by an in-memory second-chance cache, optionally running as a
// 2PC participant registered with a kvmaster coordinator.
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
	"github.com/rs/zerolog"

	"github.com/dreamware/kvring/internal/admin"
	"github.com/dreamware/kvring/internal/cache"
	"github.com/dreamware/kvring/internal/config"
	"github.com/dreamware/kvring/internal/kvlog"
	"github.com/dreamware/kvring/internal/metrics"
	"github.com/dreamware/kvring/internal/netsvc"
	"github.com/dreamware/kvring/internal/queue"
	"github.com/dreamware/kvring/internal/replica"
	"github.com/dreamware/kvring/internal/store"
	"github.com/dreamware/kvring/internal/txlog"
	"github.com/dreamware/kvring/internal/wire"
)

func main() {
	cfg, err := config.ParseSlave(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvslave:", err)
		os.Exit(1)
	}

	kvlog.Init(kvlog.Config{JSON: cfg.LogJSON})
	log := kvlog.Component("kvslave")

	registry := prometheus.NewRegistry()
	sink := metrics.New(registry)

	st, err := store.Open(cfg.DataDir, cfg.KeyMax, cfg.ValMax, sink, kvlog.Component("store"))
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}

	var txLog *txlog.Log
	if cfg.TPC {
		txLog, err = txlog.Open(cfg.LogDir, kvlog.Component("txlog"))
		if err != nil {
			log.Fatal().Err(err).Msg("txlog open failed")
		}
	}

	srv, err := replica.New(replica.Config{
		Store:   st,
		Cache:   cache.NewCache(cfg.CacheSets, cfg.CacheCap, sink),
		Log:     txLog,
		Logger:  kvlog.Component("replica"),
		Metrics: sink,
		Host:    cfg.Host,
		Port:    cfg.Port,
		TPC:     cfg.TPC,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("recovery failed")
	}

	q := queue.New(cfg.QueueDepth)
	acceptor, err := netsvc.Listen(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), q, log)
	if err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}

	for i := 0; i < cfg.MaxThreads; i++ {
		go netsvc.Serve(q, srv.Handle, log)
	}
	go acceptor.Serve()

	adminAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1)
	adminSrv := admin.New(adminAddr, srv, registry, kvlog.Component("admin"))
	go func() {
		if err := adminSrv.Serve(); err != nil {
			log.Error().Err(err).Msg("admin server stopped")
		}
	}()

	log.Info().Str("addr", acceptor.Addr().String()).Str("admin", adminAddr).Bool("tpc", cfg.TPC).Msg("kvslave listening")

	if cfg.TPC {
		registerWithMaster(cfg, log)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("kvslave shutting down")
	acceptor.Stop() //nolint:errcheck
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin shutdown error")
	}
	log.Info().Msg("kvslave stopped")
}

// registerWithMaster sends one REGISTER request to the coordinator,
// retrying with a fixed backoff to ride out the coordinator still
// starting up.
func registerWithMaster(cfg config.Slave, log zerolog.Logger) {
	connector := netsvc.NewConnector(time.Second)
	masterAddr := fmt.Sprintf("%s:%d", cfg.MasterHost, cfg.MasterPort)
	value := fmt.Sprintf("%d:%s", cfg.Port, cfg.Host)

	var lastErr error
	for i := 0; i < 10; i++ {
		resp, err := connector.RequestResponse(masterAddr, &wire.Message{Type: wire.Register, Value: []byte(value)})
		if err == nil && resp.Message == "SUCCESS" {
			log.Info().Str("master", masterAddr).Msg("registered with coordinator")
			return
		}
		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("register rejected: %s", resp.Message)
		}
		log.Warn().Err(lastErr).Int("attempt", i+1).Msg("register retry")
		time.Sleep(400 * time.Millisecond)
	}
	log.Fatal().Err(lastErr).Msg("failed to register with coordinator")
}
