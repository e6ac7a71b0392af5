// Package metrics wraps Prometheus so the store, cache, and coordinator can
// be used with or without metrics wired in. When a caller supplies a
// *prometheus.Registry the real collectors are registered; otherwise a
// no-op sink is used and the hot path pays nothing for metric updates.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the internal abstraction over the concrete backend (Prometheus or
// no-op). Cache sets, the store, and the coordinator depend only on this
// interface so tests can pass a no-op sink without touching Prometheus.
type Sink interface {
	IncCacheHit(set int)
	IncCacheMiss(set int)
	IncCacheEviction(set int)
	IncStoreOp(op string)
	IncTPCCommit()
	IncTPCAbort()
	IncTPCUnreachable()
}

type noopSink struct{}

func (noopSink) IncCacheHit(int)       {}
func (noopSink) IncCacheMiss(int)      {}
func (noopSink) IncCacheEviction(int)  {}
func (noopSink) IncStoreOp(string)     {}
func (noopSink) IncTPCCommit()         {}
func (noopSink) IncTPCAbort()          {}
func (noopSink) IncTPCUnreachable()    {}

// Noop is the shared no-op sink used whenever a caller doesn't configure a
// registry.
var Noop Sink = noopSink{}

type promSink struct {
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	cacheEvictions  *prometheus.CounterVec
	storeOps        *prometheus.CounterVec
	tpcCommits      prometheus.Counter
	tpcAborts       prometheus.Counter
	tpcUnreachable  prometheus.Counter
}

// New builds a Sink backed by reg. Pass a nil registry to get the no-op
// sink (equivalent to using Noop directly); this lets callers write
// `metrics.New(cfg.PromRegistry)` unconditionally.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return Noop
	}

	setLabel := []string{"set"}
	opLabel := []string{"op"}

	s := &promSink{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "cache", Name: "hits_total",
			Help: "Number of cache hits, by cache set index.",
		}, setLabel),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "cache", Name: "misses_total",
			Help: "Number of cache misses, by cache set index.",
		}, setLabel),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "cache", Name: "evictions_total",
			Help: "Number of second-chance evictions, by cache set index.",
		}, setLabel),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "store", Name: "ops_total",
			Help: "Number of store operations, by operation name.",
		}, opLabel),
		tpcCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "tpc", Name: "commits_total",
			Help: "Number of two-phase-commit transactions that committed.",
		}),
		tpcAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "tpc", Name: "aborts_total",
			Help: "Number of two-phase-commit transactions that aborted.",
		}),
		tpcUnreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "tpc", Name: "unreachable_total",
			Help: "Number of replicas observed unreachable during 2PC.",
		}),
	}

	reg.MustRegister(s.cacheHits, s.cacheMisses, s.cacheEvictions,
		s.storeOps, s.tpcCommits, s.tpcAborts, s.tpcUnreachable)
	return s
}

func (s *promSink) IncCacheHit(set int)      { s.cacheHits.WithLabelValues(strconv.Itoa(set)).Inc() }
func (s *promSink) IncCacheMiss(set int)     { s.cacheMisses.WithLabelValues(strconv.Itoa(set)).Inc() }
func (s *promSink) IncCacheEviction(set int) { s.cacheEvictions.WithLabelValues(strconv.Itoa(set)).Inc() }
func (s *promSink) IncStoreOp(op string)     { s.storeOps.WithLabelValues(op).Inc() }
func (s *promSink) IncTPCCommit()            { s.tpcCommits.Inc() }
func (s *promSink) IncTPCAbort()             { s.tpcAborts.Inc() }
func (s *promSink) IncTPCUnreachable()       { s.tpcUnreachable.Inc() }
