// Package replica implements the per-server request handlers that sit on
// top of the store, cache, and transaction log: the non-TPC read-through/
// write-through handlers of §4.7, and the 2PC participant state machine
// and crash recovery of §4.8.
package replica

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/kvring/internal/admin"
	"github.com/dreamware/kvring/internal/cache"
	"github.com/dreamware/kvring/internal/kverr"
	"github.com/dreamware/kvring/internal/metrics"
	"github.com/dreamware/kvring/internal/store"
	"github.com/dreamware/kvring/internal/txlog"
	"github.com/dreamware/kvring/internal/wire"
)

// State is one of the six states of the per-replica 2PC participant
// state machine (§4.8). There is at most one open transaction at a time,
// matching the log's own "one open transaction per replica" invariant.
type State int

const (
	Init State = iota
	Wait
	Ready
	AbortPending
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Wait:
		return "WAIT"
	case Ready:
		return "READY"
	case AbortPending:
		return "ABORT_PENDING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// pending is the in-flight transaction a TPC server is tracking between
// a vote and its decision.
type pending struct {
	key   []byte
	value []byte
	del   bool
	state State
}

// Server composes a store, cache, and transaction log into one replica,
// and implements both the plain (§4.7) and TPC-participant (§4.8)
// request handlers. The zero value is not usable; build with New.
type Server struct {
	Store   *store.Store
	Cache   *cache.Cache
	Log     *txlog.Log
	log     zerolog.Logger
	metrics metrics.Sink
	host    string
	port    int
	tpc     bool

	pending *pending // nil when no transaction is open
}

// Config carries the construction parameters for a replica Server.
type Config struct {
	Store   *store.Store
	Cache   *cache.Cache
	Log     *txlog.Log
	Logger  zerolog.Logger
	Metrics metrics.Sink
	Host    string
	Port    int
	TPC     bool
}

// New builds a replica Server and, if cfg.TPC is set, replays the
// transaction log to restore any in-flight transaction before returning
// (§4.8 "Recovery on restart").
func New(cfg Config) (*Server, error) {
	sink := cfg.Metrics
	if sink == nil {
		sink = metrics.Noop
	}
	s := &Server{
		Store:   cfg.Store,
		Cache:   cfg.Cache,
		Log:     cfg.Log,
		log:     cfg.Logger,
		metrics: sink,
		host:    cfg.Host,
		port:    cfg.Port,
		tpc:     cfg.TPC,
	}
	if cfg.TPC {
		if err := s.recover(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recover replays the log oldest-to-newest and restores s.pending to
// reflect the tail transaction, per §4.8. A tail COMMIT applies the
// operation to the store (idempotently); a tail ABORT discards it; a
// dangling PUT/DEL with no terminal record leaves the replica in READY
// awaiting a fresh master decision. The log is cleared after a COMMIT or
// ABORT tail has been handled; a dangling record is left in the log.
func (s *Server) recover() error {
	entries, err := s.Log.All()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	// Walk backward to find the last PUT/DEL and see whether a COMMIT or
	// ABORT terminates it.
	var last *txlog.Entry
	var terminal *txlog.Entry
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Type {
		case txlog.Commit, txlog.Abort:
			if terminal == nil {
				terminal = &e
			}
		case txlog.Put, txlog.Del:
			last = &e
		}
		if last != nil {
			break
		}
	}
	if last == nil {
		return s.Log.Clear()
	}

	if terminal != nil && terminal.Type == txlog.Commit {
		if err := s.applyCommitted(*last); err != nil {
			return err
		}
		s.log.Info().Msg("recovery: reapplied committed transaction")
	} else if terminal != nil && terminal.Type == txlog.Abort {
		s.log.Info().Msg("recovery: discarded aborted transaction")
	} else {
		s.pending = &pending{key: last.Key, value: last.Value, del: last.Type == txlog.Del, state: Ready}
		s.log.Warn().Msg("recovery: resuming in READY, awaiting master decision")
		return nil
	}
	return s.Log.Clear()
}

// applyCommitted applies a committed log entry write-through to cache
// then to store per §4.7: if the store write fails, the cache entry is
// discarded so the cache is never a strict superset of the store.
func (s *Server) applyCommitted(e txlog.Entry) error {
	if e.Type == txlog.Put {
		s.Cache.Put(e.Key, e.Value)
		if err := s.Store.Put(e.Key, e.Value); err != nil {
			s.Cache.Delete(e.Key) //nolint:errcheck // discard: store write failed
			return err
		}
		return nil
	}
	s.Cache.Delete(e.Key) //nolint:errcheck // best-effort, absence is fine
	err := s.Store.Delete(e.Key)
	if err != nil && !kverr.Is(err, kverr.KindNoKey) {
		return err
	}
	return nil
}

// Handle dispatches one request to the appropriate handler, routing to
// the TPC participant path when the server is configured for it and the
// message is one of the 2PC message types.
func (s *Server) Handle(req *wire.Message) *wire.Message {
	if s.tpc {
		switch req.Type {
		case wire.PutReq, wire.DelReq, wire.Commit, wire.Abort:
			return s.handleTPC(req)
		}
	}
	switch req.Type {
	case wire.GetReq:
		return s.handleGet(req)
	case wire.PutReq:
		return s.handlePut(req)
	case wire.DelReq:
		return s.handleDel(req)
	case wire.Info:
		return s.handleInfo()
	default:
		return errResp(kverr.New(kverr.KindNotImplemented))
	}
}

// handleGet implements §4.7 GET: cache first, then read-through from the
// store on a miss.
func (s *Server) handleGet(req *wire.Message) *wire.Message {
	if v, err := s.Cache.Get(req.Key); err == nil {
		return &wire.Message{Type: wire.GetResp, Value: v}
	}
	v, err := s.Store.Get(req.Key)
	if err != nil {
		return errResp(err)
	}
	s.Cache.Put(req.Key, v)
	return &wire.Message{Type: wire.GetResp, Value: v}
}

// handlePut implements §4.7 PUT: write-through to cache then to store; if
// the store write fails, the cache entry is discarded so the cache is
// never a strict superset of the store.
func (s *Server) handlePut(req *wire.Message) *wire.Message {
	s.Cache.Put(req.Key, req.Value)
	if err := s.Store.Put(req.Key, req.Value); err != nil {
		s.Cache.Delete(req.Key) //nolint:errcheck // discard: store write failed
		return errResp(err)
	}
	return &wire.Message{Type: wire.Resp, Message: kverr.Success}
}

// handleDel implements §4.7 DEL: best-effort cache delete, then store
// delete.
func (s *Server) handleDel(req *wire.Message) *wire.Message {
	s.Cache.Delete(req.Key) //nolint:errcheck // best-effort
	if err := s.Store.Delete(req.Key); err != nil {
		return errResp(err)
	}
	return &wire.Message{Type: wire.Resp, Message: kverr.Success}
}

// handleInfo implements §4.7 INFO.
func (s *Server) handleInfo() *wire.Message {
	msg := fmt.Sprintf("%s:%d %s", s.host, s.port, time.Now().Format(time.RFC3339))
	return &wire.Message{Type: wire.Resp, Message: msg}
}

// handleTPC drives the participant state machine of §4.8.
func (s *Server) handleTPC(req *wire.Message) *wire.Message {
	switch req.Type {
	case wire.PutReq, wire.DelReq:
		return s.vote(req)
	case wire.Commit:
		return s.decide(true)
	case wire.Abort:
		return s.decide(false)
	default:
		return errResp(kverr.New(kverr.KindNotImplemented))
	}
}

// vote handles the INIT transition: validate the request, log it, and
// reply VOTE_COMMIT or VOTE_ABORT.
func (s *Server) vote(req *wire.Message) *wire.Message {
	del := req.Type == wire.DelReq

	var valid bool
	if del {
		valid = s.Store.HasKey(req.Key)
	} else {
		valid = len(req.Key) > 0 && len(req.Key) <= s.keyMax() && len(req.Value) <= s.valMax()
	}

	if !valid {
		s.pending = &pending{key: req.Key, value: req.Value, del: del, state: AbortPending}
		return &wire.Message{Type: wire.VoteAbort}
	}

	logType := txlog.Put
	if del {
		logType = txlog.Del
	}
	if err := s.Log.Append(logType, req.Key, req.Value); err != nil {
		s.pending = &pending{key: req.Key, value: req.Value, del: del, state: AbortPending}
		return &wire.Message{Type: wire.VoteAbort}
	}

	s.pending = &pending{key: req.Key, value: req.Value, del: del, state: Ready}
	return &wire.Message{Type: wire.VoteCommit}
}

// decide handles the master's COMMIT/ABORT: apply (or discard) the
// pending operation, log the terminal record, reply ACK, and clear the
// transaction.
func (s *Server) decide(commit bool) *wire.Message {
	p := s.pending
	if commit && p != nil {
		if p.del {
			s.Cache.Delete(p.key) //nolint:errcheck // best-effort
			if err := s.Store.Delete(p.key); err != nil && !kverr.Is(err, kverr.KindNoKey) {
				s.log.Error().Err(err).Msg("apply commit: store delete failed")
			}
		} else {
			s.Cache.Put(p.key, p.value)
			if err := s.Store.Put(p.key, p.value); err != nil {
				s.log.Error().Err(err).Msg("apply commit: store put failed")
				s.Cache.Delete(p.key) //nolint:errcheck // discard: store write failed
			}
		}
		if err := s.Log.Append(txlog.Commit, nil, nil); err != nil {
			s.log.Error().Err(err).Msg("log commit record failed")
		}
	} else {
		if err := s.Log.Append(txlog.Abort, nil, nil); err != nil {
			s.log.Error().Err(err).Msg("log abort record failed")
		}
	}
	s.pending = nil
	return &wire.Message{Type: wire.Ack}
}

// Stats implements admin.StatsProvider.
func (s *Server) Stats() admin.Snapshot {
	return admin.Snapshot{Role: "slave", Host: s.host, Port: s.port}
}

func (s *Server) keyMax() int { return s.Store.KeyMax() }
func (s *Server) valMax() int { return s.Store.ValMax() }

func errResp(err error) *wire.Message {
	return &wire.Message{Type: wire.Resp, Message: kverr.KindOf(err).WireMessage()}
}
