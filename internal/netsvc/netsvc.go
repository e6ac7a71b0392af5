// Package netsvc provides the TCP transport glue shared by every server in
// this module: an Acceptor that turns inbound connections into work-queue
// jobs (§4.10), and a Connector used by the coordinator to dial replicas
// and exchange exactly one wire request/response per call (§4.9, §5).
package netsvc

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/kvring/internal/kverr"
	"github.com/dreamware/kvring/internal/queue"
	"github.com/dreamware/kvring/internal/wire"
)

// Acceptor listens on a TCP address and pushes each accepted connection
// onto a bounded work queue for a worker pool to service. It owns no
// request-handling logic of its own.
type Acceptor struct {
	log      zerolog.Logger
	listener net.Listener
	queue    *queue.Queue
}

// Listen binds addr and returns an Acceptor ready to Serve.
func Listen(addr string, q *queue.Queue, log zerolog.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, kverr.Wrap(kverr.KindTransport, err)
	}
	return &Acceptor{log: log, listener: ln, queue: q}, nil
}

// Addr returns the bound local address, useful when addr was "host:0".
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Serve accepts connections in a loop, pushing each onto the work queue,
// until the listener is closed (Stop). It is meant to run on its own
// goroutine — the acceptor thread of §5, which only ever enqueues.
func (a *Acceptor) Serve() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			a.log.Info().Err(err).Msg("acceptor: listener closed")
			return
		}
		if !a.queue.Push(conn) {
			conn.Close()
			return
		}
	}
}

// Stop closes the listener, causing Serve to return.
func (a *Acceptor) Stop() error {
	return a.listener.Close()
}

// Handler answers one request with one response. Both the coordinator
// and the replica server satisfy this via their Handle method.
type Handler func(*wire.Message) *wire.Message

// Serve pops job handles off q and services each as exactly one
// request/response before closing it (§5: "each handler reads one
// request, produces one response, flushes, and closes the socket").
// Serve blocks until q is closed and drained; run it on each of the
// max_threads goroutines of the worker pool.
func Serve(q *queue.Queue, handle Handler, log zerolog.Logger) {
	for {
		job, ok := q.Pop()
		if !ok {
			return
		}
		serveOne(job.(net.Conn), handle, log)
	}
}

func serveOne(conn net.Conn, handle Handler, log zerolog.Logger) {
	defer conn.Close()
	req, err := wire.ReadFrom(conn)
	if err != nil {
		log.Warn().Err(err).Msg("worker: failed to read request")
		return
	}
	resp := handle(req)
	if err := wire.WriteTo(conn, resp); err != nil {
		log.Warn().Err(err).Msg("worker: failed to write response")
	}
}

// Connector dials replicas on the coordinator's behalf with a fixed
// connect timeout (T_CONNECT, §4.9/§5, default 1 second).
type Connector struct {
	Timeout time.Duration
}

// NewConnector builds a Connector with the given connect timeout. A
// non-positive timeout falls back to the design's 1-second default.
func NewConnector(timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Connector{Timeout: timeout}
}

// RequestResponse dials addr, writes req as a single frame, reads back
// exactly one frame, and closes the connection — the coordinator's
// one-shot request helper used in both 2PC phases and the GET path.
func (c *Connector) RequestResponse(addr string, req *wire.Message) (*wire.Message, error) {
	conn, err := net.DialTimeout("tcp", addr, c.Timeout)
	if err != nil {
		return nil, kverr.Wrap(kverr.KindTimeout, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		return nil, kverr.Wrap(kverr.KindTransport, err)
	}
	if err := wire.WriteTo(conn, req); err != nil {
		return nil, err
	}
	return wire.ReadFrom(conn)
}
