package coordinator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/kvring/internal/admin"
	"github.com/dreamware/kvring/internal/cache"
	"github.com/dreamware/kvring/internal/kverr"
	"github.com/dreamware/kvring/internal/metrics"
	"github.com/dreamware/kvring/internal/netsvc"
	"github.com/dreamware/kvring/internal/wire"
)

// Config carries the construction parameters for a Coordinator.
type Config struct {
	Logger     zerolog.Logger
	Metrics    metrics.Sink
	Capacity   int           // slave_capacity
	Redundancy int           // replicas per key
	CacheSets  int           // N
	CacheCap   int           // M per set
	Connect    time.Duration // T_CONNECT
	Host       string
	Port       int
}

// Coordinator is the master: it fronts a Registry of replicas with a
// read-through cache and a 2PC driver, exposing the same client-facing
// wire surface as a replica server (§4.9).
type Coordinator struct {
	Registry   *Registry
	cache      *cache.Cache
	driver     *Driver
	log        zerolog.Logger
	metrics    metrics.Sink
	redundancy int
	host       string
	port       int
}

// New builds a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	sink := cfg.Metrics
	if sink == nil {
		sink = metrics.Noop
	}
	connector := netsvc.NewConnector(cfg.Connect)
	return &Coordinator{
		Registry:   NewRegistry(cfg.Capacity),
		cache:      cache.NewCache(cfg.CacheSets, cfg.CacheCap, sink),
		driver:     NewDriver(connector, cfg.Logger),
		log:        cfg.Logger,
		metrics:    sink,
		redundancy: cfg.Redundancy,
		host:       cfg.Host,
		port:       cfg.Port,
	}
}

// Handle dispatches one client-facing request.
func (c *Coordinator) Handle(req *wire.Message) *wire.Message {
	switch req.Type {
	case wire.GetReq:
		return c.handleGet(req)
	case wire.PutReq:
		return c.handlePut(req)
	case wire.DelReq:
		return c.handleDel(req)
	case wire.Register:
		return c.handleRegister(req)
	case wire.Info:
		return c.handleInfo()
	default:
		return &wire.Message{Type: wire.Resp, Message: kverr.New(kverr.KindNotImplemented).Error()}
	}
}

// handleGet implements §4.9's GET path: master cache, then primary, then
// successors up to redundancy, filling the master cache on the first hit.
func (c *Coordinator) handleGet(req *wire.Message) *wire.Message {
	if v, err := c.cache.Get(req.Key); err == nil {
		return &wire.Message{Type: wire.GetResp, Value: v}
	}

	replicas := c.Registry.Replicas(string(req.Key), c.redundancy)
	for _, s := range replicas {
		resp, err := c.driver.connector.RequestResponse(s.Addr(), req)
		if err != nil || resp.Type != wire.GetResp {
			continue
		}
		c.cache.Put(req.Key, resp.Value)
		return &wire.Message{Type: wire.GetResp, Value: resp.Value}
	}
	return &wire.Message{Type: wire.Resp, Message: kverr.New(kverr.KindNoKey).Error()}
}

// handlePut implements the two-phase PUT path: drive 2PC across the
// key's replica set, then write through the master cache on commit.
func (c *Coordinator) handlePut(req *wire.Message) *wire.Message {
	replicas := c.Registry.Replicas(string(req.Key), c.redundancy)
	if len(replicas) == 0 {
		return &wire.Message{Type: wire.Resp, Message: kverr.New(kverr.KindUnableToProcess).Error()}
	}

	err := c.driver.Run(replicas, req, c.hooks())
	if err != nil {
		c.metrics.IncTPCAbort()
		return &wire.Message{Type: wire.Resp, Message: kverr.KindOf(err).WireMessage()}
	}
	c.metrics.IncTPCCommit()
	c.cache.Put(req.Key, req.Value)
	return &wire.Message{Type: wire.Resp, Message: kverr.Success}
}

// handleDel implements the two-phase DEL path: drive 2PC, then evict
// from the master cache on commit.
func (c *Coordinator) handleDel(req *wire.Message) *wire.Message {
	replicas := c.Registry.Replicas(string(req.Key), c.redundancy)
	if len(replicas) == 0 {
		return &wire.Message{Type: wire.Resp, Message: kverr.New(kverr.KindUnableToProcess).Error()}
	}

	err := c.driver.Run(replicas, req, c.hooks())
	if err != nil {
		c.metrics.IncTPCAbort()
		return &wire.Message{Type: wire.Resp, Message: kverr.KindOf(err).WireMessage()}
	}
	c.metrics.IncTPCCommit()
	c.cache.Delete(req.Key) //nolint:errcheck // absence after a committed DEL is expected
	return &wire.Message{Type: wire.Resp, Message: kverr.Success}
}

// handleRegister implements REGISTER(host, port). The request's Value
// field carries "<port>:<host>", the same string hashed into the
// slave's id, so the wire encoding and the id derivation never disagree.
func (c *Coordinator) handleRegister(req *wire.Message) *wire.Message {
	host, port, err := parseHostPort(req.Value)
	if err != nil {
		return &wire.Message{Type: wire.Resp, Message: kverr.New(kverr.KindInvalidRequest).Error()}
	}
	if _, err := c.Registry.Register(host, port); err != nil {
		return &wire.Message{Type: wire.Resp, Message: kverr.KindOf(err).WireMessage()}
	}
	return &wire.Message{Type: wire.Resp, Message: kverr.Success}
}

// Stats implements admin.StatsProvider.
func (c *Coordinator) Stats() admin.Snapshot {
	return admin.Snapshot{Role: "master", Host: c.host, Port: c.port, SlaveCount: c.Registry.Count()}
}

func (c *Coordinator) handleInfo() *wire.Message {
	msg := fmt.Sprintf("%s:%d %s slaves=%d", c.host, c.port, time.Now().Format(time.RFC3339), c.Registry.Count())
	return &wire.Message{Type: wire.Resp, Message: msg}
}

func (c *Coordinator) hooks() Hooks {
	return Hooks{
		OnUnreachable: func(s Slave) {
			c.metrics.IncTPCUnreachable()
			c.log.Warn().Str("slave", s.Addr()).Msg("coordinator: slave unreachable in phase 1")
		},
		OnPhaseTransition: func() {},
	}
}

func parseHostPort(value []byte) (string, int, error) {
	var host string
	var port int
	_, err := fmt.Sscanf(string(value), "%d:%s", &port, &host)
	if err != nil {
		return "", 0, kverr.New(kverr.KindInvalidRequest)
	}
	return host, port, nil
}
