package coordinator

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/kvring/internal/kverr"
	"github.com/dreamware/kvring/internal/netsvc"
	"github.com/dreamware/kvring/internal/wire"
)

// retryBackoffCap bounds the coordinator's phase-2 retry backoff. The
// source used a 1-second timeout with no retry policy in phase 2; this
// design mandates unbounded retry to preserve atomicity, since a
// participant blocks in READY until it is told otherwise (§9 "TPC
// timeout policy").
const retryBackoffCap = time.Second

// phase1DialLimit bounds how many replicas the driver dials concurrently
// during phase 1, so a large redundancy setting can't open unbounded
// outbound connections at once.
const phase1DialLimit = 8

// Hooks lets a caller observe the 2PC driver's progress: onUnreachable
// fires once per slave that failed to respond in phase 1; onPhaseTransition
// fires once between phase 1 and phase 2, regardless of outcome (§4.9
// "Barrier").
type Hooks struct {
	OnUnreachable     func(Slave)
	OnPhaseTransition func()
}

// Driver runs the two-phase commit protocol across a fixed set of
// replicas for one PUT or DEL operation.
type Driver struct {
	connector *netsvc.Connector
	log       zerolog.Logger
}

// NewDriver builds a Driver that dials replicas through connector.
func NewDriver(connector *netsvc.Connector, log zerolog.Logger) *Driver {
	return &Driver{connector: connector, log: log}
}

// vote is phase 1's outcome for one replica: whether it was reachable at
// all, and if so, whether it voted to commit.
type vote struct {
	slave      Slave
	reachable  bool
	voteCommit bool
}

// Run drives phase 1 (voting) and phase 2 (decision) across replicas for
// one request, returning nil on commit or a generic error on abort
// (§4.9). hooks may be the zero value.
func (d *Driver) Run(replicas []Slave, req *wire.Message, hooks Hooks) error {
	votes := d.phase1(replicas, req, hooks)

	if hooks.OnPhaseTransition != nil {
		hooks.OnPhaseTransition()
	}

	commit := true
	var toDecide []Slave
	for _, v := range votes {
		if !v.reachable {
			commit = false
			continue
		}
		toDecide = append(toDecide, v.slave)
		if !v.voteCommit {
			commit = false
		}
	}

	decision := &wire.Message{Type: wire.Abort}
	if commit {
		decision = &wire.Message{Type: wire.Commit}
	}
	d.phase2(toDecide, decision)

	if !commit {
		return kverr.New(kverr.KindUnableToProcess)
	}
	return nil
}

// phase1 sends req to every replica concurrently (bounded by
// phase1DialLimit) and collects votes. An unreachable slave counts as
// VOTE_ABORT and triggers hooks.OnUnreachable.
func (d *Driver) phase1(replicas []Slave, req *wire.Message, hooks Hooks) []vote {
	votes := make([]vote, len(replicas))

	var g errgroup.Group
	g.SetLimit(phase1DialLimit)
	for i, s := range replicas {
		i, s := i, s
		g.Go(func() error {
			resp, err := d.connector.RequestResponse(s.Addr(), req)
			if err != nil {
				votes[i] = vote{slave: s, reachable: false}
				if hooks.OnUnreachable != nil {
					hooks.OnUnreachable(s)
				}
				d.log.Warn().Str("slave", s.Addr()).Err(err).Msg("phase 1: slave unreachable, counted as VOTE_ABORT")
				return nil
			}
			votes[i] = vote{slave: s, reachable: true, voteCommit: resp.Type == wire.VoteCommit}
			return nil
		})
	}
	_ = g.Wait()
	return votes
}

// phase2 sends decision to every replica that survived phase 1 and
// retries indefinitely (with a capped backoff) until each ACKs, since a
// READY participant blocks awaiting exactly this message.
func (d *Driver) phase2(replicas []Slave, decision *wire.Message) {
	pending := append([]Slave(nil), replicas...)
	backoff := 10 * time.Millisecond

	for len(pending) > 0 {
		var retry []Slave
		for _, s := range pending {
			resp, err := d.connector.RequestResponse(s.Addr(), decision)
			if err != nil || resp.Type != wire.Ack {
				retry = append(retry, s)
				continue
			}
		}
		pending = retry
		if len(pending) == 0 {
			break
		}
		d.log.Warn().Int("remaining", len(pending)).Msg("phase 2: retrying decision delivery")
		time.Sleep(backoff)
		if backoff < retryBackoffCap {
			backoff *= 2
			if backoff > retryBackoffCap {
				backoff = retryBackoffCap
			}
		}
	}
}
