// Package poll implements the poll scheduler: the per-group cycle driver
// that forces timed-out cycles to completion, starts the next cycle over
// every item, and hands each item to either a plain Get or the query
// state machine. All timing runs on the shared event-loop reactor
// (engine/loop) — every other component is already driven off that one
// goroutine, and a second timing mechanism would reintroduce the
// cross-goroutine races the loop exists to avoid.
package poll

import (
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/loop"
	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/models"
)

// Persister is the subset of the persist collaborator the scheduler
// calls at cycle termination. An interface here lets tests inject a
// recorder instead of a real RRD/raw writer.
type Persister interface {
	Persist(group *models.PollGroup, at time.Time)
}

// HostLookup resolves the host table entry an item should currently be
// polled against, honoring failover.
type HostLookup interface {
	Ensure(key models.HostKey, pollInterval time.Duration) *models.Host
}

// RequestEngine is the subset of engine/request.Engine the scheduler needs
// for the plain-Get path and the explicit per-cycle flush.
type RequestEngine interface {
	PrepInstance(h *models.Host, key models.HostKey, interval, timeout time.Duration, op transport.Op) *request.Request
	AddBinding(r *request.Request, oid string, cb request.Callback) uint32
	Cancel(id uint32)
	FlushAllPreparing()
}

// QueryDriver is the subset of engine/query.Machine the scheduler needs to
// hand queried items over to the query state machine.
type QueryDriver interface {
	Poll(h *models.Host, item *models.Item, interval, timeout time.Duration, done func())
	Cancel(item *models.Item)
}

// Scheduler dispatches poll-group cycles over the shared event loop.
type Scheduler struct {
	loop      *loop.Loop
	req       RequestEngine
	qmachine  QueryDriver
	hosts     HostLookup
	persister Persister
	logger    *slog.Logger

	groups []*models.PollGroup
}

// New creates a Scheduler. Call AddGroup for every configured poll group,
// then StartAll once the loop is running.
func New(l *loop.Loop, req RequestEngine, qmachine QueryDriver, hosts HostLookup, persister Persister, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{loop: l, req: req, qmachine: qmachine, hosts: hosts, persister: persister, logger: logger}
}

// AddGroup registers a poll group to be scheduled once StartAll runs.
func (s *Scheduler) AddGroup(g *models.PollGroup) {
	s.groups = append(s.groups, g)
}

// StartAll arms every group's startup jitter: a one-shot somewhere inside
// the group's interval whose callback arms the repeating interval timer
// and immediately fires it, spreading group start times so a restart does
// not slam every device at once.
func (s *Scheduler) StartAll() {
	for _, g := range s.groups {
		g := g
		jitter := time.Duration(rand.Int63n(int64(g.Interval))) //nolint:gosec
		s.loop.OneShot(jitter, func() {
			s.loop.Timer(g.Interval, func() bool {
				s.tick(g)
				return true
			})
			s.tick(g)
		})
	}
}

// tick runs one poll-group cycle: force-complete the previous cycle if it
// is still running, record the cycle start, dispatch every item, then
// flush whatever batched up.
func (s *Scheduler) tick(g *models.PollGroup) {
	now := time.Now()

	if g.Polling {
		s.forceComplete(g, now)
	}

	g.LastRequest = now
	g.Polling = true

	for _, it := range g.Items {
		it.LastRequest = now
		h := s.hosts.Ensure(it.CurrentKey(), g.Interval)
		done := func() { s.maybeFinish(g) }
		if it.HasQuery {
			s.qmachine.Poll(h, it, g.Interval, g.Timeout, done)
			continue
		}
		s.pollPlain(h, it, g.Interval, g.Timeout, done)
	}

	s.req.FlushAllPreparing()
}

// pollPlain issues the non-query scalar Get path.
func (s *Scheduler) pollPlain(h *models.Host, it *models.Item, interval, timeout time.Duration, done func()) {
	key := it.CurrentKey()
	r := s.req.PrepInstance(h, key, interval, timeout, transport.OpGet)
	id := s.req.AddBinding(r, it.FieldOID, func(code request.Code, pdu gosnmp.SnmpPDU) {
		it.FieldRequest = 0
		if code == request.CodeOK {
			if sample, ok := transport.SampleOf(pdu.Type, pdu.Value); ok {
				it.Value = sample
			} else {
				it.Value = models.UnsetSample
			}
		} else {
			it.Value = models.UnsetSample
			s.failover(it)
		}
		it.LastPolled = time.Now()
		done()
	})
	it.FieldRequest = id
}

// failover advances a failed item to its next alternate hostname, logging
// the change. The new host takes effect from the next cycle.
func (s *Scheduler) failover(it *models.Item) {
	prev := it.CurrentHostname()
	it.Failover()
	if next := it.CurrentHostname(); next != prev {
		s.logger.Info("poll: item failing over to alternate host",
			"field", it.Field, "from", prev, "to", next)
	}
}

// maybeFinish checks whether the whole group has become quiescent and, if
// so, triggers finishPoll.
func (s *Scheduler) maybeFinish(g *models.PollGroup) {
	if !g.Polling {
		return
	}
	for _, it := range g.Items {
		if it.Outstanding() {
			return
		}
	}
	s.finishPoll(g, time.Now())
}

// finishPoll terminates a cycle in which every item became quiescent on
// its own.
func (s *Scheduler) finishPoll(g *models.PollGroup, at time.Time) {
	g.LastPolled = at
	for _, it := range g.Items {
		if it.HasQuery && !it.QueryMatched {
			it.Value = models.UnsetSample
		}
	}
	s.persister.Persist(g, at)
	g.Polling = false
}

// forceComplete cancels every item still outstanding from the previous
// cycle, marks it unset, and records a midpoint last_polled before the
// new cycle's state overwrites it.
func (s *Scheduler) forceComplete(g *models.PollGroup, now time.Time) {
	any := false
	for _, it := range g.Items {
		if !it.Outstanding() {
			continue
		}
		any = true
		if it.HasQuery {
			s.qmachine.Cancel(it)
		} else if it.FieldRequest != 0 {
			s.req.Cancel(it.FieldRequest)
			it.FieldRequest = 0
		}
		it.Value = models.UnsetSample
		if it.HasQuery {
			it.QueryMatched = false
		}
		mid := it.LastRequest.Add(now.Sub(it.LastRequest) / 2)
		it.LastPolled = mid
	}
	if !any {
		return
	}
	g.LastPolled = g.LastRequest.Add(now.Sub(g.LastRequest) / 2)
	s.persister.Persist(g, g.LastPolled)
	g.Polling = false
}
