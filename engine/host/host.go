// Package host implements the host table and its resolution policy.
//
// Every method here runs on the event loop goroutine only, so the table
// itself needs no internal locking; the one cross-thread boundary (the
// resolver) is bridged through resolver.Result values posted back onto the
// loop via loop.Post by the engine wiring code.
package host

import (
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/tillwatch/snmppoll/engine/loop"
	"github.com/tillwatch/snmppoll/engine/resolver"
	"github.com/tillwatch/snmppoll/models"
)

// Queue is the slice of the Async Resolver the table enqueues jobs on;
// tests substitute a recording fake so resolve-policy behaviour can be
// asserted without real DNS traffic.
type Queue interface {
	Queue(resolver.Job)
}

// Table owns every Host the engine currently knows about.
type Table struct {
	loop     *loop.Loop
	resolver Queue
	logger   *slog.Logger

	hosts map[models.HostKey]*models.Host

	// loggedUnresolved tracks which hosts already got a
	// sending-while-unresolved debug line this episode, so repeated send
	// attempts don't flood logs.
	loggedUnresolved map[models.HostKey]bool
}

// New creates an empty Table. Call StartScanning once the loop is running
// to begin the 1Hz resolve-policy scan.
func New(l *loop.Loop, r Queue, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Table{
		loop:             l,
		resolver:         r,
		logger:           logger,
		hosts:            make(map[models.HostKey]*models.Host),
		loggedUnresolved: make(map[models.HostKey]bool),
	}
}

// Ensure returns the Host for key, creating it on first reference. If the
// host already exists and pollInterval would derive a smaller resolve
// interval than the one currently in effect, the smaller interval wins —
// when several poll groups share a host, the most impatient one sets the
// resolve cadence.
func (t *Table) Ensure(key models.HostKey, pollInterval time.Duration) *models.Host {
	interval := models.ResolveIntervalFor(pollInterval)

	h, ok := t.hosts[key]
	if !ok {
		h = &models.Host{Key: key, ResolveInterval: interval}
		t.hosts[key] = h
		t.classify(h)
		return h
	}
	if interval < h.ResolveInterval {
		h.ResolveInterval = interval
	}
	return h
}

// classify parses key.Hostname as a literal address first; on success the
// host is immediately resolved and never needs background resolution.
// Otherwise it is marked for resolution and a resolve is queued right away.
func (t *Table) classify(h *models.Host) {
	if ip := net.ParseIP(h.Key.Hostname); ip != nil {
		h.MustResolve = false
		h.IsResolved = true
		h.Addr = &net.UDPAddr{IP: ip, Port: int(h.Key.Port)}
		h.LastResolved = time.Now()
		return
	}
	h.MustResolve = true
	h.IsResolved = false
	t.requestResolve(h)
}

// requestResolve enqueues a resolve job and marks the host as resolving.
// IsResolving stays true until the matching Result is consumed by
// HandleResolveResult, so at most one resolve job per host is ever
// outstanding.
func (t *Table) requestResolve(h *models.Host) {
	if h.IsResolving {
		return
	}
	h.IsResolving = true
	h.LastResolveTry = time.Now()
	t.resolver.Queue(resolver.Job{
		Ref:      h.Key,
		Hostname: h.Key.Hostname,
		Port:     h.Key.Port,
	})
}

// HandleResolveResult applies one resolver.Result to the matching Host. It
// must be called on the loop goroutine (the engine wiring forwards results
// via loop.Post).
func (t *Table) HandleResolveResult(res resolver.Result) {
	key, ok := res.Ref.(models.HostKey)
	if !ok {
		return
	}
	h, ok := t.hosts[key]
	if !ok {
		return
	}
	h.IsResolving = false
	if res.Err != nil {
		// Resolver error: keep whatever address we had (possibly none);
		// the next scan retries once the interval elapses.
		t.logger.Warn("host: resolve failed", "host", key.Hostname, "error", res.Err.Error())
		return
	}
	h.Addr = res.Addr
	h.IsResolved = true
	h.LastResolved = time.Now()
}

// StartScanning arms the 1Hz resolve-policy timer:
//
//  1. If MustResolve and now-LastResolveTry >= ResolveInterval and not
//     already resolving, enqueue a resolve job.
//  2. If IsResolved and now-LastResolved > 3*ResolveInterval, mark the
//     address expired.
func (t *Table) StartScanning() loop.TimerID {
	return t.loop.Timer(time.Second, func() bool {
		now := time.Now()
		for _, h := range t.hosts {
			if h.MustResolve && !h.IsResolving && now.Sub(h.LastResolveTry) >= h.ResolveInterval {
				t.requestResolve(h)
			}
			if h.IsResolved && now.Sub(h.LastResolved) > 3*h.ResolveInterval {
				h.IsResolved = false
			}
		}
		return true
	})
}

// CanSend reports whether h currently has a usable resolved address. A
// host unresolved at send time gets one debug line per unresolved episode,
// not one per attempt.
func (t *Table) CanSend(h *models.Host) bool {
	if h.IsResolved {
		t.loggedUnresolved[h.Key] = false
		return true
	}
	if !t.loggedUnresolved[h.Key] {
		t.logger.Debug("host: unresolved at send time", "host", h.Key.Hostname)
		t.loggedUnresolved[h.Key] = true
	}
	return false
}

// Get returns the Host for key if it has been created, for tests and
// diagnostics.
func (t *Table) Get(key models.HostKey) (*models.Host, bool) {
	h, ok := t.hosts[key]
	return h, ok
}

// Len reports the number of distinct hosts known to the table.
func (t *Table) Len() int { return len(t.hosts) }
