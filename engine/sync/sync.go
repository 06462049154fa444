// Package sync implements a blocking request/response adapter over the
// async polling engine, used by the one-shot CLI probe tools (cmd/snmpget,
// cmd/snmpwalk, cmd/snmpset) instead of a standing daemon.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/host"
	"github.com/tillwatch/snmppoll/engine/loop"
	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/resolver"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/models"
)

// Engine adapts the async engine into blocking calls. Calls on one Engine
// must be sequential; each runs its private loop until the round trip
// completes and resets it afterwards, so one Engine can serve many calls.
// The loop-is-stopped precondition each call relies on is met
// structurally: each Engine owns a private loop/resolver/host/transport/
// request stack instead of sharing one with a running daemon.
type Engine struct {
	loop     *loop.Loop
	hosts    *host.Table
	resolver *resolver.Resolver
	tr       *transport.Transport
	req      *request.Engine
}

// New builds a private engine stack. The loop is not running yet; Request
// starts and stops it around a single round trip.
func New(logger *slog.Logger) *Engine {
	l := loop.New()
	res := resolver.New(4)
	hosts := host.New(l, res, logger)
	tr := transport.New(l, logger)
	req := request.New(l, tr, hosts, logger)
	req.Start()

	res.Start()
	e := &Engine{loop: l, hosts: hosts, resolver: res, tr: tr, req: req}
	go e.forwardResolveResults()
	return e
}

// forwardResolveResults drains the resolver's result channel onto the
// loop goroutine, same forwarding role as engine.Engine's — a private,
// one-shot-lifetime copy of it since this Engine owns its own loop/
// resolver/host stack rather than sharing a daemon's.
func (e *Engine) forwardResolveResults() {
	for {
		select {
		case res := <-e.resolver.Results():
			e.loop.Post(func() { e.hosts.HandleResolveResult(res) })
		case <-e.resolver.Done():
			return
		}
	}
}

// Close releases the resolver worker and the transport's sockets. Call
// once after this Engine's last Request.
func (e *Engine) Close() {
	e.resolver.Stop()
	e.tr.Close()
}

// Request issues one blocking binding: build a one-shot
// response recorder, issue the request via the async engine, explicit
// flush, run the loop until the callback fires or ctx is done, then stop.
// Returns code -1 if the loop stopped without ever seeing a response (ctx
// cancelled before the engine's own retry/timeout schedule resolved it).
func (e *Engine) Request(ctx context.Context, key models.HostKey, interval, timeout time.Duration, op transport.Op, oid string) (request.Code, gosnmp.SnmpPDU, error) {
	return e.roundTrip(ctx, key, interval, timeout, func(h *models.Host, record request.Callback) {
		r := e.req.PrepInstance(h, key, interval, timeout, op)
		e.req.AddBinding(r, oid, record)
		e.req.Flush(r)
	})
}

// Set issues one blocking Set against the target, writing val to oid. Used
// by cmd/snmpset; the engine side is the same single-binding non-Get path
// GetNext takes, with the value carried alongside the binding.
func (e *Engine) Set(ctx context.Context, key models.HostKey, timeout time.Duration, oid string, val transport.SetValue) (request.Code, gosnmp.SnmpPDU, error) {
	return e.roundTrip(ctx, key, timeout, timeout, func(h *models.Host, record request.Callback) {
		r := e.req.PrepInstance(h, key, timeout, timeout, transport.OpSet)
		e.req.AddSetBinding(r, oid, val, record)
		e.req.Flush(r)
	})
}

// roundTrip runs one Run/Stop cycle of the private loop around a single
// issued binding: issue runs on the loop goroutine and must arrange for
// record to be invoked exactly once; record stops the loop.
func (e *Engine) roundTrip(ctx context.Context, key models.HostKey, interval, timeout time.Duration, issue func(h *models.Host, record request.Callback)) (request.Code, gosnmp.SnmpPDU, error) {
	// Each call is its own Run/Stop cycle: reset the loop's stop/done
	// signalling before reusing it for this round trip. A no-op in cost
	// on the very first call (New's channels are already fresh).
	e.loop.Reset()

	h := e.hosts.Ensure(key, interval)

	var (
		code request.Code
		pdu  gosnmp.SnmpPDU
		got  bool
	)

	done := make(chan struct{})
	go func() {
		e.loop.Run()
		close(done)
	}()

	e.loop.Post(func() {
		issue(h, func(c request.Code, p gosnmp.SnmpPDU) {
			code, pdu, got = c, p, true
			e.loop.Stop()
		})
	})

	select {
	case <-ctx.Done():
		e.loop.Stop()
		<-done
		return -1, gosnmp.SnmpPDU{}, ctx.Err()
	case <-done:
	}

	if !got {
		return -1, gosnmp.SnmpPDU{}, fmt.Errorf("sync: loop stopped before a response arrived")
	}
	return code, pdu, nil
}

// Get is a convenience wrapper for the common scalar Get case, decoding the
// response into a models.Sample.
func (e *Engine) Get(ctx context.Context, key models.HostKey, timeout time.Duration, oid string) (models.Sample, request.Code, error) {
	code, pdu, err := e.Request(ctx, key, timeout, timeout, transport.OpGet, oid)
	if err != nil {
		return models.UnsetSample, code, err
	}
	if code != request.CodeOK {
		return models.UnsetSample, code, nil
	}
	sample, ok := transport.SampleOf(pdu.Type, pdu.Value)
	if !ok {
		return models.UnsetSample, code, nil
	}
	return sample, code, nil
}
