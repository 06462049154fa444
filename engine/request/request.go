// Package request implements the request engine — the component every
// other module funnels outgoing PDUs through. It owns the
// preparing/processing bookkeeping, the piggyback-or-flush batching rule,
// the 24-bit snmp_id allocator, and the 5 Hz resend/timeout scan.
//
// gosnmp's own retry loop is disabled (transport.go dials with
// Retries: 0) precisely so this package can own retry scheduling instead:
// many bindings piggyback onto one in-flight request, retried on a fixed
// schedule, rather than one library-retried round trip per binding.
package request

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/host"
	"github.com/tillwatch/snmppoll/engine/loop"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/models"
)

// Code is the outcome reported to a binding's callback.
type Code int

const (
	// CodeOK means the binding's value was decoded successfully.
	CodeOK Code = 0
	// CodeTimeout means when_timeout elapsed with no satisfying response.
	CodeTimeout Code = -1
	// CodeNoSuchName covers NoSuchObject/NoSuchInstance/EndOfMibView,
	// folded into one code — the query walk treats all three the same.
	CodeNoSuchName Code = -2
)

// Callback receives one binding's outcome, invoked on the event loop
// goroutine. pdu is only meaningful when code == CodeOK — it carries the
// response varbind's OID, ASN.1 syntax, and raw value exactly as gosnmp
// decoded it, so callers that need more than a normalized numeric Sample
// (the query machine's match and row-walk classification) have what they
// need without a second round trip.
type Callback func(code Code, pdu gosnmp.SnmpPDU)

// maxSnmpID is the 24-bit ceiling on snmp_id; ids wrap back to 1
// (0 is reserved as "no request").
const maxSnmpID = 0xFFFFFF

type binding struct {
	oid string
	cb  Callback
}

// Request is one outstanding PDU envelope.
type Request struct {
	snmpID   uint32
	key      models.HostKey
	hostRef  *models.Host
	op       transport.Op
	bindings []binding
	setVal   transport.SetValue // only meaningful when op == OpSet

	retryInterval time.Duration
	retries       int
	timeout       time.Duration

	numSent     int
	nextSend    time.Time
	lastSent    time.Time
	whenTimeout time.Time
	flushArmed  bool
}

func (r *Request) liveCount() int {
	n := 0
	for _, b := range r.bindings {
		if b.cb != nil {
			n++
		}
	}
	return n
}

// Engine is the Request Engine. All methods run on the event loop
// goroutine; nothing here locks internally.
type Engine struct {
	loop      *loop.Loop
	transport *transport.Transport
	hosts     *host.Table
	logger    *slog.Logger

	defaultRetries int

	preparing  map[uint32]*Request
	processing map[uint32]*Request
	nextID     uint32

	resendTimer loop.TimerID
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithDefaultRetries overrides the retry count every request is created
// with. Retries have no per-group configuration home (only interval and
// timeout appear in the PollGroup model) — they are an engine-wide
// constant, default 3.
func WithDefaultRetries(n int) Option {
	return func(e *Engine) { e.defaultRetries = n }
}

// New creates a Request Engine wired to loop, transport, and the host
// table it sends through.
func New(l *loop.Loop, tr *transport.Transport, hosts *host.Table, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		loop:           l,
		transport:      tr,
		hosts:          hosts,
		logger:         logger,
		defaultRetries: 3,
		preparing:      make(map[uint32]*Request),
		processing:     make(map[uint32]*Request),
		nextID:         1,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start arms the 5 Hz resend/timeout scan.
func (e *Engine) Start() loop.TimerID {
	e.resendTimer = e.loop.Timer(200*time.Millisecond, func() bool {
		e.scanResend()
		return true
	})
	return e.resendTimer
}

// PrepInstance returns the host's existing preparing request if it
// matches op and has room, otherwise flushes any mismatched one and
// starts a new one. The returned *Request is opaque to callers outside
// this package; AddBinding is the only way to extend it.
func (e *Engine) PrepInstance(h *models.Host, key models.HostKey, interval, timeout time.Duration, op transport.Op) *Request {
	if existing, ok := h.Prepared.(*Request); ok {
		if existing.op == op && len(existing.bindings) < models.MaxBindings {
			return existing
		}
		e.flush(existing)
	}

	retryInterval := 600 * time.Millisecond
	if interval <= 2*time.Second {
		retryInterval = 200 * time.Millisecond
	}

	id := e.allocID()
	r := &Request{
		snmpID:        id,
		key:           key,
		hostRef:       h,
		op:            op,
		retryInterval: retryInterval,
		retries:       e.defaultRetries,
		timeout:       timeout,
		whenTimeout:   time.Now().Add(retryInterval*time.Duration(e.defaultRetries) + timeout),
	}
	e.preparing[id] = r
	h.Prepared = r
	return r
}

// allocID returns a fresh 24-bit id, skipping any currently live in
// either table: ids may wrap long before the table is anywhere near that
// size, so collisions with a still-live id must be skipped rather than
// assumed impossible.
func (e *Engine) allocID() uint32 {
	for {
		id := e.nextID
		e.nextID++
		if e.nextID > maxSnmpID {
			e.nextID = 1
		}
		if _, live := e.preparing[id]; live {
			continue
		}
		if _, live := e.processing[id]; live {
			continue
		}
		return id
	}
}

// AddBinding extends r by one OID/callback pair and returns the composite
// id (snmp_id<<8 | slot) the caller uses for Cancel. For non-Get requests
// exactly one binding is permitted and the request flushes immediately.
// For Get, a zero-delay one-shot timer is armed on the first binding to
// flush on the next loop iteration, batching any further bindings added
// in this same tick.
func (e *Engine) AddBinding(r *Request, oid string, cb Callback) uint32 {
	slot := len(r.bindings)
	r.bindings = append(r.bindings, binding{oid: oid, cb: cb})
	composite := (r.snmpID << 8) | uint32(slot)

	if r.op != transport.OpGet {
		e.flush(r)
		return composite
	}
	if !r.flushArmed {
		r.flushArmed = true
		e.loop.OneShot(0, func() { e.flush(r) })
	}
	return composite
}

// AddSetBinding is AddBinding for a Set request's single value-bearing
// binding: it records the value to write alongside the OID. r must have
// been created with transport.OpSet; like every non-Get request it flushes
// on its one and only binding.
func (e *Engine) AddSetBinding(r *Request, oid string, val transport.SetValue, cb Callback) uint32 {
	r.setVal = val
	return e.AddBinding(r, oid, cb)
}

// flush moves r from preparing to processing. Calling flush twice on the
// same request in one loop iteration — already flushed via AddBinding's
// one-shot, then again via an explicit Flush call — is a no-op the second
// time.
func (e *Engine) flush(r *Request) {
	if _, stillPreparing := e.preparing[r.snmpID]; !stillPreparing {
		return
	}
	delete(e.preparing, r.snmpID)
	if r.hostRef.Prepared == r {
		r.hostRef.Prepared = nil
	}
	r.nextSend = time.Now()
	e.processing[r.snmpID] = r
}

// Flush is the explicit flush entry point, used by callers that want to
// force a single-binding request out immediately rather than wait for the
// batching timer.
func (e *Engine) Flush(r *Request) {
	e.flush(r)
}

// FlushAllPreparing flushes every request currently being assembled,
// without waiting for each one's batching one-shot to fire on its own
// loop iteration. The poll scheduler calls this once at the end of every
// tick.
func (e *Engine) FlushAllPreparing() {
	for _, r := range e.preparing {
		e.flush(r)
	}
}

// Cancel detaches the callback at composite id id. If any other binding in
// the same request still has a live callback, the request itself stays
// alive; otherwise it is released from whichever table holds it.
func (e *Engine) Cancel(id uint32) {
	snmpID := id >> 8
	slot := int(id & 0xFF)

	if r, ok := e.preparing[snmpID]; ok {
		e.clearBinding(r, slot)
		if r.liveCount() == 0 {
			delete(e.preparing, snmpID)
			if r.hostRef.Prepared == r {
				r.hostRef.Prepared = nil
			}
		}
		return
	}
	if r, ok := e.processing[snmpID]; ok {
		e.clearBinding(r, slot)
		if r.liveCount() == 0 {
			delete(e.processing, snmpID)
		}
	}
}

func (e *Engine) clearBinding(r *Request, slot int) {
	if slot < 0 || slot >= len(r.bindings) {
		return
	}
	r.bindings[slot].cb = nil
}

// scanResend is the 5 Hz resend timer body: fail requests whose overall
// deadline has passed, send those due for another attempt.
func (e *Engine) scanResend() {
	now := time.Now()
	for id, r := range e.processing {
		if now.After(r.whenTimeout) || now.Equal(r.whenTimeout) {
			e.failTimeout(r)
			delete(e.processing, id)
			continue
		}
		if !r.nextSend.IsZero() && !now.Before(r.nextSend) {
			e.send(r)
		}
	}
}

// send performs one attempt and advances the retry schedule. A host that
// is unresolved at send time is a "virtual" send — it still counts toward
// retries but nothing goes on the wire.
func (e *Engine) send(r *Request) {
	r.numSent++
	if r.numSent <= r.retries {
		r.nextSend = time.Now().Add(r.retryInterval)
	} else {
		r.nextSend = time.Time{}
	}
	r.lastSent = time.Now()

	if !e.hosts.CanSend(r.hostRef) {
		return
	}

	oids := make([]string, 0, len(r.bindings))
	for _, b := range r.bindings {
		if b.cb != nil {
			oids = append(oids, b.oid)
		}
	}
	if len(oids) == 0 {
		return
	}

	attemptTimeout := r.retryInterval
	if remaining := time.Until(r.whenTimeout); remaining < attemptTimeout {
		attemptTimeout = remaining
	}
	if attemptTimeout <= 0 {
		attemptTimeout = r.timeout
	}

	snmpID := r.snmpID
	cb := func(res transport.Result) { e.onAttemptResult(snmpID, res) }
	if r.op == transport.OpSet {
		e.transport.DispatchSet(r.key, r.hostRef.Addr, oids[0], r.setVal, attemptTimeout, cb)
		return
	}
	e.transport.Dispatch(r.key, r.hostRef.Addr, r.op, oids, attemptTimeout, cb)
}

// onAttemptResult demuxes one Dispatch outcome against whatever bindings
// are still live on the request it belongs to. If the request has already
// been released — satisfied by an earlier attempt, cancelled, or timed
// out — this is a no-op.
func (e *Engine) onAttemptResult(snmpID uint32, res transport.Result) {
	r, ok := e.processing[snmpID]
	if !ok {
		return
	}

	if res.Err != nil {
		var statusErr *transport.StatusError
		if errors.As(res.Err, &statusErr) {
			code := Code(statusErr.Status)
			if statusErr.Status == gosnmp.NoSuchName {
				code = CodeNoSuchName
			}
			e.failAll(r, code)
			delete(e.processing, snmpID)
			return
		}
		// Transport-level failure (dial/send error): warn and let the
		// existing retry schedule carry the request forward.
		e.logger.Warn("request: dispatch failed", "host", r.key.Hostname, "error", res.Err.Error())
		return
	}

	switch r.op {
	case transport.OpGet:
		e.demuxGet(r, res.PDUs)
	default:
		e.demuxSingle(r, res.PDUs)
	}

	if r.liveCount() == 0 {
		delete(e.processing, snmpID)
	}
}

// demuxGet matches each response varbind to the binding whose requested
// OID it answers. Bindings the response didn't cover keep their
// callback in place, staying alive for the next scheduled retry. A
// callback may cancel the request mid-demux; the request's presence in
// processing is rechecked after every invocation and iteration stops the
// moment it is gone.
func (e *Engine) demuxGet(r *Request, pdus []gosnmp.SnmpPDU) {
	for _, pdu := range pdus {
		for i := range r.bindings {
			b := &r.bindings[i]
			if b.cb == nil || !sameOID(b.oid, pdu.Name) {
				continue
			}
			e.fireOne(b, pdu)
			if _, live := e.processing[r.snmpID]; !live {
				return
			}
			break
		}
	}
}

// demuxSingle handles GetNext/Set responses, which always carry exactly
// one live binding.
func (e *Engine) demuxSingle(r *Request, pdus []gosnmp.SnmpPDU) {
	for i := range r.bindings {
		b := &r.bindings[i]
		if b.cb == nil {
			continue
		}
		if len(pdus) == 0 {
			e.fire(b, CodeNoSuchName, gosnmp.SnmpPDU{})
			return
		}
		e.fireOne(b, pdus[0])
		return
	}
}

func (e *Engine) fireOne(b *binding, pdu gosnmp.SnmpPDU) {
	if transport.IsErrorType(pdu.Type) {
		e.fire(b, CodeNoSuchName, gosnmp.SnmpPDU{})
		return
	}
	e.fire(b, CodeOK, pdu)
}

func (e *Engine) fire(b *binding, code Code, pdu gosnmp.SnmpPDU) {
	cb := b.cb
	b.cb = nil
	cb(code, pdu)
}

// failAll fires every still-live binding with code and releases none of
// the request's bookkeeping itself — callers delete it from processing.
// Like demuxGet it stops iterating the moment a callback has cancelled
// the request out of processing; a release only happens once every
// remaining callback is already cleared, so no live binding is skipped.
func (e *Engine) failAll(r *Request, code Code) {
	for i := range r.bindings {
		b := &r.bindings[i]
		if b.cb == nil {
			continue
		}
		e.fire(b, code, gosnmp.SnmpPDU{})
		if _, live := e.processing[r.snmpID]; !live {
			return
		}
	}
}

// failTimeout fires every still-live binding with CodeTimeout.
func (e *Engine) failTimeout(r *Request) {
	e.failAll(r, CodeTimeout)
}

// sameOID compares two dotted OID strings ignoring a leading dot, since
// gosnmp echoes response varbind names with a leading "." that the
// original request OID may or may not carry.
func sameOID(a, b string) bool {
	return strings.TrimPrefix(a, ".") == strings.TrimPrefix(b, ".")
}

