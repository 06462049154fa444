// Package transport implements the SNMP wire layer: per-host UDP
// sessions, v1/v2c Get/GetNext/Set dispatch, and the response delivery
// that feeds results back to the event loop.
//
// gosnmp owns the actual BER/ASN.1 framing and the wire buffer; its
// public surface is a connected session, not a raw socket, so this
// package keeps one persistent session per Host, each driven by a
// dedicated goroutine — gosnmp sessions are not safe for concurrent Get
// calls.
package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/loop"
	"github.com/tillwatch/snmppoll/models"
)

// Op selects which PDU type a Dispatch call sends.
type Op uint8

const (
	OpGet Op = iota
	OpGetNext
	OpSet
)

// SetValue carries the binding for an OpSet dispatch. Nothing in the
// polling path issues a Set; it exists for the probe tools (cmd/snmpset).
type SetValue struct {
	Type  gosnmp.Asn1BER
	Value interface{}
}

// Result is what a dispatch goroutine reports back to the loop.
type Result struct {
	PDUs []gosnmp.SnmpPDU
	Err  error
}

// StatusError wraps a non-NoError SNMP response error-status. Distinct
// from a transport-level failure (dial/send/timeout error) so the request
// engine can tell "the agent answered but rejected the PDU" apart from
// "no answer arrived" — the former fails every live callback immediately
// instead of retrying.
type StatusError struct {
	Status gosnmp.SNMPError
	Index  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("snmp error status %v at index %d", e.Status, e.Index)
}

// Callback receives the outcome of one Dispatch call, invoked on the event
// loop goroutine.
type Callback func(Result)

type job struct {
	oids    []string
	op      Op
	setVal  SetValue
	timeout time.Duration
	version models.SNMPVersion
	community string
	addr    *net.UDPAddr
	cb      Callback
}

// hostSession is the per-host actor: one goroutine owns the connected
// gosnmp session and drains jobs off its channel sequentially.
type hostSession struct {
	jobs chan job
	quit chan struct{}
	conn *gosnmp.GoSNMP
}

// Transport dispatches SNMP operations against resolved hosts.
type Transport struct {
	loop     *loop.Loop
	logger   *slog.Logger
	sessions map[models.HostKey]*hostSession
}

// New creates a Transport bound to the given event loop.
func New(l *loop.Loop, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		loop:     l,
		logger:   logger,
		sessions: make(map[models.HostKey]*hostSession),
	}
}

// Dispatch sends one PDU (Get may carry up to MaxBindings oids; GetNext and
// Set carry exactly one) against host, and invokes cb on the event loop
// goroutine once a response, error, or this attempt's timeout elapses.
//
// Dispatch only performs a single attempt — it does not retry. Retry
// scheduling is the request engine's responsibility: each retry is a
// fresh Dispatch call issued by the 5Hz resend timer.
func (t *Transport) Dispatch(key models.HostKey, addr *net.UDPAddr, op Op, oids []string, attemptTimeout time.Duration, cb Callback) {
	hs := t.sessionFor(key)
	j := job{
		oids:      oids,
		op:        op,
		timeout:   attemptTimeout,
		version:   key.Version,
		community: key.Community,
		addr:      addr,
		cb:        cb,
	}
	select {
	case hs.jobs <- j:
	case <-hs.quit:
	}
}

// DispatchSet is Dispatch specialized for a Set PDU's single value-bearing
// binding.
func (t *Transport) DispatchSet(key models.HostKey, addr *net.UDPAddr, oid string, value SetValue, attemptTimeout time.Duration, cb Callback) {
	hs := t.sessionFor(key)
	j := job{
		oids:      []string{oid},
		op:        OpSet,
		setVal:    value,
		timeout:   attemptTimeout,
		version:   key.Version,
		community: key.Community,
		addr:      addr,
		cb:        cb,
	}
	select {
	case hs.jobs <- j:
	case <-hs.quit:
	}
}

func (t *Transport) sessionFor(key models.HostKey) *hostSession {
	hs, ok := t.sessions[key]
	if ok {
		return hs
	}
	hs = &hostSession{
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	t.sessions[key] = hs
	go t.run(hs)
	return hs
}

func (t *Transport) run(hs *hostSession) {
	for {
		select {
		case <-hs.quit:
			if hs.conn != nil && hs.conn.Conn != nil {
				_ = hs.conn.Conn.Close()
			}
			return
		case j := <-hs.jobs:
			res := t.perform(hs, j)
			cb, rr := j.cb, res
			t.loop.Post(func() { cb(rr) })
		}
	}
}

func (t *Transport) perform(hs *hostSession, j job) Result {
	if j.addr == nil {
		return Result{Err: fmt.Errorf("transport: host unresolved")}
	}
	if err := t.ensureSession(hs, j); err != nil {
		return Result{Err: err}
	}

	hs.conn.Timeout = j.timeout
	var (
		pkt *gosnmp.SnmpPacket
		err error
	)
	switch j.op {
	case OpGet:
		pkt, err = hs.conn.Get(j.oids)
	case OpGetNext:
		pkt, err = hs.conn.GetNext(j.oids)
	case OpSet:
		pdu := gosnmp.SnmpPDU{Name: j.oids[0], Type: j.setVal.Type, Value: j.setVal.Value}
		pkt, err = hs.conn.Set([]gosnmp.SnmpPDU{pdu})
	default:
		err = fmt.Errorf("transport: unknown op %d", j.op)
	}
	if err != nil {
		// The session might be wedged (e.g. a half-open UDP "connection"
		// after a host renumbering) — drop it so the next attempt redials.
		if hs.conn.Conn != nil {
			_ = hs.conn.Conn.Close()
		}
		hs.conn = nil
		return Result{Err: err}
	}

	if pkt.Version != gosnmpVersion(j.version) {
		t.logger.Warn("transport: response SNMP version mismatch",
			"want", j.version, "got", pkt.Version)
	}
	if pkt.Error != gosnmp.NoError {
		return Result{PDUs: pkt.Variables, Err: &StatusError{Status: pkt.Error, Index: int(pkt.ErrorIndex)}}
	}
	return Result{PDUs: pkt.Variables}
}

// ensureSession (re)dials the connected session when none exists yet or
// when the target address has changed since the last dial (a host
// re-resolved to a new address).
func (t *Transport) ensureSession(hs *hostSession, j job) error {
	if hs.conn != nil && hs.conn.Target == j.addr.IP.String() && hs.conn.Port == uint16(j.addr.Port) {
		return nil
	}
	if hs.conn != nil && hs.conn.Conn != nil {
		_ = hs.conn.Conn.Close()
	}
	g := &gosnmp.GoSNMP{
		Target:    j.addr.IP.String(),
		Port:      uint16(j.addr.Port),
		Community: j.community,
		Version:   gosnmpVersion(j.version),
		Timeout:   j.timeout,
		Retries:   0, // the request engine owns retry scheduling
		MaxOids:   models.MaxBindings,
	}
	if err := g.Connect(); err != nil {
		return fmt.Errorf("transport: connect %s:%d: %w", g.Target, g.Port, err)
	}
	hs.conn = g
	return nil
}

func gosnmpVersion(v models.SNMPVersion) gosnmp.SnmpVersion {
	if v == models.V1 {
		return gosnmp.Version1
	}
	return gosnmp.Version2c
}

// Close tears down every per-host session and stops its goroutine. Called
// during engine shutdown.
func (t *Transport) Close() {
	for _, hs := range t.sessions {
		close(hs.quit)
	}
}
