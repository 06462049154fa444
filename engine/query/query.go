// Package query implements the query state machine: the
// row-walk-then-pair protocol behind items whose value comes from a
// table column selected by matching another column's value, rather than
// a fixed scalar OID. A fresh item walks the name column with GetNext
// (Searching) until a row matches, reads the value column for that row
// (Valuing), and on later cycles probes the remembered row directly with
// a simultaneous match/value Get pair (Pairing), falling back to the walk
// when the row no longer matches.
package query

import (
	"io"
	"log/slog"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/match"
	"github.com/tillwatch/snmppoll/models"
)

// Machine drives every queried Item's per-cycle Searching/Pairing/Valuing
// work through a shared Request Engine.
type Machine struct {
	req    *request.Engine
	logger *slog.Logger
}

// New creates a Machine bound to req.
func New(req *request.Engine, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Machine{req: req, logger: logger}
}

// Poll starts (or resumes, via the Pairing fast path) one item's per-cycle
// query work. done is invoked exactly once, when the item has no more
// outstanding field/query requests for this cycle.
func (m *Machine) Poll(h *models.Host, item *models.Item, interval, timeout time.Duration, done func()) {
	item.QueryMatched = false
	item.QuerySearched = false
	if item.QueryLast == "" {
		m.search(h, item, item.QueryOID, interval, timeout, done)
		return
	}
	m.pair(h, item, interval, timeout, done)
}

// Cancel aborts any outstanding field/query request for item — used by
// the poll scheduler's force-complete path.
func (m *Machine) Cancel(item *models.Item) {
	if item.QueryRequest != 0 {
		m.req.Cancel(item.QueryRequest)
		item.QueryRequest = 0
	}
	if item.FieldRequest != 0 {
		m.req.Cancel(item.FieldRequest)
		item.FieldRequest = 0
	}
}

// search issues one GetNext step of the Searching state.
// nextOID is only this hop's walk cursor (the prior response's OID, or
// item.QueryOID itself on the first hop); the isImmediateChild check in
// onSearchResponse always measures against the fixed item.QueryOID, never
// against nextOID, since two adjacent table rows share the same arc count
// and a cursor-relative check would misclassify a valid continuation of
// the walk as having run past the table.
func (m *Machine) search(h *models.Host, item *models.Item, nextOID string, interval, timeout time.Duration, done func()) {
	item.QuerySearched = true
	key := item.CurrentKey()
	r := m.req.PrepInstance(h, key, interval, timeout, transport.OpGetNext)
	id := m.req.AddBinding(r, nextOID, func(code request.Code, pdu gosnmp.SnmpPDU) {
		item.QueryRequest = 0
		m.onSearchResponse(h, item, code, pdu, interval, timeout, done)
	})
	item.QueryRequest = id
}

func (m *Machine) onSearchResponse(h *models.Host, item *models.Item, code request.Code, pdu gosnmp.SnmpPDU, interval, timeout time.Duration, done func()) {
	if code == request.CodeOK && isImmediateChild(pdu.Name, item.QueryOID) {
		if match.Value(pdu.Type, pdu.Value, item.QueryMatch) {
			s := lastArc(pdu.Name)
			item.QueryLast = pdu.Name
			m.startValuing(h, item, s, interval, timeout, done)
			return
		}
		m.search(h, item, pdu.Name, interval, timeout, done)
		return
	}
	// NoSuchName, walked past the table, timeout, or any other error: the
	// item fails for this cycle and forgets its remembered row.
	item.QueryLast = ""
	item.Value = models.UnsetSample
	done()
}

// startValuing issues the field Get for a freshly matched row (the
// Valuing state).
func (m *Machine) startValuing(h *models.Host, item *models.Item, subID string, interval, timeout time.Duration, done func()) {
	key := item.CurrentKey()
	r := m.req.PrepInstance(h, key, interval, timeout, transport.OpGet)
	id := m.req.AddBinding(r, withSuffix(item.FieldOID, subID), func(code request.Code, pdu gosnmp.SnmpPDU) {
		item.FieldRequest = 0
		m.finishField(item, code, pdu, done)
	})
	item.FieldRequest = id
}

func (m *Machine) finishField(item *models.Item, code request.Code, pdu gosnmp.SnmpPDU, done func()) {
	if code == request.CodeOK {
		if sample, ok := transport.SampleOf(pdu.Type, pdu.Value); ok {
			item.Value = sample
		} else {
			item.Value = models.UnsetSample
		}
	} else {
		item.Value = models.UnsetSample
		m.failover(item)
	}
	item.QueryMatched = true
	item.LastPolled = time.Now()
	done()
}

// failover advances a failed item to its next alternate hostname, logging
// the change. The new host takes effect from the next cycle.
func (m *Machine) failover(item *models.Item) {
	prev := item.CurrentHostname()
	item.Failover()
	if next := item.CurrentHostname(); next != prev {
		m.logger.Info("query: item failing over to alternate host",
			"field", item.Field, "from", prev, "to", next)
	}
}

// pairAttempt tracks the two concurrent Gets of the Pairing fast path
// until both have reported in.
type pairAttempt struct {
	matchDone bool
	matchOK   bool
	hardFail  bool

	fieldDone bool
	fieldCode request.Code
	fieldPDU  gosnmp.SnmpPDU
}

// pair issues the simultaneous match/field Gets of the Pairing state,
// using the sub-identifier of the last known matched row.
func (m *Machine) pair(h *models.Host, item *models.Item, interval, timeout time.Duration, done func()) {
	s := lastArc(item.QueryLast)
	key := item.CurrentKey()
	pa := &pairAttempt{}

	rMatch := m.req.PrepInstance(h, key, interval, timeout, transport.OpGet)
	matchID := m.req.AddBinding(rMatch, withSuffix(item.QueryOID, s), func(code request.Code, pdu gosnmp.SnmpPDU) {
		item.QueryRequest = 0
		m.onPairMatch(h, item, pa, code, pdu, interval, timeout, done)
	})
	item.QueryRequest = matchID

	rField := m.req.PrepInstance(h, key, interval, timeout, transport.OpGet)
	fieldID := m.req.AddBinding(rField, withSuffix(item.FieldOID, s), func(code request.Code, pdu gosnmp.SnmpPDU) {
		item.FieldRequest = 0
		m.onPairField(item, pa, code, pdu, done)
	})
	item.FieldRequest = fieldID
}

func (m *Machine) onPairMatch(h *models.Host, item *models.Item, pa *pairAttempt, code request.Code, pdu gosnmp.SnmpPDU, interval, timeout time.Duration, done func()) {
	switch {
	case code == request.CodeOK:
		pa.matchOK = match.Value(pdu.Type, pdu.Value, item.QueryMatch)
	case code == request.CodeNoSuchName:
		pa.matchOK = false
	default:
		// "errors with anything other than NoSuchName" fails the whole
		// item outright, rather than falling back to Searching.
		pa.hardFail = true
	}
	pa.matchDone = true

	if pa.hardFail {
		m.cancelField(item)
		item.Value = models.UnsetSample
		item.QueryLast = ""
		done()
		return
	}
	if !pa.matchOK {
		m.cancelField(item)
		item.QueryLast = ""
		m.search(h, item, item.QueryOID, interval, timeout, done)
		return
	}
	if pa.fieldDone {
		m.finalizePair(item, pa, done)
	}
}

func (m *Machine) onPairField(item *models.Item, pa *pairAttempt, code request.Code, pdu gosnmp.SnmpPDU, done func()) {
	pa.fieldDone = true
	pa.fieldCode = code
	pa.fieldPDU = pdu

	if !pa.matchDone || pa.hardFail || !pa.matchOK {
		return
	}
	m.finalizePair(item, pa, done)
}

func (m *Machine) finalizePair(item *models.Item, pa *pairAttempt, done func()) {
	if pa.fieldCode == request.CodeOK {
		if sample, ok := transport.SampleOf(pa.fieldPDU.Type, pa.fieldPDU.Value); ok {
			item.Value = sample
		} else {
			item.Value = models.UnsetSample
		}
	} else {
		item.Value = models.UnsetSample
		m.failover(item)
	}
	item.QueryMatched = true
	item.LastPolled = time.Now()
	done()
}

func (m *Machine) cancelField(item *models.Item) {
	if item.FieldRequest != 0 {
		m.req.Cancel(item.FieldRequest)
		item.FieldRequest = 0
	}
}
