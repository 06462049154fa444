package models

import "time"

// MaxAlternates is the maximum number of alternate hostnames an Item may
// carry for host failover.
const MaxAlternates = 16

// MaxBindings is the maximum number of variable bindings batched into one
// outgoing Get PDU. The conventional SNMP value is 32; gosnmp's MaxOids
// field is set to this value per connected session.
const MaxBindings = 32

// Item is a single configured datapoint — one column of one poll group.
//
// Invariants: at any time at most one FieldRequest and at most one
// QueryRequest are active per item; when HasQuery is false the Query*
// fields are unused.
type Item struct {
	Field     string
	Reference string
	Community string
	Version   SNMPVersion

	FieldOID string

	HasQuery    bool
	QueryOID    string
	QueryMatch  *string // nil means "anything matches"

	// Hostnames holds 1..MaxAlternates alternate hostnames; HostIndex
	// selects which is currently active.
	Hostnames []string
	HostIndex int
	Port      uint16

	// QueryLast is the last row OID matched by the query state machine,
	// retained across cycles for the Pairing fast path. Empty means no
	// known row yet. QueryMatched reports whether the current cycle
	// resolved a row; QuerySearched whether it had to walk for one.
	QueryLast     string
	QueryMatched  bool
	QuerySearched bool

	Value Sample

	// FieldRequest / QueryRequest are opaque composite request ids (0 means
	// none in flight) owned by the request engine.
	FieldRequest uint32
	QueryRequest uint32

	LastRequest time.Time
	LastPolled  time.Time

	Group *PollGroup
}

// CurrentHostname returns the hostname Item should currently be polled
// against, honoring host failover.
func (it *Item) CurrentHostname() string {
	if len(it.Hostnames) == 0 {
		return ""
	}
	return it.Hostnames[it.HostIndex%len(it.Hostnames)]
}

// CurrentKey builds the HostKey this item should currently be polled
// against, honoring host failover.
func (it *Item) CurrentKey() HostKey {
	return HostKey{Hostname: it.CurrentHostname(), Port: it.Port, Community: it.Community, Version: it.Version}
}

// Failover advances HostIndex to the next alternate, wrapping around.
// The new index takes effect starting with the next poll cycle.
func (it *Item) Failover() {
	if len(it.Hostnames) == 0 {
		return
	}
	it.HostIndex = (it.HostIndex + 1) % len(it.Hostnames)
}

// Outstanding reports whether the item still has a live field or query
// request, used by the scheduler's force-complete and finish_poll checks.
func (it *Item) Outstanding() bool {
	return it.FieldRequest != 0 || it.QueryRequest != 0
}
