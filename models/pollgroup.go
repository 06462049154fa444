package models

import "time"

// PollGroup is a set of items sharing one polling cadence and one set of
// persistence targets.
//
// Invariant: Polling is true iff a cycle has started and not yet
// terminated; every Item belongs to exactly one PollGroup.
type PollGroup struct {
	// Key is "<timeout>-<interval>:<rrd-path>", used for log correlation
	// and as a map key by callers that keep several groups.
	Key string

	Interval time.Duration
	Timeout  time.Duration

	Items []*Item

	// RRDPaths / RawPaths are the persistence targets consumed by the
	// persist collaborator.
	RRDPaths []string
	RawPaths []string

	Polling     bool
	LastRequest time.Time
	LastPolled  time.Time
}
