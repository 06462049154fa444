// Package models defines the core data structures shared across the polling
// engine and its external collaborators (configuration, persistence). These
// types represent the canonical in-memory form of everything the engine
// touches; nothing in this package depends on any other internal package.
package models

import "strconv"

// Kind tags which field of Sample is meaningful.
type Kind uint8

const (
	// KindUnset means "no value this cycle" — persisted as the RRD U sentinel.
	KindUnset Kind = iota
	KindInt
	KindFloat
)

// Sample is a single polled value, typed as integer, float, or unset.
// gosnmp returns Counter32/Counter64/Gauge32/TimeTicks/Integer as various
// native widths; the transport codec normalizes all of them into one of
// these two numeric representations before the item's value is updated.
type Sample struct {
	Kind  Kind
	Int   int64
	Float float64
}

// UnsetSample is the zero-value sentinel persisted as RRD "U".
var UnsetSample = Sample{Kind: KindUnset}

// IntSample builds an integer-typed sample.
func IntSample(v int64) Sample { return Sample{Kind: KindInt, Int: v} }

// FloatSample builds a float-typed sample.
func FloatSample(v float64) Sample { return Sample{Kind: KindFloat, Float: v} }

// String renders the sample the way a raw-file / RRD writer expects: "U" for
// unset, otherwise the decimal value.
func (s Sample) String() string {
	switch s.Kind {
	case KindInt:
		return strconv.FormatInt(s.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(s.Float, 'f', -1, 64)
	default:
		return "U"
	}
}
