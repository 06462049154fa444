package transport

import (
	"math"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/models"
)

// SampleOf normalizes a decoded gosnmp variable binding into the numeric
// Sample representation the engine records. Only numeric syntaxes
// convert; string/OID/IpAddress varbinds serve as table index columns,
// never as a polled field value, and report ok=false so the caller can
// mark the item unset rather than fabricate a number.
func SampleOf(pduType gosnmp.Asn1BER, raw interface{}) (models.Sample, bool) {
	switch pduType {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		if v, ok := asInt64(raw); ok {
			return models.IntSample(v), true
		}
		return models.Sample{}, false

	case gosnmp.Counter64:
		if v, ok := asUint64(raw); ok {
			if v > math.MaxInt64 {
				return models.Sample{}, false
			}
			return models.IntSample(int64(v)), true
		}
		return models.Sample{}, false

	case gosnmp.OpaqueFloat, gosnmp.OpaqueDouble:
		if v, ok := asFloat64(raw); ok {
			return models.FloatSample(v), true
		}
		return models.Sample{}, false

	default:
		return models.Sample{}, false
	}
}

// IsErrorType reports whether the PDU carries an SNMP exception value
// rather than an actual variable binding.
func IsErrorType(t gosnmp.Asn1BER) bool {
	return t == gosnmp.NoSuchObject || t == gosnmp.NoSuchInstance || t == gosnmp.EndOfMibView
}

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	default:
		return 0, false
	}
}

func asUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case int:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case int64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case uint:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	default:
		return 0, false
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
