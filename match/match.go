// Package match implements the SNMP value-comparison rules used by the
// query state machine to decide whether a table row's "name" column equals
// the configured target.
package match

import (
	"net"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// Value compares a decoded gosnmp variable binding against the configured
// match text, with the comparison rule keyed by the ASN.1 syntax. A nil
// text pointer means "anything matches" (used by the query state machine
// when query_match is unset, recording the first row encountered).
func Value(pduType gosnmp.Asn1BER, raw interface{}, text *string) bool {
	if text == nil {
		return true
	}
	return valueText(pduType, raw, *text)
}

func valueText(pduType gosnmp.Asn1BER, raw interface{}, text string) bool {
	switch pduType {
	case gosnmp.Null, gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		return text == ""

	case gosnmp.Integer:
		want, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return false
		}
		got, ok := asInt64(raw)
		return ok && got == want

	case gosnmp.OctetString:
		return bytesEqual(raw, []byte(text))

	case gosnmp.ObjectIdentifier:
		want, err := parseOID(text)
		if err != nil {
			return false
		}
		got, ok := asOIDString(raw)
		return ok && got == want

	case gosnmp.IPAddress:
		want := net.ParseIP(text)
		if want == nil {
			return false
		}
		want4 := want.To4()
		if want4 == nil {
			return false
		}
		got, ok := asIPBytes(raw)
		return ok && len(got) == 4 && net.IP(got).Equal(want4)

	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks:
		want, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return false
		}
		got, ok := asUint64(raw)
		return ok && got == want

	case gosnmp.Counter64:
		want, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return false
		}
		got, ok := asUint64(raw)
		return ok && got == want

	default:
		return false
	}
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
	case int32:
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

func bytesEqual(v interface{}, want []byte) bool {
	switch x := v.(type) {
	case []byte:
		return string(x) == string(want)
	case string:
		return x == string(want)
	default:
		return false
	}
}

func asOIDString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimPrefix(x, "."), true
	case []byte:
		return strings.TrimPrefix(string(x), "."), true
	default:
		return "", false
	}
}

func asIPBytes(v interface{}) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	default:
		return nil, false
	}
}

// parseOID parses a dotted-decimal OID string into canonical dotted form,
// rejecting malformed input. MIB-symbolic name resolution happens at
// config time — by the time a query_match for an OID-typed column reaches
// this package it is already numeric.
func parseOID(text string) (string, error) {
	text = strings.TrimPrefix(text, ".")
	parts := strings.Split(text, ".")
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return "", err
		}
	}
	return text, nil
}
