package match_test

import (
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/match"
)

func text(s string) *string { return &s }

func TestValue(t *testing.T) {
	cases := []struct {
		name string
		typ  gosnmp.Asn1BER
		raw  interface{}
		want *string
		ok   bool
	}{
		{"nil match matches anything", gosnmp.Integer, 7, nil, true},
		{"null empty text matches", gosnmp.Null, nil, text(""), true},
		{"null nonempty text fails", gosnmp.Null, nil, text("x"), false},
		{"integer equal", gosnmp.Integer, int64(-5), text("-5"), true},
		{"integer not equal", gosnmp.Integer, int64(5), text("-5"), false},
		{"octet string equal", gosnmp.OctetString, []byte("eth0"), text("eth0"), true},
		{"octet string not equal", gosnmp.OctetString, []byte("eth1"), text("eth0"), false},
		{"oid equal", gosnmp.ObjectIdentifier, ".1.3.6.1.2.1", text("1.3.6.1.2.1"), true},
		{"ip equal", gosnmp.IPAddress, []byte{192, 168, 1, 1}, text("192.168.1.1"), true},
		{"ip not equal", gosnmp.IPAddress, []byte{192, 168, 1, 2}, text("192.168.1.1"), false},
		{"counter32 equal", gosnmp.Counter32, uint(42), text("42"), true},
		{"counter64 equal", gosnmp.Counter64, uint64(1 << 40), text("1099511627776"), true},
		{"unsupported syntax never matches", gosnmp.OpaqueFloat, float32(1), text("1"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := match.Value(c.typ, c.raw, c.want)
			if got != c.ok {
				t.Fatalf("match.Value(%v, %v, %v) = %v, want %v", c.typ, c.raw, derefOrNil(c.want), got, c.ok)
			}
		})
	}
}

func derefOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
