package query

import "strings"

// normalizeOID strips the leading dot gosnmp echoes on response varbind
// names so OID strings from configuration and from the wire compare
// equal arc-for-arc.
func normalizeOID(s string) string {
	return strings.TrimPrefix(s, ".")
}

func arcs(s string) []string {
	n := normalizeOID(s)
	if n == "" {
		return nil
	}
	return strings.Split(n, ".")
}

// isImmediateChild reports whether resp is exactly one arc longer than
// base and shares base as a prefix — the walked-off-the-table check. Some
// agents return longer composite row indices; those are treated as off
// the table here.
func isImmediateChild(resp, base string) bool {
	ra, ba := arcs(resp), arcs(base)
	if len(ra) != len(ba)+1 {
		return false
	}
	for i := range ba {
		if ra[i] != ba[i] {
			return false
		}
	}
	return true
}

// lastArc returns the final arc of an OID — the row index extracted from
// a matched query response.
func lastArc(s string) string {
	a := arcs(s)
	if len(a) == 0 {
		return ""
	}
	return a[len(a)-1]
}

// withSuffix appends subID as the final arc of base, building e.g.
// field_oid + S.
func withSuffix(base, subID string) string {
	return normalizeOID(base) + "." + subID
}
