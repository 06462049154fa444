package query

import (
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/host"
	"github.com/tillwatch/snmppoll/engine/loop"
	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/resolver"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/models"
)

func strPtr(s string) *string { return &s }

func newPendingDone() (func(), *int) {
	n := 0
	return func() { n++ }, &n
}

func newResolvedHostEngine(t *testing.T) (*Machine, *models.Host, func()) {
	t.Helper()
	l := loop.New()
	res := resolver.New(4)
	hosts := host.New(l, res, nil)
	tr := transport.New(l, nil)
	eng := request.New(l, tr, hosts, nil, request.WithDefaultRetries(0))
	m := New(eng, nil)
	key := models.HostKey{Hostname: "127.0.0.1", Port: 1, Community: "public", Version: models.V2c}
	h := hosts.Ensure(key, time.Second)
	eng.Start()
	go l.Run()
	return m, h, func() { l.Stop(); l.Wait(); tr.Close() }
}

func TestOIDHelpersClassifyWalkedRow(t *testing.T) {
	queryOID := ".1.3.6.1.2.1.2.2.1.2"
	resp := ".1.3.6.1.2.1.2.2.1.2.7"

	if !isImmediateChild(resp, queryOID) {
		t.Fatal("expected response to be classified as an immediate child of query_oid")
	}
	if lastArc(resp) != "7" {
		t.Fatalf("lastArc = %q, want 7", lastArc(resp))
	}
	if isImmediateChild(".1.3.6.1.2.1.2.2.1.3.7", queryOID) {
		t.Fatal("a response under a sibling column must not classify as an immediate child")
	}
	if want := "1.3.6.1.2.1.2.2.1.2.7"; withSuffix(queryOID, "7") != want {
		t.Fatalf("withSuffix = %q, want %q", withSuffix(queryOID, "7"), want)
	}
}

func TestOnSearchResponseNoSuchNameFailsItemForCycle(t *testing.T) {
	m := New(request.New(nil, nil, nil, nil), nil)
	item := &models.Item{
		FieldOID: ".1.3.6.1.2.1.2.2.1.10",
		QueryOID: ".1.3.6.1.2.1.2.2.1.2",
		QueryLast: ".1.3.6.1.2.1.2.2.1.2.7",
	}
	done, calls := newPendingDone()

	m.onSearchResponse(nil, item, request.CodeNoSuchName, gosnmp.SnmpPDU{}, time.Second, time.Second, done)

	if *calls != 1 {
		t.Fatalf("done called %d times, want 1", *calls)
	}
	if item.QueryLast != "" {
		t.Fatal("QueryLast should be cleared on NoSuchName / walked-off-table")
	}
	if item.Value.Kind != models.KindUnset {
		t.Fatal("item.Value should be unset after a failed search cycle")
	}
}

func TestOnSearchResponseMismatchContinuesWalk(t *testing.T) {
	m, h, cleanup := newResolvedHostEngine(t)
	defer cleanup()

	item := &models.Item{
		FieldOID:   ".1.3.6.1.2.1.2.2.1.10",
		QueryOID:   ".1.3.6.1.2.1.2.2.1.2",
		QueryMatch: strPtr("eth0"),
		Hostnames:  []string{h.Key.Hostname},
		Port:       h.Key.Port,
		Community:  h.Key.Community,
		Version:    h.Key.Version,
	}
	pdu := gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.2.3", Type: gosnmp.OctetString, Value: []byte("eth3")}

	m.onSearchResponse(h, item, request.CodeOK, pdu, time.Second, 100*time.Millisecond, func() {})

	if item.QueryLast != "" {
		t.Fatal("a mismatched row must not set QueryLast")
	}
	if item.QueryRequest == 0 {
		t.Fatal("a mismatch should continue the walk with another GetNext")
	}
}

// TestOnSearchResponseSecondHopMatchesAcrossEqualArcDepthRows exercises the
// walked-off-table check over two GetNext hops, the scenario that breaks if
// isImmediateChild is measured against the previous response's OID instead
// of the fixed item.QueryOID: two adjacent table rows share the same arc
// count, so a cursor-relative check would misclassify the second row as
// past the table even though it is a valid continuation of the walk.
func TestOnSearchResponseSecondHopMatchesAcrossEqualArcDepthRows(t *testing.T) {
	m, h, cleanup := newResolvedHostEngine(t)
	defer cleanup()
	item := &models.Item{
		FieldOID:   ".1.3.6.1.2.1.2.2.1.10",
		QueryOID:   ".1.3.6.1.2.1.2.2.1.2",
		QueryMatch: strPtr("eth1"),
		Hostnames:  []string{h.Key.Hostname},
		Port:       h.Key.Port,
		Community:  h.Key.Community,
		Version:    h.Key.Version,
	}

	firstRow := gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.2.1", Type: gosnmp.OctetString, Value: []byte("eth0")}
	done1, calls1 := newPendingDone()
	m.onSearchResponse(h, item, request.CodeOK, firstRow, time.Second, time.Second, done1)
	if *calls1 != 0 {
		t.Fatal("a mismatch must not call done; the walk keeps going")
	}
	if item.QueryLast != "" {
		t.Fatal("a mismatched row must not set QueryLast")
	}

	secondRow := gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.2.2", Type: gosnmp.OctetString, Value: []byte("eth1")}
	done2, calls2 := newPendingDone()
	m.onSearchResponse(h, item, request.CodeOK, secondRow, time.Second, time.Second, done2)

	if item.QueryLast != secondRow.Name {
		t.Fatalf("QueryLast = %q, want the matched second row %q (got misclassified as walked past the table)", item.QueryLast, secondRow.Name)
	}
	if *calls2 != 0 {
		t.Fatal("a match starts Valuing via startValuing, not done directly")
	}
	if item.FieldRequest == 0 {
		t.Fatal("expected the match to start a field Get (Valuing state)")
	}
}

func TestFinishFieldSetsValueAndMatchedFlag(t *testing.T) {
	m := New(request.New(nil, nil, nil, nil), nil)
	item := &models.Item{}
	done, calls := newPendingDone()

	pdu := gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 42}
	m.finishField(item, request.CodeOK, pdu, done)

	if *calls != 1 {
		t.Fatalf("done called %d times, want 1", *calls)
	}
	if !item.QueryMatched {
		t.Fatal("expected QueryMatched to be set true on completion")
	}
	if item.Value.Kind != models.KindInt || item.Value.Int != 42 {
		t.Fatalf("item.Value = %+v, want IntSample(42)", item.Value)
	}
}

func TestFinishFieldTimeoutUnsetsValueAndFailsOver(t *testing.T) {
	m := New(request.New(nil, nil, nil, nil), nil)
	item := &models.Item{Hostnames: []string{"a", "b"}, HostIndex: 0}
	done, calls := newPendingDone()

	m.finishField(item, request.CodeTimeout, gosnmp.SnmpPDU{}, done)

	if *calls != 1 {
		t.Fatalf("done called %d times, want 1", *calls)
	}
	if item.Value.Kind != models.KindUnset {
		t.Fatal("expected unset value on timeout")
	}
	if item.HostIndex != 1 {
		t.Fatalf("HostIndex = %d, want 1 (failover should advance it)", item.HostIndex)
	}
}

func TestPairHardFailureDoesNotRestartSearching(t *testing.T) {
	m := New(request.New(nil, nil, nil, nil), nil)
	item := &models.Item{QueryLast: ".1.3.6.1.2.1.2.2.1.2.7"}
	done, calls := newPendingDone()
	pa := &pairAttempt{}

	// A non-NoSuchName, non-OK match result is a hard failure: the item
	// fails for this cycle without falling back to Searching.
	code := request.Code(-99)
	m.onPairMatch(nil, item, pa, code, gosnmp.SnmpPDU{}, time.Second, time.Second, done)

	if !pa.hardFail {
		t.Fatal("expected hardFail to be set")
	}
	if item.QueryLast != "" {
		t.Fatal("hard failure should clear QueryLast")
	}
	if *calls != 1 {
		t.Fatalf("done called %d times, want 1", *calls)
	}
}

func TestPairMismatchRestartsSearching(t *testing.T) {
	m, h, cleanup := newResolvedHostEngine(t)
	defer cleanup()

	item := &models.Item{
		FieldOID:   ".1.3.6.1.2.1.2.2.1.10",
		QueryOID:   ".1.3.6.1.2.1.2.2.1.2",
		QueryMatch: strPtr("eth0"),
		QueryLast:  ".1.3.6.1.2.1.2.2.1.2.7",
		Hostnames:  []string{h.Key.Hostname},
		Port:       h.Key.Port,
		Community:  h.Key.Community,
		Version:    h.Key.Version,
	}
	pa := &pairAttempt{}
	mismatch := gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("eth3")}

	m.onPairMatch(h, item, pa, request.CodeOK, mismatch, time.Second, 100*time.Millisecond, func() {})

	if item.QueryLast != "" {
		t.Fatal("a row match mismatch must clear QueryLast so the next cycle restarts Searching")
	}
	if item.QueryRequest == 0 {
		t.Fatal("expected the mismatch branch to restart Searching with a new GetNext")
	}
}

func TestFinalizePairWaitsForBothResponses(t *testing.T) {
	m := New(request.New(nil, nil, nil, nil), nil)
	item := &models.Item{}
	done, calls := newPendingDone()
	pa := &pairAttempt{}

	m.onPairField(item, pa, request.CodeOK, gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 7}, done)
	if *calls != 0 {
		t.Fatal("finalizePair must not run until the match half has also reported")
	}

	pa.matchDone = true
	pa.matchOK = true
	m.finalizePair(item, pa, done)

	if *calls != 1 {
		t.Fatalf("done called %d times, want 1", *calls)
	}
	if item.Value.Int != 7 {
		t.Fatalf("item.Value.Int = %d, want 7", item.Value.Int)
	}
}

func TestCancelIsNoopWithNoOutstandingRequests(t *testing.T) {
	m := New(request.New(nil, nil, nil, nil), nil)
	item := &models.Item{}
	m.Cancel(item)
	if item.FieldRequest != 0 || item.QueryRequest != 0 {
		t.Fatal("Cancel on an idle item should leave request ids at zero")
	}
}
