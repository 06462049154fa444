package json_test

import (
	stdjson "encoding/json"
	"strings"
	"testing"
	"time"

	fmtjson "github.com/tillwatch/snmppoll/format/json"
	"github.com/tillwatch/snmppoll/models"
)

var testTimestamp = time.Date(2026, 2, 26, 10, 30, 0, 123_000_000, time.UTC)

func sampleGroup() *models.PollGroup {
	g := &models.PollGroup{
		Key:         "3000-60000:/var/rrd/eth0.rrd",
		LastRequest: testTimestamp.Add(-250 * time.Millisecond),
	}
	g.Items = []*models.Item{
		{Field: "ifInOctets", FieldOID: "1.3.6.1.2.1.2.2.1.10.2", Hostnames: []string{"router01"}, Value: models.IntSample(42)},
		{Field: "cpuLoad", FieldOID: "1.3.6.1.4.1.2021.10.1.3.1", Hostnames: []string{"router01"}, Value: models.UnsetSample},
	}
	return g
}

func TestBuildMetricSnapshotsCurrentValues(t *testing.T) {
	g := sampleGroup()
	m := fmtjson.BuildMetric(g, testTimestamp)

	if m.Group != g.Key {
		t.Fatalf("Group = %q, want %q", m.Group, g.Key)
	}
	if len(m.Metrics) != 2 {
		t.Fatalf("got %d metrics, want 2", len(m.Metrics))
	}
	if m.Metrics[0].Value != int64(42) {
		t.Fatalf("Metrics[0].Value = %v, want int64(42)", m.Metrics[0].Value)
	}
	if m.Metrics[1].Value != nil {
		t.Fatalf("Metrics[1].Value = %v, want nil (unset)", m.Metrics[1].Value)
	}
	if m.Metrics[0].Hostname != "router01" {
		t.Fatalf("Metrics[0].Hostname = %q, want %q", m.Metrics[0].Hostname, "router01")
	}
	if m.Metadata.PollStatus != "partial" {
		t.Fatalf("PollStatus = %q, want partial (one item unset)", m.Metadata.PollStatus)
	}
	if m.Metadata.PollDurationMs != 250 {
		t.Fatalf("PollDurationMs = %d, want 250", m.Metadata.PollDurationMs)
	}
}

func TestBuildMetricReportsCompleteWhenEveryValueSet(t *testing.T) {
	g := sampleGroup()
	g.Items[1].Value = models.FloatSample(0.75)

	m := fmtjson.BuildMetric(g, testTimestamp)
	if m.Metadata.PollStatus != "complete" {
		t.Fatalf("PollStatus = %q, want complete", m.Metadata.PollStatus)
	}
	if m.Metrics[1].Value != 0.75 {
		t.Fatalf("Metrics[1].Value = %v, want 0.75", m.Metrics[1].Value)
	}
}

func TestFormatRejectsNilMetric(t *testing.T) {
	f := fmtjson.New(fmtjson.Config{}, nil)
	if _, err := f.Format(nil); err == nil {
		t.Fatal("Format(nil) = nil error, want error")
	}
}

func TestFormatProducesValidCompactJSON(t *testing.T) {
	f := fmtjson.New(fmtjson.Config{}, nil)
	m := fmtjson.BuildMetric(sampleGroup(), testTimestamp)

	data, err := f.Format(m)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if strings.Contains(string(data), "\n  ") {
		t.Fatalf("compact output should not be indented: %s", data)
	}

	var decoded models.SNMPMetric
	if err := stdjson.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round-trip unmarshal: %v", err)
	}
	if decoded.Group != m.Group || len(decoded.Metrics) != len(m.Metrics) {
		t.Fatalf("decoded = %+v, want match for %+v", decoded, m)
	}
	if decoded.Metadata.PollStatus != m.Metadata.PollStatus {
		t.Fatalf("decoded PollStatus = %q, want %q", decoded.Metadata.PollStatus, m.Metadata.PollStatus)
	}
}

func TestFormatPrettyPrintIndents(t *testing.T) {
	f := fmtjson.New(fmtjson.Config{PrettyPrint: true}, nil)
	m := fmtjson.BuildMetric(sampleGroup(), testTimestamp)

	data, err := f.Format(m)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"") {
		t.Fatalf("pretty output should be indented with the default two spaces: %s", data)
	}
}
