package persist_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tillwatch/snmppoll/models"
	"github.com/tillwatch/snmppoll/persist"
	"github.com/tillwatch/snmppoll/transport/file"
)

func TestRawWriterFormatsOneLinePerCycle(t *testing.T) {
	var buf bytes.Buffer
	w := persist.NewRawWriter(file.New(file.Config{Writer: &buf, Newline: "\n"}, nil))

	g := &models.PollGroup{
		Items: []*models.Item{
			{Value: models.IntSample(42)},
			{Value: models.UnsetSample},
			{Value: models.FloatSample(3.5)},
		},
	}
	at := time.Unix(1000, 0)

	if err := w.WriteCycle(g, at); err != nil {
		t.Fatalf("WriteCycle: %v", err)
	}

	got := strings.TrimSpace(buf.String())
	want := "1000 42 U 3.5"
	if got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestCollaboratorWritesRawTargetsAndCachesFileHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "group.raw")

	c := persist.New("", "", nil)
	defer c.Close()

	g := &models.PollGroup{
		Key:      "test",
		RawPaths: []string{path},
		Items:    []*models.Item{{Value: models.IntSample(7)}},
	}

	c.Persist(g, time.Unix(2000, 0))
	c.Persist(g, time.Unix(2001, 0))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (one write handle reused across Persist calls): %q", len(lines), string(data))
	}
	if lines[0] != "2000 7" || lines[1] != "2001 7" {
		t.Fatalf("lines = %v, want [\"2000 7\" \"2001 7\"]", lines)
	}
}

func TestCollaboratorSkipsRRDWhenGroupHasNoRRDPaths(t *testing.T) {
	c := persist.New("", "", nil)
	defer c.Close()

	g := &models.PollGroup{Key: "no-rrd", Items: []*models.Item{{Value: models.IntSample(1)}}}
	// Should not attempt to invoke rrdtool at all, so this must not hang or
	// error even though no rrdtool binary is assumed present in the test
	// environment.
	c.Persist(g, time.Now())
}

func TestCollaboratorWritesDebugJSONWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug.json")

	c := persist.New("", path, nil)
	defer c.Close()

	g := &models.PollGroup{Key: "debug-group", Items: []*models.Item{{Field: "x", Value: models.IntSample(9)}}}
	c.Persist(g, time.Unix(3000, 0))
	c.Persist(g, time.Unix(3001, 0))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), string(data))
	}
	if !strings.Contains(lines[0], `"group":"debug-group"`) {
		t.Fatalf("line = %q, want it to contain the group key", lines[0])
	}
}

func TestCollaboratorSkipsDebugJSONWhenPathEmpty(t *testing.T) {
	c := persist.New("", "", nil)
	defer c.Close()
	g := &models.PollGroup{Key: "no-debug", Items: []*models.Item{{Value: models.IntSample(1)}}}
	c.Persist(g, time.Now())
}
