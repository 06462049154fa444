// Package persist implements the persistence collaborator the poll
// scheduler calls synchronously on the loop thread at cycle termination.
// Two concrete targets, matching PollGroup.RawPaths/RRDPaths: an
// append-only tabular log (RawWriter) and a rrdtool-backed time series
// (RRDWriter).
package persist

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tillwatch/snmppoll/models"
	"github.com/tillwatch/snmppoll/transport/file"
)

// RawWriter appends one space-separated timestamp+values line per
// finished poll cycle to a raw-file target over a
// transport/file.WriterTransport.
type RawWriter struct {
	t *file.WriterTransport
}

// NewRawWriter wraps an already-configured transport/file.WriterTransport
// (plain file, or a RotatingFile-backed one for size-based rotation).
func NewRawWriter(t *file.WriterTransport) *RawWriter {
	return &RawWriter{t: t}
}

// WriteCycle renders "<unix-seconds> <value> <value> ..." — one field per
// item, in PollGroup.Items order, "U" for unset (the same sentinel the
// RRD target uses, so both read the same way).
func (w *RawWriter) WriteCycle(group *models.PollGroup, at time.Time) error {
	fields := make([]string, 0, len(group.Items)+1)
	fields = append(fields, strconv.FormatInt(at.Unix(), 10))
	for _, it := range group.Items {
		fields = append(fields, it.Value.String())
	}
	if err := w.t.Send([]byte(strings.Join(fields, " "))); err != nil {
		return fmt.Errorf("persist: raw write: %w", err)
	}
	return nil
}
