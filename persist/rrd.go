package persist

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tillwatch/snmppoll/models"
)

// RRDWriter updates one RRD file per cycle by shelling out to rrdtool
// update. No maintained Go RRD binding exists, so the binary itself is
// the interface.
type RRDWriter struct {
	rrdtoolPath string
}

// NewRRDWriter creates an RRDWriter invoking the given rrdtool binary path
// ("rrdtool" on PATH if empty).
func NewRRDWriter(rrdtoolPath string) *RRDWriter {
	if rrdtoolPath == "" {
		rrdtoolPath = "rrdtool"
	}
	return &RRDWriter{rrdtoolPath: rrdtoolPath}
}

// Update runs "rrdtool update <rrdPath> <timestamp>:<value>[:<value>...]",
// "U" standing in for any unset item value.
func (w *RRDWriter) Update(ctx context.Context, rrdPath string, group *models.PollGroup, at time.Time) error {
	values := make([]string, 0, len(group.Items))
	for _, it := range group.Items {
		values = append(values, it.Value.String())
	}
	template := fmt.Sprintf("%d:%s", at.Unix(), strings.Join(values, ":"))

	cmd := exec.CommandContext(ctx, w.rrdtoolPath, "update", rrdPath, template)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("persist: rrdtool update %s: %w (%s)", rrdPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}
