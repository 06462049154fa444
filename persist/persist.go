package persist

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	fmtjson "github.com/tillwatch/snmppoll/format/json"
	"github.com/tillwatch/snmppoll/models"
	"github.com/tillwatch/snmppoll/transport/file"
)

// rawTarget pairs a RawWriter with the underlying RotatingFile so Close can
// release the file handle; WriterTransport.Close is deliberately a no-op
// (writer lifetime belongs to whoever created it), so this package keeps
// the one reference that does own it.
type rawTarget struct {
	writer *RawWriter
	closer io.Closer
}

// Collaborator implements engine/poll.Persister: one Persist call per
// finished cycle, fanned out to every RRD path and every raw-file path the
// group names.
//
// Raw-file writers are opened lazily and cached by path, since the set of
// distinct raw targets is only known once the config collaborator has
// built the PollGroup list.
type Collaborator struct {
	rrd *RRDWriter

	mu  sync.Mutex
	raw map[string]*rawTarget

	// debug is the optional JSON metrics dump side-channel, gated by
	// engine.Config.DebugJSONPath being non-empty. nil disables it
	// entirely — Persist skips the formatting work rather than calling
	// Format on a zero-value formatter.
	debugFormatter *fmtjson.JSONFormatter
	debugTransport *file.WriterTransport
	debugCloser    io.Closer

	logger *slog.Logger
}

// New creates a Collaborator. rrdtoolPath selects the rrdtool binary ("" =
// "rrdtool" on PATH). debugJSONPath, when non-empty, enables the JSON
// metrics dump side-channel: one formatted SNMPMetric line appended to
// that path per finished cycle, independent of the RRD/raw targets a
// given group declares.
func New(rrdtoolPath, debugJSONPath string, logger *slog.Logger) *Collaborator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Collaborator{
		rrd:    NewRRDWriter(rrdtoolPath),
		raw:    make(map[string]*rawTarget),
		logger: logger,
	}
	if debugJSONPath != "" {
		rf, err := file.NewRotatingFile(file.RotateConfig{FilePath: debugJSONPath}, logger)
		if err != nil {
			logger.Warn("persist: debug json dump disabled, could not open path", "path", debugJSONPath, "error", err.Error())
		} else {
			c.debugFormatter = fmtjson.New(fmtjson.Config{}, logger)
			c.debugTransport = file.New(file.Config{Writer: rf}, logger)
			c.debugCloser = rf
		}
	}
	return c
}

// Persist implements engine/poll.Persister.
func (c *Collaborator) Persist(group *models.PollGroup, at time.Time) {
	for _, path := range group.RRDPaths {
		if err := c.rrd.Update(context.Background(), path, group, at); err != nil {
			c.logger.Warn("persist: rrd update failed", "path", path, "group", group.Key, "error", err.Error())
		}
	}
	for _, path := range group.RawPaths {
		target, err := c.rawTargetFor(path)
		if err != nil {
			c.logger.Warn("persist: open raw target failed", "path", path, "group", group.Key, "error", err.Error())
			continue
		}
		if err := target.writer.WriteCycle(group, at); err != nil {
			c.logger.Warn("persist: raw write failed", "path", path, "group", group.Key, "error", err.Error())
		}
	}
	c.writeDebugJSON(group, at)
}

func (c *Collaborator) writeDebugJSON(group *models.PollGroup, at time.Time) {
	if c.debugFormatter == nil {
		return
	}
	data, err := c.debugFormatter.Format(fmtjson.BuildMetric(group, at))
	if err != nil {
		c.logger.Warn("persist: debug json format failed", "group", group.Key, "error", err.Error())
		return
	}
	if err := c.debugTransport.Send(data); err != nil {
		c.logger.Warn("persist: debug json write failed", "group", group.Key, "error", err.Error())
	}
}

func (c *Collaborator) rawTargetFor(path string) (*rawTarget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.raw[path]; ok {
		return t, nil
	}
	rf, err := file.NewRotatingFile(file.RotateConfig{FilePath: path}, c.logger)
	if err != nil {
		return nil, err
	}
	t := &rawTarget{
		writer: NewRawWriter(file.New(file.Config{Writer: rf}, c.logger)),
		closer: rf,
	}
	c.raw[path] = t
	return t, nil
}

// Close releases every cached raw-file target and the debug JSON dump
// target, if enabled.
func (c *Collaborator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, t := range c.raw {
		if err := t.closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.debugCloser != nil {
		if err := c.debugCloser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
