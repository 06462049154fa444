// Package json implements the JSON metrics dump formatter: a debug/
// monitoring side-channel that renders one models.SNMPMetric record per
// finished poll cycle.
package json

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tillwatch/snmppoll/models"
)

// BuildMetric snapshots group's current item values into a models.SNMPMetric.
func BuildMetric(group *models.PollGroup, at time.Time) *models.SNMPMetric {
	m := &models.SNMPMetric{
		Timestamp: at,
		Group:     group.Key,
		Metrics:   make([]models.Metric, 0, len(group.Items)),
	}

	complete := true
	for _, it := range group.Items {
		var value interface{}
		switch it.Value.Kind {
		case models.KindInt:
			value = it.Value.Int
		case models.KindFloat:
			value = it.Value.Float
		default:
			value = nil
			complete = false
		}
		m.Metrics = append(m.Metrics, models.Metric{
			Field:    it.Field,
			Hostname: it.CurrentHostname(),
			OID:      it.FieldOID,
			Value:    value,
		})
	}

	m.Metadata.PollStatus = "complete"
	if !complete {
		m.Metadata.PollStatus = "partial"
	}
	if !group.LastRequest.IsZero() && !at.Before(group.LastRequest) {
		m.Metadata.PollDurationMs = at.Sub(group.LastRequest).Milliseconds()
	}
	return m
}

// Formatter serialises a metric into a byte slice. An interface so
// alternative encodings could be substituted without touching callers.
type Formatter interface {
	Format(metric *models.SNMPMetric) ([]byte, error)
}

// Config controls JSONFormatter behaviour.
type Config struct {
	// PrettyPrint emits indented, human-readable JSON when true.
	PrettyPrint bool

	// Indent is the indent string used when PrettyPrint=true. Defaults to
	// two spaces when empty and PrettyPrint=true.
	Indent string
}

// JSONFormatter implements Formatter using encoding/json.
type JSONFormatter struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a JSONFormatter. A nil logger is replaced with a discard
// logger so the formatter never panics on a nil receiver.
func New(cfg Config, logger *slog.Logger) *JSONFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.PrettyPrint && cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &JSONFormatter{cfg: cfg, logger: logger}
}

// Format serialises metric to JSON.
func (f *JSONFormatter) Format(metric *models.SNMPMetric) ([]byte, error) {
	if metric == nil {
		return nil, fmt.Errorf("format/json: metric must not be nil")
	}

	var (
		data []byte
		err  error
	)
	if f.cfg.PrettyPrint {
		data, err = json.MarshalIndent(metric, "", f.cfg.Indent)
	} else {
		data, err = json.Marshal(metric)
	}
	if err != nil {
		f.logger.Error("format/json: marshal failed", "group", metric.Group, "error", err.Error())
		return nil, fmt.Errorf("format/json: marshal: %w", err)
	}

	f.logger.Debug("format/json: formatted metric", "group", metric.Group, "metric_count", len(metric.Metrics), "bytes", len(data))
	return data, nil
}
