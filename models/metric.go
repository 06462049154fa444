package models

import "time"

// SNMPMetric is the debug side-channel payload emitted per finished poll
// cycle when engine.Config.DebugJSONPath is set (see format/json). It carries
// everything a human inspecting the engine from outside needs: the
// originating group, every item's resolved value, and cycle timing.
type SNMPMetric struct {
	Timestamp time.Time      `json:"timestamp"`
	Group     string         `json:"group"`
	Metrics   []Metric       `json:"metrics"`
	Metadata  MetricMetadata `json:"metadata"`
}

// Metric represents a single item's resolved value for one poll cycle.
type Metric struct {
	Field    string      `json:"field"`
	Hostname string      `json:"hostname"`
	OID      string      `json:"oid"`
	Value    interface{} `json:"value"` // int64 | float64 | nil (unset)
}

// MetricMetadata carries operational metadata about the collection cycle.
type MetricMetadata struct {
	PollDurationMs int64  `json:"poll_duration_ms"`
	PollStatus     string `json:"poll_status"` // "complete" | "partial" (some item unset)
}
