package config

// rawDefaults is the top-level shape of one defaults file: a single
// "default:" entry whose zero fields are filled in from hard-coded
// fallbacks at resolution time.
type rawDefaults struct {
	Default rawItemDefaults `yaml:"default"`
}

type rawItemDefaults struct {
	Port       uint16 `yaml:"port"`
	Community  string `yaml:"community"`
	Version    string `yaml:"version"`
	IntervalMs int64  `yaml:"interval_ms"`
	TimeoutMs  int64  `yaml:"timeout_ms"`
}

// rawGroupFile is the top-level shape of one group definitions file:
// group name → group body. One file may define several groups.
type rawGroupFile map[string]rawGroupEntry

type rawGroupEntry struct {
	IntervalMs int64    `yaml:"interval_ms"`
	TimeoutMs  int64    `yaml:"timeout_ms"`
	RRDPaths   []string `yaml:"rrd_paths"`
	RawPaths   []string `yaml:"raw_paths"`

	Items []rawItemEntry `yaml:"items"`
}

type rawItemEntry struct {
	Field     string   `yaml:"field"`
	Reference string   `yaml:"reference"`
	Hostnames []string `yaml:"hostnames"`
	Port      uint16   `yaml:"port"`
	Community string   `yaml:"community"`
	Version   string   `yaml:"version"`

	FieldOID string `yaml:"field_oid"`

	QueryOID   string  `yaml:"query_oid"`
	QueryMatch *string `yaml:"query_match"`
}
