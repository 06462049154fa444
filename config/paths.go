// Package config provides YAML configuration loading for the polling
// engine: a directory of poll-group definitions plus an optional defaults
// file, producing the []*models.PollGroup data model the engine runs on.
//
// Environment variables override each directory path, zero-valued fields
// fall back to hard-coded defaults, and a missing directory means an
// empty section so partial deployments still load.
package config

import "os"

// Paths holds the directory locations for the two configuration trees.
type Paths struct {
	Groups   string // SNMPPOLL_GROUP_DEFINITIONS_DIRECTORY_PATH
	Defaults string // SNMPPOLL_DEFAULTS_DIRECTORY_PATH
}

// PathsFromEnv reads each path from its environment variable, falling back
// to the documented default when unset or empty.
func PathsFromEnv() Paths {
	return Paths{
		Groups:   envOr("SNMPPOLL_GROUP_DEFINITIONS_DIRECTORY_PATH", "/etc/snmppoll/groups"),
		Defaults: envOr("SNMPPOLL_DEFAULTS_DIRECTORY_PATH", "/etc/snmppoll/defaults"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
