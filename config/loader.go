package config

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tillwatch/snmppoll/models"
)

// LoadedConfig is the fully parsed, fully resolved configuration: the
// []*models.PollGroup the engine's poll.Scheduler runs directly.
type LoadedConfig struct {
	Groups []*models.PollGroup
}

// Load reads the defaults file (if any) and every group definitions file
// under paths.Groups, merging defaults into zero-valued item fields and
// resolving each group into a models.PollGroup. Errors from individual
// files are logged and skipped — a bad file doesn't kill the whole load;
// only directory-level I/O errors (other than "does not exist") are
// returned.
func Load(paths Paths, logger *slog.Logger) (*LoadedConfig, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	defaults, err := loadDefaults(paths.Defaults, logger)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	groups, err := loadGroups(paths.Groups, defaults, logger)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &LoadedConfig{Groups: groups}, nil
}

func loadDefaults(dir string, logger *slog.Logger) (rawItemDefaults, error) {
	var merged rawItemDefaults
	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return merged, nil
		}
		return merged, fmt.Errorf("list defaults dir %q: %w", dir, err)
	}

	for _, path := range files {
		var raw rawDefaults
		if err := decodeFile(path, &raw); err != nil {
			logger.Warn("config: skip malformed defaults file", "file", path, "error", err.Error())
			continue
		}
		merged = mergeDefaults(merged, raw.Default)
		logger.Debug("config: loaded defaults", "file", path)
	}
	return merged, nil
}

// mergeDefaults fills zero fields in dst with values from src — later
// files only add what earlier ones left unset; the first file to set a
// field wins.
func mergeDefaults(dst, src rawItemDefaults) rawItemDefaults {
	if dst.Port == 0 && src.Port != 0 {
		dst.Port = src.Port
	}
	if dst.Community == "" && src.Community != "" {
		dst.Community = src.Community
	}
	if dst.Version == "" && src.Version != "" {
		dst.Version = src.Version
	}
	if dst.IntervalMs == 0 && src.IntervalMs != 0 {
		dst.IntervalMs = src.IntervalMs
	}
	if dst.TimeoutMs == 0 && src.TimeoutMs != 0 {
		dst.TimeoutMs = src.TimeoutMs
	}
	return dst
}

func loadGroups(dir string, defaults rawItemDefaults, logger *slog.Logger) ([]*models.PollGroup, error) {
	var groups []*models.PollGroup
	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return groups, nil
		}
		return groups, fmt.Errorf("list groups dir %q: %w", dir, err)
	}

	for _, path := range files {
		var raw rawGroupFile
		if err := decodeFile(path, &raw); err != nil {
			logger.Warn("config: skip malformed group file", "file", path, "error", err.Error())
			continue
		}
		for name, entry := range raw {
			g, err := resolveGroup(name, entry, defaults)
			if err != nil {
				logger.Warn("config: skip invalid group", "group", name, "file", path, "error", err.Error())
				continue
			}
			groups = append(groups, g)
		}
		logger.Debug("config: loaded group file", "file", path, "count", len(raw))
	}
	return groups, nil
}

// resolveGroup merges defaults into every item and builds the PollGroup
// key, "<timeout>-<interval>:<rrd-path>".
func resolveGroup(name string, e rawGroupEntry, defaults rawItemDefaults) (*models.PollGroup, error) {
	intervalMs := e.IntervalMs
	if intervalMs == 0 {
		intervalMs = defaults.IntervalMs
	}
	if intervalMs == 0 {
		intervalMs = 60000
	}
	timeoutMs := e.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = defaults.TimeoutMs
	}
	if timeoutMs == 0 {
		timeoutMs = 3000
	}

	primaryPath := name
	if len(e.RRDPaths) > 0 {
		primaryPath = e.RRDPaths[0]
	} else if len(e.RawPaths) > 0 {
		primaryPath = e.RawPaths[0]
	}

	g := &models.PollGroup{
		Key:      fmt.Sprintf("%d-%d:%s", timeoutMs, intervalMs, primaryPath),
		Interval: time.Duration(intervalMs) * time.Millisecond,
		Timeout:  time.Duration(timeoutMs) * time.Millisecond,
		RRDPaths: e.RRDPaths,
		RawPaths: e.RawPaths,
	}

	for _, raw := range e.Items {
		it, err := resolveItem(raw, defaults)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", raw.Field, err)
		}
		it.Group = g
		g.Items = append(g.Items, it)
	}
	return g, nil
}

func resolveItem(e rawItemEntry, defaults rawItemDefaults) (*models.Item, error) {
	if len(e.Hostnames) == 0 {
		return nil, fmt.Errorf("at least one hostname required")
	}
	if len(e.Hostnames) > models.MaxAlternates {
		return nil, fmt.Errorf("%d hostnames exceeds max %d", len(e.Hostnames), models.MaxAlternates)
	}
	if e.FieldOID == "" {
		return nil, fmt.Errorf("field_oid required")
	}

	port := e.Port
	if port == 0 {
		port = defaults.Port
	}
	if port == 0 {
		port = 161
	}

	community := e.Community
	if community == "" {
		community = defaults.Community
	}

	versionStr := e.Version
	if versionStr == "" {
		versionStr = defaults.Version
	}
	version, err := parseVersion(versionStr)
	if err != nil {
		return nil, err
	}

	it := &models.Item{
		Field:     e.Field,
		Reference: e.Reference,
		Community: community,
		Version:   version,
		FieldOID:  normalizeOID(e.FieldOID),
		Hostnames: e.Hostnames,
		Port:      port,
	}
	if e.QueryOID != "" {
		it.HasQuery = true
		it.QueryOID = normalizeOID(e.QueryOID)
		it.QueryMatch = e.QueryMatch
	}
	return it, nil
}

// parseVersion accepts "1"/"v1" and "2c"/"v2c"/"" (default v2c). SNMPv3
// is not supported.
func parseVersion(s string) (models.SNMPVersion, error) {
	switch strings.ToLower(strings.TrimPrefix(s, "v")) {
	case "", "2c":
		return models.V2c, nil
	case "1":
		return models.V1, nil
	default:
		return 0, fmt.Errorf("unsupported snmp version %q (only 1 and 2c)", s)
	}
}

// normalizeOID strips a leading dot so OIDs are in canonical form.
func normalizeOID(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

// yamlFiles returns all *.yml / *.yaml files under dir, sorted by path.
func yamlFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yml" || ext == ".yaml" {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

// decodeFile opens path and unmarshals its YAML content into out.
func decodeFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false)
	return dec.Decode(out)
}
