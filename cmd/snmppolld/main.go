// Command snmppolld is the polling daemon binary.
//
// It loads YAML configuration from directories specified by environment
// variables (or command-line flags), builds the polling engine, and runs
// until interrupted (SIGINT / SIGTERM).
//
// Usage:
//
//	snmppolld [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tillwatch/snmppoll/config"
	"github.com/tillwatch/snmppoll/engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snmppolld: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		logLevel string
		logFmt   string
		pidFile  string

		retries       int
		rrdtoolPath   string
		debugJSONPath string

		cfgGroups   string
		cfgDefaults string
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "text", "Log format: json, text")
	flag.StringVar(&pidFile, "pid.file", "", "Write process PID to this path (disabled when empty)")
	flag.IntVar(&retries, "poll.retries", 3, "Retry count per request before a field/query reports timeout")
	flag.StringVar(&rrdtoolPath, "rrd.tool.path", "", "Path to the rrdtool binary (default: \"rrdtool\" on PATH)")
	flag.StringVar(&debugJSONPath, "debug.json.path", "", "Write one JSON metrics record per finished poll cycle to this path (disabled when empty)")
	flag.StringVar(&cfgGroups, "config.groups", "", "Override SNMPPOLL_GROUP_DEFINITIONS_DIRECTORY_PATH")
	flag.StringVar(&cfgDefaults, "config.defaults", "", "Override SNMPPOLL_DEFAULTS_DIRECTORY_PATH")
	flag.Parse()

	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	if pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			return fmt.Errorf("pid file: %w", err)
		}
		defer os.Remove(pidFile)
	}

	paths := config.PathsFromEnv()
	if cfgGroups != "" {
		paths.Groups = cfgGroups
	}
	if cfgDefaults != "" {
		paths.Defaults = cfgDefaults
	}

	eng := engine.New(engine.Config{
		ConfigPaths:    paths,
		DefaultRetries: retries,
		RRDToolPath:    rrdtoolPath,
		DebugJSONPath:  debugJSONPath,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("snmppolld: running — press Ctrl-C to stop")
	<-ctx.Done()
	logger.Info("snmppolld: received shutdown signal")

	eng.Stop()
	return nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}
	return slog.New(handler), nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644)
}
