// Package engine wires every collaborator (loop, resolver, host table,
// transport, request engine, query state machine, poll scheduler,
// persistence) into one runnable unit.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tillwatch/snmppoll/config"
	"github.com/tillwatch/snmppoll/engine/host"
	"github.com/tillwatch/snmppoll/engine/loop"
	"github.com/tillwatch/snmppoll/engine/poll"
	"github.com/tillwatch/snmppoll/engine/query"
	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/resolver"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/persist"
)

// Config holds the top-level settings the daemon entrypoint assembles
// from flags/environment. Zero-value fields fall back to documented
// defaults in withDefaults.
type Config struct {
	// ConfigPaths locate the YAML poll-group/defaults directories.
	ConfigPaths config.Paths

	// ResolverWorkers sizes the async DNS resolver's job queue depth.
	// Default: 4.
	ResolverWorkers int

	// DefaultRetries overrides the retry count every request is created
	// with. Retries are engine-wide, not per poll group. Default: 3.
	DefaultRetries int

	// RRDToolPath selects the rrdtool binary invoked by the persistence
	// collaborator. Default: "rrdtool" resolved via PATH.
	RRDToolPath string

	// DebugJSONPath, when non-empty, enables the supplemental per-cycle
	// JSON metrics dump alongside the RRD/raw persistence targets.
	DebugJSONPath string
}

func (c *Config) withDefaults() {
	if c.ResolverWorkers <= 0 {
		c.ResolverWorkers = 4
	}
	if c.DefaultRetries <= 0 {
		c.DefaultRetries = 3
	}
}

// Engine owns every collaborator's lifecycle: load configuration, build
// the poll groups, start the reactor, and run until Stop is called.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	loop      *loop.Loop
	resolver  *resolver.Resolver
	hosts     *host.Table
	transport *transport.Transport
	req       *request.Engine
	qmachine  *query.Machine
	persister *persist.Collaborator
	sched     *poll.Scheduler

	loaded *config.LoadedConfig
}

// New constructs an Engine. It does not start anything — call Start.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg.withDefaults()
	return &Engine{cfg: cfg, logger: logger}
}

// Start loads configuration, constructs every collaborator, schedules
// every poll group, and launches the reactor goroutine. It returns once
// the reactor has been launched — it does not block for the daemon's
// lifetime; the caller blocks on its own signal handling and calls Stop
// on shutdown.
func (e *Engine) Start(_ context.Context) error {
	e.logger.Info("engine: loading configuration")
	loaded, err := config.Load(e.cfg.ConfigPaths, e.logger)
	if err != nil {
		return fmt.Errorf("engine: load config: %w", err)
	}
	e.loaded = loaded

	e.loop = loop.New()
	e.resolver = resolver.New(e.cfg.ResolverWorkers)
	e.hosts = host.New(e.loop, e.resolver, e.logger)
	e.transport = transport.New(e.loop, e.logger)
	e.req = request.New(e.loop, e.transport, e.hosts, e.logger, request.WithDefaultRetries(e.cfg.DefaultRetries))
	e.qmachine = query.New(e.req, e.logger)
	e.persister = persist.New(e.cfg.RRDToolPath, e.cfg.DebugJSONPath, e.logger)
	e.sched = poll.New(e.loop, e.req, e.qmachine, e.hosts, e.persister, e.logger)

	for _, g := range loaded.Groups {
		e.sched.AddGroup(g)
	}

	e.resolver.Start()
	go e.forwardResolveResults()
	e.hosts.StartScanning()

	e.req.Start()
	e.sched.StartAll()

	go e.loop.Run()

	e.logger.Info("engine: running", "groups", len(loaded.Groups))
	return nil
}

// forwardResolveResults drains the resolver's result channel and forwards
// each one onto the event loop goroutine, so host state is only touched
// there. It returns once the resolver's worker goroutine has exited
// following Stop.
func (e *Engine) forwardResolveResults() {
	for {
		select {
		case res := <-e.resolver.Results():
			e.loop.Post(func() { e.hosts.HandleResolveResult(res) })
		case <-e.resolver.Done():
			return
		}
	}
}

// Stop performs a graceful shutdown: stop the reactor, wait for it to
// unwind its current callback, then join the resolver worker and release
// the transport's sockets and the persistence collaborator's open file
// handles.
func (e *Engine) Stop() {
	e.logger.Info("engine: shutting down")
	if e.loop != nil {
		e.loop.Stop()
		e.loop.Wait()
	}
	if e.resolver != nil {
		e.resolver.Stop()
	}
	if e.transport != nil {
		e.transport.Close()
	}
	if e.persister != nil {
		if err := e.persister.Close(); err != nil {
			e.logger.Error("engine: persist close error", "error", err.Error())
		}
	}
	e.logger.Info("engine: shutdown complete")
}
