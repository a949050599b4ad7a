// Package daemon runs the long-lived strata process: the event bus, the
// router, the embedded NATS server with the JetStream mirror, external
// handlers, and config hot reload.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/strataos/strata/internal/config"
	"github.com/strataos/strata/internal/eventbus"
	"github.com/strataos/strata/internal/layer"
	"github.com/strataos/strata/internal/router"
	"github.com/strataos/strata/internal/telemetry"
)

// How often the daemon snapshots embedded NATS health onto the bus.
const defaultHealthInterval = 30 * time.Second

// Daemon owns the runtime components. Build with New, drive with Run.
type Daemon struct {
	cfgPath string
	version string
	cfg     *config.Config
	log     *slog.Logger

	bus            *eventbus.Bus
	registry       *layer.Registry
	router         *router.Router
	nats           *NATSServer
	healthInterval time.Duration
}

// New loads configuration and assembles the daemon. Nothing is started
// until Run.
func New(cfgPath, version string) (*Daemon, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	bus := eventbus.New(eventbus.Config{
		HistoryCapacity: cfg.Bus.HistoryCapacity,
		ChannelBuffer:   cfg.Bus.ChannelBuffer,
	})
	registry := layer.NewRegistry()

	rt := router.New(bus, registry, router.Config{
		MaxQueueSize:  cfg.Router.MaxQueueSize,
		MaxConcurrent: cfg.Router.MaxConcurrent,
		EventTimeout:  cfg.Router.EventTimeout.Std(),
	})
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	rt.SetRules(rules)

	return &Daemon{
		cfgPath:        cfgPath,
		version:        version,
		cfg:            cfg,
		log:            log,
		bus:            bus,
		registry:       registry,
		router:         rt,
		healthInterval: defaultHealthInterval,
	}, nil
}

// Bus returns the daemon's event bus.
func (d *Daemon) Bus() *eventbus.Bus { return d.bus }

// Registry returns the capability registry.
func (d *Daemon) Registry() *layer.Registry { return d.registry }

// Router returns the priority router.
func (d *Daemon) Router() *router.Router { return d.router }

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	if err := telemetry.Init(ctx, "strata", d.version); err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background())

	if d.cfg.NATS.Enabled {
		if err := d.startNATS(); err != nil {
			return err
		}
		defer d.nats.Shutdown()
	}

	if err := d.registerHandlers(); err != nil {
		return err
	}

	d.router.Start(ctx)
	defer d.router.Stop()

	// Hot reload: rule and log-level changes apply live; capacity changes
	// need a restart and are logged as such.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		err := config.Watch(watchCtx, d.cfgPath, d.applyReload)
		if err != nil && watchCtx.Err() == nil {
			d.log.Warn("config watcher stopped", "error", err)
		}
	}()

	startup := eventbus.NewEvent(layer.System, eventbus.CategorySystemStartup, eventbus.PriorityHigh).
		WithPayload(eventbus.KeyValuePayload(map[string]string{"version": d.version}))
	if err := d.bus.Publish(ctx, startup); err != nil {
		return fmt.Errorf("daemon: startup event: %w", err)
	}

	if d.nats != nil {
		go d.publishNATSHealth(ctx)
	}
	d.log.Info("daemon started",
		"version", d.version,
		"nats", d.cfg.NATS.Enabled,
		"handlers", len(d.bus.Handlers()))

	<-ctx.Done()

	// Context is gone; use a fresh one so the shutdown event still runs
	// every handler.
	shutdown := eventbus.NewEvent(layer.System, eventbus.CategorySystemShutdown, eventbus.PriorityCritical)
	if err := d.bus.Publish(context.Background(), shutdown); err != nil {
		d.log.Warn("shutdown event", "error", err)
	}
	d.log.Info("daemon stopped")
	return nil
}

func (d *Daemon) startNATS() error {
	runtimeDir := d.cfg.NATS.StoreDir
	if runtimeDir == "" {
		runtimeDir = filepath.Join(os.TempDir(), "strata")
	}

	natsCfg := NATSConfigFromEnv(runtimeDir)
	if d.cfg.NATS.Port != 0 {
		natsCfg.Port = d.cfg.NATS.Port
	}
	if d.cfg.NATS.StoreDir != "" {
		natsCfg.StoreDir = filepath.Join(d.cfg.NATS.StoreDir, "nats")
	}

	ns, err := StartNATSServer(natsCfg)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	d.nats = ns

	js, err := ns.Conn().JetStream()
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("daemon: jetstream context: %w", err)
	}
	if err := eventbus.EnsureStreams(js); err != nil {
		ns.Shutdown()
		return fmt.Errorf("daemon: %w", err)
	}

	categories, minPriority := d.cfg.MirrorFilter()
	d.bus.RegisterHandler(eventbus.NewMirrorHandler(js, categories, minPriority))
	d.log.Info("nats started", "port", ns.Port(), "store", natsCfg.StoreDir)
	return nil
}

// publishNATSHealth periodically snapshots the embedded NATS server and
// broadcasts the snapshot as a health_change event, so any layer (and the
// JetStream mirror) can observe broker health without reaching into the
// daemon.
func (d *Daemon) publishNATSHealth(ctx context.Context) {
	ticker := time.NewTicker(d.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := d.nats.Health()
			raw, err := json.Marshal(h)
			if err != nil {
				d.log.Warn("nats health snapshot", "error", err)
				continue
			}
			e := eventbus.NewEvent(layer.System, eventbus.CategoryHealthChange, eventbus.PriorityLow).
				WithPayload(eventbus.JSONPayload(raw))
			if err := d.bus.Publish(ctx, e); err != nil && ctx.Err() == nil {
				d.log.Warn("nats health event", "error", err)
			}
		}
	}
}

func (d *Daemon) registerHandlers() error {
	for _, hc := range d.cfg.Handlers {
		h, err := eventbus.NewExternalHandler(hc)
		if err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		d.bus.RegisterHandler(h)
		d.log.Info("external handler registered", "id", h.ID())
	}

	metrics, err := telemetry.NewBusMetrics(telemetry.Meter(""), telemetry.Tracer(""))
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	d.bus.RegisterHandler(metrics)
	return telemetry.RegisterBusGauges(telemetry.Meter(""), d.bus.Statistics, d.router.QueueDepth)
}

func (d *Daemon) applyReload(cfg *config.Config) {
	rules, err := cfg.Rules()
	if err != nil {
		d.log.Warn("config reload rejected", "error", err)
		return
	}
	d.router.SetRules(rules)

	if cfg.Bus.HistoryCapacity != d.cfg.Bus.HistoryCapacity ||
		cfg.Bus.ChannelBuffer != d.cfg.Bus.ChannelBuffer {
		d.log.Warn("bus capacity changes require a restart")
	}

	d.cfg = cfg
	d.log.Info("config reloaded", "rules", len(rules))
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
