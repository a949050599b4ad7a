// Package config loads the daemon configuration: a YAML file with
// environment-variable overrides on top, and a file watcher for hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strataos/strata/internal/eventbus"
	"github.com/strataos/strata/internal/layer"
	"github.com/strataos/strata/internal/router"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// BusConfig tunes the event bus capacities.
type BusConfig struct {
	HistoryCapacity int `yaml:"history_capacity"`
	ChannelBuffer   int `yaml:"channel_buffer"`
}

// RuleConfig is the serializable form of a routing rule. Categories,
// policy, target, and priority are plain strings so the file stays
// hand-editable; Rule converts and validates.
type RuleConfig struct {
	Name        string   `yaml:"name"`
	Categories  []string `yaml:"categories,omitempty"`
	Policy      string   `yaml:"policy"`
	Target      string   `yaml:"target,omitempty"`
	MinPriority string   `yaml:"min_priority,omitempty"`
	Enabled     bool     `yaml:"enabled"`
}

// Rule converts the serializable form into a router rule.
func (rc RuleConfig) Rule() (router.Rule, error) {
	var minPriority eventbus.Priority
	if rc.MinPriority != "" {
		if err := minPriority.UnmarshalText([]byte(rc.MinPriority)); err != nil {
			return router.Rule{}, fmt.Errorf("config: rule %s: %w", rc.Name, err)
		}
	}

	policy := router.Policy(rc.Policy)
	switch policy {
	case router.PolicyBroadcast, router.PolicyRoundRobin, router.PolicyLeastLoaded,
		router.PolicyDirect, router.PolicyCapability:
	default:
		return router.Rule{}, fmt.Errorf("config: rule %s: unknown policy %q", rc.Name, rc.Policy)
	}
	if policy == router.PolicyDirect && rc.Target == "" {
		return router.Rule{}, fmt.Errorf("config: rule %s: direct policy requires a target", rc.Name)
	}

	categories := make([]eventbus.Category, len(rc.Categories))
	for i, c := range rc.Categories {
		categories[i] = eventbus.Category(c)
	}

	return router.Rule{
		Name:        rc.Name,
		Categories:  categories,
		Policy:      policy,
		Target:      layer.ID(rc.Target),
		MinPriority: minPriority,
		Enabled:     rc.Enabled,
	}, nil
}

// RouterConfig tunes the router and carries its rule set.
type RouterConfig struct {
	MaxQueueSize  int          `yaml:"max_queue_size"`
	MaxConcurrent int          `yaml:"max_concurrent"`
	EventTimeout  Duration     `yaml:"event_timeout"`
	Rules         []RuleConfig `yaml:"rules,omitempty"`
}

// NATSConfig controls the embedded NATS server and the JetStream mirror.
type NATSConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Port              int      `yaml:"port"`      // 0 = default (4222), negative = random free port
	StoreDir          string   `yaml:"store_dir"` // "" = temp dir
	MirrorCategories  []string `yaml:"mirror_categories,omitempty"`
	MirrorMinPriority string   `yaml:"mirror_min_priority,omitempty"`
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel string                           `yaml:"log_level"`
	Bus      BusConfig                        `yaml:"bus"`
	Router   RouterConfig                     `yaml:"router"`
	NATS     NATSConfig                       `yaml:"nats"`
	Handlers []eventbus.ExternalHandlerConfig `yaml:"handlers,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Bus: BusConfig{
			HistoryCapacity: eventbus.DefaultHistoryCapacity,
			ChannelBuffer:   eventbus.DefaultChannelBuffer,
		},
		Router: RouterConfig{
			MaxQueueSize:  router.DefaultMaxQueueSize,
			MaxConcurrent: router.DefaultMaxConcurrent,
			EventTimeout:  Duration(router.DefaultEventTimeout),
		},
		NATS: NATSConfig{
			Enabled: true,
		},
	}
}

// Load reads the YAML file at path and applies environment overrides. A
// missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables override file values. Invalid numeric values are
// ignored rather than fatal so a bad export cannot brick the daemon.
func (c *Config) applyEnv() {
	if v := os.Getenv("STRATA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if n, ok := envInt("STRATA_HISTORY_CAPACITY"); ok {
		c.Bus.HistoryCapacity = n
	}
	if n, ok := envInt("STRATA_CHANNEL_BUFFER"); ok {
		c.Bus.ChannelBuffer = n
	}
	if n, ok := envInt("STRATA_NATS_PORT"); ok {
		c.NATS.Port = n
	}
	if v := os.Getenv("STRATA_NATS_STORE_DIR"); v != "" {
		c.NATS.StoreDir = v
	}
	if v := os.Getenv("STRATA_NATS_ENABLED"); v != "" {
		c.NATS.Enabled = v == "1" || v == "true"
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *Config) validate() error {
	for _, rc := range c.Router.Rules {
		if _, err := rc.Rule(); err != nil {
			return err
		}
	}
	for _, hc := range c.Handlers {
		if _, err := eventbus.NewExternalHandler(hc); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.NATS.MirrorMinPriority != "" {
		var p eventbus.Priority
		if err := p.UnmarshalText([]byte(c.NATS.MirrorMinPriority)); err != nil {
			return fmt.Errorf("config: mirror_min_priority: %w", err)
		}
	}
	return nil
}

// Rules converts every configured rule. Load has already validated them, so
// conversion errors here only occur for configs built in code.
func (c *Config) Rules() ([]router.Rule, error) {
	rules := make([]router.Rule, 0, len(c.Router.Rules))
	for _, rc := range c.Router.Rules {
		r, err := rc.Rule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// MirrorFilter returns the mirror's category and priority filter.
func (c *Config) MirrorFilter() ([]eventbus.Category, eventbus.Priority) {
	categories := make([]eventbus.Category, len(c.NATS.MirrorCategories))
	for i, s := range c.NATS.MirrorCategories {
		categories[i] = eventbus.Category(s)
	}
	var p eventbus.Priority
	if c.NATS.MirrorMinPriority != "" {
		_ = p.UnmarshalText([]byte(c.NATS.MirrorMinPriority))
	}
	return categories, p
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
