package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/rzbill/historykit/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir       string   `json:"dataDir" yaml:"dataDir"`
	Fsync         string   `json:"fsync" yaml:"fsync"`
	FsyncInterval Duration `json:"fsyncInterval" yaml:"fsyncInterval"`

	History    HistoryConfig    `json:"history" yaml:"history"`
	Timestamps TimestampsConfig `json:"timestamps" yaml:"timestamps"`
	Kit        KitConfig        `json:"kit" yaml:"kit"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Log        log.Config       `json:"log" yaml:"log"`
}

// HistoryConfig selects the change-log backend.
type HistoryConfig struct {
	// Backend is pebble, sqlite or postgres.
	Backend string `json:"backend" yaml:"backend"`
	// Store names the history inside the backend.
	Store string `json:"store" yaml:"store"`
	// DSN is the database/sql data source for sqlite and postgres. For
	// sqlite an empty DSN means <dataDir>/history.db.
	DSN string `json:"dsn" yaml:"dsn"`
	// BatchLimit caps deletes per committed batch.
	BatchLimit int `json:"batchLimit" yaml:"batchLimit"`
	// DeleteRate limits delete batches per second; 0 is unlimited.
	DeleteRate  float64 `json:"deleteRate" yaml:"deleteRate"`
	DeleteBurst int     `json:"deleteBurst" yaml:"deleteBurst"`
	// PollInterval drives the poll signal source that detects writes by
	// other processes; 0 disables it.
	PollInterval Duration `json:"pollInterval" yaml:"pollInterval"`
}

// TimestampsConfig selects where per-author timestamps live.
type TimestampsConfig struct {
	// Backend is pebble, redis or memory.
	Backend   string      `json:"backend" yaml:"backend"`
	KeyPrefix string      `json:"keyPrefix" yaml:"keyPrefix"`
	Redis     RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string   `json:"addr" yaml:"addr"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	DB       int      `json:"db" yaml:"db"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`
}

// KitConfig mirrors kit.Options.
type KitConfig struct {
	CurrentAuthor          string   `json:"currentAuthor" yaml:"currentAuthor"`
	Authors                []string `json:"authors" yaml:"authors"`
	BatchAuthors           []string `json:"batchAuthors" yaml:"batchAuthors"`
	IncludeMirroring       bool     `json:"includeMirroring" yaml:"includeMirroring"`
	IncludeOwnTransactions bool     `json:"includeOwnTransactions" yaml:"includeOwnTransactions"`
	Filter                 string   `json:"filter" yaml:"filter"`
	MaximumDuration        Duration `json:"maximumDuration" yaml:"maximumDuration"`
	Purge                  Purge    `json:"purge" yaml:"purge"`
	Verbosity              int      `json:"verbosity" yaml:"verbosity"`
}

// Purge selects the purge strategy: none, duration or notification.
type Purge struct {
	Strategy string   `json:"strategy" yaml:"strategy"`
	Interval Duration `json:"interval" yaml:"interval"`
	Every    int      `json:"every" yaml:"every"`
}

// MetricsConfig enables the ops endpoint (Prometheus metrics, health and
// kit status) when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Fsync:   "always",
		History: HistoryConfig{
			Backend:     "pebble",
			Store:       "default",
			BatchLimit:  1024,
			DeleteBurst: 1,
		},
		Timestamps: TimestampsConfig{
			Backend:   "pebble",
			KeyPrefix: "historykit.last.",
		},
		Kit: KitConfig{
			MaximumDuration: Duration(7 * 24 * time.Hour),
			Purge:           Purge{Strategy: "notification", Every: 1},
			Verbosity:       1,
		},
		Log: log.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "config: read")
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	}
	return cfg, nil
}

// Validate checks values the runtime cannot recover from. Kit-level rules
// (author sets, strategy parameters) are checked again by kit.New.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	check(oneOf(c.History.Backend, "pebble", "sqlite", "postgres"), "history.backend %q: use pebble|sqlite|postgres", c.History.Backend)
	check(c.History.Store != "", "history.store is required")
	check(c.History.Backend != "postgres" || c.History.DSN != "", "history.dsn is required for postgres")
	check(c.History.DeleteRate >= 0, "history.deleteRate must not be negative")
	check(oneOf(c.Timestamps.Backend, "pebble", "redis", "memory"), "timestamps.backend %q: use pebble|redis|memory", c.Timestamps.Backend)
	check(c.Timestamps.Backend != "redis" || c.Timestamps.Redis.Addr != "", "timestamps.redis.addr is required for redis")
	check(oneOf(c.Kit.Purge.Strategy, "none", "duration", "notification"), "kit.purge.strategy %q: use none|duration|notification", c.Kit.Purge.Strategy)
	check(c.Kit.CurrentAuthor != "", "kit.currentAuthor is required")
	check(!c.UsesPebble() || c.DataDir != "", "dataDir is required for pebble storage")
	if len(problems) > 0 {
		return errors.Newf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// UsesPebble reports whether any component needs the Pebble data directory.
func (c Config) UsesPebble() bool {
	return c.History.Backend == "pebble" || c.Timestamps.Backend == "pebble"
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Duration is a time.Duration written as a Go duration string ("90s",
// "168h") in config files. Bare JSON numbers are nanoseconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.Newf("duration: want string or integer, got %s", b)
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "duration %q", s)
	}
	*d = Duration(v)
	return nil
}
