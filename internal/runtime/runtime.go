package runtime

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	cfgpkg "github.com/rzbill/historykit/internal/config"
	"github.com/rzbill/historykit/internal/history"
	"github.com/rzbill/historykit/internal/kv"
	"github.com/rzbill/historykit/internal/metrics"
	pebblestore "github.com/rzbill/historykit/internal/storage/pebble"
	"github.com/rzbill/historykit/pkg/kit"
	"github.com/rzbill/historykit/pkg/log"
)

// HistoryStore is a change log the runtime can open.
type HistoryStore interface {
	kit.History
	kit.SignalSource
	history.LatestSource
	Append(ctx context.Context, req history.AppendRequest) (kit.Transaction, error)
	Store() string
	Close() error
}

// TimestampStore is a kit.KV that can also list its keys.
type TimestampStore interface {
	kit.KV
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger log.Logger
	// Metrics defaults to a fresh collector.
	Metrics *metrics.Collector
	// RedisClient overrides the client dialed from Config.Timestamps.Redis.
	RedisClient kv.RedisClient
}

// Runtime wires storage, config, and the kit for a single process.
type Runtime struct {
	config  cfgpkg.Config
	logger  log.Logger
	metrics *metrics.Collector

	db      *pebblestore.DB
	sqlDB   *sql.DB
	redis   interface{ Close() error }
	history HistoryStore
	kv      TimestampStore
	ping    []func(context.Context) error
}

// Open validates the configuration and opens every configured store. On
// failure anything already opened is closed.
func Open(ctx context.Context, opts Options) (_ *Runtime, err error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runtime{config: cfg, logger: opts.Logger, metrics: opts.Metrics}
	if r.logger == nil {
		if r.logger, err = log.ApplyConfig(&cfg.Log); err != nil {
			return nil, errors.Wrap(err, "runtime: logger")
		}
	}
	r.logger = r.logger.WithComponent("runtime")
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if cfg.UsesPebble() {
		if err := r.openPebble(); err != nil {
			return nil, err
		}
	}
	if err := r.openHistory(ctx); err != nil {
		return nil, err
	}
	if err := r.openTimestamps(opts.RedisClient); err != nil {
		return nil, err
	}
	r.logger.Info("runtime opened",
		log.Str("history", cfg.History.Backend),
		log.Str("store", cfg.History.Store),
		log.Str("timestamps", cfg.Timestamps.Backend))
	return r, nil
}

func (r *Runtime) openPebble() error {
	mode, err := pebblestore.ParseFsyncMode(r.config.Fsync)
	if err != nil {
		return err
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(r.config.DataDir, "store"),
		Fsync:         mode,
		FsyncInterval: r.config.FsyncInterval.D(),
		Metrics:       r.metrics,
	})
	if err != nil {
		return err
	}
	r.db = db
	r.ping = append(r.ping, func(context.Context) error {
		it, err := db.NewIter(nil)
		if err != nil {
			return err
		}
		return it.Close()
	})
	return nil
}

func (r *Runtime) historyOptions() []history.Option {
	h := r.config.History
	opts := []history.Option{
		history.WithBatchLimit(h.BatchLimit),
		history.WithTrimHook(r.metrics),
	}
	if h.DeleteRate > 0 {
		opts = append(opts, history.WithDeleteRate(rate.Limit(h.DeleteRate), h.DeleteBurst))
	}
	return opts
}

func (r *Runtime) openHistory(ctx context.Context) error {
	h := r.config.History
	if h.Backend == "pebble" {
		l, err := history.OpenPebbleLog(r.db, h.Store, r.historyOptions()...)
		if err != nil {
			return err
		}
		r.history = l
		return nil
	}

	dialect, err := history.ParseDialect(h.Backend)
	if err != nil {
		return err
	}
	dsn := h.DSN
	if dsn == "" && dialect == history.DialectSQLite {
		if err := os.MkdirAll(r.config.DataDir, 0o755); err != nil {
			return errors.Wrap(err, "runtime: create data dir")
		}
		dsn = filepath.Join(r.config.DataDir, "history.db")
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return errors.Wrapf(err, "runtime: open %s", h.Backend)
	}
	if dialect == history.DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	r.sqlDB = db
	r.ping = append(r.ping, db.PingContext)
	l, err := history.OpenSQLLog(ctx, db, dialect, h.Store, r.historyOptions()...)
	if err != nil {
		return err
	}
	r.history = l
	return nil
}

func (r *Runtime) openTimestamps(client kv.RedisClient) error {
	t := r.config.Timestamps
	switch t.Backend {
	case "memory":
		r.kv = kv.NewMemory()
	case "redis":
		if client == nil {
			c := kv.NewRedisClient(kv.RedisOptions{
				Addr:     t.Redis.Addr,
				Username: t.Redis.Username,
				Password: t.Redis.Password,
				DB:       t.Redis.DB,
				Timeout:  t.Redis.Timeout.D(),
			})
			r.redis = c
			client = c
		}
		store := kv.NewRedis(client, "")
		r.ping = append(r.ping, store.Ping)
		r.kv = store
	default:
		r.kv = kv.NewPebble(r.db)
	}
	return nil
}

// History returns the configured change log.
func (r *Runtime) History() HistoryStore { return r.history }

// KV returns the timestamp store.
func (r *Runtime) KV() TimestampStore { return r.kv }

// Metrics returns the metrics collector shared by every component.
func (r *Runtime) Metrics() *metrics.Collector { return r.metrics }

// Logger returns the runtime logger.
func (r *Runtime) Logger() log.Logger { return r.logger }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// DB exposes the Pebble database, or nil when no component uses Pebble.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Signals returns the history's own signals, merged with a poll source when
// history.pollInterval is set.
func (r *Runtime) Signals() kit.SignalSource {
	interval := r.config.History.PollInterval.D()
	if interval <= 0 {
		return r.history
	}
	poll := &history.PollSource{Store: r.history.Store(), Interval: interval, LatestSource: r.history}
	return history.MergeSources(r.history, poll)
}

// Strategy builds the configured purge strategy.
func (r *Runtime) Strategy() kit.PurgeStrategy {
	p := r.config.Kit.Purge
	switch p.Strategy {
	case "none":
		return kit.PurgeNone()
	case "duration":
		return kit.PurgeByDuration(p.Interval.D())
	default:
		return kit.PurgeByNotification(p.Every)
	}
}

// KitOptions adds the parts of kit.Options that cannot come from config.
type KitOptions struct {
	Contexts  []kit.Context
	Observer  kit.Observer
	AutoStart bool
	Clock     kit.Clock
}

// NewKit builds a kit over the runtime's stores.
func (r *Runtime) NewKit(o KitOptions) (*kit.Kit, error) {
	c := r.config.Kit
	return kit.New(kit.Options{
		CurrentAuthor:          c.CurrentAuthor,
		Authors:                c.Authors,
		BatchAuthors:           c.BatchAuthors,
		IncludeMirroring:       c.IncludeMirroring,
		IncludeOwnTransactions: c.IncludeOwnTransactions,
		Filter:                 c.Filter,
		History:                r.history,
		Signals:                r.Signals(),
		KV:                     r.kv,
		Contexts:               o.Contexts,
		MaximumDuration:        c.MaximumDuration.D(),
		KeyPrefix:              r.config.Timestamps.KeyPrefix,
		Strategy:               r.Strategy(),
		Verbosity:              c.Verbosity,
		Logger:                 r.logger.WithComponent("kit"),
		Metrics:                r.metrics,
		Observer:               o.Observer,
		Clock:                  o.Clock,
		AutoStart:              o.AutoStart,
	})
}

// CheckHealth pings every open store.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.history == nil || r.kv == nil {
		return errors.New("runtime: not open")
	}
	for _, ping := range r.ping {
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, "runtime: health")
		}
	}
	return nil
}

// Close closes every store the runtime opened.
func (r *Runtime) Close() error {
	r.ping = nil
	var errs error
	if r.history != nil {
		errs = errors.CombineErrors(errs, r.history.Close())
		r.history = nil
	}
	if r.sqlDB != nil {
		errs = errors.CombineErrors(errs, r.sqlDB.Close())
		r.sqlDB = nil
	}
	if r.redis != nil {
		errs = errors.CombineErrors(errs, r.redis.Close())
		r.redis = nil
	}
	if r.db != nil {
		errs = errors.CombineErrors(errs, r.db.Close())
		r.db = nil
	}
	return errs
}
