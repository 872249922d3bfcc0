package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays HISTORYKIT_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	dur := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(name); v != "" {
			*dst = splitList(v)
		}
	}

	str("HISTORYKIT_DATA_DIR", &cfg.DataDir)
	str("HISTORYKIT_FSYNC", &cfg.Fsync)
	dur("HISTORYKIT_FSYNC_INTERVAL", &cfg.FsyncInterval)

	str("HISTORYKIT_HISTORY_BACKEND", &cfg.History.Backend)
	str("HISTORYKIT_HISTORY_STORE", &cfg.History.Store)
	str("HISTORYKIT_HISTORY_DSN", &cfg.History.DSN)
	num("HISTORYKIT_HISTORY_BATCH_LIMIT", &cfg.History.BatchLimit)
	if v := os.Getenv("HISTORYKIT_HISTORY_DELETE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.History.DeleteRate = f
		}
	}
	dur("HISTORYKIT_HISTORY_POLL_INTERVAL", &cfg.History.PollInterval)

	str("HISTORYKIT_TIMESTAMPS_BACKEND", &cfg.Timestamps.Backend)
	str("HISTORYKIT_TIMESTAMPS_KEY_PREFIX", &cfg.Timestamps.KeyPrefix)
	str("HISTORYKIT_REDIS_ADDR", &cfg.Timestamps.Redis.Addr)
	str("HISTORYKIT_REDIS_USERNAME", &cfg.Timestamps.Redis.Username)
	str("HISTORYKIT_REDIS_PASSWORD", &cfg.Timestamps.Redis.Password)
	num("HISTORYKIT_REDIS_DB", &cfg.Timestamps.Redis.DB)

	str("HISTORYKIT_CURRENT_AUTHOR", &cfg.Kit.CurrentAuthor)
	list("HISTORYKIT_AUTHORS", &cfg.Kit.Authors)
	list("HISTORYKIT_BATCH_AUTHORS", &cfg.Kit.BatchAuthors)
	flag("HISTORYKIT_INCLUDE_MIRRORING", &cfg.Kit.IncludeMirroring)
	flag("HISTORYKIT_INCLUDE_OWN_TRANSACTIONS", &cfg.Kit.IncludeOwnTransactions)
	str("HISTORYKIT_FILTER", &cfg.Kit.Filter)
	dur("HISTORYKIT_MAXIMUM_DURATION", &cfg.Kit.MaximumDuration)
	str("HISTORYKIT_PURGE_STRATEGY", &cfg.Kit.Purge.Strategy)
	dur("HISTORYKIT_PURGE_INTERVAL", &cfg.Kit.Purge.Interval)
	num("HISTORYKIT_PURGE_EVERY", &cfg.Kit.Purge.Every)
	num("HISTORYKIT_VERBOSITY", &cfg.Kit.Verbosity)

	str("HISTORYKIT_METRICS_ADDR", &cfg.Metrics.Addr)
	str("HISTORYKIT_LOG_LEVEL", &cfg.Log.Level)
	str("HISTORYKIT_LOG_FORMAT", &cfg.Log.Format)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
