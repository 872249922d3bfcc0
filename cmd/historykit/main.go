package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/rzbill/historykit/internal/cmd/kitrun"
	cfgpkg "github.com/rzbill/historykit/internal/config"
	"github.com/rzbill/historykit/internal/history"
	"github.com/rzbill/historykit/internal/runtime"
	"github.com/rzbill/historykit/pkg/kit"
	logpkg "github.com/rzbill/historykit/pkg/log"
)

// inspectAuthor stands in for the current author on commands that never
// build a kit.
const inspectAuthor = "historykit-cli"

func main() {
	// Respect HISTORYKIT_LOG_LEVEL for CLI output before any config loads.
	level, err := logpkg.ParseLevel(os.Getenv("HISTORYKIT_LOG_LEVEL"))
	if err != nil || os.Getenv("HISTORYKIT_LOG_LEVEL") == "" {
		level = logpkg.WarnLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	// Pebble logs through the standard library logger.
	logpkg.RedirectStdLog(logger)

	if err := newRootCommand(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(logger logpkg.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "historykit",
		Short:         "Shared transaction history coordinator",
		Long:          "historykit merges a shared transaction history into local state and deletes transactions every author has seen.",
		SilenceUsage: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.String("config", os.Getenv("HISTORYKIT_CONFIG"), "Config file (.json, .yaml or .yml)")
	pf.String("data-dir", "", "Data directory (if not specified, uses config, env, or the OS application data directory)")
	pf.String("author", "", "Current author identity")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: text|json")

	rootCmd.AddCommand(
		newAppendCommand(logger),
		newLogCommand(logger),
		newRunCommand(),
		newCleanCommand(logger),
		newTimestampsCommand(logger),
		newResetCommand(logger),
	)
	return rootCmd
}

// loadConfig layers defaults, the config file, HISTORYKIT_* env, and flags.
func loadConfig(cmd *cobra.Command, needAuthor bool) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("author"); v != "" {
		cfg.Kit.CurrentAuthor = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if cfg.Kit.CurrentAuthor == "" && !needAuthor {
		cfg.Kit.CurrentAuthor = inspectAuthor
	}
	return cfg, nil
}

func openRuntime(cmd *cobra.Command, logger logpkg.Logger, needAuthor bool) (*runtime.Runtime, error) {
	cfg, err := loadConfig(cmd, needAuthor)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level, err := logpkg.ParseLevel(v)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(level)
	}
	return runtime.Open(cmd.Context(), runtime.Options{Config: cfg, Logger: logger})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid time %q; use RFC3339", s)
	}
	return t, nil
}

func newAppendCommand(logger logpkg.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a transaction as --author",
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, _ := cmd.Flags().GetString("entity")
			key, _ := cmd.Flags().GetString("key")
			op, _ := cmd.Flags().GetString("op")
			data, _ := cmd.Flags().GetString("data")
			mirrored, _ := cmd.Flags().GetBool("mirrored")
			at, _ := cmd.Flags().GetString("at")

			ts, err := parseTime(at)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd, logger, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			req := history.AppendRequest{
				Author:    rt.Config().Kit.CurrentAuthor,
				Timestamp: ts,
				Mirrored:  mirrored,
			}
			if entity != "" {
				if data != "" && !json.Valid([]byte(data)) {
					return errors.New("--data is not valid JSON")
				}
				c := kit.Change{Entity: entity, Key: key, Op: kit.ChangeOp(op)}
				if data != "" {
					c.Data = json.RawMessage(data)
				}
				req.Changes = []kit.Change{c}
			}
			tx, err := rt.History().Append(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		},
	}
	cmd.Flags().String("entity", "", "Changed entity; empty appends a transaction with no changes")
	cmd.Flags().String("key", "", "Changed row key")
	cmd.Flags().String("op", string(kit.OpInsert), "Change op: insert|update|delete")
	cmd.Flags().String("data", "", "Row data as JSON")
	cmd.Flags().Bool("mirrored", false, "Mark the transaction as mirrored")
	cmd.Flags().String("at", "", "Transaction timestamp (RFC3339); default now; moved just past the newest transaction when not later")
	return cmd
}

func newLogCommand(logger logpkg.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print transactions in the history",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceStr, _ := cmd.Flags().GetString("since")
			limit, _ := cmd.Flags().GetInt("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")
			since, err := parseTime(sinceStr)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd, logger, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			var txs []kit.Transaction
			if r, ok := rt.History().(interface {
				Read(context.Context, history.ReadOptions) ([]kit.Transaction, error)
			}); ok {
				txs, err = r.Read(cmd.Context(), history.ReadOptions{Since: since, Limit: limit, Reverse: reverse})
			} else {
				txs, err = rt.History().TransactionsSince(cmd.Context(), since)
				if err == nil && reverse {
					for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
						txs[i], txs[j] = txs[j], txs[i]
					}
				}
				if err == nil && limit > 0 && len(txs) > limit {
					txs = txs[:limit]
				}
			}
			if err != nil {
				return err
			}
			if txs == nil {
				txs = []kit.Transaction{}
			}
			return printJSON(cmd.OutOrStdout(), txs)
		},
	}
	cmd.Flags().String("since", "", "Only transactions after this time (RFC3339)")
	cmd.Flags().Int("limit", 0, "Maximum transactions to print (0 = all)")
	cmd.Flags().Bool("reverse", false, "Newest first")
	return cmd
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Merge the history as --author until interrupted",
		Aliases: []string{"start"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("metrics"); addr != "" {
				cfg.Metrics.Addr = addr
			}
			if d, _ := cmd.Flags().GetDuration("poll"); d > 0 {
				cfg.History.PollInterval = cfgpkg.Duration(d)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := kitrun.Run(ctx, kitrun.Options{Config: cfg}); err != nil {
				return errors.Wrap(err, "run")
			}
			return nil
		},
	}
	cmd.Flags().String("metrics", "", "Prometheus listen address (optional)")
	cmd.Flags().Duration("poll", 0, "Poll the history for writes by other processes at this interval")
	return cmd
}

func newCleanCommand(logger logpkg.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete transactions every non-batch author has seen",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, logger, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			k, err := rt.NewKit(runtime.KitOptions{})
			if err != nil {
				return err
			}
			defer k.Close()
			n, err := k.ManualCleaner().Clean(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"deleted": n})
		},
	}
}

func newTimestampsCommand(logger logpkg.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "timestamps [author...]",
		Short: "Print each author's last merged timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, logger, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			authors := args
			if len(authors) == 0 {
				authors = rt.Config().Kit.Authors
			}
			tm := timestampManager(rt)
			snap, err := tm.Snapshot(cmd.Context(), authors)
			if err != nil {
				return err
			}
			out := make(map[string]string, len(snap))
			for a, ts := range snap {
				if ts.Equal(kit.DistantPast) {
					out[a] = "never"
					continue
				}
				out[a] = ts.UTC().Format(time.RFC3339Nano)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newResetCommand(logger logpkg.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <author>",
		Short: "Forget an author's timestamp so it no longer holds back cleanup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, logger, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := timestampManager(rt).Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
			return nil
		},
	}
}

func timestampManager(rt *runtime.Runtime) *kit.TimestampManager {
	cfg := rt.Config()
	return kit.NewTimestampManager(rt.KV(), cfg.Timestamps.KeyPrefix, cfg.Kit.MaximumDuration.D())
}
