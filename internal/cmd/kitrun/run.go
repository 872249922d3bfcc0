package kitrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/historykit/internal/config"
	"github.com/rzbill/historykit/internal/runtime"
	httpserver "github.com/rzbill/historykit/internal/server/http"
	"github.com/rzbill/historykit/pkg/kit"
	logpkg "github.com/rzbill/historykit/pkg/log"
)

// Options configures Run.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger logpkg.Logger
	// ReplicaName names the in-memory replica the kit merges into.
	ReplicaName string
	// Started is called once the kit is running. Used by tests.
	Started func(rt *runtime.Runtime, k *kit.Kit)
}

// Run opens the runtime, starts a kit over it, and blocks until ctx is
// cancelled or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&opts.Config.Log)
		if err != nil {
			l = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
		}
		logger = l
	}
	// Pebble logs through the standard library logger.
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(sctx, runtime.Options{Config: opts.Config, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	name := opts.ReplicaName
	if name == "" {
		name = opts.Config.Kit.CurrentAuthor
	}
	replica := kit.NewReplica(name)
	k, err := rt.NewKit(runtime.KitOptions{Contexts: []kit.Context{replica}, AutoStart: true})
	if err != nil {
		return err
	}

	cfg := opts.Config
	logger.Info("Starting historykit",
		logpkg.Str("kit", k.ID()),
		logpkg.Str("author", cfg.Kit.CurrentAuthor),
		logpkg.Str("history", cfg.History.Backend),
		logpkg.Str("store", cfg.History.Store),
		logpkg.Str("timestamps", cfg.Timestamps.Backend),
		logpkg.Str("purge", rt.Strategy().String()),
		logpkg.Str("metrics", cfg.Metrics.Addr),
	)
	if opts.Started != nil {
		opts.Started(rt, k)
	}

	g, gctx := errgroup.WithContext(sctx)
	if cfg.Metrics.Addr != "" {
		srv := httpserver.New(rt, k, logger)
		g.Go(func() error {
			if err := srv.ListenAndServe(gctx, cfg.Metrics.Addr); err != nil {
				return errors.Wrap(err, "ops endpoint")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		// Stop the kit before the runtime closes its stores.
		k.Stop()
		return nil
	})
	err = g.Wait()
	logger.Info("historykit stopped",
		logpkg.Str("kit", k.ID()),
		logpkg.Int("replica_rows", replica.Len()),
		logpkg.Int("applied", len(replica.Applied())),
	)
	return err
}
