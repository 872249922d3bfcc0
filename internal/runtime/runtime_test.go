package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/historykit/internal/config"
	"github.com/rzbill/historykit/internal/history"
	"github.com/rzbill/historykit/pkg/kit"
	"github.com/rzbill/historykit/pkg/log"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.Kit.CurrentAuthor = "a"
	cfg.Kit.Authors = []string{"a", "b"}
	return cfg
}

func openRuntime(t *testing.T, cfg cfgpkg.Config) *Runtime {
	t.Helper()
	rt, err := Open(context.Background(), Options{
		Config: cfg,
		Logger: log.NewLogger(log.WithOutput(log.NullOutput{})),
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenCloseHealth(t *testing.T) {
	rt := openRuntime(t, testConfig(t))
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.DB() == nil {
		t.Fatalf("expected pebble to be open")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err == nil {
		t.Fatalf("expected health error after close")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Backend = "mysql"
	_, err := Open(context.Background(), Options{Config: cfg})
	if err == nil || !strings.Contains(err.Error(), "history.backend") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestKitMergesAppendsFromOtherAuthors(t *testing.T) {
	ctx := context.Background()
	rt := openRuntime(t, testConfig(t))

	replica := kit.NewReplica("main")
	k, err := rt.NewKit(KitOptions{Contexts: []kit.Context{replica}, AutoStart: true})
	if err != nil {
		t.Fatalf("new kit: %v", err)
	}
	defer k.Close()

	tx, err := rt.History().Append(ctx, history.AppendRequest{
		Author: "b",
		Changes: []kit.Change{{
			Entity: "orders", Key: "1", Op: kit.OpInsert, Data: json.RawMessage(`{"total":3}`),
		}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	waitFor(t, "replica to apply", func() bool { return replica.Len() == 1 })

	got, ok := replica.Get("orders", "1")
	if !ok || string(got) != `{"total":3}` {
		t.Fatalf("replica row = %s, %v", got, ok)
	}
	waitFor(t, "timestamp to advance", func() bool {
		ts, err := k.Timestamps().LastTimestamp(ctx, "a")
		return err == nil && ts.Equal(tx.Timestamp)
	})
}

func TestSQLiteHistoryWithMemoryTimestamps(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.History.Backend = "sqlite"
	cfg.Timestamps.Backend = "memory"
	cfg.History.PollInterval = cfgpkg.Duration(10 * time.Millisecond)
	rt := openRuntime(t, cfg)

	if rt.DB() != nil {
		t.Fatalf("pebble should stay closed when nothing uses it")
	}
	if err := rt.CheckHealth(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	replica := kit.NewReplica("main")
	k, err := rt.NewKit(KitOptions{Contexts: []kit.Context{replica}, AutoStart: true})
	if err != nil {
		t.Fatalf("new kit: %v", err)
	}
	defer k.Close()

	if _, err := rt.History().Append(ctx, history.AppendRequest{Author: "b"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	waitFor(t, "replica to apply", func() bool { return len(replica.Applied()) == 1 })

	keys, err := rt.KV().Keys(ctx, cfg.Timestamps.KeyPrefix)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) == 0 {
		t.Fatalf("expected timestamp keys to be written")
	}
}

func TestStrategyFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cases := []struct {
		purge cfgpkg.Purge
		want  string
	}{
		{cfgpkg.Purge{Strategy: "none"}, "none"},
		{cfgpkg.Purge{Strategy: "duration", Interval: cfgpkg.Duration(time.Minute)}, "duration(1m0s)"},
		{cfgpkg.Purge{Strategy: "notification", Every: 3}, "notification(3)"},
	}
	for _, c := range cases {
		cfg.Kit.Purge = c.purge
		rt := &Runtime{config: cfg}
		if got := rt.Strategy().String(); got != c.want {
			t.Fatalf("strategy %q = %q, want %q", c.purge.Strategy, got, c.want)
		}
	}
}
