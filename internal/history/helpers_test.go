package history

import (
	"testing"
	"time"

	pebblestore "github.com/rzbill/historykit/internal/storage/pebble"
	"github.com/rzbill/historykit/pkg/kit"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func openTestDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	return db
}

func newTestLog(t *testing.T, opts ...Option) *PebbleLog {
	t.Helper()
	db := openTestDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	l, err := OpenPebbleLog(db, "notes", opts...)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

func req(author string, ts time.Time) AppendRequest {
	return AppendRequest{
		Author:    author,
		Timestamp: ts,
		Changes:   []kit.Change{{Entity: "note", Key: author, Op: kit.OpUpdate, Data: []byte(`{"v":1}`)}},
	}
}

func authorsOf(txs []kit.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Author
	}
	return out
}
