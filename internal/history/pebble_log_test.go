package history

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/rzbill/historykit/internal/kv"
	"github.com/rzbill/historykit/pkg/kit"
	"github.com/rzbill/historykit/pkg/log"
)

func TestAppendAndTransactionsSince(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	for _, r := range []AppendRequest{req("a", at(10)), req("c", at(15)), req("b", at(20))} {
		if _, err := l.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := l.TransactionsSince(ctx, kit.DistantPast)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if got := authorsOf(all); len(got) != 3 || got[0] != "a" || got[1] != "c" || got[2] != "b" {
		t.Fatalf("order = %v", got)
	}
	if all[0].ID == "" || all[0].Changes[0].Entity != "note" {
		t.Fatalf("decoded tx = %+v", all[0])
	}

	after, err := l.TransactionsSince(ctx, at(15))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if got := authorsOf(after); len(got) != 1 || got[0] != "b" {
		t.Fatalf("since 15s = %v", got)
	}
}

func TestAppendNeverCommitsAtOrBeforeLatest(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	if _, err := l.Append(ctx, req("b", at(20))); err != nil {
		t.Fatalf("append: %v", err)
	}
	same, err := l.Append(ctx, req("c", at(20)))
	if err != nil {
		t.Fatalf("append same: %v", err)
	}
	if want := at(20).Add(time.Nanosecond); !same.Timestamp.Equal(want) {
		t.Fatalf("equal timestamp committed at %v, want %v", same.Timestamp, want)
	}
	old, err := l.Append(ctx, req("d", at(10)))
	if err != nil {
		t.Fatalf("append backdated: %v", err)
	}
	if want := at(20).Add(2 * time.Nanosecond); !old.Timestamp.Equal(want) {
		t.Fatalf("backdated timestamp committed at %v, want %v", old.Timestamp, want)
	}

	// A reader that already saw b@20 still sees both later commits.
	after, err := l.TransactionsSince(ctx, at(20))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if got := authorsOf(after); len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Fatalf("since 20s = %v", got)
	}
	if !after[1].Timestamp.Equal(old.Timestamp) {
		t.Fatalf("stored timestamp %v differs from returned %v", after[1].Timestamp, old.Timestamp)
	}

	batch, err := l.AppendBatch(ctx, []AppendRequest{req("e", at(1)), req("f", at(1))})
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if !batch[0].Timestamp.After(old.Timestamp) || !batch[1].Timestamp.After(batch[0].Timestamp) {
		t.Fatalf("batch timestamps %v %v not after %v", batch[0].Timestamp, batch[1].Timestamp, old.Timestamp)
	}
}

func TestCommitHighWaterMarkSurvivesCleanupAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	db := openTestDB(t, dir)
	l, err := OpenPebbleLog(db, "notes")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := l.Append(ctx, req("a", at(20))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if n, err := l.DeleteBefore(ctx, at(30), []string{"a"}); err != nil || n != 1 {
		t.Fatalf("delete n=%d err=%v", n, err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openTestDB(t, dir)
	t.Cleanup(func() { _ = db2.Close() })
	l2, err := OpenPebbleLog(db2, "notes")
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	tx, err := l2.Append(ctx, req("b", at(10)))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if !tx.Timestamp.After(at(20)) {
		t.Fatalf("commit after cleanup and reopen landed at %v", tx.Timestamp)
	}
}

func TestKitMergesBackdatedAndEqualCommits(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	replica := kit.NewReplica("a")
	k, err := kit.New(kit.Options{
		CurrentAuthor: "a",
		Authors:       []string{"a", "b"},
		History:       l,
		Signals:       l,
		KV:            kv.NewMemory(),
		Contexts:      []kit.Context{replica},
		Strategy:      kit.PurgeNone(),
		Logger:        log.NewLogger(log.WithOutput(log.NullOutput{})),
	})
	if err != nil {
		t.Fatalf("new kit: %v", err)
	}
	change := func(author, key string, ts time.Time) AppendRequest {
		r := req(author, ts)
		r.Changes[0].Key = key
		return r
	}

	if _, err := l.Append(ctx, change("b", "first", at(20))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rep := k.ProcessCycle(ctx); rep.Fetched != 1 {
		t.Fatalf("first cycle fetched %d", rep.Fetched)
	}
	if _, err := l.Append(ctx, change("b", "same", at(20))); err != nil {
		t.Fatalf("append same: %v", err)
	}
	if _, err := l.Append(ctx, change("b", "old", at(10))); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if rep := k.ProcessCycle(ctx); rep.Fetched != 2 {
		t.Fatalf("second cycle fetched %d, want 2", rep.Fetched)
	}
	for _, key := range []string{"first", "same", "old"} {
		if _, ok := replica.Get("note", key); !ok {
			t.Fatalf("replica missing %q", key)
		}
	}
}

func TestAppendStampsMissingTimestamp(t *testing.T) {
	l := newTestLog(t, WithClock(func() time.Time { return at(99) }))
	tx, err := l.Append(context.Background(), AppendRequest{Author: "a"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !tx.Timestamp.Equal(at(99)) {
		t.Fatalf("timestamp = %v", tx.Timestamp)
	}
}

func TestAppendRejectsInvalidRequests(t *testing.T) {
	l := newTestLog(t)
	cases := []AppendRequest{
		{Timestamp: at(1)},
		{Author: "a", Timestamp: at(1), Changes: []kit.Change{{Op: "upsert"}}},
		{Author: "a", Timestamp: time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for i, r := range cases {
		if _, err := l.Append(context.Background(), r); !errors.Is(err, ErrInvalidTransaction) {
			t.Fatalf("case %d: want invalid transaction, got %v", i, err)
		}
	}
}

func TestAppendDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	db := openTestDB(t, dir)
	l, err := OpenPebbleLog(db, "notes")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := l.Append(ctx, req("a", at(1))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openTestDB(t, dir)
	t.Cleanup(func() { _ = db2.Close() })
	l2, err := OpenPebbleLog(db2, "notes")
	if err != nil {
		t.Fatalf("open log2: %v", err)
	}
	// Same timestamp: the restored high-water mark moves it past the first.
	b, err := l2.Append(ctx, req("b", at(1)))
	if err != nil {
		t.Fatalf("append2: %v", err)
	}
	if !b.Timestamp.After(at(1)) {
		t.Fatalf("reopened log committed at %v", b.Timestamp)
	}
	all, _ := l2.TransactionsSince(ctx, kit.DistantPast)
	if got := authorsOf(all); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("after reopen = %v", got)
	}
}

func TestStoresAreIsolated(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	one, _ := OpenPebbleLog(db, "one")
	two, _ := OpenPebbleLog(db, "two")
	_, _ = one.Append(ctx, req("a", at(1)))
	txs, _ := two.TransactionsSince(ctx, kit.DistantPast)
	if len(txs) != 0 {
		t.Fatalf("store two sees %v", txs)
	}
	if n, _ := two.DeleteBefore(ctx, at(10), []string{"a"}); n != 0 {
		t.Fatalf("store two deleted %d from store one", n)
	}
}

type captureTrim struct {
	calls  int
	counts []int
	from   time.Time
	to     time.Time
}

func (c *captureTrim) EmitTrimRange(_ string, from, to time.Time, count int) {
	if c.calls == 0 {
		c.from = from
	}
	c.to = to
	c.calls++
	c.counts = append(c.counts, count)
}

func TestDeleteBeforeBatchesAndRespectsAuthors(t *testing.T) {
	hook := &captureTrim{}
	l := newTestLog(t, WithBatchLimit(2), WithTrimHook(hook))
	ctx := context.Background()
	for i, a := range []string{"a", "b", "a", "foreign", "b", "a"} {
		if _, err := l.Append(ctx, req(a, at(i+1))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := l.DeleteBefore(ctx, at(6), []string{"a", "b"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 4 {
		t.Fatalf("deleted %d, want 4", n)
	}
	if hook.calls != 2 || hook.counts[0] != 2 || hook.counts[1] != 2 {
		t.Fatalf("trim hook calls=%d counts=%v", hook.calls, hook.counts)
	}
	if !hook.from.Equal(at(1)) || !hook.to.Equal(at(5)) {
		t.Fatalf("trim range %v..%v", hook.from, hook.to)
	}

	left, _ := l.TransactionsSince(ctx, kit.DistantPast)
	if got := authorsOf(left); len(got) != 2 || got[0] != "foreign" || got[1] != "a" {
		t.Fatalf("left = %v", got)
	}

	n, err = l.DeleteBefore(ctx, at(6), []string{"a", "b"})
	if err != nil || n != 0 {
		t.Fatalf("second delete n=%d err=%v", n, err)
	}
	if n, _ := l.DeleteBefore(ctx, kit.DistantPast, []string{"a"}); n != 0 {
		t.Fatalf("distant past deleted %d", n)
	}
}

func TestDeleteBeforeIsPacedByLimiter(t *testing.T) {
	l := newTestLog(t, WithBatchLimit(1), WithDeleteRate(rate.Every(time.Hour), 1))
	bg := context.Background()
	for i := 1; i <= 3; i++ {
		_, _ = l.Append(bg, req("a", at(i)))
	}
	ctx, cancel := context.WithTimeout(bg, 100*time.Millisecond)
	defer cancel()
	n, err := l.DeleteBefore(ctx, at(10), []string{"a"})
	if err == nil {
		t.Fatalf("expected limiter to refuse waiting past the deadline")
	}
	if n != 1 {
		t.Fatalf("deleted %d before pacing kicked in", n)
	}
}

func TestCorruptRecordsAreSkipped(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	_, _ = l.Append(ctx, req("a", at(2)))
	if err := l.db.Set(KeyTx("notes", at(1), 999), []byte("garbage")); err != nil {
		t.Fatalf("set: %v", err)
	}
	// A header length that overflows the record must not panic the scan.
	huge := append(binary.AppendUvarint(nil, math.MaxUint64), make([]byte, 8)...)
	if err := l.db.Set(KeyTx("notes", at(1), 1000), huge); err != nil {
		t.Fatalf("set: %v", err)
	}
	txs, err := l.TransactionsSince(ctx, kit.DistantPast)
	if err != nil || len(txs) != 1 {
		t.Fatalf("txs=%v err=%v", txs, err)
	}
}

func TestSubscribeSignalsAppends(t *testing.T) {
	l := newTestLog(t)
	sigs, cancel := l.Subscribe()
	defer cancel()
	if _, err := l.Append(context.Background(), req("a", at(5))); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case s := <-sigs:
		if s.Store != "notes" || s.Author != "a" || !s.Timestamp.Equal(at(5)) {
			t.Fatalf("signal = %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("no signal")
	}
	_ = l.Close()
	if _, ok := <-sigs; ok {
		t.Fatalf("close did not end subscription")
	}
}

func TestLatestAndReverseRead(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	if ts, err := l.Latest(ctx); err != nil || !ts.IsZero() {
		t.Fatalf("empty latest = %v %v", ts, err)
	}
	for i := 1; i <= 4; i++ {
		_, _ = l.Append(ctx, req("a", at(i)))
	}
	ts, err := l.Latest(ctx)
	if err != nil || !ts.Equal(at(4)) {
		t.Fatalf("latest = %v %v", ts, err)
	}
	txs, err := l.Read(ctx, ReadOptions{Limit: 2, Reverse: true})
	if err != nil || len(txs) != 2 || !txs[0].Timestamp.Equal(at(4)) || !txs[1].Timestamp.Equal(at(3)) {
		t.Fatalf("reverse read = %v %v", txs, err)
	}
	txs, _ = l.Read(ctx, ReadOptions{Since: at(1), Limit: 2})
	if len(txs) != 2 || !txs[0].Timestamp.Equal(at(2)) {
		t.Fatalf("forward read = %v", txs)
	}
}

func TestWaitForAppendWake(t *testing.T) {
	l := newTestLog(t)
	done := make(chan bool, 1)
	go func() { done <- l.WaitForAppend(500 * time.Millisecond) }()
	time.Sleep(50 * time.Millisecond)
	if _, err := l.Append(context.Background(), req("a", at(1))); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected wake by append")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for waiter to wake")
	}
}

func TestWaitForAppendTimeout(t *testing.T) {
	if newTestLog(t).WaitForAppend(50 * time.Millisecond) {
		t.Fatalf("expected timeout")
	}
}
