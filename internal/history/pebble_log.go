package history

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/historykit/internal/storage/pebble"
	"github.com/rzbill/historykit/pkg/kit"
)

// PebbleLog is one store's transaction history persisted in Pebble.
type PebbleLog struct {
	db     *pebblestore.DB
	store  string
	prefix []byte
	opts   options
	hub    *Hub

	mu       sync.Mutex
	lastSeq  uint64
	lastTs   time.Time
	notifyCh chan struct{}
}

// OpenPebbleLog initializes a log and restores the last sequence from
// metadata, if any.
func OpenPebbleLog(db *pebblestore.DB, store string, opts ...Option) (*PebbleLog, error) {
	if store == "" {
		return nil, errors.New("history: store name is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := &PebbleLog{
		db:       db,
		store:    store,
		prefix:   KeyTxPrefix(store),
		opts:     o,
		hub:      NewHub(),
		notifyCh: make(chan struct{}),
	}
	meta, err := db.Get(KeyMeta(store))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
		if len(meta) >= 16 {
			if ns := int64(binary.BigEndian.Uint64(meta[8:16])); ns > 0 {
				l.lastTs = time.Unix(0, ns).UTC()
			}
		}
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, errors.Wrapf(err, "history: load metadata for %q", store)
	}
	// Metadata written before the high-water mark was recorded only has the
	// sequence, so the newest key is consulted too.
	latest, err := l.Latest(context.Background())
	if err != nil {
		return nil, errors.Wrapf(err, "history: load latest timestamp for %q", store)
	}
	if latest.After(l.lastTs) {
		l.lastTs = latest
	}
	return l, nil
}

// Store returns the store name.
func (l *PebbleLog) Store() string { return l.store }

// Append persists one transaction and signals subscribers.
func (l *PebbleLog) Append(ctx context.Context, req AppendRequest) (kit.Transaction, error) {
	txs, err := l.AppendBatch(ctx, []AppendRequest{req})
	if err != nil {
		return kit.Transaction{}, err
	}
	return txs[0], nil
}

// AppendBatch persists reqs atomically, in order, and signals subscribers
// once per transaction.
func (l *PebbleLog) AppendBatch(ctx context.Context, reqs []AppendRequest) ([]kit.Transaction, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	txs := make([]kit.Transaction, len(reqs))
	for i, req := range reqs {
		tx, err := l.opts.prepare(req)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}

	l.mu.Lock()
	b := l.db.NewBatch()
	defer b.Close()
	seq, last := l.lastSeq, l.lastTs
	for i := range txs {
		seq++
		txs[i].Timestamp = commitTime(txs[i].Timestamp, last)
		last = txs[i].Timestamp
		val, err := encodeTransaction(txs[i])
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		if err := b.Set(KeyTx(l.store, txs[i].Timestamp, seq), val, nil); err != nil {
			l.mu.Unlock()
			return nil, errors.Wrap(err, "history: stage append")
		}
	}
	var meta [16]byte
	binary.BigEndian.PutUint64(meta[:8], seq)
	binary.BigEndian.PutUint64(meta[8:], uint64(last.UnixNano()))
	if err := b.Set(KeyMeta(l.store), meta[:], nil); err != nil {
		l.mu.Unlock()
		return nil, errors.Wrap(err, "history: stage metadata")
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		l.mu.Unlock()
		return nil, errors.Wrap(err, "history: commit append")
	}
	l.lastSeq, l.lastTs = seq, last
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	l.mu.Unlock()

	for _, tx := range txs {
		l.hub.Publish(kit.Signal{Store: l.store, Author: tx.Author, Timestamp: tx.Timestamp})
	}
	return txs, nil
}

// TransactionsSince returns every transaction with Timestamp > since,
// ascending. Corrupt records are skipped.
func (l *PebbleLog) TransactionsSince(ctx context.Context, since time.Time) ([]kit.Transaction, error) {
	iter, err := l.db.NewPrefixIter(l.prefix)
	if err != nil {
		return nil, errors.Wrap(err, "history: open iterator")
	}
	defer iter.Close()

	var ok bool
	if bits := tsBits(since); bits == 0 {
		ok = iter.First()
	} else {
		ok = iter.SeekGE(KeyTx(l.store, since, ^uint64(0)))
	}
	var out []kit.Transaction
	for ; ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx, err := decodeTransaction(iter.Value())
		if err != nil {
			continue
		}
		if !tx.Timestamp.After(since) {
			continue
		}
		out = append(out, tx)
	}
	return out, iter.Error()
}

// DeleteBefore removes transactions with Timestamp < before whose author is
// listed, committing at most the batch limit per batch and pacing batches
// with the configured rate limiter.
func (l *PebbleLog) DeleteBefore(ctx context.Context, before time.Time, authors []string) (int, error) {
	if tsBits(before) == 0 {
		return 0, nil
	}
	allowed := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		allowed[a] = struct{}{}
	}

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: l.prefix,
		UpperBound: KeyTx(l.store, before, 0),
	})
	if err != nil {
		return 0, errors.Wrap(err, "history: open iterator")
	}
	defer iter.Close()

	deleted := 0
	ok := iter.First()
	for ok {
		if err := l.opts.limiter.Wait(ctx); err != nil {
			return deleted, err
		}
		b := l.db.NewBatch()
		n := 0
		var from, to time.Time
		for ; ok && n < l.opts.batchLimit; ok = iter.Next() {
			env, _, err := decodeEnvelope(iter.Value())
			if err != nil {
				continue
			}
			if _, keep := allowed[env.Author]; !keep {
				continue
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, errors.Wrap(err, "history: stage delete")
			}
			ts, _, _ := parseTxKey(len(l.prefix), iter.Key())
			if n == 0 {
				from = ts
			}
			to = ts
			n++
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, errors.Wrap(err, "history: commit delete")
		}
		b.Close()
		deleted += n
		l.opts.trimHook.EmitTrimRange(l.store, from, to, n)
	}
	if err := iter.Error(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Latest returns the newest commit timestamp, or the zero time when empty.
func (l *PebbleLog) Latest(ctx context.Context) (time.Time, error) {
	iter, err := l.db.NewPrefixIter(l.prefix)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "history: open iterator")
	}
	defer iter.Close()
	if !iter.Last() {
		return time.Time{}, iter.Error()
	}
	ts, _, _ := parseTxKey(len(l.prefix), iter.Key())
	return ts, nil
}

// Subscribe returns a signal per appended transaction.
func (l *PebbleLog) Subscribe() (<-chan kit.Signal, func()) { return l.hub.Subscribe() }

// WaitForAppend blocks until a new append occurs or timeout elapses. It
// returns true if woken by an append.
func (l *PebbleLog) WaitForAppend(timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.notifyCh
	l.mu.Unlock()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close closes subscriber channels. The underlying DB is not closed.
func (l *PebbleLog) Close() error {
	l.hub.Close()
	return nil
}
