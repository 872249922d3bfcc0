package kit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return append([]byte(nil), v...), ok, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type subscription struct {
	ch   chan Signal
	done chan struct{}
	once sync.Once
}

// memHistory is an in-memory History and SignalSource.
type memHistory struct {
	mu        sync.Mutex
	txs       []Transaction
	fetchErr  error
	deleteErr error
	unsorted  bool
	fetches   int
	subs      map[*subscription]struct{}
}

func newMemHistory() *memHistory { return &memHistory{subs: map[*subscription]struct{}{}} }

func (h *memHistory) add(author string, ts time.Time, mirrored bool) Transaction {
	h.mu.Lock()
	tx := Transaction{
		ID:        fmt.Sprintf("%s@%d", author, ts.UnixNano()),
		Author:    author,
		Timestamp: ts,
		Mirrored:  mirrored,
		Changes:   []Change{{Entity: "note", Key: author, Op: OpUpdate, Data: []byte(fmt.Sprintf("%q", ts.Format(time.RFC3339)))}},
	}
	h.txs = append(h.txs, tx)
	h.mu.Unlock()
	h.emit(Signal{Store: "mem", Author: author, Timestamp: ts})
	return tx
}

func (h *memHistory) TransactionsSince(ctx context.Context, since time.Time) ([]Transaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	if h.fetchErr != nil {
		return nil, h.fetchErr
	}
	var out []Transaction
	for _, tx := range h.txs {
		if tx.Timestamp.After(since) {
			out = append(out, tx)
		}
	}
	if h.unsorted {
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	}
	return out, nil
}

func (h *memHistory) DeleteBefore(ctx context.Context, before time.Time, authors []string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleteErr != nil {
		return 0, h.deleteErr
	}
	allowed := map[string]bool{}
	for _, a := range authors {
		allowed[a] = true
	}
	kept := h.txs[:0]
	n := 0
	for _, tx := range h.txs {
		if tx.Timestamp.Before(before) && allowed[tx.Author] {
			n++
			continue
		}
		kept = append(kept, tx)
	}
	h.txs = kept
	return n, nil
}

func (h *memHistory) Subscribe() (<-chan Signal, func()) {
	s := &subscription{ch: make(chan Signal), done: make(chan struct{})}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s.ch, func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.done)
		})
	}
}

func (h *memHistory) emit(sig Signal) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- sig:
		case <-s.done:
		}
	}
}

func (h *memHistory) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *memHistory) timestamps() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]time.Time, 0, len(h.txs))
	for _, tx := range h.txs {
		out = append(out, tx.Timestamp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

var errBoom = errors.New("boom")

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
