package history

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/historykit/pkg/kit"
	"golang.org/x/time/rate"
)

// Defaults for delete pacing.
const (
	DefaultBatchLimit = 1024
	DefaultDeleteRate = rate.Inf
)

// TrimHook is called after each committed delete batch with the range of
// commit timestamps it removed.
type TrimHook interface {
	EmitTrimRange(store string, from, to time.Time, count int)
}

type noopTrimHook struct{}

func (noopTrimHook) EmitTrimRange(string, time.Time, time.Time, int) {}

// TrimHookFunc adapts a function to TrimHook.
type TrimHookFunc func(store string, from, to time.Time, count int)

func (f TrimHookFunc) EmitTrimRange(store string, from, to time.Time, count int) {
	f(store, from, to, count)
}

type options struct {
	batchLimit int
	limiter    *rate.Limiter
	trimHook   TrimHook
	now        func() time.Time
	ids        *TxIDGenerator
}

func defaultOptions() options {
	return options{
		batchLimit: DefaultBatchLimit,
		limiter:    rate.NewLimiter(DefaultDeleteRate, 1),
		trimHook:   noopTrimHook{},
		now:        time.Now,
		ids:        NewTxIDGenerator(),
	}
}

// Option configures a log.
type Option func(*options)

// WithBatchLimit caps how many deletes are committed together.
func WithBatchLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchLimit = n
		}
	}
}

// WithDeleteRate paces delete batches to at most r per second.
func WithDeleteRate(r rate.Limit, burst int) Option {
	return func(o *options) {
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(r, burst)
	}
}

// WithTrimHook observes committed delete batches.
func WithTrimHook(h TrimHook) Option {
	return func(o *options) {
		if h != nil {
			o.trimHook = h
		}
	}
}

// WithClock sets the clock used to stamp appends without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// AppendRequest describes a transaction to append. A zero Timestamp is
// stamped with the log's clock; an empty ID is generated. The stored commit
// timestamp is always later than every transaction already in the log, so a
// Timestamp at or before the newest one is moved just past it.
type AppendRequest struct {
	ID        string
	Author    string
	Timestamp time.Time
	Mirrored  bool
	Changes   []kit.Change
}

// ErrInvalidTransaction is returned by Append for malformed requests.
var ErrInvalidTransaction = errors.New("history: invalid transaction")

func (o options) prepare(req AppendRequest) (kit.Transaction, error) {
	if req.Author == "" {
		return kit.Transaction{}, errors.Mark(errors.New("author is required"), ErrInvalidTransaction)
	}
	for i, c := range req.Changes {
		if !c.Op.Valid() {
			return kit.Transaction{}, errors.Mark(errors.Newf("change %d: unknown op %q", i, c.Op), ErrInvalidTransaction)
		}
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = o.now()
	}
	if ts.UnixNano() <= 0 {
		return kit.Transaction{}, errors.Mark(errors.Newf("timestamp %s precedes the Unix epoch", ts), ErrInvalidTransaction)
	}
	id := req.ID
	if id == "" {
		id = o.ids.Next().String()
	}
	return kit.Transaction{
		ID:        id,
		Author:    req.Author,
		Timestamp: ts.UTC(),
		Mirrored:  req.Mirrored,
		Changes:   req.Changes,
	}, nil
}

// commitTime is the timestamp a commit is stored at given the newest
// timestamp already in the log. Readers fetch strictly after their last
// seen timestamp, so a commit must never land at or before it.
func commitTime(requested, latest time.Time) time.Time {
	if requested.After(latest) {
		return requested
	}
	return latest.Add(time.Nanosecond).UTC()
}
