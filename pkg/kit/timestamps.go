package kit

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/historykit/pkg/log"
)

// startKeySuffix names the record holding the grace-window start. It is not a
// valid author ID.
const startKeySuffix = "__start__"

// TimestampManager persists the last processed timestamp per author and
// derives the safe-deletion watermark.
//
// Values are stored as 8-byte big-endian UnixNano under "<prefix><author>".
type TimestampManager struct {
	kv          KV
	prefix      string
	maxDuration time.Duration
	now         Clock
	log         gate

	mu    sync.Mutex
	start time.Time
}

// TimestampOption configures a TimestampManager.
type TimestampOption func(*TimestampManager)

// WithTimestampClock overrides time.Now.
func WithTimestampClock(c Clock) TimestampOption {
	return func(m *TimestampManager) { m.now = c }
}

// WithTimestampLogger enables verbosity-gated logging.
func WithTimestampLogger(l log.Logger, verbosity int) TimestampOption {
	return func(m *TimestampManager) { m.log = gate{l: l, verbosity: verbosity} }
}

// NewTimestampManager returns a manager over kv namespaced by prefix.
func NewTimestampManager(kv KV, prefix string, maxDuration time.Duration, opts ...TimestampOption) *TimestampManager {
	m := &TimestampManager{kv: kv, prefix: prefix, maxDuration: maxDuration, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *TimestampManager) key(author string) string { return m.prefix + author }

func encodeTime(t time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano()))
	return b[:]
}

func decodeTime(b []byte) (time.Time, bool) {
	if len(b) < 8 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b[:8]))).UTC(), true
}

// LastTimestamp returns the stored timestamp for author or DistantPast.
func (m *TimestampManager) LastTimestamp(ctx context.Context, author string) (time.Time, error) {
	b, ok, err := m.kv.Get(ctx, m.key(author))
	if err != nil {
		return DistantPast, errors.Wrapf(err, "load timestamp for %q", author)
	}
	if !ok {
		return DistantPast, nil
	}
	t, ok := decodeTime(b)
	if !ok {
		m.log.warn(VerbosityLifecycle, "ignoring malformed timestamp record", log.Str("author", author), log.Int("bytes", len(b)))
		return DistantPast, nil
	}
	return t, nil
}

// UpdateLastTimestamp records that author has processed everything up to to.
// Values earlier than (or equal to) the stored one are ignored: callers must
// never move an author backwards.
func (m *TimestampManager) UpdateLastTimestamp(ctx context.Context, author string, to time.Time) error {
	cur, err := m.LastTimestamp(ctx, author)
	if err != nil {
		return err
	}
	if !cur.IsZero() && !to.After(cur) {
		if to.Before(cur) {
			m.log.debug(VerbosityDetail, "ignoring timestamp regression",
				log.Str("author", author), log.Time("stored", cur), log.Time("requested", to))
		}
		return nil
	}
	if err := m.kv.Set(ctx, m.key(author), encodeTime(to)); err != nil {
		return errors.Wrapf(err, "store timestamp for %q", author)
	}
	return nil
}

// Reset forgets the stored timestamp for author.
func (m *TimestampManager) Reset(ctx context.Context, author string) error {
	return m.kv.Delete(ctx, m.key(author))
}

// Snapshot returns the stored timestamps of authors; missing ones are omitted.
func (m *TimestampManager) Snapshot(ctx context.Context, authors []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(authors))
	for _, a := range authors {
		t, err := m.LastTimestamp(ctx, a)
		if err != nil {
			return nil, err
		}
		if !t.IsZero() {
			out[a] = t
		}
	}
	return out, nil
}

// Start returns when this namespace was first seen, recording now on first use.
// The grace window for silent authors is measured from it.
func (m *TimestampManager) Start(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.start.IsZero() {
		return m.start, nil
	}
	key := m.key(startKeySuffix)
	b, ok, err := m.kv.Get(ctx, key)
	if err != nil {
		return DistantPast, errors.Wrap(err, "load grace-window start")
	}
	if t, valid := decodeTime(b); ok && valid {
		m.start = t
		return t, nil
	}
	now := m.now().UTC()
	if err := m.kv.Set(ctx, key, encodeTime(now)); err != nil {
		return DistantPast, errors.Wrap(err, "store grace-window start")
	}
	m.start = now
	return now, nil
}

// CommonSafeTimestamp returns the minimum stored timestamp over
// authors minus excluding. An author with no record counts as
// now-MaximumDuration once MaximumDuration has elapsed since Start, and
// withholds cleanup (DistantPast) before that. With no required authors the
// result is now-MaximumDuration.
func (m *TimestampManager) CommonSafeTimestamp(ctx context.Context, authors, excluding []string) (time.Time, error) {
	now := m.now().UTC()
	floor := now.Add(-m.maxDuration)

	required := difference(authors, excluding)
	if len(required) == 0 {
		return floor, nil
	}

	var watermark time.Time
	for i, a := range required {
		ts, err := m.LastTimestamp(ctx, a)
		if err != nil {
			return DistantPast, err
		}
		if ts.IsZero() {
			start, err := m.Start(ctx)
			if err != nil {
				return DistantPast, err
			}
			if now.Sub(start) < m.maxDuration {
				m.log.debug(VerbosityDetail, "author has not reported yet; withholding cleanup",
					log.Str("author", a), log.Time("grace_until", start.Add(m.maxDuration)))
				return DistantPast, nil
			}
			ts = floor
		}
		if i == 0 || ts.Before(watermark) {
			watermark = ts
		}
	}
	return watermark, nil
}

// difference returns the unique elements of a not in b, in order.
func difference(a, b []string) []string {
	skip := make(map[string]struct{}, len(b))
	for _, s := range b {
		skip[s] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if _, ok := skip[s]; ok {
			continue
		}
		skip[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
