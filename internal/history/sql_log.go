package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/historykit/pkg/kit"
)

// Dialect selects SQL syntax differences between supported databases.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return "", errors.Newf("history: unsupported sql driver %q", driver)
	}
}

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) schema() []string {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == DialectPostgres {
		seq = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS history_transactions (
	seq ` + seq + `,
	store TEXT NOT NULL,
	id TEXT NOT NULL,
	author TEXT NOT NULL,
	ts_ns BIGINT NOT NULL,
	mirrored INTEGER NOT NULL DEFAULT 0,
	changes TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS history_transactions_store_ts ON history_transactions (store, ts_ns)`,
		`CREATE TABLE IF NOT EXISTS history_stores (
	store TEXT PRIMARY KEY,
	last_ts_ns BIGINT NOT NULL
)`,
	}
}

// SQLLog is one store's transaction history in a SQL table shared by all
// stores.
type SQLLog struct {
	db      *sql.DB
	dialect Dialect
	store   string
	opts    options
	hub     *Hub

	// mu serializes appends from this process; the history_stores row
	// serializes them across processes.
	mu sync.Mutex
}

// OpenSQLLog creates the schema if needed and returns a log for store.
func OpenSQLLog(ctx context.Context, db *sql.DB, dialect Dialect, store string, opts ...Option) (*SQLLog, error) {
	if store == "" {
		return nil, errors.New("history: store name is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	for _, stmt := range dialect.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, "history: create schema")
		}
	}
	p := dialect.placeholder
	// Seeds the commit high-water mark from rows written before it existed.
	seed := "INSERT INTO history_stores (store, last_ts_ns) SELECT " + p(1) +
		", COALESCE(MAX(ts_ns), 0) FROM history_transactions WHERE store = " + p(2) +
		" ON CONFLICT (store) DO NOTHING"
	if _, err := db.ExecContext(ctx, seed, store, store); err != nil {
		return nil, errors.Wrapf(err, "history: register store %q", store)
	}
	return &SQLLog{db: db, dialect: dialect, store: store, opts: o, hub: NewHub()}, nil
}

// Store returns the store name.
func (l *SQLLog) Store() string { return l.store }

// Append inserts one transaction and signals subscribers. The commit
// timestamp is assigned inside a database transaction that holds the
// store's history_stores row.
func (l *SQLLog) Append(ctx context.Context, req AppendRequest) (kit.Transaction, error) {
	tx, err := l.opts.prepare(req)
	if err != nil {
		return kit.Transaction{}, err
	}
	changes, err := json.Marshal(tx.Changes)
	if err != nil {
		return kit.Transaction{}, errors.Wrap(err, "history: encode changes")
	}
	mirrored := 0
	if tx.Mirrored {
		mirrored = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	dbtx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return kit.Transaction{}, errors.Wrap(err, "history: begin append")
	}
	defer func() { _ = dbtx.Rollback() }()

	p := l.dialect.placeholder
	lock := "SELECT last_ts_ns FROM history_stores WHERE store = " + p(1)
	if l.dialect == DialectPostgres {
		lock += " FOR UPDATE"
	}
	var lastNs int64
	if err := dbtx.QueryRowContext(ctx, lock, l.store).Scan(&lastNs); err != nil {
		return kit.Transaction{}, errors.Wrap(err, "history: load commit high-water mark")
	}
	var last time.Time
	if lastNs > 0 {
		last = time.Unix(0, lastNs).UTC()
	}
	tx.Timestamp = commitTime(tx.Timestamp, last)

	q := "INSERT INTO history_transactions (store, id, author, ts_ns, mirrored, changes) VALUES (" +
		strings.Join([]string{p(1), p(2), p(3), p(4), p(5), p(6)}, ", ") + ")"
	if _, err := dbtx.ExecContext(ctx, q, l.store, tx.ID, tx.Author, tx.Timestamp.UnixNano(), mirrored, string(changes)); err != nil {
		return kit.Transaction{}, errors.Wrap(err, "history: insert transaction")
	}
	mark := "UPDATE history_stores SET last_ts_ns = " + p(1) + " WHERE store = " + p(2)
	if _, err := dbtx.ExecContext(ctx, mark, tx.Timestamp.UnixNano(), l.store); err != nil {
		return kit.Transaction{}, errors.Wrap(err, "history: advance commit high-water mark")
	}
	if err := dbtx.Commit(); err != nil {
		return kit.Transaction{}, errors.Wrap(err, "history: commit append")
	}
	l.hub.Publish(kit.Signal{Store: l.store, Author: tx.Author, Timestamp: tx.Timestamp})
	return tx, nil
}

// TransactionsSince returns every transaction with Timestamp > since,
// ascending.
func (l *SQLLog) TransactionsSince(ctx context.Context, since time.Time) ([]kit.Transaction, error) {
	after := int64(math.MinInt64)
	if !since.IsZero() {
		after = since.UnixNano()
	}
	p := l.dialect.placeholder
	q := "SELECT id, author, ts_ns, mirrored, changes FROM history_transactions WHERE store = " + p(1) +
		" AND ts_ns > " + p(2) + " ORDER BY ts_ns, seq"
	rows, err := l.db.QueryContext(ctx, q, l.store, after)
	if err != nil {
		return nil, errors.Wrap(err, "history: query transactions")
	}
	defer rows.Close()

	var out []kit.Transaction
	for rows.Next() {
		var (
			tx       kit.Transaction
			tsNanos  int64
			mirrored int
			changes  string
		)
		if err := rows.Scan(&tx.ID, &tx.Author, &tsNanos, &mirrored, &changes); err != nil {
			return nil, errors.Wrap(err, "history: scan transaction")
		}
		tx.Timestamp = time.Unix(0, tsNanos).UTC()
		tx.Mirrored = mirrored != 0
		if changes != "" && changes != "null" {
			if err := json.Unmarshal([]byte(changes), &tx.Changes); err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "history: decode changes of %s", tx.ID), ErrCorruptRecord)
			}
		}
		out = append(out, tx)
	}
	return out, errors.Wrap(rows.Err(), "history: iterate transactions")
}

// DeleteBefore removes transactions with Timestamp < before whose author is
// listed.
func (l *SQLLog) DeleteBefore(ctx context.Context, before time.Time, authors []string) (int, error) {
	if before.IsZero() || len(authors) == 0 {
		return 0, nil
	}
	if err := l.opts.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	p := l.dialect.placeholder
	args := make([]any, 0, len(authors)+2)
	args = append(args, l.store, before.UnixNano())
	marks := make([]string, len(authors))
	for i, a := range authors {
		marks[i] = p(i + 3)
		args = append(args, a)
	}
	q := "DELETE FROM history_transactions WHERE store = " + p(1) + " AND ts_ns < " + p(2) +
		" AND author IN (" + strings.Join(marks, ", ") + ")"
	res, err := l.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "history: delete transactions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "history: rows affected")
	}
	if n > 0 {
		l.opts.trimHook.EmitTrimRange(l.store, time.Time{}, before, int(n))
	}
	return int(n), nil
}

// Latest returns the newest commit timestamp, or the zero time when empty.
func (l *SQLLog) Latest(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	q := "SELECT MAX(ts_ns) FROM history_transactions WHERE store = " + l.dialect.placeholder(1)
	if err := l.db.QueryRowContext(ctx, q, l.store).Scan(&ts); err != nil {
		return time.Time{}, errors.Wrap(err, "history: latest timestamp")
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ts.Int64).UTC(), nil
}

// Subscribe returns a signal per transaction appended through this log.
func (l *SQLLog) Subscribe() (<-chan kit.Signal, func()) { return l.hub.Subscribe() }

// Close closes subscriber channels. The *sql.DB is owned by the caller.
func (l *SQLLog) Close() error {
	l.hub.Close()
	return nil
}
