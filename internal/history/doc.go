// Package history implements the shared transaction logs that kits read,
// merge from, and clean.
//
// # Stores
//
// PebbleLog keeps one store's transactions in Pebble under
//
//	hist/{store}/m                         (metadata: last sequence)
//	hist/{store}/tx/{ts_be8}{seq_be8}      (transactions)
//
// Keys sort by commit timestamp, so TransactionsSince is a single seek and
// DeleteBefore walks only the prefix it removes. Values use the record codec:
// uvarint headerLen | header | payload | crc32c(header|payload), where the
// header is the JSON transaction envelope and the payload its changes.
//
// SQLLog stores the same data in a history_transactions table through
// database/sql; SQLite (modernc.org/sqlite) and Postgres (lib/pq) are
// supported.
//
// # Signals
//
// Both stores publish a kit.Signal on every Append through a Hub. Writers in
// other processes are not seen by the Hub; pair the store with a PollSource
// in that case.
//
//	l, _ := history.OpenPebbleLog(db, "notes")
//	tx, _ := l.Append(ctx, history.AppendRequest{Author: "app", Changes: changes})
//	sigs, cancel := l.Subscribe()
//	defer cancel()
package history
