// Package kit coordinates several authors sharing one append-only
// transaction history.
//
// # Overview
//
// Each Kit merges the history as one author (the current author). On every
// change signal it runs one cycle, strictly sequentially:
//
//	since   := TimestampManager.LastTimestamp(current)
//	batch   := Fetcher.Fetch(since)                 // ascending, Timestamp > since
//	Observer(batch)                                 // optional, read-only
//	Merger.Merge(batch, contexts)
//	TimestampManager.UpdateLastTimestamp(current, batch[last].Timestamp)
//	if PurgeStrategy.AllowedToClean() {
//	    wm := TimestampManager.CommonSafeTimestamp(authors, excluding: batchAuthors)
//	    Cleaner.Clean(before: wm)
//	}
//
// A transaction is deleted only once every non-batch author has recorded a
// timestamp at or after it. Authors that never report are given a grace
// window of MaximumDuration, after which they count as now-MaximumDuration.
//
// # Storage
//
// The kit talks to its collaborators through small interfaces: History (query
// and delete transactions), SignalSource (change notifications), KV (durable
// per-author timestamps, keyed "<KeyPrefix><author>") and Context (merge
// targets). internal/history and internal/kv provide Pebble, SQL and Redis
// implementations.
//
// # Lifecycle
//
//	k, err := kit.New(kit.Options{
//	    CurrentAuthor: "app",
//	    Authors:       []string{"app", "widget", "importer"},
//	    BatchAuthors:  []string{"importer"},
//	    History:       log,
//	    Signals:       log,
//	    KV:            store,
//	    Contexts:      []kit.Context{replica},
//	    Strategy:      kit.PurgeByNotification(10),
//	    Verbosity:     1,
//	})
//	k.Start()
//	defer k.Close()
//
//	// on demand, e.g. when the process is about to suspend
//	k.ManualCleaner().Func()()
package kit
