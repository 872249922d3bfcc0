// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// snapshots, batches, prefix iteration and minimal metrics hooks. historykit
// uses a single DB for both the shared transaction history and the per-author
// timestamp records.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	it, _ := db.NewPrefixIter([]byte("hist/"))
//	for ok := it.First(); ok; ok = it.Next() { /* ... */ }
//	_ = it.Close()
package pebblestore
