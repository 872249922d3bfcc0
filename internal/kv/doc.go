// Package kv provides the durable key-value stores that hold per-author
// timestamps. Every store satisfies kit.KV.
//
//   - Pebble shares a pebblestore.DB with the history log, under its own prefix.
//   - Redis keeps timestamps in Redis so kits on different hosts share them.
//   - Memory is process-local and intended for tests and dry runs.
package kv
