package kit

import (
	"context"
	"encoding/json"
	"time"
)

// DistantPast is the sentinel returned for authors with no recorded timestamp.
var DistantPast = time.Time{}

// ChangeOp is the kind of a single change inside a transaction.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Valid reports whether op is a known operation.
func (op ChangeOp) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Change is one row-level mutation recorded in a transaction.
type Change struct {
	Entity string          `json:"entity"`
	Key    string          `json:"key"`
	Op     ChangeOp        `json:"op"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Transaction is an immutable record in the shared history.
type Transaction struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	// Mirrored marks transactions imported through a mirroring pathway
	// (for example a cloud sync importer) rather than written locally.
	Mirrored bool     `json:"mirrored,omitempty"`
	Changes  []Change `json:"changes,omitempty"`
}

// Signal is one change notification from the history store.
type Signal struct {
	Store     string
	Author    string
	Timestamp time.Time
}

// History is the shared transaction log.
type History interface {
	// TransactionsSince returns every transaction with Timestamp > since in
	// ascending timestamp order.
	TransactionsSince(ctx context.Context, since time.Time) ([]Transaction, error)
	// DeleteBefore deletes transactions with Timestamp < before authored by
	// one of authors, returning how many were removed.
	DeleteBefore(ctx context.Context, before time.Time, authors []string) (int, error)
}

// SignalSource delivers change notifications. The returned cancel func
// unsubscribes and must be safe to call more than once.
type SignalSource interface {
	Subscribe() (<-chan Signal, func())
}

// KV is the durable key-value store holding per-author timestamps.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Context is a merge target. The kit never owns its lifecycle.
type Context interface {
	Merge(ctx context.Context, batch []Transaction) error
}

// ContextFunc adapts a function to Context.
type ContextFunc func(ctx context.Context, batch []Transaction) error

func (f ContextFunc) Merge(ctx context.Context, batch []Transaction) error { return f(ctx, batch) }

// Observer sees every fetched batch before it is merged. The batch is a copy;
// observers must not write to the history.
type Observer func(ctx context.Context, batch []Transaction)

// Clock returns the current time.
type Clock func() time.Time
