package kit

import (
	"context"
	"encoding/json"
	"sync"
)

// Replica is an in-memory Context holding the latest row data per
// entity/key. It remembers applied transaction IDs, so re-delivered prefixes
// and empty batches are harmless.
type Replica struct {
	name string

	mu      sync.RWMutex
	applied map[string]struct{}
	order   []string
	rows    map[string]json.RawMessage
}

// NewReplica returns an empty replica.
func NewReplica(name string) *Replica {
	return &Replica{
		name:    name,
		applied: make(map[string]struct{}),
		rows:    make(map[string]json.RawMessage),
	}
}

func rowKey(entity, key string) string { return entity + "/" + key }

// Merge applies batch in order, skipping transactions already applied.
func (r *Replica) Merge(ctx context.Context, batch []Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := r.applied[tx.ID]; ok && tx.ID != "" {
			continue
		}
		for _, c := range tx.Changes {
			k := rowKey(c.Entity, c.Key)
			switch c.Op {
			case OpDelete:
				delete(r.rows, k)
			default:
				r.rows[k] = append(json.RawMessage(nil), c.Data...)
			}
		}
		if tx.ID != "" {
			r.applied[tx.ID] = struct{}{}
		}
		r.order = append(r.order, tx.ID)
	}
	return nil
}

// Name returns the replica's name.
func (r *Replica) Name() string { return r.name }

// Get returns the current data for entity/key.
func (r *Replica) Get(entity, key string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.rows[rowKey(entity, key)]
	return v, ok
}

// Len returns the number of live rows.
func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// Applied returns transaction IDs in the order they were applied.
func (r *Replica) Applied() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
