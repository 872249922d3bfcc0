package kv

import (
	"context"

	"github.com/cockroachdb/errors"
	pebblestore "github.com/rzbill/historykit/internal/storage/pebble"
)

const pebblePrefix = "kv/"

// Pebble stores values in a shared Pebble database under "kv/".
type Pebble struct {
	db *pebblestore.DB
}

// NewPebble returns a store over db.
func NewPebble(db *pebblestore.DB) *Pebble { return &Pebble{db: db} }

func (p *Pebble) key(k string) []byte { return append([]byte(pebblePrefix), k...) }

func (p *Pebble) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, err := p.db.Get(p.key(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "kv: get %q", key)
	}
	return v, true, nil
}

func (p *Pebble) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrapf(p.db.Set(p.key(key), value), "kv: set %q", key)
}

func (p *Pebble) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrapf(p.db.Delete(p.key(key)), "kv: delete %q", key)
}

// Keys lists stored keys starting with prefix.
func (p *Pebble) Keys(ctx context.Context, prefix string) ([]string, error) {
	iter, err := p.db.NewPrefixIter(p.key(prefix))
	if err != nil {
		return nil, errors.Wrap(err, "kv: open iterator")
	}
	defer iter.Close()
	var out []string
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, string(iter.Key()[len(pebblePrefix):]))
	}
	return out, iter.Error()
}
