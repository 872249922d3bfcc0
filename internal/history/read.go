package history

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/historykit/pkg/kit"
)

// ReadOptions bounds a Read.
type ReadOptions struct {
	// Since excludes transactions at or before it; zero reads from the start.
	Since   time.Time
	Limit   int
	Reverse bool
}

// Read returns up to Limit transactions after Since. Reverse scans from the
// newest transaction backwards.
func (l *PebbleLog) Read(ctx context.Context, opts ReadOptions) ([]kit.Transaction, error) {
	if !opts.Reverse {
		txs, err := l.TransactionsSince(ctx, opts.Since)
		if err != nil {
			return nil, err
		}
		if opts.Limit > 0 && len(txs) > opts.Limit {
			txs = txs[:opts.Limit]
		}
		return txs, nil
	}

	iter, err := l.db.NewPrefixIter(l.prefix)
	if err != nil {
		return nil, errors.Wrap(err, "history: open iterator")
	}
	defer iter.Close()
	var out []kit.Transaction
	for ok := iter.Last(); ok && (opts.Limit == 0 || len(out) < opts.Limit); ok = iter.Prev() {
		tx, err := decodeTransaction(iter.Value())
		if err != nil {
			continue
		}
		if !tx.Timestamp.After(opts.Since) {
			break
		}
		out = append(out, tx)
	}
	return out, iter.Error()
}
