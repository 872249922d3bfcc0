package kit

import (
	"context"
	"sort"
	"time"
)

// FetcherOptions scopes what a Fetcher returns.
type FetcherOptions struct {
	CurrentAuthor string
	// Authors bounds the visible universe; transactions by other authors are
	// ignored. Empty means no author restriction.
	Authors []string
	// IncludeOwnTransactions keeps CurrentAuthor's own writes in the batch.
	IncludeOwnTransactions bool
	// IncludeMirroring keeps transactions flagged Mirrored.
	IncludeMirroring bool
	// Filter is an optional CEL expression; see txFilter.
	Filter string
}

// Fetcher reads new transactions for the current author.
type Fetcher struct {
	history History
	opts    FetcherOptions
	authors map[string]struct{}
	filter  txFilter
}

// NewFetcher compiles the filter and returns a Fetcher over history.
func NewFetcher(history History, opts FetcherOptions) (*Fetcher, error) {
	filter, err := newTxFilter(opts.Filter)
	if err != nil {
		return nil, configErrorf("compile filter: %v", err)
	}
	f := &Fetcher{history: history, opts: opts, filter: filter}
	if len(opts.Authors) > 0 {
		f.authors = make(map[string]struct{}, len(opts.Authors))
		for _, a := range opts.Authors {
			f.authors[a] = struct{}{}
		}
	}
	return f, nil
}

// Fetch returns the scoped transactions with Timestamp > since, ascending.
func (f *Fetcher) Fetch(ctx context.Context, since time.Time) ([]Transaction, error) {
	all, err := f.history.TransactionsSince(ctx, since)
	if err != nil {
		return nil, markf(ErrFetch, err, "transactions since %s", since.Format(time.RFC3339Nano))
	}
	out := make([]Transaction, 0, len(all))
	for _, tx := range all {
		if !tx.Timestamp.After(since) {
			continue
		}
		if f.authors != nil {
			if _, ok := f.authors[tx.Author]; !ok {
				continue
			}
		}
		if !f.opts.IncludeOwnTransactions && tx.Author == f.opts.CurrentAuthor {
			continue
		}
		if !f.opts.IncludeMirroring && tx.Mirrored {
			continue
		}
		if !f.filter.Eval(tx) {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
