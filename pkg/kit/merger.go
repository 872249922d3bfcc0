package kit

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/historykit/pkg/log"
)

// Merger applies an ordered batch to each consumer context in turn.
type Merger struct {
	log gate
}

// Merge applies batch to every context in list order. A failing context does
// not stop the others; the failures are returned combined and marked ErrMerge.
func (m *Merger) Merge(ctx context.Context, batch []Transaction, contexts []Context) error {
	if len(batch) == 0 {
		return nil
	}
	var combined error
	for i, c := range contexts {
		if err := c.Merge(ctx, batch); err != nil {
			err = markf(ErrMerge, err, "context %d", i)
			m.log.error(VerbosityLifecycle, "merge failed", log.Int("context", i), log.Int("transactions", len(batch)), log.Err(err))
			combined = errors.CombineErrors(combined, err)
			continue
		}
		m.log.debug(VerbosityDetail, "merged batch", log.Int("context", i), log.Int("transactions", len(batch)))
	}
	return combined
}
