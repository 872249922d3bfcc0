package kit

import (
	"context"

	"github.com/rzbill/historykit/pkg/log"
)

// ManualCleaner runs a cleanup outside the processing loop, bypassing the
// purge strategy. It never fetches or merges.
type ManualCleaner struct {
	kit *Kit
}

// Clean computes the current watermark and deletes below it.
func (m *ManualCleaner) Clean(ctx context.Context) (int, error) {
	g := m.kit.log.with(log.Str("trigger", "manual"))
	n, _, err := m.kit.cleanOnce(ctx, g)
	if err != nil {
		m.kit.metrics.ObserveError(StageClean)
		g.error(VerbosityLifecycle, "manual clean failed", log.Err(err))
	}
	return n, err
}

// Func returns a zero-argument callable; outcomes are reported through the
// kit's logger.
func (m *ManualCleaner) Func() func() {
	return func() { _, _ = m.Clean(context.Background()) }
}
