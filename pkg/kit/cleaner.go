package kit

import (
	"context"
	"time"
)

// Cleaner deletes transactions below a watermark, restricted to known authors.
type Cleaner struct {
	history History
	authors []string
}

// NewCleaner returns a Cleaner that only touches transactions by authors.
func NewCleaner(history History, authors []string) *Cleaner {
	return &Cleaner{history: history, authors: append([]string(nil), authors...)}
}

// Clean deletes every transaction with Timestamp < before. DistantPast is a
// no-op, as is repeating a previous watermark.
func (c *Cleaner) Clean(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		return 0, nil
	}
	n, err := c.history.DeleteBefore(ctx, before, c.authors)
	if err != nil {
		return n, markf(ErrClean, err, "delete before %s", before.Format(time.RFC3339Nano))
	}
	return n, nil
}
