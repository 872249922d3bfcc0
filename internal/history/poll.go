package history

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/historykit/pkg/kit"
)

// LatestSource reports the newest commit timestamp of a store.
type LatestSource interface {
	Latest(ctx context.Context) (time.Time, error)
}

// PollSource emits a signal when a store changed since the previous poll.
// It lets a kit follow stores written by other processes. With a nil
// LatestSource every tick emits.
type PollSource struct {
	Store        string
	Interval     time.Duration
	LatestSource LatestSource
}

// Subscribe starts a polling goroutine for this subscriber; cancel stops it
// and closes the channel.
func (p *PollSource) Subscribe() (<-chan kit.Signal, func()) {
	out := make(chan kit.Signal)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		p.poll(ctx, out)
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func (p *PollSource) poll(ctx context.Context, out chan<- kit.Signal) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seen time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sig := kit.Signal{Store: p.Store, Timestamp: now}
			if p.LatestSource != nil {
				latest, err := p.LatestSource.Latest(ctx)
				if err != nil || !latest.After(seen) {
					continue
				}
				seen = latest
				sig.Timestamp = latest
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
	}
}
