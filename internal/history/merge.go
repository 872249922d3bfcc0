package history

import (
	"sync"

	"github.com/rzbill/historykit/pkg/kit"
)

// MergeSources combines several signal sources into one. The merged channel
// closes once every underlying source has closed or the subscription is
// cancelled.
func MergeSources(sources ...kit.SignalSource) kit.SignalSource {
	return mergedSource(sources)
}

type mergedSource []kit.SignalSource

func (m mergedSource) Subscribe() (<-chan kit.Signal, func()) {
	out := make(chan kit.Signal)
	done := make(chan struct{})
	cancels := make([]func(), 0, len(m))
	var wg sync.WaitGroup
	for _, src := range m {
		ch, cancel := src.Subscribe()
		cancels = append(cancels, cancel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case sig, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- sig:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			for _, c := range cancels {
				c()
			}
		})
	}
}
