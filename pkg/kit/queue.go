package kit

import "sync"

// signalQueue buffers signals from a source without bound and hands them out
// in arrival order, so a slow cycle never makes the source drop or block.
type signalQueue struct {
	out  chan Signal
	stop chan struct{}
	once sync.Once
}

func newSignalQueue(in <-chan Signal) *signalQueue {
	q := &signalQueue{out: make(chan Signal), stop: make(chan struct{})}
	go q.pump(in)
	return q
}

func (q *signalQueue) pump(in <-chan Signal) {
	defer close(q.out)
	var pending []Signal
	for in != nil || len(pending) > 0 {
		var out chan Signal
		var next Signal
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}
		select {
		case s, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, s)
		case out <- next:
			pending[0] = Signal{}
			pending = pending[1:]
		case <-q.stop:
			return
		}
	}
}

func (q *signalQueue) close() { q.once.Do(func() { close(q.stop) }) }
