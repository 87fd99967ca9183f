package island

import (
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// effectQueue runs presenter calls on one goroutine in the order they were
// queued. Pushing never blocks.
type effectQueue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newEffectQueue() *effectQueue {
	q := &effectQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// push queues fn. Ignored once the queue is closed.
func (q *effectQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.signal()
}

// flush waits until every effect queued before the call has run.
func (q *effectQueue) flush() {
	applied := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.pending = append(q.pending, func() { close(applied) })
	q.mu.Unlock()
	q.signal()
	<-applied
}

// close stops accepting effects and waits for the queued ones to run.
func (q *effectQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

func (q *effectQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *effectQueue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			runEffect(fn)
		}
	}
}

// runEffect runs a presenter call. A failing presenter never takes the machine down.
func runEffect(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("island: presenter panicked: %v", r)
		}
	}()
	fn()
}
