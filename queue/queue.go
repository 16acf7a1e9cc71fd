// Package queue provides the unbounded FIFO queues connecting the node's workers.
package queue

import (
	"sync"

	"github.com/gammazero/deque"
	"go.uber.org/atomic"
)

type (
	// Queue is a variable size FIFO queue with a single consumer goroutine. Unlike a channel,
	// Push never blocks on a slow consumer.
	Queue[T any] struct {
		d                       *deque.Deque[T]
		inCh                    chan inElem[T]
		outCh                   chan T
		consume                 func(e T)
		inMutex                 sync.RWMutex
		closing                 bool
		processRemainingOnClose bool
		len                     atomic.Int32
		pushed                  atomic.Int64
		done                    chan struct{}
	}

	inElem[T any] struct {
		elem     T
		priority bool
	}
)

// New starts a queue that hands every element to consume, one at a time, in FIFO order.
func New[T any](consume func(e T)) *Queue[T] {
	q := &Queue[T]{
		d:       new(deque.Deque[T]),
		inCh:    make(chan inElem[T]),
		outCh:   make(chan T),
		consume: consume,
		done:    make(chan struct{}),
	}
	go q.inputLoop()
	go q.consumeLoop()
	return q
}

// Close stops accepting elements. With processRemaining the buffered elements are still consumed,
// otherwise they are dropped; the element being consumed always finishes.
func (q *Queue[T]) Close(processRemaining bool) {
	q.inMutex.Lock()
	defer q.inMutex.Unlock()

	if !q.closing {
		q.closing = true
		q.processRemainingOnClose = processRemaining
		close(q.inCh)
	}
}

// Wait blocks until the consumer returned after Close.
func (q *Queue[T]) Wait() {
	<-q.done
}

// Push places e into the queue, in front with priority. It returns false once the queue is closing.
func (q *Queue[T]) Push(e T, priority ...bool) bool {
	q.inMutex.RLock()
	defer q.inMutex.RUnlock()

	if q.closing {
		return false
	}
	q.inCh <- inElem[T]{
		elem:     e,
		priority: len(priority) > 0 && priority[0],
	}
	q.pushed.Inc()
	return true
}

// Len returns the number of buffered elements, approximate while the queue is in use.
func (q *Queue[T]) Len() int {
	return int(q.len.Load())
}

// Pushed returns the number of elements accepted so far.
func (q *Queue[T]) Pushed() int64 {
	return q.pushed.Load()
}

func (q *Queue[T]) inputLoop() {
	defer close(q.outCh)

	inCh := q.inCh
	for {
		if q.d.Len() == 0 {
			if inCh == nil {
				return
			}
			e, ok := <-inCh
			if !ok {
				return
			}
			q.add(e)
			continue
		}

		select {
		case e, ok := <-inCh:
			if ok {
				q.add(e)
				continue
			}
			if !q.processRemainingOnClose {
				q.d.Clear()
				q.len.Store(0)
				return
			}
			// drain what is buffered, then leave
			inCh = nil
		case q.outCh <- q.d.Front():
			q.d.PopFront()
			q.len.Store(int32(q.d.Len()))
		}
	}
}

func (q *Queue[T]) add(e inElem[T]) {
	if e.priority {
		q.d.PushFront(e.elem)
	} else {
		q.d.PushBack(e.elem)
	}
	q.len.Store(int32(q.d.Len()))
}

func (q *Queue[T]) consumeLoop() {
	defer close(q.done)

	for e := range q.outCh {
		q.consume(e)
	}
}
