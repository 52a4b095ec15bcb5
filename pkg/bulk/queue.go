package bulk

import (
	"sync"
	"sync/atomic"
	"time"
)

// Flag is the shared termination flag. Once set it never resets.
type Flag struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewFlag returns an unset flag.
func NewFlag() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Set requests termination. It is safe to call from any goroutine, any
// number of times.
func (f *Flag) Set() {
	f.once.Do(func() {
		f.set.Store(true)
		close(f.done)
	})
}

// IsSet reports whether termination was requested.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// Done is closed when the flag is set.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}

// PopResult describes the outcome of Queue.Pop.
type PopResult int

const (
	Received PopResult = iota
	TimedOut
	Closed
	Stopped
)

// Queue is a bounded multi-producer, multi-consumer queue of commands.
// Push blocks while the queue is full, which is what bounds producer memory.
type Queue struct {
	mu     sync.RWMutex
	closed bool
	ch     chan Command
}

// NewQueue returns a queue holding at most capacity commands.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Command, capacity)}
}

// Push enqueues cmd, blocking while the queue is full. It returns
// ErrInterrupted if stop is closed first and ErrQueueClosed if the queue
// has been closed.
func (q *Queue) Push(cmd Command, stop <-chan struct{}) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- cmd:
		return nil
	case <-stop:
		return ErrInterrupted
	}
}

// Pop waits at most wait for the next command.
func (q *Queue) Pop(wait time.Duration, stop <-chan struct{}) (Command, PopResult) {
	// Skip arming a timer when a command is already waiting.
	select {
	case cmd, ok := <-q.ch:
		if !ok {
			return Command{}, Closed
		}
		return cmd, Received
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case cmd, ok := <-q.ch:
		if !ok {
			return Command{}, Closed
		}
		return cmd, Received
	case <-stop:
		return Command{}, Stopped
	case <-timer.C:
		return Command{}, TimedOut
	}
}

// Close signals consumers that no more commands will arrive. Commands
// already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the current backlog.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
