package bulk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// progressEvery is how often (in accepted commands) progress is logged.
const progressEvery = 10_000

// shouldSpawn decides whether a new worker is started for the next command.
// A worker is always started when none exists. Beyond that, workers are
// added only while below the limit and only once the backlog exceeds an
// even share of the queue capacity, so short bursts don't fan out.
func shouldSpawn(spawned, limit, backlog, capacity int) bool {
	if spawned == 0 {
		return true
	}
	if limit < 1 {
		limit = 1
	}
	return spawned < limit && backlog > capacity/limit
}

// worker is the bookkeeping of one spawned worker goroutine.
type worker struct {
	id   int
	docs int
	err  error
	done chan struct{}
}

// handler is the worker pool behind a BulkRequest. It owns the command
// queue, the shared counters, the termination flag and the error channel.
type handler struct {
	cfg    Config
	logger hclog.Logger

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool

	flag   *Flag
	queue  *Queue
	errCh  chan error
	errMu  sync.Mutex
	first  error

	mu       sync.Mutex
	workers  []*worker
	finished bool

	accepted   atomic.Int64
	inFlight   atomic.Int64
	successful atomic.Int64
	active     atomic.Int64
	spawned    atomic.Int64
}

func newHandler(parent context.Context, cfg Config) *handler {
	ctx, cancel := context.WithCancel(parent)

	h := &handler{
		cfg:    cfg,
		logger: cfg.Logger,
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
		flag:   NewFlag(),
		queue:  NewQueue(cfg.QueueSize),
		errCh:  make(chan error, cfg.Concurrency),
	}

	// Cancelling the caller's context is a termination request, and any
	// termination request aborts in-flight HTTP calls. Termination also
	// releases the watcher, so a terminated request holds nothing even if
	// Finish is never called.
	h.stop = context.AfterFunc(parent, h.flag.Set)
	go func() {
		select {
		case <-h.flag.Done():
			h.stop()
			cancel()
		case <-ctx.Done():
		}
	}()

	return h
}

// release frees the handler's context once the request is finished.
func (h *handler) release() {
	h.stop()
	h.cancel()
}

func (h *handler) terminate() {
	h.flag.Set()
}

// pollError returns the first error reported by any worker, if one exists.
// The first error observed is kept and returned on every later call.
func (h *handler) pollError() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()

	if h.first != nil {
		return h.first
	}

	select {
	case err := <-h.errCh:
		h.first = err
		h.flag.Set()
	default:
	}
	return h.first
}

// checkForError is pollError that also reports a termination request.
func (h *handler) checkForError() error {
	if err := h.pollError(); err != nil {
		return err
	}
	if h.flag.IsSet() {
		return ErrInterrupted
	}
	return nil
}

// queueCommand hands cmd to a freshly spawned worker or pushes it onto the
// queue, blocking while the queue is full.
func (h *handler) queueCommand(cmd Command) error {
	if err := h.checkForError(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finished {
		return ErrFinished
	}

	total := h.accepted.Add(1)
	if total%progressEvery == 0 {
		h.logger.Info("bulk progress",
			"total", total,
			"in_flight", h.inFlight.Load(),
			"queued", h.queue.Len(),
			"active_workers", h.active.Load(),
		)
	}

	if shouldSpawn(len(h.workers), h.cfg.Concurrency, h.queue.Len(), h.queue.Cap()) {
		h.spawn(cmd)
		return nil
	}

	if err := h.queue.Push(cmd, h.flag.Done()); err != nil {
		h.accepted.Add(-1)
		if perr := h.pollError(); perr != nil {
			return perr
		}
		return err
	}
	return nil
}

// spawn starts a worker seeded with cmd. Callers hold h.mu.
func (h *handler) spawn(cmd Command) {
	w := &worker{id: len(h.workers), done: make(chan struct{})}
	h.workers = append(h.workers, w)
	h.spawned.Add(1)

	h.logger.Debug("spawning bulk worker",
		"worker", w.id,
		"queued", h.queue.Len(),
	)

	h.active.Add(1)
	go h.run(w, cmd)
}

// run is the worker loop: assemble a batch, submit it, repeat until the
// queue is exhausted, an error occurs, or termination is requested.
func (h *handler) run(w *worker, seed Command) {
	logger := h.logger.Named("worker").With("worker", w.id)

	defer close(w.done)
	defer h.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			w.err = panicError(fmt.Sprintf("Worker %d", w.id), r)
			logger.Error("bulk worker panicked", "panic", r)
			h.terminate()
		}
	}()

	next := &seed
	for {
		if h.flag.IsSet() {
			logger.Debug("termination requested, exiting")
			return
		}

		if next == nil {
			cmd, ok := h.nextCommand()
			if !ok {
				return
			}
			next = &cmd
		}

		enc := NewEncoder(EncoderConfig{
			First:       next,
			Queue:       h.queue,
			Flag:        h.flag,
			MaxDocs:     h.cfg.MaxDocs,
			MaxBytes:    h.cfg.BatchSizeBytes,
			WaitTimeout: h.cfg.WaitTimeout,
			InFlight:    &h.inFlight,
		})
		next = nil

		refresh := h.inlineRefresh()
		start := time.Now()
		err := h.cfg.Indexer.Bulk(h.ctx, enc, refresh)
		enc.Seal()

		docs := enc.Docs()
		h.inFlight.Add(-int64(docs))

		if err != nil {
			encErr := enc.Err()
			if encErr != nil {
				err = encErr
			}
			if h.flag.IsSet() && encErr == nil {
				logger.Debug("bulk request interrupted", "docs", docs)
				return
			}
			h.fail(logger, err)
			return
		}

		h.successful.Add(1)
		w.docs += docs

		logger.Debug("bulk request succeeded",
			"docs", docs,
			"bytes", enc.Bytes(),
			"refresh", refresh,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if docs == 0 {
			return
		}
		next = enc.Carry()
	}
}

// nextCommand blocks for the first command of a new batch. It returns false
// once the queue is closed and drained or termination was requested.
func (h *handler) nextCommand() (Command, bool) {
	for {
		cmd, res := h.queue.Pop(h.cfg.WaitTimeout, h.flag.Done())
		switch res {
		case Received:
			return cmd, true
		case TimedOut:
			if h.flag.IsSet() {
				return Command{}, false
			}
		default:
			return Command{}, false
		}
	}
}

// inlineRefresh reports whether this bulk call may ask the engine to
// refresh inline. Only the very first request of a single worker qualifies.
func (h *handler) inlineRefresh() bool {
	if !h.cfg.AllowRefresh || h.cfg.RefreshPolicy.Mode != RefreshImmediate {
		return false
	}
	return h.active.Load() == 1 && h.successful.Load() == 0
}

// fail publishes err and stops the pipeline. The error is published before
// the flag is set so the producer always finds the cause.
func (h *handler) fail(logger hclog.Logger, err error) {
	logger.Error("bulk request failed", "error", err)

	select {
	case h.errCh <- err:
	default:
		logger.Warn("error channel full, dropping error", "error", err)
	}
	h.terminate()
}

// join waits for every worker and sums the documents they indexed. Worker
// panics are returned as a combined error.
func (h *handler) join(workers []*worker) (int, error) {
	var (
		total  int
		result *multierror.Error
	)
	for _, w := range workers {
		<-w.done
		total += w.docs
		if w.err != nil {
			result = multierror.Append(result, w.err)
		}
		h.logger.Trace("bulk worker finished", "worker", w.id, "docs", w.docs)
	}
	if result != nil && len(result.Errors) == 1 {
		return total, result.Errors[0]
	}
	return total, result.ErrorOrNil()
}

func (h *handler) stats() Stats {
	return Stats{
		Accepted:           h.accepted.Load(),
		InFlight:           h.inFlight.Load(),
		SuccessfulRequests: h.successful.Load(),
		ActiveWorkers:      h.active.Load(),
		SpawnedWorkers:     h.spawned.Load(),
		Queued:             h.queue.Len(),
	}
}
