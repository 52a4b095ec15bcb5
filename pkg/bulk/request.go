package bulk

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultQueueSize      = 10_000
	DefaultMaxDocs        = 10_000
	DefaultBatchSizeBytes = 8 << 20
	DefaultWaitTimeout    = 333 * time.Millisecond
	DefaultRefreshTimeout = 30 * time.Second
)

// Indexer is the remote engine as seen by the pipeline.
type Indexer interface {
	// Bulk issues one bulk call, streaming body as the request body. When
	// refresh is true the engine is asked to refresh as part of the call.
	// A response reporting item failures must return an error wrapping
	// ErrIndexing; any other failure must wrap ErrTransport.
	Bulk(ctx context.Context, body io.Reader, refresh bool) error

	// Refresh makes everything written so far visible to searches.
	Refresh(ctx context.Context) error
}

// Config holds configuration for a bulk request.
type Config struct {
	// Indexer receives the bulk calls (required).
	Indexer Indexer

	// QueueSize is the capacity of the command queue (default: 10000).
	QueueSize int

	// Concurrency is the maximum number of workers (default: number of CPUs).
	Concurrency int

	// BatchSizeBytes caps the encoded size of one bulk call (default: 8MiB).
	BatchSizeBytes int

	// MaxDocs caps the number of commands in one bulk call (default: 10000).
	MaxDocs int

	// WaitTimeout bounds how long a worker waits on an empty queue before
	// re-checking the termination flag (default: 333ms).
	WaitTimeout time.Duration

	// AllowRefresh lets the first request of a single worker refresh inline
	// and lets Finish skip the refresh when only one request was made. When
	// false, Finish always applies the refresh policy.
	AllowRefresh bool

	// RefreshPolicy is applied by Finish after all workers drained.
	RefreshPolicy RefreshPolicy

	// RefreshTimeout bounds an asynchronous refresh (default: 30s).
	RefreshTimeout time.Duration

	// Logger
	Logger hclog.Logger
}

// Stats is a snapshot of the shared counters of a bulk request.
type Stats struct {
	Accepted           int64 `json:"accepted"`
	InFlight           int64 `json:"inFlight"`
	SuccessfulRequests int64 `json:"successfulRequests"`
	ActiveWorkers      int64 `json:"activeWorkers"`
	SpawnedWorkers     int64 `json:"spawnedWorkers"`
	Queued             int   `json:"queued"`
}

// BulkRequest streams commands to the remote engine through a pool of
// workers. It is driven by a single producer; only Terminate and Stats may
// be used from other goroutines. Every request must end with Finish, or
// with Terminate if it is abandoned, so its workers and context are
// released.
type BulkRequest struct {
	handler *handler
	logger  hclog.Logger
}

// New creates a bulk request. Cancelling ctx terminates it.
func New(ctx context.Context, cfg Config) (*BulkRequest, error) {
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}

	// Set defaults
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.BatchSizeBytes <= 0 {
		cfg.BatchSizeBytes = DefaultBatchSizeBytes
	}
	if cfg.MaxDocs <= 0 {
		cfg.MaxDocs = DefaultMaxDocs
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	cfg.Logger = cfg.Logger.Named("bulk")

	return &BulkRequest{
		handler: newHandler(ctx, cfg),
		logger:  cfg.Logger,
	}, nil
}

// Insert indexes doc under rowID.
func (r *BulkRequest) Insert(rowID uint64, cmin, cmax uint32, xmin, xmax uint64, doc *Document) error {
	return r.handler.queueCommand(InsertCommand(rowID, cmin, cmax, xmin, xmax, doc))
}

// Update revises the end-of-life stamps of the document at rowID.
func (r *BulkRequest) Update(rowID uint64, cmax uint32, xmax uint64) error {
	return r.handler.queueCommand(UpdateCommand(rowID, cmax, xmax))
}

// DeleteByXmin deletes the document at rowID if it was created by xmin.
func (r *BulkRequest) DeleteByXmin(rowID, xmin uint64) error {
	return r.handler.queueCommand(DeleteByXminCommand(rowID, xmin))
}

// DeleteByXmax deletes the document at rowID if it was superseded by xmax.
func (r *BulkRequest) DeleteByXmax(rowID, xmax uint64) error {
	return r.handler.queueCommand(DeleteByXmaxCommand(rowID, xmax))
}

// Terminate returns a callback that stops all in-flight work without
// waiting for it. The callback may be called from any goroutine, any
// number of times.
func (r *BulkRequest) Terminate() func() {
	flag := r.handler.flag
	return func() {
		flag.Set()
	}
}

// TerminateNow is Terminate()().
func (r *BulkRequest) TerminateNow() {
	r.Terminate()()
}

// Stats returns a snapshot of the shared counters.
func (r *BulkRequest) Stats() Stats {
	return r.handler.stats()
}

// Finish signals that no more commands will be queued, waits for every
// worker to drain and applies the refresh policy. It returns the number of
// documents the engine acknowledged. On failure that number only covers
// the batches that succeeded before the failure, and the error is the
// first one reported by any worker.
func (r *BulkRequest) Finish() (int, error) {
	h := r.handler

	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return 0, ErrFinished
	}
	h.finished = true
	workers := h.workers
	h.queue.Close()
	h.mu.Unlock()

	defer h.release()

	total, joinErr := h.join(workers)

	if err := h.pollError(); err != nil {
		if joinErr != nil {
			r.logger.Error("bulk workers failed while draining", "error", joinErr)
		}
		return total, err
	}
	if joinErr != nil {
		return total, joinErr
	}
	if h.flag.IsSet() {
		return total, ErrInterrupted
	}

	requests := h.successful.Load()
	force := !h.cfg.AllowRefresh
	if requests > 1 || force {
		if err := r.refresh(); err != nil {
			return total, err
		}
	} else {
		r.logger.Debug("no direct refresh", "requests", requests)
	}

	r.logger.Info("bulk request finished",
		"docs", total,
		"requests", requests,
		"workers", len(workers),
	)

	return total, nil
}

func (r *BulkRequest) refresh() error {
	h := r.handler
	policy := h.cfg.RefreshPolicy

	switch policy.Mode {
	case RefreshImmediate:
		if err := h.cfg.Indexer.Refresh(h.parent); err != nil {
			return refreshError(err)
		}
		r.logger.Debug("refreshed index")

	case RefreshImmediateAsync:
		ctx, cancel := context.WithTimeout(context.WithoutCancel(h.parent), h.cfg.RefreshTimeout)
		go func() {
			defer cancel()
			if err := h.cfg.Indexer.Refresh(ctx); err != nil {
				r.logger.Warn("asynchronous refresh failed", "error", err)
				return
			}
			r.logger.Debug("refreshed index asynchronously")
		}()

	case RefreshBackground:
		// The engine refreshes on its own schedule.
	}
	return nil
}
