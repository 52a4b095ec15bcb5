// Package indexbuild builds a search index from scratch: it recreates the
// index, streams every row of the source into a bulk request and reports
// the outcome.
package indexbuild

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/hashicorp-forge/esbulk/pkg/bulk"
	"github.com/hashicorp-forge/esbulk/pkg/xact"
)

// dropTimeout bounds the index cleanup run on abort.
const dropTimeout = 30 * time.Second

// Row is one visible row of the source table together with its version
// stamps.
type Row struct {
	RowID    uint64
	Cmin     uint32
	Cmax     uint32
	Xmin     uint64
	Xmax     uint64
	Document *bulk.Document
}

// RowSource yields the rows to index.
type RowSource interface {
	// Scan calls fn for every row and returns the number of rows visited.
	// It stops at the first error returned by fn.
	Scan(ctx context.Context, fn func(Row) error) (int, error)
}

// Index is the remote index being built.
type Index interface {
	bulk.Indexer

	CreateIndex(ctx context.Context, body any) error
	DeleteIndex(ctx context.Context) error
	BaseURL() string
}

// Result describes a finished build.
type Result struct {
	Rows     int
	Indexed  int
	Duration time.Duration
	Stats    bulk.Stats
}

// Builder runs index builds.
type Builder struct {
	index   Index
	source  RowSource
	logger  hclog.Logger
	hooks   *xact.Hooks
	bulkCfg bulk.Config
	mapping any
	limiter *rate.Limiter

	// onRequest observes the bulk request of a running build.
	onRequest func(*bulk.BulkRequest)
}

// Option is a functional option for creating a Builder.
type Option func(*Builder)

// WithIndex sets the index to build.
func WithIndex(index Index) Option {
	return func(b *Builder) {
		b.index = index
	}
}

// WithSource sets the row source.
func WithSource(source RowSource) Option {
	return func(b *Builder) {
		b.source = source
	}
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithHooks sets the transaction hooks the build registers its cleanup with.
func WithHooks(hooks *xact.Hooks) Option {
	return func(b *Builder) {
		b.hooks = hooks
	}
}

// WithBulkConfig sets the bulk request configuration. Its Indexer and
// Logger are replaced by the builder's.
func WithBulkConfig(cfg bulk.Config) Option {
	return func(b *Builder) {
		b.bulkCfg = cfg
	}
}

// WithMapping sets the create-index body.
func WithMapping(mapping any) Option {
	return func(b *Builder) {
		b.mapping = mapping
	}
}

// WithRowsPerSecond throttles the scan. Zero means unthrottled.
func WithRowsPerSecond(n int) Option {
	return func(b *Builder) {
		if n <= 0 {
			b.limiter = nil
			return
		}
		b.limiter = rate.NewLimiter(rate.Limit(n), n)
	}
}

// WithRequestObserver registers fn to receive the bulk request of every
// build once it started, e.g. to export its stats.
func WithRequestObserver(fn func(*bulk.BulkRequest)) Option {
	return func(b *Builder) {
		b.onRequest = fn
	}
}

// New creates a new index builder.
func New(opts ...Option) (*Builder, error) {
	b := &Builder{
		logger: hclog.NewNullLogger(),
	}

	// Apply options
	for _, opt := range opts {
		opt(b)
	}

	// Validate required fields
	if b.index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if b.source == nil {
		return nil, fmt.Errorf("row source is required")
	}
	if b.hooks == nil {
		b.hooks = xact.NewHooks(b.logger)
	}
	b.logger = b.logger.Named("indexbuild")

	return b, nil
}

// Hooks returns the hooks the builder registers with.
func (b *Builder) Hooks() *xact.Hooks {
	return b.hooks
}

// Build recreates the index and indexes every row of the source. On any
// failure the Abort hooks fire: the bulk request is terminated and the new
// index is dropped.
func (b *Builder) Build(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	if err := b.index.DeleteIndex(ctx); err != nil {
		return result, fmt.Errorf("failed to delete existing index: %w", err)
	}
	if err := b.index.CreateIndex(ctx, b.mapping); err != nil {
		return result, fmt.Errorf("failed to create index: %w", err)
	}

	cfg := b.bulkCfg
	cfg.Indexer = b.index
	cfg.Logger = b.logger

	req, err := bulk.New(ctx, cfg)
	if err != nil {
		b.dropIndex(ctx)
		return result, fmt.Errorf("failed to start bulk request: %w", err)
	}
	if b.onRequest != nil {
		b.onRequest(req)
	}

	terminate := b.hooks.Register(xact.Abort, req.Terminate())
	drop := b.hooks.Register(xact.Abort, func() { b.dropIndex(ctx) })

	abort := func() {
		b.hooks.Fire(xact.Abort)
		result.Stats = req.Stats()
		result.Duration = time.Since(start)
	}

	rows, err := b.source.Scan(ctx, func(row Row) error {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return req.Insert(row.RowID, row.Cmin, row.Cmax, row.Xmin, row.Xmax, row.Document)
	})
	result.Rows = rows
	if err != nil {
		abort()
		// Join the workers; the scan error already carries the cause.
		result.Indexed, _ = req.Finish()
		return result, fmt.Errorf("failed to scan rows: %w", err)
	}

	indexed, err := req.Finish()
	result.Indexed = indexed
	if err != nil {
		abort()
		return result, fmt.Errorf("failed to finish bulk request: %w", err)
	}

	terminate.Unregister()
	drop.Unregister()
	b.hooks.Fire(xact.Commit)

	result.Stats = req.Stats()
	result.Duration = time.Since(start)

	if indexed != rows {
		b.logger.Warn("indexed count differs from scanned rows", "rows", rows, "indexed", indexed)
	}
	b.logger.Info("indexed rows",
		"rows", rows,
		"indexed", indexed,
		"url", b.index.BaseURL(),
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

func (b *Builder) dropIndex(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropTimeout)
	defer cancel()

	if err := b.index.DeleteIndex(ctx); err != nil {
		b.logger.Error("failed to drop index after abort", "error", err)
		return
	}
	b.logger.Info("dropped index after abort", "url", b.index.BaseURL())
}
