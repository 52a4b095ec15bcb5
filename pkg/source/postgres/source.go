// Package postgres scans a PostgreSQL table for index builds.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashicorp-forge/esbulk/pkg/bulk"
	"github.com/hashicorp-forge/esbulk/pkg/indexbuild"
)

// DefaultConnectTimeout bounds connection retries in Connect.
const DefaultConnectTimeout = 30 * time.Second

// Config holds configuration for the row source.
type Config struct {
	// URL is a PostgreSQL connection string (required).
	URL string

	// Table is the table to scan, optionally schema-qualified (required).
	Table string

	// MaxConns caps the pool size (default: pgxpool's default).
	MaxConns int

	// ConnectTimeout bounds how long Connect retries (default: 30s).
	ConnectTimeout time.Duration

	// Logger
	Logger hclog.Logger
}

// Source scans a table inside a read-only snapshot. It implements
// indexbuild.RowSource.
type Source struct {
	pool   *pgxpool.Pool
	table  pgx.Identifier
	logger hclog.Logger
}

var _ indexbuild.RowSource = (*Source)(nil)

// Connect opens a connection pool, retrying with exponential backoff until
// the database answers or ConnectTimeout elapses.
func Connect(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	table, err := ParseTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	logger := cfg.Logger.Named("postgres")

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectTimeout
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("connected to database", "table", table.Sanitize())
	return NewSource(pool, table, logger), nil
}

// NewSource wraps an existing pool.
func NewSource(pool *pgxpool.Pool, table pgx.Identifier, logger hclog.Logger) *Source {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Source{pool: pool, table: table, logger: logger}
}

// Close closes the pool.
func (s *Source) Close() {
	s.pool.Close()
}

// Scan calls fn for every live row of the table, in physical order, and
// returns the number of rows visited. The whole scan sees one snapshot.
func (s *Source) Scan(ctx context.Context, fn func(indexbuild.Row) error) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	// Read-only; rolling back is all there is to end it.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(ctx, ScanQuery(s.table))
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", s.table.Sanitize(), err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			ctid string
			xmin int64
			cmin int64
			raw  []byte
		)
		if err := rows.Scan(&ctid, &xmin, &cmin, &raw); err != nil {
			return n, fmt.Errorf("failed to read row %d: %w", n, err)
		}

		rowID, err := ParseCTID(ctid)
		if err != nil {
			return n, err
		}
		doc, err := bulk.DocumentFromJSON(raw)
		if err != nil {
			return n, fmt.Errorf("row %s: %w", ctid, err)
		}

		// Only live rows are visible, so the tuple was never superseded.
		row := indexbuild.Row{
			RowID:    rowID,
			Cmin:     uint32(cmin),
			Cmax:     uint32(cmin),
			Xmin:     uint64(xmin),
			Xmax:     0,
			Document: doc,
		}
		if err := fn(row); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("failed to scan %s: %w", s.table.Sanitize(), err)
	}

	s.logger.Debug("scanned table", "table", s.table.Sanitize(), "rows", n)
	return n, nil
}

// ScanQuery returns the query Scan runs against table.
func ScanQuery(table pgx.Identifier) string {
	return "SELECT ctid::text, xmin::text::bigint, cmin::text::bigint, row_to_json(t)::text FROM " +
		table.Sanitize() + " t"
}

// ParseTable splits a possibly schema-qualified table name.
func ParseTable(name string) (pgx.Identifier, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("table is required")
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return pgx.Identifier(parts), nil
}

// ParseCTID converts a tuple id such as "(12,3)" into the document id used
// in the index: the block number in the high 32 bits and the offset in the
// low ones.
func ParseCTID(s string) (uint64, error) {
	inner, ok := strings.CutPrefix(s, "(")
	if ok {
		inner, ok = strings.CutSuffix(inner, ")")
	}
	if !ok {
		return 0, fmt.Errorf("invalid ctid %q", s)
	}

	blockStr, offsetStr, ok := strings.Cut(inner, ",")
	if !ok {
		return 0, fmt.Errorf("invalid ctid %q", s)
	}

	block, err := strconv.ParseUint(blockStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ctid block %q: %w", s, err)
	}
	offset, err := strconv.ParseUint(offsetStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid ctid offset %q: %w", s, err)
	}

	return block<<32 | offset, nil
}
