package indexbuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/esbulk/pkg/bulk"
	"github.com/hashicorp-forge/esbulk/pkg/xact"
)

// MockIndex is a test implementation of the Index interface
type MockIndex struct {
	mu        sync.Mutex
	calls     []string
	mapping   any
	bulkErr   error
	createErr error
}

func (m *MockIndex) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockIndex) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockIndex) Bulk(ctx context.Context, body io.Reader, refresh bool) error {
	if _, err := io.ReadAll(body); err != nil {
		return &bulk.Error{Op: "Bulk", Err: bulk.ErrTransport, Msg: err.Error()}
	}
	m.record("bulk")
	return m.bulkErr
}

func (m *MockIndex) Refresh(ctx context.Context) error {
	m.record("refresh")
	return nil
}

func (m *MockIndex) CreateIndex(ctx context.Context, body any) error {
	m.record("create")
	m.mu.Lock()
	m.mapping = body
	m.mu.Unlock()
	return m.createErr
}

func (m *MockIndex) DeleteIndex(ctx context.Context) error {
	m.record("delete")
	return nil
}

func (m *MockIndex) BaseURL() string {
	return "http://localhost:9200"
}

// MockSource yields a fixed number of rows, optionally failing after some.
type MockSource struct {
	rows    int
	failAt  int
	failErr error
}

func (m *MockSource) Scan(ctx context.Context, fn func(Row) error) (int, error) {
	for i := 1; i <= m.rows; i++ {
		if m.failAt > 0 && i == m.failAt {
			return i - 1, m.failErr
		}
		doc := bulk.NewDocument(1)
		if err := doc.Add("n", i); err != nil {
			return i - 1, err
		}
		row := Row{RowID: uint64(i), Xmin: 100, Document: doc}
		if err := fn(row); err != nil {
			return i - 1, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return m.rows, nil
}

func newTestBuilder(t *testing.T, index Index, source RowSource, opts ...Option) *Builder {
	t.Helper()
	opts = append([]Option{
		WithIndex(index),
		WithSource(source),
		WithLogger(hclog.NewNullLogger()),
		WithBulkConfig(bulk.Config{Concurrency: 2, WaitTimeout: 10 * time.Millisecond}),
	}, opts...)
	b, err := New(opts...)
	require.NoError(t, err)
	return b
}

func TestNew_Validation(t *testing.T) {
	_, err := New(WithSource(&MockSource{}))
	assert.Error(t, err)

	_, err = New(WithIndex(&MockIndex{}))
	assert.Error(t, err)

	b, err := New(WithIndex(&MockIndex{}), WithSource(&MockSource{}))
	require.NoError(t, err)
	assert.NotNil(t, b.Hooks())
}

func TestBuilder_Build(t *testing.T) {
	index := &MockIndex{}
	mapping := map[string]any{"settings": map[string]any{}}

	var observed *bulk.BulkRequest
	b := newTestBuilder(t, index, &MockSource{rows: 25},
		WithMapping(mapping),
		WithRequestObserver(func(r *bulk.BulkRequest) { observed = r }),
	)

	committed := false
	b.Hooks().Register(xact.Commit, func() { committed = true })

	result, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, result.Rows)
	assert.Equal(t, 25, result.Indexed)
	assert.Equal(t, int64(25), result.Stats.Accepted)
	assert.True(t, committed)
	assert.NotNil(t, observed)
	assert.Equal(t, mapping, index.mapping)

	calls := index.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []string{"delete", "create"}, calls[:2])
	assert.NotContains(t, calls[2:], "delete", "the index is kept on success")

	// Abort hooks were unregistered on success.
	assert.Equal(t, 0, b.Hooks().Fire(xact.Abort))
}

func TestBuilder_BuildThrottled(t *testing.T) {
	index := &MockIndex{}
	b := newTestBuilder(t, index, &MockSource{rows: 5}, WithRowsPerSecond(1000))

	result, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Indexed)
}

func TestBuilder_SourceFailure(t *testing.T) {
	index := &MockIndex{}
	scanErr := errors.New("connection reset")
	b := newTestBuilder(t, index, &MockSource{rows: 10, failAt: 4, failErr: scanErr})

	committed := false
	b.Hooks().Register(xact.Commit, func() { committed = true })

	result, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, scanErr)
	assert.Equal(t, 3, result.Rows)
	assert.False(t, committed)

	calls := index.Calls()
	assert.Equal(t, "delete", calls[len(calls)-1], "the new index is dropped on abort")
}

func TestBuilder_BulkFailure(t *testing.T) {
	index := &MockIndex{bulkErr: &bulk.Error{Op: "Bulk", Err: bulk.ErrIndexing}}
	b := newTestBuilder(t, index, &MockSource{rows: 3})

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bulk.ErrIndexing)

	calls := index.Calls()
	assert.Equal(t, "delete", calls[len(calls)-1])
	assert.NotContains(t, calls, "refresh")
}

func TestBuilder_CreateFailure(t *testing.T) {
	index := &MockIndex{createErr: errors.New("resource_already_exists_exception")}
	b := newTestBuilder(t, index, &MockSource{rows: 3})

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"delete", "create"}, index.Calls())
}

func TestBuilder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	index := &MockIndex{}
	b := newTestBuilder(t, index, &MockSource{rows: 3}, WithRowsPerSecond(1))

	_, err := b.Build(ctx)
	require.Error(t, err)
}
