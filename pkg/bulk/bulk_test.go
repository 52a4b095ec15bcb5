package bulk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// fakeIndexer records every bulk call it receives. The body is read to the
// end before the call returns, the way an HTTP client would.
type fakeIndexer struct {
	mu              sync.Mutex
	batches         [][]byte
	inlineRefreshes int

	refreshes  atomic.Int64
	calls      atomic.Int64
	concurrent atomic.Int64
	peak       atomic.Int64

	// fail, when set, decides the outcome of call n (1-based) after the
	// body was consumed.
	fail func(n int64, body []byte) error

	refreshErr error
	onBulk     func(n int64)
	delay      time.Duration
}

func (f *fakeIndexer) Bulk(ctx context.Context, body io.Reader, refresh bool) error {
	n := f.calls.Add(1)

	cur := f.concurrent.Add(1)
	defer f.concurrent.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if f.onBulk != nil {
		f.onBulk(n)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return &Error{Op: "Bulk", Err: ErrTransport, Msg: fmt.Sprintf("failed to send body: %v", err)}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.batches = append(f.batches, data)
	if refresh {
		f.inlineRefreshes++
	}
	f.mu.Unlock()

	if f.fail != nil {
		return f.fail(n, data)
	}
	return nil
}

func (f *fakeIndexer) Refresh(ctx context.Context) error {
	f.refreshes.Add(1)
	return f.refreshErr
}

func (f *fakeIndexer) Batches() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.batches))
	copy(out, f.batches)
	return out
}

// docsIn counts the commands in a bulk body. Every command is two lines.
func docsIn(body []byte) int {
	return bytes.Count(body, []byte("\n")) / 2
}

func testDoc(i int) *Document {
	doc := NewDocument(2)
	_ = doc.Add("id", i)
	_ = doc.Add("title", fmt.Sprintf("row %d", i))
	return doc
}
