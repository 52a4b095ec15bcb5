package bulk

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titleDoc(title string) *Document {
	doc := NewDocument(1)
	if err := doc.AddRaw("title", []byte(`"`+title+`"`)); err != nil {
		panic(err)
	}
	return doc
}

// queueOf returns a closed queue holding cmds.
func queueOf(t *testing.T, cmds ...Command) *Queue {
	t.Helper()
	q := NewQueue(len(cmds) + 1)
	for _, cmd := range cmds {
		require.NoError(t, q.Push(cmd, nil))
	}
	q.Close()
	return q
}

func TestEncodeCommand_Insert(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeCommand(&buf, InsertCommand(1, 2, 2, 10, 0, titleDoc("a")))
	require.NoError(t, err)

	assert.Equal(t,
		`{"index":{"_id":1}}`+"\n"+
			`{"title":"a","zdb_ctid":1,"zdb_cmin":2,"zdb_cmax":2,"zdb_xmin":10,"zdb_xmax":0}`+"\n",
		buf.String())
}

func TestEncodeCommand_InsertWithoutDocument(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCommand(&buf, InsertCommand(4294967297, 0, 0, 3, 0, nil)))

	assert.Equal(t,
		`{"index":{"_id":4294967297}}`+"\n"+
			`{"zdb_ctid":4294967297,"zdb_cmin":0,"zdb_cmax":0,"zdb_xmin":3,"zdb_xmax":0}`+"\n",
		buf.String())
}

func TestEncodeCommand_Update(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCommand(&buf, UpdateCommand(5, 3, 42)))

	assert.Equal(t,
		`{"update":{"_id":5,"retry_on_conflict":1}}`+"\n"+
			`{"script":{"source":"ctx._source.zdb_cmax=params.CMAX;ctx._source.zdb_xmax=params.XMAX;","lang":"painless","params":{"CMAX":3,"XMAX":42}}}`+"\n",
		buf.String())
}

func TestEncodeCommand_Unsupported(t *testing.T) {
	tests := []Command{
		DeleteByXminCommand(1, 2),
		DeleteByXmaxCommand(1, 2),
		InterruptCommand(),
		DoneCommand(),
	}

	for _, cmd := range tests {
		t.Run(cmd.Kind.String(), func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeCommand(&buf, cmd)
			assert.ErrorIs(t, err, ErrUnsupportedCommand)
			assert.Contains(t, err.Error(), cmd.Kind.String())
		})
	}
}

func TestEncodeCommand_DocumentNotMutated(t *testing.T) {
	doc := titleDoc("a")
	cmd := InsertCommand(1, 0, 0, 1, 0, doc)

	var first, second bytes.Buffer
	require.NoError(t, EncodeCommand(&first, cmd))
	require.NoError(t, EncodeCommand(&second, cmd))

	assert.Equal(t, first.String(), second.String())
	assert.Equal(t, 1, doc.Len())
}

func TestEncoder_StreamsUntilClosed(t *testing.T) {
	first := InsertCommand(1, 0, 0, 1, 0, titleDoc("a"))
	enc := NewEncoder(EncoderConfig{
		First: &first,
		Queue: queueOf(t,
			InsertCommand(2, 0, 0, 1, 0, titleDoc("b")),
			UpdateCommand(1, 1, 9),
		),
		Flag:        NewFlag(),
		WaitTimeout: 10 * time.Millisecond,
	})

	body, err := io.ReadAll(enc)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, `{"index":{"_id":1}}`, lines[0])
	assert.Equal(t, `{"index":{"_id":2}}`, lines[2])
	assert.Equal(t, `{"update":{"_id":1,"retry_on_conflict":1}}`, lines[4])

	assert.Equal(t, 3, enc.Docs())
	assert.Equal(t, len(body), enc.Bytes())
	assert.Equal(t, len(body), enc.Written())
	assert.Nil(t, enc.Carry())
}

func TestEncoder_MaxDocs(t *testing.T) {
	q := queueOf(t,
		UpdateCommand(1, 0, 1),
		UpdateCommand(2, 0, 1),
		UpdateCommand(3, 0, 1),
		UpdateCommand(4, 0, 1),
	)
	enc := NewEncoder(EncoderConfig{Queue: q, Flag: NewFlag(), MaxDocs: 3})

	body, err := io.ReadAll(enc)
	require.NoError(t, err)
	assert.Equal(t, 3, docsIn(body))
	assert.Equal(t, 3, enc.Docs())
	assert.Equal(t, 1, q.Len())
}

func TestEncoder_MaxBytesCarry(t *testing.T) {
	cmds := []Command{
		InsertCommand(1, 0, 0, 1, 0, titleDoc("a")),
		InsertCommand(2, 0, 0, 1, 0, titleDoc("b")),
		InsertCommand(3, 0, 0, 1, 0, titleDoc("c")),
	}

	var one bytes.Buffer
	require.NoError(t, EncodeCommand(&one, cmds[0]))
	limit := 2*one.Len() + 1

	q := queueOf(t, cmds...)
	enc := NewEncoder(EncoderConfig{Queue: q, Flag: NewFlag(), MaxBytes: limit})
	body, err := io.ReadAll(enc)
	require.NoError(t, err)

	assert.Equal(t, 2, enc.Docs())
	assert.LessOrEqual(t, len(body), limit)

	carry := enc.Carry()
	require.NotNil(t, carry)
	assert.Equal(t, uint64(3), carry.RowID)
	assert.Nil(t, enc.Carry(), "carry is handed out once")

	// The carry seeds the next batch.
	next := NewEncoder(EncoderConfig{First: carry, Queue: q, Flag: NewFlag(), MaxBytes: limit})
	body, err = io.ReadAll(next)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Docs())
	assert.Contains(t, string(body), `{"index":{"_id":3}}`)
}

func TestEncoder_OversizedSingleCommand(t *testing.T) {
	first := InsertCommand(1, 0, 0, 1, 0, titleDoc(strings.Repeat("x", 256)))
	q := queueOf(t, InsertCommand(2, 0, 0, 1, 0, titleDoc("b")))

	enc := NewEncoder(EncoderConfig{First: &first, Queue: q, Flag: NewFlag(), MaxBytes: 64})
	_, err := io.ReadAll(enc)
	require.NoError(t, err)

	assert.Equal(t, 1, enc.Docs())
	assert.Greater(t, enc.Bytes(), 64)

	// Already over the cap, the next command is not even pulled.
	assert.Equal(t, 1, q.Len())
	assert.Nil(t, enc.Carry())
}

func TestEncoder_TimeoutReturnsNothing(t *testing.T) {
	q := NewQueue(1)
	enc := NewEncoder(EncoderConfig{Queue: q, Flag: NewFlag(), WaitTimeout: 5 * time.Millisecond})

	p := make([]byte, 64)
	n, err := enc.Read(p)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, q.Push(UpdateCommand(1, 0, 1), nil))
	n, err = enc.Read(p)
	assert.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestEncoder_Interrupted(t *testing.T) {
	flag := NewFlag()
	first := UpdateCommand(1, 0, 1)
	enc := NewEncoder(EncoderConfig{First: &first, Queue: NewQueue(1), Flag: flag, WaitTimeout: time.Minute})

	p := make([]byte, 8)
	n, err := enc.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	flag.Set()
	_, err = enc.Read(p)
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestEncoder_InterruptedWhileWaiting(t *testing.T) {
	flag := NewFlag()
	enc := NewEncoder(EncoderConfig{Queue: NewQueue(1), Flag: flag, WaitTimeout: time.Minute})

	go func() {
		time.Sleep(10 * time.Millisecond)
		flag.Set()
	}()

	_, err := enc.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestEncoder_Unsupported(t *testing.T) {
	first := DeleteByXmaxCommand(1, 2)
	enc := NewEncoder(EncoderConfig{First: &first, Queue: queueOf(t), Flag: NewFlag()})

	_, err := io.ReadAll(enc)
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
	assert.ErrorIs(t, enc.Err(), ErrUnsupportedCommand)
	assert.Equal(t, 0, enc.Docs())
}

func TestEncoder_Sealed(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(UpdateCommand(1, 0, 1), nil))

	enc := NewEncoder(EncoderConfig{Queue: q, Flag: NewFlag()})
	enc.Seal()

	n, err := enc.Read(make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, q.Len(), "a sealed encoder never pulls")
}
