package bulk

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Field names of the version stamps recorded on every indexed document.
const (
	FieldCtid = "zdb_ctid"
	FieldCmin = "zdb_cmin"
	FieldCmax = "zdb_cmax"
	FieldXmin = "zdb_xmin"
	FieldXmax = "zdb_xmax"
)

const (
	updateScriptSource = "ctx._source.zdb_cmax=params.CMAX;ctx._source.zdb_xmax=params.XMAX;"
	updateScriptLang   = "painless"
	retryOnConflict    = 1
)

type actionMeta struct {
	ID              uint64 `json:"_id"`
	RetryOnConflict int    `json:"retry_on_conflict,omitempty"`
}

type actionLine struct {
	Index  *actionMeta `json:"index,omitempty"`
	Update *actionMeta `json:"update,omitempty"`
}

type scriptParams struct {
	Cmax uint32 `json:"CMAX"`
	Xmax uint64 `json:"XMAX"`
}

type script struct {
	Source string       `json:"source"`
	Lang   string       `json:"lang"`
	Params scriptParams `json:"params"`
}

type scriptLine struct {
	Script script `json:"script"`
}

// EncoderConfig configures one batch.
type EncoderConfig struct {
	// First is consumed before anything is pulled from Queue.
	First *Command

	Queue *Queue
	Flag  *Flag

	// Caps of one batch. Zero or negative means unbounded.
	MaxDocs  int
	MaxBytes int

	// WaitTimeout bounds a single wait on an empty queue.
	WaitTimeout time.Duration

	// InFlight is incremented for every command accepted into the batch.
	InFlight *atomic.Int64
}

// Encoder serializes a bounded run of commands into the newline-delimited
// bulk format. It is an io.Reader meant to be used directly as a streaming
// HTTP request body: commands are pulled from the queue only as the client
// asks for more bytes, so a batch is never held in memory as a whole.
//
// A command whose encoding would push the batch past MaxBytes is not
// accepted. It is kept as the carry and must seed the next batch.
type Encoder struct {
	cfg EncoderConfig

	mu      sync.Mutex
	first   *Command
	carry   *Command
	buf     bytes.Buffer
	scratch bytes.Buffer
	full    bool
	sealed  bool
	err     error

	docs    atomic.Int64
	size    atomic.Int64
	written atomic.Int64
}

// NewEncoder returns an encoder for one batch.
func NewEncoder(cfg EncoderConfig) *Encoder {
	if cfg.InFlight == nil {
		cfg.InFlight = new(atomic.Int64)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	return &Encoder{cfg: cfg, first: cfg.First}
}

// Read implements io.Reader.
//
// It fails with ErrInterrupted as soon as the termination flag is set,
// which aborts the HTTP send. When the queue stays empty for WaitTimeout it
// returns (0, nil) so the caller polls again instead of blocking forever.
// It returns io.EOF once the queue is closed or a cap is reached and all
// encoded bytes were handed out.
func (e *Encoder) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Flag != nil && e.cfg.Flag.IsSet() {
		return 0, ErrInterrupted
	}
	if e.err != nil {
		return 0, e.err
	}
	if e.sealed {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if e.first != nil {
		cmd := *e.first
		e.first = nil
		if err := e.accept(cmd); err != nil {
			e.err = err
			return 0, err
		}
	}

	if e.buf.Len() == 0 && !e.full {
		if e.atCapacity() {
			e.full = true
		} else {
			var stop <-chan struct{}
			if e.cfg.Flag != nil {
				stop = e.cfg.Flag.Done()
			}

			cmd, res := e.cfg.Queue.Pop(e.cfg.WaitTimeout, stop)
			switch res {
			case Received:
				if err := e.accept(cmd); err != nil {
					e.err = err
					return 0, err
				}
			case TimedOut:
				return 0, nil
			case Closed:
				e.full = true
			case Stopped:
				return 0, ErrInterrupted
			}
		}
	}

	if e.buf.Len() == 0 {
		if e.full {
			return 0, io.EOF
		}
		return 0, nil
	}

	n, _ := e.buf.Read(p)
	e.written.Add(int64(n))
	return n, nil
}

func (e *Encoder) atCapacity() bool {
	if e.cfg.MaxDocs > 0 && e.docs.Load() >= int64(e.cfg.MaxDocs) {
		return true
	}
	if e.cfg.MaxBytes > 0 && e.size.Load() >= int64(e.cfg.MaxBytes) {
		return true
	}
	return false
}

// accept encodes cmd into the batch, or sets it aside as the carry when it
// would overflow the byte cap of a non-empty batch.
func (e *Encoder) accept(cmd Command) error {
	e.scratch.Reset()
	if err := EncodeCommand(&e.scratch, cmd); err != nil {
		return err
	}

	n := int64(e.scratch.Len())
	if e.cfg.MaxBytes > 0 && e.docs.Load() > 0 && e.size.Load()+n > int64(e.cfg.MaxBytes) {
		e.carry = &cmd
		e.full = true
		return nil
	}

	e.buf.Write(e.scratch.Bytes())
	e.docs.Add(1)
	e.size.Add(n)
	e.cfg.InFlight.Add(1)
	return nil
}

// Seal ends the batch. Later reads return io.EOF without touching the
// queue. It is called once the HTTP call for this batch has returned.
func (e *Encoder) Seal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sealed = true
}

// Docs returns the number of commands accepted into the batch.
func (e *Encoder) Docs() int {
	return int(e.docs.Load())
}

// Bytes returns the encoded size of the accepted commands.
func (e *Encoder) Bytes() int {
	return int(e.size.Load())
}

// Written returns the number of bytes handed out through Read.
func (e *Encoder) Written() int {
	return int(e.written.Load())
}

// Err returns the encoding error that failed the batch, if any.
func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Carry returns and clears the command held back for the next batch.
func (e *Encoder) Carry() *Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.carry
	e.carry = nil
	return c
}

// EncodeCommand writes the two bulk lines for cmd to buf.
func EncodeCommand(buf *bytes.Buffer, cmd Command) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	switch cmd.Kind {
	case KindInsert:
		if err := enc.Encode(actionLine{Index: &actionMeta{ID: cmd.RowID}}); err != nil {
			return &Error{Op: "Encode", Err: err, Msg: "failed to encode index line"}
		}
		err := cmd.Document.appendJSON(buf,
			field{key: FieldCtid, value: strconv.AppendUint(nil, cmd.RowID, 10)},
			field{key: FieldCmin, value: strconv.AppendUint(nil, uint64(cmd.Cmin), 10)},
			field{key: FieldCmax, value: strconv.AppendUint(nil, uint64(cmd.Cmax), 10)},
			field{key: FieldXmin, value: strconv.AppendUint(nil, cmd.Xmin, 10)},
			field{key: FieldXmax, value: strconv.AppendUint(nil, cmd.Xmax, 10)},
		)
		if err != nil {
			return &Error{Op: "Encode", Err: err, Msg: "failed to encode document"}
		}
		buf.WriteByte('\n')
		return nil

	case KindUpdate:
		if err := enc.Encode(actionLine{Update: &actionMeta{ID: cmd.RowID, RetryOnConflict: retryOnConflict}}); err != nil {
			return &Error{Op: "Encode", Err: err, Msg: "failed to encode update line"}
		}
		line := scriptLine{Script: script{
			Source: updateScriptSource,
			Lang:   updateScriptLang,
			Params: scriptParams{Cmax: cmd.Cmax, Xmax: cmd.Xmax},
		}}
		if err := enc.Encode(line); err != nil {
			return &Error{Op: "Encode", Err: err, Msg: "failed to encode update script"}
		}
		return nil

	default:
		return &Error{Op: "Encode", Err: ErrUnsupportedCommand, Msg: cmd.Kind.String()}
	}
}
