package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the mutation a Command describes.
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindDeleteByXmin
	KindDeleteByXmax
	KindInterrupt
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDeleteByXmin:
		return "delete_by_xmin"
	case KindDeleteByXmax:
		return "delete_by_xmax"
	case KindInterrupt:
		return "interrupt"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one mutation to apply to the index. Which fields are
// meaningful depends on Kind.
type Command struct {
	Kind     Kind
	RowID    uint64
	Cmin     uint32
	Cmax     uint32
	Xmin     uint64
	Xmax     uint64
	Document *Document
}

// InsertCommand indexes doc under rowID with its full set of version stamps.
func InsertCommand(rowID uint64, cmin, cmax uint32, xmin, xmax uint64, doc *Document) Command {
	return Command{Kind: KindInsert, RowID: rowID, Cmin: cmin, Cmax: cmax, Xmin: xmin, Xmax: xmax, Document: doc}
}

// UpdateCommand revises the end-of-life stamps of an existing document.
func UpdateCommand(rowID uint64, cmax uint32, xmax uint64) Command {
	return Command{Kind: KindUpdate, RowID: rowID, Cmax: cmax, Xmax: xmax}
}

// DeleteByXminCommand deletes rowID only if it was created by xmin.
func DeleteByXminCommand(rowID, xmin uint64) Command {
	return Command{Kind: KindDeleteByXmin, RowID: rowID, Xmin: xmin}
}

// DeleteByXmaxCommand deletes rowID only if it was superseded by xmax.
func DeleteByXmaxCommand(rowID, xmax uint64) Command {
	return Command{Kind: KindDeleteByXmax, RowID: rowID, Xmax: xmax}
}

// InterruptCommand and DoneCommand are reserved control commands.
func InterruptCommand() Command { return Command{Kind: KindInterrupt} }

func DoneCommand() Command { return Command{Kind: KindDone} }

type field struct {
	key   string
	value json.RawMessage
}

// Document is an ordered set of JSON fields making up one index document.
// It is owned by the command carrying it and is never mutated by the
// encoder, so the same command can be serialized more than once.
type Document struct {
	fields []field
}

// NewDocument returns an empty document with room for capacity fields.
func NewDocument(capacity int) *Document {
	return &Document{fields: make([]field, 0, capacity)}
}

// DocumentFromJSON builds a document from a JSON object. Fields are kept
// as raw JSON and ordered by key.
func DocumentFromJSON(raw []byte) (*Document, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("document must be a JSON object")
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := NewDocument(len(keys))
	for _, k := range keys {
		if err := doc.AddRaw(k, obj[k]); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Add marshals value and appends it under key.
func (d *Document) Add(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field %q: %w", key, err)
	}
	d.fields = append(d.fields, field{key: key, value: raw})
	return nil
}

// AddRaw appends an already-encoded JSON value under key. The value is
// compacted so that the document stays on a single bulk line; invalid JSON
// is rejected. An empty value is written as null.
func (d *Document) AddRaw(key string, raw json.RawMessage) error {
	if len(raw) == 0 {
		d.fields = append(d.fields, field{key: key})
		return nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return fmt.Errorf("invalid JSON for field %q: %w", key, err)
	}
	d.fields = append(d.fields, field{key: key, value: compact.Bytes()})
	return nil
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// appendJSON writes the document followed by extra as one JSON object.
func (d *Document) appendJSON(buf *bytes.Buffer, extra ...field) error {
	buf.WriteByte('{')
	n := 0
	write := func(f field) error {
		if n > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(f.value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(f.value)
		}
		n++
		return nil
	}

	if d != nil {
		for _, f := range d.fields {
			if err := write(f); err != nil {
				return err
			}
		}
	}
	for _, f := range extra {
		if err := write(f); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
