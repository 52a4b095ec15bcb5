package bulk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "insert", KindInsert.String())
	assert.Equal(t, "update", KindUpdate.String())
	assert.Equal(t, "delete_by_xmin", KindDeleteByXmin.String())
	assert.Equal(t, "delete_by_xmax", KindDeleteByXmax.String())
	assert.Equal(t, "interrupt", KindInterrupt.String())
	assert.Equal(t, "done", KindDone.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestDocumentFromJSON(t *testing.T) {
	doc, err := DocumentFromJSON([]byte(`{"title": "Hello", "id": 7, "tags": ["a",
		"b"]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Len())

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"id":7,"tags":["a","b"],"title":"Hello"}`, string(out))
}

func TestDocumentFromJSON_NotAnObject(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `"text"`, `null`, `{`} {
		_, err := DocumentFromJSON([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestDocument_Add(t *testing.T) {
	doc := NewDocument(2)
	require.NoError(t, doc.Add("name", "widget"))
	require.NoError(t, doc.Add("count", 3))
	require.NoError(t, doc.AddRaw("empty", nil))

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"name":"widget","count":3,"empty":null}`, string(out))

	assert.Error(t, doc.Add("bad", make(chan int)))
}

func TestDocument_AddRawCompacts(t *testing.T) {
	doc := NewDocument(1)
	require.NoError(t, doc.AddRaw("tags", []byte("[\n  \"a\",\n  \"b\"\n]")))

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"tags":["a","b"]}`, string(out))
}

func TestDocument_AddRawRejectsInvalidJSON(t *testing.T) {
	doc := NewDocument(1)
	err := doc.AddRaw("title", []byte("\"broken\nline"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `"title"`)
	assert.Equal(t, 0, doc.Len())
}

func TestDocument_NilLen(t *testing.T) {
	var doc *Document
	assert.Equal(t, 0, doc.Len())
}
