package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCTID(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
	}{
		{input: "(0,1)", expected: 1},
		{input: "(1,1)", expected: 1<<32 | 1},
		{input: "(12,3)", expected: 12<<32 | 3},
		{input: "(4294967295,65535)", expected: 4294967295<<32 | 65535},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCTID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseCTID_Invalid(t *testing.T) {
	for _, input := range []string{"", "0,1", "(0,1", "(0;1)", "(a,1)", "(0,b)", "(4294967296,1)", "(0,65536)", "(-1,1)"} {
		_, err := ParseCTID(input)
		assert.Error(t, err, input)
	}
}

func TestParseTable(t *testing.T) {
	id, err := ParseTable("products")
	require.NoError(t, err)
	assert.Equal(t, pgx.Identifier{"products"}, id)

	id, err = ParseTable("catalog.products")
	require.NoError(t, err)
	assert.Equal(t, pgx.Identifier{"catalog", "products"}, id)

	for _, name := range []string{"", "  ", "a.b.c", ".products", "catalog."} {
		_, err := ParseTable(name)
		assert.Error(t, err, name)
	}
}

func TestScanQuery(t *testing.T) {
	assert.Equal(t,
		`SELECT ctid::text, xmin::text::bigint, cmin::text::bigint, row_to_json(t)::text FROM "catalog"."Products" t`,
		ScanQuery(pgx.Identifier{"catalog", "Products"}))

	// Identifiers are quoted, never interpolated.
	assert.Contains(t, ScanQuery(pgx.Identifier{`x"; DROP TABLE y; --`}), `"x""; DROP TABLE y; --"`)
}

func TestConnect_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Connect(ctx, Config{Table: "products"})
	assert.Error(t, err)

	_, err = Connect(ctx, Config{URL: "postgres://localhost/db"})
	assert.Error(t, err)

	_, err = Connect(ctx, Config{URL: "postgres://esbulk@localhost:badport/db", Table: "products"})
	assert.Error(t, err)
}
