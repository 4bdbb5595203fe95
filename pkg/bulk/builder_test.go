package bulk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, payload string) []any {
	t.Helper()
	items, err := DecodeItems([]byte(payload))
	require.NoError(t, err)
	return items
}

func TestBuild_MappedColumnsFillMissingWithNull(t *testing.T) {
	items := mustDecode(t, `[{"a":1,"b":2},{"b":3}]`)

	req := Build("t", items, true)

	require.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?) ON CONFLICT DO NOTHING;", req.Stmt)
	out, err := json.Marshal(req.BulkArgs)
	require.NoError(t, err)
	require.JSONEq(t, `[[1,2],[null,3]]`, string(out))
	require.Len(t, req.BulkArgs[1], 2)
	assert.Nil(t, req.BulkArgs[1][0])
}

func TestBuild_PayloadColumn(t *testing.T) {
	req := Build("t", []any{5, "x"}, false)

	require.Equal(t, "INSERT INTO t (payload) VALUES (?) ON CONFLICT DO NOTHING;", req.Stmt)
	require.Equal(t, [][]any{{5}, {"x"}}, req.BulkArgs)
}

func TestBuild_EmptyBatch(t *testing.T) {
	req := Build("t", nil, true)

	require.Equal(t, "INSERT INTO t () VALUES () ON CONFLICT DO NOTHING;", req.Stmt)
	require.NotNil(t, req.BulkArgs)
	require.Empty(t, req.BulkArgs)

	out, err := json.Marshal(req)
	require.NoError(t, err)
	require.JSONEq(t, `{"stmt":"INSERT INTO t () VALUES () ON CONFLICT DO NOTHING;","bulk_args":[]}`, string(out))
}

func TestBuild_LateColumnBackfillsEarlierRows(t *testing.T) {
	items := mustDecode(t, `[{"id":1},{"id":2},{"id":3,"note":"late"}]`)

	req := Build("doc.events", items, true)

	require.Equal(t, "INSERT INTO doc.events (id, note) VALUES (?, ?) ON CONFLICT DO NOTHING;", req.Stmt)
	for i, row := range req.BulkArgs {
		require.Len(t, row, 2, "row %d", i)
	}
	assert.Nil(t, req.BulkArgs[0][1])
	assert.Nil(t, req.BulkArgs[1][1])
	assert.Equal(t, "late", req.BulkArgs[2][1])
}

func TestBuild_DuplicateKeysDoNotDuplicateColumns(t *testing.T) {
	items := mustDecode(t, `[{"x":1,"y":2},{"y":3,"x":4},{"z":5,"x":6}]`)

	req := Build("t", items, true)

	require.Equal(t, "INSERT INTO t (x, y, z) VALUES (?, ?, ?) ON CONFLICT DO NOTHING;", req.Stmt)
	out, err := json.Marshal(req.BulkArgs)
	require.NoError(t, err)
	require.JSONEq(t, `[[1,2,null],[4,3,null],[6,null,5]]`, string(out))
}

func TestBuild_ExplicitNullIsKept(t *testing.T) {
	items := mustDecode(t, `[{"a":null,"b":"v"}]`)

	req := Build("t", items, true)

	require.Equal(t, [][]any{{nil, "v"}}, req.BulkArgs)
}

func TestBuild_RowCountAndWidth(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		mapColumns bool
		width      int
	}{
		{"mapped heterogeneous", `[{"a":1},{"b":2},{"c":3,"a":4}]`, true, 3},
		{"unmapped objects", `[{"a":1},{"b":2}]`, false, 1},
		{"unmapped scalars", `[1,true,null,"s"]`, false, 1},
		{"single object", `{"k":"v","n":1}`, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := mustDecode(t, tt.payload)
			req := Build("t", items, tt.mapColumns)

			require.Len(t, req.BulkArgs, len(items))
			for _, row := range req.BulkArgs {
				require.Len(t, row, tt.width)
			}
		})
	}
}

func TestBuild_Idempotent(t *testing.T) {
	items := mustDecode(t, `[{"b":1,"a":{"nested":true}},{"c":[1,2],"a":2.50}]`)

	first, err := json.Marshal(Build("t", items, true))
	require.NoError(t, err)
	second, err := json.Marshal(Build("t", items, true))
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
	require.Contains(t, string(first), `2.50`)
}

func TestBuild_UnmappedRecordKeepsKeyOrder(t *testing.T) {
	items := mustDecode(t, `[{"z":1,"a":2}]`)

	req := Build("t", items, false)

	out, err := json.Marshal(req.BulkArgs)
	require.NoError(t, err)
	require.Equal(t, `[[{"z":1,"a":2}]]`, string(out))
}

func TestBuild_PlainMapsUseSortedKeys(t *testing.T) {
	items := []any{
		map[string]any{"b": 1, "a": 2},
		map[string]any{"c": 3},
	}

	req := Build("t", items, true)

	require.Equal(t, "INSERT INTO t (a, b, c) VALUES (?, ?, ?) ON CONFLICT DO NOTHING;", req.Stmt)
	require.Equal(t, [][]any{{2, 1, nil}, {nil, nil, 3}}, req.BulkArgs)
}

func TestBuild_NonMappingItemsYieldNullRows(t *testing.T) {
	items := []any{NewRecord("a", 1), 42}

	req := Build("t", items, true)

	require.Equal(t, "INSERT INTO t (a) VALUES (?) ON CONFLICT DO NOTHING;", req.Stmt)
	require.Equal(t, [][]any{{1}, {nil}}, req.BulkArgs)
}

func TestColumns(t *testing.T) {
	items := []any{NewRecord("a", 1, "b", 2), NewRecord("c", 3, "a", 4)}
	require.Equal(t, []string{"a", "b", "c"}, Columns(items))
	require.Empty(t, Columns(nil))
}
