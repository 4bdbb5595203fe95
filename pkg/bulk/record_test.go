package bulk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecord_PreservesDocumentOrder(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":1,"alpha":"a","mid":null}`), &rec))

	require.Equal(t, []string{"zeta", "alpha", "mid"}, rec.Keys())

	v, ok := rec.Get("mid")
	require.True(t, ok)
	require.Nil(t, v)

	_, ok = rec.Get("missing")
	require.False(t, ok)

	out, err := json.Marshal(&rec)
	require.NoError(t, err)
	require.Equal(t, `{"zeta":1,"alpha":"a","mid":null}`, string(out))
}

func TestRecord_SetKeepsPosition(t *testing.T) {
	rec := NewRecord("a", 1, "b", 2)
	rec.Set("a", 3)
	rec.Set("c", 4)

	require.Equal(t, []string{"a", "b", "c"}, rec.Keys())
	require.Equal(t, map[string]any{"a": 3, "b": 2, "c": 4}, rec.Map())
}

func TestRecord_RejectsNonObject(t *testing.T) {
	var rec Record
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &rec))
}

func TestNewRecord_PanicsOnOddArgs(t *testing.T) {
	require.Panics(t, func() { NewRecord("a") })
	require.Panics(t, func() { NewRecord(1, 2) })
}

func TestDecodeItems(t *testing.T) {
	items, err := DecodeItems([]byte(` [{"a":1}, 2, "s", [1], null] `))
	require.NoError(t, err)
	require.Len(t, items, 5)

	rec, ok := items[0].(*Record)
	require.True(t, ok)
	v, _ := rec.Get("a")
	require.Equal(t, json.Number("1"), v)

	require.Equal(t, json.Number("2"), items[1])
	require.Equal(t, "s", items[2])
	require.Equal(t, []any{json.Number("1")}, items[3])
	require.Nil(t, items[4])
}

func TestDecodeItems_SingleValueBecomesBatchOfOne(t *testing.T) {
	items, err := DecodeItems([]byte(`{"a":1}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.IsType(t, &Record{}, items[0])

	items, err = DecodeItems([]byte(`7`))
	require.NoError(t, err)
	require.Equal(t, []any{json.Number("7")}, items)
}

func TestDecodeItems_Errors(t *testing.T) {
	_, err := DecodeItems([]byte("   "))
	require.Error(t, err)

	_, err = DecodeItems([]byte(`[{"a":1},`))
	require.Error(t, err)

	for _, in := range []string{
		`{"a":1}{"b":2}`,
		`{"a":1} junk`,
		`{"a":1}
{"b":2}`,
		`5 6`,
		`"x" "y"`,
		`[{"a":1}] [2]`,
	} {
		_, err := DecodeItems([]byte(in))
		require.Error(t, err, in)
	}
}

func TestDecodeItem_RejectsTrailingData(t *testing.T) {
	_, err := DecodeItem([]byte(`{"a":1}{"b":2}`))
	require.ErrorContains(t, err, "unexpected data after JSON value")

	_, err = DecodeItem([]byte(`true false`))
	require.ErrorContains(t, err, "unexpected data after JSON value")

	var rec Record
	require.Error(t, rec.UnmarshalJSON([]byte(`{"a":1} x`)))

	item, err := DecodeItem([]byte("  {\"a\":1}\n  "))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, item.(*Record).Keys())
}
