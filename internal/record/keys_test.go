package record

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, v any) []byte {
	t.Helper()
	b, err := EncodeKey(v)
	require.NoError(t, err)
	return b
}

func TestEncodeKey_Ordering(t *testing.T) {
	// Ascending, per IndexedDB: numbers < strings < arrays.
	ordered := []any{
		-1e9,
		-1.5,
		-1,
		0,
		json.Number("0.5"),
		1,
		int64(2),
		uint8(3),
		1e12,
		"",
		"a",
		"a\x00",
		"ab",
		"b",
		"é",
		[]any{},
		[]any{1},
		[]any{1, "a"},
		[]any{2},
		[]any{"a"},
	}
	for i := 1; i < len(ordered); i++ {
		prev := mustKey(t, ordered[i-1])
		cur := mustKey(t, ordered[i])
		assert.Equal(t, -1, bytes.Compare(prev, cur), "expected %#v < %#v", ordered[i-1], ordered[i])
	}
}

func TestEncodeKey_NumbersAreTypeIndependent(t *testing.T) {
	assert.Equal(t, mustKey(t, 7), mustKey(t, int64(7)))
	assert.Equal(t, mustKey(t, 7), mustKey(t, json.Number("7")))
	assert.Equal(t, mustKey(t, 7), mustKey(t, 7.0))
	assert.Equal(t, mustKey(t, 0.0), mustKey(t, -0.0))
}

func TestEncodeKey_NFCNormalizesStrings(t *testing.T) {
	composed := "\u00e9"
	decomposed := "e\u0301"
	assert.Equal(t, mustKey(t, composed), mustKey(t, decomposed))
}

func TestEncodeKey_SelfTerminating(t *testing.T) {
	a := mustKey(t, "a")
	ab := mustKey(t, "ab")
	assert.False(t, bytes.HasPrefix(ab, a))

	one := mustKey(t, []any{1})
	oneTwo := mustKey(t, []any{1, 2})
	assert.False(t, bytes.HasPrefix(oneTwo, one))
}

func TestEncodeKey_RejectsInvalid(t *testing.T) {
	for _, v := range []any{
		nil, true, map[string]any{"a": 1}, []any{1, nil}, json.Number("x"),
		json.Number("9007199254740993"), json.Number("-9007199254740993"),
		json.Number("0.10000000000000000001"), json.Number("1e-400"),
		[]any{"a", json.Number("18446744073709551615")},
		int64(9007199254740993), uint64(1<<64 - 1), int64(1<<63 - 1),
	} {
		_, err := EncodeKey(v)
		assert.Error(t, err, "%#v", v)
		assert.False(t, ValidKey(v))
	}
}

func TestEncodeKey_ExactNumbers(t *testing.T) {
	for _, v := range []any{
		json.Number("9007199254740992"), json.Number("9007199254740994"),
		json.Number("0.1"), json.Number("1e2"), json.Number("1.50"), json.Number("-0"),
		int64(9007199254740992), uint64(1 << 63), int64(-1 << 63),
	} {
		assert.True(t, ValidKey(v), "%#v", v)
	}
	assert.Equal(t, mustKey(t, json.Number("100")), mustKey(t, json.Number("1e2")))
	assert.NotEqual(t, mustKey(t, json.Number("9007199254740992")), mustKey(t, json.Number("9007199254740994")))
}

func TestKeyValue(t *testing.T) {
	assert.Equal(t, int64(3), KeyValue(json.Number("3")))
	assert.Equal(t, 2.5, KeyValue(json.Number("2.5")))
	assert.Equal(t, "p1", KeyValue("p1"))
}
