package edn

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk-forks/datalevin/datalevin"
)

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		input string
		typ   NodeType
		value string
	}{
		{"nil", NodeNil, ""},
		{"true", NodeBool, "true"},
		{"false", NodeBool, "false"},
		{"42", NodeInt, "42"},
		{"-17", NodeInt, "-17"},
		{"3.14", NodeFloat, "3.14"},
		{"1e10", NodeFloat, "1e10"},
		{`"hello"`, NodeString, "hello"},
		{":user/name", NodeKeyword, ":user/name"},
		{"?x", NodeSymbol, "?x"},
		{"_", NodeSymbol, "_"},
		{"or-join", NodeSymbol, "or-join"},
	}
	for _, tc := range tests {
		n, err := Parse(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.typ, n.Type, tc.input)
		if tc.value != "" {
			assert.Equal(t, tc.value, n.Value, tc.input)
		}
	}
}

func TestParseCollections(t *testing.T) {
	n, err := Parse(`[:find ?e :where [?e :name "Ivan"]]`)
	require.NoError(t, err)
	assert.Equal(t, NodeVector, n.Type)
	assert.Len(t, n.Nodes, 4)
	assert.Equal(t, NodeKeyword, n.Nodes[0].Type)

	n, err = Parse(`{:a 1, :b [2 3]}`)
	require.NoError(t, err)
	assert.Equal(t, NodeMap, n.Type)
	assert.Len(t, n.Nodes, 4)

	n, err = Parse(`#{1 2 3}`)
	require.NoError(t, err)
	assert.Equal(t, NodeSet, n.Type)
	assert.Len(t, n.Nodes, 3)

	n, err = Parse(`(or [?e :age 10] [?e :age 20])`)
	require.NoError(t, err)
	assert.Equal(t, NodeList, n.Type)
	assert.Len(t, n.Nodes, 3)
}

func TestParseStringEscapes(t *testing.T) {
	n, err := Parse(`"a\nb\t\"c\""`)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\t\"c\"", n.Value)
}

func TestParseCommentsAndDiscard(t *testing.T) {
	nodes, err := ParseAll("; a comment\n1 #_ 2 3")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "1", nodes[0].Value)
	assert.Equal(t, "3", nodes[1].Value)
}

func TestParseErrors(t *testing.T) {
	for _, bad := range []string{"[1 2", `"unterminated`, "{:a}", "(1 2"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestToValue(t *testing.T) {
	n, err := Parse(`["s" 1 2.5 true :kw sym [1 2] nil]`)
	require.NoError(t, err)
	v, err := ToValue(*n)
	require.NoError(t, err)
	tup, ok := v.(datalevin.Tuple)
	require.True(t, ok)
	assert.Equal(t, "s", tup[0])
	assert.Equal(t, int64(1), tup[1])
	assert.Equal(t, 2.5, tup[2])
	assert.Equal(t, true, tup[3])
	assert.Equal(t, datalevin.NewKeyword(":kw"), tup[4])
	assert.Equal(t, datalevin.Symbol("sym"), tup[5])
	assert.IsType(t, datalevin.Tuple{}, tup[6])
	assert.Nil(t, tup[7])
}

func TestTaggedLiterals(t *testing.T) {
	n, err := Parse(`#uuid "f47ac10b-58cc-4372-a567-0e02b2c3d479"`)
	require.NoError(t, err)
	v, err := ToValue(*n)
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479"), v)

	n, err = Parse(`#inst "2020-03-01T10:20:30Z"`)
	require.NoError(t, err)
	v, err = ToValue(*n)
	require.NoError(t, err)
	want := time.Date(2020, 3, 1, 10, 20, 30, 0, time.UTC)
	assert.True(t, want.Equal(v.(time.Time)))
}

func TestNodeString(t *testing.T) {
	n, err := Parse(`[:find ?e :where [?e :name "Ivan"]]`)
	require.NoError(t, err)
	assert.Equal(t, `[:find ?e :where [?e :name "Ivan"]]`, n.String())
}
