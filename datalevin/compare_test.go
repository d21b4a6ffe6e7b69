package datalevin

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCompareValuesSameType(t *testing.T) {
	tests := []struct {
		name  string
		left  Value
		right Value
		want  int
	}{
		{"long lt", int64(1), int64(2), -1},
		{"long eq", int64(5), int64(5), 0},
		{"long neg", int64(-3), int64(2), -1},
		{"double", 1.5, 2.5, -1},
		{"string", "abc", "abd", -1},
		{"bool", false, true, -1},
		{"keyword", NewKeyword(":a/b"), NewKeyword(":a/c"), -1},
		{"symbol", Symbol("x"), Symbol("y"), -1},
		{"ref", EID(7), EID(9), -1},
		{"bytes", []byte{1, 2}, []byte{1, 3}, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CompareValues(tc.left, tc.right))
			assert.Equal(t, -tc.want, CompareValues(tc.right, tc.left))
		})
	}
}

func TestCompareValuesNilLowest(t *testing.T) {
	for _, v := range []Value{int64(0), "", false, -1.0, NewKeyword(":a")} {
		assert.Equal(t, -1, CompareValues(nil, v), "nil should sort below %v", v)
		assert.Equal(t, 1, CompareValues(v, nil))
	}
	assert.Equal(t, 0, CompareValues(nil, nil))
}

func TestCompareValuesMixedNumeric(t *testing.T) {
	assert.Equal(t, 0, CompareValues(int64(2), 2.0))
	assert.Equal(t, -1, CompareValues(int64(2), 2.5))
	assert.Equal(t, 1, CompareValues(3.5, int64(3)))
}

func TestCompareTuples(t *testing.T) {
	assert.Equal(t, 0, CompareValues(Tuple{"a", int64(1)}, Tuple{"a", int64(1)}))
	assert.Equal(t, -1, CompareValues(Tuple{"a"}, Tuple{"a", int64(1)}))
	assert.Equal(t, -1, CompareValues(Tuple{"a", int64(1)}, Tuple{"b"}))
	// nil component sorts lowest
	assert.Equal(t, -1, CompareValues(Tuple{nil, "b"}, Tuple{"a", "b"}))
}

func TestValuesEqualBytesByContent(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{1, 2, 3}
	assert.True(t, ValuesEqual(a, b))
	assert.False(t, ValuesEqual(a, []byte{1, 2}))
}

func TestCompareInstantAndUUID(t *testing.T) {
	t1 := time.UnixMilli(1000).UTC()
	t2 := time.UnixMilli(2000).UTC()
	assert.Equal(t, -1, CompareValues(t1, t2))

	u1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	u2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	assert.Equal(t, -1, CompareValues(u1, u2))
}

func TestKeywordParts(t *testing.T) {
	k := NewKeyword(":user/name")
	assert.Equal(t, "user", k.Namespace())
	assert.Equal(t, "name", k.Name())
	assert.Equal(t, ":user/name", k.String())

	rev := NewKeyword(":user/_friend")
	assert.True(t, rev.IsReverse())
	assert.Equal(t, ":user/friend", rev.Forward().String())

	plain := NewKeyword("status")
	assert.Equal(t, "", plain.Namespace())
	assert.Equal(t, ":status", plain.String())
}

func TestInternKeyword(t *testing.T) {
	a := InternKeyword(":x/y")
	b := InternKeyword("x/y")
	assert.Equal(t, a, b)
}
