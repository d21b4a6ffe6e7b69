package store

import (
	"bytes"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk-forks/datalevin/datalevin"
)

func roundTrip(t *testing.T, v datalevin.Value) {
	t.Helper()
	enc, err := EncodeValue(nil, v)
	require.NoError(t, err)
	dec, rest, err := DecodeValue(enc)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.True(t, datalevin.ValuesEqual(v, dec), "want %v, got %v", v, dec)
}

func TestValueRoundTrip(t *testing.T) {
	values := []datalevin.Value{
		nil,
		true,
		false,
		int64(0),
		int64(42),
		int64(-42),
		int64(1) << 62,
		-(int64(1) << 62),
		0.0,
		3.14,
		-2.75,
		"",
		"hello world",
		"with\x00zero\x00bytes",
		datalevin.NewKeyword(":user/name"),
		datalevin.Symbol("map"),
		uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479"),
		time.UnixMilli(1700000000123).UTC(),
		datalevin.EID(99),
		[]byte{0, 1, 2, 255},
		datalevin.Tuple{"a", int64(1), nil},
		datalevin.Tuple{datalevin.Tuple{"nested"}, "b"},
	}
	for _, v := range values {
		roundTrip(t, v)
	}
}

func TestEncodedOrderMatchesValueOrder(t *testing.T) {
	groups := [][]datalevin.Value{
		{int64(-100), int64(-1), int64(0), int64(1), int64(100)},
		{-10.5, -0.25, 0.0, 0.25, 10.5},
		{"", "a", "a\x00b", "ab", "b"},
		{time.UnixMilli(0).UTC(), time.UnixMilli(1000).UTC(), time.UnixMilli(5000).UTC()},
		{datalevin.EID(1), datalevin.EID(2), datalevin.EID(300)},
		{[]byte{1}, []byte{1, 0}, []byte{2}},
		{
			datalevin.Tuple{nil, "b"},
			datalevin.Tuple{"a"},
			datalevin.Tuple{"a", "a"},
			datalevin.Tuple{"a", "b"},
			datalevin.Tuple{"b"},
		},
	}
	for _, vals := range groups {
		var encs [][]byte
		for _, v := range vals {
			e, err := EncodeValue(nil, v)
			require.NoError(t, err)
			encs = append(encs, e)
		}
		sorted := sort.SliceIsSorted(encs, func(i, j int) bool {
			return bytes.Compare(encs[i], encs[j]) < 0
		})
		assert.True(t, sorted, "encoded order broken for %v", vals)
	}
}

func TestTupleEncodingSelfDelimits(t *testing.T) {
	// A tuple in the middle of a key must not swallow trailing bytes.
	enc, err := EncodeValue(nil, datalevin.Tuple{"a", int64(1)})
	require.NoError(t, err)
	enc = append(enc, 0xAB, 0xCD)
	v, rest, err := DecodeValue(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD}, rest)
	assert.True(t, datalevin.ValuesEqual(datalevin.Tuple{"a", int64(1)}, v))
}

func TestGiantValues(t *testing.T) {
	big := make([]byte, MaxValueKeySize*2)
	for i := range big {
		big[i] = byte(i)
	}
	key, giant, err := EncodeValueKey(nil, big)
	require.NoError(t, err)
	require.NotNil(t, giant)
	assert.LessOrEqual(t, len(key), 16)
	h, ok := GiantHash(key)
	assert.True(t, ok)
	assert.NotZero(t, h)

	// The full encoding still round-trips.
	v, _, err := DecodeValue(giant)
	require.NoError(t, err)
	assert.True(t, datalevin.ValuesEqual(big, v))

	// Small values stay inline.
	key2, giant2, err := EncodeValueKey(nil, "small")
	require.NoError(t, err)
	assert.Nil(t, giant2)
	_, ok = GiantHash(key2)
	assert.False(t, ok)
}
