package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/rk-forks/datalevin/datalevin"
)

// Value key encoding. Each value encodes as a type tag byte followed by a
// payload whose byte order matches the value's semantic order, so ranged
// cursors over encoded keys scan values in order. Variable-length payloads
// (strings, keywords, symbols, bytes) are zero-terminated with 0x00 escaped
// as 0x00 0xFF, which keeps lexicographic order intact. Tuples concatenate
// component encodings; every component is self-delimiting.

// tagTerm closes a tuple. It sorts below every value tag, so a shorter tuple
// orders before any longer tuple it prefixes, and nil (the lowest value tag)
// still sorts below every other component value.
const (
	tagTerm    byte = 0x00
	tagNil     byte = 0x01
	tagBool    byte = 0x02
	tagLong    byte = 0x03
	tagDouble  byte = 0x04
	tagString  byte = 0x05
	tagKeyword byte = 0x06
	tagSymbol  byte = 0x07
	tagUUID    byte = 0x08
	tagInstant byte = 0x09
	tagRef     byte = 0x0A
	tagBytes   byte = 0x0B
	tagTuple   byte = 0x0C
	tagGiant   byte = 0xFD
)

// MaxValueKeySize bounds the encoded value inside an index key. Longer
// encodings go out of line into the giants dbi, represented in the key by a
// content hash.
const MaxValueKeySize = 511

// EncodeValue appends the full ordered encoding of v to dst.
func EncodeValue(dst []byte, v datalevin.Value) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(dst, tagNil), nil
	case bool:
		dst = append(dst, tagBool)
		if val {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case int:
		return encodeLong(append(dst, tagLong), int64(val)), nil
	case int64:
		return encodeLong(append(dst, tagLong), val), nil
	case float64:
		dst = append(dst, tagDouble)
		return encodeDouble(dst, val), nil
	case string:
		dst = append(dst, tagString)
		return encodeEscaped(dst, []byte(val)), nil
	case datalevin.Keyword:
		dst = append(dst, tagKeyword)
		return encodeEscaped(dst, []byte(val.String()[1:])), nil
	case datalevin.Symbol:
		dst = append(dst, tagSymbol)
		return encodeEscaped(dst, []byte(val)), nil
	case uuid.UUID:
		dst = append(dst, tagUUID)
		return append(dst, val[:]...), nil
	case time.Time:
		dst = append(dst, tagInstant)
		return encodeLong(dst, val.UnixMilli()), nil
	case datalevin.EID:
		dst = append(dst, tagRef)
		return encodeLong(dst, int64(val)), nil
	case []byte:
		dst = append(dst, tagBytes)
		return encodeEscaped(dst, val), nil
	case datalevin.Tuple:
		dst = append(dst, tagTuple)
		for _, comp := range val {
			var err error
			dst, err = EncodeValue(dst, comp)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, tagTerm), nil
	}
	return nil, fmt.Errorf("cannot encode value of type %T", v)
}

// DecodeValue decodes one value from buf, returning the rest of the buffer.
func DecodeValue(buf []byte) (datalevin.Value, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, fmt.Errorf("empty value encoding")
	}
	tag, rest := buf[0], buf[1:]
	switch tag {
	case tagNil:
		return nil, rest, nil
	case tagBool:
		if len(rest) < 1 {
			return nil, nil, fmt.Errorf("short bool encoding")
		}
		return rest[0] != 0, rest[1:], nil
	case tagLong:
		n, rest, err := decodeLong(rest)
		return n, rest, err
	case tagDouble:
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("short double encoding")
		}
		return decodeDouble(rest[:8]), rest[8:], nil
	case tagString:
		b, rest, err := decodeEscaped(rest)
		return string(b), rest, err
	case tagKeyword:
		b, rest, err := decodeEscaped(rest)
		if err != nil {
			return nil, nil, err
		}
		return datalevin.NewKeyword(string(b)), rest, nil
	case tagSymbol:
		b, rest, err := decodeEscaped(rest)
		return datalevin.Symbol(b), rest, err
	case tagUUID:
		if len(rest) < 16 {
			return nil, nil, fmt.Errorf("short uuid encoding")
		}
		var u uuid.UUID
		copy(u[:], rest[:16])
		return u, rest[16:], nil
	case tagInstant:
		n, rest, err := decodeLong(rest)
		if err != nil {
			return nil, nil, err
		}
		return time.UnixMilli(n).UTC(), rest, nil
	case tagRef:
		n, rest, err := decodeLong(rest)
		return datalevin.EID(n), rest, err
	case tagBytes:
		b, rest, err := decodeEscaped(rest)
		return b, rest, err
	case tagTuple:
		t := datalevin.Tuple{}
		for {
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("unterminated tuple encoding")
			}
			if rest[0] == tagTerm {
				return t, rest[1:], nil
			}
			var comp datalevin.Value
			var err error
			comp, rest, err = DecodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			t = append(t, comp)
		}
	case tagGiant:
		return nil, nil, fmt.Errorf("giant reference cannot be decoded inline")
	}
	return nil, nil, fmt.Errorf("unknown value tag 0x%02X", tag)
}

// EncodeValueKey encodes v for use inside an index key. When the encoding
// exceeds MaxValueKeySize the key carries a content-hash reference and the
// caller must store the full encoding in the giants dbi under that hash.
func EncodeValueKey(dst []byte, v datalevin.Value) (key []byte, giant []byte, err error) {
	full, err := EncodeValue(nil, v)
	if err != nil {
		return nil, nil, err
	}
	if len(full) <= MaxValueKeySize {
		return append(dst, full...), nil, nil
	}
	h := xxhash.Sum64(full)
	dst = append(dst, tagGiant)
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], h)
	return append(dst, hb[:]...), full, nil
}

// GiantHash extracts the content hash from a giant key reference.
func GiantHash(key []byte) (uint64, bool) {
	if len(key) >= 9 && key[0] == tagGiant {
		return binary.BigEndian.Uint64(key[1:9]), true
	}
	return 0, false
}

// encodeLong writes a sign-flipped big-endian int64, so byte order matches
// numeric order across negative and positive values.
func encodeLong(dst []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v)^(1<<63))
	return append(dst, b[:]...)
}

func decodeLong(buf []byte) (int64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("short long encoding")
	}
	return int64(binary.BigEndian.Uint64(buf[:8]) ^ (1 << 63)), buf[8:], nil
}

// encodeDouble applies the IEEE-754 trick: flip all bits of negatives and
// only the sign bit of non-negatives, making byte order match numeric order.
func encodeDouble(dst []byte, v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	return append(dst, b[:]...)
}

func decodeDouble(buf []byte) float64 {
	bits := binary.BigEndian.Uint64(buf)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// encodeEscaped writes content with 0x00 escaped as 0x00 0xFF and a final
// 0x00 terminator. Preserves lexicographic order.
func encodeEscaped(dst, content []byte) []byte {
	for _, c := range content {
		if c == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, c)
		}
	}
	return append(dst, 0x00)
}

func decodeEscaped(buf []byte) (content, rest []byte, err error) {
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i++ {
		if buf[i] != 0x00 {
			out = append(out, buf[i])
			continue
		}
		if i+1 < len(buf) && buf[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return out, buf[i+1:], nil
	}
	return nil, nil, fmt.Errorf("unterminated escaped encoding")
}
