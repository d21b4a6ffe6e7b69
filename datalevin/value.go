package datalevin

import (
	"time"

	"github.com/google/uuid"
)

// Value represents any value that can be stored in a Datom.
type Value = interface{}

// Valid value types:
//   - string
//   - int64
//   - float64
//   - bool
//   - time.Time  (instant, millisecond precision)
//   - []byte
//   - uuid.UUID
//   - EID       (reference to another entity)
//   - Keyword
//   - Symbol
//   - Tuple
//   - nil       (only inside a Tuple component)

// EID is an entity id used as a reference value.
type EID int64

// Symbol is a symbol value, distinct from query variables.
type Symbol string

// Tuple is an ordered fixed-arity composite value. A nil component marks an
// absent source attribute of a composite tuple attribute.
type Tuple []Value

// Helper constructors mirroring the value types.
func String(s string) Value       { return s }
func Long(i int64) Value          { return i }
func Double(f float64) Value      { return f }
func Bool(b bool) Value           { return b }
func Instant(t time.Time) Value   { return t.Truncate(time.Millisecond) }
func Bytes(b []byte) Value        { return b }
func Ref(e int64) Value           { return EID(e) }
func UUID(u uuid.UUID) Value      { return u }
func KeywordValue(s string) Value { return NewKeyword(s) }

// ValueType tags the on-disk representation of a value.
type ValueType byte

const (
	TypeNil ValueType = iota
	TypeBool
	TypeLong
	TypeDouble
	TypeString
	TypeKeyword
	TypeSymbol
	TypeUUID
	TypeInstant
	TypeRef
	TypeBytes
	TypeTuple
)

var valueTypeNames = map[ValueType]string{
	TypeNil:     "nil",
	TypeBool:    "boolean",
	TypeLong:    "long",
	TypeDouble:  "double",
	TypeString:  "string",
	TypeKeyword: "keyword",
	TypeSymbol:  "symbol",
	TypeUUID:    "uuid",
	TypeInstant: "instant",
	TypeRef:     "ref",
	TypeBytes:   "bytes",
	TypeTuple:   "tuple",
}

// String returns the schema name of the value type.
func (t ValueType) String() string {
	if n, ok := valueTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ValueTypeFromKeyword maps :db.type/* keywords to value types.
func ValueTypeFromKeyword(k Keyword) (ValueType, bool) {
	switch k.Name() {
	case "string":
		return TypeString, true
	case "long":
		return TypeLong, true
	case "double", "float":
		return TypeDouble, true
	case "boolean":
		return TypeBool, true
	case "keyword":
		return TypeKeyword, true
	case "symbol":
		return TypeSymbol, true
	case "uuid":
		return TypeUUID, true
	case "instant":
		return TypeInstant, true
	case "ref":
		return TypeRef, true
	case "bytes":
		return TypeBytes, true
	case "tuple":
		return TypeTuple, true
	}
	return TypeNil, false
}

// TypeOf returns the value type tag for a runtime value.
func TypeOf(v Value) ValueType {
	switch v.(type) {
	case nil:
		return TypeNil
	case bool:
		return TypeBool
	case int64:
		return TypeLong
	case int:
		return TypeLong
	case float64:
		return TypeDouble
	case string:
		return TypeString
	case Keyword:
		return TypeKeyword
	case Symbol:
		return TypeSymbol
	case uuid.UUID:
		return TypeUUID
	case time.Time:
		return TypeInstant
	case EID:
		return TypeRef
	case []byte:
		return TypeBytes
	case Tuple:
		return TypeTuple
	}
	return TypeNil
}
