package datalevin

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CompareValues compares two values and returns -1, 0 or 1. Comparison
// dispatches on the type tag first, then on the value, so that mixed-type
// collections have a stable total order. nil sorts below everything.
func CompareValues(left, right Value) int {
	lt, rt := TypeOf(left), TypeOf(right)
	if lt != rt {
		// Numeric types still compare against each other by magnitude.
		if isNumeric(lt) && isNumeric(rt) {
			return compareFloats(toFloat(left), toFloat(right))
		}
		if lt < rt {
			return -1
		}
		return 1
	}

	switch l := normalize(left).(type) {
	case nil:
		return 0
	case bool:
		r := normalize(right).(bool)
		if l == r {
			return 0
		}
		if !l {
			return -1
		}
		return 1
	case int64:
		return compareInt64s(l, normalize(right).(int64))
	case float64:
		return compareFloats(l, normalize(right).(float64))
	case string:
		return strings.Compare(l, normalize(right).(string))
	case Keyword:
		return l.Compare(normalize(right).(Keyword))
	case Symbol:
		return strings.Compare(string(l), string(normalize(right).(Symbol)))
	case uuid.UUID:
		r := normalize(right).(uuid.UUID)
		return bytes.Compare(l[:], r[:])
	case time.Time:
		r := normalize(right).(time.Time)
		if l.Before(r) {
			return -1
		}
		if l.After(r) {
			return 1
		}
		return 0
	case EID:
		return compareInt64s(int64(l), int64(normalize(right).(EID)))
	case []byte:
		return bytes.Compare(l, normalize(right).([]byte))
	case Tuple:
		r := normalize(right).(Tuple)
		for i := 0; i < len(l) && i < len(r); i++ {
			if c := CompareValues(l[i], r[i]); c != 0 {
				return c
			}
		}
		return compareInt64s(int64(len(l)), int64(len(r)))
	}
	return strings.Compare(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
}

// ValuesEqual checks value equality. Byte arrays compare by content.
func ValuesEqual(a, b Value) bool {
	return CompareValues(a, b) == 0
}

// normalize widens int to int64 so the switch above stays small.
func normalize(v Value) Value {
	if i, ok := v.(int); ok {
		return int64(i)
	}
	return v
}

func isNumeric(t ValueType) bool {
	return t == TypeLong || t == TypeDouble
}

func toFloat(v Value) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func compareInt64s(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
