package datalevin

import (
	"strings"
	"sync"
)

// Keyword is an interned attribute or enum name, printed as :ns/name.
type Keyword struct {
	value string
}

// NewKeyword creates a keyword from its printed form, with or without the
// leading colon.
func NewKeyword(s string) Keyword {
	s = strings.TrimPrefix(s, ":")
	return Keyword{value: s}
}

// String returns the printed form, including the leading colon.
func (k Keyword) String() string {
	return ":" + k.value
}

// Name returns the part after the namespace slash, or the whole keyword when
// it has no namespace.
func (k Keyword) Name() string {
	if i := strings.LastIndexByte(k.value, '/'); i >= 0 {
		return k.value[i+1:]
	}
	return k.value
}

// Namespace returns the part before the slash, or "".
func (k Keyword) Namespace() string {
	if i := strings.LastIndexByte(k.value, '/'); i >= 0 {
		return k.value[:i]
	}
	return ""
}

// IsReverse reports whether the keyword names a reverse reference (:ns/_attr).
func (k Keyword) IsReverse() bool {
	return strings.HasPrefix(k.Name(), "_")
}

// Forward strips the reverse marker, turning :ns/_attr into :ns/attr.
func (k Keyword) Forward() Keyword {
	if !k.IsReverse() {
		return k
	}
	ns := k.Namespace()
	if ns == "" {
		return Keyword{value: k.Name()[1:]}
	}
	return Keyword{value: ns + "/" + k.Name()[1:]}
}

// Compare orders keywords by their printed form.
func (k Keyword) Compare(other Keyword) int {
	return strings.Compare(k.value, other.value)
}

// IsZero reports whether the keyword is the zero value.
func (k Keyword) IsZero() bool {
	return k.value == ""
}

// keywordIntern caches keyword instances for reuse across datoms.
type keywordIntern struct {
	cache sync.Map // map[string]Keyword
}

var kwIntern = &keywordIntern{}

// InternKeyword returns a canonical keyword instance for s.
func InternKeyword(s string) Keyword {
	s = strings.TrimPrefix(s, ":")
	if val, ok := kwIntern.cache.Load(s); ok {
		return val.(Keyword)
	}
	kw := Keyword{value: s}
	actual, _ := kwIntern.cache.LoadOrStore(s, kw)
	return actual.(Keyword)
}
