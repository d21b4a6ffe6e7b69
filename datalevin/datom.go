package datalevin

import (
	"fmt"
)

// Tx0 is the id of the first transaction. Entity ids live below it, so the
// two spaces never collide.
const Tx0 int64 = 0x2000000000000000

// E0 is the first assignable entity id; tempid resolution hands out ids
// counting up from it.
const E0 int64 = 1

// MaxEID is the highest assignable entity id.
const MaxEID int64 = Tx0 - 1

// Datom is one atomic fact: entity, attribute, value, transaction, op.
type Datom struct {
	E     int64
	A     Keyword
	V     Value
	Tx    int64
	Added bool
}

// NewDatom creates an added datom.
func NewDatom(e int64, a Keyword, v Value, tx int64) Datom {
	return Datom{E: e, A: a, V: v, Tx: tx, Added: true}
}

// Retraction returns the retraction twin of the datom.
func (d Datom) Retraction() Datom {
	d.Added = false
	return d
}

func (d Datom) String() string {
	op := ":db/add"
	if !d.Added {
		op = ":db/retract"
	}
	return fmt.Sprintf("#datom [%d %s %v %d %s]", d.E, d.A, d.V, d.Tx, op)
}

// EAV is the comparison key of a datom without its transaction.
func (d Datom) EAV() (int64, Keyword, Value) {
	return d.E, d.A, d.V
}

// SameEAV reports whether two datoms carry the same fact, ignoring tx and op.
func (d Datom) SameEAV(o Datom) bool {
	return d.E == o.E && d.A == o.A && ValuesEqual(d.V, o.V)
}
