// Package schema holds attribute metadata and the derived reverse schema
// used for O(1) capability lookups during transacting and querying.
package schema

import (
	"sort"

	"github.com/rk-forks/datalevin/datalevin"
)

// Cardinality of an attribute.
type Cardinality byte

const (
	One Cardinality = iota
	Many
)

// Unique constraint kind of an attribute.
type Unique byte

const (
	UniqueNone Unique = iota
	UniqueValue
	UniqueIdentity
)

// Attribute is the metadata of one attribute. It is persisted msgpack-encoded
// in the schema dbi, keyed by ident.
type Attribute struct {
	Ident       string              `msgpack:"ident"`
	AID         uint32              `msgpack:"aid"`
	ValueType   datalevin.ValueType `msgpack:"vt"`
	Cardinality Cardinality         `msgpack:"card"`
	Unique      Unique              `msgpack:"uniq"`
	IsComponent bool                `msgpack:"comp"`
	Index       bool                `msgpack:"idx"`
	NoHistory   bool                `msgpack:"nohist"`

	// Exactly one of the three is set when ValueType is TypeTuple.
	TupleAttrs []string              `msgpack:"tattrs"`
	TupleType  datalevin.ValueType   `msgpack:"ttype"`
	TupleTypes []datalevin.ValueType `msgpack:"ttypes"`
}

// Keyword returns the attribute ident as a keyword.
func (a *Attribute) Keyword() datalevin.Keyword {
	return datalevin.NewKeyword(a.Ident)
}

// IsTupleAttr reports whether the attribute is a composite tuple attribute.
func (a *Attribute) IsTupleAttr() bool {
	return a.ValueType == datalevin.TypeTuple && len(a.TupleAttrs) > 0
}

// Schema maps idents to attribute metadata, plus the derived reverse schema.
type Schema struct {
	attrs  map[string]*Attribute
	byAID  map[uint32]*Attribute
	maxAID uint32

	RSchema RSchema
}

// RSchema is the reverse schema, rebuilt whenever the schema changes.
type RSchema struct {
	ByType    map[datalevin.ValueType][]string
	ByUnique  map[string]Unique
	RefAttrs  map[string]bool
	ManyAttrs map[string]bool
	// AttrTuples maps a source attribute to the tuple attributes it feeds,
	// with the position it occupies in each.
	AttrTuples map[string]map[string]int
}

// New builds a schema from attribute definitions, validating the tuple-attr
// invariants and assigning aids to attributes that lack one.
func New(defs []Attribute) (*Schema, error) {
	s := &Schema{
		attrs: map[string]*Attribute{},
		byAID: map[uint32]*Attribute{},
	}
	for _, b := range bootstrapAttributes() {
		s.install(b)
	}
	for i := range defs {
		a := defs[i]
		a.Ident = datalevin.NewKeyword(a.Ident).String()
		if err := s.validate(&a, defs); err != nil {
			return nil, err
		}
		s.install(&a)
	}
	s.rebuild()
	return s, nil
}

// install registers an attribute, assigning an aid when needed.
func (s *Schema) install(a *Attribute) {
	if a.AID == 0 {
		s.maxAID++
		a.AID = s.maxAID
	} else if a.AID > s.maxAID {
		s.maxAID = a.AID
	}
	s.attrs[a.Ident] = a
	s.byAID[a.AID] = a
}

// Add installs a new attribute after validation and rebuilds the reverse
// schema. Used by schema transactions.
func (s *Schema) Add(a Attribute) error {
	a.Ident = datalevin.NewKeyword(a.Ident).String()
	if err := s.validate(&a, nil); err != nil {
		return err
	}
	s.install(&a)
	s.rebuild()
	return nil
}

func (s *Schema) validate(a *Attribute, pending []Attribute) error {
	if a.ValueType == datalevin.TypeTuple {
		set := 0
		if len(a.TupleAttrs) > 0 {
			set++
		}
		if a.TupleType != datalevin.TypeNil {
			set++
		}
		if len(a.TupleTypes) > 0 {
			set++
		}
		if set != 1 {
			return datalevin.NewError(datalevin.CodeSchemaTupleType,
				"Tuple attribute requires exactly one of tupleAttrs, tupleType or tupleTypes",
				"attribute", a.Ident)
		}
		if a.Cardinality == Many && len(a.TupleAttrs) > 0 {
			return datalevin.NewError(datalevin.CodeSchemaTupleAttrs,
				"Composite tuple attribute cannot be cardinality many",
				"attribute", a.Ident)
		}
		for i := range a.TupleAttrs {
			a.TupleAttrs[i] = datalevin.NewKeyword(a.TupleAttrs[i]).String()
		}
		for _, src := range a.TupleAttrs {
			srcAttr := s.attrs[src]
			if srcAttr == nil {
				srcAttr = findPending(pending, src)
			}
			if srcAttr == nil {
				continue
			}
			if srcAttr.ValueType == datalevin.TypeTuple {
				return datalevin.NewError(datalevin.CodeSchemaTupleAttrs,
					"Tuple attribute cannot source from another tuple attribute",
					"attribute", a.Ident, "source", src)
			}
			if srcAttr.Cardinality == Many {
				return datalevin.NewError(datalevin.CodeSchemaTupleAttrs,
					"Tuple attribute cannot source from a cardinality-many attribute",
					"attribute", a.Ident, "source", src)
			}
		}
	} else if len(a.TupleAttrs) > 0 || len(a.TupleTypes) > 0 {
		return datalevin.NewError(datalevin.CodeSchemaValueType,
			"tupleAttrs requires valueType tuple", "attribute", a.Ident)
	}
	return nil
}

func findPending(pending []Attribute, ident string) *Attribute {
	for i := range pending {
		if datalevin.NewKeyword(pending[i].Ident).String() == ident {
			return &pending[i]
		}
	}
	return nil
}

// rebuild recomputes the reverse schema.
func (s *Schema) rebuild() {
	r := RSchema{
		ByType:     map[datalevin.ValueType][]string{},
		ByUnique:   map[string]Unique{},
		RefAttrs:   map[string]bool{},
		ManyAttrs:  map[string]bool{},
		AttrTuples: map[string]map[string]int{},
	}
	for ident, a := range s.attrs {
		r.ByType[a.ValueType] = append(r.ByType[a.ValueType], ident)
		if a.Unique != UniqueNone {
			r.ByUnique[ident] = a.Unique
		}
		if a.ValueType == datalevin.TypeRef {
			r.RefAttrs[ident] = true
		}
		if a.Cardinality == Many {
			r.ManyAttrs[ident] = true
		}
		for pos, src := range a.TupleAttrs {
			if r.AttrTuples[src] == nil {
				r.AttrTuples[src] = map[string]int{}
			}
			r.AttrTuples[src][ident] = pos
		}
	}
	for _, idents := range r.ByType {
		sort.Strings(idents)
	}
	s.RSchema = r
}

// Attr looks up an attribute by keyword.
func (s *Schema) Attr(k datalevin.Keyword) *Attribute {
	return s.attrs[k.String()]
}

// AttrByAID looks up an attribute by aid.
func (s *Schema) AttrByAID(aid uint32) *Attribute {
	return s.byAID[aid]
}

// ValueTypeOf returns the declared type of the attribute, defaulting to
// string for undeclared attributes.
func (s *Schema) ValueTypeOf(k datalevin.Keyword) datalevin.ValueType {
	if a := s.Attr(k); a != nil {
		return a.ValueType
	}
	return datalevin.TypeString
}

// CardinalityOf returns the declared cardinality, defaulting to one.
func (s *Schema) CardinalityOf(k datalevin.Keyword) Cardinality {
	if a := s.Attr(k); a != nil {
		return a.Cardinality
	}
	return One
}

// IsRef reports whether the attribute holds entity references.
func (s *Schema) IsRef(k datalevin.Keyword) bool {
	return s.RSchema.RefAttrs[k.String()]
}

// IsUnique reports whether the attribute carries any unique constraint.
func (s *Schema) IsUnique(k datalevin.Keyword) bool {
	_, ok := s.RSchema.ByUnique[k.String()]
	return ok
}

// IsUniqueIdentity reports whether the attribute upserts.
func (s *Schema) IsUniqueIdentity(k datalevin.Keyword) bool {
	return s.RSchema.ByUnique[k.String()] == UniqueIdentity
}

// IsComponent reports whether ref values of the attribute are components.
func (s *Schema) IsComponent(k datalevin.Keyword) bool {
	if a := s.Attr(k); a != nil {
		return a.IsComponent
	}
	return false
}

// Indexed reports whether the attribute belongs in the AVET index.
func (s *Schema) Indexed(k datalevin.Keyword) bool {
	a := s.Attr(k)
	if a == nil {
		return false
	}
	return a.Index || a.Unique != UniqueNone || a.ValueType == datalevin.TypeRef
}

// TupleAttrsOf returns the tuple attributes the source attribute feeds,
// mapped to the position it holds in each, or nil.
func (s *Schema) TupleAttrsOf(k datalevin.Keyword) map[string]int {
	return s.RSchema.AttrTuples[k.String()]
}

// Attributes returns all attributes sorted by ident.
func (s *Schema) Attributes() []*Attribute {
	out := make([]*Attribute, 0, len(s.attrs))
	for _, a := range s.attrs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ident < out[j].Ident })
	return out
}

// bootstrapAttributes are present in every database.
func bootstrapAttributes() []*Attribute {
	return []*Attribute{
		{Ident: ":db/ident", ValueType: datalevin.TypeKeyword, Cardinality: One, Unique: UniqueIdentity, Index: true},
		{Ident: ":db/created-at", ValueType: datalevin.TypeInstant, Cardinality: One},
		{Ident: ":db/updated-at", ValueType: datalevin.TypeInstant, Cardinality: One},
	}
}
