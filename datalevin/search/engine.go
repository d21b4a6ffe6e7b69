package search

import (
	"encoding/binary"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/kv"
	"github.com/rk-forks/datalevin/datalevin/store"
)

// Options tunes the engine.
type Options struct {
	MaxEditDistance int // fuzzy correction distance, default 2
	PrefixLength    int // symmetric-delete prefix length, default 7
	Analyzer        Analyzer
	BigramWeight    float64 // score weight of bigram hits, default 2
}

func (o Options) withDefaults() Options {
	if o.MaxEditDistance == 0 {
		o.MaxEditDistance = 2
	}
	if o.PrefixLength == 0 {
		o.PrefixLength = 7
	}
	if o.Analyzer == nil {
		o.Analyzer = EnglishAnalyzer
	}
	if o.BigramWeight == 0 {
		o.BigramWeight = 2
	}
	return o
}

// unigramEntry is the dictionary value of one term.
type unigramEntry struct {
	TID uint64 `msgpack:"tid"`
	DF  int64  `msgpack:"df"`
}

type searchMeta struct {
	MaxTermID uint64 `msgpack:"max-term-id"`
	MaxDocID  uint64 `msgpack:"max-doc-id"`
	DocCount  int64  `msgpack:"doc-count"`
}

const searchMetaKey = "search-meta"

// position is one occurrence of a term in a document.
type position struct {
	Pos    int `msgpack:"p"`
	Offset int `msgpack:"o"`
}

// Engine is one full-text index over a kv environment.
type Engine struct {
	env  *kv.Env
	opts Options

	unigrams  kv.DBI // term → (term-id, doc-frequency)
	bigrams   kv.DBI // (tid1, tid2) → frequency
	docs      kv.DBI // doc-id → doc ref
	termDocs  kv.DBI // term-id → sorted doc-id list
	positions kv.DBI // (doc-id, term-id) → [(pos, offset)]
	deletes   kv.DBI // delete-variant → term-id list
	metaDBI   kv.DBI

	meta searchMeta
}

// NewEngine opens the search dbis inside an existing environment.
func NewEngine(env *kv.Env, opts Options) (*Engine, error) {
	e := &Engine{env: env, opts: opts.withDefaults()}
	for _, d := range []struct {
		name string
		dbi  *kv.DBI
	}{
		{"ft-unigrams", &e.unigrams}, {"ft-bigrams", &e.bigrams},
		{"ft-docs", &e.docs}, {"ft-term-docs", &e.termDocs},
		{"ft-positions", &e.positions}, {"ft-deletes", &e.deletes},
		{"ft-meta", &e.metaDBI},
	} {
		dbi, err := env.OpenDBI(d.name)
		if err != nil {
			return nil, err
		}
		*d.dbi = dbi
	}
	err := env.View(func(txn *kv.Txn) error {
		val, ok, err := txn.Get(e.metaDBI, []byte(searchMetaKey))
		if err != nil || !ok {
			return err
		}
		return msgpack.Unmarshal(val, &e.meta)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func u64key(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func pairKey(a, b uint64) []byte {
	var k [16]byte
	binary.BigEndian.PutUint64(k[:8], a)
	binary.BigEndian.PutUint64(k[8:], b)
	return k[:]
}

// AddDoc indexes a document under a fresh doc id, persisting the term
// dictionary, bigrams, postings and positions in one transaction.
func (e *Engine) AddDoc(ref datalevin.Value, text string) (uint64, error) {
	tokens := e.opts.Analyzer(text)
	var docID uint64
	prev := e.meta
	err := e.env.Update(func(txn *kv.Txn) error {
		e.meta.MaxDocID++
		e.meta.DocCount++
		docID = e.meta.MaxDocID

		refBytes, err := store.EncodeValue(nil, ref)
		if err != nil {
			return err
		}
		if err := txn.Put(e.docs, u64key(docID), refBytes); err != nil {
			return err
		}

		// Aggregate term occurrences.
		occs := map[string][]position{}
		for _, t := range tokens {
			occs[t.Term] = append(occs[t.Term], position{Pos: t.Position, Offset: t.Offset})
		}
		tids := map[string]uint64{}
		for term, ps := range occs {
			tid, err := e.internTerm(txn, term)
			if err != nil {
				return err
			}
			tids[term] = tid
			if err := txn.PutListItem(e.termDocs, u64key(tid), u64key(docID)); err != nil {
				return err
			}
			pv, err := msgpack.Marshal(ps)
			if err != nil {
				return err
			}
			if err := txn.Put(e.positions, pairKey(docID, tid), pv); err != nil {
				return err
			}
		}

		// Bigrams require adjacent kept positions.
		bigramFreq := map[[2]uint64]int64{}
		for i := 0; i+1 < len(tokens); i++ {
			if tokens[i+1].Position == tokens[i].Position+1 {
				bigramFreq[[2]uint64{tids[tokens[i].Term], tids[tokens[i+1].Term]}]++
			}
		}
		for pair, n := range bigramFreq {
			k := pairKey(pair[0], pair[1])
			var freq int64
			if val, ok, err := txn.Get(e.bigrams, k); err != nil {
				return err
			} else if ok {
				if err := msgpack.Unmarshal(val, &freq); err != nil {
					return err
				}
			}
			val, err := msgpack.Marshal(freq + n)
			if err != nil {
				return err
			}
			if err := txn.Put(e.bigrams, k, val); err != nil {
				return err
			}
		}

		mv, err := msgpack.Marshal(&e.meta)
		if err != nil {
			return err
		}
		return txn.Put(e.metaDBI, []byte(searchMetaKey), mv)
	})
	if err != nil {
		e.meta = prev
		return 0, err
	}
	return docID, nil
}

// internTerm returns the term id, creating the dictionary entry and its
// delete variants on first sight, and bumps the document frequency.
func (e *Engine) internTerm(txn *kv.Txn, term string) (uint64, error) {
	var entry unigramEntry
	val, ok, err := txn.Get(e.unigrams, []byte(term))
	if err != nil {
		return 0, err
	}
	if ok {
		if err := msgpack.Unmarshal(val, &entry); err != nil {
			return 0, err
		}
		entry.DF++
	} else {
		e.meta.MaxTermID++
		entry = unigramEntry{TID: e.meta.MaxTermID, DF: 1}
		for _, v := range deleteVariants(term, e.opts.MaxEditDistance, e.opts.PrefixLength) {
			if err := txn.PutListItem(e.deletes, []byte(v), u64key(entry.TID)); err != nil {
				return 0, err
			}
		}
	}
	nv, err := msgpack.Marshal(&entry)
	if err != nil {
		return 0, err
	}
	if err := txn.Put(e.unigrams, []byte(term), nv); err != nil {
		return 0, err
	}
	return entry.TID, nil
}

// DocCount returns the number of indexed documents.
func (e *Engine) DocCount() int64 { return e.meta.DocCount }

// Match is one ranked search hit.
type Match struct {
	Ref   datalevin.Value
	DocID uint64
	Score float64
}

// Search tokenizes the query, corrects each term through the
// symmetric-delete dictionary, unions the candidate doc sets and ranks by
// combined unigram and bigram score, best first.
func (e *Engine) Search(query string) ([]Match, error) {
	tokens := e.opts.Analyzer(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	var out []Match
	err := e.env.View(func(txn *kv.Txn) error {
		// Per query token: candidate term ids after fuzzy correction.
		cands := make([][]uint64, len(tokens))
		termByTID := map[uint64]string{}
		for i, t := range tokens {
			tids, err := e.candidates(txn, t.Term, termByTID)
			if err != nil {
				return err
			}
			cands[i] = tids
		}

		// Union of doc sets, scoring unigram hits by term frequency.
		scores := map[uint64]float64{}
		docTermPos := map[uint64]map[uint64][]position{}
		for _, tids := range cands {
			for _, tid := range tids {
				err := txn.ListIter(e.termDocs, u64key(tid), func(item []byte) bool {
					docID := binary.BigEndian.Uint64(item)
					ps, err := e.termPositions(txn, docID, tid)
					if err != nil || len(ps) == 0 {
						return true
					}
					scores[docID] += float64(len(ps))
					if docTermPos[docID] == nil {
						docTermPos[docID] = map[uint64][]position{}
					}
					docTermPos[docID][tid] = ps
					return true
				})
				if err != nil {
					return err
				}
			}
		}

		// Bigram bonus: adjacent query terms adjacent in the document.
		for i := 0; i+1 < len(tokens); i++ {
			if tokens[i+1].Position != tokens[i].Position+1 {
				continue
			}
			for _, tid1 := range cands[i] {
				for _, tid2 := range cands[i+1] {
					for docID, byTID := range docTermPos {
						p1s, ok1 := byTID[tid1]
						p2s, ok2 := byTID[tid2]
						if !ok1 || !ok2 {
							continue
						}
						hits := adjacentHits(p1s, p2s)
						if hits > 0 {
							scores[docID] += e.opts.BigramWeight * float64(hits)
						}
					}
				}
			}
		}

		for docID, score := range scores {
			refBytes, ok, err := txn.Get(e.docs, u64key(docID))
			if err != nil || !ok {
				continue
			}
			ref, _, err := store.DecodeValue(refBytes)
			if err != nil {
				continue
			}
			out = append(out, Match{Ref: ref, DocID: docID, Score: score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

// SearchTuples adapts Search to the query engine's fulltext built-in,
// yielding [doc-ref doc-id] rows best-first.
func (e *Engine) SearchTuples(query string) ([]datalevin.Tuple, error) {
	matches, err := e.Search(query)
	if err != nil {
		return nil, err
	}
	out := make([]datalevin.Tuple, len(matches))
	for i, m := range matches {
		out[i] = datalevin.Tuple{m.Ref, int64(m.DocID)}
	}
	return out, nil
}

// candidates resolves a query term to dictionary term ids: the exact term
// when present, otherwise fuzzy matches within the edit distance.
func (e *Engine) candidates(txn *kv.Txn, term string, termByTID map[uint64]string) ([]uint64, error) {
	if val, ok, err := txn.Get(e.unigrams, []byte(term)); err != nil {
		return nil, err
	} else if ok {
		var entry unigramEntry
		if err := msgpack.Unmarshal(val, &entry); err != nil {
			return nil, err
		}
		termByTID[entry.TID] = term
		return []uint64{entry.TID}, nil
	}
	seen := map[uint64]bool{}
	var tids []uint64
	for _, v := range deleteVariants(term, e.opts.MaxEditDistance, e.opts.PrefixLength) {
		err := txn.ListIter(e.deletes, []byte(v), func(item []byte) bool {
			tid := binary.BigEndian.Uint64(item)
			if !seen[tid] {
				seen[tid] = true
				tids = append(tids, tid)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	// Verify candidates with the true edit distance.
	var verified []uint64
	for _, tid := range tids {
		cand, err := e.termOf(txn, tid, termByTID)
		if err != nil {
			return nil, err
		}
		if cand == "" {
			continue
		}
		if editDistance(term, cand, e.opts.MaxEditDistance) <= e.opts.MaxEditDistance {
			verified = append(verified, tid)
		}
	}
	return verified, nil
}

// termOf finds the dictionary term of a term id, caching reverse lookups.
func (e *Engine) termOf(txn *kv.Txn, tid uint64, cache map[uint64]string) (string, error) {
	if t, ok := cache[tid]; ok {
		return t, nil
	}
	var found string
	err := txn.Iter(e.unigrams, kv.RangeAll(), func(key, val []byte) bool {
		var entry unigramEntry
		if msgpack.Unmarshal(val, &entry) == nil && entry.TID == tid {
			found = string(key)
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	cache[tid] = found
	return found, nil
}

func (e *Engine) termPositions(txn *kv.Txn, docID, tid uint64) ([]position, error) {
	val, ok, err := txn.Get(e.positions, pairKey(docID, tid))
	if err != nil || !ok {
		return nil, err
	}
	var ps []position
	if err := msgpack.Unmarshal(val, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// adjacentHits counts p2 = p1 + 1 pairs between two position lists.
func adjacentHits(p1s, p2s []position) int {
	next := map[int]bool{}
	for _, p := range p2s {
		next[p.Pos] = true
	}
	hits := 0
	for _, p := range p1s {
		if next[p.Pos+1] {
			hits++
		}
	}
	return hits
}
