package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk-forks/datalevin/datalevin/kv"
)

func openEngine(t *testing.T) *Engine {
	t.Helper()
	env, err := kv.OpenEnv(kv.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	e, err := NewEngine(env, Options{})
	require.NoError(t, err)
	return e
}

func TestEnglishAnalyzer(t *testing.T) {
	tokens := EnglishAnalyzer("The quick red fox jumped over the lazy red dogs.")
	var terms []string
	for _, tok := range tokens {
		terms = append(terms, tok.Term)
	}
	assert.Equal(t, []string{"quick", "red", "fox", "jumped", "over", "lazy", "red", "dogs"}, terms)

	// Positions count kept tokens; offsets point into the source text.
	assert.Equal(t, 0, tokens[0].Position)
	assert.Equal(t, 1, tokens[1].Position)
	assert.Equal(t, "quick", "The quick red fox jumped over the lazy red dogs."[tokens[0].Offset:tokens[0].Offset+5])

	assert.Empty(t, EnglishAnalyzer("the a an and"))
	assert.Empty(t, EnglishAnalyzer(""))
}

func TestAnalyzerSplitsPunctuation(t *testing.T) {
	tokens := EnglishAnalyzer("hello, world! foo-bar_baz")
	var terms []string
	for _, tok := range tokens {
		terms = append(terms, tok.Term)
	}
	assert.Equal(t, []string{"hello", "world", "foo", "bar", "baz"}, terms)
}

func TestDeleteVariants(t *testing.T) {
	vs := deleteVariants("red", 2, 7)
	set := map[string]bool{}
	for _, v := range vs {
		set[v] = true
	}
	assert.True(t, set["red"])
	assert.True(t, set["ed"])
	assert.True(t, set["rd"])
	assert.True(t, set["re"])
	assert.True(t, set["r"])
	assert.True(t, set["d"])

	// Prefix length caps the indexed portion.
	vs = deleteVariants("abcdefghij", 1, 3)
	for _, v := range vs {
		assert.LessOrEqual(t, len(v), 3)
	}
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("red", "red", 2))
	assert.Equal(t, 1, editDistance("red", "rod", 2))
	assert.Equal(t, 1, editDistance("red", "rde", 2)) // transposition
	assert.Equal(t, 2, editDistance("red", "rode", 2))
	assert.Equal(t, 3, editDistance("red", "blue", 2), "cutoff reports max+1")
}

// S7: bigram hits outrank isolated unigram hits.
func TestSearchRanking(t *testing.T) {
	e := openEngine(t)
	_, err := e.AddDoc(int64(0), "The quick red fox jumped over the lazy red dogs.")
	require.NoError(t, err)
	_, err = e.AddDoc(int64(1), "Mary had a little lamb whose fleece was red as fire.")
	require.NoError(t, err)

	matches, err := e.Search("red fox")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(0), matches[0].Ref, "the bigram match ranks first")
	assert.Equal(t, int64(1), matches[1].Ref)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchFuzzyCorrection(t *testing.T) {
	e := openEngine(t)
	_, err := e.AddDoc("doc-a", "systematic fuzzing of databases")
	require.NoError(t, err)

	// One edit away from "fuzzing".
	matches, err := e.Search("fuzzng")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc-a", matches[0].Ref)

	// Too far from anything indexed.
	matches, err = e.Search("xylophone")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchUnionsTerms(t *testing.T) {
	e := openEngine(t)
	_, err := e.AddDoc(int64(1), "red balloons")
	require.NoError(t, err)
	_, err = e.AddDoc(int64(2), "green fox")
	require.NoError(t, err)

	matches, err := e.Search("red fox")
	require.NoError(t, err)
	assert.Len(t, matches, 2, "per-term doc sets union")
}

func TestSearchTuples(t *testing.T) {
	e := openEngine(t)
	_, err := e.AddDoc(int64(7), "hello world")
	require.NoError(t, err)
	rows, err := e.SearchTuples("hello")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0][0])
}

func TestDocCountAndPersistence(t *testing.T) {
	dir := t.TempDir()
	env, err := kv.OpenEnv(kv.Options{Dir: dir})
	require.NoError(t, err)
	e, err := NewEngine(env, Options{})
	require.NoError(t, err)
	_, err = e.AddDoc(int64(1), "persistent postings")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.DocCount())
	require.NoError(t, env.Close())

	env, err = kv.OpenEnv(kv.Options{Dir: dir})
	require.NoError(t, err)
	defer env.Close()
	e, err = NewEngine(env, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.DocCount())
	matches, err := e.Search("postings")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
