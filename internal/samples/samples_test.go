package samples

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPlain(t *testing.T) {
	input := "abc A B C\n\nde D\n"
	pairs, err := ReadPlain(strings.NewReader(input), false)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, []string{"a", "b", "c"}, pairs[0].Left)
	assert.Equal(t, []string{"A", "B", "C"}, pairs[0].Right)
	assert.Equal(t, []string{"d", "e"}, pairs[1].Left)
}

func TestReadPlainPhonemeToPhoneme(t *testing.T) {
	pairs, err := ReadPlain(strings.NewReader("a b\tA B\n"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, pairs[0].Left)
	assert.Equal(t, []string{"A", "B"}, pairs[0].Right)
}

func TestReadPlainUnicode(t *testing.T) {
	pairs, err := ReadPlain(strings.NewReader("über y: b 6\n"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ü", "b", "e", "r"}, pairs[0].Left)
}

func TestReadLexicon(t *testing.T) {
	input := `<?xml version="1.0" encoding="UTF-8"?>
<lexicon>
  <lemma>
    <orth>hello</orth>
    <phon>h @ l ou</phon>
    <phon>h e l ou</phon>
  </lemma>
  <lemma>
    <orth>[noise]</orth>
    <phon>nse</phon>
  </lemma>
</lexicon>`
	pairs, err := ReadLexicon(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, pairs, 2, "bracketed orth is excluded, variants multiply")
	assert.Equal(t, []string{"h", "e", "l", "l", "o"}, pairs[0].Left)
	assert.Equal(t, []string{"h", "@", "l", "ou"}, pairs[0].Right)
	assert.Equal(t, []string{"h", "e", "l", "ou"}, pairs[1].Right)
}

func TestTranspose(t *testing.T) {
	pairs := []Pair{{Left: []string{"a"}, Right: []string{"A", "B"}}}
	got := Transpose(pairs)
	assert.Equal(t, []string{"A", "B"}, got[0].Left)
	assert.Equal(t, []string{"a"}, got[0].Right)
}

func TestPartitionKeepsVariantsTogether(t *testing.T) {
	var pairs []Pair
	words := []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten"}
	for _, w := range words {
		left := splitLeft(w)
		pairs = append(pairs, Pair{Left: left, Right: []string{w, "1"}})
		pairs = append(pairs, Pair{Left: left, Right: []string{w, "2"}})
	}

	train, devel := Partition(pairs, 0.2, 17)
	assert.Len(t, train, len(pairs)-len(devel))
	assert.NotEmpty(t, devel)

	trainWords := make(map[string]bool)
	for _, p := range train {
		trainWords[strings.Join(p.Left, "")] = true
	}
	for _, p := range devel {
		assert.False(t, trainWords[strings.Join(p.Left, "")],
			"variants of one word must not straddle the split")
	}
}

func TestPartitionReproducible(t *testing.T) {
	var pairs []Pair
	for _, w := range []string{"aa", "bb", "cc", "dd", "ee"} {
		pairs = append(pairs, Pair{Left: splitLeft(w), Right: []string{w}})
	}
	t1, d1 := Partition(pairs, 0.4, 42)
	t2, d2 := Partition(pairs, 0.4, 42)
	assert.Equal(t, t1, t2)
	assert.Equal(t, d1, d2)
}
