package seqmodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"g2p/internal/multigram"
)

func TestEmptyModel(t *testing.T) {
	m := New()
	h := m.Initial()
	for tok := multigram.ID(0); tok < 10; tok++ {
		assert.Equal(t, h, m.Advanced(h, tok))
		assert.Equal(t, 0.0, m.Probability(tok, h))
	}
}

func TestZerogram(t *testing.T) {
	p := 0.1
	m := New()
	m.SetInitAndTerm(0, 0)
	m.Set([]Entry{{nil, multigram.Void, -math.Log(p)}})
	h := m.Initial()
	for tok := multigram.ID(0); tok < 10; tok++ {
		assert.Equal(t, h, m.Advanced(h, tok))
		assert.InDelta(t, p, m.Probability(tok, h), 1e-12)
	}
}

func TestUnigram(t *testing.T) {
	probs := []float64{0.2, 0.3, 0.5}
	var entries []Entry
	for i, p := range probs {
		entries = append(entries, Entry{nil, multigram.ID(i + 1), -math.Log(p)})
	}
	m := New()
	m.SetInitAndTerm(0, 0)
	m.Set(entries)
	h := m.Initial()
	for i, p := range probs {
		tok := multigram.ID(i + 1)
		assert.Equal(t, h, m.Advanced(h, tok))
		assert.InDelta(t, p, m.Probability(tok, h), 1e-12)
	}
}

func TestBigram(t *testing.T) {
	probs := []float64{0.2, 0.3, 0.5}
	probs2 := []float64{0.4, 0.1, 0.5}
	var entries []Entry
	for i, p := range probs {
		entries = append(entries, Entry{nil, multigram.ID(i + 1), -math.Log(p)})
	}
	for i, p := range probs2 {
		entries = append(entries, Entry{[]multigram.ID{2}, multigram.ID(i + 1), -math.Log(p)})
	}
	m := New()
	m.SetInitAndTerm(0, 0)
	m.Set(entries)

	h := m.Initial()
	h2 := m.Advanced(h, 2)
	require.NotEqual(t, h, h2)

	for tok := multigram.ID(1); tok < 4; tok++ {
		if tok == 2 {
			assert.Equal(t, h2, m.Advanced(h, tok))
			assert.Equal(t, h2, m.Advanced(h2, tok))
		} else {
			assert.Equal(t, h, m.Advanced(h, tok))
			assert.Equal(t, h, m.Advanced(h2, tok))
		}
		assert.InDelta(t, probs[tok-1], m.Probability(tok, h), 1e-12)
		assert.InDelta(t, probs2[tok-1], m.Probability(tok, h2), 1e-12)
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	m := New()
	m.SetInitAndTerm(1, 1)
	m.Set([]Entry{
		{nil, multigram.Void, math.Log(4)},
		{nil, 2, 0.7},
		{[]multigram.ID{2}, multigram.Void, 0.1},
		{[]multigram.ID{2}, 3, 1.2},
	})
	entries := m.Get()

	m2 := New()
	m2.SetInitAndTerm(1, 1)
	m2.Set(entries)
	assert.Equal(t, entries, m2.Get())
	assert.Equal(t, m.Size(), m2.Size())
}

func TestRampUp(t *testing.T) {
	m := New()
	m.SetInitAndTerm(1, 1)
	m.Set([]Entry{
		{nil, multigram.Void, math.Log(4)},
		{nil, 2, 0.7},
		{nil, 3, 0.9},
		{[]multigram.ID{2}, 3, 1.2},
	})
	before := m.NumStates()
	m.RampUp()

	// New nodes: (2,3), (3); (2) already existed.
	assert.Equal(t, before+2, m.NumStates())
	s := m.Advanced(m.Root(), 3)
	assert.Equal(t, []multigram.ID{3}, m.History(s))
	// Bare back-off nodes carry weight 1 and change no probability.
	assert.InDelta(t, math.Exp(-0.7), m.Probability(2, s), 1e-12)
}

func TestWipeOut(t *testing.T) {
	m := New()
	m.SetInitAndTerm(1, 1)
	m.Set([]Entry{
		{nil, multigram.Void, math.Log(4)},
		{nil, 2, 0.7},
		{[]multigram.ID{2}, 3, 1.2},
	})
	m.WipeOut(5)

	// Skeleton kept, conditionals reset to the zerogram.
	assert.Equal(t, 2, m.NumStates())
	assert.InDelta(t, 0.2, m.Probability(3, m.Root()), 1e-12)
	s := m.Advanced(m.Root(), 2)
	assert.Equal(t, []multigram.ID{2}, m.History(s))
	assert.InDelta(t, 0.2, m.Probability(3, s), 1e-12)
}
