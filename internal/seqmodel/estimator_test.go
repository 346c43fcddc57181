package seqmodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"g2p/internal/multigram"
)

func TestStoreMergesKeys(t *testing.T) {
	st := NewStore()
	st.Add([]multigram.ID{2}, 3, 0.25)
	st.Add([]multigram.ID{2}, 3, 0.75)
	st.Add(nil, 3, 2.0)
	st.Add(nil, 4, 0.0) // ignored

	assert.Equal(t, 2, st.Size())
	assert.InDelta(t, 3.0, st.Total(), 1e-12)
	assert.InDelta(t, 2.0, st.Maximum(), 1e-12)
	assert.Equal(t, 1, st.MaximumHistoryLength())
}

func TestStoreMergeOrderIndependent(t *testing.T) {
	a := NewStore()
	a.Add([]multigram.ID{2, 3}, 4, 1.0)
	a.Add(nil, 2, 0.5)

	b := NewStore()
	b.Add(nil, 2, 1.5)
	b.Add([]multigram.ID{2, 3}, 4, 0.25)

	ab := NewStore()
	ab.Merge(a)
	ab.Merge(b)
	ba := NewStore()
	ba.Merge(b)
	ba.Merge(a)

	assert.Equal(t, ab.Consolidated(), ba.Consolidated())
}

func TestConsolidatedOrdering(t *testing.T) {
	st := NewStore()
	st.Add([]multigram.ID{3}, 2, 1.0)
	st.Add([]multigram.ID{2, 4}, 2, 1.0)
	st.Add([]multigram.ID{2}, 5, 1.0)
	st.Add([]multigram.ID{2}, 3, 1.0)
	st.Add(nil, 9, 1.0)

	got := st.Consolidated()
	require.Len(t, got, 5)
	// Lexicographic by history (shorter prefix first), then predicted.
	assert.Equal(t, []multigram.ID(nil), got[0].History)
	assert.Equal(t, []multigram.ID{2}, got[1].History)
	assert.Equal(t, multigram.ID(3), got[1].Predicted)
	assert.Equal(t, []multigram.ID{2}, got[2].History)
	assert.Equal(t, multigram.ID(5), got[2].Predicted)
	assert.Equal(t, []multigram.ID{2, 4}, got[3].History)
	assert.Equal(t, []multigram.ID{3}, got[4].History)
}

func TestZerogramEstimate(t *testing.T) {
	// No evidence at all: every token gets exactly 1/Q.
	est := NewEstimator(NewStore(), 1, 5)
	m := est.SequenceModel(nil)
	for tok := multigram.ID(1); tok <= 7; tok++ {
		assert.InDelta(t, 0.2, m.Probability(tok, m.Root()), 1e-12)
	}
}

func TestDiscountCarries(t *testing.T) {
	st := NewStore()
	st.Add([]multigram.ID{2}, 3, 0.4) // below the discount: moves wholly
	st.Add([]multigram.ID{2}, 4, 2.0) // above: leaves 1.5, carries 0.5
	est := NewEstimator(st, 1, 10)

	leveled := est.applyDiscounting([]float64{0.0, 0.5})
	require.Len(t, leveled, 2)

	require.Len(t, leveled[1].evidence, 1)
	assert.Equal(t, multigram.ID(4), leveled[1].evidence[0].Predicted)
	assert.InDelta(t, 1.5, leveled[1].evidence[0].Value, 1e-12)
	assert.InDelta(t, 2.4, leveled[1].totals[historyKey([]multigram.ID{2})], 1e-12)

	// Order 0 received 0.4 and 0.5 through the cascade.
	require.Len(t, leveled[0].evidence, 2)
	sum := leveled[0].evidence[0].Value + leveled[0].evidence[1].Value
	assert.InDelta(t, 0.9, sum, 1e-12)
}

func TestEstimateNormalized(t *testing.T) {
	// Mirrors the two-history setup of the original estimator tests:
	// evidence on (A,B)→X and (C,B)→Y, vocabulary of three tokens.
	const (
		tokA = multigram.ID(2)
		tokB = multigram.ID(3)
		tokC = multigram.ID(4)
		tokX = multigram.ID(5)
		tokY = multigram.ID(6)
		tokZ = multigram.ID(7)
	)
	st := NewStore()
	st.Add([]multigram.ID{tokA, tokB}, tokX, 3.0)
	st.Add([]multigram.ID{tokC, tokB}, tokY, 3.0)

	est := NewEstimator(st, 1, 3)
	m := est.SequenceModel([]float64{0.2, 0.5, 0.5})

	hists := []multigram.ID{tokA, tokB, tokC}
	preds := []multigram.ID{tokX, tokY, tokZ}
	for _, u := range hists {
		for _, v := range hists {
			sum := 0.0
			for _, w := range preds {
				score := m.ScoreHistory(w, []multigram.ID{u, v})
				require.False(t, math.IsInf(score, 1))
				sum += math.Exp(-score)
			}
			assert.InDelta(t, 1.0, sum, 1e-9, "history (%d,%d)", u, v)
		}
	}
}

func TestEstimateBackoffWeightInvariant(t *testing.T) {
	st := NewStore()
	st.Add([]multigram.ID{2}, 3, 4.0)
	st.Add([]multigram.ID{2}, 4, 1.0)
	st.Add(nil, 3, 2.0)
	est := NewEstimator(st, 1, 8)
	m := est.SequenceModel([]float64{0.25, 0.5})

	// For every node, the direct probabilities sum to at most one and the
	// back-off weight closes the gap through the suffix distribution.
	for _, s := range modelStates(m) {
		sumDirect := 0.0
		for tok := multigram.ID(1); tok <= 8; tok++ {
			if n := m.nodes[s]; n.direct != nil {
				if score, ok := n.direct[tok]; ok {
					sumDirect += math.Exp(-score)
				}
			}
		}
		assert.LessOrEqual(t, sumDirect, 1.0+1e-9)

		total := 0.0
		for tok := multigram.ID(1); tok <= 8; tok++ {
			total += m.Probability(tok, s)
		}
		assert.InDelta(t, 1.0, total, 1e-9)
	}
}

func modelStates(m *SequenceModel) []State {
	out := make([]State, m.NumStates())
	for i := range out {
		out[i] = State(i)
	}
	return out
}

func TestAnonymousNotPersisted(t *testing.T) {
	st := NewStore()
	st.Add(nil, 2, 3.0)
	st.Add(nil, multigram.Anonymous, 1.0)
	est := NewEstimator(st, 1, 4)
	m := est.SequenceModel(nil)

	for _, e := range m.Get() {
		assert.NotEqual(t, multigram.Anonymous, e.Predicted)
	}
	// The anonymous mass still weighed down the seen token's estimate.
	assert.Less(t, m.Probability(2, m.Root()), 0.9)
	assert.Greater(t, m.Probability(2, m.Root()), 0.7)
}
