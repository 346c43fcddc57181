package model

import (
	"bytes"
	"encoding/gob"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"g2p/internal/multigram"
	"g2p/internal/seqmodel"
)

// fixture builds a small model over three multigrams, of which one is
// never referenced by the sequence model.
func fixture(t *testing.T) *Model {
	t.Helper()
	space := multigram.NewSpace()
	used := space.Index([]string{"a"}, []string{"A"})
	stray := space.Index([]string{"z"}, []string{"Z"})
	other := space.Index([]string{"b"}, []string{"B"})
	require.Equal(t, multigram.ID(3), stray)

	sm := seqmodel.New()
	sm.SetInitAndTerm(space.Term, space.Term)
	sm.Set([]seqmodel.Entry{
		{History: nil, Predicted: multigram.Void, Score: math.Log(6)},
		{History: nil, Predicted: used, Score: 0.9},
		{History: nil, Predicted: space.Term, Score: 1.8},
		{History: []multigram.ID{used}, Predicted: other, Score: 0.4},
	})
	return &Model{Space: space, SequenceModel: sm, Discount: []float64{0.3, 0.1}}
}

func TestStripDropsUnreferenced(t *testing.T) {
	m := fixture(t)
	oldSize, newSize := m.Strip()
	assert.Equal(t, 4, oldSize)
	assert.Equal(t, 3, newSize)

	// Every id in the stripped model resolves in the new inventory.
	for _, e := range m.SequenceModel.Get() {
		if e.Predicted != multigram.Void {
			assert.LessOrEqual(t, int(e.Predicted), m.Space.Inventory.Size())
		}
		for _, h := range e.History {
			assert.LessOrEqual(t, int(h), m.Space.Inventory.Size())
		}
	}
	_, ok := m.Space.Inventory.Lookup(multigram.Multigram{
		Left:  m.Space.Left.Parse([]string{"z"}),
		Right: m.Space.Right.Parse([]string{"Z"}),
	})
	assert.False(t, ok, "stray multigram must be gone")
}

func TestStripPreservesScores(t *testing.T) {
	m := fixture(t)
	before := m.SequenceModel.Get()
	m.Strip()
	after := m.SequenceModel.Get()
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-15)
	}
}

func TestTransposeKeepsIds(t *testing.T) {
	m := fixture(t)
	right, left := m.Space.Format(2) // (a, A) seen from the transposed side
	require.NoError(t, m.Transpose())

	gotLeft, gotRight := m.Space.Format(2)
	assert.Equal(t, left, gotLeft)
	assert.Equal(t, right, gotRight)
	assert.Equal(t, multigram.Term, m.Space.Term)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := fixture(t)
	path := filepath.Join(t.TempDir(), "test.model")
	require.NoError(t, Save(path, m))

	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, m.Discount, got.Discount)
	assert.Equal(t, m.Space.Inventory.Size(), got.Space.Inventory.Size())

	want := m.SequenceModel.Get()
	have := got.SequenceModel.Get()
	require.Equal(t, len(want), len(have))
	for i := range want {
		assert.Equal(t, want[i].History, have[i].History)
		assert.Equal(t, want[i].Predicted, have[i].Predicted)
		assert.InDelta(t, want[i].Score, have[i].Score, 1e-12)
	}

	// Re-persisting yields semantically identical data.
	path2 := filepath.Join(t.TempDir(), "again.model")
	require.NoError(t, Save(path2, got))
	again, err := Load(path2)
	require.NoError(t, err)
	assert.Equal(t, have, again.SequenceModel.Get())
}

func TestLoadLegacyMixture(t *testing.T) {
	m := fixture(t)
	env := envelope{Version: 1, Components: []payload{*pack(m)}}
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&env))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Space.Inventory.Size(), got.Space.Inventory.Size())

	env = envelope{Version: 1, Components: []payload{*pack(m), *pack(m)}}
	buf.Reset()
	require.NoError(t, gob.NewEncoder(&buf).Encode(&env))
	_, err = Decode(&buf)
	assert.ErrorIs(t, err, ErrBadArtifact)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.model"))
	assert.Error(t, err)
}
