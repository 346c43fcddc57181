package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"g2p/internal/multigram"
	"g2p/internal/seqmodel"
	"g2p/internal/symbols"
)

func obliviousModel(space *multigram.Space, q float64) *seqmodel.SequenceModel {
	m := seqmodel.New()
	m.SetInitAndTerm(space.Term, space.Term)
	m.SetZerogram(q)
	return m
}

func newBuilder(space *multigram.Space, mode EmergenceMode, model *seqmodel.SequenceModel) *Builder {
	return &Builder{
		Templates: multigram.DefaultTemplates(),
		Mode:      mode,
		Inventory: space.Inventory,
		Master:    model,
	}
}

func TestCreateReachability(t *testing.T) {
	space := multigram.NewSpace()
	left := space.Left.Parse([]string{"a", "b", "c"})
	right := space.Right.Parse([]string{"X", "Y"})
	b := newBuilder(space, Emerge, obliviousModel(space, 10))

	g, err := b.Create(left, right)
	require.NoError(t, err)
	assert.Greater(t, g.NumEdges(), 0)
	// At least three distinct segmentations of a 3:2 pair under the
	// singular/insertion/deletion templates.
	assert.GreaterOrEqual(t, g.countPaths(), 3)
}

func TestCreateRejectsReservedSymbols(t *testing.T) {
	space := multigram.NewSpace()
	b := newBuilder(space, Emerge, obliviousModel(space, 10))

	_, err := b.Create([]symbols.ID{symbols.Term}, space.Right.Parse([]string{"X"}))
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestSuppressDropsUnknown(t *testing.T) {
	space := multigram.NewSpace()
	left := space.Left.Parse([]string{"a"})
	right := space.Right.Parse([]string{"X"})

	// Empty inventory: nothing can label any edge.
	b := newBuilder(space, Suppress, obliviousModel(space, 10))
	_, err := b.Create(left, right)
	assert.ErrorIs(t, err, ErrNoSegmentation)

	// Once the (a, X) multigram exists the sample is reachable again.
	space.Index([]string{"a"}, []string{"X"})
	g, err := b.Create(left, right)
	require.NoError(t, err)
	assert.Equal(t, 1, g.countPaths())
}

func TestAnonymizeKeepsInventoryClean(t *testing.T) {
	space := multigram.NewSpace()
	space.Index([]string{"a"}, []string{"X"})
	size := space.Inventory.Size()

	left := space.Left.Parse([]string{"a", "b"})
	right := space.Right.Parse([]string{"X"})
	b := newBuilder(space, Anonymize, obliviousModel(space, 10))

	g, err := b.Create(left, right)
	require.NoError(t, err)
	assert.Equal(t, size, space.Inventory.Size(), "anonymize must not extend the inventory")

	anonymous := false
	for _, e := range g.edges {
		if e.Label == multigram.Anonymous {
			anonymous = true
		}
	}
	assert.True(t, anonymous)
}

func TestAccumulateMonograms(t *testing.T) {
	// Three one-symbol pairs under the oblivious zerogram: the direct
	// (1,1) alignment takes posterior 0.6, each epsilon route 0.4, and
	// Term collects one unit per sample.
	space := multigram.NewSpace()
	model := obliviousModel(space, 3)
	b := newBuilder(space, Emerge, model)

	store := seqmodel.NewStore()
	acc := &Accumulator{Target: store}
	logLik := 0.0
	for _, c := range []string{"a", "b", "c"} {
		g, err := b.Create(space.Left.Parse([]string{c}), space.Right.Parse([]string{c}))
		require.NoError(t, err)
		logLik += acc.Accumulate(g, 1.0)
	}
	assert.Less(t, logLik, 0.0)

	for _, e := range store.Consolidated() {
		m := space.Inventory.Symbol(e.Predicted)
		switch {
		case e.Predicted == space.Term:
			assert.InDelta(t, 3.0, e.Value, 1e-9)
		case len(m.Left) == 1 && len(m.Right) == 1:
			assert.InDelta(t, 0.6, e.Value, 1e-9)
		default:
			assert.InDelta(t, 0.4, e.Value, 1e-9)
		}
	}
}

func TestViterbiPicksBestPath(t *testing.T) {
	space := multigram.NewSpace()
	model := obliviousModel(space, 3)
	b := newBuilder(space, Emerge, model)

	g, err := b.Create(space.Left.Parse([]string{"a"}), space.Right.Parse([]string{"X"}))
	require.NoError(t, err)

	store := seqmodel.NewStore()
	vit := &ViterbiAccumulator{Target: store}
	logLik := vit.Accumulate(g, 1.0)

	// The direct alignment is one edge shorter, hence strictly better
	// under the uniform model.
	direct, ok := space.Inventory.Lookup(multigram.Multigram{
		Left:  space.Left.Parse([]string{"a"}),
		Right: space.Right.Parse([]string{"X"}),
	})
	require.True(t, ok)

	sum := &Accumulator{}
	assert.LessOrEqual(t, logLik, sum.LogLik(g)+1e-9, "max path cannot beat the path sum")

	var labels []multigram.ID
	for _, e := range store.Consolidated() {
		assert.InDelta(t, 1.0, e.Value, 1e-12)
		labels = append(labels, e.Predicted)
	}
	assert.Contains(t, labels, direct)
	assert.Contains(t, labels, space.Term)
	assert.Len(t, labels, 2)
}

func TestUpdateRewritesWeights(t *testing.T) {
	space := multigram.NewSpace()
	master := obliviousModel(space, 4)
	b := newBuilder(space, Emerge, master)

	g, err := b.Create(space.Left.Parse([]string{"a"}), space.Right.Parse([]string{"X"}))
	require.NoError(t, err)
	before := (&Accumulator{}).LogLik(g)

	sharper := seqmodel.New()
	sharper.SetInitAndTerm(space.Term, space.Term)
	sharper.SetZerogram(2)
	b.Update(g, sharper)
	after := (&Accumulator{}).LogLik(g)

	assert.Greater(t, after, before)
}

func TestPosteriorsSumToPathExpectation(t *testing.T) {
	// Over any lattice the Term posterior is exactly the sample weight.
	space := multigram.NewSpace()
	model := obliviousModel(space, 5)
	b := newBuilder(space, Emerge, model)

	g, err := b.Create(space.Left.Parse([]string{"a", "b"}), space.Right.Parse([]string{"X", "Y"}))
	require.NoError(t, err)

	store := seqmodel.NewStore()
	(&Accumulator{Target: store}).Accumulate(g, 2.0)
	termTotal := 0.0
	for _, e := range store.Consolidated() {
		if e.Predicted == space.Term {
			termTotal += e.Value
		}
	}
	assert.InDelta(t, 2.0, termTotal, 1e-9)
}
