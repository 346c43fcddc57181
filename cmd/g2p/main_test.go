package main

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"g2p/internal/model"
	"g2p/internal/multigram"
	"g2p/internal/samples"
	"g2p/internal/seqmodel"
	"g2p/internal/training"
	"g2p/internal/translate"
)

func TestExitCodes(t *testing.T) {
	assert.Equal(t, exitUsage, exitCode(training.ErrConfig))
	assert.Equal(t, exitUsage, exitCode(training.ErrNoModel))
	assert.Equal(t, exitUsage, exitCode(multigram.ErrBadSizeConstraints))
	assert.Equal(t, exitIO, exitCode(ioError{fmt.Errorf("disk on fire")}))
	assert.Equal(t, exitUsage, exitCode(fmt.Errorf("anything else")))
}

func TestSplitInput(t *testing.T) {
	applyOpts.p2p = false
	assert.Equal(t, []string{"a", "b", "c"}, splitInput("abc"))

	applyOpts.p2p = true
	assert.Equal(t, []string{"ab", "c"}, splitInput("ab c"))
	applyOpts.p2p = false
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	space := multigram.NewSpace()
	aA := space.Index([]string{"a"}, []string{"A"})
	sm := seqmodel.New()
	sm.SetInitAndTerm(space.Term, space.Term)
	sm.Set([]seqmodel.Entry{
		{History: nil, Predicted: aA, Score: -math.Log(0.6)},
		{History: nil, Predicted: space.Term, Score: -math.Log(0.4)},
	})
	return &model.Model{Space: space, SequenceModel: sm}
}

func TestErrorRateObserver(t *testing.T) {
	m := testModel(t)
	pairs := []samples.Pair{
		{Left: []string{"a"}, Right: []string{"A"}}, // correct
		{Left: []string{"a"}, Right: []string{"B"}}, // variant, also counts as correct
	}
	var buf bytes.Buffer
	c := &training.Context{Log: &buf}
	errorRateObserver("devel", pairs)(c, m)
	assert.Contains(t, buf.String(), "ER devel: string errors 0/1")
}

func TestApplyVariantsOutput(t *testing.T) {
	m := testModel(t)
	tr := translate.New(m)
	nb, err := tr.NBest([]string{"a"})
	require.NoError(t, err)
	_, ll, err := nb.Next()
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.6*0.4), ll, 1e-12)
}
