// Package model ties the paired inventories, the sequence model and the
// discount vector into the unit that training produces and the decoder
// consumes, and persists it as one opaque artifact.
package model

import (
	"fmt"

	"g2p/internal/multigram"
	"g2p/internal/seqmodel"
)

// Model is a trained joint-sequence model.
type Model struct {
	Space         *multigram.Space
	SequenceModel *seqmodel.SequenceModel
	Discount      []float64
}

// Strip rebuilds the multigram inventory so that it contains exactly the
// multigrams referenced by the sequence model, renumbered contiguously.
// Returns the old and new inventory sizes.
func (m *Model) Strip() (oldSize, newSize int) {
	oldSpace := m.Space
	oldSize = oldSpace.Inventory.Size()

	fresh := multigram.NewSpaceOver(oldSpace.Left, oldSpace.Right)
	remap := func(id multigram.ID) multigram.ID {
		return fresh.Inventory.Index(oldSpace.Inventory.Symbol(id))
	}

	entries := m.SequenceModel.Get()
	out := make([]seqmodel.Entry, 0, len(entries))
	for _, e := range entries {
		history := make([]multigram.ID, len(e.History))
		for i, id := range e.History {
			history[i] = remap(id)
		}
		predicted := e.Predicted
		if predicted != multigram.Void {
			predicted = remap(predicted)
		}
		out = append(out, seqmodel.Entry{History: history, Predicted: predicted, Score: e.Score})
	}

	sm := seqmodel.New()
	sm.SetInitAndTerm(fresh.Term, fresh.Term)
	sm.Set(out)

	m.Space = fresh
	m.SequenceModel = sm
	return oldSize, fresh.Inventory.Size()
}

// Transpose swaps the left and right sides, turning a G2P model into a
// P2G model. Multigram ids are preserved, so the sequence model carries
// over untouched.
func (m *Model) Transpose() error {
	oldInv := m.Space.Inventory
	fresh := multigram.NewSpaceOver(m.Space.Right, m.Space.Left)
	for id := multigram.ID(1); int(id) <= oldInv.Size(); id++ {
		mg := oldInv.Symbol(id)
		swapped := fresh.Inventory.Index(multigram.Multigram{Left: mg.Right, Right: mg.Left})
		if swapped != id {
			return fmt.Errorf("transpose renumbered multigram %d to %d", id, swapped)
		}
	}
	m.Space = fresh
	return nil
}

// RampUp extends the sequence-model skeleton by one order.
func (m *Model) RampUp() {
	m.SequenceModel.RampUp()
}

// WipeOut resets all conditionals to the uniform zerogram while keeping
// the history skeleton.
func (m *Model) WipeOut(q float64) {
	m.SequenceModel.WipeOut(q)
}
