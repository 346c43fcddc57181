package model

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"g2p/internal/multigram"
	"g2p/internal/seqmodel"
	"g2p/internal/symbols"
)

// ErrBadArtifact reports an unreadable or unsupported model file.
var ErrBadArtifact = errors.New("unsupported model artifact")

// payload is the serialised form of one model. The sequence-model rows
// keep the void id in the predicted slot to mark back-off weights.
type payload struct {
	LeftSymbols  []string
	RightSymbols []string
	Multigrams   []persistedMultigram
	Entries      []persistedEntry
	Discount     []float64
}

type persistedMultigram struct {
	Left  []int
	Right []int
}

type persistedEntry struct {
	History   []int
	Predicted int
	Score     float64
}

// envelope wraps the payload. Older artifacts stored a one-component
// mixture; loading accepts both shapes and picks the sole component.
type envelope struct {
	Version    int
	Model      *payload
	Components []payload
}

// Encode writes the model to w.
func Encode(w io.Writer, m *Model) error {
	env := envelope{Version: 1, Model: pack(m)}
	if err := gob.NewEncoder(w).Encode(&env); err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	return nil
}

// Decode reads a model from r, accepting both the flat envelope and the
// legacy single-component mixture.
func Decode(r io.Reader) (*Model, error) {
	var env envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	switch {
	case env.Model != nil:
		return unpack(env.Model)
	case len(env.Components) == 1:
		return unpack(&env.Components[0])
	case len(env.Components) > 1:
		return nil, fmt.Errorf("%w: mixture models with %d components are not supported", ErrBadArtifact, len(env.Components))
	}
	return nil, fmt.Errorf("%w: empty envelope", ErrBadArtifact)
}

// Save strips nothing and writes atomically: the artifact lands under a
// temporary name first and is renamed into place.
func Save(path string, m *Model) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, m); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	return nil
}

// Load reads a model file.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func pack(m *Model) *payload {
	p := &payload{
		LeftSymbols:  m.Space.Left.Symbols(),
		RightSymbols: m.Space.Right.Symbols(),
		Discount:     m.Discount,
	}
	inv := m.Space.Inventory
	// Multigram 1 is Term, implied by reconstruction; persist the rest.
	for id := multigram.ID(2); int(id) <= inv.Size(); id++ {
		mg := inv.Symbol(id)
		p.Multigrams = append(p.Multigrams, persistedMultigram{
			Left:  toInts(mg.Left),
			Right: toInts(mg.Right),
		})
	}
	for _, e := range m.SequenceModel.Get() {
		pe := persistedEntry{Predicted: int(e.Predicted), Score: e.Score}
		for _, h := range e.History {
			pe.History = append(pe.History, int(h))
		}
		p.Entries = append(p.Entries, pe)
	}
	return p
}

func unpack(p *payload) (*Model, error) {
	space := multigram.NewSpace()
	for _, s := range p.LeftSymbols {
		space.Left.Index(s)
	}
	for _, s := range p.RightSymbols {
		space.Right.Index(s)
	}
	for i, mg := range p.Multigrams {
		id := space.Inventory.Index(multigram.Multigram{
			Left:  toIDs(mg.Left),
			Right: toIDs(mg.Right),
		})
		if int(id) != i+2 {
			return nil, fmt.Errorf("%w: multigram %d renumbered to %d", ErrBadArtifact, i+2, id)
		}
	}

	entries := make([]seqmodel.Entry, 0, len(p.Entries))
	for _, pe := range p.Entries {
		e := seqmodel.Entry{Predicted: multigram.ID(pe.Predicted), Score: pe.Score}
		for _, h := range pe.History {
			e.History = append(e.History, multigram.ID(h))
		}
		entries = append(entries, e)
	}
	sm := seqmodel.New()
	sm.SetInitAndTerm(space.Term, space.Term)
	sm.Set(entries)

	return &Model{Space: space, SequenceModel: sm, Discount: p.Discount}, nil
}

func toInts(ids []symbols.ID) []int {
	out := make([]int, len(ids))
	for i, v := range ids {
		out[i] = int(v)
	}
	return out
}

func toIDs(vs []int) []symbols.ID {
	out := make([]symbols.ID, len(vs))
	for i, v := range vs {
		out[i] = symbols.ID(v)
	}
	return out
}
