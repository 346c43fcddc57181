package multigram

import (
	"strings"

	"g2p/internal/symbols"
)

// Space ties a left and a right symbol inventory to one multigram
// inventory. The Term multigram ((Term),(Term)) is indexed first, so its
// id is fixed for the lifetime of the space.
type Space struct {
	Left      *symbols.Inventory
	Right     *symbols.Inventory
	Inventory *Inventory
	Term      ID
}

// NewSpace builds a space over fresh symbol inventories.
func NewSpace() *Space {
	return NewSpaceOver(symbols.NewInventory(), symbols.NewInventory())
}

// NewSpaceOver builds a space sharing existing symbol inventories. Used by
// strip and transpose, which renumber multigrams but keep the symbols.
func NewSpaceOver(left, right *symbols.Inventory) *Space {
	s := &Space{
		Left:      left,
		Right:     right,
		Inventory: NewInventory(),
	}
	s.Term = s.Inventory.Index(Multigram{
		Left:  []symbols.ID{symbols.Term},
		Right: []symbols.ID{symbols.Term},
	})
	return s
}

// CompilePair parses one external (left, right) string pair.
func (s *Space) CompilePair(left, right []string) ([]symbols.ID, []symbols.ID) {
	return s.Left.Parse(left), s.Right.Parse(right)
}

// Index parses a multigram given by its external spellings and returns its
// id, assigning one if unseen.
func (s *Space) Index(left, right []string) ID {
	return s.Inventory.Index(Multigram{
		Left:  s.Left.Parse(left),
		Right: s.Right.Parse(right),
	})
}

// Format returns the external spellings of the multigram stored under id.
func (s *Space) Format(id ID) (left, right []string) {
	m := s.Inventory.Symbol(id)
	return s.Left.Format(m.Left), s.Right.Format(m.Right)
}

// String renders a multigram the way training logs show it: left glued
// together, right joined by underscores.
func (s *Space) String(id ID) string {
	if id == Anonymous {
		return "<unk>"
	}
	left, right := s.Format(id)
	return strings.Join(left, "") + ":" + strings.Join(right, "_")
}

// PossibleMultigrams counts how many distinct multigrams the templates
// admit over the current symbol inventories, plus one for Term. This is Q,
// the denominator of the zerogram distribution.
func (s *Space) PossibleMultigrams(templates []Template) float64 {
	nLeft := float64(s.Left.Size() - 1)   // excluding Term
	nRight := float64(s.Right.Size() - 1) // excluding Term
	total := 0.0
	for _, t := range templates {
		total += pow(nLeft, t.Left) * pow(nRight, t.Right)
	}
	return total + 1 // Term
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
