// Package symbols maps external tokens (graphemes, phonemes) to small dense
// integer ids. Id 0 is Void, an internal sentinel that is never emitted;
// id 1 is Term, which marks both the beginning and the end of a string.
package symbols

import "fmt"

// ID is a dense symbol index.
type ID int

const (
	// Void is an internal sentinel, never part of any string.
	Void ID = 0
	// Term is the end-of-string symbol, also used as begin-of-string.
	Term ID = 1
)

const (
	voidSpelling = "__void__"
	termSpelling = "__term__"
)

// Inventory is an append-only bijection between symbols and ids. Void and
// Term are pre-inserted. Writes are not safe for concurrent use; once
// writes stop, concurrent reads are safe.
type Inventory struct {
	list []string
	dir  map[string]ID
}

// NewInventory returns an inventory holding only Void and Term.
func NewInventory() *Inventory {
	return &Inventory{
		list: []string{voidSpelling, termSpelling},
		dir:  map[string]ID{termSpelling: Term},
	}
}

// Size is the number of symbols, counting Term but not Void.
func (inv *Inventory) Size() int {
	return len(inv.list) - 1
}

// Index returns the id of sym, assigning the next free id if sym is unseen.
// Repeated calls return the same id.
func (inv *Inventory) Index(sym string) ID {
	if id, ok := inv.dir[sym]; ok {
		return id
	}
	id := ID(len(inv.list))
	inv.dir[sym] = id
	inv.list = append(inv.list, sym)
	return id
}

// Lookup returns the id of sym without assigning one.
func (inv *Inventory) Lookup(sym string) (ID, bool) {
	id, ok := inv.dir[sym]
	return id, ok
}

// Symbol returns the external spelling of id.
func (inv *Inventory) Symbol(id ID) string {
	if id < 0 || int(id) >= len(inv.list) {
		return fmt.Sprintf("__bad_%d__", int(id))
	}
	return inv.list[id]
}

// Parse indexes every token of seq in order.
func (inv *Inventory) Parse(seq []string) []ID {
	out := make([]ID, len(seq))
	for i, sym := range seq {
		out[i] = inv.Index(sym)
	}
	return out
}

// Format maps ids back to their spellings.
func (inv *Inventory) Format(seq []ID) []string {
	out := make([]string, len(seq))
	for i, id := range seq {
		out[i] = inv.Symbol(id)
	}
	return out
}

// Symbols returns the spellings of all symbols after Void and Term, in
// insertion order. Used by model persistence.
func (inv *Inventory) Symbols() []string {
	out := make([]string, len(inv.list)-2)
	copy(out, inv.list[2:])
	return out
}

// Restore rebuilds an inventory from a persisted symbol list.
func Restore(syms []string) *Inventory {
	inv := NewInventory()
	for _, sym := range syms {
		inv.Index(sym)
	}
	return inv
}
