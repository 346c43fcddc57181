package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRoundTrip(t *testing.T) {
	inv := NewInventory()

	// Void and Term occupy ids 0 and 1, so the first user symbols get 2, 3.
	assert.Equal(t, ID(2), inv.Index("abc"))
	assert.Equal(t, ID(3), inv.Index("de"))
	assert.Equal(t, "de", inv.Symbol(3))
	assert.Equal(t, "abc", inv.Symbol(2))
}

func TestIndexIdempotent(t *testing.T) {
	inv := NewInventory()
	first := inv.Index("x")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, inv.Index("x"))
	}
	assert.Equal(t, Term, inv.Index("__term__"))
}

func TestSizeCountsTermNotVoid(t *testing.T) {
	inv := NewInventory()
	assert.Equal(t, 1, inv.Size())
	inv.Index("a")
	inv.Index("b")
	assert.Equal(t, 3, inv.Size())
}

func TestParseFormat(t *testing.T) {
	inv := NewInventory()
	ids := inv.Parse([]string{"a", "b", "a"})
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, []string{"a", "b", "a"}, inv.Format(ids))
}

func TestRestore(t *testing.T) {
	inv := NewInventory()
	inv.Index("a")
	inv.Index("b")

	restored := Restore(inv.Symbols())
	assert.Equal(t, inv.Size(), restored.Size())
	id, ok := restored.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, inv.dir["b"], id)
}
