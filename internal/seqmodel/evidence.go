package seqmodel

import (
	"sort"

	"g2p/internal/multigram"
)

// Evidence is a fractional count harvested during the E-step: History
// preceded Predicted with expected count Value.
type Evidence struct {
	History   []multigram.ID
	Predicted multigram.ID
	Value     float64
}

type evidenceKey struct {
	history   string
	predicted multigram.ID
}

// Store accumulates evidences, merging identical (history, predicted)
// keys by addition. Combination is insertion-order independent, so shards
// filled concurrently can be merged and still consolidate to the same
// result.
type Store struct {
	entries map[evidenceKey]*Evidence
}

// NewStore returns an empty evidence store.
func NewStore() *Store {
	return &Store{entries: make(map[evidenceKey]*Evidence)}
}

// Add merges value into the (history, predicted) key. Zero and negative
// values are ignored; posteriors are never negative.
func (st *Store) Add(history []multigram.ID, predicted multigram.ID, value float64) {
	if value <= 0 {
		return
	}
	k := evidenceKey{historyKey(history), predicted}
	if e, ok := st.entries[k]; ok {
		e.Value += value
		return
	}
	st.entries[k] = &Evidence{
		History:   append([]multigram.ID(nil), history...),
		Predicted: predicted,
		Value:     value,
	}
}

// Merge folds another store into this one.
func (st *Store) Merge(other *Store) {
	for k, e := range other.entries {
		if mine, ok := st.entries[k]; ok {
			mine.Value += e.Value
		} else {
			st.entries[k] = &Evidence{History: e.History, Predicted: e.Predicted, Value: e.Value}
		}
	}
}

// Size is the number of distinct (history, predicted) keys.
func (st *Store) Size() int { return len(st.entries) }

// Total sums all evidence values.
func (st *Store) Total() float64 {
	total := 0.0
	for _, e := range st.entries {
		total += e.Value
	}
	return total
}

// Maximum returns the largest single evidence value.
func (st *Store) Maximum() float64 {
	max := 0.0
	for _, e := range st.entries {
		if e.Value > max {
			max = e.Value
		}
	}
	return max
}

// MaximumHistoryLength is the evidence order: the longest history seen.
func (st *Store) MaximumHistoryLength() int {
	max := 0
	for _, e := range st.entries {
		if len(e.History) > max {
			max = len(e.History)
		}
	}
	return max
}

// Consolidated returns the evidences sorted lexicographically by
// (history, predicted). Discounting iterates this order, which makes
// estimation reproducible regardless of sample-processing order.
func (st *Store) Consolidated() []Evidence {
	out := make([]Evidence, 0, len(st.entries))
	for _, e := range st.entries {
		out = append(out, *e)
	}
	sortEvidences(out)
	return out
}

func sortEvidences(evs []Evidence) {
	sort.Slice(evs, func(i, j int) bool {
		if c := compareHistoriesLex(evs[i].History, evs[j].History); c != 0 {
			return c < 0
		}
		return evs[i].Predicted < evs[j].Predicted
	})
}

// compareHistoriesLex orders element-wise with a shorter prefix first.
func compareHistoriesLex(a, b []multigram.ID) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// ByOrder splits the consolidated evidences by history length, index k
// holding the order-k evidences. The slice always spans 0..maximum order.
func (st *Store) ByOrder() [][]Evidence {
	maxLen := st.MaximumHistoryLength()
	out := make([][]Evidence, maxLen+1)
	for _, e := range st.Consolidated() {
		out[len(e.History)] = append(out[len(e.History)], e)
	}
	return out
}
