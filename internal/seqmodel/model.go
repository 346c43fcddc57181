// Package seqmodel holds the variable-order back-off sequence model over
// multigram ids, the evidence store filled by the accumulators, and the
// discounting estimator that turns evidence into a new model.
//
// Histories are stored oldest-first; backing off drops the most distant
// element (history[0]). A node's back-off weight is kept as the entry whose
// predicted token is the void id.
package seqmodel

import (
	"math"
	"sort"
	"strings"

	"g2p/internal/multigram"
)

// Entry is one row of a sequence model: −log p of predicting Predicted
// after History. Predicted == multigram.Void marks the node's back-off
// weight instead.
type Entry struct {
	History   []multigram.ID
	Predicted multigram.ID
	Score     float64
}

// State identifies a model node during traversal.
type State int

type node struct {
	history []multigram.ID
	bow     float64
	hasBow  bool
	direct  map[multigram.ID]float64
}

// SequenceModel is a compiled back-off distribution. It is immutable after
// Set and safe for concurrent readers.
type SequenceModel struct {
	nodes []node
	index map[string]State
	init  multigram.ID
	term  multigram.ID
}

// New returns an empty model containing only the root node. An empty model
// assigns probability zero to everything.
func New() *SequenceModel {
	m := &SequenceModel{index: make(map[string]State)}
	m.addNode(nil)
	return m
}

func historyKey(h []multigram.ID) string {
	var b strings.Builder
	for _, t := range h {
		v := int(t) + 2 // keep Anonymous (-1) encodable
		for v >= 0x80 {
			b.WriteByte(byte(v&0x7f) | 0x80)
			v >>= 7
		}
		b.WriteByte(byte(v))
	}
	return b.String()
}

func (m *SequenceModel) addNode(h []multigram.ID) State {
	k := historyKey(h)
	if s, ok := m.index[k]; ok {
		return s
	}
	s := State(len(m.nodes))
	m.nodes = append(m.nodes, node{history: h, direct: make(map[multigram.ID]float64)})
	m.index[k] = s
	return s
}

// SetInitAndTerm fixes the begin- and end-of-sequence tokens.
func (m *SequenceModel) SetInitAndTerm(init, term multigram.ID) {
	m.init = init
	m.term = term
}

// InitToken returns the begin-of-sequence token.
func (m *SequenceModel) InitToken() multigram.ID { return m.init }

// TermToken returns the end-of-sequence token.
func (m *SequenceModel) TermToken() multigram.ID { return m.term }

// Set replaces the model contents with the given entries.
func (m *SequenceModel) Set(entries []Entry) {
	m.nodes = m.nodes[:0]
	m.index = make(map[string]State)
	m.addNode(nil)
	for _, e := range entries {
		s := m.addNode(append([]multigram.ID(nil), e.History...))
		n := &m.nodes[s]
		if e.Predicted == multigram.Void {
			n.bow = e.Score
			n.hasBow = true
		} else {
			n.direct[e.Predicted] = e.Score
		}
	}
}

// Get dumps all entries in a deterministic order: by history length, then
// history, then predicted token, with the back-off entry first per node.
func (m *SequenceModel) Get() []Entry {
	var out []Entry
	for _, n := range m.nodes {
		if n.hasBow {
			out = append(out, Entry{n.history, multigram.Void, n.bow})
		}
		toks := make([]multigram.ID, 0, len(n.direct))
		for t := range n.direct {
			toks = append(toks, t)
		}
		sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
		for _, t := range toks {
			out = append(out, Entry{n.history, t, n.direct[t]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareHistories(out[i].History, out[j].History) < 0
	})
	return out
}

func compareHistories(a, b []multigram.ID) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Size is the number of entries, counting back-off weights.
func (m *SequenceModel) Size() int {
	total := 0
	for _, n := range m.nodes {
		total += len(n.direct)
		if n.hasBow {
			total++
		}
	}
	return total
}

// Histories returns every node history present in the model. Used to build
// the master-model skeleton.
func (m *SequenceModel) Histories() [][]multigram.ID {
	out := make([][]multigram.ID, len(m.nodes))
	for i, n := range m.nodes {
		out[i] = n.history
	}
	return out
}

// History returns the history identifying state s.
func (m *SequenceModel) History(s State) []multigram.ID {
	return m.nodes[s].history
}

// Root returns the zerogram state.
func (m *SequenceModel) Root() State { return 0 }

// Initial returns the state conditioned on the begin-of-sequence token.
func (m *SequenceModel) Initial() State {
	return m.Advanced(0, m.init)
}

// Advanced returns the state whose history is the longest suffix of
// history(s)·tok that exists as a node.
func (m *SequenceModel) Advanced(s State, tok multigram.ID) State {
	h := m.nodes[s].history
	full := make([]multigram.ID, len(h)+1)
	copy(full, h)
	full[len(h)] = tok
	for start := 0; start <= len(full); start++ {
		if next, ok := m.index[historyKey(full[start:])]; ok {
			return next
		}
	}
	return 0
}

// NumStates reports how many distinct states the model has.
func (m *SequenceModel) NumStates() int { return len(m.nodes) }

// Score returns −log p(tok | state) under the back-off closure, or +Inf
// when the probability is zero.
func (m *SequenceModel) Score(tok multigram.ID, s State) float64 {
	return m.ScoreHistory(tok, m.nodes[s].history)
}

// ScoreHistory resolves −log p(tok | history) for an arbitrary history,
// walking the suffix chain. Histories need not correspond to nodes of this
// model: missing nodes contribute no back-off penalty. This is what lets a
// master-model topology be scored under the current model.
func (m *SequenceModel) ScoreHistory(tok multigram.ID, history []multigram.ID) float64 {
	acc := 0.0
	h := history
	for {
		if n, ok := m.lookup(h); ok {
			if score, ok := n.direct[tok]; ok {
				return acc + score
			}
			if len(h) == 0 {
				if n.hasBow {
					return acc + n.bow
				}
				return math.Inf(1)
			}
			if n.hasBow {
				acc += n.bow
			}
		} else if len(h) == 0 {
			return math.Inf(1)
		}
		h = h[1:]
	}
}

func (m *SequenceModel) lookup(h []multigram.ID) (*node, bool) {
	if s, ok := m.index[historyKey(h)]; ok {
		return &m.nodes[s], true
	}
	return nil, false
}

// Probability returns p(tok | state).
func (m *SequenceModel) Probability(tok multigram.ID, s State) float64 {
	score := m.Score(tok, s)
	if math.IsInf(score, 1) {
		return 0
	}
	return math.Exp(-score)
}

// SetZerogram replaces the model with the oblivious distribution 1/Q.
func (m *SequenceModel) SetZerogram(q float64) {
	m.Set([]Entry{{nil, multigram.Void, math.Log(q)}})
}

// RampUp inserts a bare back-off node (weight 1) for every observed
// (history, token) pair whose extended history is not a node yet. This
// prepares the skeleton to learn one deeper order of conditionals.
func (m *SequenceModel) RampUp() {
	entries := m.Get()
	fresh := make(map[string][]multigram.ID)
	for _, e := range entries {
		if e.Predicted == multigram.Void {
			continue
		}
		extended := make([]multigram.ID, len(e.History)+1)
		copy(extended, e.History)
		extended[len(e.History)] = e.Predicted
		k := historyKey(extended)
		if _, exists := m.index[k]; !exists {
			fresh[k] = extended
		}
	}
	keys := make([]string, 0, len(fresh))
	for k := range fresh {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entries = append(entries, Entry{fresh[k], multigram.Void, 0.0})
	}
	m.Set(entries)
}

// WipeOut resets all conditionals to the zerogram 1/Q while keeping the
// history skeleton as bare back-off nodes.
func (m *SequenceModel) WipeOut(q float64) {
	entries := []Entry{{nil, multigram.Void, math.Log(q)}}
	for _, h := range m.Histories() {
		if len(h) > 0 {
			entries = append(entries, Entry{h, multigram.Void, 0.0})
		}
	}
	m.Set(entries)
}
