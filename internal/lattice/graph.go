// Package lattice builds the per-sample estimation graph: the product of
// the monotone (left, right) alignment DAG with the reachable states of a
// sequence model, and runs the forward–backward and Viterbi accumulators
// over it.
//
// Graphs are arena-shaped: one node slice, one edge slice, ids only. A
// graph is built against a master model (which fixes its topology) and can
// have its edge weights rewritten from another model between iterations.
package lattice

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"g2p/internal/multigram"
	"g2p/internal/seqmodel"
	"g2p/internal/symbols"
)

// EmergenceMode controls what happens to multigram slices that are not in
// the inventory yet.
type EmergenceMode int

const (
	// Emerge assigns new ids freely; training may add multigrams.
	Emerge EmergenceMode = iota
	// Suppress drops edges whose multigram is unknown.
	Suppress
	// Anonymize routes unknown slices through one shared id, keeping
	// held-out data from polluting the inventory.
	Anonymize
)

var (
	// ErrNoSegmentation means the sample admits no path to the final node
	// under the current templates and emergence mode.
	ErrNoSegmentation = errors.New("final node not reachable")
	// ErrBadInput means a side contains a reserved symbol.
	ErrBadInput = errors.New("input contains reserved symbol")
)

// Builder constructs estimation graphs. Master supplies both the state
// topology and the initial edge weights.
type Builder struct {
	Templates []multigram.Template
	Mode      EmergenceMode
	Inventory *multigram.Inventory
	Master    *seqmodel.SequenceModel
}

type node struct {
	i, j  int
	state seqmodel.State
}

// Edge connects two product nodes with a multigram label and an additive
// −log p weight.
type Edge struct {
	Src, Tgt int
	Label    multigram.ID
	Weight   float64
}

// Graph is one sample's estimation lattice. The final node is always the
// last node; node 0 is the start.
type Graph struct {
	nodes  []node
	edges  []Edge // sorted topologically by source
	master *seqmodel.SequenceModel
	final  int
}

// NumNodes reports the node count including the final node.
func (g *Graph) NumNodes() int { return len(g.nodes) + 1 }

// NumEdges reports the edge count.
func (g *Graph) NumEdges() int { return len(g.edges) }

func (g *Graph) topo(n int) int {
	if n == g.final {
		return 1 << 30
	}
	return g.nodes[n].i + g.nodes[n].j
}

// history returns the master history conditioning edges out of node n.
func (g *Graph) history(n int) []multigram.ID {
	return g.master.History(g.nodes[n].state)
}

// Create builds the estimation graph for one parsed sample pair.
func (b *Builder) Create(left, right []symbols.ID) (*Graph, error) {
	for _, s := range left {
		if s == symbols.Void || s == symbols.Term {
			return nil, fmt.Errorf("%w: left side", ErrBadInput)
		}
	}
	for _, s := range right {
		if s == symbols.Void || s == symbols.Term {
			return nil, fmt.Errorf("%w: right side", ErrBadInput)
		}
	}

	m, n := len(left), len(right)
	term := b.Master.TermToken()

	g := &Graph{master: b.Master}
	index := make(map[int64]int)
	key := func(i, j int, s seqmodel.State) int64 {
		return (int64(i*(n+1)+j) << 32) | int64(s)
	}
	intern := func(i, j int, s seqmodel.State) int {
		k := key(i, j, s)
		if id, ok := index[k]; ok {
			return id
		}
		id := len(g.nodes)
		g.nodes = append(g.nodes, node{i, j, s})
		index[k] = id
		return id
	}

	start := intern(0, 0, b.Master.Initial())
	// Expansion order is breadth-first; every product node is expanded
	// exactly once.
	for cursor := start; cursor < len(g.nodes); cursor++ {
		nd := g.nodes[cursor]
		if nd.i == m && nd.j == n {
			continue // only the final edge leaves the sink positions
		}
		for _, t := range b.Templates {
			if nd.i+t.Left > m || nd.j+t.Right > n {
				continue
			}
			mg := multigram.Multigram{
				Left:  left[nd.i : nd.i+t.Left],
				Right: right[nd.j : nd.j+t.Right],
			}
			var label multigram.ID
			switch b.Mode {
			case Emerge:
				label = b.Inventory.Index(mg)
			case Suppress:
				id, ok := b.Inventory.Lookup(mg)
				if !ok {
					continue
				}
				label = id
			case Anonymize:
				if id, ok := b.Inventory.Lookup(mg); ok {
					label = id
				} else {
					label = multigram.Anonymous
				}
			}
			tgt := intern(nd.i+t.Left, nd.j+t.Right, b.Master.Advanced(nd.state, label))
			g.edges = append(g.edges, Edge{
				Src:    cursor,
				Tgt:    tgt,
				Label:  label,
				Weight: b.Master.Score(label, nd.state),
			})
		}
	}

	// The final node absorbs every (m, n, state) via a Term edge. It is
	// interned after all product nodes, so prune can spot final edges by
	// their out-of-range target.
	for id, nd := range g.nodes {
		if nd.i == m && nd.j == n {
			g.edges = append(g.edges, Edge{
				Src:    id,
				Tgt:    finalMark,
				Label:  term,
				Weight: b.Master.Score(term, nd.state),
			})
		}
	}

	if err := g.prune(start); err != nil {
		return nil, err
	}
	return g, nil
}

// prune drops every node without a path to the final node, compacts the
// arenas, and sorts edges topologically.
func (g *Graph) prune(start int) error {
	alive := make([]bool, len(g.nodes))
	outgoing := make([][]int, len(g.nodes))
	for i, e := range g.edges {
		outgoing[e.Src] = append(outgoing[e.Src], i)
	}

	// Reverse topological sweep over product nodes: a node lives iff one
	// of its edges reaches the final node or a live node.
	order := make([]int, len(g.nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return g.topoPos(order[a]) > g.topoPos(order[b]) })
	for _, id := range order {
		for _, ei := range outgoing[id] {
			e := g.edges[ei]
			if e.Tgt == finalMark || alive[e.Tgt] {
				alive[id] = true
				break
			}
		}
	}
	if !alive[start] {
		return ErrNoSegmentation
	}

	remap := make([]int, len(g.nodes))
	var kept []node
	for id, nd := range g.nodes {
		if alive[id] {
			remap[id] = len(kept)
			kept = append(kept, nd)
		} else {
			remap[id] = -1
		}
	}
	final := len(kept)
	var edges []Edge
	for _, e := range g.edges {
		if remap[e.Src] < 0 {
			continue
		}
		if e.Tgt == finalMark {
			edges = append(edges, Edge{remap[e.Src], final, e.Label, e.Weight})
			continue
		}
		if remap[e.Tgt] < 0 {
			continue
		}
		edges = append(edges, Edge{remap[e.Src], remap[e.Tgt], e.Label, e.Weight})
	}
	g.nodes = kept
	g.final = final
	g.edges = edges
	sort.SliceStable(g.edges, func(a, b int) bool {
		return g.topo(g.edges[a].Src) < g.topo(g.edges[b].Src)
	})
	return nil
}

func (g *Graph) topoPos(n int) int {
	return g.nodes[n].i + g.nodes[n].j
}

// Update rewrites all edge weights from the given model while keeping the
// master topology: each label is rescored against the full master history
// of its source state.
func (b *Builder) Update(g *Graph, model *seqmodel.SequenceModel) {
	for i := range g.edges {
		e := &g.edges[i]
		g.edges[i].Weight = model.ScoreHistory(e.Label, g.history(e.Src))
	}
}

// countPaths returns the number of distinct segmentations (paths from the
// start to the final node).
func (g *Graph) countPaths() int {
	counts := make([]float64, len(g.nodes)+1)
	counts[g.final] = 1
	for i := len(g.edges) - 1; i >= 0; i-- {
		e := g.edges[i]
		counts[e.Src] += counts[e.Tgt]
	}
	return int(counts[0])
}

// finalMark is the pre-prune target of Term edges; prune rewrites it to
// the interned final node.
const finalMark = math.MaxInt32

var negInf = math.Inf(-1)
