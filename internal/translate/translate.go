// Package translate decodes left strings into right strings with a
// trained joint-sequence model: a best-first stack search over
// (position, model-state) pairs, guided by a precomputed admissible
// remainder bound (A*). The first-best result is the first variant of the
// same n-best enumeration.
package translate

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"g2p/internal/model"
	"g2p/internal/multigram"
	"g2p/internal/seqmodel"
	"g2p/internal/symbols"
)

var (
	// ErrTranslationFailure means no path reaches the end-of-string token.
	ErrTranslationFailure = errors.New("translation failure")
	// ErrStackExceeded is a translation failure caused by the stack limit.
	ErrStackExceeded = fmt.Errorf("%w: stack exceeded", ErrTranslationFailure)
	// ErrDone signals an exhausted n-best enumeration.
	ErrDone = errors.New("no more variants")
)

// DefaultStackLimit bounds the number of live hypotheses.
const DefaultStackLimit = 100000

// Translator decodes with a published model. It is read-only and may be
// shared across goroutines.
type Translator struct {
	model      *model.Model
	sm         *seqmodel.SequenceModel
	byLeft     map[string][]multigram.ID
	leftSizes  []int // distinct |Left| of inventory multigrams, ascending
	minScore   map[multigram.ID]float64
	StackLimit int
}

// New indexes the model's multigrams by their left side.
func New(m *model.Model) *Translator {
	t := &Translator{
		model:      m,
		sm:         m.SequenceModel,
		byLeft:     make(map[string][]multigram.ID),
		minScore:   make(map[multigram.ID]float64),
		StackLimit: DefaultStackLimit,
	}
	inv := m.Space.Inventory
	sizes := make(map[int]bool)
	for id := multigram.ID(1); int(id) <= inv.Size(); id++ {
		if id == m.Space.Term {
			continue
		}
		mg := inv.Symbol(id)
		k := leftKey(mg.Left)
		t.byLeft[k] = append(t.byLeft[k], id)
		sizes[len(mg.Left)] = true
	}
	for size := range sizes {
		t.leftSizes = append(t.leftSizes, size)
	}
	sort.Ints(t.leftSizes)

	// A lower bound on −log p(q | any history): the cheapest direct entry
	// anywhere in the model, or the zerogram closure for unseen tokens.
	for _, e := range t.sm.Get() {
		if e.Predicted == multigram.Void {
			continue
		}
		if best, ok := t.minScore[e.Predicted]; !ok || e.Score < best {
			t.minScore[e.Predicted] = e.Score
		}
	}
	return t
}

func leftKey(ids []symbols.ID) string {
	var b strings.Builder
	for _, id := range ids {
		v := int(id)
		for v >= 0x80 {
			b.WriteByte(byte(v&0x7f) | 0x80)
			v >>= 7
		}
		b.WriteByte(byte(v))
	}
	return b.String()
}

func (t *Translator) tokenBound(id multigram.ID) float64 {
	best := t.sm.ScoreHistory(id, nil)
	if s, ok := t.minScore[id]; ok && s < best {
		best = s
	}
	return best
}

// hypothesis is one partial decode. Completed hypotheses have emitted the
// Term token.
type hypothesis struct {
	score    float64 // accumulated −log p
	priority float64 // score plus remainder bound (equal to score once complete)
	pos      int
	state    seqmodel.State
	label    multigram.ID
	parent   *hypothesis
	complete bool
	seq      int
}

type hypHeap []*hypothesis

func (h hypHeap) Len() int { return len(h) }
func (h hypHeap) Less(a, b int) bool {
	if h[a].priority != h[b].priority {
		return h[a].priority < h[b].priority
	}
	if h[a].pos != h[b].pos {
		return h[a].pos < h[b].pos
	}
	return h[a].seq < h[b].seq
}
func (h hypHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }
func (h *hypHeap) Push(x any)   { *h = append(*h, x.(*hypothesis)) }
func (h *hypHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// parseLeft resolves the input symbols without extending the inventory.
func (t *Translator) parseLeft(left []string) ([]symbols.ID, error) {
	out := make([]symbols.ID, len(left))
	for i, s := range left {
		id, ok := t.model.Space.Left.Lookup(s)
		if !ok {
			return nil, fmt.Errorf("%w: unknown symbol %q", ErrTranslationFailure, s)
		}
		out[i] = id
	}
	return out, nil
}

// rightOf collects the decoded right string by walking the back-pointers.
func (t *Translator) rightOf(h *hypothesis) []string {
	var ids []symbols.ID
	count := 0
	for at := h; at != nil && at.parent != nil; at = at.parent {
		count++
	}
	chain := make([]*hypothesis, count)
	for at, i := h, count-1; at != nil && at.parent != nil; at, i = at.parent, i-1 {
		chain[i] = at
	}
	for _, hy := range chain {
		if hy.label == t.model.Space.Term {
			continue
		}
		ids = append(ids, t.model.Space.Inventory.Symbol(hy.label).Right...)
	}
	return t.model.Space.Right.Format(ids)
}

// search runs the best-first expansion shared by Translate and NBest.
// bound maps a position to an admissible lower bound on the remaining
// cost; the zero bound makes it plain uniform-cost search.
type search struct {
	t     *Translator
	left  []symbols.ID
	bound func(pos int) float64
	pq    hypHeap
	seq   int
}

func (s *search) push(h *hypothesis) error {
	h.seq = s.seq
	s.seq++
	heap.Push(&s.pq, h)
	if s.pq.Len() > s.t.StackLimit {
		return ErrStackExceeded
	}
	return nil
}

func (s *search) start() error {
	return s.push(&hypothesis{
		priority: s.bound(0),
		state:    s.t.sm.Initial(),
	})
}

// next pops hypotheses until a complete one surfaces.
func (s *search) next() (*hypothesis, error) {
	for s.pq.Len() > 0 {
		h := heap.Pop(&s.pq).(*hypothesis)
		if h.complete {
			return h, nil
		}
		if err := s.expand(h); err != nil {
			return nil, err
		}
	}
	return nil, ErrTranslationFailure
}

func (s *search) expand(h *hypothesis) error {
	t := s.t
	m := len(s.left)
	if h.pos == m {
		term := t.model.Space.Term
		if score := t.sm.Score(term, h.state); !math.IsInf(score, 1) {
			if err := s.push(&hypothesis{
				score:    h.score + score,
				priority: h.score + score,
				pos:      h.pos,
				state:    t.sm.Advanced(h.state, term),
				label:    term,
				parent:   h,
				complete: true,
			}); err != nil {
				return err
			}
		}
	}
	for _, a := range t.leftSizes {
		if h.pos+a > m {
			break
		}
		for _, id := range t.byLeft[leftKey(s.left[h.pos:h.pos+a])] {
			score := t.sm.Score(id, h.state)
			if math.IsInf(score, 1) {
				continue
			}
			if a == 0 && score < 1e-12 {
				// A free empty-left step would cycle forever.
				continue
			}
			if err := s.push(&hypothesis{
				score:    h.score + score,
				priority: h.score + score + s.bound(h.pos+a),
				pos:      h.pos + a,
				state:    t.sm.Advanced(h.state, id),
				label:    id,
				parent:   h,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Translate returns the single best right string for left.
func (t *Translator) Translate(left []string) ([]string, error) {
	enum, err := t.NBest(left)
	if err != nil {
		return nil, err
	}
	right, _, err := enum.Next()
	if err != nil {
		if errors.Is(err, ErrDone) {
			return nil, ErrTranslationFailure
		}
		return nil, err
	}
	return right, nil
}

// NBest starts an n-best enumeration over left. Variants surface in order
// of decreasing probability.
type NBest struct {
	t      *Translator
	search *search
	total  float64
}

// NBest precomputes the remainder bound for left and seeds the search.
func (t *Translator) NBest(left []string) (*NBest, error) {
	parsed, err := t.parseLeft(left)
	if err != nil {
		return nil, err
	}
	bound := t.remainderBound(parsed)
	if math.IsInf(bound[0], 1) {
		return nil, fmt.Errorf("%w: no covering segmentation", ErrTranslationFailure)
	}
	s := &search{
		t:     t,
		left:  parsed,
		bound: func(pos int) float64 { return bound[pos] },
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return &NBest{t: t, search: s, total: math.Inf(-1)}, nil
}

// remainderBound computes, per position, a lower bound on the cost of
// finishing the decode: a shortest path over the position DAG where every
// token costs its cheapest score under any history. Multigrams with an
// empty left side only add cost, so skipping them keeps the bound
// admissible.
func (t *Translator) remainderBound(left []symbols.ID) []float64 {
	m := len(left)
	bound := make([]float64, m+1)
	bound[m] = t.tokenBound(t.model.Space.Term)
	for i := m - 1; i >= 0; i-- {
		bound[i] = math.Inf(1)
		for _, a := range t.leftSizes {
			if a == 0 || i+a > m {
				continue
			}
			for _, id := range t.byLeft[leftKey(left[i:i+a])] {
				if c := t.tokenBound(id) + bound[i+a]; c < bound[i] {
					bound[i] = c
				}
			}
		}
	}
	return bound
}

// Next returns the next-best variant and its log-likelihood, or ErrDone.
func (nb *NBest) Next() ([]string, float64, error) {
	h, err := nb.search.next()
	if err != nil {
		if errors.Is(err, ErrStackExceeded) {
			return nil, 0, err
		}
		return nil, 0, ErrDone
	}
	logLik := -h.score
	nb.total = logAdd(nb.total, logLik)
	return nb.t.rightOf(h), logLik, nil
}

// TotalLogLik is the log-sum of all completed hypotheses seen so far, an
// estimate sufficient for posterior normalisation.
func (nb *NBest) TotalLogLik() float64 { return nb.total }

func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}
