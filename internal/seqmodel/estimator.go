package seqmodel

import (
	"log"
	"math"

	"g2p/internal/multigram"
)

// Estimator turns harvested evidence into a new sequence model by absolute
// discounting with back-off. It snapshots the evidence once, so the
// discount adjuster can re-estimate cheaply with different discount
// vectors.
type Estimator struct {
	levels [][]Evidence
	term   multigram.ID
	q      float64
}

// NewEstimator snapshots the store's evidence grouped by history length.
// q is the number of possible multigrams (the zerogram denominator) and
// term the end-of-sequence token.
func NewEstimator(store *Store, term multigram.ID, q float64) *Estimator {
	return &Estimator{levels: store.ByOrder(), term: term, q: q}
}

// Order is the highest history length present in the evidence.
func (est *Estimator) Order() int { return len(est.levels) - 1 }

// ExtendDiscount pads d by repeating its last element until it covers
// order+1 levels. A nil d becomes all zeros.
func ExtendDiscount(d []float64, order int) []float64 {
	out := make([]float64, order+1)
	if len(d) == 0 {
		return out
	}
	for i := range out {
		if i < len(d) {
			out[i] = d[i]
		} else {
			out[i] = d[len(d)-1]
		}
	}
	return out
}

// SequenceModel estimates a model under the given per-order discount
// vector (extended by repetition if too short).
func (est *Estimator) SequenceModel(discount []float64) *SequenceModel {
	discount = ExtendDiscount(discount, est.Order())
	leveled := est.applyDiscounting(discount)
	probs := est.makeProbabilities(leveled)
	return est.compile(probs)
}

// discountedLevel pairs a level's surviving evidence with the per-history
// totals measured before discounting.
type discountedLevel struct {
	evidence []Evidence
	totals   map[string]float64
}

// applyDiscounting runs the top-down absolute-discounting cascade:
// evidence below the discount moves wholly to the suffix history, evidence
// above it leaves value−D behind and carries D down.
func (est *Estimator) applyDiscounting(discount []float64) []discountedLevel {
	out := make([]discountedLevel, len(est.levels))
	carry := NewStore()
	for level := len(est.levels) - 1; level >= 0; level-- {
		for _, e := range est.levels[level] {
			carry.Add(e.History, e.Predicted, e.Value)
		}
		merged := carry.Consolidated()

		totals := make(map[string]float64, len(merged))
		for _, e := range merged {
			totals[historyKey(e.History)] += e.Value
		}

		d := discount[level]
		var kept []Evidence
		next := NewStore()
		for _, e := range merged {
			if len(e.History) > 0 {
				suffix := e.History[1:]
				if e.Value > d {
					kept = append(kept, Evidence{e.History, e.Predicted, e.Value - d})
					next.Add(suffix, e.Predicted, d)
				} else {
					next.Add(suffix, e.Predicted, e.Value)
				}
			} else if e.Value > d {
				// The zerogram's discounted mass has nowhere to back
				// off to; it is absorbed by the uniform floor.
				kept = append(kept, Evidence{e.History, e.Predicted, e.Value - d})
			}
		}
		out[level] = discountedLevel{evidence: kept, totals: totals}
		carry = next
	}
	return out
}

type probTable struct {
	probs     map[evidenceKey]float64
	bows      map[string]float64
	histories map[string][]multigram.ID
}

// backOff resolves p(tok | history) against the partially built table,
// multiplying back-off weights down the suffix chain. Missing weights
// count as 1; the root weight already contains the 1/Q floor.
func (pt *probTable) backOff(history []multigram.ID, tok multigram.ID) float64 {
	bw := 1.0
	h := history
	for {
		if p, ok := pt.probs[evidenceKey{historyKey(h), tok}]; ok {
			return bw * p
		}
		if w, ok := pt.bows[historyKey(h)]; ok {
			bw *= w
		}
		if len(h) == 0 {
			break
		}
		h = h[1:]
	}
	return bw
}

func (est *Estimator) makeProbabilities(leveled []discountedLevel) *probTable {
	pt := &probTable{
		probs:     make(map[evidenceKey]float64),
		bows:      make(map[string]float64),
		histories: map[string][]multigram.ID{"": nil},
	}
	zerogram := 1.0 / est.q
	pt.bows[""] = zerogram

	for _, level := range leveled {
		grouped := make(map[string][]Evidence)
		var order []string
		for _, e := range level.evidence {
			k := historyKey(e.History)
			if _, seen := grouped[k]; !seen {
				order = append(order, k)
				pt.histories[k] = e.History
			}
			grouped[k] = append(grouped[k], e)
		}
		for _, k := range order {
			history := pt.histories[k]
			denominator := level.totals[k]
			kept := 0.0
			for _, e := range grouped[k] {
				kept += e.Value
			}
			bow := 1.0 - kept/denominator
			if bow < 0 {
				bow = 0
			}
			if len(history) == 0 {
				bow *= zerogram
			}
			pt.bows[k] = bow
			for _, e := range grouped[k] {
				p := e.Value / denominator
				if len(history) > 0 {
					p += bow * pt.backOff(history[1:], e.Predicted)
				} else {
					p += bow
				}
				if p > 0 {
					pt.probs[evidenceKey{k, e.Predicted}] = p
				}
			}
		}
	}
	return pt
}

// compile converts the probability table into −log scores, skipping
// anonymous entries and zero probabilities. Each underflowing key is
// reported once.
func (est *Estimator) compile(pt *probTable) *SequenceModel {
	var entries []Entry
	warn := func(history []multigram.ID, tok multigram.ID, p float64) {
		log.Printf("cannot take logarithm of zero probability: history=%v token=%d p=%g", history, tok, p)
	}
	persistable := func(history []multigram.ID, tok multigram.ID) bool {
		if tok == multigram.Anonymous {
			return false
		}
		for _, t := range history {
			if t == multigram.Anonymous {
				return false
			}
		}
		return true
	}

	for k, bow := range pt.bows {
		history := pt.histories[k]
		if !persistable(history, multigram.Void) {
			continue
		}
		if bow <= 0 {
			if len(history) > 0 {
				warn(history, multigram.Void, bow)
			}
			continue
		}
		entries = append(entries, Entry{history, multigram.Void, -math.Log(bow)})
	}
	for key, p := range pt.probs {
		history := pt.histories[key.history]
		if !persistable(history, key.predicted) {
			continue
		}
		if p <= 0 {
			warn(history, key.predicted, p)
			continue
		}
		entries = append(entries, Entry{history, key.predicted, -math.Log(p)})
	}

	m := New()
	m.SetInitAndTerm(est.term, est.term)
	m.Set(entries)
	return m
}
