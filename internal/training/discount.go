package training

import (
	"context"
	"fmt"
	"math"

	"g2p/internal/minimize"
	"g2p/internal/seqmodel"
)

// maximumReasonableDiscount caps the search interval together with the
// largest evidence value.
const maximumReasonableDiscount = 10.0

// discountTolerance and the iteration cap inside the minimisers govern
// discount adjustment convergence.
const discountTolerance = 1e-4

// DiscountAdjuster produces the discount vector for each iteration.
type DiscountAdjuster interface {
	Adjust(c *Context, est *seqmodel.Estimator, maxEvidence float64, order int) []float64
	// Trail returns the discount history needed to resume from a
	// checkpoint (at most the last two vectors).
	Trail() [][]float64
}

// FixedDiscounts always returns the configured vector, extended by
// repeating its last element.
type FixedDiscounts struct {
	Discount []float64
}

func (f *FixedDiscounts) Adjust(c *Context, _ *seqmodel.Estimator, _ float64, order int) []float64 {
	d := seqmodel.ExtendDiscount(f.Discount, order)
	fmt.Fprintf(c.Log, "fixed discount: %v\n", d)
	return d
}

func (f *FixedDiscounts) Trail() [][]float64 { return [][]float64{f.Discount} }

// StaticDiscounts keeps whatever discount the current model carries. It
// is the fallback when no held-out data exists to optimise against.
type StaticDiscounts struct {
	Discount []float64
}

func (s *StaticDiscounts) Adjust(c *Context, _ *seqmodel.Estimator, _ float64, order int) []float64 {
	if s.Discount == nil {
		s.Discount = []float64{0.0}
	}
	s.Discount = seqmodel.ExtendDiscount(s.Discount, order)
	fmt.Fprintf(c.Log, "keep discount: %v\n", s.Discount)
	return s.Discount
}

func (s *StaticDiscounts) Trail() [][]float64 { return [][]float64{s.Discount} }

// OptimizingAdjuster tunes the discount vector against held-out
// log-likelihood: bracketed Brent line search for order zero, Powell's
// direction-set method above. Out-of-range discounts are penalised
// linearly, and the result is clamped to [0, min(maxEvidence, 10)].
type OptimizingAdjuster struct {
	Devel   *Sample
	Viterbi bool
	// Eager re-adjusts every iteration; otherwise adjustment only runs
	// when the tentative model would not improve held-out likelihood.
	Eager bool

	discounts [][]float64 // ending with the most recent; nil sentinel allowed
}

// NewOptimizingAdjuster seeds the adjuster with the previous model's
// discount (may be nil).
func NewOptimizingAdjuster(devel *Sample, initial []float64, viterbi, eager bool) *OptimizingAdjuster {
	return &OptimizingAdjuster{
		Devel:     devel,
		Viterbi:   viterbi,
		Eager:     eager,
		discounts: [][]float64{nil, initial},
	}
}

// RestoreTrail re-seeds the discount history from a checkpoint.
func (a *OptimizingAdjuster) RestoreTrail(trail [][]float64) {
	if len(trail) >= 2 {
		a.discounts = [][]float64{trail[len(trail)-2], trail[len(trail)-1]}
	} else if len(trail) == 1 {
		a.discounts = [][]float64{nil, trail[0]}
	}
}

func (a *OptimizingAdjuster) Trail() [][]float64 {
	n := len(a.discounts)
	out := make([][]float64, 0, 2)
	if n >= 2 && a.discounts[n-2] != nil {
		out = append(out, a.discounts[n-2])
	}
	if n >= 1 && a.discounts[n-1] != nil {
		out = append(out, a.discounts[n-1])
	}
	return out
}

func (a *OptimizingAdjuster) last() []float64 {
	return a.discounts[len(a.discounts)-1]
}

func (a *OptimizingAdjuster) previous() []float64 {
	return a.discounts[len(a.discounts)-2]
}

func (a *OptimizingAdjuster) develLogLik(sm *seqmodel.SequenceModel) float64 {
	ll, err := a.Devel.LogLik(context.Background(), sm, a.Viterbi)
	if err != nil {
		return math.Inf(-1)
	}
	return ll
}

func (a *OptimizingAdjuster) shouldAdjust(c *Context, est *seqmodel.Estimator) bool {
	if a.Eager || len(c.LogLikDevel) < 1 {
		return true
	}
	tentative := est.SequenceModel(clampNonNegative(a.last()))
	return a.develLogLik(tentative) <= c.LogLikDevel[len(c.LogLikDevel)-1]
}

func (a *OptimizingAdjuster) Adjust(c *Context, est *seqmodel.Estimator, maxEvidence float64, order int) []float64 {
	if !a.shouldAdjust(c, est) {
		d := a.last()
		fmt.Fprintf(c.Log, "keep discount: %v\n", d)
		return d
	}
	fmt.Fprintln(c.Log, "adjusting discount ...")
	maximumDiscount := math.Min(maxEvidence, maximumReasonableDiscount)

	var discount []float64
	var err error
	if order == 0 {
		discount, err = a.adjustOrderZero(est, maximumDiscount)
	} else {
		discount, err = a.adjustHigherOrder(est, order, maximumDiscount)
	}
	if err != nil {
		fmt.Fprintf(c.Log, "discount adjustment failed: %v; keeping last discount\n", err)
		if last := a.last(); last != nil {
			return seqmodel.ExtendDiscount(last, order)
		}
		return seqmodel.ExtendDiscount(nil, order)
	}
	for i := range discount {
		discount[i] = math.Min(discount[i], maximumDiscount)
	}

	a.discounts = append(a.discounts, discount)
	fmt.Fprintf(c.Log, "optimal discount: %v\n", discount)
	fmt.Fprintf(c.Log, "max. rel. change: %v\n", a.maxRelChange())
	return discount
}

func (a *OptimizingAdjuster) adjustOrderZero(est *seqmodel.Estimator, maximumDiscount float64) ([]float64, error) {
	criterion := func(d float64) float64 {
		sm := est.SequenceModel([]float64{math.Max(0, d)})
		ll := a.develLogLik(sm)
		return -ll - math.Min(d, 0) + math.Max(d-maximumDiscount, 0)
	}

	initial := 0.1
	if last := a.last(); last != nil {
		initial = last[0]
	}
	d, _, err := minimize.Linear(criterion, initial, discountTolerance)
	if err != nil {
		return nil, err
	}
	return []float64{math.Max(0, d)}, nil
}

func (a *OptimizingAdjuster) adjustHigherOrder(est *seqmodel.Estimator, order int, maximumDiscount float64) ([]float64, error) {
	criterion := func(d []float64) float64 {
		sm := est.SequenceModel(clampNonNegative(d))
		crit := -a.develLogLik(sm)
		for _, v := range d {
			crit += -math.Min(v, 0) + math.Max(v-maximumDiscount, 0)
		}
		return crit
	}

	n := order + 1
	var firstDirection []float64
	initial := a.last()
	switch {
	case initial == nil:
		initial = make([]float64, n)
		for i := range initial {
			initial[i] = 0.1 * float64(i+1)
		}
	case len(initial) < n:
		padded := make([]float64, n)
		copy(padded, initial)
		for i := len(initial); i < n; i++ {
			padded[i] = initial[len(initial)-1]
		}
		initial = padded
	case len(initial) > n:
		initial = initial[:n]
	default:
		if prev := a.previous(); prev != nil && len(prev) == n {
			firstDirection = make([]float64, n)
			moved := false
			for i := range firstDirection {
				firstDirection[i] = initial[i] - prev[i]
				if math.Abs(firstDirection[i]) > discountTolerance {
					moved = true
				}
			}
			if !moved {
				firstDirection = nil
			}
		}
	}

	// Reversed identity, highest order first, scaled down; the previous
	// step, when informative, leads the sweep.
	directions := minimize.Identity(n)
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		directions[i], directions[j] = directions[j], directions[i]
	}
	if firstDirection != nil {
		directions = append([][]float64{firstDirection}, directions...)
	}
	for _, dir := range directions {
		for i := range dir {
			dir[i] *= 0.1
		}
	}

	discount, _, err := minimize.DirectionSet(criterion, initial, directions, discountTolerance)
	if err != nil {
		return nil, err
	}
	return clampNonNegative(discount), nil
}

func (a *OptimizingAdjuster) maxRelChange() float64 {
	prev := a.previous()
	last := a.last()
	if prev == nil || len(prev) != len(last) {
		return 1.0
	}
	maxChange := 0.0
	for i := range last {
		change := math.Abs((last[i] - prev[i]) / (prev[i] + 1e-10))
		if change > maxChange {
			maxChange = change
		}
	}
	return maxChange
}

func clampNonNegative(d []float64) []float64 {
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = math.Max(0, v)
	}
	return out
}
