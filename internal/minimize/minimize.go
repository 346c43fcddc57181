// Package minimize provides the one-dimensional bracketed Brent
// minimisation and Powell's direction-set method used for discount tuning,
// plus the trend test that decides EM convergence.
//
// The routines follow the classic Numerical Recipes formulations
// (sections 10.1, 10.2 and 10.5).
package minimize

import (
	"errors"
	"math"
)

// ErrNotConverged is returned when a minimiser exhausts its iteration
// budget. Callers treat it as non-fatal and keep their previous optimum.
var ErrNotConverged = errors.New("minimization failed to converge")

const (
	gold     = 1.6180339887498949 // (1 + sqrt 5) / 2
	cGold    = 0.3819660112501051 // (3 - sqrt 5) / 2
	zEpsilon = 1.0e-18

	// MaxIterations bounds both the line search and the direction-set
	// outer loop.
	MaxIterations = 100
)

// bracketMinimum searches downhill from xa, xb and returns a triple
// xa < xb < xc (or reversed) with f(xb) below both ends.
func bracketMinimum(f func(float64) float64, xa, xb float64) (x1, x2, x3, f1, f2, f3 float64) {
	fa := f(xa)
	fb := f(xb)
	if fb > fa {
		xa, xb = xb, xa
		fa, fb = fb, fa
	}
	xc := xb + gold*(xb-xa)
	fc := f(xc)
	for fb >= fc {
		xuLimit := xb + 100.0*(xc-xb)
		r := (xb - xa) * (fb - fc)
		q := (xb - xc) * (fb - fa)
		xu := xb - (xb-xc)*q - (xb-xa)*r
		if q != r {
			xu /= 2 * (q - r)
		} else {
			xu = xuLimit
		}
		var fu float64
		switch {
		case (xb-xu)*(xu-xc) > 0.0:
			// xu lies between xb and xc.
			fu = f(xu)
			if fu < fc {
				xa, xb = xb, xu
				fa, fb = fb, fu
				return xa, xb, xc, fa, fb, fc
			} else if fu > fb {
				xc = xu
				fc = fu
				return xa, xb, xc, fa, fb, fc
			}
			xu = xc + gold*(xc-xb)
			fu = f(xu)
		case (xc-xu)*(xu-xuLimit) > 0.0:
			// xu lies between xc and the step limit.
			fu = f(xu)
			if fu < fc {
				xb, xc = xc, xu
				fb, fc = fc, fu
				xu = xc + gold*(xc-xb)
				fu = f(xu)
			}
		case (xu-xuLimit)*(xuLimit-xc) >= 0.0:
			xu = xuLimit
			fu = f(xu)
		default:
			xu = xc + gold*(xc-xb)
			fu = f(xu)
		}
		xa, xb, xc = xb, xc, xu
		fa, fb, fc = fb, fc, fu
	}
	return xa, xb, xc, fa, fb, fc
}

// Linear minimises a unary function by Brent's parabolic interpolation,
// bracketing downhill from the starting point x0.
func Linear(f func(float64) float64, x0, tolerance float64) (float64, float64, error) {
	xa, xb, xc, _, fb, _ := bracketMinimum(f, x0, x0+1.0)
	var a, b float64
	if xa < xc {
		a, b = xa, xc
	} else {
		a, b = xc, xa
	}
	x, fx := xb, fb

	d := 0.0
	e := 0.0
	v, fv := x, fx
	w, fw := x, fx

	for iteration := 0; iteration < MaxIterations; iteration++ {
		xm := (a + b) / 2
		tol := tolerance*math.Abs(x) + zEpsilon
		if math.Abs(x-xm) <= 2.0*tol-(b-a)/2 {
			return x, fx, nil
		}
		if math.Abs(e) > tol {
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2.0 * (q - r)
			if q > 0.0 {
				p = -p
			}
			q = math.Abs(q)
			etemp := e
			e = d
			if math.Abs(p) >= math.Abs(0.5*q*etemp) || p <= q*(a-x) || p >= q*(b-x) {
				if x >= xm {
					e = a - x
				} else {
					e = b - x
				}
				d = cGold * e
			} else {
				d = p / q
				u := x + d
				if u-a < 2.0*tol || b-u < 2.0*tol {
					if xm >= x {
						d = tol
					} else {
						d = -tol
					}
				}
			}
		} else {
			if x >= xm {
				e = a - x
			} else {
				e = b - x
			}
			d = cGold * e
		}
		var u float64
		if math.Abs(d) > tol {
			u = x + d
		} else if d > 0.0 {
			u = x + tol
		} else {
			u = x - tol
		}

		fu := f(u)

		if fu <= fx {
			if u >= x {
				a = x
			} else {
				b = x
			}
			v, w, x = w, x, u
			fv, fw, fx = fw, fx, fu
		} else {
			if u < x {
				a = u
			} else {
				b = u
			}
			if fu < fw || w == x {
				v, w = w, u
				fv, fw = fw, fu
			} else if fu <= fv || v == x || v == w {
				v = u
				fv = fu
			}
		}
	}
	return x, fx, ErrNotConverged
}

func hasConverged(fCurrent, fOld, tolerance float64) bool {
	return 2*(fOld-fCurrent) <= tolerance*(math.Abs(fOld)+math.Abs(fCurrent)+zEpsilon)
}

// DirectionSet minimises f over len(initial) dimensions by Powell's
// method, line-minimising along each direction in turn and replacing the
// direction of largest decrease by the average step when profitable.
// The directions matrix is mutated in place.
func DirectionSet(f func([]float64) float64, initial []float64, directions [][]float64, tolerance float64) ([]float64, float64, error) {
	n := len(initial)
	if directions == nil {
		directions = Identity(n)
	}
	current := append([]float64(nil), initial...)
	fCurrent := f(current)

	for iteration := 0; iteration < MaxIterations; iteration++ {
		old := append([]float64(nil), current...)
		fOld := fCurrent
		largestDecrease := 0.0
		directionOfLargestDecrease := -1

		for dir, dirVector := range directions {
			along := func(x float64) float64 {
				probe := make([]float64, n)
				for i := range probe {
					probe[i] = current[i] + x*dirVector[i]
				}
				return f(probe)
			}
			xMin, fMin, err := Linear(along, 0, tolerance)
			if err != nil {
				return current, fCurrent, err
			}
			if decrease := fCurrent - fMin; decrease > largestDecrease {
				largestDecrease = decrease
				directionOfLargestDecrease = dir
			}
			for i := range current {
				current[i] += xMin * dirVector[i]
			}
			fCurrent = fMin
			if math.Abs(xMin) > zEpsilon {
				for i := range dirVector {
					dirVector[i] *= xMin
				}
			}
		}

		if hasConverged(fCurrent, fOld, tolerance) {
			return current, fCurrent, nil
		}

		averageDirection := make([]float64, n)
		extrapolated := make([]float64, n)
		for i := range averageDirection {
			averageDirection[i] = current[i] - old[i]
			extrapolated[i] = current[i] + averageDirection[i]
		}
		fExtrapolated := f(extrapolated)
		if fExtrapolated < fCurrent && directionOfLargestDecrease >= 0 {
			t := fOld - fCurrent - largestDecrease
			if 2*(fOld-2*fCurrent+fExtrapolated)*t*t < (fOld-fExtrapolated)*(fOld-fExtrapolated)*largestDecrease {
				directions[directionOfLargestDecrease] = directions[0]
				directions[0] = averageDirection
			}
		}
	}
	return current, fCurrent, ErrNotConverged
}

// Identity returns the n×n identity matrix.
func Identity(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1.0
	}
	return out
}

// HasSignificantDecrease fits a straight line to the series and reports
// whether the hypothesis slope ≥ 0 can be rejected with 99% confidence
// (one-sided z ≥ 2.326).
func HasSignificantDecrease(series []float64) bool {
	n := len(series)
	if n < 2 {
		return true
	}
	fn := float64(n)
	xx := (fn - 1) * fn * (fn + 1) / 12

	mean := 0.0
	for _, y := range series {
		mean += y
	}
	mean /= fn

	slope := 0.0
	for i, y := range series {
		x := (1-fn)/2 + float64(i)
		slope += x * y
	}
	slope /= xx

	sumSq := 0.0
	for i, y := range series {
		x := (1-fn)/2 + float64(i)
		delta := y - mean - slope*x
		sumSq += delta * delta
	}
	sigma := math.Sqrt(sumSq / (fn * (fn - 1)))
	sigmaSlope := sigma / math.Sqrt(xx)

	return slope < -2.326348*sigmaSlope
}
