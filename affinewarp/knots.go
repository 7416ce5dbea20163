package affinewarp

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Knots holds one piecewise-affine warping function per trial. Row k of X
// holds reference-time knot positions and row k of Y the matching trial-time
// positions. Both matrices are K x (nKnots+2).
//
// Invariants kept by every method that produces Knots:
//   - rows of X and Y are non-decreasing
//   - X[k][0] == 0 and X[k][P-1] == 1
type Knots struct {
	X *mat.Dense
	Y *mat.Dense
}

// IdentityKnots returns nTrials identity warps with nKnots interior knots
// evenly spaced on [0, 1].
func IdentityKnots(nTrials, nKnots int) Knots {
	p := nKnots + 2
	row := floats.Span(make([]float64, p), 0, 1)
	x := mat.NewDense(nTrials, p, nil)
	y := mat.NewDense(nTrials, p, nil)
	for k := 0; k < nTrials; k++ {
		x.SetRow(k, row)
		y.SetRow(k, row)
	}
	return Knots{X: x, Y: y}
}

// Dims returns the number of trials and knots per trial (including endpoints).
func (kn Knots) Dims() (trials, points int) {
	return kn.X.Dims()
}

// Clone returns a deep copy.
func (kn Knots) Clone() Knots {
	return Knots{X: mat.DenseCopyOf(kn.X), Y: mat.DenseCopyOf(kn.Y)}
}

// Eval evaluates the forward warp of trial k (reference time to trial time) at t.
func (kn Knots) Eval(k int, t float64) float64 {
	return interpKnots(kn.X.RawRowView(k), kn.Y.RawRowView(k), t)
}

// Inverse evaluates the inverse warp of trial k (trial time to reference time) at t.
func (kn Knots) Inverse(k int, t float64) float64 {
	return interpKnots(kn.Y.RawRowView(k), kn.X.RawRowView(k), t)
}

// Validate checks shape agreement, monotonicity and pinned endpoints.
func (kn Knots) Validate() error {
	if kn.X == nil || kn.Y == nil {
		return fmt.Errorf("%w: knots are not initialized", ErrDimensionMismatch)
	}
	kx, px := kn.X.Dims()
	ky, py := kn.Y.Dims()
	if kx != ky || px != py {
		return fmt.Errorf("%w: x knots are %dx%d but y knots are %dx%d", ErrDimensionMismatch, kx, px, ky, py)
	}
	if px < 2 {
		return fmt.Errorf("%w: need at least 2 knots per trial, got %d", ErrDimensionMismatch, px)
	}
	for k := 0; k < kx; k++ {
		x, y := kn.X.RawRowView(k), kn.Y.RawRowView(k)
		if x[0] != 0 || x[px-1] != 1 {
			return fmt.Errorf("trial %d: x knot endpoints are (%g, %g), want (0, 1)", k, x[0], x[px-1])
		}
		for p := 1; p < px; p++ {
			if x[p] < x[p-1] || y[p] < y[p-1] {
				return fmt.Errorf("trial %d: knots are not monotonic at position %d", k, p)
			}
		}
	}
	return nil
}

// perturb draws a candidate knot set: Gaussian noise with standard deviation
// temperature is added to every y knot and, when interior knots exist, to
// the interior x knots. The candidate is repaired to be monotonic.
func (kn Knots) perturb(rng *rand.Rand, temperature float64) Knots {
	cand := kn.Clone()
	trials, p := cand.Dims()
	for k := 0; k < trials; k++ {
		y := cand.Y.RawRowView(k)
		for i := range y {
			y[i] += rng.NormFloat64() * temperature
		}
		if p > 2 {
			x := cand.X.RawRowView(k)
			for i := 1; i < p-1; i++ {
				x[i] += rng.NormFloat64() * temperature
			}
		}
		forceMonotonic(cand.X.RawRowView(k), cand.Y.RawRowView(k))
	}
	return cand
}

// forceMonotonic projects one trial's knots back onto the feasible set.
// Interior x knots are clamped into [0, 1] and both rows are replaced by
// their running maximum. x endpoints are left untouched.
func forceMonotonic(x, y []float64) {
	p := len(x)
	for i := 1; i < p-1; i++ {
		if x[i] < 0 {
			x[i] = 0
		} else if x[i] > 1 {
			x[i] = 1
		}
	}
	for i := 1; i < p; i++ {
		if x[i] < x[i-1] {
			x[i] = x[i-1]
		}
		if y[i] < y[i-1] {
			y[i] = y[i-1]
		}
	}
}

// commit copies trial k of cand into kn.
func (kn Knots) commit(k int, cand Knots) {
	copy(kn.X.RawRowView(k), cand.X.RawRowView(k))
	copy(kn.Y.RawRowView(k), cand.Y.RawRowView(k))
}
