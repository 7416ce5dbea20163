package affinewarp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// templateGrams accumulates the normal equations W^T W and W^T X of the
// template least-squares problem. Every warped sample of every trial
// interpolates between at most two adjacent template rows, so W^T W is
// tri-diagonal. bw is the bandwidth of the returned matrix and must be at
// least 1 (or 0 for a single timepoint); the smoothness penalty uses bw 2.
func templateGrams(kn Knots, tref []float64, data *Tensor, bw int) (*mat.SymBandDense, *mat.Dense) {
	T, N := data.T, data.N
	gram := mat.NewSymBandDense(T, bw, nil)
	rhs := mat.NewDense(T, N, nil)
	raw := rhs.RawMatrix()

	for k := 0; k < data.K; k++ {
		w := newSegmentWalker(kn.X.RawRowView(k), kn.Y.RawRowView(k))
		obs := data.trialData(k)
		for t, x := range tref {
			row := obs[t*N : (t+1)*N]
			i, rem := bracket(w.at(x), T)
			a := raw.Data[i*N : (i+1)*N]
			if rem == 0 {
				gram.SetSymBand(i, i, gram.At(i, i)+1)
				for c, v := range row {
					a[c] += v
				}
				continue
			}
			b := raw.Data[(i+1)*N : (i+2)*N]
			gram.SetSymBand(i, i, gram.At(i, i)+(1-rem)*(1-rem))
			gram.SetSymBand(i+1, i+1, gram.At(i+1, i+1)+rem*rem)
			gram.SetSymBand(i, i+1, gram.At(i, i+1)+(1-rem)*rem)
			for c, v := range row {
				a[c] += (1 - rem) * v
				b[c] += rem * v
			}
		}
	}
	return gram, rhs
}

// addSmoothnessPenalty adds lambda times the squared second-difference
// penalty to gram. The leading two rows use the truncated stencil
// (diagonal 1, 5 and first off-diagonal -2); all later rows use the
// interior stencil 6, -4, 1.
func addSmoothnessPenalty(gram *mat.SymBandDense, lambda float64) {
	T, bw := gram.SymBand()
	add := func(i, j int, v float64) {
		if j < T && j-i <= bw {
			gram.SetSymBand(i, j, gram.At(i, j)+v*lambda)
		}
	}
	for i := 0; i < T; i++ {
		switch i {
		case 0:
			add(i, i, 1)
			add(i, i+1, -2)
		case 1:
			add(i, i, 5)
			add(i, i+1, -4)
		default:
			add(i, i, 6)
			add(i, i+1, -4)
		}
		add(i, i+2, 1)
	}
}

// solveTemplate fits the template that minimizes the summed squared
// reconstruction error of data under the warps kn, plus l2 times the
// curvature penalty. Without smoothing every template timepoint must be
// reached by at least one trial, otherwise the system is singular and
// ErrSingularSystem is returned.
func solveTemplate(kn Knots, tref []float64, data *Tensor, l2 float64) (*mat.Dense, error) {
	bw := 1
	if l2 > 0 {
		bw = 2
	}
	if bw > data.T-1 {
		bw = data.T - 1
	}
	gram, rhs := templateGrams(kn, tref, data, bw)
	if l2 > 0 {
		addSmoothnessPenalty(gram, l2)
	}

	var chol mat.BandCholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, fmt.Errorf("%w: template normal equations are not positive definite (l2 smoothness %g)",
			ErrSingularSystem, l2)
	}
	var template mat.Dense
	if err := chol.SolveTo(&template, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}
	return &template, nil
}
