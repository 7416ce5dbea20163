package affinewarp

import (
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// interpKnots evaluates the piecewise-affine map through (xs[i], ys[i]) at t.
// Queries left of xs[0] or right of xs[len-1] are extrapolated with the
// slope of the boundary segment.
func interpKnots(xs, ys []float64, t float64) float64 {
	n := 1
	for n < len(xs)-1 && t > xs[n] {
		n++
	}
	return interpSegment(xs[n-1], ys[n-1], xs[n], ys[n], t)
}

func interpSegment(x0, y0, x1, y1, t float64) float64 {
	dx := x1 - x0
	if dx <= 0 {
		if t < x0 {
			return y0
		}
		return y1
	}
	return y0 + (y1-y0)*(t-x0)/dx
}

// segmentWalker evaluates a warp at increasing query times, advancing the
// bracketing segment instead of searching from the first knot each time.
type segmentWalker struct {
	xs, ys []float64
	n      int
}

func newSegmentWalker(xs, ys []float64) segmentWalker {
	return segmentWalker{xs: xs, ys: ys, n: 1}
}

func (w *segmentWalker) at(t float64) float64 {
	for w.n < len(w.xs)-1 && t > w.xs[w.n] {
		w.n++
	}
	return interpSegment(w.xs[w.n-1], w.ys[w.n-1], w.xs[w.n], w.ys[w.n], t)
}

// bracket locates a fraction z in a grid of size samples. Values outside
// (0, 1) clamp to the first or last sample, in which case rem is zero.
func bracket(z float64, size int) (i int, rem float64) {
	if z <= 0 {
		return 0, 0
	}
	if z >= 1 {
		return size - 1, 0
	}
	f := z * float64(size-1)
	i = int(f)
	return i, f - float64(i)
}

// resampleRow writes into dst the linear interpolation between rows i and
// i+1 of a row-major size x len(dst) block.
func resampleRow(dst, src []float64, i int, rem float64) {
	n := len(dst)
	a := src[i*n : (i+1)*n]
	if rem == 0 {
		copy(dst, a)
		return
	}
	b := src[(i+1)*n : (i+2)*n]
	for c := range dst {
		dst[c] = (1-rem)*a[c] + rem*b[c]
	}
}

// timeBase returns size evenly spaced reference times on [0, 1].
func timeBase(size int) []float64 {
	if size < 2 {
		return make([]float64, size)
	}
	return floats.Span(make([]float64, size), 0, 1)
}

// forEachTrial runs fn for k in [0, trials). With more than one worker the
// trials are spread over an errgroup.
func forEachTrial(trials, workers int, fn func(k int)) {
	if workers <= 1 || trials <= 1 {
		for k := 0; k < trials; k++ {
			fn(k)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for k := 0; k < trials; k++ {
		g.Go(func() error {
			fn(k)
			return nil
		})
	}
	_ = g.Wait()
}

// warpWithQuadLoss adds to losses[k] the squared reconstruction error of
// trial k, where the reconstruction is the template resampled through the
// trial's forward warp. With earlyStop a trial is abandoned as soon as its
// running loss exceeds best[k]; the partial sum left in losses[k] is then
// still larger than best[k].
func warpWithQuadLoss(kn Knots, tref []float64, template *mat.Dense, data *Tensor, losses, best []float64, earlyStop bool, workers int) {
	tpl := template.RawMatrix()
	N := data.N
	forEachTrial(data.K, workers, func(k int) {
		w := newSegmentWalker(kn.X.RawRowView(k), kn.Y.RawRowView(k))
		obs := data.trialData(k)
		pred := make([]float64, N)
		loss := losses[k]
		for t, x := range tref {
			i, rem := bracket(w.at(x), tpl.Rows)
			resampleRow(pred, tpl.Data, i, rem)
			row := obs[t*N : (t+1)*N]
			for c, v := range row {
				d := pred[c] - v
				loss += d * d
			}
			if earlyStop && loss > best[k] {
				break
			}
		}
		losses[k] = loss
	})
}

// predictWarp resamples the template through every trial's forward warp
// evaluated on the reference time base tref.
func predictWarp(kn Knots, tref []float64, template *mat.Dense, workers int) *Tensor {
	tpl := template.RawMatrix()
	K, _ := kn.Dims()
	T, N := tpl.Rows, tpl.Cols
	out := &Tensor{K: K, T: T, N: N, Data: make([]float64, K*T*N)}
	forEachTrial(K, workers, func(k int) {
		w := newSegmentWalker(kn.X.RawRowView(k), kn.Y.RawRowView(k))
		dst := out.trialData(k)
		for t, x := range tref {
			i, rem := bracket(w.at(x), T)
			resampleRow(dst[t*N:(t+1)*N], tpl.Data, i, rem)
		}
	})
	return out
}

// denseWarp resamples each trial of x at the times produced by the map
// through (from[k], to[k]). Passing (Y, X) applies the inverse warps.
func denseWarp(from, to *mat.Dense, x *Tensor, workers int) *Tensor {
	out := &Tensor{K: x.K, T: x.T, N: x.N, Data: make([]float64, len(x.Data))}
	tref := timeBase(x.T)
	forEachTrial(x.K, workers, func(k int) {
		w := newSegmentWalker(from.RawRowView(k), to.RawRowView(k))
		src := x.trialData(k)
		dst := out.trialData(k)
		for t, z := range tref {
			i, rem := bracket(w.at(z), x.T)
			resampleRow(dst[t*x.N:(t+1)*x.N], src, i, rem)
		}
	})
	return out
}

// sparseWarp evaluates the forward warp of trials[i] at times[i] for every
// event. Query times are unordered, so each one searches its trial's knots.
func sparseWarp(kn Knots, trials []int, times []float64) []float64 {
	out := make([]float64, len(trials))
	for i, k := range trials {
		out[i] = kn.Eval(k, times[i])
	}
	return out
}

// warpPenalties writes into dst the area enclosed between each trial's warp
// function and the identity line over its knot span.
func warpPenalties(kn Knots, dst []float64) {
	trials, p := kn.Dims()
	for k := 0; k < trials; k++ {
		xs, ys := kn.X.RawRowView(k), kn.Y.RawRowView(k)
		var area float64
		x0, d0 := xs[0], ys[0]-xs[0]
		for j := 1; j < p; j++ {
			x1, d1 := xs[j], ys[j]-xs[j]
			if d0*d1 >= 0 {
				area += 0.5 * math.Abs(d0+d1) * (x1 - x0)
			} else {
				// the displacement changes sign inside the segment
				c := (x0*d1 - x1*d0) / (d1 - d0)
				area += 0.5*math.Abs(d0)*(c-x0) + 0.5*math.Abs(d1)*(x1-c)
			}
			x0, d0 = x1, d1
		}
		dst[k] = area
	}
}
