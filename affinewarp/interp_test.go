package affinewarp

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// affineKnots builds knots for y = intercept + slope*x on every trial.
func affineKnots(trials int, intercept, slope float64) Knots {
	x := mat.NewDense(trials, 2, nil)
	y := mat.NewDense(trials, 2, nil)
	for k := 0; k < trials; k++ {
		x.SetRow(k, []float64{0, 1})
		y.SetRow(k, []float64{intercept, intercept + slope})
	}
	return Knots{X: x, Y: y}
}

// linearTemplate returns a T x N template whose channel c is a + c + b*t/(T-1).
func linearTemplate(T, N int, a, b float64) *mat.Dense {
	tpl := mat.NewDense(T, N, nil)
	for t := 0; t < T; t++ {
		for c := 0; c < N; c++ {
			tpl.Set(t, c, a+float64(c)+b*float64(t)/float64(T-1))
		}
	}
	return tpl
}

func TestBracket(t *testing.T) {
	tests := []struct {
		z       float64
		size    int
		wantI   int
		wantRem float64
	}{
		{z: -0.3, size: 5, wantI: 0, wantRem: 0},
		{z: 0, size: 5, wantI: 0, wantRem: 0},
		{z: 1, size: 5, wantI: 4, wantRem: 0},
		{z: 1.7, size: 5, wantI: 4, wantRem: 0},
		{z: 0.5, size: 5, wantI: 2, wantRem: 0},
		{z: 0.3, size: 11, wantI: 3, wantRem: 0},
		{z: 0.375, size: 5, wantI: 1, wantRem: 0.5},
	}

	for _, tt := range tests {
		i, rem := bracket(tt.z, tt.size)
		if i != tt.wantI || math.Abs(rem-tt.wantRem) > 1e-9 {
			t.Errorf("bracket(%g, %d) = (%d, %g), want (%d, %g)", tt.z, tt.size, i, rem, tt.wantI, tt.wantRem)
		}
	}
}

func TestPredictWarpIdentity(t *testing.T) {
	const T, N = 17, 3
	tpl := mat.NewDense(T, N, nil)
	for i := 0; i < T; i++ {
		for c := 0; c < N; c++ {
			tpl.Set(i, c, math.Sin(float64(i)*0.7+float64(c)))
		}
	}

	for _, workers := range []int{1, 4} {
		pred := predictWarp(IdentityKnots(4, 2), timeBase(T), tpl, workers)
		for k := 0; k < pred.K; k++ {
			if !mat.EqualApprox(pred.Trial(k), tpl, 1e-12) {
				t.Errorf("workers=%d: trial %d prediction differs from template", workers, k)
			}
		}
	}
}

func TestPredictWarpShift(t *testing.T) {
	const T = 11
	tpl := linearTemplate(T, 1, 0, 1)
	// y = 0.2 + x pushes the last samples past the end of the template
	pred := predictWarp(affineKnots(1, 0.2, 1), timeBase(T), tpl, 1)

	for i := 0; i < T; i++ {
		want := math.Min(0.2+float64(i)/float64(T-1), 1)
		if got := pred.At(0, i, 0); math.Abs(got-want) > 1e-12 {
			t.Errorf("pred[%d] = %g, want %g", i, got, want)
		}
	}
}

func TestWarpWithQuadLoss(t *testing.T) {
	const T, N = 9, 2
	tpl := linearTemplate(T, N, 0, 1)
	kn := affineKnots(2, 0, 1)

	data, _ := NewTensor(2, T, N, nil)
	// trial 0 matches the template exactly, trial 1 is offset by 0.5
	for i := 0; i < T; i++ {
		for c := 0; c < N; c++ {
			data.Set(0, i, c, tpl.At(i, c))
			data.Set(1, i, c, tpl.At(i, c)+0.5)
		}
	}

	losses := []float64{0, 1}
	warpWithQuadLoss(kn, timeBase(T), tpl, data, losses, losses, false, 1)

	if math.Abs(losses[0]) > 1e-12 {
		t.Errorf("loss of exact trial = %g, want 0", losses[0])
	}
	// accumulates on top of the initial value
	want := 1 + float64(T*N)*0.25
	if math.Abs(losses[1]-want) > 1e-9 {
		t.Errorf("loss of offset trial = %g, want %g", losses[1], want)
	}
}

func TestWarpWithQuadLossEarlyStop(t *testing.T) {
	const T = 20
	tpl := linearTemplate(T, 1, 0, 0)
	data, _ := NewTensor(1, T, 1, nil)
	for i := range data.Data {
		data.Data[i] = 1
	}
	kn := IdentityKnots(1, 0)

	full := []float64{0}
	warpWithQuadLoss(kn, timeBase(T), tpl, data, full, []float64{0}, false, 1)
	if full[0] != T {
		t.Fatalf("full loss = %g, want %d", full[0], T)
	}

	stopped := []float64{0}
	warpWithQuadLoss(kn, timeBase(T), tpl, data, stopped, []float64{2.5}, true, 1)
	if stopped[0] <= 2.5 {
		t.Errorf("early-stopped loss = %g, must exceed best", stopped[0])
	}
	if stopped[0] >= full[0] {
		t.Errorf("early-stopped loss = %g, expected to stop before %g", stopped[0], full[0])
	}
}

func TestDenseWarpInvertsPrediction(t *testing.T) {
	const T = 41
	tpl := linearTemplate(T, 2, 1, 2)
	kn := affineKnots(3, 0.1, 0.8)

	pred := predictWarp(kn, timeBase(T), tpl, 1)
	aligned := denseWarp(kn.Y, kn.X, pred, 2)

	for k := 0; k < aligned.K; k++ {
		for i := 0; i < T; i++ {
			ref := float64(i) / float64(T-1)
			// only times covered by the inverse warp are recovered
			if ref < 0.1 || ref > 0.9 {
				continue
			}
			for c := 0; c < 2; c++ {
				if got, want := aligned.At(k, i, c), tpl.At(i, c); math.Abs(got-want) > 1e-9 {
					t.Errorf("aligned[%d,%d,%d] = %g, want %g", k, i, c, got, want)
				}
			}
		}
	}
}

func TestSparseWarp(t *testing.T) {
	kn := affineKnots(2, 0.1, 0.8)
	kn.Y.SetRow(1, []float64{-0.2, 1.2})

	got := sparseWarp(kn, []int{0, 1, 1, 0}, []float64{0, 0.5, 1, 0.25})
	want := []float64{0.1, 0.5, 1.2, 0.3}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("event %d: warped = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestWarpPenalties(t *testing.T) {
	kn := Knots{
		X: mat.NewDense(4, 3, []float64{
			0, 0.5, 1,
			0, 0.5, 1,
			0, 0.5, 1,
			0, 0.5, 1,
		}),
		Y: mat.NewDense(4, 3, []float64{
			0, 0.5, 1, // identity
			0.2, 0.7, 1.2, // constant shift
			0, 0.7, 1, // tent above identity
			-0.1, 0.5, 1.1, // crosses identity at 0.5
		}),
	}

	got := make([]float64, 4)
	warpPenalties(kn, got)

	want := []float64{0, 0.2, 0.1, 0.05}
	for k := range want {
		if math.Abs(got[k]-want[k]) > 1e-12 {
			t.Errorf("penalty[%d] = %g, want %g", k, got[k], want[k])
		}
	}
}

func TestWarpPenaltiesCrossingInsideSegment(t *testing.T) {
	// displacement goes from -0.2 to +0.2 across one segment, crossing at 0.5
	kn := Knots{
		X: mat.NewDense(1, 2, []float64{0, 1}),
		Y: mat.NewDense(1, 2, []float64{-0.2, 1.2}),
	}
	got := make([]float64, 1)
	warpPenalties(kn, got)

	if want := 0.1; math.Abs(got[0]-want) > 1e-12 {
		t.Errorf("penalty = %g, want %g", got[0], want)
	}
}
