package affinewarp

import (
	"fmt"
)

// Transform maps data recorded in trial time onto the reference time axis
// of the fitted template. Dense input returns a *Tensor of the same shape;
// sparse input returns a new *Events (see TransformEvents).
func (m *AffineWarping) Transform(x Data) (Data, error) {
	switch v := x.(type) {
	case *Tensor:
		return m.TransformDense(v)
	case *Events:
		return m.TransformEvents(v)
	case nil:
		return nil, fmt.Errorf("%w: input is nil", ErrDimensionMismatch)
	default:
		return nil, fmt.Errorf("%w: unsupported input type %T", ErrDimensionMismatch, x)
	}
}

// TransformDense resamples every trial of x through its inverse warp.
// The time axis of x may differ in length from the fitted template.
func (m *AffineWarping) TransformDense(x *Tensor) (*Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: input is nil", ErrDimensionMismatch)
	}
	if err := m.checkTransformInput("TransformDense", x.K); err != nil {
		return nil, err
	}
	if len(x.Data) != x.K*x.T*x.N {
		return nil, &InputError{Expected: x.K * x.T * x.N, Got: len(x.Data), Type: "tensor data"}
	}
	kn := m.session.knots
	return denseWarp(kn.Y, kn.X, x, m.workers), nil
}

// TransformMatrix transforms a trials x timepoints input, treating it as a
// single-channel tensor.
func (m *AffineWarping) TransformMatrix(x [][]float64) (*Tensor, error) {
	if m.session == nil {
		return nil, notFitted("TransformMatrix")
	}
	t, err := TensorFromMatrix(x)
	if err != nil {
		return nil, err
	}
	return m.TransformDense(t)
}

// TransformEvents moves every event to the reference-time bin of its
// forward-warped time. Events warped outside [0, T) are discarded.
func (m *AffineWarping) TransformEvents(e *Events) (*Events, error) {
	trials, times, channels, err := m.alignEvents("TransformEvents", e)
	if err != nil {
		return nil, err
	}
	out := &Events{K: e.K, T: e.T, N: e.N}
	for i, w := range times {
		bin := int(w)
		if w < 0 || bin >= e.T {
			continue
		}
		out.Trials = append(out.Trials, trials[i])
		out.Times = append(out.Times, bin)
		out.Channels = append(out.Channels, channels[i])
		out.Values = append(out.Values, e.Values[i])
	}
	return out, nil
}

// AlignEvents returns the coordinates of every event with its time
// replaced by the forward-warped time in fractional bins. Nothing is
// discarded, so warped times may fall outside [0, T).
func (m *AffineWarping) AlignEvents(e *Events) (trials []int, times []float64, channels []int, err error) {
	return m.alignEvents("AlignEvents", e)
}

func (m *AffineWarping) alignEvents(op string, e *Events) ([]int, []float64, []int, error) {
	if e == nil {
		return nil, nil, nil, fmt.Errorf("%w: input is nil", ErrDimensionMismatch)
	}
	if err := m.checkTransformInput(op, e.K); err != nil {
		return nil, nil, nil, err
	}
	if len(e.Times) != len(e.Trials) || len(e.Channels) != len(e.Trials) || len(e.Values) != len(e.Trials) {
		return nil, nil, nil, fmt.Errorf("%w: event coordinate lists have different lengths", ErrDimensionMismatch)
	}
	for i, k := range e.Trials {
		if k < 0 || k >= e.K {
			return nil, nil, nil, fmt.Errorf("%w: event %d has trial %d outside [0, %d)", ErrDimensionMismatch, i, k, e.K)
		}
	}
	scale := float64(e.T)
	frac := make([]float64, len(e.Times))
	for i, t := range e.Times {
		frac[i] = float64(t) / scale
	}
	warped := sparseWarp(m.session.knots, e.Trials, frac)
	for i := range warped {
		warped[i] *= scale
	}
	trials := append([]int(nil), e.Trials...)
	channels := append([]int(nil), e.Channels...)
	return trials, warped, channels, nil
}

func (m *AffineWarping) checkTransformInput(op string, trials int) error {
	if m.session == nil {
		return notFitted(op)
	}
	K, _ := m.session.knots.Dims()
	if trials != K {
		return fmt.Errorf("%w: number of trials in the input (%d) does not match the fitted model (%d)",
			ErrDimensionMismatch, trials, K)
	}
	return nil
}
