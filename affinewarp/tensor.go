package affinewarp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Data is an input accepted by Transform. It is implemented by *Tensor
// (dense trials) and *Events (sparse event coordinates).
type Data interface {
	// NumTrials returns the size of the trial axis.
	NumTrials() int

	isData()
}

// Tensor is a dense trials x timepoints x channels array stored row-major,
// so sample (k, t, n) lives at Data[(k*T+t)*N+n].
type Tensor struct {
	K, T, N int
	Data    []float64
}

// NewTensor creates a K x T x N tensor. If data is nil a zeroed backing
// slice is allocated, otherwise data is used directly and must hold K*T*N values.
func NewTensor(k, t, n int, data []float64) (*Tensor, error) {
	if k <= 0 || t <= 0 || n <= 0 {
		return nil, fmt.Errorf("%w: tensor dimensions must be positive, got (%d, %d, %d)",
			ErrDimensionMismatch, k, t, n)
	}
	if data == nil {
		data = make([]float64, k*t*n)
	}
	if len(data) != k*t*n {
		return nil, &InputError{Expected: k * t * n, Got: len(data), Type: "tensor data"}
	}
	return &Tensor{K: k, T: t, N: n, Data: data}, nil
}

// TensorFromSlices copies a nested [trial][time][channel] slice into a Tensor.
// Ragged input is rejected since it is not a 3-dimensional array.
func TensorFromSlices(x [][][]float64) (*Tensor, error) {
	if len(x) == 0 || len(x[0]) == 0 || len(x[0][0]) == 0 {
		return nil, fmt.Errorf("%w: data must be a non-empty 3-dimensional array", ErrDimensionMismatch)
	}
	k, t, n := len(x), len(x[0]), len(x[0][0])
	out, err := NewTensor(k, t, n, nil)
	if err != nil {
		return nil, err
	}
	for i, trial := range x {
		if len(trial) != t {
			return nil, &InputError{Expected: t, Got: len(trial), Type: fmt.Sprintf("trial %d timepoints", i)}
		}
		for j, row := range trial {
			if len(row) != n {
				return nil, &InputError{Expected: n, Got: len(row), Type: fmt.Sprintf("trial %d time %d channels", i, j)}
			}
			copy(out.Data[(i*t+j)*n:], row)
		}
	}
	return out, nil
}

// TensorFromMatrix expands a 2-dimensional [trial][time] slice into a
// Tensor with a single channel.
func TensorFromMatrix(x [][]float64) (*Tensor, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, fmt.Errorf("%w: data must be a non-empty 2-dimensional array", ErrDimensionMismatch)
	}
	k, t := len(x), len(x[0])
	out, err := NewTensor(k, t, 1, nil)
	if err != nil {
		return nil, err
	}
	for i, trial := range x {
		if len(trial) != t {
			return nil, &InputError{Expected: t, Got: len(trial), Type: fmt.Sprintf("trial %d timepoints", i)}
		}
		copy(out.Data[i*t:], trial)
	}
	return out, nil
}

// NumTrials returns K.
func (x *Tensor) NumTrials() int { return x.K }

func (x *Tensor) isData() {}

// Dims returns the trial, time and channel sizes.
func (x *Tensor) Dims() (k, t, n int) { return x.K, x.T, x.N }

// At returns sample (k, t, n).
func (x *Tensor) At(k, t, n int) float64 { return x.Data[(k*x.T+t)*x.N+n] }

// Set assigns sample (k, t, n).
func (x *Tensor) Set(k, t, n int, v float64) { x.Data[(k*x.T+t)*x.N+n] = v }

// Trial returns a T x N matrix view of trial k sharing the tensor's storage.
func (x *Tensor) Trial(k int) *mat.Dense {
	return mat.NewDense(x.T, x.N, x.trialData(k))
}

func (x *Tensor) trialData(k int) []float64 {
	size := x.T * x.N
	return x.Data[k*size : (k+1)*size]
}

// Clone returns a deep copy.
func (x *Tensor) Clone() *Tensor {
	data := make([]float64, len(x.Data))
	copy(data, x.Data)
	return &Tensor{K: x.K, T: x.T, N: x.N, Data: data}
}

// Mean averages the tensor over trials and returns a T x N matrix.
func (x *Tensor) Mean() *mat.Dense {
	mean := make([]float64, x.T*x.N)
	for k := 0; k < x.K; k++ {
		floats.Add(mean, x.trialData(k))
	}
	floats.Scale(1/float64(x.K), mean)
	return mat.NewDense(x.T, x.N, mean)
}

// checkFinite reports the first NaN or infinite sample.
func (x *Tensor) checkFinite() error {
	for i, v := range x.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			n := i % x.N
			t := (i / x.N) % x.T
			k := i / (x.N * x.T)
			return fmt.Errorf("%w: non-finite sample %v at (%d, %d, %d)", ErrDimensionMismatch, v, k, t, n)
		}
	}
	return nil
}

// Events is a sparse coordinate list over a K x T x N grid. Entry i is a
// value observed in trial Trials[i], time bin Times[i] and channel Channels[i].
type Events struct {
	K, T, N  int
	Trials   []int
	Times    []int
	Channels []int
	Values   []float64
}

// NewEvents validates coordinates against the K x T x N shape. A nil values
// slice means every event has value 1.
func NewEvents(k, t, n int, trials, times, channels []int, values []float64) (*Events, error) {
	if k <= 0 || t <= 0 || n <= 0 {
		return nil, fmt.Errorf("%w: event grid dimensions must be positive, got (%d, %d, %d)",
			ErrDimensionMismatch, k, t, n)
	}
	if len(times) != len(trials) {
		return nil, &InputError{Expected: len(trials), Got: len(times), Type: "event times"}
	}
	if len(channels) != len(trials) {
		return nil, &InputError{Expected: len(trials), Got: len(channels), Type: "event channels"}
	}
	if values == nil {
		values = make([]float64, len(trials))
		for i := range values {
			values[i] = 1
		}
	}
	if len(values) != len(trials) {
		return nil, &InputError{Expected: len(trials), Got: len(values), Type: "event values"}
	}
	for i := range trials {
		if trials[i] < 0 || trials[i] >= k || times[i] < 0 || times[i] >= t || channels[i] < 0 || channels[i] >= n {
			return nil, fmt.Errorf("%w: event %d at (%d, %d, %d) outside shape (%d, %d, %d)",
				ErrDimensionMismatch, i, trials[i], times[i], channels[i], k, t, n)
		}
	}
	return &Events{K: k, T: t, N: n, Trials: trials, Times: times, Channels: channels, Values: values}, nil
}

// NumTrials returns K.
func (e *Events) NumTrials() int { return e.K }

func (e *Events) isData() {}

// Len returns the number of stored events.
func (e *Events) Len() int { return len(e.Trials) }

// Dense materializes the events into a Tensor, summing duplicate coordinates.
func (e *Events) Dense() *Tensor {
	out := &Tensor{K: e.K, T: e.T, N: e.N, Data: make([]float64, e.K*e.T*e.N)}
	for i := range e.Trials {
		out.Data[(e.Trials[i]*e.T+e.Times[i])*e.N+e.Channels[i]] += e.Values[i]
	}
	return out
}
