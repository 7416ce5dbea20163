package affinewarp

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// AffineWarpingState represents the serializable state of AffineWarping
type AffineWarpingState struct {
	Version      int       `gob:"version"`
	NKnots       int       `gob:"n_knots"`
	WarpReg      float64   `gob:"warpreg"`
	L2Smoothness float64   `gob:"l2_smoothness"`
	MinTemp      float64   `gob:"min_temp"`
	MaxTemp      float64   `gob:"max_temp"`
	Cooling      bool      `gob:"cooling"`
	Workers      int       `gob:"workers"`
	Fitted       bool      `gob:"fitted"`
	Trials       int       `gob:"trials"`
	Timepoints   int       `gob:"timepoints"`
	Channels     int       `gob:"channels"`
	TemplateData []float64 `gob:"template_data"`
	XKnotsData   []float64 `gob:"x_knots_data"`
	YKnotsData   []float64 `gob:"y_knots_data"`
	Losses       []float64 `gob:"losses"`
	Penalties    []float64 `gob:"penalties"`
	LossHist     []float64 `gob:"loss_hist"`
	Proposals    uint64    `gob:"proposals"`
	Accepted     uint64    `gob:"accepted"`
}

// Save serializes the model state to gob format
func (m *AffineWarping) Save(w io.Writer) error {
	state := AffineWarpingState{
		Version:      1,
		NKnots:       m.nKnots,
		WarpReg:      m.warpReg,
		L2Smoothness: m.l2Smoothness,
		MinTemp:      m.minTemp,
		MaxTemp:      m.maxTemp,
		Cooling:      m.cooling,
		Workers:      m.workers,
		Proposals:    m.proposals,
		Accepted:     m.accepted,
	}

	if s := m.session; s != nil {
		state.Fitted = true
		state.Trials, _ = s.knots.Dims()
		state.Timepoints, state.Channels = s.template.Dims()
		state.TemplateData = mat.DenseCopyOf(s.template).RawMatrix().Data
		state.XKnotsData = mat.DenseCopyOf(s.knots.X).RawMatrix().Data
		state.YKnotsData = mat.DenseCopyOf(s.knots.Y).RawMatrix().Data
		state.Losses = append([]float64(nil), s.losses...)
		state.Penalties = append([]float64(nil), s.penalties...)
		state.LossHist = append([]float64(nil), s.lossHist...)
	}

	encoder := gob.NewEncoder(w)
	return encoder.Encode(state)
}

// Load deserializes model state from gob format
func Load(r io.Reader, seed int64) (*AffineWarping, error) {
	decoder := gob.NewDecoder(r)

	var state AffineWarpingState
	if err := decoder.Decode(&state); err != nil {
		return nil, err
	}

	if state.Version != 1 {
		return nil, errors.New("unsupported gob version")
	}

	// Create new instance with the same configuration
	options := []Option{
		WithWarpReg(state.WarpReg),
		WithL2Smoothness(state.L2Smoothness),
		WithTemperatureRange(state.MinTemp, state.MaxTemp),
		WithCooling(state.Cooling),
		WithWorkers(state.Workers),
		WithRandomSeed(seed),
	}

	m, err := NewAffineWarping(state.NKnots, options...)
	if err != nil {
		return nil, err
	}
	m.proposals = state.Proposals
	m.accepted = state.Accepted

	if !state.Fitted {
		return m, nil
	}

	// Validate data lengths
	K, T, N, P := state.Trials, state.Timepoints, state.Channels, state.NKnots+2
	if K <= 0 || T < 2 || N <= 0 {
		return nil, fmt.Errorf("invalid state dimensions (%d, %d, %d)", K, T, N)
	}
	if len(state.TemplateData) != T*N {
		return nil, errors.New("invalid template data length")
	}
	if len(state.XKnotsData) != K*P || len(state.YKnotsData) != K*P {
		return nil, errors.New("invalid knots data length")
	}
	if len(state.Losses) != K || len(state.Penalties) != K {
		return nil, errors.New("invalid loss data length")
	}
	if len(state.LossHist) == 0 {
		return nil, errors.New("empty loss history")
	}

	knots := Knots{
		X: mat.NewDense(K, P, append([]float64(nil), state.XKnotsData...)),
		Y: mat.NewDense(K, P, append([]float64(nil), state.YKnotsData...)),
	}
	if err := knots.Validate(); err != nil {
		return nil, fmt.Errorf("invalid knots: %w", err)
	}

	m.session = &session{
		tref:         timeBase(T),
		template:     mat.NewDense(T, N, append([]float64(nil), state.TemplateData...)),
		knots:        knots,
		losses:       append([]float64(nil), state.Losses...),
		penalties:    append([]float64(nil), state.Penalties...),
		lossHist:     append([]float64(nil), state.LossHist...),
		newLosses:    make([]float64, K),
		newPenalties: make([]float64, K),
	}

	return m, nil
}
