package affinewarp

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSaveLoad(t *testing.T) {
	// Create and fit a model
	m, err := NewAffineWarping(2,
		WithRandomSeed(42),
		WithWarpReg(0.1),
		WithL2Smoothness(0.5),
		WithTemperatureRange(-3, -1),
		WithCooling(true),
		WithWorkers(2),
	)
	require.NoError(t, err)

	data := shiftedBumps(t, []float64{-0.1, 0, 0.1}, 24, 2)
	require.NoError(t, m.Fit(data, Iterations(3), WarpIterations(5)))

	originalStats := m.GetStats()

	// Save the model
	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	// Load the model with a different seed
	loaded, err := Load(&buf, 123)
	require.NoError(t, err)

	// Compare configuration
	require.Equal(t, m.nKnots, loaded.nKnots)
	require.Equal(t, m.warpReg, loaded.warpReg)
	require.Equal(t, m.l2Smoothness, loaded.l2Smoothness)
	require.Equal(t, m.minTemp, loaded.minTemp)
	require.Equal(t, m.maxTemp, loaded.maxTemp)
	require.Equal(t, m.cooling, loaded.cooling)
	require.Equal(t, m.workers, loaded.workers)

	// Compare stats
	if diff := cmp.Diff(originalStats, loaded.GetStats()); diff != "" {
		t.Errorf("stats mismatch after load (-saved +loaded):\n%s", diff)
	}

	// Compare fitted state
	wantTpl, _ := m.Template()
	gotTpl, err := loaded.Template()
	require.NoError(t, err)
	require.True(t, mat.Equal(wantTpl, gotTpl), "template mismatch")

	wantKn, _ := m.Knots()
	gotKn, err := loaded.Knots()
	require.NoError(t, err)
	require.True(t, mat.Equal(wantKn.X, gotKn.X), "x knots mismatch")
	require.True(t, mat.Equal(wantKn.Y, gotKn.Y), "y knots mismatch")

	wantLoss, _ := m.Losses()
	gotLoss, err := loaded.Losses()
	require.NoError(t, err)
	require.Equal(t, wantLoss, gotLoss)
	require.Equal(t, m.LossHistory(), loaded.LossHistory())

	wantPred, _ := m.Predict()
	gotPred, err := loaded.Predict()
	require.NoError(t, err)
	require.Equal(t, wantPred.Data, gotPred.Data)

	// The loaded model keeps fitting from the restored state
	require.NoError(t, loaded.ContinueFit(data, Iterations(1)))
	require.Len(t, loaded.LossHistory(), len(m.LossHistory())+1)
}

func TestSaveLoadUnfitted(t *testing.T) {
	m, err := NewAffineWarping(1, WithWarpReg(0.2))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := Load(&buf, 7)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.nKnots)
	require.Equal(t, 0.2, loaded.warpReg)
	require.Nil(t, loaded.session)

	_, err = loaded.Predict()
	require.ErrorIs(t, err, ErrNotFitted)
}

func TestSaveLoadInvalidVersion(t *testing.T) {
	// Create a buffer with invalid version
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	invalidState := AffineWarpingState{
		Version: 999, // Invalid version
		NKnots:  1,
		MinTemp: -2,
		MaxTemp: 0,
		Workers: 1,
	}
	require.NoError(t, encoder.Encode(invalidState))

	_, err := Load(&buf, 42)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported gob version")
}

func TestLoadRejectsCorruptState(t *testing.T) {
	valid := func() AffineWarpingState {
		return AffineWarpingState{
			Version:      1,
			NKnots:       0,
			MinTemp:      -2,
			MaxTemp:      0,
			Workers:      1,
			Fitted:       true,
			Trials:       2,
			Timepoints:   3,
			Channels:     1,
			TemplateData: []float64{1, 2, 3},
			XKnotsData:   []float64{0, 1, 0, 1},
			YKnotsData:   []float64{0, 1, 0.1, 1.1},
			Losses:       []float64{0.5, 0.25},
			Penalties:    []float64{0, 0},
			LossHist:     []float64{0.375},
		}
	}

	tests := []struct {
		name    string
		corrupt func(*AffineWarpingState)
	}{
		{name: "valid", corrupt: func(*AffineWarpingState) {}},
		{name: "template length", corrupt: func(s *AffineWarpingState) { s.TemplateData = s.TemplateData[:2] }},
		{name: "knots length", corrupt: func(s *AffineWarpingState) { s.YKnotsData = s.YKnotsData[:3] }},
		{name: "loss length", corrupt: func(s *AffineWarpingState) { s.Losses = nil }},
		{name: "empty history", corrupt: func(s *AffineWarpingState) { s.LossHist = nil }},
		{name: "single timepoint", corrupt: func(s *AffineWarpingState) { s.Timepoints = 1; s.TemplateData = []float64{1} }},
		{name: "unpinned x knots", corrupt: func(s *AffineWarpingState) { s.XKnotsData = []float64{0.1, 1, 0, 1} }},
		{name: "decreasing y knots", corrupt: func(s *AffineWarpingState) { s.YKnotsData = []float64{1, 0, 0, 1} }},
		{name: "bad config", corrupt: func(s *AffineWarpingState) { s.MinTemp = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := valid()
			tt.corrupt(&state)

			var buf bytes.Buffer
			require.NoError(t, gob.NewEncoder(&buf).Encode(state))

			m, err := Load(&buf, 1)
			if tt.name == "valid" {
				require.NoError(t, err)
				require.Equal(t, []float64{0.375}, m.LossHistory())
				return
			}
			require.Error(t, err)
			require.Nil(t, m)
		})
	}
}
