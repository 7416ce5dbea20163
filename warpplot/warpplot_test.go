package warpplot

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/n0madic/go-affinewarp/affinewarp"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func bumps(t *testing.T, shifts []float64, T int) *affinewarp.Tensor {
	t.Helper()
	data, err := affinewarp.NewTensor(len(shifts), T, 2, nil)
	require.NoError(t, err)
	for k, s := range shifts {
		for i := 0; i < T; i++ {
			x := float64(i)/float64(T-1) - 0.5 - s
			v := math.Exp(-x * x / 0.02)
			data.Set(k, i, 0, v)
			data.Set(k, i, 1, 2*v)
		}
	}
	return data
}

func TestTemplate(t *testing.T) {
	tpl := mat.NewDense(4, 2, []float64{0, 1, 1, 2, 2, 3, 3, 4})
	p, err := Template(tpl, "template")
	require.NoError(t, err)
	require.Equal(t, "template", p.Title.Text)

	path := filepath.Join(t.TempDir(), "template.png")
	require.NoError(t, Save(p, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	_, err = Template(nil, "empty")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestTrials(t *testing.T) {
	data := bumps(t, []float64{-0.1, 0, 0.1}, 20)

	p, err := Trials(data, 1, "trials")
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = Trials(data, 2, "bad channel")
	require.Error(t, err)

	_, err = Trials(nil, 0, "nil")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestWarps(t *testing.T) {
	kn := affinewarp.IdentityKnots(3, 2)
	p, err := Warps(kn, "warps")
	require.NoError(t, err)

	// nested output directories are created on save
	path := filepath.Join(t.TempDir(), "nested", "warps.svg")
	require.NoError(t, Save(p, path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	kn.X.Set(0, 0, 0.5)
	_, err = Warps(kn, "invalid")
	require.Error(t, err)

	_, err = Warps(affinewarp.Knots{}, "empty")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestLossHistory(t *testing.T) {
	p, err := LossHistory([]float64{3, 2, 1.5})
	require.NoError(t, err)
	require.Equal(t, "Iteration", p.X.Label.Text)

	_, err = LossHistory(nil)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestReport(t *testing.T) {
	data := bumps(t, []float64{-0.05, 0, 0.05}, 25)
	m, err := affinewarp.NewAffineWarping(1, affinewarp.WithRandomSeed(5))
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = Report(m, data, 0, dir)
	require.ErrorIs(t, err, affinewarp.ErrNotFitted)

	require.NoError(t, m.Fit(data, affinewarp.Iterations(2), affinewarp.WarpIterations(5)))

	n, err := Report(m, data, 0, dir)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	for _, name := range []string{"raw.png", "aligned.png", "template.png", "warps.png", "loss.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
}

func TestGenerateColors(t *testing.T) {
	require.Nil(t, generateColors(0))

	colors := generateColors(6)
	require.Len(t, colors, 6)
	seen := make(map[[3]uint32]bool)
	for _, c := range colors {
		r, g, b, a := c.RGBA()
		require.Equal(t, uint32(0xffff), a)
		seen[[3]uint32{r, g, b}] = true
	}
	require.Len(t, seen, 6)
}
