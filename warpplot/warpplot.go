// Package warpplot renders fitted time-warping models with gonum/plot.
package warpplot

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/n0madic/go-affinewarp/affinewarp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Figure size used by Save and Report.
const (
	Width  = 10 * vg.Inch
	Height = 6 * vg.Inch
)

// ErrEmpty is returned when there is nothing to draw.
var ErrEmpty = errors.New("warpplot: nothing to plot")

// Template draws every channel of a T x N template against normalized time.
func Template(tpl *mat.Dense, title string) (*plot.Plot, error) {
	if tpl == nil || tpl.IsEmpty() {
		return nil, ErrEmpty
	}
	T, N := tpl.Dims()

	p := newPlot(title, "Time (normalized)", "Amplitude")
	colors := generateColors(N)
	for c := 0; c < N; c++ {
		pts := make(plotter.XYs, T)
		for t := range pts {
			pts[t] = plotter.XY{X: normTime(t, T), Y: tpl.At(t, c)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[c]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("channel %d", c), line)
	}
	return p, nil
}

// Trials overlays one channel of every trial in data.
func Trials(data *affinewarp.Tensor, channel int, title string) (*plot.Plot, error) {
	if data == nil || len(data.Data) == 0 {
		return nil, ErrEmpty
	}
	K, T, N := data.Dims()
	if channel < 0 || channel >= N {
		return nil, fmt.Errorf("channel %d outside [0, %d)", channel, N)
	}

	p := newPlot(title, "Time (normalized)", "Amplitude")
	colors := generateColors(K)
	for k := 0; k < K; k++ {
		pts := make(plotter.XYs, T)
		for t := range pts {
			pts[t] = plotter.XY{X: normTime(t, T), Y: data.At(k, t, channel)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[k]
		line.Width = vg.Points(1)
		p.Add(line)
	}
	return p, nil
}

// Warps draws the piecewise-affine warp function of every trial through its
// knots, with the identity map dashed for reference.
func Warps(kn affinewarp.Knots, title string) (*plot.Plot, error) {
	if kn.X == nil || kn.Y == nil {
		return nil, ErrEmpty
	}
	if err := kn.Validate(); err != nil {
		return nil, err
	}
	K, P := kn.Dims()

	p := newPlot(title, "Trial time", "Template time")
	identity, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return nil, err
	}
	identity.Color = color.Gray{Y: 128}
	identity.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	p.Add(identity)
	p.Legend.Add("identity", identity)

	colors := generateColors(K)
	for k := 0; k < K; k++ {
		pts := make(plotter.XYs, P)
		for j := range pts {
			pts[j] = plotter.XY{X: kn.X.At(k, j), Y: kn.Y.At(k, j)}
		}
		line, knots, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[k]
		line.Width = vg.Points(1)
		knots.Color = colors[k]
		knots.Radius = vg.Points(2)
		p.Add(line, knots)
	}
	return p, nil
}

// LossHistory draws the mean objective after every fitting round.
func LossHistory(hist []float64) (*plot.Plot, error) {
	if len(hist) == 0 {
		return nil, ErrEmpty
	}
	p := newPlot("Loss history", "Iteration", "Mean loss")
	pts := make(plotter.XYs, len(hist))
	for i, v := range hist {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1.5)
	points.Radius = vg.Points(2)
	p.Add(line, points)
	return p, nil
}

// Save writes p to path, creating the parent directory. The image format
// follows the file extension.
func Save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Report renders the raw trials, aligned trials, template, warp functions
// and loss history of a fitted model into dir as PNG files. It returns the
// number of files written.
func Report(m *affinewarp.AffineWarping, data *affinewarp.Tensor, channel int, dir string) (int, error) {
	tpl, err := m.Template()
	if err != nil {
		return 0, err
	}
	kn, err := m.Knots()
	if err != nil {
		return 0, err
	}
	aligned, err := m.TransformDense(data)
	if err != nil {
		return 0, err
	}

	figures := []struct {
		name  string
		build func() (*plot.Plot, error)
	}{
		{"raw.png", func() (*plot.Plot, error) {
			return Trials(data, channel, fmt.Sprintf("Raw trials (channel %d)", channel))
		}},
		{"aligned.png", func() (*plot.Plot, error) {
			return Trials(aligned, channel, fmt.Sprintf("Aligned trials (channel %d)", channel))
		}},
		{"template.png", func() (*plot.Plot, error) { return Template(tpl, "Template") }},
		{"warps.png", func() (*plot.Plot, error) { return Warps(kn, "Warp functions") }},
		{"loss.png", func() (*plot.Plot, error) { return LossHistory(m.LossHistory()) }},
	}

	written := 0
	for _, f := range figures {
		p, err := f.build()
		if err != nil {
			return written, fmt.Errorf("%s: %w", f.name, err)
		}
		if err := Save(p, filepath.Join(dir, f.name)); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func newPlot(title, xLabel, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

func normTime(t, T int) float64 {
	if T < 2 {
		return 0
	}
	return float64(t) / float64(T-1)
}
