package design

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"tprf-host/pkg/errors"
)

var zoneColors = [5]color.RGBA{
	{R: 0xe4, G: 0x1a, B: 0x1c, A: 0xff},
	{R: 0x37, G: 0x7e, B: 0xb8, A: 0xff},
	{R: 0x4d, G: 0xaf, B: 0x4a, A: 0xff},
	{R: 0x98, G: 0x4e, B: 0xa3, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x00, A: 0xff},
}

var regressorColors = [3]color.RGBA{
	{R: 0x33, G: 0x33, B: 0x33, A: 0xff},
	{R: 0xe4, G: 0x1a, B: 0x1c, A: 0xff},
	{R: 0x37, G: 0x7e, B: 0xb8, A: 0xff},
}

// RenderPNG writes the three-panel design visualization: unconvolved
// neural signals, z-scored convolved regressors, and the per-zone
// aperture.
func RenderPNG(path string, d Design, title string) error {
	p1, err := neuralPanel(d, title)
	if err != nil {
		return err
	}
	p2, err := regressorPanel(d)
	if err != nil {
		return err
	}
	p3, err := aperturePanel(d)
	if err != nil {
		return err
	}

	img := vgimg.New(vg.Points(850), vg.Points(700))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 3, Cols: 1, PadY: vg.Points(8)}
	plots := [][]*plot.Plot{{p1}, {p2}, {p3}}
	canvases := plot.Align(plots, tiles, dc)
	for r := range plots {
		plots[r][0].Draw(canvases[r][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.OutputError(path, err)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return errors.OutputError(path, err)
	}
	if err := f.Close(); err != nil {
		return errors.OutputError(path, err)
	}
	return nil
}

func neuralPanel(d Design, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Neural signal"
	p.Add(plotter.NewGrid())

	box, err := newLine(d.FrameTimes, d.Unconvolved.Boxcar, color.Gray{Y: 140})
	if err != nil {
		return nil, err
	}
	p.Add(box)
	p.Legend.Add("stim boxcar", box)

	norm := make([]float64, len(d.Delta))
	for i, v := range d.Delta {
		if d.Meta.MaxDelta > 0 {
			norm[i] = v / d.Meta.MaxDelta
		}
	}
	delta, err := newLine(d.FrameTimes, norm, regressorColors[1])
	if err != nil {
		return nil, err
	}
	p.Add(delta)
	p.Legend.Add("delta (normalised)", delta)
	p.Legend.Top = true
	return p, nil
}

func regressorPanel(d Design) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "GLM regressors (HRF-convolved, z-scored)"
	p.Y.Label.Text = "Amplitude"
	p.Add(plotter.NewGrid())

	names := []string{"stim_boxcar", "delta_centered", "delta_derivative"}
	cols := [][]float64{
		d.Convolved.Boxcar,
		d.Convolved.DeltaCentered,
		d.Convolved.DeltaDerivative,
	}
	for i, name := range names {
		line, err := newLine(d.FrameTimes, zScore(cols[i]), regressorColors[i])
		if err != nil {
			return nil, err
		}
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	return p, nil
}

func aperturePanel(d Design) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "pRF aperture (per-zone temperature, unconvolved)"
	p.X.Label.Text = "Time from trigger (s)"
	p.Y.Label.Text = "Temperature (°C)"
	p.Add(plotter.NewGrid())

	for _, z := range d.ActiveZones {
		col := make([]float64, len(d.Aperture))
		for i := range d.Aperture {
			col[i] = d.Aperture[i][z]
		}
		line, err := newLine(d.FrameTimes, col, zoneColors[z])
		if err != nil {
			return nil, err
		}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Zone %d (mask=%+d)", z+1, d.Meta.MaskArray[z]), line)
	}

	if n := len(d.FrameTimes); n > 0 {
		base, err := plotter.NewLine(plotter.XYs{
			{X: d.FrameTimes[0], Y: d.Meta.BaselineTemp},
			{X: d.FrameTimes[n-1], Y: d.Meta.BaselineTemp},
		})
		if err != nil {
			return nil, err
		}
		base.Color = color.Gray{Y: 128}
		base.LineStyle.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(base)
		p.Legend.Add("baseline", base)
	}
	p.Legend.Top = true
	return p, nil
}

func newLine(x, y []float64, c color.Color) (*plotter.Line, error) {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = c
	line.LineStyle.Width = vg.Points(1)
	return line, nil
}

func zScore(vals []float64) []float64 {
	mean, std := stat.MeanStdDev(vals, nil)
	out := make([]float64, len(vals))
	for i, v := range vals {
		if std > 0 {
			out[i] = (v - mean) / std
		} else {
			out[i] = v
		}
	}
	return out
}
