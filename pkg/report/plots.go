package report

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"tprf-host/pkg/qc"
)

// maxTracePoints caps how many samples land in the temperature trace; a
// full 8-cycle block has ~7000 and would bloat the embedded PNG.
const maxTracePoints = 2000

var traceColors = [5]color.RGBA{
	{R: 0xe4, G: 0x1a, B: 0x1c, A: 0xff},
	{R: 0x37, G: 0x7e, B: 0xb8, A: 0xff},
	{R: 0x4d, G: 0xaf, B: 0x4a, A: 0xff},
	{R: 0x98, G: 0x4e, B: 0xa3, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x00, A: 0xff},
}

// temperaturePlot renders commanded versus achieved temperature for the
// active zones, decimated to keep the image small.
func temperaturePlot(data RunData) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "Commanded vs achieved temperature"
	p.X.Label.Text = "Time from trigger (s)"
	p.Y.Label.Text = "Temperature (°C)"
	p.Add(plotter.NewGrid())

	step := 1
	if len(data.Samples) > maxTracePoints {
		step = len(data.Samples)/maxTracePoints + 1
	}

	for _, z := range activeZones(data) {
		set := make(plotter.XYs, 0, len(data.Samples)/step+1)
		actual := make(plotter.XYs, 0, len(data.Samples)/step+1)
		for i := 0; i < len(data.Samples); i += step {
			smp := data.Samples[i]
			set = append(set, plotter.XY{X: smp.Onset, Y: smp.Set[z]})
			// NaN readbacks leave a gap in the line.
			actual = append(actual, plotter.XY{X: smp.Onset, Y: smp.Actual[z]})
		}

		setLine, err := plotter.NewLine(set)
		if err != nil {
			return nil, err
		}
		setLine.Color = traceColors[z]
		setLine.LineStyle.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}
		p.Add(setLine)
		p.Legend.Add(fmt.Sprintf("zone %d set", z+1), setLine)

		actLine, err := plotter.NewLine(actual)
		if err != nil {
			return nil, err
		}
		actLine.Color = traceColors[z]
		actLine.LineStyle.Width = vg.Points(1)
		p.Add(actLine)
		p.Legend.Add(fmt.Sprintf("zone %d actual", z+1), actLine)
	}
	p.Legend.Top = true

	return renderPNG(p, 800, 300)
}

// rampRatePlot renders the per-cycle mean ramp rate against the expected
// rate and its tolerance band.
func rampRatePlot(data RunData) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "Mean ramp rate per cycle"
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "Ramp rate (°C/s)"
	p.Add(plotter.NewGrid())

	expected := data.Sidecar.RampRate
	if len(data.Cycles) > 0 {
		xMax := float64(data.Cycles[len(data.Cycles)-1].CycleIndex)
		for _, y := range []float64{expected - qc.RampRateTolerance, expected + qc.RampRateTolerance} {
			tol, err := plotter.NewLine(plotter.XYs{{X: 0, Y: y}, {X: xMax, Y: y}})
			if err != nil {
				return nil, err
			}
			tol.Color = color.RGBA{R: 0xff, A: 0xff}
			tol.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
			p.Add(tol)
		}
		exp, err := plotter.NewLine(plotter.XYs{{X: 0, Y: expected}, {X: xMax, Y: expected}})
		if err != nil {
			return nil, err
		}
		exp.Color = color.Gray{Y: 128}
		p.Add(exp)
		p.Legend.Add(fmt.Sprintf("expected %.2f ±%.2f", expected, qc.RampRateTolerance), exp)
	}

	pts := make(plotter.XYs, len(data.Cycles))
	for i, c := range data.Cycles {
		pts[i] = plotter.XY{X: float64(c.CycleIndex), Y: c.MeanRampRate}
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = traceColors[1]
	points.Color = traceColors[1]
	p.Add(line, points)
	p.Legend.Add("measured", line)
	p.Legend.Top = true

	return renderPNG(p, 800, 250)
}

func renderPNG(p *plot.Plot, w, h float64) ([]byte, error) {
	writer, err := p.WriterTo(vg.Points(w), vg.Points(h), "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// activeZones derives the driven zones from the commanded samples; a
// zone whose command ever departs from baseline is active.
func activeZones(data RunData) []int {
	baseline := data.Sidecar.BaselineTemp
	var zones []int
	for z := 0; z < 5; z++ {
		for _, smp := range data.Samples {
			if smp.Set[z] != baseline {
				zones = append(zones, z)
				break
			}
		}
	}
	return zones
}
