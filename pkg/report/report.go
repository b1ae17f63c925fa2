package report

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	"github.com/jung-kurt/gofpdf"

	"tprf-host/pkg/errors"
	"tprf-host/pkg/log"
	"tprf-host/pkg/qc"
)

var logger = log.GetLogger("report")

const (
	pageMargin   = 12.0 // mm
	lineHeight   = 6.0  // mm
	contentWidth = 210.0 - 2*pageMargin
)

// Build renders the QC report PDF for one completed run.
func Build(path string, data RunData) error {
	// The two plots are independent; render them concurrently.
	var wg sync.WaitGroup
	var tempPNG, rampPNG []byte
	var tempErr, rampErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		tempPNG, tempErr = temperaturePlot(data)
	}()
	go func() {
		defer wg.Done()
		rampPNG, rampErr = rampRatePlot(data)
	}()
	wg.Wait()
	if tempErr != nil {
		return tempErr
	}
	if rampErr != nil {
		return rampErr
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.AddPage()
	// Core fonts are cp1252; the degree signs need translating.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	writeHeader(pdf, tr, data)
	writeSummary(pdf, tr, data)
	writeCycleTable(pdf, tr, data)

	addImage(pdf, "temperature", tempPNG, contentWidth, contentWidth*300/800)
	addImage(pdf, "ramp_rate", rampPNG, contentWidth, contentWidth*250/800)

	if err := pdf.OutputFileAndClose(path); err != nil {
		return errors.OutputError(path, err)
	}
	logger.WithField("path", path).Info("qc report written")
	return nil
}

func writeHeader(pdf *gofpdf.Fpdf, tr func(string) string, data RunData) {
	direction := "warm-first"
	if !data.Sidecar.WarmFirst {
		direction = "cool-first"
	}

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(contentWidth, 8,
		fmt.Sprintf("QC Report: sub-%s ses-%s run-%s", data.Participant, data.Session, data.Run),
		"", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Block: %s | Mask: %s | %s | %s waveform",
			data.Sidecar.BlockType, data.Sidecar.MaskName, direction, data.Sidecar.WaveformVariant),
		fmt.Sprintf("Cycle: %.0f s x %.2g cycles | Max delta: %.1f °C | Baseline: %.1f °C | TR: %.2f s",
			data.Sidecar.CycleDuration, data.Sidecar.CyclesPerBlock,
			data.Sidecar.MaxDelta, data.Sidecar.BaselineTemp, data.Sidecar.TR),
		fmt.Sprintf("Acquisition: %s", data.Sidecar.AcquisitionID),
	}
	for _, line := range lines {
		pdf.CellFormat(contentWidth, lineHeight, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
}

// writeSummary aggregates the cycle summaries into one overview block.
func writeSummary(pdf *gofpdf.Fpdf, tr func(string) string, data RunData) {
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(contentWidth, lineHeight, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)

	if len(data.Cycles) == 0 {
		pdf.CellFormat(contentWidth, lineHeight, "No completed cycles.", "", 1, "L", false, 0, "")
		pdf.Ln(2)
		return
	}

	var rampSum, errSum, maxErr float64
	flags, samples := 0, 0
	rampN := 0
	for _, c := range data.Cycles {
		if !math.IsNaN(c.MeanRampRate) {
			rampSum += c.MeanRampRate
			rampN++
		}
		if !math.IsNaN(c.MeanTempError) {
			errSum += c.MeanTempError
		}
		if c.MaxTempError > maxErr {
			maxErr = c.MaxTempError
		}
		flags += c.NRampFlags
		samples += c.NSamples
	}
	meanRamp := math.NaN()
	if rampN > 0 {
		meanRamp = rampSum / float64(rampN)
	}

	lines := []string{
		fmt.Sprintf("Cycles: %d | Samples: %d", len(data.Cycles), samples),
		fmt.Sprintf("Mean ramp rate: %.3f °C/s (expected %.3f ± %.2f)",
			meanRamp, data.Sidecar.RampRate, qc.RampRateTolerance),
		fmt.Sprintf("Mean tracking error: %.3f °C | Worst: %.3f °C (flag threshold %.1f)",
			errSum/float64(len(data.Cycles)), maxErr, qc.TempErrorThreshold),
		fmt.Sprintf("Ramp-rate flags: %d", flags),
	}
	for _, line := range lines {
		pdf.CellFormat(contentWidth, lineHeight, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
}

func writeCycleTable(pdf *gofpdf.Fpdf, tr func(string) string, data RunData) {
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(contentWidth, lineHeight, "Per-cycle QC", "", 1, "L", false, 0, "")

	headers := []string{"Cycle", "Onset (s)", "Ramp (°C/s)", "Warm", "Cool",
		"Err mean", "Err max", "Flags", "Samples"}
	widths := []float64{14, 20, 24, 20, 20, 22, 22, 16, 18}

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(220, 220, 220)
	for i, h := range headers {
		pdf.CellFormat(widths[i], lineHeight, tr(h), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	for _, c := range data.Cycles {
		flagged := c.NRampFlags > 0 || c.MaxTempError > qc.TempErrorThreshold
		if flagged {
			pdf.SetFont("Arial", "B", 9)
			pdf.SetTextColor(200, 0, 0)
		} else {
			pdf.SetFont("Arial", "", 9)
			pdf.SetTextColor(50, 50, 50)
		}
		cells := []string{
			fmt.Sprintf("%d", c.CycleIndex),
			fmtQC(c.OnsetLatency),
			fmtQC(c.MeanRampRate),
			fmtQC(c.MeanWarmingRate),
			fmtQC(c.MeanCoolingRate),
			fmtQC(c.MeanTempError),
			fmtQC(c.MaxTempError),
			fmt.Sprintf("%d", c.NRampFlags),
			fmt.Sprintf("%d", c.NSamples),
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], lineHeight, cell, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(3)
}

// fmtQC formats a statistic, leaving NaN visible rather than masking it.
func fmtQC(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}

func addImage(pdf *gofpdf.Fpdf, name string, png []byte, w, h float64) {
	if len(png) == 0 {
		return
	}
	if pdf.GetY()+h > 297-pageMargin {
		pdf.AddPage()
	}
	pdf.RegisterImageOptionsReader(name,
		gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	pdf.ImageOptions(name, pageMargin, pdf.GetY(), w, h, true,
		gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	pdf.Ln(2)
}
