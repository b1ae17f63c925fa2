package bids

import (
	"fmt"
	"os"

	"tprf-host/pkg/errors"
)

// eventsHeader is required by BIDS for events files.
var eventsHeader = []string{
	"onset", "duration", "trial_type", "block_type", "mask_name",
	"warm_first", "response_value", "response_time",
}

// PhaseRecord is one block phase for the events file: the pre-baseline,
// stimulation, and post-baseline intervals, onset and duration in
// seconds from trigger.
type PhaseRecord struct {
	Onset     float64
	Duration  float64
	TrialType string // baseline or stimulation
}

// EventsWriter writes the events TSV, one row per block phase plus
// optional rating rows.
type EventsWriter struct {
	f *os.File
}

// NewEventsWriter creates the events TSV and writes its header.
func NewEventsWriter(path string) (*EventsWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.OutputError(path, err)
	}
	if err := writeRow(f, eventsHeader); err != nil {
		f.Close()
		return nil, errors.OutputError(path, err)
	}
	return &EventsWriter{f: f}, nil
}

// WritePhase appends one phase row. The response columns stay n/a for
// phases; only rating rows carry values.
func (e *EventsWriter) WritePhase(p PhaseRecord, blockType, maskName string, warmFirst bool) error {
	return e.write(p.Onset, p.Duration, p.TrialType, blockType, maskName, warmFirst, "n/a", "n/a")
}

// WriteRating appends a subjective rating row.
func (e *EventsWriter) WriteRating(onset float64, question string, blockType, maskName string,
	warmFirst bool, value string, responseTime float64) error {
	return e.write(onset, responseTime, "rating_"+question, blockType, maskName, warmFirst,
		value, fmt.Sprintf("%.4f", responseTime))
}

func (e *EventsWriter) write(onset, duration float64, trialType, blockType, maskName string,
	warmFirst bool, respValue, respTime string) error {
	row := []string{
		fmt.Sprintf("%.4f", onset),
		fmt.Sprintf("%.4f", duration),
		trialType,
		blockType,
		maskName,
		fmt.Sprintf("%d", boolInt(warmFirst)),
		respValue,
		respTime,
	}
	if err := writeRow(e.f, row); err != nil {
		return errors.OutputError(e.f.Name(), err)
	}
	return nil
}

// Close closes the events file.
func (e *EventsWriter) Close() error {
	return e.f.Close()
}
