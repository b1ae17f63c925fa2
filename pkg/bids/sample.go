package bids

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"tprf-host/pkg/errors"
	"tprf-host/pkg/pool"
)

// flushEvery is how many rows accumulate before a forced flush. At 10 Hz
// this bounds the durability window to about one second while keeping
// write syscalls off most ticks, and the live QC monitor tails the file
// at the same cadence.
const flushEvery = 10

// SampleColumns is the ordered column list declared in the sidecar. The
// TSV itself has no header.
var SampleColumns = []string{
	"onset", "volume", "block_index", "block_type", "cycle_index",
	"mask_name", "warm_first", "delta",
	"zone1_set", "zone2_set", "zone3_set", "zone4_set", "zone5_set",
	"zone1_actual", "zone2_actual", "zone3_actual", "zone4_actual",
	"zone5_actual",
}

// Sample is one tick's record. Produced, written, and discarded; nothing
// retains samples in memory.
type Sample struct {
	Onset      float64
	Volume     int
	BlockIndex int
	BlockLabel string
	CycleIndex int
	MaskName   string
	WarmFirst  bool
	Delta      float64
	Set        [5]float64
	Actual     [5]float64
}

// SampleWriter appends tab-separated sample rows to the thermode TSV
// through a buffer, forcing a flush every flushEvery rows. Writes on the
// tick's hot path never wait on the disk beyond the buffered copy.
type SampleWriter struct {
	f    *os.File
	w    *bufio.Writer
	rows int
}

// NewSampleWriter creates the thermode TSV.
func NewSampleWriter(path string) (*SampleWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.OutputError(path, err)
	}
	return &SampleWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// Write appends one row. A write error is reported but the writer stays
// usable; the loop drops the row rather than stalling.
func (s *SampleWriter) Write(smp Sample) error {
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)

	formatSample(buf, smp)
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return errors.OutputError(s.f.Name(), err)
	}
	s.rows++
	if s.rows%flushEvery == 0 {
		if err := s.w.Flush(); err != nil {
			return errors.OutputError(s.f.Name(), err)
		}
	}
	return nil
}

// Rows returns how many rows have been written.
func (s *SampleWriter) Rows() int {
	return s.rows
}

// Flush forces buffered rows to disk.
func (s *SampleWriter) Flush() error {
	return s.w.Flush()
}

// Close flushes and closes the file.
func (s *SampleWriter) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

func formatSample(buf *pool.ByteBuffer, smp Sample) {
	fmt.Fprintf(buf, "%.4f\t%d\t%d\t%s\t%d\t%s\t%d\t%.4f",
		smp.Onset, smp.Volume, smp.BlockIndex, smp.BlockLabel,
		smp.CycleIndex, smp.MaskName, boolInt(smp.WarmFirst), smp.Delta)
	for _, v := range smp.Set {
		fmt.Fprintf(buf, "\t%.2f", v)
	}
	for _, v := range smp.Actual {
		// NaN actuals print as "NaN", matching the sidecar's declared
		// missing-value convention.
		fmt.Fprintf(buf, "\t%.2f", v)
	}
	buf.WriteByte('\n')
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// writeRow writes tab-joined fields plus newline, shared by the events
// and QC writers.
func writeRow(w io.Writer, fields []string) error {
	_, err := io.WriteString(w, strings.Join(fields, "\t")+"\n")
	return err
}
