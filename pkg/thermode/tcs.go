package thermode

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tprf-host/pkg/errors"
	"tprf-host/pkg/log"
	"tprf-host/pkg/serial"
)

// TCS wire protocol: ASCII over 115200 8N1, one command per write.
// Temperatures and speeds travel as signed tenths of a degree.
const (
	tcsBaudRate = 115200

	// tcsMaxDurationMS is the largest per-zone stimulation duration the
	// firmware accepts. Writing it before follow mode disables the
	// automatic safety cutoff that would otherwise end long blocks
	// mid-cycle (manual §2.1.2).
	tcsMaxDurationMS = 99999

	// tcsNoReading is the sentinel the firmware reports for a zone
	// without a valid probe reading.
	tcsNoReading = -999

	// trackingMargin is the required ratio of hardware tracking speed to
	// the waveform's own slope. Below this the device may not settle on
	// each micro-step within the 100 ms tick.
	trackingMargin = 50.0
)

var tcsLogger = log.GetLogger("thermode")

// transport is the byte pipe under the TCS framing. serial.Port satisfies
// it; tests substitute an in-memory script.
type transport interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}

// TCSConfig holds everything needed to open and initialize the device.
type TCSConfig struct {
	// Port is a device path (/dev/ttyUSB0) or "tcp:host:port" for the
	// mock device server.
	Port string

	// BaselineTemp is the neutral temperature pushed during init, °C.
	BaselineTemp float64

	// TrackingSpeed is the follow-mode ramp speed, °C/s. Must be far
	// above the waveform's own slope so the shape is set by the 10 Hz
	// command stream, not by the hardware ramp.
	TrackingSpeed float64

	// ReturnSpeed is the return-to-baseline speed, °C/s.
	ReturnSpeed float64

	// WaveformSlope is the waveform's maximum rate of change, °C/s,
	// used only for the tracking-margin warning. Zero skips the check.
	WaveformSlope float64

	// ReadTimeout bounds a single readback, default 1s.
	ReadTimeout time.Duration
}

// TCSDevice is the serial implementation of the Device contract.
type TCSDevice struct {
	conn    transport
	port    string
	readBuf []byte
	pending strings.Builder
}

// OpenTCS opens the port and runs the fixed initialization sequence:
// quiet mode, baseline, safety-duration override, ramp speed, return
// speed, initial baseline targets, follow mode. The ordering is
// load-bearing: durations must be overridden before follow mode or the
// cutoff timer fires mid-block.
func OpenTCS(cfg TCSConfig) (*TCSDevice, error) {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
	conn, err := openTransport(cfg.Port, cfg.ReadTimeout)
	if err != nil {
		return nil, errors.DeviceOpenError(cfg.Port, err)
	}
	d := &TCSDevice{conn: conn, port: cfg.Port, readBuf: make([]byte, 256)}

	if cfg.WaveformSlope > 0 && cfg.TrackingSpeed < trackingMargin*cfg.WaveformSlope {
		tcsLogger.WithFields(log.Fields{
			"tracking_speed": cfg.TrackingSpeed,
			"waveform_slope": cfg.WaveformSlope,
		}).Warn("tracking speed below 50x waveform slope; micro-steps may not settle within a tick")
	}

	if err := d.initialize(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	tcsLogger.WithField("port", cfg.Port).Info("thermode initialized, follow mode active")
	return d, nil
}

func openTransport(port string, readTimeout time.Duration) (transport, error) {
	if addr, ok := strings.CutPrefix(port, "tcp:"); ok {
		return serial.OpenTCP(addr, 10*time.Second)
	}
	cfg := serial.DefaultConfig()
	cfg.Device = port
	cfg.BaudRate = tcsBaudRate
	cfg.ReadTimeout = readTimeout
	return serial.Open(cfg)
}

func (d *TCSDevice) initialize(cfg TCSConfig) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"quiet", func() error { return d.send("F1") }},
		{"baseline", func() error { return d.send(fmt.Sprintf("N%03d", tenths(cfg.BaselineTemp))) }},
		{"durations", d.setMaxDurations},
		{"ramp_speed", func() error { return d.setSpeeds('V', cfg.TrackingSpeed) }},
		{"return_speed", func() error { return d.setSpeeds('R', cfg.ReturnSpeed) }},
		{"baseline_targets", func() error {
			var t [Zones]float64
			for z := range t {
				t[z] = cfg.BaselineTemp
			}
			return d.SetTemperatures(t)
		}},
		{"follow", func() error { return d.send("F0") }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return errors.DeviceInitError(step.name, err)
		}
	}
	return nil
}

func (d *TCSDevice) setMaxDurations() error {
	for z := 1; z <= Zones; z++ {
		if err := d.send(fmt.Sprintf("D%d%05d", z, tcsMaxDurationMS)); err != nil {
			return err
		}
	}
	return nil
}

func (d *TCSDevice) setSpeeds(cmd byte, speed float64) error {
	for z := 1; z <= Zones; z++ {
		if err := d.send(fmt.Sprintf("%c%d%04d", cmd, z, tenths(speed))); err != nil {
			return err
		}
	}
	return nil
}

// SetTemperatures sends all five targets in one command, fire-and-forget.
func (d *TCSDevice) SetTemperatures(temps [Zones]float64) error {
	var sb strings.Builder
	sb.WriteByte('C')
	for _, t := range temps {
		fmt.Fprintf(&sb, "%03d", tenths(t))
	}
	return d.send(sb.String())
}

// GetTemperatures issues a read command and parses the five-zone reply.
// Zones reporting the no-reading sentinel, and malformed replies, come
// back as NaN; only transport failures are errors.
func (d *TCSDevice) GetTemperatures() ([Zones]float64, error) {
	var out [Zones]float64
	for z := range out {
		out[z] = math.NaN()
	}
	if err := d.send("E"); err != nil {
		return out, errors.DeviceReadbackError(err)
	}
	line, err := d.readLine()
	if err != nil {
		return out, errors.DeviceReadbackError(err)
	}
	parsed, perr := parseTemperatureReply(line)
	if perr != nil {
		// A garbled reply is treated like a missing one: NaN readings
		// that the controller's retry path absorbs.
		tcsLogger.WithError(perr).Debug("unparseable temperature reply")
		return out, nil
	}
	return parsed, nil
}

// Abort sends the stop command.
func (d *TCSDevice) Abort() error {
	return d.send("A")
}

// Close releases the port. Returning to baseline first is the
// Controller's job; the device layer only tears down the transport.
func (d *TCSDevice) Close() error {
	return d.conn.Close()
}

// Port returns the configured port string.
func (d *TCSDevice) Port() string {
	return d.port
}

func (d *TCSDevice) send(cmd string) error {
	_, err := d.conn.Write([]byte(cmd + "\r\n"))
	return err
}

// readLine collects bytes until a CR or LF, tolerating replies split
// across reads. Leftover bytes carry over to the next call.
func (d *TCSDevice) readLine() (string, error) {
	for {
		if s := d.pending.String(); strings.ContainsAny(s, "\r\n") {
			idx := strings.IndexAny(s, "\r\n")
			line := s[:idx]
			rest := strings.TrimLeft(s[idx:], "\r\n")
			d.pending.Reset()
			d.pending.WriteString(rest)
			if line != "" {
				return line, nil
			}
			continue
		}
		n, err := d.conn.Read(d.readBuf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			if s := strings.TrimSpace(d.pending.String()); s != "" {
				d.pending.Reset()
				return s, nil
			}
			return "", errors.New(errors.ErrDeviceReadback, "read timeout")
		}
		d.pending.Write(d.readBuf[:n])
	}
}

// parseTemperatureReply decodes "+300+295+300+300-999" style replies:
// five signed four-character groups in tenths of a degree.
func parseTemperatureReply(line string) ([Zones]float64, error) {
	var out [Zones]float64
	line = strings.TrimSpace(line)
	if len(line) != Zones*4 {
		return out, fmt.Errorf("reply length %d, want %d", len(line), Zones*4)
	}
	for z := 0; z < Zones; z++ {
		field := line[z*4 : z*4+4]
		sign := 1.0
		switch field[0] {
		case '+':
		case '-':
			sign = -1.0
		default:
			return out, fmt.Errorf("zone %d: bad sign %q", z+1, field[0])
		}
		v := 0
		for _, c := range field[1:] {
			if c < '0' || c > '9' {
				return out, fmt.Errorf("zone %d: bad digit %q", z+1, c)
			}
			v = v*10 + int(c-'0')
		}
		if sign < 0 && v == -tcsNoReading {
			out[z] = math.NaN()
			continue
		}
		out[z] = sign * float64(v) / 10.0
	}
	return out, nil
}

// tenths converts degrees to the wire's integer tenths.
func tenths(v float64) int {
	return int(math.Round(v * 10.0))
}
