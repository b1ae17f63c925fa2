// Package config provides INI configuration parsing with access tracking,
// typed section getters, and the immutable Experiment value object that is
// constructed once per invocation and passed explicitly to every component.
//
// Experiment file sections and keys (defaults in parentheses):
//
//	[experiment]
//	baseline_temp   (30.0)  resting temperature, °C
//	temp_min        (10.0)  command clamp floor, °C
//	temp_max        (50.0)  command clamp ceiling, °C
//	max_delta       (17.5)  waveform amplitude, °C
//	ramp_rate       (1.0)   expected waveform slope for QC, °C/s
//	cycle_duration  (80.0)  seconds per stimulation cycle
//	cycles_per_block (8)    may be fractional, e.g. 8.5
//	buffer_duration (30.0)  baseline seconds before and after stimulation
//
//	[waveform]
//	update_hz       (10)        command ticks per second
//	variant         (bipolar)   bipolar | unipolar
//
//	[thermode]
//	port            (/dev/ttyUSB0)
//	simulation      (true)   use the in-process stub instead of hardware
//	tracking_speed  (100.0)  hardware follow speed, °C/s
//	return_speed    (100.0)  hardware return-to-baseline speed, °C/s
//	retry_count     (3)      readback attempts on NaN
//	retry_delay     (0.01)   seconds between readback attempts
//
//	[mr]
//	tr              (1.5)    repetition time, seconds
//	dummy_volumes   (4)      discarded volumes after trigger
//	trigger_key     (5)      scanner trigger character
//	emulate_trigger (true)   wait for operator keypress instead
//
//	[session]
//	participant       (01)
//	session           (01)
//	nontgi_mask       (P1_W)
//	tgi_mask          (TGI_1)
//	nontgi_warm_first (true)
//	data_dir          (data)
//	vas_enabled       (false)
//
//	[monitor]
//	enabled (true)
//	listen  (127.0.0.1:8080)
//
//	[metrics]
//	enabled  (false)
//	listen   (127.0.0.1:9090)
//	username ()
//	password ()
//
//	[design]
//	output_dir (design)
//
// Custom masks may be declared in [mask NAME] sections with a five-entry
// pattern key, e.g. "pattern: 1, -1, 1, -1, 0".
package config

// StimConfig holds the thermal stimulation parameters.
type StimConfig struct {
	BaselineTemp   float64
	TempMin        float64
	TempMax        float64
	MaxDelta       float64
	RampRate       float64
	CycleDuration  float64
	CyclesPerBlock float64
	BufferDuration float64
}

// WaveformConfig holds the waveform sampling parameters.
type WaveformConfig struct {
	UpdateHz int
	Variant  string
}

// Waveform variant choices.
const (
	VariantBipolar  = "bipolar"
	VariantUnipolar = "unipolar"
)

// ThermodeConfig holds the hardware connection parameters.
type ThermodeConfig struct {
	Port          string
	Simulation    bool
	TrackingSpeed float64
	ReturnSpeed   float64
	RetryCount    int
	RetryDelay    float64
}

// MRConfig holds the scanner synchronization parameters.
type MRConfig struct {
	TR             float64
	DummyVolumes   int
	TriggerKey     string
	EmulateTrigger bool
}

// SessionConfig holds the per-session identity and ordering parameters.
type SessionConfig struct {
	Participant     string
	Session         string
	NonTGIMask      string
	TGIMask         string
	NonTGIWarmFirst bool
	DataDir         string
	VASEnabled      bool
}

// MonitorConfig holds the live-monitor server parameters.
type MonitorConfig struct {
	Enabled bool
	Listen  string
}

// MetricsConfig holds the metrics endpoint parameters.
type MetricsConfig struct {
	Enabled  bool
	Listen   string
	Username string
	Password string
}

// DesignConfig holds the design-matrix generator parameters.
type DesignConfig struct {
	OutputDir string
}

// Experiment is the immutable configuration value object. It is built once,
// optionally adjusted by CLI flags before the runner starts, and then passed
// by value; no component reads ambient state.
type Experiment struct {
	Stim     StimConfig
	Waveform WaveformConfig
	Thermode ThermodeConfig
	MR       MRConfig
	Session  SessionConfig
	Monitor  MonitorConfig
	Metrics  MetricsConfig
	Design   DesignConfig
}

// DefaultExperiment returns the built-in defaults.
func DefaultExperiment() Experiment {
	return Experiment{
		Stim: StimConfig{
			BaselineTemp:   30.0,
			TempMin:        10.0,
			TempMax:        50.0,
			MaxDelta:       17.5,
			RampRate:       1.0,
			CycleDuration:  80.0,
			CyclesPerBlock: 8.0,
			BufferDuration: 30.0,
		},
		Waveform: WaveformConfig{
			UpdateHz: 10,
			Variant:  VariantBipolar,
		},
		Thermode: ThermodeConfig{
			Port:          "/dev/ttyUSB0",
			Simulation:    true,
			TrackingSpeed: 100.0,
			ReturnSpeed:   100.0,
			RetryCount:    3,
			RetryDelay:    0.01,
		},
		MR: MRConfig{
			TR:             1.5,
			DummyVolumes:   4,
			TriggerKey:     "5",
			EmulateTrigger: true,
		},
		Session: SessionConfig{
			Participant:     "01",
			Session:         "01",
			NonTGIMask:      "P1_W",
			TGIMask:         "TGI_1",
			NonTGIWarmFirst: true,
			DataDir:         "data",
			VASEnabled:      false,
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
		},
		Design: DesignConfig{
			OutputDir: "design",
		},
	}
}

// LoadExperiment builds an Experiment from a parsed Config, applying
// defaults for anything unset and validating ranges. Every known key is
// read here, so CheckUnusedOptions afterwards reports unknown keys.
func LoadExperiment(c *Config) (Experiment, error) {
	e := DefaultExperiment()

	if sec := c.GetSectionOptional("experiment"); sec != nil {
		var err error
		zero := 0.0
		if e.Stim.BaselineTemp, err = sec.GetFloat("baseline_temp", e.Stim.BaselineTemp); err != nil {
			return e, err
		}
		if e.Stim.TempMin, err = sec.GetFloat("temp_min", e.Stim.TempMin); err != nil {
			return e, err
		}
		if e.Stim.TempMax, err = sec.GetFloatWithBounds("temp_max",
			FloatBounds{Above: &e.Stim.TempMin}, e.Stim.TempMax); err != nil {
			return e, err
		}
		if e.Stim.MaxDelta, err = sec.GetFloatWithBounds("max_delta",
			FloatBounds{MinVal: &zero}, e.Stim.MaxDelta); err != nil {
			return e, err
		}
		if e.Stim.RampRate, err = sec.GetFloatWithBounds("ramp_rate",
			FloatBounds{Above: &zero}, e.Stim.RampRate); err != nil {
			return e, err
		}
		if e.Stim.CycleDuration, err = sec.GetFloatWithBounds("cycle_duration",
			FloatBounds{Above: &zero}, e.Stim.CycleDuration); err != nil {
			return e, err
		}
		if e.Stim.CyclesPerBlock, err = sec.GetFloatWithBounds("cycles_per_block",
			FloatBounds{Above: &zero}, e.Stim.CyclesPerBlock); err != nil {
			return e, err
		}
		if e.Stim.BufferDuration, err = sec.GetFloatWithBounds("buffer_duration",
			FloatBounds{MinVal: &zero}, e.Stim.BufferDuration); err != nil {
			return e, err
		}
	}

	if sec := c.GetSectionOptional("waveform"); sec != nil {
		var err error
		one := 1
		if e.Waveform.UpdateHz, err = sec.GetIntWithBounds("update_hz",
			&one, nil, e.Waveform.UpdateHz); err != nil {
			return e, err
		}
		if e.Waveform.Variant, err = sec.GetChoice("variant",
			[]string{VariantBipolar, VariantUnipolar}, e.Waveform.Variant); err != nil {
			return e, err
		}
	}

	if sec := c.GetSectionOptional("thermode"); sec != nil {
		var err error
		zero := 0.0
		one := 1
		if e.Thermode.Port, err = sec.Get("port", e.Thermode.Port); err != nil {
			return e, err
		}
		if e.Thermode.Simulation, err = sec.GetBool("simulation", e.Thermode.Simulation); err != nil {
			return e, err
		}
		if e.Thermode.TrackingSpeed, err = sec.GetFloatWithBounds("tracking_speed",
			FloatBounds{Above: &zero}, e.Thermode.TrackingSpeed); err != nil {
			return e, err
		}
		if e.Thermode.ReturnSpeed, err = sec.GetFloatWithBounds("return_speed",
			FloatBounds{Above: &zero}, e.Thermode.ReturnSpeed); err != nil {
			return e, err
		}
		if e.Thermode.RetryCount, err = sec.GetIntWithBounds("retry_count",
			&one, nil, e.Thermode.RetryCount); err != nil {
			return e, err
		}
		if e.Thermode.RetryDelay, err = sec.GetFloatWithBounds("retry_delay",
			FloatBounds{MinVal: &zero}, e.Thermode.RetryDelay); err != nil {
			return e, err
		}
	}

	if sec := c.GetSectionOptional("mr"); sec != nil {
		var err error
		zero := 0.0
		zeroInt := 0
		if e.MR.TR, err = sec.GetFloatWithBounds("tr",
			FloatBounds{Above: &zero}, e.MR.TR); err != nil {
			return e, err
		}
		if e.MR.DummyVolumes, err = sec.GetIntWithBounds("dummy_volumes",
			&zeroInt, nil, e.MR.DummyVolumes); err != nil {
			return e, err
		}
		if e.MR.TriggerKey, err = sec.Get("trigger_key", e.MR.TriggerKey); err != nil {
			return e, err
		}
		if e.MR.EmulateTrigger, err = sec.GetBool("emulate_trigger", e.MR.EmulateTrigger); err != nil {
			return e, err
		}
	}

	if sec := c.GetSectionOptional("session"); sec != nil {
		var err error
		if e.Session.Participant, err = sec.Get("participant", e.Session.Participant); err != nil {
			return e, err
		}
		if e.Session.Session, err = sec.Get("session", e.Session.Session); err != nil {
			return e, err
		}
		if e.Session.NonTGIMask, err = sec.Get("nontgi_mask", e.Session.NonTGIMask); err != nil {
			return e, err
		}
		if e.Session.TGIMask, err = sec.Get("tgi_mask", e.Session.TGIMask); err != nil {
			return e, err
		}
		if e.Session.NonTGIWarmFirst, err = sec.GetBool("nontgi_warm_first", e.Session.NonTGIWarmFirst); err != nil {
			return e, err
		}
		if e.Session.DataDir, err = sec.Get("data_dir", e.Session.DataDir); err != nil {
			return e, err
		}
		if e.Session.VASEnabled, err = sec.GetBool("vas_enabled", e.Session.VASEnabled); err != nil {
			return e, err
		}
	}

	if sec := c.GetSectionOptional("monitor"); sec != nil {
		var err error
		if e.Monitor.Enabled, err = sec.GetBool("enabled", e.Monitor.Enabled); err != nil {
			return e, err
		}
		if e.Monitor.Listen, err = sec.Get("listen", e.Monitor.Listen); err != nil {
			return e, err
		}
	}

	if sec := c.GetSectionOptional("metrics"); sec != nil {
		var err error
		if e.Metrics.Enabled, err = sec.GetBool("enabled", e.Metrics.Enabled); err != nil {
			return e, err
		}
		if e.Metrics.Listen, err = sec.Get("listen", e.Metrics.Listen); err != nil {
			return e, err
		}
		if e.Metrics.Username, err = sec.Get("username", e.Metrics.Username); err != nil {
			return e, err
		}
		if e.Metrics.Password, err = sec.Get("password", e.Metrics.Password); err != nil {
			return e, err
		}
	}

	if sec := c.GetSectionOptional("design"); sec != nil {
		var err error
		if e.Design.OutputDir, err = sec.Get("output_dir", e.Design.OutputDir); err != nil {
			return e, err
		}
	}

	return e, nil
}

// LoadExperimentFile loads and parses an experiment file. The returned
// Config allows callers to read [mask ...] sections and to run the
// unused-option check after all consumers have taken their keys.
func LoadExperimentFile(path string) (Experiment, *Config, error) {
	c, err := Load(path)
	if err != nil {
		return DefaultExperiment(), nil, err
	}
	e, err := LoadExperiment(c)
	return e, c, err
}

// Interval returns the tick period in seconds.
func (e Experiment) Interval() float64 {
	return 1.0 / float64(e.Waveform.UpdateHz)
}

// SamplesPerCycle returns the waveform table length.
func (e Experiment) SamplesPerCycle() int {
	return int(e.Stim.CycleDuration * float64(e.Waveform.UpdateHz))
}

// MaxSlope returns the waveform's maximum instantaneous rate in °C/s.
// Both triangle variants ramp at 4*max_delta per cycle.
func (e Experiment) MaxSlope() float64 {
	return 4.0 * e.Stim.MaxDelta / e.Stim.CycleDuration
}
