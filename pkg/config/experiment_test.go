package config

import (
	"math"
	"testing"
)

func TestDefaultExperiment(t *testing.T) {
	e := DefaultExperiment()

	if e.Stim.BaselineTemp != 30.0 {
		t.Errorf("baseline_temp default = %v, expected 30.0", e.Stim.BaselineTemp)
	}
	if e.Stim.MaxDelta != 17.5 {
		t.Errorf("max_delta default = %v, expected 17.5", e.Stim.MaxDelta)
	}
	if e.Stim.CycleDuration != 80.0 {
		t.Errorf("cycle_duration default = %v, expected 80.0", e.Stim.CycleDuration)
	}
	if e.Waveform.UpdateHz != 10 {
		t.Errorf("update_hz default = %v, expected 10", e.Waveform.UpdateHz)
	}
	if e.Waveform.Variant != VariantBipolar {
		t.Errorf("variant default = %v, expected bipolar", e.Waveform.Variant)
	}
	if e.Thermode.RetryCount != 3 {
		t.Errorf("retry_count default = %v, expected 3", e.Thermode.RetryCount)
	}
	if e.MR.TR != 1.5 {
		t.Errorf("tr default = %v, expected 1.5", e.MR.TR)
	}
	if !e.Session.NonTGIWarmFirst {
		t.Error("nontgi_warm_first default should be true")
	}
	if !e.Thermode.Simulation {
		t.Error("simulation default should be true")
	}
}

func TestLoadExperimentOverrides(t *testing.T) {
	data := `
[experiment]
baseline_temp: 32.0
max_delta: 10.0
cycles_per_block: 8.5

[waveform]
update_hz: 20
variant: unipolar

[thermode]
port: /dev/ttyACM1
simulation: false
retry_count: 5

[mr]
tr: 2.0
dummy_volumes: 0

[session]
participant: 07
nontgi_warm_first: false
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	e, err := LoadExperiment(cfg)
	if err != nil {
		t.Fatalf("LoadExperiment failed: %v", err)
	}

	if e.Stim.BaselineTemp != 32.0 {
		t.Errorf("baseline_temp = %v, expected 32.0", e.Stim.BaselineTemp)
	}
	if e.Stim.CyclesPerBlock != 8.5 {
		t.Errorf("cycles_per_block = %v, expected 8.5", e.Stim.CyclesPerBlock)
	}
	if e.Waveform.UpdateHz != 20 {
		t.Errorf("update_hz = %v, expected 20", e.Waveform.UpdateHz)
	}
	if e.Waveform.Variant != VariantUnipolar {
		t.Errorf("variant = %v, expected unipolar", e.Waveform.Variant)
	}
	if e.Thermode.Port != "/dev/ttyACM1" {
		t.Errorf("port = %v, expected /dev/ttyACM1", e.Thermode.Port)
	}
	if e.Thermode.Simulation {
		t.Error("simulation should be false")
	}
	if e.Thermode.RetryCount != 5 {
		t.Errorf("retry_count = %v, expected 5", e.Thermode.RetryCount)
	}
	if e.MR.TR != 2.0 {
		t.Errorf("tr = %v, expected 2.0", e.MR.TR)
	}
	if e.MR.DummyVolumes != 0 {
		t.Errorf("dummy_volumes = %v, expected 0", e.MR.DummyVolumes)
	}
	if e.Session.Participant != "07" {
		t.Errorf("participant = %v, expected 07", e.Session.Participant)
	}
	if e.Session.NonTGIWarmFirst {
		t.Error("nontgi_warm_first should be false")
	}

	// Unset sections keep defaults
	if e.Session.TGIMask != "TGI_1" {
		t.Errorf("tgi_mask = %v, expected default TGI_1", e.Session.TGIMask)
	}
	if e.Monitor.Listen != "127.0.0.1:8080" {
		t.Errorf("monitor listen = %v, expected default", e.Monitor.Listen)
	}
}

func TestLoadExperimentValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"negative max_delta", "[experiment]\nmax_delta: -1\n"},
		{"zero cycle_duration", "[experiment]\ncycle_duration: 0\n"},
		{"zero cycles_per_block", "[experiment]\ncycles_per_block: 0\n"},
		{"zero update_hz", "[waveform]\nupdate_hz: 0\n"},
		{"bad variant", "[waveform]\nvariant: sine\n"},
		{"zero retry_count", "[thermode]\nretry_count: 0\n"},
		{"zero tr", "[mr]\ntr: 0\n"},
		{"temp_max below temp_min", "[experiment]\ntemp_min: 20\ntemp_max: 15\n"},
		{"non-numeric baseline", "[experiment]\nbaseline_temp: warm\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadString(tt.data)
			if err != nil {
				t.Fatalf("LoadString failed: %v", err)
			}
			if _, err := LoadExperiment(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadExperimentUnknownKey(t *testing.T) {
	data := `
[experiment]
baseline_temp: 30.0
basline_temp: 31.0
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	if _, err := LoadExperiment(cfg); err != nil {
		t.Fatalf("LoadExperiment failed: %v", err)
	}

	// The typo key was never read, so the unused check catches it
	if err := cfg.CheckUnusedOptions(); err == nil {
		t.Error("expected unused-option error for misspelled key")
	}
}

func TestExperimentDerived(t *testing.T) {
	e := DefaultExperiment()

	if got := e.Interval(); got != 0.1 {
		t.Errorf("Interval = %v, expected 0.1", got)
	}
	if got := e.SamplesPerCycle(); got != 800 {
		t.Errorf("SamplesPerCycle = %v, expected 800", got)
	}
	// 4 * 17.5 / 80 = 0.875 °C/s
	if got := e.MaxSlope(); math.Abs(got-0.875) > 1e-12 {
		t.Errorf("MaxSlope = %v, expected 0.875", got)
	}
}
