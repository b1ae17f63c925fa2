package config

import (
	"testing"
)

func TestLoadString(t *testing.T) {
	data := `
[experiment]
baseline_temp: 30.0
max_delta: 17.5
cycle_duration: 80

[thermode]
port: /dev/ttyUSB0
simulation: true
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	// Test HasSection
	if !cfg.HasSection("experiment") {
		t.Error("expected [experiment] section to exist")
	}
	if !cfg.HasSection("thermode") {
		t.Error("expected [thermode] section to exist")
	}
	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}

	// Test GetSection
	exp, err := cfg.GetSection("experiment")
	if err != nil {
		t.Fatalf("GetSection(experiment) failed: %v", err)
	}
	if exp.GetName() != "experiment" {
		t.Errorf("expected name 'experiment', got '%s'", exp.GetName())
	}

	// Test Get
	port, err := cfg.GetSectionOptional("thermode").Get("port")
	if err != nil {
		t.Fatalf("Get(port) failed: %v", err)
	}
	if port != "/dev/ttyUSB0" {
		t.Errorf("expected '/dev/ttyUSB0', got '%s'", port)
	}

	// Test GetInt
	dur, err := exp.GetInt("cycle_duration")
	if err != nil {
		t.Fatalf("GetInt(cycle_duration) failed: %v", err)
	}
	if dur != 80 {
		t.Errorf("expected 80, got %d", dur)
	}

	// Test GetFloat
	delta, err := exp.GetFloat("max_delta")
	if err != nil {
		t.Fatalf("GetFloat(max_delta) failed: %v", err)
	}
	if delta != 17.5 {
		t.Errorf("expected 17.5, got %f", delta)
	}
}

func TestSectionGet(t *testing.T) {
	data := `
[test]
string_val: hello
int_val: 42
float_val: 3.14
bool_true: true
bool_false: no
bool_one: 1
list_val: a, b, c
pattern: 1, -1, 1, -1, 0
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Test Get with fallback
	val, _ := sec.Get("missing", "default")
	if val != "default" {
		t.Errorf("expected 'default', got '%s'", val)
	}

	// Test GetInt
	i, _ := sec.GetInt("int_val")
	if i != 42 {
		t.Errorf("expected 42, got %d", i)
	}

	// Test GetInt with fallback
	i, _ = sec.GetInt("missing", 99)
	if i != 99 {
		t.Errorf("expected 99, got %d", i)
	}

	// Test GetFloat
	f, _ := sec.GetFloat("float_val")
	if f != 3.14 {
		t.Errorf("expected 3.14, got %f", f)
	}

	// Test GetBool
	b, _ := sec.GetBool("bool_true")
	if !b {
		t.Error("expected true")
	}

	b, _ = sec.GetBool("bool_false")
	if b {
		t.Error("expected false")
	}

	b, _ = sec.GetBool("bool_one")
	if !b {
		t.Error("expected true for '1'")
	}

	// Test GetList
	list, _ := sec.GetList("list_val", ",")
	if len(list) != 3 {
		t.Errorf("expected 3 items, got %d", len(list))
	}
	if list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Errorf("unexpected list values: %v", list)
	}

	// Test GetIntTuple
	pattern, err := sec.GetIntTuple("pattern", 5)
	if err != nil {
		t.Fatalf("GetIntTuple failed: %v", err)
	}
	want := []int{1, -1, 1, -1, 0}
	for z, v := range pattern {
		if v != want[z] {
			t.Errorf("pattern[%d] = %d, expected %d", z, v, want[z])
		}
	}

	// Wrong arity must fail
	if _, err := sec.GetIntTuple("pattern", 4); err == nil {
		t.Error("expected error for wrong tuple length")
	}
}

func TestAccessTracking(t *testing.T) {
	data := `
[test]
used1: value1
used2: value2
unused1: value3
unused2: value4
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Access some options
	sec.Get("used1")
	sec.Get("used2")

	// Check accessed options
	accessed := sec.GetAccessedOptions()
	if len(accessed) != 2 {
		t.Errorf("expected 2 accessed options, got %d", len(accessed))
	}

	// Check unused options
	unused := sec.GetUnusedOptions()
	if len(unused) != 2 {
		t.Errorf("expected 2 unused options, got %d", len(unused))
	}
}

func TestSectionTracking(t *testing.T) {
	data := `
[used_section]
key: value

[unused_section]
key: value
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	// Access one section
	cfg.GetSection("used_section")

	// Check accessed sections
	accessed := cfg.GetAccessedSections()
	if len(accessed) != 1 {
		t.Errorf("expected 1 accessed section, got %d", len(accessed))
	}

	// Check unused sections
	unused := cfg.GetUnusedSections()
	if len(unused) != 1 {
		t.Errorf("expected 1 unused section, got %d", len(unused))
	}
	if unused[0] != "unused_section" {
		t.Errorf("expected 'unused_section', got '%s'", unused[0])
	}
}

func TestGetPrefixSections(t *testing.T) {
	data := `
[mask P5_W]
pattern: 0, 0, 0, 0, 1

[mask P5_C]
pattern: 0, 0, 0, 0, -1

[experiment]
baseline_temp: 30
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	masks := cfg.GetPrefixSections("mask ")
	if len(masks) != 2 {
		t.Errorf("expected 2 mask sections, got %d", len(masks))
	}

	// Prefix access marks the sections as used
	unused := cfg.GetUnusedSections()
	if len(unused) != 1 || unused[0] != "experiment" {
		t.Errorf("expected only [experiment] unused, got %v", unused)
	}
}

func TestGetChoice(t *testing.T) {
	data := `
[waveform]
variant: unipolar
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("waveform")

	// Valid choice
	v, err := sec.GetChoice("variant", []string{"bipolar", "unipolar"})
	if err != nil {
		t.Fatalf("GetChoice failed: %v", err)
	}
	if v != "unipolar" {
		t.Errorf("expected 'unipolar', got '%s'", v)
	}

	// Invalid choice
	_, err = sec.GetChoice("variant", []string{"bipolar", "sine"})
	if err == nil {
		t.Error("expected error for invalid choice")
	}
}

func TestBoundsChecking(t *testing.T) {
	data := `
[test]
value: 50
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Within bounds
	min := 0.0
	max := 100.0
	v, err := sec.GetFloatWithBounds("value", FloatBounds{MinVal: &min, MaxVal: &max})
	if err != nil {
		t.Fatalf("GetFloatWithBounds failed: %v", err)
	}
	if v != 50.0 {
		t.Errorf("expected 50.0, got %f", v)
	}

	// Below minimum
	min = 60.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{MinVal: &min})
	if err == nil {
		t.Error("expected error for value below minimum")
	}

	// Above maximum
	max = 40.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{MaxVal: &max})
	if err == nil {
		t.Error("expected error for value above maximum")
	}

	// Must be above
	above := 50.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{Above: &above})
	if err == nil {
		t.Error("expected error for value not above threshold")
	}
}

func TestMissingOptionError(t *testing.T) {
	data := `
[test]
exists: value
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Missing required option
	_, err = sec.Get("missing")
	if err == nil {
		t.Error("expected error for missing option")
	}

	configErr, ok := err.(*ConfigError)
	if !ok {
		t.Errorf("expected *ConfigError, got %T", err)
	}
	if configErr.Section != "test" {
		t.Errorf("expected section 'test', got '%s'", configErr.Section)
	}
	if configErr.Option != "missing" {
		t.Errorf("expected option 'missing', got '%s'", configErr.Option)
	}
}

func TestConfigMerge(t *testing.T) {
	base := `
[experiment]
baseline_temp: 30.0
max_delta: 17.5

[session]
participant: 01
`

	override := `
[experiment]
max_delta: 10.0

[mr]
tr: 2.0
`

	baseCfg, _ := LoadString(base)
	overrideCfg, _ := LoadString(override)

	baseCfg.Merge(overrideCfg)

	// Check merged value
	exp, _ := baseCfg.GetSection("experiment")
	v, _ := exp.GetFloat("max_delta")
	if v != 10.0 {
		t.Errorf("expected 10.0 after merge, got %f", v)
	}

	// Check original value preserved
	bt, _ := exp.GetFloat("baseline_temp")
	if bt != 30.0 {
		t.Errorf("expected 30.0, got %f", bt)
	}

	// Check new section added
	if !baseCfg.HasSection("mr") {
		t.Error("expected [mr] section after merge")
	}
}
