// thermode-check is a command-line tool for verifying the TCS stimulation
// device before a scanning session. It runs the full initialization
// sequence, then exercises readback, step response, ramp tracking, and
// abort, reporting what the hardware actually does.
//
// Usage:
//
//	thermode-check -port /dev/ttyUSB0 [options]
//
// Options:
//
//	-port string       Device path or tcp:host:port (required unless -sim)
//	-config string     Experiment config file (optional, supplies speeds and baseline)
//	-sim               Use the simulation device instead of hardware
//	-test string       Test to run: "connect", "readback", "step", "ramp", "abort", "all"
//	-duration duration How long the readback and ramp tests observe (default 3s)
//
// Examples:
//
//	# Verify connectivity and the init sequence
//	thermode-check -port /dev/ttyUSB0 -test connect
//
//	# Full check against the mock device server
//	thermode-check -port tcp:127.0.0.1:5333 -test all
//
//	# Step response with config-supplied speeds
//	thermode-check -config experiment.cfg -port /dev/ttyUSB0 -test step
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tprf-host/pkg/clock"
	"tprf-host/pkg/config"
	"tprf-host/pkg/mask"
	"tprf-host/pkg/thermode"
)

func main() {
	port := flag.String("port", "", "Device path or tcp:host:port")
	configFile := flag.String("config", "", "Experiment config file (optional)")
	sim := flag.Bool("sim", false, "Use the simulation device")
	test := flag.String("test", "connect", "Test to run: connect, readback, step, ramp, abort, all")
	duration := flag.Duration("duration", 3*time.Second, "Observation window for readback and ramp")
	flag.Parse()

	exp := config.DefaultExperiment()
	if *configFile != "" {
		var cfg *config.Config
		var err error
		exp, cfg, err = config.LoadExperimentFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
		// Mask sections are not needed here but still get validated so a
		// typoed key fails the same way it would in the host.
		if err := mask.NewRegistry().LoadConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.CheckUnusedOptions(); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
	}
	if *port != "" {
		exp.Thermode.Port = *port
	}
	exp.Thermode.Simulation = *sim

	if !*sim && exp.Thermode.Port == "" {
		fmt.Fprintf(os.Stderr, "Error: -port is required (or use -sim)\n")
		flag.Usage()
		os.Exit(1)
	}

	var dev thermode.Device
	if *sim {
		fmt.Println("Using simulation device (readback is always NaN)")
		dev = thermode.NewSimDevice()
	} else {
		fmt.Printf("Opening %s...\n", exp.Thermode.Port)
		d, err := thermode.OpenTCS(thermode.TCSConfig{
			Port:          exp.Thermode.Port,
			BaselineTemp:  exp.Stim.BaselineTemp,
			TrackingSpeed: exp.Thermode.TrackingSpeed,
			ReturnSpeed:   exp.Thermode.ReturnSpeed,
			WaveformSlope: exp.MaxSlope(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Initialization sequence complete, follow mode active")
		dev = d
	}
	ctl := thermode.NewController(dev, clock.NewWallClock(), exp.Stim, exp.Thermode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Run the test in a goroutine so Ctrl+C still returns the device to
	// baseline through the controller's close path.
	doneCh := make(chan error, 1)
	go func() {
		var err error
		switch *test {
		case "connect":
			err = testConnect(ctl)
		case "readback":
			err = testReadback(ctl, *duration)
		case "step":
			err = testStep(ctl, exp, *duration)
		case "ramp":
			err = testRamp(ctl, exp, *duration)
		case "abort":
			err = testAbort(dev, ctl, exp)
		case "all":
			err = testAll(dev, ctl, exp, *duration)
		default:
			err = fmt.Errorf("unknown test: %s", *test)
		}
		doneCh <- err
	}()

	select {
	case err := <-doneCh:
		ctl.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Test failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nAll tests passed!")
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, returning to baseline...\n", sig)
		ctl.Close()
		os.Exit(130)
	}
}

// testConnect verifies the device answers a readback after init.
func testConnect(ctl *thermode.Controller) error {
	fmt.Println("=== Test: Connection ===")
	temps, err := ctl.GetTemperatures()
	if err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	printZones("Current temperatures", temps)
	retries, exhausted := ctl.RetryStats()
	fmt.Printf("Readback retries: %d (%d exhausted)\n", retries, exhausted)
	return nil
}

// testReadback polls at the host's 10 Hz cadence and reports reading
// stability and NaN frequency per zone.
func testReadback(ctl *thermode.Controller, d time.Duration) error {
	fmt.Println("=== Test: Readback Stability ===")
	fmt.Printf("Polling at 10 Hz for %v...\n", d)

	var minT, maxT [thermode.Zones]float64
	var nan [thermode.Zones]int
	for z := range minT {
		minT[z] = math.Inf(1)
		maxT[z] = math.Inf(-1)
	}
	n := 0
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		temps, err := ctl.GetTemperatures()
		if err != nil {
			return fmt.Errorf("readback %d: %w", n, err)
		}
		for z, t := range temps {
			if math.IsNaN(t) {
				nan[z]++
				continue
			}
			minT[z] = math.Min(minT[z], t)
			maxT[z] = math.Max(maxT[z], t)
		}
		n++
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("Readbacks: %d\n", n)
	for z := 0; z < thermode.Zones; z++ {
		if nan[z] == n {
			fmt.Printf("  zone %d: no valid readings (%d NaN)\n", z+1, nan[z])
			continue
		}
		fmt.Printf("  zone %d: %.1f..%.1f (%d NaN)\n", z+1, minT[z], maxT[z], nan[z])
	}
	return nil
}

// testStep commands a small step on every zone and watches it settle.
func testStep(ctl *thermode.Controller, exp config.Experiment, d time.Duration) error {
	fmt.Println("=== Test: Step Response ===")
	target := exp.Stim.BaselineTemp + 2.0
	fmt.Printf("Stepping all zones %.1f -> %.1f...\n", exp.Stim.BaselineTemp, target)

	var temps [thermode.Zones]float64
	for z := range temps {
		temps[z] = target
	}
	if err := ctl.SetTemperatures(temps); err != nil {
		return fmt.Errorf("set: %w", err)
	}

	start := time.Now()
	var settled [thermode.Zones]float64
	for time.Since(start) < d {
		time.Sleep(100 * time.Millisecond)
		actual, err := ctl.GetTemperatures()
		if err != nil {
			return fmt.Errorf("readback: %w", err)
		}
		for z, t := range actual {
			if settled[z] == 0 && !math.IsNaN(t) && math.Abs(t-target) < 0.3 {
				settled[z] = time.Since(start).Seconds()
			}
		}
	}
	for z, s := range settled {
		if s == 0 {
			fmt.Printf("  zone %d: did not settle within %v\n", z+1, d)
		} else {
			fmt.Printf("  zone %d: settled in %.2f s\n", z+1, s)
		}
	}

	fmt.Println("Returning to baseline...")
	return ctl.SetBaseline()
}

// testRamp streams 10 Hz micro-steps at a fixed rate and compares the
// achieved rate against the command, the same way a block drives the
// device.
func testRamp(ctl *thermode.Controller, exp config.Experiment, d time.Duration) error {
	fmt.Println("=== Test: Ramp Tracking ===")
	rate := exp.Stim.RampRate
	fmt.Printf("Ramping all zones at %.2f °C/s for %v...\n", rate, d)

	base := exp.Stim.BaselineTemp
	first, last := math.NaN(), math.NaN()
	var firstAt, lastAt float64
	start := time.Now()
	for {
		elapsed := time.Since(start).Seconds()
		if elapsed >= d.Seconds() {
			break
		}
		var temps [thermode.Zones]float64
		for z := range temps {
			temps[z] = base + rate*elapsed
		}
		if err := ctl.SetTemperatures(temps); err != nil {
			return fmt.Errorf("set: %w", err)
		}
		actual, err := ctl.GetTemperatures()
		if err != nil {
			return fmt.Errorf("readback: %w", err)
		}
		if !math.IsNaN(actual[0]) {
			if math.IsNaN(first) {
				first, firstAt = actual[0], elapsed
			}
			last, lastAt = actual[0], elapsed
		}
		time.Sleep(100 * time.Millisecond)
	}

	if math.IsNaN(first) || lastAt == firstAt {
		fmt.Println("  no valid readings; cannot estimate achieved rate")
	} else {
		achieved := (last - first) / (lastAt - firstAt)
		fmt.Printf("  zone 1 achieved %.2f °C/s (commanded %.2f)\n", achieved, rate)
	}

	fmt.Println("Returning to baseline...")
	return ctl.SetBaseline()
}

// testAbort raises the zones, sends the stop command, and checks the
// device heads back toward baseline on its own.
func testAbort(dev thermode.Device, ctl *thermode.Controller, exp config.Experiment) error {
	fmt.Println("=== Test: Abort ===")
	target := exp.Stim.BaselineTemp + 3.0

	var temps [thermode.Zones]float64
	for z := range temps {
		temps[z] = target
	}
	if err := ctl.SetTemperatures(temps); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	time.Sleep(500 * time.Millisecond)

	fmt.Println("Sending abort...")
	if err := dev.Abort(); err != nil {
		// Older firmware lacks the command; report, don't fail.
		fmt.Printf("  abort not supported: %v\n", err)
		return ctl.SetBaseline()
	}
	time.Sleep(time.Second)

	actual, err := ctl.GetTemperatures()
	if err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	printZones("Post-abort temperatures", actual)
	for z, t := range actual {
		if !math.IsNaN(t) && math.Abs(t-target) < 0.1 {
			fmt.Printf("  warning: zone %d still at the stimulation target\n", z+1)
		}
	}
	return ctl.SetBaseline()
}

func testAll(dev thermode.Device, ctl *thermode.Controller, exp config.Experiment, d time.Duration) error {
	tests := []struct {
		name string
		run  func() error
	}{
		{"connect", func() error { return testConnect(ctl) }},
		{"readback", func() error { return testReadback(ctl, d) }},
		{"step", func() error { return testStep(ctl, exp, d) }},
		{"ramp", func() error { return testRamp(ctl, exp, d) }},
		{"abort", func() error { return testAbort(dev, ctl, exp) }},
	}
	for _, t := range tests {
		if err := t.run(); err != nil {
			return fmt.Errorf("%s: %w", t.name, err)
		}
		fmt.Println()
	}
	return nil
}

func printZones(label string, temps [thermode.Zones]float64) {
	fmt.Printf("%s:", label)
	for z, t := range temps {
		if math.IsNaN(t) {
			fmt.Printf("  zone%d=NaN", z+1)
		} else {
			fmt.Printf("  zone%d=%.1f", z+1, t)
		}
	}
	fmt.Println()
}
