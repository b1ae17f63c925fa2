// tprf-host executes one stimulation block of a thermal pRF session:
// waits for the scanner trigger, drives the five-zone thermode at 10 Hz,
// and writes the BIDS-style run artifacts plus the QC report.
//
// Usage:
//
//	tprf-host -config experiment.cfg [options]
//
// Options:
//
//	-config string     Experiment configuration file (INI); defaults apply without it
//	-sub string        Participant ID (overrides the config)
//	-ses string        Session number (overrides the config)
//	-run string        Run 01-04 (default: next pending per the data directory)
//	-port string       Thermode port (/dev/ttyUSB0 or tcp:host:port); implies hardware
//	-simulation        Run without hardware (default from config)
//	-emulate-trigger   ENTER stands in for the scanner trigger (default from config)
//	-monitor string    Monitor listen address; overrides and enables the monitor
//	-metrics string    Metrics listen address; overrides and enables metrics
//	-logfile string    Log file path with rotation (default: stderr)
//	-loglevel string   debug, info, warn or error (default "info")
//	-list              Print the session plan and exit
//	-no-report         Skip the QC PDF after the run
//
// Examples:
//
//	# Simulation dry run, next pending block
//	tprf-host -config experiment.cfg
//
//	# Real hardware, specific run
//	tprf-host -config experiment.cfg -port /dev/ttyUSB0 -run 03
//
//	# Against the mock device server
//	tprf-host -port tcp:127.0.0.1:5333 -sub 0001
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tprf-host/pkg/clock"
	"tprf-host/pkg/config"
	"tprf-host/pkg/errors"
	"tprf-host/pkg/log"
	"tprf-host/pkg/mask"
	"tprf-host/pkg/metrics"
	"tprf-host/pkg/monitor"
	"tprf-host/pkg/report"
	"tprf-host/pkg/runner"
	"tprf-host/pkg/session"
	"tprf-host/pkg/thermode"
)

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "Experiment configuration file (INI)")
	sub := flag.String("sub", "", "Participant ID (e.g. 0001)")
	ses := flag.String("ses", "", "Session number (e.g. 01)")
	runFlag := flag.String("run", "", "Run 01-04 (default: next pending)")
	port := flag.String("port", "", "Thermode port (/dev/ttyUSB0 or tcp:host:port)")
	simulation := flag.Bool("simulation", true, "Run without hardware")
	emulate := flag.Bool("emulate-trigger", true, "ENTER stands in for the scanner trigger")
	monitorAddr := flag.String("monitor", "", "Monitor listen address")
	metricsAddr := flag.String("metrics", "", "Metrics listen address")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	logLevel := flag.String("loglevel", "info", "Log level: debug, info, warn, error")
	listOnly := flag.Bool("list", false, "Print the session plan and exit")
	noReport := flag.Bool("no-report", false, "Skip the QC PDF after the run")
	flag.Parse()

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	log.SetLevel(log.ParseLevel(*logLevel))
	if *logFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			return exitError
		}
		defer w.Close()
		log.SetOutput(w)
	}

	exp := config.DefaultExperiment()
	masks := mask.NewRegistry()
	if *configFile != "" {
		var cfg *config.Config
		var err error
		exp, cfg, err = config.LoadExperimentFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
		if err := masks.LoadConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
		if err := cfg.CheckUnusedOptions(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
	}

	if *sub != "" {
		exp.Session.Participant = *sub
	}
	if *ses != "" {
		exp.Session.Session = *ses
	}
	if explicit["simulation"] {
		exp.Thermode.Simulation = *simulation
	}
	if explicit["emulate-trigger"] {
		exp.MR.EmulateTrigger = *emulate
	}
	if *port != "" {
		exp.Thermode.Port = *port
		// Naming a port means driving real hardware unless simulation was
		// forced on the same command line.
		if !explicit["simulation"] {
			exp.Thermode.Simulation = false
		}
	}
	if *monitorAddr != "" {
		exp.Monitor.Enabled = true
		exp.Monitor.Listen = *monitorAddr
	}
	if *metricsAddr != "" {
		exp.Metrics.Enabled = true
		exp.Metrics.Listen = *metricsAddr
	}

	device := "simulation (no hardware)"
	if !exp.Thermode.Simulation {
		device = exp.Thermode.Port
	}

	fmt.Println("========================================")
	fmt.Println("tpRF Stimulation Host")
	fmt.Println("========================================")
	fmt.Printf("Participant: sub-%s ses-%s\n", exp.Session.Participant, exp.Session.Session)
	fmt.Printf("Device:      %s\n", device)
	fmt.Printf("Data dir:    %s\n", exp.Session.DataDir)
	fmt.Printf("Waveform:    %s, %.0f s cycle, %.2g cycles, max delta %.1f\n",
		exp.Waveform.Variant, exp.Stim.CycleDuration, exp.Stim.CyclesPerBlock, exp.Stim.MaxDelta)

	fmt.Println("\nSession plan:")
	for _, st := range session.Status(exp) {
		marker := "pending"
		if st.Done {
			marker = "DONE"
		}
		fmt.Printf("  run-%s  %-7s %-6s %-11s [%s]\n",
			st.Spec.Run, st.Spec.Label, st.Spec.MaskName, direction(st.Spec.WarmFirst), marker)
	}
	if *listOnly {
		return exitOK
	}

	var spec session.BlockSpec
	if *runFlag != "" {
		var ok bool
		spec, ok = session.FindRun(exp, *runFlag)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: run %q not in plan\n", *runFlag)
			return exitError
		}
	} else {
		var ok bool
		spec, ok = session.NextPending(exp)
		if !ok {
			fmt.Println("\nAll runs complete.")
			return exitOK
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	// Opening the serial port and running the init sequence can block on
	// unresponsive hardware; doing it in a goroutine keeps Ctrl+C working.
	type startupResult struct {
		ctl *thermode.Controller
		err error
	}
	startCh := make(chan startupResult, 1)
	go func() {
		var dev thermode.Device
		if exp.Thermode.Simulation {
			dev = thermode.NewSimDevice()
		} else {
			d, err := thermode.OpenTCS(thermode.TCSConfig{
				Port:          exp.Thermode.Port,
				BaselineTemp:  exp.Stim.BaselineTemp,
				TrackingSpeed: exp.Thermode.TrackingSpeed,
				ReturnSpeed:   exp.Thermode.ReturnSpeed,
				WaveformSlope: exp.MaxSlope(),
			})
			if err != nil {
				startCh <- startupResult{err: err}
				return
			}
			dev = d
		}
		ctl := thermode.NewController(dev, clock.NewWallClock(), exp.Stim, exp.Thermode)
		startCh <- startupResult{ctl: ctl}
	}()

	var ctl *thermode.Controller
	select {
	case <-ctx.Done():
		return exitInterrupted
	case res := <-startCh:
		if res.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", res.err)
			return exitError
		}
		ctl = res.ctl
	}
	defer ctl.Close()

	hm := metrics.GlobalMetrics()
	hm.UpdateSystemMetrics()

	var pub runner.Publisher
	var mon *monitor.Server
	if exp.Monitor.Enabled {
		mon = monitor.New(exp, hm)
		go func() {
			if err := mon.Start(); err != nil {
				log.GetLogger("host").WithError(err).Warn("monitor server failed")
			}
		}()
		fmt.Printf("\nMonitor:     http://%s\n", exp.Monitor.Listen)
		pub = mon
	}
	var ms *metrics.MetricsServer
	if exp.Metrics.Enabled {
		mcfg := metrics.DefaultMetricsServerConfig()
		mcfg.Address = exp.Metrics.Listen
		mcfg.Username = exp.Metrics.Username
		mcfg.Password = exp.Metrics.Password
		ms = metrics.NewMetricsServerWithConfig(hm, mcfg)
		ms.StartAsync()
		fmt.Printf("Metrics:     http://%s/metrics\n", exp.Metrics.Listen)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer scancel()
		if mon != nil {
			mon.Shutdown(sctx)
		}
		if ms != nil {
			ms.Shutdown(sctx)
		}
	}()

	fmt.Printf("\n=== Run %s: %s | %s | %s ===\n",
		spec.Run, spec.Label, spec.MaskName, direction(spec.WarmFirst))
	if exp.MR.EmulateTrigger {
		fmt.Println("Press ENTER to start (trigger emulation)...")
	} else {
		fmt.Printf("Waiting for scanner trigger (%q)...\n", exp.MR.TriggerKey)
	}

	sess := session.New(exp, masks, ctl, pub, hm)
	art, err := sess.ExecuteRun(ctx, spec)
	if err != nil {
		if errors.IsCancelled(err) {
			fmt.Fprintln(os.Stderr, "Run aborted; partial outputs kept:")
			printArtifacts(os.Stderr, art)
			return exitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	if retries, exhausted := ctl.RetryStats(); retries > 0 {
		fmt.Printf("Readback retries: %d (%d exhausted)\n", retries, exhausted)
	}
	fmt.Println("\nRun complete:")
	printArtifacts(os.Stdout, art)

	if !*noReport {
		if path, err := writeReport(art); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: QC report failed: %v\n", err)
		} else {
			fmt.Printf("  QC report: %s\n", path)
		}
	}
	return exitOK
}

func direction(warmFirst bool) string {
	if warmFirst {
		return "warm-first"
	}
	return "cool-first"
}

func printArtifacts(w *os.File, art session.RunArtifacts) {
	fmt.Fprintf(w, "  Thermode:  %s\n", art.Paths.Thermode)
	fmt.Fprintf(w, "  Events:    %s\n", art.Paths.Events)
	fmt.Fprintf(w, "  QC:        %s\n", art.Paths.QC)
	fmt.Fprintf(w, "  Sidecar:   %s\n", art.Paths.Sidecar)
}

// writeReport renders the QC PDF next to the QC TSV.
func writeReport(art session.RunArtifacts) (string, error) {
	data, err := report.LoadRun(art.Paths, art.Info.Participant, art.Info.Session, art.Info.Run)
	if err != nil {
		return "", err
	}
	path := strings.TrimSuffix(art.Paths.QC, ".tsv") + ".pdf"
	if err := report.Build(path, data); err != nil {
		return "", err
	}
	return path, nil
}
