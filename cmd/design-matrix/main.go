// design-matrix generates the per-run GLM design matrices and pRF
// stimulus apertures for a session. Task regressors are fully determined
// by the experiment configuration, so designs can be produced before any
// scanning.
//
// Usage:
//
//	design-matrix -sub 0001 [options]
//
// Options:
//
//	-config string   Experiment config file (INI); defaults apply without it
//	-sub string      Participant ID (overrides the config)
//	-ses string      Session number (overrides the config)
//	-run string      Specific run 01-04; omit to generate all four
//	-n-volumes int   Override the computed number of volumes per run
//	-out string      Output root (default: [design] output_dir)
//	-no-plot         Skip the PNG visualization
//
// Examples:
//
//	design-matrix -sub 0001 -ses 01
//	design-matrix -config experiment.cfg -sub 0001 -run 03 -no-plot
package main

import (
	"flag"
	"fmt"
	"os"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/config"
	"tprf-host/pkg/design"
	"tprf-host/pkg/mask"
	"tprf-host/pkg/session"
)

func main() {
	configFile := flag.String("config", "", "Experiment config file (INI)")
	sub := flag.String("sub", "", "Participant ID (e.g. 0001)")
	ses := flag.String("ses", "", "Session number (e.g. 01)")
	run := flag.String("run", "", "Specific run 01-04; omit for all four")
	nVolumes := flag.Int("n-volumes", 0, "Override number of volumes per run")
	outDir := flag.String("out", "", "Output root directory")
	noPlot := flag.Bool("no-plot", false, "Skip plot generation")
	flag.Parse()

	if err := generate(*configFile, *sub, *ses, *run, *nVolumes, *outDir, *noPlot); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func generate(configFile, sub, ses, run string, nVolumes int, outDir string, noPlot bool) error {
	exp := config.DefaultExperiment()
	masks := mask.NewRegistry()
	if configFile != "" {
		var cfg *config.Config
		var err error
		exp, cfg, err = config.LoadExperimentFile(configFile)
		if err != nil {
			return err
		}
		if err := masks.LoadConfig(cfg); err != nil {
			return err
		}
		if err := cfg.CheckUnusedOptions(); err != nil {
			return err
		}
	}
	if sub != "" {
		exp.Session.Participant = sub
	}
	if ses != "" {
		exp.Session.Session = ses
	}

	root := exp.Design.OutputDir
	if outDir != "" {
		root = outDir
	}

	plan := session.Plan(exp)
	specs := plan
	if run != "" {
		spec, ok := session.FindRun(exp, run)
		if !ok {
			return fmt.Errorf("run %q not in plan (01-%02d)", run, len(plan))
		}
		specs = []session.BlockSpec{spec}
	}

	for _, spec := range specs {
		m, err := masks.Lookup(spec.MaskName)
		if err != nil {
			return err
		}
		direction := "warm-first"
		if !spec.WarmFirst {
			direction = "cool-first"
		}
		fmt.Printf("\n=== Run %s: %s | %s | %s ===\n",
			spec.Run, spec.Label, spec.MaskName, direction)

		d, err := design.Generate(exp, m, spec.WarmFirst, nVolumes)
		if err != nil {
			return err
		}
		fmt.Printf("  Volumes: %d (%.1fs)\n",
			d.Meta.NVolumes, float64(d.Meta.NVolumes)*exp.MR.TR)
		fmt.Printf("  Active zones: %v\n", d.ActiveZones)
		fmt.Println("  Regressor correlations (convolved):")
		for _, c := range d.Correlations() {
			fmt.Printf("    %s vs %s: r = %.3f\n", c.A, c.B, c.R)
		}

		info := bids.RunInfo{
			Participant: exp.Session.Participant,
			Session:     exp.Session.Session,
			Run:         spec.Run,
		}
		files, err := design.BuildFiles(root, info)
		if err != nil {
			return err
		}
		if err := design.WriteDesignTSV(files.DesignTSV, d); err != nil {
			return err
		}
		fmt.Printf("  GLM design:      %s\n", files.DesignTSV)
		if err := design.WriteApertureTSV(files.ApertureTSV, d); err != nil {
			return err
		}
		fmt.Printf("  pRF aperture:    %s\n", files.ApertureTSV)
		if err := design.WriteMetadata(files.Metadata, d); err != nil {
			return err
		}
		fmt.Printf("  Metadata:        %s\n", files.Metadata)

		if !noPlot {
			title := fmt.Sprintf("Run %s: %s %s %s",
				spec.Run, spec.Label, spec.MaskName, direction)
			if err := design.RenderPNG(files.Plot, d, title); err != nil {
				return err
			}
			fmt.Printf("  Plot:            %s\n", files.Plot)
		}
	}

	fmt.Printf("\nAll files saved under: %s\n", root)
	fmt.Println("Note: nuisance regressors (motion, aCompCor, drift) must be")
	fmt.Println("added after fMRI preprocessing.")
	return nil
}
