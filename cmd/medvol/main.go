package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/mrsinham/medvol/internal/config"
	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/logger"
	"github.com/mrsinham/medvol/internal/normalize"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	// Subcommands are sniffed before flag.Parse
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "synth":
			exitOnError(runSynth(os.Args[2:]))
			os.Exit(0)
		case "init-config":
			exitOnError(runInitConfig(os.Args[2:]))
			os.Exit(0)
		}
	}

	configFile := flag.String("config", "", "Load settings from a YAML file (flags override it)")
	normalization := flag.String("normalize", "", "Normalize voxel values: min_max, percentile, z_score")
	low := flag.Float64("low", normalize.DefaultLowPercentile, "Low percentile for -normalize percentile")
	high := flag.Float64("high", normalize.DefaultHighPercentile, "High percentile for -normalize percentile")
	check := flag.Bool("check", false, "Reject single files whose type does not match before reading")
	strict := flag.Bool("strict-duplicates", false, "Reject series with two slices at the same position")
	minConfidence := flag.Float64("min-confidence", 0, "Lowest content-guess confidence accepted as DICOM (0-1)")
	interpolation := flag.String("interpolation", "linear", "Resampling interpolation: linear, nearest")
	noResample := flag.Bool("no-resample", false, "Skip the resampled copy")
	workers := flag.Int("workers", 0, fmt.Sprintf("Number of parallel metadata readers (default: %d = CPU cores)", runtime.NumCPU()))
	previewPath := flag.String("preview", "", "Write the middle slice as a PNG to this path")
	asJSON := flag.Bool("json", false, "Print the loaded record as JSON")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "Log format: text, json")

	help := flag.Bool("help", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	if *showVersion {
		fmt.Printf("medvol %s\n", version)
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: expected exactly one path, got %d\n", flag.NArg())
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	exitOnError(err)

	// Explicit flags win over the configuration file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "normalize":
			cfg.Normalization.Kind = *normalization
		case "low":
			cfg.Normalization.LowPercentile = *low
		case "high":
			cfg.Normalization.HighPercentile = *high
		case "strict-duplicates":
			cfg.Series.StrictDuplicates = *strict
		case "min-confidence":
			cfg.Classifier.MinConfidence = *minConfidence
		case "interpolation":
			cfg.Resample.Interpolation = *interpolation
		case "no-resample":
			cfg.Resample.Enabled = !*noResample
		case "workers":
			cfg.Series.Workers = *workers
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})
	exitOnError(cfg.Validate())

	l, err := logger.New(cfg.LoggerConfig(os.Stderr))
	exitOnError(err)

	opts, err := cfg.ReaderOptions()
	exitOnError(err)
	opts.Logger = l

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rec, err := load(ctx, flag.Arg(0), opts, *check, cfg.NormalizationOptions())
	exitOnError(err)

	if *previewPath != "" {
		exitOnError(rec.writePreview(*previewPath))
	}
	if *asJSON {
		exitOnError(rec.printJSON(os.Stdout))
	} else {
		rec.printSummary(os.Stdout)
	}
}

// exitOnError prints err and exits with the status mapped from its code.
func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(errors.CodeOf(err).ExitCode())
}

func runInitConfig(args []string) error {
	if len(args) != 1 {
		return errors.InvalidInput("usage: medvol init-config <path>")
	}
	if err := config.Save(config.Default(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Configuration saved to %s\n", args[0])
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  medvol [options] <file|directory>")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
}

func printHelp() {
	fmt.Println("medvol")
	fmt.Println("======")
	fmt.Println()
	fmt.Println("Load DICOM files, DICOM series and NIfTI-1 images as volumes.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  medvol [options] <file|directory>")
	fmt.Println("  medvol synth [options]")
	fmt.Println("  medvol init-config <path>")
	fmt.Println()
	fmt.Println("A directory is read as a single DICOM series. Files ending in .nii, .nii.gz,")
	fmt.Println(".hdr or .img are read as NIfTI-1; any other file is read as DICOM.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <FILE>         YAML settings file (flags override it)")
	fmt.Println("  --normalize <KIND>      min_max, percentile or z_score")
	fmt.Println("  --low <P> --high <P>    Percentile bounds (default: 1 and 99)")
	fmt.Println("  --check                 Verify the file type before reading")
	fmt.Println("  --strict-duplicates     Reject series with two slices at the same position")
	fmt.Println("  --min-confidence <C>    Lowest content-guess confidence accepted as DICOM")
	fmt.Println("  --interpolation <MODE>  linear or nearest (default: linear)")
	fmt.Println("  --no-resample           Skip the resampled copy")
	fmt.Printf("  --workers <N>           Parallel metadata readers (default: %d = CPU cores)\n", runtime.NumCPU())
	fmt.Println("  --preview <PNG>         Write the middle slice as a PNG")
	fmt.Println("  --json                  Print the record as JSON (voxel arrays omitted)")
	fmt.Println("  --log-level <LEVEL>     debug, info, warn, error (default: info)")
	fmt.Println("  --log-format <FORMAT>   text or json (default: text)")
	fmt.Println("  --version               Show version")
	fmt.Println("  --help                  Show this help message")
	fmt.Println()
	fmt.Println("Exit status:")
	fmt.Println("  2  invalid input or normalization kind")
	fmt.Println("  3  invalid path or series directory")
	fmt.Println("  4  decode, reconstruction or metadata failure")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Write a 20-slice CT series, then load it normalized")
	fmt.Println("  medvol synth --output ct --num-images 20 --modality CT")
	fmt.Println("  medvol --normalize min_max ct")
	fmt.Println()
	fmt.Println("  # Load a NIfTI image and save a preview of its middle slice")
	fmt.Println("  medvol --preview brain.png brain.nii.gz")
}
