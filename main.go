package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line options
type AppOptions struct {
	ConfigFile       string
	OutputDir        string
	Engine           string
	Workers          int
	Scale            int
	HttpPort         int
	HttpMode         bool
	KeepIntermediate bool
	SelectScale      bool
	Train            bool
	Detect           bool
	RunAll           bool
}

// Runner is the set of actions the command line can trigger
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunSelectScale() error
	RunTraining() error
	RunDetection() error
	RunAll() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("salad: %v", err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("salad", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.OutputDir, "output-dir", "", "Override the output directory from the config file")
	fs.StringVar(&opts.Engine, "engine", "", "Override the segmentation engine: regiongrow or otb")
	fs.IntVar(&opts.Workers, "workers", -1, "Zonal statistics workers (0 = all CPUs, default from config)")
	fs.IntVar(&opts.Scale, "scale", 0, "Segmentation scale for --detect (default: read from POF.csv)")
	fs.BoolVar(&opts.SelectScale, "select-scale", false, "Run the Plateau Objective Function scale search and exit")
	fs.BoolVar(&opts.Train, "train", false, "Build the training set at the scale recorded in POF.csv and exit")
	fs.BoolVar(&opts.Detect, "detect", false, "Classify the full image using the saved training set and exit")
	fs.BoolVar(&opts.RunAll, "run", false, "Run scale selection, training and detection")
	fs.BoolVar(&opts.KeepIntermediate, "keep-intermediate", false, "Keep per-scale segmentation files")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve run artifacts over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "salad version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.RunAll:
		return app.RunAll()
	case opts.SelectScale:
		return app.RunSelectScale()
	case opts.Train:
		return app.RunTraining()
	case opts.Detect:
		return app.RunDetection()
	case opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Semi-automatic landslide detection")
	fmt.Fprintln(out, "Use --select-scale to choose the segmentation scale")
	fmt.Fprintln(out, "Use --train to build the training set at the selected scale")
	fmt.Fprintln(out, "Use --detect to classify the full image")
	fmt.Fprintln(out, "Use --run to run all three stages")
	fmt.Fprintln(out, "Use --http to serve the artifacts of the last run")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - input files, scale range, overlap threshold and MQTT settings")
	return nil
}
