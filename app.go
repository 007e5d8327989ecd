package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kwv/salad/slide"
)

// stateFile records the status and fitness table of the last run
const stateFile = "run-state.json"

// App encapsulates the application state and dependencies
type App struct {
	Config     *slide.Config
	Pipeline   *slide.Pipeline
	Publisher  *slide.Publisher
	State      *slide.RunState
	MQTTClient mqtt.Client

	// CLI Flags (effectively dependencies)
	ConfigFile       string
	OutputDir        string
	Engine           string
	Workers          int
	Scale            int
	HttpPort         int
	HttpMode         bool
	KeepIntermediate bool

	// notify is replaced in tests
	notify func(ctx context.Context) (context.Context, context.CancelFunc)
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		State:   slide.NewRunState(),
		Workers: -1,
		notify: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		},
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.OutputDir = opts.OutputDir
	a.Engine = opts.Engine
	a.Workers = opts.Workers
	a.Scale = opts.Scale
	a.HttpPort = opts.HttpPort
	a.HttpMode = opts.HttpMode
	a.KeepIntermediate = opts.KeepIntermediate
}

// loadConfig reads the config file and applies the flag overrides
func (a *App) loadConfig() error {
	if a.Config != nil {
		return nil
	}
	config, err := slide.LoadConfig(a.ConfigFile)
	if err != nil {
		return err
	}
	if a.OutputDir != "" {
		config.OutputDir = a.OutputDir
	}
	if a.Engine != "" {
		config.Segmenter.Engine = a.Engine
	}
	if a.Workers >= 0 {
		config.Workers = a.Workers
	}
	if a.KeepIntermediate {
		config.KeepIntermediate = true
	}
	if err := config.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)
	return nil
}

// setup loads the configuration, connects MQTT and builds the pipeline
func (a *App) setup() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if a.MQTTClient == nil {
		client, err := slide.ConnectMQTT(a.Config.MQTT)
		if err != nil {
			log.Printf("Warning: %v; continuing without progress events", err)
		}
		a.MQTTClient = client
	}
	if a.MQTTClient != nil && a.Publisher == nil {
		a.Publisher = slide.NewPublisher(a.MQTTClient, slide.MQTTSettings(a.Config.MQTT).PublishPrefix)
	}
	if a.Pipeline == nil {
		p, err := slide.NewPipeline(a.Config, a.Publisher)
		if err != nil {
			return err
		}
		a.Pipeline = p
	}
	a.Pipeline.State = a.State
	return nil
}

// execute runs one pipeline stage under a context cancelled by SIGINT,
// SIGTERM or a message on the MQTT cancel topic
func (a *App) execute(name string, stage func(ctx context.Context) error) error {
	if err := a.setup(); err != nil {
		return err
	}
	ctx, stop := a.notify(context.Background())
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.MQTTClient != nil {
		prefix := slide.MQTTSettings(a.Config.MQTT).PublishPrefix
		if err := slide.WatchCancel(a.MQTTClient, prefix, cancel); err != nil {
			log.Printf("Warning: %v", err)
		}
		defer a.MQTTClient.Disconnect(250)
	}

	var srv *http.Server
	if a.HttpMode {
		srv = a.startHTTP()
	}

	start := time.Now()
	fmt.Printf("Running %s...\n", name)
	err := stage(ctx)
	if saveErr := a.State.SaveSnapshot(a.Config.OutputPath(stateFile)); saveErr != nil {
		log.Printf("Warning: saving run state: %v", saveErr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Printf("%s cancelled after %s\n", name, time.Since(start).Round(time.Millisecond))
		}
		if srv != nil {
			a.shutdown(srv)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Printf("%s finished in %s\n", name, time.Since(start).Round(time.Millisecond))

	if srv != nil {
		fmt.Println("Serving results, press Ctrl+C to stop")
		<-ctx.Done()
		a.shutdown(srv)
	}
	return nil
}

// RunSelectScale runs the scale search and writes the POF diagnostics
func (a *App) RunSelectScale() error {
	return a.execute("scale selection", func(ctx context.Context) error {
		sel, err := a.Pipeline.RunSelectScale(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Selected scale: %d\n", sel.Scale)
		fmt.Printf("Fitness table written to %s\n", a.Pipeline.FitnessCSVPath())
		return nil
	})
}

// RunTraining builds the training set at the previously selected scale
func (a *App) RunTraining() error {
	return a.execute("training", func(ctx context.Context) error {
		records, err := a.Pipeline.RunTraining(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Training table with %d segments written to %s\n", len(records), a.Pipeline.TrainingPath())
		return nil
	})
}

// RunDetection classifies the full image with the saved training set
func (a *App) RunDetection() error {
	return a.execute("detection", func(ctx context.Context) error {
		_, err := a.Pipeline.RunDetection(ctx, a.Scale, nil)
		return err
	})
}

// RunAll runs the three stages in sequence
func (a *App) RunAll() error {
	return a.execute("pipeline", func(ctx context.Context) error {
		return a.Pipeline.Run(ctx)
	})
}

// RunService serves the artifacts of the last run until interrupted
func (a *App) RunService() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	a.restoreState()

	ctx, stop := a.notify(context.Background())
	defer stop()

	srv := a.startHTTP()
	<-ctx.Done()
	fmt.Println("\nShutting down...")
	a.shutdown(srv)
	return nil
}

// restoreState loads the state snapshot and the vector outputs of a
// previous run into the tracker
func (a *App) restoreState() {
	if err := a.State.LoadSnapshot(a.Config.OutputPath(stateFile)); err != nil {
		log.Printf("Warning: no previous run state: %v", err)
	}
	if _, ok := a.State.FitnessTable(); !ok {
		if table, err := slide.ReadFitnessCSV(a.Config.OutputPath("POF.csv")); err == nil {
			a.State.SetFitnessTable(table)
		}
	}
	trainingPath := a.Config.OutputPath("training_" + a.Config.Tag() + ".geojson")
	if records, err := slide.ReadTrainingGeoJSON(trainingPath); err == nil {
		a.State.SetTraining(records)
		log.Printf("Loaded %d training segments from %s", len(records), trainingPath)
	}
	if features, err := slide.ReadFeatures(a.Config.OutputPath(a.Config.Result)); err == nil {
		a.State.SetDetected(features)
		log.Printf("Loaded %d landslide polygons from %s", len(features), a.Config.Result)
	}
}

func (a *App) startHTTP() *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.HttpPort),
		Handler:           newHTTPServer(a.State),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on :%d", a.HttpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	return srv
}

func (a *App) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}
