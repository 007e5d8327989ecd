package slide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
)

// Pipeline runs scale selection, training-set construction and detection.
// Stages run strictly in sequence; only zonal aggregation is parallel.
// Two pipelines must not share an output directory.
type Pipeline struct {
	Config     *Config
	Segmenter  Segmenter
	Classifier Classifier
	Publisher  *Publisher
	State      *RunState
	Console    io.Writer

	image      *Raster
	brightness *Raster
	ndvi       *Raster
	scratch    []string
}

// NewPipeline wires a pipeline from configuration. The publisher may be nil.
func NewPipeline(cfg *Config, pub *Publisher) (*Pipeline, error) {
	seg, err := NewSegmenter(cfg.Segmenter, cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	rf := NewRandomForest(cfg.Trees, 1)
	rf.Workers = cfg.Workers
	return &Pipeline{
		Config:     cfg,
		Segmenter:  seg,
		Classifier: rf,
		Publisher:  pub,
		State:      NewRunState(),
		Console:    os.Stdout,
	}, nil
}

// Output file names
func (p *Pipeline) brightnessPath() string {
	return p.Config.OutputPath("bright_" + p.Config.Tag() + ".img")
}
func (p *Pipeline) ndviPath() string { return p.Config.OutputPath("ndvi_" + p.Config.Tag() + ".img") }

// FitnessCSVPath is where the fitness table is written
func (p *Pipeline) FitnessCSVPath() string { return p.Config.OutputPath("POF.csv") }

// TrainingPath is where the training table GeoJSON is written
func (p *Pipeline) TrainingPath() string {
	return p.Config.OutputPath("training_" + p.Config.Tag() + ".geojson")
}

// ResultPath is where the detected landslides are written
func (p *Pipeline) ResultPath() string { return p.Config.OutputPath(p.Config.Result) }

// Run executes the three stages and removes intermediate files unless
// keepIntermediate is set
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.cleanup()

	sel, err := p.RunSelectScale(ctx)
	if err != nil {
		return p.fail(err)
	}
	training, err := p.buildTraining(ctx, sel.Segments)
	if err != nil {
		return p.fail(err)
	}
	if _, err := p.RunDetection(ctx, sel.Scale, training); err != nil {
		return p.fail(err)
	}
	return nil
}

func (p *Pipeline) fail(err error) error {
	p.publish(RunEvent{Stage: StageFailed, Error: err.Error()})
	return err
}

func (p *Pipeline) publish(ev RunEvent) {
	if p.Publisher != nil {
		if err := p.Publisher.Publish(ev); err != nil {
			log.Printf("[MQTT] %s event not published: %v", ev.Stage, err)
		}
		ev.RunID = p.Publisher.RunID()
	}
	if p.State != nil {
		p.State.Record(ev)
	}
}

func (p *Pipeline) cleanup() {
	if p.Config.KeepIntermediate {
		return
	}
	RemoveIntermediate(p.scratch)
	p.scratch = nil
}

// prepare loads the image and derives the brightness and NDVI rasters
func (p *Pipeline) prepare() error {
	if p.image != nil {
		return nil
	}
	img, err := ReadRaster(p.Config.ImagePath())
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	bright, err := Brightness(img, p.Config.Bands)
	if err != nil {
		return fmt.Errorf("computing brightness: %w", err)
	}
	ndvi, err := NDVI(img, p.Config.Bands)
	if err != nil {
		return fmt.Errorf("computing NDVI: %w", err)
	}
	if err := WriteRaster(p.brightnessPath(), bright); err != nil {
		return fmt.Errorf("writing brightness: %w", err)
	}
	if err := WriteRaster(p.ndviPath(), ndvi); err != nil {
		return fmt.Errorf("writing NDVI: %w", err)
	}
	fmt.Fprintf(p.Console, "Image %s: %dx%d, %d bands\n", p.Config.Image, img.Width, img.Height, len(img.Bands))
	p.image, p.brightness, p.ndvi = img, bright, ndvi
	return nil
}

func (p *Pipeline) selectorConfig() SelectorConfig {
	sc := p.Config.Scale
	return SelectorConfig{
		ScaleMin:        sc.Min,
		ScaleMax:        sc.Max,
		Step:            sc.Step,
		SpatialRadius:   sc.SpatialRadius,
		ObjectMinSize:   sc.ObjectMinSize,
		Workers:         p.Config.Workers,
		TrainingExtent:  p.Config.TrainingExtent,
		FallbackToMax:   sc.FallbackToMax,
		IntermediateDir: p.Config.OutputDir,
		Tag:             p.Config.Tag(),
	}
}

// RunSelectScale runs the Plateau Objective Function search and writes the
// POF diagnostics
func (p *Pipeline) RunSelectScale(ctx context.Context) (ScaleSelection, error) {
	if err := p.prepare(); err != nil {
		return ScaleSelection{}, err
	}

	selector := NewSelector(p.Segmenter, p.selectorConfig())
	if p.State != nil {
		selector.OnCandidate = p.State.AddCandidate
	}
	sel, err := selector.SelectScale(ctx, p.image, p.brightness)
	p.scratch = append(p.scratch, sel.IntermediateFiles...)
	if err != nil {
		if errors.Is(err, ErrNoPlateauFound) {
			return sel, fmt.Errorf("%w: widen scale.min/scale.max or set scale.fallbackToMax", err)
		}
		return sel, err
	}

	runID := ""
	if p.Publisher != nil {
		runID = p.Publisher.RunID()
	}
	if err := WriteFitnessCSV(p.FitnessCSVPath(), sel.Table); err != nil {
		return sel, err
	}
	if err := WriteFitnessParquet(p.Config.OutputPath("POF.parquet"), sel.Table, runID); err != nil {
		return sel, err
	}
	if err := SaveFitnessChart(p.Config.OutputPath("POF.png"), sel.Table); err != nil {
		return sel, err
	}
	if err := PrintFitnessTable(p.Console, sel.Table); err != nil {
		log.Printf("[POF] printing table: %v", err)
	}
	if p.State != nil {
		p.State.SetFitnessTable(sel.Table)
	}
	p.publish(RunEvent{Stage: StageScaleSelected, Scale: sel.Scale})
	return sel, nil
}

// SelectedScale reads the scale chosen by a previous run from POF.csv
func (p *Pipeline) SelectedScale() (int, error) {
	table, err := ReadFitnessCSV(p.FitnessCSVPath())
	if err != nil {
		return 0, fmt.Errorf("loading previous scale selection: %w", err)
	}
	scale, err := PlateauScale(table)
	if err != nil {
		return 0, err
	}
	return scale, nil
}

// RunTraining segments the training extent at the scale recorded in POF.csv
// and builds the training table
func (p *Pipeline) RunTraining(ctx context.Context) ([]TrainingRecord, error) {
	scale, err := p.SelectedScale()
	if err != nil {
		return nil, err
	}
	if err := p.prepare(); err != nil {
		return nil, err
	}
	img, err := p.image.CropProjWin(p.Config.TrainingExtent)
	if err != nil {
		return nil, fmt.Errorf("cropping image to training extent: %w", err)
	}
	grid, err := p.Segmenter.Segment(ctx, img, p.segmentParams(scale))
	if err != nil {
		return nil, fmt.Errorf("segmenting training extent: %w", err)
	}
	return p.buildTraining(ctx, Polygonize(grid))
}

func (p *Pipeline) segmentParams(scale int) SegmentParams {
	return SegmentParams{
		SpatialRadius: p.Config.Scale.SpatialRadius,
		RangeRadius:   float64(scale),
		MinSize:       p.Config.Scale.ObjectMinSize,
	}
}

// Predictors lists the predictor columns available for this configuration,
// in PredictorNames order
func (p *Pipeline) Predictors() []string {
	var out []string
	for _, name := range PredictorNames {
		if name == PropMeanBright || name == PropMeanNDVI {
			out = append(out, name)
			continue
		}
		if _, ok := p.Config.Predictors[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// attachPredictors stores the zonal mean of every predictor raster on segments
func (p *Pipeline) attachPredictors(segments []*Feature) error {
	if _, err := AggregateInto(segments, p.brightness, StatMean, p.Config.Workers, PropMeanBright); err != nil {
		return err
	}
	if _, err := AggregateInto(segments, p.ndvi, StatMean, p.Config.Workers, PropMeanNDVI); err != nil {
		return err
	}
	for _, name := range p.Predictors() {
		if name == PropMeanBright || name == PropMeanNDVI {
			continue
		}
		r, err := ReadRaster(p.Config.PredictorPath(name))
		if err != nil {
			return fmt.Errorf("reading predictor %s: %w", name, err)
		}
		if _, err := AggregateInto(segments, r, StatMean, p.Config.Workers, name); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) buildTraining(ctx context.Context, segments []*Feature) ([]TrainingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.attachPredictors(segments); err != nil {
		return nil, err
	}
	manual, err := ReadFeatures(p.Config.ManualPath())
	if err != nil {
		return nil, fmt.Errorf("reading manual landslides: %w", err)
	}

	records := BuildTrainingSet(segments, manual, p.Config.OverlapThreshold())
	pos, neg := TrainingSummary(records)
	fmt.Fprintf(p.Console, "Training set: %d positive, %d negative segments\n", pos, neg)

	if err := WriteTrainingGeoJSON(p.TrainingPath(), records); err != nil {
		return nil, err
	}
	if err := WriteTrainingShapefile(p.Config.OutputPath("training_"+p.Config.Tag()+".shp"), records); err != nil {
		return nil, err
	}
	runID := ""
	if p.Publisher != nil {
		runID = p.Publisher.RunID()
	}
	if err := WriteTrainingParquet(p.Config.OutputPath("training_"+p.Config.Tag()+".parquet"), records, runID); err != nil {
		return nil, err
	}
	if err := NewMapRenderer(TrainingLayers(records)...).SaveMap(p.Config.OutputPath("training_" + p.Config.Tag() + ".svg")); err != nil {
		log.Printf("[TRAIN] rendering training map: %v", err)
	}

	if p.State != nil {
		p.State.SetTraining(records)
	}
	p.publish(RunEvent{Stage: StageTrainingBuilt, Positives: pos, Negatives: neg})
	return records, nil
}

// RunDetection segments the full image at scale, classifies every segment
// with a classifier trained on training and writes the dissolved landslides.
// A nil training table is loaded from the training GeoJSON of a previous run.
func (p *Pipeline) RunDetection(ctx context.Context, scale int, training []TrainingRecord) ([]*Feature, error) {
	if training == nil {
		var err error
		if training, err = ReadTrainingGeoJSON(p.TrainingPath()); err != nil {
			return nil, fmt.Errorf("loading training table: %w", err)
		}
	}
	if scale <= 0 {
		var err error
		if scale, err = p.SelectedScale(); err != nil {
			return nil, err
		}
	}
	if err := p.prepare(); err != nil {
		return nil, err
	}

	grid, err := p.Segmenter.Segment(ctx, p.image, p.segmentParams(scale))
	if err != nil {
		return nil, fmt.Errorf("segmenting image: %w", err)
	}
	segments := Polygonize(grid)
	log.Printf("[DETECT] %d segments at scale %d", len(segments), scale)
	if err := p.attachPredictors(segments); err != nil {
		return nil, err
	}

	if _, err := Detect(segments, training, p.Classifier, p.Predictors()); err != nil {
		return nil, err
	}
	landslides := Dissolve(grid, segments)

	if err := WriteFeaturesGeoJSON(p.ResultPath(), landslides); err != nil {
		return nil, err
	}
	if err := WriteDetectionShapefile(p.Config.OutputPath(FileTag(p.Config.Result)+".shp"), landslides); err != nil {
		return nil, err
	}
	r := NewMapRenderer(
		MapLayer{Features: segments, Stroke: OutlineColor},
		MapLayer{Features: landslides, Fill: &PositiveColor, Stroke: OutlineColor},
	)
	if err := r.SaveMap(p.Config.OutputPath(FileTag(p.Config.Result) + ".svg")); err != nil {
		log.Printf("[DETECT] rendering map: %v", err)
	}
	fmt.Fprintf(p.Console, "Detected %d landslide polygons -> %s\n", len(landslides), p.ResultPath())

	if p.State != nil {
		if landslides == nil {
			landslides = []*Feature{}
		}
		p.State.SetDetected(landslides)
	}
	p.publish(RunEvent{Stage: StageDetectionDone, Scale: scale, Detected: len(landslides)})
	return landslides, nil
}
