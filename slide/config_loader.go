package slide

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty in the YAML file
const (
	DefaultScaleStep     = 2
	DefaultSpatialRadius = 10
	DefaultObjectMinSize = 10
	DefaultOverlap       = 50.0
	DefaultTrees         = 500
	DefaultOTBBinary     = "otbcli_LargeScaleMeanShift"
	DefaultMaxRAMHintMB  = 50000
	DefaultTileSize      = 500
)

// LoadConfig loads the pipeline configuration from a YAML file, applies
// defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills unset optional fields
func (c *Config) ApplyDefaults() {
	if c.InputDir == "" {
		c.InputDir = "."
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Bands == (BandMap{}) {
		c.Bands = DefaultBandMap()
	}
	if c.Scale.Step == 0 {
		c.Scale.Step = DefaultScaleStep
	}
	if c.Scale.SpatialRadius == 0 {
		c.Scale.SpatialRadius = DefaultSpatialRadius
	}
	if c.Scale.ObjectMinSize == 0 {
		c.Scale.ObjectMinSize = DefaultObjectMinSize
	}
	if c.Overlap == nil {
		overlap := DefaultOverlap
		c.Overlap = &overlap
	}
	if c.Trees == 0 {
		c.Trees = DefaultTrees
	}
	if c.Segmenter.Engine == "" {
		c.Segmenter.Engine = "regiongrow"
	}
	if c.Segmenter.OTBBinary == "" {
		c.Segmenter.OTBBinary = DefaultOTBBinary
	}
	if c.Segmenter.MaxRAMHintMB == 0 {
		c.Segmenter.MaxRAMHintMB = DefaultMaxRAMHintMB
	}
	if c.Segmenter.TileSize == 0 {
		c.Segmenter.TileSize = DefaultTileSize
	}
	if c.Result == "" && c.Image != "" {
		c.Result = FileTag(c.Image) + ".geojson"
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = "salad"
	}
}

// Validate checks required inputs and parameter ranges. Every failure is a
// *ConfigError. An empty scale range is not a configuration error: the
// selector reports it as ErrNoPlateauFound.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return &ConfigError{Field: "inputDir", Reason: "a path to the input files must be specified"}
	}
	if _, err := os.Stat(c.InputDir); err != nil {
		return &ConfigError{Field: "inputDir", Reason: fmt.Sprintf("%s does not exist", c.InputDir)}
	}
	if c.OutputDir == "" {
		return &ConfigError{Field: "outputDir", Reason: "a path for the output files must be specified"}
	}
	if c.Image == "" {
		return &ConfigError{Field: "image", Reason: "an image must be specified"}
	}
	if !isFile(c.ImagePath()) {
		return &ConfigError{Field: "image", Reason: fmt.Sprintf("%s does not exist", c.ImagePath())}
	}
	if c.Manual == "" {
		return &ConfigError{Field: "manual", Reason: "a manual landslide layer must be specified"}
	}
	if !isFile(c.ManualPath()) {
		return &ConfigError{Field: "manual", Reason: fmt.Sprintf("%s does not exist", c.ManualPath())}
	}
	for name, path := range c.Predictors {
		if !isPredictorName(name) {
			return &ConfigError{Field: "predictors." + name, Reason: "unknown predictor; expected one of " + strings.Join(PredictorNames, ", ")}
		}
		if name == PropMeanBright || name == PropMeanNDVI {
			return &ConfigError{Field: "predictors." + name, Reason: "computed from the image and cannot be overridden"}
		}
		if !isFile(c.resolveInput(path)) {
			return &ConfigError{Field: "predictors." + name, Reason: fmt.Sprintf("%s does not exist", c.resolveInput(path))}
		}
	}
	if c.TrainingExtent.IsZero() {
		return &ConfigError{Field: "trainingExtent", Reason: "a training extent must be specified"}
	}
	if c.TrainingExtent.ULX >= c.TrainingExtent.LRX || c.TrainingExtent.ULY <= c.TrainingExtent.LRY {
		return &ConfigError{Field: "trainingExtent", Reason: "upper-left must be left of and above lower-right"}
	}
	if c.Scale.Step <= 0 {
		return &ConfigError{Field: "scale.step", Reason: "must be positive"}
	}
	if c.Scale.SpatialRadius < 0 {
		return &ConfigError{Field: "scale.spatialRadius", Reason: "must not be negative"}
	}
	if c.Scale.ObjectMinSize < 0 {
		return &ConfigError{Field: "scale.objectMinSize", Reason: "must not be negative"}
	}
	if c.Overlap != nil && (*c.Overlap < 0 || *c.Overlap > 100) {
		return &ConfigError{Field: "overlap", Reason: "must be a percentage between 0 and 100"}
	}
	if c.Trees < 1 {
		return &ConfigError{Field: "trees", Reason: "at least one tree is required"}
	}
	for _, b := range []int{c.Bands.Blue, c.Bands.Green, c.Bands.Red, c.Bands.NIR} {
		if b < 1 {
			return &ConfigError{Field: "bands", Reason: "band numbers are 1-based"}
		}
	}
	switch c.Segmenter.Engine {
	case "regiongrow", "otb":
	default:
		return &ConfigError{Field: "segmenter.engine", Reason: fmt.Sprintf("unknown engine %q", c.Segmenter.Engine)}
	}
	return nil
}

// OverlapThreshold returns the labeling threshold in percent
func (c *Config) OverlapThreshold() float64 {
	if c.Overlap == nil {
		return DefaultOverlap
	}
	return *c.Overlap
}

// ImagePath returns the full path of the input image
func (c *Config) ImagePath() string {
	return c.resolveInput(c.Image)
}

// ManualPath returns the full path of the manual landslide layer
func (c *Config) ManualPath() string {
	return c.resolveInput(c.Manual)
}

// PredictorPath returns the full path of an extra predictor raster
func (c *Config) PredictorPath(name string) string {
	return c.resolveInput(c.Predictors[name])
}

// OutputPath joins a file name onto the output directory
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.OutputDir, name)
}

// Tag is the file identifier derived from the image name
func (c *Config) Tag() string {
	return FileTag(c.Image)
}

func (c *Config) resolveInput(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.InputDir, p)
}

// FileTag strips directories and every extension from a file name
func FileTag(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

func isPredictorName(name string) bool {
	for _, p := range PredictorNames {
		if p == name {
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
