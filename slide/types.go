package slide

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// DefaultNoData is the sentinel marking raster cells without a valid measurement
const DefaultNoData = -999.0

// Predictor property names carried from the zonal aggregation into the
// training table and the classifier.
const (
	PropMeanBright = "Meanbright"
	PropMeanNDVI   = "Meanndvi"
	PropMeanSlope  = "Meanslope"
	PropGLCMHomog  = "glcmhomog"
	PropGLCMMean   = "glcmmean"
)

// Scratch properties attached while evaluating a candidate scale.
// They never reach the training table.
const (
	PropStd     = "std"
	PropArea    = "area"
	PropVar     = "var"
	PropAreaVar = "area_var"
	PropDN      = "DN"
)

// PredictorNames is the fixed, ordered predictor set used by the classifier
var PredictorNames = []string{PropMeanBright, PropMeanNDVI, PropMeanSlope, PropGLCMHomog, PropGLCMMean}

var (
	// ErrNoPlateauFound is returned when no candidate scale clears the
	// plateau threshold, including the case of an empty candidate range.
	ErrNoPlateauFound = errors.New("no candidate scale reached the fitness plateau")

	// ErrEmptyRaster is returned for rasters with no cells or no bands
	ErrEmptyRaster = errors.New("raster has no cells")

	// ErrUnsupportedFormat is returned by readers and writers for unknown file extensions
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// ConfigError reports an invalid or missing required input. Configuration
// errors are detected eagerly and are fatal.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Feature is a polygon with attributes. Geometry is immutable once created;
// Properties are mutated as statistics and labels are attached.
type Feature struct {
	ID         int
	Geometry   orb.MultiPolygon
	Properties map[string]interface{}
}

// NewFeature creates a Feature with an initialized property map
func NewFeature(id int, geom orb.MultiPolygon) *Feature {
	return &Feature{
		ID:         id,
		Geometry:   geom,
		Properties: make(map[string]interface{}),
	}
}

// Float returns a numeric property, or 0 when missing or not numeric
func (f *Feature) Float(name string) float64 {
	switch v := f.Properties[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Finite applies the numeric substitution rule: null, NaN and infinities become 0.
func Finite(v *float64) float64 {
	if v == nil {
		return 0
	}
	return FiniteValue(*v)
}

// FiniteValue maps NaN and infinities to 0
func FiniteValue(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Extent is a projection window given by its upper-left and lower-right corners
type Extent struct {
	ULX float64 `yaml:"ulx" json:"ulx"`
	ULY float64 `yaml:"uly" json:"uly"`
	LRX float64 `yaml:"lrx" json:"lrx"`
	LRY float64 `yaml:"lry" json:"lry"`
}

// IsZero reports whether no extent was configured
func (e Extent) IsZero() bool {
	return e.ULX == 0 && e.ULY == 0 && e.LRX == 0 && e.LRY == 0
}

// Bound returns the extent as an orb bound
func (e Extent) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Min(e.ULX, e.LRX), math.Min(e.ULY, e.LRY)},
		Max: orb.Point{math.Max(e.ULX, e.LRX), math.Max(e.ULY, e.LRY)},
	}
}

// BandMap gives the 1-based band numbers of the image channels
type BandMap struct {
	Blue  int `yaml:"blue" json:"blue"`
	Green int `yaml:"green" json:"green"`
	Red   int `yaml:"red" json:"red"`
	NIR   int `yaml:"nir" json:"nir"`
}

// DefaultBandMap matches a 5-band blue/green/red/red-edge/NIR scene
func DefaultBandMap() BandMap {
	return BandMap{Blue: 1, Green: 2, Red: 3, NIR: 5}
}

// ScaleConfig holds the Plateau Objective Function search parameters
type ScaleConfig struct {
	Min           int  `yaml:"min" json:"min"`
	Max           int  `yaml:"max" json:"max"`
	Step          int  `yaml:"step" json:"step"`
	SpatialRadius int  `yaml:"spatialRadius" json:"spatialRadius"`
	ObjectMinSize int  `yaml:"objectMinSize" json:"objectMinSize"`
	FallbackToMax bool `yaml:"fallbackToMax,omitempty" json:"fallbackToMax,omitempty"`
}

// SegmenterConfig selects and configures the segmentation engine
type SegmenterConfig struct {
	Engine       string `yaml:"engine" json:"engine"` // "regiongrow" or "otb"
	OTBBinary    string `yaml:"otbBinary,omitempty" json:"otbBinary,omitempty"`
	MaxRAMHintMB int    `yaml:"maxRAMHintMB,omitempty" json:"maxRAMHintMB,omitempty"`
	TileSize     int    `yaml:"tileSize,omitempty" json:"tileSize,omitempty"`
}

// MQTTConfig holds MQTT broker settings for the progress publisher
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config is the pipeline configuration loaded from YAML
type Config struct {
	InputDir         string            `yaml:"inputDir" json:"inputDir"`
	OutputDir        string            `yaml:"outputDir" json:"outputDir"`
	Image            string            `yaml:"image" json:"image"`
	Manual           string            `yaml:"manual" json:"manual"`
	Predictors       map[string]string `yaml:"predictors,omitempty" json:"predictors,omitempty"`
	Bands            BandMap           `yaml:"bands" json:"bands"`
	TrainingExtent   Extent            `yaml:"trainingExtent" json:"trainingExtent"`
	Scale            ScaleConfig       `yaml:"scale" json:"scale"`
	Overlap          *float64          `yaml:"overlap" json:"overlap"` // nil uses DefaultOverlap
	Trees            int               `yaml:"trees" json:"trees"`
	Workers          int               `yaml:"workers" json:"workers"`
	Segmenter        SegmenterConfig   `yaml:"segmenter" json:"segmenter"`
	Result           string            `yaml:"result" json:"result"`
	KeepIntermediate bool              `yaml:"keepIntermediate,omitempty" json:"keepIntermediate,omitempty"`
	MQTT             MQTTConfig        `yaml:"mqtt" json:"mqtt"`
}
