package slide

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CandidateScale holds the two heterogeneity measures of one candidate scale
type CandidateScale struct {
	Scale            int     `json:"hr"`
	WeightedVariance float64 `json:"v"`
	MoransI          float64 `json:"I"`
	Segments         int     `json:"segments"`
}

// FitnessRow is a candidate with its normalized scores
type FitnessRow struct {
	CandidateScale
	FV     float64 `json:"F_v"`
	FI     float64 `json:"F_I"`
	FTotal float64 `json:"F_v_I"`
}

// FitnessTable is the ordered result of scoring all candidates. Selected is
// the chosen scale, or 0 before selection.
type FitnessTable struct {
	Rows      []FitnessRow `json:"rows"`
	StdDev    float64      `json:"stdDev"`
	Threshold float64      `json:"threshold"`
	Selected  int          `json:"selected"`
}

// SelectorConfig holds the Plateau Objective Function search parameters
type SelectorConfig struct {
	ScaleMin       int
	ScaleMax       int // exclusive
	Step           int
	SpatialRadius  int
	ObjectMinSize  int
	Workers        int
	TrainingExtent Extent // zero extent uses the whole image
	FallbackToMax  bool

	// IntermediateDir, when set, receives seg_<Tag>_<scale>.geojson per candidate
	IntermediateDir string
	Tag             string
}

// Candidates lists the scales of the half-open range [ScaleMin, ScaleMax)
func (c SelectorConfig) Candidates() []int {
	if c.Step <= 0 {
		return nil
	}
	var out []int
	for s := c.ScaleMin; s < c.ScaleMax; s += c.Step {
		out = append(out, s)
	}
	return out
}

// ScaleSelection is the outcome of the search. Segments and Grid belong to
// the selected scale, over the training extent.
type ScaleSelection struct {
	Scale             int
	Table             FitnessTable
	Segments          []*Feature
	Grid              *LabelGrid
	IntermediateFiles []string
}

// Selector evaluates candidate scales with a Segmenter and picks the leading
// edge of the fitness plateau
type Selector struct {
	Segmenter Segmenter
	Config    SelectorConfig

	// OnCandidate is called after each candidate is evaluated
	OnCandidate func(CandidateScale)
}

// NewSelector creates a Selector
func NewSelector(seg Segmenter, cfg SelectorConfig) *Selector {
	return &Selector{Segmenter: seg, Config: cfg}
}

type candidateResult struct {
	segments []*Feature
	grid     *LabelGrid
}

// SelectScale segments the training extent of image at every candidate scale
// in sequence, scores each with the area-weighted variance and Moran's I of
// mean brightness, and returns the selected scale. An empty candidate range
// returns ErrNoPlateauFound before any segmentation runs.
func (s *Selector) SelectScale(ctx context.Context, image, brightness *Raster) (ScaleSelection, error) {
	scales := s.Config.Candidates()
	if len(scales) == 0 {
		return ScaleSelection{}, fmt.Errorf("scale range [%d, %d) step %d: %w",
			s.Config.ScaleMin, s.Config.ScaleMax, s.Config.Step, ErrNoPlateauFound)
	}

	img, bright := image, brightness
	if !s.Config.TrainingExtent.IsZero() {
		var err error
		if img, err = image.CropProjWin(s.Config.TrainingExtent); err != nil {
			return ScaleSelection{}, fmt.Errorf("cropping image to training extent: %w", err)
		}
		if bright, err = brightness.CropProjWin(s.Config.TrainingExtent); err != nil {
			return ScaleSelection{}, fmt.Errorf("cropping brightness to training extent: %w", err)
		}
	}

	var sel ScaleSelection
	records := make([]CandidateScale, 0, len(scales))
	results := make(map[int]candidateResult, len(scales))
	for _, scale := range scales {
		rec, res, err := s.evaluate(ctx, img, bright, scale)
		if err != nil {
			return sel, fmt.Errorf("scale %d: %w", scale, err)
		}
		log.Printf("[POF] scale %d: %d segments, v=%.4f, I=%.4f", scale, rec.Segments, rec.WeightedVariance, rec.MoransI)
		records = append(records, rec)
		results[scale] = res
		if s.OnCandidate != nil {
			s.OnCandidate(rec)
		}
		if s.Config.IntermediateDir != "" {
			path := filepath.Join(s.Config.IntermediateDir, fmt.Sprintf("seg_%s_%d.geojson", s.Config.Tag, scale))
			if err := WriteFeaturesGeoJSON(path, res.segments); err != nil {
				return sel, fmt.Errorf("writing intermediate segments: %w", err)
			}
			sel.IntermediateFiles = append(sel.IntermediateFiles, path)
		}
	}

	table := BuildFitnessTable(records)
	scale, err := PlateauScale(table)
	if err != nil && s.Config.FallbackToMax && len(table.Rows) > 0 {
		scale = maxFitnessScale(table)
		log.Printf("[POF] no plateau found, falling back to the global maximum at scale %d", scale)
		err = nil
	}
	if err != nil {
		return sel, err
	}
	table.Selected = scale

	sel.Scale = scale
	sel.Table = table
	sel.Segments = results[scale].segments
	sel.Grid = results[scale].grid
	log.Printf("[POF] selected scale %d (threshold %.4f)", scale, table.Threshold)
	return sel, nil
}

func (s *Selector) evaluate(ctx context.Context, img, bright *Raster, scale int) (CandidateScale, candidateResult, error) {
	grid, err := s.Segmenter.Segment(ctx, img, SegmentParams{
		SpatialRadius: s.Config.SpatialRadius,
		RangeRadius:   float64(scale),
		MinSize:       s.Config.ObjectMinSize,
	})
	if err != nil {
		return CandidateScale{}, candidateResult{}, fmt.Errorf("segmenting: %w", err)
	}
	features := Polygonize(grid)

	means, err := Aggregate(features, bright, StatMean, s.Config.Workers)
	if err != nil {
		return CandidateScale{}, candidateResult{}, err
	}
	stds, err := Aggregate(features, bright, StatStd, s.Config.Workers)
	if err != nil {
		return CandidateScale{}, candidateResult{}, err
	}

	meanVals := make([]float64, len(features))
	areas := make([]float64, len(features))
	for i, f := range features {
		meanVals[i] = Finite(means[i])
		areas[i] = math.Abs(planar.Area(f.Geometry))
		sd := Finite(stds[i])
		f.Properties[PropMeanBright] = meanVals[i]
		f.Properties[PropStd] = sd
		f.Properties[PropArea] = areas[i]
		f.Properties[PropVar] = sd * sd
		f.Properties[PropAreaVar] = sd * sd * areas[i]
	}

	rec := CandidateScale{
		Scale:            scale,
		WeightedVariance: WeightedVariance(stds, areas),
		MoransI:          MoransI(meanVals, QueenContiguity(features)),
		Segments:         len(features),
	}
	return rec, candidateResult{segments: features, grid: grid}, nil
}

// WeightedVariance returns sum(std^2 * area) / sum(area). Null deviations
// count as 0 and a zero total area gives 0.
func WeightedVariance(stds []*float64, areas []float64) float64 {
	var num, den float64
	for i, a := range areas {
		sd := Finite(stds[i])
		num += sd * sd * a
		den += a
	}
	if den == 0 {
		return 0
	}
	return FiniteValue(num / den)
}

// BuildFitnessTable normalizes the candidates. Low variance and high
// Moran's I both score 1; a flat axis scores 1 for every candidate. The
// threshold is max(FTotal) minus the sample standard deviation of FTotal.
func BuildFitnessTable(records []CandidateScale) FitnessTable {
	if len(records) == 0 {
		return FitnessTable{}
	}
	vs := make([]float64, len(records))
	is := make([]float64, len(records))
	for i, r := range records {
		vs[i] = r.WeightedVariance
		is[i] = r.MoransI
	}
	vmin, vmax := floats.Min(vs), floats.Max(vs)
	imin, imax := floats.Min(is), floats.Max(is)

	rows := make([]FitnessRow, len(records))
	totals := make([]float64, len(records))
	for i, r := range records {
		fv, fi := 1.0, 1.0
		if vmax != vmin {
			fv = (vmax - r.WeightedVariance) / (vmax - vmin)
		}
		if imax != imin {
			fi = (r.MoransI - imin) / (imax - imin)
		}
		rows[i] = FitnessRow{CandidateScale: r, FV: fv, FI: fi, FTotal: fv + fi}
		totals[i] = fv + fi
	}

	sd := 0.0
	if len(totals) > 1 {
		sd = FiniteValue(stat.StdDev(totals, nil))
	}
	return FitnessTable{
		Rows:      rows,
		StdDev:    sd,
		Threshold: floats.Max(totals) - sd,
	}
}

// PlateauScale returns the smallest scale whose FTotal exceeds the threshold.
// When every FTotal is equal the threshold is met with equality, so the first
// candidate is chosen.
func PlateauScale(table FitnessTable) (int, error) {
	for _, r := range table.Rows {
		if r.FTotal > table.Threshold || (table.StdDev == 0 && r.FTotal >= table.Threshold) {
			return r.Scale, nil
		}
	}
	return 0, ErrNoPlateauFound
}

func maxFitnessScale(table FitnessTable) int {
	best := table.Rows[0]
	for _, r := range table.Rows[1:] {
		if r.FTotal > best.FTotal {
			best = r
		}
	}
	return best.Scale
}

// RemoveIntermediate deletes the per-candidate files of a selection
func RemoveIntermediate(files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[POF] could not remove %s: %v", f, err)
		}
	}
}
