package slide

import (
	"log"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/paulmach/orb"
)

// TrainingRecord is one labeled segment of the training table
type TrainingRecord struct {
	ID         int
	Geometry   orb.MultiPolygon
	Predictors map[string]float64
	Landslide  int     // 1 positive, 0 negative
	Overlap    float64 // largest overlap percentage with any manual polygon
}

type manualPolygon struct {
	geom.Polygon
	id int
}

// OverlapPercent returns area(segment ∩ manual) / area(segment) * 100.
// Zero-area segments give 0.
func OverlapPercent(segment, manual orb.MultiPolygon) float64 {
	pct, _ := overlapPercent(toGeomPolygon(segment), polygonArea(segment), toGeomPolygon(manual))
	return pct
}

// overlapPercent also reports whether the shapes share any area
func overlapPercent(seg geom.Polygon, segArea float64, manual geom.Polygon) (float64, bool) {
	if segArea <= 0 || len(seg) == 0 || len(manual) == 0 {
		return 0, false
	}
	isect := manual.Intersection(seg)
	if isect == nil {
		return 0, false
	}
	a := isect.Area()
	if a <= 0 {
		return 0, false
	}
	return FiniteValue(a / segArea * 100), true
}

// BuildTrainingSet labels every segment against the manually delineated
// landslide polygons. A segment is positive when its overlap with at least
// one manual polygon reaches threshold percent (inclusive) and negative
// otherwise, including segments that share no area with any manual polygon.
// A threshold of 0 therefore means any shared area. The result holds exactly
// one record per segment, sorted by ID, with only the
// predictor properties kept.
func BuildTrainingSet(segments, manual []*Feature, threshold float64) []TrainingRecord {
	tree := rtree.NewTree(25, 50)
	for _, m := range manual {
		gp := toGeomPolygon(m.Geometry)
		if len(gp) == 0 {
			continue
		}
		tree.Insert(&manualPolygon{Polygon: gp, id: m.ID})
	}

	records := make([]TrainingRecord, 0, len(segments))
	for _, s := range segments {
		rec := TrainingRecord{
			ID:         s.ID,
			Geometry:   s.Geometry,
			Predictors: make(map[string]float64, len(PredictorNames)),
		}
		for _, name := range PredictorNames {
			if _, ok := s.Properties[name]; ok {
				rec.Predictors[name] = FiniteValue(s.Float(name))
			}
		}

		gs := toGeomPolygon(s.Geometry)
		area := polygonArea(s.Geometry)
		if len(gs) > 0 && area > 0 {
			for _, item := range tree.SearchIntersect(gs.Bounds()) {
				m := item.(*manualPolygon)
				pct, hit := overlapPercent(gs, area, m.Polygon)
				if !hit {
					continue
				}
				if pct > rec.Overlap {
					rec.Overlap = pct
				}
				if pct >= threshold {
					rec.Landslide = 1
				}
			}
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	pos, neg := TrainingSummary(records)
	if pos == 0 {
		log.Printf("[TRAIN] no positive samples: no segment overlaps the manual layer by %.0f%% or more", threshold)
	}
	log.Printf("[TRAIN] %d segments: %d positive, %d negative", len(records), pos, neg)
	return records
}

// TrainingSummary counts positive and negative records
func TrainingSummary(records []TrainingRecord) (positives, negatives int) {
	for _, r := range records {
		if r.Landslide == 1 {
			positives++
		} else {
			negatives++
		}
	}
	return positives, negatives
}

// TrainingMatrix returns the predictor columns in the given order and the labels
func TrainingMatrix(records []TrainingRecord, predictors []string) ([][]float64, []int) {
	x := make([][]float64, len(records))
	y := make([]int, len(records))
	for i, r := range records {
		row := make([]float64, len(predictors))
		for j, p := range predictors {
			row[j] = r.Predictors[p]
		}
		x[i] = row
		y[i] = r.Landslide
	}
	return x, y
}
