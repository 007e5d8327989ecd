package slide

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentFeature(id int, geom [4]float64, bright float64) *Feature {
	f := NewFeature(id, rect(geom[0], geom[1], geom[2], geom[3]))
	f.Properties[PropMeanBright] = bright
	f.Properties[PropMeanNDVI] = bright / 100
	f.Properties[PropStd] = 1.5
	f.Properties[PropDN] = id + 1
	return f
}

func TestOverlapPercent(t *testing.T) {
	seg := rect(0, 0, 2, 1)
	assert.InDelta(t, 50.0, OverlapPercent(seg, rect(1, 0, 3, 1)), 1e-9)
	assert.InDelta(t, 100.0, OverlapPercent(seg, rect(-1, -1, 3, 2)), 1e-9)
	assert.Equal(t, 0.0, OverlapPercent(seg, rect(5, 5, 6, 6)))
	assert.Equal(t, 0.0, OverlapPercent(nil, seg), "empty segment")
	assert.Equal(t, 0.0, OverlapPercent(seg, nil), "empty manual polygon")
}

func TestBuildTrainingSet_Labels(t *testing.T) {
	// segment areas 10, 20 and 30
	segments := []*Feature{
		segmentFeature(2, [4]float64{40, 0, 70, 1}, 30), // inside the second manual polygon
		segmentFeature(0, [4]float64{0, 0, 10, 1}, 10),  // no overlap
		segmentFeature(1, [4]float64{10, 0, 30, 1}, 20), // half covered
	}
	manual := []*Feature{
		NewFeature(0, rect(20, 0, 30, 1)),
		NewFeature(1, rect(35, -1, 75, 2)),
	}

	records := BuildTrainingSet(segments, manual, 50)
	require.Len(t, records, 3)

	ids := []int{records[0].ID, records[1].ID, records[2].ID}
	assert.Equal(t, []int{0, 1, 2}, ids, "sorted by segment ID")
	labels := []int{records[0].Landslide, records[1].Landslide, records[2].Landslide}
	assert.Equal(t, []int{0, 1, 1}, labels, "threshold is inclusive")

	assert.Equal(t, 0.0, records[0].Overlap)
	assert.InDelta(t, 50.0, records[1].Overlap, 1e-9)
	assert.InDelta(t, 100.0, records[2].Overlap, 1e-9)

	// only predictors survive
	assert.Equal(t, map[string]float64{PropMeanBright: 20, PropMeanNDVI: 0.2}, records[1].Predictors)
	assert.Equal(t, segments[2].Geometry, records[1].Geometry)

	pos, neg := TrainingSummary(records)
	assert.Equal(t, 2, pos)
	assert.Equal(t, 1, neg)
}

func TestBuildTrainingSet_ThresholdJustAbove(t *testing.T) {
	segments := []*Feature{segmentFeature(0, [4]float64{2, 0, 4, 1}, 20)}
	records := BuildTrainingSet(segments, []*Feature{NewFeature(0, rect(3, 0, 5, 1))}, 50.01)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Landslide)
}

func TestBuildTrainingSet_ZeroThresholdNeedsSharedArea(t *testing.T) {
	// the manual polygon sits in the notch of the L, inside its bounding box
	ell := NewFeature(0, orb.MultiPolygon{{{
		{0, 0}, {4, 0}, {4, 1}, {1, 1}, {1, 4}, {0, 4}, {0, 0},
	}}})
	touching := segmentFeature(1, [4]float64{3.5, 2.5, 5, 3.5}, 20)
	covered := segmentFeature(2, [4]float64{2.5, 2.5, 3, 3}, 30)
	manual := []*Feature{NewFeature(0, rect(2.5, 2.5, 3.5, 3.5))}

	records := BuildTrainingSet([]*Feature{ell, touching, covered}, manual, 0)
	require.Len(t, records, 3)
	assert.Equal(t, 0, records[0].Landslide, "bounding boxes overlap but the shapes do not")
	assert.Equal(t, 0.0, records[0].Overlap)
	assert.Equal(t, 0, records[1].Landslide, "a shared edge has no area")
	assert.Equal(t, 1, records[2].Landslide)
	assert.InDelta(t, 100.0, records[2].Overlap, 1e-9)
}

func TestBuildTrainingSet_OverlapIsPerPolygon(t *testing.T) {
	// two manual polygons each cover 37.5% of the segment
	segments := []*Feature{segmentFeature(0, [4]float64{0, 0, 4, 1}, 20)}
	manual := []*Feature{
		NewFeature(0, rect(0, 0, 1.5, 1)),
		NewFeature(1, rect(2.5, 0, 4, 1)),
	}
	records := BuildTrainingSet(segments, manual, 50)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Landslide)
	assert.InDelta(t, 37.5, records[0].Overlap, 1e-9)
}

func TestBuildTrainingSet_EmptyManualLayer(t *testing.T) {
	segments := []*Feature{
		segmentFeature(0, [4]float64{0, 0, 1, 1}, 1),
		segmentFeature(1, [4]float64{1, 0, 2, 1}, 2),
	}
	records := BuildTrainingSet(segments, nil, 50)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, 0, r.Landslide)
	}
	assert.Empty(t, BuildTrainingSet(nil, nil, 50))
}

func TestBuildTrainingSet_NonFinitePredictors(t *testing.T) {
	f := segmentFeature(0, [4]float64{0, 0, 1, 1}, 0)
	f.Properties[PropMeanSlope] = math.NaN()
	records := BuildTrainingSet([]*Feature{f}, nil, 50)
	require.Len(t, records, 1)
	assert.Equal(t, 0.0, records[0].Predictors[PropMeanSlope])
}

func TestTrainingMatrix(t *testing.T) {
	records := []TrainingRecord{
		{ID: 0, Predictors: map[string]float64{PropMeanBright: 1, PropMeanNDVI: 0.1}, Landslide: 0},
		{ID: 1, Predictors: map[string]float64{PropMeanBright: 2}, Landslide: 1},
	}
	x, y := TrainingMatrix(records, []string{PropMeanNDVI, PropMeanBright})
	assert.Equal(t, [][]float64{{0.1, 1}, {0, 2}}, x)
	assert.Equal(t, []int{0, 1}, y)
}
