package slide

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeaturesGeoJSON_RoundTrip(t *testing.T) {
	a := NewFeature(3, rect(0, 0, 2, 1))
	a.Properties[PropMeanBright] = 12.5
	a.Properties[PropDN] = 7
	b := NewFeature(5, append(rect(10, 10, 11, 11), rect(20, 20, 21, 21)...))

	path := filepath.Join(t.TempDir(), "segments.geojson")
	require.NoError(t, WriteFeaturesGeoJSON(path, []*Feature{a, b}))

	got, err := ReadFeatures(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 3, got[0].ID)
	assert.Equal(t, a.Geometry, got[0].Geometry, "single polygons come back as a one-member multipolygon")
	assert.Equal(t, 12.5, got[0].Float(PropMeanBright))
	assert.Equal(t, 7.0, got[0].Float(PropDN))

	assert.Equal(t, 5, got[1].ID)
	assert.Len(t, got[1].Geometry, 2)
}

func TestReadFeatures_GeoJSONVariants(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
	{"type":"Feature","id":"12","properties":{"name":"slide"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
	{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[5,5]}},
	{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[2,2],[3,2],[3,3],[2,2]]]}}
	]}`
	path := filepath.Join(t.TempDir(), "manual.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	got, err := ReadFeatures(path)
	require.NoError(t, err)
	require.Len(t, got, 2, "points are skipped")
	assert.Equal(t, 12, got[0].ID, "numeric string IDs are parsed")
	assert.Equal(t, "slide", got[0].Properties["name"])
	assert.Equal(t, 2, got[1].ID, "missing IDs fall back to the position")
}

func TestReadFeatures_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadFeatures(filepath.Join(dir, "manual.kml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadFeatures(filepath.Join(dir, "missing.geojson"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = ReadFeatures(bad)
	assert.Error(t, err)
}

func trainingFixture() []TrainingRecord {
	return []TrainingRecord{
		{ID: 2, Geometry: rect(2, 0, 4, 1), Predictors: map[string]float64{PropMeanBright: 20, PropMeanNDVI: 0.4}, Landslide: 1},
		{ID: 0, Geometry: rect(0, 0, 2, 1), Predictors: map[string]float64{PropMeanBright: 10, PropMeanNDVI: 0.1}, Landslide: 0},
	}
}

func TestTrainingGeoJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training_scene.geojson")
	require.NoError(t, WriteTrainingGeoJSON(path, trainingFixture()))

	got, err := ReadTrainingGeoJSON(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ID, "sorted by ID")
	assert.Equal(t, 1, got[1].Landslide)
	assert.Equal(t, map[string]float64{PropMeanBright: 20, PropMeanNDVI: 0.4}, got[1].Predictors)
	assert.Equal(t, rect(2, 0, 4, 1), got[1].Geometry)
}

func TestReadTrainingGeoJSON_MissingLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.geojson")
	require.NoError(t, WriteFeaturesGeoJSON(path, []*Feature{NewFeature(0, rect(0, 0, 1, 1))}))
	_, err := ReadTrainingGeoJSON(path)
	assert.ErrorContains(t, err, PropLandslide)
}

func TestTrainingShapefile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training_scene.shp")
	require.NoError(t, WriteTrainingShapefile(path, trainingFixture()))
	for _, ext := range []string{".shx", ".dbf"} {
		assert.FileExists(t, path[:len(path)-4]+ext)
	}

	got, err := ReadFeatures(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 2.0, polygonArea(got[0].Geometry), 1e-9)
	assert.Equal(t, orb.CCW, got[0].Geometry[0][0].Orientation(), "outer rings are counter-clockwise after reading")
	assert.Equal(t, orb.Bound{Min: orb.Point{2, 0}, Max: orb.Point{4, 1}}, got[0].Geometry.Bound())
}

func TestDetectionShapefile(t *testing.T) {
	donut := orb.MultiPolygon{{
		{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}},
		{{1, 1}, {1, 3}, {3, 3}, {3, 1}, {1, 1}},
	}}
	path := filepath.Join(t.TempDir(), "scene.shp")
	require.NoError(t, WriteDetectionShapefile(path, []*Feature{NewFeature(0, donut)}))

	got, err := ReadFeatures(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Geometry, 1)
	assert.Len(t, got[0].Geometry[0], 2, "the hole survives")
	assert.InDelta(t, 12.0, polygonArea(got[0].Geometry), 1e-9)
}

func TestShapefileRings_DoesNotMutate(t *testing.T) {
	mp := rect(0, 0, 1, 1)
	before := mp[0][0].Clone()
	gp := shapefileRings(mp)
	require.Len(t, gp, 1)
	assert.Equal(t, before, mp[0][0])
	// clockwise in the output
	assert.Equal(t, 1.0, gp[0][1].Y-gp[0][0].Y, "first edge goes up from the origin")
}
