package slide

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// PropLandslide is the label column of the training table and detection output
const PropLandslide = "landslide"

// ReadFeatures loads polygon features from GeoJSON (.geojson, .json) or an
// ESRI shapefile (.shp). Non-polygonal geometries are skipped.
func ReadFeatures(path string) ([]*Feature, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return readFeaturesGeoJSON(path)
	case ".shp":
		return readFeaturesShapefile(path)
	}
	return nil, fmt.Errorf("reading features %s: %w", path, ErrUnsupportedFormat)
}

func readFeaturesGeoJSON(path string) ([]*Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading GeoJSON: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing GeoJSON %s: %w", path, err)
	}

	features := make([]*Feature, 0, len(fc.Features))
	for i, gf := range fc.Features {
		var mp orb.MultiPolygon
		switch g := gf.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			continue
		}
		f := NewFeature(featureID(gf.ID, i), mp)
		for k, v := range gf.Properties {
			f.Properties[k] = v
		}
		features = append(features, f)
	}
	return features, nil
}

func featureID(id interface{}, fallback int) int {
	switch v := id.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func readFeaturesShapefile(path string) ([]*Feature, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile: %w", err)
	}
	defer dec.Close()

	var features []*Feature
	for i := 0; ; i++ {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		pg, ok := g.(geom.Polygonal)
		if !ok {
			continue
		}
		var flat geom.Polygon
		for _, p := range pg.Polygons() {
			flat = append(flat, p...)
		}
		mp := fromGeomPolygon(flat)
		if len(mp) == 0 {
			continue
		}
		features = append(features, NewFeature(i, mp))
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decoding shapefile %s: %w", path, err)
	}
	return features, nil
}

// FeatureCollection converts features to an orb GeoJSON collection
func FeatureCollection(features []*Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(simplifyMulti(f.Geometry))
		gf.ID = f.ID
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	return fc
}

// simplifyMulti returns a single polygon when the multipolygon has one member
func simplifyMulti(mp orb.MultiPolygon) orb.Geometry {
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// WriteFeaturesGeoJSON writes features as a GeoJSON FeatureCollection
func WriteFeaturesGeoJSON(path string, features []*Feature) error {
	return writeCollection(path, FeatureCollection(features))
}

func writeCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling GeoJSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing GeoJSON: %w", err)
	}
	return nil
}

// TrainingCollection converts training records to GeoJSON with the predictors
// and the landslide label as properties
func TrainingCollection(records []TrainingRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		gf := geojson.NewFeature(simplifyMulti(r.Geometry))
		gf.ID = r.ID
		for k, v := range r.Predictors {
			gf.Properties[k] = v
		}
		gf.Properties[PropLandslide] = r.Landslide
		fc.Append(gf)
	}
	return fc
}

// WriteTrainingGeoJSON writes the training table as GeoJSON
func WriteTrainingGeoJSON(path string, records []TrainingRecord) error {
	return writeCollection(path, TrainingCollection(records))
}

// ReadTrainingGeoJSON loads a training table written by WriteTrainingGeoJSON
func ReadTrainingGeoJSON(path string) ([]TrainingRecord, error) {
	features, err := readFeaturesGeoJSON(path)
	if err != nil {
		return nil, err
	}
	records := make([]TrainingRecord, 0, len(features))
	for _, f := range features {
		if _, ok := f.Properties[PropLandslide]; !ok {
			return nil, fmt.Errorf("training feature %d has no %s property", f.ID, PropLandslide)
		}
		rec := TrainingRecord{
			ID:         f.ID,
			Geometry:   f.Geometry,
			Predictors: make(map[string]float64),
			Landslide:  int(f.Float(PropLandslide)),
		}
		for _, name := range PredictorNames {
			if _, ok := f.Properties[name]; ok {
				rec.Predictors[name] = FiniteValue(f.Float(name))
			}
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// trainingShape is the attribute layout of the training shapefile.
// dBase limits field names to 10 characters.
type trainingShape struct {
	geom.Polygon
	FID        int
	Meanbright float64
	Meanndvi   float64
	Meanslope  float64
	Glcmhomog  float64 `shp:"glcmhomog"`
	Glcmmean   float64 `shp:"glcmmean"`
	Landslide  int
}

// WriteTrainingShapefile writes the training table as an ESRI shapefile
func WriteTrainingShapefile(path string, records []TrainingRecord) error {
	enc, err := shp.NewEncoder(path, trainingShape{})
	if err != nil {
		return fmt.Errorf("creating shapefile: %w", err)
	}
	defer enc.Close()
	for _, r := range records {
		rec := trainingShape{
			Polygon:    shapefileRings(r.Geometry),
			FID:        r.ID,
			Meanbright: r.Predictors[PropMeanBright],
			Meanndvi:   r.Predictors[PropMeanNDVI],
			Meanslope:  r.Predictors[PropMeanSlope],
			Glcmhomog:  r.Predictors[PropGLCMHomog],
			Glcmmean:   r.Predictors[PropGLCMMean],
			Landslide:  r.Landslide,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding training feature %d: %w", r.ID, err)
		}
	}
	return nil
}

// detectionShape is the attribute layout of the detection shapefile
type detectionShape struct {
	geom.Polygon
	FID       int
	Landslide int
	Area      float64
}

// WriteDetectionShapefile writes detected landslide polygons
func WriteDetectionShapefile(path string, features []*Feature) error {
	enc, err := shp.NewEncoder(path, detectionShape{})
	if err != nil {
		return fmt.Errorf("creating shapefile: %w", err)
	}
	defer enc.Close()
	for _, f := range features {
		rec := detectionShape{
			Polygon:   shapefileRings(f.Geometry),
			FID:       f.ID,
			Landslide: 1,
			Area:      polygonArea(f.Geometry),
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding detection feature %d: %w", f.ID, err)
		}
	}
	return nil
}

// shapefileRings orients outer rings clockwise and holes counter-clockwise,
// the shapefile convention, without touching the source geometry
func shapefileRings(mp orb.MultiPolygon) geom.Polygon {
	oriented := make(orb.MultiPolygon, len(mp))
	for i, poly := range mp {
		p := make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := ring.Clone()
			want := orb.CCW
			if j == 0 {
				want = orb.CW
			}
			if r.Orientation() != want {
				r.Reverse()
			}
			p[j] = r
		}
		oriented[i] = p
	}
	return toGeomPolygon(oriented)
}
