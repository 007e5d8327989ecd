package slide

import (
	"fmt"
	"log"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Statistic selects the per-polygon reduction
type Statistic int

const (
	StatMean Statistic = iota
	StatStd
)

func (s Statistic) String() string {
	switch s {
	case StatMean:
		return "mean"
	case StatStd:
		return "std"
	}
	return fmt.Sprintf("Statistic(%d)", int(s))
}

// ParseStatistic converts "mean" or "std" to a Statistic
func ParseStatistic(name string) (Statistic, error) {
	switch name {
	case "mean":
		return StatMean, nil
	case "std":
		return StatStd, nil
	}
	return 0, fmt.Errorf("unknown statistic %q", name)
}

// ZonalStatistic reduces the first band of r over the cells whose centers lie
// inside poly. It returns nil when no valid cell is covered: the polygon is
// outside the raster or covers only no-data.
func ZonalStatistic(poly orb.MultiPolygon, r *Raster, s Statistic) (*float64, error) {
	if s != StatMean && s != StatStd {
		return nil, fmt.Errorf("zonal statistic: unknown statistic %v", s)
	}
	if r == nil || len(r.Bands) == 0 || len(poly) == 0 {
		return nil, nil
	}
	x0, y0, x1, y1, ok := r.Window(poly.Bound())
	if !ok {
		return nil, nil
	}

	band := r.Bands[0]
	var vals []float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			v := band[y*r.Width+x]
			if r.IsNoData(v) {
				continue
			}
			if !planar.MultiPolygonContains(poly, r.CellCenter(x, y)) {
				continue
			}
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil, nil
	}

	var out float64
	switch s {
	case StatMean:
		out = stat.Mean(vals, nil)
	case StatStd:
		_, out = stat.PopMeanStdDev(vals, nil)
	}
	return &out, nil
}

// Aggregate computes a zonal statistic for every feature in parallel.
// Features are split into contiguous chunks of ceil(n/workers); each chunk
// is handled by one goroutine that writes its own result slot, so the
// output order equals the input order whatever the scheduling.
// workers <= 0 uses runtime.NumCPU().
func Aggregate(features []*Feature, r *Raster, s Statistic, workers int) ([]*float64, error) {
	if s != StatMean && s != StatStd {
		return nil, fmt.Errorf("aggregate: unknown statistic %v", s)
	}
	n := len(features)
	if n == 0 {
		return []*float64{}, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	chunk := (n + workers - 1) / workers
	nchunks := (n + chunk - 1) / chunk

	slots := make([][]*float64, nchunks)
	var g errgroup.Group
	for c := 0; c < nchunks; c++ {
		start := c * chunk
		end := min(start+chunk, n)
		g.Go(func() error {
			part := make([]*float64, 0, end-start)
			for _, f := range features[start:end] {
				v, err := ZonalStatistic(f.Geometry, r, s)
				if err != nil {
					return fmt.Errorf("feature %d: %w", f.ID, err)
				}
				part = append(part, v)
			}
			slots[c] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*float64, 0, n)
	for _, part := range slots {
		out = append(out, part...)
	}
	return out, nil
}

// AggregateInto runs Aggregate and stores the substituted (finite) values in
// each feature's Properties under property. It returns how many features
// had a null statistic.
func AggregateInto(features []*Feature, r *Raster, s Statistic, workers int, property string) (int, error) {
	vals, err := Aggregate(features, r, s, workers)
	if err != nil {
		return 0, err
	}
	nulls := 0
	for i, f := range features {
		if vals[i] == nil {
			nulls++
		}
		f.Properties[property] = Finite(vals[i])
	}
	if nulls > 0 {
		log.Printf("[ZONAL] %s %s: %d of %d polygons had no valid cells", property, s, nulls, len(features))
	}
	return nulls, nil
}
