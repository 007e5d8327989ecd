package slide

import (
	"github.com/paulmach/orb"
)

// ---------------------------------------------------------------------------
// shared fixtures
// ---------------------------------------------------------------------------

// northUp is a 1x1 map-unit cell transform with the raster's top edge at y=h
func northUp(h int) GeoTransform {
	return GeoTransform{0, 1, 0, float64(h), 0, -1}
}

// gridRaster builds a single-band raster from rows listed top to bottom
func gridRaster(rows [][]float64) *Raster {
	h := len(rows)
	w := len(rows[0])
	r := NewRaster(w, h, 1, northUp(h), DefaultNoData)
	for y, row := range rows {
		for x, v := range row {
			r.Set(0, x, y, v)
		}
	}
	return r
}

// labelGrid builds a label grid from rows listed top to bottom
func labelGrid(rows [][]int32) *LabelGrid {
	h := len(rows)
	w := len(rows[0])
	g := NewLabelGrid(w, h, northUp(h))
	for y, row := range rows {
		copy(g.Labels[y*w:(y+1)*w], row)
	}
	return g
}

// rect returns an axis-aligned rectangle as a multipolygon
func rect(minX, minY, maxX, maxY float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}}
}

func floatPtr(v float64) *float64 { return &v }
