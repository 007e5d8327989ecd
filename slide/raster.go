package slide

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeoTransform maps pixel/line coordinates to georeferenced coordinates,
// in GDAL order: originX, pixelWidth, rotX, originY, rotY, pixelHeight.
// Rotation terms are carried but only north-up rasters (zero rotation) are
// supported by the cropping and zonal code.
type GeoTransform [6]float64

// IdentityTransform is the transform of a raster without georeference
var IdentityTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// Apply converts a pixel corner position (col, row) to map coordinates
func (g GeoTransform) Apply(col, row float64) orb.Point {
	return orb.Point{
		g[0] + col*g[1] + row*g[2],
		g[3] + col*g[4] + row*g[5],
	}
}

// Invert converts map coordinates to a fractional pixel position
func (g GeoTransform) Invert(p orb.Point) (col, row float64) {
	det := g[1]*g[5] - g[2]*g[4]
	if det == 0 {
		return math.NaN(), math.NaN()
	}
	dx := p[0] - g[0]
	dy := p[1] - g[3]
	col = (dx*g[5] - dy*g[2]) / det
	row = (dy*g[1] - dx*g[4]) / det
	return col, row
}

// Raster is a georeferenced grid of one or more bands stored row-major.
// Rasters are read-only once loaded.
type Raster struct {
	Width      int
	Height     int
	Transform  GeoTransform
	Projection string
	NoData     float64
	Bands      [][]float64
}

// NewRaster allocates a raster filled with the no-data value
func NewRaster(width, height, bands int, transform GeoTransform, noData float64) *Raster {
	r := &Raster{
		Width:     width,
		Height:    height,
		Transform: transform,
		NoData:    noData,
		Bands:     make([][]float64, bands),
	}
	for b := range r.Bands {
		data := make([]float64, width*height)
		for i := range data {
			data[i] = noData
		}
		r.Bands[b] = data
	}
	return r
}

// At returns the value of band b at column x, row y
func (r *Raster) At(b, x, y int) float64 {
	return r.Bands[b][y*r.Width+x]
}

// Set assigns the value of band b at column x, row y
func (r *Raster) Set(b, x, y int, v float64) {
	r.Bands[b][y*r.Width+x] = v
}

// IsNoData reports whether v is the no-data sentinel or NaN
func (r *Raster) IsNoData(v float64) bool {
	return v == r.NoData || math.IsNaN(v)
}

// Bound returns the map-space bounding box of the raster
func (r *Raster) Bound() orb.Bound {
	b := orb.Bound{Min: r.Transform.Apply(0, 0), Max: r.Transform.Apply(0, 0)}
	for _, c := range [][2]float64{{float64(r.Width), 0}, {0, float64(r.Height)}, {float64(r.Width), float64(r.Height)}} {
		b = b.Extend(r.Transform.Apply(c[0], c[1]))
	}
	return b
}

// CellCenter returns the map coordinate of the center of cell (x, y)
func (r *Raster) CellCenter(x, y int) orb.Point {
	return r.Transform.Apply(float64(x)+0.5, float64(y)+0.5)
}

// Band returns a single-band raster sharing the cell storage of band b (0-based)
func (r *Raster) Band(b int) (*Raster, error) {
	if b < 0 || b >= len(r.Bands) {
		return nil, fmt.Errorf("band %d out of range (raster has %d bands)", b+1, len(r.Bands))
	}
	return &Raster{
		Width:      r.Width,
		Height:     r.Height,
		Transform:  r.Transform,
		Projection: r.Projection,
		NoData:     r.NoData,
		Bands:      [][]float64{r.Bands[b]},
	}, nil
}

// Window returns the pixel window [x0,x1) x [y0,y1) covering bound b,
// clipped to the raster. ok is false when the bound misses the raster.
func (r *Raster) Window(b orb.Bound) (x0, y0, x1, y1 int, ok bool) {
	c0, r0 := r.Transform.Invert(b.Min)
	c1, r1 := r.Transform.Invert(b.Max)
	if math.IsNaN(c0) || math.IsNaN(c1) {
		return 0, 0, 0, 0, false
	}
	minC, maxC := math.Min(c0, c1), math.Max(c0, c1)
	minR, maxR := math.Min(r0, r1), math.Max(r0, r1)

	x0 = clampInt(int(math.Floor(minC)), 0, r.Width)
	x1 = clampInt(int(math.Ceil(maxC)), 0, r.Width)
	y0 = clampInt(int(math.Floor(minR)), 0, r.Height)
	y1 = clampInt(int(math.Ceil(maxR)), 0, r.Height)
	if x0 >= x1 || y0 >= y1 {
		return 0, 0, 0, 0, false
	}
	return x0, y0, x1, y1, true
}

// CropProjWin cuts the raster to a projection window, like
// gdal_translate -projWin ulx uly lrx lry. The window is snapped outward to
// whole cells and clipped to the raster.
func (r *Raster) CropProjWin(e Extent) (*Raster, error) {
	x0, y0, x1, y1, ok := r.Window(e.Bound())
	if !ok {
		return nil, fmt.Errorf("crop window (%g,%g)-(%g,%g) does not overlap the raster: %w",
			e.ULX, e.ULY, e.LRX, e.LRY, ErrEmptyRaster)
	}

	w, h := x1-x0, y1-y0
	origin := r.Transform.Apply(float64(x0), float64(y0))
	t := r.Transform
	t[0], t[3] = origin[0], origin[1]

	out := &Raster{
		Width:      w,
		Height:     h,
		Transform:  t,
		Projection: r.Projection,
		NoData:     r.NoData,
		Bands:      make([][]float64, len(r.Bands)),
	}
	for b, src := range r.Bands {
		dst := make([]float64, w*h)
		for y := 0; y < h; y++ {
			copy(dst[y*w:(y+1)*w], src[(y+y0)*r.Width+x0:(y+y0)*r.Width+x1])
		}
		out.Bands[b] = dst
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
