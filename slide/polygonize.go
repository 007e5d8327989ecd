package slide

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// NoLabel marks cells that belong to no segment
const NoLabel int32 = -1

// LabelGrid is a segmentation result: one integer label per cell.
// Negative labels are no-data.
type LabelGrid struct {
	Width      int
	Height     int
	Transform  GeoTransform
	Projection string
	Labels     []int32
}

// NewLabelGrid allocates a grid with every cell set to NoLabel
func NewLabelGrid(width, height int, transform GeoTransform) *LabelGrid {
	labels := make([]int32, width*height)
	for i := range labels {
		labels[i] = NoLabel
	}
	return &LabelGrid{Width: width, Height: height, Transform: transform, Labels: labels}
}

// At returns the label of cell (x, y), or NoLabel outside the grid
func (g *LabelGrid) At(x, y int) int32 {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return NoLabel
	}
	return g.Labels[y*g.Width+x]
}

// LabelGridFromRaster converts band 0 of r to labels. No-data cells become NoLabel.
func LabelGridFromRaster(r *Raster) *LabelGrid {
	g := NewLabelGrid(r.Width, r.Height, r.Transform)
	g.Projection = r.Projection
	if len(r.Bands) == 0 {
		return g
	}
	for i, v := range r.Bands[0] {
		if r.IsNoData(v) || v < 0 {
			continue
		}
		g.Labels[i] = int32(math.Round(v))
	}
	return g
}

// Raster returns the labels as a single-band raster with no-data for NoLabel
func (g *LabelGrid) Raster() *Raster {
	r := NewRaster(g.Width, g.Height, 1, g.Transform, DefaultNoData)
	r.Projection = g.Projection
	for i, l := range g.Labels {
		if l >= 0 {
			r.Bands[0][i] = float64(l)
		}
	}
	return r
}

// Components labels the 4-connected regions of equal label. It returns the
// component index of every cell (-1 for no-data) and the number of
// components; components are numbered in scan order of their first cell.
func (g *LabelGrid) Components() ([]int, int) {
	comp := make([]int, len(g.Labels))
	for i := range comp {
		comp[i] = -1
	}
	n := 0
	stack := make([]int, 0, 64)
	for start, l := range g.Labels {
		if l < 0 || comp[start] >= 0 {
			continue
		}
		comp[start] = n
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%g.Width, i/g.Width
			for _, nb := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if nb[0] < 0 || nb[1] < 0 || nb[0] >= g.Width || nb[1] >= g.Height {
					continue
				}
				j := nb[1]*g.Width + nb[0]
				if comp[j] < 0 && g.Labels[j] == l {
					comp[j] = n
					stack = append(stack, j)
				}
			}
		}
		n++
	}
	return comp, n
}

// edge directions in grid space (y grows downward), clockwise
const (
	dirE = iota
	dirS
	dirW
	dirN
)

var dirStep = [4][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

// Polygonize converts every 4-connected region of equal label into a polygon
// feature. Boundaries follow cell edges; holes are inner rings. Vertices are
// kept where the boundary changes direction and where three or more regions
// meet, so adjacent polygons share the vertices at their common corners.
// Feature IDs follow the scan order of each region's first cell and the label
// is stored in the DN property.
func Polygonize(g *LabelGrid) []*Feature {
	if g == nil || g.Width == 0 || g.Height == 0 {
		return nil
	}
	comp, n := g.Components()
	if n == 0 {
		return nil
	}

	w, h := g.Width, g.Height
	cellComp := func(x, y int) int {
		if x < 0 || y < 0 || x >= w || y >= h {
			return -1
		}
		return comp[y*w+x]
	}

	// cell owning the outgoing edge of vertex (vx, vy) in direction d, and
	// the cell on the other side of that edge
	edgeCells := func(vx, vy, d int) (inX, inY, outX, outY int) {
		switch d {
		case dirE:
			return vx, vy, vx, vy - 1
		case dirS:
			return vx - 1, vy, vx, vy
		case dirW:
			return vx - 1, vy - 1, vx - 1, vy
		default:
			return vx, vy - 1, vx - 1, vy - 1
		}
	}
	hasEdge := func(c, vx, vy, d int) bool {
		ix, iy, ox, oy := edgeCells(vx, vy, d)
		return cellComp(ix, iy) == c && cellComp(ox, oy) != c
	}
	junction := func(vx, vy int) bool {
		seen := [4]int{}
		k := 0
		for _, c := range [4]int{cellComp(vx-1, vy-1), cellComp(vx, vy-1), cellComp(vx-1, vy), cellComp(vx, vy)} {
			dup := false
			for _, s := range seen[:k] {
				if s == c {
					dup = true
					break
				}
			}
			if !dup {
				seen[k] = c
				k++
			}
		}
		return k >= 3
	}

	// used edges, one bit per direction, indexed by the owning cell
	used := make([]uint8, len(comp))
	markUsed := func(vx, vy, d int) bool {
		ix, iy, _, _ := edgeCells(vx, vy, d)
		bit := uint8(1) << d
		i := iy*w + ix
		if used[i]&bit != 0 {
			return false
		}
		used[i] |= bit
		return true
	}

	rings := make([][]orb.Ring, n)
	labels := make([]int32, n)

	// starting vertex of each side of cell (x, y), keyed by direction
	sideStart := [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := comp[y*w+x]
			if c < 0 {
				continue
			}
			labels[c] = g.Labels[y*w+x]
			for d := 0; d < 4; d++ {
				vx, vy := x+sideStart[d][0], y+sideStart[d][1]
				if !hasEdge(c, vx, vy, d) {
					continue
				}
				if !markUsed(vx, vy, d) {
					continue
				}
				ring := traceRing(c, vx, vy, d, hasEdge, markUsed, junction)
				rings[c] = append(rings[c], toMapRing(ring, g.Transform))
			}
		}
	}

	features := make([]*Feature, 0, n)
	for c := 0; c < n; c++ {
		f := NewFeature(c, orb.MultiPolygon{assemblePolygon(rings[c])})
		f.Properties[PropDN] = int(labels[c])
		features = append(features, f)
	}
	return features
}

// traceRing walks a closed boundary of component c starting with the edge
// leaving (sx, sy) in direction sd, which is already marked used. At each
// vertex it turns right if it can, else goes straight, else turns left,
// which keeps diagonally touching cells apart.
func traceRing(c, sx, sy, sd int,
	hasEdge func(c, vx, vy, d int) bool,
	markUsed func(vx, vy, d int) bool,
	junction func(vx, vy int) bool,
) [][2]int {
	type step struct {
		x, y, d int
	}
	var steps []step
	x, y, d := sx, sy, sd
	for {
		steps = append(steps, step{x, y, d})
		x += dirStep[d][0]
		y += dirStep[d][1]
		next := -1
		for _, nd := range [3]int{(d + 1) % 4, d, (d + 3) % 4} {
			if hasEdge(c, x, y, nd) {
				next = nd
				break
			}
		}
		if next < 0 || (x == sx && y == sy && next == sd) {
			break
		}
		markUsed(x, y, next)
		d = next
	}

	var out [][2]int
	for i, s := range steps {
		prev := steps[(i+len(steps)-1)%len(steps)].d
		if prev != s.d || junction(s.x, s.y) {
			out = append(out, [2]int{s.x, s.y})
		}
	}
	return out
}

func toMapRing(vertices [][2]int, t GeoTransform) orb.Ring {
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, t.Apply(float64(v[0]), float64(v[1])))
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return ring
}

// assemblePolygon makes the ring with the largest area the counter-clockwise
// outer ring and orients the others clockwise as holes.
func assemblePolygon(rings []orb.Ring) orb.Polygon {
	if len(rings) == 0 {
		return nil
	}
	outer := 0
	best := -1.0
	for i, r := range rings {
		if a := math.Abs(planar.Area(r)); a > best {
			best = a
			outer = i
		}
	}
	poly := make(orb.Polygon, 0, len(rings))
	shell := rings[outer]
	if shell.Orientation() != orb.CCW {
		shell.Reverse()
	}
	poly = append(poly, shell)
	for i, r := range rings {
		if i == outer {
			continue
		}
		if r.Orientation() != orb.CW {
			r.Reverse()
		}
		poly = append(poly, r)
	}
	return poly
}
