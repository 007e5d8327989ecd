package slide

import (
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// toGeomPolygon flattens a multipolygon into a ctessum polygon. Rings are
// interpreted with the even-odd rule by the clipper, so outer rings and
// holes keep their meaning. Closing points are dropped.
func toGeomPolygon(mp orb.MultiPolygon) geom.Polygon {
	var out geom.Polygon
	for _, poly := range mp {
		for _, ring := range poly {
			n := len(ring)
			if n > 1 && ring[0] == ring[n-1] {
				n--
			}
			if n < 3 {
				continue
			}
			path := make(geom.Path, n)
			for i := 0; i < n; i++ {
				path[i] = geom.Point{X: ring[i][0], Y: ring[i][1]}
			}
			out = append(out, path)
		}
	}
	return out
}

// fromGeomPolygon rebuilds an orb multipolygon from a flat ring list.
// Rings nested inside an even number of other rings are outers; the rest are
// holes of the smallest outer that contains them. Outers are made
// counter-clockwise and holes clockwise.
func fromGeomPolygon(p geom.Polygon) orb.MultiPolygon {
	type ringInfo struct {
		ring  orb.Ring
		area  float64
		depth int
	}
	rings := make([]ringInfo, 0, len(p))
	for _, path := range p {
		if len(path) < 3 {
			continue
		}
		r := make(orb.Ring, 0, len(path)+1)
		for _, pt := range path {
			r = append(r, orb.Point{pt.X, pt.Y})
		}
		if r[0] != r[len(r)-1] {
			r = append(r, r[0])
		}
		rings = append(rings, ringInfo{ring: r, area: math.Abs(planar.Area(r))})
	}
	for i := range rings {
		probe := ringProbe(rings[i].ring)
		for j := range rings {
			if i != j && rings[j].area > rings[i].area && planar.RingContains(rings[j].ring, probe) {
				rings[i].depth++
			}
		}
	}

	sort.SliceStable(rings, func(a, b int) bool { return rings[a].area > rings[b].area })

	var mp orb.MultiPolygon
	var outerIdx []int
	for _, ri := range rings {
		if ri.depth%2 != 0 {
			continue
		}
		if ri.ring.Orientation() != orb.CCW {
			ri.ring.Reverse()
		}
		mp = append(mp, orb.Polygon{ri.ring})
		outerIdx = append(outerIdx, len(mp)-1)
	}
	for _, ri := range rings {
		if ri.depth%2 == 0 {
			continue
		}
		probe := ringProbe(ri.ring)
		owner := -1
		bestArea := math.Inf(1)
		for _, k := range outerIdx {
			shell := mp[k][0]
			a := math.Abs(planar.Area(shell))
			if a > ri.area && a < bestArea && planar.RingContains(shell, probe) {
				owner, bestArea = k, a
			}
		}
		if owner < 0 {
			continue
		}
		if ri.ring.Orientation() != orb.CW {
			ri.ring.Reverse()
		}
		mp[owner] = append(mp[owner], ri.ring)
	}
	return mp
}

// ringProbe returns a point strictly inside r near its first edge, falling
// back to the first vertex
func ringProbe(r orb.Ring) orb.Point {
	if len(r) < 3 {
		if len(r) > 0 {
			return r[0]
		}
		return orb.Point{}
	}
	a, b := r[0], r[1]
	mid := orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return a
	}
	eps := l * 1e-6
	// the interior lies on one side of the first edge; try both
	for _, s := range []float64{1, -1} {
		p := orb.Point{mid[0] - s*dy/l*eps, mid[1] + s*dx/l*eps}
		if planar.RingContains(r, p) {
			return p
		}
	}
	return a
}

// polygonArea is the planar area of a multipolygon with holes subtracted
func polygonArea(mp orb.MultiPolygon) float64 {
	return math.Abs(planar.Area(mp))
}
