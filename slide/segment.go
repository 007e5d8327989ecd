package slide

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// SegmentParams controls one segmentation run
type SegmentParams struct {
	SpatialRadius int     // neighborhood radius in cells
	RangeRadius   float64 // spectral radius; the candidate scale
	MinSize       int     // regions smaller than this many cells are merged
}

// Segmenter partitions an image into labeled regions. Implementations block
// until the label grid is ready; ctx is only used to stop external work when
// the caller is shutting down.
type Segmenter interface {
	Segment(ctx context.Context, img *Raster, p SegmentParams) (*LabelGrid, error)
}

// NewSegmenter builds the engine named in the configuration
func NewSegmenter(cfg SegmenterConfig, workDir string) (Segmenter, error) {
	switch cfg.Engine {
	case "", "regiongrow":
		return &RegionGrowSegmenter{}, nil
	case "otb":
		return &ExecSegmenter{
			Binary:       cfg.OTBBinary,
			MaxRAMHintMB: cfg.MaxRAMHintMB,
			TileSize:     cfg.TileSize,
			WorkDir:      workDir,
		}, nil
	}
	return nil, &ConfigError{Field: "segmenter.engine", Reason: fmt.Sprintf("unknown engine %q", cfg.Engine)}
}

// RegionGrowSegmenter is an in-process segmenter. It smooths the image with a
// range-limited mean filter, grows 4-connected regions of similar smoothed
// value, then merges regions smaller than MinSize into their most similar
// neighbor. A larger RangeRadius yields fewer, larger regions.
type RegionGrowSegmenter struct{}

func (s *RegionGrowSegmenter) Segment(ctx context.Context, img *Raster, p SegmentParams) (*LabelGrid, error) {
	if img == nil || img.Width == 0 || img.Height == 0 || len(img.Bands) == 0 {
		return nil, ErrEmptyRaster
	}
	if p.RangeRadius <= 0 {
		return nil, fmt.Errorf("range radius must be positive, got %g", p.RangeRadius)
	}

	smoothed, valid, err := rangeSmooth(ctx, img, p.SpatialRadius, p.RangeRadius)
	if err != nil {
		return nil, err
	}
	grid := NewLabelGrid(img.Width, img.Height, img.Transform)
	grid.Projection = img.Projection

	stats := growRegions(grid, smoothed, valid, len(img.Bands), p.RangeRadius)
	if p.MinSize > 1 {
		mergeSmallRegions(grid, stats, p.MinSize)
	}
	relabel(grid)
	return grid, nil
}

// rangeSmooth replaces each valid cell by the mean of the valid cells within
// the spatial window whose spectral distance to it is below hr.
func rangeSmooth(ctx context.Context, img *Raster, hs int, hr float64) ([]float64, []bool, error) {
	w, h, nb := img.Width, img.Height, len(img.Bands)
	valid := make([]bool, w*h)
	for i := range valid {
		valid[i] = true
		for b := 0; b < nb; b++ {
			if img.IsNoData(img.Bands[b][i]) {
				valid[i] = false
				break
			}
		}
	}

	out := make([]float64, w*h*nb)
	hr2 := hr * hr
	sum := make([]float64, nb)
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for x := 0; x < w; x++ {
			i := y*w + x
			if !valid[i] {
				continue
			}
			for b := range sum {
				sum[b] = 0
			}
			count := 0
			for yy := max(0, y-hs); yy <= min(h-1, y+hs); yy++ {
				for xx := max(0, x-hs); xx <= min(w-1, x+hs); xx++ {
					j := yy*w + xx
					if !valid[j] {
						continue
					}
					var d2 float64
					for b := 0; b < nb; b++ {
						d := img.Bands[b][j] - img.Bands[b][i]
						d2 += d * d
					}
					if d2 >= hr2 {
						continue
					}
					for b := 0; b < nb; b++ {
						sum[b] += img.Bands[b][j]
					}
					count++
				}
			}
			for b := 0; b < nb; b++ {
				out[i*nb+b] = sum[b] / float64(count)
			}
		}
	}
	return out, valid, nil
}

type regionStat struct {
	size int
	sum  []float64
}

func (r *regionStat) mean(b int) float64 {
	return r.sum[b] / float64(r.size)
}

// growRegions floods 4-connected cells whose smoothed value lies within hr
// of the running region mean. Labels are region indices.
func growRegions(grid *LabelGrid, smoothed []float64, valid []bool, nb int, hr float64) []*regionStat {
	w, h := grid.Width, grid.Height
	hr2 := hr * hr
	var stats []*regionStat
	queue := make([]int, 0, 256)
	for start := range grid.Labels {
		if !valid[start] || grid.Labels[start] != NoLabel {
			continue
		}
		id := int32(len(stats))
		rs := &regionStat{sum: make([]float64, nb)}
		stats = append(stats, rs)

		add := func(i int) {
			grid.Labels[i] = id
			rs.size++
			for b := 0; b < nb; b++ {
				rs.sum[b] += smoothed[i*nb+b]
			}
			queue = append(queue, i)
		}
		queue = queue[:0]
		add(start)
		for q := 0; q < len(queue); q++ {
			i := queue[q]
			x, y := i%w, i/w
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				j := n[1]*w + n[0]
				if !valid[j] || grid.Labels[j] != NoLabel {
					continue
				}
				var d2 float64
				for b := 0; b < nb; b++ {
					d := smoothed[j*nb+b] - rs.mean(b)
					d2 += d * d
				}
				if d2 < hr2 {
					add(j)
				}
			}
		}
	}
	return stats
}

// mergeSmallRegions folds every region below minSize into the adjacent
// region with the closest mean, in label order, until none is left
// or a small region has no neighbor.
func mergeSmallRegions(grid *LabelGrid, stats []*regionStat, minSize int) {
	w, h := grid.Width, grid.Height
	parent := make([]int32, len(stats))
	for i := range parent {
		parent[i] = int32(i)
	}
	find := func(a int32) int32 {
		for parent[a] != a {
			parent[a] = parent[parent[a]]
			a = parent[a]
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		adj := make(map[int32]map[int32]bool)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a := grid.Labels[y*w+x]
				if a < 0 {
					continue
				}
				a = find(a)
				for _, n := range [2][2]int{{x + 1, y}, {x, y + 1}} {
					if n[0] >= w || n[1] >= h {
						continue
					}
					b := grid.Labels[n[1]*w+n[0]]
					if b < 0 {
						continue
					}
					b = find(b)
					if a == b {
						continue
					}
					if adj[a] == nil {
						adj[a] = make(map[int32]bool)
					}
					if adj[b] == nil {
						adj[b] = make(map[int32]bool)
					}
					adj[a][b] = true
					adj[b][a] = true
				}
			}
		}

		for id := range stats {
			r := int32(id)
			if find(r) != r || stats[r].size >= minSize {
				continue
			}
			best := int32(-1)
			bestD := math.Inf(1)
			for n := range adj[r] {
				n = find(n)
				if n == r {
					continue
				}
				var d2 float64
				for b := range stats[r].sum {
					d := stats[r].mean(b) - stats[n].mean(b)
					d2 += d * d
				}
				if d2 < bestD || (d2 == bestD && n < best) {
					best, bestD = n, d2
				}
			}
			if best < 0 {
				continue
			}
			parent[r] = best
			stats[best].size += stats[r].size
			for b := range stats[best].sum {
				stats[best].sum[b] += stats[r].sum[b]
			}
			changed = true
		}

		for i, l := range grid.Labels {
			if l >= 0 {
				grid.Labels[i] = find(l)
			}
		}
	}
}

// relabel renumbers labels 1..k in scan order
func relabel(grid *LabelGrid) {
	next := int32(1)
	remap := make(map[int32]int32)
	for i, l := range grid.Labels {
		if l < 0 {
			continue
		}
		nl, ok := remap[l]
		if !ok {
			nl = next
			remap[l] = nl
			next++
		}
		grid.Labels[i] = nl
	}
}

// ExecSegmenter runs the Orfeo Toolbox large-scale mean-shift application
// as an external process. The input is staged as an ENVI file in a scratch
// directory under WorkDir and the uint16 label raster is read back.
type ExecSegmenter struct {
	Binary       string
	MaxRAMHintMB int
	TileSize     int
	WorkDir      string
}

// Args returns the command-line arguments for one run
func (s *ExecSegmenter) Args(in, out string, p SegmentParams) []string {
	tile := s.TileSize
	if tile <= 0 {
		tile = DefaultTileSize
	}
	return []string{
		"-in", in,
		"-spatialr", strconv.Itoa(p.SpatialRadius),
		"-ranger", formatFloat(p.RangeRadius),
		"-minsize", strconv.Itoa(p.MinSize),
		"-tilesizex", strconv.Itoa(tile),
		"-tilesizey", strconv.Itoa(tile),
		"-mode", "raster",
		"-mode.raster.out", out, "uint16",
		"-cleanup", "1",
	}
}

// Env returns the process environment with the OTB memory hint set for the child only
func (s *ExecSegmenter) Env() []string {
	env := os.Environ()
	if s.MaxRAMHintMB > 0 {
		env = append(env, "OTB_MAX_RAM_HINT="+strconv.Itoa(s.MaxRAMHintMB))
	}
	return env
}

func (s *ExecSegmenter) Segment(ctx context.Context, img *Raster, p SegmentParams) (*LabelGrid, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, ErrEmptyRaster
	}
	binary := s.Binary
	if binary == "" {
		binary = DefaultOTBBinary
	}

	dir, err := os.MkdirTemp(s.WorkDir, "lsms-")
	if err != nil {
		return nil, fmt.Errorf("creating segmentation work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "in.img")
	out := filepath.Join(dir, "labels.tif")
	if err := WriteRaster(in, img); err != nil {
		return nil, fmt.Errorf("staging segmentation input: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary, s.Args(in, out, p)...)
	cmd.Env = s.Env()
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("[SEGMENT] %s failed:\n%s", binary, strings.TrimSpace(string(output)))
		return nil, fmt.Errorf("running %s: %w", binary, err)
	}

	labels, err := ReadRaster(out)
	if err != nil {
		return nil, fmt.Errorf("reading segmentation output: %w", err)
	}
	if labels.Width != img.Width || labels.Height != img.Height {
		return nil, fmt.Errorf("segmentation output is %dx%d, input is %dx%d",
			labels.Width, labels.Height, img.Width, img.Height)
	}
	// the label TIFF carries no world file; reuse the input georeference
	labels.Transform = img.Transform
	labels.Projection = img.Projection

	grid := LabelGridFromRaster(labels)
	for i, l := range grid.Labels {
		if l == 0 {
			grid.Labels[i] = NoLabel
		}
	}
	return grid, nil
}
