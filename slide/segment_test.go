package slide

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoHalves is a 6x4 single-band image: value 10 on the left half, 100 on
// the right half
func twoHalves() *Raster {
	rows := make([][]float64, 4)
	for y := range rows {
		rows[y] = []float64{10, 10, 10, 100, 100, 100}
	}
	return gridRaster(rows)
}

func TestNewSegmenter(t *testing.T) {
	seg, err := NewSegmenter(SegmenterConfig{Engine: "regiongrow"}, "")
	require.NoError(t, err)
	assert.IsType(t, &RegionGrowSegmenter{}, seg)

	seg, err = NewSegmenter(SegmenterConfig{Engine: "otb", OTBBinary: "/opt/otb/bin/otbcli_LargeScaleMeanShift", MaxRAMHintMB: 4096, TileSize: 256}, "/tmp/work")
	require.NoError(t, err)
	exec, ok := seg.(*ExecSegmenter)
	require.True(t, ok)
	assert.Equal(t, 4096, exec.MaxRAMHintMB)
	assert.Equal(t, "/tmp/work", exec.WorkDir)

	_, err = NewSegmenter(SegmenterConfig{Engine: "slic"}, "")
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRegionGrow_TwoRegions(t *testing.T) {
	img := twoHalves()
	grid, err := (&RegionGrowSegmenter{}).Segment(context.Background(), img, SegmentParams{SpatialRadius: 1, RangeRadius: 20})
	require.NoError(t, err)

	assert.Equal(t, img.Transform, grid.Transform)
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			want := int32(1)
			if x >= 3 {
				want = 2
			}
			assert.Equal(t, want, grid.At(x, y), "cell (%d,%d)", x, y)
		}
	}
}

func TestRegionGrow_LargerRangeMergesEverything(t *testing.T) {
	grid, err := (&RegionGrowSegmenter{}).Segment(context.Background(), twoHalves(), SegmentParams{SpatialRadius: 1, RangeRadius: 200})
	require.NoError(t, err)
	for _, l := range grid.Labels {
		assert.Equal(t, int32(1), l)
	}
}

func TestRegionGrow_MinSizeMergesSpeck(t *testing.T) {
	img := twoHalves()
	img.Set(0, 1, 1, 50)
	seg := &RegionGrowSegmenter{}

	grid, err := seg.Segment(context.Background(), img, SegmentParams{SpatialRadius: 1, RangeRadius: 20})
	require.NoError(t, err)
	assert.Equal(t, int32(3), grid.At(1, 1), "speck is its own region without a minimum size")

	grid, err = seg.Segment(context.Background(), img, SegmentParams{SpatialRadius: 1, RangeRadius: 20, MinSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(1), grid.At(1, 1), "speck merges into the surrounding region")
	_, n := grid.Components()
	assert.Equal(t, 2, n)
}

func TestRegionGrow_NoData(t *testing.T) {
	img := twoHalves()
	img.Set(0, 0, 0, DefaultNoData)
	grid, err := (&RegionGrowSegmenter{}).Segment(context.Background(), img, SegmentParams{SpatialRadius: 1, RangeRadius: 20})
	require.NoError(t, err)
	assert.Equal(t, NoLabel, grid.At(0, 0))
	assert.Equal(t, int32(1), grid.At(1, 0))
}

func TestRegionGrow_Errors(t *testing.T) {
	seg := &RegionGrowSegmenter{}
	_, err := seg.Segment(context.Background(), nil, SegmentParams{RangeRadius: 10})
	assert.ErrorIs(t, err, ErrEmptyRaster)

	_, err = seg.Segment(context.Background(), twoHalves(), SegmentParams{RangeRadius: 0})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = seg.Segment(ctx, twoHalves(), SegmentParams{SpatialRadius: 1, RangeRadius: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecSegmenter_Args(t *testing.T) {
	s := &ExecSegmenter{}
	args := s.Args("in.img", "labels.tif", SegmentParams{SpatialRadius: 10, RangeRadius: 12.5, MinSize: 10})
	assert.Equal(t, []string{
		"-in", "in.img",
		"-spatialr", "10",
		"-ranger", "12.5",
		"-minsize", "10",
		"-tilesizex", "500",
		"-tilesizey", "500",
		"-mode", "raster",
		"-mode.raster.out", "labels.tif", "uint16",
		"-cleanup", "1",
	}, args)

	s.TileSize = 1024
	assert.Contains(t, strings.Join(s.Args("a", "b", SegmentParams{}), " "), "-tilesizex 1024 -tilesizey 1024")
}

func TestExecSegmenter_Env(t *testing.T) {
	s := &ExecSegmenter{MaxRAMHintMB: 2048}
	assert.Contains(t, s.Env(), "OTB_MAX_RAM_HINT=2048")

	s.MaxRAMHintMB = 0
	for _, kv := range s.Env() {
		if strings.HasPrefix(kv, "OTB_MAX_RAM_HINT=") && os.Getenv("OTB_MAX_RAM_HINT") == "" {
			t.Errorf("unexpected %s", kv)
		}
	}
}

func TestExecSegmenter_MissingBinary(t *testing.T) {
	work := t.TempDir()
	s := &ExecSegmenter{Binary: "salad-no-such-otb-binary", WorkDir: work}
	_, err := s.Segment(context.Background(), twoHalves(), SegmentParams{SpatialRadius: 5, RangeRadius: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salad-no-such-otb-binary")

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory is removed")
}
