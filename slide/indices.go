package slide

import (
	"fmt"
	"math"
)

// Brightness computes the per-cell mean of the blue, green, red and NIR bands.
// A no-data cell in any of the four bands is no-data in the result.
func Brightness(img *Raster, bands BandMap) (*Raster, error) {
	return bandMath(img, []int{bands.Blue, bands.Green, bands.Red, bands.NIR}, func(v []float64) float64 {
		return (v[0] + v[1] + v[2] + v[3]) / 4
	})
}

// NDVI computes (nir-red)/(nir+red). Cells where nir+red is zero are no-data.
func NDVI(img *Raster, bands BandMap) (*Raster, error) {
	return bandMath(img, []int{bands.Red, bands.NIR}, func(v []float64) float64 {
		sum := v[1] + v[0]
		if sum == 0 {
			return math.NaN()
		}
		return (v[1] - v[0]) / sum
	})
}

func bandMath(img *Raster, bands []int, fn func([]float64) float64) (*Raster, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, ErrEmptyRaster
	}
	for _, b := range bands {
		if b < 1 || b > len(img.Bands) {
			return nil, fmt.Errorf("band %d out of range (image has %d bands)", b, len(img.Bands))
		}
	}

	out := NewRaster(img.Width, img.Height, 1, img.Transform, img.NoData)
	out.Projection = img.Projection
	vals := make([]float64, len(bands))
	for i := 0; i < img.Width*img.Height; i++ {
		valid := true
		for j, b := range bands {
			v := img.Bands[b-1][i]
			if img.IsNoData(v) {
				valid = false
				break
			}
			vals[j] = v
		}
		if !valid {
			continue
		}
		v := fn(vals)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out.Bands[0][i] = v
	}
	return out, nil
}
