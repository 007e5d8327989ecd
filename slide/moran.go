package slide

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MoransI computes the global Moran's I of values under the row-standardized
// weights w:
//
//	I = (n / S0) * sum_ij w_ij z_i z_j / sum_i z_i^2
//
// where z are deviations from the mean and S0 is the sum of all weights.
// Degenerate inputs (fewer than two values, zero variance, no neighbors)
// give 0. Values are expected to be finite.
func MoransI(values []float64, w Weights) float64 {
	n := len(values)
	if n < 2 || w.N() != n {
		return 0
	}
	mean := stat.Mean(values, nil)
	z := make([]float64, n)
	copy(z, values)
	floats.AddConst(-mean, z)

	den := floats.Dot(z, z)
	if den == 0 {
		return 0
	}

	var num, s0 float64
	for i, nb := range w.Neighbors {
		if len(nb) == 0 {
			continue
		}
		wij := 1 / float64(len(nb))
		for _, j := range nb {
			num += wij * z[i] * z[j]
			s0 += wij
		}
	}
	if s0 == 0 {
		return 0
	}
	return FiniteValue(float64(n) / s0 * num / den)
}
