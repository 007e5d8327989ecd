package slide

import (
	"sort"

	"github.com/paulmach/orb"
)

// Weights is a row-standardized spatial weights matrix in adjacency-list form.
// Neighbors[i] lists the indices adjacent to feature i; each neighbor of i
// carries the weight 1/len(Neighbors[i]).
type Weights struct {
	Neighbors [][]int
}

// N returns the number of observations
func (w Weights) N() int {
	return len(w.Neighbors)
}

// Weight returns w_ij
func (w Weights) Weight(i, j int) float64 {
	for _, k := range w.Neighbors[i] {
		if k == j {
			return 1 / float64(len(w.Neighbors[i]))
		}
	}
	return 0
}

// Islands returns the indices of observations without neighbors
func (w Weights) Islands() []int {
	var out []int
	for i, nb := range w.Neighbors {
		if len(nb) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// QueenContiguity builds weights where two features are neighbors when their
// boundaries share at least one vertex. Indices refer to positions in features.
func QueenContiguity(features []*Feature) Weights {
	byVertex := make(map[orb.Point][]int)
	for i, f := range features {
		seen := make(map[orb.Point]bool)
		for _, poly := range f.Geometry {
			for _, ring := range poly {
				for _, p := range ring {
					if seen[p] {
						continue
					}
					seen[p] = true
					byVertex[p] = append(byVertex[p], i)
				}
			}
		}
	}

	sets := make([]map[int]bool, len(features))
	for i := range sets {
		sets[i] = make(map[int]bool)
	}
	for _, idx := range byVertex {
		if len(idx) < 2 {
			continue
		}
		for _, a := range idx {
			for _, b := range idx {
				if a != b {
					sets[a][b] = true
				}
			}
		}
	}

	w := Weights{Neighbors: make([][]int, len(features))}
	for i, s := range sets {
		nb := make([]int, 0, len(s))
		for j := range s {
			nb = append(nb, j)
		}
		sort.Ints(nb)
		w.Neighbors[i] = nb
	}
	return w
}
