package slide

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// ErrNotFitted is returned when Predict is called before Fit
var ErrNotFitted = errors.New("classifier has not been fitted")

// Classifier is a binary supervised learner over predictor rows
type Classifier interface {
	Fit(X [][]float64, y []int) error
	Predict(X [][]float64) ([]int, error)
}

// RandomForest is an ensemble of CART trees grown on bootstrap samples with
// Gini impurity and sqrt(p) candidate features per split
type RandomForest struct {
	Trees    int
	MaxDepth int // 0 means unlimited
	MinLeaf  int
	Seed     int64
	Workers  int

	nFeatures int
	forest    []*treeNode
}

// NewRandomForest creates a forest with the given number of trees
func NewRandomForest(trees int, seed int64) *RandomForest {
	return &RandomForest{Trees: trees, MinLeaf: 1, Seed: seed}
}

type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	leaf      bool
	positive  float64 // share of positive samples at a leaf
}

// Fit grows the forest. Labels must be 0 or 1.
func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("fit: no training rows")
	}
	if len(X) != len(y) {
		return fmt.Errorf("fit: %d rows but %d labels", len(X), len(y))
	}
	p := len(X[0])
	if p == 0 {
		return fmt.Errorf("fit: no predictor columns")
	}
	for i, row := range X {
		if len(row) != p {
			return fmt.Errorf("fit: row %d has %d columns, want %d", i, len(row), p)
		}
		if y[i] != 0 && y[i] != 1 {
			return fmt.Errorf("fit: label %d at row %d is not 0 or 1", y[i], i)
		}
	}
	trees := rf.Trees
	if trees <= 0 {
		trees = DefaultTrees
	}
	minLeaf := max(rf.MinLeaf, 1)
	mtry := max(1, int(math.Sqrt(float64(p))))
	workers := rf.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	forest := make([]*treeNode, trees)
	var g errgroup.Group
	g.SetLimit(workers)
	for t := 0; t < trees; t++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(rf.Seed + int64(t)))
			sample := make([]int, len(X))
			for i := range sample {
				sample[i] = rng.Intn(len(X))
			}
			b := &treeBuilder{X: X, y: y, rng: rng, mtry: mtry, minLeaf: minLeaf, maxDepth: rf.MaxDepth}
			forest[t] = b.grow(sample, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	rf.forest = forest
	rf.nFeatures = p
	return nil
}

// PredictProba returns the mean positive share of the trees for each row
func (rf *RandomForest) PredictProba(X [][]float64) ([]float64, error) {
	if len(rf.forest) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	votes := make([]float64, len(rf.forest))
	for i, row := range X {
		if len(row) != rf.nFeatures {
			return nil, fmt.Errorf("predict: row %d has %d columns, want %d", i, len(row), rf.nFeatures)
		}
		for t, tree := range rf.forest {
			votes[t] = tree.predict(row)
		}
		out[i] = floats.Sum(votes) / float64(len(votes))
	}
	return out, nil
}

// Predict labels each row 1 when at least half of the trees vote positive
func (rf *RandomForest) Predict(X [][]float64) ([]int, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p >= 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

func (n *treeNode) predict(row []float64) float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.positive
}

type treeBuilder struct {
	X        [][]float64
	y        []int
	rng      *rand.Rand
	mtry     int
	minLeaf  int
	maxDepth int
}

func (b *treeBuilder) leaf(idx []int) *treeNode {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	return &treeNode{leaf: true, positive: float64(pos) / float64(len(idx))}
}

func (b *treeBuilder) grow(idx []int, depth int) *treeNode {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	if pos == 0 || pos == len(idx) || len(idx) < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return b.leaf(idx)
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return b.leaf(idx)
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      b.grow(left, depth+1),
		right:     b.grow(right, depth+1),
	}
}

// bestSplit scans mtry random features for the threshold with the lowest
// weighted Gini impurity. Features that are constant over idx do not count
// towards mtry.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	p := len(b.X[0])
	features := b.rng.Perm(p)

	n := float64(len(idx))
	bestGini := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0
	sorted := make([]int, len(idx))

	totalPos := 0
	for _, i := range idx {
		totalPos += b.y[i]
	}

	tried := 0
	for _, f := range features {
		if tried >= b.mtry && bestFeature >= 0 {
			break
		}
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })
		if b.X[sorted[0]][f] == b.X[sorted[len(sorted)-1]][f] {
			continue
		}
		tried++

		leftPos := 0
		for k := 0; k < len(sorted)-1; k++ {
			leftPos += b.y[sorted[k]]
			v, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if v == next {
				continue
			}
			nl := k + 1
			nr := len(sorted) - nl
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			g := (float64(nl)*gini(leftPos, nl) + float64(nr)*gini(totalPos-leftPos, nr)) / n
			if g < bestGini {
				bestGini = g
				bestFeature = f
				bestThreshold = (v + next) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 1 - p*p - (1-p)*(1-p)
}
