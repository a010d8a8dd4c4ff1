package ml

import (
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

type treeNode struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"`
}

// Tree is a CART tree stored as a flat node list; leaves have Feature -1
type Tree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *Tree) leaf(x []float64) []float64 {
	i := 0
	for t.Nodes[i].Feature >= 0 {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

// Forest is a bagged ensemble of CART trees. Classes is zero for regression.
// Classification trees split on Gini impurity over sqrt(features) candidates;
// regression trees on squared error over all features.
type Forest struct {
	Classes     int       `json:"classes"`
	Hyper       Hyper     `json:"hyper"`
	Trees       []*Tree   `json:"trees"`
	Importances []float64 `json:"importances"`
}

func (m *Forest) Fit(X [][]float64, y []float64, rng *rand.Rand) error {
	h := m.Hyper.withDefaults()
	n, d := len(X), len(X[0])
	maxFeatures := d
	if m.Classes > 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(d)))))
	}

	seeds := make([]int64, h.NEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}
	trees := make([]*Tree, len(seeds))
	imps := make([][]float64, len(seeds))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range seeds {
		t := t
		g.Go(func() error {
			r := rand.New(rand.NewSource(seeds[t]))
			idx := make([]int, n)
			for i := range idx {
				idx[i] = r.Intn(n)
			}
			b := &treeBuilder{X: X, y: y, classes: m.Classes, h: h, maxFeatures: maxFeatures, rng: r, imp: make([]float64, d)}
			b.grow(idx, 0)
			trees[t] = &Tree{Nodes: b.nodes}
			imps[t] = b.imp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.Trees = trees
	m.Importances = make([]float64, d)
	for _, imp := range imps {
		if s := floats.Sum(imp); s > 0 {
			floats.AddScaled(m.Importances, 1/s, imp)
		}
	}
	if s := floats.Sum(m.Importances); s > 0 {
		floats.Scale(1/s, m.Importances)
	}
	return nil
}

// Proba averages the leaf class distributions
func (m *Forest) Proba(x []float64) []float64 {
	out := make([]float64, m.Classes)
	for _, t := range m.Trees {
		floats.Add(out, t.leaf(x))
	}
	floats.Scale(1/float64(len(m.Trees)), out)
	return out
}

func (m *Forest) Predict(x []float64) float64 {
	if m.Classes > 0 {
		return float64(floats.MaxIdx(m.Proba(x)))
	}
	var sum float64
	for _, t := range m.Trees {
		sum += t.leaf(x)[0]
	}
	return sum / float64(len(m.Trees))
}

func (m *Forest) Importance() []float64 {
	return append([]float64(nil), m.Importances...)
}

type treeBuilder struct {
	X           [][]float64
	y           []float64
	classes     int
	h           Hyper
	maxFeatures int
	rng         *rand.Rand
	nodes       []treeNode
	imp         []float64
}

// nodeStats returns the leaf value and the total impurity (n times gini or
// variance) of the samples.
func (b *treeBuilder) nodeStats(idx []int) ([]float64, float64) {
	n := float64(len(idx))
	if b.classes == 0 {
		var sum, sq float64
		for _, i := range idx {
			sum += b.y[i]
			sq += b.y[i] * b.y[i]
		}
		return []float64{sum / n}, sq - sum*sum/n
	}
	value := make([]float64, b.classes)
	for _, i := range idx {
		value[int(b.y[i])]++
	}
	total := giniMass(value, n)
	floats.Scale(1/n, value)
	return value, total
}

// giniMass is n times the Gini impurity of the class counts
func giniMass(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	var sq float64
	for _, c := range counts {
		sq += c * c
	}
	return n - sq/n
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	value, impurity := b.nodeStats(idx)
	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: -1, Value: value})
	if len(idx) < b.h.MinSamplesSplit || (b.h.MaxDepth > 0 && depth >= b.h.MaxDepth) || impurity <= 1e-12 {
		return pos
	}
	feature, threshold, child, ok := b.bestSplit(idx)
	if !ok || child >= impurity-1e-12 {
		return pos
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.imp[feature] += impurity - child
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[pos] = treeNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return pos
}

// bestSplit scans a random subset of features for the threshold that
// minimizes the summed child impurity.
func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold, impurity float64, ok bool) {
	impurity = math.Inf(1)
	d := len(b.X[0])
	sorted := make([]int, len(idx))
	for _, f := range b.rng.Perm(d)[:b.maxFeatures] {
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })
		score, at := b.scan(sorted, f)
		if at >= 0 && score < impurity {
			feature, impurity, ok = f, score, true
			threshold = (b.X[sorted[at]][f] + b.X[sorted[at+1]][f]) / 2
		}
	}
	return feature, threshold, impurity, ok
}

// scan sweeps split positions over samples sorted by feature f and returns
// the best child impurity and the index of the last left sample.
func (b *treeBuilder) scan(sorted []int, f int) (float64, int) {
	n := len(sorted)
	best, at := math.Inf(1), -1
	if b.classes == 0 {
		var totalSum, totalSq float64
		for _, i := range sorted {
			totalSum += b.y[i]
			totalSq += b.y[i] * b.y[i]
		}
		var lSum, lSq float64
		for k := 0; k < n-1; k++ {
			v := b.y[sorted[k]]
			lSum += v
			lSq += v * v
			if b.X[sorted[k]][f] == b.X[sorted[k+1]][f] {
				continue
			}
			nl, nr := float64(k+1), float64(n-k-1)
			rSum, rSq := totalSum-lSum, totalSq-lSq
			score := (lSq - lSum*lSum/nl) + (rSq - rSum*rSum/nr)
			if score < best {
				best, at = score, k
			}
		}
		return best, at
	}
	left := make([]float64, b.classes)
	right := make([]float64, b.classes)
	for _, i := range sorted {
		right[int(b.y[i])]++
	}
	for k := 0; k < n-1; k++ {
		c := int(b.y[sorted[k]])
		left[c]++
		right[c]--
		if b.X[sorted[k]][f] == b.X[sorted[k+1]][f] {
			continue
		}
		score := giniMass(left, float64(k+1)) + giniMass(right, float64(n-k-1))
		if score < best {
			best, at = score, k
		}
	}
	return best, at
}
