package ml

import (
	"math"
	"math/rand"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
)

const places = 4

// Metrics are the held-out and cross-validation scores of a model. For
// regression cv_mean is the mean squared error across folds.
type Metrics struct {
	Accuracy    *float64 `json:"accuracy,omitempty"`
	MSE         *float64 `json:"mse,omitempty"`
	RMSE        *float64 `json:"rmse,omitempty"`
	R2          *float64 `json:"r2,omitempty"`
	CVMean      float64  `json:"cv_mean"`
	CVStd       float64  `json:"cv_std"`
	TestSamples int      `json:"test_samples"`
}

func rounded(v float64) *float64 {
	r := numfmt.Round(numfmt.Finite(v), places)
	return &r
}

// splitIndices shuffles rows and holds out ceil(testSize*n) for testing
func splitIndices(n int, testSize float64, rng *rand.Rand) (train, test []int, err error) {
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 || n-nTest < 2 {
		return nil, nil, apperrors.Invalidf("not enough rows (%d) for test_size %.2f", n, testSize)
	}
	perm := rng.Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// folds splits n rows into k contiguous folds, the first n%k one row larger
func folds(n, k int) [][2]int {
	out := make([][2]int, k)
	start := 0
	for i := range out {
		size := n / k
		if i < n%k {
			size++
		}
		out[i] = [2]int{start, start + size}
		start += size
	}
	return out
}

func subset(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, j := range idx {
		xs[i], ys[i] = X[j], y[j]
	}
	return xs, ys
}

func accuracy(p *Pipeline, X [][]float64, y []float64) float64 {
	var hit float64
	for i, x := range X {
		if p.Predict(x) == y[i] {
			hit++
		}
	}
	return hit / float64(len(X))
}

func meanSquaredError(p *Pipeline, X [][]float64, y []float64) float64 {
	var sum float64
	for i, x := range X {
		r := p.Predict(x) - y[i]
		sum += r * r
	}
	return sum / float64(len(X))
}

func score(p *Pipeline, X [][]float64, y []float64) float64 {
	if p.ModelType == Classification {
		return accuracy(p, X, y)
	}
	return meanSquaredError(p, X, y)
}

// crossValidate fits a fresh pipeline per fold and returns the mean and
// population standard deviation of the fold scores.
func crossValidate(build func() (*Pipeline, error), X [][]float64, y []float64, k int, rng *rand.Rand) (float64, float64, error) {
	if k > len(X) {
		return 0, 0, apperrors.Invalidf("cv_folds %d exceeds training rows %d", k, len(X))
	}
	scores := make([]float64, 0, k)
	for _, f := range folds(len(X), k) {
		trainX := append(append([][]float64(nil), X[:f[0]]...), X[f[1]:]...)
		trainY := append(append([]float64(nil), y[:f[0]]...), y[f[1]:]...)
		p, err := build()
		if err != nil {
			return 0, 0, err
		}
		if err := p.Fit(trainX, trainY, rng); err != nil {
			return 0, 0, err
		}
		scores = append(scores, score(p, X[f[0]:f[1]], y[f[0]:f[1]]))
	}
	mean, std := stat.PopMeanStdDev(scores, nil)
	return mean, std, nil
}

func testMetrics(p *Pipeline, X [][]float64, y []float64, cvMean, cvStd float64) Metrics {
	m := Metrics{CVMean: *rounded(cvMean), CVStd: *rounded(cvStd), TestSamples: len(X)}
	if p.ModelType == Classification {
		m.Accuracy = rounded(accuracy(p, X, y))
		return m
	}
	mse := meanSquaredError(p, X, y)
	m.MSE = rounded(mse)
	m.RMSE = rounded(math.Sqrt(mse))
	if v := stat.Variance(y, nil); v > 0 && len(y) > 1 {
		ssTot := v * float64(len(y)-1)
		m.R2 = rounded(1 - mse*float64(len(y))/ssTot)
	}
	return m
}
