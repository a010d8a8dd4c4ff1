package ml

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const (
	svmRate      = 0.1
	svmMaxEpochs = 100
	svrEpsilon   = 0.1
	svrRate      = 0.01
)

func svmEpochs(h Hyper) int {
	if h.MaxIter < svmMaxEpochs {
		return h.MaxIter
	}
	return svmMaxEpochs
}

// LinearSVC is a one-vs-rest linear support vector classifier trained with
// stochastic subgradient descent on the hinge loss.
type LinearSVC struct {
	Classes int         `json:"classes"`
	Hyper   Hyper       `json:"-"`
	Weights [][]float64 `json:"weights"`
}

func (m *LinearSVC) Fit(X [][]float64, y []float64, rng *rand.Rand) error {
	n, d := len(X), len(X[0])
	h := m.Hyper.withDefaults()
	lambda := 1 / (h.C * float64(n))
	m.Weights = make([][]float64, m.Classes)
	for c := range m.Weights {
		w := make([]float64, d+1)
		t := 0
		for epoch := 0; epoch < svmEpochs(h); epoch++ {
			for _, i := range rng.Perm(n) {
				t++
				eta := svmRate / (1 + svmRate*lambda*float64(t))
				label := -1.0
				if int(y[i]) == c {
					label = 1
				}
				margin := label * (floats.Dot(w[:d], X[i]) + w[d])
				floats.Scale(1-eta*lambda, w[:d])
				if margin < 1 {
					floats.AddScaled(w[:d], eta*label, X[i])
					w[d] += eta * label
				}
			}
		}
		m.Weights[c] = w
	}
	return nil
}

func (m *LinearSVC) scores(x []float64) []float64 {
	d := len(x)
	out := make([]float64, len(m.Weights))
	for c, w := range m.Weights {
		out[c] = floats.Dot(w[:d], x) + w[d]
	}
	return out
}

func (m *LinearSVC) Predict(x []float64) float64 {
	return float64(floats.MaxIdx(m.scores(x)))
}

// Proba is a softmax over the decision scores
func (m *LinearSVC) Proba(x []float64) []float64 { return softmax(m.scores(x)) }

func (m *LinearSVC) Importance() []float64 { return classCoefficients(m.Weights) }

// LinearSVR is a linear epsilon-insensitive support vector regressor. The
// target is standardized during training.
type LinearSVR struct {
	Hyper     Hyper     `json:"-"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	YMean     float64   `json:"y_mean"`
	YScale    float64   `json:"y_scale"`
}

func (m *LinearSVR) Fit(X [][]float64, y []float64, rng *rand.Rand) error {
	n, d := len(X), len(X[0])
	h := m.Hyper.withDefaults()
	lambda := 1 / (h.C * float64(n))

	m.YMean = floats.Sum(y) / float64(n)
	var ss float64
	for _, v := range y {
		ss += (v - m.YMean) * (v - m.YMean)
	}
	m.YScale = math.Sqrt(ss / float64(n))
	if m.YScale == 0 {
		m.YScale = 1
	}

	w := make([]float64, d)
	var b float64
	t := 0
	for epoch := 0; epoch < svmEpochs(h); epoch++ {
		for _, i := range rng.Perm(n) {
			t++
			eta := svrRate / (1 + svrRate*lambda*float64(t))
			target := (y[i] - m.YMean) / m.YScale
			r := target - (floats.Dot(w, X[i]) + b)
			floats.Scale(1-eta*lambda, w)
			if math.Abs(r) > svrEpsilon {
				sign := math.Copysign(1, r)
				floats.AddScaled(w, eta*sign, X[i])
				b += eta * sign
			}
		}
	}
	m.Coef, m.Intercept = w, b
	return nil
}

func (m *LinearSVR) Predict(x []float64) float64 {
	return (floats.Dot(m.Coef, x)+m.Intercept)*m.YScale + m.YMean
}

func (m *LinearSVR) Importance() []float64 {
	out := make([]float64, len(m.Coef))
	floats.ScaleTo(out, m.YScale, m.Coef)
	return out
}
