package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is ordinary least squares with an intercept
type Linear struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (m *Linear) Fit(X [][]float64, y []float64, _ *rand.Rand) error {
	n, d := len(X), len(X[0])
	a := mat.NewDense(n, d+1, nil)
	for i, row := range X {
		a.Set(i, 0, 1)
		for j, v := range row {
			a.Set(i, j+1, v)
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))

	var beta mat.VecDense
	if n < d+1 || beta.SolveVec(a, b) != nil {
		// collinear or underdetermined: solve the slightly ridged normal equations
		var ata mat.Dense
		ata.Mul(a.T(), a)
		for j := 0; j <= d; j++ {
			ata.Set(j, j, ata.At(j, j)+1e-8)
		}
		var atb mat.VecDense
		atb.MulVec(a.T(), b)
		if err := beta.SolveVec(&ata, &atb); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return fmt.Errorf("least squares failed: %w", err)
			}
		}
	}
	m.Intercept = beta.AtVec(0)
	m.Coef = make([]float64, d)
	for j := range m.Coef {
		m.Coef[j] = beta.AtVec(j + 1)
	}
	return nil
}

func (m *Linear) Predict(x []float64) float64 {
	return m.Intercept + floats.Dot(m.Coef, x)
}

func (m *Linear) Importance() []float64 {
	return append([]float64(nil), m.Coef...)
}

// Logistic is multinomial logistic regression with an L2 penalty of 1/C,
// fitted by full-batch gradient descent on standardized features.
type Logistic struct {
	Classes int         `json:"classes"`
	Hyper   Hyper       `json:"-"`
	Weights [][]float64 `json:"weights"`
}

const logisticRate = 0.5

func (m *Logistic) Fit(X [][]float64, y []float64, _ *rand.Rand) error {
	n, d := len(X), len(X[0])
	k := m.Classes
	if k < 2 {
		return fmt.Errorf("logistic regression needs at least two classes")
	}
	h := m.Hyper.withDefaults()
	lambda := 1 / (h.C * float64(n))
	m.Weights = make([][]float64, k)
	grad := make([][]float64, k)
	for c := range m.Weights {
		m.Weights[c] = make([]float64, d+1)
		grad[c] = make([]float64, d+1)
	}
	for it := 0; it < h.MaxIter; it++ {
		for c := range grad {
			for j := range grad[c] {
				grad[c][j] = 0
			}
		}
		for i, x := range X {
			p := m.Proba(x)
			for c := range p {
				g := p[c]
				if int(y[i]) == c {
					g--
				}
				for j, v := range x {
					grad[c][j] += g * v
				}
				grad[c][d] += g
			}
		}
		var step float64
		for c := range m.Weights {
			for j := range m.Weights[c] {
				g := grad[c][j] / float64(n)
				if j < d {
					g += lambda * m.Weights[c][j]
				}
				m.Weights[c][j] -= logisticRate * g
				step = math.Max(step, math.Abs(g))
			}
		}
		if step < 1e-6 {
			break
		}
	}
	return nil
}

func (m *Logistic) scores(x []float64) []float64 {
	d := len(x)
	out := make([]float64, len(m.Weights))
	for c, w := range m.Weights {
		out[c] = floats.Dot(w[:d], x) + w[d]
	}
	return out
}

func (m *Logistic) Proba(x []float64) []float64 { return softmax(m.scores(x)) }

func (m *Logistic) Predict(x []float64) float64 {
	return float64(floats.MaxIdx(m.scores(x)))
}

// Importance is the class-1 minus class-0 coefficient for binary problems
// and the mean absolute coefficient across classes otherwise.
func (m *Logistic) Importance() []float64 {
	return classCoefficients(m.Weights)
}

func classCoefficients(w [][]float64) []float64 {
	if len(w) == 0 {
		return nil
	}
	d := len(w[0]) - 1
	out := make([]float64, d)
	if len(w) == 2 {
		floats.SubTo(out, w[1][:d], w[0][:d])
		return out
	}
	for _, wc := range w {
		for j := 0; j < d; j++ {
			out[j] += math.Abs(wc[j]) / float64(len(w))
		}
	}
	return out
}
