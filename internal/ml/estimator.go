// Package ml trains, stores and serves classification and regression models.
package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"gonum.org/v1/gonum/stat"
)

// Model types
const (
	Classification = "classification"
	Regression     = "regression"
)

// Algorithms
const (
	RandomForest       = "random_forest"
	LogisticRegression = "logistic_regression"
	LinearRegression   = "linear_regression"
	SVM                = "svm"
)

var algorithms = map[string][]string{
	Classification: {RandomForest, LogisticRegression, SVM},
	Regression:     {RandomForest, LinearRegression, SVM},
}

// Hyper holds optional algorithm parameters
type Hyper struct {
	NEstimators     int     `json:"n_estimators,omitempty" binding:"omitempty,min=1,max=500"`
	MaxDepth        int     `json:"max_depth,omitempty" binding:"omitempty,min=1,max=64"`
	MinSamplesSplit int     `json:"min_samples_split,omitempty" binding:"omitempty,min=2"`
	C               float64 `json:"C,omitempty" binding:"omitempty,gt=0"`
	MaxIter         int     `json:"max_iter,omitempty" binding:"omitempty,min=1,max=100000"`
}

func (h Hyper) withDefaults() Hyper {
	if h.NEstimators == 0 {
		h.NEstimators = 100
	}
	if h.MinSamplesSplit == 0 {
		h.MinSamplesSplit = 2
	}
	if h.C == 0 {
		h.C = 1
	}
	if h.MaxIter == 0 {
		h.MaxIter = 300
	}
	return h
}

// Estimator is a model fitted on a dense feature matrix. Classifiers take
// and return class indices as float64.
type Estimator interface {
	Fit(X [][]float64, y []float64, rng *rand.Rand) error
	Predict(x []float64) float64
}

// Prober is implemented by classifiers that score each class
type Prober interface {
	Proba(x []float64) []float64
}

// Importancer reports per-feature importance or coefficients
type Importancer interface {
	Importance() []float64
}

// CheckAlgorithm validates a model type and algorithm pair
func CheckAlgorithm(modelType, algorithm string) error {
	algs, ok := algorithms[modelType]
	if !ok {
		return apperrors.Invalidf("Unsupported model type: %s", modelType).
			WithField("model_type", "must be one of classification, regression", "oneof")
	}
	for _, a := range algs {
		if a == algorithm {
			return nil
		}
	}
	return apperrors.Invalidf("Unsupported %s algorithm: %s. Supported: %s", modelType, algorithm, strings.Join(algs, ", ")).
		WithField("algorithm", "unsupported algorithm", "oneof")
}

func newEstimator(modelType, algorithm string, nClasses int, h Hyper) (Estimator, error) {
	if err := CheckAlgorithm(modelType, algorithm); err != nil {
		return nil, err
	}
	h = h.withDefaults()
	switch {
	case algorithm == RandomForest:
		return &Forest{Classes: nClasses, Hyper: h}, nil
	case algorithm == LinearRegression:
		return &Linear{}, nil
	case algorithm == LogisticRegression:
		return &Logistic{Classes: nClasses, Hyper: h}, nil
	case modelType == Classification:
		return &LinearSVC{Classes: nClasses, Hyper: h}, nil
	default:
		return &LinearSVR{Hyper: h}, nil
	}
}

// Scaler standardizes features to zero mean and unit variance
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func FitScaler(X [][]float64) *Scaler {
	d := len(X[0])
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s
}

func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

func (s *Scaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}

// Pipeline is a fitted estimator with its preprocessing and class labels
type Pipeline struct {
	ModelType string
	Algorithm string
	Classes   []string
	Scaler    *Scaler
	Est       Estimator
}

func scaled(algorithm string) bool {
	return algorithm == LogisticRegression || algorithm == SVM
}

// NewPipeline returns an unfitted pipeline
func NewPipeline(modelType, algorithm string, classes []string, h Hyper) (*Pipeline, error) {
	est, err := newEstimator(modelType, algorithm, len(classes), h)
	if err != nil {
		return nil, err
	}
	return &Pipeline{ModelType: modelType, Algorithm: algorithm, Classes: classes, Est: est}, nil
}

func (p *Pipeline) Fit(X [][]float64, y []float64, rng *rand.Rand) error {
	if scaled(p.Algorithm) {
		p.Scaler = FitScaler(X)
		X = p.Scaler.TransformAll(X)
	}
	return p.Est.Fit(X, y, rng)
}

func (p *Pipeline) prepare(x []float64) []float64 {
	if p.Scaler != nil {
		return p.Scaler.Transform(x)
	}
	return x
}

func (p *Pipeline) Predict(x []float64) float64 {
	return p.Est.Predict(p.prepare(x))
}

// Proba returns class probabilities, or nil for regressors
func (p *Pipeline) Proba(x []float64) []float64 {
	pr, ok := p.Est.(Prober)
	if !ok || p.ModelType != Classification {
		return nil
	}
	return pr.Proba(p.prepare(x))
}

func (p *Pipeline) Importance() []float64 {
	if im, ok := p.Est.(Importancer); ok {
		return im.Importance()
	}
	return nil
}

type envelope struct {
	ModelType string          `json:"model_type"`
	Algorithm string          `json:"algorithm"`
	Classes   []string        `json:"classes,omitempty"`
	Scaler    *Scaler         `json:"scaler,omitempty"`
	Model     json.RawMessage `json:"model"`
}

func (p *Pipeline) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.Est)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ModelType: p.ModelType, Algorithm: p.Algorithm, Classes: p.Classes, Scaler: p.Scaler, Model: raw})
}

func (p *Pipeline) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	est, err := newEstimator(env.ModelType, env.Algorithm, len(env.Classes), Hyper{})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Model, est); err != nil {
		return fmt.Errorf("failed to decode %s model: %w", env.Algorithm, err)
	}
	*p = Pipeline{ModelType: env.ModelType, Algorithm: env.Algorithm, Classes: env.Classes, Scaler: env.Scaler, Est: est}
	return nil
}

// EncodeLabels maps target values to class indices over the sorted distinct labels
func EncodeLabels(labels []string) ([]string, []float64) {
	set := map[string]struct{}{}
	for _, l := range labels {
		set[l] = struct{}{}
	}
	classes := make([]string, 0, len(set))
	for l := range set {
		classes = append(classes, l)
	}
	sort.Slice(classes, func(i, j int) bool { return labelLess(classes[i], classes[j]) })
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	y := make([]float64, len(labels))
	for i, l := range labels {
		y[i] = float64(index[l])
	}
	return classes, y
}

// labelLess orders numeric labels numerically and the rest lexically
func labelLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		return fa < fb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

func softmax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	max := math.Inf(-1)
	for _, s := range scores {
		max = math.Max(max, s)
	}
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
