package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"go.uber.org/zap"
)

const (
	defaultSamples     = 1000
	defaultFeatures    = 10
	defaultPredictions = 10
)

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Resolver loads the frame a request refers to
type Resolver interface {
	Resolve(ctx context.Context, ref dataset.Ref) (*dataset.Frame, error)
}

// Catalog persists trained models
type Catalog interface {
	SaveModel(ctx context.Context, rec *storage.ModelRecord) error
	GetModel(ctx context.Context, name string) (*storage.ModelRecord, error)
	ListModels(ctx context.Context) ([]storage.ModelRecord, error)
}

// Defaults are the configured training defaults
type Defaults struct {
	TestSize    float64
	RandomState int64
	CVFolds     int
}

type TrainRequest struct {
	dataset.Ref
	ModelType    string   `json:"model_type" binding:"omitempty,oneof=classification regression"`
	Algorithm    string   `json:"algorithm"`
	ModelName    string   `json:"model_name" binding:"omitempty,max=128"`
	TargetColumn string   `json:"target_column"`
	Features     []string `json:"features"`
	TestSize     float64  `json:"test_size" binding:"omitempty,gt=0,lt=1"`
	RandomState  *int64   `json:"random_state"`
	CVFolds      int      `json:"cv_folds" binding:"omitempty,min=2,max=20"`
	NSamples     int      `json:"n_samples" binding:"omitempty,min=10,max=100000"`
	NFeatures    int      `json:"n_features" binding:"omitempty,min=1,max=200"`
	Params       Hyper    `json:"params"`
}

type TrainingInfo struct {
	TrainingSamples int      `json:"training_samples"`
	TestSamples     int      `json:"test_samples"`
	Features        int      `json:"features"`
	FeatureNames    []string `json:"feature_names"`
	CVFolds         int      `json:"cv_folds"`
	TargetColumn    string   `json:"target_column,omitempty"`
	Classes         []string `json:"classes,omitempty"`
	DataSource      string   `json:"data_source"`
}

type TrainResult struct {
	ModelName    string       `json:"model_name"`
	ModelType    string       `json:"model_type"`
	Algorithm    string       `json:"algorithm"`
	Metrics      Metrics      `json:"metrics"`
	TrainingInfo TrainingInfo `json:"training_info"`
}

type PredictRequest struct {
	ModelName    string                   `json:"model_name"`
	Data         []map[string]interface{} `json:"data"`
	NPredictions int                      `json:"n_predictions" binding:"omitempty,min=1,max=10000"`
	RandomState  *int64                   `json:"random_state"`
}

type Prediction struct {
	PredictionID   int                `json:"prediction_id"`
	PredictedValue interface{}        `json:"predicted_value"`
	Probabilities  map[string]float64 `json:"probabilities,omitempty"`
	Confidence     *float64           `json:"confidence,omitempty"`
}

type ModelInfo struct {
	Type            string    `json:"type"`
	Algorithm       string    `json:"algorithm"`
	TrainedAt       time.Time `json:"trained_at"`
	TrainingSamples int       `json:"training_samples,omitempty"`
	Features        int       `json:"features,omitempty"`
}

type PredictResult struct {
	ModelName       string       `json:"model_name"`
	ModelInfo       ModelInfo    `json:"model_info"`
	Predictions     []Prediction `json:"predictions"`
	PredictionCount int          `json:"prediction_count"`
}

type EvaluateRequest struct {
	ModelName string `json:"model_name"`
}

type Evaluation struct {
	ModelPerformance    Metrics            `json:"model_performance"`
	ModelInfo           ModelInfo          `json:"model_info"`
	FeatureImportance   map[string]float64 `json:"feature_importance"`
	ImportanceKind      string             `json:"importance_kind"`
	EvaluationTimestamp time.Time          `json:"evaluation_timestamp"`
}

type EvaluateResult struct {
	ModelName         string     `json:"model_name"`
	EvaluationResults Evaluation `json:"evaluation_results"`
}

type ModelSummary struct {
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	Algorithm       string    `json:"algorithm"`
	TrainedAt       time.Time `json:"trained_at"`
	TrainingSamples int       `json:"training_samples"`
	Features        int       `json:"features"`
	TargetColumn    string    `json:"target_column,omitempty"`
	Performance     Metrics   `json:"performance"`
}

type ListResult struct {
	Models      []ModelSummary `json:"models"`
	TotalModels int            `json:"total_models"`
}

// model is a loaded catalog entry
type model struct {
	rec      *storage.ModelRecord
	pipeline *Pipeline
	features []string
	metrics  Metrics
}

// Service trains models and serves predictions. Fitted models are kept in
// memory after first use and persisted in the catalog.
type Service struct {
	data      Resolver
	catalog   Catalog
	publisher messaging.Publisher
	defaults  Defaults
	logger    *zap.Logger

	mu     sync.RWMutex
	loaded map[string]*model
	now    func() time.Time
}

func NewService(data Resolver, catalog Catalog, publisher messaging.Publisher, defaults Defaults, logger *zap.Logger) *Service {
	return &Service{
		data:      data,
		catalog:   catalog,
		publisher: publisher,
		defaults:  defaults,
		logger:    logger,
		loaded:    make(map[string]*model),
		now:       time.Now,
	}
}

// trainingSet holds the design matrix of a training run
type trainingSet struct {
	X        [][]float64
	y        []float64
	labels   []string
	features []string
	source   string
}

// synthetic draws a standard normal design; the target is x0+x1 plus noise,
// thresholded at zero for classification.
func synthetic(modelType string, nSamples, nFeatures int, rng *rand.Rand) trainingSet {
	ts := trainingSet{source: "synthetic"}
	for j := 0; j < nFeatures; j++ {
		ts.features = append(ts.features, fmt.Sprintf("feature_%d", j+1))
	}
	for i := 0; i < nSamples; i++ {
		x := make([]float64, nFeatures)
		for j := range x {
			x[j] = rng.NormFloat64()
		}
		x1 := 0.0
		if nFeatures > 1 {
			x1 = x[1]
		}
		if modelType == Classification {
			label := "0"
			if x[0]+x1+rng.NormFloat64()*0.1 > 0 {
				label = "1"
			}
			ts.labels = append(ts.labels, label)
		} else {
			ts.y = append(ts.y, 2*x[0]+1.5*x1+rng.NormFloat64()*0.5)
		}
		ts.X = append(ts.X, x)
	}
	return ts
}

func fromFrame(f *dataset.Frame, modelType, target string, features []string) (trainingSet, error) {
	ts := trainingSet{source: "dataset"}
	if target == "" {
		return ts, apperrors.Invalidf("target_column is required when training on data").WithField("target_column", "required", "required")
	}
	tc, err := f.MustColumn(target)
	if err != nil {
		return ts, err
	}
	if modelType == Regression && !tc.IsNumeric() {
		return ts, apperrors.Invalidf("regression target %q must be numeric", target)
	}
	var cols []*dataset.Column
	if len(features) > 0 {
		for _, name := range features {
			if name == target {
				return ts, apperrors.Invalidf("target column %q cannot be a feature", target)
			}
			c, err := f.MustColumn(name)
			if err != nil {
				return ts, err
			}
			if !c.IsNumeric() {
				return ts, apperrors.Invalidf("feature %q must be numeric", name)
			}
			cols = append(cols, c)
		}
	} else {
		for _, c := range f.NumericColumns() {
			if c.Name != target {
				cols = append(cols, c)
			}
		}
	}
	if len(cols) == 0 {
		return ts, apperrors.Invalidf("no numeric feature columns besides the target")
	}
	for _, c := range cols {
		ts.features = append(ts.features, c.Name)
	}
rows:
	for i := 0; i < f.Len(); i++ {
		if tc.Values[i] == nil {
			continue
		}
		x := make([]float64, len(cols))
		for j, c := range cols {
			v, ok := c.FloatAt(i)
			if !ok {
				continue rows
			}
			x[j] = v
		}
		if modelType == Classification {
			ts.labels = append(ts.labels, dataset.FormatValue(tc.Values[i]))
		} else {
			v, _ := tc.FloatAt(i)
			ts.y = append(ts.y, v)
		}
		ts.X = append(ts.X, x)
	}
	return ts, nil
}

// Train fits a model, scores it on a held-out split and with k-fold
// cross-validation on the training rows, and stores it under its name.
func (s *Service) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	modelType := firstNonEmpty(req.ModelType, Classification)
	algorithm := firstNonEmpty(req.Algorithm, RandomForest)
	if err := CheckAlgorithm(modelType, algorithm); err != nil {
		return nil, err
	}
	name := req.ModelName
	if name == "" {
		name = "model_" + s.now().Format("20060102_150405")
	}
	if !modelNamePattern.MatchString(name) {
		return nil, apperrors.Invalidf("invalid model_name %q", name).WithField("model_name", "letters, digits, '_', '.', '-' only", "model_name")
	}
	testSize := req.TestSize
	if testSize == 0 {
		testSize = s.defaults.TestSize
	}
	seed := s.defaults.RandomState
	if req.RandomState != nil {
		seed = *req.RandomState
	}
	cvFolds := req.CVFolds
	if cvFolds == 0 {
		cvFolds = s.defaults.CVFolds
	}
	rng := rand.New(rand.NewSource(seed))

	var ts trainingSet
	if req.HasData() {
		f, err := s.data.Resolve(ctx, req.Ref)
		if err != nil {
			return nil, err
		}
		if ts, err = fromFrame(f, modelType, req.TargetColumn, req.Features); err != nil {
			return nil, err
		}
	} else {
		n, d := req.NSamples, req.NFeatures
		if n == 0 {
			n = defaultSamples
		}
		if d == 0 {
			d = defaultFeatures
		}
		ts = synthetic(modelType, n, d, rng)
	}

	var classes []string
	if modelType == Classification {
		classes, ts.y = EncodeLabels(ts.labels)
		if len(classes) < 2 {
			return nil, apperrors.Invalidf("classification needs at least two target classes, found %d", len(classes))
		}
	}
	train, test, err := splitIndices(len(ts.X), testSize, rng)
	if err != nil {
		return nil, err
	}
	trainX, trainY := subset(ts.X, ts.y, train)
	testX, testY := subset(ts.X, ts.y, test)

	build := func() (*Pipeline, error) { return NewPipeline(modelType, algorithm, classes, req.Params) }
	p, err := build()
	if err != nil {
		return nil, err
	}
	if err := p.Fit(trainX, trainY, rng); err != nil {
		return nil, apperrors.Invalidf("training failed: %v", err)
	}
	cvMean, cvStd, err := crossValidate(build, trainX, trainY, cvFolds, rng)
	if err != nil {
		return nil, err
	}
	metrics := testMetrics(p, testX, testY, cvMean, cvStd)

	if err := s.store(ctx, name, req, p, ts, metrics, len(trainX)); err != nil {
		return nil, err
	}
	s.logger.Info("model trained",
		zap.String("model", name),
		zap.String("type", modelType),
		zap.String("algorithm", algorithm),
		zap.Int("training_samples", len(trainX)))
	if s.publisher != nil {
		messaging.PublishAsync(s.publisher, s.logger, messaging.NewEvent(messaging.ModelTrained, name, map[string]interface{}{
			"model_type": modelType, "algorithm": algorithm, "data_id": req.DataID,
		}))
	}

	return &TrainResult{
		ModelName: name,
		ModelType: modelType,
		Algorithm: algorithm,
		Metrics:   metrics,
		TrainingInfo: TrainingInfo{
			TrainingSamples: len(trainX),
			TestSamples:     len(testX),
			Features:        len(ts.features),
			FeatureNames:    ts.features,
			CVFolds:         cvFolds,
			TargetColumn:    req.TargetColumn,
			Classes:         classes,
			DataSource:      ts.source,
		},
	}, nil
}

func (s *Service) store(ctx context.Context, name string, req TrainRequest, p *Pipeline, ts trainingSet, metrics Metrics, nTrain int) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	features, _ := json.Marshal(ts.features)
	m, _ := json.Marshal(metrics)
	params, _ := json.Marshal(req.Params)
	rec := &storage.ModelRecord{
		Name:            name,
		ModelType:       p.ModelType,
		Algorithm:       p.Algorithm,
		TargetColumn:    req.TargetColumn,
		Features:        string(features),
		NFeatures:       len(ts.features),
		TrainingSamples: nTrain,
		Metrics:         string(m),
		Params:          string(params),
		Blob:            blob,
		TrainedAt:       s.now().UTC(),
	}
	if err := s.catalog.SaveModel(ctx, rec); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	s.mu.Lock()
	s.loaded[name] = &model{rec: rec, pipeline: p, features: ts.features, metrics: metrics}
	s.mu.Unlock()
	return nil
}

func (s *Service) load(ctx context.Context, name string) (*model, error) {
	if name == "" {
		return nil, apperrors.Invalidf("Model name is required").WithField("model_name", "required", "required")
	}
	s.mu.RLock()
	m, ok := s.loaded[name]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}
	rec, err := s.catalog.GetModel(ctx, name)
	if err != nil {
		return nil, err
	}
	m = &model{rec: rec, pipeline: &Pipeline{}}
	if err := json.Unmarshal(rec.Blob, m.pipeline); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(rec.Features), &m.features); err != nil {
		return nil, fmt.Errorf("failed to decode features of %s: %w", name, err)
	}
	_ = json.Unmarshal([]byte(rec.Metrics), &m.metrics)
	s.mu.Lock()
	s.loaded[name] = m
	s.mu.Unlock()
	return m, nil
}

func (m *model) info() ModelInfo {
	return ModelInfo{
		Type:            m.rec.ModelType,
		Algorithm:       m.rec.Algorithm,
		TrainedAt:       m.rec.TrainedAt,
		TrainingSamples: m.rec.TrainingSamples,
		Features:        m.rec.NFeatures,
	}
}

// Predict scores the supplied rows, or n_predictions random standard
// normal rows when none are given.
func (s *Service) Predict(ctx context.Context, req PredictRequest) (*PredictResult, error) {
	m, err := s.load(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}
	var rows [][]float64
	if len(req.Data) > 0 {
		for i, rec := range req.Data {
			x := make([]float64, len(m.features))
			for j, name := range m.features {
				v, ok := toFloat(rec[name])
				if !ok {
					return nil, apperrors.Invalidf("row %d: feature %q is missing or not numeric", i, name).WithField(name, "numeric value required", "numeric")
				}
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, apperrors.Invalidf("row %d: feature %q must be a finite number", i, name).WithField(name, "finite value required", "finite")
				}
				x[j] = v
			}
			rows = append(rows, x)
		}
	} else {
		n := req.NPredictions
		if n == 0 {
			n = defaultPredictions
		}
		seed := s.now().UnixNano()
		if req.RandomState != nil {
			seed = *req.RandomState
		}
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < n; i++ {
			x := make([]float64, len(m.features))
			for j := range x {
				x[j] = rng.NormFloat64()
			}
			rows = append(rows, x)
		}
	}

	res := &PredictResult{ModelName: req.ModelName, ModelInfo: m.info()}
	for i, x := range rows {
		p := Prediction{PredictionID: i + 1}
		raw := m.pipeline.Predict(x)
		if m.pipeline.ModelType == Regression {
			p.PredictedValue = numfmt.Round(raw, places)
		} else {
			p.PredictedValue = labelValue(m.pipeline.Classes[int(raw)])
			if proba := m.pipeline.Proba(x); proba != nil {
				p.Probabilities = make(map[string]float64, len(proba))
				best := 0.0
				for c, v := range proba {
					p.Probabilities["class_"+m.pipeline.Classes[c]] = numfmt.Round(v, places)
					if v > best {
						best = v
					}
				}
				p.Confidence = rounded(best)
			}
		}
		res.Predictions = append(res.Predictions, p)
	}
	res.PredictionCount = len(res.Predictions)
	return res, nil
}

// Evaluate reports stored metrics and feature importance. Forests report
// normalized impurity importance, linear models their coefficients.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResult, error) {
	m, err := s.load(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}
	ev := Evaluation{
		ModelPerformance:    m.metrics,
		ModelInfo:           m.info(),
		FeatureImportance:   map[string]float64{},
		ImportanceKind:      "coefficient",
		EvaluationTimestamp: s.now().UTC(),
	}
	if m.pipeline.Algorithm == RandomForest {
		ev.ImportanceKind = "impurity"
	}
	for j, v := range m.pipeline.Importance() {
		if j < len(m.features) {
			ev.FeatureImportance[m.features[j]] = numfmt.Round(v, places)
		}
	}
	return &EvaluateResult{ModelName: req.ModelName, EvaluationResults: ev}, nil
}

// List returns every stored model, newest first
func (s *Service) List(ctx context.Context) (*ListResult, error) {
	recs, err := s.catalog.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	res := &ListResult{Models: make([]ModelSummary, 0, len(recs))}
	for _, rec := range recs {
		var metrics Metrics
		_ = json.Unmarshal([]byte(rec.Metrics), &metrics)
		res.Models = append(res.Models, ModelSummary{
			Name:            rec.Name,
			Type:            rec.ModelType,
			Algorithm:       rec.Algorithm,
			TrainedAt:       rec.TrainedAt,
			TrainingSamples: rec.TrainingSamples,
			Features:        rec.NFeatures,
			TargetColumn:    rec.TargetColumn,
			Performance:     metrics,
		})
	}
	res.TotalModels = len(res.Models)
	return res, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// labelValue returns numeric class labels as numbers
func labelValue(label string) interface{} {
	if i, err := strconv.ParseInt(label, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(label, 64); err == nil {
		return f
	}
	return label
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
