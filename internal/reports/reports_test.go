package reports

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/Aidin1998/analytics/internal/ml"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/Aidin1998/analytics/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

type eventSink struct{ events chan messaging.Event }

func (s *eventSink) Publish(_ context.Context, e messaging.Event) error {
	s.events <- e
	return nil
}

func (s *eventSink) Close() error { return nil }

func (s *eventSink) waitFor(t *testing.T, typ messaging.EventType) messaging.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-s.events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return messaging.Event{}
		}
	}
}

type mapResolver map[string]*dataset.Frame

func (m mapResolver) Resolve(_ context.Context, ref dataset.Ref) (*dataset.Frame, error) {
	if ref.DataID != "" {
		f, ok := m[ref.DataID]
		if !ok {
			return nil, apperrors.NotFoundf("dataset %q not found", ref.DataID)
		}
		return f, nil
	}
	if len(ref.Data) == 0 {
		return nil, apperrors.Invalidf("No data provided: supply data_id or data")
	}
	return dataset.FromRecords(ref.Data), nil
}

type fakeModels struct {
	models     []ml.ModelSummary
	importance map[string]float64
}

func (f fakeModels) List(context.Context) (*ml.ListResult, error) {
	return &ml.ListResult{Models: f.models, TotalModels: len(f.models)}, nil
}

func (f fakeModels) Evaluate(_ context.Context, req ml.EvaluateRequest) (*ml.EvaluateResult, error) {
	return &ml.EvaluateResult{ModelName: req.ModelName, EvaluationResults: ml.Evaluation{FeatureImportance: f.importance}}, nil
}

func fptr(v float64) *float64 { return &v }

func records() []map[string]interface{} {
	out := make([]map[string]interface{}, 20)
	for i := range out {
		cat := "a"
		if i%2 == 1 {
			cat = "b"
		}
		out[i] = map[string]interface{}{"x": float64(i + 1), "y": float64(2 * (i + 1)), "cat": cat}
	}
	return out
}

type fixture struct {
	svc       *Service
	store     *storage.Store
	events    *eventSink
	retention *Retention
	dir       string
}

func newFixture(t *testing.T) *fixture {
	db, err := storage.Open("sqlite://:memory:")
	require.NoError(t, err)
	store, err := storage.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := zaptest.NewLogger(t)
	sink := &eventSink{events: make(chan messaging.Event, 32)}
	models := fakeModels{
		models: []ml.ModelSummary{
			{Name: "weak", Type: "classification", Algorithm: "svm", Performance: ml.Metrics{Accuracy: fptr(0.6)}},
			{Name: "churn", Type: "classification", Algorithm: "random_forest", Performance: ml.Metrics{Accuracy: fptr(0.9), CVMean: 0.88}},
		},
		importance: map[string]float64{"x": 0.1, "y": -0.6, "z": 0.3, "w": 0.05},
	}
	dir := t.TempDir()
	retention := NewRetention(store, 30, logger)
	resolver := mapResolver{"ds1": dataset.FromRecords(records())}
	svc := NewService(resolver, models, store, retention, sink, dir, validation.DefaultThresholds(), logger)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, events: sink, retention: retention, dir: dir}
}

func TestTemplates(t *testing.T) {
	res := Templates()
	assert.Equal(t, 5, res.TotalTemplates)
	tpl := res.AvailableTemplates[TypeMLPerformance]
	assert.Equal(t, "Machine Learning Performance Report", tpl.Name)
	assert.Contains(t, tpl.DefaultSections, "feature_importance")

	tpl.DefaultSections[0] = "changed"
	assert.Equal(t, "executive_summary", Templates().AvailableTemplates[TypeMLPerformance].DefaultSections[0])
}

func TestResolveSections(t *testing.T) {
	got, err := resolveSections(TypeCustom, []string{"summary", "analysis"})
	require.NoError(t, err)
	assert.Equal(t, []string{SectionExecutiveSummary, SectionDataOverview, SectionStatisticalAnalysis}, got)

	got, err = resolveSections(TypeMLPerformance, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{SectionExecutiveSummary, SectionMLResults, SectionRecommendations}, got)

	_, err = resolveSections(TypeCustom, []string{"charts"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

func TestNextRun(t *testing.T) {
	next, err := NextRun(fixedNow, Daily, "09:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), next)

	next, err = NextRun(fixedNow, Weekly, "18:45")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 8, 18, 45, 0, 0, time.UTC), next)

	next, err = NextRun(fixedNow, Monthly, "00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), next)

	for _, bad := range []string{"9:00", "25:00", "09:60", "nine"} {
		_, err = NextRun(fixedNow, Daily, bad)
		assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err), bad)
	}
	_, err = NextRun(fixedNow, "hourly", "09:00")
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

func TestGenerateDetailedAnalysis(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.svc.Generate(context.Background(), GenerateRequest{Ref: dataset.Ref{Data: records()}})
	require.NoError(t, err)

	meta := res.ReportMetadata
	assert.Equal(t, TypeDetailedAnalysis, meta.ReportType)
	assert.Equal(t, []string{
		SectionExecutiveSummary, SectionDataOverview, SectionStatisticalAnalysis,
		SectionVisualizations, SectionMLResults, SectionRecommendations,
	}, meta.SectionsIncluded)
	assert.Equal(t, 17, meta.TotalPages)
	assert.Equal(t, []string{"inline_data"}, meta.DataSources)
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), meta.DateRange.Start)
	assert.Equal(t, "Detailed Analysis Report", res.ReportContent.Title)
	assert.Equal(t, exportFormats, res.AvailableExports)

	summary := res.ReportContent.Sections[SectionExecutiveSummary].(ExecutiveSummary)
	assert.Contains(t, summary.KeyFindings, "Total records analyzed: 20")
	assert.Contains(t, summary.KeyFindings, "Significant correlations identified: 1")
	assert.Contains(t, summary.KeyFindings, "Best model: churn (accuracy 0.9)")

	overview := res.ReportContent.Sections[SectionDataOverview].(DataOverview)
	assert.Equal(t, 20, overview.DatasetInfo.TotalRows)
	assert.Equal(t, 2, overview.DatasetInfo.DataTypes["numeric"])
	assert.Equal(t, 1, overview.DatasetInfo.DataTypes["categorical"])

	stats := res.ReportContent.Sections[SectionStatisticalAnalysis].(StatisticalAnalysis)
	assert.Equal(t, 2, stats.DescriptiveStatistics.VariablesAnalyzed)
	assert.Equal(t, 1, stats.DescriptiveStatistics.SignificantCorrelations)
	require.NotEmpty(t, stats.KeyInsights)
	assert.Contains(t, stats.KeyInsights[0], "between x and y")

	viz := res.ReportContent.Sections[SectionVisualizations].(Visualizations)
	assert.Equal(t, 5, viz.ChartsGenerated)
	assert.Equal(t, map[string]int{"histogram": 2, "scatter": 1, "heatmap": 1, "bar": 1}, viz.ChartTypes)

	mlRes := res.ReportContent.Sections[SectionMLResults].(MLResults)
	assert.Equal(t, 2, mlRes.ModelsTrained)
	require.NotNil(t, mlRes.BestModelPerformance)
	assert.Equal(t, "churn", mlRes.BestModelPerformance.Name)
	assert.Equal(t, 0.88, mlRes.BestModelPerformance.CVMean)
	require.NotNil(t, mlRes.FeatureImportance)
	assert.Equal(t, []string{"y", "z", "x"}, mlRes.FeatureImportance.TopFeatures)
	assert.Equal(t, 4, mlRes.FeatureImportance.FeatureCount)

	recs := res.ReportContent.Sections[SectionRecommendations].(RecommendationsSection)
	assert.Equal(t, len(recs.Recommendations), recs.TotalRecommendations)
	assert.Equal(t, 3, recs.PriorityLevels["low"])

	stored, err := fx.store.GetReport(context.Background(), meta.ReportID)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal([]byte(stored.Content), &back))
	assert.Equal(t, meta.ReportID, back.ReportMetadata.ReportID)
	assert.Len(t, back.ReportContent.Sections, 6)

	e := fx.events.waitFor(t, messaging.ReportGenerated)
	assert.Equal(t, meta.ReportID, e.Subject)
}

func TestGenerateDataQualityAndAppendix(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.svc.Generate(context.Background(), GenerateRequest{
		Ref:             dataset.Ref{DataID: "ds1"},
		ReportType:      TypeCustom,
		IncludeSections: []string{"data_quality", "appendix"},
		DataSources:     []string{"crm"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"crm"}, res.ReportMetadata.DataSources)

	q := res.ReportContent.Sections[SectionDataQuality].(DataQuality)
	assert.Equal(t, 1, q.CriticalIssues)
	assert.Equal(t, 100.0, q.QualityDimensions["completeness"])
	assert.InDelta(t, 66.7, q.QualityDimensions["uniqueness"], 1e-9)
	_, ok := res.ReportContent.Sections[SectionAppendix].(Appendix)
	assert.True(t, ok)
}

func TestGenerateWithoutData(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.svc.Generate(context.Background(), GenerateRequest{ReportType: TypeDataQuality})
	require.NoError(t, err)
	assert.Equal(t, Unavailable{Title: "Data Quality Assessment", Note: noDataset}, res.ReportContent.Sections[SectionDataQuality])
	assert.Equal(t, []string{"model_catalog"}, res.ReportMetadata.DataSources)

	_, err = fx.svc.Generate(context.Background(), GenerateRequest{ReportType: TypeCustom, IncludeSections: []string{"data_overview"}})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = fx.svc.Generate(context.Background(), GenerateRequest{ReportType: "quarterly"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = fx.svc.Generate(context.Background(), GenerateRequest{
		Ref:       dataset.Ref{DataID: "ds1"},
		DateRange: &DateRange{Start: fixedNow, End: fixedNow.Add(-time.Hour)},
	})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = fx.svc.Generate(context.Background(), GenerateRequest{Ref: dataset.Ref{DataID: "missing"}})
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestExportFormats(t *testing.T) {
	fx := newFixture(t)
	data := records()
	data[0]["cat"] = "<script>alert(1)</script>"
	gen, err := fx.svc.Generate(context.Background(), GenerateRequest{Ref: dataset.Ref{Data: data}})
	require.NoError(t, err)
	id := gen.ReportMetadata.ReportID

	for _, format := range []string{FormatJSON, FormatCSV, FormatHTML, FormatPDF} {
		res, err := fx.svc.Export(context.Background(), ExportRequest{ReportID: id, Format: format})
		require.NoError(t, err, format)
		assert.Equal(t, "/api/v1/reports/download/"+id+"."+format, res.DownloadInfo.DownloadURL)
		assert.Equal(t, fixedNow.Add(24*time.Hour), res.DownloadInfo.ExpiresAt)
		assert.True(t, strings.HasSuffix(res.ExportResult.FileSize, " KB"))

		path, err := fx.svc.Path(id + "." + format)
		require.NoError(t, err)
		body, err := os.ReadFile(path)
		require.NoError(t, err)
		switch format {
		case FormatJSON:
			var back Report
			require.NoError(t, json.Unmarshal(body, &back))
			assert.Equal(t, id, back.ReportMetadata.ReportID)
		case FormatCSV:
			assert.True(t, strings.HasPrefix(string(body), "section,field,value\n"))
			assert.Contains(t, string(body), "data_overview,dataset_info.total_rows,20")
		case FormatHTML:
			assert.Contains(t, string(body), "<h1>Detailed Analysis Report</h1>")
			assert.Contains(t, string(body), "<table>")
			assert.NotContains(t, string(body), "<script>")
			assert.True(t, res.ExportResult.AttachmentsIncluded)
		case FormatPDF:
			assert.True(t, strings.HasPrefix(string(body), "%PDF"))
			assert.True(t, res.ExportResult.CompressionUsed)
		}
	}
	assert.Equal(t, 4, fx.retention.Len())

	arts, err := fx.store.ListArtifacts(context.Background())
	require.NoError(t, err)
	assert.Len(t, arts, 4)
}

func TestExportErrors(t *testing.T) {
	fx := newFixture(t)
	gen, err := fx.svc.Generate(context.Background(), GenerateRequest{Ref: dataset.Ref{DataID: "ds1"}})
	require.NoError(t, err)

	_, err = fx.svc.Export(context.Background(), ExportRequest{ReportID: gen.ReportMetadata.ReportID, Format: "docx"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
	_, err = fx.svc.Export(context.Background(), ExportRequest{ReportID: "nope", Format: FormatJSON})
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
	_, err = fx.svc.Export(context.Background(), ExportRequest{})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	for _, name := range []string{"", "../x.pdf", ".hidden", "missing.pdf"} {
		_, err = fx.svc.Path(name)
		assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err), name)
	}
}

func TestFlattenValue(t *testing.T) {
	var out []field
	flattenValue("info", map[string]interface{}{
		"rows":  20.0,
		"types": map[string]interface{}{"numeric": 2.0},
		"tags":  []interface{}{"a", "b"},
		"items": []interface{}{map[string]interface{}{"k": true}},
	}, &out)
	assert.Equal(t, []field{
		{Name: "info.items[0].k", Value: "true"},
		{Name: "info.rows", Value: "20"},
		{Name: "info.tags", Value: "a; b"},
		{Name: "info.types.numeric", Value: "2"},
	}, out)
}

func TestScheduleAndTick(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.svc.Schedule(context.Background(), ScheduleRequest{
		ReportType:   TypeDataQuality,
		DataID:       "ds1",
		Frequency:    Daily,
		ScheduleTime: "09:00",
		Recipients:   []string{"ops@example.com"},
		ExportFormat: FormatCSV,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), res.NextRun)
	assert.True(t, res.ScheduleConfig.AutoSend)

	sc, err := NewScheduler(fx.svc, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	n, err := sc.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	later := time.Date(2024, 5, 2, 9, 5, 0, 0, time.UTC)
	fx.svc.now = func() time.Time { return later }
	n, err = sc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e := fx.events.waitFor(t, messaging.ReportScheduled)
	assert.Equal(t, res.ScheduleID, e.Subject)
	assert.Equal(t, []string{"ops@example.com"}, e.Data["recipients"])
	url := e.Data["download_url"].(string)
	_, err = fx.svc.Path(filepath.Base(url))
	assert.NoError(t, err)

	due, err := fx.store.DueSchedules(context.Background(), later)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = fx.store.DueSchedules(context.Background(), time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NotNil(t, due[0].LastRun)
}

func TestScheduleErrors(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Schedule(context.Background(), ScheduleRequest{ScheduleTime: "7am"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
	_, err = fx.svc.Schedule(context.Background(), ScheduleRequest{Frequency: "yearly"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
	_, err = fx.svc.Schedule(context.Background(), ScheduleRequest{ExportFormat: "docx"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

func TestRetentionSweep(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	write := func(id string, age time.Duration) string {
		path := filepath.Join(dir, id+".json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		require.NoError(t, fx.store.SaveArtifact(ctx, &storage.ArtifactRecord{
			ID: id, Format: "json", Path: path, CreatedAt: fixedNow.Add(-age),
		}))
		return path
	}
	oldest := write("a1", 45*24*time.Hour)
	old := write("a2", 31*24*time.Hour)
	fresh := write("a3", 2*24*time.Hour)
	gone := filepath.Join(dir, "already-gone.json")
	require.NoError(t, fx.store.SaveArtifact(ctx, &storage.ArtifactRecord{
		ID: "a0", Format: "json", Path: gone, CreatedAt: fixedNow.Add(-60 * 24 * time.Hour),
	}))

	r := NewRetention(fx.store, 30, zaptest.NewLogger(t))
	r.now = func() time.Time { return fixedNow }
	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, r.Len())

	for _, p := range []string{oldest, old} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	_, err = os.Stat(fresh)
	assert.NoError(t, err)

	arts, err := fx.store.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "a3", arts[0].ID)

	removed, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
