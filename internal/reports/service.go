package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/Aidin1998/analytics/internal/ml"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/Aidin1998/analytics/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPeriod = 30 * 24 * time.Hour
	downloadTTL   = 24 * time.Hour
	downloadRoute = "/api/v1/reports/download/"
	basePages     = 5
)

// Resolver loads the frame a request refers to
type Resolver interface {
	Resolve(ctx context.Context, ref dataset.Ref) (*dataset.Frame, error)
}

// Models exposes trained models for the ML section
type Models interface {
	List(ctx context.Context) (*ml.ListResult, error)
	Evaluate(ctx context.Context, req ml.EvaluateRequest) (*ml.EvaluateResult, error)
}

// Catalog persists reports and schedules
type Catalog interface {
	SaveReport(ctx context.Context, rec *storage.ReportRecord) error
	GetReport(ctx context.Context, id string) (*storage.ReportRecord, error)
	SaveSchedule(ctx context.Context, rec *storage.ScheduleRecord) error
	DueSchedules(ctx context.Context, now time.Time) ([]storage.ScheduleRecord, error)
	MarkScheduleRun(ctx context.Context, id string, ranAt, next time.Time) error
}

// ArtifactSink records exported files for retention
type ArtifactSink interface {
	SaveArtifact(ctx context.Context, rec *storage.ArtifactRecord) error
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type GenerateRequest struct {
	dataset.Ref
	ReportType      string     `json:"report_type" binding:"omitempty,oneof=executive_summary detailed_analysis data_quality ml_performance custom"`
	IncludeSections []string   `json:"include_sections"`
	DateRange       *DateRange `json:"date_range"`
	DataSources     []string   `json:"data_sources"`
}

type Metadata struct {
	ReportID         string    `json:"report_id"`
	ReportType       string    `json:"report_type"`
	GeneratedAt      time.Time `json:"generated_at"`
	DateRange        DateRange `json:"date_range"`
	SectionsIncluded []string  `json:"sections_included"`
	TotalPages       int       `json:"total_pages"`
	DataSources      []string  `json:"data_sources"`
}

type Content struct {
	Title          string                 `json:"title"`
	GenerationDate time.Time              `json:"generation_date"`
	DateRange      DateRange              `json:"date_range"`
	Sections       map[string]interface{} `json:"sections"`
}

// Report is the stored form of a generated report
type Report struct {
	ReportMetadata Metadata `json:"report_metadata"`
	ReportContent  Content  `json:"report_content"`
}

type GenerateResult struct {
	Report
	AvailableExports []string `json:"available_exports"`
}

type ExportRequest struct {
	ReportID           string `json:"report_id" binding:"required"`
	Format             string `json:"format" binding:"omitempty,oneof=pdf html json csv docx"`
	IncludeAttachments *bool  `json:"include_attachments"`
}

type ExportInfo struct {
	FileSize            string `json:"file_size"`
	ExportTime          string `json:"export_time"`
	CompressionUsed     bool   `json:"compression_used"`
	AttachmentsIncluded bool   `json:"attachments_included"`
	Quality             string `json:"quality"`
}

type DownloadInfo struct {
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	FileSize    string    `json:"file_size"`
}

type ExportResult struct {
	ReportID     string       `json:"report_id"`
	ExportFormat string       `json:"export_format"`
	ExportResult ExportInfo   `json:"export_result"`
	DownloadInfo DownloadInfo `json:"download_info"`
}

// Service generates, exports and schedules reports
type Service struct {
	data       Resolver
	models     Models
	catalog    Catalog
	artifacts  ArtifactSink
	publisher  messaging.Publisher
	dir        string
	thresholds validation.Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(data Resolver, models Models, catalog Catalog, artifacts ArtifactSink, publisher messaging.Publisher, dir string, th validation.Thresholds, logger *zap.Logger) *Service {
	return &Service{
		data:       data,
		models:     models,
		catalog:    catalog,
		artifacts:  artifacts,
		publisher:  publisher,
		dir:        dir,
		thresholds: th,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) Templates() TemplatesResult { return Templates() }

func needsData(sections []string) bool {
	for _, sec := range sections {
		switch sec {
		case SectionDataOverview, SectionStatisticalAnalysis, SectionVisualizations, SectionDataQuality:
			return true
		}
	}
	return false
}

func needsModels(sections []string) bool {
	for _, sec := range sections {
		switch sec {
		case SectionExecutiveSummary, SectionMLResults, SectionRecommendations:
			return true
		}
	}
	return false
}

// Generate computes the requested sections over the referenced dataset and
// trained models and stores the report.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.ReportType == "" {
		req.ReportType = TypeDetailedAnalysis
	}
	if err := checkReportType(req.ReportType); err != nil {
		return nil, err
	}
	sections, err := resolveSections(req.ReportType, req.IncludeSections)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	period := DateRange{Start: now.Add(-defaultPeriod), End: now}
	if req.DateRange != nil {
		period = *req.DateRange
		if period.End.IsZero() {
			period.End = now
		}
		if period.Start.IsZero() {
			period.Start = period.End.Add(-defaultPeriod)
		}
		if period.End.Before(period.Start) {
			return nil, apperrors.Invalidf("date_range end is before start").WithField("date_range", "end before start", "gtefield")
		}
	}

	src := &source{thresholds: s.thresholds, now: now, sources: req.DataSources}
	if req.HasData() {
		if src.frame, err = s.data.Resolve(ctx, req.Ref); err != nil {
			return nil, err
		}
	} else if needsData(sections) && !needsModels(sections) {
		return nil, apperrors.Invalidf("No data provided: supply data_id or data")
	}
	if len(src.sources) == 0 {
		switch {
		case req.DataID != "":
			src.sources = []string{"dataset:" + req.DataID}
		case len(req.Data) > 0:
			src.sources = []string{"inline_data"}
		default:
			src.sources = []string{"model_catalog"}
		}
	}
	if s.models != nil && needsModels(sections) {
		if err := s.loadModels(ctx, src); err != nil {
			return nil, err
		}
	}

	content := Content{
		Title:          templates[req.ReportType].Name,
		GenerationDate: now,
		DateRange:      period,
		Sections:       make(map[string]interface{}, len(sections)),
	}
	for _, sec := range sections {
		content.Sections[sec] = src.build(sec)
	}
	report := Report{
		ReportMetadata: Metadata{
			ReportID:         uuid.NewString(),
			ReportType:       req.ReportType,
			GeneratedAt:      now,
			DateRange:        period,
			SectionsIncluded: sections,
			TotalPages:       basePages + 2*len(sections),
			DataSources:      src.sources,
		},
		ReportContent: content,
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	rec := &storage.ReportRecord{
		ID:          report.ReportMetadata.ReportID,
		ReportType:  req.ReportType,
		DatasetID:   req.DataID,
		Content:     string(raw),
		GeneratedAt: now,
	}
	if err := s.catalog.SaveReport(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}
	s.logger.Info("report generated",
		zap.String("report_id", rec.ID),
		zap.String("report_type", req.ReportType),
		zap.Strings("sections", sections))
	messaging.PublishAsync(s.publisher, s.logger, messaging.NewEvent(messaging.ReportGenerated, rec.ID, map[string]interface{}{
		"report_type": req.ReportType,
		"dataset_id":  req.DataID,
		"sections":    sections,
	}))
	return &GenerateResult{Report: report, AvailableExports: exportFormats}, nil
}

// loadModels fills the model list and the best model's importances
func (s *Service) loadModels(ctx context.Context, src *source) error {
	list, err := s.models.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	src.models = list.Models
	best := src.bestModel()
	if best == nil {
		return nil
	}
	ev, err := s.models.Evaluate(ctx, ml.EvaluateRequest{ModelName: best.Name})
	if err != nil {
		s.logger.Warn("feature importance unavailable", zap.String("model", best.Name), zap.Error(err))
		return nil
	}
	src.importance = ev.EvaluationResults.FeatureImportance
	return nil
}

func (s *Service) reportDir() string { return filepath.Join(s.dir, "reports") }

// Export renders a stored report into a file under the report directory
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.ReportID == "" {
		return nil, apperrors.Invalidf("report_id is required").WithField("report_id", "required", "required")
	}
	format := req.Format
	if format == "" {
		format = FormatPDF
	}
	supported := false
	for _, f := range exportFormats {
		supported = supported || f == format
	}
	if !supported {
		return nil, apperrors.Invalidf("Unsupported export format. Supported formats: %s", strings.Join(exportFormats, ", ")).
			WithField("format", "unsupported export format", "oneof")
	}
	attach := req.IncludeAttachments == nil || *req.IncludeAttachments

	rec, err := s.catalog.GetReport(ctx, req.ReportID)
	if err != nil {
		return nil, err
	}
	doc, err := newDocument([]byte(rec.Content))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.reportDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report dir: %w", err)
	}
	name := rec.ID + "." + format
	path := filepath.Join(s.reportDir(), name)

	start := time.Now()
	switch format {
	case FormatJSON:
		err = writeJSON(doc, path)
	case FormatCSV:
		err = writeCSV(doc, path)
	case FormatHTML:
		err = writeHTML(doc, path, attach)
	default:
		err = writePDF(doc, path, attach)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s report: %w", format, err)
	}
	elapsed := time.Since(start)
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat report file: %w", err)
	}

	now := s.now().UTC()
	expires := now.Add(downloadTTL)
	if s.artifacts != nil {
		art := &storage.ArtifactRecord{
			ID:        uuid.NewString(),
			ReportID:  rec.ID,
			Format:    format,
			Path:      path,
			SizeBytes: st.Size(),
			CreatedAt: now,
			ExpiresAt: expires,
		}
		if err := s.artifacts.SaveArtifact(ctx, art); err != nil {
			s.logger.Warn("artifact not recorded", zap.String("path", path), zap.Error(err))
		}
	}
	size := fmt.Sprintf("%d KB", (st.Size()+1023)/1024)
	s.logger.Info("report exported", zap.String("report_id", rec.ID), zap.String("format", format), zap.Int64("bytes", st.Size()))
	return &ExportResult{
		ReportID:     rec.ID,
		ExportFormat: format,
		ExportResult: ExportInfo{
			FileSize:            size,
			ExportTime:          fmt.Sprintf("%.2f seconds", elapsed.Seconds()),
			CompressionUsed:     format == FormatPDF,
			AttachmentsIncluded: attach && (format == FormatPDF || format == FormatHTML),
			Quality:             "high",
		},
		DownloadInfo: DownloadInfo{
			DownloadURL: downloadRoute + name,
			ExpiresAt:   expires,
			FileSize:    size,
		},
	}, nil
}

// Path resolves a download name to an exported report file
func (s *Service) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", apperrors.NotFoundf("file %q not found", name)
	}
	path := filepath.Join(s.reportDir(), name)
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return "", apperrors.NotFoundf("file %q not found", name)
	}
	return path, nil
}
