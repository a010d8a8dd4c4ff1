package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Frequencies
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

type ScheduleRequest struct {
	ReportType   string   `json:"report_type" binding:"omitempty,oneof=executive_summary detailed_analysis data_quality ml_performance custom"`
	DataID       string   `json:"data_id"`
	Frequency    string   `json:"frequency" binding:"omitempty,oneof=daily weekly monthly"`
	ScheduleTime string   `json:"schedule_time"`
	Recipients   []string `json:"recipients" binding:"omitempty,dive,email"`
	ExportFormat string   `json:"export_format" binding:"omitempty,oneof=pdf html json csv"`
	AutoSend     *bool    `json:"auto_send"`
}

type ScheduleConfig struct {
	ReportType   string   `json:"report_type"`
	DataID       string   `json:"data_id,omitempty"`
	Frequency    string   `json:"frequency"`
	ScheduleTime string   `json:"schedule_time"`
	Recipients   []string `json:"recipients"`
	ExportFormat string   `json:"export_format"`
	AutoSend     bool     `json:"auto_send"`
}

type ScheduleResult struct {
	ScheduleID     string         `json:"schedule_id"`
	ScheduleConfig ScheduleConfig `json:"schedule_config"`
	NextRun        time.Time      `json:"next_run"`
	CreatedAt      time.Time      `json:"created_at"`
}

// parseClock parses HH:MM on a 24 hour clock
func parseClock(hhmm string) (hour, minute int, err error) {
	t, perr := time.Parse("15:04", hhmm)
	if perr != nil || len(hhmm) != 5 {
		return 0, 0, apperrors.Invalidf("schedule_time must be HH:MM, got %q", hhmm).WithField("schedule_time", "must be HH:MM", "datetime")
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun advances from by one period and sets the time of day. Monthly
// periods are 30 days.
func NextRun(from time.Time, frequency, hhmm string) (time.Time, error) {
	hour, minute, err := parseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	var next time.Time
	switch frequency {
	case Daily:
		next = from.AddDate(0, 0, 1)
	case Weekly:
		next = from.AddDate(0, 0, 7)
	case Monthly:
		next = from.AddDate(0, 0, 30)
	default:
		return time.Time{}, apperrors.Invalidf("unsupported frequency %q", frequency).WithField("frequency", "must be one of daily, weekly, monthly", "oneof")
	}
	return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, from.Location()), nil
}

// Schedule stores a recurring report generation
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	cfg := ScheduleConfig{
		ReportType:   req.ReportType,
		DataID:       req.DataID,
		Frequency:    req.Frequency,
		ScheduleTime: req.ScheduleTime,
		Recipients:   req.Recipients,
		ExportFormat: req.ExportFormat,
		AutoSend:     req.AutoSend == nil || *req.AutoSend,
	}
	if cfg.ReportType == "" {
		cfg.ReportType = TypeDetailedAnalysis
	}
	if cfg.Frequency == "" {
		cfg.Frequency = Weekly
	}
	if cfg.ScheduleTime == "" {
		cfg.ScheduleTime = "09:00"
	}
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = FormatPDF
	}
	if cfg.Recipients == nil {
		cfg.Recipients = []string{}
	}
	if err := checkReportType(cfg.ReportType); err != nil {
		return nil, err
	}
	known := false
	for _, f := range exportFormats {
		known = known || f == cfg.ExportFormat
	}
	if !known {
		return nil, apperrors.Invalidf("Unsupported export format. Supported formats: %s", strings.Join(exportFormats, ", "))
	}
	now := s.now().UTC()
	next, err := NextRun(now, cfg.Frequency, cfg.ScheduleTime)
	if err != nil {
		return nil, err
	}
	rec := &storage.ScheduleRecord{
		ID:           uuid.NewString(),
		ReportType:   cfg.ReportType,
		DatasetID:    cfg.DataID,
		Frequency:    cfg.Frequency,
		ScheduleTime: cfg.ScheduleTime,
		ExportFormat: cfg.ExportFormat,
		Recipients:   strings.Join(cfg.Recipients, ","),
		AutoSend:     cfg.AutoSend,
		Active:       true,
		NextRun:      next,
		CreatedAt:    now,
	}
	if err := s.catalog.SaveSchedule(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store schedule: %w", err)
	}
	s.logger.Info("report scheduled",
		zap.String("schedule_id", rec.ID),
		zap.String("frequency", cfg.Frequency),
		zap.Time("next_run", next))
	return &ScheduleResult{ScheduleID: rec.ID, ScheduleConfig: cfg, NextRun: next, CreatedAt: now}, nil
}

// Scheduler runs due schedules on a fixed interval
type Scheduler struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger
	runs     metric.Int64Counter
}

func NewScheduler(svc *Service, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	runs, err := otel.Meter("github.com/Aidin1998/analytics/internal/reports").Int64Counter(
		"reports.scheduled_runs",
		metric.WithDescription("Scheduled report runs by outcome"),
	)
	if err != nil {
		return nil, err
	}
	return &Scheduler{svc: svc, interval: interval, logger: logger, runs: runs}, nil
}

// Run ticks until ctx is done
func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sc.Tick(ctx); err != nil {
				sc.logger.Error("schedule tick failed", zap.Error(err))
			} else if n > 0 {
				sc.logger.Info("scheduled reports processed", zap.Int("count", n))
			}
		}
	}
}

// Tick runs every due schedule once and returns how many ran. A failing
// schedule is logged and still advanced so it cannot block the others.
func (sc *Scheduler) Tick(ctx context.Context) (int, error) {
	now := sc.svc.now().UTC()
	due, err := sc.svc.catalog.DueSchedules(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due schedules: %w", err)
	}
	for _, rec := range due {
		outcome := "success"
		if err := sc.runOne(ctx, rec); err != nil {
			outcome = "failure"
			sc.logger.Warn("scheduled report failed", zap.String("schedule_id", rec.ID), zap.Error(err))
		}
		sc.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("report_type", rec.ReportType),
			attribute.String("outcome", outcome),
		))
		next, err := NextRun(now, rec.Frequency, rec.ScheduleTime)
		if err != nil {
			return 0, err
		}
		if err := sc.svc.catalog.MarkScheduleRun(ctx, rec.ID, now, next); err != nil {
			return 0, fmt.Errorf("failed to advance schedule %s: %w", rec.ID, err)
		}
	}
	return len(due), nil
}

func (sc *Scheduler) runOne(ctx context.Context, rec storage.ScheduleRecord) error {
	gen, err := sc.svc.Generate(ctx, GenerateRequest{
		Ref:        dataset.Ref{DataID: rec.DatasetID},
		ReportType: rec.ReportType,
	})
	if err != nil {
		return err
	}
	exp, err := sc.svc.Export(ctx, ExportRequest{ReportID: gen.ReportMetadata.ReportID, Format: rec.ExportFormat})
	if err != nil {
		return err
	}
	var recipients []string
	if rec.Recipients != "" {
		recipients = strings.Split(rec.Recipients, ",")
	}
	messaging.PublishAsync(sc.svc.publisher, sc.logger, messaging.NewEvent(messaging.ReportScheduled, rec.ID, map[string]interface{}{
		"report_id":    gen.ReportMetadata.ReportID,
		"download_url": exp.DownloadInfo.DownloadURL,
		"recipients":   recipients,
		"auto_send":    rec.AutoSend,
	}))
	return nil
}
