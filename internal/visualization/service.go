package visualization

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

// Export formats
const (
	FormatPNG  = "png"
	FormatSVG  = "svg"
	FormatPDF  = "pdf"
	FormatHTML = "html"
)

const (
	recentCharts  = 128
	artifactTTL   = 24 * time.Hour
	screenDPI     = 96
	downloadRoute = "/api/v1/visualization/download/"
)

// Resolver loads the frame a request refers to
type Resolver interface {
	Resolve(ctx context.Context, ref dataset.Ref) (*dataset.Frame, error)
}

// ArtifactSink records exported files for retention
type ArtifactSink interface {
	SaveArtifact(ctx context.Context, rec *storage.ArtifactRecord) error
}

type ChartRequest struct {
	dataset.Ref
	ChartType string      `json:"chart_type" binding:"required"`
	Config    ChartConfig `json:"config"`
}

// DashboardChart is one entry of a dashboard request
type DashboardChart struct {
	Type string `json:"type"`
	ChartConfig
}

type DashboardConfig struct {
	Title           string `json:"title"`
	Theme           string `json:"theme" binding:"omitempty,oneof=light dark"`
	Layout          string `json:"layout" binding:"omitempty,oneof=grid rows columns"`
	RefreshInterval int    `json:"refresh_interval" binding:"omitempty,min=0"`
}

type DashboardRequest struct {
	dataset.Ref
	Charts    []DashboardChart `json:"charts" binding:"required,min=1,dive"`
	Dashboard DashboardConfig  `json:"dashboard_config"`
}

type ExportRequest struct {
	dataset.Ref
	ChartID   string      `json:"chart_id"`
	ChartType string      `json:"chart_type"`
	Config    ChartConfig `json:"config"`
	Format    string      `json:"format" binding:"omitempty,oneof=png svg pdf html"`
	Quality   string      `json:"quality" binding:"omitempty,oneof=high standard low"`
}

type ChartResponse struct {
	ChartID string `json:"chart_id"`
	ChartResult
}

type DashboardEntry struct {
	ChartID string      `json:"chart_id"`
	Type    string      `json:"type"`
	Title   string      `json:"title"`
	Data    *Chart      `json:"data"`
	Config  ChartConfig `json:"config"`
}

type LayoutConfig struct {
	Title           string `json:"title"`
	Theme           string `json:"theme"`
	Layout          string `json:"layout"`
	RefreshInterval int    `json:"refresh_interval"`
}

type DashboardResult struct {
	DashboardID  string           `json:"dashboard_id"`
	Charts       []DashboardEntry `json:"charts"`
	LayoutConfig LayoutConfig     `json:"layout_config"`
	TotalCharts  int              `json:"total_charts"`
}

type ExportInfo struct {
	ExportFormat string `json:"export_format"`
	FileSize     string `json:"file_size"`
	Resolution   string `json:"resolution"`
	ExportTime   string `json:"export_time"`
}

type ExportResult struct {
	ChartID      string     `json:"chart_id"`
	ExportResult ExportInfo `json:"export_result"`
	DownloadURL  string     `json:"download_url"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// Service builds charts and renders exports into dir
type Service struct {
	data      Resolver
	artifacts ArtifactSink
	dir       string
	defaults  Defaults
	logger    *zap.Logger

	mu     sync.Mutex
	charts map[string]*Chart
	order  []string
	now    func() time.Time
}

func NewService(data Resolver, artifacts ArtifactSink, dir string, defaults Defaults, logger *zap.Logger) *Service {
	return &Service{
		data:      data,
		artifacts: artifacts,
		dir:       dir,
		defaults:  defaults,
		logger:    logger,
		charts:    make(map[string]*Chart),
		now:       time.Now,
	}
}

func (s *Service) remember(id string, ch *Chart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.charts[id]; !ok {
		s.order = append(s.order, id)
	}
	s.charts[id] = ch
	for len(s.order) > recentCharts {
		delete(s.charts, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Service) recall(id string) (*Chart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.charts[id]
	return ch, ok
}

// Chart builds one chart. The chart is kept briefly so it can be exported by id.
func (s *Service) Chart(ctx context.Context, req ChartRequest) (*ChartResponse, error) {
	if err := CheckType(req.ChartType); err != nil {
		return nil, err
	}
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	ch, err := Build(f, req.ChartType, req.Config, s.defaults)
	if err != nil {
		return nil, err
	}
	id := "chart_" + uuid.NewString()[:8]
	s.remember(id, ch)
	return &ChartResponse{
		ChartID: id,
		ChartResult: ChartResult{
			ChartType: req.ChartType,
			ChartData: ch,
			Metadata: ChartMetadata{
				GeneratedAt: s.now().UTC(),
				DataPoints:  ch.points,
				ChartConfig: req.Config,
			},
		},
	}, nil
}

// Dashboard builds every chart against the same data
func (s *Service) Dashboard(ctx context.Context, req DashboardRequest) (*DashboardResult, error) {
	if len(req.Charts) == 0 {
		return nil, apperrors.Invalidf("at least one chart is required").WithField("charts", "required", "required")
	}
	for i, c := range req.Charts {
		if c.Type == "" {
			continue
		}
		if err := CheckType(c.Type); err != nil {
			return nil, apperrors.Invalidf("charts[%d]: %v", i, err)
		}
	}
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	res := &DashboardResult{
		DashboardID: "dashboard_" + uuid.NewString(),
		LayoutConfig: LayoutConfig{
			Title:           firstNonEmpty(req.Dashboard.Title, "Analytics Dashboard"),
			Theme:           firstNonEmpty(req.Dashboard.Theme, "light"),
			Layout:          firstNonEmpty(req.Dashboard.Layout, "grid"),
			RefreshInterval: req.Dashboard.RefreshInterval,
		},
	}
	if res.LayoutConfig.RefreshInterval == 0 {
		res.LayoutConfig.RefreshInterval = 300
	}
	for i, c := range req.Charts {
		chartType := firstNonEmpty(c.Type, Bar)
		cfg := c.ChartConfig
		if cfg.Title == "" {
			cfg.Title = fmt.Sprintf("Chart %d", i+1)
		}
		ch, err := Build(f, chartType, cfg, s.defaults)
		if err != nil {
			return nil, apperrors.Invalidf("charts[%d]: %v", i, err)
		}
		id := fmt.Sprintf("chart_%d", i+1)
		s.remember(res.DashboardID+"/"+id, ch)
		res.Charts = append(res.Charts, DashboardEntry{ChartID: id, Type: chartType, Title: cfg.Title, Data: ch, Config: cfg})
	}
	res.TotalCharts = len(res.Charts)
	return res, nil
}

// Resolution returns the pixel size for an export quality
func Resolution(quality string) (int, int) {
	if quality == "" || quality == "high" {
		return 1920, 1080
	}
	return 1280, 720
}

var htmlPage = template.Must(template.New("chart").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="margin:0">{{.SVG}}</body></html>
`))

// Export renders a chart to REPORT_DIR/charts and returns its download info.
// The chart comes from chart_id when it was built recently, otherwise from
// the inline chart_type and config.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	format := firstNonEmpty(req.Format, FormatPNG)
	switch format {
	case FormatPNG, FormatSVG, FormatPDF, FormatHTML:
	default:
		return nil, apperrors.Invalidf("unsupported export format %q", format).WithField("format", "must be one of png, svg, pdf, html", "oneof")
	}

	ch, ok := s.recall(req.ChartID)
	if !ok {
		if req.ChartType == "" {
			if req.ChartID != "" {
				return nil, apperrors.NotFoundf("chart %q not found; supply chart_type and config to render it again", req.ChartID)
			}
			return nil, apperrors.Invalidf("chart_id or chart_type is required").WithField("chart_type", "required", "required")
		}
		if err := CheckType(req.ChartType); err != nil {
			return nil, err
		}
		f, err := s.data.Resolve(ctx, req.Ref)
		if err != nil {
			return nil, err
		}
		if ch, err = Build(f, req.ChartType, req.Config, s.defaults); err != nil {
			return nil, err
		}
	}
	id := req.ChartID
	if id == "" || strings.ContainsAny(id, `/\`) {
		id = "chart_" + uuid.NewString()[:8]
	}

	start := s.now()
	p, err := Render(ch)
	if err != nil {
		return nil, apperrors.Invalidf("cannot render chart: %v", err).Wrap(err)
	}
	w, h := Resolution(req.Quality)
	width := vg.Length(w) * vg.Inch / screenDPI
	height := vg.Length(h) * vg.Inch / screenDPI

	dir := filepath.Join(s.dir, "charts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chart directory: %w", err)
	}
	name := id + "." + format
	path := filepath.Join(dir, name)
	if format == FormatHTML {
		err = writeHTML(p, width, height, ch.Styling.Title, path)
	} else {
		err = p.Save(width, height, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export chart: %w", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat export: %w", err)
	}
	elapsed := s.now().Sub(start)

	created := s.now().UTC()
	if s.artifacts != nil {
		rec := &storage.ArtifactRecord{
			ID:        uuid.NewString(),
			Format:    format,
			Path:      path,
			SizeBytes: st.Size(),
			CreatedAt: created,
			ExpiresAt: created.Add(artifactTTL),
		}
		if err := s.artifacts.SaveArtifact(ctx, rec); err != nil {
			s.logger.Warn("failed to record chart export", zap.String("path", path), zap.Error(err))
		}
	}
	s.logger.Info("chart exported", zap.String("chart_id", id), zap.String("format", format), zap.Int64("bytes", st.Size()))

	return &ExportResult{
		ChartID: id,
		ExportResult: ExportInfo{
			ExportFormat: format,
			FileSize:     fmt.Sprintf("%d KB", (st.Size()+1023)/1024),
			Resolution:   fmt.Sprintf("%dx%d", w, h),
			ExportTime:   fmt.Sprintf("%.2f seconds", elapsed.Seconds()),
		},
		DownloadURL: downloadRoute + name,
		ExpiresAt:   created.Add(artifactTTL),
	}, nil
}

func writeHTML(p *plot.Plot, w, h vg.Length, title, path string) error {
	wt, err := p.WriterTo(w, h, FormatSVG)
	if err != nil {
		return err
	}
	var svg bytes.Buffer
	if _, err := wt.WriteTo(&svg); err != nil {
		return err
	}
	var page bytes.Buffer
	err = htmlPage.Execute(&page, struct {
		Title string
		SVG   template.HTML
	}{Title: title, SVG: template.HTML(svg.String())})
	if err != nil {
		return err
	}
	return os.WriteFile(path, page.Bytes(), 0o644)
}

// Path maps a download name to an exported file, rejecting anything that is
// not a plain file name inside the chart directory.
func (s *Service) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", apperrors.NotFoundf("file %q not found", name)
	}
	path := filepath.Join(s.dir, "charts", name)
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return "", apperrors.NotFoundf("file %q not found", name)
	}
	return path, nil
}

// PaletteInfo lists the available color palettes
type PaletteInfo struct {
	Palettes map[string][]string `json:"palettes"`
	Default  string              `json:"default"`
}

func (s *Service) Palettes() PaletteInfo {
	out := make(map[string][]string, len(Palettes))
	for k, v := range Palettes {
		out[k] = append([]string(nil), v...)
	}
	return PaletteInfo{Palettes: out, Default: "default"}
}
