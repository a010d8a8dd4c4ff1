package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Catalog persists dataset metadata
type Catalog interface {
	SaveDataset(ctx context.Context, rec *storage.DatasetRecord) error
	GetDataset(ctx context.Context, id string) (*storage.DatasetRecord, error)
	ListDatasets(ctx context.Context) ([]storage.DatasetRecord, error)
	DeleteDataset(ctx context.Context, id string) error
}

// maxCachedFrames bounds the parsed frames kept in memory
const maxCachedFrames = 32

// Registry stores uploaded files under a directory and keeps recently used
// frames parsed in memory.
type Registry struct {
	dir     string
	maxSize int64
	catalog Catalog
	logger  *zap.Logger

	mu     sync.Mutex
	frames map[string]*Frame
	order  []string
}

// NewRegistry creates a registry writing to dir
func NewRegistry(dir string, maxSize int64, catalog Catalog, logger *zap.Logger) *Registry {
	return &Registry{
		dir:     dir,
		maxSize: maxSize,
		catalog: catalog,
		logger:  logger,
		frames:  make(map[string]*Frame),
	}
}

// Summary describes a stored dataset
type Summary struct {
	DataID    string    `json:"data_id"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`
	Label     string    `json:"label"`
	FileSize  int64     `json:"file_size"`
	Rows      int       `json:"rows"`
	Columns   int       `json:"columns"`
	CreatedAt time.Time `json:"created_at"`
}

func summaryOf(rec *storage.DatasetRecord) Summary {
	return Summary{
		DataID:    rec.ID,
		Filename:  rec.Filename,
		Format:    rec.Format,
		Label:     rec.Label,
		FileSize:  rec.SizeBytes,
		Rows:      rec.Rows,
		Columns:   rec.Columns,
		CreatedAt: rec.CreatedAt,
	}
}

// UploadResult is returned by Upload
type UploadResult struct {
	DataID   string `json:"data_id"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	Label    string `json:"label"`
	DataInfo Info   `json:"data_info"`
}

// Upload stores and parses src. Files above the size limit are rejected
// with TooLarge and leave nothing behind.
func (r *Registry) Upload(ctx context.Context, filename string, src io.Reader) (*UploadResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, apperrors.Invalidf("No file selected")
	}
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	path := filepath.Join(r.dir, id+filepath.Ext(filename))
	size, err := r.writeLimited(path, src)
	if err != nil {
		return nil, err
	}

	frame, err := r.parseFile(filename, path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	rec := &storage.DatasetRecord{
		ID:        id,
		Filename:  filename,
		Path:      path,
		Format:    string(format),
		Label:     Label(filename),
		SizeBytes: size,
		Rows:      frame.Len(),
		Columns:   frame.Width(),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.catalog.SaveDataset(ctx, rec); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to record dataset: %w", err)
	}
	r.remember(id, frame)

	r.logger.Info("dataset uploaded",
		zap.String("data_id", id),
		zap.String("filename", filename),
		zap.Int64("size", size),
		zap.Int("rows", frame.Len()))

	return &UploadResult{
		DataID:   id,
		Filename: filename,
		FileSize: size,
		Label:    rec.Label,
		DataInfo: Describe(frame),
	}, nil
}

func (r *Registry) writeLimited(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create upload dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(src, r.maxSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("failed to store upload: %w", err)
	}
	if n > r.maxSize {
		_ = os.Remove(path)
		return 0, apperrors.TooLargef("File too large. Maximum size: %.0fMB", float64(r.maxSize)/(1024*1024))
	}
	if n == 0 {
		_ = os.Remove(path)
		return 0, apperrors.Invalidf("file is empty")
	}
	return n, nil
}

func (r *Registry) parseFile(filename, path string) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer fh.Close()
	return Load(filename, fh)
}

func (r *Registry) remember(id string, f *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.frames[id]; !ok {
		r.order = append(r.order, id)
	}
	r.frames[id] = f
	for len(r.order) > maxCachedFrames {
		delete(r.frames, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.frames, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the parsed frame of a stored dataset
func (r *Registry) Get(ctx context.Context, id string) (*Frame, Summary, error) {
	rec, err := r.catalog.GetDataset(ctx, id)
	if err != nil {
		return nil, Summary{}, err
	}
	r.mu.Lock()
	f, ok := r.frames[id]
	r.mu.Unlock()
	if !ok {
		if f, err = r.parseFile(rec.Filename, rec.Path); err != nil {
			return nil, Summary{}, err
		}
		r.remember(id, f)
	}
	return f, summaryOf(rec), nil
}

// List returns every stored dataset, newest first
func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	recs, err := r.catalog.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(recs))
	for i := range recs {
		out[i] = summaryOf(&recs[i])
	}
	return out, nil
}

// Delete removes the file and its catalog row
func (r *Registry) Delete(ctx context.Context, id string) error {
	rec, err := r.catalog.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	if err := r.catalog.DeleteDataset(ctx, id); err != nil {
		return err
	}
	r.forget(id)
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("failed to remove dataset file", zap.String("path", rec.Path), zap.Error(err))
	}
	return nil
}

// Ref selects the data a request operates on: a stored dataset or inline
// records, optionally narrowed to some columns.
type Ref struct {
	DataID  string                   `json:"data_id,omitempty"`
	Data    []map[string]interface{} `json:"data,omitempty"`
	Columns []string                 `json:"columns,omitempty"`
}

// HasData reports whether the reference names any data
func (ref Ref) HasData() bool {
	return ref.DataID != "" || len(ref.Data) > 0
}

// Resolve loads the frame a Ref points at
func (r *Registry) Resolve(ctx context.Context, ref Ref) (*Frame, error) {
	var f *Frame
	switch {
	case ref.DataID != "":
		var err error
		if f, _, err = r.Get(ctx, ref.DataID); err != nil {
			return nil, err
		}
	case len(ref.Data) > 0:
		f = FromRecords(ref.Data)
	default:
		return nil, apperrors.Invalidf("No data provided: supply data_id or data")
	}
	if len(ref.Columns) == 0 {
		return f, nil
	}
	return f.Select(ref.Columns)
}

// SaveFrame stores a derived frame as a new CSV dataset
func (r *Registry) SaveFrame(ctx context.Context, name string, f *Frame) (Summary, error) {
	id := uuid.NewString()
	filename := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + ".csv"
	path := filepath.Join(r.dir, id+".csv")
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("failed to create upload dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create dataset file: %w", err)
	}
	werr := WriteCSV(out, f)
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return Summary{}, fmt.Errorf("failed to write dataset: %w", werr)
	}
	st, err := os.Stat(path)
	if err != nil {
		return Summary{}, err
	}
	rec := &storage.DatasetRecord{
		ID:        id,
		Filename:  filename,
		Path:      path,
		Format:    string(FormatCSV),
		Label:     Label(filename),
		SizeBytes: st.Size(),
		Rows:      f.Len(),
		Columns:   f.Width(),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.catalog.SaveDataset(ctx, rec); err != nil {
		_ = os.Remove(path)
		return Summary{}, fmt.Errorf("failed to record dataset: %w", err)
	}
	r.remember(id, f)
	return summaryOf(rec), nil
}
