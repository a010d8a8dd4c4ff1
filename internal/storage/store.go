// Package storage is the relational catalog of datasets, models, reports and
// schedules.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to DATABASE_URL. sqlite://<path> and sqlite://:memory: use
// SQLite; postgres:// and postgresql:// URLs use PostgreSQL.
func Open(url string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		dialector = postgres.Open(url)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", url)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// a single connection keeps :memory: databases shared and serialises writers
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	}
	return db, nil
}

// Store wraps the catalog tables
type Store struct {
	db *gorm.DB
}

// NewStore migrates the catalog schema and returns a store
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&DatasetRecord{}, &ModelRecord{}, &ReportRecord{}, &ArtifactRecord{}, &ScheduleRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, format string, args ...interface{}) error {
	if apperrors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFoundf(format, args...)
	}
	return err
}

func (s *Store) SaveDataset(ctx context.Context, rec *DatasetRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *Store) GetDataset(ctx context.Context, id string) (*DatasetRecord, error) {
	var rec DatasetRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "dataset %q not found", id)
	}
	return &rec, nil
}

func (s *Store) ListDatasets(ctx context.Context) ([]DatasetRecord, error) {
	var recs []DatasetRecord
	err := s.db.WithContext(ctx).Order("created_at desc").Find(&recs).Error
	return recs, err
}

func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&DatasetRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundf("dataset %q not found", id)
	}
	return nil
}

func (s *Store) SaveModel(ctx context.Context, rec *ModelRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *Store) GetModel(ctx context.Context, name string) (*ModelRecord, error) {
	var rec ModelRecord
	if err := s.db.WithContext(ctx).First(&rec, "name = ?", name).Error; err != nil {
		return nil, notFound(err, "model %q not found", name)
	}
	return &rec, nil
}

// ListModels returns model metadata without the serialized parameters
func (s *Store) ListModels(ctx context.Context) ([]ModelRecord, error) {
	var recs []ModelRecord
	err := s.db.WithContext(ctx).Omit("blob").Order("trained_at desc").Find(&recs).Error
	return recs, err
}

func (s *Store) SaveReport(ctx context.Context, rec *ReportRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *Store) GetReport(ctx context.Context, id string) (*ReportRecord, error) {
	var rec ReportRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "report %q not found", id)
	}
	return &rec, nil
}

func (s *Store) SaveArtifact(ctx context.Context, rec *ArtifactRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

// ListArtifacts returns every exported artefact, oldest first
func (s *Store) ListArtifacts(ctx context.Context) ([]ArtifactRecord, error) {
	var recs []ArtifactRecord
	err := s.db.WithContext(ctx).Order("created_at asc").Find(&recs).Error
	return recs, err
}

func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ArtifactRecord{}, "id = ?", id).Error
}

func (s *Store) SaveSchedule(ctx context.Context, rec *ScheduleRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

// DueSchedules returns active schedules whose next run is not after now
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]ScheduleRecord, error) {
	var recs []ScheduleRecord
	err := s.db.WithContext(ctx).
		Where("active = ? AND next_run <= ?", true, now).
		Order("next_run asc").
		Find(&recs).Error
	return recs, err
}

// MarkScheduleRun records a completed run and the following run time
func (s *Store) MarkScheduleRun(ctx context.Context, id string, ranAt, next time.Time) error {
	return s.db.WithContext(ctx).Model(&ScheduleRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_run": ranAt, "next_run": next}).Error
}
