package storage

import "time"

// DatasetRecord catalogs an uploaded file
type DatasetRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Filename  string `gorm:"size:255;not null"`
	Path      string `gorm:"size:1024;not null"`
	Format    string `gorm:"size:16"`
	Label     string `gorm:"size:32"`
	SizeBytes int64
	Rows      int
	Columns   int
	CreatedAt time.Time `gorm:"index"`
}

// ModelRecord stores a trained model with its metadata
type ModelRecord struct {
	Name            string `gorm:"primaryKey;size:128"`
	ModelType       string `gorm:"size:32;not null"`
	Algorithm       string `gorm:"size:64;not null"`
	TargetColumn    string `gorm:"size:255"`
	Features        string `gorm:"type:text"`
	NFeatures       int
	TrainingSamples int
	Metrics         string `gorm:"type:text"`
	Params          string `gorm:"type:text"`
	Blob            []byte
	TrainedAt       time.Time
}

// ReportRecord keeps a generated report body
type ReportRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	ReportType  string `gorm:"size:64;index"`
	DatasetID   string `gorm:"size:36"`
	Content     string `gorm:"type:text"`
	GeneratedAt time.Time `gorm:"index"`
}

// ArtifactRecord tracks an exported file on disk
type ArtifactRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	ReportID  string `gorm:"size:36;index"`
	Format    string `gorm:"size:16"`
	Path      string `gorm:"size:1024;not null"`
	SizeBytes int64
	CreatedAt time.Time `gorm:"index"`
	ExpiresAt time.Time
}

// ScheduleRecord is a recurring report generation
type ScheduleRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	ReportType   string `gorm:"size:64;not null"`
	DatasetID    string `gorm:"size:36"`
	Frequency    string `gorm:"size:16;not null"`
	ScheduleTime string `gorm:"size:5;not null"`
	ExportFormat string `gorm:"size:16"`
	Recipients   string `gorm:"type:text"`
	AutoSend     bool
	Active       bool      `gorm:"index"`
	NextRun      time.Time `gorm:"index"`
	LastRun      *time.Time
	CreatedAt    time.Time
}
