package storage

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	db, err := Open("sqlite://:memory:")
	require.NoError(t, err)
	s, err := NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open("mysql://localhost/db")
	assert.Error(t, err)
}

func TestDatasets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.SaveDataset(ctx, &DatasetRecord{ID: "a", Filename: "a.csv", Path: "uploads/a.csv", CreatedAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, s.SaveDataset(ctx, &DatasetRecord{ID: "b", Filename: "b.csv", Path: "uploads/b.csv", CreatedAt: time.Now()}))

	list, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)

	got, err := s.GetDataset(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.csv", got.Filename)

	require.NoError(t, s.DeleteDataset(ctx, "a"))
	_, err = s.GetDataset(ctx, "a")
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(s.DeleteDataset(ctx, "a")))
}

func TestModels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveModel(ctx, &ModelRecord{Name: "m", ModelType: "classification", Algorithm: "random_forest", Blob: []byte("{}"), TrainedAt: time.Now()}))
	require.NoError(t, s.SaveModel(ctx, &ModelRecord{Name: "m", ModelType: "classification", Algorithm: "svm", Blob: []byte("{}"), TrainedAt: time.Now()}))

	list, err := s.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "svm", list[0].Algorithm)
	assert.Empty(t, list[0].Blob)

	_, err = s.GetModel(ctx, "missing")
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestSchedules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveSchedule(ctx, &ScheduleRecord{ID: "due", ReportType: "executive_summary", Frequency: "daily", ScheduleTime: "09:00", Active: true, NextRun: now.Add(-time.Minute)}))
	require.NoError(t, s.SaveSchedule(ctx, &ScheduleRecord{ID: "later", ReportType: "executive_summary", Frequency: "daily", ScheduleTime: "09:00", Active: true, NextRun: now.Add(time.Hour)}))

	due, err := s.DueSchedules(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)

	require.NoError(t, s.MarkScheduleRun(ctx, "due", now, now.Add(24*time.Hour)))
	due, err = s.DueSchedules(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveArtifact(ctx, &ArtifactRecord{ID: "x", Path: "reports/x.json", CreatedAt: time.Now()}))
	list, err := s.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, s.DeleteArtifact(ctx, "x"))
	list, err = s.ListArtifacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
