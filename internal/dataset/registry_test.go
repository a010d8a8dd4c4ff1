package dataset

import (
	"context"
	"os"
	"strings"
	"testing"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T, maxSize int64) *Registry {
	db, err := storage.Open("sqlite://:memory:")
	require.NoError(t, err)
	store, err := storage.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(t.TempDir(), maxSize, store, zaptest.NewLogger(t))
}

func TestRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 1<<20)

	res, err := r.Upload(ctx, "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	assert.NotEmpty(t, res.DataID)
	assert.Equal(t, "sales.csv", res.Filename)
	assert.Equal(t, int64(len(salesCSV)), res.FileSize)
	assert.Equal(t, 3, res.DataInfo.Rows)
	assert.Equal(t, "other", res.Label)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// evict the parsed frame to force a re-read from disk
	r.forget(res.DataID)
	f, summary, err := r.Get(ctx, res.DataID)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, "csv", summary.Format)

	sel, err := r.Resolve(ctx, Ref{DataID: res.DataID, Columns: []string{"revenue"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue"}, sel.Names())

	path := r.dir + "/" + res.DataID + ".csv"
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, res.DataID))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, _, err = r.Get(ctx, res.DataID)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestRegistry_UploadRejects(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 16)

	_, err := r.Upload(ctx, "big.csv", strings.NewReader(salesCSV))
	assert.Equal(t, apperrors.TooLarge, apperrors.KindOf(err))

	_, err = r.Upload(ctx, "notes.txt", strings.NewReader("x"))
	assert.Equal(t, apperrors.Unsupported, apperrors.KindOf(err))

	_, err = r.Upload(ctx, "", strings.NewReader("x"))
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	entries, err := os.ReadDir(r.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistry_ResolveInline(t *testing.T) {
	r := newTestRegistry(t, 1<<20)
	f, err := r.Resolve(context.Background(), Ref{Data: []map[string]interface{}{{"a": 1.0}}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())

	_, err = r.Resolve(context.Background(), Ref{})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

func TestRegistry_SaveFrame(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 1<<20)
	f := FromRecords([]map[string]interface{}{{"a": 1.0}, {"a": 2.0}})

	s, err := r.SaveFrame(ctx, "cleaned.json", f)
	require.NoError(t, err)
	assert.Equal(t, "cleaned.csv", s.Filename)

	r.forget(s.DataID)
	got, _, err := r.Get(ctx, s.DataID)
	require.NoError(t, err)
	assert.Equal(t, f.Records(0), got.Records(0))
}
