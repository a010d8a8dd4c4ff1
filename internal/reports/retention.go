package reports

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// ArtifactStore persists exported file records
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, rec *storage.ArtifactRecord) error
	ListArtifacts(ctx context.Context) ([]storage.ArtifactRecord, error)
	DeleteArtifact(ctx context.Context, id string) error
}

// Retention indexes exported files by creation time and removes those
// older than the retention period. It is the ArtifactSink of both chart
// and report exports.
type Retention struct {
	store  ArtifactStore
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	byAge  *btree.Map[string, storage.ArtifactRecord]
	loaded bool
}

func NewRetention(store ArtifactStore, days int, logger *zap.Logger) *Retention {
	return &Retention{
		store:  store,
		maxAge: time.Duration(days) * 24 * time.Hour,
		logger: logger,
		now:    time.Now,
		byAge:  btree.NewMap[string, storage.ArtifactRecord](32),
	}
}

// ageKey orders by creation time, then id
func ageKey(rec storage.ArtifactRecord) string {
	return fmt.Sprintf("%020d/%s", rec.CreatedAt.UnixNano(), rec.ID)
}

// load fills the index from the catalog once. Callers hold mu.
func (r *Retention) load(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	recs, err := r.store.ListArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}
	for _, rec := range recs {
		r.byAge.Set(ageKey(rec), rec)
	}
	r.loaded = true
	return nil
}

func (r *Retention) SaveArtifact(ctx context.Context, rec *storage.ArtifactRecord) error {
	if err := r.store.SaveArtifact(ctx, rec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAge.Set(ageKey(*rec), *rec)
	return nil
}

// Len reports how many artifacts are indexed
func (r *Retention) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAge.Len()
}

// Sweep deletes artifacts created before now minus the retention period
// and returns how many were removed.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(ctx); err != nil {
		return 0, err
	}
	cutoff := r.now().Add(-r.maxAge)

	var expired []string
	r.byAge.Scan(func(key string, rec storage.ArtifactRecord) bool {
		if !rec.CreatedAt.Before(cutoff) {
			return false
		}
		expired = append(expired, key)
		return true
	})

	removed := 0
	for _, key := range expired {
		rec, _ := r.byAge.Get(key)
		if err := os.Remove(rec.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("failed to remove expired artifact", zap.String("path", rec.Path), zap.Error(err))
			continue
		}
		if err := r.store.DeleteArtifact(ctx, rec.ID); err != nil {
			return removed, fmt.Errorf("failed to delete artifact %s: %w", rec.ID, err)
		}
		r.byAge.Delete(key)
		removed++
	}
	if removed > 0 {
		r.logger.Info("expired artifacts removed", zap.Int("count", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Run sweeps on every interval until ctx is done
func (r *Retention) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
