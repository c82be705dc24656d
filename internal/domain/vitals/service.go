package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/measurement"
)

// cacheTTL bounds how long a cached projection can serve reads before
// falling back to the store.
const cacheTTL = 5 * time.Minute

// Service maintains the latest-reading-per-device-type projection and serves
// it through an in-process read-through cache.
type Service struct {
	repo   LiveVitalsRepository
	cache  *ttlcache.Cache[string, []*Entry]
	logger zerolog.Logger
}

func NewService(repo LiveVitalsRepository, logger zerolog.Logger) *Service {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []*Entry](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, []*Entry](),
	)
	go cache.Start()

	return &Service{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// latestPerType reduces an ingested batch to the newest measurement of each
// device type. Ties on measured_at go to the higher vendor group id, which
// makes the projection deterministic when a device reports two groups in the
// same second.
func latestPerType(batch []measurement.Measurement) map[measurement.Type]*measurement.Measurement {
	latest := make(map[measurement.Type]*measurement.Measurement)
	for i := range batch {
		m := &batch[i]
		cur, ok := latest[m.Type]
		if !ok {
			latest[m.Type] = m
			continue
		}
		if m.MeasuredAt.After(cur.MeasuredAt) ||
			(m.MeasuredAt.Equal(cur.MeasuredAt) && m.VendorGroupID > cur.VendorGroupID) {
			latest[m.Type] = m
		}
	}
	return latest
}

// Apply folds an ingested batch into the projection: for each device type
// present, the newest measurement overwrites the (user, device type) entry.
// The repository ignores writes older than the stored row, so out-of-order
// batches cannot regress the projection.
func (s *Service) Apply(ctx context.Context, userID string, batch []measurement.Measurement) error {
	if len(batch) == 0 {
		return nil
	}

	for _, m := range latestPerType(batch) {
		entry := &Entry{
			UserID:     userID,
			DeviceType: m.Type,
			Systolic:   m.Systolic,
			Diastolic:  m.Diastolic,
			Value:      m.Value,
			MeasuredAt: m.MeasuredAt,
		}
		if err := s.repo.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("upsert live vitals for %s: %w", m.Type, err)
		}
	}

	// The cached projection is stale now; drop it rather than recompute so
	// the next read sees the committed state.
	s.cache.Delete(userID)
	return nil
}

// Latest returns the user's live vitals, serving from cache when fresh.
func (s *Service) Latest(ctx context.Context, userID string) ([]*Entry, error) {
	if item := s.cache.Get(userID); item != nil {
		return item.Value(), nil
	}

	entries, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load live vitals: %w", err)
	}
	s.cache.Set(userID, entries, ttlcache.DefaultTTL)
	return entries, nil
}

// Stop shuts down the cache janitor.
func (s *Service) Stop() {
	s.cache.Stop()
}
