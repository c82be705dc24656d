package measurement

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/devicelink"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/devicevendor"
)

// defaultWindow is how far back a fetch reaches when the caller gives no
// time window.
const defaultWindow = 7 * 24 * time.Hour

// CredentialSource supplies valid vendor access tokens. Implemented by
// devicelink.Service.
type CredentialSource interface {
	EnsureFreshToken(ctx context.Context, userID string) (*devicelink.Credential, error)
	ResolveVendorUser(ctx context.Context, vendorUserID string) (string, error)
}

// VitalsApplier receives each ingested batch so the latest-value projection
// stays current. Implemented by vitals.Service.
type VitalsApplier interface {
	Apply(ctx context.Context, userID string, batch []Measurement) error
}

// Service pulls raw measurement groups from the vendor, normalizes them, and
// persists them idempotently.
type Service struct {
	links  CredentialSource
	vendor *devicevendor.Client
	repo   MeasurementRepository
	vitals VitalsApplier
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(links CredentialSource, vendor *devicevendor.Client, repo MeasurementRepository, vitals VitalsApplier, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{
		links:  links,
		vendor: vendor,
		repo:   repo,
		vitals: vitals,
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

// Fetch pulls the user's measurement groups for the window, normalizes them
// via the fixed type-code table, and upserts them in one atomic batch.
// Groups with no recognized type code are dropped. A zero start or end fills
// in the default window ending now.
//
// Error pass-through: devicelink.ErrNotConnected when the user never linked,
// devicelink.ErrNeedsReconnect when the lazy refresh failed (the credential
// is gone), *devicevendor.APIError with the vendor status for vendor
// failures.
func (s *Service) Fetch(ctx context.Context, userID string, start, end time.Time) ([]Measurement, error) {
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.Add(-defaultWindow)
	}

	cred, err := s.links.EnsureFreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := s.vendor.Measurements(ctx, cred.AccessToken, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch measurements: %w", err)
	}

	var batch []Measurement
	dropped := 0
	for _, g := range groups {
		normalized := NormalizeGroup(userID, g)
		if len(normalized) == 0 {
			dropped++
			continue
		}
		batch = append(batch, normalized...)
	}
	if dropped > 0 {
		s.logger.Debug().
			Str("user_id", userID).
			Int("dropped_groups", dropped).
			Msg("groups without a recognized type code dropped")
	}
	if len(batch) == 0 {
		return nil, nil
	}

	// One transaction covers the measurement batch and the projection update,
	// so a persistence failure leaves neither half-applied.
	var inserted int
	err = s.inTx(ctx, func(txCtx context.Context) error {
		var txErr error
		inserted, txErr = s.repo.UpsertBatch(txCtx, batch)
		if txErr != nil {
			return fmt.Errorf("persist measurements: %w", txErr)
		}
		if s.vitals != nil {
			if txErr := s.vitals.Apply(txCtx, userID, batch); txErr != nil {
				return fmt.Errorf("update live vitals: %w", txErr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("groups", len(groups)).
		Int("normalized", len(batch)).
		Int("inserted", inserted).
		Msg("measurements ingested")
	return batch, nil
}

// inTx wraps fn in a database transaction. Without a pool (in-memory repos
// under test) fn runs directly.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// HandleNotification is the webhook entry point: the vendor tells us new
// measurements exist for one of its users, and we pull them. Duplicate and
// out-of-order deliveries are tolerated because ingestion is idempotent.
func (s *Service) HandleNotification(ctx context.Context, vendorUserID string, start, end time.Time) error {
	userID, err := s.links.ResolveVendorUser(ctx, vendorUserID)
	if err != nil {
		return err
	}
	_, err = s.Fetch(ctx, userID, start, end)
	return err
}

// List returns the user's stored measurements, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]*Measurement, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
