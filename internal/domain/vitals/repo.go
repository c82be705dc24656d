package vitals

import (
	"context"

	"github.com/telecare/telecare/internal/domain/measurement"
)

// LiveVitalsRepository persists the latest-reading projection. Upsert only
// advances an entry: a write carrying an older measured_at than the stored
// row is a no-op.
type LiveVitalsRepository interface {
	Upsert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, userID string, deviceType measurement.Type) (*Entry, error)
	ListByUser(ctx context.Context, userID string) ([]*Entry, error)
}
