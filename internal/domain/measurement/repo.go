package measurement

import "context"

// MeasurementRepository persists normalized readings. UpsertBatch inserts all
// rows in one batch keyed on natural_key; rows whose key already exists are
// silently ignored, never overwritten. It returns the number of rows actually
// inserted.
type MeasurementRepository interface {
	UpsertBatch(ctx context.Context, batch []Measurement) (int, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Measurement, int, error)
}
