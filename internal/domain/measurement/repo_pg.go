package measurement

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type measurementRepoPG struct{ pool *pgxpool.Pool }

func NewMeasurementRepoPG(pool *pgxpool.Pool) MeasurementRepository {
	return &measurementRepoPG{pool: pool}
}

func (r *measurementRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const measurementCols = `id, user_id, measured_at, device_model, measurement_type,
	systolic, diastolic, value, natural_key, vendor_group_id, created_at`

func (r *measurementRepoPG) scanMeasurement(row pgx.Row) (*Measurement, error) {
	var m Measurement
	err := row.Scan(&m.ID, &m.UserID, &m.MeasuredAt, &m.DeviceModel, &m.Type,
		&m.Systolic, &m.Diastolic, &m.Value, &m.NaturalKey, &m.VendorGroupID,
		&m.CreatedAt)
	return &m, err
}

// UpsertBatch inserts the whole batch with ON CONFLICT (natural_key) DO
// NOTHING, so re-ingesting a vendor group already seen is a no-op. Callers
// wanting all-or-nothing semantics run it inside db.WithTx.
func (r *measurementRepoPG) UpsertBatch(ctx context.Context, batch []Measurement) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for i := range batch {
		m := &batch[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO measurement (id, user_id, measured_at, device_model, measurement_type,
				systolic, diastolic, value, natural_key, vendor_group_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (natural_key) DO NOTHING`,
			m.ID, m.UserID, m.MeasuredAt, m.DeviceModel, m.Type,
			m.Systolic, m.Diastolic, m.Value, m.NaturalKey, m.VendorGroupID)
	}

	results := r.conn(ctx).SendBatch(ctx, b)
	defer results.Close()

	inserted := 0
	for range batch {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, results.Close()
}

func (r *measurementRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Measurement, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM measurement WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+measurementCols+`
		FROM measurement WHERE user_id = $1
		ORDER BY measured_at DESC, vendor_group_id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Measurement
	for rows.Next() {
		m, err := r.scanMeasurement(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
