package vitals

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/domain/measurement"
	"github.com/telecare/telecare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type liveVitalsRepoPG struct{ pool *pgxpool.Pool }

func NewLiveVitalsRepoPG(pool *pgxpool.Pool) LiveVitalsRepository {
	return &liveVitalsRepoPG{pool: pool}
}

func (r *liveVitalsRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `user_id, device_type, systolic, diastolic, value, measured_at, updated_at`

func (r *liveVitalsRepoPG) scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.UserID, &e.DeviceType, &e.Systolic, &e.Diastolic,
		&e.Value, &e.MeasuredAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert overwrites the (user, device type) row unless the stored row is
// newer; a stale write from an out-of-order ingestion cannot regress the
// projection.
func (r *liveVitalsRepoPG) Upsert(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO live_vitals (user_id, device_type, systolic, diastolic, value, measured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, device_type) DO UPDATE SET
			systolic = EXCLUDED.systolic,
			diastolic = EXCLUDED.diastolic,
			value = EXCLUDED.value,
			measured_at = EXCLUDED.measured_at,
			updated_at = NOW()
		WHERE live_vitals.measured_at <= EXCLUDED.measured_at`,
		e.UserID, e.DeviceType, e.Systolic, e.Diastolic, e.Value, e.MeasuredAt)
	return err
}

func (r *liveVitalsRepoPG) Get(ctx context.Context, userID string, deviceType measurement.Type) (*Entry, error) {
	return r.scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM live_vitals WHERE user_id = $1 AND device_type = $2`,
		userID, deviceType))
}

func (r *liveVitalsRepoPG) ListByUser(ctx context.Context, userID string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM live_vitals WHERE user_id = $1 ORDER BY device_type`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.DeviceType, &e.Systolic, &e.Diastolic,
			&e.Value, &e.MeasuredAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
