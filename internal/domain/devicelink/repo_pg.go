package devicelink

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type credentialRepoPG struct{ pool *pgxpool.Pool }

func NewCredentialRepoPG(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepoPG{pool: pool}
}

func (r *credentialRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const credentialCols = `user_id, access_token, refresh_token, vendor_user_id,
	expires_at, created_at, updated_at`

func (r *credentialRepoPG) scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	err := row.Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &c.VendorUserID,
		&c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *credentialRepoPG) Get(ctx context.Context, userID string) (*Credential, error) {
	return r.scanCredential(r.conn(ctx).QueryRow(ctx,
		`SELECT `+credentialCols+` FROM device_credential WHERE user_id = $1`, userID))
}

func (r *credentialRepoPG) GetByVendorUserID(ctx context.Context, vendorUserID string) (*Credential, error) {
	return r.scanCredential(r.conn(ctx).QueryRow(ctx,
		`SELECT `+credentialCols+` FROM device_credential WHERE vendor_user_id = $1`, vendorUserID))
}

// Upsert is last-write-wins on user_id: concurrent refreshes both write a
// structurally valid vendor-issued pair, so the per-row upsert is the sole
// serialization point.
func (r *credentialRepoPG) Upsert(ctx context.Context, c *Credential) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO device_credential (user_id, access_token, refresh_token, vendor_user_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			vendor_user_id = EXCLUDED.vendor_user_id,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`,
		c.UserID, c.AccessToken, c.RefreshToken, c.VendorUserID, c.ExpiresAt)
	return err
}

// Delete is idempotent: deleting an absent credential is not an error.
func (r *credentialRepoPG) Delete(ctx context.Context, userID string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM device_credential WHERE user_id = $1`, userID)
	return err
}
