package devicelink

import "context"

// CredentialRepository persists vendor OAuth credentials, one row per user.
// Get and GetByVendorUserID return (nil, nil) when no credential exists, so
// callers can distinguish "not connected" from a store failure.
type CredentialRepository interface {
	Get(ctx context.Context, userID string) (*Credential, error)
	GetByVendorUserID(ctx context.Context, vendorUserID string) (*Credential, error)
	Upsert(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, userID string) error
}
