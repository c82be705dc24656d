package devicelink

import (
	"errors"
	"time"
)

var (
	// ErrNotConnected means no credential exists for the user; the UI should
	// offer "connect", not "retry".
	ErrNotConnected = errors.New("no device link exists for user")

	// ErrNeedsReconnect means the credential existed but the vendor rejected
	// its refresh token; the credential has been deleted and the user must
	// re-authorize.
	ErrNeedsReconnect = errors.New("device link is no longer valid and must be re-authorized")

	// ErrStateMismatch is a CSRF failure: the state returned by the vendor
	// callback did not match the one issued for the authorization attempt.
	ErrStateMismatch = errors.New("authorization state mismatch")

	// ErrMissingParam means the vendor callback arrived without a code or state.
	ErrMissingParam = errors.New("authorization callback is missing a required parameter")
)

// Credential maps to the device_credential table: one vendor OAuth token pair
// per platform user. ExpiresAt always reflects the vendor's stated TTL at
// issuance time and is recomputed on every refresh.
type Credential struct {
	UserID       string    `db:"user_id" json:"user_id"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	VendorUserID string    `db:"vendor_user_id" json:"vendor_user_id"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires within buffer of now.
func (c *Credential) ExpiresWithin(buffer time.Duration, now time.Time) bool {
	return !now.Add(buffer).Before(c.ExpiresAt)
}

// LinkStatus is the connection view served to the UI.
type LinkStatus struct {
	Connected    bool       `json:"connected"`
	VendorUserID string     `json:"vendor_user_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
