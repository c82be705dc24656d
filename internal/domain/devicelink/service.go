package devicelink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/devicevendor"
)

// ServiceConfig carries the deployment-specific pieces of the link flow.
type ServiceConfig struct {
	RedirectURI        string
	WebhookCallbackURL string
	ExpiryBuffer       time.Duration
}

// Service owns the vendor credential lifecycle: authorization, callback
// exchange, refresh, and webhook subscription.
type Service struct {
	creds  CredentialRepository
	vendor *devicevendor.Client
	cfg    ServiceConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(creds CredentialRepository, vendor *devicevendor.Client, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.ExpiryBuffer <= 0 {
		cfg.ExpiryBuffer = 300 * time.Second
	}
	return &Service{
		creds:  creds,
		vendor: vendor,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// newState generates an unguessable CSRF state token. The caller round-trips
// it client-side for the duration of the OAuth exchange; it is never
// persisted server-side.
func newState() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// BeginAuthorization builds the vendor consent URL for the user. With
// forceRelink any existing credential is revoked first; absence is not an
// error. Nothing is persisted by this step.
func (s *Service) BeginAuthorization(ctx context.Context, userID string, forceRelink bool) (authURL, state string, err error) {
	if forceRelink {
		if err := s.creds.Delete(ctx, userID); err != nil {
			return "", "", fmt.Errorf("revoke existing credential: %w", err)
		}
		s.logger.Info().Str("user_id", userID).Msg("existing device link revoked for relink")
	}

	state, err = newState()
	if err != nil {
		return "", "", err
	}
	return s.vendor.AuthorizeURL(state, s.cfg.RedirectURI), state, nil
}

// CallbackParams are the values the vendor redirect carried back, plus the
// state the caller held on to since BeginAuthorization.
type CallbackParams struct {
	Code          string
	State         string
	ExpectedState string
	VendorError   string
}

// HandleCallback validates the vendor redirect, exchanges the code for the
// initial token pair, and persists the credential. Webhook subscription is
// attempted best-effort; its failure is returned as a warning, never as an
// error, because the link itself succeeded.
func (s *Service) HandleCallback(ctx context.Context, userID string, p CallbackParams) (warning string, err error) {
	if p.VendorError != "" {
		return "", fmt.Errorf("vendor rejected authorization: %s", p.VendorError)
	}
	if p.Code == "" || p.State == "" {
		return "", ErrMissingParam
	}
	if p.ExpectedState == "" || p.State != p.ExpectedState {
		// Security event: a mismatched state means the callback was not
		// produced by the authorization attempt we issued.
		s.logger.Warn().
			Str("user_id", userID).
			Msg("authorization callback state mismatch")
		return "", ErrStateMismatch
	}

	tok, err := s.vendor.ExchangeCode(ctx, p.Code, s.cfg.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}

	cred := &Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		VendorUserID: tok.VendorUserID,
		ExpiresAt:    s.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		return "", fmt.Errorf("persist credential: %w", err)
	}
	s.logger.Info().
		Str("user_id", userID).
		Str("vendor_user_id", cred.VendorUserID).
		Time("expires_at", cred.ExpiresAt).
		Msg("device link established")

	if s.cfg.WebhookCallbackURL != "" {
		if _, subErr := s.subscribe(ctx, cred); subErr != nil {
			s.logger.Warn().Err(subErr).Str("user_id", userID).
				Msg("webhook subscription failed after link")
			warning = fmt.Sprintf("linked, but webhook subscription failed: %v", subErr)
		}
	}
	return warning, nil
}

// EnsureFreshToken loads the user's credential and refreshes it when it is
// within the expiry buffer. Returns ErrNotConnected when no credential
// exists and ErrNeedsReconnect when the vendor rejected the refresh token
// (in which case the credential has already been deleted).
func (s *Service) EnsureFreshToken(ctx context.Context, userID string) (*Credential, error) {
	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrNotConnected
	}
	if !cred.ExpiresWithin(s.cfg.ExpiryBuffer, s.now()) {
		return cred, nil
	}
	return s.Refresh(ctx, cred)
}

// Refresh exchanges the stored refresh token for a new pair. A vendor
// rejection de-provisions the credential immediately: retrying an
// already-rejected refresh token would loop forever, so one failed refresh
// means the user must re-link. Transport failures leave the credential
// untouched.
func (s *Service) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	tok, err := s.vendor.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		var apiErr *devicevendor.APIError
		if errors.As(err, &apiErr) {
			s.logger.Warn().
				Str("user_id", cred.UserID).
				Int("vendor_status", apiErr.Status).
				Msg("refresh rejected by vendor, deleting credential")
			if delErr := s.creds.Delete(ctx, cred.UserID); delErr != nil {
				return nil, fmt.Errorf("delete credential after rejected refresh: %w", delErr)
			}
			return nil, fmt.Errorf("%w: %v", ErrNeedsReconnect, err)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	updated := &Credential{
		UserID:       cred.UserID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		VendorUserID: cred.VendorUserID,
		ExpiresAt:    s.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if tok.VendorUserID != "" {
		updated.VendorUserID = tok.VendorUserID
	}
	if err := s.creds.Upsert(ctx, updated); err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	return updated, nil
}

// SubscribeWebhook registers this deployment's callback URL with the vendor
// for the user. "Already subscribed" is reported distinctly but is success.
func (s *Service) SubscribeWebhook(ctx context.Context, userID string) (alreadySubscribed bool, err error) {
	cred, err := s.EnsureFreshToken(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.subscribe(ctx, cred)
}

func (s *Service) subscribe(ctx context.Context, cred *Credential) (bool, error) {
	if s.cfg.WebhookCallbackURL == "" {
		return false, fmt.Errorf("webhook callback URL is not configured")
	}
	return s.vendor.Subscribe(ctx, cred.AccessToken, s.cfg.WebhookCallbackURL, devicevendor.ApplianceBodyMetrics)
}

// Unlink deletes the user's credential. Idempotent.
func (s *Service) Unlink(ctx context.Context, userID string) error {
	return s.creds.Delete(ctx, userID)
}

// Status reports the user's connection state for the UI.
func (s *Service) Status(ctx context.Context, userID string) (*LinkStatus, error) {
	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return &LinkStatus{Connected: false}, nil
	}
	expires := cred.ExpiresAt
	return &LinkStatus{
		Connected:    true,
		VendorUserID: cred.VendorUserID,
		ExpiresAt:    &expires,
	}, nil
}

// ResolveVendorUser maps a vendor user id from a webhook notification back to
// the platform user. Returns ErrNotConnected when no link exists.
func (s *Service) ResolveVendorUser(ctx context.Context, vendorUserID string) (string, error) {
	cred, err := s.creds.GetByVendorUserID(ctx, vendorUserID)
	if err != nil {
		return "", fmt.Errorf("resolve vendor user: %w", err)
	}
	if cred == nil {
		return "", ErrNotConnected
	}
	return cred.UserID, nil
}
