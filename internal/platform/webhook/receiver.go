// Package webhook receives measurement notifications pushed by the device
// vendor. Deliveries are best-effort, at-least-once, and may arrive
// duplicated or out of order; the idempotent ingestion downstream makes
// redelivery harmless.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/devicelink"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Vendor-Signature"

// SignPayload computes an HMAC-SHA256 signature of the payload using the
// given secret, hex encoded.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the
// HMAC-SHA256 of the payload. Constant time.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NotificationHandler reacts to a vendor notification by pulling the
// referenced user's measurements. Implemented by measurement.Service.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, vendorUserID string, start, end time.Time) error
}

// Receiver is the HTTP boundary for vendor-pushed notifications.
type Receiver struct {
	handler NotificationHandler
	secret  string
	logger  zerolog.Logger
}

// NewReceiver creates a Receiver. When secret is empty, signature
// verification is skipped (the vendor does not sign in all configurations).
func NewReceiver(handler NotificationHandler, secret string, logger zerolog.Logger) *Receiver {
	return &Receiver{handler: handler, secret: secret, logger: logger}
}

// RegisterRoutes mounts the vendor-facing endpoints. The vendor probes the
// callback URL with HEAD before accepting a subscription, so HEAD must
// answer 200 without a body.
func (r *Receiver) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/device-vendor", r.Handle)
	e.HEAD("/webhooks/device-vendor", r.Probe)
}

// Probe answers the vendor's callback-URL validation check.
func (r *Receiver) Probe(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Handle processes one pushed notification: verify the signature, parse the
// referenced vendor user and window, and trigger a fetch. A notification for
// an unlinked user is acknowledged and dropped; transient processing
// failures return 5xx so the vendor redelivers.
func (r *Receiver) Handle(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if r.secret != "" {
		sig := c.Request().Header.Get(SignatureHeader)
		if sig == "" || !VerifySignature(body, r.secret, strings.TrimPrefix(sig, "sha256=")) {
			r.logger.Warn().
				Str("remote_ip", c.RealIP()).
				Msg("webhook notification with bad signature rejected")
			return c.NoContent(http.StatusUnauthorized)
		}
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	vendorUserID := form.Get("userid")
	if vendorUserID == "" {
		return c.NoContent(http.StatusBadRequest)
	}

	var start, end time.Time
	if v, err := strconv.ParseInt(form.Get("startdate"), 10, 64); err == nil && v > 0 {
		start = time.Unix(v, 0).UTC()
	}
	if v, err := strconv.ParseInt(form.Get("enddate"), 10, 64); err == nil && v > 0 {
		end = time.Unix(v, 0).UTC()
	}

	err = r.handler.HandleNotification(c.Request().Context(), vendorUserID, start, end)
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, devicelink.ErrNotConnected), errors.Is(err, devicelink.ErrNeedsReconnect):
		// The link is gone; redelivery cannot help. Acknowledge and drop.
		r.logger.Info().
			Str("vendor_user_id", vendorUserID).
			Msg("notification for unlinked vendor user dropped")
		return c.NoContent(http.StatusOK)
	default:
		r.logger.Error().Err(err).
			Str("vendor_user_id", vendorUserID).
			Msg("notification processing failed")
		return c.NoContent(http.StatusInternalServerError)
	}
}
