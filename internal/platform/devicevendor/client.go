// Package devicevendor implements the HTTP client for the connected
// health-device vendor's API: OAuth token issuance and refresh, measurement
// retrieval, and webhook subscription management.
//
// The vendor's API does not follow plain OAuth2/REST conventions: every
// response arrives as HTTP 200 with a JSON envelope whose numeric "status"
// field signals success (0) or a vendor-defined failure cause, and the
// payload sits under "body". Requests are form-encoded POSTs except for
// measurement retrieval.
package devicevendor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Vendor status codes. Zero is success; everything else is a failure cause.
// Only the codes this subsystem reacts to are enumerated.
const (
	StatusOK                = 0
	StatusInvalidParams     = 247
	StatusAlreadySubscribed = 293
	StatusInvalidToken      = 401
	StatusTooManyRequests   = 601
	StatusBadCallbackURL    = 2555
)

// Notification categories for webhook subscriptions.
const (
	ApplianceBodyMetrics = 1 // weight, blood pressure, heart rate, temperature, SpO2
)

// Config carries the process-wide vendor client credentials and endpoints,
// loaded once at startup and injected into the services that need them.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthorizeURL string
	Scopes       string
}

// APIError is a vendor-signalled failure: the HTTP exchange succeeded but the
// envelope carried a non-zero status. The vendor status code is preserved
// verbatim for diagnostics.
type APIError struct {
	Status  int
	Cause   string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("vendor status %d (%s): %s", e.Status, e.Cause, e.Message)
	}
	return fmt.Sprintf("vendor status %d (%s)", e.Status, e.Cause)
}

// CauseForStatus maps a vendor status code to a small fixed set of known
// causes for diagnostics.
func CauseForStatus(status int) string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusInvalidParams:
		return "invalid parameters"
	case StatusAlreadySubscribed:
		return "already subscribed"
	case StatusInvalidToken:
		return "invalid token"
	case StatusTooManyRequests:
		return "too many requests"
	case StatusBadCallbackURL:
		return "invalid callback url"
	default:
		return "unknown"
	}
}

// Token is a vendor-issued access/refresh token pair. ExpiresIn is the
// vendor's stated TTL in seconds at issuance time.
type Token struct {
	VendorUserID string `json:"userid"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// MeasureValue is one scalar inside a measurement group. The real value is
// Value scaled by 10^Unit.
type MeasureValue struct {
	Value int64 `json:"value"`
	Type  int   `json:"type"`
	Unit  int   `json:"unit"`
}

// Float returns the scalar with the vendor's decimal scaling applied.
func (v MeasureValue) Float() float64 {
	f := float64(v.Value)
	switch {
	case v.Unit > 0:
		for i := 0; i < v.Unit; i++ {
			f *= 10
		}
	case v.Unit < 0:
		for i := 0; i > v.Unit; i-- {
			f /= 10
		}
	}
	return f
}

// MeasureGroup is one vendor-reported reading group: all scalars captured by
// one device at one instant, identified by a vendor-scoped group id.
type MeasureGroup struct {
	GroupID  int64          `json:"grpid"`
	Date     int64          `json:"date"`
	Model    string         `json:"model"`
	Measures []MeasureValue `json:"measures"`
}

// MeasuredAt returns the group's capture instant.
func (g MeasureGroup) MeasuredAt() time.Time {
	return time.Unix(g.Date, 0).UTC()
}

type envelope struct {
	Status int             `json:"status"`
	Error  string          `json:"error"`
	Body   json.RawMessage `json:"body"`
}

// Client talks to the vendor API. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a vendor API client. Returns an error when the vendor
// client credentials are missing, since no call can succeed without them.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("vendor client id and secret are required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vendor base URL is required")
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AuthorizeURL builds the vendor consent-screen URL for the given CSRF state
// and redirect URI.
func (c *Client) AuthorizeURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("scope", c.cfg.Scopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return c.cfg.AuthorizeURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code for the initial token pair.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	return c.requestToken(ctx, form)
}

// RefreshToken trades a refresh token for a new token pair. A non-zero vendor
// status comes back as *APIError; transport and decoding failures do not,
// so callers can tell a vendor rejection from a network blip.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)

	return c.requestToken(ctx, form)
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*Token, error) {
	body, err := c.postForm(ctx, c.cfg.BaseURL+"/v2/oauth2", "", form)
	if err != nil {
		return nil, err
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, fmt.Errorf("vendor returned an incomplete token pair")
	}
	return &tok, nil
}

// Measurements fetches all measurement groups captured in [start, end].
func (c *Client) Measurements(ctx context.Context, accessToken string, start, end time.Time) ([]MeasureGroup, error) {
	q := url.Values{}
	q.Set("action", "getmeas")
	q.Set("startdate", strconv.FormatInt(start.Unix(), 10))
	q.Set("enddate", strconv.FormatInt(end.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/measure?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build measurement request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		MeasureGroups []MeasureGroup `json:"measuregrps"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode measurement response: %w", err)
	}
	return payload.MeasureGroups, nil
}

// Subscribe registers callbackURL for the given notification category.
// The vendor treats re-registration as its own status (293); that is reported
// as alreadySubscribed=true with a nil error so callers can suppress noise.
func (c *Client) Subscribe(ctx context.Context, accessToken, callbackURL string, appli int) (alreadySubscribed bool, err error) {
	form := url.Values{}
	form.Set("action", "subscribe")
	form.Set("callbackurl", callbackURL)
	form.Set("appli", strconv.Itoa(appli))

	_, err = c.postForm(ctx, c.cfg.BaseURL+"/notify", accessToken, form)
	if err == nil {
		return false, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == StatusAlreadySubscribed {
		return true, nil
	}
	return false, err
}

func (c *Client) postForm(ctx context.Context, endpoint, accessToken string, form url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build vendor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read vendor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vendor returned HTTP %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode vendor envelope: %w", err)
	}
	if env.Status != StatusOK {
		return nil, &APIError{
			Status:  env.Status,
			Cause:   CauseForStatus(env.Status),
			Message: env.Error,
		}
	}
	return env.Body, nil
}
