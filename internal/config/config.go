package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string   `mapstructure:"PORT"`
	Env          string   `mapstructure:"ENV"`
	DatabaseURL  string   `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer   string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`

	// Device vendor integration.
	VendorClientID       string `mapstructure:"VENDOR_CLIENT_ID"`
	VendorClientSecret   string `mapstructure:"VENDOR_CLIENT_SECRET"`
	VendorBaseURL        string `mapstructure:"VENDOR_BASE_URL"`
	VendorAuthorizeURL   string `mapstructure:"VENDOR_AUTHORIZE_URL"`
	VendorScopes         string `mapstructure:"VENDOR_SCOPES"`
	VendorRedirectURI    string `mapstructure:"VENDOR_REDIRECT_URI"`
	WebhookCallbackURL   string `mapstructure:"WEBHOOK_CALLBACK_URL"`
	WebhookSecret        string `mapstructure:"WEBHOOK_SECRET"`
	TokenExpiryBufferSec int    `mapstructure:"TOKEN_EXPIRY_BUFFER_SEC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("VENDOR_BASE_URL", "https://wbsapi.withings.net")
	v.SetDefault("VENDOR_AUTHORIZE_URL", "https://account.withings.com/oauth2_user/authorize2")
	v.SetDefault("VENDOR_SCOPES", "user.metrics,user.activity")
	v.SetDefault("TOKEN_EXPIRY_BUFFER_SEC", 300)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("VENDOR_CLIENT_ID")
	v.BindEnv("VENDOR_CLIENT_SECRET")
	v.BindEnv("VENDOR_BASE_URL")
	v.BindEnv("VENDOR_AUTHORIZE_URL")
	v.BindEnv("VENDOR_SCOPES")
	v.BindEnv("VENDOR_REDIRECT_URI")
	v.BindEnv("WEBHOOK_CALLBACK_URL")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("TOKEN_EXPIRY_BUFFER_SEC")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests are treated as authenticated.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// the vendor client credentials are mandatory: the token lifecycle cannot
// function without them, and discovering that mid-request would surface as an
// opaque 5xx instead of a startup failure.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set outside development")
		}
		if c.VendorClientID == "" {
			return fmt.Errorf("VENDOR_CLIENT_ID is required outside development")
		}
		if c.VendorClientSecret == "" {
			return fmt.Errorf("VENDOR_CLIENT_SECRET is required outside development")
		}
		if c.VendorRedirectURI == "" {
			return fmt.Errorf("VENDOR_REDIRECT_URI is required outside development")
		}
	}
	if c.WebhookCallbackURL != "" && !strings.HasPrefix(c.WebhookCallbackURL, "https://") &&
		!strings.HasPrefix(c.WebhookCallbackURL, "http://") {
		return fmt.Errorf("WEBHOOK_CALLBACK_URL must be an absolute URL, got %q", c.WebhookCallbackURL)
	}
	if c.TokenExpiryBufferSec < 0 {
		return fmt.Errorf("TOKEN_EXPIRY_BUFFER_SEC must be non-negative, got %d", c.TokenExpiryBufferSec)
	}
	return nil
}
