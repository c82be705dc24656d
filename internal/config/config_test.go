package config

import (
	"strings"
	"testing"
)

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/telecare_test")
	t.Setenv("PORT", "9000")
	t.Setenv("VENDOR_CLIENT_ID", "client-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("expected PORT override, got %q", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("expected default env 'development', got %q", cfg.Env)
	}
	if cfg.VendorClientID != "client-1" {
		t.Errorf("expected vendor client id bound from env, got %q", cfg.VendorClientID)
	}
	if cfg.VendorBaseURL == "" || cfg.VendorAuthorizeURL == "" {
		t.Error("expected vendor URL defaults")
	}
	if cfg.TokenExpiryBufferSec != 300 {
		t.Errorf("expected default expiry buffer 300, got %d", cfg.TokenExpiryBufferSec)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestValidate_DevModeIsPermissive(t *testing.T) {
	cfg := &Config{Env: "development"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("development config must validate without vendor credentials: %v", err)
	}
}

func TestValidate_ProductionRequirements(t *testing.T) {
	base := Config{
		Env:                "production",
		AuthJWKSURL:        "https://auth.example.com/.well-known/jwks.json",
		VendorClientID:     "client-1",
		VendorClientSecret: "secret-1",
		VendorRedirectURI:  "https://app.example.com/callback",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("complete production config must validate: %v", err)
	}

	cases := []struct {
		name string
		zero func(*Config)
		frag string
	}{
		{"auth", func(c *Config) { c.AuthJWKSURL = "" }, "AUTH_"},
		{"vendor client id", func(c *Config) { c.VendorClientID = "" }, "VENDOR_CLIENT_ID"},
		{"vendor client secret", func(c *Config) { c.VendorClientSecret = "" }, "VENDOR_CLIENT_SECRET"},
		{"redirect uri", func(c *Config) { c.VendorRedirectURI = "" }, "VENDOR_REDIRECT_URI"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.zero(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.frag) {
				t.Errorf("expected error mentioning %s, got %v", tc.frag, err)
			}
		})
	}
}

func TestValidate_WebhookCallbackURL(t *testing.T) {
	cfg := &Config{Env: "development", WebhookCallbackURL: "webhooks/device-vendor"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected relative callback URL to be rejected")
	}
	cfg.WebhookCallbackURL = "https://app.example.com/webhooks/device-vendor"
	if err := cfg.Validate(); err != nil {
		t.Errorf("absolute callback URL must validate: %v", err)
	}
}

func TestValidate_NegativeExpiryBuffer(t *testing.T) {
	cfg := &Config{Env: "development", TokenExpiryBufferSec: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("expected negative expiry buffer to be rejected")
	}
}
