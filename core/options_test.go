package core

import (
	"context"
	"testing"
	"time"
)

func TestLoadConfig_EnvironmentOverridesDefaults(t *testing.T) {
	loader := EnvConfigLoader{Lookup: map[string]string{
		"WALLETSYNC_DATABASE_DRIVER":                   "sqlite3",
		"WALLETSYNC_DATABASE_DSN":                      "file::memory:",
		"WALLETSYNC_APPLE_PASS_TYPE_IDENTIFIER":        "pass.com.example.loyalty",
		"WALLETSYNC_NOTIFICATIONS_THROTTLE_WINDOW":     "1h",
		"WALLETSYNC_DOCTOR_CERTIFICATE_WARN_THRESHOLD": "240h",
	}}
	cfg, err := LoadConfig(context.Background(), loader, Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.Driver != "sqlite3" || cfg.Database.DSN != "file::memory:" {
		t.Fatalf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Apple.PassTypeIdentifier != "pass.com.example.loyalty" {
		t.Fatalf("unexpected pass type id %q", cfg.Apple.PassTypeIdentifier)
	}
	if cfg.Notifications.ThrottleWindow != time.Hour {
		t.Fatalf("expected 1h throttle, got %s", cfg.Notifications.ThrottleWindow)
	}
	if cfg.Notifications.MergeWindow != DefaultNotificationMergeWindow {
		t.Fatalf("expected default merge window, got %s", cfg.Notifications.MergeWindow)
	}
	if cfg.Doctor.CertificateWarnThreshold != 10*24*time.Hour {
		t.Fatalf("unexpected warn threshold %s", cfg.Doctor.CertificateWarnThreshold)
	}
	if cfg.ServiceName != "walletsync" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
}

func TestLoadConfig_RuntimeLayerWins(t *testing.T) {
	loader := EnvConfigLoader{Lookup: map[string]string{
		"WALLETSYNC_SERVICE_NAME": "from-env",
	}}
	cfg, err := LoadConfig(context.Background(), loader, Config{ServiceName: "runtime"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "runtime" {
		t.Fatalf("expected runtime override, got %q", cfg.ServiceName)
	}
}

func TestLoadConfig_RejectsInvalidDriver(t *testing.T) {
	loader := EnvConfigLoader{Lookup: map[string]string{"WALLETSYNC_DATABASE_DRIVER": "oracle"}}
	if _, err := LoadConfig(context.Background(), loader, Config{}); err == nil {
		t.Fatalf("expected invalid driver error")
	}
}

func TestRequireSigning_NamesMissingItem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.DSN = "postgres://localhost/wallet"
	cfg.Server.AdminSecret = "admin"
	cfg.Upstream.BaseURL = "https://api.perk.example"
	cfg.Apple = AppleConfig{
		PassTypeIdentifier:  "pass.com.example",
		TeamIdentifier:      "TEAM123",
		CertificateBundle:   "cDEy",
		CertificatePassword: "secret",
		WWDRCertificate:     "d3dkcg==",
	}
	err := cfg.RequireSigning()
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	rich := MapError(err)
	if rich.Metadata[MetadataMissingItem] != "WALLETSYNC_APPLE_AUTH_SECRET" {
		t.Fatalf("expected missing auth secret, got %#v", rich.Metadata)
	}

	cfg.Apple.AuthSecret = "device-secret"
	if err := cfg.RequireSigning(); err != nil {
		t.Fatalf("expected complete config, got %v", err)
	}

	cfg.Google.IssuerID = "3388000000012345"
	if err := cfg.RequireSigning(); !IsConfiguration(err) {
		t.Fatalf("expected partial google config to fail, got %v", err)
	}
}
