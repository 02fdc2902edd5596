package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultOutboundTimeout          = 10 * time.Second
	DefaultCertificateWarnThreshold = 30 * 24 * time.Hour
	DefaultNotificationMergeWindow  = 2 * time.Minute
	DefaultNotificationThrottle     = 15 * time.Minute
	DefaultCapabilityCacheTTL       = 5 * time.Minute
)

type ServerConfig struct {
	Address       string `koanf:"address" mapstructure:"address" env:"ADDRESS"`
	PublicBaseURL string `koanf:"public_base_url" mapstructure:"public_base_url" env:"PUBLIC_BASE_URL"`
	AdminSecret   string `koanf:"admin_secret" mapstructure:"admin_secret" env:"ADMIN_SECRET"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver" env:"DRIVER"`
	DSN    string `koanf:"dsn" mapstructure:"dsn" env:"DSN"`
	Debug  bool   `koanf:"debug" mapstructure:"debug" env:"DEBUG"`
}

type UpstreamConfig struct {
	BaseURL string        `koanf:"base_url" mapstructure:"base_url" env:"BASE_URL"`
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout" env:"TIMEOUT"`
	// WebhookSecret enables HMAC verification of inbound webhooks when set.
	WebhookSecret string `koanf:"webhook_secret" mapstructure:"webhook_secret" env:"WEBHOOK_SECRET"`
}

type AppleConfig struct {
	PassTypeIdentifier  string `koanf:"pass_type_identifier" mapstructure:"pass_type_identifier" env:"PASS_TYPE_IDENTIFIER"`
	TeamIdentifier      string `koanf:"team_identifier" mapstructure:"team_identifier" env:"TEAM_IDENTIFIER"`
	OrganizationName    string `koanf:"organization_name" mapstructure:"organization_name" env:"ORGANIZATION_NAME"`
	CertificateBundle   string `koanf:"certificate_bundle" mapstructure:"certificate_bundle" env:"CERTIFICATE_BUNDLE"`
	CertificatePassword string `koanf:"certificate_password" mapstructure:"certificate_password" env:"CERTIFICATE_PASSWORD"`
	WWDRCertificate     string `koanf:"wwdr_certificate" mapstructure:"wwdr_certificate" env:"WWDR_CERTIFICATE"`
	AuthSecret          string `koanf:"auth_secret" mapstructure:"auth_secret" env:"AUTH_SECRET"`
}

func (c AppleConfig) Configured() bool {
	return strings.TrimSpace(c.CertificateBundle) != ""
}

type GoogleConfig struct {
	IssuerID            string `koanf:"issuer_id" mapstructure:"issuer_id" env:"ISSUER_ID"`
	ClassSuffix         string `koanf:"class_suffix" mapstructure:"class_suffix" env:"CLASS_SUFFIX"`
	ServiceAccountEmail string `koanf:"service_account_email" mapstructure:"service_account_email" env:"SERVICE_ACCOUNT_EMAIL"`
	PrivateKey          string `koanf:"private_key" mapstructure:"private_key" env:"PRIVATE_KEY"`
	APIBaseURL          string `koanf:"api_base_url" mapstructure:"api_base_url" env:"API_BASE_URL"`
	TokenURL            string `koanf:"token_url" mapstructure:"token_url" env:"TOKEN_URL"`
}

func (c GoogleConfig) Configured() bool {
	return strings.TrimSpace(c.IssuerID) != ""
}

type NotificationConfig struct {
	MergeWindow    time.Duration `koanf:"merge_window" mapstructure:"merge_window" env:"MERGE_WINDOW"`
	ThrottleWindow time.Duration `koanf:"throttle_window" mapstructure:"throttle_window" env:"THROTTLE_WINDOW"`
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size" env:"BATCH_SIZE"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts" env:"MAX_ATTEMPTS"`
	PollInterval   time.Duration `koanf:"poll_interval" mapstructure:"poll_interval" env:"POLL_INTERVAL"`
}

type DoctorConfig struct {
	CertificateWarnThreshold time.Duration `koanf:"certificate_warn_threshold" mapstructure:"certificate_warn_threshold" env:"CERTIFICATE_WARN_THRESHOLD"`
	SerialPrefix             string        `koanf:"serial_prefix" mapstructure:"serial_prefix" env:"SERIAL_PREFIX"`
}

type SecurityConfig struct {
	CredentialKey string `koanf:"credential_key" mapstructure:"credential_key" env:"CREDENTIAL_KEY"`
}

type Config struct {
	ServiceName        string             `koanf:"service_name" mapstructure:"service_name" env:"SERVICE_NAME"`
	OutboundTimeout    time.Duration      `koanf:"outbound_timeout" mapstructure:"outbound_timeout" env:"OUTBOUND_TIMEOUT"`
	CapabilityCacheTTL time.Duration      `koanf:"capability_cache_ttl" mapstructure:"capability_cache_ttl" env:"CAPABILITY_CACHE_TTL"`
	Server             ServerConfig       `koanf:"server" mapstructure:"server" envPrefix:"SERVER_"`
	Database           DatabaseConfig     `koanf:"database" mapstructure:"database" envPrefix:"DATABASE_"`
	Upstream           UpstreamConfig     `koanf:"upstream" mapstructure:"upstream" envPrefix:"UPSTREAM_"`
	Apple              AppleConfig        `koanf:"apple" mapstructure:"apple" envPrefix:"APPLE_"`
	Google             GoogleConfig       `koanf:"google" mapstructure:"google" envPrefix:"GOOGLE_"`
	Notifications      NotificationConfig `koanf:"notifications" mapstructure:"notifications" envPrefix:"NOTIFICATIONS_"`
	Doctor             DoctorConfig       `koanf:"doctor" mapstructure:"doctor" envPrefix:"DOCTOR_"`
	Security           SecurityConfig     `koanf:"security" mapstructure:"security" envPrefix:"SECURITY_"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        "walletsync",
		OutboundTimeout:    DefaultOutboundTimeout,
		CapabilityCacheTTL: DefaultCapabilityCacheTTL,
		Server: ServerConfig{
			Address: ":8080",
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Upstream: UpstreamConfig{
			Timeout: DefaultOutboundTimeout,
		},
		Google: GoogleConfig{
			APIBaseURL: "https://walletobjects.googleapis.com/walletobjects/v1",
			TokenURL:   "https://oauth2.googleapis.com/token",
		},
		Notifications: NotificationConfig{
			MergeWindow:    DefaultNotificationMergeWindow,
			ThrottleWindow: DefaultNotificationThrottle,
			BatchSize:      50,
			MaxAttempts:    5,
			PollInterval:   30 * time.Second,
		},
		Doctor: DoctorConfig{
			CertificateWarnThreshold: DefaultCertificateWarnThreshold,
			SerialPrefix:             "doctor",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "postgres", "sqlite3", "sqlite":
	default:
		return fmt.Errorf("core: database.driver %q is invalid", c.Database.Driver)
	}
	if c.OutboundTimeout < 0 || c.Upstream.Timeout < 0 {
		return fmt.Errorf("core: outbound timeouts must not be negative")
	}
	if c.Notifications.MergeWindow < 0 || c.Notifications.ThrottleWindow < 0 {
		return fmt.Errorf("core: notification windows must not be negative")
	}
	if c.Doctor.CertificateWarnThreshold < 0 {
		return fmt.Errorf("core: doctor.certificate_warn_threshold must not be negative")
	}
	return nil
}

// RequiredItem names one secret or setting the runtime cannot operate without.
type RequiredItem struct {
	Name    string
	Present bool
}

// RequiredItems lists every required setting with its environment name.
// Google settings become required as soon as an issuer id is configured.
func (c Config) RequiredItems() []RequiredItem {
	items := []RequiredItem{
		{Name: "WALLETSYNC_DATABASE_DSN", Present: present(c.Database.DSN)},
		{Name: "WALLETSYNC_SERVER_ADMIN_SECRET", Present: present(c.Server.AdminSecret)},
		{Name: "WALLETSYNC_UPSTREAM_BASE_URL", Present: present(c.Upstream.BaseURL)},
		{Name: "WALLETSYNC_APPLE_PASS_TYPE_IDENTIFIER", Present: present(c.Apple.PassTypeIdentifier)},
		{Name: "WALLETSYNC_APPLE_TEAM_IDENTIFIER", Present: present(c.Apple.TeamIdentifier)},
		{Name: "WALLETSYNC_APPLE_CERTIFICATE_BUNDLE", Present: present(c.Apple.CertificateBundle)},
		{Name: "WALLETSYNC_APPLE_CERTIFICATE_PASSWORD", Present: present(c.Apple.CertificatePassword)},
		{Name: "WALLETSYNC_APPLE_WWDR_CERTIFICATE", Present: present(c.Apple.WWDRCertificate)},
		{Name: "WALLETSYNC_APPLE_AUTH_SECRET", Present: present(c.Apple.AuthSecret)},
	}
	if c.Google.Configured() {
		items = append(items,
			RequiredItem{Name: "WALLETSYNC_GOOGLE_SERVICE_ACCOUNT_EMAIL", Present: present(c.Google.ServiceAccountEmail)},
			RequiredItem{Name: "WALLETSYNC_GOOGLE_PRIVATE_KEY", Present: present(c.Google.PrivateKey)},
			RequiredItem{Name: "WALLETSYNC_GOOGLE_CLASS_SUFFIX", Present: present(c.Google.ClassSuffix)},
		)
	}
	return items
}

// RequireSigning fails fast with the first missing required item.
func (c Config) RequireSigning() error {
	for _, item := range c.RequiredItems() {
		if !item.Present {
			return ConfigurationError(item.Name, fmt.Sprintf("core: required setting %s is missing", item.Name))
		}
	}
	return nil
}

func (c Config) EffectiveOutboundTimeout() time.Duration {
	if c.OutboundTimeout > 0 {
		return c.OutboundTimeout
	}
	return DefaultOutboundTimeout
}

func present(value string) bool {
	return strings.TrimSpace(value) != ""
}
