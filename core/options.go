package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

const EnvPrefix = "WALLETSYNC_"

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// EnvConfigLoader reads WALLETSYNC_* variables into a sparse layer map.
// Lookup replaces the process environment when set.
type EnvConfigLoader struct {
	Lookup map[string]string
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	var cfg Config
	options := env.Options{Prefix: EnvPrefix}
	if l.Lookup != nil {
		options.Environment = l.Lookup
	}
	if err := env.ParseWithOptions(&cfg, options); err != nil {
		return nil, WrapValidation(err, "environment", "core: environment parse failed")
	}
	return configToLayerMap(cfg, false), nil
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig resolves defaults, the environment layer and runtime overrides
// into one validated Config.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	if loader == nil {
		loader = EnvConfigLoader{}
	}
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

type layer struct {
	values      map[string]any
	includeZero bool
}

func (l layer) str(key string, value string) {
	if l.includeZero || strings.TrimSpace(value) != "" {
		l.values[key] = value
	}
}

func (l layer) num(key string, value int64, raw any) {
	if l.includeZero || value != 0 {
		l.values[key] = raw
	}
}

func (l layer) flag(key string, value bool) {
	if l.includeZero || value {
		l.values[key] = value
	}
}

func (l layer) nest(parent map[string]any, key string) {
	if len(l.values) > 0 {
		parent[key] = l.values
	}
}

func newLayer(includeZero bool) layer {
	return layer{values: map[string]any{}, includeZero: includeZero}
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	root := newLayer(includeZero)
	root.str("service_name", cfg.ServiceName)
	root.num("outbound_timeout", int64(cfg.OutboundTimeout), cfg.OutboundTimeout)
	root.num("capability_cache_ttl", int64(cfg.CapabilityCacheTTL), cfg.CapabilityCacheTTL)

	server := newLayer(includeZero)
	server.str("address", cfg.Server.Address)
	server.str("public_base_url", cfg.Server.PublicBaseURL)
	server.str("admin_secret", cfg.Server.AdminSecret)
	server.nest(root.values, "server")

	database := newLayer(includeZero)
	database.str("driver", cfg.Database.Driver)
	database.str("dsn", cfg.Database.DSN)
	database.flag("debug", cfg.Database.Debug)
	database.nest(root.values, "database")

	upstream := newLayer(includeZero)
	upstream.str("base_url", cfg.Upstream.BaseURL)
	upstream.num("timeout", int64(cfg.Upstream.Timeout), cfg.Upstream.Timeout)
	upstream.str("webhook_secret", cfg.Upstream.WebhookSecret)
	upstream.nest(root.values, "upstream")

	apple := newLayer(includeZero)
	apple.str("pass_type_identifier", cfg.Apple.PassTypeIdentifier)
	apple.str("team_identifier", cfg.Apple.TeamIdentifier)
	apple.str("organization_name", cfg.Apple.OrganizationName)
	apple.str("certificate_bundle", cfg.Apple.CertificateBundle)
	apple.str("certificate_password", cfg.Apple.CertificatePassword)
	apple.str("wwdr_certificate", cfg.Apple.WWDRCertificate)
	apple.str("auth_secret", cfg.Apple.AuthSecret)
	apple.nest(root.values, "apple")

	google := newLayer(includeZero)
	google.str("issuer_id", cfg.Google.IssuerID)
	google.str("class_suffix", cfg.Google.ClassSuffix)
	google.str("service_account_email", cfg.Google.ServiceAccountEmail)
	google.str("private_key", cfg.Google.PrivateKey)
	google.str("api_base_url", cfg.Google.APIBaseURL)
	google.str("token_url", cfg.Google.TokenURL)
	google.nest(root.values, "google")

	notifications := newLayer(includeZero)
	notifications.num("merge_window", int64(cfg.Notifications.MergeWindow), cfg.Notifications.MergeWindow)
	notifications.num("throttle_window", int64(cfg.Notifications.ThrottleWindow), cfg.Notifications.ThrottleWindow)
	notifications.num("batch_size", int64(cfg.Notifications.BatchSize), cfg.Notifications.BatchSize)
	notifications.num("max_attempts", int64(cfg.Notifications.MaxAttempts), cfg.Notifications.MaxAttempts)
	notifications.num("poll_interval", int64(cfg.Notifications.PollInterval), cfg.Notifications.PollInterval)
	notifications.nest(root.values, "notifications")

	doctor := newLayer(includeZero)
	doctor.num("certificate_warn_threshold", int64(cfg.Doctor.CertificateWarnThreshold), cfg.Doctor.CertificateWarnThreshold)
	doctor.str("serial_prefix", cfg.Doctor.SerialPrefix)
	doctor.nest(root.values, "doctor")

	security := newLayer(includeZero)
	security.str("credential_key", cfg.Security.CredentialKey)
	security.nest(root.values, "security")

	return root.values
}
