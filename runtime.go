package walletsync

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-walletsync/adapters/gologger"
	"github.com/goliatone/go-walletsync/auth"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/devices"
	"github.com/goliatone/go-walletsync/doctor"
	"github.com/goliatone/go-walletsync/httpapi"
	"github.com/goliatone/go-walletsync/install"
	"github.com/goliatone/go-walletsync/notify"
	"github.com/goliatone/go-walletsync/ratelimit"
	"github.com/goliatone/go-walletsync/reconcile"
	"github.com/goliatone/go-walletsync/signing"
	"github.com/goliatone/go-walletsync/signing/apple"
	"github.com/goliatone/go-walletsync/signing/google"
	"github.com/goliatone/go-walletsync/transport"
	"github.com/goliatone/go-walletsync/upstream"
	"github.com/goliatone/go-walletsync/webhooks"
)

// Doer performs outbound HTTP calls for the upstream client, the card-object
// signer and the doctor route probes.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

type Option func(*runtimeOptions)

type runtimeOptions struct {
	stores         Stores
	upstream       core.UpstreamClient
	signers        []signing.Signer
	notifier       core.Notifier
	pusher         core.Pusher
	loggerProvider glog.LoggerProvider
	metrics        core.MetricsRecorder
	doer           Doer
}

// WithStores replaces the default in-memory stores.
func WithStores(stores Stores) Option {
	return func(o *runtimeOptions) {
		o.stores = stores
	}
}

func WithUpstream(client core.UpstreamClient) Option {
	return func(o *runtimeOptions) {
		o.upstream = client
	}
}

// WithSigners replaces the signers otherwise built from the Apple and Google
// configuration.
func WithSigners(signers ...signing.Signer) Option {
	return func(o *runtimeOptions) {
		o.signers = append(o.signers, signers...)
	}
}

func WithNotifier(notifier core.Notifier) Option {
	return func(o *runtimeOptions) {
		o.notifier = notifier
	}
}

func WithPusher(pusher core.Pusher) Option {
	return func(o *runtimeOptions) {
		o.pusher = pusher
	}
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(o *runtimeOptions) {
		o.loggerProvider = provider
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *runtimeOptions) {
		o.metrics = metrics
	}
}

func WithHTTPDoer(doer Doer) Option {
	return func(o *runtimeOptions) {
		o.doer = doer
	}
}

// Runtime owns every walletsync component wired against one config.
type Runtime struct {
	config     Config
	stores     Stores
	telemetry  core.Telemetry
	apple      *apple.Signer
	google     *google.Signer
	signers    *signing.Registry
	reconciler *reconcile.Reconciler
	issuer     *install.Issuer
	resolver   *install.Resolver
	processor  *webhooks.Processor
	scheduler  *notify.Scheduler
	dispatcher *notify.Dispatcher
	devices    *devices.Service
	doctor     *doctor.Doctor
	commands   Commands
	queries    Queries
	handler    *httpapi.Handler
}

func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.ConfigurationError("config", err.Error())
	}
	options := runtimeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.doer == nil {
		options.doer = transport.NewRESTAdapter(&http.Client{Timeout: cfg.EffectiveOutboundTimeout()})
	}
	telemetry := func(component string) core.Telemetry {
		return gologger.Telemetry(component, options.loggerProvider, nil, options.metrics)
	}

	stores := options.stores
	if !stores.complete() {
		stores = MemoryStores()
	}

	rt := &Runtime{config: cfg, stores: stores, telemetry: telemetry("runtime")}

	upstreamClient := options.upstream
	if upstreamClient == nil {
		client, err := upstream.NewClient(cfg.Upstream.BaseURL,
			upstream.WithTimeout(cfg.Upstream.Timeout),
			upstream.WithDoer(options.doer),
			upstream.WithRateLimit(ratelimit.NewPolicy(nil)),
		)
		if err != nil {
			return nil, err
		}
		upstreamClient = client
	}

	signers := options.signers
	if len(signers) == 0 {
		built, err := rt.buildSigners(options.doer)
		if err != nil {
			return nil, err
		}
		signers = built
	}
	rt.signers = signing.NewRegistry(signers...)

	pusher := options.pusher
	if pusher == nil {
		pusher = core.NopPusher{}
	}
	rt.issuer = install.NewIssuer(stores.Passes, rt.signers,
		install.WithPusher(pusher),
		install.WithLookups(stores.Programs, stores.Participants),
		install.WithIssuerTelemetry(telemetry("install")),
	)
	rt.reconciler = reconcile.New(upstreamClient, stores.Participants, reconcile.WithTelemetry(telemetry("reconcile")))
	rt.resolver = install.NewResolver(stores.Programs, stores.Participants, rt.issuer,
		install.WithParticipantSource(rt.reconciler),
		install.WithPublicBaseURL(cfg.Server.PublicBaseURL),
		install.WithResolverTelemetry(telemetry("install")),
	)

	rt.scheduler = notify.NewScheduler(stores.Jobs, notify.PolicyFrom(cfg.Notifications),
		notify.WithSchedulerTelemetry(telemetry("notify")),
	)
	notifier := options.notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(telemetry("notify"))
	}
	dispatcher, err := notify.NewDispatcher(stores.Jobs, notifier, notify.DispatcherConfig{
		BatchSize:   cfg.Notifications.BatchSize,
		MaxAttempts: cfg.Notifications.MaxAttempts,
	}, notify.WithDispatcherTelemetry(telemetry("notify")))
	if err != nil {
		return nil, err
	}
	rt.dispatcher = dispatcher

	processor := webhooks.NewProcessor(stores.Programs, webhooks.NewLedger(stores.Events), rt.reconciler)
	processor.Events = stores.Events
	processor.Scheduler = rt.scheduler
	processor.Refresher = rt.issuer
	processor.Telemetry = telemetry("webhooks")
	rt.processor = processor

	rt.devices = devices.NewService(stores.Passes, cfg.Apple.AuthSecret, cfg.Apple.PassTypeIdentifier,
		devices.WithTelemetry(telemetry("devices")),
	)
	doctorDeps := doctor.Dependencies{
		Config:       cfg,
		Apple:        rt.apple,
		Capabilities: stores.Capabilities,
		HTTP:         options.doer,
		Log:          stores.Diagnostics,
		Telemetry:    telemetry("doctor"),
	}
	if rt.google != nil {
		doctorDeps.Google = rt.google
	}
	rt.doctor = doctor.New(doctorDeps)

	rt.commands, rt.queries = rt.buildHandlers()
	rt.handler = httpapi.NewHandler(httpapi.Dependencies{
		IngestWebhook:     rt.commands.IngestWebhook,
		ReplayWebhook:     rt.commands.ReplayWebhook,
		InstallPasses:     rt.commands.InstallPasses,
		RegisterDevice:    rt.commands.RegisterDevice,
		UnregisterDevice:  rt.commands.UnregisterDevice,
		RunDiagnostics:    rt.commands.RunDiagnostics,
		UpdatedSerials:    rt.queries.UpdatedSerials,
		PassArtifact:      rt.queries.PassArtifact,
		RecentDiagnostics: rt.queries.RecentDiagnostics,
		Devices:           rt.devices,
		WebhookVerifier:   webhooks.NewSignatureVerifier(cfg.Upstream.WebhookSecret),
		AdminSecret:       cfg.Server.AdminSecret,
		Telemetry:         telemetry("http"),
	})
	return rt, nil
}

// buildSigners enables the Apple signer when a certificate bundle is set and
// the Google signer when an issuer id is set.
func (r *Runtime) buildSigners(doer Doer) ([]signing.Signer, error) {
	var signers []signing.Signer
	cfg := r.config
	if cfg.Apple.Configured() {
		r.apple = apple.NewSigner(apple.ConfigFrom(cfg.Apple, cfg.Server.PublicBaseURL))
		signers = append(signers, r.apple)
	}
	if cfg.Google.Configured() {
		key, err := auth.ParsePrivateKey(cfg.Google.PrivateKey)
		if err != nil {
			return nil, err
		}
		tokens, err := auth.NewServiceAccountTokenSource(auth.ServiceAccountConfig{
			Email:      cfg.Google.ServiceAccountEmail,
			PrivateKey: key,
			TokenURL:   cfg.Google.TokenURL,
			Timeout:    cfg.EffectiveOutboundTimeout(),
		}, doer)
		if err != nil {
			return nil, err
		}
		signer, err := google.NewSigner(google.ConfigFrom(cfg.Google, cfg.Server.PublicBaseURL, cfg.EffectiveOutboundTimeout()), tokens, doer)
		if err != nil {
			return nil, err
		}
		r.google = signer.WithRateLimit(ratelimit.NewPolicy(nil))
		signers = append(signers, signer)
	}
	return signers, nil
}

func (r *Runtime) Config() Config {
	return r.config
}

func (r *Runtime) Stores() Stores {
	return r.stores
}

func (r *Runtime) Processor() *webhooks.Processor {
	return r.processor
}

func (r *Runtime) Resolver() *install.Resolver {
	return r.resolver
}

func (r *Runtime) Issuer() *install.Issuer {
	return r.issuer
}

func (r *Runtime) Devices() *devices.Service {
	return r.devices
}

func (r *Runtime) Dispatcher() *notify.Dispatcher {
	return r.dispatcher
}

func (r *Runtime) Doctor() *doctor.Doctor {
	return r.doctor
}

// Handler returns the HTTP surface. Mount it with Handler().Router() or
// Handler().Routes on an existing chi router.
func (r *Runtime) Handler() *httpapi.Handler {
	return r.handler
}

// SeedProgram creates or updates a program by its external id.
func (r *Runtime) SeedProgram(ctx context.Context, in UpsertProgramInput) (Program, error) {
	if in.ExternalID <= 0 {
		return Program{}, core.ValidationError("external_id", "walletsync: program external id must be positive")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		in.Name = fmt.Sprintf("program-%d", in.ExternalID)
	}
	return r.stores.Programs.Upsert(ctx, in)
}
