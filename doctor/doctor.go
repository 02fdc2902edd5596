// Package doctor runs the service primitives against synthetic data and
// reports each check as ok, warn or fail. Only the diagnostic log is written.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/install"
	"github.com/goliatone/go-walletsync/passes"
	"github.com/goliatone/go-walletsync/signing"
	"github.com/goliatone/go-walletsync/signing/apple"
	"github.com/goliatone/go-walletsync/store/memory"
	"github.com/goliatone/go-walletsync/transport"
)

const (
	SectionEnvironment  = "environment"
	SectionCertificates = "certificates"
	SectionSigning      = "signing"
	SectionStorage      = "storage"
	SectionRoutes       = "routes"
	SectionInstall      = "install_dry_run"
)

// CapabilityProber reports which optional storage features exist.
type CapabilityProber interface {
	Capabilities(ctx context.Context) (map[string]bool, error)
}

type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// GoogleSigner is the card-object signer plus its credential probe.
type GoogleSigner interface {
	signing.Signer
	Probe(ctx context.Context) error
}

type Dependencies struct {
	Config       core.Config
	Apple        *apple.Signer
	Google       GoogleSigner
	Capabilities CapabilityProber
	HTTP         Doer
	Log          core.DiagnosticLogStore
	Telemetry    core.Telemetry
	Now          func() time.Time
}

type Options struct {
	// Verbose adds underlying causes to failure details.
	Verbose bool
	// SkipRoutes leaves out the reachability probes.
	SkipRoutes bool
}

type Doctor struct {
	deps Dependencies
}

func New(deps Dependencies) *Doctor {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.HTTP == nil {
		deps.HTTP = transport.NewRESTAdapter(nil)
	}
	return &Doctor{deps: deps}
}

func (d *Doctor) Run(ctx context.Context, opts Options) Report {
	startedAt := time.Now()
	report := Report{GeneratedAt: d.deps.Now()}
	report.Sections = append(report.Sections,
		d.environment(),
		d.certificates(opts),
		d.signing(ctx, opts),
		d.storage(ctx, opts),
	)
	if !opts.SkipRoutes {
		report.Sections = append(report.Sections, d.routes(ctx))
	}
	report.Sections = append(report.Sections, d.installDryRun(ctx, opts))
	report.finalize()

	var runErr error
	if report.HasFailures() {
		runErr = fmt.Errorf("doctor: %d failing checks", report.Failures)
	}
	d.deps.Telemetry.ObserveOperation(ctx, startedAt, "doctor_run", runErr, map[string]any{
		"outcome":  string(report.Status),
		"failures": report.Failures,
		"warnings": report.Warnings,
	})
	d.appendLog(ctx, report)
	return report
}

func (d *Doctor) environment() Section {
	section := Section{Name: SectionEnvironment}
	for _, item := range d.deps.Config.RequiredItems() {
		if item.Present {
			section.add(item.Name, StatusOK, "set")
			continue
		}
		section.add(item.Name, StatusFail, "missing")
	}
	if !d.deps.Config.Google.Configured() {
		section.add("WALLETSYNC_GOOGLE_ISSUER_ID", StatusWarn, "not set, Google Wallet disabled")
	}
	return section
}

func (d *Doctor) certificates(opts Options) Section {
	section := Section{Name: SectionCertificates}
	if d.deps.Apple == nil {
		section.add("apple_bundle", StatusFail, "apple signer not configured")
		return section
	}
	identity, err := d.deps.Apple.Identity()
	if err != nil {
		section.add("apple_bundle", StatusFail, describe(err, opts.Verbose))
		return section
	}
	section.add("apple_bundle", StatusOK, "bundle decoded and key matches certificate")

	now := d.deps.Now()
	threshold := d.deps.Config.Doctor.CertificateWarnThreshold
	if threshold <= 0 {
		threshold = core.DefaultCertificateWarnThreshold
	}
	status, detail := CertificateStatus(identity.Certificate, now, threshold)
	section.add("pass_certificate_expiry", status, detail)
	status, detail = CertificateStatus(identity.WWDR, now, threshold)
	section.add("wwdr_certificate_expiry", status, detail)

	config := d.deps.Apple.Config()
	if got := identity.PassTypeIdentifier(); got != "" && got != strings.TrimSpace(config.PassTypeIdentifier) {
		section.add("pass_type_identifier", StatusFail, fmt.Sprintf("certificate is for %q, configured %q", got, config.PassTypeIdentifier))
	} else {
		section.add("pass_type_identifier", StatusOK, "matches certificate")
	}
	if got := identity.TeamIdentifier(); got != "" && got != strings.TrimSpace(config.TeamIdentifier) {
		section.add("team_identifier", StatusFail, fmt.Sprintf("certificate is for team %q, configured %q", got, config.TeamIdentifier))
	} else {
		section.add("team_identifier", StatusOK, "matches certificate")
	}
	return section
}

func (d *Doctor) signing(ctx context.Context, opts Options) Section {
	section := Section{Name: SectionSigning}
	program, participant := syntheticProgram(), syntheticParticipant()
	payload, err := passes.Derive(program, participant, core.PassKindLoyalty, core.PassScope{})
	if err != nil {
		section.add("payload", StatusFail, describe(err, opts.Verbose))
		return section
	}
	request := signing.Request{
		Program:      program,
		Participant:  participant,
		Payload:      payload,
		SerialPrefix: d.serialPrefix(),
		DryRun:       true,
	}

	if d.deps.Apple != nil {
		callCtx, cancel := d.bounded(ctx)
		artifact, err := d.deps.Apple.Sign(callCtx, request)
		cancel()
		switch {
		case err != nil:
			section.add("apple_sign", StatusFail, describe(err, opts.Verbose))
		case len(artifact.Bytes) == 0 || artifact.ContentHash != passes.HashBytes(artifact.Bytes):
			section.add("apple_sign", StatusFail, "signed bundle is empty or its hash does not match")
		default:
			section.add("apple_sign", StatusOK, fmt.Sprintf("signed %d bytes as %s", len(artifact.Bytes), artifact.Identifier))
		}
	}

	if d.deps.Google != nil {
		callCtx, cancel := d.bounded(ctx)
		err := d.deps.Google.Probe(callCtx)
		cancel()
		if err != nil {
			section.add("google_credentials", StatusFail, describe(err, opts.Verbose))
		} else {
			section.add("google_credentials", StatusOK, "service account token issued")
		}
		signCtx, cancelSign := d.bounded(ctx)
		artifact, err := d.deps.Google.Sign(signCtx, request)
		cancelSign()
		if err != nil {
			section.add("google_object", StatusFail, describe(err, opts.Verbose))
		} else {
			section.add("google_object", StatusOK, "object and save link built for "+artifact.Identifier)
		}
	}
	if len(section.Checks) == 0 {
		section.add("providers", StatusFail, "no wallet provider configured")
	}
	return section
}

func (d *Doctor) storage(ctx context.Context, opts Options) Section {
	section := Section{Name: SectionStorage}
	if d.deps.Capabilities == nil {
		section.add("capabilities", StatusWarn, "storage probe not configured")
		return section
	}
	callCtx, cancel := d.bounded(ctx)
	defer cancel()
	capabilities, err := d.deps.Capabilities.Capabilities(callCtx)
	if err != nil {
		section.add("capabilities", StatusFail, describe(err, opts.Verbose))
		return section
	}
	names := make([]string, 0, len(capabilities))
	for name := range capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if capabilities[name] {
			section.add(name, StatusOK, "present")
		} else {
			section.add(name, StatusWarn, "missing, feature degraded")
		}
	}
	return section
}

func (d *Doctor) routes(ctx context.Context) Section {
	section := Section{Name: SectionRoutes}
	targets := []struct {
		name string
		base string
		path string
		any  bool
	}{
		{name: "public_base_url", base: d.deps.Config.Server.PublicBaseURL, path: "/healthz"},
		{name: "upstream_base_url", base: d.deps.Config.Upstream.BaseURL, path: "/", any: true},
	}
	for _, target := range targets {
		base := strings.TrimRight(strings.TrimSpace(target.base), "/")
		if base == "" {
			section.add(target.name, StatusWarn, "not configured, skipped")
			continue
		}
		callCtx, cancel := d.bounded(ctx)
		resp, err := d.deps.HTTP.Do(callCtx, transport.Request{Method: http.MethodGet, URL: base + target.path})
		cancel()
		switch {
		case err != nil && transport.IsTimeout(err):
			section.add(target.name, StatusFail, "timed out")
		case err != nil:
			section.add(target.name, StatusFail, "unreachable: "+core.MapError(err).Message)
		case target.any || resp.OK():
			section.add(target.name, StatusOK, fmt.Sprintf("reachable (%d)", resp.StatusCode))
		default:
			section.add(target.name, StatusFail, fmt.Sprintf("responded %d", resp.StatusCode))
		}
	}
	return section
}

// installDryRun drives the real resolver against throwaway stores seeded
// with a synthetic participant.
func (d *Doctor) installDryRun(ctx context.Context, opts Options) Section {
	section := Section{Name: SectionInstall}
	registry := signing.NewRegistry()
	if d.deps.Apple != nil {
		_ = registry.Register(d.deps.Apple)
	}
	if d.deps.Google != nil {
		_ = registry.Register(d.deps.Google)
	}
	stores := memory.NewStores()
	program, err := stores.Programs.Upsert(ctx, core.UpsertProgramInput{
		ExternalID: syntheticProgram().ExternalID,
		Name:       syntheticProgram().Name,
	})
	if err != nil {
		section.add("seed", StatusFail, describe(err, opts.Verbose))
		return section
	}
	participant := syntheticParticipant()
	participant.ProgramID = program.ID
	if _, err := stores.Participants.Save(ctx, participant); err != nil {
		section.add("seed", StatusFail, describe(err, opts.Verbose))
		return section
	}

	issuer := install.NewIssuer(stores.Passes, registry)
	resolver := install.NewResolver(stores.Programs, stores.Participants, issuer)
	callCtx, cancel := d.bounded(ctx)
	defer cancel()
	result, err := resolver.Resolve(callCtx, install.Request{
		ProgramRef:    program.ID,
		ParticipantID: participant.ExternalID.String(),
		Kind:          string(core.PassKindLoyalty),
		DryRun:        true,
		SerialPrefix:  d.serialPrefix(),
	})
	if err != nil {
		_, envelope := install.Envelope(err)
		detail := envelope.Error
		if opts.Verbose {
			detail += ": " + describe(err, true)
		}
		section.add("resolve", StatusFail, detail)
		return section
	}
	if len(result.Installed) == 0 {
		section.add("resolve", StatusFail, "no pass issued")
		return section
	}
	issued := result.Installed[0]
	section.add("resolve", StatusOK, fmt.Sprintf("%s pass would be issued at version %d", issued.Kind, issued.Version))
	return section
}

func (d *Doctor) appendLog(ctx context.Context, report Report) {
	if d.deps.Log == nil {
		return
	}
	encoded, err := json.Marshal(report)
	if err != nil {
		return
	}
	var body map[string]any
	if err := json.Unmarshal(encoded, &body); err != nil {
		return
	}
	entry := core.DiagnosticEntry{
		Status:    string(report.Status),
		Failures:  report.Failures,
		Warnings:  report.Warnings,
		Report:    body,
		CreatedAt: report.GeneratedAt,
	}
	if err := d.deps.Log.Append(ctx, entry); err != nil {
		d.deps.Telemetry.LogWarn(ctx, "diagnostic log append failed", map[string]any{"error": err.Error()})
	}
}

func (d *Doctor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.deps.Config.EffectiveOutboundTimeout())
}

func (d *Doctor) serialPrefix() string {
	if prefix := strings.TrimSpace(d.deps.Config.Doctor.SerialPrefix); prefix != "" {
		return prefix
	}
	return "doctor"
}

func describe(err error, verbose bool) string {
	if typed, ok := signing.AsError(err); ok {
		detail := fmt.Sprintf("%s %s error: %s", typed.Provider, typed.Kind, typed.Detail)
		if verbose && typed.Cause != nil {
			detail += " (" + typed.Cause.Error() + ")"
		}
		return detail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	message := core.MapError(err).Message
	if verbose && message != err.Error() {
		message += " (" + err.Error() + ")"
	}
	return message
}

func syntheticProgram() core.Program {
	return core.Program{ID: "doctor-program", ExternalID: 1, Name: "Diagnostics"}
}

func syntheticParticipant() core.Participant {
	return core.Participant{
		ID:           "doctor-participant",
		ExternalID:   1,
		Email:        "doctor@example.invalid",
		FirstName:    "Wallet",
		LastName:     "Doctor",
		Points:       100,
		UnusedPoints: 40,
	}
}
