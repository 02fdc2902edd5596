package install

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/reconcile"
)

// Request is an install visit as it arrives from the route: raw path values.
type Request struct {
	ProgramRef    string
	ParticipantID string
	Kind          string
	ResourceType  string
	ResourceID    string
	DryRun        bool
	SerialPrefix  string
}

type ProgramSummary struct {
	ID         string `json:"id"`
	ExternalID int64  `json:"external_id"`
	Name       string `json:"name"`
}

type Result struct {
	OK          bool             `json:"ok"`
	Program     ProgramSummary   `json:"program"`
	Participant int64            `json:"participant"`
	Installed   []Issued         `json:"installed"`
	Resolved    core.Participant `json:"-"`
}

// ParticipantSource creates a local participant from upstream when an
// install visit arrives before any webhook.
type ParticipantSource interface {
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Outcome, error)
}

type Resolver struct {
	programs      core.ProgramStore
	participants  core.ParticipantStore
	source        ParticipantSource
	issuer        *Issuer
	publicBaseURL string
	telemetry     core.Telemetry
}

type ResolverOption func(*Resolver)

func WithParticipantSource(source ParticipantSource) ResolverOption {
	return func(r *Resolver) {
		r.source = source
	}
}

// WithPublicBaseURL sets the base for the pass download links in results.
func WithPublicBaseURL(base string) ResolverOption {
	return func(r *Resolver) {
		r.publicBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

func WithResolverTelemetry(telemetry core.Telemetry) ResolverOption {
	return func(r *Resolver) {
		r.telemetry = telemetry
	}
}

func NewResolver(programs core.ProgramStore, participants core.ParticipantStore, issuer *Issuer, opts ...ResolverOption) *Resolver {
	resolver := &Resolver{
		programs:     programs,
		participants: participants,
		issuer:       issuer,
		telemetry:    core.NewTelemetry(nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver
}

type target struct {
	kinds       []core.PassKind
	expandGroup bool
	scope       core.PassScope
	externalID  core.ExternalParticipantID
}

// Resolve validates the visit, resolves program and participant, and issues
// every requested kind. Nothing is issued unless every step before signing
// succeeds.
func (r *Resolver) Resolve(ctx context.Context, req Request) (result Result, err error) {
	startedAt := time.Now()
	defer func() {
		r.telemetry.ObserveOperation(ctx, startedAt, "install_resolve", err, map[string]any{
			"program_ref": req.ProgramRef,
			"participant": req.ParticipantID,
			"kind":        req.Kind,
			"dry_run":     req.DryRun,
		})
	}()

	parsed, err := parseTarget(req)
	if err != nil {
		return Result{}, withState(err, StateScopeInvalid)
	}
	program, err := r.programs.Resolve(ctx, req.ProgramRef)
	if err != nil {
		if core.IsNotFound(err) {
			return Result{}, withState(err, StateParticipantUnknown)
		}
		return Result{}, err
	}
	participant, err := r.resolveParticipant(ctx, program, parsed.externalID, req.DryRun)
	if err != nil {
		return Result{}, err
	}

	kinds := parsed.kinds
	if parsed.expandGroup {
		kinds = program.Settings.EffectiveInstallGroup()
	}
	result = Result{
		OK:          true,
		Program:     ProgramSummary{ID: program.ID, ExternalID: program.ExternalID, Name: program.Name},
		Participant: int64(participant.ExternalID),
		Installed:   make([]Issued, 0, len(kinds)),
		Resolved:    participant,
	}
	for _, kind := range kinds {
		issued, err := r.issuer.Issue(ctx, IssueInput{
			Program:      program,
			Participant:  participant,
			Kind:         kind,
			Scope:        parsed.scope,
			DryRun:       req.DryRun,
			SerialPrefix: req.SerialPrefix,
		})
		if err != nil {
			if core.IsValidation(err) {
				return Result{}, withState(err, StateScopeInvalid)
			}
			return Result{}, err
		}
		issued.AppleURL = r.appleURL(issued.AppleSerial, req.DryRun)
		result.Installed = append(result.Installed, issued)
	}
	return result, nil
}

func (r *Resolver) resolveParticipant(ctx context.Context, program core.Program, externalID core.ExternalParticipantID, dryRun bool) (core.Participant, error) {
	found, err := r.participants.FindByExternalID(ctx, program.ID, externalID)
	if err != nil {
		return core.Participant{}, err
	}
	if found != nil {
		return *found, nil
	}
	notFound := withState(
		core.NotFoundError("participant", fmt.Sprintf("install: participant %s not found", externalID)),
		StateParticipantUnknown,
	)
	if r.source == nil || dryRun {
		return core.Participant{}, notFound
	}
	outcome, err := r.source.Reconcile(ctx, reconcile.Input{Program: program, ExternalID: externalID})
	if err != nil {
		if core.IsNotFound(err) {
			return core.Participant{}, notFound
		}
		return core.Participant{}, err
	}
	return outcome.Participant, nil
}

func (r *Resolver) appleURL(serial string, dryRun bool) string {
	if serial == "" || dryRun || r.publicBaseURL == "" {
		return ""
	}
	return r.publicBaseURL + "/passes/" + url.PathEscape(serial) + ".pkpass"
}

func parseTarget(req Request) (target, error) {
	if strings.TrimSpace(req.ProgramRef) == "" {
		return target{}, core.ValidationError("program", "install: program id is required")
	}
	externalID, err := core.ParseExternalParticipantID(req.ParticipantID)
	if err != nil {
		return target{}, core.WrapValidation(err, "participant", "install: participant id must be a positive integer")
	}
	resourceType := strings.TrimSpace(req.ResourceType)
	resourceID := strings.TrimSpace(req.ResourceID)
	if (resourceType == "") != (resourceID == "") {
		return target{}, core.ValidationError("resource", "install: resource type and id must be given together")
	}
	scope := core.PassScope{ResourceType: resourceType, ResourceID: resourceID}

	rawKind := strings.ToLower(strings.TrimSpace(req.Kind))
	if rawKind == core.PassKindDefault || rawKind == "" {
		if !scope.IsZero() {
			return target{}, core.ValidationError("resource", "install: the default group does not take a resource")
		}
		return target{expandGroup: true, externalID: externalID}, nil
	}
	kind, ok := core.ParsePassKind(rawKind)
	if !ok {
		return target{}, core.ValidationError("kind", fmt.Sprintf("install: unknown pass kind %q", req.Kind))
	}
	if kind.RequiresResource() && scope.IsZero() {
		return target{}, core.ValidationError("resource", fmt.Sprintf("install: %s passes require a resource", kind))
	}
	if !kind.RequiresResource() && !scope.IsZero() {
		return target{}, core.ValidationError("resource", fmt.Sprintf("install: %s passes do not take a resource", kind))
	}
	return target{kinds: []core.PassKind{kind}, scope: scope, externalID: externalID}, nil
}
