package install

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/passes"
	"github.com/goliatone/go-walletsync/signing"
)

type State string

const (
	StateScopeInvalid       State = "scope_invalid"
	StateParticipantUnknown State = "participant_unknown"
	StatePassAbsent         State = "pass_absent"
	StatePassStale          State = "pass_stale"
	StatePassCurrent        State = "pass_current"
)

const defaultMaxAttempts = 3

type IssueInput struct {
	Program     core.Program
	Participant core.Participant
	Kind        core.PassKind
	Scope       core.PassScope
	// DryRun signs with the configured providers but persists nothing.
	DryRun       bool
	SerialPrefix string
}

// Issued describes one pass after an install or refresh.
type Issued struct {
	Kind           core.PassKind      `json:"kind"`
	Resource       string             `json:"resource,omitempty"`
	State          State              `json:"state"`
	Version        int                `json:"version"`
	AppleSerial    string             `json:"apple_serial,omitempty"`
	AppleURL       string             `json:"apple_url,omitempty"`
	GoogleObjectID string             `json:"google_object_id,omitempty"`
	SaveURL        string             `json:"save_url,omitempty"`
	Digest         string             `json:"digest"`
	Pass           core.Pass          `json:"-"`
	Artifacts      []signing.Artifact `json:"-"`
}

func (i Issued) Changed() bool {
	return i.State == StatePassAbsent || i.State == StatePassStale
}

type Issuer struct {
	passes       core.PassStore
	programs     core.ProgramStore
	participants core.ParticipantStore
	signers      *signing.Registry
	pusher       core.Pusher
	telemetry    core.Telemetry
	now          func() time.Time
	maxAttempts  int
}

type IssuerOption func(*Issuer)

func WithPusher(pusher core.Pusher) IssuerOption {
	return func(i *Issuer) {
		if pusher != nil {
			i.pusher = pusher
		}
	}
}

func WithIssuerTelemetry(telemetry core.Telemetry) IssuerOption {
	return func(i *Issuer) {
		i.telemetry = telemetry
	}
}

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithMaxAttempts bounds the optimistic retries when a pass row changes
// between read and write.
func WithMaxAttempts(attempts int) IssuerOption {
	return func(i *Issuer) {
		if attempts > 0 {
			i.maxAttempts = attempts
		}
	}
}

// WithLookups lets the Issuer serve artifacts by serial.
func WithLookups(programs core.ProgramStore, participants core.ParticipantStore) IssuerOption {
	return func(i *Issuer) {
		i.programs = programs
		i.participants = participants
	}
}

func NewIssuer(passStore core.PassStore, signers *signing.Registry, opts ...IssuerOption) *Issuer {
	issuer := &Issuer{
		passes:      passStore,
		signers:     signers,
		pusher:      core.NopPusher{},
		telemetry:   core.NewTelemetry(nil, nil),
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer
}

// Issue brings one pass up to date with the participant's current data.
func (i *Issuer) Issue(ctx context.Context, in IssueInput) (issued Issued, err error) {
	startedAt := time.Now()
	defer func() {
		i.telemetry.ObserveOperation(ctx, startedAt, "pass_issue", err, map[string]any{
			"program_id":     in.Program.ID,
			"participant_id": in.Participant.ID,
			"kind":           string(in.Kind),
			"outcome":        string(issued.State),
			"dry_run":        in.DryRun,
		})
	}()

	if i.signers == nil || i.signers.Len() == 0 {
		return Issued{}, core.ConfigurationError("WALLETSYNC_APPLE_CERTIFICATE_BUNDLE", "install: no wallet provider is configured")
	}
	payload, err := passes.Derive(in.Program, in.Participant, in.Kind, in.Scope)
	if err != nil {
		return Issued{State: StateScopeInvalid}, err
	}
	digest, err := passes.Digest(payload)
	if err != nil {
		return Issued{}, core.InternalError(err, "install: payload digest failed")
	}

	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		issued, err = i.issueOnce(ctx, in, payload, digest)
		if !errors.Is(err, core.ErrPassConflict) {
			return issued, err
		}
		i.telemetry.LogWarn(ctx, "pass changed concurrently, retrying", map[string]any{
			"participant_id": in.Participant.ID,
			"kind":           string(in.Kind),
			"attempt":        attempt,
		})
	}
	return Issued{}, core.InternalError(err, fmt.Sprintf("install: pass %s kept changing concurrently", in.Kind))
}

func (i *Issuer) issueOnce(ctx context.Context, in IssueInput, payload passes.Payload, digest string) (Issued, error) {
	existing, err := i.findExisting(ctx, in)
	if err != nil {
		return Issued{}, err
	}
	request := signing.Request{
		Program:      in.Program,
		Participant:  in.Participant,
		Payload:      payload,
		Digest:       digest,
		SerialPrefix: in.SerialPrefix,
		DryRun:       in.DryRun,
	}

	if existing == nil {
		signed, err := i.signAll(ctx, request)
		if err != nil {
			return Issued{}, err
		}
		now := i.now()
		row := core.Pass{
			ProgramID:      in.Program.ID,
			ParticipantID:  in.Participant.ID,
			Kind:           in.Kind,
			Scope:          in.Scope,
			AppleSerial:    signed.appleSerial,
			GoogleObjectID: signed.googleObjectID,
			ContentHash:    digest,
			Version:        1,
			LastSyncedAt:   &now,
		}
		if !in.DryRun {
			row, err = i.passes.Create(ctx, row)
			if err != nil {
				return Issued{}, err
			}
		}
		return issuedFrom(StatePassAbsent, row, digest, signed), nil
	}

	request.Pass = *existing
	if !passes.NeedsRegeneration(existing.ContentHash, digest) {
		saveURL := i.link(ctx, request)
		return issuedFrom(StatePassCurrent, *existing, digest, signedSet{saveURL: saveURL}), nil
	}

	signed, err := i.signAll(ctx, request)
	if err != nil {
		if !in.DryRun {
			if recordErr := i.passes.RecordError(ctx, existing.ID, err.Error()); recordErr != nil {
				i.telemetry.LogWarn(ctx, "pass error could not be recorded", map[string]any{"pass_id": existing.ID, "error": recordErr.Error()})
			}
		}
		return Issued{}, err
	}
	now := i.now()
	if in.DryRun {
		row := *existing
		row.Version++
		row.ContentHash = digest
		row.AppleSerial = firstNonEmpty(signed.appleSerial, row.AppleSerial)
		row.GoogleObjectID = firstNonEmpty(signed.googleObjectID, row.GoogleObjectID)
		return issuedFrom(StatePassStale, row, digest, signed), nil
	}
	updated, err := i.passes.UpdateIssued(ctx, core.UpdateIssuedInput{
		PassID:          existing.ID,
		ExpectedVersion: existing.Version,
		AppleSerial:     signed.appleSerial,
		GoogleObjectID:  signed.googleObjectID,
		ContentHash:     digest,
		SyncedAt:        now,
	})
	if err != nil {
		return Issued{}, err
	}
	i.push(ctx, updated)
	return issuedFrom(StatePassStale, updated, digest, signed), nil
}

func (i *Issuer) findExisting(ctx context.Context, in IssueInput) (*core.Pass, error) {
	if in.Participant.ID == "" {
		return nil, nil
	}
	return i.passes.Find(ctx, in.Participant.ID, in.Kind, in.Scope)
}

// RefreshExisting regenerates passes the participant already holds. It never
// creates new passes.
func (i *Issuer) RefreshExisting(ctx context.Context, program core.Program, participant core.Participant) error {
	rows, err := i.passes.ListByParticipant(ctx, participant.ID)
	if err != nil {
		return err
	}
	var errs []error
	for _, row := range rows {
		if _, err := i.Issue(ctx, IssueInput{Program: program, Participant: participant, Kind: row.Kind, Scope: row.Scope}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", row.Kind, err))
		}
	}
	return errors.Join(errs...)
}

// Artifact refreshes the pass behind an Apple serial and signs it again for
// download. The serial may rotate when the content changed.
func (i *Issuer) Artifact(ctx context.Context, serial string) (signing.Artifact, core.Pass, error) {
	if i.programs == nil || i.participants == nil {
		return signing.Artifact{}, core.Pass{}, core.ConfigurationError("stores", "install: artifact lookups are not configured")
	}
	signer, ok := i.signers.Get(core.WalletProviderApple)
	if !ok {
		return signing.Artifact{}, core.Pass{}, core.ConfigurationError("WALLETSYNC_APPLE_CERTIFICATE_BUNDLE", "install: apple signing is not configured")
	}
	row, err := i.passes.FindBySerial(ctx, serial)
	if err != nil {
		return signing.Artifact{}, core.Pass{}, err
	}
	if row == nil {
		return signing.Artifact{}, core.Pass{}, core.NotFoundError("pass", "install: pass not found")
	}
	program, err := i.programs.Resolve(ctx, row.ProgramID)
	if err != nil {
		return signing.Artifact{}, core.Pass{}, err
	}
	participant, err := i.participants.Get(ctx, row.ParticipantID)
	if err != nil {
		return signing.Artifact{}, core.Pass{}, err
	}
	issued, err := i.Issue(ctx, IssueInput{Program: program, Participant: participant, Kind: row.Kind, Scope: row.Scope})
	if err != nil {
		return signing.Artifact{}, core.Pass{}, err
	}
	for _, artifact := range issued.Artifacts {
		if artifact.Provider == core.WalletProviderApple {
			return artifact, issued.Pass, nil
		}
	}
	payload, err := passes.Derive(program, participant, row.Kind, row.Scope)
	if err != nil {
		return signing.Artifact{}, core.Pass{}, err
	}
	artifact, err := signer.Sign(ctx, signing.Request{
		Program:     program,
		Participant: participant,
		Pass:        issued.Pass,
		Payload:     payload,
		Digest:      issued.Digest,
		Serial:      issued.Pass.AppleSerial,
	})
	if err != nil {
		return signing.Artifact{}, core.Pass{}, err
	}
	return artifact, issued.Pass, nil
}

type signedSet struct {
	appleSerial    string
	googleObjectID string
	saveURL        string
	artifacts      []signing.Artifact
}

// signAll runs every enabled signer and stops at the first failure so a pass
// is never half issued.
func (i *Issuer) signAll(ctx context.Context, req signing.Request) (signedSet, error) {
	var out signedSet
	for _, signer := range i.signers.Signers() {
		artifact, err := signer.Sign(ctx, req)
		if err != nil {
			return signedSet{}, err
		}
		i.telemetry.LogInfo(ctx, "pass artifact signed", map[string]any{
			"provider":     string(artifact.Provider),
			"identifier":   artifact.Identifier,
			"content_hash": artifact.ContentHash,
			"digest":       req.Digest,
		})
		switch artifact.Provider {
		case core.WalletProviderApple:
			out.appleSerial = artifact.Identifier
		case core.WalletProviderGoogle:
			out.googleObjectID = artifact.Identifier
			out.saveURL = artifact.SaveURL
		}
		out.artifacts = append(out.artifacts, artifact)
	}
	return out, nil
}

func (i *Issuer) link(ctx context.Context, req signing.Request) string {
	for _, signer := range i.signers.Signers() {
		linker, ok := signer.(signing.Linker)
		if !ok {
			continue
		}
		link, err := linker.Link(ctx, req)
		if err != nil {
			i.telemetry.LogWarn(ctx, "install link could not be built", map[string]any{"provider": string(signer.Provider()), "error": err.Error()})
			continue
		}
		return link
	}
	return ""
}

func (i *Issuer) push(ctx context.Context, pass core.Pass) {
	if len(pass.DeviceTokens) == 0 {
		return
	}
	if err := i.pusher.Push(ctx, pass, pass.DeviceTokens); err != nil {
		i.telemetry.LogWarn(ctx, "pass update push failed", map[string]any{
			"pass_id": pass.ID,
			"devices": len(pass.DeviceTokens),
			"error":   err.Error(),
		})
	}
}

func issuedFrom(state State, row core.Pass, digest string, signed signedSet) Issued {
	return Issued{
		Kind:           row.Kind,
		Resource:       row.Scope.Key(),
		State:          state,
		Version:        row.Version,
		AppleSerial:    row.AppleSerial,
		GoogleObjectID: row.GoogleObjectID,
		SaveURL:        signed.saveURL,
		Digest:         digest,
		Pass:           row,
		Artifacts:      signed.artifacts,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
