// Package signing turns derived pass payloads into provider artifacts behind
// one capability interface.
package signing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/passes"
)

type Request struct {
	Program     core.Program
	Participant core.Participant
	Pass        core.Pass
	Payload     passes.Payload
	Digest      string
	// Serial reuses an existing serial when serving the current artifact.
	// Regenerations leave it empty so a fresh serial is issued.
	Serial string
	// SerialPrefix marks synthetic artifacts such as diagnostic runs.
	SerialPrefix string
	// DryRun signs locally but skips remote writes.
	DryRun bool
}

type Artifact struct {
	Provider    core.WalletProvider
	Identifier  string
	Bytes       []byte
	ContentType string
	ContentHash string
	SaveURL     string
}

type Signer interface {
	Provider() core.WalletProvider
	Sign(ctx context.Context, req Request) (Artifact, error)
}

// Linker is implemented by signers that can hand out an install link for an
// already issued pass without signing again.
type Linker interface {
	Link(ctx context.Context, req Request) (string, error)
}

type ErrorKind string

const (
	ErrorKindCertificate ErrorKind = "certificate"
	ErrorKindPassword    ErrorKind = "password"
	ErrorKindPayload     ErrorKind = "payload"
	ErrorKindRemote      ErrorKind = "remote"
)

// Error is the typed signing failure carried inside a ProviderError.
type Error struct {
	Provider core.WalletProvider
	Kind     ErrorKind
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	message := fmt.Sprintf("signing: %s %s failure: %s", e.Provider, e.Kind, e.Detail)
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Fail wraps a typed signing error in the provider taxonomy error.
func Fail(provider core.WalletProvider, kind ErrorKind, cause error, detail string) error {
	typed := &Error{Provider: provider, Kind: kind, Detail: strings.TrimSpace(detail), Cause: cause}
	rich := core.ProviderError(string(provider), typed, typed.Error())
	rich.WithMetadata(map[string]any{"signing_error": string(kind)})
	return rich
}

func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// Registry holds the enabled signers keyed by provider.
type Registry struct {
	mu      sync.RWMutex
	signers map[core.WalletProvider]Signer
}

func NewRegistry(signers ...Signer) *Registry {
	registry := &Registry{signers: map[core.WalletProvider]Signer{}}
	for _, signer := range signers {
		_ = registry.Register(signer)
	}
	return registry
}

func (r *Registry) Register(signer Signer) error {
	if signer == nil {
		return fmt.Errorf("signing: signer is required")
	}
	provider := signer.Provider()
	if strings.TrimSpace(string(provider)) == "" {
		return fmt.Errorf("signing: signer provider is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.signers[provider]; exists {
		return fmt.Errorf("signing: signer %q already registered", provider)
	}
	r.signers[provider] = signer
	return nil
}

func (r *Registry) Get(provider core.WalletProvider) (Signer, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	signer, ok := r.signers[provider]
	return signer, ok
}

// Signers returns the enabled signers in provider order.
func (r *Registry) Signers() []Signer {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.signers))
	for provider := range r.signers {
		providers = append(providers, string(provider))
	}
	sort.Strings(providers)
	out := make([]Signer, 0, len(providers))
	for _, provider := range providers {
		out = append(out, r.signers[core.WalletProvider(provider)])
	}
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.signers)
}
