package signing

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-walletsync/core"
)

type fakeSigner struct {
	provider core.WalletProvider
}

func (f fakeSigner) Provider() core.WalletProvider { return f.provider }

func (f fakeSigner) Sign(context.Context, Request) (Artifact, error) {
	return Artifact{Provider: f.provider, Identifier: "id"}, nil
}

func TestRegistry_OrdersAndRejectsDuplicates(t *testing.T) {
	registry := NewRegistry(fakeSigner{provider: core.WalletProviderGoogle}, fakeSigner{provider: core.WalletProviderApple})
	signers := registry.Signers()
	if len(signers) != 2 || signers[0].Provider() != core.WalletProviderApple {
		t.Fatalf("expected apple first, got %v", signers)
	}
	if err := registry.Register(fakeSigner{provider: core.WalletProviderApple}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, ok := registry.Get(core.WalletProviderGoogle); !ok {
		t.Fatalf("expected google signer")
	}
}

func TestFail_CarriesTypedErrorInsideProviderError(t *testing.T) {
	cause := errors.New("pkcs12: decryption password incorrect")
	err := Fail(core.WalletProviderApple, ErrorKindPassword, cause, "certificate bundle password rejected")
	if !core.IsProvider(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
	typed, ok := AsError(err)
	if !ok {
		t.Fatalf("expected typed signing error in chain")
	}
	if typed.Kind != ErrorKindPassword || !errors.Is(err, cause) {
		t.Fatalf("unexpected typed error %+v", typed)
	}
}
