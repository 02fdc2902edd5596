package apple

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/signing"
)

var oidUserID = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}

// Identity is the parsed signing material for one signing operation.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
	WWDR        *x509.Certificate
	Chain       []*x509.Certificate
}

// ParseBundle decodes the base64 PKCS#12 bundle and the base64 WWDR
// certificate. Any extraction failure aborts the whole operation.
func ParseBundle(p12Base64 string, password string, wwdrBase64 string) (*Identity, error) {
	if strings.TrimSpace(p12Base64) == "" {
		return nil, core.ConfigurationError("WALLETSYNC_APPLE_CERTIFICATE_BUNDLE", "apple: certificate bundle is required")
	}
	if strings.TrimSpace(wwdrBase64) == "" {
		return nil, core.ConfigurationError("WALLETSYNC_APPLE_WWDR_CERTIFICATE", "apple: WWDR certificate is required")
	}
	raw, err := decodeBase64(p12Base64)
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, err, "certificate bundle is not valid base64")
	}
	key, cert, chain, err := pkcs12.DecodeChain(raw, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindPassword, err, "certificate bundle password rejected")
		}
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, err, "certificate bundle could not be decoded")
	}
	if cert == nil || key == nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, nil, "certificate bundle has no certificate or key")
	}
	wwdr, err := parseCertificate(wwdrBase64)
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, err, "WWDR certificate could not be decoded")
	}
	identity := &Identity{Certificate: cert, PrivateKey: key, WWDR: wwdr, Chain: chain}
	if !identity.KeyMatches() {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, nil, "private key does not match certificate")
	}
	return identity, nil
}

// PassTypeIdentifier reads the UID attribute Apple stamps into pass certificates.
func (i *Identity) PassTypeIdentifier() string {
	if i == nil || i.Certificate == nil {
		return ""
	}
	for _, name := range i.Certificate.Subject.Names {
		if name.Type.Equal(oidUserID) {
			if value, ok := name.Value.(string); ok {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

func (i *Identity) TeamIdentifier() string {
	if i == nil || i.Certificate == nil || len(i.Certificate.Subject.OrganizationalUnit) == 0 {
		return ""
	}
	return strings.TrimSpace(i.Certificate.Subject.OrganizationalUnit[0])
}

func (i *Identity) KeyMatches() bool {
	if i == nil || i.Certificate == nil || i.PrivateKey == nil {
		return false
	}
	type publicKeyEqualer interface {
		Equal(x crypto.PublicKey) bool
	}
	var public crypto.PublicKey
	switch key := i.PrivateKey.(type) {
	case *rsa.PrivateKey:
		public = key.Public()
	case *ecdsa.PrivateKey:
		public = key.Public()
	case ed25519.PrivateKey:
		public = key.Public()
	default:
		return false
	}
	equaler, ok := public.(publicKeyEqualer)
	return ok && equaler.Equal(i.Certificate.PublicKey)
}

func decodeBase64(value string) ([]byte, error) {
	cleaned := strings.Join(strings.Fields(value), "")
	if decoded, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
}

// parseCertificate accepts base64 of either a PEM block or raw DER.
func parseCertificate(value string) (*x509.Certificate, error) {
	raw, err := decodeBase64(value)
	if err != nil {
		return nil, fmt.Errorf("apple: decode certificate: %w", err)
	}
	if block, _ := pem.Decode(raw); block != nil {
		raw = block.Bytes
	}
	return x509.ParseCertificate(raw)
}
