// Package apple signs .pkpass bundles for Apple Wallet.
package apple

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"go.mozilla.org/pkcs7"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/passes"
	"github.com/goliatone/go-walletsync/signing"
)

const ContentType = "application/vnd.apple.pkpass"

type Config struct {
	PassTypeIdentifier  string
	TeamIdentifier      string
	OrganizationName    string
	CertificateBundle   string
	CertificatePassword string
	WWDRCertificate     string
	AuthSecret          string
	// WebServiceURL is the base devices call for registration and updates.
	WebServiceURL string
}

func ConfigFrom(cfg core.AppleConfig, publicBaseURL string) Config {
	webService := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if webService != "" {
		webService += "/wallet"
	}
	return Config{
		PassTypeIdentifier:  cfg.PassTypeIdentifier,
		TeamIdentifier:      cfg.TeamIdentifier,
		OrganizationName:    cfg.OrganizationName,
		CertificateBundle:   cfg.CertificateBundle,
		CertificatePassword: cfg.CertificatePassword,
		WWDRCertificate:     cfg.WWDRCertificate,
		AuthSecret:          cfg.AuthSecret,
		WebServiceURL:       webService,
	}
}

type Signer struct {
	config  Config
	serials func() string
	now     func() time.Time
}

type Option func(*Signer)

// WithSerialSource replaces the random serial generator.
func WithSerialSource(next func() string) Option {
	return func(s *Signer) {
		if next != nil {
			s.serials = next
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSigner(cfg Config, opts ...Option) *Signer {
	signer := &Signer{
		config:  cfg,
		serials: func() string { return uuid.NewString() },
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(signer)
		}
	}
	return signer
}

func (s *Signer) Provider() core.WalletProvider {
	return core.WalletProviderApple
}

func (s *Signer) Config() Config {
	return s.config
}

// Identity parses the configured bundle. Callers get a fresh parse each time.
func (s *Signer) Identity() (*Identity, error) {
	return ParseBundle(s.config.CertificateBundle, s.config.CertificatePassword, s.config.WWDRCertificate)
}

func (s *Signer) Sign(ctx context.Context, req signing.Request) (signing.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return signing.Artifact{}, err
	}
	identity, err := s.Identity()
	if err != nil {
		return signing.Artifact{}, err
	}
	serial := strings.TrimSpace(req.Serial)
	if serial == "" {
		serial = s.serials()
		if prefix := strings.TrimSpace(req.SerialPrefix); prefix != "" {
			serial = prefix + "-" + serial
		}
	}
	pass, err := BuildPass(PassConfig{
		PassTypeIdentifier: s.config.PassTypeIdentifier,
		TeamIdentifier:     s.config.TeamIdentifier,
		OrganizationName:   s.config.OrganizationName,
		WebServiceURL:      s.config.WebServiceURL,
		AuthToken:          s.config.AuthSecret,
	}, req.Payload, serial)
	if err != nil {
		return signing.Artifact{}, signing.Fail(core.WalletProviderApple, signing.ErrorKindPayload, err, "pass.json could not be built")
	}
	bundle, err := s.assemble(identity, pass)
	if err != nil {
		return signing.Artifact{}, err
	}
	return signing.Artifact{
		Provider:    core.WalletProviderApple,
		Identifier:  serial,
		Bytes:       bundle,
		ContentType: ContentType,
		ContentHash: passes.HashBytes(bundle),
	}, nil
}

func (s *Signer) assemble(identity *Identity, pass PassJSON) ([]byte, error) {
	passJSON, err := json.MarshalIndent(pass, "", "  ")
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindPayload, err, "pass.json could not be encoded")
	}
	images, err := placeholderImages()
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindPayload, err, "placeholder images could not be rendered")
	}
	files := map[string][]byte{"pass.json": passJSON}
	for name, data := range images {
		files[name] = data
	}

	manifest, err := buildManifest(files)
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindPayload, err, "manifest could not be encoded")
	}
	signature, err := signManifest(identity, manifest)
	if err != nil {
		return nil, err
	}
	files["manifest.json"] = manifest
	files["signature"] = signature
	archive, err := writeArchive(files, s.now())
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindPayload, err, "pass archive could not be written")
	}
	return archive, nil
}

// buildManifest maps every bundle file to its SHA-1 digest.
func buildManifest(files map[string][]byte) ([]byte, error) {
	manifest := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha1.Sum(data)
		manifest[name] = hex.EncodeToString(sum[:])
	}
	return json.Marshal(manifest)
}

func signManifest(identity *Identity, manifest []byte) ([]byte, error) {
	signed, err := pkcs7.NewSignedData(manifest)
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, err, "signature container could not be created")
	}
	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := signed.AddSigner(identity.Certificate, identity.PrivateKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, err, "manifest could not be signed")
	}
	signed.AddCertificate(identity.WWDR)
	signed.Detach()
	signature, err := signed.Finish()
	if err != nil {
		return nil, signing.Fail(core.WalletProviderApple, signing.ErrorKindCertificate, err, "signature could not be finalized")
	}
	return signature, nil
}

func writeArchive(files map[string][]byte, modified time.Time) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, name := range names {
		header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified.UTC()}
		entry, err := writer.CreateHeader(header)
		if err != nil {
			return nil, err
		}
		if _, err := entry.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
