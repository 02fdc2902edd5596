// Package appletest issues throwaway pass certificates for tests.
package appletest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

const (
	DefaultPassTypeIdentifier = "pass.com.example.loyalty"
	DefaultTeamIdentifier     = "TEAM123456"
	DefaultPassword           = "bundle-secret"
)

type Options struct {
	PassTypeIdentifier string
	TeamIdentifier     string
	Password           string
	NotBefore          time.Time
	NotAfter           time.Time
}

// Bundle is a base64 PKCS#12 bundle plus a base64 PEM WWDR certificate.
type Bundle struct {
	P12Base64   string
	Password    string
	WWDRBase64  string
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
}

func NewBundle(tb testing.TB, opts Options) Bundle {
	tb.Helper()
	if opts.PassTypeIdentifier == "" {
		opts.PassTypeIdentifier = DefaultPassTypeIdentifier
	}
	if opts.TeamIdentifier == "" {
		opts.TeamIdentifier = DefaultTeamIdentifier
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	now := time.Now()
	if opts.NotBefore.IsZero() {
		opts.NotBefore = now.Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = now.Add(365 * 24 * time.Hour)
	}

	wwdrKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generate wwdr key: %v", err)
	}
	wwdrTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test WWDR", Organization: []string{"Test Authority"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	wwdrDER, err := x509.CreateCertificate(rand.Reader, wwdrTemplate, wwdrTemplate, &wwdrKey.PublicKey, wwdrKey)
	if err != nil {
		tb.Fatalf("create wwdr certificate: %v", err)
	}
	wwdr, err := x509.ParseCertificate(wwdrDER)
	if err != nil {
		tb.Fatalf("parse wwdr certificate: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generate pass key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			CommonName:         "Pass Type ID: " + opts.PassTypeIdentifier,
			OrganizationalUnit: []string{opts.TeamIdentifier},
			ExtraNames: []pkix.AttributeTypeAndValue{{
				Type:  asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1},
				Value: opts.PassTypeIdentifier,
			}},
		},
		NotBefore:   opts.NotBefore,
		NotAfter:    opts.NotAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, wwdr, &key.PublicKey, wwdrKey)
	if err != nil {
		tb.Fatalf("create pass certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tb.Fatalf("parse pass certificate: %v", err)
	}
	p12, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{wwdr}, opts.Password)
	if err != nil {
		tb.Fatalf("encode pkcs12: %v", err)
	}
	wwdrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: wwdrDER})
	return Bundle{
		P12Base64:   base64.StdEncoding.EncodeToString(p12),
		Password:    opts.Password,
		WWDRBase64:  base64.StdEncoding.EncodeToString(wwdrPEM),
		Certificate: cert,
		Key:         key,
	}
}
