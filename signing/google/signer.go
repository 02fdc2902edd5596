// Package google upserts Google Wallet pass objects and issues save links.
package google

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-walletsync/auth"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/passes"
	"github.com/goliatone/go-walletsync/ratelimit"
	"github.com/goliatone/go-walletsync/signing"
	"github.com/goliatone/go-walletsync/transport"
)

const (
	SaveURLBase       = "https://pay.google.com/gp/v/save/"
	objectTypeLoyalty = "loyaltyObject"
	objectTypeGeneric = "genericObject"
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._\-]`)

type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
	Email() string
	PrivateKey() *rsa.PrivateKey
}

type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Limiter gates wallet object calls on the throttling signals Google returns.
type Limiter interface {
	BeforeCall(ctx context.Context, key ratelimit.Key) error
	AfterCall(ctx context.Context, key ratelimit.Key, status int, headers map[string]string) error
}

type Config struct {
	IssuerID    string
	ClassSuffix string
	APIBaseURL  string
	Origins     []string
	Timeout     time.Duration
}

func ConfigFrom(cfg core.GoogleConfig, publicBaseURL string, timeout time.Duration) Config {
	var origins []string
	if base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"); base != "" {
		origins = []string{base}
	}
	return Config{
		IssuerID:    cfg.IssuerID,
		ClassSuffix: cfg.ClassSuffix,
		APIBaseURL:  cfg.APIBaseURL,
		Origins:     origins,
		Timeout:     timeout,
	}
}

type Signer struct {
	config  Config
	tokens  TokenSource
	doer    Doer
	limiter Limiter
	now     func() time.Time
}

func NewSigner(cfg Config, tokens TokenSource, doer Doer) (*Signer, error) {
	cfg.IssuerID = strings.TrimSpace(cfg.IssuerID)
	cfg.ClassSuffix = strings.TrimSpace(cfg.ClassSuffix)
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.IssuerID == "" {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_ISSUER_ID", "google: issuer id is required")
	}
	if cfg.ClassSuffix == "" {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_CLASS_SUFFIX", "google: class suffix is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_API_BASE_URL", "google: api base url is required")
	}
	if tokens == nil {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_PRIVATE_KEY", "google: service account token source is required")
	}
	if doer == nil {
		doer = transport.NewRESTAdapter(nil)
	}
	return &Signer{config: cfg, tokens: tokens, doer: doer, now: time.Now}, nil
}

// WithRateLimit throttles wallet object calls per issuer.
func (s *Signer) WithRateLimit(limiter Limiter) *Signer {
	s.limiter = limiter
	return s
}

func (s *Signer) Provider() core.WalletProvider {
	return core.WalletProviderGoogle
}

// ObjectID is stable per pass so repeated upserts address the same object.
func (s *Signer) ObjectID(payload passes.Payload) string {
	parts := []string{fmt.Sprintf("%d", payload.ExternalParticipantID), string(payload.Kind)}
	if payload.ScopeKey != "" {
		parts = append(parts, payload.ScopeKey)
	}
	suffix := unsafeIDChars.ReplaceAllString(strings.Join(parts, "-"), "_")
	return s.config.IssuerID + "." + sanitize(payload.ProgramID) + "-" + suffix
}

func (s *Signer) ClassID() string {
	return s.config.IssuerID + "." + sanitize(s.config.ClassSuffix)
}

// Sign upserts the wallet object and returns a save link. DryRun builds the
// object and link without writing remotely.
func (s *Signer) Sign(ctx context.Context, req signing.Request) (signing.Artifact, error) {
	objectID := strings.TrimSpace(req.Pass.GoogleObjectID)
	if objectID == "" {
		objectID = s.ObjectID(req.Payload)
	}
	if prefix := strings.TrimSpace(req.SerialPrefix); prefix != "" && req.Pass.GoogleObjectID == "" {
		objectID = s.config.IssuerID + "." + sanitize(prefix) + "-" + strings.TrimPrefix(objectID, s.config.IssuerID+".")
	}
	objectType, object, err := s.buildObject(objectID, req.Payload)
	if err != nil {
		return signing.Artifact{}, err
	}
	body, err := json.Marshal(object)
	if err != nil {
		return signing.Artifact{}, signing.Fail(core.WalletProviderGoogle, signing.ErrorKindPayload, err, "wallet object could not be encoded")
	}
	if !req.DryRun {
		if err := s.UpsertObject(ctx, objectType, objectID, object); err != nil {
			return signing.Artifact{}, err
		}
	}
	saveURL, err := s.SaveURL(objectType, objectID)
	if err != nil {
		return signing.Artifact{}, err
	}
	return signing.Artifact{
		Provider:    core.WalletProviderGoogle,
		Identifier:  objectID,
		Bytes:       body,
		ContentType: "application/json",
		ContentHash: passes.HashBytes(body),
		SaveURL:     saveURL,
	}, nil
}

// Link returns the save link for the pass object without touching the API.
func (s *Signer) Link(_ context.Context, req signing.Request) (string, error) {
	objectID := strings.TrimSpace(req.Pass.GoogleObjectID)
	if objectID == "" {
		objectID = s.ObjectID(req.Payload)
	}
	objectType := objectTypeLoyalty
	if req.Payload.Style == passes.StyleGeneric {
		objectType = objectTypeGeneric
	}
	return s.SaveURL(objectType, objectID)
}

// UpsertObject reads the object and updates it when present, inserting it
// otherwise. Retrying is left to the caller.
func (s *Signer) UpsertObject(ctx context.Context, objectType string, objectID string, object any) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	resource := s.config.APIBaseURL + "/" + objectType
	existing, err := s.call(ctx, http.MethodGet, resource+"/"+url.PathEscape(objectID), token, nil)
	if err != nil {
		return err
	}
	switch {
	case existing.OK():
		resp, err := s.call(ctx, http.MethodPut, resource+"/"+url.PathEscape(objectID), token, object)
		if err != nil {
			return err
		}
		return s.check(resp, "update")
	case existing.StatusCode == http.StatusNotFound:
		resp, err := s.call(ctx, http.MethodPost, resource, token, object)
		if err != nil {
			return err
		}
		return s.check(resp, "insert")
	default:
		return s.check(existing, "lookup")
	}
}

// Probe verifies the credentials by fetching an access token.
func (s *Signer) Probe(ctx context.Context) error {
	_, err := s.tokens.Token(ctx)
	return err
}

func (s *Signer) call(ctx context.Context, method string, rawURL string, token string, payload any) (transport.Response, error) {
	req, err := transport.JSONRequest(method, rawURL, payload)
	if err != nil {
		return transport.Response{}, signing.Fail(core.WalletProviderGoogle, signing.ErrorKindPayload, err, "wallet request could not be encoded")
	}
	req.Headers["Authorization"] = "Bearer " + token
	req.Timeout = s.config.Timeout
	bucket := ratelimit.Key{Service: string(core.WalletProviderGoogle), Bucket: s.config.IssuerID}
	if s.limiter != nil {
		if err := s.limiter.BeforeCall(ctx, bucket); err != nil {
			return transport.Response{}, signing.Fail(core.WalletProviderGoogle, signing.ErrorKindRemote, err, "wallet api throttled")
		}
	}
	resp, err := s.doer.Do(ctx, req)
	if err != nil {
		return transport.Response{}, signing.Fail(core.WalletProviderGoogle, signing.ErrorKindRemote, err, fmt.Sprintf("%s %s failed", method, objectPath(rawURL)))
	}
	if s.limiter != nil {
		if err := s.limiter.AfterCall(ctx, bucket, resp.StatusCode, resp.Headers); err != nil {
			return transport.Response{}, signing.Fail(core.WalletProviderGoogle, signing.ErrorKindRemote, err, "wallet api rate limit state")
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		s.tokens.Invalidate()
	}
	return resp, nil
}

func (s *Signer) check(resp transport.Response, action string) error {
	if resp.OK() {
		return nil
	}
	detail := fmt.Sprintf("wallet object %s returned status %d", action, resp.StatusCode)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(resp.Body, &envelope) == nil && envelope.Error.Message != "" {
		detail += ": " + envelope.Error.Message
	}
	return signing.Fail(core.WalletProviderGoogle, signing.ErrorKindRemote, nil, detail)
}

// SaveURL signs the save-to-wallet JWT for an object.
func (s *Signer) SaveURL(objectType string, objectID string) (string, error) {
	key := s.tokens.PrivateKey()
	if key == nil {
		return "", signing.Fail(core.WalletProviderGoogle, signing.ErrorKindCertificate, nil, "service account private key unavailable")
	}
	claims := jwt.MapClaims{
		"iss":     s.tokens.Email(),
		"aud":     "google",
		"typ":     "savetowallet",
		"iat":     s.now().Unix(),
		"origins": append([]string{}, s.config.Origins...),
		"payload": map[string]any{
			objectType + "s": []map[string]string{{"id": objectID}},
		},
	}
	token, err := auth.SignRS256(key, claims)
	if err != nil {
		return "", signing.Fail(core.WalletProviderGoogle, signing.ErrorKindCertificate, err, "save link could not be signed")
	}
	return SaveURLBase + token, nil
}

func (s *Signer) buildObject(objectID string, payload passes.Payload) (string, map[string]any, error) {
	barcode := map[string]any{
		"type":          "QR_CODE",
		"value":         payload.BarcodeMessage,
		"alternateText": fmt.Sprintf("%d", payload.ExternalParticipantID),
	}
	modules := textModules(payload)
	switch payload.Style {
	case passes.StyleStoreCard:
		object := map[string]any{
			"id":          objectID,
			"classId":     s.ClassID(),
			"state":       "ACTIVE",
			"accountId":   fmt.Sprintf("%d", payload.ExternalParticipantID),
			"accountName": payload.MemberName,
			"barcode":     barcode,
			"loyaltyPoints": map[string]any{
				"label":   payload.BalanceLabel,
				"balance": map[string]any{"int": payload.Balance},
			},
			"textModulesData": modules,
		}
		return objectTypeLoyalty, object, nil
	case passes.StyleGeneric:
		object := map[string]any{
			"id":              objectID,
			"classId":         s.ClassID(),
			"state":           "ACTIVE",
			"cardTitle":       localized(payload.ProgramName),
			"header":          localized(payload.Title),
			"subheader":       localized(payload.MemberName),
			"barcode":         barcode,
			"textModulesData": modules,
		}
		if payload.BrandColor != "" {
			object["hexBackgroundColor"] = payload.BrandColor
		}
		return objectTypeGeneric, object, nil
	default:
		return "", nil, signing.Fail(core.WalletProviderGoogle, signing.ErrorKindPayload, nil, fmt.Sprintf("unsupported pass style %q", payload.Style))
	}
}

func textModules(payload passes.Payload) []map[string]string {
	fields := append(append([]passes.Field{}, payload.Secondary...), payload.Back...)
	modules := make([]map[string]string, 0, len(fields))
	for _, field := range fields {
		if strings.TrimSpace(field.Value) == "" {
			continue
		}
		modules = append(modules, map[string]string{"id": field.Key, "header": field.Label, "body": field.Value})
	}
	return modules
}

func localized(value string) map[string]any {
	return map[string]any{"defaultValue": map[string]string{"language": "en-US", "value": value}}
}

func sanitize(value string) string {
	return unsafeIDChars.ReplaceAllString(strings.TrimSpace(value), "_")
}

func objectPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "wallet object"
	}
	return parsed.Path
}
