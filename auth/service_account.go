package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/transport"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	WalletObjectScope  = "https://www.googleapis.com/auth/wallet_object.issuer"
	providerGoogle     = "google"
)

type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

type ServiceAccountConfig struct {
	Email      string
	PrivateKey *rsa.PrivateKey
	TokenURL   string
	Scopes     []string
	TokenTTL   time.Duration
	Timeout    time.Duration
	Now        func() time.Time
}

// ServiceAccountTokenSource exchanges a signed service-account assertion for
// an access token and caches it until shortly before it expires.
type ServiceAccountTokenSource struct {
	config ServiceAccountConfig
	doer   Doer
	cache  *core.Expiring[string]
}

func NewServiceAccountTokenSource(cfg ServiceAccountConfig, doer Doer) (*ServiceAccountTokenSource, error) {
	cfg.Email = strings.TrimSpace(cfg.Email)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	if cfg.Email == "" {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_SERVICE_ACCOUNT_EMAIL", "auth: service account email is required")
	}
	if cfg.PrivateKey == nil {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_PRIVATE_KEY", "auth: service account private key is required")
	}
	if cfg.TokenURL == "" {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_TOKEN_URL", "auth: token url is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{WalletObjectScope}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = core.DefaultOutboundTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if doer == nil {
		doer = transport.NewRESTAdapter(nil)
	}
	return &ServiceAccountTokenSource{
		config: cfg,
		doer:   doer,
		cache:  core.NewExpiring[string](time.Minute),
	}, nil
}

func (s *ServiceAccountTokenSource) Email() string {
	return s.config.Email
}

func (s *ServiceAccountTokenSource) PrivateKey() *rsa.PrivateKey {
	return s.config.PrivateKey
}

// Token returns a cached access token, fetching a new one when needed.
func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	return s.cache.Get(ctx, s.fetch)
}

// Invalidate drops the cached token, for example after a 401 from the API.
func (s *ServiceAccountTokenSource) Invalidate() {
	s.cache.Invalidate()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (s *ServiceAccountTokenSource) fetch(ctx context.Context) (string, time.Time, error) {
	now := s.config.Now().UTC()
	assertion, err := SignRS256(s.config.PrivateKey, jwt.MapClaims{
		"iss":   s.config.Email,
		"scope": strings.Join(s.config.Scopes, " "),
		"aud":   s.config.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(s.config.TokenTTL).Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)
	res, err := s.doer.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     s.config.TokenURL,
		Body:    []byte(form.Encode()),
		Timeout: s.config.Timeout,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
	})
	if err != nil {
		return "", time.Time{}, core.ProviderError(providerGoogle, err, "auth: token exchange failed")
	}
	if !res.OK() {
		return "", time.Time{}, core.ProviderError(providerGoogle, nil,
			fmt.Sprintf("auth: token exchange returned status %d", res.StatusCode))
	}
	var token tokenResponse
	if err := res.DecodeJSON(&token); err != nil {
		return "", time.Time{}, core.ProviderError(providerGoogle, err, "auth: token response is not valid json")
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", time.Time{}, core.ProviderError(providerGoogle, nil, "auth: token response has no access_token")
	}
	expiresIn := time.Duration(token.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = s.config.TokenTTL
	}
	return token.AccessToken, now.Add(expiresIn), nil
}

// SignRS256 signs claims with the service-account key.
func SignRS256(key *rsa.PrivateKey, claims jwt.Claims) (string, error) {
	if key == nil {
		return "", core.ConfigurationError("WALLETSYNC_GOOGLE_PRIVATE_KEY", "auth: signing key is required")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", core.InternalError(err, "auth: sign jwt")
	}
	return signed, nil
}

// ParsePrivateKey accepts a PEM private key, either raw or base64 encoded.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_PRIVATE_KEY", "auth: private key is required")
	}
	pemBytes := []byte(raw)
	if !strings.HasPrefix(raw, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_PRIVATE_KEY", "auth: private key is neither PEM nor base64 PEM")
		}
		pemBytes = decoded
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, core.ConfigurationError("WALLETSYNC_GOOGLE_PRIVATE_KEY", "auth: private key is not a valid RSA PEM key")
	}
	return key, nil
}
