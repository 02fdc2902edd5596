// Package upstream fetches authoritative participant records from the Perk
// loyalty platform.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/ratelimit"
	"github.com/goliatone/go-walletsync/transport"
)

const ProviderName = "perk"

type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Limiter gates calls per program on the throttling signals Perk returns.
type Limiter interface {
	BeforeCall(ctx context.Context, key ratelimit.Key) error
	AfterCall(ctx context.Context, key ratelimit.Key, status int, headers map[string]string) error
}

type Client struct {
	baseURL string
	timeout time.Duration
	doer    Doer
	limiter Limiter
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithDoer(doer Doer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

func WithRateLimit(limiter Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, core.ConfigurationError("WALLETSYNC_UPSTREAM_BASE_URL", "upstream: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, core.ConfigurationError("WALLETSYNC_UPSTREAM_BASE_URL", "upstream: base url is invalid")
	}
	client := &Client{
		baseURL: baseURL,
		timeout: core.DefaultOutboundTimeout,
		doer:    transport.NewRESTAdapter(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type participantEnvelope struct {
	Data *core.UpstreamParticipant `json:"data"`
}

// FetchParticipant loads one participant with the program's API credential.
// A 404 maps to NotFoundError, a locally open throttle window to a
// rate-limited error, and every other failure to a ProviderError.
func (c *Client) FetchParticipant(ctx context.Context, program core.Program, externalID core.ExternalParticipantID) (core.UpstreamParticipant, error) {
	if !externalID.Valid() {
		return core.UpstreamParticipant{}, core.ValidationError("participant_id", "upstream: participant id must be positive")
	}
	if strings.TrimSpace(program.APICredential) == "" {
		return core.UpstreamParticipant{}, core.ConfigurationError("program.api_credential",
			fmt.Sprintf("upstream: program %s has no api credential", program.ID))
	}

	bucket := ratelimit.Key{Service: ProviderName, Bucket: program.ID}
	if c.limiter != nil {
		if err := c.limiter.BeforeCall(ctx, bucket); err != nil {
			return core.UpstreamParticipant{}, err
		}
	}

	res, err := c.doer.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/v2/participants/" + externalID.String(),
		Timeout: c.timeout,
		Headers: map[string]string{
			"Accept":        "application/json",
			"Authorization": "Bearer " + program.APICredential,
		},
	})
	if err != nil {
		return core.UpstreamParticipant{}, core.ProviderError(ProviderName, err, "upstream: participant fetch failed")
	}
	if c.limiter != nil {
		if err := c.limiter.AfterCall(ctx, bucket, res.StatusCode, res.Headers); err != nil {
			return core.UpstreamParticipant{}, core.InternalError(err, "upstream: record rate limit state")
		}
	}
	switch {
	case res.StatusCode == http.StatusNotFound:
		return core.UpstreamParticipant{}, core.NotFoundError("participant",
			fmt.Sprintf("upstream: participant %s not found", externalID))
	case !res.OK():
		return core.UpstreamParticipant{}, core.ProviderError(ProviderName, nil,
			fmt.Sprintf("upstream: participant fetch returned status %d", res.StatusCode))
	}

	var envelope participantEnvelope
	if err := res.DecodeJSON(&envelope); err != nil {
		return core.UpstreamParticipant{}, core.ProviderError(ProviderName, err, "upstream: participant response is not valid json")
	}
	if envelope.Data == nil {
		var bare core.UpstreamParticipant
		if err := res.DecodeJSON(&bare); err != nil {
			return core.UpstreamParticipant{}, core.ProviderError(ProviderName, err, "upstream: participant response is not valid json")
		}
		envelope.Data = &bare
	}
	if envelope.Data.ID <= 0 {
		return core.UpstreamParticipant{}, core.ProviderError(ProviderName, nil, "upstream: participant response has no id")
	}
	return *envelope.Data, nil
}

var _ core.UpstreamClient = (*Client)(nil)
