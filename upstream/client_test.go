package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/ratelimit"
	"github.com/goliatone/go-walletsync/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]Option{WithDoer(transport.NewRESTAdapter(server.Client()))}, opts...)
	client, err := NewClient(server.URL, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestFetchParticipant_DecodesEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/participants/42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer perk-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":42,"email":"a@b.com","points":100,"unused_points":40,"tier":{"id":1,"name":"Gold"}}}`))
	})

	participant, err := client.FetchParticipant(context.Background(), core.Program{ID: "prog", APICredential: "perk-key"}, 42)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if participant.ID != 42 || participant.Email != "a@b.com" {
		t.Fatalf("unexpected participant %+v", participant)
	}
	if participant.UnusedPoints == nil || *participant.UnusedPoints != 40 {
		t.Fatalf("expected unused points 40, got %v", participant.UnusedPoints)
	}
	if participant.Tier == nil || participant.Tier.Name != "Gold" {
		t.Fatalf("expected gold tier, got %+v", participant.Tier)
	}
}

func TestFetchParticipant_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := client.FetchParticipant(context.Background(), core.Program{APICredential: "k"}, 7)
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchParticipant_ServerErrorIsProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := client.FetchParticipant(context.Background(), core.Program{APICredential: "k"}, 7)
	if !core.IsProvider(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestFetchParticipant_TimeoutIsProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, WithTimeout(20*time.Millisecond))
	_, err := client.FetchParticipant(context.Background(), core.Program{APICredential: "k"}, 7)
	if !core.IsProvider(err) {
		t.Fatalf("expected provider error on timeout, got %v", err)
	}
}

func TestFetchParticipant_MissingCredential(t *testing.T) {
	client, err := NewClient("https://api.example.test")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.FetchParticipant(context.Background(), core.Program{ID: "prog"}, 7)
	if !core.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFetchParticipant_RateLimitShortCircuitsAfter429(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithRateLimit(ratelimit.NewPolicy(nil)))
	program := core.Program{ID: "prog", APICredential: "k"}

	if _, err := client.FetchParticipant(context.Background(), program, 7); !core.IsProvider(err) {
		t.Fatalf("expected first 429 to surface as provider error, got %v", err)
	}
	if _, err := client.FetchParticipant(context.Background(), program, 8); !core.IsRateLimited(err) {
		t.Fatalf("expected second call to be throttled locally, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}
}
