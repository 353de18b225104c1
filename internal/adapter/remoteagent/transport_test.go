package remoteagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
)

func TestDeliverPostsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/a2a/message", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var env domain.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, "msg_abc12345", env.MessageID)
		assert.Equal(t, domain.StatusPending, env.Status)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "hi " + env.Payload.String("message")})
	}))
	defer srv.Close()

	tr := New(nil)
	tr.Configure(srv.URL+"/", EndpointConfig{Token: "tok"})
	env := domain.Envelope{
		MessageID: "msg_abc12345", Sender: "HostAgent", Recipient: "Peer",
		MessageType: domain.DefaultMessageType, Payload: domain.Payload{"message": "there"},
		Timestamp: time.Now(), Status: domain.StatusPending,
	}

	res, err := tr.Deliver(context.Background(), srv.URL, env)
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Response())
}

func TestDeliverNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(nil).Deliver(context.Background(), srv.URL, domain.Envelope{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderError))
	assert.Equal(t, domain.CodeRemoteUpstream, domain.ErrorCodeOf(err))
	assert.Contains(t, err.Error(), "503")
}

func TestDeliverConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(nil).Deliver(context.Background(), url, domain.Envelope{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderError))
}

func TestBreakerOpensPerEndpoint(t *testing.T) {
	var calls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer good.Close()

	var tripped atomic.Value
	tr := FromConfig([]config.RemoteAgentConfig{
		{Name: "Bad", Endpoint: bad.URL, BreakerFailMax: 2, BreakerTimeout: time.Minute},
	}, nil, OnTrip(func(endpoint string) { tripped.Store(endpoint) }))

	for i := 0; i < 2; i++ {
		_, err := tr.Deliver(context.Background(), bad.URL, domain.Envelope{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, tr.BreakerState(bad.URL))
	assert.Equal(t, bad.URL, tripped.Load())

	_, err := tr.Deliver(context.Background(), bad.URL, domain.Envelope{})
	assert.True(t, errors.Is(err, domain.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load(), "open breaker must fail fast")

	state, err := tr.Health(context.Background(), bad.URL)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthUnhealthy, state)

	res, err := tr.Deliver(context.Background(), good.URL, domain.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/a2a/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	state, err := New(nil).Health(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthDegraded, state)
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	state, err := New(nil).Health(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Equal(t, domain.HealthUnhealthy, state)
}
