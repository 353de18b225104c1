package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"shopassist/internal/adapter/agents"
	"shopassist/internal/adapter/catalog"
	"shopassist/internal/adapter/remoteagent"
	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/usecase/a2a"
	"shopassist/internal/usecase/host"
	"shopassist/internal/usecase/intent"
	"shopassist/internal/usecase/session"
)

type stack struct {
	suite    *agents.Suite
	protocol *a2a.Protocol
	host     *host.Host
	server   *httptest.Server
}

// newStack wires a full assistant behind an httptest server. Agents named in
// remote are registered against peerURL instead of in-process.
func newStack(t *testing.T, cfg config.ServerConfig, peerURL string, remote ...string) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := []a2a.Option{}
	if peerURL != "" {
		opts = append(opts, a2a.WithTransport(remoteagent.New(nil)))
	}
	p := a2a.New(opts...)
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	suite := agents.NewSuite(catalog.New(config.CatalogConfig{}, nil), agents.Config{}, nil)
	isRemote := map[string]bool{}
	for _, name := range remote {
		isRemote[name] = true
		if err := p.RegisterAgent(name, nil, a2a.WithEndpoint(peerURL)); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", name, err)
		}
	}
	for name, handle := range suite.Handles() {
		if isRemote[name] {
			continue
		}
		if err := p.RegisterAgent(name, handle); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", name, err)
		}
	}

	h := host.New(p, intent.New(), session.NewStore(session.Config{}, nil))
	if err := p.RegisterAgent(domain.AgentHost, h); err != nil {
		t.Fatalf("RegisterAgent(host): %v", err)
	}

	srv := httptest.NewServer(NewHTTPServer(cfg, h, p, nil).Handler(ctx))
	t.Cleanup(srv.Close)
	return &stack{suite: suite, protocol: p, host: h, server: srv}
}

func chat(t *testing.T, s *stack, sessionID, content string) (int, chatResponse) {
	t.Helper()
	body, _ := json.Marshal(chatRequest{SessionID: sessionID, Content: content})
	resp, err := http.Post(s.server.URL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, cr
}

func TestHTTPServerChat(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")

	code, cr := chat(t, s, "test-session", "Show me sunglasses under $20")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if cr.SessionID != "test-session" {
		t.Errorf("SessionID = %q", cr.SessionID)
	}
	if cr.Agent != domain.AgentProductDiscovery {
		t.Errorf("Agent = %q", cr.Agent)
	}
	if !strings.Contains(cr.Content, "Sunglasses") {
		t.Errorf("Content = %q", cr.Content)
	}
	if cr.Confidence <= 0 {
		t.Errorf("Confidence = %v", cr.Confidence)
	}
}

func TestHTTPServerConversation(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")

	chat(t, s, "conv", "show me kitchen items under $6")
	_, cr := chat(t, s, "conv", "yes, tell me more")
	if !cr.FollowUp {
		t.Errorf("FollowUp = false, want true")
	}
	if !strings.Contains(cr.Content, "Bamboo Glass Jar costs $5.49") {
		t.Errorf("Content = %q", cr.Content)
	}

	chat(t, s, "conv", "add the mug to my cart")
	_, cr = chat(t, s, "conv", "checkout")
	if cr.Agent != domain.AgentCheckout {
		t.Errorf("Agent = %q", cr.Agent)
	}
	if cr.Result["total"] != 14.98 {
		t.Errorf("total = %v, want 14.98", cr.Result["total"])
	}
}

func TestHTTPServerChatValidation(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"empty content", `{"session_id":"x","content":"  "}`, http.StatusBadRequest},
		{"message alias", `{"session_id":"x","message":"show me a mug"}`, http.StatusOK},
		{"too large", `{"content":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(s.server.URL+"/api/v1/chat", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHTTPServerAutoSessionID(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")
	_, cr := chat(t, s, "", "show me a watch")
	if !strings.HasPrefix(cr.SessionID, "http-") {
		t.Errorf("SessionID = %q, want http- prefix", cr.SessionID)
	}
}

func TestHTTPServerMethodNotAllowed(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")
	resp, err := http.Get(s.server.URL + "/api/v1/chat")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHTTPServerHealthAndStatus(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")

	resp, err := http.Get(s.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var report domain.HealthReport
	json.NewDecoder(resp.Body).Decode(&report)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || report.Status != domain.HealthHealthy {
		t.Errorf("health = %d %q", resp.StatusCode, report.Status)
	}
	if len(report.Agents) != 6 {
		t.Errorf("agents = %d, want 6", len(report.Agents))
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	resp, err = http.Get(s.server.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var st domain.ProtocolStatus
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if !st.Running || len(st.RegisteredAgents) != 6 {
		t.Errorf("status = %+v", st)
	}

	_ = s.protocol.Shutdown(context.Background())
	resp, err = http.Get(s.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health after shutdown = %d, want 503", resp.StatusCode)
	}
}

func TestHTTPServerAgentStatus(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")

	resp, err := http.Get(s.server.URL + "/api/v1/agents/" + domain.AgentCartManager)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var st domain.AgentStatus
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Name != domain.AgentCartManager || st.Health != domain.HealthHealthy {
		t.Errorf("agent status = %+v", st)
	}

	resp, err = http.Get(s.server.URL + "/api/v1/agents/Nobody")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if body["code"] != string(domain.CodeAgentNotRegistered) {
		t.Errorf("code = %q", body["code"])
	}
}

func TestHTTPServerClearSession(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")
	chat(t, s, "gone", "show me a mug")

	del := func() int {
		req, _ := http.NewRequest(http.MethodDelete, s.server.URL+"/api/v1/sessions/gone", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := del(); code != http.StatusNoContent {
		t.Errorf("first delete = %d, want 204", code)
	}
	if code := del(); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
}

func TestHTTPServerInbound(t *testing.T) {
	s := newStack(t, config.ServerConfig{}, "")

	post := func(env domain.Envelope) (*http.Response, domain.Result) {
		body, _ := json.Marshal(env)
		resp, err := http.Post(s.server.URL+"/a2a/message", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		var res domain.Result
		json.NewDecoder(resp.Body).Decode(&res)
		return resp, res
	}

	resp, res := post(domain.Envelope{
		Sender:    "peer",
		Recipient: domain.AgentProductDiscovery,
		Payload:   domain.Payload{"message": "show me a watch", "session_id": "peer-1"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Message-Status") != string(domain.StatusCompleted) {
		t.Errorf("X-Message-Status = %q", resp.Header.Get("X-Message-Status"))
	}
	if resp.Header.Get("X-Message-ID") == "" {
		t.Error("X-Message-ID missing")
	}
	if !strings.Contains(res.Response(), "Watch") {
		t.Errorf("response = %q", res.Response())
	}

	resp, _ = post(domain.Envelope{Sender: "peer", Recipient: "Nobody"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown recipient = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPServerPeerAuth(t *testing.T) {
	s := newStack(t, config.ServerConfig{A2AToken: "s3cret"}, "")

	get := func(auth string) int {
		req, _ := http.NewRequest(http.MethodGet, s.server.URL+"/a2a/health", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := get(""); code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", code)
	}
	if code := get("Bearer wrong"); code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", code)
	}
	if code := get("Bearer s3cret"); code != http.StatusOK {
		t.Errorf("good token = %d, want 200", code)
	}
}

func TestHTTPServerRemotePeer(t *testing.T) {
	peer := newStack(t, config.ServerConfig{}, "")
	front := newStack(t, config.ServerConfig{}, peer.server.URL, domain.AgentCartManager)

	_, cr := chat(t, front, "remote", "add 2 mugs to my cart")
	if cr.Agent != domain.AgentCartManager {
		t.Fatalf("Agent = %q", cr.Agent)
	}
	if !strings.Contains(cr.Content, "Mug") {
		t.Errorf("Content = %q", cr.Content)
	}

	// The cart lives on the peer, keyed by the forwarded session.
	items := peer.suite.Carts().Items("remote")
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Errorf("peer cart = %+v", items)
	}

	st, err := front.protocol.AgentStatus(context.Background(), domain.AgentCartManager)
	if err != nil {
		t.Fatalf("AgentStatus: %v", err)
	}
	if !st.Remote || st.Health != domain.HealthHealthy {
		t.Errorf("remote status = %+v", st)
	}
}

func TestHTTPServerConcurrentChat(t *testing.T) {
	s := newStack(t, config.ServerConfig{RequestsPerMin: 6000, Burst: 100}, "")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(chatRequest{SessionID: fmt.Sprintf("c%d", i), Content: "show me a mug"})
			resp, err := http.Post(s.server.URL+"/api/v1/chat", "application/json", bytes.NewReader(body))
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			defer resp.Body.Close()
			var cr chatResponse
			json.NewDecoder(resp.Body).Decode(&cr)
			if resp.StatusCode != http.StatusOK || cr.Agent != domain.AgentProductDiscovery {
				t.Errorf("request %d: %d %q", i, resp.StatusCode, cr.Agent)
			}
		}()
	}
	wg.Wait()
}

func TestHTTPServerRateLimit(t *testing.T) {
	s := newStack(t, config.ServerConfig{RequestsPerMin: 1, Burst: 2}, "")

	var limited bool
	for range 5 {
		resp, err := http.Get(s.server.URL + "/api/v1/status")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected a 429 after the burst")
	}
}

func TestHTTPServerStartStop(t *testing.T) {
	srv := NewHTTPServer(config.ServerConfig{Addr: "127.0.0.1:0"}, nil, nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if srv.Addr() == "" {
		t.Error("Addr empty after Start")
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestHTTPServerStopNilServer(t *testing.T) {
	srv := NewHTTPServer(config.ServerConfig{}, nil, nil, nil)
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestHTTPServerStartListenError(t *testing.T) {
	srv := NewHTTPServer(config.ServerConfig{Addr: "256.0.0.1:99999"}, nil, nil, nil)
	if err := srv.Start(context.Background()); err == nil {
		t.Error("expected listen error")
	}
}
