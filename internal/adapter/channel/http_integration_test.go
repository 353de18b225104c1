//go:build integration

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"shopassist/internal/adapter/agents"
	"shopassist/internal/adapter/catalog"
	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/usecase/a2a"
	"shopassist/internal/usecase/host"
	"shopassist/internal/usecase/intent"
	"shopassist/internal/usecase/session"
)

func TestHTTPServer_RealListener(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p := a2a.New()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer p.Shutdown(context.Background())
	if err := agents.NewSuite(catalog.New(config.CatalogConfig{}, nil), agents.Config{}, nil).Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h := host.New(p, intent.New(), session.NewStore(session.Config{}, nil))

	srv := NewHTTPServer(config.ServerConfig{Addr: "127.0.0.1:0"}, h, p, nil)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())

	messages := []struct {
		content string
		agent   string
	}{
		{"show me sunglasses under $20", domain.AgentProductDiscovery},
		{"what is the carbon footprint of the sunglasses", domain.AgentCO2Calculator},
		{"add the sunglasses to my cart", domain.AgentCartManager},
		{"checkout", domain.AgentCheckout},
	}
	for _, m := range messages {
		body, _ := json.Marshal(chatRequest{SessionID: "it", Content: m.content})
		resp, err := http.Post(fmt.Sprintf("http://%s/api/v1/chat", srv.Addr()), "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST %q: %v", m.content, err)
		}
		var cr chatResponse
		json.NewDecoder(resp.Body).Decode(&cr)
		resp.Body.Close()
		if cr.Agent != m.agent {
			t.Errorf("%q routed to %q, want %q", m.content, cr.Agent, m.agent)
		}
		if cr.Error != "" {
			t.Errorf("%q: error %q", m.content, cr.Error)
		}
	}
}
