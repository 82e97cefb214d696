package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vyvo/worldsmith/pkg/command"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGenerateExtractsWrappedJSON(t *testing.T) {
	content := "Here is your build:\n```json\n" +
		`{"commands": ["fill ~-2 ~ ~-2 ~+2 ~+3 ~+2 stone", "setblock ~ ~+4 ~ torch"], "cost": 12000}` +
		"\n```\nEnjoy!"
	srv := chatServer(t, content)
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test", MaxRetries: 1}, DefaultPrices())
	blueprint, err := client.Generate(context.Background(), Request{
		Requester:    "steve",
		Origin:       command.Point3{X: 0, Y: 64, Z: 0},
		Extent:       5,
		Requirements: "a watchtower",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(blueprint.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(blueprint.Commands))
	}
	if blueprint.Cost != 12000 {
		t.Fatalf("cost: got %d, want 12000", blueprint.Cost)
	}
}

func TestGenerateSkipsDisallowedCommands(t *testing.T) {
	srv := chatServer(t, `{"commands": ["summon lightning_bolt ~ ~ ~", "fill ~ ~ ~ ~+1 ~+1 ~+1 stone", "give @p diamond 64", "setblock ~ ~ ~ torch"], "cost": 40}`)
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test", MaxRetries: 1}, DefaultPrices())
	blueprint, err := client.Generate(context.Background(), Request{Requester: "steve", Extent: 4})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []string{"fill ~ ~ ~ ~+1 ~+1 ~+1 stone", "setblock ~ ~ ~ torch"}
	if len(blueprint.Commands) != len(want) {
		t.Fatalf("expected %d commands after filtering, got %v", len(want), blueprint.Commands)
	}
	for i, cmd := range want {
		if blueprint.Commands[i] != cmd {
			t.Fatalf("command %d: got %q, want %q", i, blueprint.Commands[i], cmd)
		}
	}
}

func TestGenerateRejectsAllDisallowedPlan(t *testing.T) {
	srv := chatServer(t, `{"commands": ["summon lightning_bolt ~ ~ ~", "give @p diamond 64"], "cost": 1}`)
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test", MaxRetries: 1}, DefaultPrices())
	_, err := client.Generate(context.Background(), Request{Requester: "steve", Extent: 4})
	if err == nil || !strings.Contains(err.Error(), "no commands") {
		t.Fatalf("expected empty plan error, got %v", err)
	}
}

func TestGenerateRejectsEmptyPlan(t *testing.T) {
	srv := chatServer(t, `{"commands": [], "cost": 0}`)
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test", MaxRetries: 1}, DefaultPrices())
	_, err := client.Generate(context.Background(), Request{Requester: "steve", Extent: 4})
	if err == nil || !strings.Contains(err.Error(), "no commands") {
		t.Fatalf("expected empty plan error, got %v", err)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test", MaxRetries: 1}, DefaultPrices())
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestParseBlueprintNoJSON(t *testing.T) {
	if _, err := parseBlueprint("sorry, I cannot help with that"); err == nil {
		t.Fatalf("expected an error for a JSON-free answer")
	}
}

func TestAllowedCommand(t *testing.T) {
	if !allowedCommand("/fill ~ ~ ~ ~ ~ ~ stone") {
		t.Fatalf("leading slash should be accepted")
	}
	if allowedCommand("give @p diamond 64") {
		t.Fatalf("give should be rejected")
	}
	if !allowedCommand("FILL 0 64 0 4 70 4 stone") {
		t.Fatalf("casing should not matter")
	}
	if !allowedCommand("/Setblock ~ ~ ~ torch") {
		t.Fatalf("casing should not matter behind a slash")
	}
}
