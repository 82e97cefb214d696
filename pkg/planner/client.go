package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyvo/worldsmith/pkg/plan"
)

// ClientConfig carries the settings for the chat-completions backend.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg        ClientConfig
	prices     Prices
	httpClient *http.Client
}

// NewClient creates a planner client with sane defaults.
func NewClient(cfg ClientConfig, prices Prices) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		prices:     prices,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type blueprintPayload struct {
	Commands []string `json:"commands"`
	Cost     int64    `json:"cost"`
}

// Generate asks the model for a command list. Transport and decode
// failures are retried with a linear backoff; a structurally invalid
// answer is retried the same way since the model is nondeterministic.
func (c *Client) Generate(ctx context.Context, req Request) (plan.Blueprint, error) {
	ctx, span := otel.Tracer("planner").Start(ctx, "planner.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("planner.requester", req.Requester),
		attribute.Int("planner.extent", req.Extent),
	)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt) * 5 * time.Second
			log.Printf("planner: attempt %d for %s after %s: %v", attempt, req.Requester, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return plan.Blueprint{}, ctx.Err()
			}
		}

		blueprint, err := c.generateOnce(ctx, req)
		if err == nil {
			return blueprint, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return plan.Blueprint{}, ctx.Err()
		}
	}
	return plan.Blueprint{}, fmt.Errorf("planner failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, req Request) (plan.Blueprint, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt()},
			{Role: "user", Content: userPrompt(req)},
		},
	})
	if err != nil {
		return plan.Blueprint{}, fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chat/completions", c.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return plan.Blueprint{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return plan.Blueprint{}, fmt.Errorf("call planner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return plan.Blueprint{}, fmt.Errorf("planner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return plan.Blueprint{}, fmt.Errorf("decode planner response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return plan.Blueprint{}, fmt.Errorf("planner response has no choices")
	}

	return parseBlueprint(chat.Choices[0].Message.Content)
}

// Ping verifies connectivity by listing models.
func (c *Client) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/models", c.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create models request: %w", err)
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ping planner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("planner ping returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You design structures for a block world. ")
	b.WriteString("Respond with a single JSON object of the form ")
	b.WriteString(`{"commands": ["..."], "cost": <integer>}. `)
	b.WriteString("Every command must be either a fill or a setblock command. ")
	b.WriteString("Use ~ relative coordinates measured from the build origin. ")
	b.WriteString("Price the build using this table (currency units):\n")
	fmt.Fprintf(&b, "- land: %d per block of footprint\n", c.prices.LandPerBlock)
	fmt.Fprintf(&b, "- diamond block: %d\n", c.prices.Diamond)
	fmt.Fprintf(&b, "- log: %d\n", c.prices.Log)
	fmt.Fprintf(&b, "- stone: %d\n", c.prices.Stone)
	fmt.Fprintf(&b, "- potato: %d\n", c.prices.Potato)
	return b.String()
}

func userPrompt(req Request) string {
	return fmt.Sprintf(
		"Build origin: %s. Footprint: %d x %d blocks. Requirements: %s",
		req.Origin, req.Extent, req.Extent, req.Requirements,
	)
}

// parseBlueprint pulls the JSON object out of the model's answer. The
// model often wraps it in prose or a code fence, so everything outside
// the outermost braces is discarded.
func parseBlueprint(content string) (plan.Blueprint, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return plan.Blueprint{}, fmt.Errorf("planner answer contains no JSON object")
	}

	var payload blueprintPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return plan.Blueprint{}, fmt.Errorf("parse planner answer: %w", err)
	}
	commands := make([]string, 0, len(payload.Commands))
	for _, cmd := range payload.Commands {
		if !allowedCommand(cmd) {
			log.Printf("planner: skipping disallowed command %q", cmd)
			continue
		}
		commands = append(commands, cmd)
	}
	if len(commands) == 0 {
		return plan.Blueprint{}, ErrEmptyPlan
	}
	return plan.Blueprint{Commands: commands, Cost: payload.Cost}, nil
}

func allowedCommand(cmd string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd), "/")))
	return strings.HasPrefix(trimmed, "fill ") || strings.HasPrefix(trimmed, "setblock ")
}
