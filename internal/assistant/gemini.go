package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/ratelimit"
	"google.golang.org/genai"

	"github.com/stockflow/market-sim/internal/metrics"
)

// GeminiConfig configures the Gemini-backed assistant.
type GeminiConfig struct {
	APIKey      string
	ChatModel   string
	AvatarModel string
	// RequestsPerSecond caps outbound calls across both features.
	RequestsPerSecond int
}

// Gemini implements Assistant on the Gemini API. Calls are throttled and
// never retried.
type Gemini struct {
	client      *genai.Client
	chatModel   string
	avatarModel string
	limiter     ratelimit.Limiter
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Gemini{
		client:      client,
		chatModel:   cfg.ChatModel,
		avatarModel: cfg.AvatarModel,
		limiter:     ratelimit.New(rps),
	}, nil
}

func (g *Gemini) Reply(ctx context.Context, query string, history []Message) (string, error) {
	if err := validatePrompt(query); err != nil {
		return "", err
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemPrompt}}},
	}
	chat, err := g.client.Chats.Create(ctx, g.chatModel, config, toContents(history))
	if err != nil {
		metrics.AssistantCalls.WithLabelValues("chat", "error").Inc()
		return "", fmt.Errorf("%w: start chat: %w", ErrUpstream, err)
	}

	resp, err := chat.Send(ctx, &genai.Part{Text: query})
	if err != nil {
		metrics.AssistantCalls.WithLabelValues("chat", "error").Inc()
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	reply := strings.TrimSpace(responseText(resp))
	if reply == "" {
		metrics.AssistantCalls.WithLabelValues("chat", "empty").Inc()
		return "", fmt.Errorf("%w: empty reply", ErrUpstream)
	}
	metrics.AssistantCalls.WithLabelValues("chat", "ok").Inc()
	return reply, nil
}

func (g *Gemini) Avatar(ctx context.Context, description string) (string, error) {
	if err := validatePrompt(description); err != nil {
		return "", err
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{}
	config.ResponseModalities = append(config.ResponseModalities, "TEXT", "IMAGE")

	resp, err := g.client.Models.GenerateContent(ctx, g.avatarModel,
		genai.Text(AvatarPrompt(description)), config)
	if err != nil {
		metrics.AssistantCalls.WithLabelValues("avatar", "error").Inc()
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	uri, ok := imageDataURI(resp)
	if !ok {
		metrics.AssistantCalls.WithLabelValues("avatar", "empty").Inc()
		slog.Warn("avatar generation returned no image", "model", g.avatarModel)
		return "", fmt.Errorf("%w: image generation produced no image", ErrUpstream)
	}
	metrics.AssistantCalls.WithLabelValues("avatar", "ok").Inc()
	return uri, nil
}

// wait blocks for a rate-limit slot. The limiter cannot be interrupted, so
// a request cancelled while queued stops here instead of calling out.
func (g *Gemini) wait(ctx context.Context) error {
	g.limiter.Take()
	return ctx.Err()
}

// toContents converts conversation history to genai contents, skipping
// empty turns.
func toContents(history []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		var parts []*genai.Part
		for _, t := range m.Content {
			if t.Text != "" {
				parts = append(parts, &genai.Part{Text: t.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := string(RoleUser)
		if m.Role == RoleModel {
			role = string(RoleModel)
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// imageDataURI returns the first inline image of the response as a data URI.
func imageDataURI(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return DataURI(p.InlineData.MIMEType, p.InlineData.Data), true
			}
		}
	}
	return "", false
}
