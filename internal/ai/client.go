// Package ai wraps the commentary model used by the Crypto Intelligence
// Composer. The error classification here mirrors the quota/rate-limit/
// transient taxonomy the teacher's Gemini client used for its batch
// categorization calls, adapted to a single best-effort attempt: commentary
// has a hard few-second budget and a deterministic fallback, so there is no
// room for the minutes-long backoff a daily batch job could afford.
package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// CommentaryGenerator produces short freeform text from a prompt.
type CommentaryGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client wraps the genai SDK for short, latency-sensitive generations.
type Client struct {
	client *genai.Client
	model  string
}

var _ CommentaryGenerator = (*Client)(nil)

// NewClient builds a Client. apiKey is required.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("AI_API_KEY is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

// Generate makes exactly one attempt, bounded by ctx's deadline. Callers
// (the market composer) are responsible for falling back on error — there
// is no internal retry because the commentary budget (3s) leaves no room
// for one.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", classifyError(err)
	}
	text, err := result.Text()
	if err != nil {
		return "", fmt.Errorf("get text from result: %w", err)
	}
	return text, nil
}

// classifyError labels upstream failures the way the teacher's batch client
// does, so logs distinguish a quota cutoff from a transient blip even
// though both end in the same fallback path here.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("ai commentary rate limited: %w", err)
	case strings.Contains(msg, "quota") || strings.Contains(msg, "daily limit"):
		return fmt.Errorf("ai commentary quota exceeded: %w", err)
	case strings.Contains(msg, "503") || strings.Contains(msg, "overloaded"):
		return fmt.Errorf("ai commentary service unavailable: %w", err)
	default:
		return fmt.Errorf("ai commentary generate: %w", err)
	}
}
