// Package gemini wraps the Google Gemini API behind the small Generate
// surface the router, sentiment analyzer, and answer writer share. The
// wrapper stays thin: retry policy belongs to the callers.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Options tunes a single generation call.
type Options struct {
	Temperature     float32
	MaxOutputTokens int32
	JSON            bool // request application/json output
}

// Client calls the Gemini API with a fixed model.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Client for the given API key and model name.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends one prompt with a system instruction and returns the raw
// response text.
func (c *Client) Generate(ctx context.Context, system, prompt string, opts Options) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(opts.Temperature),
		MaxOutputTokens:   opts.MaxOutputTokens,
	}
	if opts.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// IsTransient reports whether an interpreter error is worth retrying: rate
// limiting, quota exhaustion, service unavailability, or timeouts. Auth and
// malformed-request errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 503, 504:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "resource_exhausted", "rate limit", "quota",
		"503", "unavailable", "deadline", "timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
