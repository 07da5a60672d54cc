// Package router asks the external interpreter to propose a tool call for a
// user utterance. The interpreter is untrusted and unreliable: its output is
// parsed defensively into a Decision, transient failures are retried with
// jittered exponential backoff under a hard deadline, and every path returns
// a well-formed Decision rather than an error.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/revq/revq/internal/gemini"
)

// ToolUnknown marks a proposal the interpreter could not (or was not
// allowed to) make. The validator rejects it as unsupported.
const ToolUnknown = "unknown"

// Message is one prior conversation turn passed as routing context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Decision is the interpreter's raw structured proposal. Unavailable is set
// only by the router itself, when the interpreter could not be reached
// within the retry budget.
type Decision struct {
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Confidence  float64        `json:"confidence"`
	Rationale   string         `json:"rationale,omitempty"`
	Unavailable bool           `json:"unavailable,omitempty"`
}

// Unknown returns the zero-confidence decision used for malformed or
// non-conforming interpreter output.
func Unknown() Decision {
	return Decision{Tool: ToolUnknown}
}

// Unavailable returns the sentinel decision for an unreachable interpreter.
func Unavailable() Decision {
	return Decision{Tool: ToolUnknown, Unavailable: true}
}

// Interpreter is the outbound LLM call the router supervises.
type Interpreter interface {
	Generate(ctx context.Context, system, prompt string, opts gemini.Options) (string, error)
}

// Config bounds the retry loop. Zero values fall back to the defaults.
type Config struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	OverallDeadline time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	HistoryWindow   int
	MaxCategories   int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	if c.OverallDeadline <= 0 {
		c.OverallDeadline = 45 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 6
	}
	if c.MaxCategories <= 0 {
		c.MaxCategories = 200
	}
	return c
}

type Router struct {
	interp Interpreter
	cfg    Config
}

func New(interp Interpreter, cfg Config) *Router {
	return &Router{interp: interp, cfg: cfg.withDefaults()}
}

// Route sends the utterance with bounded conversation context to the
// interpreter and parses its proposal. It never returns an error: malformed
// output becomes the unknown decision, an unreachable interpreter becomes
// the unavailable sentinel.
func (r *Router) Route(ctx context.Context, utterance string, history []Message, visibleCategories []string) Decision {
	if strings.TrimSpace(utterance) == "" {
		return Unknown()
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.OverallDeadline)
	defer cancel()

	prompt := buildPrompt(utterance, history, visibleCategories, r.cfg)

	for attempt := 1; ; attempt++ {
		raw, err := r.generateOnce(ctx, prompt)
		if err == nil {
			return parseDecision(raw)
		}

		if !gemini.IsTransient(err) {
			slog.Warn("interpreter call failed, not retrying", "error", err)
			return Unavailable()
		}
		if attempt >= r.cfg.MaxAttempts {
			slog.Warn("interpreter retries exhausted", "attempts", attempt, "error", err)
			return Unavailable()
		}

		slog.Debug("interpreter call failed, backing off", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return Unavailable()
		case <-time.After(backoff(attempt, r.cfg.InitialBackoff, r.cfg.MaxBackoff)):
		}
	}
}

func (r *Router) generateOnce(ctx context.Context, prompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return r.interp.Generate(attemptCtx, routerSystem, prompt, gemini.Options{
		Temperature:     0,
		MaxOutputTokens: 300,
		JSON:            true,
	})
}

// backoff returns an exponentially growing delay with jitter in [0.7, 1.3].
func backoff(attempt int, initial, max time.Duration) time.Duration {
	d := initial << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := 0.7 + 0.6*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// parseDecision turns raw interpreter output into a Decision. It accepts a
// single object or a one-element array, strips markdown fences, and maps
// anything non-conforming to the unknown decision.
func parseDecision(raw string) Decision {
	raw = stripFences(raw)
	if raw == "" {
		return Unknown()
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		var list []Decision
		if err := json.Unmarshal([]byte(raw), &list); err != nil || len(list) == 0 {
			slog.Warn("unparseable interpreter output", "response", truncate(raw, 200))
			return Unknown()
		}
		d = list[0]
	}

	if d.Tool == "" || d.Args == nil {
		return Unknown()
	}
	// Only the router itself may mark a decision unavailable; the field is
	// untrusted coming off the wire.
	d.Unavailable = false
	if d.Confidence < 0 || d.Confidence > 1 {
		d.Confidence = 0
	}
	return d
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
