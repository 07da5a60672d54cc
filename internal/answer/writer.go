// Package answer renders the final natural-language reply from a tool
// result. The writer may only restate numbers present in the result; when
// the LLM is unreachable it degrades to a plain deterministic rendering so
// the pipeline never stalls on synthesis.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/revq/revq/internal/gemini"
	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/tools"
)

const systemInstruction = `You are an analytics assistant.

You MUST:
- Answer ONLY using the provided tool results.
- Not invent facts, numbers, or categories.
- Be concise, clear, and professional.
- If is_fallback is true, start by briefly explaining that the original request could not be served as asked (using fallback_reason) and that you are showing a substitute view instead.
- If the data does not show clear or recurring issues, explicitly state that feedback is overwhelmingly positive and summarize the most common positive reasons instead of issues.
- Do not invent problems.

Do NOT mention tools, routing, or implementation details.
Do NOT output JSON. Output plain text only.`

// Generator is the LLM call used for synthesis.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, opts gemini.Options) (string, error)
}

type Writer struct {
	gen Generator
}

func NewWriter(gen Generator) *Writer {
	return &Writer{gen: gen}
}

type synthesisPayload struct {
	UserMessage    string          `json:"user_message"`
	Tool           string          `json:"tool"`
	ToolArgs       tools.Args      `json:"tool_args"`
	ToolResult     tools.Result    `json:"tool_result"`
	IsFallback     bool            `json:"is_fallback"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	RecentMessages []router.Message `json:"recent_messages"`
}

// Write renders the reply for one executed call. It never returns an error
// for LLM failures; those degrade to PlainText.
func (w *Writer) Write(ctx context.Context, utterance string, call tools.Call, result tools.Result, history []router.Message) string {
	payload, err := json.MarshalIndent(synthesisPayload{
		UserMessage:    utterance,
		Tool:           call.Tool,
		ToolArgs:       call.Args,
		ToolResult:     result,
		IsFallback:     call.IsFallback,
		FallbackReason: fallbackReason(call.Reason),
		RecentMessages: history,
	}, "", "  ")
	if err != nil {
		return PlainText(call, result)
	}

	text, err := w.gen.Generate(ctx, systemInstruction, string(payload), gemini.Options{
		Temperature:     0.3,
		MaxOutputTokens: 400,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Warn("response synthesis failed, using plain rendering", "error", err)
		return PlainText(call, result)
	}
	return text
}

// fallbackReason maps a rejection reason to user-facing phrasing. The
// offending detail (e.g. the denied category) is deliberately absent.
func fallbackReason(reason tools.Reason) string {
	switch reason {
	case tools.ReasonUnsupportedTool:
		return "I couldn't determine a valid action for that request."
	case tools.ReasonInterpreterUnavailable:
		return "The request could not be interpreted right now."
	case tools.ReasonAccessDenied:
		return "That data isn't available based on your access."
	case tools.ReasonInvalidArguments:
		return "The request as phrased couldn't be carried out."
	default:
		return ""
	}
}

// PlainText deterministically renders a result without the LLM.
func PlainText(call tools.Call, result tools.Result) string {
	var sb strings.Builder
	if call.IsFallback {
		if r := fallbackReason(call.Reason); r != "" {
			sb.WriteString(r)
			sb.WriteString(" Here is a substitute view.\n\n")
		}
	}

	switch result.Kind {
	case tools.KindNoData:
		if result.Category != "" {
			fmt.Fprintf(&sb, "No review data is available for %s.", result.Category)
		} else {
			sb.WriteString("No review data is available for that request.")
		}

	case tools.KindAccessDenied:
		sb.WriteString("That data isn't available based on your access.")

	case tools.KindTopCategories:
		fmt.Fprintf(&sb, "Top categories by %s:\n", call.Args.Metric)
		for i, m := range result.Categories {
			fmt.Fprintf(&sb, "%d. %s — %d reviews, avg rating %.2f, NPS %.1f\n",
				i+1, m.Category, m.ReviewCount, m.AvgRating, m.NPS)
		}

	case tools.KindDistribution:
		fmt.Fprintf(&sb, "Rating distribution for %s:\n", result.Category)
		for _, b := range result.Distribution {
			fmt.Fprintf(&sb, "%.1f stars: %d reviews\n", b.Rating, b.Count)
		}

	case tools.KindSentiment:
		s := result.Sentiment
		fmt.Fprintf(&sb, "Sentiment for %s over %d reviews:", result.Category, s.AnalyzedCount)
		for _, label := range []string{"positive", "negative", "neutral"} {
			if n := s.Distribution[label]; n > 0 {
				fmt.Fprintf(&sb, " %s %d", label, n)
			}
		}
		sb.WriteString("\n")
		for _, r := range s.TopReasons {
			fmt.Fprintf(&sb, "- %s (%d)\n", r.Reason, r.Count)
		}

	case tools.KindComparison:
		c := result.Comparison
		fmt.Fprintf(&sb, "%s: %d reviews, avg %.2f, NPS %.1f\n%s: %d reviews, avg %.2f, NPS %.1f\n",
			c.A.Category, c.A.ReviewCount, c.A.AvgRating, c.A.NPS,
			c.B.Category, c.B.ReviewCount, c.B.AvgRating, c.B.NPS)

	case tools.KindGeneral:
		g := result.General
		switch g.QueryType {
		case tools.QueryCountCategories:
			fmt.Fprintf(&sb, "You have access to %d categories.", g.CategoryCount)
		case tools.QueryListCategories:
			fmt.Fprintf(&sb, "Visible categories: %s", strings.Join(g.Categories, ", "))
		case tools.QueryCategoryInfo:
			if g.Info != nil {
				fmt.Fprintf(&sb, "%s: %d reviews, avg rating %.2f, NPS %.1f",
					g.Info.Category, g.Info.ReviewCount, g.Info.AvgRating, g.Info.NPS)
			}
		default:
			fmt.Fprintf(&sb, "Across %d visible categories there are %d reviews, avg rating %.2f, NPS %.1f.",
				g.CategoryCount, g.TotalReviews, g.AvgRating, g.NPS)
		}

	default:
		sb.WriteString("I couldn't generate a response from the available data.")
	}

	return strings.TrimSpace(sb.String())
}
