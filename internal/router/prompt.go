package router

import "encoding/json"

const routerSystem = `You are a routing function for a review analytics service.

Your job:
- Read the user's message and recent conversation context.
- Choose ONE tool from the allowed tool list.
- Output ONLY valid JSON matching the schema:

{
  "tool": "metrics_top_categories" | "rating_distribution" | "sentiment_summary" | "compare_categories" | "general_query",
  "args": { ... },
  "confidence": 0.0-1.0,
  "rationale": "short"
}

Tool arguments:
- metrics_top_categories: {"top_n": int, "metric": "review_count"|"avg_rating"|"nps"}
- rating_distribution: {"category": string}
- sentiment_summary: {"category": string, "max_reviews": int}
- compare_categories: {"category_a": string, "category_b": string}
- general_query: {"query_type": "count_categories"|"list_categories"|"category_info"|"summary_stats", "category": string (category_info only)}

Constraints:
- If the user asks "why / reasons / issues / complaints / main issues", choose sentiment_summary.
- If the user asks for "top / best / worst / NPS / rating summary", choose metrics_top_categories.
- If the user asks for "distribution / histogram of ratings", choose rating_distribution.
- If the user asks to compare two categories, choose compare_categories.
- For "how many categories / what categories / overall stats", choose general_query.
- ALWAYS select a category if the tool needs it.
- The category must be chosen from the provided Allowed Categories list.
- If the user's category is not in Allowed Categories, pick the closest match from the list or fall back to metrics_top_categories.
- Set confidence low when the request is ambiguous.
- Output JSON only. No markdown.`

// routingContext is the JSON payload sent alongside the system instruction.
type routingContext struct {
	AllowedCategories []string  `json:"allowed_categories"`
	RecentMessages    []Message `json:"recent_messages"`
	UserMessage       string    `json:"user_message"`
}

func buildPrompt(utterance string, history []Message, visible []string, cfg Config) string {
	if len(visible) > cfg.MaxCategories {
		visible = visible[:cfg.MaxCategories]
	}
	if len(history) > cfg.HistoryWindow {
		history = history[len(history)-cfg.HistoryWindow:]
	}

	payload, err := json.Marshal(routingContext{
		AllowedCategories: visible,
		RecentMessages:    history,
		UserMessage:       utterance,
	})
	if err != nil {
		// Marshal of plain strings cannot fail; still, degrade to the bare utterance.
		return utterance
	}
	return string(payload)
}
