// Package tools holds the closed set of deterministic analytics operations
// and the supervision around them: the schema registry, the validator that
// checks interpreter proposals against schemas and access grants, the
// fallback policy for rejected proposals, and the executor that runs
// validated calls against the review store.
package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/revq/revq/internal/analytics"
	"github.com/revq/revq/internal/sentiment"
	"github.com/revq/revq/internal/storage"
)

// Tool names. The registry is the single source of truth for their schemas.
const (
	ToolTopCategories      = "metrics_top_categories"
	ToolRatingDistribution = "rating_distribution"
	ToolSentimentSummary   = "sentiment_summary"
	ToolCompareCategories  = "compare_categories"
	ToolGeneralQuery       = "general_query"
)

// general_query variants.
const (
	QueryCountCategories = "count_categories"
	QueryListCategories  = "list_categories"
	QueryCategoryInfo    = "category_info"
	QuerySummaryStats    = "summary_stats"
)

// Reason classifies why a proposal was rejected.
type Reason string

const (
	ReasonUnsupportedTool        Reason = "unsupported_tool"
	ReasonAccessDenied           Reason = "access_denied"
	ReasonInvalidArguments       Reason = "invalid_arguments"
	ReasonInterpreterUnavailable Reason = "interpreter_unavailable"
)

// Rejection is a validator verdict that blocks execution. Detail and
// Category are kept for the trace only and never surfaced to the user.
type Rejection struct {
	Reason   Reason `json:"reason"`
	Detail   string `json:"detail,omitempty"`
	Category string `json:"category,omitempty"`
}

// Args holds the normalized parameters of a tool call. Only the fields the
// tool's schema declares are populated.
type Args struct {
	TopN       int    `json:"top_n,omitempty"`
	Metric     string `json:"metric,omitempty"`
	Category   string `json:"category,omitempty"`
	CategoryA  string `json:"category_a,omitempty"`
	CategoryB  string `json:"category_b,omitempty"`
	MaxReviews int    `json:"max_reviews,omitempty"`
	QueryType  string `json:"query_type,omitempty"`
}

// Call is a validated (or fallback-substituted) action. It is the only
// representation the executor accepts.
type Call struct {
	Tool       string   `json:"tool"`
	Args       Args     `json:"args"`
	IsFallback bool     `json:"is_fallback"`
	Reason     Reason   `json:"rejection_reason,omitempty"`
	Coercions  []string `json:"coercions,omitempty"`
}

// Fingerprint returns a stable hash over the call's tool and normalized
// arguments. Fallback bookkeeping is excluded so a fallback call and an
// identical direct call share a cache entry.
func Fingerprint(c Call) string {
	key := struct {
		Tool string `json:"tool"`
		Args Args   `json:"args"`
	}{c.Tool, c.Args}
	payload, _ := json.Marshal(key)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Result kinds.
const (
	KindTopCategories = "top_categories"
	KindDistribution  = "rating_distribution"
	KindSentiment     = "sentiment_summary"
	KindComparison    = "comparison"
	KindGeneral       = "general"
	KindNoData        = "no_data"
	KindAccessDenied  = "access_denied"
)

// Comparison holds the metric rows for two distinct categories.
type Comparison struct {
	A analytics.CategoryMetrics `json:"a"`
	B analytics.CategoryMetrics `json:"b"`
}

// GeneralStats answers the general_query variants. Only the fields relevant
// to the requested variant are populated.
type GeneralStats struct {
	QueryType     string                     `json:"query_type"`
	CategoryCount int                        `json:"category_count,omitempty"`
	Categories    []string                   `json:"categories,omitempty"`
	TotalReviews  int64                      `json:"total_reviews,omitempty"`
	AvgRating     float64                    `json:"avg_rating,omitempty"`
	NPS           float64                    `json:"nps,omitempty"`
	Info          *analytics.CategoryMetrics `json:"info,omitempty"`
}

// Result is the typed output of execution: exactly one payload for the
// call's tool, or an explicit NoData/AccessDenied marker. It is never
// partially populated.
type Result struct {
	Kind         string                      `json:"kind"`
	Category     string                      `json:"category,omitempty"`
	Metric       string                      `json:"metric,omitempty"`
	Categories   []analytics.CategoryMetrics `json:"categories,omitempty"`
	Distribution []storage.RatingBucket      `json:"distribution,omitempty"`
	Sentiment    *sentiment.Summary          `json:"sentiment,omitempty"`
	Comparison   *Comparison                 `json:"comparison,omitempty"`
	General      *GeneralStats               `json:"general,omitempty"`
}
