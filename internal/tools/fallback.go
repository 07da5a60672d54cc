package tools

import (
	"log/slog"

	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/storage"
)

// fallbackTopN is the deliberately small page size for substitute answers; a
// fallback shows an overview, not the full leaderboard.
const fallbackTopN = 5

// FallbackPolicy maps rejections and unusable proposals to a safe
// deterministic substitute action. The rules form a priority list; the first
// match wins, and the result always carries IsFallback plus the triggering
// reason so response synthesis can disclose what happened.
type FallbackPolicy struct{}

func NewFallbackPolicy() *FallbackPolicy {
	return &FallbackPolicy{}
}

// Resolve picks the substitute call for a rejected proposal. lastGood is the
// most recent successfully executed call in the conversation; the current
// rule set does not depend on it, but the pipeline supplies it so rules can
// use it without a contract change.
func (p *FallbackPolicy) Resolve(rej Rejection, decision router.Decision, user storage.User, lastGood *Call) Call {
	_ = lastGood

	call := p.resolve(rej, decision)
	call.IsFallback = true
	call.Reason = rej.Reason
	slog.Debug("fallback resolved", "reason", rej.Reason, "tool", call.Tool, "user", user.ID)
	return call
}

func (p *FallbackPolicy) resolve(rej Rejection, decision router.Decision) Call {
	switch rej.Reason {
	case ReasonUnsupportedTool, ReasonInterpreterUnavailable:
		// Summarize what the caller can see instead of guessing a tool.
		return Call{
			Tool: ToolGeneralQuery,
			Args: Args{QueryType: QuerySummaryStats},
		}

	case ReasonAccessDenied:
		// Never touches the denied category: the executor scopes
		// top-categories to the caller's visible set.
		return Call{
			Tool: ToolTopCategories,
			Args: Args{TopN: fallbackTopN, Metric: "review_count"},
		}

	case ReasonInvalidArguments:
		if decision.Tool == ToolCompareCategories && rej.Category != "" {
			// "Compare X with X" degrades to the distribution for X.
			return Call{
				Tool: ToolRatingDistribution,
				Args: Args{Category: rej.Category},
			}
		}
	}

	// Ambiguous or otherwise unusable proposal.
	return Call{
		Tool: ToolTopCategories,
		Args: Args{TopN: fallbackTopN, Metric: "review_count"},
	}
}
