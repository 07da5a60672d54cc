package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/revq/revq/internal/analytics"
	"github.com/revq/revq/internal/sentiment"
	"github.com/revq/revq/internal/storage"
)

// ErrDataSource marks a failure of the underlying review store. It aborts
// the turn: the data layer itself is suspect, so no fallback tool is run.
var ErrDataSource = errors.New("data source error")

// DataStore is the slice of the storage layer the executor queries.
type DataStore interface {
	CategoryAggregates(categories []string) ([]storage.CategoryAggregate, error)
	RatingDistribution(category string) ([]storage.RatingBucket, error)
	ReviewTexts(category string, limit int) ([]string, error)
	CachedResult(userID, accessVersion int64, fingerprint string) (string, error)
	PutCachedResult(userID, accessVersion int64, fingerprint, resultJSON string) error
}

// AccessReader resolves the caller's visible categories and grant
// generation, always fresh.
type AccessReader interface {
	VisibleCategories(user storage.User) ([]string, error)
	AccessVersion(userID int64) (int64, error)
}

// Summarizer aggregates sentiment over review texts.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (sentiment.Summary, error)
}

// Executor runs validated calls against the review store. Every query is
// scoped to the caller's visible categories; there is no unfiltered path.
// Results are cached under (user, access_version, call fingerprint), so an
// unchanged grant generation always replays the identical serialized result.
type Executor struct {
	store     DataStore
	access    AccessReader
	sentiment Summarizer
	group     singleflight.Group
}

func NewExecutor(store DataStore, access AccessReader, summarizer Summarizer) *Executor {
	return &Executor{store: store, access: access, sentiment: summarizer}
}

// Execute runs the call for the user and returns its typed result. The
// caller must pass a Call produced by the validator or the fallback policy.
func (e *Executor) Execute(ctx context.Context, call Call, user storage.User) (Result, error) {
	version, err := e.access.AccessVersion(user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading access version: %v", ErrDataSource, err)
	}
	visible, err := e.access.VisibleCategories(user)
	if err != nil {
		return Result{}, fmt.Errorf("%w: resolving visible categories: %v", ErrDataSource, err)
	}

	fingerprint := Fingerprint(call)
	if cached, err := e.store.CachedResult(user.ID, version, fingerprint); err == nil {
		var result Result
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			slog.Debug("executor cache hit", "user", user.ID, "version", version, "tool", call.Tool)
			return result, nil
		}
		slog.Warn("discarding undecodable cache entry", "user", user.ID, "fingerprint", fingerprint)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: reading result cache: %v", ErrDataSource, err)
	}

	// Collapse concurrent identical computations onto one query; every
	// caller gets the same serialized payload.
	key := fmt.Sprintf("%d:%d:%s", user.ID, version, fingerprint)
	serialized, err, _ := e.group.Do(key, func() (any, error) {
		result, err := e.compute(ctx, call, visible)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		if err := e.store.PutCachedResult(user.ID, version, fingerprint, string(payload)); err != nil {
			return nil, fmt.Errorf("%w: writing result cache: %v", ErrDataSource, err)
		}
		return string(payload), nil
	})
	if err != nil {
		return Result{}, err
	}

	var result Result
	if err := json.Unmarshal([]byte(serialized.(string)), &result); err != nil {
		return Result{}, fmt.Errorf("decoding result: %w", err)
	}
	return result, nil
}

func (e *Executor) compute(ctx context.Context, call Call, visible []string) (Result, error) {
	switch call.Tool {
	case ToolTopCategories:
		return e.topCategories(call.Args, visible)
	case ToolRatingDistribution:
		return e.ratingDistribution(call.Args.Category, visible)
	case ToolSentimentSummary:
		return e.sentimentSummary(ctx, call.Args, visible)
	case ToolCompareCategories:
		return e.compareCategories(call.Args, visible)
	case ToolGeneralQuery:
		return e.generalQuery(call.Args, visible)
	default:
		return Result{}, fmt.Errorf("unexecutable tool %q", call.Tool)
	}
}

func (e *Executor) topCategories(args Args, visible []string) (Result, error) {
	aggs, err := e.store.CategoryAggregates(visible)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	rows := analytics.Compute(aggs)
	if len(rows) == 0 {
		return Result{Kind: KindNoData}, nil
	}
	rows = analytics.TopN(rows, args.Metric, args.TopN)
	roundRows(rows)
	return Result{Kind: KindTopCategories, Metric: args.Metric, Categories: rows}, nil
}

func (e *Executor) ratingDistribution(category string, visible []string) (Result, error) {
	if !inSet(visible, category) {
		return Result{Kind: KindAccessDenied, Category: category}, nil
	}
	buckets, err := e.store.RatingDistribution(category)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	if len(buckets) == 0 {
		return Result{Kind: KindNoData, Category: category}, nil
	}
	return Result{Kind: KindDistribution, Category: category, Distribution: buckets}, nil
}

func (e *Executor) sentimentSummary(ctx context.Context, args Args, visible []string) (Result, error) {
	if !inSet(visible, args.Category) {
		return Result{Kind: KindAccessDenied, Category: args.Category}, nil
	}
	texts, err := e.store.ReviewTexts(args.Category, args.MaxReviews)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	if len(texts) == 0 {
		return Result{Kind: KindNoData, Category: args.Category}, nil
	}
	summary, err := e.sentiment.Summarize(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("summarizing sentiment: %w", err)
	}
	return Result{Kind: KindSentiment, Category: args.Category, Sentiment: &summary}, nil
}

func (e *Executor) compareCategories(args Args, visible []string) (Result, error) {
	if !inSet(visible, args.CategoryA) {
		return Result{Kind: KindAccessDenied, Category: args.CategoryA}, nil
	}
	if !inSet(visible, args.CategoryB) {
		return Result{Kind: KindAccessDenied, Category: args.CategoryB}, nil
	}
	aggs, err := e.store.CategoryAggregates([]string{args.CategoryA, args.CategoryB})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	rows := analytics.Compute(aggs)
	byName := make(map[string]analytics.CategoryMetrics, len(rows))
	for _, r := range rows {
		byName[r.Category] = r
	}
	a, okA := byName[args.CategoryA]
	b, okB := byName[args.CategoryB]
	if !okA {
		return Result{Kind: KindNoData, Category: args.CategoryA}, nil
	}
	if !okB {
		return Result{Kind: KindNoData, Category: args.CategoryB}, nil
	}
	pair := []analytics.CategoryMetrics{a, b}
	roundRows(pair)
	return Result{Kind: KindComparison, Comparison: &Comparison{A: pair[0], B: pair[1]}}, nil
}

func (e *Executor) generalQuery(args Args, visible []string) (Result, error) {
	stats := &GeneralStats{QueryType: args.QueryType}

	switch args.QueryType {
	case QueryCountCategories:
		stats.CategoryCount = len(visible)

	case QueryListCategories:
		stats.Categories = visible
		stats.CategoryCount = len(visible)

	case QueryCategoryInfo:
		if !inSet(visible, args.Category) {
			return Result{Kind: KindAccessDenied, Category: args.Category}, nil
		}
		aggs, err := e.store.CategoryAggregates([]string{args.Category})
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrDataSource, err)
		}
		rows := analytics.Compute(aggs)
		if len(rows) == 0 {
			return Result{Kind: KindNoData, Category: args.Category}, nil
		}
		roundRows(rows)
		stats.Info = &rows[0]

	default: // summary_stats
		aggs, err := e.store.CategoryAggregates(visible)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrDataSource, err)
		}
		overall := analytics.Overall(aggs)
		stats.CategoryCount = len(visible)
		stats.TotalReviews = overall.ReviewCount
		stats.AvgRating = analytics.Round(overall.AvgRating, 2)
		stats.NPS = analytics.Round(overall.NPS, 1)
	}

	return Result{Kind: KindGeneral, Category: args.Category, General: stats}, nil
}

// roundRows applies display rounding. Accumulation stays unrounded up to
// this point.
func roundRows(rows []analytics.CategoryMetrics) {
	for i := range rows {
		rows[i].AvgRating = analytics.Round(rows[i].AvgRating, 2)
		rows[i].NPS = analytics.Round(rows[i].NPS, 1)
	}
}

func inSet(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
