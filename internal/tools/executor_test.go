package tools

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/revq/revq/internal/sentiment"
	"github.com/revq/revq/internal/storage"
)

type mockDataStore struct {
	aggs       []storage.CategoryAggregate
	aggErr     error
	buckets    []storage.RatingBucket
	texts      []string
	cache      map[string]string
	cacheErr   error
	queryCalls int
	cachePuts  int
	cacheReads int
}

func newMockDataStore() *mockDataStore {
	return &mockDataStore{cache: make(map[string]string)}
}

func cacheKey(userID, version int64, fp string) string {
	return fmt.Sprintf("%d:%d:%s", userID, version, fp)
}

func (m *mockDataStore) CategoryAggregates(categories []string) ([]storage.CategoryAggregate, error) {
	m.queryCalls++
	if m.aggErr != nil {
		return nil, m.aggErr
	}
	var out []storage.CategoryAggregate
	for _, a := range m.aggs {
		for _, c := range categories {
			if a.Category == c {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *mockDataStore) RatingDistribution(string) ([]storage.RatingBucket, error) {
	m.queryCalls++
	return m.buckets, nil
}

func (m *mockDataStore) ReviewTexts(string, int) ([]string, error) {
	m.queryCalls++
	return m.texts, nil
}

func (m *mockDataStore) CachedResult(userID, version int64, fp string) (string, error) {
	m.cacheReads++
	if m.cacheErr != nil {
		return "", m.cacheErr
	}
	v, ok := m.cache[cacheKey(userID, version, fp)]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *mockDataStore) PutCachedResult(userID, version int64, fp, resultJSON string) error {
	m.cachePuts++
	m.cache[cacheKey(userID, version, fp)] = resultJSON
	return nil
}

type mockAccess struct {
	visible []string
	version int64
	err     error
}

func (m *mockAccess) VisibleCategories(storage.User) ([]string, error) {
	return m.visible, m.err
}

func (m *mockAccess) AccessVersion(int64) (int64, error) {
	return m.version, m.err
}

type mockSummarizer struct {
	summary sentiment.Summary
	err     error
}

func (m *mockSummarizer) Summarize(context.Context, []string) (sentiment.Summary, error) {
	return m.summary, m.err
}

func TestExecuteTopCategoriesScopedToVisible(t *testing.T) {
	store := newMockDataStore()
	store.aggs = []storage.CategoryAggregate{
		{Category: "electronics", ReviewCount: 10, RatingSum: 40, Promoters: 6, Detractors: 1},
		{Category: "toys", ReviewCount: 100, RatingSum: 500, Promoters: 100},
	}
	access := &mockAccess{visible: []string{"electronics"}}
	e := NewExecutor(store, access, &mockSummarizer{})

	call := Call{Tool: ToolTopCategories, Args: Args{TopN: 10, Metric: "review_count"}}
	result, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindTopCategories {
		t.Fatalf("kind = %q", result.Kind)
	}
	if len(result.Categories) != 1 || result.Categories[0].Category != "electronics" {
		t.Errorf("result leaked beyond visible categories: %+v", result.Categories)
	}
	if result.Categories[0].AvgRating != 4 {
		t.Errorf("avg rating = %v", result.Categories[0].AvgRating)
	}
}

func TestExecuteCacheReplaysIdenticalResult(t *testing.T) {
	store := newMockDataStore()
	store.aggs = []storage.CategoryAggregate{
		{Category: "electronics", ReviewCount: 3, RatingSum: 12, Promoters: 2},
	}
	access := &mockAccess{visible: []string{"electronics"}, version: 0}
	e := NewExecutor(store, access, &mockSummarizer{})
	call := Call{Tool: ToolTopCategories, Args: Args{TopN: 5, Metric: "nps"}}

	first, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if store.queryCalls != 1 || store.cachePuts != 1 {
		t.Fatalf("queries = %d, puts = %d after first call", store.queryCalls, store.cachePuts)
	}

	// Mutate the underlying data; the cached generation must not see it.
	store.aggs[0].ReviewCount = 999

	second, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute(repeat): %v", err)
	}
	if store.queryCalls != 1 {
		t.Errorf("repeat call hit the store (%d queries)", store.queryCalls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay differs: %+v vs %+v", first, second)
	}
}

func TestExecuteAccessVersionBumpInvalidatesCache(t *testing.T) {
	store := newMockDataStore()
	store.aggs = []storage.CategoryAggregate{
		{Category: "electronics", ReviewCount: 3, RatingSum: 12, Promoters: 2},
	}
	access := &mockAccess{visible: []string{"electronics"}, version: 0}
	e := NewExecutor(store, access, &mockSummarizer{})
	call := Call{Tool: ToolTopCategories, Args: Args{TopN: 5, Metric: "review_count"}}

	if _, err := e.Execute(context.Background(), call, storage.User{ID: 1}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Grant change: version bumps and the visible set widens.
	access.version = 1
	access.visible = []string{"electronics", "toys"}
	store.aggs = append(store.aggs, storage.CategoryAggregate{Category: "toys", ReviewCount: 7, RatingSum: 35, Promoters: 7})

	result, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute(after bump): %v", err)
	}
	if store.queryCalls != 2 {
		t.Errorf("bumped generation served from stale cache (%d queries)", store.queryCalls)
	}
	if len(result.Categories) != 2 {
		t.Errorf("recomputed result has %d categories, want 2", len(result.Categories))
	}
}

func TestExecuteRatingDistributionOutOfScope(t *testing.T) {
	store := newMockDataStore()
	access := &mockAccess{visible: []string{"electronics"}}
	e := NewExecutor(store, access, &mockSummarizer{})

	call := Call{Tool: ToolRatingDistribution, Args: Args{Category: "toys"}}
	result, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindAccessDenied {
		t.Errorf("kind = %q, want access_denied marker", result.Kind)
	}
}

func TestExecuteNoData(t *testing.T) {
	store := newMockDataStore() // no buckets
	access := &mockAccess{visible: []string{"electronics"}}
	e := NewExecutor(store, access, &mockSummarizer{})

	call := Call{Tool: ToolRatingDistribution, Args: Args{Category: "electronics"}}
	result, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindNoData || result.Category != "electronics" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteCompareMissingSide(t *testing.T) {
	store := newMockDataStore()
	store.aggs = []storage.CategoryAggregate{
		{Category: "electronics", ReviewCount: 3, RatingSum: 12},
	}
	access := &mockAccess{visible: []string{"electronics", "tablets"}}
	e := NewExecutor(store, access, &mockSummarizer{})

	call := Call{Tool: ToolCompareCategories, Args: Args{CategoryA: "electronics", CategoryB: "tablets"}}
	result, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindNoData || result.Category != "tablets" {
		t.Errorf("result = %+v, want no_data for the empty side", result)
	}
}

func TestExecuteSentimentSummary(t *testing.T) {
	store := newMockDataStore()
	store.texts = []string{"great product", "broke after a week"}
	access := &mockAccess{visible: []string{"electronics"}}
	summarizer := &mockSummarizer{summary: sentiment.Summary{
		AnalyzedCount: 2,
		Distribution:  map[string]int{"positive": 1, "negative": 1},
	}}
	e := NewExecutor(store, access, summarizer)

	call := Call{Tool: ToolSentimentSummary, Args: Args{Category: "electronics", MaxReviews: 30}}
	result, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindSentiment || result.Sentiment == nil {
		t.Fatalf("result = %+v", result)
	}
	if result.Sentiment.AnalyzedCount != 2 {
		t.Errorf("analyzed = %d", result.Sentiment.AnalyzedCount)
	}
}

func TestExecuteGeneralSummaryStats(t *testing.T) {
	store := newMockDataStore()
	store.aggs = []storage.CategoryAggregate{
		{Category: "electronics", ReviewCount: 2, RatingSum: 9, Promoters: 2},
		{Category: "tablets", ReviewCount: 2, RatingSum: 4, Detractors: 2},
	}
	access := &mockAccess{visible: []string{"electronics", "tablets"}}
	e := NewExecutor(store, access, &mockSummarizer{})

	call := Call{Tool: ToolGeneralQuery, Args: Args{QueryType: QuerySummaryStats}}
	result, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindGeneral || result.General == nil {
		t.Fatalf("result = %+v", result)
	}
	if result.General.TotalReviews != 4 || result.General.CategoryCount != 2 {
		t.Errorf("stats = %+v", result.General)
	}
	if result.General.AvgRating != 3.25 {
		t.Errorf("avg rating = %v", result.General.AvgRating)
	}
}

func TestExecuteDataSourceFailure(t *testing.T) {
	store := newMockDataStore()
	store.aggErr = errors.New("disk on fire")
	access := &mockAccess{visible: []string{"electronics"}}
	e := NewExecutor(store, access, &mockSummarizer{})

	call := Call{Tool: ToolTopCategories, Args: Args{TopN: 5, Metric: "review_count"}}
	_, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if !errors.Is(err, ErrDataSource) {
		t.Errorf("err = %v, want ErrDataSource", err)
	}
	if store.cachePuts != 0 {
		t.Errorf("failed computation was cached")
	}
}

func TestExecuteCacheReadFailureIsDataSourceError(t *testing.T) {
	store := newMockDataStore()
	store.cacheErr = errors.New("cache table corrupt")
	access := &mockAccess{visible: []string{"electronics"}}
	e := NewExecutor(store, access, &mockSummarizer{})

	call := Call{Tool: ToolGeneralQuery, Args: Args{QueryType: QuerySummaryStats}}
	_, err := e.Execute(context.Background(), call, storage.User{ID: 1})
	if !errors.Is(err, ErrDataSource) {
		t.Errorf("err = %v, want ErrDataSource", err)
	}
}
