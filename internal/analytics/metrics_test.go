package analytics

import (
	"math"
	"reflect"
	"testing"

	"github.com/revq/revq/internal/storage"
)

func TestComputeNPS(t *testing.T) {
	// 6 promoters, 2 detractors, 2 passive out of 10: (60% - 20%) = 40.
	agg := storage.CategoryAggregate{
		Category:    "electronics",
		ReviewCount: 10,
		RatingSum:   38,
		Promoters:   6,
		Detractors:  2,
	}

	rows := Compute([]storage.CategoryAggregate{agg})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if got := rows[0].NPS; math.Abs(got-40) > 1e-9 {
		t.Errorf("NPS = %v, want 40", got)
	}
	if got := rows[0].AvgRating; math.Abs(got-3.8) > 1e-9 {
		t.Errorf("AvgRating = %v, want 3.8", got)
	}
}

func TestComputeSkipsEmptyCategories(t *testing.T) {
	aggs := []storage.CategoryAggregate{
		{Category: "empty", ReviewCount: 0},
		{Category: "kept", ReviewCount: 1, RatingSum: 5, Promoters: 1},
	}
	rows := Compute(aggs)
	if len(rows) != 1 || rows[0].Category != "kept" {
		t.Fatalf("expected only non-empty category, got %+v", rows)
	}
}

func TestSortByMetricTieBreak(t *testing.T) {
	rows := []CategoryMetrics{
		{Category: "b", ReviewCount: 5},
		{Category: "a", ReviewCount: 5},
		{Category: "c", ReviewCount: 9},
	}
	SortByMetric(rows, MetricReviewCount, true)

	want := []string{"c", "a", "b"}
	var got []string
	for _, r := range rows {
		got = append(got, r.Category)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestSortByMetricAvgRating(t *testing.T) {
	rows := []CategoryMetrics{
		{Category: "low", AvgRating: 2.1},
		{Category: "high", AvgRating: 4.9},
	}
	SortByMetric(rows, MetricAvgRating, true)
	if rows[0].Category != "high" {
		t.Errorf("expected high-rated category first, got %s", rows[0].Category)
	}
	SortByMetric(rows, MetricAvgRating, false)
	if rows[0].Category != "low" {
		t.Errorf("expected low-rated category first ascending, got %s", rows[0].Category)
	}
}

func TestTopN(t *testing.T) {
	rows := []CategoryMetrics{
		{Category: "a", ReviewCount: 3},
		{Category: "b", ReviewCount: 2},
		{Category: "c", ReviewCount: 1},
	}

	if got := TopN(rows, MetricReviewCount, 2); len(got) != 2 {
		t.Errorf("TopN(2) returned %d rows", len(got))
	}
	if got := TopN(rows, MetricReviewCount, 10); len(got) != 3 {
		t.Errorf("TopN past the end returned %d rows", len(got))
	}
}

func TestOverall(t *testing.T) {
	aggs := []storage.CategoryAggregate{
		{Category: "a", ReviewCount: 2, RatingSum: 10, Promoters: 2},
		{Category: "b", ReviewCount: 2, RatingSum: 2, Detractors: 2},
	}
	total := Overall(aggs)
	if total.ReviewCount != 4 {
		t.Errorf("ReviewCount = %d, want 4", total.ReviewCount)
	}
	if math.Abs(total.AvgRating-3) > 1e-9 {
		t.Errorf("AvgRating = %v, want 3", total.AvgRating)
	}
	// 50% promoters minus 50% detractors.
	if math.Abs(total.NPS-0) > 1e-9 {
		t.Errorf("NPS = %v, want 0", total.NPS)
	}
}

func TestRound(t *testing.T) {
	if got := Round(3.14159, 2); got != 3.14 {
		t.Errorf("Round(3.14159, 2) = %v", got)
	}
	if got := Round(2.5, 0); got != 3 {
		t.Errorf("Round(2.5, 0) = %v", got)
	}
}
