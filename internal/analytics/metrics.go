// Package analytics turns raw per-category accumulators into the derived
// metrics the tools report. All arithmetic happens on unrounded sums;
// rounding is a display concern left to callers.
package analytics

import (
	"math"
	"sort"

	"github.com/revq/revq/internal/storage"
)

// Metric names accepted by the top-categories and compare tools.
const (
	MetricReviewCount = "review_count"
	MetricAvgRating   = "avg_rating"
	MetricNPS         = "nps"
)

// CategoryMetrics is the derived metric row for one category.
type CategoryMetrics struct {
	Category    string  `json:"category"`
	ReviewCount int64   `json:"review_count"`
	AvgRating   float64 `json:"avg_rating"`
	NPS         float64 `json:"nps"`
}

// Compute derives metrics from raw aggregates. NPS is
// (%promoters - %detractors) * 100 with promoters at rating >= 4 and
// detractors at rating <= 2.
func Compute(aggs []storage.CategoryAggregate) []CategoryMetrics {
	out := make([]CategoryMetrics, 0, len(aggs))
	for _, a := range aggs {
		if a.ReviewCount == 0 {
			continue
		}
		total := float64(a.ReviewCount)
		out = append(out, CategoryMetrics{
			Category:    a.Category,
			ReviewCount: a.ReviewCount,
			AvgRating:   a.RatingSum / total,
			NPS:         (float64(a.Promoters)/total - float64(a.Detractors)/total) * 100,
		})
	}
	return out
}

// SortByMetric orders rows by the given metric, descending when descending
// is true. Ties always break by category name ascending so identical inputs
// produce identical orderings.
func SortByMetric(rows []CategoryMetrics, metric string, descending bool) {
	value := func(m CategoryMetrics) float64 {
		switch metric {
		case MetricAvgRating:
			return m.AvgRating
		case MetricNPS:
			return m.NPS
		default:
			return float64(m.ReviewCount)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		vi, vj := value(rows[i]), value(rows[j])
		if vi != vj {
			if descending {
				return vi > vj
			}
			return vi < vj
		}
		return rows[i].Category < rows[j].Category
	})
}

// TopN returns the first n rows after sorting by metric descending.
func TopN(rows []CategoryMetrics, metric string, n int) []CategoryMetrics {
	SortByMetric(rows, metric, true)
	if n > 0 && n < len(rows) {
		return rows[:n]
	}
	return rows
}

// Overall folds every aggregate into a single corpus-wide metric row.
func Overall(aggs []storage.CategoryAggregate) CategoryMetrics {
	var total, promoters, detractors int64
	var ratingSum float64
	for _, a := range aggs {
		total += a.ReviewCount
		promoters += a.Promoters
		detractors += a.Detractors
		ratingSum += a.RatingSum
	}
	if total == 0 {
		return CategoryMetrics{}
	}
	t := float64(total)
	return CategoryMetrics{
		ReviewCount: total,
		AvgRating:   ratingSum / t,
		NPS:         (float64(promoters)/t - float64(detractors)/t) * 100,
	}
}

// Round rounds to the given number of decimal places, for display only.
func Round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
