package storage

import (
	"fmt"
	"strings"
	"time"
)

// InsertReviews bulk-inserts cleaned review rows in one transaction.
func (s *Store) InsertReviews(reviews []Review) error {
	if len(reviews) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO reviews (product_id, product_name, category, rating, review_date, review_title, review_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range reviews {
		if _, err := stmt.Exec(
			r.ProductID, r.ProductName, r.Category, r.Rating,
			r.ReviewDate.UTC().Format(time.RFC3339), r.ReviewTitle, r.ReviewText,
		); err != nil {
			return fmt.Errorf("inserting review: %w", err)
		}
	}
	return tx.Commit()
}

// CategoryAggregates returns per-category raw accumulators for the given
// category set. Categories with zero rows are absent from the result.
func (s *Store) CategoryAggregates(categories []string) ([]CategoryAggregate, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	query := `
		SELECT category,
		       COUNT(*),
		       SUM(rating),
		       SUM(CASE WHEN rating >= 4 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN rating <= 2 THEN 1 ELSE 0 END)
		FROM reviews
		WHERE category IN (` + placeholders(len(categories)) + `)
		GROUP BY category
		ORDER BY category ASC`

	rows, err := s.db.Query(query, stringArgs(categories)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CategoryAggregate
	for rows.Next() {
		var a CategoryAggregate
		if err := rows.Scan(&a.Category, &a.ReviewCount, &a.RatingSum, &a.Promoters, &a.Detractors); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RatingDistribution returns rating value counts for one category, rating
// ascending.
func (s *Store) RatingDistribution(category string) ([]RatingBucket, error) {
	rows, err := s.db.Query(`
		SELECT rating, COUNT(*) FROM reviews
		WHERE category = ?
		GROUP BY rating
		ORDER BY rating ASC`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RatingBucket
	for rows.Next() {
		var b RatingBucket
		if err := rows.Scan(&b.Rating, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ReviewTexts returns up to limit non-empty review texts for a category in
// insertion order, so repeated calls see the same slice of the corpus.
func (s *Store) ReviewTexts(category string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT review_text FROM reviews
		WHERE category = ? AND review_text != ''
		ORDER BY id ASC
		LIMIT ?`, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

// CountReviews returns the total review count across the given categories.
func (s *Store) CountReviews(categories []string) (int64, error) {
	if len(categories) == 0 {
		return 0, nil
	}
	query := `SELECT COUNT(*) FROM reviews WHERE category IN (` + placeholders(len(categories)) + `)`
	var n int64
	if err := s.db.QueryRow(query, stringArgs(categories)...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func placeholders(n int) string {
	return "?" + strings.Repeat(",?", n-1)
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
