// Package ingest loads the review corpus from the source CSV export into the
// store, cleaning ratings, dates, and category labels on the way. A source
// row listing several categories is exploded into one review row per
// category.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/revq/revq/internal/storage"
)

// Column names in the source export that the cleaner depends on.
const (
	colID         = "id"
	colName       = "name"
	colCategories = "categories"
	colRating     = "reviews.rating"
	colDate       = "reviews.date"
	colTitle      = "reviews.title"
	colText       = "reviews.text"
)

// Stats summarizes one ingest run.
type Stats struct {
	RowsRead    int
	RowsKept    int
	RowsSkipped int
	Categories  int
}

// categoryBlocklist drops labels that are artifacts of the source export,
// not product categories.
var categoryBlocklist = map[string]bool{
	"buy a kindle": true,
	"amazon.co.uk": true,
	"mazon.co.uk":  true,
}

var hasLetter = regexp.MustCompile(`[a-z]`)

// ValidCategory reports whether a raw category label is usable. Labels must
// be at least 3 runes, contain a letter, not be blocklisted, and not look
// like a bare domain name.
func ValidCategory(cat string) bool {
	c := strings.ToLower(strings.TrimSpace(cat))
	if c == "" || len([]rune(c)) < 3 {
		return false
	}
	if categoryBlocklist[c] {
		return false
	}
	if !hasLetter.MatchString(c) {
		return false
	}
	if strings.Contains(c, ".") && !strings.Contains(c, " ") {
		return false
	}
	return true
}

// ExtractCategories splits a comma-separated category field and keeps only
// valid labels, trimmed, deduplicated, in source order.
func ExtractCategories(field string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(field, ",") {
		c := strings.TrimSpace(part)
		if !ValidCategory(c) || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// ParseRating parses a rating and reports whether it is numeric and in [1,5].
func ParseRating(raw string) (float64, bool) {
	r, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	if r < 1 || r > 5 {
		return 0, false
	}
	return r, true
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a review date in any of the layouts seen in the export.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// LoadCSV reads the review export from path and returns cleaned review rows
// plus the distinct category names encountered.
func LoadCSV(path string) ([]storage.Review, []string, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, Stats{}, fmt.Errorf("opening CSV: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses and cleans CSV data from r. Rows missing a valid rating, date,
// or at least one valid category are skipped.
func Read(r io.Reader) ([]storage.Review, []string, Stats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, Stats{}, fmt.Errorf("reading CSV header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimFunc(h, unicode.IsSpace)] = i
	}
	for _, required := range []string{colCategories, colRating, colDate} {
		if _, ok := idx[required]; !ok {
			return nil, nil, Stats{}, fmt.Errorf("CSV missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var (
		reviews  []storage.Review
		stats    Stats
		catSeen  = make(map[string]bool)
		catNames []string
	)

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, stats, fmt.Errorf("reading CSV row %d: %w", stats.RowsRead+2, err)
		}
		stats.RowsRead++

		rating, ok := ParseRating(field(record, colRating))
		if !ok {
			stats.RowsSkipped++
			continue
		}
		date, ok := ParseDate(field(record, colDate))
		if !ok {
			stats.RowsSkipped++
			continue
		}
		categories := ExtractCategories(field(record, colCategories))
		if len(categories) == 0 {
			stats.RowsSkipped++
			continue
		}

		stats.RowsKept++
		for _, cat := range categories {
			if !catSeen[cat] {
				catSeen[cat] = true
				catNames = append(catNames, cat)
			}
			reviews = append(reviews, storage.Review{
				ProductID:   field(record, colID),
				ProductName: field(record, colName),
				Category:    cat,
				Rating:      rating,
				ReviewDate:  date,
				ReviewTitle: field(record, colTitle),
				ReviewText:  field(record, colText),
			})
		}
	}

	stats.Categories = len(catNames)
	slog.Debug("CSV cleaned",
		"rows_read", stats.RowsRead,
		"rows_kept", stats.RowsKept,
		"rows_skipped", stats.RowsSkipped,
		"categories", stats.Categories,
	)
	return reviews, catNames, stats, nil
}
