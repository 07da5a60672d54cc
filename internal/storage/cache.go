package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CachedResult looks up a tool result keyed by (user, access generation,
// call fingerprint). A version bump makes every entry under the old version
// unreachable; rows are never explicitly evicted.
func (s *Store) CachedResult(userID, accessVersion int64, fingerprint string) (string, error) {
	var result string
	err := s.db.QueryRow(`
		SELECT result_json FROM result_cache
		WHERE user_id = ? AND access_version = ? AND fingerprint = ?`,
		userID, accessVersion, fingerprint,
	).Scan(&result)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return result, err
}

// PutCachedResult stores a tool result under its generational key. Upsert
// keeps the write atomic for concurrent identical computations.
func (s *Store) PutCachedResult(userID, accessVersion int64, fingerprint, resultJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO result_cache (user_id, access_version, fingerprint, result_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, access_version, fingerprint) DO UPDATE SET result_json = excluded.result_json`,
		userID, accessVersion, fingerprint, resultJSON, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Sentiments returns cached sentiment rows for the given text hashes, keyed
// by hash.
func (s *Store) Sentiments(hashes []string) (map[string]SentimentRow, error) {
	if len(hashes) == 0 {
		return map[string]SentimentRow{}, nil
	}
	query := `
		SELECT text_hash, model, sentiment, reasons_json, latency_ms, created_at
		FROM sentiment_cache WHERE text_hash IN (` + placeholders(len(hashes)) + `)`
	rows, err := s.db.Query(query, stringArgs(hashes)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]SentimentRow)
	for rows.Next() {
		var r SentimentRow
		var createdAt string
		if err := rows.Scan(&r.TextHash, &r.Model, &r.Sentiment, &r.ReasonsJSON, &r.LatencyMs, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out[r.TextHash] = r
	}
	return out, rows.Err()
}

// PutSentiment upserts one sentiment verdict keyed by text hash.
func (s *Store) PutSentiment(r SentimentRow) error {
	reasons := r.ReasonsJSON
	if strings.TrimSpace(reasons) == "" {
		reasons = "[]"
	}
	if !json.Valid([]byte(reasons)) {
		return fmt.Errorf("invalid reasons JSON for hash %s", r.TextHash)
	}
	_, err := s.db.Exec(`
		INSERT INTO sentiment_cache (text_hash, model, sentiment, reasons_json, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(text_hash) DO UPDATE SET
			model = excluded.model,
			sentiment = excluded.sentiment,
			reasons_json = excluded.reasons_json,
			latency_ms = excluded.latency_ms`,
		r.TextHash, r.Model, r.Sentiment, reasons, r.LatencyMs,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
