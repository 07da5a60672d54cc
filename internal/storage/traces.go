package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendTrace inserts one audit row. Traces are append-only; there is no
// update or delete path.
func (s *Store) AppendTrace(t Trace) error {
	_, err := s.db.Exec(`
		INSERT INTO traces (id, conversation_id, user_id, user_query, decision_json, verdict,
			rejection_reason, call_json, result_json, answer, is_fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.UserID, t.UserQuery, t.DecisionJSON, t.Verdict,
		t.RejectionReason, t.CallJSON, t.ResultJSON, t.Answer, boolToInt(t.IsFallback),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting trace: %w", err)
	}
	return nil
}

// LastValidatedCall returns the call JSON of the most recent directly
// validated (non-fallback) turn in a conversation, or ErrNotFound.
func (s *Store) LastValidatedCall(conversationID string) (string, error) {
	var callJSON string
	err := s.db.QueryRow(`
		SELECT call_json FROM traces
		WHERE conversation_id = ? AND verdict = 'validated' AND is_fallback = 0 AND call_json != ''
		ORDER BY created_at DESC LIMIT 1`, conversationID,
	).Scan(&callJSON)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return callJSON, err
}

// RecentTraces returns the newest traces first, capped at limit.
func (s *Store) RecentTraces(limit int) ([]Trace, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, user_id, user_query, decision_json, verdict,
			rejection_reason, call_json, result_json, answer, is_fallback, created_at
		FROM traces ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var t Trace
		var fallback int
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.UserQuery, &t.DecisionJSON,
			&t.Verdict, &t.RejectionReason, &t.CallJSON, &t.ResultJSON, &t.Answer,
			&fallback, &createdAt); err != nil {
			return nil, err
		}
		t.IsFallback = fallback != 0
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}
