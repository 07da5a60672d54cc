package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateConversation returns the conversation with the given id if it
// belongs to the user, or creates a fresh one when id is empty or unknown.
func (s *Store) GetOrCreateConversation(userID int64, id string) (Conversation, error) {
	if id != "" {
		var c Conversation
		var createdAt, updatedAt string
		err := s.db.QueryRow(`
			SELECT id, user_id, title, created_at, updated_at
			FROM conversations WHERE id = ? AND user_id = ?`, id, userID,
		).Scan(&c.ID, &c.UserID, &c.Title, &createdAt, &updatedAt)
		if err == nil {
			if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
				return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
			}
			if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
				return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
			}
			return c, nil
		}
		if err != sql.ErrNoRows {
			return Conversation{}, err
		}
	}

	now := time.Now().UTC()
	c := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, '', ?, ?)`,
		c.ID, c.UserID, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	return c, nil
}

// TouchConversation advances a conversation's updated_at timestamp.
func (s *Store) TouchConversation(id string) error {
	_, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// ConversationTurns returns the most recent turns of a conversation owned by
// the given user, oldest first, capped at limit.
func (s *Store) ConversationTurns(conversationID string, userID int64, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT user_query, answer, is_fallback, created_at FROM (
			SELECT user_query, answer, is_fallback, created_at
			FROM traces
			WHERE conversation_id = ? AND user_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at ASC`, conversationID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var fallback int
		var createdAt string
		if err := rows.Scan(&t.Query, &t.Answer, &fallback, &createdAt); err != nil {
			return nil, err
		}
		t.IsFallback = fallback != 0
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
