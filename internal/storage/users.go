package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts a new user with the given role and API token hash and
// returns it. Emails are stored lowercased.
func (s *Store) CreateUser(email, role, tokenHash string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO users (email, role, is_active, api_token_hash, access_version, created_at)
		VALUES (?, ?, 1, ?, 0, ?)`,
		email, role, tokenHash, now.Format(time.RFC3339),
	)
	if err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Email: email, Role: role, IsActive: true, CreatedAt: now}, nil
}

// UserByID returns the user with the given id, active or not.
func (s *Store) UserByID(id int64) (User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, email, role, is_active, access_version, created_at
		FROM users WHERE id = ?`, id))
}

// UserByTokenHash returns the active user holding the given API token hash.
func (s *Store) UserByTokenHash(hash string) (User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, email, role, is_active, access_version, created_at
		FROM users WHERE api_token_hash = ? AND is_active = 1`, hash))
}

// UserByEmail returns the user with the given email, active or not.
func (s *Store) UserByEmail(email string) (User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, email, role, is_active, access_version, created_at
		FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`
		SELECT id, email, role, is_active, access_version, created_at
		FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetActive flips the active flag for a user.
func (s *Store) SetActive(userID int64, active bool) error {
	res, err := s.db.Exec(`UPDATE users SET is_active = ? WHERE id = ?`, boolToInt(active), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserCategories replaces a user's category grants with the given set and
// bumps the user's access_version in the same transaction. The version bump
// is the only cache-invalidation signal the executor observes.
func (s *Store) SetUserCategories(userID int64, categories []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning grant transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM user_category_access WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing grants: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, name := range categories {
		var categoryID int64
		err := tx.QueryRow(`SELECT id FROM categories WHERE name = ?`, name).Scan(&categoryID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("unknown category %q: %w", name, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO user_category_access (user_id, category_id, created_at)
			VALUES (?, ?, ?)`, userID, categoryID, now); err != nil {
			return fmt.Errorf("inserting grant for %q: %w", name, err)
		}
	}

	if _, err := tx.Exec(`UPDATE users SET access_version = access_version + 1 WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("bumping access version: %w", err)
	}

	return tx.Commit()
}

// AllowedCategories returns the category names granted to the user, sorted.
func (s *Store) AllowedCategories(userID int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT c.name FROM categories c
		JOIN user_category_access uca ON uca.category_id = c.id
		WHERE uca.user_id = ?
		ORDER BY c.name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

// UpsertCategories inserts any category names that don't exist yet and
// returns the number of newly created rows.
func (s *Store) UpsertCategories(names []string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	created := 0
	for _, name := range names {
		res, err := s.db.Exec(`
			INSERT INTO categories (name, created_at) VALUES (?, ?)
			ON CONFLICT(name) DO NOTHING`, name, now)
		if err != nil {
			return created, fmt.Errorf("upserting category %q: %w", name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return created, err
		}
		created += int(n)
	}
	return created, nil
}

// AllCategories returns every known category name, sorted.
func (s *Store) AllCategories() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	return u, err
}

func scanUserRow(row rowScanner) (User, error) {
	var u User
	var active int
	var createdAt string
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &active, &u.AccessVersion, &createdAt); err != nil {
		return User{}, err
	}
	u.IsActive = active != 0
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
