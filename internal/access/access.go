// Package access resolves which categories a user may query. Decisions are
// always computed from the latest persisted grants; nothing here holds a
// snapshot, so a grant change made by an admin is visible to the very next
// call.
package access

import (
	"errors"
	"fmt"

	"github.com/revq/revq/internal/storage"
)

// Store is the slice of the storage layer the resolver reads from.
type Store interface {
	UserByID(id int64) (storage.User, error)
	AllowedCategories(userID int64) ([]string, error)
	AllCategories() ([]string, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Authorize reports whether the user may query the given category. A user
// that cannot be resolved (deleted, deactivated) is denied everything.
func (r *Resolver) Authorize(user storage.User, category string) (bool, error) {
	current, err := r.store.UserByID(user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolving user: %w", err)
	}
	if !current.IsActive {
		return false, nil
	}
	if current.IsAdmin() {
		return true, nil
	}

	allowed, err := r.store.AllowedCategories(user.ID)
	if err != nil {
		return false, fmt.Errorf("resolving grants: %w", err)
	}
	for _, c := range allowed {
		if c == category {
			return true, nil
		}
	}
	return false, nil
}

// VisibleCategories returns the set of categories the user may query: every
// known category for an admin, the granted subset for an analyst, nothing
// for a user that cannot be resolved.
func (r *Resolver) VisibleCategories(user storage.User) ([]string, error) {
	current, err := r.store.UserByID(user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	if !current.IsActive {
		return nil, nil
	}
	if current.IsAdmin() {
		return r.store.AllCategories()
	}
	return r.store.AllowedCategories(user.ID)
}

// AccessVersion returns the user's current grant generation, read fresh. It
// is the sole cache-invalidation signal the executor observes.
func (r *Resolver) AccessVersion(userID int64) (int64, error) {
	current, err := r.store.UserByID(userID)
	if err != nil {
		return 0, fmt.Errorf("resolving user: %w", err)
	}
	return current.AccessVersion, nil
}
