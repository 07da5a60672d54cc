// Package trace persists the audit trail: one append-only record per
// pipeline turn, readable only through an admin-scoped path.
package trace

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/revq/revq/internal/storage"
)

// ErrForbidden is returned when a non-admin asks to read traces.
var ErrForbidden = errors.New("trace access requires admin role")

// Store is the slice of the storage layer traces are written to.
type Store interface {
	AppendTrace(t storage.Trace) error
	RecentTraces(limit int) ([]storage.Trace, error)
}

type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one trace row. ID and CreatedAt are filled when absent.
// The row is never updated afterwards.
func (r *Recorder) Record(t storage.Trace) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if err := r.store.AppendTrace(t); err != nil {
		return fmt.Errorf("recording trace: %w", err)
	}
	return nil
}

// Recent returns the newest traces first. Only admins may read them; there
// is no path that exposes another user's trace to a non-admin.
func (r *Recorder) Recent(caller storage.User, limit int) ([]storage.Trace, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return r.store.RecentTraces(limit)
}
