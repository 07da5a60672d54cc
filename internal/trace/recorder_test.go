package trace

import (
	"errors"
	"testing"

	"github.com/revq/revq/internal/storage"
)

type mockTraceStore struct {
	appended []storage.Trace
	recent   []storage.Trace
	lastLim  int
}

func (m *mockTraceStore) AppendTrace(t storage.Trace) error {
	m.appended = append(m.appended, t)
	return nil
}

func (m *mockTraceStore) RecentTraces(limit int) ([]storage.Trace, error) {
	m.lastLim = limit
	return m.recent, nil
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	store := &mockTraceStore{}
	r := NewRecorder(store)

	if err := r.Record(storage.Trace{UserID: 1, Verdict: "validated"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got := store.appended[0]
	if got.ID == "" {
		t.Error("ID not filled")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not filled")
	}
}

func TestRecentRequiresAdmin(t *testing.T) {
	r := NewRecorder(&mockTraceStore{})

	_, err := r.Recent(storage.User{Role: storage.RoleAnalyst}, 10)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}

	if _, err := r.Recent(storage.User{Role: storage.RoleAdmin}, 10); err != nil {
		t.Errorf("admin read failed: %v", err)
	}
}

func TestRecentClampsLimit(t *testing.T) {
	store := &mockTraceStore{}
	r := NewRecorder(store)
	admin := storage.User{Role: storage.RoleAdmin}

	r.Recent(admin, 0)
	if store.lastLim != 50 {
		t.Errorf("limit = %d, want default 50", store.lastLim)
	}
	r.Recent(admin, 9999)
	if store.lastLim != 50 {
		t.Errorf("limit = %d, want clamped to 50", store.lastLim)
	}
	r.Recent(admin, 100)
	if store.lastLim != 100 {
		t.Errorf("limit = %d, want passed through", store.lastLim)
	}
}
