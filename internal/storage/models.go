package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User roles. Admins implicitly see every category; analysts see only
// their granted subset.
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
)

type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Role          string    `json:"role"` // "admin" | "analyst"
	IsActive      bool      `json:"is_active"`
	AccessVersion int64     `json:"access_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Review is one (review x category) row produced by the ingest cleaner.
// A source review listing three categories yields three rows.
type Review struct {
	ID          int64
	ProductID   string
	ProductName string
	Category    string
	Rating      float64
	ReviewDate  time.Time
	ReviewTitle string
	ReviewText  string
}

type Conversation struct {
	ID        string
	UserID    int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trace is one append-only audit row per pipeline turn. Never updated or
// deleted after insert.
type Trace struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	UserID          int64     `json:"user_id"`
	UserQuery       string    `json:"user_query"`
	DecisionJSON    string    `json:"decision_json"`
	Verdict         string    `json:"verdict"` // "validated" | "rejected" | "failed"
	RejectionReason string    `json:"rejection_reason,omitempty"`
	CallJSON        string    `json:"call_json"`
	ResultJSON      string    `json:"result_json"`
	Answer          string    `json:"answer"`
	IsFallback      bool      `json:"is_fallback"`
	CreatedAt       time.Time `json:"created_at"`
}

/// Turn is the user-visible slice of a trace: what was asked and what was
// answered, without the routing internals.
type Turn struct {
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	IsFallback bool      `json:"is_fallback"`
	CreatedAt  time.Time `json:"created_at"`
}

// CategoryAggregate holds raw per-category accumulators from which metrics
// are derived. Sums stay unrounded until display time.
type CategoryAggregate struct {
	Category    string
	ReviewCount int64
	RatingSum   float64
	Promoters   int64 // rating >= 4
	Detractors  int64 // rating <= 2
}

// RatingBucket is one rating value and its review count.
type RatingBucket struct {
	Rating float64 `json:"rating"`
	Count  int64   `json:"count"`
}

// SentimentRow is one cached sentiment verdict keyed by the hash of the
// normalized review text.
type SentimentRow struct {
	TextHash    string
	Model       string
	Sentiment   string // positive | negative | neutral
	ReasonsJSON string
	LatencyMs   int64
	CreatedAt   time.Time
}
