// ABOUTME: Activity model and the ActivityStore interface
// ABOUTME: Shared by the SQLite store and the in-memory mock

package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidActivity is returned when an activity is missing its action.
var ErrInvalidActivity = errors.New("invalid activity")

// ActivityItem is the per-item result of a batch action such as destroy.
type ActivityItem struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Activity is one finished lifecycle action.
type Activity struct {
	ID        string
	SessionID string
	Principal string
	Action    string
	OK        bool
	Message   string
	Resource  string
	Items     []ActivityItem
	StartedAt time.Time
	Duration  time.Duration
}

// ActivityFilter narrows ListActivity. Zero values match everything.
type ActivityFilter struct {
	Action    string
	SessionID string
	Limit     int // defaults to 100, capped at 1000
}

// ActivityStore records and lists activity.
type ActivityStore interface {
	AppendActivity(ctx context.Context, a *Activity) error
	ListActivity(ctx context.Context, f ActivityFilter) ([]Activity, error)
	Close() error
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
