// ABOUTME: Append and list operations for the activity trail
// ABOUTME: Rows are immutable once written; listing is newest first

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendActivity writes a new activity row. ID and StartedAt are filled in
// when empty.
func (s *SQLiteStore) AppendActivity(ctx context.Context, a *Activity) error {
	if err := prepareActivity(a); err != nil {
		return err
	}

	items, err := json.Marshal(a.Items)
	if err != nil {
		return fmt.Errorf("marshaling activity items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity (id, session_id, principal, action, ok, message, resource, items_json, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.SessionID, a.Principal, a.Action, a.OK, a.Message, a.Resource,
		string(items), a.StartedAt.UTC().Format(time.RFC3339Nano), a.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

const activityQuery = `
	SELECT id, session_id, principal, action, ok, message, resource, items_json, started_at, duration_ms
	FROM activity
	WHERE (? = '' OR action = ?)
	  AND (? = '' OR session_id = ?)
	ORDER BY started_at DESC
	LIMIT ?
`

// ListActivity returns activity matching the filter, newest first.
func (s *SQLiteStore) ListActivity(ctx context.Context, f ActivityFilter) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, activityQuery,
		f.Action, f.Action,
		f.SessionID, f.SessionID,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (Activity, error) {
	var (
		a          Activity
		items      string
		startedAt  string
		durationMS int64
	)
	if err := row.Scan(&a.ID, &a.SessionID, &a.Principal, &a.Action, &a.OK, &a.Message,
		&a.Resource, &items, &startedAt, &durationMS); err != nil {
		return Activity{}, fmt.Errorf("scanning activity: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Activity{}, fmt.Errorf("parsing started_at: %w", err)
	}
	a.StartedAt = t
	a.Duration = time.Duration(durationMS) * time.Millisecond

	if items != "" {
		if err := json.Unmarshal([]byte(items), &a.Items); err != nil {
			return Activity{}, fmt.Errorf("unmarshaling activity items: %w", err)
		}
	}
	return a, nil
}

func prepareActivity(a *Activity) error {
	if a == nil || a.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidActivity)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}
	return nil
}
