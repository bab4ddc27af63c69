package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityAction enumerates activity log action types.
type ActivityAction string

const (
	ActivityCreate ActivityAction = "create"
	ActivityUpdate ActivityAction = "update"
	ActivityDelete ActivityAction = "delete"
	ActivityError  ActivityAction = "error"
)

// Activity represents a record stored in activity_logs. One record is
// written per completed operation, including failed ones.
type Activity struct {
	UserID      int64
	Action      ActivityAction
	Module      string
	Description string
	EntityID    int64
	At          time.Time
}

// ActivityLogger writes records into activity_logs. It is a best-effort
// sink: callers must never roll back the primary operation when Record
// fails.
type ActivityLogger struct {
	pool *pgxpool.Pool
}

// NewActivityLogger returns a new ActivityLogger.
func NewActivityLogger(pool *pgxpool.Pool) *ActivityLogger {
	return &ActivityLogger{pool: pool}
}

// Record persists the activity entry.
func (l *ActivityLogger) Record(ctx context.Context, act Activity) error {
	if l == nil {
		return errors.New("activity logger not initialised")
	}
	if act.Action == "" || act.Module == "" {
		return errors.New("activity log requires action and module")
	}
	at := act.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO activity_logs (user_id, action_type, module, description, entity_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, act.UserID, string(act.Action), act.Module, act.Description, nullID(act.EntityID), at)
	return err
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
