package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// NotifyChannel is the redis pub/sub channel used for realtime delivery.
const NotifyChannel = "stitchline:notifications"

// Notification is delivered to a single user.
type Notification struct {
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	RelatedID int64     `json:"related_id,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier persists notifications and publishes them on redis for
// connected clients. Like the activity sink it is best-effort.
type Notifier struct {
	pool   *pgxpool.Pool
	client *redis.Client
}

// NewNotifier constructs a Notifier. The redis client may be nil, in which
// case notifications are only persisted.
func NewNotifier(pool *pgxpool.Pool, client *redis.Client) *Notifier {
	return &Notifier{pool: pool, client: client}
}

// Notify stores the notification and publishes it.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if n == nil {
		return errors.New("notifier not initialised")
	}
	if note.UserID == 0 || note.Kind == "" {
		return errors.New("notification requires user and kind")
	}
	if note.At.IsZero() {
		note.At = time.Now().UTC()
	}
	_, err := n.pool.Exec(ctx, `INSERT INTO notifications (user_id, kind, message, related_id, created_at)
VALUES ($1, $2, $3, $4, $5)`, note.UserID, note.Kind, note.Message, nullID(note.RelatedID), note.At)
	if err != nil {
		return err
	}
	return n.Publish(ctx, note)
}

// Publish pushes the notification onto the redis channel without persisting
// it. No-op when the notifier runs without redis.
func (n *Notifier) Publish(ctx context.Context, note Notification) error {
	if n.client == nil {
		return nil
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, NotifyChannel, payload).Err()
}
