package shared

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversOnChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, NotifyChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	notifier := NewNotifier(nil, client)
	note := Notification{
		UserID:    7,
		Kind:      "low_stock",
		Message:   "Cotton drill fabric is low on stock",
		RelatedID: 3,
		At:        time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, notifier.Publish(ctx, note))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, NotifyChannel, msg.Channel)

	var got Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, note, got)
}

func TestPublishWithoutRedisIsNoop(t *testing.T) {
	notifier := NewNotifier(nil, nil)
	require.NoError(t, notifier.Publish(context.Background(), Notification{UserID: 1, Kind: "x"}))
}

func TestNotifyRejectsIncompleteNotification(t *testing.T) {
	notifier := NewNotifier(nil, nil)
	err := notifier.Notify(context.Background(), Notification{Kind: "low_stock"})
	require.Error(t, err)
	err = notifier.Notify(context.Background(), Notification{UserID: 4})
	require.Error(t, err)
}
