package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

type Notification struct {
	EventID string    `json:"event_id"`
	OrderID string    `json:"order_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Inbox keeps the latest InboxMax notifications per user.
type Inbox struct{ RDB *redis.Client }

func (i *Inbox) Push(ctx context.Context, userID string, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(KeyInbox, userID)
	_, err = i.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, string(b))
		p.LTrim(ctx, key, 0, InboxMax-1)
		p.Expire(ctx, key, TTLInbox)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

func (i *Inbox) List(ctx context.Context, userID string) ([]Notification, error) {
	raw, err := i.RDB.LRange(ctx, fmt.Sprintf(KeyInbox, userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]Notification, 0, len(raw))
	for _, s := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
