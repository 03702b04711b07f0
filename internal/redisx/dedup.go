package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per scope. Mark only after the event
// was handled, so a failed attempt is retried.
type Dedup struct {
	RDB   *redis.Client
	Scope string
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Scope, id) }

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.RDB, d.key(id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.RDB.Set(ctx, d.key(id), "1", TTLDedup).Err()
}
