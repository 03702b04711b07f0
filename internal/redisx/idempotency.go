package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// Idempotency remembers which order a buyer's Idempotency-Key produced.
type Idempotency struct{ RDB *redis.Client }

func (i *Idempotency) key(buyerID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, buyerID, key)
}

// Claim reserves key for this request. When claimed is false, orderID holds
// the order of an earlier finished request, or is empty while that request
// is still running.
func (i *Idempotency) Claim(ctx context.Context, buyerID, key string) (orderID string, claimed bool, err error) {
	k := i.key(buyerID, key)
	ok, err := i.RDB.SetNX(ctx, k, idemPending, TTLIdempotency).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) || v == idemPending {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, buyerID, key, orderID string) error {
	return i.RDB.Set(ctx, i.key(buyerID, key), orderID, TTLIdempotency).Err()
}

// Release forgets a claim whose request failed so the buyer can retry.
func (i *Idempotency) Release(ctx context.Context, buyerID, key string) error {
	return i.RDB.Del(ctx, i.key(buyerID, key)).Err()
}
