package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"sort"
	"strconv"
	"strings"
)

// CartEntry is one line of a stored cart.
type CartEntry struct {
	ProductID string
	Size      string
	Quantity  int
}

// Carts reads and clears the per-user cart hash kept by the session service.
type Carts struct{ RDB *redis.Client }

func (c *Carts) Get(ctx context.Context, userID string) ([]CartEntry, error) {
	fields, err := c.RDB.HGetAll(ctx, fmt.Sprintf(KeyCart, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	out := make([]CartEntry, 0, len(fields))
	for field, v := range fields {
		qty, err := strconv.Atoi(v)
		if err != nil || qty <= 0 {
			continue
		}
		pid, size, _ := strings.Cut(field, "|")
		out = append(out, CartEntry{ProductID: pid, Size: size, Quantity: qty})
	}
	// hash order is random; keep line items stable
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Size < out[j].Size
	})
	return out, nil
}

func (c *Carts) ClearCart(ctx context.Context, userID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyCart, userID)).Err()
}
