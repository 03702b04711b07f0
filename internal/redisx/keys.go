package redisx

import "time"

const (
	// idem:order:create:{buyer_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// dedup:{scope}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// cart:{user_id} hash, field "{product_id}|{size}" -> qty
	KeyCart = "cart:%s"

	// notifications:{user_id} list, newest first
	KeyInbox = "notifications:%s"

	// catalog:product:{product_id} -> product json
	KeyCatalogProduct = "catalog:product:%s"
)

const InboxMax = 50

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
	TTLInbox       = 30 * 24 * time.Hour
)
