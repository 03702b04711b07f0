package orders

const (
	TopicLifecycle     = "orders.lifecycle"
	TopicNotifications = "orders.notifications"
)

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
