package orders

// All order lifecycle events share one topic so the partition key keeps them in order.
const TopicOrderEvents = "orders.events"

// Partition key = order_id, so every event of one order stays ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
