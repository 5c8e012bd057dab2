package orders

import "strconv"

const (
	TopicOrderPlaced  = "order.placed"
	TopicOrderStatus  = "order.status"
	TopicStockRestock = "inventory.restock"
)

// Partition key = order_id, so every event of one order keeps its ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// ProductKey partitions restock events per product.
func ProductKey(productID int64) []byte { return []byte(strconv.FormatInt(productID, 10)) }
