package orders

const (
	TopicOrderCreated     = "order.created"
	TopicLowStock         = "inventory.low_stock"
	TopicRestockRequested = "inventory.restock"
)

// Partition key = order_id (atau product_id untuk event inventory), supaya
// semua event 1 entity maintain urutan.
func PartitionKey(id string) []byte { return []byte(id) }
