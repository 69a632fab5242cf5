package domain

import "time"

// ProductCreatedEvent 商品创建事件
type ProductCreatedEvent struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     string    `json:"price"`
	Stock     int       `json:"stock"`
	Timestamp time.Time `json:"timestamp"`
}

// ProductStockChangedEvent 商品库存变更事件
type ProductStockChangedEvent struct {
	ProductID string    `json:"product_id"`
	OldStock  int       `json:"old_stock"`
	NewStock  int       `json:"new_stock"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
