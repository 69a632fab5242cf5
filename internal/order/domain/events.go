package domain

import "time"

// OrderConfirmedEvent 订单确认事件，经 outbox 发往 Kafka
type OrderConfirmedEvent struct {
	OrderID         string             `json:"order_id"`
	CustomerSegment string             `json:"customer_segment"`
	Subtotal        string             `json:"subtotal"`
	TotalDiscount   string             `json:"total_discount"`
	FinalTotal      string             `json:"final_total"`
	Items           []OrderItemEvent   `json:"items"`
	Timestamp       time.Time          `json:"timestamp"`
}

// OrderItemEvent 订单确认事件中的行项目
type OrderItemEvent struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
