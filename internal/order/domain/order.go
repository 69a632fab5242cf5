// Package domain 包含订单的领域模型
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrDuplicateIdempotencyKey 幂等键唯一约束冲突。
// 并发确认竞争同一键时由仓储返回，上层回滚后改查已存在的订单，不对外暴露。
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

// Status 订单状态
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusPending   Status = "PENDING"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// CustomerSegment 客户分层
type CustomerSegment string

const (
	SegmentRegular CustomerSegment = "REGULAR"
	SegmentPremium CustomerSegment = "PREMIUM"
	SegmentVIP     CustomerSegment = "VIP"
)

// Valid 分层是否合法
func (s CustomerSegment) Valid() bool {
	switch s {
	case SegmentRegular, SegmentPremium, SegmentVIP:
		return true
	}
	return false
}

// Order 订单聚合根。
// 行项目与促销均为定价时刻的快照，订单创建后不再变更。
type Order struct {
	gorm.Model
	OrderID         string          `gorm:"column:order_id;type:varchar(40);uniqueIndex;not null" json:"order_id"`
	IdempotencyKey  *string         `gorm:"column:idempotency_key;type:varchar(128);uniqueIndex" json:"idempotency_key,omitempty"`
	CustomerSegment CustomerSegment `gorm:"column:customer_segment;type:varchar(20);not null" json:"customer_segment"`
	Subtotal        decimal.Decimal `gorm:"column:subtotal;type:decimal(20,2);not null" json:"subtotal"`
	TotalDiscount   decimal.Decimal `gorm:"column:total_discount;type:decimal(20,2);not null" json:"total_discount"`
	FinalTotal      decimal.Decimal `gorm:"column:final_total;type:decimal(20,2);not null" json:"final_total"`
	Status          Status          `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	Items           []OrderItem     `gorm:"foreignKey:OrderRef" json:"items"`
	Promotions      []OrderPromotion `gorm:"foreignKey:OrderRef" json:"promotions"`
}

// TableName 指定表名
func (Order) TableName() string { return "orders" }

// OrderItem 订单行项目快照，隔离后续商品价格/库存变化
type OrderItem struct {
	gorm.Model
	OrderRef       uint            `gorm:"column:order_ref;index;not null" json:"-"`
	ProductID      string          `gorm:"column:product_id;type:varchar(36);not null" json:"product_id"`
	ProductName    string          `gorm:"column:product_name;type:varchar(255);not null" json:"product_name"`
	Quantity       int             `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"column:unit_price;type:decimal(20,2);not null" json:"unit_price"`
	LineTotal      decimal.Decimal `gorm:"column:line_total;type:decimal(20,2);not null" json:"line_total"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:decimal(20,2);not null" json:"discount_amount"`
	FinalLineTotal decimal.Decimal `gorm:"column:final_line_total;type:decimal(20,2);not null" json:"final_line_total"`
	ReservedAt     time.Time       `gorm:"column:reserved_at;not null" json:"reserved_at"`
}

// TableName 指定表名
func (OrderItem) TableName() string { return "order_items" }

// OrderPromotion 订单促销快照。
// PromotionID 可为空：促销规则之后被删除时快照仍然完整。
type OrderPromotion struct {
	gorm.Model
	OrderRef       uint            `gorm:"column:order_ref;index;not null" json:"-"`
	PromotionID    *string         `gorm:"column:promotion_id;type:varchar(36)" json:"promotion_id,omitempty"`
	PromotionType  string          `gorm:"column:promotion_type;type:varchar(30);not null" json:"promotion_type"`
	Description    string          `gorm:"column:description;type:varchar(255);not null" json:"description"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:decimal(20,2);not null" json:"discount_amount"`
}

// TableName 指定表名
func (OrderPromotion) TableName() string { return "order_promotions" }

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Create 插入订单及其关联快照。
	// 幂等键冲突时返回 ErrDuplicateIdempotencyKey，调用方负责回滚并改查。
	Create(ctx context.Context, order *Order) error
	// FindByIdempotencyKey 按幂等键查询订单，不存在时返回 (nil, nil)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// FindByOrderID 按订单号查询订单，不存在时返回 (nil, nil)
	FindByOrderID(ctx context.Context, orderID string) (*Order, error)
	// WithTx 返回绑定到指定事务的仓储
	WithTx(tx *gorm.DB) OrderRepository
}
