// Package application 购物车应用服务：报价与确认
package application

import (
	"time"

	"github.com/shopspring/decimal"

	orderdomain "github.com/shopkit/promoquoter/internal/order/domain"
)

// CartItemInput 请求中的购物车条目
type CartItemInput struct {
	ProductID string
	Qty       int
}

// QuoteCommand 报价命令
type QuoteCommand struct {
	Items           []CartItemInput
	CustomerSegment string
}

// ConfirmCommand 确认命令，幂等键来自 Idempotency-Key 请求头
type ConfirmCommand struct {
	Items           []CartItemInput
	CustomerSegment string
	IdempotencyKey  string
}

// ReservedItemView 确认响应中的预留条目
type ReservedItemView struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	ReservedAt  time.Time       `json:"reservedAt"`
}

// AppliedPromotionView 确认响应中的促销快照
type AppliedPromotionView struct {
	PromotionID    *string         `json:"promotionId"`
	PromotionType  string          `json:"promotionType"`
	Description    string          `json:"description"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

// ConfirmResult 确认结果视图。
// 重放同一幂等键时由同一订单快照构造，保证逐字节一致。
type ConfirmResult struct {
	OrderID           string                 `json:"orderId"`
	FinalTotal        decimal.Decimal        `json:"finalTotal"`
	Status            string                 `json:"status"`
	ReservedItems     []ReservedItemView     `json:"reservedItems"`
	AppliedPromotions []AppliedPromotionView `json:"appliedPromotions"`
	CreatedAt         time.Time              `json:"createdAt"`
}

// newConfirmResult 由持久化订单构造确认视图，首建与重放共用
func newConfirmResult(order *orderdomain.Order) *ConfirmResult {
	items := make([]ReservedItemView, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, ReservedItemView{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			ReservedAt:  it.ReservedAt,
		})
	}

	promos := make([]AppliedPromotionView, 0, len(order.Promotions))
	for _, p := range order.Promotions {
		promos = append(promos, AppliedPromotionView{
			PromotionID:    p.PromotionID,
			PromotionType:  p.PromotionType,
			Description:    p.Description,
			DiscountAmount: p.DiscountAmount,
		})
	}

	return &ConfirmResult{
		OrderID:           order.OrderID,
		FinalTotal:        order.FinalTotal,
		Status:            string(order.Status),
		ReservedItems:     items,
		AppliedPromotions: promos,
		CreatedAt:         order.CreatedAt,
	}
}
