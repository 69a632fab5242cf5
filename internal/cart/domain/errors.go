// Package domain 购物车定价核心：错误分类与报价计算
package domain

import (
	"fmt"
	"strings"
)

// ProductNotFoundError 引用的商品在目录中不存在，整个报价/确认中止
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

// InvalidIdentifierError 商品 ID 格式非法
type InvalidIdentifierError struct {
	Raw string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid product id: %s", e.Raw)
}

// StockShortage 单个商品的缺口明细
type StockShortage struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

// InsufficientStockError 一个或多个商品库存不足。
// Shortages 列出全部不满足的条目，而非只报告第一个。
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested: %d, available: %d)", s.ProductName, s.Requested, s.Available))
	}
	return "insufficient stock for items: " + strings.Join(parts, ", ")
}
