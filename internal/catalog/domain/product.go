// Package domain 包含商品目录的领域模型
package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Category 商品分类
type Category string

const (
	CategoryElectronics Category = "ELECTRONICS"
	CategoryClothing    Category = "CLOTHING"
	CategoryBooks       Category = "BOOKS"
)

// Valid 分类是否合法
func (c Category) Valid() bool {
	switch c {
	case CategoryElectronics, CategoryClothing, CategoryBooks:
		return true
	}
	return false
}

// Product 商品实体
// 库存只在确认流程的锁定段内被扣减
type Product struct {
	gorm.Model
	ProductID string          `gorm:"column:product_id;type:varchar(36);uniqueIndex;not null" json:"product_id"`
	Name      string          `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Category  Category        `gorm:"column:category;type:varchar(20);index;not null" json:"category"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(20,2);not null" json:"price"`
	Stock     int             `gorm:"column:stock;not null;default:0" json:"stock"`
}

// TableName 指定表名
func (Product) TableName() string { return "products" }

// HasStock 库存是否满足请求数量
func (p *Product) HasStock(qty int) bool {
	return p.Stock >= qty
}

// ProductRepository 商品仓储接口
type ProductRepository interface {
	// Save 保存或更新商品
	Save(ctx context.Context, product *Product) error
	// GetByProductID 根据业务 ID 获取商品，不存在时返回 (nil, nil)
	GetByProductID(ctx context.Context, productID string) (*Product, error)
	// GetByProductIDForUpdate 获取商品并持有排他行锁，须在事务内调用
	GetByProductIDForUpdate(ctx context.Context, productID string) (*Product, error)
	// List 按分类分页查询
	List(ctx context.Context, category Category, offset, limit int) ([]*Product, int64, error)
	// WithTx 返回绑定到指定事务的仓储
	WithTx(tx *gorm.DB) ProductRepository
}
