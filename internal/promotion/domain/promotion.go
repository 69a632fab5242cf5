// Package domain 包含促销规则的领域模型
package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
)

// Type 促销类型判别值
type Type string

const (
	TypePercentOffCategory Type = "PERCENT_OFF_CATEGORY"
	TypeBuyXGetY           Type = "BUY_X_GET_Y"
)

// Valid 类型是否合法
func (t Type) Valid() bool {
	return t == TypePercentOffCategory || t == TypeBuyXGetY
}

// Promotion 促销规则实体，单表存储两种变体。
// Type 为判别字段，两类变体各自使用一组字段：
//   - PERCENT_OFF_CATEGORY: Category + PercentOff
//   - BUY_X_GET_Y:          ProductID + BuyX + GetY
//
// 规则创建后不可变，应用顺序以创建顺序（自增主键）为准。
type Promotion struct {
	gorm.Model
	PromotionID string `gorm:"column:promotion_id;type:varchar(36);uniqueIndex;not null" json:"promotion_id"`
	Type        Type   `gorm:"column:promotion_type;type:varchar(30);index;not null" json:"promotion_type"`
	Description string `gorm:"column:description;type:varchar(255);not null" json:"description"`

	Category   catalogdomain.Category `gorm:"column:category;type:varchar(20);index" json:"category,omitempty"`
	PercentOff decimal.Decimal        `gorm:"column:percent_off;type:decimal(5,2)" json:"percent_off,omitempty"`

	ProductID string `gorm:"column:product_id;type:varchar(36);index" json:"product_id,omitempty"`
	BuyX      int    `gorm:"column:buy_x" json:"buy_x,omitempty"`
	GetY      int    `gorm:"column:get_y" json:"get_y,omitempty"`
}

// TableName 指定表名
func (Promotion) TableName() string { return "promotions" }

// PromotionRepository 促销仓储接口
type PromotionRepository interface {
	// Save 保存促销规则
	Save(ctx context.Context, promo *Promotion) error
	// ListActive 返回全部生效规则，按创建顺序稳定排序
	ListActive(ctx context.Context) ([]*Promotion, error)
	// ExistsByCategory 分类上是否已有 PERCENT_OFF_CATEGORY 规则
	ExistsByCategory(ctx context.Context, category catalogdomain.Category) (bool, error)
	// ExistsByProductID 商品上是否已有 BUY_X_GET_Y 规则
	ExistsByProductID(ctx context.Context, productID string) (bool, error)
	// WithTx 返回绑定到指定事务的仓储
	WithTx(tx *gorm.DB) PromotionRepository
}
