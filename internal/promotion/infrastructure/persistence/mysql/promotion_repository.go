// Package mysql 提供促销仓储的 GORM 实现
package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
	"github.com/shopkit/promoquoter/internal/promotion/domain"
	"github.com/shopkit/promoquoter/pkg/logger"
)

type promotionRepository struct{ db *gorm.DB }

// NewPromotionRepository 创建促销仓储实例
func NewPromotionRepository(db *gorm.DB) domain.PromotionRepository {
	return &promotionRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *promotionRepository) WithTx(tx *gorm.DB) domain.PromotionRepository {
	return &promotionRepository{db: tx}
}

func (r *promotionRepository) Save(ctx context.Context, promo *domain.Promotion) error {
	if err := r.db.WithContext(ctx).Create(promo).Error; err != nil {
		logger.Error(ctx, "promotion_repository.save failed", "promotion_id", promo.PromotionID, "error", err)
		return fmt.Errorf("failed to save promotion: %w", err)
	}
	return nil
}

// ListActive 按主键升序返回，保证报价的可重现性
func (r *promotionRepository) ListActive(ctx context.Context) ([]*domain.Promotion, error) {
	var promos []*domain.Promotion
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&promos).Error; err != nil {
		logger.Error(ctx, "promotion_repository.list failed", "error", err)
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	return promos, nil
}

func (r *promotionRepository) ExistsByCategory(ctx context.Context, category catalogdomain.Category) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Promotion{}).
		Where("promotion_type = ? AND category = ?", domain.TypePercentOffCategory, category).
		Count(&count).Error
	return count > 0, err
}

func (r *promotionRepository) ExistsByProductID(ctx context.Context, productID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Promotion{}).
		Where("promotion_type = ? AND product_id = ?", domain.TypeBuyXGetY, productID).
		Count(&count).Error
	return count > 0, err
}
