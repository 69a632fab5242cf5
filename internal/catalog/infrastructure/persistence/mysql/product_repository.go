// Package mysql 提供商品仓储的 GORM 实现
package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopkit/promoquoter/internal/catalog/domain"
	"github.com/shopkit/promoquoter/pkg/logger"
)

type productRepository struct{ db *gorm.DB }

// NewProductRepository 创建商品仓储实例
func NewProductRepository(db *gorm.DB) domain.ProductRepository {
	return &productRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *productRepository) WithTx(tx *gorm.DB) domain.ProductRepository {
	return &productRepository{db: tx}
}

func (r *productRepository) Save(ctx context.Context, product *domain.Product) error {
	if err := r.db.WithContext(ctx).Save(product).Error; err != nil {
		logger.Error(ctx, "product_repository.save failed", "product_id", product.ProductID, "error", err)
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (r *productRepository) GetByProductID(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "product_repository.get failed", "product_id", productID, "error", err)
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// GetByProductIDForUpdate 以 SELECT ... FOR UPDATE 获取商品。
// 行锁随外围事务提交或回滚自动释放。
func (r *productRepository) GetByProductIDForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "product_repository.get_for_update failed", "product_id", productID, "error", err)
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	return &p, nil
}

func (r *productRepository) List(ctx context.Context, category domain.Category, offset, limit int) ([]*domain.Product, int64, error) {
	var products []*domain.Product
	var total int64

	q := r.db.WithContext(ctx).Model(&domain.Product{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("id ASC").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}
