// Package mysql 提供订单仓储的 GORM 实现
package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/shopkit/promoquoter/internal/order/domain"
	"github.com/shopkit/promoquoter/pkg/logger"
)

type orderRepository struct{ db *gorm.DB }

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &orderRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *orderRepository) WithTx(tx *gorm.DB) domain.OrderRepository {
	return &orderRepository{db: tx}
}

// Create 插入订单及关联快照。
// idempotency_key 唯一索引冲突被归一为 ErrDuplicateIdempotencyKey，
// 上层据此回滚整个确认事务并改查已存在的订单。
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateIdempotencyKey
		}
		logger.Error(ctx, "order_repository.create failed", "order_id", order.OrderID, "error", err)
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Promotions").
		Where("idempotency_key = ?", key).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "order_repository.find_by_idempotency_key failed", "error", err)
		return nil, fmt.Errorf("failed to find order by idempotency key: %w", err)
	}
	return &order, nil
}

func (r *orderRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Promotions").
		Where("order_id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "order_repository.find_by_order_id failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}
