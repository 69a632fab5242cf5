// Package application 商品目录应用服务
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopkit/promoquoter/internal/catalog/domain"
	"github.com/shopkit/promoquoter/pkg/cache"
	"github.com/shopkit/promoquoter/pkg/logger"
)

const (
	productListCacheKeyPrefix = "catalog:products:"
	productListCacheTTL       = 30 * time.Second
)

// ProductEventOutbox 商品事件发布，tx 为 nil 时走默认连接
type ProductEventOutbox interface {
	EnqueueProductCreated(tx *gorm.DB, event domain.ProductCreatedEvent) error
}

// CatalogService 商品目录应用服务
type CatalogService struct {
	repo   domain.ProductRepository
	cache  *cache.RedisCache
	outbox ProductEventOutbox
}

// NewCatalogService 创建商品目录应用服务，cache 与 outbox 可为 nil
func NewCatalogService(repo domain.ProductRepository, c *cache.RedisCache, outbox ProductEventOutbox) *CatalogService {
	return &CatalogService{repo: repo, cache: c, outbox: outbox}
}

// CreateProductCommand 创建商品命令
type CreateProductCommand struct {
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int
}

// CreateProduct 创建商品并分配业务 ID
func (s *CatalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (*domain.Product, error) {
	category := domain.Category(cmd.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("invalid product category: %s", cmd.Category)
	}
	if cmd.Price.IsNegative() {
		return nil, fmt.Errorf("product price must not be negative")
	}
	if cmd.Stock < 0 {
		return nil, fmt.Errorf("product stock must not be negative")
	}

	p := &domain.Product{
		ProductID: uuid.New().String(),
		Name:      cmd.Name,
		Category:  category,
		Price:     cmd.Price,
		Stock:     cmd.Stock,
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}

	if s.outbox != nil {
		event := domain.ProductCreatedEvent{
			ProductID: p.ProductID,
			Name:      p.Name,
			Category:  string(p.Category),
			Price:     p.Price.String(),
			Stock:     p.Stock,
			Timestamp: time.Now(),
		}
		// 创建本身不在事务内，事件入队失败不回滚商品
		if err := s.outbox.EnqueueProductCreated(nil, event); err != nil {
			logger.Warn(ctx, "failed to enqueue product created event", "product_id", p.ProductID, "error", err)
		}
	}

	s.invalidateListCache(ctx)
	logger.Info(ctx, "product created", "product_id", p.ProductID, "category", p.Category)
	return p, nil
}

// GetProduct 按业务 ID 获取商品，不存在时返回 (nil, nil)
func (s *CatalogService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return s.repo.GetByProductID(ctx, productID)
}

// ProductPage 商品分页结果
type ProductPage struct {
	Products []*domain.Product `json:"products"`
	Total    int64             `json:"total"`
}

// ListProducts 按分类分页查询，短 TTL 缓存减轻热点读
func (s *CatalogService) ListProducts(ctx context.Context, category string, page, size int) (*ProductPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 50
	}

	key := fmt.Sprintf("%s%s:%d:%d", productListCacheKeyPrefix, category, page, size)
	if s.cache != nil {
		var cached ProductPage
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	products, total, err := s.repo.List(ctx, domain.Category(category), (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	result := &ProductPage{Products: products, Total: total}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, result, productListCacheTTL); err != nil {
			logger.Warn(ctx, "failed to cache product list", "key", key, "error", err)
		}
	}
	return result, nil
}

// invalidateListCache 商品写入后清理列表缓存。
// 按前缀逐类清理成本高，这里依赖短 TTL 让缓存自然过期，仅清理无分类首页。
func (s *CatalogService) invalidateListCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	key := fmt.Sprintf("%s%s:%d:%d", productListCacheKeyPrefix, "", 1, 50)
	if err := s.cache.Delete(ctx, key); err != nil {
		logger.Warn(ctx, "failed to invalidate product list cache", "error", err)
	}
}
