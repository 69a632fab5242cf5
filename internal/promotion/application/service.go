// Package application 促销规则应用服务
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
	"github.com/shopkit/promoquoter/internal/promotion/domain"
	"github.com/shopkit/promoquoter/pkg/logger"
)

// 创建校验失败的分类错误
var (
	// ErrCategoryTaken 分类上已有百分比折扣规则
	ErrCategoryTaken = errors.New("promotion category already exists")
	// ErrProductTaken 商品上已有买赠规则
	ErrProductTaken = errors.New("promotion for product already exists")
	// ErrProductMissing 买赠规则指向的商品不存在
	ErrProductMissing = errors.New("product not found")
)

// PromotionService 促销规则应用服务
type PromotionService struct {
	repo     domain.PromotionRepository
	products catalogdomain.ProductRepository
}

// NewPromotionService 创建促销应用服务
func NewPromotionService(repo domain.PromotionRepository, products catalogdomain.ProductRepository) *PromotionService {
	return &PromotionService{repo: repo, products: products}
}

// CreatePromotionCommand 创建促销命令
type CreatePromotionCommand struct {
	Type        string
	Description string
	Category    string
	PercentOff  decimal.Decimal
	ProductID   string
	BuyX        int
	GetY        int
}

// CreatePromotion 创建促销规则。
// 同一分类至多一条百分比规则，同一商品至多一条买赠规则。
func (s *PromotionService) CreatePromotion(ctx context.Context, cmd CreatePromotionCommand) (*domain.Promotion, error) {
	promoType := domain.Type(cmd.Type)
	if !promoType.Valid() {
		return nil, fmt.Errorf("invalid promotion type: %s", cmd.Type)
	}
	if cmd.Description == "" {
		return nil, fmt.Errorf("promotion description is required")
	}

	promo := &domain.Promotion{
		PromotionID: uuid.New().String(),
		Type:        promoType,
		Description: cmd.Description,
	}

	switch promoType {
	case domain.TypePercentOffCategory:
		category := catalogdomain.Category(cmd.Category)
		if !category.Valid() {
			return nil, fmt.Errorf("invalid promotion category: %s", cmd.Category)
		}
		if cmd.PercentOff.IsNegative() || cmd.PercentOff.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("percent_off must be within [0,100]")
		}
		taken, err := s.repo.ExistsByCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrCategoryTaken
		}
		promo.Category = category
		promo.PercentOff = cmd.PercentOff

	case domain.TypeBuyXGetY:
		if _, err := uuid.Parse(cmd.ProductID); err != nil {
			return nil, fmt.Errorf("invalid product id: %s", cmd.ProductID)
		}
		if cmd.BuyX < 1 || cmd.GetY < 1 {
			return nil, fmt.Errorf("buy_x and get_y must be at least 1")
		}
		product, err := s.products.GetByProductID(ctx, cmd.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, ErrProductMissing
		}
		taken, err := s.repo.ExistsByProductID(ctx, cmd.ProductID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrProductTaken
		}
		promo.ProductID = cmd.ProductID
		promo.BuyX = cmd.BuyX
		promo.GetY = cmd.GetY
	}

	if err := s.repo.Save(ctx, promo); err != nil {
		return nil, err
	}

	logger.Info(ctx, "promotion created", "promotion_id", promo.PromotionID, "type", promo.Type)
	return promo, nil
}

// ListPromotions 返回全部生效规则
func (s *PromotionService) ListPromotions(ctx context.Context) ([]*domain.Promotion, error) {
	return s.repo.ListActive(ctx)
}
