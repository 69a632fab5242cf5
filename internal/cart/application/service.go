package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopkit/promoquoter/internal/cart/domain"
	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
	orderdomain "github.com/shopkit/promoquoter/internal/order/domain"
	promodomain "github.com/shopkit/promoquoter/internal/promotion/domain"
	"github.com/shopkit/promoquoter/pkg/logger"
	"github.com/shopkit/promoquoter/pkg/metrics"
)

// ErrInvalidCustomerSegment 客户分层非法
var ErrInvalidCustomerSegment = errors.New("invalid customer segment")

// TxManager 事务执行器，fn 返回错误时整体回滚
type TxManager interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderEventOutbox 确认流程的事件发布，均在确认事务内写入
type OrderEventOutbox interface {
	EnqueueOrderConfirmed(tx *gorm.DB, event orderdomain.OrderConfirmedEvent) error
	EnqueueStockChanged(tx *gorm.DB, event catalogdomain.ProductStockChangedEvent) error
}

// OrderIDGenerator 订单号生成
type OrderIDGenerator interface {
	Next() string
}

// CartService 购物车应用服务。
// Quote 为只读定价；Confirm 作为单个原子事务完成
// 幂等检查、库存校验、定价、加锁扣减与订单落库。
type CartService struct {
	tx         TxManager
	products   catalogdomain.ProductRepository
	promotions promodomain.PromotionRepository
	orders     orderdomain.OrderRepository
	outbox     OrderEventOutbox
	orderIDs   OrderIDGenerator
	metrics    *metrics.Metrics

	confirmTimeout time.Duration
}

// NewCartService 创建购物车应用服务，outbox 与 metrics 可为 nil
func NewCartService(
	tx TxManager,
	products catalogdomain.ProductRepository,
	promotions promodomain.PromotionRepository,
	orders orderdomain.OrderRepository,
	outbox OrderEventOutbox,
	orderIDs OrderIDGenerator,
	m *metrics.Metrics,
	confirmTimeout time.Duration,
) *CartService {
	if confirmTimeout <= 0 {
		confirmTimeout = 30 * time.Second
	}
	return &CartService{
		tx:             tx,
		products:       products,
		promotions:     promotions,
		orders:         orders,
		outbox:         outbox,
		orderIDs:       orderIDs,
		metrics:        m,
		confirmTimeout: confirmTimeout,
	}
}

// Quote 计算报价，不产生任何副作用
func (s *CartService) Quote(ctx context.Context, cmd QuoteCommand) (*domain.QuoteResult, error) {
	if !orderdomain.CustomerSegment(cmd.CustomerSegment).Valid() {
		return nil, ErrInvalidCustomerSegment
	}

	lines, snapshots, err := s.resolveProducts(ctx, cmd.Items, s.products)
	if err != nil {
		return nil, err
	}

	promos, err := s.promotions.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	result, err := domain.CalculateQuote(lines, promos, snapshots)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.QuotesTotal.Inc()
	}
	return result, nil
}

// Confirm 确认购物车：幂等检查、库存预检、事务内重新定价、
// 逐商品加锁复检并扣减、订单落库。任一步失败则全部回滚。
// 返回值第二项表示结果是否来自幂等重放。
func (s *CartService) Confirm(ctx context.Context, cmd ConfirmCommand) (*ConfirmResult, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	if !orderdomain.CustomerSegment(cmd.CustomerSegment).Valid() {
		return nil, false, ErrInvalidCustomerSegment
	}

	// 幂等短路：同一键直接返回已存在的订单，不触碰库存
	if cmd.IdempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			logger.Info(ctx, "duplicate confirm request replayed", "order_id", existing.OrderID)
			if s.metrics != nil {
				s.metrics.ConfirmReplaysTotal.Inc()
			}
			return newConfirmResult(existing), true, nil
		}
	}

	start := time.Now()
	var created *orderdomain.Order

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		promotions := s.promotions.WithTx(tx)
		orders := s.orders.WithTx(tx)

		// 库存预检（乐观，不加锁），列出全部缺口
		lines, snapshots, err := s.resolveProducts(ctx, cmd.Items, products)
		if err != nil {
			return err
		}
		shortages := make([]domain.StockShortage, 0)
		for _, line := range lines {
			p := snapshots[line.ProductID]
			if !p.HasStock(line.Quantity) {
				shortages = append(shortages, domain.StockShortage{
					ProductID:   p.ProductID,
					ProductName: p.Name,
					Requested:   line.Quantity,
					Available:   p.Stock,
				})
			}
		}
		if len(shortages) > 0 {
			return &domain.InsufficientStockError{Shortages: shortages}
		}

		// 事务内重新定价，不信任此前 quote 调用的结果
		promos, err := promotions.ListActive(ctx)
		if err != nil {
			return err
		}
		quote, err := domain.CalculateQuote(lines, promos, snapshots)
		if err != nil {
			return err
		}

		// 加锁预留：按请求顺序逐商品持锁复检后扣减
		reservedAt := make([]time.Time, len(lines))
		stockChanges := make([]catalogdomain.ProductStockChangedEvent, 0, len(lines))
		for i, line := range lines {
			if line.Quantity <= 0 {
				reservedAt[i] = time.Now()
				continue
			}
			locked, err := products.GetByProductIDForUpdate(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if locked == nil {
				return &domain.ProductNotFoundError{ProductID: line.ProductID}
			}
			// 锁内复检：库存可能在预检与加锁之间被并发扣减
			if !locked.HasStock(line.Quantity) {
				return &domain.InsufficientStockError{Shortages: []domain.StockShortage{{
					ProductID:   locked.ProductID,
					ProductName: locked.Name,
					Requested:   line.Quantity,
					Available:   locked.Stock,
				}}}
			}
			oldStock := locked.Stock
			locked.Stock -= line.Quantity
			if err := products.Save(ctx, locked); err != nil {
				return err
			}
			reservedAt[i] = time.Now()
			stockChanges = append(stockChanges, catalogdomain.ProductStockChangedEvent{
				ProductID: locked.ProductID,
				OldStock:  oldStock,
				NewStock:  locked.Stock,
			})
			logger.Info(ctx, "stock reserved",
				"product_id", locked.ProductID,
				"quantity", line.Quantity,
				"old_stock", oldStock,
				"remaining", locked.Stock,
			)
		}

		// 订单落库，幂等键冲突由仓储归一后在事务外改查
		order := s.buildOrder(cmd, quote, reservedAt)
		if err := orders.Create(ctx, order); err != nil {
			return err
		}

		if s.outbox != nil {
			if err := s.outbox.EnqueueOrderConfirmed(tx, newOrderConfirmedEvent(order)); err != nil {
				return err
			}
			for _, change := range stockChanges {
				change.OrderID = order.OrderID
				change.Timestamp = time.Now()
				if err := s.outbox.EnqueueStockChanged(tx, change); err != nil {
					return err
				}
			}
		}

		created = order
		return nil
	})

	if err != nil {
		// 并发确认竞争同一幂等键：此事务已整体回滚（含库存扣减），
		// 改为返回先到者创建的订单
		if errors.Is(err, orderdomain.ErrDuplicateIdempotencyKey) && cmd.IdempotencyKey != "" {
			existing, lookupErr := s.orders.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if existing != nil {
				logger.Info(ctx, "idempotency race resolved to existing order", "order_id", existing.OrderID)
				if s.metrics != nil {
					s.metrics.ConfirmReplaysTotal.Inc()
				}
				return newConfirmResult(existing), true, nil
			}
		}
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) && s.metrics != nil {
			s.metrics.InsufficientStockTotal.Inc()
		}
		return nil, false, err
	}

	if s.metrics != nil {
		s.metrics.ConfirmsTotal.Inc()
		s.metrics.ConfirmDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info(ctx, "order confirmed", "order_id", created.OrderID, "final_total", created.FinalTotal)
	return newConfirmResult(created), false, nil
}

// GetOrder 按订单号查询确认结果，不存在时返回 (nil, nil)
func (s *CartService) GetOrder(ctx context.Context, orderID string) (*ConfirmResult, error) {
	order, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}
	return newConfirmResult(order), nil
}

// resolveProducts 校验商品 ID 并取快照。ID 非法或商品缺失时整体失败
func (s *CartService) resolveProducts(ctx context.Context, items []CartItemInput, repo catalogdomain.ProductRepository) ([]domain.CartLine, map[string]*catalogdomain.Product, error) {
	lines := make([]domain.CartLine, 0, len(items))
	snapshots := make(map[string]*catalogdomain.Product, len(items))

	for _, item := range items {
		if _, err := uuid.Parse(item.ProductID); err != nil {
			return nil, nil, &domain.InvalidIdentifierError{Raw: item.ProductID}
		}
		if _, seen := snapshots[item.ProductID]; !seen {
			p, err := repo.GetByProductID(ctx, item.ProductID)
			if err != nil {
				return nil, nil, err
			}
			if p == nil {
				return nil, nil, &domain.ProductNotFoundError{ProductID: item.ProductID}
			}
			snapshots[item.ProductID] = p
		}
		lines = append(lines, domain.CartLine{ProductID: item.ProductID, Quantity: item.Qty})
	}
	return lines, snapshots, nil
}

func (s *CartService) buildOrder(cmd ConfirmCommand, quote *domain.QuoteResult, reservedAt []time.Time) *orderdomain.Order {
	items := make([]orderdomain.OrderItem, 0, len(quote.LineItems))
	for i, li := range quote.LineItems {
		items = append(items, orderdomain.OrderItem{
			ProductID:      li.ProductID,
			ProductName:    li.ProductName,
			Quantity:       li.Quantity,
			UnitPrice:      li.UnitPrice,
			LineTotal:      li.LineTotal,
			DiscountAmount: li.DiscountAmount,
			FinalLineTotal: li.FinalLineTotal,
			ReservedAt:     reservedAt[i],
		})
	}

	promos := make([]orderdomain.OrderPromotion, 0, len(quote.AppliedPromotions))
	for _, ap := range quote.AppliedPromotions {
		promoID := ap.PromotionID
		promos = append(promos, orderdomain.OrderPromotion{
			PromotionID:    &promoID,
			PromotionType:  ap.PromotionType,
			Description:    ap.Description,
			DiscountAmount: ap.DiscountAmount,
		})
	}

	var idemKey *string
	if cmd.IdempotencyKey != "" {
		idemKey = &cmd.IdempotencyKey
	}

	return &orderdomain.Order{
		OrderID:         s.orderIDs.Next(),
		IdempotencyKey:  idemKey,
		CustomerSegment: orderdomain.CustomerSegment(cmd.CustomerSegment),
		Subtotal:        quote.Subtotal,
		TotalDiscount:   quote.TotalDiscount,
		FinalTotal:      quote.FinalTotal,
		Status:          orderdomain.StatusConfirmed,
		Items:           items,
		Promotions:      promos,
	}
}

func newOrderConfirmedEvent(order *orderdomain.Order) orderdomain.OrderConfirmedEvent {
	items := make([]orderdomain.OrderItemEvent, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, orderdomain.OrderItemEvent{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return orderdomain.OrderConfirmedEvent{
		OrderID:         order.OrderID,
		CustomerSegment: string(order.CustomerSegment),
		Subtotal:        order.Subtotal.String(),
		TotalDiscount:   order.TotalDiscount.String(),
		FinalTotal:      order.FinalTotal.String(),
		Items:           items,
		Timestamp:       time.Now(),
	}
}
