package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopkit/promoquoter/internal/cart/domain"
	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
	orderdomain "github.com/shopkit/promoquoter/internal/order/domain"
	promodomain "github.com/shopkit/promoquoter/internal/promotion/domain"
)

const (
	laptopID = "550e8400-e29b-41d4-a716-446655440000"
	shirtID  = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeProductRepo 内存商品仓储。读操作返回副本，Save 写回副本，
// 模拟数据库行与内存对象的隔离。
type fakeProductRepo struct {
	byID map[string]*catalogdomain.Product
}

func newFakeProductRepo(products ...*catalogdomain.Product) *fakeProductRepo {
	r := &fakeProductRepo{byID: make(map[string]*catalogdomain.Product)}
	for _, p := range products {
		cp := *p
		r.byID[p.ProductID] = &cp
	}
	return r
}

func (r *fakeProductRepo) Save(_ context.Context, product *catalogdomain.Product) error {
	cp := *product
	r.byID[product.ProductID] = &cp
	return nil
}

func (r *fakeProductRepo) GetByProductID(_ context.Context, productID string) (*catalogdomain.Product, error) {
	p, ok := r.byID[productID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProductRepo) GetByProductIDForUpdate(ctx context.Context, productID string) (*catalogdomain.Product, error) {
	return r.GetByProductID(ctx, productID)
}

func (r *fakeProductRepo) List(_ context.Context, _ catalogdomain.Category, _, _ int) ([]*catalogdomain.Product, int64, error) {
	out := make([]*catalogdomain.Product, 0, len(r.byID))
	for _, p := range r.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (r *fakeProductRepo) WithTx(_ *gorm.DB) catalogdomain.ProductRepository { return r }

func (r *fakeProductRepo) stock(productID string) int { return r.byID[productID].Stock }

type fakePromotionRepo struct {
	promos []*promodomain.Promotion
}

func (r *fakePromotionRepo) Save(_ context.Context, promo *promodomain.Promotion) error {
	r.promos = append(r.promos, promo)
	return nil
}

func (r *fakePromotionRepo) ListActive(_ context.Context) ([]*promodomain.Promotion, error) {
	return r.promos, nil
}

func (r *fakePromotionRepo) ExistsByCategory(_ context.Context, category catalogdomain.Category) (bool, error) {
	for _, p := range r.promos {
		if p.Type == promodomain.TypePercentOffCategory && p.Category == category {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePromotionRepo) ExistsByProductID(_ context.Context, productID string) (bool, error) {
	for _, p := range r.promos {
		if p.Type == promodomain.TypeBuyXGetY && p.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePromotionRepo) WithTx(_ *gorm.DB) promodomain.PromotionRepository { return r }

// fakeOrderRepo 内存订单仓储，按唯一幂等键约束返回冲突。
// race 非空时模拟并发确认：预检查不到该订单，Create 报键冲突，
// 事后改查返回它。
type fakeOrderRepo struct {
	orders []*orderdomain.Order

	race        *orderdomain.Order
	raceLookups int
}

func (r *fakeOrderRepo) Create(_ context.Context, order *orderdomain.Order) error {
	if order.IdempotencyKey != nil {
		if r.race != nil && r.race.IdempotencyKey != nil && *r.race.IdempotencyKey == *order.IdempotencyKey {
			return orderdomain.ErrDuplicateIdempotencyKey
		}
		for _, existing := range r.orders {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *order.IdempotencyKey {
				return orderdomain.ErrDuplicateIdempotencyKey
			}
		}
	}
	r.orders = append(r.orders, order)
	return nil
}

func (r *fakeOrderRepo) FindByIdempotencyKey(_ context.Context, key string) (*orderdomain.Order, error) {
	if r.race != nil && r.race.IdempotencyKey != nil && *r.race.IdempotencyKey == key {
		// 第一次查询发生在并发方提交之前
		if r.raceLookups == 0 {
			r.raceLookups++
			return nil, nil
		}
		return r.race, nil
	}
	for _, o := range r.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) FindByOrderID(_ context.Context, orderID string) (*orderdomain.Order, error) {
	for _, o := range r.orders {
		if o.OrderID == orderID {
			return o, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) WithTx(_ *gorm.DB) orderdomain.OrderRepository { return r }

// fakeTxManager 在 fn 出错时恢复商品与订单状态，模拟事务回滚
type fakeTxManager struct {
	products *fakeProductRepo
	orders   *fakeOrderRepo
}

func (m *fakeTxManager) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	stockSnapshot := make(map[string]*catalogdomain.Product, len(m.products.byID))
	for id, p := range m.products.byID {
		cp := *p
		stockSnapshot[id] = &cp
	}
	orderCount := len(m.orders.orders)

	if err := fn(nil); err != nil {
		m.products.byID = stockSnapshot
		m.orders.orders = m.orders.orders[:orderCount]
		return err
	}
	return nil
}

type fakeOutbox struct {
	events      []orderdomain.OrderConfirmedEvent
	stockEvents []catalogdomain.ProductStockChangedEvent
	fail        error
}

func (o *fakeOutbox) EnqueueOrderConfirmed(_ *gorm.DB, event orderdomain.OrderConfirmedEvent) error {
	if o.fail != nil {
		return o.fail
	}
	o.events = append(o.events, event)
	return nil
}

func (o *fakeOutbox) EnqueueStockChanged(_ *gorm.DB, event catalogdomain.ProductStockChangedEvent) error {
	if o.fail != nil {
		return o.fail
	}
	o.stockEvents = append(o.stockEvents, event)
	return nil
}

type seqOrderIDs struct{ n int }

func (g *seqOrderIDs) Next() string {
	g.n++
	return fmt.Sprintf("ORD-2026-%06d", g.n)
}

type cartFixture struct {
	service  *CartService
	products *fakeProductRepo
	promos   *fakePromotionRepo
	orders   *fakeOrderRepo
	outbox   *fakeOutbox
}

func newCartFixture(products ...*catalogdomain.Product) *cartFixture {
	if len(products) == 0 {
		products = []*catalogdomain.Product{
			{ProductID: laptopID, Name: "Gaming Laptop", Category: catalogdomain.CategoryElectronics, Price: dec("1000.00"), Stock: 10},
			{ProductID: shirtID, Name: "T-Shirt", Category: catalogdomain.CategoryClothing, Price: dec("10.00"), Stock: 5},
		}
	}
	productRepo := newFakeProductRepo(products...)
	orderRepo := &fakeOrderRepo{}
	outbox := &fakeOutbox{}
	promoRepo := &fakePromotionRepo{}

	return &cartFixture{
		service: NewCartService(
			&fakeTxManager{products: productRepo, orders: orderRepo},
			productRepo,
			promoRepo,
			orderRepo,
			outbox,
			&seqOrderIDs{},
			nil,
			0,
		),
		products: productRepo,
		promos:   promoRepo,
		orders:   orderRepo,
		outbox:   outbox,
	}
}

func TestQuoteHasNoSideEffects(t *testing.T) {
	f := newCartFixture()
	f.promos.promos = []*promodomain.Promotion{{
		PromotionID: "promo-1",
		Type:        promodomain.TypePercentOffCategory,
		Description: "10% off electronics",
		Category:    catalogdomain.CategoryElectronics,
		PercentOff:  dec("10"),
	}}

	result, err := f.service.Quote(context.Background(), QuoteCommand{
		Items:           []CartItemInput{{ProductID: laptopID, Qty: 2}},
		CustomerSegment: "REGULAR",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.FinalTotal.Equal(dec("1800.00")) {
		t.Errorf("finalTotal = %s, want 1800.00", result.FinalTotal)
	}

	if got := f.products.stock(laptopID); got != 10 {
		t.Errorf("stock changed by quote: %d, want 10", got)
	}
	if len(f.orders.orders) != 0 {
		t.Errorf("quote created %d orders, want 0", len(f.orders.orders))
	}
}

func TestQuoteInvalidCustomerSegment(t *testing.T) {
	f := newCartFixture()
	_, err := f.service.Quote(context.Background(), QuoteCommand{
		Items:           []CartItemInput{{ProductID: laptopID, Qty: 1}},
		CustomerSegment: "GOLD",
	})
	if !errors.Is(err, ErrInvalidCustomerSegment) {
		t.Fatalf("error = %v, want ErrInvalidCustomerSegment", err)
	}
}

func TestQuoteInvalidProductID(t *testing.T) {
	f := newCartFixture()
	_, err := f.service.Quote(context.Background(), QuoteCommand{
		Items:           []CartItemInput{{ProductID: "not-a-uuid", Qty: 1}},
		CustomerSegment: "REGULAR",
	})
	var invalid *domain.InvalidIdentifierError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidIdentifierError", err)
	}
}

func TestConfirmReservesStockAndCreatesOrder(t *testing.T) {
	f := newCartFixture()
	f.promos.promos = []*promodomain.Promotion{{
		PromotionID: "promo-1",
		Type:        promodomain.TypePercentOffCategory,
		Description: "10% off electronics",
		Category:    catalogdomain.CategoryElectronics,
		PercentOff:  dec("10"),
	}}

	result, replayed, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items:           []CartItemInput{{ProductID: laptopID, Qty: 2}},
		CustomerSegment: "PREMIUM",
		IdempotencyKey:  "key-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed {
		t.Error("first confirm reported as replay")
	}

	if !result.FinalTotal.Equal(dec("1800.00")) {
		t.Errorf("finalTotal = %s, want 1800.00", result.FinalTotal)
	}
	if result.Status != string(orderdomain.StatusConfirmed) {
		t.Errorf("status = %s, want CONFIRMED", result.Status)
	}
	if len(result.ReservedItems) != 1 || result.ReservedItems[0].Quantity != 2 {
		t.Errorf("reservedItems = %+v", result.ReservedItems)
	}
	if len(result.AppliedPromotions) != 1 {
		t.Errorf("appliedPromotions = %d, want 1", len(result.AppliedPromotions))
	}

	if got := f.products.stock(laptopID); got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
	if len(f.orders.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(f.orders.orders))
	}
	if len(f.outbox.events) != 1 {
		t.Fatalf("outbox events = %d, want 1", len(f.outbox.events))
	}
	if f.outbox.events[0].OrderID != result.OrderID {
		t.Errorf("event orderId = %s, want %s", f.outbox.events[0].OrderID, result.OrderID)
	}
}

func TestConfirmEmitsStockChangedEvents(t *testing.T) {
	f := newCartFixture()

	result, _, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items: []CartItemInput{
			{ProductID: laptopID, Qty: 2},
			{ProductID: shirtID, Qty: 3},
		},
		CustomerSegment: "REGULAR",
		IdempotencyKey:  "key-stock-events",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.outbox.stockEvents) != 2 {
		t.Fatalf("stock events = %d, want 2", len(f.outbox.stockEvents))
	}
	laptop := f.outbox.stockEvents[0]
	if laptop.ProductID != laptopID || laptop.OldStock != 10 || laptop.NewStock != 8 {
		t.Errorf("laptop event = %+v, want 10 -> 8", laptop)
	}
	shirt := f.outbox.stockEvents[1]
	if shirt.ProductID != shirtID || shirt.OldStock != 5 || shirt.NewStock != 2 {
		t.Errorf("shirt event = %+v, want 5 -> 2", shirt)
	}
	for _, ev := range f.outbox.stockEvents {
		if ev.OrderID != result.OrderID {
			t.Errorf("event orderId = %s, want %s", ev.OrderID, result.OrderID)
		}
	}

	// 重放不再扣减库存，也不再产生库存事件
	if _, _, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items:           []CartItemInput{{ProductID: laptopID, Qty: 2}, {ProductID: shirtID, Qty: 3}},
		CustomerSegment: "REGULAR",
		IdempotencyKey:  "key-stock-events",
	}); err != nil {
		t.Fatalf("replay confirm: %v", err)
	}
	if len(f.outbox.stockEvents) != 2 {
		t.Errorf("stock events after replay = %d, want 2", len(f.outbox.stockEvents))
	}
}

func TestConfirmIdempotentReplay(t *testing.T) {
	f := newCartFixture()
	cmd := ConfirmCommand{
		Items:           []CartItemInput{{ProductID: laptopID, Qty: 3}},
		CustomerSegment: "REGULAR",
		IdempotencyKey:  "key-replay",
	}

	first, replayed, err := f.service.Confirm(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if replayed {
		t.Error("first confirm reported as replay")
	}

	second, replayed, err := f.service.Confirm(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !replayed {
		t.Error("second confirm not reported as replay")
	}

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if string(firstJSON) != string(secondJSON) {
		t.Errorf("replay not byte-identical:\nfirst:  %s\nsecond: %s", firstJSON, secondJSON)
	}

	if got := f.products.stock(laptopID); got != 7 {
		t.Errorf("stock = %d, want 7 (decremented exactly once)", got)
	}
	if len(f.orders.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(f.orders.orders))
	}
}

func TestConfirmWithoutIdempotencyKeyCreatesSeparateOrders(t *testing.T) {
	f := newCartFixture()
	cmd := ConfirmCommand{
		Items:           []CartItemInput{{ProductID: shirtID, Qty: 1}},
		CustomerSegment: "REGULAR",
	}

	if _, _, err := f.service.Confirm(context.Background(), cmd); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, _, err := f.service.Confirm(context.Background(), cmd); err != nil {
		t.Fatalf("second confirm: %v", err)
	}

	if len(f.orders.orders) != 2 {
		t.Errorf("orders = %d, want 2", len(f.orders.orders))
	}
	if got := f.products.stock(shirtID); got != 3 {
		t.Errorf("stock = %d, want 3", got)
	}
}

func TestConfirmInsufficientStockListsAllShortages(t *testing.T) {
	f := newCartFixture()

	_, _, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items: []CartItemInput{
			{ProductID: laptopID, Qty: 11},
			{ProductID: shirtID, Qty: 6},
		},
		CustomerSegment: "REGULAR",
		IdempotencyKey:  "key-short",
	})

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("error = %v, want InsufficientStockError", err)
	}
	if len(stockErr.Shortages) != 2 {
		t.Fatalf("shortages = %d, want 2", len(stockErr.Shortages))
	}
	if stockErr.Shortages[0].Available != 10 || stockErr.Shortages[1].Available != 5 {
		t.Errorf("shortages = %+v", stockErr.Shortages)
	}

	// 整单失败，库存与订单均无变化
	if f.products.stock(laptopID) != 10 || f.products.stock(shirtID) != 5 {
		t.Errorf("stock mutated on failed confirm: %d/%d", f.products.stock(laptopID), f.products.stock(shirtID))
	}
	if len(f.orders.orders) != 0 {
		t.Errorf("orders = %d, want 0", len(f.orders.orders))
	}

	// 调整数量后同一幂等键可以重试成功
	result, _, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items: []CartItemInput{
			{ProductID: laptopID, Qty: 10},
			{ProductID: shirtID, Qty: 5},
		},
		CustomerSegment: "REGULAR",
		IdempotencyKey:  "key-short",
	})
	if err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	if result.Status != string(orderdomain.StatusConfirmed) {
		t.Errorf("status = %s, want CONFIRMED", result.Status)
	}
	if f.products.stock(laptopID) != 0 || f.products.stock(shirtID) != 0 {
		t.Errorf("stock = %d/%d, want 0/0", f.products.stock(laptopID), f.products.stock(shirtID))
	}
}

func TestConfirmRollsBackStockOnPersistenceFailure(t *testing.T) {
	f := newCartFixture()
	f.outbox.fail = errors.New("kafka outbox table unavailable")

	_, _, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items:           []CartItemInput{{ProductID: laptopID, Qty: 4}},
		CustomerSegment: "REGULAR",
		IdempotencyKey:  "key-fail",
	})
	if err == nil {
		t.Fatal("expected error from failed outbox write")
	}

	if got := f.products.stock(laptopID); got != 10 {
		t.Errorf("stock = %d, want 10 (reservation rolled back)", got)
	}
	if len(f.orders.orders) != 0 {
		t.Errorf("orders = %d, want 0", len(f.orders.orders))
	}
	if len(f.outbox.events) != 0 || len(f.outbox.stockEvents) != 0 {
		t.Errorf("outbox events = %d/%d, want 0/0", len(f.outbox.events), len(f.outbox.stockEvents))
	}
}

func TestConfirmIdempotencyRaceResolvesToExistingOrder(t *testing.T) {
	f := newCartFixture()

	key := "key-race"
	winner := &orderdomain.Order{
		OrderID:         "ORD-2026-999999",
		IdempotencyKey:  &key,
		CustomerSegment: orderdomain.SegmentRegular,
		Subtotal:        dec("1000.00"),
		TotalDiscount:   dec("0"),
		FinalTotal:      dec("1000.00"),
		Status:          orderdomain.StatusConfirmed,
	}
	f.orders.race = winner

	result, replayed, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items:           []CartItemInput{{ProductID: laptopID, Qty: 1}},
		CustomerSegment: "REGULAR",
		IdempotencyKey:  key,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replayed {
		t.Error("race resolution not reported as replay")
	}
	if result.OrderID != winner.OrderID {
		t.Errorf("orderId = %s, want %s", result.OrderID, winner.OrderID)
	}

	// 败方事务整体回滚，库存不受影响
	if got := f.products.stock(laptopID); got != 10 {
		t.Errorf("stock = %d, want 10", got)
	}
}

func TestConfirmUnknownProduct(t *testing.T) {
	f := newCartFixture()

	_, _, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items:           []CartItemInput{{ProductID: "00000000-0000-0000-0000-000000000099", Qty: 1}},
		CustomerSegment: "REGULAR",
	})
	var notFound *domain.ProductNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ProductNotFoundError", err)
	}
	if len(f.orders.orders) != 0 {
		t.Errorf("orders = %d, want 0", len(f.orders.orders))
	}
}

func TestGetOrder(t *testing.T) {
	f := newCartFixture()
	created, _, err := f.service.Confirm(context.Background(), ConfirmCommand{
		Items:           []CartItemInput{{ProductID: shirtID, Qty: 2}},
		CustomerSegment: "VIP",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	found, err := f.service.GetOrder(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if found == nil || found.OrderID != created.OrderID {
		t.Fatalf("found = %+v, want order %s", found, created.OrderID)
	}

	missing, err := f.service.GetOrder(context.Background(), "ORD-2026-000000")
	if err != nil {
		t.Fatalf("get missing order: %v", err)
	}
	if missing != nil {
		t.Errorf("missing order = %+v, want nil", missing)
	}
}
