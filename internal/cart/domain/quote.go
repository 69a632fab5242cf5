package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
	promodomain "github.com/shopkit/promoquoter/internal/promotion/domain"
)

// CartLine 请求中的一个购物车条目
type CartLine struct {
	ProductID string
	Quantity  int
}

// LineItem 促销作用后的行项目。
// 同一次报价内随促销逐条累加，跨请求不复用。
type LineItem struct {
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPrice      decimal.Decimal
	LineTotal      decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalLineTotal decimal.Decimal
}

// AppliedPromotion 单条促销对本次报价的净效果，折扣为零时不产出
type AppliedPromotion struct {
	PromotionID        string
	PromotionType      string
	Description        string
	DiscountAmount     decimal.Decimal
	AffectedProductIDs []string
}

// QuoteResult 报价结果
type QuoteResult struct {
	LineItems         []*LineItem
	AppliedPromotions []*AppliedPromotion
	Subtotal          decimal.Decimal
	TotalDiscount     decimal.Decimal
	FinalTotal        decimal.Decimal
}

var oneHundred = decimal.NewFromInt(100)

// CalculateQuote 纯函数：由购物车条目、促销集合与商品快照计算报价。
// 促销分两个固定阶段应用，且各阶段内按目录顺序迭代：
// 先全部 PERCENT_OFF_CATEGORY（折扣基于当前 FinalLineTotal，四舍五入到 2 位），
// 后全部 BUY_X_GET_Y（折扣基于原始单价，与百分比折扣无关）。
// 数量 <= 0 的条目保留为零金额行。重复 productId 的条目不合并，
// 买赠规则命中第一条匹配行。
func CalculateQuote(lines []CartLine, promotions []*promodomain.Promotion, products map[string]*catalogdomain.Product) (*QuoteResult, error) {
	lineItems := make([]*LineItem, 0, len(lines))
	subtotal := decimal.Zero

	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || product == nil {
			return nil, &ProductNotFoundError{ProductID: line.ProductID}
		}

		lineTotal := decimal.Zero
		if line.Quantity > 0 {
			lineTotal = product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		}
		subtotal = subtotal.Add(lineTotal)

		lineItems = append(lineItems, &LineItem{
			ProductID:      line.ProductID,
			ProductName:    product.Name,
			Quantity:       line.Quantity,
			UnitPrice:      product.Price,
			LineTotal:      lineTotal,
			DiscountAmount: decimal.Zero,
			FinalLineTotal: lineTotal,
		})
	}

	applied := make([]*AppliedPromotion, 0)

	// 第一阶段：分类百分比折扣
	for _, promo := range promotions {
		if promo.Type != promodomain.TypePercentOffCategory {
			continue
		}
		if ap := applyPercentOffCategory(promo, lineItems, products); ap != nil {
			applied = append(applied, ap)
		}
	}

	// 第二阶段：买赠
	for _, promo := range promotions {
		if promo.Type != promodomain.TypeBuyXGetY {
			continue
		}
		if ap := applyBuyXGetY(promo, lineItems); ap != nil {
			applied = append(applied, ap)
		}
	}

	totalDiscount := decimal.Zero
	for _, ap := range applied {
		totalDiscount = totalDiscount.Add(ap.DiscountAmount)
	}

	return &QuoteResult{
		LineItems:         lineItems,
		AppliedPromotions: applied,
		Subtotal:          subtotal,
		TotalDiscount:     totalDiscount,
		FinalTotal:        subtotal.Sub(totalDiscount),
	}, nil
}

func applyPercentOffCategory(promo *promodomain.Promotion, lineItems []*LineItem, products map[string]*catalogdomain.Product) *AppliedPromotion {
	totalDiscount := decimal.Zero
	affected := make([]string, 0)

	for _, item := range lineItems {
		product := products[item.ProductID]
		if product == nil || product.Category != promo.Category {
			continue
		}

		// 基于当前折后行金额计算，两位小数四舍五入
		discount := item.FinalLineTotal.Mul(promo.PercentOff).Div(oneHundred).Round(2)
		item.DiscountAmount = item.DiscountAmount.Add(discount)
		item.FinalLineTotal = item.FinalLineTotal.Sub(discount)

		totalDiscount = totalDiscount.Add(discount)
		affected = append(affected, item.ProductID)
	}

	if !totalDiscount.IsPositive() {
		return nil
	}
	return &AppliedPromotion{
		PromotionID:        promo.PromotionID,
		PromotionType:      string(promodomain.TypePercentOffCategory),
		Description:        promo.Description,
		DiscountAmount:     totalDiscount,
		AffectedProductIDs: affected,
	}
}

func applyBuyXGetY(promo *promodomain.Promotion, lineItems []*LineItem) *AppliedPromotion {
	var target *LineItem
	for _, item := range lineItems {
		if item.ProductID == promo.ProductID {
			target = item
			break
		}
	}
	if target == nil {
		return nil
	}

	qualifyingSets := 0
	if target.Quantity > 0 && promo.BuyX > 0 {
		qualifyingSets = target.Quantity / promo.BuyX
	}
	freeItems := qualifyingSets * promo.GetY
	if freeItems <= 0 {
		return nil
	}

	// 赠品按原始单价计折扣，不受先前百分比折扣影响
	discount := target.UnitPrice.Mul(decimal.NewFromInt(int64(freeItems)))
	target.DiscountAmount = target.DiscountAmount.Add(discount)
	target.FinalLineTotal = target.FinalLineTotal.Sub(discount)

	return &AppliedPromotion{
		PromotionID:   promo.PromotionID,
		PromotionType: string(promodomain.TypeBuyXGetY),
		Description: fmt.Sprintf("%s (Buy %d Get %d Free - %d free items)",
			promo.Description, promo.BuyX, promo.GetY, freeItems),
		DiscountAmount:     discount,
		AffectedProductIDs: []string{target.ProductID},
	}
}
