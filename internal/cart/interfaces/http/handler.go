// Package http 购物车 HTTP 接口：报价与确认
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promoquoter/internal/cart/application"
	"github.com/shopkit/promoquoter/internal/cart/domain"
	"github.com/shopkit/promoquoter/pkg/logger"
)

// IdempotencyKeyHeader 确认请求的幂等键请求头
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler 购物车 HTTP 处理器
type Handler struct {
	service *application.CartService
}

// NewHandler 创建处理器实例
func NewHandler(service *application.CartService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/cart")
	{
		g.POST("/quote", h.Quote)
		g.POST("/confirm", h.Confirm)
	}
	r.GET("/orders/:id", h.GetOrder)
}

// CartItemRequest 购物车条目
type CartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Qty       int    `json:"qty"`
}

// CartRequest 报价/确认共用请求体
type CartRequest struct {
	Items           []CartItemRequest `json:"items" binding:"required,min=1,dive"`
	CustomerSegment string            `json:"customerSegment" binding:"required"`
}

// LineItemResponse 报价响应中的行项目
type LineItemResponse struct {
	ProductID      string          `json:"productId"`
	ProductName    string          `json:"productName"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalLineTotal decimal.Decimal `json:"finalLineTotal"`
}

// AppliedPromotionResponse 报价响应中的促销效果
type AppliedPromotionResponse struct {
	PromotionID        string          `json:"promotionId"`
	PromotionType      string          `json:"promotionType"`
	Description        string          `json:"description"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	AffectedProductIDs []string        `json:"affectedProductIds"`
}

// QuoteResponse 报价响应
type QuoteResponse struct {
	LineItems         []LineItemResponse         `json:"lineItems"`
	AppliedPromotions []AppliedPromotionResponse `json:"appliedPromotions"`
	Subtotal          decimal.Decimal            `json:"subtotal"`
	TotalDiscount     decimal.Decimal            `json:"totalDiscount"`
	FinalTotal        decimal.Decimal            `json:"finalTotal"`
}

// Quote 计算报价，只读
func (h *Handler) Quote(c *gin.Context) {
	var req CartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Quote(c.Request.Context(), application.QuoteCommand{
		Items:           toItemInputs(req.Items),
		CustomerSegment: req.CustomerSegment,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuoteResponse(result))
}

// Confirm 确认购物车，重复幂等键重放原结果
func (h *Handler) Confirm(c *gin.Context) {
	var req CartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, replayed, err := h.service.Confirm(c.Request.Context(), application.ConfirmCommand{
		Items:           toItemInputs(req.Items),
		CustomerSegment: req.CustomerSegment,
		IdempotencyKey:  c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// GetOrder 订单详情
func (h *Handler) GetOrder(c *gin.Context) {
	result, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError 错误分类到 HTTP 状态码的映射。
// 未识别的错误一律归为 500，不向外泄露内部细节。
func (h *Handler) writeError(c *gin.Context, err error) {
	var notFound *domain.ProductNotFoundError
	var invalidID *domain.InvalidIdentifierError
	var noStock *domain.InsufficientStockError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &invalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidID.Error()})
	case errors.Is(err, application.ErrInvalidCustomerSegment):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &noStock):
		c.JSON(http.StatusConflict, gin.H{
			"error":     noStock.Error(),
			"shortages": noStock.Shortages,
		})
	default:
		logger.Error(c.Request.Context(), "cart operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func toItemInputs(items []CartItemRequest) []application.CartItemInput {
	out := make([]application.CartItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, application.CartItemInput{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}

func toQuoteResponse(result *domain.QuoteResult) QuoteResponse {
	lines := make([]LineItemResponse, 0, len(result.LineItems))
	for _, li := range result.LineItems {
		lines = append(lines, LineItemResponse{
			ProductID:      li.ProductID,
			ProductName:    li.ProductName,
			Quantity:       li.Quantity,
			UnitPrice:      li.UnitPrice,
			LineTotal:      li.LineTotal,
			DiscountAmount: li.DiscountAmount,
			FinalLineTotal: li.FinalLineTotal,
		})
	}

	promos := make([]AppliedPromotionResponse, 0, len(result.AppliedPromotions))
	for _, ap := range result.AppliedPromotions {
		promos = append(promos, AppliedPromotionResponse{
			PromotionID:        ap.PromotionID,
			PromotionType:      ap.PromotionType,
			Description:        ap.Description,
			DiscountAmount:     ap.DiscountAmount,
			AffectedProductIDs: ap.AffectedProductIDs,
		})
	}

	return QuoteResponse{
		LineItems:         lines,
		AppliedPromotions: promos,
		Subtotal:          result.Subtotal,
		TotalDiscount:     result.TotalDiscount,
		FinalTotal:        result.FinalTotal,
	}
}
