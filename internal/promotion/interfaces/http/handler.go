// Package http 促销规则 HTTP 接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promoquoter/internal/promotion/application"
)

// Handler 促销 HTTP 处理器
type Handler struct {
	service *application.PromotionService
}

// NewHandler 创建处理器实例
func NewHandler(service *application.PromotionService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/promotions")
	{
		g.POST("", h.CreatePromotion)
		g.GET("", h.ListPromotions)
	}
}

// CreatePromotionRequest 创建促销请求
type CreatePromotionRequest struct {
	PromotionType string `json:"promotionType" binding:"required"`
	Description   string `json:"description" binding:"required"`
	Category      string `json:"category"`
	PercentOff    string `json:"percentOff"`
	ProductID     string `json:"productId"`
	BuyX          int    `json:"buyX"`
	GetY          int    `json:"getY"`
}

// CreatePromotion 创建促销规则
func (h *Handler) CreatePromotion(c *gin.Context) {
	var req CreatePromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	percentOff := decimal.Zero
	if req.PercentOff != "" {
		var err error
		percentOff, err = decimal.NewFromString(req.PercentOff)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid percentOff: " + req.PercentOff})
			return
		}
	}

	promo, err := h.service.CreatePromotion(c.Request.Context(), application.CreatePromotionCommand{
		Type:        req.PromotionType,
		Description: req.Description,
		Category:    req.Category,
		PercentOff:  percentOff,
		ProductID:   req.ProductID,
		BuyX:        req.BuyX,
		GetY:        req.GetY,
	})
	if err != nil {
		switch {
		case errors.Is(err, application.ErrCategoryTaken), errors.Is(err, application.ErrProductTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, application.ErrProductMissing):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, promo)
}

// ListPromotions 促销规则列表
func (h *Handler) ListPromotions(c *gin.Context) {
	promos, err := h.service.ListPromotions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list promotions"})
		return
	}
	c.JSON(http.StatusOK, promos)
}
