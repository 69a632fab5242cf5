// Package http 商品目录 HTTP 接口
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promoquoter/internal/catalog/application"
)

// Handler 商品目录 HTTP 处理器
type Handler struct {
	service *application.CatalogService
}

// NewHandler 创建处理器实例
func NewHandler(service *application.CatalogService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/products")
	{
		g.POST("", h.CreateProduct)
		g.GET("", h.ListProducts)
		g.GET("/:id", h.GetProduct)
	}
}

// CreateProductRequest 创建商品请求
type CreateProductRequest struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category" binding:"required"`
	Price    string `json:"price" binding:"required"`
	Stock    int    `json:"stock" binding:"gte=0"`
}

// CreateProduct 创建商品
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price: " + req.Price})
		return
	}

	p, err := h.service.CreateProduct(c.Request.Context(), application.CreateProductCommand{
		Name:     req.Name,
		Category: req.Category,
		Price:    price,
		Stock:    req.Stock,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, p)
}

// ListProducts 商品列表
func (h *Handler) ListProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	category := c.Query("category")

	result, err := h.service.ListProducts(c.Request.Context(), category, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list products"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetProduct 商品详情
func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get product"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}
