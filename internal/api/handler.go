package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tourism-core/internal/lock"
	"tourism-core/internal/models"
	"tourism-core/internal/service"
	"tourism-core/internal/stock"
	"tourism-core/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers. Authentication happens upstream; the
// caller identity arrives in X-User-ID / X-Actor-Role headers.
type Handler struct {
	lifecycle *service.OrderLifecycle
	ledger    *stock.Ledger
	notifier  *service.ReviewNotifier
}

// NewHandler creates a new HTTP handler
func NewHandler(lifecycle *service.OrderLifecycle, ledger *stock.Ledger, notifier *service.ReviewNotifier) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		ledger:    ledger,
		notifier:  notifier,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/pay", h.transitionHandler(h.lifecycle.Pay))
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/complete", h.transitionHandler(h.lifecycle.Complete))
		v1.POST("/orders/:id/refund", h.transitionHandler(h.lifecycle.Refund))
		v1.GET("/products/:id/stock", h.getStock)
		v1.POST("/reviews/:id/changed", h.reviewChanged)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func actorFromHeaders(c *gin.Context) (models.Actor, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id == 0 {
		return models.Actor{}, false
	}
	role := c.GetHeader("X-Actor-Role")
	if role != models.RoleBuyer && role != models.RoleMerchant {
		return models.Actor{}, false
	}
	return models.Actor{ID: id, Role: role}, true
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing caller identity"})
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.BuyerID = actor.ID

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.lifecycle.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing caller identity"})
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.lifecycle.GetOrder(c.Request.Context(), orderID, actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// transitionHandler wraps the simple lifecycle transitions that only need
// an order id and an actor.
func (h *Handler) transitionHandler(fn func(ctx context.Context, orderID int64, actor models.Actor) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromHeaders(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing caller identity"})
			return
		}

		orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
			return
		}

		if err := fn(c.Request.Context(), orderID, actor); err != nil {
			writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"order_id": orderID})
	}
}

// cancelOrder handles order cancellation with an optional reason.
func (h *Handler) cancelOrder(c *gin.Context) {
	actor, ok := actorFromHeaders(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing caller identity"})
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	if err := h.lifecycle.Cancel(c.Request.Context(), orderID, actor, body.Reason); err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": models.OrderStatusCancelled})
}

// getStock returns the available stock for a product.
func (h *Handler) getStock(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	available, err := h.ledger.Read(c.Request.Context(), productID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"product_id": productID, "available": available})
}

// reviewChanged accepts a review-change notification from the review
// service and publishes it to the event channel.
func (h *Handler) reviewChanged(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	var body struct {
		ProductID  int64  `json:"product_id" binding:"required"`
		ChangeType string `json:"change_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.notifier.NotifyReviewChanged(c.Request.Context(), reviewID, body.ProductID, body.ChangeType); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event transport unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"review_id": reviewID})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientStock):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Insufficient stock"})
	case errors.Is(err, service.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Invalid order state transition"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized for this order"})
	case errors.Is(err, service.ErrProductOffSale):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Product is not on sale"})
	case errors.Is(err, lock.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resource busy, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Operation failed", "details": err.Error()})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
