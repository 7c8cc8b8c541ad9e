package http

import (
	"errors"
	"net/http"
	"strconv"

	"mealmate/internal/domain"
	"mealmate/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
)

type Services struct {
	Carts    *services.CartService
	Orders   *services.OrderService
	Payments *services.PaymentService
	Refunds  *services.RefundService
	Ledger   *services.LedgerService
}

type Handler struct {
	svc       Services
	jwtSecret []byte
	logger    *zap.Logger
}

func NewHandler(svc Services, jwtSecret []byte, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, jwtSecret: jwtSecret, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhooks/razorpay", h.PaymentWebhook)

	api := r.Group("/api/v1", AuthMiddleware(h.jwtSecret))

	api.GET("/cart", h.GetCart)
	api.POST("/cart/items", h.AddCartItem)
	api.PATCH("/cart/items/:menuItemId", h.UpdateCartItem)
	api.DELETE("/cart/items/:menuItemId", h.RemoveCartItem)
	api.DELETE("/cart", h.ClearCart)

	api.POST("/orders", h.PlaceOrder)
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:id", h.GetOrder)
	api.GET("/orders/:id/history", h.OrderHistory)
	api.POST("/orders/:id/status", h.TransitionOrder)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/orders/:id/confirm-cod", h.ConfirmCashOnDelivery)
	api.POST("/orders/:id/refunds", h.InitiateRefund)
	api.GET("/orders/:id/ledger", h.OrderLedger)

	api.POST("/payments/intent", h.CreatePaymentIntent)
	api.POST("/payments/verify", h.VerifyPayment)

	api.POST("/refunds/:id/confirm", h.ConfirmRefund)
	api.POST("/refunds/:id/fail", h.FailRefund)

	api.GET("/ledger", h.MyLedger)
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil && v >= 0
}

func (h *Handler) GetCart(c *gin.Context) {
	view, err := h.svc.Carts.GetCart(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) AddCartItem(c *gin.Context) {
	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	view, err := h.svc.Carts.AddItem(c.Request.Context(), services.AddItemInput{
		Actor:               actorFrom(c),
		MenuItemID:          req.MenuItemID,
		Quantity:            req.Quantity,
		SpecialInstructions: req.SpecialInstructions,
		ReplaceCart:         req.ReplaceCart,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	menuItemID, ok := pathID(c, "menuItemId")
	if !ok {
		h.badRequest(c, "invalid menu item id")
		return
	}
	var req UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	view, err := h.svc.Carts.UpdateQuantity(c.Request.Context(), actorFrom(c), menuItemID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) RemoveCartItem(c *gin.Context) {
	menuItemID, ok := pathID(c, "menuItemId")
	if !ok {
		h.badRequest(c, "invalid menu item id")
		return
	}

	view, err := h.svc.Carts.RemoveItem(c.Request.Context(), actorFrom(c), menuItemID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ClearCart(c *gin.Context) {
	view, err := h.svc.Carts.Clear(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	order, err := h.svc.Orders.PlaceOrder(c.Request.Context(), services.PlaceOrderInput{
		Actor:                actorFrom(c),
		DeliveryAddress:      req.DeliveryAddress,
		DeliveryPhone:        req.DeliveryPhone,
		DeliveryInstructions: req.DeliveryInstructions,
		PaymentMethod:        domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	var restaurantID uint64
	if raw := c.Query("restaurantId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.badRequest(c, "invalid restaurantId")
			return
		}
		restaurantID = id
	}
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		h.badRequest(c, "invalid limit")
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		h.badRequest(c, "invalid offset")
		return
	}

	orders, err := h.svc.Orders.ListOrders(c.Request.Context(), services.ListOrdersInput{
		Actor:        actorFrom(c),
		RestaurantID: restaurantID,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid order id")
		return
	}

	order, err := h.svc.Orders.GetOrder(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) OrderHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid order id")
		return
	}

	history, err := h.svc.Orders.History(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) TransitionOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid order id")
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	order, err := h.svc.Orders.Transition(c.Request.Context(), services.TransitionInput{
		OrderID: id,
		To:      domain.OrderStatus(req.Status),
		Actor:   actorFrom(c),
		Notes:   req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid order id")
		return
	}
	var req CancelOrderRequest
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err.Error())
			return
		}
	}

	order, err := h.svc.Orders.Cancel(c.Request.Context(), services.CancelInput{
		OrderID: id,
		Actor:   actorFrom(c),
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) ConfirmCashOnDelivery(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid order id")
		return
	}

	order, err := h.svc.Orders.ConfirmCashOnDelivery(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	var req PaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	intent, err := h.svc.Payments.CreateIntent(c.Request.Context(), req.OrderID, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentIntentResponse(intent))
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	res, err := h.svc.Payments.Verify(c.Request.Context(), services.VerifyInput{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		Actor:            actorFrom(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerifyPaymentResponse{
		Payment:         res.Payment,
		Order:           newOrderResponse(res.Order),
		AlreadyCaptured: res.AlreadyCaptured,
	})
}

// PaymentWebhook is called by the gateway, not by users. It answers 2xx for
// anything that was stored so the gateway stops redelivering it.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		h.badRequest(c, "empty webhook body")
		return
	}

	res, err := h.svc.Payments.HandleWebhook(c.Request.Context(), services.WebhookInput{
		WebhookID: c.GetHeader(eventIDHeader),
		Signature: c.GetHeader(signatureHeader),
		Body:      body,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSignature) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: domain.Code(err), Message: domain.PublicMessage(err)})
			return
		}
		h.writeError(c, err)
		return
	}

	status := "processed"
	switch {
	case res.Duplicate:
		status = "duplicate"
	case res.Ignored:
		status = "ignored"
	}
	c.JSON(http.StatusOK, WebhookResponse{Status: status})
}

func (h *Handler) InitiateRefund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid order id")
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}
	if !req.Full && req.Amount == nil {
		h.badRequest(c, "amount is required unless full is set")
		return
	}

	in := services.RefundInput{
		OrderID: id,
		Full:    req.Full,
		Reason:  req.Reason,
		Actor:   actorFrom(c),
	}
	if req.Amount != nil {
		in.Amount = *req.Amount
	}
	refund, err := h.svc.Refunds.InitiateRefund(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) ConfirmRefund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid refund id")
		return
	}
	var req ConfirmRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	refund, err := h.svc.Refunds.ConfirmRefund(c.Request.Context(), id, services.RefundConfirmation{
		GatewayRefundID: req.GatewayRefundID,
		Response:        req.Response,
	}, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (h *Handler) FailRefund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid refund id")
		return
	}
	var req FailRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	refund, err := h.svc.Refunds.FailRefund(c.Request.Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (h *Handler) MyLedger(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		h.badRequest(c, "invalid limit")
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		h.badRequest(c, "invalid offset")
		return
	}

	entries, err := h.svc.Ledger.ListForUser(c.Request.Context(), actorFrom(c), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) OrderLedger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid order id")
		return
	}

	entries, err := h.svc.Ledger.ListForOrder(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
