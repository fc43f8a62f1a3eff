package handlers

import (
	"github.com/gin-gonic/gin"

	"abasto/internal/domain/pipeline"
	"abasto/internal/infrastructure/http/v1/dto"
)

// OrderHandler handles purchase order endpoints.
type OrderHandler struct {
	*BaseHandler
	coordinator *pipeline.Coordinator
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(base *BaseHandler, coordinator *pipeline.Coordinator) *OrderHandler {
	return &OrderHandler{BaseHandler: base, coordinator: coordinator}
}

// Batch handles POST /orders - batch approved demand into a draft order.
func (h *OrderHandler) Batch(c *gin.Context) {
	var req dto.BatchOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.BatchIntoOrder(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, doc)
}

// Get handles GET /orders/:id - order with lines.
func (h *OrderHandler) Get(c *gin.Context) {
	orderID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Confirm handles POST /orders/:id/confirm - issue the order to the
// supplier.
func (h *OrderHandler) Confirm(c *gin.Context) {
	orderID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.ConfirmOrder(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Cancel handles POST /orders/:id/cancel - cancel an order with no
// receipts, releasing its reserved quantities.
func (h *OrderHandler) Cancel(c *gin.Context) {
	orderID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.CancelOrder(c.Request.Context(), orderID, h.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Receive handles POST /orders/:id/receipts - goods in.
func (h *OrderHandler) Receive(c *gin.Context) {
	orderID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	var req dto.ReceiveGoodsRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToInput(orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.ReceiveGoods(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, doc)
}
