package handlers

import (
	"github.com/gin-gonic/gin"

	"abasto/internal/domain/pipeline"
	"abasto/internal/infrastructure/http/v1/dto"
)

// RequestHandler handles material request endpoints.
type RequestHandler struct {
	*BaseHandler
	coordinator *pipeline.Coordinator
}

// NewRequestHandler creates a new request handler.
func NewRequestHandler(base *BaseHandler, coordinator *pipeline.Coordinator) *RequestHandler {
	return &RequestHandler{BaseHandler: base, coordinator: coordinator}
}

// Create handles POST /requests - open a new draft request.
func (h *RequestHandler) Create(c *gin.Context) {
	var req dto.CreateRequestRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.CreateRequest(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, doc)
}

// Get handles GET /requests/:id - request with lines.
func (h *RequestHandler) Get(c *gin.Context) {
	requestID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Submit handles POST /requests/:id/submit - draft to pending.
func (h *RequestHandler) Submit(c *gin.Context) {
	requestID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.SubmitRequest(c.Request.Context(), requestID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Approve handles POST /requests/:id/approve.
func (h *RequestHandler) Approve(c *gin.Context) {
	requestID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	var req dto.DecisionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	decision, err := req.ToDecision()
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.ApproveRequest(c.Request.Context(), requestID, decision)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Reject handles POST /requests/:id/reject.
func (h *RequestHandler) Reject(c *gin.Context) {
	requestID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	var req dto.DecisionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	decision, err := req.ToDecision()
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.RejectRequest(c.Request.Context(), requestID, decision)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Record handles GET /requests/:id/record - the reconciled quantity
// record across the whole pipeline.
func (h *RequestHandler) Record(c *gin.Context) {
	requestID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	record, err := h.coordinator.GetRecord(c.Request.Context(), requestID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, record)
}

// History handles GET /requests/:id/history - state transitions.
func (h *RequestHandler) History(c *gin.Context) {
	requestID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	entries, err := h.coordinator.RequestHistory(c.Request.Context(), requestID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entries)
}

// Dispatch handles POST /requests/:id/dispatches - goods out.
func (h *RequestHandler) Dispatch(c *gin.Context) {
	requestID, err := dto.ParseID(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	var req dto.DispatchGoodsRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToInput(requestID)
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.coordinator.DispatchGoods(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, doc)
}
