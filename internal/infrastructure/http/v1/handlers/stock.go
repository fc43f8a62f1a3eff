package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"abasto/internal/core/entity"
	"abasto/internal/domain/registers/stock"
	"abasto/internal/infrastructure/http/v1/dto"
)

// StockHandler handles stock register endpoints.
type StockHandler struct {
	*BaseHandler
	service *stock.Service
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(base *BaseHandler, service *stock.Service) *StockHandler {
	return &StockHandler{BaseHandler: base, service: service}
}

// GetBalances handles GET /stock/balances.
// Query: itemIds (repeatable), kind, excludeZero.
func (h *StockHandler) GetBalances(c *gin.Context) {
	var filter stock.BalanceFilter

	for _, raw := range c.QueryArray("itemIds") {
		itemID, err := dto.ParseID(raw)
		if err != nil {
			h.Error(c, err)
			return
		}
		filter.ItemIDs = append(filter.ItemIDs, itemID)
	}

	if kind := c.Query("kind"); kind != "" {
		k := entity.ItemKind(kind)
		filter.ItemKind = &k
	}
	filter.ExcludeZero = c.Query("excludeZero") == "true"

	balances, err := h.service.GetStock(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, balances)
}

// GetAvailability handles GET /stock/availability/:itemId.
func (h *StockHandler) GetAvailability(c *gin.Context) {
	itemID, err := dto.ParseID(c.Param("itemId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	available, err := h.service.GetAvailability(c.Request.Context(), itemID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{
		"itemId":    itemID.String(),
		"available": available,
	})
}

// GetMovements handles GET /stock/movements/:itemId.
// Query: recordType, from, to, limit, offset.
func (h *StockHandler) GetMovements(c *gin.Context) {
	itemID, err := dto.ParseID(c.Param("itemId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	filter := stock.MovementFilter{
		Limit:  h.ParseIntQuery(c, "limit", 50),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	if rt := c.Query("recordType"); rt != "" {
		recordType := entity.RecordType(rt)
		filter.RecordType = &recordType
	}
	if from := c.Query("from"); from != "" {
		if parsed, err := time.Parse(time.RFC3339, from); err == nil {
			filter.FromDate = &parsed
		}
	}
	if to := c.Query("to"); to != "" {
		if parsed, err := time.Parse(time.RFC3339, to); err == nil {
			filter.ToDate = &parsed
		}
	}

	movements, err := h.service.GetMovementHistory(c.Request.Context(), itemID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, movements)
}
