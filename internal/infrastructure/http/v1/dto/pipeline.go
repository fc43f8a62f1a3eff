package dto

import (
	"time"

	"abasto/internal/core/id"
	"abasto/internal/core/types"
	"abasto/internal/domain/pipeline"
)

// --- Requests ---

// CreateRequestLine is one demanded item.
type CreateRequestLine struct {
	Item     ItemRefRequest `json:"item" binding:"required"`
	Quantity types.Quantity `json:"quantity" binding:"required"`
	Note     string         `json:"note"`
}

// CreateRequestRequest opens a new draft request.
type CreateRequestRequest struct {
	Requester  string              `json:"requester" binding:"required"`
	Reason     string              `json:"reason"`
	RequiredBy *time.Time          `json:"requiredBy"`
	Comment    string              `json:"comment"`
	Lines      []CreateRequestLine `json:"lines" binding:"required,min=1,dive"`
}

// ToInput converts to the pipeline input.
func (r CreateRequestRequest) ToInput() (pipeline.RequestInput, error) {
	in := pipeline.RequestInput{
		Requester:  r.Requester,
		Reason:     r.Reason,
		RequiredBy: r.RequiredBy,
		Comment:    r.Comment,
	}
	for _, line := range r.Lines {
		ref, err := line.Item.ToRef()
		if err != nil {
			return pipeline.RequestInput{}, err
		}
		in.Lines = append(in.Lines, pipeline.RequestLineInput{
			Item:     ref,
			Quantity: line.Quantity,
			Note:     line.Note,
		})
	}
	return in, nil
}

// DecisionRequest carries an approval or rejection decision.
type DecisionRequest struct {
	Responsible string `json:"responsible" binding:"required"`
	Pin         string `json:"pin"`
	Note        string `json:"note"`

	// Quantities overrides approved quantities per line ID. Lines
	// missing from the map are approved in full.
	Quantities map[string]types.Quantity `json:"quantities"`
}

// ToDecision converts to the pipeline decision.
func (r DecisionRequest) ToDecision() (pipeline.Decision, error) {
	d := pipeline.Decision{
		Responsible: r.Responsible,
		Challenge:   r.Pin,
		Note:        r.Note,
	}
	if len(r.Quantities) > 0 {
		d.Quantities = make(map[id.ID]types.Quantity, len(r.Quantities))
		for key, qty := range r.Quantities {
			lineID, err := ParseID(key)
			if err != nil {
				return pipeline.Decision{}, err
			}
			d.Quantities[lineID] = qty
		}
	}
	return d, nil
}

// --- Orders ---

// OrderSelection picks a quantity from an approved request line.
type OrderSelection struct {
	RequestID string          `json:"requestId" binding:"required,uuid"`
	LineID    string          `json:"lineId" binding:"required,uuid"`
	Quantity  types.Quantity  `json:"quantity" binding:"required"`
	UnitPrice types.Money     `json:"unitPrice"`
	Discount  types.Money     `json:"discount"`
	Expected  *types.Quantity `json:"expectedPending"`
}

// BatchOrderRequest batches approved demand into a purchase order.
type BatchOrderRequest struct {
	SupplierID string           `json:"supplierId" binding:"required,uuid"`
	Buyer      string           `json:"buyer" binding:"required"`
	Comment    string           `json:"comment"`
	Selections []OrderSelection `json:"selections" binding:"required,min=1,dive"`
}

// ToInput converts to the pipeline input.
func (r BatchOrderRequest) ToInput() (pipeline.OrderInput, error) {
	supplierID, err := ParseID(r.SupplierID)
	if err != nil {
		return pipeline.OrderInput{}, err
	}

	in := pipeline.OrderInput{
		SupplierID: supplierID,
		Buyer:      r.Buyer,
		Comment:    r.Comment,
	}
	for _, sel := range r.Selections {
		requestID, err := ParseID(sel.RequestID)
		if err != nil {
			return pipeline.OrderInput{}, err
		}
		lineID, err := ParseID(sel.LineID)
		if err != nil {
			return pipeline.OrderInput{}, err
		}
		in.Selections = append(in.Selections, pipeline.Selection{
			RequestID:       requestID,
			LineID:          lineID,
			Quantity:        sel.Quantity,
			UnitPrice:       sel.UnitPrice,
			Discount:        sel.Discount,
			ExpectedPending: sel.Expected,
		})
	}
	return in, nil
}

// --- Receipts ---

// ReceiptLine is one received order line.
type ReceiptLine struct {
	OrderLineID string         `json:"orderLineId" binding:"required,uuid"`
	Quantity    types.Quantity `json:"quantity" binding:"required"`
	Serial      string         `json:"serial"`
}

// ReceiveGoodsRequest records goods arriving against an order.
type ReceiveGoodsRequest struct {
	Receiver string        `json:"receiver" binding:"required"`
	Comment  string        `json:"comment"`
	Lines    []ReceiptLine `json:"lines" binding:"required,min=1,dive"`
}

// ToInput converts to the pipeline input for the given order.
func (r ReceiveGoodsRequest) ToInput(orderID id.ID) (pipeline.ReceiptInput, error) {
	in := pipeline.ReceiptInput{
		OrderID:  orderID,
		Receiver: r.Receiver,
		Comment:  r.Comment,
	}
	for _, line := range r.Lines {
		orderLineID, err := ParseID(line.OrderLineID)
		if err != nil {
			return pipeline.ReceiptInput{}, err
		}
		in.Lines = append(in.Lines, pipeline.ReceiptLineInput{
			OrderLineID: orderLineID,
			Quantity:    line.Quantity,
			Serial:      line.Serial,
		})
	}
	return in, nil
}

// --- Dispatches ---

// DispatchLine is one dispatched request line.
type DispatchLine struct {
	RequestLineID string         `json:"requestLineId" binding:"required,uuid"`
	Quantity      types.Quantity `json:"quantity" binding:"required"`
	Serial        string         `json:"serial"`
}

// DispatchGoodsRequest hands goods out against a request.
type DispatchGoodsRequest struct {
	Dispatcher string         `json:"dispatcher" binding:"required"`
	Comment    string         `json:"comment"`
	Lines      []DispatchLine `json:"lines" binding:"required,min=1,dive"`
}

// ToInput converts to the pipeline input for the given request.
func (r DispatchGoodsRequest) ToInput(requestID id.ID) (pipeline.DispatchInput, error) {
	in := pipeline.DispatchInput{
		RequestID:  requestID,
		Dispatcher: r.Dispatcher,
		Comment:    r.Comment,
	}
	for _, line := range r.Lines {
		requestLineID, err := ParseID(line.RequestLineID)
		if err != nil {
			return pipeline.DispatchInput{}, err
		}
		in.Lines = append(in.Lines, pipeline.DispatchLineInput{
			RequestLineID: requestLineID,
			Quantity:      line.Quantity,
			Serial:        line.Serial,
		})
	}
	return in, nil
}
