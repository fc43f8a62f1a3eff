// Package order provides the Purchase Order document: approved demand
// aggregated for external sourcing from a supplier.
package order

import (
	"context"

	"github.com/shopspring/decimal"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
)

// Order aggregates line items drawn from one or more approved requests,
// or created ad hoc without a request.
type Order struct {
	entity.Document

	SupplierID id.ID `db:"supplier_id" json:"supplierId"`

	// Buyer is the procurement user who raised the order.
	Buyer string `db:"buyer" json:"buyer,omitempty"`

	// Totals (derived from lines)
	Subtotal      types.Money `db:"subtotal" json:"subtotal"`
	TotalDiscount types.Money `db:"total_discount" json:"totalDiscount"`
	Total         types.Money `db:"total" json:"total"`

	// Table part: ordered items
	Lines []Line `db:"-" json:"lines"`
}

// Line is one ordered item. Lines tracing back to a request carry the source
// request line reference; ad hoc lines leave both references nil.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	entity.ItemRef

	// Source request line, when the order was batched from approved demand.
	RequestID     id.ID `db:"request_id" json:"requestId,omitempty"`
	RequestLineID id.ID `db:"request_line_id" json:"requestLineId,omitempty"`

	Quantity  types.Quantity `db:"quantity" json:"quantity"`
	UnitPrice types.Money    `db:"unit_price" json:"unitPrice"`
	Discount  types.Money    `db:"discount" json:"discount"`

	// Subtotal = quantity*price − discount, computed on AddLine.
	Subtotal types.Money `db:"subtotal" json:"subtotal"`

	// Cancelled lines contribute zero to reconciliation sums.
	Cancelled bool `db:"cancelled" json:"cancelled"`
}

// NewOrder creates a DRAFT purchase order for a supplier.
func NewOrder(supplierID id.ID, buyer string) *Order {
	return &Order{
		Document:      entity.NewDocument(lifecycle.KindOrder),
		SupplierID:    supplierID,
		Buyer:         buyer,
		Subtotal:      decimal.Zero,
		TotalDiscount: decimal.Zero,
		Total:         decimal.Zero,
		Lines:         make([]Line, 0),
	}
}

// AddLine appends an ordered item and recalculates totals.
func (o *Order) AddLine(item entity.ItemRef, requestID, requestLineID id.ID, quantity types.Quantity, unitPrice, discount types.Money) {
	line := Line{
		LineID:        id.New(),
		LineNo:        len(o.Lines) + 1,
		ItemRef:       item,
		RequestID:     requestID,
		RequestLineID: requestLineID,
		Quantity:      quantity,
		UnitPrice:     unitPrice,
		Discount:      discount,
		Subtotal:      quantity.Decimal().Mul(unitPrice).Sub(discount),
	}

	o.Lines = append(o.Lines, line)
	o.recalculateTotals()
}

func (o *Order) recalculateTotals() {
	o.Subtotal = decimal.Zero
	o.TotalDiscount = decimal.Zero

	for _, line := range o.Lines {
		if line.Cancelled {
			continue
		}
		o.Subtotal = o.Subtotal.Add(line.Quantity.Decimal().Mul(line.UnitPrice))
		o.TotalDiscount = o.TotalDiscount.Add(line.Discount)
	}

	o.Total = o.Subtotal.Sub(o.TotalDiscount)
}

// Validate implements entity.Validatable.
func (o *Order) Validate(ctx context.Context) error {
	if err := o.Document.Validate(ctx); err != nil {
		return err
	}

	if id.IsNil(o.SupplierID) {
		return apperror.NewValidation("supplier is required").
			WithDetail("field", "supplierId")
	}

	if len(o.Lines) == 0 {
		return apperror.NewEmptyLines("order")
	}

	for i, line := range o.Lines {
		if err := line.ItemRef.Validate(line.Quantity); err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				appErr.WithDetail("line_no", i+1)
			}
			return err
		}
		if line.UnitPrice.IsNegative() {
			return apperror.NewValidation("unit price cannot be negative").
				WithDetail("line_no", i+1)
		}
		if line.Discount.IsNegative() {
			return apperror.NewValidation("discount cannot be negative").
				WithDetail("line_no", i+1)
		}
		if line.Subtotal.IsNegative() {
			return apperror.NewValidation("discount exceeds line amount").
				WithDetail("line_no", i+1)
		}
	}

	return nil
}

// LineByID returns the line with the given ID, or nil.
func (o *Order) LineByID(lineID id.ID) *Line {
	for i := range o.Lines {
		if o.Lines[i].LineID == lineID {
			return &o.Lines[i]
		}
	}
	return nil
}

// ActiveLines returns non-cancelled lines.
func (o *Order) ActiveLines() []Line {
	active := make([]Line, 0, len(o.Lines))
	for _, line := range o.Lines {
		if !line.Cancelled {
			active = append(active, line)
		}
	}
	return active
}
