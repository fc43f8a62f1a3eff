// Package receipt provides the Goods Receipt document: confirmation that
// physical goods arrived against a purchase order. Article lines credit
// stock; asset lines register serial numbers instead.
package receipt

import (
	"context"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
)

// Receipt records quantities physically received against an order.
type Receipt struct {
	entity.Document

	OrderID id.ID `db:"order_id" json:"orderId"`

	// Receiver is the warehouse user who recorded the receipt.
	Receiver string `db:"receiver" json:"receiver,omitempty"`

	// Table part: received goods
	Lines []Line `db:"-" json:"lines"`
}

// Line is one received item against an order line.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	OrderLineID id.ID `db:"order_line_id" json:"orderLineId"`

	entity.ItemRef

	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// Serial identifies an individual asset unit. Required for asset lines
	// before the receipt can close; must be repository-unique.
	Serial string `db:"serial" json:"serial,omitempty"`

	Cancelled bool `db:"cancelled" json:"cancelled"`
}

// NewReceipt creates an OPEN receipt against an order.
func NewReceipt(orderID id.ID, receiver string) *Receipt {
	return &Receipt{
		Document: entity.NewDocument(lifecycle.KindReceipt),
		OrderID:  orderID,
		Receiver: receiver,
		Lines:    make([]Line, 0),
	}
}

// AddLine appends a received item.
func (r *Receipt) AddLine(orderLineID id.ID, item entity.ItemRef, quantity types.Quantity, serial string) {
	r.Lines = append(r.Lines, Line{
		LineID:      id.New(),
		LineNo:      len(r.Lines) + 1,
		OrderLineID: orderLineID,
		ItemRef:     item,
		Quantity:    quantity,
		Serial:      serial,
	})
}

// Validate implements entity.Validatable.
func (r *Receipt) Validate(ctx context.Context) error {
	if err := r.Document.Validate(ctx); err != nil {
		return err
	}

	if id.IsNil(r.OrderID) {
		return apperror.NewValidation("order is required").
			WithDetail("field", "orderId")
	}

	if len(r.Lines) == 0 {
		return apperror.NewEmptyLines("receipt")
	}

	for i, line := range r.Lines {
		if id.IsNil(line.OrderLineID) {
			return apperror.NewValidation("order line reference is required").
				WithDetail("line_no", i+1)
		}
		if err := line.ItemRef.Validate(line.Quantity); err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				appErr.WithDetail("line_no", i+1)
			}
			return err
		}
	}

	return nil
}

// CheckSerials verifies that every non-cancelled asset line carries a serial.
// Repository-uniqueness is the stock register's concern; this check is the
// close guard's local part.
func (r *Receipt) CheckSerials() error {
	for _, line := range r.Lines {
		if line.Cancelled || !line.IsAsset() {
			continue
		}
		if line.Serial == "" {
			return apperror.NewMissingSerial(line.LineID.String())
		}
	}
	return nil
}

// ActiveLines returns non-cancelled lines.
func (r *Receipt) ActiveLines() []Line {
	active := make([]Line, 0, len(r.Lines))
	for _, line := range r.Lines {
		if !line.Cancelled {
			active = append(active, line)
		}
	}
	return active
}
