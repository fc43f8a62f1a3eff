package dispatch

import (
	"context"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
)

// Dispatch hands approved goods out of the warehouse against a request.
// Completing a dispatch is what consumes pending quantity; a draft
// dispatch reserves nothing.
type Dispatch struct {
	entity.Document

	RequestID  id.ID  `json:"request_id" db:"request_id"`
	Dispatcher string `json:"dispatcher" db:"dispatcher"`

	Lines []Line `json:"lines" db:"-"`
}

// Line is one dispatched position, tied back to the request line it
// draws down.
type Line struct {
	LineID        id.ID `json:"line_id" db:"line_id"`
	LineNo        int   `json:"line_no" db:"line_no"`
	RequestLineID id.ID `json:"request_line_id" db:"request_line_id"`

	entity.ItemRef

	Quantity types.Quantity `json:"quantity" db:"quantity"`
	Serial   string         `json:"serial,omitempty" db:"serial"`

	Cancelled bool `json:"cancelled" db:"cancelled"`
}

func NewDispatch(requestID id.ID, dispatcher string) *Dispatch {
	d := &Dispatch{
		Document:   entity.NewDocument(lifecycle.KindDispatch),
		RequestID:  requestID,
		Dispatcher: dispatcher,
	}
	return d
}

// AddLine appends a dispatched item.
func (d *Dispatch) AddLine(requestLineID id.ID, item entity.ItemRef, quantity types.Quantity, serial string) {
	d.Lines = append(d.Lines, Line{
		LineID:        id.New(),
		LineNo:        len(d.Lines) + 1,
		RequestLineID: requestLineID,
		ItemRef:       item,
		Quantity:      quantity,
		Serial:        serial,
	})
}

// Validate implements entity.Validatable.
func (d *Dispatch) Validate(ctx context.Context) error {
	if err := d.Document.Validate(ctx); err != nil {
		return err
	}

	if id.IsNil(d.RequestID) {
		return apperror.NewValidation("request is required").
			WithDetail("field", "requestId")
	}

	if len(d.Lines) == 0 {
		return apperror.NewEmptyLines("dispatch")
	}

	for i, line := range d.Lines {
		if id.IsNil(line.RequestLineID) {
			return apperror.NewValidation("request line reference is required").
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

// CheckSerials verifies every active asset line carries a serial.
// Part of the completion guard; register-level uniqueness is checked
// by the stock register on debit.
func (d *Dispatch) CheckSerials() error {
	for i := range d.Lines {
		line := &d.Lines[i]
		if line.Cancelled {
			continue
		}
		if line.IsAsset() && line.Serial == "" {
			return apperror.NewMissingSerial(line.LineID.String())
		}
	}
	return nil
}

func (d *Dispatch) LineByID(lineID id.ID) *Line {
	for i := range d.Lines {
		if d.Lines[i].LineID == lineID {
			return &d.Lines[i]
		}
	}
	return nil
}

// ActiveLines returns the non-cancelled lines.
func (d *Dispatch) ActiveLines() []Line {
	out := make([]Line, 0, len(d.Lines))
	for _, l := range d.Lines {
		if !l.Cancelled {
			out = append(out, l)
		}
	}
	return out
}
