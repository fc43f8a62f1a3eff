// Package request provides the Request document: a demand for articles or
// assets submitted by a requester, approved line by line, and consumed by
// dispatches.
package request

import (
	"context"
	"time"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
)

// Request is the aggregate root of the fulfillment pipeline.
type Request struct {
	entity.Document

	// Requester is the user who submitted the demand.
	Requester string `db:"requester" json:"requester"`

	// Responsible is the party whose credential authorized the approval.
	// Empty until the request is approved; rejection does not set it.
	Responsible string `db:"responsible" json:"responsible,omitempty"`

	// Reason justifies the demand.
	Reason string `db:"reason" json:"reason,omitempty"`

	// RequiredBy is the date the materials are needed.
	RequiredBy *time.Time `db:"required_by" json:"requiredBy,omitempty"`

	ApprovedAt   *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	DispatchedAt *time.Time `db:"dispatched_at" json:"dispatchedAt,omitempty"`

	// ApprovalNote carries the approver's remarks, including recorded
	// quantity discrepancies on partial approval.
	ApprovalNote string `db:"approval_note" json:"approvalNote,omitempty"`

	// Table part: requested items
	Lines []Line `db:"-" json:"lines"`
}

// Line is one requested item with its approval outcome.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	entity.ItemRef

	Requested types.Quantity `db:"requested" json:"requested"`

	// Approved is durable approval data, not a cache: it is the one place
	// the pipeline diverges from the original ask and is recorded at
	// approval time.
	Approved types.Quantity `db:"approved" json:"approved"`

	// Discrepancy = requested − approved, recorded when the approver
	// reduces a quantity. Zero on full approval.
	Discrepancy types.Quantity `db:"discrepancy" json:"discrepancy"`

	// Fulfilled is set once dispatched quantity equals approved quantity;
	// the line is immutable afterwards.
	Fulfilled bool `db:"fulfilled" json:"fulfilled"`

	// Cancelled lines contribute zero to reconciliation sums.
	Cancelled bool `db:"cancelled" json:"cancelled"`

	Note string `db:"note" json:"note,omitempty"`
}

// NewRequest creates a DRAFT request for the given requester.
func NewRequest(requester string) *Request {
	return &Request{
		Document:  entity.NewDocument(lifecycle.KindRequest),
		Requester: requester,
		Lines:     make([]Line, 0),
	}
}

// AddLine appends a requested item.
func (r *Request) AddLine(item entity.ItemRef, quantity types.Quantity, note string) {
	r.Lines = append(r.Lines, Line{
		LineID:    id.New(),
		LineNo:    len(r.Lines) + 1,
		ItemRef:   item,
		Requested: quantity,
		Note:      note,
	})
}

// Validate implements entity.Validatable.
func (r *Request) Validate(ctx context.Context) error {
	if err := r.Document.Validate(ctx); err != nil {
		return err
	}

	if r.Requester == "" {
		return apperror.NewValidation("requester is required").
			WithDetail("field", "requester")
	}

	if len(r.Lines) == 0 {
		return apperror.NewEmptyLines("request")
	}

	for i, line := range r.Lines {
		if err := line.ItemRef.Validate(line.Requested); err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				appErr.WithDetail("line_no", i+1)
			}
			return err
		}
	}

	return nil
}

// LineByID returns the line with the given ID, or nil.
func (r *Request) LineByID(lineID id.ID) *Line {
	for i := range r.Lines {
		if r.Lines[i].LineID == lineID {
			return &r.Lines[i]
		}
	}
	return nil
}

// ApplyApproval records per-line approved quantities. Every line must stay
// within its requested quantity; lines missing from the map are approved in
// full (auto-copy). Reduced lines record the discrepancy durably.
func (r *Request) ApplyApproval(approved map[id.ID]types.Quantity) error {
	for i := range r.Lines {
		line := &r.Lines[i]
		if line.Cancelled {
			line.Approved = 0
			continue
		}

		qty, ok := approved[line.LineID]
		if !ok {
			qty = line.Requested
		}

		if qty.IsNegative() {
			return apperror.NewValidation("approved quantity cannot be negative").
				WithDetail("line_id", line.LineID.String())
		}
		if qty > line.Requested {
			return apperror.NewOverApproval(
				line.LineID.String(),
				line.Requested.String(),
				qty.String(),
			)
		}
		if line.IsAsset() && !qty.IsWhole() {
			return apperror.NewValidation("asset quantities must be whole units").
				WithDetail("line_id", line.LineID.String())
		}

		line.Approved = qty
		line.Discrepancy = line.Requested - qty
	}
	return nil
}

// ActiveLines returns non-cancelled lines.
func (r *Request) ActiveLines() []Line {
	active := make([]Line, 0, len(r.Lines))
	for _, line := range r.Lines {
		if !line.Cancelled {
			active = append(active, line)
		}
	}
	return active
}

// AllFulfilled reports whether every active line with a positive approved
// quantity has been fulfilled.
func (r *Request) AllFulfilled() bool {
	any := false
	for _, line := range r.Lines {
		if line.Cancelled || line.Approved.IsZero() {
			continue
		}
		any = true
		if !line.Fulfilled {
			return false
		}
	}
	return any
}

// HistoryEntry records one state change for traceability.
type HistoryEntry struct {
	ID        id.ID           `db:"id" json:"id"`
	RequestID id.ID           `db:"request_id" json:"requestId"`
	FromState lifecycle.State `db:"from_state" json:"fromState,omitempty"`
	ToState   lifecycle.State `db:"to_state" json:"toState"`
	Actor     string          `db:"actor" json:"actor"`
	Note      string          `db:"note" json:"note,omitempty"`
	ChangedAt time.Time       `db:"changed_at" json:"changedAt"`
}

// NewHistoryEntry builds a history row for a state change.
func NewHistoryEntry(requestID id.ID, from, to lifecycle.State, actor, note string) HistoryEntry {
	return HistoryEntry{
		ID:        id.New(),
		RequestID: requestID,
		FromState: from,
		ToState:   to,
		Actor:     actor,
		Note:      note,
		ChangedAt: time.Now().UTC(),
	}
}
