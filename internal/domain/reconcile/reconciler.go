// Package reconcile computes the quantity record of a request from its
// source documents. The record is never stored: it is rebuilt from the
// request, its orders, their receipts, and its dispatches every time it
// is needed, so two rebuilds over the same documents always agree.
package reconcile

import (
	"context"
	"fmt"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
	"abasto/internal/domain/documents/dispatch"
	"abasto/internal/domain/documents/order"
	"abasto/internal/domain/documents/receipt"
	"abasto/internal/domain/documents/request"
)

// Source provides the documents feeding a request's quantity record.
// Implemented by the storage layer; list methods return non-cancelled
// documents only.
type Source interface {
	GetRequest(ctx context.Context, requestID id.ID) (*request.Request, error)
	OrdersByRequest(ctx context.Context, requestID id.ID) ([]*order.Order, error)
	ReceiptsByOrder(ctx context.Context, orderID id.ID) ([]*receipt.Receipt, error)
	DispatchesByRequest(ctx context.Context, requestID id.ID) ([]*dispatch.Dispatch, error)
}

// LineRecord is the reconciled quantity set for one request line.
type LineRecord struct {
	LineID id.ID          `json:"lineId"`
	LineNo int            `json:"lineNo"`
	Item   entity.ItemRef `json:"item"`

	Requested  types.Quantity `json:"requested"`
	Approved   types.Quantity `json:"approved"`
	Ordered    types.Quantity `json:"ordered"`
	Received   types.Quantity `json:"received"`
	Dispatched types.Quantity `json:"dispatched"`

	// Pending = approved − dispatched. A line with zero approved has
	// zero pending regardless of other sums.
	Pending types.Quantity `json:"pending"`
}

// Record is the reconciled quantity record for a request.
type Record struct {
	RequestID id.ID           `json:"requestId"`
	Number    string          `json:"number"`
	State     lifecycle.State `json:"state"`

	Lines []LineRecord `json:"lines"`

	// Totals over all lines.
	Requested  types.Quantity `json:"requested"`
	Approved   types.Quantity `json:"approved"`
	Ordered    types.Quantity `json:"ordered"`
	Received   types.Quantity `json:"received"`
	Dispatched types.Quantity `json:"dispatched"`
	Pending    types.Quantity `json:"pending"`

	// Orphans are line references in orders or dispatches that do not
	// resolve to any line of the request. Always an integrity fault.
	Orphans []id.ID `json:"orphans,omitempty"`
}

// Line returns the record for a request line, or nil.
func (r *Record) Line(lineID id.ID) *LineRecord {
	for i := range r.Lines {
		if r.Lines[i].LineID == lineID {
			return &r.Lines[i]
		}
	}
	return nil
}

// Verify checks record-level invariants. A violation means the stored
// documents contradict each other; callers mark the request read-only.
func (r *Record) Verify() error {
	if len(r.Orphans) > 0 {
		return apperror.NewDataIntegrity("request", r.RequestID,
			fmt.Sprintf("%d movement lines reference unknown request lines", len(r.Orphans)))
	}
	for i := range r.Lines {
		line := &r.Lines[i]
		if line.Dispatched > line.Approved {
			return apperror.NewDataIntegrity("request", r.RequestID,
				"dispatched quantity exceeds approved quantity").
				WithDetail("line_id", line.LineID.String()).
				WithDetail("approved", line.Approved.String()).
				WithDetail("dispatched", line.Dispatched.String())
		}
		if line.Ordered > line.Approved {
			return apperror.NewDataIntegrity("request", r.RequestID,
				"ordered quantity exceeds approved quantity").
				WithDetail("line_id", line.LineID.String()).
				WithDetail("approved", line.Approved.String()).
				WithDetail("ordered", line.Ordered.String())
		}
	}
	return nil
}

// Reconciler rebuilds quantity records from source documents.
type Reconciler struct {
	source Source
}

func New(source Source) *Reconciler {
	return &Reconciler{source: source}
}

// Reconcile builds the quantity record for a request.
//
// Counting rules:
//   - cancelled lines (on any document) contribute zero;
//   - ordered sums every non-cancelled order, drafts included, since a
//     draft order already reserves approved quantity;
//   - received sums non-cancelled receipt lines through their order line;
//   - dispatched sums only COMPLETED dispatches.
func (rc *Reconciler) Reconcile(ctx context.Context, requestID id.ID) (*Record, error) {
	req, err := rc.source.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}

	record := &Record{
		RequestID: req.ID,
		Number:    req.Number,
		State:     req.State,
	}

	index := make(map[id.ID]*LineRecord, len(req.Lines))
	for i := range req.Lines {
		line := &req.Lines[i]
		if line.Cancelled {
			continue
		}
		record.Lines = append(record.Lines, LineRecord{
			LineID:    line.LineID,
			LineNo:    line.LineNo,
			Item:      line.ItemRef,
			Requested: line.Requested,
			Approved:  line.Approved,
		})
	}
	for i := range record.Lines {
		index[record.Lines[i].LineID] = &record.Lines[i]
	}

	orders, err := rc.source.OrdersByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	// order line -> request line, for mapping receipts back.
	orderLineOrigin := make(map[id.ID]id.ID)

	for _, ord := range orders {
		if ord.Cancelled {
			continue
		}
		for i := range ord.Lines {
			line := &ord.Lines[i]
			if line.Cancelled || line.RequestID != requestID {
				continue
			}
			orderLineOrigin[line.LineID] = line.RequestLineID
			rec, ok := index[line.RequestLineID]
			if !ok {
				record.Orphans = append(record.Orphans, line.LineID)
				continue
			}
			rec.Ordered += line.Quantity
		}

		receipts, err := rc.source.ReceiptsByOrder(ctx, ord.ID)
		if err != nil {
			return nil, fmt.Errorf("list receipts for order %s: %w", ord.ID, err)
		}
		for _, rcp := range receipts {
			if rcp.Cancelled {
				continue
			}
			for i := range rcp.Lines {
				line := &rcp.Lines[i]
				if line.Cancelled {
					continue
				}
				origin, ok := orderLineOrigin[line.OrderLineID]
				if !ok {
					// Receipt against an ad hoc order line; no request
					// line to credit.
					continue
				}
				rec, ok := index[origin]
				if !ok {
					record.Orphans = append(record.Orphans, line.LineID)
					continue
				}
				rec.Received += line.Quantity
			}
		}
	}

	dispatches, err := rc.source.DispatchesByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	for _, dsp := range dispatches {
		if dsp.Cancelled || dsp.State != lifecycle.StateCompleted {
			continue
		}
		for i := range dsp.Lines {
			line := &dsp.Lines[i]
			if line.Cancelled {
				continue
			}
			rec, ok := index[line.RequestLineID]
			if !ok {
				record.Orphans = append(record.Orphans, line.LineID)
				continue
			}
			rec.Dispatched += line.Quantity
		}
	}

	for i := range record.Lines {
		line := &record.Lines[i]
		if line.Approved.IsZero() {
			line.Pending = 0
		} else {
			line.Pending = line.Approved - line.Dispatched
		}

		record.Requested += line.Requested
		record.Approved += line.Approved
		record.Ordered += line.Ordered
		record.Received += line.Received
		record.Dispatched += line.Dispatched
		record.Pending += line.Pending
	}

	return record, nil
}

// Check reconciles and verifies in one step.
func (rc *Reconciler) Check(ctx context.Context, requestID id.ID) (*Record, error) {
	record, err := rc.Reconcile(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := record.Verify(); err != nil {
		return record, err
	}
	return record, nil
}
