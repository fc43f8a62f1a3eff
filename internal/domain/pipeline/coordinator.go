// Package pipeline orchestrates the fulfillment chain: request,
// approval, purchase order, goods receipt, dispatch. Every operation
// runs in one transaction and rebuilds the quantity record before and
// after mutating, so an inconsistency is caught at the boundary where
// it appears.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/tx"
	"abasto/internal/core/types"
	"abasto/internal/domain/audit"
	"abasto/internal/domain/authgate"
	"abasto/internal/domain/documents/dispatch"
	"abasto/internal/domain/documents/order"
	"abasto/internal/domain/documents/receipt"
	"abasto/internal/domain/documents/request"
	"abasto/internal/domain/policy"
	"abasto/internal/domain/reconcile"
	"abasto/internal/domain/registers/stock"
	"abasto/pkg/logger"
)

// Numberer allocates document numbers per kind.
type Numberer interface {
	Next(ctx context.Context, kind lifecycle.Kind) (string, error)
}

// Coordinator wires the documents, the register, and the guards into
// pipeline operations.
type Coordinator struct {
	txManager  tx.Manager
	requests   request.Repository
	orders     order.Repository
	receipts   receipt.Repository
	dispatches dispatch.Repository
	stock      *stock.Service
	reconciler *reconcile.Reconciler
	numberer   Numberer
	gate       authgate.Gate
	approver   *policy.AutoApprover
	sink       audit.Sink
}

// Config collects the coordinator's dependencies.
type Config struct {
	TxManager  tx.Manager
	Requests   request.Repository
	Orders     order.Repository
	Receipts   receipt.Repository
	Dispatches dispatch.Repository
	Stock      *stock.Service
	Numberer   Numberer
	Gate       authgate.Gate
	Approver   *policy.AutoApprover
	Sink       audit.Sink
}

// New creates a coordinator. Gate and Sink default to the open gate and
// the nop sink.
func New(cfg Config) *Coordinator {
	if cfg.Gate == nil {
		cfg.Gate = authgate.Open{}
	}
	if cfg.Sink == nil {
		cfg.Sink = audit.NopSink{}
	}
	c := &Coordinator{
		txManager:  cfg.TxManager,
		requests:   cfg.Requests,
		orders:     cfg.Orders,
		receipts:   cfg.Receipts,
		dispatches: cfg.Dispatches,
		stock:      cfg.Stock,
		numberer:   cfg.Numberer,
		gate:       cfg.Gate,
		approver:   cfg.Approver,
		sink:       cfg.Sink,
	}
	c.reconciler = reconcile.New(repoSource{c})
	return c
}

// Reconciler exposes the quantity record builder for read surfaces.
func (c *Coordinator) Reconciler() *reconcile.Reconciler { return c.reconciler }

// repoSource adapts repositories to the reconciler's Source.
type repoSource struct {
	c *Coordinator
}

func (s repoSource) GetRequest(ctx context.Context, requestID id.ID) (*request.Request, error) {
	return s.c.loadRequest(ctx, requestID)
}

func (s repoSource) OrdersByRequest(ctx context.Context, requestID id.ID) ([]*order.Order, error) {
	return s.c.orders.ListByRequest(ctx, requestID)
}

func (s repoSource) ReceiptsByOrder(ctx context.Context, orderID id.ID) ([]*receipt.Receipt, error) {
	return s.c.receipts.ListByOrder(ctx, orderID)
}

func (s repoSource) DispatchesByRequest(ctx context.Context, requestID id.ID) ([]*dispatch.Dispatch, error) {
	return s.c.dispatches.ListByRequest(ctx, requestID)
}

func (c *Coordinator) loadRequest(ctx context.Context, requestID id.ID) (*request.Request, error) {
	req, err := c.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Lines == nil {
		req.Lines, err = c.requests.GetLines(ctx, requestID)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (c *Coordinator) loadOrder(ctx context.Context, orderID id.ID) (*order.Order, error) {
	ord, err := c.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.Lines == nil {
		ord.Lines, err = c.orders.GetLines(ctx, orderID)
		if err != nil {
			return nil, err
		}
	}
	return ord, nil
}

func (c *Coordinator) record(ctx context.Context, event audit.Event) {
	c.sink.Record(ctx, event)
}

// flagRequest marks a request read-only after an integrity violation.
// The flag survives until an operator reconciles the documents by hand.
func (c *Coordinator) flagRequest(ctx context.Context, req *request.Request, cause error) {
	req.MarkReadOnly()
	if err := c.requests.Update(ctx, req); err != nil {
		logger.Error(ctx, "flag request read-only", "request_id", req.ID, "error", err)
		return
	}
	ev := audit.NewEvent("request", req.ID, audit.ActionFlag, "system")
	ev.Details = map[string]any{"cause": cause.Error()}
	c.record(ctx, ev)
	logger.Warn(ctx, "request flagged read-only", "request_id", req.ID, "cause", cause)
}

// checkRecord reconciles and flags the request on integrity failure.
func (c *Coordinator) checkRecord(ctx context.Context, requestID id.ID) (*reconcile.Record, error) {
	record, err := c.reconciler.Check(ctx, requestID)
	if err != nil && apperror.HasCode(err, apperror.CodeDataIntegrity) {
		if req, loadErr := c.loadRequest(ctx, requestID); loadErr == nil && !req.ReadOnly {
			c.flagRequest(ctx, req, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// --- Requests ---

// RequestLineInput is one demanded item on a new request.
type RequestLineInput struct {
	Item     entity.ItemRef
	Quantity types.Quantity
	Note     string
}

// RequestInput describes a new draft request.
type RequestInput struct {
	Requester  string
	Reason     string
	RequiredBy *time.Time
	Comment    string
	Lines      []RequestLineInput
}

// CreateRequest registers a new draft request and assigns its number.
func (c *Coordinator) CreateRequest(ctx context.Context, in RequestInput) (*request.Request, error) {
	req := request.NewRequest(in.Requester)
	req.Reason = in.Reason
	req.RequiredBy = in.RequiredBy
	req.Comment = in.Comment
	for _, line := range in.Lines {
		req.AddLine(line.Item, line.Quantity, line.Note)
	}

	if err := req.Validate(ctx); err != nil {
		return nil, err
	}

	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		number, err := c.numberer.Next(ctx, lifecycle.KindRequest)
		if err != nil {
			return fmt.Errorf("assign number: %w", err)
		}
		req.Number = number

		if err := c.requests.Create(ctx, req); err != nil {
			return err
		}
		if err := c.requests.SaveLines(ctx, req.ID, req.Lines); err != nil {
			return err
		}
		return c.requests.AppendHistory(ctx,
			request.NewHistoryEntry(req.ID, "", req.State, in.Requester, "created"))
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("request", req.ID, audit.ActionCreate, in.Requester))
	logger.Info(ctx, "request created", "request_id", req.ID, "number", req.Number)
	return req, nil
}

// SubmitRequest moves a draft into PENDING. When an auto-approval rule
// matches, the request is approved in full in the same transaction.
func (c *Coordinator) SubmitRequest(ctx context.Context, requestID id.ID) (*request.Request, error) {
	var req *request.Request
	autoApproved := false

	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		req, err = c.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := req.CanModify(lifecycle.KindRequest); err != nil {
			return err
		}
		if err := req.Validate(ctx); err != nil {
			return err
		}

		from := req.State
		if err := req.Transition(lifecycle.KindRequest, lifecycle.EventSubmit); err != nil {
			return err
		}
		if err := c.requests.AppendHistory(ctx,
			request.NewHistoryEntry(req.ID, from, req.State, req.Requester, "submitted")); err != nil {
			return err
		}

		if c.approver != nil {
			autoApproved, err = c.approver.ShouldAutoApprove(ctx, req)
			if err != nil {
				return err
			}
		}
		if autoApproved {
			if err := req.ApplyApproval(nil); err != nil {
				return err
			}
			from := req.State
			if err := req.Transition(lifecycle.KindRequest, lifecycle.EventApprove); err != nil {
				return err
			}
			now := time.Now().UTC()
			req.ApprovedAt = &now
			req.Responsible = "auto"
			req.ApprovalNote = "approved by policy rule"
			if err := c.requests.SaveLines(ctx, req.ID, req.Lines); err != nil {
				return err
			}
			if err := c.requests.AppendHistory(ctx,
				request.NewHistoryEntry(req.ID, from, req.State, "auto", req.ApprovalNote)); err != nil {
				return err
			}
		}

		return c.requests.Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("request", req.ID, audit.ActionSubmit, req.Requester))
	if autoApproved {
		c.record(ctx, audit.NewEvent("request", req.ID, audit.ActionApprove, "auto"))
	}
	logger.Info(ctx, "request submitted",
		"request_id", req.ID, "state", req.State, "auto_approved", autoApproved)
	return req, nil
}

// Decision carries an approval or rejection by a responsible person.
type Decision struct {
	Responsible string
	Challenge   string
	Note        string

	// Quantities overrides approved quantities per line. Lines missing
	// from the map are approved for the full requested quantity.
	Quantities map[id.ID]types.Quantity
}

// ApproveRequest records the approval decision. The responsible person
// must pass the authorization gate, and every approved quantity must
// stay within its requested quantity.
func (c *Coordinator) ApproveRequest(ctx context.Context, requestID id.ID, d Decision) (*request.Request, error) {
	if d.Responsible == "" {
		return nil, apperror.NewValidation("responsible is required").
			WithDetail("field", "responsible")
	}
	if err := c.gate.Verify(ctx, d.Responsible, d.Challenge); err != nil {
		return nil, err
	}

	var req *request.Request
	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		req, err = c.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := req.CanModify(lifecycle.KindRequest); err != nil {
			return err
		}
		if req.State != lifecycle.StatePending {
			return apperror.NewNotPending(req.ID.String(), string(req.State))
		}

		if err := req.ApplyApproval(d.Quantities); err != nil {
			return err
		}

		from := req.State
		if err := req.Transition(lifecycle.KindRequest, lifecycle.EventApprove); err != nil {
			return err
		}
		now := time.Now().UTC()
		req.ApprovedAt = &now
		req.Responsible = d.Responsible
		req.ApprovalNote = d.Note

		if err := c.requests.SaveLines(ctx, req.ID, req.Lines); err != nil {
			return err
		}
		if err := c.requests.Update(ctx, req); err != nil {
			return err
		}
		if err := c.requests.AppendHistory(ctx,
			request.NewHistoryEntry(req.ID, from, req.State, d.Responsible, d.Note)); err != nil {
			return err
		}
		// Post-condition: the approved quantities must still reconcile.
		_, err = c.reconciler.Check(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("request", req.ID, audit.ActionApprove, d.Responsible))
	logger.Info(ctx, "request approved", "request_id", req.ID, "responsible", d.Responsible)
	return req, nil
}

// RejectRequest records a rejection. Rejected requests are terminal.
func (c *Coordinator) RejectRequest(ctx context.Context, requestID id.ID, d Decision) (*request.Request, error) {
	if d.Responsible == "" {
		return nil, apperror.NewValidation("responsible is required").
			WithDetail("field", "responsible")
	}
	if err := c.gate.Verify(ctx, d.Responsible, d.Challenge); err != nil {
		return nil, err
	}

	var req *request.Request
	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		req, err = c.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := req.CanModify(lifecycle.KindRequest); err != nil {
			return err
		}
		if req.State != lifecycle.StatePending {
			return apperror.NewNotPending(req.ID.String(), string(req.State))
		}

		from := req.State
		if err := req.Transition(lifecycle.KindRequest, lifecycle.EventReject); err != nil {
			return err
		}
		req.ApprovalNote = d.Note

		if err := c.requests.Update(ctx, req); err != nil {
			return err
		}
		return c.requests.AppendHistory(ctx,
			request.NewHistoryEntry(req.ID, from, req.State, d.Responsible, d.Note))
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("request", req.ID, audit.ActionReject, d.Responsible))
	logger.Info(ctx, "request rejected", "request_id", req.ID, "responsible", d.Responsible)
	return req, nil
}

// --- Orders ---

// Selection picks approved demand from a request line into an order.
type Selection struct {
	RequestID id.ID
	LineID    id.ID
	Quantity  types.Quantity
	UnitPrice types.Money
	Discount  types.Money

	// ExpectedPending is the pending quantity the buyer saw when
	// selecting. A mismatch at commit time fails with STALE_PENDING.
	ExpectedPending *types.Quantity
}

// OrderInput describes a new purchase order batched from approved demand.
type OrderInput struct {
	SupplierID id.ID
	Buyer      string
	Comment    string
	Selections []Selection
}

// BatchIntoOrder creates a draft order from approved request lines.
// All selections commit or none do; a single stale or over-ceiling
// selection fails the whole batch.
func (c *Coordinator) BatchIntoOrder(ctx context.Context, in OrderInput) (*order.Order, error) {
	if len(in.Selections) == 0 {
		return nil, apperror.NewEmptyLines("order")
	}

	ord := order.NewOrder(in.SupplierID, in.Buyer)
	ord.Comment = in.Comment

	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		records := make(map[id.ID]*reconcile.Record)
		// Cumulative quantity per request line within this batch.
		batched := make(map[id.ID]types.Quantity)

		for _, sel := range in.Selections {
			record, ok := records[sel.RequestID]
			if !ok {
				req, err := c.loadRequest(ctx, sel.RequestID)
				if err != nil {
					return err
				}
				if err := req.CanModify(lifecycle.KindRequest); err != nil {
					return err
				}
				if req.State != lifecycle.StateApproved && req.State != lifecycle.StateDispatching {
					return apperror.NewBusinessRule(apperror.CodeBusinessRule,
						"only approved requests can be ordered").
						WithDetail("request_id", sel.RequestID.String()).
						WithDetail("state", string(req.State))
				}
				record, err = c.checkRecord(ctx, sel.RequestID)
				if err != nil {
					return err
				}
				records[sel.RequestID] = record
			}

			line := record.Line(sel.LineID)
			if line == nil {
				return apperror.NewNotFound("request line", sel.LineID)
			}
			if !sel.Quantity.IsPositive() {
				return apperror.NewValidation("selection quantity must be positive").
					WithDetail("line_id", sel.LineID.String())
			}
			if sel.ExpectedPending != nil && *sel.ExpectedPending != line.Pending {
				return apperror.NewStalePending(sel.RequestID.String()).
					WithDetail("line_id", sel.LineID.String()).
					WithDetail("expected", sel.ExpectedPending.String()).
					WithDetail("actual", line.Pending.String())
			}

			wanted := batched[sel.LineID] + sel.Quantity
			remaining := line.Approved - line.Ordered
			if wanted > remaining {
				return apperror.NewExceedsApproved(
					sel.LineID.String(),
					remaining.String(),
					wanted.String(),
				)
			}
			batched[sel.LineID] = wanted

			ord.AddLine(line.Item, sel.RequestID, sel.LineID, sel.Quantity, sel.UnitPrice, sel.Discount)
		}

		if err := ord.Validate(ctx); err != nil {
			return err
		}

		number, err := c.numberer.Next(ctx, lifecycle.KindOrder)
		if err != nil {
			return fmt.Errorf("assign number: %w", err)
		}
		ord.Number = number

		if err := c.orders.Create(ctx, ord); err != nil {
			return err
		}
		if err := c.orders.SaveLines(ctx, ord.ID, ord.Lines); err != nil {
			return err
		}
		// Post-condition: every sourced request must still reconcile with
		// the new order counted in.
		for requestID := range records {
			if _, err := c.reconciler.Check(ctx, requestID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("order", ord.ID, audit.ActionCreate, in.Buyer))
	logger.Info(ctx, "order created", "order_id", ord.ID, "number", ord.Number,
		"lines", len(ord.Lines), "total", ord.Total)
	return ord, nil
}

// ConfirmOrder issues a draft order to the supplier. The quantity
// records of every sourced request are re-verified first.
func (c *Coordinator) ConfirmOrder(ctx context.Context, orderID id.ID) (*order.Order, error) {
	var ord *order.Order
	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		ord, err = c.loadOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := ord.CanModify(lifecycle.KindOrder); err != nil {
			return err
		}
		if err := ord.Validate(ctx); err != nil {
			return err
		}

		for _, requestID := range sourcedRequests(ord) {
			if _, err := c.checkRecord(ctx, requestID); err != nil {
				return err
			}
		}

		if err := ord.Transition(lifecycle.KindOrder, lifecycle.EventConfirm); err != nil {
			return err
		}
		return c.orders.Update(ctx, ord)
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("order", ord.ID, audit.ActionConfirm, ord.Buyer))
	logger.Info(ctx, "order confirmed", "order_id", ord.ID, "number", ord.Number)
	return ord, nil
}

// CancelOrder withdraws an order that has not received any goods.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID id.ID, actor string) (*order.Order, error) {
	var ord *order.Order
	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		ord, err = c.loadOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := ord.CanModify(lifecycle.KindOrder); err != nil {
			return err
		}

		receipts, err := c.receipts.ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, rcp := range receipts {
			if !rcp.Cancelled {
				return apperror.NewBusinessRule(apperror.CodeBusinessRule,
					"order has receipts and cannot be cancelled").
					WithDetail("order_id", orderID.String()).
					WithDetail("receipt_id", rcp.ID.String())
			}
		}

		ord.Cancel()
		ord.Touch()
		return c.orders.Update(ctx, ord)
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("order", ord.ID, audit.ActionClose, actor))
	logger.Info(ctx, "order cancelled", "order_id", ord.ID, "actor", actor)
	return ord, nil
}

func sourcedRequests(ord *order.Order) []id.ID {
	seen := make(map[id.ID]bool)
	var out []id.ID
	for i := range ord.Lines {
		line := &ord.Lines[i]
		if line.Cancelled || id.IsNil(line.RequestID) {
			continue
		}
		if !seen[line.RequestID] {
			seen[line.RequestID] = true
			out = append(out, line.RequestID)
		}
	}
	return out
}

// --- Receipts ---

// ReceiptLineInput is one received position against an order line.
type ReceiptLineInput struct {
	OrderLineID id.ID
	Quantity    types.Quantity
	Serial      string
}

// ReceiptInput describes goods arriving against an issued order.
type ReceiptInput struct {
	OrderID  id.ID
	Receiver string
	Comment  string
	Lines    []ReceiptLineInput
}

// ReceiveGoods records a goods receipt, credits stock, and closes the
// order once every line is fully received. Cumulative receipts per
// order line can never exceed the ordered quantity.
func (c *Coordinator) ReceiveGoods(ctx context.Context, in ReceiptInput) (*receipt.Receipt, error) {
	rcp := receipt.NewReceipt(in.OrderID, in.Receiver)
	rcp.Comment = in.Comment

	var orderClosed bool
	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		ord, err := c.loadOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if err := ord.CanModify(lifecycle.KindOrder); err != nil {
			return err
		}
		if ord.State != lifecycle.StateIssued {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"goods can only be received against an issued order").
				WithDetail("order_id", ord.ID.String()).
				WithDetail("state", string(ord.State))
		}

		received, err := c.receivedByOrderLine(ctx, ord.ID)
		if err != nil {
			return err
		}

		for _, line := range in.Lines {
			ordLine := ord.LineByID(line.OrderLineID)
			if ordLine == nil {
				return apperror.NewNotFound("order line", line.OrderLineID)
			}
			if ordLine.Cancelled {
				return apperror.NewValidation("order line is cancelled").
					WithDetail("line_id", line.OrderLineID.String())
			}

			already := received[line.OrderLineID]
			if already+line.Quantity > ordLine.Quantity {
				return apperror.NewOverReceipt(
					line.OrderLineID.String(),
					ordLine.Quantity.String(),
					already.String(),
					line.Quantity.String(),
				)
			}
			received[line.OrderLineID] = already + line.Quantity

			rcp.AddLine(line.OrderLineID, ordLine.ItemRef, line.Quantity, line.Serial)
		}

		if err := rcp.Validate(ctx); err != nil {
			return err
		}
		if err := rcp.CheckSerials(); err != nil {
			return err
		}

		number, err := c.numberer.Next(ctx, lifecycle.KindReceipt)
		if err != nil {
			return fmt.Errorf("assign number: %w", err)
		}
		rcp.Number = number

		if err := rcp.Transition(lifecycle.KindReceipt, lifecycle.EventClose); err != nil {
			return err
		}

		// Credit stock before the receipt is written: the serial registry
		// is the last guard that can still reject the batch, and a
		// rejection must not leave a completed receipt behind.
		movements := make([]entity.StockMovement, 0, len(rcp.Lines))
		for i := range rcp.Lines {
			line := &rcp.Lines[i]
			movements = append(movements, entity.NewStockMovement(
				rcp.ID, "Receipt", rcp.Date, entity.RecordTypeCredit,
				line.ItemRef, line.Quantity, line.Serial,
			))
		}
		if err := c.stock.Credit(ctx, movements); err != nil {
			return err
		}

		if err := c.receipts.Create(ctx, rcp); err != nil {
			return err
		}
		if err := c.receipts.SaveLines(ctx, rcp.ID, rcp.Lines); err != nil {
			return err
		}

		if fullyReceived(ord, received) {
			if err := ord.Transition(lifecycle.KindOrder, lifecycle.EventFullyReceive); err != nil {
				return err
			}
			orderClosed = true
		}
		if err := c.orders.Update(ctx, ord); err != nil {
			return err
		}
		// Post-condition: the sourced requests must still reconcile with
		// the new receipt counted in.
		for _, requestID := range sourcedRequests(ord) {
			if _, err := c.reconciler.Check(ctx, requestID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("receipt", rcp.ID, audit.ActionReceive, in.Receiver))
	logger.Info(ctx, "goods received", "receipt_id", rcp.ID, "number", rcp.Number,
		"order_id", in.OrderID, "order_closed", orderClosed)
	return rcp, nil
}

// receivedByOrderLine sums prior receipts per order line.
func (c *Coordinator) receivedByOrderLine(ctx context.Context, orderID id.ID) (map[id.ID]types.Quantity, error) {
	out := make(map[id.ID]types.Quantity)
	receipts, err := c.receipts.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
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
			out[line.OrderLineID] += line.Quantity
		}
	}
	return out, nil
}

func fullyReceived(ord *order.Order, received map[id.ID]types.Quantity) bool {
	for i := range ord.Lines {
		line := &ord.Lines[i]
		if line.Cancelled {
			continue
		}
		if received[line.LineID] < line.Quantity {
			return false
		}
	}
	return true
}

// --- Dispatches ---

// DispatchLineInput is one handed-out position against a request line.
type DispatchLineInput struct {
	RequestLineID id.ID
	Quantity      types.Quantity
	Serial        string
}

// DispatchInput describes goods leaving the warehouse against a request.
type DispatchInput struct {
	RequestID  id.ID
	Dispatcher string
	Comment    string
	Lines      []DispatchLineInput
}

// DispatchGoods hands goods out against an approved request. The
// pending ceiling and the stock balance are both checked inside the
// transaction, so concurrent dispatches over the same remainder cannot
// both commit. When the last pending quantity is dispatched the request
// closes.
func (c *Coordinator) DispatchGoods(ctx context.Context, in DispatchInput) (*dispatch.Dispatch, error) {
	dsp := dispatch.NewDispatch(in.RequestID, in.Dispatcher)
	dsp.Comment = in.Comment

	var closed bool
	err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		req, err := c.loadRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if err := req.CanModify(lifecycle.KindRequest); err != nil {
			return err
		}
		if req.State != lifecycle.StateApproved && req.State != lifecycle.StateDispatching {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"only approved requests can be dispatched").
				WithDetail("request_id", req.ID.String()).
				WithDetail("state", string(req.State))
		}

		record, err := c.checkRecord(ctx, in.RequestID)
		if err != nil {
			return err
		}

		// Cumulative quantity per request line within this dispatch.
		wanted := make(map[id.ID]types.Quantity)
		for _, line := range in.Lines {
			rec := record.Line(line.RequestLineID)
			if rec == nil {
				return apperror.NewNotFound("request line", line.RequestLineID)
			}
			total := wanted[line.RequestLineID] + line.Quantity
			if total > rec.Pending {
				return apperror.NewInsufficientPending(
					line.RequestLineID.String(),
					rec.Pending.String(),
					total.String(),
				)
			}
			wanted[line.RequestLineID] = total

			dsp.AddLine(line.RequestLineID, rec.Item, line.Quantity, line.Serial)
		}

		if err := dsp.Validate(ctx); err != nil {
			return err
		}
		if err := dsp.CheckSerials(); err != nil {
			return err
		}

		number, err := c.numberer.Next(ctx, lifecycle.KindDispatch)
		if err != nil {
			return fmt.Errorf("assign number: %w", err)
		}
		dsp.Number = number

		if req.State == lifecycle.StateApproved {
			from := req.State
			if err := req.Transition(lifecycle.KindRequest, lifecycle.EventBeginDispatch); err != nil {
				return err
			}
			if err := c.requests.AppendHistory(ctx,
				request.NewHistoryEntry(req.ID, from, req.State, in.Dispatcher, "first dispatch")); err != nil {
				return err
			}
		}

		movements := make([]entity.StockMovement, 0, len(dsp.Lines))
		for i := range dsp.Lines {
			line := &dsp.Lines[i]
			movements = append(movements, entity.NewStockMovement(
				dsp.ID, "Dispatch", dsp.Date, entity.RecordTypeDebit,
				line.ItemRef, line.Quantity, line.Serial,
			))
		}
		if err := c.stock.Debit(ctx, movements); err != nil {
			return err
		}

		if err := dsp.Transition(lifecycle.KindDispatch, lifecycle.EventConfirm); err != nil {
			return err
		}
		if err := c.dispatches.Create(ctx, dsp); err != nil {
			return err
		}
		if err := c.dispatches.SaveLines(ctx, dsp.ID, dsp.Lines); err != nil {
			return err
		}

		// Mark request lines fulfilled once their approved quantity is
		// fully dispatched.
		for lineID, qty := range wanted {
			rec := record.Line(lineID)
			reqLine := req.LineByID(lineID)
			if reqLine == nil {
				continue
			}
			if rec.Dispatched+qty == rec.Approved {
				reqLine.Fulfilled = true
			}
		}
		if err := c.requests.SaveLines(ctx, req.ID, req.Lines); err != nil {
			return err
		}

		if req.AllFulfilled() {
			from := req.State
			if err := req.Transition(lifecycle.KindRequest, lifecycle.EventClose); err != nil {
				return err
			}
			now := time.Now().UTC()
			req.DispatchedAt = &now
			closed = true
			if err := c.requests.AppendHistory(ctx,
				request.NewHistoryEntry(req.ID, from, req.State, in.Dispatcher, "fully dispatched")); err != nil {
				return err
			}
		}
		if err := c.requests.Update(ctx, req); err != nil {
			return err
		}
		// Post-condition: dispatched must still fit inside approved with
		// the new dispatch counted in.
		_, err = c.reconciler.Check(ctx, in.RequestID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, audit.NewEvent("dispatch", dsp.ID, audit.ActionDispatch, in.Dispatcher))
	if closed {
		c.record(ctx, audit.NewEvent("request", in.RequestID, audit.ActionClose, in.Dispatcher))
	}
	logger.Info(ctx, "goods dispatched", "dispatch_id", dsp.ID, "number", dsp.Number,
		"request_id", in.RequestID, "request_closed", closed)
	return dsp, nil
}

// --- Read side ---

// GetRecord rebuilds the quantity record for a request.
func (c *Coordinator) GetRecord(ctx context.Context, requestID id.ID) (*reconcile.Record, error) {
	return c.reconciler.Reconcile(ctx, requestID)
}

// GetRequest loads a request with its lines.
func (c *Coordinator) GetRequest(ctx context.Context, requestID id.ID) (*request.Request, error) {
	return c.loadRequest(ctx, requestID)
}

// GetOrder loads an order with its lines.
func (c *Coordinator) GetOrder(ctx context.Context, orderID id.ID) (*order.Order, error) {
	return c.loadOrder(ctx, orderID)
}

// RequestHistory returns the state-change trail of a request.
func (c *Coordinator) RequestHistory(ctx context.Context, requestID id.ID) ([]request.HistoryEntry, error) {
	return c.requests.History(ctx, requestID)
}
