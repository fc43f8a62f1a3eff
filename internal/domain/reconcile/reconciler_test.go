package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// stubSource serves documents from memory.
type stubSource struct {
	requests   map[id.ID]*request.Request
	orders     map[id.ID][]*order.Order
	receipts   map[id.ID][]*receipt.Receipt
	dispatches map[id.ID][]*dispatch.Dispatch
}

func newStubSource() *stubSource {
	return &stubSource{
		requests:   make(map[id.ID]*request.Request),
		orders:     make(map[id.ID][]*order.Order),
		receipts:   make(map[id.ID][]*receipt.Receipt),
		dispatches: make(map[id.ID][]*dispatch.Dispatch),
	}
}

func (s *stubSource) GetRequest(_ context.Context, requestID id.ID) (*request.Request, error) {
	req, ok := s.requests[requestID]
	if !ok {
		return nil, apperror.NewNotFound("request", requestID)
	}
	return req, nil
}

func (s *stubSource) OrdersByRequest(_ context.Context, requestID id.ID) ([]*order.Order, error) {
	return s.orders[requestID], nil
}

func (s *stubSource) ReceiptsByOrder(_ context.Context, orderID id.ID) ([]*receipt.Receipt, error) {
	return s.receipts[orderID], nil
}

func (s *stubSource) DispatchesByRequest(_ context.Context, requestID id.ID) ([]*dispatch.Dispatch, error) {
	return s.dispatches[requestID], nil
}

func qty(v float64) types.Quantity { return types.NewQuantityFromFloat64(v) }

func articleRef() entity.ItemRef {
	return entity.ItemRef{Kind: entity.ItemKindArticle, ID: id.New()}
}

func TestReconciler_PartialApprovalAndDispatch(t *testing.T) {
	src := newStubSource()

	req := request.NewRequest("jlopez")
	req.AddLine(articleRef(), qty(10), "")
	req.AddLine(articleRef(), qty(4), "")
	require.NoError(t, req.ApplyApproval(map[id.ID]types.Quantity{
		req.Lines[0].LineID: qty(6),
	}))
	req.State = lifecycle.StateDispatching
	src.requests[req.ID] = req

	dsp := dispatch.NewDispatch(req.ID, "bodega")
	dsp.AddLine(req.Lines[0].LineID, req.Lines[0].ItemRef, qty(2), "")
	dsp.State = lifecycle.StateCompleted
	src.dispatches[req.ID] = []*dispatch.Dispatch{dsp}

	// Draft dispatches reserve nothing.
	draft := dispatch.NewDispatch(req.ID, "bodega")
	draft.AddLine(req.Lines[1].LineID, req.Lines[1].ItemRef, qty(4), "")
	src.dispatches[req.ID] = append(src.dispatches[req.ID], draft)

	record, err := New(src).Check(context.Background(), req.ID)
	require.NoError(t, err)

	line0 := record.Line(req.Lines[0].LineID)
	require.NotNil(t, line0)
	assert.Equal(t, qty(10), line0.Requested)
	assert.Equal(t, qty(6), line0.Approved)
	assert.Equal(t, qty(2), line0.Dispatched)
	assert.Equal(t, qty(4), line0.Pending)

	line1 := record.Line(req.Lines[1].LineID)
	require.NotNil(t, line1)
	assert.Equal(t, qty(4), line1.Approved, "missing lines are approved in full")
	assert.Equal(t, types.Quantity(0), line1.Dispatched)
	assert.Equal(t, qty(4), line1.Pending)

	assert.Equal(t, qty(14), record.Requested)
	assert.Equal(t, qty(10), record.Approved)
	assert.Equal(t, qty(2), record.Dispatched)
	assert.Equal(t, qty(8), record.Pending)
}

func TestReconciler_OrderAndReceiptSums(t *testing.T) {
	src := newStubSource()

	req := request.NewRequest("jlopez")
	req.AddLine(articleRef(), qty(12), "")
	require.NoError(t, req.ApplyApproval(nil))
	req.State = lifecycle.StateApproved
	src.requests[req.ID] = req

	lineID := req.Lines[0].LineID

	// Issued order covering part of the demand.
	issued := order.NewOrder(id.New(), "compras")
	issued.AddLine(req.Lines[0].ItemRef, req.ID, lineID, qty(7), types.MustMoney("3.50"), types.ZeroMoney())
	issued.State = lifecycle.StateIssued

	// A draft order still reserves its quantity.
	draft := order.NewOrder(id.New(), "compras")
	draft.AddLine(req.Lines[0].ItemRef, req.ID, lineID, qty(5), types.MustMoney("3.40"), types.ZeroMoney())

	src.orders[req.ID] = []*order.Order{issued, draft}

	// Partial receipt against the issued order.
	rcp := receipt.NewReceipt(issued.ID, "bodega")
	rcp.AddLine(issued.Lines[0].LineID, issued.Lines[0].ItemRef, qty(4), "")
	rcp.State = lifecycle.StateCompleted
	src.receipts[issued.ID] = []*receipt.Receipt{rcp}

	record, err := New(src).Check(context.Background(), req.ID)
	require.NoError(t, err)

	line := record.Line(lineID)
	require.NotNil(t, line)
	assert.Equal(t, qty(12), line.Approved)
	assert.Equal(t, qty(12), line.Ordered)
	assert.Equal(t, qty(4), line.Received)
	assert.Equal(t, qty(12), line.Pending)
}

func TestReconciler_CancelledDocumentsContributeZero(t *testing.T) {
	src := newStubSource()

	req := request.NewRequest("jlopez")
	req.AddLine(articleRef(), qty(10), "")
	require.NoError(t, req.ApplyApproval(nil))
	src.requests[req.ID] = req

	lineID := req.Lines[0].LineID

	cancelled := order.NewOrder(id.New(), "compras")
	cancelled.AddLine(req.Lines[0].ItemRef, req.ID, lineID, qty(10), types.MustMoney("1.00"), types.ZeroMoney())
	cancelled.Cancel()
	src.orders[req.ID] = []*order.Order{cancelled}

	dsp := dispatch.NewDispatch(req.ID, "bodega")
	dsp.AddLine(lineID, req.Lines[0].ItemRef, qty(3), "")
	dsp.State = lifecycle.StateCompleted
	dsp.Lines[0].Cancelled = true
	src.dispatches[req.ID] = []*dispatch.Dispatch{dsp}

	record, err := New(src).Check(context.Background(), req.ID)
	require.NoError(t, err)

	line := record.Line(lineID)
	assert.Equal(t, types.Quantity(0), line.Ordered)
	assert.Equal(t, types.Quantity(0), line.Dispatched)
	assert.Equal(t, qty(10), line.Pending)
}

func TestReconciler_ZeroApprovedShortCircuitsPending(t *testing.T) {
	src := newStubSource()

	req := request.NewRequest("jlopez")
	req.AddLine(articleRef(), qty(5), "")
	require.NoError(t, req.ApplyApproval(map[id.ID]types.Quantity{
		req.Lines[0].LineID: 0,
	}))
	src.requests[req.ID] = req

	record, err := New(src).Check(context.Background(), req.ID)
	require.NoError(t, err)

	line := record.Line(req.Lines[0].LineID)
	assert.Equal(t, types.Quantity(0), line.Approved)
	assert.Equal(t, types.Quantity(0), line.Pending)
}

func TestReconciler_IntegrityViolations(t *testing.T) {
	t.Run("dispatched exceeds approved", func(t *testing.T) {
		src := newStubSource()

		req := request.NewRequest("jlopez")
		req.AddLine(articleRef(), qty(5), "")
		require.NoError(t, req.ApplyApproval(map[id.ID]types.Quantity{
			req.Lines[0].LineID: qty(2),
		}))
		src.requests[req.ID] = req

		dsp := dispatch.NewDispatch(req.ID, "bodega")
		dsp.AddLine(req.Lines[0].LineID, req.Lines[0].ItemRef, qty(3), "")
		dsp.State = lifecycle.StateCompleted
		src.dispatches[req.ID] = []*dispatch.Dispatch{dsp}

		_, err := New(src).Check(context.Background(), req.ID)
		require.Error(t, err)
		assert.True(t, apperror.HasCode(err, apperror.CodeDataIntegrity))
	})

	t.Run("orphan movement line", func(t *testing.T) {
		src := newStubSource()

		req := request.NewRequest("jlopez")
		req.AddLine(articleRef(), qty(5), "")
		require.NoError(t, req.ApplyApproval(nil))
		src.requests[req.ID] = req

		dsp := dispatch.NewDispatch(req.ID, "bodega")
		dsp.AddLine(id.New(), req.Lines[0].ItemRef, qty(1), "")
		dsp.State = lifecycle.StateCompleted
		src.dispatches[req.ID] = []*dispatch.Dispatch{dsp}

		record, err := New(src).Check(context.Background(), req.ID)
		require.Error(t, err)
		assert.True(t, apperror.HasCode(err, apperror.CodeDataIntegrity))
		require.NotNil(t, record)
		assert.Len(t, record.Orphans, 1)
	})
}

func TestReconciler_Idempotent(t *testing.T) {
	src := newStubSource()

	req := request.NewRequest("jlopez")
	req.AddLine(articleRef(), qty(9), "")
	require.NoError(t, req.ApplyApproval(nil))
	src.requests[req.ID] = req

	dsp := dispatch.NewDispatch(req.ID, "bodega")
	dsp.AddLine(req.Lines[0].LineID, req.Lines[0].ItemRef, qty(4), "")
	dsp.State = lifecycle.StateCompleted
	src.dispatches[req.ID] = []*dispatch.Dispatch{dsp}

	rc := New(src)
	first, err := rc.Reconcile(context.Background(), req.ID)
	require.NoError(t, err)
	second, err := rc.Reconcile(context.Background(), req.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
