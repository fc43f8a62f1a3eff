package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
	"abasto/internal/domain/audit"
	"abasto/internal/domain/documents/dispatch"
	"abasto/internal/domain/documents/order"
	"abasto/internal/domain/documents/request"
	"abasto/internal/domain/policy"
	"abasto/internal/domain/registers/stock"
	"abasto/internal/infrastructure/storage/memory"
)

type pinGate struct {
	pins map[string]string
}

func (g pinGate) Verify(_ context.Context, responsible, challenge string) error {
	if g.pins[responsible] != challenge {
		return apperror.NewAuthDenied(responsible)
	}
	return nil
}

type fixture struct {
	ledger      *memory.Ledger
	coordinator *Coordinator
	sink        *audit.MemorySink
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()

	ledger := memory.NewLedger()
	sink := audit.NewMemorySink()

	cfg := Config{
		TxManager:  memory.NewTxManager(),
		Requests:   ledger.Requests(),
		Orders:     ledger.Orders(),
		Receipts:   ledger.Receipts(),
		Dispatches: ledger.Dispatches(),
		Stock:      stock.NewService(ledger.Stock()),
		Numberer:   ledger.Numberer(),
		Sink:       sink,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &fixture{
		ledger:      ledger,
		coordinator: New(cfg),
		sink:        sink,
	}
}

func qty(v float64) types.Quantity { return types.NewQuantityFromFloat64(v) }

func article() entity.ItemRef {
	return entity.ItemRef{Kind: entity.ItemKindArticle, ID: id.New()}
}

func asset() entity.ItemRef {
	return entity.ItemRef{Kind: entity.ItemKindAsset, ID: id.New()}
}

func TestPipeline_FullCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paper := article()

	req, err := f.coordinator.CreateRequest(ctx, RequestInput{
		Requester: "jlopez",
		Reason:    "monthly restock",
		Lines: []RequestLineInput{
			{Item: paper, Quantity: qty(10)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateDraft, req.State)
	assert.Regexp(t, `^SOL-\d{4}-\d{5}$`, req.Number)

	req, err = f.coordinator.SubmitRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatePending, req.State)

	lineID := req.Lines[0].LineID
	req, err = f.coordinator.ApproveRequest(ctx, req.ID, Decision{
		Responsible: "mgarcia",
		Quantities:  map[id.ID]types.Quantity{lineID: qty(8)},
		Note:        "budget cap",
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateApproved, req.State)
	assert.Equal(t, qty(2), req.Lines[0].Discrepancy)
	require.NotNil(t, req.ApprovedAt)
	assertRecordConsistent(t, f, req.ID)

	pending := qty(8)
	ord, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
		SupplierID: id.New(),
		Buyer:      "compras",
		Selections: []Selection{{
			RequestID:       req.ID,
			LineID:          lineID,
			Quantity:        qty(8),
			UnitPrice:       types.MustMoney("2.50"),
			Discount:        types.MustMoney("1.00"),
			ExpectedPending: &pending,
		}},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^OC-\d{4}-\d{5}$`, ord.Number)
	assert.True(t, ord.Total.Equal(types.MustMoney("19.00")), "total = 8*2.50 - 1.00, got %s", ord.Total)

	ord, err = f.coordinator.ConfirmOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateIssued, ord.State)
	assertRecordConsistent(t, f, req.ID)

	// Two partial receipts close the order.
	_, err = f.coordinator.ReceiveGoods(ctx, ReceiptInput{
		OrderID:  ord.ID,
		Receiver: "bodega",
		Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(5)}},
	})
	require.NoError(t, err)

	rcp, err := f.coordinator.ReceiveGoods(ctx, ReceiptInput{
		OrderID:  ord.ID,
		Receiver: "bodega",
		Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(3)}},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^REC-\d{4}-\d{5}$`, rcp.Number)

	closedOrd, err := f.coordinator.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReceived, closedOrd.State)
	assertRecordConsistent(t, f, req.ID)

	available, err := f.coordinator.stock.GetAvailability(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, qty(8), available)

	// Partial dispatch, then the remainder closes the request.
	dsp, err := f.coordinator.DispatchGoods(ctx, DispatchInput{
		RequestID:  req.ID,
		Dispatcher: "bodega",
		Lines:      []DispatchLineInput{{RequestLineID: lineID, Quantity: qty(3)}},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^DES-\d{4}-\d{5}$`, dsp.Number)
	assert.Equal(t, lifecycle.StateCompleted, dsp.State)

	mid, err := f.coordinator.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateDispatching, mid.State)
	assertRecordConsistent(t, f, req.ID)

	_, err = f.coordinator.DispatchGoods(ctx, DispatchInput{
		RequestID:  req.ID,
		Dispatcher: "bodega",
		Lines:      []DispatchLineInput{{RequestLineID: lineID, Quantity: qty(5)}},
	})
	require.NoError(t, err)

	final, err := f.coordinator.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateClosed, final.State)
	require.NotNil(t, final.DispatchedAt)
	assertRecordConsistent(t, f, req.ID)

	record, err := f.coordinator.GetRecord(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, qty(10), record.Requested)
	assert.Equal(t, qty(8), record.Approved)
	assert.Equal(t, qty(8), record.Ordered)
	assert.Equal(t, qty(8), record.Received)
	assert.Equal(t, qty(8), record.Dispatched)
	assert.Equal(t, types.Quantity(0), record.Pending)

	available, err = f.coordinator.stock.GetAvailability(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(0), available)

	history, err := f.coordinator.RequestHistory(ctx, req.ID)
	require.NoError(t, err)
	states := make([]lifecycle.State, 0, len(history))
	for _, h := range history {
		states = append(states, h.ToState)
	}
	assert.Equal(t, []lifecycle.State{
		lifecycle.StateDraft,
		lifecycle.StatePending,
		lifecycle.StateApproved,
		lifecycle.StateDispatching,
		lifecycle.StateClosed,
	}, states)

	assert.NotEmpty(t, f.sink.ByEntity(req.ID))
}

func TestPipeline_ApprovalGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("responsible required", func(t *testing.T) {
		f := newFixture(t)
		req := mustPendingRequest(t, f, article(), qty(5))

		_, err := f.coordinator.ApproveRequest(ctx, req.ID, Decision{})
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	})

	t.Run("gate denies wrong pin", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config) {
			cfg.Gate = pinGate{pins: map[string]string{"mgarcia": "4821"}}
		})
		req := mustPendingRequest(t, f, article(), qty(5))

		_, err := f.coordinator.ApproveRequest(ctx, req.ID, Decision{
			Responsible: "mgarcia",
			Challenge:   "0000",
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeAuthDenied))

		_, err = f.coordinator.ApproveRequest(ctx, req.ID, Decision{
			Responsible: "mgarcia",
			Challenge:   "4821",
		})
		assert.NoError(t, err)
	})

	t.Run("over approval", func(t *testing.T) {
		f := newFixture(t)
		req := mustPendingRequest(t, f, article(), qty(5))

		_, err := f.coordinator.ApproveRequest(ctx, req.ID, Decision{
			Responsible: "mgarcia",
			Quantities:  map[id.ID]types.Quantity{req.Lines[0].LineID: qty(6)},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeOverApproval))
	})

	t.Run("approve non-pending", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.coordinator.CreateRequest(ctx, RequestInput{
			Requester: "jlopez",
			Lines:     []RequestLineInput{{Item: article(), Quantity: qty(1)}},
		})
		require.NoError(t, err)

		_, err = f.coordinator.ApproveRequest(ctx, req.ID, Decision{Responsible: "mgarcia"})
		assert.True(t, apperror.HasCode(err, apperror.CodeNotPending))
	})

	t.Run("rejected request is terminal", func(t *testing.T) {
		f := newFixture(t)
		req := mustPendingRequest(t, f, article(), qty(5))

		_, err := f.coordinator.RejectRequest(ctx, req.ID, Decision{
			Responsible: "mgarcia",
			Note:        "not budgeted",
		})
		require.NoError(t, err)

		_, err = f.coordinator.SubmitRequest(ctx, req.ID)
		assert.True(t, apperror.HasCode(err, apperror.CodeDocumentClosed))

		_, err = f.coordinator.ApproveRequest(ctx, req.ID, Decision{Responsible: "mgarcia"})
		assert.True(t, apperror.HasCode(err, apperror.CodeDocumentClosed))
	})
}

func TestPipeline_AutoApproval(t *testing.T) {
	ctx := context.Background()

	engine, err := policy.NewEngine()
	require.NoError(t, err)
	approver, err := policy.NewAutoApprover(engine, []string{
		"!has_assets && total_quantity <= 5.0",
	})
	require.NoError(t, err)

	f := newFixture(t, func(cfg *Config) {
		cfg.Approver = approver
	})

	t.Run("small article request approves itself", func(t *testing.T) {
		req, err := f.coordinator.CreateRequest(ctx, RequestInput{
			Requester: "jlopez",
			Lines:     []RequestLineInput{{Item: article(), Quantity: qty(3)}},
		})
		require.NoError(t, err)

		req, err = f.coordinator.SubmitRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateApproved, req.State)
		assert.Equal(t, "auto", req.Responsible)
		assert.Equal(t, qty(3), req.Lines[0].Approved)
	})

	t.Run("asset request waits for a decision", func(t *testing.T) {
		req, err := f.coordinator.CreateRequest(ctx, RequestInput{
			Requester: "jlopez",
			Lines:     []RequestLineInput{{Item: asset(), Quantity: qty(1)}},
		})
		require.NoError(t, err)

		req, err = f.coordinator.SubmitRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatePending, req.State)
	})
}

func TestPipeline_OrderGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("exceeds approved", func(t *testing.T) {
		f := newFixture(t)
		req := mustApprovedRequest(t, f, article(), qty(10), qty(8))

		_, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{{
				RequestID: req.ID,
				LineID:    req.Lines[0].LineID,
				Quantity:  qty(9),
				UnitPrice: types.MustMoney("1.00"),
			}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeExceedsApproved))
	})

	t.Run("duplicate selections accumulate against the ceiling", func(t *testing.T) {
		f := newFixture(t)
		req := mustApprovedRequest(t, f, article(), qty(10), qty(8))

		sel := Selection{
			RequestID: req.ID,
			LineID:    req.Lines[0].LineID,
			Quantity:  qty(5),
			UnitPrice: types.MustMoney("1.00"),
		}
		_, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{sel, sel},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeExceedsApproved))
	})

	t.Run("stale pending", func(t *testing.T) {
		f := newFixture(t)
		req := mustApprovedRequest(t, f, article(), qty(10), qty(8))

		stale := qty(10) // buyer saw the pre-approval quantity
		_, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{{
				RequestID:       req.ID,
				LineID:          req.Lines[0].LineID,
				Quantity:        qty(4),
				UnitPrice:       types.MustMoney("1.00"),
				ExpectedPending: &stale,
			}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeStalePending))
	})

	t.Run("draft order reserves quantity", func(t *testing.T) {
		f := newFixture(t)
		req := mustApprovedRequest(t, f, article(), qty(10), qty(8))

		_, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{{
				RequestID: req.ID,
				LineID:    req.Lines[0].LineID,
				Quantity:  qty(6),
				UnitPrice: types.MustMoney("1.00"),
			}},
		})
		require.NoError(t, err)

		// Only 2 of the 8 approved remain orderable.
		_, err = f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{{
				RequestID: req.ID,
				LineID:    req.Lines[0].LineID,
				Quantity:  qty(3),
				UnitPrice: types.MustMoney("1.00"),
			}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeExceedsApproved))
	})

	t.Run("pending request cannot be ordered", func(t *testing.T) {
		f := newFixture(t)
		req := mustPendingRequest(t, f, article(), qty(5))

		_, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{{
				RequestID: req.ID,
				LineID:    req.Lines[0].LineID,
				Quantity:  qty(1),
				UnitPrice: types.MustMoney("1.00"),
			}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeBusinessRule))
	})
}

func TestPipeline_ReceiptGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("over receipt", func(t *testing.T) {
		f := newFixture(t)
		_, ord := mustIssuedOrder(t, f, article(), qty(10))

		_, err := f.coordinator.ReceiveGoods(ctx, ReceiptInput{
			OrderID:  ord.ID,
			Receiver: "bodega",
			Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(7)}},
		})
		require.NoError(t, err)

		_, err = f.coordinator.ReceiveGoods(ctx, ReceiptInput{
			OrderID:  ord.ID,
			Receiver: "bodega",
			Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(4)}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeOverReceipt))
	})

	t.Run("draft order cannot receive", func(t *testing.T) {
		f := newFixture(t)
		req := mustApprovedRequest(t, f, article(), qty(10), qty(10))
		ord, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{{
				RequestID: req.ID,
				LineID:    req.Lines[0].LineID,
				Quantity:  qty(10),
				UnitPrice: types.MustMoney("1.00"),
			}},
		})
		require.NoError(t, err)

		_, err = f.coordinator.ReceiveGoods(ctx, ReceiptInput{
			OrderID:  ord.ID,
			Receiver: "bodega",
			Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(1)}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeBusinessRule))
	})

	t.Run("asset receipt requires serial", func(t *testing.T) {
		f := newFixture(t)
		_, ord := mustIssuedOrder(t, f, asset(), qty(1))

		_, err := f.coordinator.ReceiveGoods(ctx, ReceiptInput{
			OrderID:  ord.ID,
			Receiver: "bodega",
			Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(1)}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeMissingSerial))
	})

	t.Run("duplicate serial rejected", func(t *testing.T) {
		f := newFixture(t)
		laptop := asset()
		_, ord := mustIssuedOrder(t, f, laptop, qty(2))
		f.ledger.SeedSerial("SN-100", laptop.ID)

		_, err := f.coordinator.ReceiveGoods(ctx, ReceiptInput{
			OrderID:  ord.ID,
			Receiver: "bodega",
			Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(1), Serial: "SN-100"}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateSerial))

		// The rejected receipt leaves nothing behind: the full ordered
		// quantity is still receivable.
		_, err = f.coordinator.ReceiveGoods(ctx, ReceiptInput{
			OrderID:  ord.ID,
			Receiver: "bodega",
			Lines: []ReceiptLineInput{
				{OrderLineID: ord.Lines[0].LineID, Quantity: qty(1), Serial: "SN-101"},
				{OrderLineID: ord.Lines[0].LineID, Quantity: qty(1), Serial: "SN-102"},
			},
		})
		assert.NoError(t, err)
	})
}

func TestPipeline_DispatchGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient pending", func(t *testing.T) {
		f := newFixture(t)
		req := mustApprovedRequest(t, f, article(), qty(10), qty(4))
		f.ledger.SeedBalance(req.Lines[0].ItemRef.ID, entity.ItemKindArticle, qty(100))

		_, err := f.coordinator.DispatchGoods(ctx, DispatchInput{
			RequestID:  req.ID,
			Dispatcher: "bodega",
			Lines:      []DispatchLineInput{{RequestLineID: req.Lines[0].LineID, Quantity: qty(5)}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientPending))
	})

	t.Run("insufficient stock", func(t *testing.T) {
		f := newFixture(t)
		req := mustApprovedRequest(t, f, article(), qty(10), qty(10))
		f.ledger.SeedBalance(req.Lines[0].ItemRef.ID, entity.ItemKindArticle, qty(2))

		_, err := f.coordinator.DispatchGoods(ctx, DispatchInput{
			RequestID:  req.ID,
			Dispatcher: "bodega",
			Lines:      []DispatchLineInput{{RequestLineID: req.Lines[0].LineID, Quantity: qty(5)}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))
	})

	t.Run("asset dispatch releases the serial", func(t *testing.T) {
		f := newFixture(t)
		laptop := asset()
		req := mustApprovedRequest(t, f, laptop, qty(1), qty(1))
		f.ledger.SeedBalance(laptop.ID, entity.ItemKindAsset, qty(1))
		f.ledger.SeedSerial("SN-200", laptop.ID)

		_, err := f.coordinator.DispatchGoods(ctx, DispatchInput{
			RequestID:  req.ID,
			Dispatcher: "bodega",
			Lines:      []DispatchLineInput{{RequestLineID: req.Lines[0].LineID, Quantity: qty(1), Serial: "SN-200"}},
		})
		require.NoError(t, err)

		rec, err := f.ledger.Stock().GetSerial(ctx, "SN-200", laptop.ID)
		require.NoError(t, err)
		assert.False(t, rec.InStock)
	})

	t.Run("unknown serial fails", func(t *testing.T) {
		f := newFixture(t)
		laptop := asset()
		req := mustApprovedRequest(t, f, laptop, qty(1), qty(1))
		f.ledger.SeedBalance(laptop.ID, entity.ItemKindAsset, qty(1))

		_, err := f.coordinator.DispatchGoods(ctx, DispatchInput{
			RequestID:  req.ID,
			Dispatcher: "bodega",
			Lines:      []DispatchLineInput{{RequestLineID: req.Lines[0].LineID, Quantity: qty(1), Serial: "SN-404"}},
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
	})
}

func TestPipeline_ConcurrentDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := mustApprovedRequest(t, f, article(), qty(10), qty(10))
	f.ledger.SeedBalance(req.Lines[0].ItemRef.ID, entity.ItemKindArticle, qty(10))

	// Two dispatchers race for the full pending quantity; exactly one
	// can win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coordinator.DispatchGoods(ctx, DispatchInput{
				RequestID:  req.ID,
				Dispatcher: "bodega",
				Lines:      []DispatchLineInput{{RequestLineID: req.Lines[0].LineID, Quantity: qty(10)}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one dispatch must win: %v / %v", errs[0], errs[1])

	record, err := f.coordinator.GetRecord(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, qty(10), record.Dispatched)
	assert.Equal(t, types.Quantity(0), record.Pending)
}

func TestPipeline_IntegrityFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := mustApprovedRequest(t, f, article(), qty(10), qty(4))
	f.ledger.SeedBalance(req.Lines[0].ItemRef.ID, entity.ItemKindArticle, qty(100))

	// Plant a completed dispatch exceeding the approved quantity,
	// bypassing the coordinator's guards.
	corruptDispatch(t, f, req.ID, req.Lines[0].LineID, req.Lines[0].ItemRef, qty(6))

	_, err := f.coordinator.DispatchGoods(ctx, DispatchInput{
		RequestID:  req.ID,
		Dispatcher: "bodega",
		Lines:      []DispatchLineInput{{RequestLineID: req.Lines[0].LineID, Quantity: qty(1)}},
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeDataIntegrity))

	// The request is now read-only; even well-formed mutations bounce.
	flagged, err := f.coordinator.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, flagged.ReadOnly)

	_, err = f.coordinator.DispatchGoods(ctx, DispatchInput{
		RequestID:  req.ID,
		Dispatcher: "bodega",
		Lines:      []DispatchLineInput{{RequestLineID: req.Lines[0].LineID, Quantity: qty(1)}},
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeDataIntegrity))

	// Flagging leaves an audit trail.
	var sawFlag bool
	for _, ev := range f.sink.ByEntity(req.ID) {
		if ev.Action == audit.ActionFlag {
			sawFlag = true
		}
	}
	assert.True(t, sawFlag)
}

func TestPipeline_CancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("cancelled order releases approved quantity", func(t *testing.T) {
		req := mustApprovedRequest(t, f, article(), qty(10), qty(8))
		ord, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
			SupplierID: id.New(),
			Buyer:      "compras",
			Selections: []Selection{{
				RequestID: req.ID,
				LineID:    req.Lines[0].LineID,
				Quantity:  qty(8),
				UnitPrice: types.MustMoney("1.00"),
			}},
		})
		require.NoError(t, err)

		_, err = f.coordinator.CancelOrder(ctx, ord.ID, "compras")
		require.NoError(t, err)

		record, err := f.coordinator.GetRecord(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, types.Quantity(0), record.Ordered)
	})

	t.Run("received order cannot be cancelled", func(t *testing.T) {
		_, ord := mustIssuedOrder(t, f, article(), qty(4))
		_, err := f.coordinator.ReceiveGoods(ctx, ReceiptInput{
			OrderID:  ord.ID,
			Receiver: "bodega",
			Lines:    []ReceiptLineInput{{OrderLineID: ord.Lines[0].LineID, Quantity: qty(1)}},
		})
		require.NoError(t, err)

		_, err = f.coordinator.CancelOrder(ctx, ord.ID, "compras")
		assert.True(t, apperror.HasCode(err, apperror.CodeBusinessRule))
	})
}

// --- helpers ---

func mustPendingRequest(t *testing.T, f *fixture, item entity.ItemRef, quantity types.Quantity) *request.Request {
	t.Helper()
	ctx := context.Background()
	req, err := f.coordinator.CreateRequest(ctx, RequestInput{
		Requester: "jlopez",
		Lines:     []RequestLineInput{{Item: item, Quantity: quantity}},
	})
	require.NoError(t, err)
	req, err = f.coordinator.SubmitRequest(ctx, req.ID)
	require.NoError(t, err)
	return req
}

func mustApprovedRequest(t *testing.T, f *fixture, item entity.ItemRef, requested, approved types.Quantity) *request.Request {
	t.Helper()
	ctx := context.Background()
	req := mustPendingRequest(t, f, item, requested)
	req, err := f.coordinator.ApproveRequest(ctx, req.ID, Decision{
		Responsible: "mgarcia",
		Quantities:  map[id.ID]types.Quantity{req.Lines[0].LineID: approved},
	})
	require.NoError(t, err)
	return req
}

func mustIssuedOrder(t *testing.T, f *fixture, item entity.ItemRef, quantity types.Quantity) (*request.Request, *order.Order) {
	t.Helper()
	ctx := context.Background()
	req := mustApprovedRequest(t, f, item, quantity, quantity)
	ord, err := f.coordinator.BatchIntoOrder(ctx, OrderInput{
		SupplierID: id.New(),
		Buyer:      "compras",
		Selections: []Selection{{
			RequestID: req.ID,
			LineID:    req.Lines[0].LineID,
			Quantity:  quantity,
			UnitPrice: types.MustMoney("1.00"),
		}},
	})
	require.NoError(t, err)
	ord, err = f.coordinator.ConfirmOrder(ctx, ord.ID)
	require.NoError(t, err)
	return req, ord
}

// assertRecordConsistent rebuilds the quantity record and checks the
// sums every committed operation must leave behind.
func assertRecordConsistent(t *testing.T, f *fixture, requestID id.ID) {
	t.Helper()
	ctx := context.Background()
	record, err := f.coordinator.GetRecord(ctx, requestID)
	require.NoError(t, err)
	require.NoError(t, record.Verify())
	for _, line := range record.Lines {
		assert.LessOrEqual(t, line.Approved, line.Requested, "line %d", line.LineNo)
		assert.LessOrEqual(t, line.Ordered, line.Approved, "line %d", line.LineNo)
		assert.LessOrEqual(t, line.Dispatched, line.Approved, "line %d", line.LineNo)
		assert.Equal(t, line.Approved-line.Dispatched, line.Pending, "line %d", line.LineNo)
		assert.GreaterOrEqual(t, line.Pending, types.Quantity(0), "line %d", line.LineNo)
	}
}

// corruptDispatch writes a completed dispatch directly into the store,
// bypassing every guard.
func corruptDispatch(t *testing.T, f *fixture, requestID, lineID id.ID, item entity.ItemRef, quantity types.Quantity) {
	t.Helper()
	ctx := context.Background()
	dsp := dispatch.NewDispatch(requestID, "rogue")
	dsp.AddLine(lineID, item, quantity, "")
	dsp.State = lifecycle.StateCompleted
	require.NoError(t, f.ledger.Dispatches().Create(ctx, dsp))
	require.NoError(t, f.ledger.Dispatches().SaveLines(ctx, dsp.ID, dsp.Lines))
}
