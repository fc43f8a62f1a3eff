// Package memory provides an in-memory implementation of the document
// repositories, the stock register, the numberer, and the transaction
// manager. It backs the test suites. Writes are serialized but not
// journaled, so there is no rollback; the coordinator orders every
// guard ahead of its writes, and the tests rely on that ordering.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
	"abasto/internal/domain/documents/dispatch"
	"abasto/internal/domain/documents/order"
	"abasto/internal/domain/documents/receipt"
	"abasto/internal/domain/documents/request"
	"abasto/internal/domain/registers/stock"
)

type serialKey struct {
	serial string
	itemID id.ID
}

// Ledger is the shared in-memory store. All repositories created from
// one ledger see the same data; access is serialized by the ledger's
// transaction mutex plus a data mutex for reads outside transactions.
type Ledger struct {
	mu sync.Mutex

	requests     map[id.ID]request.Request
	requestLines map[id.ID][]request.Line
	history      map[id.ID][]request.HistoryEntry

	orders     map[id.ID]order.Order
	orderLines map[id.ID][]order.Line

	receipts     map[id.ID]receipt.Receipt
	receiptLines map[id.ID][]receipt.Line

	dispatches    map[id.ID]dispatch.Dispatch
	dispatchLines map[id.ID][]dispatch.Line

	balances  map[id.ID]entity.StockBalance
	movements []entity.StockMovement
	serials   map[serialKey]entity.SerialRecord

	counters map[lifecycle.Kind]int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		requests:      make(map[id.ID]request.Request),
		requestLines:  make(map[id.ID][]request.Line),
		history:       make(map[id.ID][]request.HistoryEntry),
		orders:        make(map[id.ID]order.Order),
		orderLines:    make(map[id.ID][]order.Line),
		receipts:      make(map[id.ID]receipt.Receipt),
		receiptLines:  make(map[id.ID][]receipt.Line),
		dispatches:    make(map[id.ID]dispatch.Dispatch),
		dispatchLines: make(map[id.ID][]dispatch.Line),
		balances:      make(map[id.ID]entity.StockBalance),
		serials:       make(map[serialKey]entity.SerialRecord),
		counters:      make(map[lifecycle.Kind]int64),
	}
}

// SeedBalance sets the stock balance for an item. Test helper.
func (l *Ledger) SeedBalance(itemID id.ID, kind entity.ItemKind, qty types.Quantity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[itemID] = entity.StockBalance{
		ItemKind:  kind,
		ItemID:    itemID,
		Quantity:  qty,
		UpdatedAt: time.Now().UTC(),
	}
}

// SeedSerial registers a serial as in stock. Test helper.
func (l *Ledger) SeedSerial(serial string, itemID id.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serials[serialKey{serial, itemID}] = entity.SerialRecord{
		Serial:     serial,
		ItemID:     itemID,
		InStock:    true,
		ReceivedAt: time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

// --- transaction manager ---

// TxManager serializes transactions over one ledger. There is no
// rollback: callers validate before writing, matching how the pipeline
// orders its guards.
type TxManager struct {
	mu sync.Mutex
}

func NewTxManager() *TxManager { return &TxManager{} }

func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.RunInTransaction(ctx, fn)
}

// --- numberer ---

var prefixes = map[lifecycle.Kind]string{
	lifecycle.KindRequest:  "SOL",
	lifecycle.KindOrder:    "OC",
	lifecycle.KindReceipt:  "REC",
	lifecycle.KindDispatch: "DES",
}

// Numberer allocates sequential document numbers from the ledger.
type Numberer struct {
	l *Ledger
}

func (l *Ledger) Numberer() *Numberer { return &Numberer{l: l} }

func (n *Numberer) Next(_ context.Context, kind lifecycle.Kind) (string, error) {
	n.l.mu.Lock()
	defer n.l.mu.Unlock()
	n.l.counters[kind]++
	return formatNumber(prefixes[kind], time.Now().UTC(), n.l.counters[kind]), nil
}

func formatNumber(prefix string, period time.Time, num int64) string {
	return prefix + "-" + period.Format("2006") + "-" + pad(num, 5)
}

func pad(num int64, width int) string {
	s := make([]byte, 0, width)
	for v := num; v > 0; v /= 10 {
		s = append([]byte{byte('0' + v%10)}, s...)
	}
	for len(s) < width {
		s = append([]byte{'0'}, s...)
	}
	return string(s)
}

// --- request repository ---

type RequestRepo struct {
	l *Ledger
}

func (l *Ledger) Requests() *RequestRepo { return &RequestRepo{l: l} }

func (r *RequestRepo) Create(_ context.Context, doc *request.Request) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if _, ok := r.l.requests[doc.ID]; ok {
		return apperror.NewConflict("request already exists")
	}
	stored := *doc
	stored.Lines = nil
	r.l.requests[doc.ID] = stored
	return nil
}

func (r *RequestRepo) Update(_ context.Context, doc *request.Request) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.requests[doc.ID]
	if !ok {
		return apperror.NewNotFound("request", doc.ID)
	}
	if stored.Version != doc.Version {
		return apperror.NewConcurrentModification("request", doc.ID)
	}
	doc.SetVersion(doc.Version + 1)
	next := *doc
	next.Lines = nil
	r.l.requests[doc.ID] = next
	return nil
}

func (r *RequestRepo) GetByID(_ context.Context, docID id.ID) (*request.Request, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.requests[docID]
	if !ok {
		return nil, apperror.NewNotFound("request", docID)
	}
	out := stored
	return &out, nil
}

func (r *RequestRepo) GetByNumber(_ context.Context, number string) (*request.Request, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, stored := range r.l.requests {
		if stored.Number == number {
			out := stored
			return &out, nil
		}
	}
	return nil, apperror.NewNotFound("request", number)
}

func (r *RequestRepo) GetLines(_ context.Context, docID id.ID) ([]request.Line, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	lines := make([]request.Line, len(r.l.requestLines[docID]))
	copy(lines, r.l.requestLines[docID])
	return lines, nil
}

func (r *RequestRepo) SaveLines(_ context.Context, docID id.ID, lines []request.Line) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored := make([]request.Line, len(lines))
	copy(stored, lines)
	r.l.requestLines[docID] = stored
	return nil
}

func (r *RequestRepo) ListByState(_ context.Context, state lifecycle.State) ([]*request.Request, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*request.Request
	for docID, stored := range r.l.requests {
		if stored.State != state {
			continue
		}
		doc := stored
		doc.Lines = make([]request.Line, len(r.l.requestLines[docID]))
		copy(doc.Lines, r.l.requestLines[docID])
		out = append(out, &doc)
	}
	sortByNumber(out, func(d *request.Request) string { return d.Number })
	return out, nil
}

func (r *RequestRepo) AppendHistory(_ context.Context, entry request.HistoryEntry) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	r.l.history[entry.RequestID] = append(r.l.history[entry.RequestID], entry)
	return nil
}

func (r *RequestRepo) History(_ context.Context, docID id.ID) ([]request.HistoryEntry, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	out := make([]request.HistoryEntry, len(r.l.history[docID]))
	copy(out, r.l.history[docID])
	return out, nil
}

// --- order repository ---

type OrderRepo struct {
	l *Ledger
}

func (l *Ledger) Orders() *OrderRepo { return &OrderRepo{l: l} }

func (r *OrderRepo) Create(_ context.Context, doc *order.Order) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if _, ok := r.l.orders[doc.ID]; ok {
		return apperror.NewConflict("order already exists")
	}
	stored := *doc
	stored.Lines = nil
	r.l.orders[doc.ID] = stored
	return nil
}

func (r *OrderRepo) Update(_ context.Context, doc *order.Order) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.orders[doc.ID]
	if !ok {
		return apperror.NewNotFound("order", doc.ID)
	}
	if stored.Version != doc.Version {
		return apperror.NewConcurrentModification("order", doc.ID)
	}
	doc.SetVersion(doc.Version + 1)
	next := *doc
	next.Lines = nil
	r.l.orders[doc.ID] = next
	return nil
}

func (r *OrderRepo) GetByID(_ context.Context, docID id.ID) (*order.Order, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.orders[docID]
	if !ok {
		return nil, apperror.NewNotFound("order", docID)
	}
	out := stored
	return &out, nil
}

func (r *OrderRepo) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, stored := range r.l.orders {
		if stored.Number == number {
			out := stored
			return &out, nil
		}
	}
	return nil, apperror.NewNotFound("order", number)
}

func (r *OrderRepo) GetLines(_ context.Context, docID id.ID) ([]order.Line, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	lines := make([]order.Line, len(r.l.orderLines[docID]))
	copy(lines, r.l.orderLines[docID])
	return lines, nil
}

func (r *OrderRepo) SaveLines(_ context.Context, docID id.ID, lines []order.Line) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored := make([]order.Line, len(lines))
	copy(stored, lines)
	r.l.orderLines[docID] = stored
	return nil
}

func (r *OrderRepo) ListByState(_ context.Context, state lifecycle.State) ([]*order.Order, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*order.Order
	for docID, stored := range r.l.orders {
		if stored.State != state {
			continue
		}
		doc := stored
		doc.Lines = make([]order.Line, len(r.l.orderLines[docID]))
		copy(doc.Lines, r.l.orderLines[docID])
		out = append(out, &doc)
	}
	sortByNumber(out, func(d *order.Order) string { return d.Number })
	return out, nil
}

func (r *OrderRepo) ListByRequest(_ context.Context, requestID id.ID) ([]*order.Order, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*order.Order
	for docID, stored := range r.l.orders {
		if stored.Cancelled {
			continue
		}
		lines := r.l.orderLines[docID]
		matches := false
		for i := range lines {
			if lines[i].RequestID == requestID {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		doc := stored
		doc.Lines = make([]order.Line, len(lines))
		copy(doc.Lines, lines)
		out = append(out, &doc)
	}
	sortByNumber(out, func(d *order.Order) string { return d.Number })
	return out, nil
}

// --- receipt repository ---

type ReceiptRepo struct {
	l *Ledger
}

func (l *Ledger) Receipts() *ReceiptRepo { return &ReceiptRepo{l: l} }

func (r *ReceiptRepo) Create(_ context.Context, doc *receipt.Receipt) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if _, ok := r.l.receipts[doc.ID]; ok {
		return apperror.NewConflict("receipt already exists")
	}
	stored := *doc
	stored.Lines = nil
	r.l.receipts[doc.ID] = stored
	return nil
}

func (r *ReceiptRepo) Update(_ context.Context, doc *receipt.Receipt) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.receipts[doc.ID]
	if !ok {
		return apperror.NewNotFound("receipt", doc.ID)
	}
	if stored.Version != doc.Version {
		return apperror.NewConcurrentModification("receipt", doc.ID)
	}
	doc.SetVersion(doc.Version + 1)
	next := *doc
	next.Lines = nil
	r.l.receipts[doc.ID] = next
	return nil
}

func (r *ReceiptRepo) GetByID(_ context.Context, docID id.ID) (*receipt.Receipt, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.receipts[docID]
	if !ok {
		return nil, apperror.NewNotFound("receipt", docID)
	}
	out := stored
	return &out, nil
}

func (r *ReceiptRepo) GetLines(_ context.Context, docID id.ID) ([]receipt.Line, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	lines := make([]receipt.Line, len(r.l.receiptLines[docID]))
	copy(lines, r.l.receiptLines[docID])
	return lines, nil
}

func (r *ReceiptRepo) SaveLines(_ context.Context, docID id.ID, lines []receipt.Line) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored := make([]receipt.Line, len(lines))
	copy(stored, lines)
	r.l.receiptLines[docID] = stored
	return nil
}

func (r *ReceiptRepo) ListByState(_ context.Context, state lifecycle.State) ([]*receipt.Receipt, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*receipt.Receipt
	for docID, stored := range r.l.receipts {
		if stored.State != state {
			continue
		}
		doc := stored
		doc.Lines = make([]receipt.Line, len(r.l.receiptLines[docID]))
		copy(doc.Lines, r.l.receiptLines[docID])
		out = append(out, &doc)
	}
	sortByNumber(out, func(d *receipt.Receipt) string { return d.Number })
	return out, nil
}

func (r *ReceiptRepo) ListByOrder(_ context.Context, orderID id.ID) ([]*receipt.Receipt, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*receipt.Receipt
	for docID, stored := range r.l.receipts {
		if stored.Cancelled || stored.OrderID != orderID {
			continue
		}
		doc := stored
		doc.Lines = make([]receipt.Line, len(r.l.receiptLines[docID]))
		copy(doc.Lines, r.l.receiptLines[docID])
		out = append(out, &doc)
	}
	sortByNumber(out, func(d *receipt.Receipt) string { return d.Number })
	return out, nil
}

// --- dispatch repository ---

type DispatchRepo struct {
	l *Ledger
}

func (l *Ledger) Dispatches() *DispatchRepo { return &DispatchRepo{l: l} }

func (r *DispatchRepo) Create(_ context.Context, doc *dispatch.Dispatch) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if _, ok := r.l.dispatches[doc.ID]; ok {
		return apperror.NewConflict("dispatch already exists")
	}
	stored := *doc
	stored.Lines = nil
	r.l.dispatches[doc.ID] = stored
	return nil
}

func (r *DispatchRepo) Update(_ context.Context, doc *dispatch.Dispatch) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.dispatches[doc.ID]
	if !ok {
		return apperror.NewNotFound("dispatch", doc.ID)
	}
	if stored.Version != doc.Version {
		return apperror.NewConcurrentModification("dispatch", doc.ID)
	}
	doc.SetVersion(doc.Version + 1)
	next := *doc
	next.Lines = nil
	r.l.dispatches[doc.ID] = next
	return nil
}

func (r *DispatchRepo) GetByID(_ context.Context, docID id.ID) (*dispatch.Dispatch, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.dispatches[docID]
	if !ok {
		return nil, apperror.NewNotFound("dispatch", docID)
	}
	out := stored
	return &out, nil
}

func (r *DispatchRepo) GetLines(_ context.Context, docID id.ID) ([]dispatch.Line, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	lines := make([]dispatch.Line, len(r.l.dispatchLines[docID]))
	copy(lines, r.l.dispatchLines[docID])
	return lines, nil
}

func (r *DispatchRepo) SaveLines(_ context.Context, docID id.ID, lines []dispatch.Line) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored := make([]dispatch.Line, len(lines))
	copy(stored, lines)
	r.l.dispatchLines[docID] = stored
	return nil
}

func (r *DispatchRepo) ListByState(_ context.Context, state lifecycle.State) ([]*dispatch.Dispatch, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*dispatch.Dispatch
	for docID, stored := range r.l.dispatches {
		if stored.State != state {
			continue
		}
		doc := stored
		doc.Lines = make([]dispatch.Line, len(r.l.dispatchLines[docID]))
		copy(doc.Lines, r.l.dispatchLines[docID])
		out = append(out, &doc)
	}
	sortByNumber(out, func(d *dispatch.Dispatch) string { return d.Number })
	return out, nil
}

func (r *DispatchRepo) ListByRequest(_ context.Context, requestID id.ID) ([]*dispatch.Dispatch, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*dispatch.Dispatch
	for docID, stored := range r.l.dispatches {
		if stored.Cancelled || stored.RequestID != requestID {
			continue
		}
		doc := stored
		doc.Lines = make([]dispatch.Line, len(r.l.dispatchLines[docID]))
		copy(doc.Lines, r.l.dispatchLines[docID])
		out = append(out, &doc)
	}
	sortByNumber(out, func(d *dispatch.Dispatch) string { return d.Number })
	return out, nil
}

// --- stock register ---

type StockRepo struct {
	l *Ledger
}

func (l *Ledger) Stock() *StockRepo { return &StockRepo{l: l} }

var _ stock.Repository = (*StockRepo)(nil)

func (r *StockRepo) CreateMovements(_ context.Context, movements []entity.StockMovement) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for i := range movements {
		m := &movements[i]
		balance := r.l.balances[m.ItemID]
		m.BalanceBefore = balance.Quantity
		balance.Quantity += m.SignedQuantity()
		m.BalanceAfter = balance.Quantity

		balance.ItemKind = m.ItemKind
		balance.ItemID = m.ItemID
		balance.LastMovementAt = m.Period
		balance.UpdatedAt = time.Now().UTC()
		r.l.balances[m.ItemID] = balance

		r.l.movements = append(r.l.movements, *m)
	}
	return nil
}

func (r *StockRepo) GetMovementsByRecorder(_ context.Context, recorderID id.ID) ([]entity.StockMovement, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []entity.StockMovement
	for _, m := range r.l.movements {
		if m.RecorderID == recorderID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *StockRepo) GetBalance(_ context.Context, itemID id.ID) (entity.StockBalance, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	balance, ok := r.l.balances[itemID]
	if !ok {
		return entity.StockBalance{ItemID: itemID}, nil
	}
	return balance, nil
}

func (r *StockRepo) GetBalanceForUpdate(ctx context.Context, itemID id.ID) (entity.StockBalance, error) {
	// The ledger-wide transaction mutex already serializes writers.
	return r.GetBalance(ctx, itemID)
}

func (r *StockRepo) GetBalances(_ context.Context, filter stock.BalanceFilter) ([]entity.StockBalance, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []entity.StockBalance
	for _, b := range r.l.balances {
		if filter.ExcludeZero && b.Quantity.IsZero() {
			continue
		}
		if filter.ItemKind != nil && b.ItemKind != *filter.ItemKind {
			continue
		}
		if filter.MinQuantity != nil && b.Quantity < *filter.MinQuantity {
			continue
		}
		if len(filter.ItemIDs) > 0 && !containsID(filter.ItemIDs, b.ItemID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ItemID.String() < out[j].ItemID.String()
	})
	return out, nil
}

func (r *StockRepo) RegisterSerial(_ context.Context, rec entity.SerialRecord) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	key := serialKey{rec.Serial, rec.ItemID}
	if existing, ok := r.l.serials[key]; ok && existing.InStock {
		return apperror.NewDuplicateSerial(rec.Serial)
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()
	r.l.serials[key] = rec
	return nil
}

func (r *StockRepo) ReleaseSerial(_ context.Context, serial string, itemID id.ID) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	key := serialKey{serial, itemID}
	rec, ok := r.l.serials[key]
	if !ok || !rec.InStock {
		return apperror.NewNotFound("serial", serial)
	}
	rec.InStock = false
	rec.UpdatedAt = time.Now().UTC()
	r.l.serials[key] = rec
	return nil
}

func (r *StockRepo) GetSerial(_ context.Context, serial string, itemID id.ID) (entity.SerialRecord, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	rec, ok := r.l.serials[serialKey{serial, itemID}]
	if !ok {
		return entity.SerialRecord{}, apperror.NewNotFound("serial", serial)
	}
	return rec, nil
}

func (r *StockRepo) GetMovementHistory(_ context.Context, itemID id.ID, filter stock.MovementFilter) ([]entity.StockMovement, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []entity.StockMovement
	for _, m := range r.l.movements {
		if m.ItemID != itemID {
			continue
		}
		if filter.RecordType != nil && m.RecordType != *filter.RecordType {
			continue
		}
		if filter.FromDate != nil && m.Period.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && m.Period.After(*filter.ToDate) {
			continue
		}
		out = append(out, m)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- helpers ---

func sortByNumber[T any](docs []*T, number func(*T) string) {
	sort.Slice(docs, func(i, j int) bool {
		return number(docs[i]) < number(docs[j])
	})
}

func containsID(ids []id.ID, target id.ID) bool {
	for _, v := range ids {
		if v == target {
			return true
		}
	}
	return false
}
