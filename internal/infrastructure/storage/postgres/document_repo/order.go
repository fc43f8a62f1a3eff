package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/domain/documents/order"
	"abasto/internal/infrastructure/storage/postgres"
)

const (
	ordersTable     = "doc_orders"
	orderLinesTable = "doc_order_lines"
)

// OrderRepo implements order.Repository.
type OrderRepo struct {
	baseDocumentRepo[*order.Order]
}

var _ order.Repository = (*OrderRepo)(nil)

// NewOrderRepo creates a new purchase order repository.
func NewOrderRepo(txm *postgres.TxManager) *OrderRepo {
	return &OrderRepo{
		baseDocumentRepo: newBaseDocumentRepo(
			txm,
			ordersTable,
			postgres.ExtractDBColumns[order.Order](),
			func() *order.Order { return &order.Order{} },
		),
	}
}

// GetLines retrieves lines for an order.
func (r *OrderRepo) GetLines(ctx context.Context, docID id.ID) ([]order.Line, error) {
	sql, args, err := r.builder().
		Select(
			"line_id", "line_no", "item_kind", "item_id",
			"request_id", "request_line_id",
			"quantity", "unit_price", "discount", "subtotal", "cancelled",
		).
		From(orderLinesTable).
		Where(squirrel.Eq{"document_id": docID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []order.Line
	if err := pgxscan.Select(ctx, r.querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	return lines, nil
}

// SaveLines saves lines for an order (delete existing + insert new).
func (r *OrderRepo) SaveLines(ctx context.Context, docID id.ID, lines []order.Line) error {
	querier := r.querier(ctx)

	deleteSQL := "DELETE FROM " + orderLinesTable + " WHERE document_id = $1"
	if _, err := querier.Exec(ctx, deleteSQL, docID); err != nil {
		return fmt.Errorf("delete existing lines: %w", err)
	}

	if len(lines) == 0 {
		return nil
	}

	q := r.builder().
		Insert(orderLinesTable).
		Columns(
			"line_id", "document_id", "line_no", "item_kind", "item_id",
			"request_id", "request_line_id",
			"quantity", "unit_price", "discount", "subtotal", "cancelled",
		)
	for _, line := range lines {
		q = q.Values(
			line.LineID, docID, line.LineNo, line.Kind, line.ItemRef.ID,
			line.RequestID, line.RequestLineID,
			line.Quantity, line.UnitPrice, line.Discount, line.Subtotal, line.Cancelled,
		)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert lines: %w", err)
	}
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert lines: %w", err)
	}
	return nil
}

// ListByState retrieves orders in the given state, with lines.
func (r *OrderRepo) ListByState(ctx context.Context, state lifecycle.State) ([]*order.Order, error) {
	docs, err := r.listByState(ctx, state)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		doc.Lines, err = r.GetLines(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// ListByRequest retrieves non-cancelled orders with at least one line
// sourced from the request, lines included.
func (r *OrderRepo) ListByRequest(ctx context.Context, requestID id.ID) ([]*order.Order, error) {
	sql, args, err := r.baseSelect().
		Where(squirrel.Eq{"cancelled": false}).
		Where(fmt.Sprintf(
			"id IN (SELECT DISTINCT document_id FROM %s WHERE request_id = ?)", orderLinesTable,
		), requestID).
		OrderBy("date ASC, number ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var docs []*order.Order
	if err := pgxscan.Select(ctx, r.querier(ctx), &docs, sql, args...); err != nil {
		return nil, fmt.Errorf("list by request: %w", err)
	}
	for _, doc := range docs {
		doc.Lines, err = r.GetLines(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}
