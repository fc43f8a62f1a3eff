package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/domain/documents/receipt"
	"abasto/internal/infrastructure/storage/postgres"
)

const (
	receiptsTable     = "doc_receipts"
	receiptLinesTable = "doc_receipt_lines"
)

// ReceiptRepo implements receipt.Repository.
type ReceiptRepo struct {
	baseDocumentRepo[*receipt.Receipt]
}

var _ receipt.Repository = (*ReceiptRepo)(nil)

// NewReceiptRepo creates a new goods receipt repository.
func NewReceiptRepo(txm *postgres.TxManager) *ReceiptRepo {
	return &ReceiptRepo{
		baseDocumentRepo: newBaseDocumentRepo(
			txm,
			receiptsTable,
			postgres.ExtractDBColumns[receipt.Receipt](),
			func() *receipt.Receipt { return &receipt.Receipt{} },
		),
	}
}

// GetLines retrieves lines for a receipt.
func (r *ReceiptRepo) GetLines(ctx context.Context, docID id.ID) ([]receipt.Line, error) {
	sql, args, err := r.builder().
		Select(
			"line_id", "line_no", "order_line_id", "item_kind", "item_id",
			"quantity", "serial", "cancelled",
		).
		From(receiptLinesTable).
		Where(squirrel.Eq{"document_id": docID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []receipt.Line
	if err := pgxscan.Select(ctx, r.querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	return lines, nil
}

// SaveLines saves lines for a receipt (delete existing + insert new).
func (r *ReceiptRepo) SaveLines(ctx context.Context, docID id.ID, lines []receipt.Line) error {
	querier := r.querier(ctx)

	deleteSQL := "DELETE FROM " + receiptLinesTable + " WHERE document_id = $1"
	if _, err := querier.Exec(ctx, deleteSQL, docID); err != nil {
		return fmt.Errorf("delete existing lines: %w", err)
	}

	if len(lines) == 0 {
		return nil
	}

	q := r.builder().
		Insert(receiptLinesTable).
		Columns(
			"line_id", "document_id", "line_no", "order_line_id",
			"item_kind", "item_id", "quantity", "serial", "cancelled",
		)
	for _, line := range lines {
		q = q.Values(
			line.LineID, docID, line.LineNo, line.OrderLineID,
			line.Kind, line.ItemRef.ID, line.Quantity, line.Serial, line.Cancelled,
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

// ListByState retrieves receipts in the given state, with lines.
func (r *ReceiptRepo) ListByState(ctx context.Context, state lifecycle.State) ([]*receipt.Receipt, error) {
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

// ListByOrder retrieves non-cancelled receipts against the order, with lines.
func (r *ReceiptRepo) ListByOrder(ctx context.Context, orderID id.ID) ([]*receipt.Receipt, error) {
	sql, args, err := r.baseSelect().
		Where(squirrel.Eq{"order_id": orderID, "cancelled": false}).
		OrderBy("date ASC, number ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var docs []*receipt.Receipt
	if err := pgxscan.Select(ctx, r.querier(ctx), &docs, sql, args...); err != nil {
		return nil, fmt.Errorf("list by order: %w", err)
	}
	for _, doc := range docs {
		doc.Lines, err = r.GetLines(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}
