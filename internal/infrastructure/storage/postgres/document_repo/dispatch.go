package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/domain/documents/dispatch"
	"abasto/internal/infrastructure/storage/postgres"
)

const (
	dispatchesTable    = "doc_dispatches"
	dispatchLinesTable = "doc_dispatch_lines"
)

// DispatchRepo implements dispatch.Repository.
type DispatchRepo struct {
	baseDocumentRepo[*dispatch.Dispatch]
}

var _ dispatch.Repository = (*DispatchRepo)(nil)

// NewDispatchRepo creates a new dispatch repository.
func NewDispatchRepo(txm *postgres.TxManager) *DispatchRepo {
	return &DispatchRepo{
		baseDocumentRepo: newBaseDocumentRepo(
			txm,
			dispatchesTable,
			postgres.ExtractDBColumns[dispatch.Dispatch](),
			func() *dispatch.Dispatch { return &dispatch.Dispatch{} },
		),
	}
}

// GetLines retrieves lines for a dispatch.
func (r *DispatchRepo) GetLines(ctx context.Context, docID id.ID) ([]dispatch.Line, error) {
	sql, args, err := r.builder().
		Select(
			"line_id", "line_no", "request_line_id", "item_kind", "item_id",
			"quantity", "serial", "cancelled",
		).
		From(dispatchLinesTable).
		Where(squirrel.Eq{"document_id": docID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []dispatch.Line
	if err := pgxscan.Select(ctx, r.querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	return lines, nil
}

// SaveLines saves lines for a dispatch (delete existing + insert new).
func (r *DispatchRepo) SaveLines(ctx context.Context, docID id.ID, lines []dispatch.Line) error {
	querier := r.querier(ctx)

	deleteSQL := "DELETE FROM " + dispatchLinesTable + " WHERE document_id = $1"
	if _, err := querier.Exec(ctx, deleteSQL, docID); err != nil {
		return fmt.Errorf("delete existing lines: %w", err)
	}

	if len(lines) == 0 {
		return nil
	}

	q := r.builder().
		Insert(dispatchLinesTable).
		Columns(
			"line_id", "document_id", "line_no", "request_line_id",
			"item_kind", "item_id", "quantity", "serial", "cancelled",
		)
	for _, line := range lines {
		q = q.Values(
			line.LineID, docID, line.LineNo, line.RequestLineID,
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

// ListByState retrieves dispatches in the given state, with lines.
func (r *DispatchRepo) ListByState(ctx context.Context, state lifecycle.State) ([]*dispatch.Dispatch, error) {
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

// ListByRequest retrieves non-cancelled dispatches against the request,
// with lines. Only COMPLETED dispatches count toward the dispatched sum;
// callers filter by state.
func (r *DispatchRepo) ListByRequest(ctx context.Context, requestID id.ID) ([]*dispatch.Dispatch, error) {
	sql, args, err := r.baseSelect().
		Where(squirrel.Eq{"request_id": requestID, "cancelled": false}).
		OrderBy("date ASC, number ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var docs []*dispatch.Dispatch
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
