package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/domain/documents/request"
	"abasto/internal/infrastructure/storage/postgres"
)

const (
	requestsTable       = "doc_requests"
	requestLinesTable   = "doc_request_lines"
	requestHistoryTable = "doc_request_history"
)

// RequestRepo implements request.Repository.
type RequestRepo struct {
	baseDocumentRepo[*request.Request]
}

var _ request.Repository = (*RequestRepo)(nil)

// NewRequestRepo creates a new request repository.
func NewRequestRepo(txm *postgres.TxManager) *RequestRepo {
	return &RequestRepo{
		baseDocumentRepo: newBaseDocumentRepo(
			txm,
			requestsTable,
			postgres.ExtractDBColumns[request.Request](),
			func() *request.Request { return &request.Request{} },
		),
	}
}

// GetLines retrieves lines for a request.
func (r *RequestRepo) GetLines(ctx context.Context, docID id.ID) ([]request.Line, error) {
	sql, args, err := r.builder().
		Select(
			"line_id", "line_no", "item_kind", "item_id",
			"requested", "approved", "discrepancy", "fulfilled", "cancelled", "note",
		).
		From(requestLinesTable).
		Where(squirrel.Eq{"document_id": docID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []request.Line
	if err := pgxscan.Select(ctx, r.querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	return lines, nil
}

// SaveLines saves lines for a request (delete existing + insert new).
func (r *RequestRepo) SaveLines(ctx context.Context, docID id.ID, lines []request.Line) error {
	querier := r.querier(ctx)

	deleteSQL := "DELETE FROM " + requestLinesTable + " WHERE document_id = $1"
	if _, err := querier.Exec(ctx, deleteSQL, docID); err != nil {
		return fmt.Errorf("delete existing lines: %w", err)
	}

	if len(lines) == 0 {
		return nil
	}

	q := r.builder().
		Insert(requestLinesTable).
		Columns(
			"line_id", "document_id", "line_no", "item_kind", "item_id",
			"requested", "approved", "discrepancy", "fulfilled", "cancelled", "note",
		)
	for _, line := range lines {
		q = q.Values(
			line.LineID, docID, line.LineNo, line.Kind, line.ItemRef.ID,
			line.Requested, line.Approved, line.Discrepancy, line.Fulfilled, line.Cancelled, line.Note,
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

// ListByState retrieves requests in the given state, with lines.
func (r *RequestRepo) ListByState(ctx context.Context, state lifecycle.State) ([]*request.Request, error) {
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

// AppendHistory records a state change.
func (r *RequestRepo) AppendHistory(ctx context.Context, entry request.HistoryEntry) error {
	sql, args, err := r.builder().
		Insert(requestHistoryTable).
		Columns("id", "request_id", "from_state", "to_state", "actor", "note", "changed_at").
		Values(entry.ID, entry.RequestID, entry.FromState, entry.ToState, entry.Actor, entry.Note, entry.ChangedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert history: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// History returns the state-change trail, oldest first.
func (r *RequestRepo) History(ctx context.Context, docID id.ID) ([]request.HistoryEntry, error) {
	sql, args, err := r.builder().
		Select("id", "request_id", "from_state", "to_state", "actor", "note", "changed_at").
		From(requestHistoryTable).
		Where(squirrel.Eq{"request_id": docID}).
		OrderBy("changed_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []request.HistoryEntry
	if err := pgxscan.Select(ctx, r.querier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return entries, nil
}
