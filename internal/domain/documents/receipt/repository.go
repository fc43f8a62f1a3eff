package receipt

import (
	"context"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
)

// Repository defines persistence for goods receipts.
type Repository interface {
	Create(ctx context.Context, doc *Receipt) error
	Update(ctx context.Context, doc *Receipt) error
	GetByID(ctx context.Context, docID id.ID) (*Receipt, error)

	GetLines(ctx context.Context, docID id.ID) ([]Line, error)
	SaveLines(ctx context.Context, docID id.ID, lines []Line) error

	ListByState(ctx context.Context, state lifecycle.State) ([]*Receipt, error)

	// ListByOrder returns non-cancelled receipts against the order, with
	// lines loaded. Used by the reconciler and the over-receipt guard.
	ListByOrder(ctx context.Context, orderID id.ID) ([]*Receipt, error)
}
