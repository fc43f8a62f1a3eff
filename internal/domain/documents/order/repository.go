package order

import (
	"context"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
)

// Repository defines persistence for purchase orders.
type Repository interface {
	Create(ctx context.Context, doc *Order) error
	Update(ctx context.Context, doc *Order) error
	GetByID(ctx context.Context, docID id.ID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)

	GetLines(ctx context.Context, docID id.ID) ([]Line, error)
	SaveLines(ctx context.Context, docID id.ID, lines []Line) error

	ListByState(ctx context.Context, state lifecycle.State) ([]*Order, error)

	// ListByRequest returns non-cancelled orders carrying at least one line
	// tracing back to the request, with lines loaded. Used by the reconciler.
	ListByRequest(ctx context.Context, requestID id.ID) ([]*Order, error)
}
