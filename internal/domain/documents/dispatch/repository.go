package dispatch

import (
	"context"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
)

// Repository defines persistence for dispatches.
type Repository interface {
	Create(ctx context.Context, doc *Dispatch) error
	Update(ctx context.Context, doc *Dispatch) error
	GetByID(ctx context.Context, docID id.ID) (*Dispatch, error)

	GetLines(ctx context.Context, docID id.ID) ([]Line, error)
	SaveLines(ctx context.Context, docID id.ID, lines []Line) error

	ListByState(ctx context.Context, state lifecycle.State) ([]*Dispatch, error)

	// ListByRequest returns non-cancelled dispatches against the request,
	// with lines loaded. Only COMPLETED ones count toward dispatched
	// quantity; callers filter by state.
	ListByRequest(ctx context.Context, requestID id.ID) ([]*Dispatch, error)
}
