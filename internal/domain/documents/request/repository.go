package request

import (
	"context"

	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
)

// Repository defines persistence for requests.
// Update applies optimistic locking on Version and returns a
// CONCURRENT_MODIFICATION error on a stale write.
type Repository interface {
	Create(ctx context.Context, doc *Request) error
	Update(ctx context.Context, doc *Request) error
	GetByID(ctx context.Context, docID id.ID) (*Request, error)
	GetByNumber(ctx context.Context, number string) (*Request, error)

	GetLines(ctx context.Context, docID id.ID) ([]Line, error)
	SaveLines(ctx context.Context, docID id.ID, lines []Line) error

	ListByState(ctx context.Context, state lifecycle.State) ([]*Request, error)

	AppendHistory(ctx context.Context, entry HistoryEntry) error
	History(ctx context.Context, docID id.ID) ([]HistoryEntry, error)
}
