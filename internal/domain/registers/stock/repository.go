// Package stock provides the stock accumulation register.
package stock

import (
	"context"
	"time"

	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/types"
)

// Repository defines operations for the stock register.
type Repository interface {
	// Movement operations

	// CreateMovements batch inserts movements and updates balances.
	CreateMovements(ctx context.Context, movements []entity.StockMovement) error

	// GetMovementsByRecorder retrieves all movements for a document.
	GetMovementsByRecorder(ctx context.Context, recorderID id.ID) ([]entity.StockMovement, error)

	// Balance operations

	// GetBalance returns the current balance for an item.
	GetBalance(ctx context.Context, itemID id.ID) (entity.StockBalance, error)

	// GetBalanceForUpdate returns the balance with a row lock.
	// Used for the commit-time availability check before debits.
	GetBalanceForUpdate(ctx context.Context, itemID id.ID) (entity.StockBalance, error)

	// GetBalances returns balances matching the filter.
	GetBalances(ctx context.Context, filter BalanceFilter) ([]entity.StockBalance, error)

	// Serial registry

	// RegisterSerial records a serial on receipt.
	// Returns DUPLICATE_SERIAL if the serial is already in stock.
	RegisterSerial(ctx context.Context, rec entity.SerialRecord) error

	// ReleaseSerial marks a serial as dispatched.
	// Returns NOT_FOUND if the serial is not in stock.
	ReleaseSerial(ctx context.Context, serial string, itemID id.ID) error

	// GetSerial looks up a serial record.
	GetSerial(ctx context.Context, serial string, itemID id.ID) (entity.SerialRecord, error)

	// Reporting

	// GetMovementHistory returns movement history for an item.
	GetMovementHistory(ctx context.Context, itemID id.ID, filter MovementFilter) ([]entity.StockMovement, error)
}

// BalanceFilter for filtering balance queries.
type BalanceFilter struct {
	ItemIDs     []id.ID
	ItemKind    *entity.ItemKind
	ExcludeZero bool
	MinQuantity *types.Quantity
}

// MovementFilter for filtering movement history.
type MovementFilter struct {
	RecordType *entity.RecordType
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}
