package entity

import (
	"time"

	"abasto/internal/core/id"
	"abasto/internal/core/types"
)

// RecordType defines movement direction for the stock register.
type RecordType string

const (
	// RecordTypeCredit increases balance (goods receipt).
	RecordTypeCredit RecordType = "credit"
	// RecordTypeDebit decreases balance (dispatch).
	RecordTypeDebit RecordType = "debit"
)

// MovementBase contains common fields for register movements.
// Movements are immutable: never updated, only deleted and recreated.
type MovementBase struct {
	// LineID is the unique identifier for this movement line (UUIDv7).
	LineID id.ID `db:"line_id" json:"lineId"`

	// RecorderID is the document that created this movement.
	RecorderID id.ID `db:"recorder_id" json:"recorderId"`

	// RecorderType is the document type (e.g. "Receipt", "Dispatch").
	RecorderType string `db:"recorder_type" json:"recorderType"`

	// Period is the business date for the movement.
	Period time.Time `db:"period" json:"period"`

	RecordType RecordType `db:"record_type" json:"recordType"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewMovementBase creates a movement base with a generated LineID.
func NewMovementBase(recorderID id.ID, recorderType string, period time.Time, recordType RecordType) MovementBase {
	return MovementBase{
		LineID:       id.New(),
		RecorderID:   recorderID,
		RecorderType: recorderType,
		Period:       period,
		RecordType:   recordType,
		CreatedAt:    time.Now().UTC(),
	}
}

// StockMovement represents a movement in the stock register.
// BalanceBefore/BalanceAfter snapshot the balance around the movement
// so the audit trail survives later recalculations.
type StockMovement struct {
	MovementBase

	// Dimensions
	ItemKind ItemKind `db:"item_kind" json:"itemKind"`
	ItemID   id.ID    `db:"item_id" json:"itemId"`

	// Resources
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// Serial identifies the physical unit for asset movements.
	Serial string `db:"serial" json:"serial,omitempty"`

	BalanceBefore types.Quantity `db:"balance_before" json:"balanceBefore"`
	BalanceAfter  types.Quantity `db:"balance_after" json:"balanceAfter"`
}

// NewStockMovement creates a stock movement.
func NewStockMovement(
	recorderID id.ID,
	recorderType string,
	period time.Time,
	recordType RecordType,
	ref ItemRef,
	quantity types.Quantity,
	serial string,
) StockMovement {
	return StockMovement{
		MovementBase: NewMovementBase(recorderID, recorderType, period, recordType),
		ItemKind:     ref.Kind,
		ItemID:       ref.ID,
		Quantity:     quantity,
		Serial:       serial,
	}
}

// SignedQuantity returns quantity with sign based on record type.
// Credit = positive, Debit = negative.
func (m *StockMovement) SignedQuantity() types.Quantity {
	if m.RecordType == RecordTypeDebit {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// StockBalance is the materialized balance for an item.
type StockBalance struct {
	ItemKind ItemKind `db:"item_kind" json:"itemKind"`
	ItemID   id.ID    `db:"item_id" json:"itemId"`

	Quantity types.Quantity `db:"quantity" json:"quantity"`

	LastMovementAt time.Time `db:"last_movement_at" json:"lastMovementAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// SerialRecord tracks a serialized asset unit through the warehouse.
// A serial is in stock between its receipt and its dispatch.
type SerialRecord struct {
	Serial     string    `db:"serial" json:"serial"`
	ItemID     id.ID     `db:"item_id" json:"itemId"`
	InStock    bool      `db:"in_stock" json:"inStock"`
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`
	ReceiptID  id.ID     `db:"receipt_id" json:"receiptId"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}
