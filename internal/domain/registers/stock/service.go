// Package stock provides the stock accumulation register service.
package stock

import (
	"context"
	"fmt"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/types"
	"abasto/pkg/logger"
)

// Service provides business operations for the stock register.
// Transactions are managed by the caller (the pipeline coordinator).
type Service struct {
	repo Repository
}

// NewService creates a new stock register service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
	}
}

// Credit records incoming movements (goods receipt).
// Asset movements register their serial; a serial already in stock
// fails with DUPLICATE_SERIAL.
func (s *Service) Credit(ctx context.Context, movements []entity.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	for i := range movements {
		m := &movements[i]
		if err := validateMovement(i, m); err != nil {
			return err
		}
		m.RecordType = entity.RecordTypeCredit
	}

	for i := range movements {
		m := &movements[i]
		if m.ItemKind != entity.ItemKindAsset {
			continue
		}
		err := s.repo.RegisterSerial(ctx, entity.SerialRecord{
			Serial:    m.Serial,
			ItemID:    m.ItemID,
			InStock:   true,
			ReceiptID: m.RecorderID,
		})
		if err != nil {
			return fmt.Errorf("register serial %s: %w", m.Serial, err)
		}
	}

	if err := s.repo.CreateMovements(ctx, movements); err != nil {
		return fmt.Errorf("create movements: %w", err)
	}

	logger.Info(ctx, "credited stock",
		"count", len(movements),
		"recorder_id", movements[0].RecorderID,
	)

	return nil
}

// Debit records outgoing movements (dispatch).
// Availability is checked under a row lock immediately before the
// write, so two concurrent debits cannot both succeed on the same
// remaining stock.
func (s *Service) Debit(ctx context.Context, movements []entity.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	for i := range movements {
		m := &movements[i]
		if err := validateMovement(i, m); err != nil {
			return err
		}
		m.RecordType = entity.RecordTypeDebit
	}

	// Lock and check every item before writing anything. Quantities are
	// summed per item first, so a batch with several movements of the
	// same item is checked against their total, not each in isolation.
	needed := make(map[id.ID]types.Quantity, len(movements))
	items := make([]id.ID, 0, len(movements))
	for i := range movements {
		m := &movements[i]
		if _, ok := needed[m.ItemID]; !ok {
			items = append(items, m.ItemID)
		}
		needed[m.ItemID] += m.Quantity
	}
	for _, itemID := range items {
		balance, err := s.repo.GetBalanceForUpdate(ctx, itemID)
		if err != nil {
			return fmt.Errorf("get balance for %s: %w", itemID, err)
		}
		if balance.Quantity < needed[itemID] {
			return apperror.NewInsufficientStock(
				itemID.String(),
				needed[itemID].String(),
				balance.Quantity.String(),
			)
		}
	}

	for i := range movements {
		m := &movements[i]
		if m.ItemKind != entity.ItemKindAsset {
			continue
		}
		if err := s.repo.ReleaseSerial(ctx, m.Serial, m.ItemID); err != nil {
			return fmt.Errorf("release serial %s: %w", m.Serial, err)
		}
	}

	if err := s.repo.CreateMovements(ctx, movements); err != nil {
		return fmt.Errorf("create movements: %w", err)
	}

	logger.Info(ctx, "debited stock",
		"count", len(movements),
		"recorder_id", movements[0].RecorderID,
	)

	return nil
}

func validateMovement(i int, m *entity.StockMovement) error {
	if !m.Quantity.IsPositive() {
		return apperror.NewValidation(fmt.Sprintf("movement %d: quantity must be positive", i))
	}
	if id.IsNil(m.RecorderID) {
		return apperror.NewValidation(fmt.Sprintf("movement %d: recorder_id is required", i))
	}
	if m.ItemKind == entity.ItemKindAsset {
		if m.Serial == "" {
			return apperror.NewMissingSerial(m.LineID.String())
		}
		if !m.Quantity.IsWhole() {
			return apperror.NewValidation(fmt.Sprintf("movement %d: asset quantity must be whole", i))
		}
	}
	return nil
}

// GetAvailability returns the on-hand quantity for an item.
func (s *Service) GetAvailability(ctx context.Context, itemID id.ID) (types.Quantity, error) {
	balance, err := s.repo.GetBalance(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance.Quantity, nil
}

// GetStock returns all items currently in stock.
func (s *Service) GetStock(ctx context.Context, filter BalanceFilter) ([]entity.StockBalance, error) {
	filter.ExcludeZero = true
	return s.repo.GetBalances(ctx, filter)
}

// GetMovementHistory returns the movement trail for an item.
func (s *Service) GetMovementHistory(ctx context.Context, itemID id.ID, filter MovementFilter) ([]entity.StockMovement, error) {
	return s.repo.GetMovementHistory(ctx, itemID, filter)
}
