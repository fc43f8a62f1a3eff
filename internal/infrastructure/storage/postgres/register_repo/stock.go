// Package register_repo provides PostgreSQL implementations for register
// repositories.
package register_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/domain/registers/stock"
	"abasto/internal/infrastructure/storage/postgres"
)

const (
	stockMovementsTable = "reg_stock_movements"
	stockBalancesTable  = "reg_stock_balances"
	serialsTable        = "reg_serials"

	// pgUniqueViolation is the SQLSTATE for unique constraint violations.
	pgUniqueViolation = "23505"
)

// StockRepo implements stock.Repository.
type StockRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewStockRepo creates a new stock register repository.
func NewStockRepo(txm *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateMovements inserts movements and keeps the balance table in step.
// Each movement records the balance before and after it was applied, so
// callers get an audit trail that survives later recalculations. Must run
// inside a transaction: the balance row is locked per item.
func (r *StockRepo) CreateMovements(ctx context.Context, movements []entity.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	querier := r.txm.GetQuerier(ctx)

	for i := range movements {
		m := &movements[i]

		balance, err := r.GetBalanceForUpdate(ctx, m.ItemID)
		if err != nil {
			return err
		}

		m.BalanceBefore = balance.Quantity
		m.BalanceAfter = balance.Quantity + m.SignedQuantity()

		sql, args, err := r.builder.Insert(stockMovementsTable).
			Columns(
				"line_id", "recorder_id", "recorder_type", "period", "record_type",
				"item_kind", "item_id", "quantity", "serial",
				"balance_before", "balance_after", "created_at",
			).
			Values(
				m.LineID, m.RecorderID, m.RecorderType, m.Period, m.RecordType,
				m.ItemKind, m.ItemID, m.Quantity, m.Serial,
				m.BalanceBefore, m.BalanceAfter, m.CreatedAt,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := querier.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert movement: %w", err)
		}

		upsertSQL := `
			INSERT INTO reg_stock_balances (item_kind, item_id, quantity, last_movement_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (item_id) DO UPDATE SET
				quantity = $3,
				last_movement_at = $4,
				updated_at = NOW()
		`
		if _, err := querier.Exec(ctx, upsertSQL, m.ItemKind, m.ItemID, m.BalanceAfter, m.Period); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
	}

	return nil
}

// GetMovementsByRecorder retrieves movements for a document.
func (r *StockRepo) GetMovementsByRecorder(ctx context.Context, recorderID id.ID) ([]entity.StockMovement, error) {
	sql, args, err := r.builder.Select(
		"line_id", "recorder_id", "recorder_type", "period", "record_type",
		"item_kind", "item_id", "quantity", "serial",
		"balance_before", "balance_after", "created_at",
	).From(stockMovementsTable).
		Where(squirrel.Eq{"recorder_id": recorderID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var movements []entity.StockMovement
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return movements, nil
}

// GetBalance returns the current balance for an item.
func (r *StockRepo) GetBalance(ctx context.Context, itemID id.ID) (entity.StockBalance, error) {
	var balance entity.StockBalance

	sql, args, err := r.builder.Select(
		"item_kind", "item_id", "quantity", "last_movement_at", "updated_at",
	).From(stockBalancesTable).
		Where(squirrel.Eq{"item_id": itemID}).
		Limit(1).
		ToSql()
	if err != nil {
		return balance, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &balance, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entity.StockBalance{ItemID: itemID}, nil
		}
		return balance, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// GetBalanceForUpdate returns the balance with a pessimistic row lock.
func (r *StockRepo) GetBalanceForUpdate(ctx context.Context, itemID id.ID) (entity.StockBalance, error) {
	var balance entity.StockBalance

	sql := `
		SELECT item_kind, item_id, quantity, last_movement_at, updated_at
		FROM reg_stock_balances
		WHERE item_id = $1
		FOR UPDATE
	`

	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &balance, sql, itemID); err != nil {
		if pgxscan.NotFound(err) {
			return entity.StockBalance{ItemID: itemID}, nil
		}
		return balance, fmt.Errorf("get balance for update: %w", err)
	}
	return balance, nil
}

// GetBalances returns balances matching the filter.
func (r *StockRepo) GetBalances(ctx context.Context, filter stock.BalanceFilter) ([]entity.StockBalance, error) {
	q := r.builder.Select(
		"item_kind", "item_id", "quantity", "last_movement_at", "updated_at",
	).From(stockBalancesTable)

	if len(filter.ItemIDs) > 0 {
		q = q.Where(squirrel.Eq{"item_id": filter.ItemIDs})
	}
	if filter.ItemKind != nil {
		q = q.Where(squirrel.Eq{"item_kind": *filter.ItemKind})
	}
	if filter.ExcludeZero {
		q = q.Where(squirrel.NotEq{"quantity": int64(0)})
	}
	if filter.MinQuantity != nil {
		q = q.Where(squirrel.GtOrEq{"quantity": *filter.MinQuantity})
	}

	q = q.OrderBy("item_id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var balances []entity.StockBalance
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &balances, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	return balances, nil
}

// RegisterSerial records a serial on receipt. A partial unique index on
// (serial, item_id) WHERE in_stock makes double receipt impossible at the
// database level.
func (r *StockRepo) RegisterSerial(ctx context.Context, rec entity.SerialRecord) error {
	sql, args, err := r.builder.Insert(serialsTable).
		Columns("serial", "item_id", "in_stock", "received_at", "receipt_id", "updated_at").
		Values(rec.Serial, rec.ItemID, true, rec.ReceivedAt, rec.ReceiptID, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.NewDuplicateSerial(rec.Serial)
		}
		return fmt.Errorf("register serial: %w", err)
	}
	return nil
}

// ReleaseSerial marks a serial as dispatched.
func (r *StockRepo) ReleaseSerial(ctx context.Context, serial string, itemID id.ID) error {
	sql := `
		UPDATE reg_serials
		SET in_stock = false, updated_at = NOW()
		WHERE serial = $1 AND item_id = $2 AND in_stock
	`

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, serial, itemID)
	if err != nil {
		return fmt.Errorf("release serial: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("serial", serial)
	}
	return nil
}

// GetSerial looks up the most recent record for a serial.
func (r *StockRepo) GetSerial(ctx context.Context, serial string, itemID id.ID) (entity.SerialRecord, error) {
	var rec entity.SerialRecord

	sql, args, err := r.builder.Select(
		"serial", "item_id", "in_stock", "received_at", "receipt_id", "updated_at",
	).From(serialsTable).
		Where(squirrel.Eq{"serial": serial, "item_id": itemID}).
		OrderBy("received_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return rec, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return rec, apperror.NewNotFound("serial", serial)
		}
		return rec, fmt.Errorf("get serial: %w", err)
	}
	return rec, nil
}

// GetMovementHistory returns movement history for an item.
func (r *StockRepo) GetMovementHistory(ctx context.Context, itemID id.ID, filter stock.MovementFilter) ([]entity.StockMovement, error) {
	q := r.builder.Select(
		"line_id", "recorder_id", "recorder_type", "period", "record_type",
		"item_kind", "item_id", "quantity", "serial",
		"balance_before", "balance_after", "created_at",
	).From(stockMovementsTable).
		Where(squirrel.Eq{"item_id": itemID})

	if filter.RecordType != nil {
		q = q.Where(squirrel.Eq{"record_type": *filter.RecordType})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"period": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"period": *filter.ToDate})
	}

	q = q.OrderBy("period DESC", "created_at DESC")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var movements []entity.StockMovement
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	return movements, nil
}

// Ensure interface compliance.
var _ stock.Repository = (*StockRepo)(nil)
