package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/types"
	"abasto/internal/domain/registers/stock"
	"abasto/internal/infrastructure/storage/memory"
)

func newService() (*stock.Service, *memory.Ledger) {
	ledger := memory.NewLedger()
	return stock.NewService(ledger.Stock()), ledger
}

func articleMovement(itemID id.ID, qty float64) entity.StockMovement {
	return entity.NewStockMovement(
		id.New(), "Receipt", time.Now().UTC(), entity.RecordTypeCredit,
		entity.ItemRef{Kind: entity.ItemKindArticle, ID: itemID},
		types.NewQuantityFromFloat64(qty), "",
	)
}

func assetMovement(itemID id.ID, serial string) entity.StockMovement {
	return entity.NewStockMovement(
		id.New(), "Receipt", time.Now().UTC(), entity.RecordTypeCredit,
		entity.ItemRef{Kind: entity.ItemKindAsset, ID: itemID},
		types.NewQuantityFromInt(1), serial,
	)
}

func TestService_CreditAndDebit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	itemID := id.New()

	require.NoError(t, svc.Credit(ctx, []entity.StockMovement{articleMovement(itemID, 10)}))

	available, err := svc.GetAvailability(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromFloat64(10), available)

	debit := articleMovement(itemID, 4)
	require.NoError(t, svc.Debit(ctx, []entity.StockMovement{debit}))

	available, err = svc.GetAvailability(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromFloat64(6), available)
}

func TestService_DebitInsufficientStock(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newService()
	itemID := id.New()
	ledger.SeedBalance(itemID, entity.ItemKindArticle, types.NewQuantityFromFloat64(3))

	err := svc.Debit(ctx, []entity.StockMovement{articleMovement(itemID, 5)})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))
}

func TestService_DebitSumsBatchPerItem(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newService()
	itemID := id.New()
	ledger.SeedBalance(itemID, entity.ItemKindArticle, types.NewQuantityFromFloat64(5))

	// Two lines of one item: 3+3 exceeds the balance even though either
	// alone fits, and nothing is written.
	err := svc.Debit(ctx, []entity.StockMovement{
		articleMovement(itemID, 3),
		articleMovement(itemID, 3),
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))

	available, err := svc.GetAvailability(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromFloat64(5), available)

	// 3+2 fits exactly.
	require.NoError(t, svc.Debit(ctx, []entity.StockMovement{
		articleMovement(itemID, 3),
		articleMovement(itemID, 2),
	}))

	available, err = svc.GetAvailability(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(0), available)
}

func TestService_MovementValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	itemID := id.New()

	t.Run("zero quantity", func(t *testing.T) {
		m := articleMovement(itemID, 0)
		err := svc.Credit(ctx, []entity.StockMovement{m})
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	})

	t.Run("missing recorder", func(t *testing.T) {
		m := articleMovement(itemID, 1)
		m.RecorderID = id.ID{}
		err := svc.Credit(ctx, []entity.StockMovement{m})
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	})

	t.Run("asset without serial", func(t *testing.T) {
		m := assetMovement(itemID, "")
		err := svc.Credit(ctx, []entity.StockMovement{m})
		assert.True(t, apperror.HasCode(err, apperror.CodeMissingSerial))
	})

	t.Run("fractional asset quantity", func(t *testing.T) {
		m := assetMovement(itemID, "SN-1")
		m.Quantity = types.NewQuantityFromFloat64(1.5)
		err := svc.Credit(ctx, []entity.StockMovement{m})
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	})
}

func TestService_SerialLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newService()
	itemID := id.New()

	require.NoError(t, svc.Credit(ctx, []entity.StockMovement{assetMovement(itemID, "SN-100")}))

	// Same serial cannot be received twice while in stock.
	err := svc.Credit(ctx, []entity.StockMovement{assetMovement(itemID, "SN-100")})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateSerial))

	// Dispatch releases it.
	require.NoError(t, svc.Debit(ctx, []entity.StockMovement{assetMovement(itemID, "SN-100")}))

	rec, err := ledger.Stock().GetSerial(ctx, "SN-100", itemID)
	require.NoError(t, err)
	assert.False(t, rec.InStock)

	// And it may come back on a later receipt.
	require.NoError(t, svc.Credit(ctx, []entity.StockMovement{assetMovement(itemID, "SN-100")}))
}

func TestService_BalanceSnapshots(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newService()
	itemID := id.New()

	require.NoError(t, svc.Credit(ctx, []entity.StockMovement{articleMovement(itemID, 10)}))
	require.NoError(t, svc.Debit(ctx, []entity.StockMovement{articleMovement(itemID, 3)}))

	history, err := ledger.Stock().GetMovementHistory(ctx, itemID, stock.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)

	var credit, debit *entity.StockMovement
	for i := range history {
		switch history[i].RecordType {
		case entity.RecordTypeCredit:
			credit = &history[i]
		case entity.RecordTypeDebit:
			debit = &history[i]
		}
	}
	require.NotNil(t, credit)
	require.NotNil(t, debit)

	assert.Equal(t, types.Quantity(0), credit.BalanceBefore)
	assert.Equal(t, types.NewQuantityFromFloat64(10), credit.BalanceAfter)
	assert.Equal(t, types.NewQuantityFromFloat64(10), debit.BalanceBefore)
	assert.Equal(t, types.NewQuantityFromFloat64(7), debit.BalanceAfter)
}

func TestService_GetStockExcludesZero(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newService()

	inStock := id.New()
	depleted := id.New()
	ledger.SeedBalance(inStock, entity.ItemKindArticle, types.NewQuantityFromFloat64(5))
	ledger.SeedBalance(depleted, entity.ItemKindArticle, 0)

	balances, err := svc.GetStock(ctx, stock.BalanceFilter{})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, inStock, balances[0].ItemID)
}
