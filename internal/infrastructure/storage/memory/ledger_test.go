package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/lifecycle"
	"abasto/internal/core/types"
	"abasto/internal/domain/documents/order"
	"abasto/internal/domain/documents/request"
)

func TestRequestRepo_UpdateAfterTransition(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	repo := ledger.Requests()

	req := request.NewRequest("jlopez")
	req.AddLine(entity.ItemRef{Kind: entity.ItemKindArticle, ID: id.New()},
		types.NewQuantityFromFloat64(3), "")
	require.NoError(t, repo.Create(ctx, req))

	loaded, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.Transition(lifecycle.KindRequest, lifecycle.EventSubmit))

	// A single writer round-trips without tripping the optimistic lock;
	// the repository owns the version increment.
	require.NoError(t, repo.Update(ctx, loaded))
	assert.Equal(t, 2, loaded.Version)

	stored, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatePending, stored.State)
	assert.Equal(t, 2, stored.Version)
}

func TestRequestRepo_StaleUpdateRejected(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	repo := ledger.Requests()

	req := request.NewRequest("jlopez")
	require.NoError(t, repo.Create(ctx, req))

	first, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, first))

	err = repo.Update(ctx, second)
	assert.True(t, apperror.HasCode(err, apperror.CodeConcurrentModification))
}

func TestOrderRepo_UpdateAfterTransition(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	repo := ledger.Orders()

	ord := order.NewOrder(id.New(), "compras")
	require.NoError(t, repo.Create(ctx, ord))

	loaded, err := repo.GetByID(ctx, ord.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.Transition(lifecycle.KindOrder, lifecycle.EventConfirm))
	require.NoError(t, repo.Update(ctx, loaded))

	stored, err := repo.GetByID(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateIssued, stored.State)
	assert.Equal(t, 2, stored.Version)
}
