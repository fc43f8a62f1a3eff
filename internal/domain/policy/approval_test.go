package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abasto/internal/core/entity"
	"abasto/internal/core/id"
	"abasto/internal/core/types"
	"abasto/internal/domain/documents/request"
)

func TestEngine_Compile(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	t.Run("valid rule", func(t *testing.T) {
		rule, err := engine.Compile("total_quantity < 10.0 && !has_assets")
		require.NoError(t, err)
		assert.Equal(t, "total_quantity < 10.0 && !has_assets", rule.Expr())
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := engine.Compile("total_quantity <")
		assert.Error(t, err)
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, err := engine.Compile("warehouse == 'central'")
		assert.Error(t, err)
	})

	t.Run("non-boolean result", func(t *testing.T) {
		_, err := engine.Compile("total_quantity + 1.0")
		assert.Error(t, err)
	})
}

func TestRule_Eval(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rule, err := engine.Compile("total_quantity <= 5.0 && line_count <= 2 && !has_assets")
	require.NoError(t, err)

	ok, err := rule.Eval(context.Background(), Input{
		LineCount:     2,
		TotalQuantity: 4.5,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rule.Eval(context.Background(), Input{
		LineCount:     2,
		TotalQuantity: 4.5,
		HasAssets:     true,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInputFromRequest(t *testing.T) {
	req := request.NewRequest("jlopez")
	req.Reason = "office supplies"
	req.AddLine(entity.ItemRef{Kind: entity.ItemKindArticle, ID: id.New()}, types.NewQuantityFromFloat64(2.5), "")
	req.AddLine(entity.ItemRef{Kind: entity.ItemKindAsset, ID: id.New()}, types.NewQuantityFromInt(1), "")
	req.AddLine(entity.ItemRef{Kind: entity.ItemKindArticle, ID: id.New()}, types.NewQuantityFromInt(100), "")
	req.Lines[2].Cancelled = true

	in := InputFromRequest(req)

	assert.Equal(t, "jlopez", in.Requester)
	assert.Equal(t, 2, in.LineCount)
	assert.InDelta(t, 3.5, in.TotalQuantity, 1e-9)
	assert.True(t, in.HasAssets)
	assert.InDelta(t, 2.5, in.MaxLineQty, 1e-9)
}

func TestAutoApprover_ShouldAutoApprove(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	approver, err := NewAutoApprover(engine, []string{
		"has_assets == false && total_quantity <= 3.0",
		"requester == 'almacen'",
	})
	require.NoError(t, err)

	t.Run("first rule matches", func(t *testing.T) {
		req := request.NewRequest("jlopez")
		req.Reason = "cleaning"
		req.AddLine(entity.ItemRef{Kind: entity.ItemKindArticle, ID: id.New()}, types.NewQuantityFromInt(2), "")

		ok, err := approver.ShouldAutoApprove(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("second rule matches by requester", func(t *testing.T) {
		req := request.NewRequest("almacen")
		req.Reason = "restock"
		req.AddLine(entity.ItemRef{Kind: entity.ItemKindAsset, ID: id.New()}, types.NewQuantityFromInt(5), "")

		ok, err := approver.ShouldAutoApprove(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("no rule matches", func(t *testing.T) {
		req := request.NewRequest("jlopez")
		req.Reason = "equipment"
		req.AddLine(entity.ItemRef{Kind: entity.ItemKindAsset, ID: id.New()}, types.NewQuantityFromInt(1), "")

		ok, err := approver.ShouldAutoApprove(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("nil approver never matches", func(t *testing.T) {
		var approver *AutoApprover
		ok, err := approver.ShouldAutoApprove(context.Background(), request.NewRequest("x"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
