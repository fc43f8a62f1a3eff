package entity

import (
	"abasto/internal/core/apperror"
	"abasto/internal/core/id"
	"abasto/internal/core/types"
)

// ItemKind distinguishes warehouse articles from fixed assets. The kinds are
// mutually exclusive: a line references exactly one of the two catalogs.
type ItemKind string

const (
	// ItemKindArticle is a consumable tracked in article stock.
	ItemKindArticle ItemKind = "article"
	// ItemKindAsset is a fixed asset; receipts register serial numbers
	// instead of crediting stock.
	ItemKindAsset ItemKind = "asset"
)

// ItemRef references an article or an asset from a line item.
type ItemRef struct {
	Kind ItemKind `db:"item_kind" json:"itemKind"`
	ID   id.ID    `db:"item_id" json:"itemId"`
}

// IsArticle reports whether the reference points at an article.
func (r ItemRef) IsArticle() bool { return r.Kind == ItemKindArticle }

// IsAsset reports whether the reference points at an asset.
func (r ItemRef) IsAsset() bool { return r.Kind == ItemKindAsset }

// Validate checks the reference shape and the quantity constraints the kind
// imposes: positive always, whole units for assets.
func (r ItemRef) Validate(quantity types.Quantity) error {
	switch r.Kind {
	case ItemKindArticle, ItemKindAsset:
	default:
		return apperror.NewValidation("item kind must be article or asset").
			WithDetail("item_kind", string(r.Kind))
	}

	if id.IsNil(r.ID) {
		return apperror.NewValidation("item reference is required").
			WithDetail("field", "itemId")
	}

	if !quantity.IsPositive() {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("item_id", r.ID.String()).
			WithDetail("quantity", quantity.String())
	}

	if r.Kind == ItemKindAsset && !quantity.IsWhole() {
		return apperror.NewValidation("asset quantities must be whole units").
			WithDetail("item_id", r.ID.String()).
			WithDetail("quantity", quantity.String())
	}

	return nil
}
