// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/core/id"
)

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ItemRefRequest identifies a stock item in request payloads.
type ItemRefRequest struct {
	Kind string `json:"kind" binding:"required,oneof=article asset"`
	ID   string `json:"id" binding:"required,uuid"`
}

// ToRef converts to the domain item reference.
func (r ItemRefRequest) ToRef() (entity.ItemRef, error) {
	itemID, err := id.Parse(r.ID)
	if err != nil {
		return entity.ItemRef{}, apperror.NewValidation("invalid item id").WithDetail("id", r.ID)
	}
	return entity.ItemRef{Kind: entity.ItemKind(r.Kind), ID: itemID}, nil
}

// ParseID parses a path or payload ID, returning a validation error on
// malformed input.
func ParseID(s string) (id.ID, error) {
	parsed, err := id.Parse(s)
	if err != nil {
		return id.ID{}, apperror.NewValidation("invalid id format").WithDetail("id", s)
	}
	return parsed, nil
}
