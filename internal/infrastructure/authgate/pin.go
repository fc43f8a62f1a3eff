// Package authgate provides credential-backed implementations of the
// approval gate.
package authgate

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"abasto/internal/core/apperror"
	domain "abasto/internal/domain/authgate"
	"abasto/pkg/logger"
)

// PinGate verifies approval PINs against stored bcrypt hashes, keyed by
// the responsible person's name. Unknown responsibles are denied.
type PinGate struct {
	hashes map[string]string
}

var _ domain.Gate = (*PinGate)(nil)

// NewPinGate creates a gate over a responsible -> bcrypt hash map.
func NewPinGate(hashes map[string]string) *PinGate {
	return &PinGate{hashes: hashes}
}

// HashPin hashes a PIN for storage.
func HashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks the challenge against the responsible's stored hash.
func (g *PinGate) Verify(ctx context.Context, responsible, challenge string) error {
	hash, ok := g.hashes[responsible]
	if !ok {
		logger.Warn(ctx, "approval attempt by unknown responsible", "responsible", responsible)
		return apperror.NewAuthDenied(responsible)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(challenge)); err != nil {
		logger.Warn(ctx, "approval credential rejected", "responsible", responsible)
		return apperror.NewAuthDenied(responsible)
	}
	return nil
}
