// Package authgate defines the authorization check required before a
// request is approved or rejected.
package authgate

import "context"

// Gate verifies that the named responsible person presented a valid
// credential for an approval decision. Implementations decide what the
// challenge is (a PIN, a signed token).
type Gate interface {
	// Verify returns AUTH_DENIED when the challenge does not match.
	Verify(ctx context.Context, responsible, challenge string) error
}

// Open accepts every challenge. Used when the deployment delegates
// approval authorization entirely to the transport layer.
type Open struct{}

func (Open) Verify(context.Context, string, string) error { return nil }
