package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"abasto/internal/core/lifecycle"
	"abasto/pkg/numerator"
)

// numberPrefixes maps document kinds to their number prefixes.
var numberPrefixes = map[lifecycle.Kind]string{
	lifecycle.KindRequest:  "SOL",
	lifecycle.KindOrder:    "OC",
	lifecycle.KindReceipt:  "REC",
	lifecycle.KindDispatch: "DES",
}

// Numberer allocates document numbers from the sys_numerators table.
// Counters reset yearly and numbers format as PREFIX-YYYY-NNNNN.
type Numberer struct {
	svc  *numerator.Service
	opts *numerator.Options
}

// NewNumberer creates a document numberer backed by the pool. Numbers
// are allocated outside the caller's transaction: a rolled-back
// operation may leave a gap in the sequence, which is acceptable.
func NewNumberer(txm *TxManager) *Numberer {
	return &Numberer{
		svc:  numerator.New(querierAdapter{txm}),
		opts: numerator.DefaultOptions(),
	}
}

// Next allocates the next number for the document kind.
func (n *Numberer) Next(ctx context.Context, kind lifecycle.Kind) (string, error) {
	prefix, ok := numberPrefixes[kind]
	if !ok {
		return "", fmt.Errorf("no number prefix for kind %q", kind)
	}
	return n.svc.GetNextNumber(ctx, numerator.DefaultConfig(prefix), n.opts, time.Now().UTC())
}

// querierAdapter routes numerator queries through the transaction
// manager so an active transaction is reused when present.
type querierAdapter struct {
	txm *TxManager
}

func (q querierAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...)
}
