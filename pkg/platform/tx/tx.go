package tx

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a pgx transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a pgx transaction from context if present.
func From(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

type markerKey struct{}

// WithMarker flags ctx as running inside a transaction for stores that have
// no driver transaction to carry (the in-memory adapters).
func WithMarker(ctx context.Context, owner any) context.Context {
	return context.WithValue(ctx, markerKey{}, owner)
}

// HasMarker reports whether ctx runs inside a transaction opened by owner.
func HasMarker(ctx context.Context, owner any) bool {
	return ctx.Value(markerKey{}) == owner
}
