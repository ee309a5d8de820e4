package host

import (
	"context"
	"fmt"
)

type contextKey int

const (
	// smart query stack counter to abort query loops
	contextKeyQueryStackSize contextKey = iota
	// gas meter shared by every level of a query chain
	contextKeyGasMeter
)

// WithQueryStackSize stores the stack position for smart queries in the returned context.
func WithQueryStackSize(ctx context.Context, size uint32) context.Context {
	return context.WithValue(ctx, contextKeyQueryStackSize, size)
}

// QueryStackSize reads the stack position for smart queries from the context.
func QueryStackSize(ctx context.Context) (uint32, bool) {
	val, ok := ctx.Value(contextKeyQueryStackSize).(uint32)
	return val, ok
}

func withGasMeter(ctx context.Context, meter *GasMeter) context.Context {
	return context.WithValue(ctx, contextKeyGasMeter, meter)
}

// GasMeterFrom returns the meter of the query chain ctx belongs to, if any.
func GasMeterFrom(ctx context.Context) (*GasMeter, bool) {
	meter, ok := ctx.Value(contextKeyGasMeter).(*GasMeter)
	return meter, ok
}

// checkAndIncreaseQueryStackSize bumps the counter and rejects the call once
// it passes limit. A limit of 0 only counts.
func checkAndIncreaseQueryStackSize(ctx context.Context, limit uint32) (context.Context, error) {
	var size uint32
	if current, ok := QueryStackSize(ctx); ok {
		size = current
	}

	size++

	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: limit %d", ErrExceedMaxQueryStackSize, limit)
	}

	return WithQueryStackSize(ctx, size), nil
}
