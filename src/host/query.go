package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/dps_queryloop/src/vmtypes"
	logs "github.com/danmuck/smplog"
)

// Query is the channel contracts use to reach each other.
func (h *Host) Query(ctx context.Context, request vmtypes.QueryRequest) ([]byte, error) {
	if request.Wasm == nil {
		return nil, fmt.Errorf("%w: only wasm queries are routed", ErrUnsupportedQuery)
	}

	switch {
	case request.Wasm.Smart != nil:
		return h.QuerySmart(ctx, request.Wasm.Smart.ContractAddr, request.Wasm.Smart.Msg)
	case request.Wasm.Raw != nil:
		return h.QueryRaw(ctx, request.Wasm.Raw.ContractAddr, request.Wasm.Raw.Key)
	default:
		return nil, fmt.Errorf("%w: empty wasm query", ErrUnsupportedQuery)
	}
}

// QueryRaw answers raw storage reads. Contracts here keep no storage, so any
// key of a known contract reads as empty.
func (h *Host) QueryRaw(ctx context.Context, addr vmtypes.Address, key []byte) ([]byte, error) {
	if _, _, err := h.instance(addr); err != nil {
		return nil, err
	}
	return nil, nil
}

// QuerySmart runs the query entry point of addr. Calls made from inside a
// query share the outer call's stack counter, gas meter and deadline.
func (h *Host) QuerySmart(ctx context.Context, addr vmtypes.Address, msg []byte) ([]byte, error) {
	ctx, cancel, err := h.enterQuery(ctx, len(msg))
	if err != nil {
		h.rejected.Add(1)
		logs.Warnf("QuerySmart(%s): %v", addr, err)
		return nil, err
	}
	defer cancel()

	c, _, err := h.instance(addr)
	if err != nil {
		return nil, err
	}

	depth, _ := QueryStackSize(ctx)
	h.resolved.Add(1)
	h.observeStack(depth)
	logs.Debugf("QuerySmart(%s): stack %d", addr, depth)

	out, err := c.contract.Query(ctx, h.deps(), h.env(addr, h.currentHeight()), msg)
	if err != nil {
		var hostErr *Error
		if isGuardError(err) || errors.As(err, &hostErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, addr, err)
	}
	return out, nil
}

// enterQuery applies the guards for one more level of a query chain. The
// outermost level attaches the gas meter and deadline used by all levels below.
func (h *Host) enterQuery(ctx context.Context, msgLen int) (context.Context, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})

	if _, nested := QueryStackSize(ctx); !nested {
		if h.config.QueryTimeout.Duration > 0 {
			ctx, cancel = context.WithTimeout(ctx, h.config.QueryTimeout.Duration)
		}
		if _, ok := GasMeterFrom(ctx); !ok {
			ctx = withGasMeter(ctx, NewGasMeter(h.config.QueryGasLimit))
		}
	}

	if err := ctx.Err(); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}

	next, err := checkAndIncreaseQueryStackSize(ctx, h.config.MaxQueryStackSize)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	if meter, ok := GasMeterFrom(next); ok {
		cost := h.config.QuerySetupGas + h.config.QueryGasPerByte*uint64(msgLen)
		if err := meter.ConsumeGas(cost, "smart query"); err != nil {
			cancel()
			return nil, nil, err
		}
	}

	return next, cancel, nil
}

func (h *Host) observeStack(depth uint32) {
	for {
		seen := h.maxStackSeen.Load()
		if depth <= seen || h.maxStackSeen.CompareAndSwap(seen, depth) {
			return
		}
	}
}
