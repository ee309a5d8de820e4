package host

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/dps_queryloop/src/contract"
	"github.com/danmuck/dps_queryloop/src/vmtypes"
)

// guards builds a config with only the given guards switched on.
func guards(stack uint32, gas uint64, timeout time.Duration) Config {
	cfg := DefaultConfig()
	cfg.MaxQueryStackSize = stack
	cfg.QueryGasLimit = gas
	cfg.QueryTimeout = Duration{timeout}
	return cfg
}

// newLoopHost creates a host with the query loop fixture stored and one
// instance of it created.
func newLoopHost(t *testing.T, cfg Config) (*Host, vmtypes.Address) {
	t.Helper()
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	codeID, err := h.StoreCode(contract.CodeLabel, contract.QueryLoop{})
	if err != nil {
		t.Fatalf("StoreCode failed: %v", err)
	}
	addr, resp, err := h.Instantiate(context.Background(), codeID, "creator", "loop", []byte(`{"nop":{}}`))
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	if !resp.IsEmpty() {
		t.Fatalf("instantiate returned effects: %+v", resp)
	}
	return h, addr
}

func probeMsg(to vmtypes.Address) []byte {
	req, err := contract.NewProbeRequest(to)
	if err != nil {
		panic(err)
	}
	return req.Wasm.Smart.Msg
}

// echoContract answers every query with a fixed reply.
type echoContract struct {
	reply []byte
}

func (e echoContract) Instantiate(context.Context, vmtypes.Deps, vmtypes.Env, vmtypes.MessageInfo, []byte) (*vmtypes.Response, error) {
	return &vmtypes.Response{}, nil
}

func (e echoContract) Execute(context.Context, vmtypes.Deps, vmtypes.Env, vmtypes.MessageInfo, []byte) (*vmtypes.Response, error) {
	return &vmtypes.Response{}, nil
}

func (e echoContract) Query(context.Context, vmtypes.Deps, vmtypes.Env, []byte) ([]byte, error) {
	return e.reply, nil
}

func (e echoContract) Migrate(context.Context, vmtypes.Deps, vmtypes.Env, []byte) (*vmtypes.Response, error) {
	return &vmtypes.Response{Attributes: []vmtypes.Attribute{{Key: "migrated", Value: "true"}}}, nil
}

func TestQueryLoopStopsAtStackLimit(t *testing.T) {
	for _, limit := range []uint32{1, 2, 5, DefaultMaxQueryStackSize, 64} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			h, addr := newLoopHost(t, guards(limit, 0, 0))

			out, err := h.QuerySmart(context.Background(), addr, probeMsg(addr))
			if !errors.Is(err, ErrExceedMaxQueryStackSize) {
				t.Fatalf("error = %v, want ErrExceedMaxQueryStackSize", err)
			}
			if out != nil {
				t.Fatalf("unbounded chain returned a result: %q", out)
			}

			stats := h.Stats()
			if stats.Resolved != uint64(limit) {
				t.Fatalf("resolved %d nested queries, want exactly %d", stats.Resolved, limit)
			}
			if stats.MaxStackSeen != limit {
				t.Fatalf("deepest stack = %d, want %d", stats.MaxStackSeen, limit)
			}
			if stats.Rejected != 1 {
				t.Fatalf("rejected = %d, want 1", stats.Rejected)
			}
			if Code(err) != 27 {
				t.Fatalf("Code(err) = %d, want 27", Code(err))
			}
		})
	}
}

func TestQueryLoopStopsOnGasBudget(t *testing.T) {
	cfg := guards(0, 750, 0)
	cfg.QuerySetupGas = 100
	cfg.QueryGasPerByte = 0
	h, addr := newLoopHost(t, cfg)

	_, err := h.QuerySmart(context.Background(), addr, probeMsg(addr))
	if !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("error = %v, want ErrOutOfGas", err)
	}
	if got := h.Stats().Resolved; got != 7 {
		t.Fatalf("resolved = %d, want 7", got)
	}
}

func TestQueryGasChargesPerByte(t *testing.T) {
	cfg := guards(0, 1000, 0)
	cfg.QuerySetupGas = 0
	cfg.QueryGasPerByte = 10
	h, addr := newLoopHost(t, cfg)

	msg := probeMsg(addr)
	perLevel := uint64(len(msg)) * 10
	_, err := h.QuerySmart(context.Background(), addr, msg)
	if !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("error = %v, want ErrOutOfGas", err)
	}
	if got, want := h.Stats().Resolved, 1000/perLevel; got != want {
		t.Fatalf("resolved = %d, want %d", got, want)
	}
}

func TestQueryLoopStopsOnDeadline(t *testing.T) {
	h, addr := newLoopHost(t, guards(0, 0, time.Hour))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := h.QuerySmart(ctx, addr, probeMsg(addr))
	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("error = %v, want ErrQueryTimeout", err)
	}
	if got := h.Stats().Resolved; got != 0 {
		t.Fatalf("resolved = %d, want 0", got)
	}
}

func TestStackGuardWinsOverLargeBudgets(t *testing.T) {
	h, addr := newLoopHost(t, DefaultConfig())

	_, err := h.QuerySmart(context.Background(), addr, probeMsg(addr))
	if !errors.Is(err, ErrExceedMaxQueryStackSize) {
		t.Fatalf("error = %v, want ErrExceedMaxQueryStackSize", err)
	}
	if errors.Is(err, ErrQueryFailed) {
		t.Fatalf("guard error was wrapped on the way up: %v", err)
	}
}

func TestProbeForwardsSuccessFromOtherContract(t *testing.T) {
	h, loop := newLoopHost(t, DefaultConfig())
	echoID, err := h.StoreCode("echo", echoContract{reply: []byte("pong")})
	if err != nil {
		t.Fatalf("StoreCode failed: %v", err)
	}
	echo, _, err := h.Instantiate(context.Background(), echoID, "creator", "echo", nil)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	out, err := h.QuerySmart(context.Background(), loop, probeMsg(echo))
	if err != nil {
		t.Fatalf("QuerySmart failed: %v", err)
	}
	if string(out) != "pong" {
		t.Fatalf("result = %q, want %q", out, "pong")
	}
	if got := h.Stats().Resolved; got != 2 {
		t.Fatalf("resolved = %d, want 2", got)
	}
}

func TestProbeToMissingContract(t *testing.T) {
	h, addr := newLoopHost(t, DefaultConfig())

	_, err := h.QuerySmart(context.Background(), addr, probeMsg("contract1missing"))
	if !errors.Is(err, ErrNoSuchContract) {
		t.Fatalf("error = %v, want ErrNoSuchContract", err)
	}
}

func TestQuerySmartBadMessage(t *testing.T) {
	h, addr := newLoopHost(t, DefaultConfig())

	_, err := h.QuerySmart(context.Background(), addr, []byte(`{"unknown":{}}`))
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("error = %v, want ErrQueryFailed", err)
	}
	if !errors.Is(err, contract.ErrUnknownVariant) {
		t.Fatalf("error = %v, want the contract error kept in the chain", err)
	}
}

func TestQueryRouting(t *testing.T) {
	h, addr := newLoopHost(t, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name    string
		request vmtypes.QueryRequest
		wantErr error
	}{
		{name: "no variant", request: vmtypes.QueryRequest{}, wantErr: ErrUnsupportedQuery},
		{name: "empty wasm", request: vmtypes.QueryRequest{Wasm: &vmtypes.WasmQuery{}}, wantErr: ErrUnsupportedQuery},
		{name: "raw on known contract", request: vmtypes.QueryRequest{Wasm: &vmtypes.WasmQuery{Raw: &vmtypes.RawQuery{ContractAddr: addr, Key: []byte("k")}}}},
		{name: "raw on missing contract", request: vmtypes.QueryRequest{Wasm: &vmtypes.WasmQuery{Raw: &vmtypes.RawQuery{ContractAddr: "nope"}}}, wantErr: ErrNoSuchContract},
		{name: "smart loop", request: vmtypes.QueryRequest{Wasm: &vmtypes.WasmQuery{Smart: &vmtypes.SmartQuery{ContractAddr: addr, Msg: probeMsg(addr)}}}, wantErr: ErrExceedMaxQueryStackSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Query(ctx, tc.request)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestExecuteAndMigrateThroughHost(t *testing.T) {
	h, addr := newLoopHost(t, DefaultConfig())
	ctx := context.Background()
	loopID, _ := h.CodeByLabel(contract.CodeLabel)

	_, err := h.Execute(ctx, addr, "sender", []byte(`{}`))
	if !errors.Is(err, ErrExecuteFailed) || !errors.Is(err, contract.ErrNoVariants) {
		t.Fatalf("Execute error = %v, want ErrExecuteFailed wrapping ErrNoVariants", err)
	}

	_, err = h.Migrate(ctx, addr, loopID, []byte(`{}`))
	if !errors.Is(err, ErrMigrationFailed) || !errors.Is(err, contract.ErrNoVariants) {
		t.Fatalf("Migrate error = %v, want ErrMigrationFailed wrapping ErrNoVariants", err)
	}

	if _, err := h.Execute(ctx, "contract1missing", "sender", nil); !errors.Is(err, ErrNoSuchContract) {
		t.Fatalf("Execute on missing contract error = %v", err)
	}
	if _, err := h.Migrate(ctx, addr, 99, nil); !errors.Is(err, ErrNoSuchCode) {
		t.Fatalf("Migrate to missing code error = %v", err)
	}
}

func TestMigrateSwitchesCode(t *testing.T) {
	h, addr := newLoopHost(t, DefaultConfig())
	echoID, err := h.StoreCode("echo", echoContract{reply: []byte("v2")})
	if err != nil {
		t.Fatalf("StoreCode failed: %v", err)
	}

	resp, err := h.Migrate(context.Background(), addr, echoID, []byte(`{}`))
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(resp.Attributes) != 1 {
		t.Fatalf("unexpected migrate response: %+v", resp)
	}

	info, err := h.ContractInfo(addr)
	if err != nil {
		t.Fatalf("ContractInfo failed: %v", err)
	}
	if info.CodeID != echoID || info.CodeLabel != "echo" || info.Migrated.IsZero() {
		t.Fatalf("instance not migrated: %+v", info)
	}

	out, err := h.QuerySmart(context.Background(), addr, probeMsg(addr))
	if err != nil || string(out) != "v2" {
		t.Fatalf("query after migrate = %q, %v", out, err)
	}
}

func TestInstantiateErrors(t *testing.T) {
	h, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, _, err := h.Instantiate(context.Background(), 7, "creator", "x", nil); !errors.Is(err, ErrNoSuchCode) {
		t.Fatalf("error = %v, want ErrNoSuchCode", err)
	}

	id, err := h.StoreCode(contract.CodeLabel, contract.QueryLoop{})
	if err != nil {
		t.Fatalf("StoreCode failed: %v", err)
	}
	_, _, err = h.Instantiate(context.Background(), id, "creator", "x", []byte(`{"grow":{}}`))
	if !errors.Is(err, ErrInstantiateFailed) || !errors.Is(err, contract.ErrUnknownVariant) {
		t.Fatalf("error = %v, want ErrInstantiateFailed wrapping ErrUnknownVariant", err)
	}
	if n := len(h.Contracts()); n != 0 {
		t.Fatalf("failed instantiate registered %d contracts", n)
	}
}

func TestStoreCodeRejectsDuplicates(t *testing.T) {
	h, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := h.StoreCode("a", contract.QueryLoop{}); err != nil {
		t.Fatalf("StoreCode failed: %v", err)
	}
	if _, err := h.StoreCode("a", contract.QueryLoop{}); err == nil {
		t.Fatal("expected duplicate label to be rejected")
	}
	if _, err := h.StoreCode("b", nil); err == nil {
		t.Fatal("expected nil contract to be rejected")
	}
}

func TestNewRejectsUnguardedConfig(t *testing.T) {
	if _, err := New(guards(0, 0, 0)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestContractsOrderedByInstance(t *testing.T) {
	h, first := newLoopHost(t, DefaultConfig())
	id, _ := h.CodeByLabel(contract.CodeLabel)
	second, _, err := h.Instantiate(context.Background(), id, "creator", "second", []byte(`{"nop":{}}`))
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	list := h.Contracts()
	if len(list) != 2 || list[0].Address != first || list[1].Address != second {
		t.Fatalf("Contracts() = %+v", list)
	}
	if first == second {
		t.Fatal("instances share an address")
	}
}
