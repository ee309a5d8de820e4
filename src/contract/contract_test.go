package contract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/dps_queryloop/src/vmtypes"
)

// recordingQuerier captures every request and answers with a fixed result.
type recordingQuerier struct {
	requests []vmtypes.QueryRequest
	result   []byte
	err      error
}

func (q *recordingQuerier) Query(ctx context.Context, request vmtypes.QueryRequest) ([]byte, error) {
	q.requests = append(q.requests, request)
	return q.result, q.err
}

func TestNewProbeRequestIsSelfAddressed(t *testing.T) {
	targets := []vmtypes.Address{
		"contract1qyqszqgpqyqszqgpqyqszqgpqyqszqgp",
		"",
		"self",
		`needs "escaping" \ here`,
		"<html>&amp;",
		"ünïcødé-addr",
	}

	for _, to := range targets {
		t.Run(string(to), func(t *testing.T) {
			req, err := NewProbeRequest(to)
			if err != nil {
				t.Fatalf("NewProbeRequest(%q) failed: %v", to, err)
			}
			if req.Wasm == nil || req.Wasm.Smart == nil {
				t.Fatalf("expected a wasm smart query, got %+v", req)
			}
			if req.Wasm.Raw != nil {
				t.Fatalf("raw query must not be set")
			}
			if req.Wasm.Smart.ContractAddr != to {
				t.Fatalf("ContractAddr = %q, want %q", req.Wasm.Smart.ContractAddr, to)
			}

			msg, err := decodeQueryMsg(req.Wasm.Smart.Msg)
			if err != nil {
				t.Fatalf("embedded payload does not decode: %v", err)
			}
			if msg.SendExternalQueryInfiniteLoop.To != to {
				t.Fatalf("embedded to = %q, want %q", msg.SendExternalQueryInfiniteLoop.To, to)
			}
		})
	}
}

func TestProbePayloadWireShape(t *testing.T) {
	req, err := NewProbeRequest("contract1abc")
	if err != nil {
		t.Fatalf("NewProbeRequest failed: %v", err)
	}
	want := `{"send_external_query_infinite_loop":{"to":"contract1abc"}}`
	if string(req.Wasm.Smart.Msg) != want {
		t.Fatalf("payload = %s, want %s", req.Wasm.Smart.Msg, want)
	}
}

func TestSendExternalQueryInfiniteLoopForwardsResult(t *testing.T) {
	q := &recordingQuerier{result: []byte("host bytes")}

	out, err := SendExternalQueryInfiniteLoop(context.Background(), q, "target")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "host bytes" {
		t.Fatalf("result = %q, want %q", out, "host bytes")
	}
	if len(q.requests) != 1 {
		t.Fatalf("expected exactly one outbound query, got %d", len(q.requests))
	}
}

func TestSendExternalQueryInfiniteLoopForwardsError(t *testing.T) {
	hostErr := errors.New("max query stack size exceeded")
	q := &recordingQuerier{err: hostErr}

	out, err := SendExternalQueryInfiniteLoop(context.Background(), q, "target")
	if err != hostErr {
		t.Fatalf("error = %v, want the host error unmodified", err)
	}
	if out != nil {
		t.Fatalf("expected no result, got %q", out)
	}
	if len(q.requests) != 1 {
		t.Fatalf("failure must not be retried, got %d queries", len(q.requests))
	}
}

func TestQueryEntryPoint(t *testing.T) {
	q := &recordingQuerier{result: []byte("done")}
	deps := vmtypes.Deps{Querier: q}
	env := vmtypes.Env{Contract: vmtypes.ContractInfo{Address: "me"}}

	raw := []byte(`{"send_external_query_infinite_loop":{"to":"me"}}`)
	out, err := QueryLoop{}.Query(context.Background(), deps, env, raw)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if string(out) != "done" {
		t.Fatalf("Query = %q, want %q", out, "done")
	}

	sent := q.requests[0].Wasm.Smart
	var embedded QueryMsg
	if err := json.Unmarshal(sent.Msg, &embedded); err != nil {
		t.Fatalf("embedded payload: %v", err)
	}
	if embedded.SendExternalQueryInfiniteLoop.To != sent.ContractAddr {
		t.Fatalf("forwarded probe is not self-addressed: %+v", embedded)
	}
}

func TestQueryEntryPointRejectsUnknownVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty object", raw: `{}`},
		{name: "unknown case", raw: `{"balance":{}}`},
		{name: "null case", raw: `{"send_external_query_infinite_loop":null}`},
		{name: "not json", raw: `send`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &recordingQuerier{}
			_, err := QueryLoop{}.Query(context.Background(), vmtypes.Deps{Querier: q}, vmtypes.Env{}, []byte(tc.raw))
			if !errors.Is(err, ErrUnknownVariant) {
				t.Fatalf("error = %v, want ErrUnknownVariant", err)
			}
			if len(q.requests) != 0 {
				t.Fatalf("no query may be sent for a bad message")
			}
		})
	}
}

func TestInstantiateNop(t *testing.T) {
	resp, err := QueryLoop{}.Instantiate(context.Background(), vmtypes.Deps{}, vmtypes.Env{}, vmtypes.MessageInfo{}, []byte(`{"nop":{}}`))
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	if !resp.IsEmpty() {
		t.Fatalf("expected empty effects, got %+v", resp)
	}
	if resp.Messages == nil || resp.Attributes == nil {
		t.Fatalf("effect lists should be present and empty: %+v", resp)
	}
}

func TestInstantiateRejectsOtherMessages(t *testing.T) {
	for _, raw := range []string{`{}`, `{"nop":null}`, `{"nop":{},"other":{}}`} {
		_, err := QueryLoop{}.Instantiate(context.Background(), vmtypes.Deps{}, vmtypes.Env{}, vmtypes.MessageInfo{}, []byte(raw))
		if !errors.Is(err, ErrUnknownVariant) {
			t.Fatalf("Instantiate(%s) error = %v, want ErrUnknownVariant", raw, err)
		}
	}
}

func TestExecuteAndMigrateHandlers(t *testing.T) {
	if resp := execute(nil); !resp.IsEmpty() || resp.Data != nil {
		t.Fatalf("execute handler = %+v, want empty response without data", resp)
	}
	if resp := migrate(nil); !resp.IsEmpty() {
		t.Fatalf("migrate handler = %+v, want default response", resp)
	}
}

func TestExecuteAndMigrateMessagesNeverDecode(t *testing.T) {
	inputs := []string{`{}`, `{"anything":{}}`, `null`, ``}
	c := QueryLoop{}

	for _, raw := range inputs {
		if _, err := c.Execute(context.Background(), vmtypes.Deps{}, vmtypes.Env{}, vmtypes.MessageInfo{}, []byte(raw)); !errors.Is(err, ErrNoVariants) {
			t.Fatalf("Execute(%q) error = %v, want ErrNoVariants", raw, err)
		}
		if _, err := c.Migrate(context.Background(), vmtypes.Deps{}, vmtypes.Env{}, []byte(raw)); !errors.Is(err, ErrNoVariants) {
			t.Fatalf("Migrate(%q) error = %v, want ErrNoVariants", raw, err)
		}
	}
}
