// Package contract is the query loop fixture: a contract whose only real
// query asks its target to run the same query against itself. It exists so
// a host can prove it cuts such chains off.
package contract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danmuck/dps_queryloop/src/vmtypes"
	logs "github.com/danmuck/smplog"
)

// CodeLabel is the label the fixture is stored under by the CLI and tests.
const CodeLabel = "query-loop"

// QueryLoop implements vmtypes.Contract.
type QueryLoop struct{}

var _ vmtypes.Contract = QueryLoop{}

func (QueryLoop) Instantiate(ctx context.Context, deps vmtypes.Deps, env vmtypes.Env, info vmtypes.MessageInfo, raw []byte) (*vmtypes.Response, error) {
	msg, err := decodeInstantiateMsg(raw)
	if err != nil {
		return nil, err
	}
	return instantiate(msg), nil
}

func (QueryLoop) Execute(ctx context.Context, deps vmtypes.Deps, env vmtypes.Env, info vmtypes.MessageInfo, raw []byte) (*vmtypes.Response, error) {
	msg, err := decodeExecuteMsg(raw)
	if err != nil {
		return nil, err
	}
	return execute(msg), nil
}

func (QueryLoop) Query(ctx context.Context, deps vmtypes.Deps, env vmtypes.Env, raw []byte) ([]byte, error) {
	msg, err := decodeQueryMsg(raw)
	if err != nil {
		return nil, err
	}
	return SendExternalQueryInfiniteLoop(ctx, deps.Querier, msg.SendExternalQueryInfiniteLoop.To)
}

func (QueryLoop) Migrate(ctx context.Context, deps vmtypes.Deps, env vmtypes.Env, raw []byte) (*vmtypes.Response, error) {
	msg, err := decodeMigrateMsg(raw)
	if err != nil {
		return nil, err
	}
	return migrate(msg), nil
}

/////////////////////////////// handlers ///////////////////////////////

func instantiate(InstantiateMsg) *vmtypes.Response {
	return &vmtypes.Response{
		Messages:   []vmtypes.SubMsg{},
		Attributes: []vmtypes.Attribute{},
	}
}

func execute(ExecuteMsg) *vmtypes.Response {
	return &vmtypes.Response{
		Messages:   []vmtypes.SubMsg{},
		Attributes: []vmtypes.Attribute{},
		Data:       nil,
	}
}

func migrate(MigrateMsg) *vmtypes.Response {
	return &vmtypes.Response{}
}

/////////////////////////////// probe ///////////////////////////////

// NewProbeRequest builds the smart query that asks to to run the probe
// against to again.
func NewProbeRequest(to vmtypes.Address) (vmtypes.QueryRequest, error) {
	payload, err := json.Marshal(QueryMsg{
		SendExternalQueryInfiniteLoop: &LoopQuery{To: to},
	})
	if err != nil {
		return vmtypes.QueryRequest{}, fmt.Errorf("failed to encode probe: %w", err)
	}
	return vmtypes.QueryRequest{
		Wasm: &vmtypes.WasmQuery{
			Smart: &vmtypes.SmartQuery{
				ContractAddr: to,
				Msg:          payload,
			},
		},
	}, nil
}

// SendExternalQueryInfiniteLoop submits the self-addressed probe once and
// returns whatever the querier returns. It has no base case; the host must
// stop the chain.
func SendExternalQueryInfiniteLoop(ctx context.Context, querier vmtypes.Querier, to vmtypes.Address) ([]byte, error) {
	req, err := NewProbeRequest(to)
	if err != nil {
		return nil, err
	}
	logs.Debugf("SendExternalQueryInfiniteLoop(%s)", to)
	return querier.Query(ctx, req)
}
