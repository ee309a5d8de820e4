package vmtypes

import (
	"context"
	"encoding/json"
)

// Address names a contract instance. Only string equality is meaningful.
type Address string

func (a Address) String() string {
	return string(a)
}

// Binary is opaque data; encodes as base64 in JSON.
type Binary []byte

type BlockInfo struct {
	Height uint64 `json:"height"`
	Time   int64  `json:"time"` // unix nanos
}

type ContractInfo struct {
	Address Address `json:"address"`
}

// Env is the environment handed to every contract entry point.
type Env struct {
	Block    BlockInfo    `json:"block"`
	Contract ContractInfo `json:"contract"`
}

// MessageInfo describes who sent a state changing message.
type MessageInfo struct {
	Sender Address `json:"sender"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SubMsg is a message a contract asks the host to dispatch after it returns.
type SubMsg struct {
	ID  uint64          `json:"id"`
	Msg json.RawMessage `json:"msg"`
}

// Response carries the effect lists of instantiate, execute and migrate.
type Response struct {
	Messages   []SubMsg    `json:"messages"`
	Attributes []Attribute `json:"attributes"`
	Data       Binary      `json:"data,omitempty"`
}

// IsEmpty reports whether the response carries no effects and no data.
func (r *Response) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.Messages) == 0 && len(r.Attributes) == 0 && len(r.Data) == 0
}

////////////////////////////////////////////////////////////////////////////////////////////
////////////////////////////////////////////////////////////////////////////////////////////

// QueryRequest is a tagged variant; exactly one field is set.
type QueryRequest struct {
	Wasm *WasmQuery `json:"wasm,omitempty"`
}

type WasmQuery struct {
	Smart *SmartQuery `json:"smart,omitempty"`
	Raw   *RawQuery   `json:"raw,omitempty"`
}

// SmartQuery asks the contract at ContractAddr to run its query handler on Msg.
type SmartQuery struct {
	ContractAddr Address `json:"contract_addr"`
	Msg          Binary  `json:"msg"`
}

// RawQuery reads a key from the contract's storage.
type RawQuery struct {
	ContractAddr Address `json:"contract_addr"`
	Key          Binary  `json:"key"`
}

// Querier is the host's synchronous cross-contract query channel.
type Querier interface {
	Query(ctx context.Context, request QueryRequest) ([]byte, error)
}

// QuerierFunc adapts a function to the Querier interface.
type QuerierFunc func(ctx context.Context, request QueryRequest) ([]byte, error)

func (f QuerierFunc) Query(ctx context.Context, request QueryRequest) ([]byte, error) {
	return f(ctx, request)
}

// Deps are the host collaborators available to a contract entry point.
type Deps struct {
	Querier Querier
}

// Contract is a module the host can load. Messages arrive as raw JSON and
// are decoded by the contract itself.
type Contract interface {
	Instantiate(ctx context.Context, deps Deps, env Env, info MessageInfo, msg []byte) (*Response, error)
	Execute(ctx context.Context, deps Deps, env Env, info MessageInfo, msg []byte) (*Response, error)
	Query(ctx context.Context, deps Deps, env Env, msg []byte) ([]byte, error)
	Migrate(ctx context.Context, deps Deps, env Env, msg []byte) (*Response, error)
}
