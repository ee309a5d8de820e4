package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/dps_queryloop/src/vmtypes"
)

var (
	// ErrNoVariants is returned when decoding into a message type that has no cases.
	ErrNoVariants = errors.New("message type has no variants")
	// ErrUnknownVariant is returned when a message names no known case, or more than one.
	ErrUnknownVariant = errors.New("unknown message variant")
)

// InstantiateMsg has a single case, nop {}.
type InstantiateMsg struct {
	Nop *struct{} `json:"nop,omitempty"`
}

// ExecuteMsg has no cases. Nothing implements it, so the only value a
// handler can ever see is nil.
type ExecuteMsg interface {
	isExecuteMsg()
}

// MigrateMsg has no cases, see ExecuteMsg.
type MigrateMsg interface {
	isMigrateMsg()
}

// QueryMsg has a single case, send_external_query_infinite_loop {to}.
type QueryMsg struct {
	SendExternalQueryInfiniteLoop *LoopQuery `json:"send_external_query_infinite_loop,omitempty"`
}

// LoopQuery forwards the probe to To.
type LoopQuery struct {
	To vmtypes.Address `json:"to"`
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownVariant, err)
	}
	return nil
}

func decodeInstantiateMsg(raw []byte) (InstantiateMsg, error) {
	var msg InstantiateMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return msg, err
	}
	if msg.Nop == nil {
		return msg, fmt.Errorf("%w: instantiate msg %s", ErrUnknownVariant, raw)
	}
	return msg, nil
}

func decodeQueryMsg(raw []byte) (QueryMsg, error) {
	var msg QueryMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return msg, err
	}
	if msg.SendExternalQueryInfiniteLoop == nil {
		return msg, fmt.Errorf("%w: query msg %s", ErrUnknownVariant, raw)
	}
	return msg, nil
}

// decodeExecuteMsg never succeeds: there is no well-formed execute message.
func decodeExecuteMsg(raw []byte) (ExecuteMsg, error) {
	return nil, fmt.Errorf("%w: execute msg %s", ErrNoVariants, raw)
}

func decodeMigrateMsg(raw []byte) (MigrateMsg, error) {
	return nil, fmt.Errorf("%w: migrate msg %s", ErrNoVariants, raw)
}
