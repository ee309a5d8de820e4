package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/dps_queryloop/src/vmtypes"
	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 4 << 20

type Kind uint8

const (
	KindQuery Kind = iota + 1
	KindResult
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindResult:
		return "result"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is one message on a connection. A query carries Contract and
// Payload, a result carries Payload, an error carries Code and Error.
type Frame struct {
	ID       string
	Kind     Kind
	Contract vmtypes.Address
	Payload  []byte
	Code     uint32
	Error    string
}

// protobuf field numbers of Frame
const (
	fieldID       protowire.Number = 1
	fieldKind     protowire.Number = 2
	fieldContract protowire.Number = 3
	fieldPayload  protowire.Number = 4
	fieldCode     protowire.Number = 5
	fieldError    protowire.Number = 6
)

var ErrFrameTooLarge = errors.New("frame exceeds max frame size")

type Coder interface {
	Encode(*Frame) ([]byte, error)
	Decode(io.Reader) (*Frame, error)
}

// DefaultCoder writes frames as protobuf wire messages behind a 4-byte
// big-endian length prefix.
type DefaultCoder struct{}

func (c DefaultCoder) Encode(frame *Frame) ([]byte, error) {
	out := make([]byte, 4, 64+len(frame.Payload))

	out = appendString(out, fieldID, frame.ID)
	if frame.Kind != 0 {
		out = protowire.AppendTag(out, fieldKind, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(frame.Kind))
	}
	out = appendString(out, fieldContract, string(frame.Contract))
	if len(frame.Payload) > 0 {
		out = protowire.AppendTag(out, fieldPayload, protowire.BytesType)
		out = protowire.AppendBytes(out, frame.Payload)
	}
	if frame.Code != 0 {
		out = protowire.AppendTag(out, fieldCode, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(frame.Code))
	}
	out = appendString(out, fieldError, frame.Error)

	size := len(out) - 4
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	binary.BigEndian.PutUint32(out[:4], uint32(size))
	return out, nil
}

func (c DefaultCoder) Decode(r io.Reader) (*Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	return unmarshalFrame(buf)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func unmarshalFrame(b []byte) (*Frame, error) {
	frame := &Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bad frame tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType,
			num == fieldCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("bad frame field %d: %w", num, protowire.ParseError(n))
			}
			if num == fieldKind {
				frame.Kind = Kind(v)
			} else {
				frame.Code = uint32(v)
			}
			b = b[n:]

		case typ == protowire.BytesType && (num == fieldID || num == fieldContract || num == fieldPayload || num == fieldError):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("bad frame field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldID:
				frame.ID = string(v)
			case fieldContract:
				frame.Contract = vmtypes.Address(v)
			case fieldPayload:
				frame.Payload = append([]byte(nil), v...)
			case fieldError:
				frame.Error = string(v)
			}
			b = b[n:]

		default:
			// skip unknown fields
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("bad frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return frame, nil
}
