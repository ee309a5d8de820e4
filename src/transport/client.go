package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/dps_queryloop/src/host"
	"github.com/danmuck/dps_queryloop/src/vmtypes"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

// Client sends smart queries to a TCPHandler. Calls are serialized on one connection.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	coder  Coder
	mu     sync.Mutex
}

func Dial(ctx context.Context, address string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	logs.Debugf("Dial(%s): connected", address)
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		coder:  DefaultCoder{},
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// QuerySmart asks the remote host to resolve msg against addr. Remote
// failures satisfy errors.Is against the host error kinds.
func (c *Client) QuerySmart(ctx context.Context, addr vmtypes.Address, msg []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	// unblock the read below if ctx ends without a deadline
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	request := &Frame{
		ID:       uuid.New().String(),
		Kind:     KindQuery,
		Contract: addr,
		Payload:  msg,
	}
	data, err := c.coder.Encode(request)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(data); err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("failed to write query: %w", err))
	}

	for {
		reply, err := c.coder.Decode(c.reader)
		if err != nil {
			return nil, c.ctxErr(ctx, fmt.Errorf("failed to read reply: %w", err))
		}
		if reply.ID != request.ID {
			logs.Warnf("QuerySmart: dropping reply %s, waiting for %s", reply.ID, request.ID)
			continue
		}

		switch reply.Kind {
		case KindResult:
			return reply.Payload, nil
		case KindError:
			return nil, host.FromCode(reply.Code, reply.Error)
		default:
			return nil, fmt.Errorf("unexpected reply kind %s", reply.Kind)
		}
	}
}

// Query implements vmtypes.Querier for smart queries, so a remote host can
// stand in wherever a local one is expected.
func (c *Client) Query(ctx context.Context, request vmtypes.QueryRequest) ([]byte, error) {
	if request.Wasm == nil || request.Wasm.Smart == nil {
		return nil, fmt.Errorf("%w: only smart queries travel over the wire", host.ErrUnsupportedQuery)
	}
	return c.QuerySmart(ctx, request.Wasm.Smart.ContractAddr, request.Wasm.Smart.Msg)
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
