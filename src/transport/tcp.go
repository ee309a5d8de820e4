package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/dps_queryloop/src/host"
	"github.com/danmuck/dps_queryloop/src/vmtypes"
	logs "github.com/danmuck/smplog"
)

const (
	pollInterval = 500 * time.Millisecond
	frameTimeout = 10 * time.Second // to finish reading a frame once it has started
)

// QueryHandler resolves a smart query. *host.Host satisfies it.
type QueryHandler interface {
	QuerySmart(ctx context.Context, addr vmtypes.Address, msg []byte) ([]byte, error)
}

// TCPHandler serves smart queries to remote clients.
type TCPHandler struct {
	address  string
	listener net.Listener
	handler  QueryHandler
	coder    Coder
	exit     chan any

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTCPHandler returns a handler for address. Closing exit or calling Close
// stops it.
func NewTCPHandler(address string, handler QueryHandler, exit chan any) *TCPHandler {
	logs.Debugf("NewTCPHandler(%s)", address)
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPHandler{
		address: address,
		handler: handler,
		coder:   DefaultCoder{},
		exit:    exit,
		closing: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Listen and accept connections via TCPHandler.listener
func (h *TCPHandler) ListenAndAccept() error {
	logs.Debugf("ListenAndAccept(%s)", h.address)
	var err error
	h.listener, err = net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.address, err)
	}

	h.wg.Add(1)
	go h.acceptConnections()

	return nil
}

// Addr is the bound listener address, useful when listening on port 0.
func (h *TCPHandler) Addr() string {
	if h.listener == nil {
		return h.address
	}
	return h.listener.Addr().String()
}

// Close stops accepting, cancels running queries and waits for every
// connection goroutine to return.
func (h *TCPHandler) Close() error {
	logs.Debugf("Close(start)")
	h.closeOnce.Do(func() {
		close(h.closing)
		h.cancel()
	})
	h.wg.Wait()
	logs.Debugf("Close(done)")
	return nil
}

func (h *TCPHandler) stopped() bool {
	select {
	case <-h.exit:
		return true
	case <-h.closing:
		return true
	default:
		return false
	}
}

// private

// listener accept loop
func (h *TCPHandler) acceptConnections() {
	defer h.wg.Done()
	defer h.listener.Close()
	defer h.cancel()
	logs.Debugf("acceptConnections(): start")

	for {
		if h.stopped() {
			logs.Debugf("acceptConnections(): exit")
			return
		}

		h.listener.(*net.TCPListener).SetDeadline(time.Now().Add(pollInterval))
		conn, err := h.listener.Accept()
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				continue
			}
			logs.Warnf("acceptConnections error: %s", err)
			return
		}

		h.wg.Add(1)
		go h.handleConnection(conn)
	}
}

// listener connection handler; frames on one connection are answered in order
func (h *TCPHandler) handleConnection(conn net.Conn) {
	defer h.wg.Done()
	defer conn.Close()
	clientAddr := conn.RemoteAddr().String()
	logs.Debugf("handleConnection(%s): start", clientAddr)

	reader := bufio.NewReader(conn)

	for {
		if h.stopped() {
			logs.Debugf("handleConnection(%s): exit", clientAddr)
			return
		}

		conn.SetReadDeadline(time.Now().Add(pollInterval))
		if _, err := reader.Peek(1); err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				logs.Debugf("handleConnection(%s): closed by peer", clientAddr)
				return
			}
			logs.Warnf("handleConnection(%s): read error: %v", clientAddr, err)
			return
		}

		conn.SetReadDeadline(time.Now().Add(frameTimeout))
		frame, err := h.coder.Decode(reader)
		if err != nil {
			logs.Warnf("handleConnection(%s): %v", clientAddr, err)
			return
		}

		reply := h.dispatch(frame)
		data, err := h.coder.Encode(reply)
		if err != nil {
			logs.Warnf("handleConnection(%s): failed to encode reply: %v", clientAddr, err)
			return
		}
		if _, err := conn.Write(data); err != nil {
			logs.Warnf("handleConnection(%s): failed to write reply: %v", clientAddr, err)
			return
		}
	}
}

func (h *TCPHandler) dispatch(frame *Frame) *Frame {
	if frame.Kind != KindQuery {
		return &Frame{
			ID:    frame.ID,
			Kind:  KindError,
			Code:  host.CodeInternal,
			Error: fmt.Sprintf("unexpected frame kind %s", frame.Kind),
		}
	}

	logs.Debugf("dispatch(%s): query %s", frame.ID, frame.Contract)
	out, err := h.handler.QuerySmart(h.ctx, frame.Contract, frame.Payload)
	if err != nil {
		return &Frame{
			ID:    frame.ID,
			Kind:  KindError,
			Code:  host.Code(err),
			Error: err.Error(),
		}
	}
	return &Frame{ID: frame.ID, Kind: KindResult, Payload: out}
}
