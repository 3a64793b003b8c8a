package exl2

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Client multiplexes requests over a single connection to an ExLlamaV2
// server. It is safe for concurrent use by multiple goroutines.
type Client struct {
	transport Transport
	cfg       clientConfig
	logger    *slog.Logger
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	ids   idAllocator
	calls *registry

	mu       sync.RWMutex
	closed   bool
	closeErr error
}

// Connect establishes a connection to an ExLlamaV2 server. It returns once
// the WebSocket handshake has completed, or with a *ConnectionError if the
// connection could not be opened.
func Connect(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	cfg := newClientConfig(opts)

	transport, err := Dial(ctx, url, cfg.dial)
	if err != nil {
		return nil, err
	}

	c := newClient(context.Background(), transport, cfg)
	c.logger.Info("connected", slog.String("url", url))
	return c, nil
}

// NewWithTransport creates a Client with a custom transport.
// This is useful for testing or custom transport implementations.
func NewWithTransport(ctx context.Context, transport Transport, opts ...ClientOption) *Client {
	return newClient(ctx, transport, newClientConfig(opts))
}

func newClient(ctx context.Context, transport Transport, cfg clientConfig) *Client {
	ctx, cancel := context.WithCancel(ctx)

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sessionID := uuid.NewString()

	c := &Client{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(slog.String("conn_id", sessionID)),
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		calls:     newRegistry(),
	}

	go c.readLoop()

	return c
}

// SessionID returns a random identifier for this connection, attached to
// every log record as conn_id.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Pending returns the number of calls still waiting for a reply.
func (c *Client) Pending() int {
	return c.calls.len()
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeErr
}

// Echo sends a liveness check.
func (c *Client) Echo(ctx context.Context) (*Future, error) {
	return c.call(ctx, NewEchoRequest())
}

// EstimateToken asks the server how many tokens text encodes to.
// The reply's TokenCount method returns the count.
func (c *Client) EstimateToken(ctx context.Context, text string) (*Future, error) {
	return c.call(ctx, NewEstimateTokenRequest(text))
}

// LeftTrimToken asks the server to drop tokens from the start of text until
// at most length tokens remain. The result is in the reply's TrimmedText.
func (c *Client) LeftTrimToken(ctx context.Context, text string, length int) (*Future, error) {
	return c.call(ctx, NewLeftTrimTokenRequest(text, length))
}

// Stop cancels the generation currently running on the server. The stream
// of the cancelled generation still ends with a final item.
func (c *Client) Stop(ctx context.Context) (*Future, error) {
	return c.call(ctx, NewStopRequest())
}

// Infer generates text and resolves with the complete reply.
func (c *Client) Infer(ctx context.Context, text string, opts ...InferOption) (*Future, error) {
	return c.call(ctx, NewInferRequest(text, false, buildInferParams(opts)))
}

// InferStream generates text and returns a stream of incremental chunks.
// Abandoning the stream does not stop generation on the server.
func (c *Client) InferStream(ctx context.Context, text string, opts ...InferOption) (*InferStream, error) {
	req := NewInferRequest(text, true, buildInferParams(opts))

	id := c.ids.next()
	pc := newStreamingCall(id)
	pc.stream.release = func() { c.calls.remove(id) }
	c.calls.register(pc)

	if err := c.send(ctx, id, req); err != nil {
		c.calls.remove(id)
		return nil, err
	}
	return pc.stream, nil
}

// Close closes the connection. Calls still waiting for a reply fail with
// ErrClosed. Closing an already closed client is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.failPending(ErrClosed)

	err := c.transport.Close()
	c.cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// call registers a one-shot call for req and sends it.
func (c *Client) call(ctx context.Context, req *Request) (*Future, error) {
	id := c.ids.next()
	pc := newOneShotCall(id, req.Action)
	pc.future.release = func() { c.calls.remove(id) }
	c.calls.register(pc)

	if err := c.send(ctx, id, req); err != nil {
		c.calls.remove(id)
		return nil, err
	}
	return pc.future, nil
}

// send stamps req with id and writes it to the transport.
func (c *Client) send(ctx context.Context, id uint64, req *Request) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return &SendError{Op: string(req.Action), RequestID: id, Err: ErrClosed}
	}

	req.RequestID = id

	// Observability hook
	if c.cfg.onSend != nil {
		c.cfg.onSend(req)
	}

	c.logger.Debug("sending request",
		slog.String("action", string(req.Action)),
		slog.Uint64("request_id", id),
	)

	data, err := json.Marshal(req)
	if err != nil {
		return &SendError{Op: string(req.Action), RequestID: id, Err: err}
	}

	if err := c.transport.Send(ctx, data); err != nil {
		return &SendError{Op: string(req.Action), RequestID: id, Err: err}
	}
	return nil
}

// readLoop reads frames from the transport and dispatches them one at a
// time, in arrival order.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		data, err := c.transport.Receive(c.ctx)
		if err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame to the call it answers.
func (c *Client) dispatch(data []byte) {
	resp, err := ParseResponse(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame",
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	// Observability hook
	if c.cfg.onReceive != nil {
		c.cfg.onReceive(resp)
	}

	c.logger.Debug("received response",
		slog.String("action", string(resp.Action)),
		slog.Uint64("request_id", resp.RequestID),
		slog.String("response_type", string(resp.ResponseType)),
	)

	pc, ok := c.calls.lookup(resp.RequestID)
	if !ok {
		c.logger.Info("unhandled response",
			slog.String("action", string(resp.Action)),
			slog.Uint64("request_id", resp.RequestID),
		)
		return
	}

	if msg, failed := resp.ErrorMessage(); failed {
		c.calls.remove(pc.id)
		pc.fail(&ProtocolError{RequestID: pc.id, Action: pc.action, Message: msg})
		return
	}

	// Anything addressed to a one-shot call completes it, whatever its shape.
	if !pc.streaming() {
		c.calls.remove(pc.id)
		pc.future.resolve(resp)
		return
	}

	if resp.IsFinal() {
		c.calls.remove(pc.id)
		pc.stream.push(resp, true)
		return
	}
	pc.stream.push(resp, false)
}

// shutdown handles the end of the read loop.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	closing := c.closed
	c.closed = true
	if !closing && !errors.Is(err, ErrClosed) {
		c.closeErr = err
	}
	c.mu.Unlock()
	c.cancel()

	if closing || errors.Is(err, ErrClosed) {
		c.logger.Info("connection closed")
		err = ErrClosed
	} else {
		c.logger.Warn("connection lost", slog.String("error", err.Error()))
	}

	c.failPending(err)

	if !closing {
		_ = c.transport.Close()
	}
}

// failPending fails and forgets every outstanding call.
func (c *Client) failPending(err error) {
	calls := c.calls.drain()
	if len(calls) > 0 {
		c.logger.Debug("failing pending calls",
			slog.Int("count", len(calls)),
			slog.String("error", err.Error()),
		)
	}
	for _, pc := range calls {
		pc.fail(err)
	}
}
