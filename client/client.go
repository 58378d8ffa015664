package client

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/channel"
	"github.com/wippyai/wasm-wallet/errors"
	"github.com/wippyai/wasm-wallet/protocol"
)

// Call is an outstanding request. Done receives the Call itself once the
// response arrives or the request fails.
type Call struct {
	Command protocol.Command
	Result  json.RawMessage
	Error   error
	Done    chan *Call
	ID      uint64
}

func (call *Call) finish() {
	select {
	case call.Done <- call:
	default:
		// Done is buffered; a full channel means the call was already
		// delivered.
	}
}

// Decode unmarshals the result into out.
func (call *Call) Decode(out any) error {
	if call.Error != nil {
		return call.Error
	}
	if out == nil || len(call.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(call.Result, out); err != nil {
		return errors.New(errors.PhaseProtocol, errors.KindInvalidData).
			Command(call.Command.String()).
			Detail("decode result").
			Cause(err).
			Build()
	}
	return nil
}

// Client is the wallet façade. It correlates requests with responses by id,
// fans host events out to subscribers and loads the module on first use.
// All methods are safe for concurrent use.
type Client struct {
	conn    channel.Conn
	log     *zap.Logger
	clock   clock.Clock
	metrics *Metrics
	id      string
	wasmURL string

	rejectOnHostFailure bool

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]*Call
	closed  bool
	hostErr error

	subs subscriptions

	// loadGate admits one load_module at a time; waiters honour their ctx.
	loadGate chan struct{}
	loaded   atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client over conn and starts reading responses.
func New(conn channel.Conn, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		log:      zap.NewNop(),
		clock:    clock.New(),
		id:       uuid.NewString(),
		pending:  make(map[uint64]*Call),
		loadGate: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.log = c.log.With(zap.String("client", c.id))
	c.subs.init(c.log, c.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(ctx)
	return c
}

// ID identifies this client in logs.
func (c *Client) ID() string {
	return c.id
}

// Go sends cmd and returns without waiting. It does not load the module
// first; use Call for that. A request that cannot be sent completes
// immediately with an error.
func (c *Client) Go(ctx context.Context, cmd protocol.Command, payload any) *Call {
	call := &Call{Command: cmd, Done: make(chan *Call, 1)}

	req, err := protocol.NewRequest(0, cmd.String(), payload)
	if err != nil {
		call.Error = err
		call.finish()
		return call
	}

	c.mu.Lock()
	if err := c.unusable(); err != nil {
		c.mu.Unlock()
		call.Error = err
		call.finish()
		return call
	}
	c.seq++
	call.ID = c.seq
	c.pending[call.ID] = call
	c.metrics.pending.Set(float64(len(c.pending)))
	c.mu.Unlock()

	req.ID = call.ID
	frame, err := protocol.EncodeRequest(req)
	if err == nil {
		err = c.conn.Send(ctx, frame)
	}
	if err != nil {
		if c.forget(call.ID) {
			call.Error = err
			call.finish()
		}
	}
	return call
}

// unusable reports why no request may be sent. c.mu must be held.
func (c *Client) unusable() error {
	if c.closed {
		return errors.Closed(errors.PhaseClient, "client")
	}
	return c.hostErr
}

// forget removes a pending request and reports whether it was still there.
func (c *Client) forget(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	c.metrics.pending.Set(float64(len(c.pending)))
	return true
}

// Call loads the module if needed, sends cmd and waits for its response,
// decoding the result into out when out is non-nil. Failures reported by
// the host are returned as *errors.RemoteError.
//
// Cancelling ctx abandons the wait; the host still runs the command and its
// late response is dropped.
func (c *Client) Call(ctx context.Context, cmd protocol.Command, payload any, out any) error {
	if cmd != protocol.CmdLoadModule {
		if _, err := c.ensureLoaded(ctx); err != nil {
			return err
		}
	}
	call, err := c.roundTrip(ctx, cmd, payload)
	if err != nil {
		return err
	}
	return call.Decode(out)
}

func (c *Client) roundTrip(ctx context.Context, cmd protocol.Command, payload any) (*Call, error) {
	call := c.Go(ctx, cmd, payload)
	select {
	case <-call.Done:
		c.metrics.observe(cmd.String(), call.Error)
		return call, call.Error
	case <-ctx.Done():
		c.forget(call.ID)
		c.metrics.observe(cmd.String(), ctx.Err())
		return nil, ctx.Err()
	}
}

// ensureLoaded sends load_module once. A failed load is retried by the next
// call. The initialized event is raised after the first successful load,
// once the gate is open again, so its handlers may call the client.
func (c *Client) ensureLoaded(ctx context.Context) (*protocol.LoadResult, error) {
	if c.loaded.Load() {
		return &protocol.LoadResult{Status: protocol.StatusAlreadyLoaded}, nil
	}
	select {
	case c.loadGate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res, raw, err := c.load(ctx)
	<-c.loadGate
	if err != nil || raw == nil {
		return res, err
	}
	c.log.Info("module loaded", zap.String("status", res.Status), zap.ByteString("version", res.Version))
	c.emit(protocol.EventInitialized, raw)
	return res, nil
}

// load runs with the gate held. raw is nil when another caller loaded the
// module first.
func (c *Client) load(ctx context.Context) (*protocol.LoadResult, json.RawMessage, error) {
	if c.loaded.Load() {
		return &protocol.LoadResult{Status: protocol.StatusAlreadyLoaded}, nil, nil
	}

	var payload any
	if c.wasmURL != "" {
		payload = protocol.LoadModulePayload{WasmURL: c.wasmURL}
	}
	call, err := c.roundTrip(ctx, protocol.CmdLoadModule, payload)
	if err != nil {
		c.log.Warn("module load failed", zap.Error(err))
		return nil, nil, err
	}
	var res protocol.LoadResult
	if err := call.Decode(&res); err != nil {
		return nil, nil, err
	}
	c.loaded.Store(true)
	raw := call.Result
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return &res, raw, nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		frame, err := c.conn.Recv(ctx)
		if err != nil {
			c.hostFailed(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame []byte) {
	resp, err := protocol.DecodeResponse(frame)
	if err != nil {
		c.log.Warn("dropping malformed frame", zap.Error(err), zap.ByteString("frame", frame))
		return
	}
	if protocol.IsEvent(resp.Type) {
		c.subs.broadcast(newEvent(protocol.EventCategory(resp.Type), resp.Result, c.clock.Now()))
		return
	}

	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
		c.metrics.pending.Set(float64(len(c.pending)))
	}
	c.mu.Unlock()
	if !ok {
		c.metrics.unmatched.Inc()
		c.log.Warn("response for unknown request", zap.Uint64("id", resp.ID), zap.String("type", resp.Type))
		return
	}

	if resp.Failed() {
		call.Error = &errors.RemoteError{Command: resp.Type, Message: resp.Error}
	} else {
		call.Result = resp.Result
	}
	call.finish()
}

// hostFailed handles the end of the response stream. After our own Close it
// is expected; otherwise the host is gone.
func (c *Client) hostFailed(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err == io.EOF {
		err = errors.Closed(errors.PhaseTransport, "host connection")
	}
	hostErr := errors.HostFailure(err)
	c.hostErr = hostErr
	var abandoned []*Call
	if c.rejectOnHostFailure {
		abandoned = c.takePending()
	}
	c.mu.Unlock()

	c.log.Error("execution host failed", zap.Error(err), zap.Int("rejected", len(abandoned)))
	c.emitData(protocol.EventError, protocol.ErrorEvent{Message: err.Error()})
	for _, call := range abandoned {
		call.Error = hostErr
		call.finish()
	}
}

// takePending empties the correlation table. c.mu must be held.
func (c *Client) takePending() []*Call {
	calls := make([]*Call, 0, len(c.pending))
	for id, call := range c.pending {
		calls = append(calls, call)
		delete(c.pending, id)
	}
	c.metrics.pending.Set(0)
	return calls
}

// Pending returns the number of requests waiting for a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close releases the channel, fails every pending request with a closed
// error and drops all subscriptions. Later calls fail the same way.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	abandoned := c.takePending()
	c.mu.Unlock()

	err := c.conn.Close()
	c.cancel()

	closedErr := errors.Closed(errors.PhaseClient, "client")
	for _, call := range abandoned {
		call.Error = closedErr
		call.finish()
	}
	c.subs.clear()
	c.log.Debug("client closed", zap.Int("abandoned", len(abandoned)))
	return err
}

// Done is closed once the client has stopped reading from the channel.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
