package host

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/channel"
	"github.com/wippyai/wasm-wallet/errors"
	"github.com/wippyai/wasm-wallet/native"
	"github.com/wippyai/wasm-wallet/protocol"
	"github.com/wippyai/wasm-wallet/storage"
)

// Watchable is a store that can report changes made by other writers.
type Watchable interface {
	Watch(ctx context.Context, quiet time.Duration, fn func(path string)) (*storage.Watcher, error)
}

// Host is the execution host. It owns the wallet module and answers
// requests from one connection, one at a time, in arrival order.
type Host struct {
	log      *zap.Logger
	loader   native.Loader
	store    storage.Store
	metrics  *Metrics
	guestDir string

	watch      bool
	watchQuiet time.Duration
	watcher    *storage.Watcher

	state    State
	handlers [protocol.NumCommands]handlerFunc

	// mu serializes commands; the module is not reentrant.
	mu     sync.Mutex
	module native.Module

	connMu sync.RWMutex
	conn   channel.Conn
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithStore sets the storage used by flush, sync_fs and load. The default
// is storage.Nop.
func WithStore(s storage.Store) Option {
	return func(h *Host) {
		if s != nil {
			h.store = s
		}
	}
}

// WithRegisterer registers the host metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Host) {
		h.metrics = NewMetrics(reg)
	}
}

// WithGuestDir sets the working directory passed to init when the payload
// leaves it empty.
func WithGuestDir(dir string) Option {
	return func(h *Host) {
		if dir != "" {
			h.guestDir = dir
		}
	}
}

// WithStorageWatch broadcasts storage_changed events when the store's
// persisted directory changes under it. The store must be Watchable.
func WithStorageWatch(quiet time.Duration) Option {
	return func(h *Host) {
		h.watch = true
		h.watchQuiet = quiet
	}
}

// New creates a host that builds its module with loader on the first
// load_module command.
func New(loader native.Loader, opts ...Option) (*Host, error) {
	if loader == nil {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "loader is required")
	}
	h := &Host{
		log:      zap.NewNop(),
		loader:   loader,
		store:    storage.Nop{},
		guestDir: native.DefaultGuestDir,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	if _, ok := h.store.(Watchable); h.watch && !ok {
		return nil, errors.InvalidInput(errors.PhaseStorage, "store does not support watching")
	}

	h.buildHandlers()
	for i, fn := range h.handlers {
		if fn == nil {
			return nil, errors.New(errors.PhaseDispatch, errors.KindNotFound).
				Command(protocol.Command(i).String()).
				Detail("no handler").
				Build()
		}
	}
	return h, nil
}

// Readiness reports the module lifecycle state.
func (h *Host) Readiness() Readiness {
	return h.state.Load()
}

// Serve answers requests from conn until the peer closes it, the context is
// cancelled, or the connection fails. A clean close returns nil.
func (h *Host) Serve(ctx context.Context, conn channel.Conn) error {
	h.connMu.Lock()
	h.conn = conn
	h.connMu.Unlock()
	defer func() {
		h.connMu.Lock()
		h.conn = nil
		h.connMu.Unlock()
	}()

	h.log.Info("host serving")
	for {
		frame, err := conn.Recv(ctx)
		if err != nil {
			if err == io.EOF {
				h.log.Info("peer closed connection")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			h.log.Warn("malformed request", zap.Error(err), zap.ByteString("frame", frame))
			if req == nil || req.ID == 0 {
				continue
			}
			if req.Type == "" {
				req.Type = "invalid"
			}
			if err := h.reply(ctx, conn, protocol.Failure(req, err)); err != nil {
				return err
			}
			continue
		}

		if err := h.reply(ctx, conn, h.Handle(ctx, req)); err != nil {
			return err
		}
	}
}

func (h *Host) reply(ctx context.Context, conn channel.Conn, resp *protocol.Response) error {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		h.log.Error("encode response", zap.Uint64("id", resp.ID), zap.Error(err))
		data, err = protocol.EncodeResponse(&protocol.Response{ID: resp.ID, Type: resp.Type, Error: err.Error()})
		if err != nil {
			return err
		}
	}
	return conn.Send(ctx, data)
}

// Handle runs one request and builds its reply. It never panics.
func (h *Host) Handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	cmd, ok := protocol.ParseCommand(req.Type)
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("command panicked", zap.String("command", req.Type), zap.Any("panic", r), zap.Stack("stack"))
			resp = protocol.Failure(req, wireError(errors.Fault(req.Type, r)))
		}
		if ok {
			h.metrics.observeCommand(req.Type, resp.Failed(), time.Since(start))
		}
	}()

	if !ok {
		return protocol.Failure(req, wireError(errors.UnknownCommand(req.Type)))
	}
	if cmd != protocol.CmdLoadModule && h.state.Load() != Ready {
		return protocol.Failure(req, wireError(errors.NotInitialized(req.Type)))
	}
	// Ready without a module means Close released it.
	if h.state.Load() == Ready && h.module == nil {
		return protocol.Failure(req, errors.Closed(errors.PhaseDispatch, "host"))
	}

	result, err := h.handlers[cmd](ctx, req.Payload)
	if err != nil {
		h.log.Debug("command failed", zap.String("command", req.Type), zap.Uint64("id", req.ID), zap.Error(err))
		return protocol.Failure(req, wireError(err))
	}
	raw, err := normalize(result)
	if err != nil {
		return protocol.Failure(req, wireError(err))
	}
	return protocol.Success(req, raw)
}

// wireError keeps the messages existing clients match on.
func wireError(err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errors.KindNotInitialized, errors.KindUnknownCommand:
			return &errors.RemoteError{Command: e.Command, Message: e.Detail}
		}
	}
	return err
}

// Emit broadcasts an event to the connected client. Events raised while no
// client is connected are dropped.
func (h *Host) Emit(ctx context.Context, category string, data any) error {
	h.connMu.RLock()
	conn := h.conn
	h.connMu.RUnlock()
	if conn == nil {
		h.log.Debug("event dropped, no client", zap.String("category", category))
		return nil
	}

	ev, err := protocol.NewEvent(category, data)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodeResponse(ev)
	if err != nil {
		return err
	}
	h.metrics.events.WithLabelValues(category).Inc()
	return conn.Send(ctx, frame)
}

func (h *Host) guestOutput(stream, line string) {
	ev := protocol.LogEvent{Stream: stream, Line: line}
	if err := h.Emit(context.Background(), protocol.EventLog, ev); err != nil {
		h.log.Debug("log event not delivered", zap.Error(err))
	}
}

func (h *Host) startWatch() {
	if !h.watch {
		return
	}
	w, err := h.store.(Watchable).Watch(context.Background(), h.watchQuiet, func(path string) {
		if err := h.Emit(context.Background(), protocol.EventStorageChanged, protocol.StorageChangedEvent{Path: path}); err != nil {
			h.log.Debug("storage event not delivered", zap.Error(err))
		}
	})
	if err != nil {
		h.log.Warn("storage watch unavailable", zap.Error(err))
		return
	}
	h.watcher = w
}

// Close stops the storage watcher and releases the module.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.watcher != nil {
		err = multierr.Append(err, h.watcher.Close())
		h.watcher = nil
	}
	if h.module != nil {
		err = multierr.Append(err, h.module.Close(ctx))
		h.module = nil
	}
	h.metrics.ready.Set(0)
	return err
}
