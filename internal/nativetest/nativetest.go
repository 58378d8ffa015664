// Package nativetest provides an in-memory native.Module for tests that do
// not need a real wallet binary.
package nativetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wippyai/wasm-wallet/errors"
	"github.com/wippyai/wasm-wallet/native"
)

// Func implements one export.
type Func func(ctx context.Context, args ...any) (any, error)

// Const returns a Func that always yields v.
func Const(v any) Func {
	return func(context.Context, ...any) (any, error) { return v, nil }
}

// Echo returns its first argument.
func Echo(_ context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

// Call records one invocation.
type Call struct {
	Export string
	Args   []any
}

// Module dispatches calls to Funcs by export name. Exports without a Func
// go to Fallback when it is set and fail with a not-found error otherwise.
type Module struct {
	Funcs    map[string]Func
	Fallback Func

	mu     sync.Mutex
	calls  []Call
	closed bool
}

// New returns a Module serving funcs.
func New(funcs map[string]Func) *Module {
	if funcs == nil {
		funcs = map[string]Func{}
	}
	return &Module{Funcs: funcs}
}

func (m *Module) Call(ctx context.Context, export string, args ...any) (any, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.Closed(errors.PhaseNative, "module")
	}
	m.calls = append(m.calls, Call{Export: export, Args: append([]any(nil), args...)})
	fn, ok := m.Funcs[export]
	if !ok {
		fn = m.Fallback
	}
	m.mu.Unlock()

	if fn == nil {
		return nil, errors.NotFound(errors.PhaseNative, "export", export)
	}
	return fn(ctx, args...)
}

func (m *Module) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the invocations so far.
func (m *Module) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// LastCall returns the most recent invocation of export.
func (m *Module) LastCall(export string) (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Export == export {
			return m.calls[i], true
		}
	}
	return Call{}, false
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Loader counts loads and hands out Module. Errs are returned by the first
// loads in order; once exhausted every load succeeds.
type Loader struct {
	Module *Module
	Errs   []error
	// OnLoad, when set, runs before the module is returned.
	OnLoad func(opts native.LoadOptions)

	mu    sync.Mutex
	loads atomic.Int32
	opts  native.LoadOptions
}

// Load implements native.Loader.
func (l *Loader) Load(_ context.Context, opts native.LoadOptions) (native.Module, error) {
	n := int(l.loads.Add(1))
	l.mu.Lock()
	l.opts = opts
	l.mu.Unlock()
	if l.OnLoad != nil {
		l.OnLoad(opts)
	}
	if n <= len(l.Errs) && l.Errs[n-1] != nil {
		return nil, l.Errs[n-1]
	}
	return l.Module, nil
}

// Loads returns how many times Load ran.
func (l *Loader) Loads() int {
	return int(l.loads.Load())
}

// Options returns the options of the last load.
func (l *Loader) Options() native.LoadOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts
}

// Wallet returns a Module answering every export the way a freshly started
// wallet would, enough to drive the whole command set.
func Wallet() *Module {
	m := New(map[string]Func{
		native.ExportGetVersion:       Const("1.2.3"),
		native.ExportInit:             Const(`{"return_code":"OK"}`),
		native.ExportIsWalletExist:    Const(false),
		native.ExportGetCurrentTxFee:  Const(uint64(10000000000)),
		native.ExportGetOpenedWallets: Const(`[]`),
		native.ExportGetWalletFiles:   Const(`{"items":[]}`),
		native.ExportAsyncCall:        Const(`{"job_id":1}`),
		native.ExportTryPullResult:    Const(`{"job_id":1,"status":"completed","result":{}}`),
	})
	m.Fallback = Const(`{"return_code":"OK"}`)
	return m
}
