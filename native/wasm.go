package native

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/errors"
)

// DefaultGuestDir is where the working directory appears inside the guest.
const DefaultGuestDir = "/wallet"

// WasmConfig configures WasmModule instances.
type WasmConfig struct {
	// Fetcher serves daemon RPC for the guest. Nil means an HTTPFetcher
	// with default settings.
	Fetcher  Fetcher
	WasmPath string
	// WorkDir is mounted read-write at GuestDir. Empty disables filesystem
	// access.
	WorkDir  string
	GuestDir string
	// MemoryLimitPages caps guest memory in 64KiB pages. 0 keeps the wazero
	// default.
	MemoryLimitPages uint32
}

// WasmModule is a wallet module running on wazero.
type WasmModule struct {
	runtime wazero.Runtime
	mod     api.Module
	release api.Function // pw_free, or free when the module lacks it
	free    api.Function // may be nil for bump allocators
	stdout  *lineWriter
	stderr  *lineWriter
	mu      sync.Mutex
	closed  bool
}

// WasmLoader returns a Loader reading the module from cfg.WasmPath, or from
// LoadOptions.WasmPath when the load command names one.
func WasmLoader(cfg WasmConfig) Loader {
	return func(ctx context.Context, opts LoadOptions) (Module, error) {
		path := cfg.WasmPath
		if opts.WasmPath != "" {
			path = opts.WasmPath
		}
		if path == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "no module path configured")
		}
		bin, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Load("read "+path, err)
		}
		return NewWasmModule(ctx, bin, cfg, opts.Output)
	}
}

// NewWasmModule compiles and instantiates a wallet module. Declared exports
// that are present must match their signatures; malloc and one of pw_free or
// free are required.
func NewWasmModule(ctx context.Context, bin []byte, cfg WasmConfig, output OutputFunc) (*WasmModule, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	m := &WasmModule{
		runtime: rt,
		stdout:  &lineWriter{stream: "stdout", out: output},
		stderr:  &lineWriter{stream: "stderr", out: output},
	}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close(ctx)
		}
	}()

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, errors.Load("instantiate WASI", err)
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(HTTPConfig{})
	}
	_, err := rt.NewHostModuleBuilder(BridgeModule).
		NewFunctionBuilder().
		WithGoModuleFunction(fetchHost(fetcher),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export(ImportFetchHTTP).
		Instantiate(ctx)
	if err != nil {
		return nil, errors.Load("instantiate host bridge", err)
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Load("compile", err)
	}
	if err := validateExports(compiled.ExportedFunctions()); err != nil {
		return nil, err
	}

	modCfg := wazero.NewModuleConfig().
		WithName("wallet").
		WithStdout(m.stdout).
		WithStderr(m.stderr).
		WithStartFunctions("_initialize").
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
	if cfg.WorkDir != "" {
		guestDir := cfg.GuestDir
		if guestDir == "" {
			guestDir = DefaultGuestDir
		}
		if err := os.MkdirAll(cfg.WorkDir, 0o700); err != nil {
			return nil, errors.Load("create working directory", err)
		}
		modCfg = modCfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(cfg.WorkDir, guestDir))
	}

	m.mod, err = rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.Load("instantiate", err)
	}
	if m.mod.Memory() == nil {
		return nil, errors.Load("module has no memory", nil)
	}
	m.free = m.mod.ExportedFunction(ExportLibcFree)
	m.release = m.mod.ExportedFunction(ExportFree)
	if m.release == nil {
		m.release = m.free
	}

	Logger().Info("wallet module loaded",
		zap.Int("bytes", len(bin)),
		zap.Strings("exports", m.Exports()),
		zap.String("workdir", cfg.WorkDir))

	ok = true
	return m, nil
}

func validateExports(defs map[string]api.FunctionDefinition) error {
	i32 := []api.ValueType{api.ValueTypeI32}

	if err := checkExport(defs, ExportMalloc, i32, i32, true); err != nil {
		return err
	}
	_, hasFree := defs[ExportFree]
	_, hasLibcFree := defs[ExportLibcFree]
	if !hasFree && !hasLibcFree {
		return errors.New(errors.PhaseLoad, errors.KindNotFound).
			Export(ExportFree).
			Detail("module exports neither %s nor %s", ExportFree, ExportLibcFree).
			Build()
	}
	for _, name := range []string{ExportFree, ExportLibcFree} {
		if err := checkExport(defs, name, i32, nil, false); err != nil {
			return err
		}
	}

	for name, sig := range walletSigs {
		params, err := sig.CoreParams()
		if err != nil {
			return err
		}
		results, err := sig.CoreResults()
		if err != nil {
			return err
		}
		if err := checkExport(defs, name, params, results, false); err != nil {
			return err
		}
	}
	return nil
}

func checkExport(defs map[string]api.FunctionDefinition, name string, params, results []api.ValueType, required bool) error {
	def, ok := defs[name]
	if !ok {
		if required {
			return errors.New(errors.PhaseLoad, errors.KindNotFound).
				Export(name).
				Detail("required export missing").
				Build()
		}
		return nil
	}
	if !sameTypes(def.ParamTypes(), params) || !sameTypes(def.ResultTypes(), results) {
		return errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
			Export(name).
			Detail("has type %s, want %s",
				formatFunc(def.ParamTypes(), def.ResultTypes()),
				formatFunc(params, results)).
			Build()
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatFunc(params, results []api.ValueType) string {
	var b bytes.Buffer
	b.WriteByte('(')
	for i, t := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(t))
	}
	b.WriteString(") -> (")
	for i, t := range results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(t))
	}
	b.WriteByte(')')
	return b.String()
}

// Exports returns the declared wallet exports the module provides.
func (m *WasmModule) Exports() []string {
	var names []string
	for name := range walletSigs {
		if m.mod.ExportedFunction(name) != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *WasmModule) Call(ctx context.Context, export string, args ...any) (any, error) {
	sig, err := Lookup(export)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Closed(errors.PhaseNative, "module")
	}
	fn := m.mod.ExportedFunction(export)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseNative, "export", export)
	}
	if len(args) != len(sig.Params) {
		return nil, errors.New(errors.PhaseNative, errors.KindInvalidInput).
			Export(export).
			Detail("want %d arguments, got %d", len(sig.Params), len(args)).
			Build()
	}

	stack := make([]uint64, len(args))
	var owned []uint32
	defer func() {
		for _, ptr := range owned {
			m.freeArg(ctx, ptr)
		}
	}()
	for i, arg := range args {
		if _, isString := sig.Params[i].(wit.String); isString {
			s, ok := arg.(string)
			if !ok {
				return nil, errors.TypeMismatch(export, i, "string", arg)
			}
			ptr, err := guestString(ctx, m.mod, s)
			if err != nil {
				return nil, err
			}
			owned = append(owned, ptr)
			stack[i] = api.EncodeU32(ptr)
			continue
		}
		v, err := lowerScalar(export, i, sig.Params[i], arg)
		if err != nil {
			return nil, err
		}
		stack[i] = v
	}

	start := time.Now()
	results, err := fn.Call(ctx, stack...)
	if err != nil {
		return nil, errors.Trap(export, err)
	}
	Logger().Debug("native call", zap.String("export", export), zap.Duration("elapsed", time.Since(start)))

	if len(sig.Results) == 0 {
		return nil, nil
	}
	if len(results) == 0 {
		return nil, errors.New(errors.PhaseNative, errors.KindInvalidData).
			Export(export).
			Detail("missing result").
			Build()
	}
	return m.lift(ctx, export, sig.Results[0], results[0])
}

func lowerScalar(export string, i int, t wit.Type, arg any) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		if b, ok := arg.(bool); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
		return 0, errors.TypeMismatch(export, i, "bool", arg)
	case wit.S32:
		switch v := arg.(type) {
		case int32:
			return api.EncodeI32(v), nil
		case int:
			if v >= math.MinInt32 && v <= math.MaxInt32 {
				return api.EncodeI32(int32(v)), nil
			}
		}
		return 0, errors.TypeMismatch(export, i, "s32", arg)
	case wit.U32:
		switch v := arg.(type) {
		case uint32:
			return api.EncodeU32(v), nil
		case int:
			if v >= 0 && uint64(v) <= math.MaxUint32 {
				return api.EncodeU32(uint32(v)), nil
			}
		}
		return 0, errors.TypeMismatch(export, i, "u32", arg)
	case wit.S64:
		switch v := arg.(type) {
		case int64:
			return api.EncodeI64(v), nil
		case int:
			return api.EncodeI64(int64(v)), nil
		}
		return 0, errors.TypeMismatch(export, i, "s64", arg)
	case wit.U64:
		switch v := arg.(type) {
		case uint64:
			return v, nil
		case int:
			if v >= 0 {
				return uint64(v), nil
			}
		}
		return 0, errors.TypeMismatch(export, i, "u64", arg)
	}
	return 0, errors.TypeMismatch(export, i, fmt.Sprintf("%T", t), arg)
}

func (m *WasmModule) lift(ctx context.Context, export string, t wit.Type, raw uint64) (any, error) {
	switch t.(type) {
	case wit.String:
		ptr := api.DecodeU32(raw)
		if ptr == 0 {
			return "", nil
		}
		s, err := readCString(m.mod.Memory(), ptr)
		m.releaseResult(ctx, ptr)
		if err != nil {
			return nil, errors.New(errors.PhaseNative, errors.KindInvalidData).
				Export(export).
				Detail("read result").
				Cause(err).
				Build()
		}
		return s, nil
	case wit.Bool:
		return api.DecodeU32(raw) != 0, nil
	case wit.S32:
		return api.DecodeI32(raw), nil
	case wit.U32:
		return api.DecodeU32(raw), nil
	case wit.S64:
		return int64(raw), nil
	case wit.U64:
		return raw, nil
	}
	return nil, errors.New(errors.PhaseNative, errors.KindTypeMismatch).
		Export(export).
		Detail("unsupported result type %T", t).
		Build()
}

func (m *WasmModule) releaseResult(ctx context.Context, ptr uint32) {
	if _, err := m.release.Call(ctx, api.EncodeU32(ptr)); err != nil {
		Logger().Warn("release result failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

func (m *WasmModule) freeArg(ctx context.Context, ptr uint32) {
	if m.free == nil {
		return
	}
	if _, err := m.free.Call(ctx, api.EncodeU32(ptr)); err != nil {
		Logger().Warn("free argument failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// Close releases the runtime. Further calls fail.
func (m *WasmModule) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.stdout.flush()
	m.stderr.flush()
	return m.runtime.Close(ctx)
}

// guestString copies s into memory allocated with the module's malloc and
// NUL-terminates it.
func guestString(ctx context.Context, mod api.Module, s string) (uint32, error) {
	malloc := mod.ExportedFunction(ExportMalloc)
	if malloc == nil {
		return 0, errors.NotFound(errors.PhaseNative, "export", ExportMalloc)
	}
	size := uint32(len(s) + 1)
	res, err := malloc.Call(ctx, api.EncodeU32(size))
	if err != nil {
		return 0, errors.Trap(ExportMalloc, err)
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(ExportMalloc, size)
	}
	buf := make([]byte, size)
	copy(buf, s)
	if !mod.Memory().Write(ptr, buf) {
		return 0, errors.New(errors.PhaseNative, errors.KindAllocation).
			Export(ExportMalloc).
			Detail("%d bytes at %#x out of range", size, ptr).
			Build()
	}
	return ptr, nil
}

// readCString copies the NUL-terminated string at ptr.
func readCString(mem api.Memory, ptr uint32) (string, error) {
	size := mem.Size()
	if ptr >= size {
		return "", errors.New(errors.PhaseNative, errors.KindInvalidData).
			Detail("string pointer %#x outside memory of %d bytes", ptr, size).
			Build()
	}
	view, _ := mem.Read(ptr, size-ptr)
	n := bytes.IndexByte(view, 0)
	if n < 0 {
		return "", errors.New(errors.PhaseNative, errors.KindInvalidData).
			Detail("unterminated string at %#x", ptr).
			Build()
	}
	return string(view[:n]), nil
}

// lineWriter splits guest output into lines for the logger and the
// load-time output callback.
type lineWriter struct {
	out    OutputFunc
	stream string
	buf    []byte
	mu     sync.Mutex
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = append(w.buf[:0], w.buf[i+1:]...)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	Logger().Debug("guest output", zap.String("stream", w.stream), zap.String("line", line))
	if w.out != nil {
		w.out(w.stream, line)
	}
}
