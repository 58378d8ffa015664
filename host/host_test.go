package host

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-wallet/channel"
	"github.com/wippyai/wasm-wallet/internal/nativetest"
	"github.com/wippyai/wasm-wallet/internal/wasmbin"
	"github.com/wippyai/wasm-wallet/native"
	"github.com/wippyai/wasm-wallet/protocol"
)

type recordingStore struct {
	mu       sync.Mutex
	persists int
	reloads  int
	err      error
}

func (s *recordingStore) Persist(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	return s.err
}

func (s *recordingStore) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	return s.err
}

func newHost(t *testing.T, l *nativetest.Loader, opts ...Option) *Host {
	t.Helper()
	h, err := New(l.Load, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func request(t *testing.T, id uint64, cmd string, payload any) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(id, cmd, payload)
	require.NoError(t, err)
	return req
}

func mustLoad(t *testing.T, h *Host) {
	t.Helper()
	resp := h.Handle(context.Background(), request(t, 1, "load_module", nil))
	require.Empty(t, resp.Error)
}

func TestNew_RequiresLoader(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNew_WatchNeedsWatchableStore(t *testing.T) {
	l := &nativetest.Loader{Module: nativetest.Wallet()}
	_, err := New(l.Load, WithStore(&recordingStore{}), WithStorageWatch(0))
	assert.Error(t, err)
}

func TestHandle_NotInitialized(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})

	for _, cmd := range []string{"get_version", "init", "flush", "sync_fs"} {
		resp := h.Handle(context.Background(), request(t, 7, cmd, nil))
		assert.Equal(t, uint64(7), resp.ID)
		assert.Equal(t, cmd, resp.Type)
		assert.Equal(t, "WASM module not initialized", resp.Error)
		assert.Empty(t, resp.Result)
	}
	assert.Equal(t, Unloaded, h.Readiness())
}

func TestHandle_UnknownCommand(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})

	resp := h.Handle(context.Background(), request(t, 3, "frobnicate", nil))
	assert.Equal(t, uint64(3), resp.ID)
	assert.Equal(t, "frobnicate", resp.Type)
	assert.Equal(t, "Unknown worker command: frobnicate", resp.Error)
}

func TestLoadModule(t *testing.T) {
	store := &recordingStore{}
	l := &nativetest.Loader{Module: nativetest.Wallet()}
	h := newHost(t, l, WithStore(store))
	ctx := context.Background()

	resp := h.Handle(ctx, request(t, 1, "load_module", protocol.LoadModulePayload{WasmURL: "/srv/wallet.wasm"}))
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"status":"loaded","version":"1.2.3"}`, string(resp.Result))
	assert.Equal(t, Ready, h.Readiness())
	assert.Equal(t, "/srv/wallet.wasm", l.Options().WasmPath)
	assert.Equal(t, 1, store.reloads)

	resp = h.Handle(ctx, request(t, 2, "load_module", nil))
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"status":"already_loaded"}`, string(resp.Result))
	assert.Equal(t, 1, l.Loads())
	assert.Equal(t, 1, store.reloads)
}

func TestLoadModule_FailureCanBeRetried(t *testing.T) {
	l := &nativetest.Loader{
		Module: nativetest.Wallet(),
		Errs:   []error{stderrors.New("wasm fetch failed")},
	}
	h := newHost(t, l)
	ctx := context.Background()

	resp := h.Handle(ctx, request(t, 1, "load_module", nil))
	assert.Contains(t, resp.Error, "wasm fetch failed")
	assert.Equal(t, Unloaded, h.Readiness())

	resp = h.Handle(ctx, request(t, 2, "get_version", nil))
	assert.Equal(t, "WASM module not initialized", resp.Error)

	resp = h.Handle(ctx, request(t, 3, "load_module", nil))
	require.Empty(t, resp.Error)
	assert.Equal(t, Ready, h.Readiness())
	assert.Equal(t, 2, l.Loads())
}

func TestLoadModule_ReloadFailureTolerated(t *testing.T) {
	store := &recordingStore{err: stderrors.New("no such directory")}
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()}, WithStore(store))

	resp := h.Handle(context.Background(), request(t, 1, "load_module", nil))
	require.Empty(t, resp.Error)
	assert.Equal(t, Ready, h.Readiness())
}

func TestLoadModule_VersionUnknown(t *testing.T) {
	mod := nativetest.New(nil)
	h := newHost(t, &nativetest.Loader{Module: mod})

	resp := h.Handle(context.Background(), request(t, 1, "load_module", nil))
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"status":"loaded","version":"unknown"}`, string(resp.Result))
}

func TestHandle_NormalizesResults(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   string
	}{
		{"json object string", `{"valid":true,"auditable":false}`, `{"valid":true,"auditable":false}`},
		{"json array string", `["a.wallet"]`, `["a.wallet"]`},
		{"plain string", "not json", `"not json"`},
		{"bool", true, `true`},
		{"unsigned", uint64(42), `42`},
		{"signed", int64(-1), `-1`},
		{"nil", nil, `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := nativetest.Wallet()
			mod.Funcs[native.ExportGetAddressInfo] = nativetest.Const(tt.result)
			h := newHost(t, &nativetest.Loader{Module: mod})
			mustLoad(t, h)

			resp := h.Handle(context.Background(), request(t, 2, "get_address_info", protocol.AddressPayload{Address: "ZxD"}))
			require.Empty(t, resp.Error)
			assert.JSONEq(t, tt.want, string(resp.Result))
		})
	}
}

func TestHandle_PanicBecomesFailure(t *testing.T) {
	mod := nativetest.Wallet()
	mod.Funcs[native.ExportReset] = func(context.Context, ...any) (any, error) {
		panic("wallet state corrupted")
	}
	h := newHost(t, &nativetest.Loader{Module: mod})
	mustLoad(t, h)
	ctx := context.Background()

	resp := h.Handle(ctx, request(t, 2, "reset", nil))
	assert.Equal(t, uint64(2), resp.ID)
	assert.Contains(t, resp.Error, "wallet state corrupted")

	resp = h.Handle(ctx, request(t, 3, "get_version", nil))
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `"1.2.3"`, string(resp.Result))
}

func TestHandle_InvalidPayload(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})
	mustLoad(t, h)

	req := &protocol.Request{ID: 2, Type: "open", Payload: json.RawMessage(`{"path":42}`)}
	resp := h.Handle(context.Background(), req)
	assert.Contains(t, resp.Error, "decode payload")
}

func TestHandlers_Arguments(t *testing.T) {
	mod := nativetest.Wallet()
	h := newHost(t, &nativetest.Loader{Module: mod}, WithGuestDir("/data"))
	mustLoad(t, h)
	ctx := context.Background()

	tests := []struct {
		cmd     string
		payload any
		export  string
		args    []any
	}{
		{"init", protocol.InitPayload{DaemonURL: "http://node:11211"}, native.ExportInit, []any{"http://node:11211", "/data", int32(0)}},
		{"init", protocol.InitPayload{DaemonURL: "u", Workdir: "/w", LogLevel: 2}, native.ExportInit, []any{"u", "/w", int32(2)}},
		{"generate_random_key", nil, native.ExportGenerateRandomKey, []any{uint64(32)}},
		{"generate_random_key", protocol.RandomKeyPayload{Length: 64}, native.ExportGenerateRandomKey, []any{uint64(64)}},
		{"get_current_tx_fee", nil, native.ExportGetCurrentTxFee, []any{uint64(0)}},
		{"restore", protocol.RestorePayload{Seed: "s", Path: "p", Password: "pw"}, native.ExportRestore, []any{"s", "p", "pw", ""}},
		{"close_wallet", protocol.WalletPayload{WalletID: 4}, native.ExportCloseWallet, []any{int64(4)}},
		{"invoke", protocol.InvokePayload{WalletID: 1, Params: json.RawMessage(`{"method":"getbalance"}`)}, native.ExportInvoke, []any{int64(1), `{"method":"getbalance"}`}},
		{"invoke", protocol.InvokePayload{WalletID: 1, Params: json.RawMessage(`"{\"method\":\"x\"}"`)}, native.ExportInvoke, []any{int64(1), `{"method":"x"}`}},
		{"async_call", protocol.AsyncCallPayload{Method: "transfer", WalletID: 2, Params: json.RawMessage(`{"fee":1}`)}, native.ExportAsyncCall, []any{"transfer", int64(2), `{"fee":1}`}},
		{"try_pull_result", protocol.JobPayload{JobID: 9}, native.ExportTryPullResult, []any{uint64(9)}},
		{"sync_call", protocol.SyncCallPayload{Method: "get_wallet_info", InstanceID: 5}, native.ExportSyncCall, []any{"get_wallet_info", uint64(5), "{}"}},
		{"set_appconfig", protocol.SetAppConfigPayload{ConfStr: "c", EncryptionKey: "k"}, native.ExportSetAppConfig, []any{"c", "k"}},
		{"get_logs_buffer", nil, native.ExportGetLogsBuffer, nil},
	}
	for i, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			resp := h.Handle(ctx, request(t, uint64(i+10), tt.cmd, tt.payload))
			require.Empty(t, resp.Error)
			call, ok := mod.LastCall(tt.export)
			require.True(t, ok)
			assert.Equal(t, tt.args, call.Args)
		})
	}
}

func TestHandlers_EveryCommand(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})
	ctx := context.Background()

	for i, cmd := range protocol.Commands() {
		resp := h.Handle(ctx, request(t, uint64(i+1), cmd.String(), nil))
		assert.Empty(t, resp.Error, cmd.String())
		assert.NotEmpty(t, resp.Result, cmd.String())
	}
}

func TestFlushAndSyncFS(t *testing.T) {
	store := &recordingStore{}
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()}, WithStore(store))
	mustLoad(t, h)
	ctx := context.Background()

	resp := h.Handle(ctx, request(t, 2, "flush", nil))
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"status":"flushed"}`, string(resp.Result))

	resp = h.Handle(ctx, request(t, 3, "sync_fs", nil))
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"status":"synced"}`, string(resp.Result))

	assert.Equal(t, 1, store.persists)
	assert.Equal(t, 2, store.reloads)

	store.err = stderrors.New("disk full")
	resp = h.Handle(ctx, request(t, 4, "flush", nil))
	assert.Contains(t, resp.Error, "disk full")
}

func TestClose_ReleasesModule(t *testing.T) {
	mod := nativetest.Wallet()
	loader := &nativetest.Loader{Module: mod}
	h := newHost(t, loader)
	mustLoad(t, h)
	ctx := context.Background()

	require.NoError(t, h.Close(ctx))
	assert.True(t, mod.Closed())

	resp := h.Handle(ctx, request(t, 2, "get_version", nil))
	assert.Contains(t, resp.Error, "closed")

	resp = h.Handle(ctx, request(t, 3, "load_module", nil))
	require.True(t, resp.Failed())
	assert.Contains(t, resp.Error, "closed")
	assert.Nil(t, resp.Result)
	assert.Equal(t, 1, loader.Loads())
	require.NoError(t, h.Close(ctx))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()}, WithRegisterer(reg))
	ctx := context.Background()

	h.Handle(ctx, request(t, 1, "get_version", nil))
	mustLoad(t, h)
	h.Handle(ctx, request(t, 2, "get_version", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.commands.WithLabelValues("get_version", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.commands.WithLabelValues("get_version", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ready))

	// a second host on the same registry shares the collectors
	_, err := New((&nativetest.Loader{Module: nativetest.Wallet()}).Load, WithRegisterer(reg))
	require.NoError(t, err)
}

func TestState(t *testing.T) {
	var s State
	assert.Equal(t, Unloaded, s.Load())
	assert.False(t, s.Ready())
	assert.True(t, s.Begin())
	assert.False(t, s.Begin())
	assert.True(t, s.Abort())
	assert.True(t, s.Begin())
	assert.True(t, s.Ready())
	assert.False(t, s.Abort())
	assert.False(t, s.Begin())
	assert.Equal(t, Ready, s.Load())
	assert.Equal(t, "ready", s.Load().String())
	assert.Equal(t, "invalid", Readiness(9).String())
}

// serve runs h against one end of a pipe and returns the other.
func serve(t *testing.T, h *Host) (channel.Conn, <-chan error) {
	t.Helper()
	client, server := channel.Pipe(0)
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), server) }()
	t.Cleanup(func() { _ = client.Close() })
	return client, done
}

func send(t *testing.T, c channel.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.Send(context.Background(), []byte(frame)))
}

func recv(t *testing.T, c channel.Conn) *protocol.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := c.Recv(ctx)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(frame)
	require.NoError(t, err)
	return resp
}

func TestServe_RepliesInOrder(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})
	c, done := serve(t, h)

	send(t, c, `{"id":1,"type":"get_version"}`)
	send(t, c, `{"id":2,"type":"load_module"}`)
	send(t, c, `{"id":3,"type":"get_version"}`)
	send(t, c, `{"id":4,"type":"is_wallet_exist","payload":{"path":"a.wallet"}}`)

	r := recv(t, c)
	assert.Equal(t, uint64(1), r.ID)
	assert.Equal(t, "WASM module not initialized", r.Error)

	r = recv(t, c)
	assert.Equal(t, uint64(2), r.ID)
	assert.Equal(t, "load_module", r.Type)
	assert.Empty(t, r.Error)

	r = recv(t, c)
	assert.Equal(t, uint64(3), r.ID)
	assert.JSONEq(t, `"1.2.3"`, string(r.Result))

	r = recv(t, c)
	assert.Equal(t, uint64(4), r.ID)
	assert.JSONEq(t, `false`, string(r.Result))

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after close")
	}
}

func TestServe_MalformedRequests(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})
	c, _ := serve(t, h)

	send(t, c, `not json`)
	send(t, c, `{"type":"get_version"}`)
	send(t, c, `{"id":5}`)
	send(t, c, `{"id":6,"type":"frobnicate"}`)

	r := recv(t, c)
	assert.Equal(t, uint64(5), r.ID)
	assert.Equal(t, "invalid", r.Type)
	assert.NotEmpty(t, r.Error)

	r = recv(t, c)
	assert.Equal(t, uint64(6), r.ID)
	assert.Equal(t, "Unknown worker command: frobnicate", r.Error)
}

func TestServe_ContextCancelled(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})
	_, server := channel.Pipe(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Serve(ctx, server)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServe_GuestOutputEvents(t *testing.T) {
	l := &nativetest.Loader{Module: nativetest.Wallet()}
	l.OnLoad = func(opts native.LoadOptions) {
		opts.Output("stderr", "wallet core starting")
	}
	h := newHost(t, l)
	c, _ := serve(t, h)

	send(t, c, `{"id":1,"type":"load_module"}`)

	ev := recv(t, c)
	assert.Equal(t, "event_log", ev.Type)
	assert.Zero(t, ev.ID)
	assert.JSONEq(t, `{"stream":"stderr","line":"wallet core starting"}`, string(ev.Result))

	r := recv(t, c)
	assert.Equal(t, uint64(1), r.ID)
	assert.Empty(t, r.Error)
}

func TestEmit_WithoutClient(t *testing.T) {
	h := newHost(t, &nativetest.Loader{Module: nativetest.Wallet()})
	assert.NoError(t, h.Emit(context.Background(), protocol.EventLog, protocol.LogEvent{Line: "x"}))
}

func TestWasmModule(t *testing.T) {
	bin := wasmbin.Wallet().Encode()
	loader := func(ctx context.Context, opts native.LoadOptions) (native.Module, error) {
		return native.NewWasmModule(ctx, bin, native.WasmConfig{}, opts.Output)
	}
	h, err := New(loader)
	require.NoError(t, err)
	defer h.Close(context.Background())
	c, _ := serve(t, h)

	send(t, c, `{"id":1,"type":"load_module"}`)
	r := recv(t, c)
	require.Empty(t, r.Error)
	assert.JSONEq(t, `{"status":"loaded","version":"1.2.3"}`, string(r.Result))

	send(t, c, `{"id":2,"type":"init","payload":{"daemonUrl":"http://127.0.0.1:11211"}}`)
	r = recv(t, c)
	require.Empty(t, r.Error)
	assert.JSONEq(t, `{"ok":true}`, string(r.Result))

	send(t, c, `{"id":3,"type":"get_current_tx_fee","payload":{"priority":21}}`)
	r = recv(t, c)
	require.Empty(t, r.Error)
	assert.JSONEq(t, `42`, string(r.Result))

	send(t, c, `{"id":4,"type":"set_log_level","payload":{"logLevel":1}}`)
	ev := recv(t, c)
	assert.Equal(t, "event_log", ev.Type)
	assert.JSONEq(t, `{"stream":"stdout","line":"hello from guest"}`, string(ev.Result))
	r = recv(t, c)
	assert.Equal(t, uint64(4), r.ID)
	require.Empty(t, r.Error)

	send(t, c, `{"id":5,"type":"truncate_log"}`)
	r = recv(t, c)
	assert.Equal(t, uint64(5), r.ID)
	assert.NotEmpty(t, r.Error)

	send(t, c, `{"id":6,"type":"get_version"}`)
	r = recv(t, c)
	assert.JSONEq(t, `"1.2.3"`, string(r.Result))
}
