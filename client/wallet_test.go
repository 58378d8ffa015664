package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-wallet/channel"
	"github.com/wippyai/wasm-wallet/host"
	"github.com/wippyai/wasm-wallet/internal/nativetest"
	"github.com/wippyai/wasm-wallet/native"
	"github.com/wippyai/wasm-wallet/protocol"
)

const walletInfoJSON = `{"address":"ZxDphM","path":"/wallet/a.wallet","wallet_id":4,"balances":[]}`

// connect runs a real host over mod and returns a client talking to it.
func connect(t *testing.T, mod *nativetest.Module) *Client {
	t.Helper()
	l := &nativetest.Loader{Module: mod}
	h, err := host.New(l.Load)
	require.NoError(t, err)

	a, b := channel.Pipe(0)
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = h.Serve(context.Background(), b)
	}()
	c := New(a)
	t.Cleanup(func() {
		_ = c.Close()
		<-served
		_ = h.Close(context.Background())
	})
	return c
}

func TestWallet_Lifecycle(t *testing.T) {
	mod := nativetest.Wallet()
	mod.Funcs[native.ExportOpen] = nativetest.Const(`{"result":` + walletInfoJSON + `}`)
	mod.Funcs[native.ExportGenerate] = nativetest.Const(walletInfoJSON)
	c := connect(t, mod)
	ctx := withTimeout(t)

	opened := make(chan Event, 2)
	closed := make(chan Event, 1)
	c.Subscribe(protocol.EventWalletOpened, func(ev Event) { opened <- ev })
	c.Subscribe(protocol.EventWalletClosed, func(ev Event) { closed <- ev })

	_, err := c.Init(ctx, "http://127.0.0.1:11211", "", 0)
	require.NoError(t, err)
	call, ok := mod.LastCall(native.ExportInit)
	require.True(t, ok)
	assert.Equal(t, []any{"http://127.0.0.1:11211", DefaultWorkDir, int32(0)}, call.Args)

	info, err := c.Open(ctx, "a.wallet", "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.WalletID)
	assert.Equal(t, "ZxDphM", info.Address)

	info, err = c.Generate(ctx, "b.wallet", "secret")
	require.NoError(t, err)
	assert.Equal(t, "/wallet/a.wallet", info.Path)

	for range 2 {
		ev := <-opened
		var got protocol.WalletInfo
		require.NoError(t, ev.Decode(&got))
		assert.Equal(t, int64(4), got.WalletID)
	}

	_, err = c.CloseWallet(ctx, 4)
	require.NoError(t, err)
	ev := <-closed
	assert.JSONEq(t, `{"walletId":4}`, string(ev.Data))

	require.NoError(t, c.Flush(ctx))
	require.NoError(t, c.SyncFS(ctx))
}

func TestWallet_OpenReportsEmbeddedError(t *testing.T) {
	mod := nativetest.Wallet()
	mod.Funcs[native.ExportOpen] = nativetest.Const(`{"error":{"code":-1,"message":"WRONG_PASSWORD"}}`)
	c := connect(t, mod)

	opened := 0
	c.Subscribe(protocol.EventWalletOpened, func(Event) { opened++ })

	_, err := c.Open(withTimeout(t), "a.wallet", "wrong")
	require.Error(t, err)
	assert.Equal(t, "WRONG_PASSWORD", err.Error())
	assert.Zero(t, opened)
}

func TestWallet_Operations(t *testing.T) {
	mod := nativetest.Wallet()
	mod.Funcs[native.ExportGetWalletFiles] = nativetest.Const(`{"items":["a.wallet","b.wallet"]}`)
	mod.Funcs[native.ExportGenerateRandomKey] = nativetest.Const("c0ffee")
	mod.Funcs[native.ExportGetAddressInfo] = nativetest.Const(`{"valid":true,"auditable":false,"payment_id":false,"wrap":false}`)
	mod.Funcs[native.ExportInvoke] = nativetest.Const(`{"jsonrpc":"2.0","id":0,"result":{"balance":10}}`)
	mod.Funcs[native.ExportIsWalletExist] = nativetest.Const(true)
	c := connect(t, mod)
	ctx := withTimeout(t)

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	files, err := c.WalletFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.wallet", "b.wallet"}, files)

	key, err := c.RandomKey(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", key)
	call, _ := mod.LastCall(native.ExportGenerateRandomKey)
	assert.Equal(t, []any{uint64(32)}, call.Args)

	addr, err := c.AddressInfo(ctx, "ZxDphM")
	require.NoError(t, err)
	assert.True(t, addr.Valid)

	fee, err := c.CurrentTxFee(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000000000), fee)

	exists, err := c.WalletExists(ctx, "a.wallet")
	require.NoError(t, err)
	assert.True(t, exists)

	resp, err := c.InvokeWallet(ctx, 4, map[string]any{"method": "getbalance"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":10}`, string(resp.Result))
	call, _ = mod.LastCall(native.ExportInvoke)
	assert.Equal(t, []any{int64(4), `{"method":"getbalance"}`}, call.Args)

	_, err = c.InvokeWallet(ctx, 4, `{"method":"get_recent_txs"}`)
	require.NoError(t, err)
	call, _ = mod.LastCall(native.ExportInvoke)
	assert.Equal(t, []any{int64(4), `{"method":"get_recent_txs"}`}, call.Args)

	job, err := c.AsyncCall(ctx, "transfer", 4, json.RawMessage(`{"destinations":[]}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), job)

	res, err := c.WaitForJob(ctx, job, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(res))
}

func TestWallet_AsyncCallBareJobID(t *testing.T) {
	mod := nativetest.Wallet()
	mod.Funcs[native.ExportAsyncCall] = nativetest.Const(uint64(12))
	c := connect(t, mod)

	job, err := c.AsyncCall(withTimeout(t), "transfer", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), job)
}
