package host

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/errors"
	"github.com/wippyai/wasm-wallet/native"
	"github.com/wippyai/wasm-wallet/protocol"
)

// handlerFunc runs one command against the loaded module.
type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Defaults applied when a payload leaves a field out.
const (
	defaultRandomKeyLength = 32
)

// buildHandlers fills the dispatch table. Every protocol command has a slot;
// New refuses a table with an empty one.
func (h *Host) buildHandlers() {
	h.handlers = [protocol.NumCommands]handlerFunc{
		protocol.CmdLoadModule: h.loadModule,
		protocol.CmdInit: with(h, protocol.CmdInit, native.ExportInit, func(p protocol.InitPayload) []any {
			workdir := p.Workdir
			if workdir == "" {
				workdir = h.guestDir
			}
			return []any{p.DaemonURL, workdir, p.LogLevel}
		}),
		protocol.CmdReset: h.call0(native.ExportReset),
		protocol.CmdSetLogLevel: with(h, protocol.CmdSetLogLevel, native.ExportSetLogLevel, func(p protocol.SetLogLevelPayload) []any {
			return []any{p.LogLevel}
		}),
		protocol.CmdGetVersion: h.call0(native.ExportGetVersion),

		protocol.CmdGenerate: with(h, protocol.CmdGenerate, native.ExportGenerate, func(p protocol.GeneratePayload) []any {
			return []any{p.Path, p.Password}
		}),
		protocol.CmdRestore: with(h, protocol.CmdRestore, native.ExportRestore, func(p protocol.RestorePayload) []any {
			return []any{p.Seed, p.Path, p.Password, p.SeedPassword}
		}),
		protocol.CmdOpen: with(h, protocol.CmdOpen, native.ExportOpen, func(p protocol.OpenPayload) []any {
			return []any{p.Path, p.Password}
		}),
		protocol.CmdCloseWallet: with(h, protocol.CmdCloseWallet, native.ExportCloseWallet, walletArgs),
		protocol.CmdGetOpenedWallets: h.call0(native.ExportGetOpenedWallets),

		protocol.CmdGetWalletStatus: with(h, protocol.CmdGetWalletStatus, native.ExportGetWalletStatus, walletArgs),
		protocol.CmdGetWalletInfo:   with(h, protocol.CmdGetWalletInfo, native.ExportGetWalletInfo, walletArgs),
		protocol.CmdResetWalletPassword: with(h, protocol.CmdResetWalletPassword, native.ExportResetWalletPassword, func(p protocol.ResetWalletPasswordPayload) []any {
			return []any{p.WalletID, p.NewPassword}
		}),
		protocol.CmdInvoke: with(h, protocol.CmdInvoke, native.ExportInvoke, func(p protocol.InvokePayload) []any {
			return []any{p.WalletID, protocol.ParamsText(p.Params)}
		}),
		protocol.CmdGetCurrentTxFee: with(h, protocol.CmdGetCurrentTxFee, native.ExportGetCurrentTxFee, func(p protocol.FeePayload) []any {
			return []any{p.Priority}
		}),

		protocol.CmdAsyncCall: with(h, protocol.CmdAsyncCall, native.ExportAsyncCall, func(p protocol.AsyncCallPayload) []any {
			return []any{p.Method, p.WalletID, protocol.ParamsText(p.Params)}
		}),
		protocol.CmdTryPullResult: with(h, protocol.CmdTryPullResult, native.ExportTryPullResult, func(p protocol.JobPayload) []any {
			return []any{p.JobID}
		}),
		protocol.CmdSyncCall: with(h, protocol.CmdSyncCall, native.ExportSyncCall, func(p protocol.SyncCallPayload) []any {
			return []any{p.Method, p.InstanceID, protocol.ParamsText(p.Params)}
		}),

		protocol.CmdGetWalletFiles: h.call0(native.ExportGetWalletFiles),
		protocol.CmdDeleteWallet: with(h, protocol.CmdDeleteWallet, native.ExportDeleteWallet, func(p protocol.DeleteWalletPayload) []any {
			return []any{p.FileName}
		}),
		protocol.CmdIsWalletExist: with(h, protocol.CmdIsWalletExist, native.ExportIsWalletExist, func(p protocol.PathPayload) []any {
			return []any{p.Path}
		}),
		protocol.CmdGetAddressInfo: with(h, protocol.CmdGetAddressInfo, native.ExportGetAddressInfo, func(p protocol.AddressPayload) []any {
			return []any{p.Address}
		}),
		protocol.CmdGetConnectivityStatus: h.call0(native.ExportGetConnectivity),
		protocol.CmdGenerateRandomKey: with(h, protocol.CmdGenerateRandomKey, native.ExportGenerateRandomKey, func(p protocol.RandomKeyPayload) []any {
			if p.Length == 0 {
				p.Length = defaultRandomKeyLength
			}
			return []any{p.Length}
		}),
		protocol.CmdGetLogsBuffer: h.call0(native.ExportGetLogsBuffer),
		protocol.CmdTruncateLog:   h.call0(native.ExportTruncateLog),

		protocol.CmdGetAppConfig: with(h, protocol.CmdGetAppConfig, native.ExportGetAppConfig, func(p protocol.GetAppConfigPayload) []any {
			return []any{p.EncryptionKey}
		}),
		protocol.CmdSetAppConfig: with(h, protocol.CmdSetAppConfig, native.ExportSetAppConfig, func(p protocol.SetAppConfigPayload) []any {
			return []any{p.ConfStr, p.EncryptionKey}
		}),

		protocol.CmdFlush:  h.flush,
		protocol.CmdSyncFS: h.syncFS,
	}
}

func walletArgs(p protocol.WalletPayload) []any {
	return []any{p.WalletID}
}

// decode unmarshals a command payload. An absent payload decodes to the
// zero value.
func decode[P any](cmd protocol.Command, raw json.RawMessage) (P, error) {
	var p P
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.InvalidPayload(cmd.String(), err)
	}
	return p, nil
}

// with decodes the payload into P and calls export with the arguments args
// derives from it.
func with[P any](h *Host, cmd protocol.Command, export string, args func(P) []any) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decode[P](cmd, raw)
		if err != nil {
			return nil, err
		}
		return h.native(ctx, export, args(p)...)
	}
}

// call0 calls an export that takes no arguments.
func (h *Host) call0(export string) handlerFunc {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return h.native(ctx, export)
	}
}

func (h *Host) native(ctx context.Context, export string, args ...any) (any, error) {
	start := time.Now()
	result, err := h.module.Call(ctx, export, args...)
	h.metrics.observeNative(export, time.Since(start))
	return result, err
}

func (h *Host) loadModule(ctx context.Context, raw json.RawMessage) (any, error) {
	if h.state.Load() == Ready {
		return protocol.StatusResult{Status: protocol.StatusAlreadyLoaded}, nil
	}
	p, err := decode[protocol.LoadModulePayload](protocol.CmdLoadModule, raw)
	if err != nil {
		return nil, err
	}
	if !h.state.Begin() {
		return nil, errors.New(errors.PhaseLoad, errors.KindFailed).
			Command(protocol.CmdLoadModule.String()).
			Detail("module is %s", h.state.Load()).
			Build()
	}
	loaded := false
	defer func() {
		if !loaded {
			h.state.Abort()
		}
	}()

	mod, err := h.loader(ctx, native.LoadOptions{WasmPath: p.WasmURL, Output: h.guestOutput})
	if err != nil {
		return nil, err
	}
	if err := h.store.Reload(ctx); err != nil {
		// First run has nothing to reload.
		h.log.Warn("storage reload failed", zap.Error(err))
	}
	h.module = mod
	h.startWatch()

	loaded = true
	h.state.Ready()
	h.metrics.ready.Set(1)

	version, err := h.native(ctx, native.ExportGetVersion)
	if err != nil {
		h.log.Debug("module version unavailable", zap.Error(err))
		version = "unknown"
	}
	raw, err = normalize(version)
	if err != nil {
		return nil, err
	}
	h.log.Info("wallet module ready", zap.String("version", string(raw)))
	return protocol.LoadResult{Status: protocol.StatusLoaded, Version: raw}, nil
}

func (h *Host) flush(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.store.Persist(ctx); err != nil {
		return nil, err
	}
	return protocol.StatusResult{Status: protocol.StatusFlushed}, nil
}

func (h *Host) syncFS(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.store.Reload(ctx); err != nil {
		return nil, err
	}
	return protocol.StatusResult{Status: protocol.StatusSynced}, nil
}

// normalize turns a module result into the response payload. Strings holding
// JSON are forwarded as structured data, other strings as JSON strings.
func normalize(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return protocol.Marshal(t)
	case string:
		if json.Valid([]byte(t)) {
			return json.RawMessage(t), nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "encode result")
	}
	return raw, nil
}
