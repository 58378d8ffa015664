package client

import (
	"context"
	"encoding/json"

	"github.com/wippyai/wasm-wallet/errors"
	"github.com/wippyai/wasm-wallet/protocol"
)

// DefaultWorkDir is the module-side wallet directory used by Init when none
// is given.
const DefaultWorkDir = "/wallet"

// LoadModule loads the wallet module. It is also done implicitly by the
// first call of any other operation; calling it again is a no-op.
func (c *Client) LoadModule(ctx context.Context) (*protocol.LoadResult, error) {
	return c.ensureLoaded(ctx)
}

// Init connects the wallet core to a daemon. An empty workdir selects
// DefaultWorkDir.
func (c *Client) Init(ctx context.Context, daemonURL, workdir string, logLevel int32) (json.RawMessage, error) {
	if workdir == "" {
		workdir = DefaultWorkDir
	}
	var out json.RawMessage
	err := c.Call(ctx, protocol.CmdInit, protocol.InitPayload{DaemonURL: daemonURL, Workdir: workdir, LogLevel: logLevel}, &out)
	return out, err
}

// Reset closes all wallets without saving them.
func (c *Client) Reset(ctx context.Context) (*protocol.ReturnCode, error) {
	var out protocol.ReturnCode
	if err := c.Call(ctx, protocol.CmdReset, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetLogLevel changes the wallet core log level.
func (c *Client) SetLogLevel(ctx context.Context, level int32) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.Call(ctx, protocol.CmdSetLogLevel, protocol.SetLogLevelPayload{LogLevel: level}, &out)
	return out, err
}

// Version returns the wallet core version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out json.RawMessage
	if err := c.Call(ctx, protocol.CmdGetVersion, nil, &out); err != nil {
		return "", err
	}
	return text(out), nil
}

// Generate creates a wallet and opens it. wallet_opened is raised on success.
func (c *Client) Generate(ctx context.Context, path, password string) (*protocol.WalletInfo, error) {
	return c.openWallet(ctx, protocol.CmdGenerate, protocol.GeneratePayload{Path: path, Password: password})
}

// Restore recreates a wallet from its seed phrase and opens it.
func (c *Client) Restore(ctx context.Context, seed, path, password, seedPassword string) (*protocol.WalletInfo, error) {
	return c.openWallet(ctx, protocol.CmdRestore, protocol.RestorePayload{
		Seed:         seed,
		Path:         path,
		Password:     password,
		SeedPassword: seedPassword,
	})
}

// Open opens an existing wallet file.
func (c *Client) Open(ctx context.Context, path, password string) (*protocol.WalletInfo, error) {
	return c.openWallet(ctx, protocol.CmdOpen, protocol.OpenPayload{Path: path, Password: password})
}

func (c *Client) openWallet(ctx context.Context, cmd protocol.Command, payload any) (*protocol.WalletInfo, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, cmd, payload, &raw); err != nil {
		return nil, err
	}
	data, err := unwrapAPI(cmd, raw)
	if err != nil {
		return nil, err
	}
	var info protocol.WalletInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.New(errors.PhaseProtocol, errors.KindInvalidData).
			Command(cmd.String()).
			Detail("decode wallet info").
			Cause(err).
			Build()
	}
	c.emit(protocol.EventWalletOpened, data)
	return &info, nil
}

// unwrapAPI strips a JSON-RPC style envelope when the module returned one,
// turning its error member into a RemoteError.
func unwrapAPI(cmd protocol.Command, raw json.RawMessage) (json.RawMessage, error) {
	var env protocol.APIResponse
	if json.Unmarshal(raw, &env) != nil {
		return raw, nil
	}
	if env.Error != nil {
		return nil, &errors.RemoteError{Command: cmd.String(), Message: env.Error.Message}
	}
	if len(env.Result) > 0 {
		return env.Result, nil
	}
	return raw, nil
}

// CloseWallet closes a wallet. wallet_closed is raised on success.
func (c *Client) CloseWallet(ctx context.Context, walletID int64) (*protocol.ReturnCode, error) {
	var out protocol.ReturnCode
	if err := c.Call(ctx, protocol.CmdCloseWallet, protocol.WalletPayload{WalletID: walletID}, &out); err != nil {
		return nil, err
	}
	c.emitData(protocol.EventWalletClosed, protocol.WalletPayload{WalletID: walletID})
	return &out, nil
}

func (c *Client) OpenedWallets(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.Call(ctx, protocol.CmdGetOpenedWallets, nil, &out)
	return out, err
}

func (c *Client) WalletStatus(ctx context.Context, walletID int64) (*protocol.WalletStatus, error) {
	var out protocol.WalletStatus
	if err := c.Call(ctx, protocol.CmdGetWalletStatus, protocol.WalletPayload{WalletID: walletID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WalletInfo returns wallet details, secret keys included.
func (c *Client) WalletInfo(ctx context.Context, walletID int64) (*protocol.WalletInfo, error) {
	var out protocol.WalletInfo
	if err := c.Call(ctx, protocol.CmdGetWalletInfo, protocol.WalletPayload{WalletID: walletID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResetWalletPassword(ctx context.Context, walletID int64, newPassword string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.Call(ctx, protocol.CmdResetWalletPassword, protocol.ResetWalletPasswordPayload{WalletID: walletID, NewPassword: newPassword}, &out)
	return out, err
}

// InvokeWallet runs a wallet JSON-RPC request. params may be a JSON string,
// raw JSON or any value that marshals to JSON.
func (c *Client) InvokeWallet(ctx context.Context, walletID int64, params any) (*protocol.APIResponse, error) {
	raw, err := paramsJSON(protocol.CmdInvoke, params)
	if err != nil {
		return nil, err
	}
	var out protocol.APIResponse
	if err := c.Call(ctx, protocol.CmdInvoke, protocol.InvokePayload{WalletID: walletID, Params: raw}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentTxFee returns the fee for a priority level, in atomic units.
func (c *Client) CurrentTxFee(ctx context.Context, priority uint64) (uint64, error) {
	var out uint64
	err := c.Call(ctx, protocol.CmdGetCurrentTxFee, protocol.FeePayload{Priority: priority}, &out)
	return out, err
}

// AsyncCall queues method in the module and returns its job id for
// PullResult or WaitForJob.
func (c *Client) AsyncCall(ctx context.Context, method string, walletID int64, params any) (uint64, error) {
	raw, err := paramsJSON(protocol.CmdAsyncCall, params)
	if err != nil {
		return 0, err
	}
	var out json.RawMessage
	if err := c.Call(ctx, protocol.CmdAsyncCall, protocol.AsyncCallPayload{Method: method, WalletID: walletID, Params: raw}, &out); err != nil {
		return 0, err
	}
	var job protocol.JobResponse
	if json.Unmarshal(out, &job) == nil && job.JobID != 0 {
		return job.JobID, nil
	}
	var id uint64
	if err := json.Unmarshal(out, &id); err != nil {
		return 0, errors.New(errors.PhaseProtocol, errors.KindInvalidData).
			Command(protocol.CmdAsyncCall.String()).
			Detail("no job id in %s", string(out)).
			Build()
	}
	return id, nil
}

// PullResult polls a job once.
func (c *Client) PullResult(ctx context.Context, jobID uint64) (*protocol.JobResult, error) {
	var out protocol.JobResult
	if err := c.Call(ctx, protocol.CmdTryPullResult, protocol.JobPayload{JobID: jobID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncCall runs method synchronously against a wallet instance.
func (c *Client) SyncCall(ctx context.Context, method string, instanceID uint64, params any) (json.RawMessage, error) {
	raw, err := paramsJSON(protocol.CmdSyncCall, params)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = c.Call(ctx, protocol.CmdSyncCall, protocol.SyncCallPayload{Method: method, InstanceID: instanceID, Params: raw}, &out)
	return out, err
}

// WalletFiles lists wallet files in the working directory.
func (c *Client) WalletFiles(ctx context.Context) ([]string, error) {
	var out json.RawMessage
	if err := c.Call(ctx, protocol.CmdGetWalletFiles, nil, &out); err != nil {
		return nil, err
	}
	var files protocol.WalletFiles
	if json.Unmarshal(out, &files) == nil && files.Items != nil {
		return files.Items, nil
	}
	var items []string
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "decode wallet files")
	}
	return items, nil
}

func (c *Client) DeleteWallet(ctx context.Context, fileName string) (*protocol.ReturnCode, error) {
	var out protocol.ReturnCode
	if err := c.Call(ctx, protocol.CmdDeleteWallet, protocol.DeleteWalletPayload{FileName: fileName}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WalletExists(ctx context.Context, path string) (bool, error) {
	var out bool
	err := c.Call(ctx, protocol.CmdIsWalletExist, protocol.PathPayload{Path: path}, &out)
	return out, err
}

func (c *Client) AddressInfo(ctx context.Context, address string) (*protocol.AddressInfo, error) {
	var out protocol.AddressInfo
	if err := c.Call(ctx, protocol.CmdGetAddressInfo, protocol.AddressPayload{Address: address}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Connectivity(ctx context.Context) (*protocol.ConnectivityStatus, error) {
	var out protocol.ConnectivityStatus
	if err := c.Call(ctx, protocol.CmdGetConnectivityStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RandomKey returns a random key of length bytes; zero means 32.
func (c *Client) RandomKey(ctx context.Context, length uint64) (string, error) {
	var payload any
	if length > 0 {
		payload = protocol.RandomKeyPayload{Length: length}
	}
	var out json.RawMessage
	if err := c.Call(ctx, protocol.CmdGenerateRandomKey, payload, &out); err != nil {
		return "", err
	}
	return text(out), nil
}

func (c *Client) LogsBuffer(ctx context.Context) (string, error) {
	var out json.RawMessage
	if err := c.Call(ctx, protocol.CmdGetLogsBuffer, nil, &out); err != nil {
		return "", err
	}
	return text(out), nil
}

func (c *Client) TruncateLog(ctx context.Context) (*protocol.ReturnCode, error) {
	var out protocol.ReturnCode
	if err := c.Call(ctx, protocol.CmdTruncateLog, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppConfig returns the application config decrypted with encryptionKey.
func (c *Client) AppConfig(ctx context.Context, encryptionKey string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.Call(ctx, protocol.CmdGetAppConfig, protocol.GetAppConfigPayload{EncryptionKey: encryptionKey}, &out)
	return out, err
}

// SetAppConfig stores confStr encrypted with encryptionKey.
func (c *Client) SetAppConfig(ctx context.Context, confStr, encryptionKey string) (*protocol.ReturnCode, error) {
	var out protocol.ReturnCode
	if err := c.Call(ctx, protocol.CmdSetAppConfig, protocol.SetAppConfigPayload{ConfStr: confStr, EncryptionKey: encryptionKey}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Flush writes the module's wallet files to persistent storage. Call it
// after anything that changes a wallet.
func (c *Client) Flush(ctx context.Context) error {
	return c.Call(ctx, protocol.CmdFlush, nil, nil)
}

// SyncFS reloads the module's wallet files from persistent storage.
func (c *Client) SyncFS(ctx context.Context) error {
	return c.Call(ctx, protocol.CmdSyncFS, nil, nil)
}

func paramsJSON(cmd protocol.Command, params any) (json.RawMessage, error) {
	raw, err := protocol.Marshal(params)
	if err != nil {
		return nil, errors.InvalidPayload(cmd.String(), err)
	}
	return raw, nil
}

// text returns the contents of a JSON string, or the raw JSON otherwise.
func text(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
