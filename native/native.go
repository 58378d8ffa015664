package native

import "context"

// Exports of the wallet module's C ABI. Every pw_* function returning a
// string hands back a NUL-terminated buffer the caller releases with pw_free.
const (
	ExportInit                = "pw_init"
	ExportReset               = "pw_reset"
	ExportSetLogLevel         = "pw_set_log_level"
	ExportGetVersion          = "pw_get_version"
	ExportGetWalletFiles      = "pw_get_wallet_files"
	ExportDeleteWallet        = "pw_delete_wallet"
	ExportIsWalletExist       = "pw_is_wallet_exist"
	ExportGetAppConfig        = "pw_get_appconfig"
	ExportSetAppConfig        = "pw_set_appconfig"
	ExportGenerateRandomKey   = "pw_generate_random_key"
	ExportGetLogsBuffer       = "pw_get_logs_buffer"
	ExportTruncateLog         = "pw_truncate_log"
	ExportGetConnectivity     = "pw_get_connectivity_status"
	ExportGetAddressInfo      = "pw_get_address_info"
	ExportGenerate            = "pw_generate"
	ExportRestore             = "pw_restore"
	ExportOpen                = "pw_open"
	ExportCloseWallet         = "pw_close_wallet"
	ExportGetOpenedWallets    = "pw_get_opened_wallets"
	ExportGetWalletStatus     = "pw_get_wallet_status"
	ExportGetWalletInfo       = "pw_get_wallet_info"
	ExportResetWalletPassword = "pw_reset_wallet_password"
	ExportInvoke              = "pw_invoke"
	ExportGetCurrentTxFee     = "pw_get_current_tx_fee"
	ExportAsyncCall           = "pw_async_call"
	ExportTryPullResult       = "pw_try_pull_result"
	ExportSyncCall            = "pw_sync_call"
	ExportFree                = "pw_free"
	ExportMalloc              = "malloc"
	ExportLibcFree            = "free"
)

// Module is a loaded wallet module. Calls are serialized; the module is not
// reentrant.
//
// Call arguments follow the export's signature: string for string, int32 for
// s32, int64 for s64, uint64 for u64 and bool for bool (plain int is accepted
// for the integer types). Results come back as string, bool, uint64, int32 or
// int64, or nil for exports without a result.
type Module interface {
	Call(ctx context.Context, export string, args ...any) (any, error)
	Close(ctx context.Context) error
}

// OutputFunc receives guest output one line at a time. stream is "stdout"
// or "stderr".
type OutputFunc func(stream, line string)

// LoadOptions are per-load settings supplied by the load command.
type LoadOptions struct {
	// WasmPath overrides the configured module location when non-empty.
	WasmPath string
	Output   OutputFunc
}

// Loader constructs a Module.
type Loader func(ctx context.Context, opts LoadOptions) (Module, error)
