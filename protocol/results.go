package protocol

import "encoding/json"

// Status values reported by host-side storage and lifecycle commands.
const (
	StatusLoaded        = "loaded"
	StatusAlreadyLoaded = "already_loaded"
	StatusFlushed       = "flushed"
	StatusSynced        = "synced"
)

// StatusResult is returned by flush and sync_fs.
type StatusResult struct {
	Status string `json:"status"`
}

// LoadResult is returned by load_module.
type LoadResult struct {
	Status  string          `json:"status"`
	Version json.RawMessage `json:"version,omitempty"`
}

// JobResponse is returned by async_call.
type JobResponse struct {
	JobID uint64 `json:"job_id"`
}

// JobState is the logical state of an async job.
type JobState int

const (
	JobWorking JobState = iota
	JobCompleted
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	default:
		return "working"
	}
}

// JobResult is returned by try_pull_result.
type JobResult struct {
	Status string          `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	JobID  uint64          `json:"job_id"`
}

// State maps the reported status onto the three job states. Anything the
// module reports other than completion or an error means keep polling.
func (r *JobResult) State() JobState {
	switch r.Status {
	case "completed":
		return JobCompleted
	case "error", "failed":
		return JobFailed
	default:
		return JobWorking
	}
}

type AssetInfo struct {
	AssetID        string `json:"asset_id"`
	Ticker         string `json:"ticker"`
	FullName       string `json:"full_name"`
	MetaInfo       string `json:"meta_info"`
	Owner          string `json:"owner"`
	TotalMaxSupply uint64 `json:"total_max_supply"`
	CurrentSupply  uint64 `json:"current_supply"`
	DecimalPoint   int    `json:"decimal_point"`
	HiddenSupply   bool   `json:"hidden_supply"`
}

type Balance struct {
	AssetInfo   AssetInfo `json:"asset_info"`
	Total       uint64    `json:"total"`
	Unlocked    uint64    `json:"unlocked"`
	AwaitingIn  uint64    `json:"awaiting_in"`
	AwaitingOut uint64    `json:"awaiting_out"`
}

type WalletInfo struct {
	Address               string    `json:"address"`
	Path                  string    `json:"path"`
	Seed                  string    `json:"seed,omitempty"`
	ViewSecKey            string    `json:"view_sec_key"`
	Name                  string    `json:"name,omitempty"`
	Pass                  string    `json:"pass,omitempty"`
	Balances              []Balance `json:"balances"`
	WalletID              int64     `json:"wallet_id"`
	MinedTotal            uint64    `json:"mined_total"`
	WalletFileSize        uint64    `json:"wallet_file_size"`
	WalletLocalBCSize     uint64    `json:"wallet_local_bc_size"`
	IsWatchOnly           bool      `json:"is_watch_only"`
	IsAuditable           bool      `json:"is_auditable"`
	HasBareUnspentOutputs bool      `json:"has_bare_unspent_outputs"`
	Recovered             bool      `json:"recovered"`
}

// Wallet sync states reported in WalletStatus.WalletState.
const (
	WalletStateError   = 0
	WalletStateSyncing = 1
	WalletStateReady   = 2
)

type WalletStatus struct {
	WalletState         int    `json:"wallet_state"`
	CurrentWalletHeight uint64 `json:"current_wallet_height"`
	CurrentDaemonHeight uint64 `json:"current_daemon_height"`
	Progress            int    `json:"progress"`
	IsDaemonConnected   bool   `json:"is_daemon_connected"`
	IsInLongRefresh     bool   `json:"is_in_long_refresh"`
}

type ConnectivityStatus struct {
	LastProxyCommunicateTimestamp int64 `json:"last_proxy_communicate_timestamp"`
	IsOnline                      bool  `json:"is_online"`
	IsServerBusy                  bool  `json:"is_server_busy"`
	LastDaemonIsDisconnected      bool  `json:"last_daemon_is_disconnected"`
}

type AddressInfo struct {
	Valid     bool `json:"valid"`
	Auditable bool `json:"auditable"`
	PaymentID bool `json:"payment_id"`
	Wrap      bool `json:"wrap"`
}

type ReturnCode struct {
	ReturnCode   string `json:"return_code"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    int    `json:"error_code,omitempty"`
}

type WalletFiles struct {
	Items []string `json:"items"`
}

type APIError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type APIResponse struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
	ID      any             `json:"id,omitempty"`
}
