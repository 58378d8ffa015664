package protocol

import "encoding/json"

// Request payloads. Field names match the JSON the existing hosts read.

type LoadModulePayload struct {
	WasmURL string `json:"wasmUrl,omitempty"`
}

type InitPayload struct {
	DaemonURL string `json:"daemonUrl"`
	Workdir   string `json:"workdir,omitempty"`
	LogLevel  int32  `json:"logLevel"`
}

type SetLogLevelPayload struct {
	LogLevel int32 `json:"logLevel"`
}

type GeneratePayload struct {
	Path     string `json:"path"`
	Password string `json:"password"`
}

type RestorePayload struct {
	Seed         string `json:"seed"`
	Path         string `json:"path"`
	Password     string `json:"password"`
	SeedPassword string `json:"seedPassword,omitempty"`
}

type OpenPayload struct {
	Path     string `json:"path"`
	Password string `json:"password"`
}

type WalletPayload struct {
	WalletID int64 `json:"walletId"`
}

type ResetWalletPasswordPayload struct {
	NewPassword string `json:"newPassword"`
	WalletID    int64  `json:"walletId"`
}

// InvokePayload carries arbitrary JSON-RPC params; a JSON string is passed
// to the module as its contents, anything else as its JSON text.
type InvokePayload struct {
	Params   json.RawMessage `json:"params"`
	WalletID int64           `json:"walletId"`
}

type FeePayload struct {
	Priority uint64 `json:"priority"`
}

type AsyncCallPayload struct {
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params"`
	WalletID int64           `json:"walletId"`
}

type JobPayload struct {
	JobID uint64 `json:"jobId"`
}

type SyncCallPayload struct {
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	InstanceID uint64          `json:"instanceId"`
}

type DeleteWalletPayload struct {
	FileName string `json:"fileName"`
}

type PathPayload struct {
	Path string `json:"path"`
}

type AddressPayload struct {
	Address string `json:"address"`
}

type RandomKeyPayload struct {
	Length uint64 `json:"length"`
}

type GetAppConfigPayload struct {
	EncryptionKey string `json:"encryptionKey"`
}

type SetAppConfigPayload struct {
	ConfStr       string `json:"confStr"`
	EncryptionKey string `json:"encryptionKey"`
}

// ParamsText renders params the way the module expects them: the contents of
// a JSON string, or the raw JSON text of any other value. Absent or null
// params become an empty object.
func ParamsText(params json.RawMessage) string {
	if len(params) == 0 || string(params) == "null" {
		return "{}"
	}
	var s string
	if params[0] == '"' && json.Unmarshal(params, &s) == nil {
		return s
	}
	return string(params)
}
