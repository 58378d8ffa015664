package protocol

// Command is the closed set of operations an execution host understands.
type Command uint8

const (
	CmdLoadModule Command = iota
	CmdInit
	CmdReset
	CmdSetLogLevel
	CmdGetVersion
	CmdGenerate
	CmdRestore
	CmdOpen
	CmdCloseWallet
	CmdGetOpenedWallets
	CmdGetWalletStatus
	CmdGetWalletInfo
	CmdResetWalletPassword
	CmdInvoke
	CmdGetCurrentTxFee
	CmdAsyncCall
	CmdTryPullResult
	CmdSyncCall
	CmdGetWalletFiles
	CmdDeleteWallet
	CmdIsWalletExist
	CmdGetAddressInfo
	CmdGetConnectivityStatus
	CmdGenerateRandomKey
	CmdGetLogsBuffer
	CmdTruncateLog
	CmdGetAppConfig
	CmdSetAppConfig
	CmdFlush
	CmdSyncFS

	// NumCommands sizes per-command tables.
	NumCommands
)

var commandNames = [NumCommands]string{
	CmdLoadModule:            "load_module",
	CmdInit:                  "init",
	CmdReset:                 "reset",
	CmdSetLogLevel:           "set_log_level",
	CmdGetVersion:            "get_version",
	CmdGenerate:              "generate",
	CmdRestore:               "restore",
	CmdOpen:                  "open",
	CmdCloseWallet:           "close_wallet",
	CmdGetOpenedWallets:      "get_opened_wallets",
	CmdGetWalletStatus:       "get_wallet_status",
	CmdGetWalletInfo:         "get_wallet_info",
	CmdResetWalletPassword:   "reset_wallet_password",
	CmdInvoke:                "invoke",
	CmdGetCurrentTxFee:       "get_current_tx_fee",
	CmdAsyncCall:             "async_call",
	CmdTryPullResult:         "try_pull_result",
	CmdSyncCall:              "sync_call",
	CmdGetWalletFiles:        "get_wallet_files",
	CmdDeleteWallet:          "delete_wallet",
	CmdIsWalletExist:         "is_wallet_exist",
	CmdGetAddressInfo:        "get_address_info",
	CmdGetConnectivityStatus: "get_connectivity_status",
	CmdGenerateRandomKey:     "generate_random_key",
	CmdGetLogsBuffer:         "get_logs_buffer",
	CmdTruncateLog:           "truncate_log",
	CmdGetAppConfig:          "get_appconfig",
	CmdSetAppConfig:          "set_appconfig",
	CmdFlush:                 "flush",
	CmdSyncFS:                "sync_fs",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, NumCommands)
	for i, name := range commandNames {
		m[name] = Command(i)
	}
	return m
}()

// String returns the wire name of the command.
func (c Command) String() string {
	if c < NumCommands {
		return commandNames[c]
	}
	return "unknown"
}

// Valid reports whether c is a member of the command set.
func (c Command) Valid() bool {
	return c < NumCommands
}

// ParseCommand resolves a wire name.
func ParseCommand(name string) (Command, bool) {
	c, ok := commandsByName[name]
	return c, ok
}

// Commands returns every command in declaration order.
func Commands() []Command {
	out := make([]Command, NumCommands)
	for i := range out {
		out[i] = Command(i)
	}
	return out
}
