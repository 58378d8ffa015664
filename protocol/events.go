package protocol

// Event categories. Host events travel as EventPrefix+category; the client
// raises the lifecycle ones locally.
const (
	EventInitialized    = "initialized"
	EventWalletOpened   = "wallet_opened"
	EventWalletClosed   = "wallet_closed"
	EventError          = "error"
	EventLog            = "log"
	EventStorageChanged = "storage_changed"
)

// LogEvent carries one line of guest output.
type LogEvent struct {
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

// StorageChangedEvent reports that the persisted wallet directory was
// modified by another writer; a sync_fs picks the change up.
type StorageChangedEvent struct {
	Path string `json:"path"`
}

// ErrorEvent is raised on the client when the execution host fails.
type ErrorEvent struct {
	Message string `json:"message"`
}
