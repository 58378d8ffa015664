package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-wallet/errors"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "WALLET_"

// Config is the wallet configuration.
type Config struct {
	// WasmPath is the wallet module binary.
	WasmPath string `yaml:"wasmPath"`
	// DaemonURL is passed to init.
	DaemonURL string `yaml:"daemonUrl"`
	// CoreLogLevel is the wallet core's own log level, passed to init.
	CoreLogLevel int32 `yaml:"coreLogLevel"`

	Storage StorageConfig `yaml:"storage"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Log     LogConfig     `yaml:"log"`

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string `yaml:"metricsAddr"`
	// RejectPendingOnHostFailure fails waiting requests when the host dies.
	RejectPendingOnHostFailure bool `yaml:"rejectPendingOnHostFailure"`
}

type StorageConfig struct {
	// WorkDir is the host directory the module sees as GuestDir.
	WorkDir string `yaml:"workDir"`
	// PersistDir receives flushed wallet files. Empty disables persistence.
	PersistDir string `yaml:"persistDir"`
	GuestDir   string `yaml:"guestDir"`
	// Watch raises storage_changed events for outside edits to PersistDir.
	Watch      bool          `yaml:"watch"`
	WatchQuiet time.Duration `yaml:"watchQuiet"`
}

type RuntimeConfig struct {
	// MemoryLimitPages caps module memory in 64KiB pages; zero is no cap.
	MemoryLimitPages uint32 `yaml:"memoryLimitPages"`
}

type FetchConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

type JobsConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		WasmPath:  "zano_wallet.wasm",
		DaemonURL: "http://127.0.0.1:11211",
		Storage: StorageConfig{
			WorkDir:    "wallet-data",
			GuestDir:   "/wallet",
			WatchQuiet: 250 * time.Millisecond,
		},
		Fetch: FetchConfig{
			Timeout: 30 * time.Second,
		},
		Jobs: JobsConfig{
			PollInterval: 100 * time.Millisecond,
			Timeout:      60 * time.Second,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads path over the defaults, then applies WALLET_* environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML into cfg. Keys absent from data keep their value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse config")
	}
	return nil
}

// ApplyEnv overrides cfg from the environment as seen through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	strs := map[string]*string{
		"WASM_PATH":    &cfg.WasmPath,
		"DAEMON_URL":   &cfg.DaemonURL,
		"WORK_DIR":     &cfg.Storage.WorkDir,
		"PERSIST_DIR":  &cfg.Storage.PersistDir,
		"GUEST_DIR":    &cfg.Storage.GuestDir,
		"LOG_LEVEL":    &cfg.Log.Level,
		"LOG_ENCODING": &cfg.Log.Encoding,
		"METRICS_ADDR": &cfg.MetricsAddr,
	}
	for name, dst := range strs {
		if v, ok := env(name); ok {
			*dst = v
		}
	}

	if v, ok := env("CORE_LOG_LEVEL"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return envError("CORE_LOG_LEVEL", err)
		}
		cfg.CoreLogLevel = int32(n)
	}
	if v, ok := env("STORAGE_WATCH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("STORAGE_WATCH", err)
		}
		cfg.Storage.Watch = b
	}
	if v, ok := env("FETCH_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("FETCH_RPS", err)
		}
		cfg.Fetch.RequestsPerSecond = f
	}
	if v, ok := env("FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("FETCH_TIMEOUT", err)
		}
		cfg.Fetch.Timeout = d
	}
	if v, ok := env("JOB_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("JOB_TIMEOUT", err)
		}
		cfg.Jobs.Timeout = d
	}
	if v, ok := env("MEMORY_LIMIT_PAGES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return envError("MEMORY_LIMIT_PAGES", err)
		}
		cfg.Runtime.MemoryLimitPages = uint32(n)
	}
	return nil
}

func envError(name string, err error) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(EnvPrefix + name).
		Cause(err).
		Build()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch {
	case c.WasmPath == "":
		return errors.InvalidInput(errors.PhaseConfig, "wasmPath is required")
	case c.Storage.GuestDir == "" || !strings.HasPrefix(c.Storage.GuestDir, "/"):
		return errors.InvalidInput(errors.PhaseConfig, "storage.guestDir must be absolute")
	case c.Storage.Watch && c.Storage.PersistDir == "":
		return errors.InvalidInput(errors.PhaseConfig, "storage.watch needs storage.persistDir")
	case c.Fetch.RequestsPerSecond < 0:
		return errors.InvalidInput(errors.PhaseConfig, "fetch.requestsPerSecond must not be negative")
	case c.Jobs.Timeout < 0 || c.Jobs.PollInterval < 0:
		return errors.InvalidInput(errors.PhaseConfig, "job durations must not be negative")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	return nil
}

// Logger builds the process logger. Output goes to stderr so that stdout
// stays free for the host's frames.
func (c LogConfig) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	zc.Level = level
	if c.Encoding != "" {
		zc.Encoding = c.Encoding
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	log, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindFailed, err, "build logger")
	}
	return log, nil
}
