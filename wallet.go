package wasmwallet

import (
	"context"
	"os/exec"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/channel"
	"github.com/wippyai/wasm-wallet/client"
	"github.com/wippyai/wasm-wallet/config"
	"github.com/wippyai/wasm-wallet/host"
	"github.com/wippyai/wasm-wallet/native"
	"github.com/wippyai/wasm-wallet/storage"
)

// Option adjusts how Open and SpawnHost wire the wallet.
type Option func(*options)

type options struct {
	log      *zap.Logger
	reg      prometheus.Registerer
	fetcher  native.Fetcher
	loader   native.Loader
	skipInit bool
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegisterer registers host and client metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithFetcher replaces the HTTP fetcher the module uses to reach the daemon.
func WithFetcher(f native.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLoader replaces the WASM loader, for hosts backed by another module
// implementation.
func WithLoader(l native.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithoutInit skips the init call Open and SpawnHost make once connected.
func WithoutInit() Option {
	return func(o *options) { o.skipInit = true }
}

func buildOptions(cfg config.Config, opts []Option) (*options, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		log, err := cfg.Log.Logger()
		if err != nil {
			return nil, err
		}
		o.log = log
	}
	return o, nil
}

// NewHost builds an execution host from cfg: a WASM loader mounting the
// work directory, the daemon fetcher, and directory storage when a persist
// directory is configured.
func NewHost(cfg config.Config, opts ...Option) (*host.Host, error) {
	o, err := buildOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	return newHost(cfg, o)
}

func newHost(cfg config.Config, o *options) (*host.Host, error) {
	native.SetLogger(o.log.Named("native"))

	loader := o.loader
	if loader == nil {
		fetcher := o.fetcher
		if fetcher == nil {
			fetcher = native.NewHTTPFetcher(native.HTTPConfig{
				Timeout:           cfg.Fetch.Timeout,
				RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
				Burst:             cfg.Fetch.Burst,
			})
		}
		loader = native.WasmLoader(native.WasmConfig{
			Fetcher:          fetcher,
			WasmPath:         cfg.WasmPath,
			WorkDir:          cfg.Storage.WorkDir,
			GuestDir:         cfg.Storage.GuestDir,
			MemoryLimitPages: cfg.Runtime.MemoryLimitPages,
		})
	}

	var store storage.Store = storage.Nop{}
	if cfg.Storage.PersistDir != "" {
		store = storage.NewDirStore(cfg.Storage.WorkDir, cfg.Storage.PersistDir, o.log.Named("storage"))
	}

	hopts := []host.Option{
		host.WithLogger(o.log.Named("host")),
		host.WithStore(store),
		host.WithGuestDir(cfg.Storage.GuestDir),
	}
	if o.reg != nil {
		hopts = append(hopts, host.WithRegisterer(o.reg))
	}
	if cfg.Storage.Watch {
		hopts = append(hopts, host.WithStorageWatch(cfg.Storage.WatchQuiet))
	}
	return host.New(loader, hopts...)
}

func newClient(cfg config.Config, o *options, conn channel.Conn) *client.Client {
	copts := []client.Option{
		client.WithLogger(o.log.Named("client")),
		client.WithRejectPendingOnHostFailure(cfg.RejectPendingOnHostFailure),
	}
	if o.reg != nil {
		copts = append(copts, client.WithRegisterer(o.reg))
	}
	return client.New(conn, copts...)
}

// Wallet is a client connected to its own execution host, either in this
// process or in a child process.
type Wallet struct {
	*client.Client

	cfg    config.Config
	log    *zap.Logger
	host   *host.Host
	cancel context.CancelFunc
	served chan error
	once   sync.Once
	err    error
}

// Open starts an in-process host, connects a client to it and initializes
// the wallet core with the configured daemon.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Wallet, error) {
	o, err := buildOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	h, err := newHost(cfg, o)
	if err != nil {
		return nil, err
	}

	clientEnd, hostEnd := channel.Pipe(0)
	serveCtx, cancel := context.WithCancel(context.Background())
	w := &Wallet{
		cfg:    cfg,
		log:    o.log,
		host:   h,
		cancel: cancel,
		served: make(chan error, 1),
	}
	go func() {
		err := h.Serve(serveCtx, hostEnd)
		if err != nil {
			// the client sees the failure through the closed pipe
			_ = hostEnd.(channel.ErrorCloser).CloseWithError(err)
		}
		w.served <- err
	}()
	w.Client = newClient(cfg, o, clientEnd)

	if err := w.start(ctx, o); err != nil {
		return nil, err
	}
	return w, nil
}

// SpawnHost runs the execution host as cmd, typically this program started
// with -serve, and connects a client to it over the child's stdio.
func SpawnHost(ctx context.Context, cfg config.Config, cmd *exec.Cmd, opts ...Option) (*Wallet, error) {
	o, err := buildOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	proc, err := channel.Spawn(cmd)
	if err != nil {
		return nil, err
	}
	o.log.Info("host process started", zap.Int("pid", proc.Pid()), zap.String("path", cmd.Path))

	w := &Wallet{cfg: cfg, log: o.log, cancel: func() {}}
	w.Client = newClient(cfg, o, proc)
	if err := w.start(ctx, o); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) start(ctx context.Context, o *options) error {
	if o.skipInit {
		return nil
	}
	if _, err := w.Init(ctx, w.cfg.DaemonURL, w.cfg.Storage.GuestDir, w.cfg.CoreLogLevel); err != nil {
		_ = w.Close()
		return err
	}
	return nil
}

// Close terminates the client, stops the host and releases the module.
// Wallet files not flushed are not persisted.
func (w *Wallet) Close() error {
	w.once.Do(func() {
		err := w.Client.Close()
		if w.host != nil {
			err = multierr.Append(err, <-w.served)
			err = multierr.Append(err, w.host.Close(context.Background()))
		}
		w.cancel()
		w.err = err
		_ = w.log.Sync()
	})
	return w.err
}
