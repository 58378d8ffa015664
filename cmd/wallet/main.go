package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/term"

	wasmwallet "github.com/wippyai/wasm-wallet"
	"github.com/wippyai/wasm-wallet/channel"
	"github.com/wippyai/wasm-wallet/config"
	"github.com/wippyai/wasm-wallet/protocol"
)

type flags struct {
	config      string
	wasm        string
	daemon      string
	command     string
	payload     string
	metrics     string
	serve       bool
	spawn       bool
	wait        bool
	list        bool
	interactive bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "Path to YAML configuration")
	flag.StringVar(&f.wasm, "wasm", "", "Path to wallet wasm module (overrides config)")
	flag.StringVar(&f.daemon, "daemon", "", "Daemon URL (overrides config)")
	flag.StringVar(&f.command, "cmd", "", "Command to send (see -list)")
	flag.StringVar(&f.payload, "payload", "", "JSON payload for -cmd")
	flag.StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&f.serve, "serve", false, "Run an execution host over stdin/stdout")
	flag.BoolVar(&f.spawn, "spawn", false, "Run the execution host in a child process")
	flag.BoolVar(&f.wait, "wait", false, "Wait for the job started by -cmd async_call")
	flag.BoolVar(&f.list, "list", false, "List commands and module exports and exit")
	flag.BoolVar(&f.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if f.command == "" && !f.serve && !f.list && !f.interactive {
		fmt.Fprintln(os.Stderr, "Usage: wallet [-config wallet.yaml] [-wasm file.wasm] -cmd <name> [-payload json] [-wait]")
		fmt.Fprintln(os.Stderr, "       wallet -serve   (execution host on stdio)")
		fmt.Fprintln(os.Stderr, "       wallet -list")
		fmt.Fprintln(os.Stderr, "       wallet -i       (interactive mode)")
		os.Exit(1)
	}

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	if f.wasm != "" {
		cfg.WasmPath = f.wasm
	}
	if f.daemon != "" {
		cfg.DaemonURL = f.daemon
	}
	if f.metrics != "" {
		cfg.MetricsAddr = f.metrics
	}

	log, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := []wasmwallet.Option{wasmwallet.WithLogger(log)}
	if cfg.MetricsAddr != "" {
		reg := serveMetrics(cfg.MetricsAddr, log)
		opts = append(opts, wasmwallet.WithRegisterer(reg))
	}

	switch {
	case f.serve:
		return serve(ctx, cfg, opts)
	case f.list:
		return list(ctx, cfg)
	case f.interactive:
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		w, err := open(ctx, cfg, f, opts)
		if err != nil {
			return err
		}
		defer w.Close()
		return runInteractive(w, cfg)
	}

	w, err := open(ctx, cfg, f, opts)
	if err != nil {
		return err
	}
	defer w.Close()
	return oneShot(ctx, w, cfg, f)
}

func serveMetrics(addr string, log *zap.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return reg
}

// serve runs the execution host on stdio. Logs must stay on stderr.
func serve(ctx context.Context, cfg config.Config, opts []wasmwallet.Option) error {
	h, err := wasmwallet.NewHost(cfg, opts...)
	if err != nil {
		return err
	}
	defer h.Close(context.Background())

	conn := channel.NewStream(os.Stdin, os.Stdout, nil)
	defer conn.Close()
	return h.Serve(ctx, conn)
}

func open(ctx context.Context, cfg config.Config, f flags, opts []wasmwallet.Option) (*wasmwallet.Wallet, error) {
	if !f.spawn {
		return wasmwallet.Open(ctx, cfg, opts...)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	args := []string{"-serve"}
	if f.config != "" {
		args = append(args, "-config", f.config)
	}
	if f.wasm != "" {
		args = append(args, "-wasm", f.wasm)
	}
	return wasmwallet.SpawnHost(ctx, cfg, exec.Command(exe, args...), opts...)
}

func oneShot(ctx context.Context, w *wasmwallet.Wallet, cfg config.Config, f flags) error {
	cmd, ok := protocol.ParseCommand(f.command)
	if !ok {
		return fmt.Errorf("unknown command %q (see -list)", f.command)
	}
	var payload any
	if f.payload != "" {
		if !json.Valid([]byte(f.payload)) {
			return fmt.Errorf("payload is not valid JSON")
		}
		payload = json.RawMessage(f.payload)
	}

	var result json.RawMessage
	if err := w.Call(ctx, cmd, payload, &result); err != nil {
		return err
	}

	if f.wait && cmd == protocol.CmdAsyncCall {
		var job protocol.JobResponse
		if err := json.Unmarshal(result, &job); err != nil || job.JobID == 0 {
			if err := json.Unmarshal(result, &job.JobID); err != nil {
				return fmt.Errorf("decode job id from %s", result)
			}
		}
		fmt.Fprintf(os.Stderr, "waiting for job %d\n", job.JobID)
		done, err := w.WaitForJob(ctx, job.JobID, cfg.Jobs.PollInterval, cfg.Jobs.Timeout)
		if err != nil {
			return err
		}
		result = done
	}
	return printJSON(result)
}

func printJSON(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func list(ctx context.Context, cfg config.Config) error {
	fmt.Printf("Commands:\n")
	for _, cmd := range protocol.Commands() {
		fields := payloadFields(cmd)
		names := make([]string, len(fields))
		for i, fl := range fields {
			names[i] = fl.name + ": " + fl.typeStr()
		}
		fmt.Printf("  %s(%s)\n", cmd, strings.Join(names, ", "))
	}

	exports, err := moduleExports(ctx, cfg)
	if err != nil {
		fmt.Printf("\nModule %s: %v\n", cfg.WasmPath, err)
		return nil
	}
	fmt.Printf("\nModule %s exports:\n", cfg.WasmPath)
	for _, e := range exports {
		fmt.Printf("  %s\n", e)
	}
	return nil
}
