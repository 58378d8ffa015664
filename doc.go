// Package wasmwallet runs a WebAssembly wallet core behind an asynchronous
// request/response façade.
//
// The wallet core is compiled to a WASI module exporting a C ABI (pw_init,
// pw_open, pw_async_call and so on). It runs inside an execution host that
// owns the module and executes one command at a time. Callers talk to the
// host through a client that correlates requests by id, fans out events and
// polls long-running jobs.
//
// # Architecture Overview
//
//	wasmwallet/         Open and SpawnHost wire the pieces below together
//	├── client/         Client façade: correlation, events, job polling
//	├── host/           Execution host: readiness, dispatch, normalization
//	├── protocol/       Envelopes, the closed command set, payload shapes
//	├── channel/        In-process pipe, line-framed streams, child processes
//	├── native/         wazero-backed wallet module and its daemon bridge
//	├── storage/        Work directory persistence and change watching
//	├── config/         YAML configuration with environment overrides
//	└── errors/         Structured error types for debugging
//
// # Quick Start
//
//	cfg, err := config.Load("wallet.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := wasmwallet.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	info, err := w.Open(ctx, "main.wallet", password)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Flush(ctx)
//
// # Host Placement
//
// Open runs the host on a goroutine of the calling process. SpawnHost runs
// it in a child process, usually this program started with -serve, so that
// a module crash cannot take the caller down. Both expose the same Client.
//
// # Thread Safety
//
// The client is safe for concurrent use. Commands reach the module one at a
// time in the order the host receives them; responses are matched by id and
// may be consumed in any order.
//
// # Persistence
//
// The module reads and writes wallet files under its guest directory, which
// is mounted from storage.workDir. Flush mirrors that directory to
// storage.persistDir and SyncFS mirrors it back. The host reloads persisted
// files once when the module is loaded.
package wasmwallet
