// Package native loads and calls the wallet module.
//
// The wallet is a core WebAssembly module exporting a C ABI of pw_* functions.
// Strings travel as NUL-terminated buffers: arguments are copied into memory
// obtained from the module's malloc, and string results are copied out and
// handed back to pw_free. The ABI is declared once as WIT-style text in
// Signatures and every present export is checked against it at load time.
//
// The module sees its working directory mounted at /wallet and reaches the
// daemon through the env._fetch_http import, served by a Fetcher.
//
// Basic usage:
//
//	load := native.WasmLoader(native.WasmConfig{WasmPath: "wallet.wasm", WorkDir: dir})
//	mod, err := load(ctx, native.LoadOptions{})
//	if err != nil {
//	    return err
//	}
//	defer mod.Close(ctx)
//
//	version, err := mod.Call(ctx, native.ExportGetVersion)
package native
