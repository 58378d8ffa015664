// Package host implements the execution host: the side of the channel that
// owns the wallet module.
//
// A Host starts unloaded. The first load_module command builds the module
// through a native.Loader, reloads persisted storage and marks the host
// ready; every other command sent before that fails with "WASM module not
// initialized". Requests are answered strictly in arrival order, each with
// exactly one response echoing its id and type.
//
//	h, err := host.New(native.WasmLoader(cfg), host.WithStore(store))
//	if err != nil {
//		return err
//	}
//	defer h.Close(ctx)
//	return h.Serve(ctx, conn)
//
// String results that hold JSON reach the client as structured values;
// other strings are sent as JSON strings.
package host
