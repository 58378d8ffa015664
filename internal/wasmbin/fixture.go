package wasmbin

import "encoding/binary"

// Fixture data offsets.
const (
	VersionOffset = 16
	OKOffset      = 32
	HelloOffset   = 64
	HeapBase      = 1024
)

// Text stored by the fixture.
const (
	Version = "1.2.3"
	OK      = `{"ok":true}`
	Hello   = "hello from guest"
)

// Wallet returns a minimal wallet module speaking the pw_* C ABI:
//
//	malloc, free            bump allocator, free is a no-op
//	pw_free                 counts releases in the exported "freed" global
//	pw_get_version          "1.2.3"
//	pw_init, pw_reset       {"ok":true}
//	pw_set_log_level        writes "hello from guest\n" to stdout, then {"ok":true}
//	pw_get_address_info     returns its argument
//	pw_get_current_tx_fee   priority * 2
//	pw_is_wallet_exist      true
//	pw_truncate_log         traps
//
// Callers may edit the returned description before encoding it.
func Wallet() *Module {
	iovec := make([]byte, 8)
	binary.LittleEndian.PutUint32(iovec[0:], HelloOffset)
	binary.LittleEndian.PutUint32(iovec[4:], uint32(len(Hello)+1))

	str := FuncType{Results: []ValType{I32}}
	strArg := FuncType{Params: []ValType{I32}, Results: []ValType{I32}}
	release := FuncType{Params: []ValType{I32}}

	return &Module{
		Imports: []Import{{
			Module: "wasi_snapshot_preview1",
			Name:   "fd_write",
			Type:   FuncType{Params: []ValType{I32, I32, I32, I32}, Results: []ValType{I32}},
		}},
		Globals: []Global{
			{Init: HeapBase, Mutable: true},
			{Name: "freed", Mutable: true},
		},
		Data: []Data{
			{Offset: VersionOffset, Bytes: []byte(Version + "\x00")},
			{Offset: OKOffset, Bytes: []byte(OK + "\x00")},
			{Offset: HelloOffset, Bytes: []byte(Hello + "\n")},
			{Offset: 96, Bytes: iovec},
		},
		Funcs: []Func{
			{Name: "malloc", Type: strArg, Body: Code(GlobalGet(0), GlobalGet(0), LocalGet(0), I32Add(), GlobalSet(0))},
			{Name: "free", Type: release},
			{Name: "pw_free", Type: release, Body: Code(GlobalGet(1), I32Const(1), I32Add(), GlobalSet(1))},
			{Name: "pw_get_version", Type: str, Body: I32Const(VersionOffset)},
			{Name: "pw_init", Type: FuncType{Params: []ValType{I32, I32, I32}, Results: []ValType{I32}}, Body: I32Const(OKOffset)},
			{Name: "pw_reset", Type: str, Body: I32Const(OKOffset)},
			{Name: "pw_set_log_level", Type: strArg, Body: Code(
				I32Const(1), I32Const(96), I32Const(1), I32Const(112), Call(0), Drop(),
				I32Const(OKOffset),
			)},
			{Name: "pw_get_address_info", Type: strArg, Body: LocalGet(0)},
			{Name: "pw_get_current_tx_fee", Type: FuncType{Params: []ValType{I64}, Results: []ValType{I64}}, Body: Code(LocalGet(0), I64Const(2), I64Mul())},
			{Name: "pw_is_wallet_exist", Type: strArg, Body: I32Const(1)},
			{Name: "pw_truncate_log", Type: str, Body: Unreachable()},
		},
	}
}

// Without returns m without the named function. Function indices of the
// remaining functions shift, so only use it for functions nothing calls.
func (m *Module) Without(name string) *Module {
	out := *m
	out.Funcs = nil
	for _, fn := range m.Funcs {
		if fn.Name != name {
			out.Funcs = append(out.Funcs, fn)
		}
	}
	return &out
}

// Replace swaps the named function's type and body.
func (m *Module) Replace(name string, typ FuncType, body []byte) *Module {
	out := *m
	out.Funcs = append([]Func(nil), m.Funcs...)
	for i := range out.Funcs {
		if out.Funcs[i].Name == name {
			out.Funcs[i].Type = typ
			out.Funcs[i].Body = body
		}
	}
	return &out
}

// Fetch fixture offsets.
const (
	FetchURLOffset  = 256
	FetchBodyOffset = 768
	FetchTypeOffset = 800
	FetchBody       = `{"method":"getinfo"}`
)

// WithFetch imports env._fetch_http and makes pw_get_connectivity_status
// post FetchBody to url, returning whatever the bridge hands back.
func (m *Module) WithFetch(url string) *Module {
	out := *m
	out.Imports = append(append([]Import(nil), m.Imports...), Import{
		Module: "env",
		Name:   "_fetch_http",
		Type:   FuncType{Params: []ValType{I32, I32, I32}, Results: []ValType{I32}},
	})
	out.Data = append(append([]Data(nil), m.Data...),
		Data{Offset: FetchURLOffset, Bytes: []byte(url + "\x00")},
		Data{Offset: FetchBodyOffset, Bytes: []byte(FetchBody + "\x00")},
		Data{Offset: FetchTypeOffset, Bytes: []byte("application/json\x00")},
	)
	fetch := uint32(len(out.Imports) - 1)
	out.Funcs = append(append([]Func(nil), m.Funcs...), Func{
		Name: "pw_get_connectivity_status",
		Type: FuncType{Results: []ValType{I32}},
		Body: Code(I32Const(FetchURLOffset), I32Const(FetchBodyOffset), I32Const(FetchTypeOffset), Call(fetch)),
	})
	return &out
}
