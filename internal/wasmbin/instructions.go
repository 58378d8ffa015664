package wasmbin

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Add      = 0x6a
	opI64Mul      = 0x7e
)

// Code concatenates instruction sequences.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func Unreachable() []byte { return []byte{opUnreachable} }
func Drop() []byte        { return []byte{opDrop} }
func I32Add() []byte      { return []byte{opI32Add} }
func I64Mul() []byte      { return []byte{opI64Mul} }

func Call(idx uint32) []byte      { return append([]byte{opCall}, u32(idx)...) }
func LocalGet(idx uint32) []byte  { return append([]byte{opLocalGet}, u32(idx)...) }
func GlobalGet(idx uint32) []byte { return append([]byte{opGlobalGet}, u32(idx)...) }
func GlobalSet(idx uint32) []byte { return append([]byte{opGlobalSet}, u32(idx)...) }
func I32Const(v int32) []byte     { return append([]byte{opI32Const}, s64(int64(v))...) }
func I64Const(v int64) []byte     { return append([]byte{opI64Const}, s64(v)...) }
