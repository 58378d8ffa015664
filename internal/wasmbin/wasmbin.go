// Package wasmbin assembles small core WebAssembly modules for tests.
//
// It covers only what wallet fixtures need: function imports, one memory,
// i32 globals, exported functions and globals, and active data segments.
package wasmbin

import (
	"bytes"
	"strings"
)

// Value types
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	kindFunc   = 0x00
	kindMemory = 0x02
	kindGlobal = 0x03
)

// FuncType is a function signature
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (t FuncType) key() string {
	var b strings.Builder
	for _, p := range t.Params {
		b.WriteByte(byte(p))
	}
	b.WriteByte(':')
	for _, r := range t.Results {
		b.WriteByte(byte(r))
	}
	return b.String()
}

// Import is an imported function. Imports occupy the first function indices.
type Import struct {
	Module string
	Name   string
	Type   FuncType
}

// Func is a defined function. Body is the instruction sequence without the
// final end opcode. An empty Name keeps the function unexported.
type Func struct {
	Name   string
	Type   FuncType
	Locals []ValType
	Body   []byte
}

// Global is a mutable or immutable i32 global.
type Global struct {
	Name    string
	Init    int32
	Mutable bool
}

// Data is an active data segment in memory 0.
type Data struct {
	Offset uint32
	Bytes  []byte
}

// Module describes a module to encode. A memory is always defined and
// exported as "memory".
type Module struct {
	Imports     []Import
	Funcs       []Func
	Globals     []Global
	Data        []Data
	MemoryPages uint32
}

// Encode returns the binary encoding of the module.
func (m *Module) Encode() []byte {
	var w bytes.Buffer
	w.Write([]byte{0x00, 0x61, 0x73, 0x6d})
	w.Write([]byte{0x01, 0x00, 0x00, 0x00})

	typeIdx := map[string]uint32{}
	var types []FuncType
	indexOf := func(t FuncType) uint32 {
		k := t.key()
		if idx, ok := typeIdx[k]; ok {
			return idx
		}
		idx := uint32(len(types))
		typeIdx[k] = idx
		types = append(types, t)
		return idx
	}
	importTypes := make([]uint32, len(m.Imports))
	for i, imp := range m.Imports {
		importTypes[i] = indexOf(imp.Type)
	}
	funcTypes := make([]uint32, len(m.Funcs))
	for i, fn := range m.Funcs {
		funcTypes[i] = indexOf(fn.Type)
	}

	var sec bytes.Buffer
	writeU32(&sec, uint32(len(types)))
	for _, t := range types {
		sec.WriteByte(0x60)
		writeValTypes(&sec, t.Params)
		writeValTypes(&sec, t.Results)
	}
	writeSection(&w, sectionType, &sec)

	if len(m.Imports) > 0 {
		writeU32(&sec, uint32(len(m.Imports)))
		for i, imp := range m.Imports {
			writeName(&sec, imp.Module)
			writeName(&sec, imp.Name)
			sec.WriteByte(kindFunc)
			writeU32(&sec, importTypes[i])
		}
		writeSection(&w, sectionImport, &sec)
	}

	writeU32(&sec, uint32(len(m.Funcs)))
	for _, idx := range funcTypes {
		writeU32(&sec, idx)
	}
	writeSection(&w, sectionFunction, &sec)

	pages := m.MemoryPages
	if pages == 0 {
		pages = 1
	}
	writeU32(&sec, 1)
	sec.WriteByte(0x00)
	writeU32(&sec, pages)
	writeSection(&w, sectionMemory, &sec)

	if len(m.Globals) > 0 {
		writeU32(&sec, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec.WriteByte(byte(I32))
			if g.Mutable {
				sec.WriteByte(0x01)
			} else {
				sec.WriteByte(0x00)
			}
			sec.Write(I32Const(g.Init))
			sec.WriteByte(opEnd)
		}
		writeSection(&w, sectionGlobal, &sec)
	}

	var exports bytes.Buffer
	count := uint32(1)
	writeName(&exports, "memory")
	exports.WriteByte(kindMemory)
	writeU32(&exports, 0)
	for i, fn := range m.Funcs {
		if fn.Name == "" {
			continue
		}
		count++
		writeName(&exports, fn.Name)
		exports.WriteByte(kindFunc)
		writeU32(&exports, uint32(len(m.Imports)+i))
	}
	for i, g := range m.Globals {
		if g.Name == "" {
			continue
		}
		count++
		writeName(&exports, g.Name)
		exports.WriteByte(kindGlobal)
		writeU32(&exports, uint32(i))
	}
	writeU32(&sec, count)
	sec.Write(exports.Bytes())
	writeSection(&w, sectionExport, &sec)

	writeU32(&sec, uint32(len(m.Funcs)))
	for _, fn := range m.Funcs {
		var body bytes.Buffer
		writeU32(&body, uint32(len(fn.Locals)))
		for _, l := range fn.Locals {
			writeU32(&body, 1)
			body.WriteByte(byte(l))
		}
		body.Write(fn.Body)
		body.WriteByte(opEnd)
		writeU32(&sec, uint32(body.Len()))
		sec.Write(body.Bytes())
	}
	writeSection(&w, sectionCode, &sec)

	if len(m.Data) > 0 {
		writeU32(&sec, uint32(len(m.Data)))
		for _, d := range m.Data {
			writeU32(&sec, 0)
			sec.Write(I32Const(int32(d.Offset)))
			sec.WriteByte(opEnd)
			writeU32(&sec, uint32(len(d.Bytes)))
			sec.Write(d.Bytes)
		}
		writeSection(&w, sectionData, &sec)
	}

	return w.Bytes()
}

func writeValTypes(w *bytes.Buffer, ts []ValType) {
	writeU32(w, uint32(len(ts)))
	for _, t := range ts {
		w.WriteByte(byte(t))
	}
}

// writeSection appends the section and resets sec for reuse.
func writeSection(w *bytes.Buffer, id byte, sec *bytes.Buffer) {
	w.WriteByte(id)
	writeU32(w, uint32(sec.Len()))
	w.Write(sec.Bytes())
	sec.Reset()
}
