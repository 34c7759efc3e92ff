// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm_test

// A tiny binary-format assembler so tests can describe guest modules
// without a toolchain. Only the instructions the fixtures need are covered.

const (
	i32 byte = 0x7f
	i64 byte = 0x7e
)

// Opcodes.
const (
	opUnreachable byte = 0x00
	opLoop        byte = 0x03
	opBr          byte = 0x0c
	opEnd         byte = 0x0b
	opCall        byte = 0x10
	opDrop        byte = 0x1a
	opLocalGet    byte = 0x20
	opLocalSet    byte = 0x21
	opGlobalGet   byte = 0x23
	opGlobalSet   byte = 0x24
	opI32Store8   byte = 0x3a
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opI32Add      byte = 0x6a
	opI64Or       byte = 0x84
	opI64Shl      byte = 0x86
	opI64ShrU     byte = 0x88
	opI32WrapI64  byte = 0xa7
	opI64ExtendU  byte = 0xad
)

var opMemoryCopy = []byte{0xfc, 0x0a, 0x00, 0x00}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func i32c(v int32) []byte { return append([]byte{opI32Const}, sleb(int64(v))...) }
func i64c(v int64) []byte { return append([]byte{opI64Const}, sleb(v)...) }
func get(idx uint32) []byte { return append([]byte{opLocalGet}, uleb(uint64(idx))...) }
func set(idx uint32) []byte { return append([]byte{opLocalSet}, uleb(uint64(idx))...) }
func call(idx uint32) []byte { return append([]byte{opCall}, uleb(uint64(idx))...) }

// packConst returns ptr<<32|len for a static data segment.
func packConst(ptr, size uint32) []byte {
	return i64c(int64(uint64(ptr)<<32 | uint64(size)))
}

type signature struct {
	params  []byte
	results []byte
}

func params(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

type importFunc struct {
	module, field string
	sig           signature
}

type localGroup struct {
	count uint32
	typ   byte
}

type function struct {
	export string
	sig    signature
	locals []localGroup
	body   []byte
}

type dataSegment struct {
	offset int32
	bytes  []byte
}

type module struct {
	imports   []importFunc
	funcs     []function
	data      []dataSegment
	noMemory  bool
	heapStart int32
}

// funcIndex returns the index of the named defined function.
func (m *module) funcIndex(export string) uint32 {
	for i, f := range m.funcs {
		if f.export == export {
			return uint32(len(m.imports) + i)
		}
	}
	panic("no function " + export)
}

func (m *module) bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types [][]byte
	typeOf := func(s signature) []byte {
		t := append([]byte{0x60}, vec(splitBytes(s.params)...)...)
		return append(t, vec(splitBytes(s.results)...)...)
	}
	for _, imp := range m.imports {
		types = append(types, typeOf(imp.sig))
	}
	for _, f := range m.funcs {
		types = append(types, typeOf(f.sig))
	}
	out = append(out, section(1, vec(types...))...)

	if len(m.imports) > 0 {
		var imps [][]byte
		for i, imp := range m.imports {
			entry := code(name(imp.module), name(imp.field), []byte{0x00}, uleb(uint64(i)))
			imps = append(imps, entry)
		}
		out = append(out, section(2, vec(imps...))...)
	}

	var funcTypes [][]byte
	for i := range m.funcs {
		funcTypes = append(funcTypes, uleb(uint64(len(m.imports)+i)))
	}
	out = append(out, section(3, vec(funcTypes...))...)

	if !m.noMemory {
		out = append(out, section(5, vec([]byte{0x00, 0x01}))...)
	}

	heap := m.heapStart
	if heap == 0 {
		heap = 4096
	}
	global := code([]byte{i32, 0x01}, i32c(heap), []byte{opEnd})
	out = append(out, section(6, vec(global))...)

	var exports [][]byte
	if !m.noMemory {
		exports = append(exports, code(name("memory"), []byte{0x02, 0x00}))
	}
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		exports = append(exports, code(name(f.export), []byte{0x00}, uleb(uint64(len(m.imports)+i))))
	}
	out = append(out, section(7, vec(exports...))...)

	var bodies [][]byte
	for _, f := range m.funcs {
		var locals [][]byte
		for _, g := range f.locals {
			locals = append(locals, append(uleb(uint64(g.count)), g.typ))
		}
		body := code(vec(locals...), f.body, []byte{opEnd})
		bodies = append(bodies, append(uleb(uint64(len(body))), body...))
	}
	out = append(out, section(10, vec(bodies...))...)

	if len(m.data) > 0 {
		var segs [][]byte
		for _, d := range m.data {
			seg := code([]byte{0x00}, i32c(d.offset), []byte{opEnd}, uleb(uint64(len(d.bytes))), d.bytes)
			segs = append(segs, seg)
		}
		out = append(out, section(11, vec(segs...))...)
	}
	return out
}

func splitBytes(b []byte) [][]byte {
	out := make([][]byte, len(b))
	for i := range b {
		out[i] = []byte{b[i]}
	}
	return out
}

// Import indices shared by every fixture module.
const (
	importRand uint32 = iota
	importDebug
	importReserve
	importCancel
)

func hostImports() []importFunc {
	return []importFunc{
		{"gameroom", "rand", signature{nil, []byte{i32}}},
		{"gameroom", "debug", signature{params(2), nil}},
		{"gameroom", "reserve", signature{params(7), []byte{i64}}},
		{"gameroom", "cancel", signature{params(4), nil}},
	}
}

// allocFunc is a bump allocator over global 0.
func allocFunc() function {
	return function{
		export: "alloc",
		sig:    signature{params(1), []byte{i32}},
		body: code(
			[]byte{opGlobalGet, 0x00},
			[]byte{opGlobalGet, 0x00}, get(0), []byte{opI32Add},
			[]byte{opGlobalSet, 0x00},
		),
	}
}

// okFrameFrom builds an Ok frame holding the bytes at (ptr, len) locals and
// returns it packed. tmp must be a spare i32 local.
func okFrameFrom(alloc, ptr, size, tmp uint32) []byte {
	return code(
		get(size), i32c(1), []byte{opI32Add}, call(alloc), set(tmp),
		get(tmp), i32c(0), []byte{opI32Store8, 0x00, 0x00},
		get(tmp), i32c(1), []byte{opI32Add}, get(ptr), get(size), opMemoryCopy,
		get(tmp), []byte{opI64ExtendU}, i64c(32), []byte{opI64Shl},
		get(size), i32c(1), []byte{opI32Add}, []byte{opI64ExtendU}, []byte{opI64Or},
	)
}

func hookSig(n int) signature { return signature{params(n), []byte{i64}} }

// Static data layout of the fixture modules.
const (
	metaOffset     = 16
	createdOffset  = 256
	rejectedOffset = 512
	debugOffset    = 768
	canceledOffset = 800
	tickOffset     = 1024
)

var (
	metaJSON      = []byte(`{"name":"fixture","version":"1.2.3"}`)
	createdFrame  = []byte("\x00created")
	rejectedFrame = []byte("\x01task-rejected")
	debugMessage  = []byte("cancel-handled")
	canceledFrame = []byte("\x00canceled")
	tickAction    = []byte("Tick")
)

func fixtureData() []dataSegment {
	return []dataSegment{
		{metaOffset, metaJSON},
		{createdOffset, createdFrame},
		{rejectedOffset, rejectedFrame},
		{debugOffset, debugMessage},
		{canceledOffset, canceledFrame},
		{tickOffset, tickAction},
	}
}

// fullModule exports every hook:
//   - onCreateRoom returns Ok("created")
//   - onJoinPlayer traps
//   - onLeavePlayer returns Ok(playerId)
//   - rpc returns Ok(action)
//   - onTask returns Err("task-rejected")
//   - onCancelTask calls rand and debug, then returns Ok("canceled")
func fullModule() []byte {
	m := &module{imports: hostImports(), data: fixtureData()}
	m.funcs = []function{allocFunc()}
	alloc := m.funcIndex("alloc")

	m.funcs = append(m.funcs,
		function{export: "pluginMeta", sig: hookSig(0), body: packConst(metaOffset, uint32(len(metaJSON)))},
		function{export: "onCreateRoom", sig: hookSig(4), body: packConst(createdOffset, uint32(len(createdFrame)))},
		function{export: "onJoinPlayer", sig: hookSig(6), body: []byte{opUnreachable}},
		function{
			export: "onLeavePlayer", sig: hookSig(6),
			locals: []localGroup{{1, i32}},
			body:   okFrameFrom(alloc, 0, 1, 6),
		},
		function{
			export: "rpc", sig: hookSig(8),
			locals: []localGroup{{1, i32}},
			body:   okFrameFrom(alloc, 6, 7, 8),
		},
		function{export: "onTask", sig: hookSig(4), body: packConst(rejectedOffset, uint32(len(rejectedFrame)))},
		function{
			export: "onCancelTask", sig: hookSig(4),
			body: code(
				call(importRand), []byte{opDrop},
				i32c(debugOffset), i32c(int32(len(debugMessage))), call(importDebug),
				packConst(canceledOffset, uint32(len(canceledFrame))),
			),
		},
	)
	return m.bytes()
}

// minimalModule exports only onCreateRoom and no pluginMeta.
func minimalModule() []byte {
	m := &module{data: fixtureData()}
	m.funcs = []function{
		allocFunc(),
		{export: "onCreateRoom", sig: hookSig(4), body: packConst(createdOffset, uint32(len(createdFrame)))},
	}
	return m.bytes()
}

// reserverModule:
//   - onCreateRoom reserves "Tick" for 50ms and returns Ok(taskId)
//   - rpc cancels the task whose id is the action and returns Ok("canceled")
func reserverModule() []byte {
	m := &module{imports: hostImports(), data: fixtureData()}
	m.funcs = []function{allocFunc()}
	alloc := m.funcIndex("alloc")

	// locals: 4 i64 packed, 5 ptr, 6 len, 7 tmp
	create := code(
		get(0), get(1), get(2), get(3), i32c(tickOffset), i32c(int32(len(tickAction))), i32c(50),
		call(importReserve), set(4),
		get(4), i64c(32), []byte{opI64ShrU}, []byte{opI32WrapI64}, set(5),
		get(4), []byte{opI32WrapI64}, set(6),
		okFrameFrom(alloc, 5, 6, 7),
	)
	cancel := code(
		get(2), get(3), get(6), get(7), call(importCancel),
		packConst(canceledOffset, uint32(len(canceledFrame))),
	)

	m.funcs = append(m.funcs,
		function{
			export: "onCreateRoom", sig: hookSig(4),
			locals: []localGroup{{1, i64}, {3, i32}},
			body:   create,
		},
		function{export: "rpc", sig: hookSig(8), body: cancel},
	)
	return m.bytes()
}

// spinModule loops forever in onCreateRoom.
func spinModule() []byte {
	m := &module{}
	m.funcs = []function{
		allocFunc(),
		{
			export: "onCreateRoom", sig: hookSig(4),
			body: code([]byte{opLoop, 0x40, opBr, 0x00, opEnd}, i64c(0)),
		},
	}
	return m.bytes()
}

// Broken fixtures.

func noMemoryModule() []byte {
	m := &module{noMemory: true}
	m.funcs = []function{
		allocFunc(),
		{export: "onCreateRoom", sig: hookSig(4), body: i64c(0)},
	}
	return m.bytes()
}

func badSignatureModule() []byte {
	m := &module{}
	m.funcs = []function{
		allocFunc(),
		{export: "onCreateRoom", sig: hookSig(4), body: i64c(0)},
		{export: "onTask", sig: hookSig(3), body: i64c(0)},
	}
	return m.bytes()
}

func unknownImportModule() []byte {
	m := &module{imports: []importFunc{{"gameroom", "exec", signature{params(2), nil}}}}
	m.funcs = []function{
		allocFunc(),
		{export: "onCreateRoom", sig: hookSig(4), body: i64c(0)},
	}
	return m.bytes()
}

func badFrameModule() []byte {
	m := &module{data: []dataSegment{{64, []byte{0x07, 'x'}}}}
	m.funcs = []function{
		allocFunc(),
		{export: "onCreateRoom", sig: hookSig(4), body: packConst(64, 2)},
	}
	return m.bytes()
}
