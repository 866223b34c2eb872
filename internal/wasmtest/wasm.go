// Package wasmtest assembles minimal wasm binaries for exercising the
// VM, host calls and the engine in tests. The emitted modules follow
// the plugin ABI: on_event(i32, i64) -> i32, plus optional init and
// version exports.
package wasmtest

// HostModule is the import namespace the engine provides to plugins.
const HostModule = "sluice"

// Function type encodings. 0x60 marks a functype; params and results
// are length-prefixed vectors of value types (i32=0x7f, i64=0x7e).
var (
	typeOnEvent    = []byte{0x60, 0x02, 0x7f, 0x7e, 0x01, 0x7f} // (i32, i64) -> i32
	typeNullaryI32 = []byte{0x60, 0x00, 0x01, 0x7f}             // () -> i32
	typeNowNs      = []byte{0x60, 0x00, 0x01, 0x7e}             // () -> i64
	typeHostLog    = []byte{0x60, 0x03, 0x7f, 0x7f, 0x7f, 0x00} // (i32, i32, i32) -> ()
	typeEventField = []byte{0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e} // (i32, i32) -> i64
)

const (
	opUnreachable = 0x00
	opLoop        = 0x03
	opEnd         = 0x0b
	opBr          = 0x0c
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Ne       = 0x47
	opI64Ne       = 0x52
	opI32Add      = 0x6a
	opI32And      = 0x71
	opI64RemU     = 0x82
	opI32WrapI64  = 0xa7

	blockVoid = 0x40
)

// AllowAll returns a module whose on_event always returns 1.
func AllowAll() []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	f := m.addFunc(t, constBody(1))
	m.exportFunc("on_event", f)
	return m.build()
}

// BlockAll returns a module whose on_event always returns 0.
func BlockAll() []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	f := m.addFunc(t, constBody(0))
	m.exportFunc("on_event", f)
	return m.build()
}

// BlockSourceZero blocks events from source 0 and allows the rest.
func BlockSourceZero() []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	body := []byte{
		opLocalGet, 0,
		opI32Const, 0,
		opI32Ne,
		opEnd,
	}
	f := m.addFunc(t, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// Filter mirrors the stock filter plugin: it blocks source 0 and every
// hundredth sequence number, allowing everything else.
func Filter() []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	body := []byte{
		opLocalGet, 0,
		opI32Const, 0,
		opI32Ne, // source_id != 0
		opLocalGet, 1,
		opI64Const, 0xe4, 0x00, // 100
		opI64RemU,
		opI64Const, 0,
		opI64Ne, // seq_no % 100 != 0
		opI32And,
		opEnd,
	}
	f := m.addFunc(t, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// Trap returns a module whose on_event hits unreachable immediately.
func Trap() []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	f := m.addFunc(t, []byte{opUnreachable, opEnd})
	m.exportFunc("on_event", f)
	return m.build()
}

// InfiniteLoop returns a module whose on_event never terminates on its
// own. Only the invocation deadline stops it.
func InfiniteLoop() []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	// The validator treats code after the loop as live, so an
	// unreachable stands in for the i32 result.
	body := []byte{
		opLoop, blockVoid,
		opBr, 0,
		opEnd,
		opUnreachable,
		opEnd,
	}
	f := m.addFunc(t, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// WithInit pairs an allow-all on_event with an init export returning
// ret.
func WithInit(ret int32) []byte {
	m := newModule()
	tEvent := m.addType(typeOnEvent)
	tInit := m.addType(typeNullaryI32)
	fEvent := m.addFunc(tEvent, constBody(1))
	fInit := m.addFunc(tInit, constBody(ret))
	m.exportFunc("on_event", fEvent)
	m.exportFunc("init", fInit)
	return m.build()
}

// WithVersion pairs an allow-all on_event with a version export.
func WithVersion(v int32) []byte {
	m := newModule()
	tEvent := m.addType(typeOnEvent)
	tVer := m.addType(typeNullaryI32)
	fEvent := m.addFunc(tEvent, constBody(1))
	fVer := m.addFunc(tVer, constBody(v))
	m.exportFunc("on_event", fEvent)
	m.exportFunc("version", fVer)
	return m.build()
}

// WithInitAndVersion exports on_event, init and version together.
func WithInitAndVersion(initRet, version int32) []byte {
	m := newModule()
	tEvent := m.addType(typeOnEvent)
	tNullary := m.addType(typeNullaryI32)
	fEvent := m.addFunc(tEvent, constBody(1))
	fInit := m.addFunc(tNullary, constBody(initRet))
	fVer := m.addFunc(tNullary, constBody(version))
	m.exportFunc("on_event", fEvent)
	m.exportFunc("init", fInit)
	m.exportFunc("version", fVer)
	return m.build()
}

// MissingOnEvent returns a valid module without the required on_event
// export.
func MissingOnEvent() []byte {
	m := newModule()
	t := m.addType(typeNullaryI32)
	f := m.addFunc(t, constBody(1))
	m.exportFunc("version", f)
	return m.build()
}

// QuotaBuster calls host_now_ns in a tight loop until the host call
// quota aborts it.
func QuotaBuster() []byte {
	m := newModule()
	tNow := m.addType(typeNowNs)
	tEvent := m.addType(typeOnEvent)
	now := m.importFunc(HostModule, "host_now_ns", tNow)
	body := []byte{opLoop, blockVoid, opCall}
	body = append(body, uleb(uint32(now))...)
	body = append(body, opDrop, opBr, 0, opEnd, opUnreachable, opEnd)
	f := m.addFunc(tEvent, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// ClockOnce calls host_now_ns a single time and allows the event.
func ClockOnce() []byte {
	m := newModule()
	tNow := m.addType(typeNowNs)
	tEvent := m.addType(typeOnEvent)
	now := m.importFunc(HostModule, "host_now_ns", tNow)
	body := []byte{opCall}
	body = append(body, uleb(uint32(now))...)
	body = append(body, opDrop)
	body = append(body, constBody(1)...)
	f := m.addFunc(tEvent, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// Logger logs a fixed message at the given level on every event, then
// allows it.
func Logger(level int32, msg string) []byte {
	m := newModule()
	tLog := m.addType(typeHostLog)
	tEvent := m.addType(typeOnEvent)
	logFn := m.importFunc(HostModule, "host_log", tLog)
	m.withMemory(1)
	m.addData(0, []byte(msg))
	body := append([]byte{opI32Const}, sleb32(level)...)
	body = append(body, opI32Const, 0) // message at offset 0
	body = append(body, opI32Const)
	body = append(body, sleb32(int32(len(msg)))...)
	body = append(body, opCall)
	body = append(body, uleb(uint32(logFn))...)
	body = append(body, constBody(1)...)
	f := m.addFunc(tEvent, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// FieldParity reads the named event field and allows odd values. A
// failed read returns -1, which wraps to an allow.
func FieldParity(field string) []byte {
	m := newModule()
	tField := m.addType(typeEventField)
	tEvent := m.addType(typeOnEvent)
	read := m.importFunc(HostModule, "host_event_field", tField)
	m.withMemory(1)
	m.addData(0, []byte(field))
	body := []byte{opI32Const, 0} // field name at offset 0
	body = append(body, opI32Const)
	body = append(body, sleb32(int32(len(field)))...)
	body = append(body, opCall)
	body = append(body, uleb(uint32(read))...)
	body = append(body, opI32WrapI64)
	body = append(body, opI32Const, 1, opI32And, opEnd)
	f := m.addFunc(tEvent, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// ImportsFrom returns a module that declares one function import from
// the given namespace. It instantiates only if the engine provides
// that import; inspection sees the declaration either way.
func ImportsFrom(namespace, field string) []byte {
	m := newModule()
	tNullary := m.addType(typeNullaryI32)
	tEvent := m.addType(typeOnEvent)
	m.importFunc(namespace, field, tNullary)
	f := m.addFunc(tEvent, constBody(1))
	m.exportFunc("on_event", f)
	return m.build()
}

// InitLogs pairs an allow-all on_event with an init that logs a
// message before reporting success. Exercises host calls outside an
// event invocation.
func InitLogs(msg string) []byte {
	m := newModule()
	tLog := m.addType(typeHostLog)
	tEvent := m.addType(typeOnEvent)
	tInit := m.addType(typeNullaryI32)
	logFn := m.importFunc(HostModule, "host_log", tLog)
	m.withMemory(1)
	m.addData(0, []byte(msg))
	body := []byte{opI32Const, 0, opI32Const, 0} // level 0, message at offset 0
	body = append(body, opI32Const)
	body = append(body, sleb32(int32(len(msg)))...)
	body = append(body, opCall)
	body = append(body, uleb(uint32(logFn))...)
	body = append(body, constBody(1)...)
	fEvent := m.addFunc(tEvent, constBody(1))
	fInit := m.addFunc(tInit, body)
	m.exportFunc("on_event", fEvent)
	m.exportFunc("init", fInit)
	return m.build()
}

// FieldRaw reads the named event field and returns the wrapped i64
// result as-is, so a -1 for an unknown name is observable.
func FieldRaw(field string) []byte {
	m := newModule()
	tField := m.addType(typeEventField)
	tEvent := m.addType(typeOnEvent)
	read := m.importFunc(HostModule, "host_event_field", tField)
	m.withMemory(1)
	m.addData(0, []byte(field))
	body := []byte{opI32Const, 0} // field name at offset 0
	body = append(body, opI32Const)
	body = append(body, sleb32(int32(len(field)))...)
	body = append(body, opCall)
	body = append(body, uleb(uint32(read))...)
	body = append(body, opI32WrapI64, opEnd)
	f := m.addFunc(tEvent, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// Counter returns a module whose on_event bumps a mutable global and
// returns the new count. A fresh instance per call always yields 1.
func Counter() []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	g := m.addGlobalI32(0)
	body := []byte{
		opGlobalGet, byte(g),
		opI32Const, 1,
		opI32Add,
		opGlobalSet, byte(g),
		opGlobalGet, byte(g),
		opEnd,
	}
	f := m.addFunc(t, body)
	m.exportFunc("on_event", f)
	return m.build()
}

// MemoryHog declares a memory of the given page count so tests can
// drive it past the runtime limit.
func MemoryHog(pages uint32) []byte {
	m := newModule()
	t := m.addType(typeOnEvent)
	f := m.addFunc(t, constBody(1))
	m.withMemory(pages)
	m.exportFunc("on_event", f)
	return m.build()
}

func constBody(v int32) []byte {
	b := append([]byte{opI32Const}, sleb32(v)...)
	return append(b, opEnd)
}

// moduleBuilder accumulates sections. Imports must be added before
// local functions so the function index space stays consistent.
type moduleBuilder struct {
	types     [][]byte
	imports   []byte
	nImports  int
	funcTypes []int
	bodies    [][]byte
	globals   []byte
	nGlobals  int
	exports   []byte
	nExports  int
	memPages  uint32
	data      []byte
	nData     int
}

func newModule() *moduleBuilder {
	return &moduleBuilder{}
}

func (m *moduleBuilder) addType(ft []byte) int {
	m.types = append(m.types, ft)
	return len(m.types) - 1
}

func (m *moduleBuilder) importFunc(module, field string, typeIdx int) int {
	m.imports = append(m.imports, encodeName(module)...)
	m.imports = append(m.imports, encodeName(field)...)
	m.imports = append(m.imports, 0x00) // func import
	m.imports = append(m.imports, uleb(uint32(typeIdx))...)
	m.nImports++
	return m.nImports - 1
}

func (m *moduleBuilder) addFunc(typeIdx int, body []byte) int {
	m.funcTypes = append(m.funcTypes, typeIdx)
	m.bodies = append(m.bodies, body)
	return m.nImports + len(m.bodies) - 1
}

func (m *moduleBuilder) addGlobalI32(init int32) int {
	m.globals = append(m.globals, 0x7f, 0x01) // mutable i32
	m.globals = append(m.globals, opI32Const)
	m.globals = append(m.globals, sleb32(init)...)
	m.globals = append(m.globals, opEnd)
	m.nGlobals++
	return m.nGlobals - 1
}

func (m *moduleBuilder) exportFunc(name string, funcIdx int) {
	m.exports = append(m.exports, encodeName(name)...)
	m.exports = append(m.exports, 0x00) // func export
	m.exports = append(m.exports, uleb(uint32(funcIdx))...)
	m.nExports++
}

// withMemory defines a memory of exactly pages pages and exports it as
// "memory", matching what real toolchains emit.
func (m *moduleBuilder) withMemory(pages uint32) {
	m.memPages = pages
	m.exports = append(m.exports, encodeName("memory")...)
	m.exports = append(m.exports, 0x02, 0x00)
	m.nExports++
}

func (m *moduleBuilder) addData(offset uint32, b []byte) {
	m.data = append(m.data, 0x00) // active segment in memory 0
	m.data = append(m.data, opI32Const)
	m.data = append(m.data, sleb32(int32(offset))...)
	m.data = append(m.data, opEnd)
	m.data = append(m.data, uleb(uint32(len(b)))...)
	m.data = append(m.data, b...)
	m.nData++
}

func (m *moduleBuilder) build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		body := uleb(uint32(len(m.types)))
		for _, t := range m.types {
			body = append(body, t...)
		}
		out = appendSection(out, 1, body)
	}
	if m.nImports > 0 {
		body := append(uleb(uint32(m.nImports)), m.imports...)
		out = appendSection(out, 2, body)
	}
	if len(m.funcTypes) > 0 {
		body := uleb(uint32(len(m.funcTypes)))
		for _, t := range m.funcTypes {
			body = append(body, uleb(uint32(t))...)
		}
		out = appendSection(out, 3, body)
	}
	if m.memPages > 0 {
		body := []byte{0x01, 0x01} // one memory, bounded limits
		body = append(body, uleb(m.memPages)...)
		body = append(body, uleb(m.memPages)...)
		out = appendSection(out, 5, body)
	}
	if m.nGlobals > 0 {
		body := append(uleb(uint32(m.nGlobals)), m.globals...)
		out = appendSection(out, 6, body)
	}
	if m.nExports > 0 {
		body := append(uleb(uint32(m.nExports)), m.exports...)
		out = appendSection(out, 7, body)
	}
	if len(m.bodies) > 0 {
		body := uleb(uint32(len(m.bodies)))
		for _, code := range m.bodies {
			entry := append([]byte{0x00}, code...) // no locals
			body = append(body, uleb(uint32(len(entry)))...)
			body = append(body, entry...)
		}
		out = appendSection(out, 10, body)
	}
	if m.nData > 0 {
		body := append(uleb(uint32(m.nData)), m.data...)
		out = appendSection(out, 11, body)
	}
	return out
}

func appendSection(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint32(len(body)))...)
	return append(out, body...)
}

func uleb(v uint32) []byte {
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

func sleb32(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func encodeName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}
