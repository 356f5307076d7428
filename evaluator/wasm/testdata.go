package wasm

// echoModule exports "memory" and
// (func $evaluate (param i32 i32) (result i32 i32)) returning its arguments,
// so the response is the request document itself.
var echoModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // WASM_BINARY_MAGIC
	0x01, 0x00, 0x00, 0x00, // WASM_BINARY_VERSION
	// Type section
	0x01, 0x08, // section id, section size (8 bytes)
	0x01,                                     // number of types
	0x60, 0x02, 0x7f, 0x7f, 0x02, 0x7f, 0x7f, // (func (param i32 i32) (result i32 i32))
	// Function section
	0x03, 0x02, // section id, section size
	0x01, // number of functions
	0x00, // function 0, type 0
	// Memory section
	0x05, 0x03, // section id, section size
	0x01,       // number of memories
	0x00, 0x01, // memory 0: min=1 page
	// Export section
	0x07, 0x15, // section id, section size (21 bytes)
	0x02,                                                 // number of exports
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, // export "memory"
	0x08, 0x65, 0x76, 0x61, 0x6c, 0x75, 0x61, 0x74, 0x65, 0x00, 0x00, // export "evaluate"
	// Code section
	0x0a, 0x08, // section id, section size (8 bytes)
	0x01,       // number of functions
	0x06,       // function body size (6 bytes)
	0x00,       // number of local declarations
	0x20, 0x00, // local.get 0
	0x20, 0x01, // local.get 1
	0x0b, // end
}

// EchoModule returns a module whose evaluate export echoes the request.
func EchoModule() []byte {
	return echoModule
}

// echoCodeSectionLen is the size of the trailing code section of echoModule.
const echoCodeSectionLen = 10

// responseOffset is where ConstantModule places its response.
const responseOffset = 1024

// ConstantModule assembles a module whose evaluate export ignores the request
// and returns response, stored in a data segment at offset 1024.
func ConstantModule(response []byte) []byte {
	m := append([]byte(nil), echoModule[:len(echoModule)-echoCodeSectionLen]...)

	body := []byte{0x00, 0x41}
	body = append(body, sleb(responseOffset)...)
	body = append(body, 0x41)
	body = append(body, sleb(int64(len(response)))...)
	body = append(body, 0x0b)
	code := append([]byte{0x01}, uleb(uint64(len(body)))...)
	code = append(code, body...)
	m = append(m, section(0x0a, code)...)

	seg := []byte{0x01, 0x00, 0x41}
	seg = append(seg, sleb(responseOffset)...)
	seg = append(seg, 0x0b)
	seg = append(seg, uleb(uint64(len(response)))...)
	seg = append(seg, response...)
	return append(m, section(0x0b, seg)...)
}

// allocOffset is the buffer address AllocModule hands out.
const allocOffset = 2048

// AllocModule assembles a module that also exports
// (func $alloc (param i32) (result i32)) returning 2048. Its evaluate export
// returns (2048, len), so the response is the request only when the host wrote
// it at the allocated address.
func AllocModule() []byte {
	m := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	m = append(m, section(0x01, []byte{
		0x02,
		0x60, 0x02, 0x7f, 0x7f, 0x02, 0x7f, 0x7f,
		0x60, 0x01, 0x7f, 0x01, 0x7f,
	})...)
	m = append(m, section(0x03, []byte{0x02, 0x00, 0x01})...)
	m = append(m, section(0x05, []byte{0x01, 0x00, 0x01})...)

	exports := []byte{0x03}
	exports = append(exports, exportEntry("memory", 0x02, 0)...)
	exports = append(exports, exportEntry("evaluate", 0x00, 0)...)
	exports = append(exports, exportEntry("alloc", 0x00, 1)...)
	m = append(m, section(0x07, exports)...)

	evaluate := []byte{0x00, 0x41}
	evaluate = append(evaluate, sleb(allocOffset)...)
	evaluate = append(evaluate, 0x20, 0x01, 0x0b)
	alloc := []byte{0x00, 0x41}
	alloc = append(alloc, sleb(allocOffset)...)
	alloc = append(alloc, 0x0b)

	code := []byte{0x02}
	code = append(code, uleb(uint64(len(evaluate)))...)
	code = append(code, evaluate...)
	code = append(code, uleb(uint64(len(alloc)))...)
	code = append(code, alloc...)
	return append(m, section(0x0a, code)...)
}

func exportEntry(name string, kind byte, index uint64) []byte {
	out := append(uleb(uint64(len(name))), name...)
	out = append(out, kind)
	return append(out, uleb(index)...)
}

func section(id byte, body []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
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
