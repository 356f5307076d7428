// Package wasm hosts a black-box evaluator compiled to WebAssembly.
//
// The module exports "memory" and an evaluate function
// (param i32 i32) (result i32 i32). When the module also exports
// alloc (param i32) (result i32), the host asks it for a buffer of the
// request length; otherwise the request goes to offset 0. The host writes the
// request document {"inputs": {...}} there and passes (ptr, len); the function returns
// (ptr, len) of a JSON outcome {"ok", "out", "message", "constraints",
// "dominant_inputs"}.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/snow-ghost/feasopt/core"
)

// Config holds module limits and the accepted inputs.
type Config struct {
	Export           string
	Timeout          time.Duration
	MemoryLimitPages uint32
	// Fields restricts the inputs sent to the module; empty sends all.
	Fields []string
}

// DefaultConfig returns a config with 30s calls and a 4MB memory cap.
func DefaultConfig() Config {
	return Config{Export: "evaluate", Timeout: 30 * time.Second, MemoryLimitPages: 64}
}

// Evaluator implements core.Evaluator using the wazero runtime. Each call
// runs in a fresh module instance.
type Evaluator struct {
	runtime wazero.Runtime
	module  wazero.CompiledModule
	config  Config
	mu      sync.Mutex
}

// New compiles module bytes.
func New(ctx context.Context, module []byte, config Config) (*Evaluator, error) {
	def := DefaultConfig()
	if config.Export == "" {
		config.Export = def.Export
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MemoryLimitPages == 0 {
		config.MemoryLimitPages = def.MemoryLimitPages
	}

	rc := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(config.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, rc)
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, module)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}
	if _, ok := compiled.ExportedFunctions()[config.Export]; !ok {
		runtime.Close(ctx)
		return nil, fmt.Errorf("module does not export %q function", config.Export)
	}
	return &Evaluator{runtime: runtime, module: compiled, config: config}, nil
}

// Load compiles the module at path.
func Load(ctx context.Context, path string, config Config) (*Evaluator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	return New(ctx, data, config)
}

// Fields lists the accepted inputs.
func (e *Evaluator) Fields() []string { return e.config.Fields }

type request struct {
	Inputs core.Point `json:"inputs"`
}

// Evaluate sends p to the module and decodes its outcome.
func (e *Evaluator) Evaluate(ctx context.Context, p core.Point) (core.Outcome, error) {
	req, err := json.Marshal(request{Inputs: p})
	if err != nil {
		return core.Outcome{}, fmt.Errorf("failed to marshal input: %w", err)
	}
	raw, err := e.Call(ctx, req)
	if err != nil {
		return core.Outcome{}, err
	}
	var out core.Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return core.Outcome{}, fmt.Errorf("failed to parse output JSON: %w", err)
	}
	return out, nil
}

// Call runs the evaluate export on a raw request document.
func (e *Evaluator) Call(ctx context.Context, req []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	instance, err := e.runtime.InstantiateModule(execCtx, e.module, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}
	defer instance.Close(execCtx)

	ptr, size, err := writeRequest(execCtx, instance, req)
	if err != nil {
		return nil, err
	}
	results, err := instance.ExportedFunction(e.config.Export).Call(execCtx, uint64(ptr), uint64(size))
	if err != nil {
		return nil, fmt.Errorf("failed to call %s function: %w", e.config.Export, err)
	}
	if len(results) != 2 {
		return nil, fmt.Errorf("%s function should return (ptr, size), got %d results", e.config.Export, len(results))
	}
	return readResponse(instance, uint32(results[0]), uint32(results[1]))
}

// writeRequest copies req into a buffer from the module's alloc export, or to
// offset 0 when there is none.
func writeRequest(ctx context.Context, instance api.Module, req []byte) (uint32, uint32, error) {
	mem := instance.Memory()
	if mem == nil {
		return 0, 0, fmt.Errorf("module has no memory")
	}
	size := uint32(len(req))
	var ptr uint32
	if alloc := instance.ExportedFunction("alloc"); alloc != nil {
		res, err := alloc.Call(ctx, uint64(size))
		if err != nil {
			return 0, 0, fmt.Errorf("failed to call alloc function: %w", err)
		}
		if len(res) != 1 {
			return 0, 0, fmt.Errorf("alloc function should return a pointer, got %d results", len(res))
		}
		ptr = uint32(res[0])
	}
	if uint64(ptr)+uint64(size) > uint64(mem.Size()) {
		return 0, 0, fmt.Errorf("not enough memory: need %d bytes at %d, have %d", size, ptr, mem.Size())
	}
	if !mem.Write(ptr, req) {
		return 0, 0, fmt.Errorf("failed to write to memory")
	}
	return ptr, size, nil
}

func readResponse(instance api.Module, ptr, size uint32) ([]byte, error) {
	data, ok := instance.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("response out of range: ptr=%d size=%d", ptr, size)
	}
	return append([]byte(nil), data...), nil
}

// Close releases the runtime.
func (e *Evaluator) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
