// Package vm wraps the wazero runtime behind a narrow surface: compile
// once, execute on a fresh isolated instance every time.
package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
)

// ErrExecution is the only error surfaced for failures inside a guest.
// Traps, deadline aborts and missing exports all collapse into it so
// guest internals never leak across the sandbox boundary. The cause is
// kept in the message for the logs but is not matchable.
var ErrExecution = errors.New("execution failed")

// HostEnv instantiates a host import namespace into a runtime. Modules
// compiled without host imports work with a nil HostEnv.
type HostEnv interface {
	Instantiate(ctx context.Context, r wazero.Runtime) error
}

// Config bounds a module's runtime.
type Config struct {
	MemoryLimitPages uint32 // 64KiB pages, 0 leaves the runtime default
	Host             HostEnv
}

// Module is one compiled guest with its own isolated runtime. Nothing
// is shared between Modules, and nothing is shared between executions
// of the same Module.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	exports  map[string]struct{}
}

// New compiles code into a dedicated runtime. The runtime grants no
// filesystem, clock, network or environment access; the only imports a
// guest can reach are the ones cfg.Host installs.
func New(ctx context.Context, code []byte, cfg Config) (*Module, error) {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rc)

	if cfg.Host != nil {
		if err := cfg.Host.Instantiate(ctx, r); err != nil {
			r.Close(ctx)
			return nil, fmt.Errorf("instantiate host module: %w", err)
		}
	}

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}

	exports := make(map[string]struct{}, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		exports[name] = struct{}{}
	}
	return &Module{runtime: r, compiled: compiled, exports: exports}, nil
}

// HasExport reports whether the compiled module exports the named
// function.
func (m *Module) HasExport(name string) bool {
	_, ok := m.exports[name]
	return ok
}

// Execute instantiates a fresh anonymous instance, calls the named
// export and tears the instance down. Guest state never survives
// between calls. A context deadline aborts a runaway guest.
func (m *Module) Execute(ctx context.Context, fn string, params ...uint64) ([]uint64, error) {
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	defer mod.Close(ctx)

	f := mod.ExportedFunction(fn)
	if f == nil {
		return nil, fmt.Errorf("%w: no export %q", ErrExecution, fn)
	}
	res, err := f.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	return res, nil
}

// Close releases the runtime and everything compiled into it.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}
