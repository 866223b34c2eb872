// Package plugin loads wasm filters and drives their entry points
// under sandbox limits.
package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero/api"

	"github.com/sluiceio/sluice/internal/event"
	"github.com/sluiceio/sluice/internal/hostcall"
	"github.com/sluiceio/sluice/internal/sandbox"
	"github.com/sluiceio/sluice/internal/vm"
)

// Entry points of the plugin ABI. on_event is required, the other two
// are optional.
const (
	entryOnEvent = "on_event"
	entryInit    = "init"
	entryVersion = "version"
)

var (
	ErrMissingEntry = errors.New("module does not export on_event")
	ErrInitFailed   = errors.New("plugin init failed")
)

// Plugin is one loaded filter. The struct is immutable after Load;
// every invocation runs on a fresh VM instance.
type Plugin struct {
	ID       uuid.UUID
	Version  int32
	Hash     string
	LoadedAt time.Time

	mod    *vm.Module
	limits sandbox.Limits
}

// Load validates, compiles and initializes a plugin from raw module
// bytes. env becomes the only import surface the guest can reach. If
// the module exports init, a zero return fails the load.
func Load(ctx context.Context, code []byte, limits sandbox.Limits, env *hostcall.Env) (*Plugin, error) {
	if err := sandbox.ValidateModuleHeader(code); err != nil {
		return nil, err
	}

	mod, err := vm.New(ctx, code, vm.Config{
		MemoryLimitPages: limits.MemoryPages(),
		Host:             env,
	})
	if err != nil {
		return nil, err
	}
	if !mod.HasExport(entryOnEvent) {
		mod.Close(ctx)
		return nil, ErrMissingEntry
	}

	sum := sha256.Sum256(code)
	p := &Plugin{
		ID:       uuid.New(),
		Hash:     hex.EncodeToString(sum[:]),
		LoadedAt: time.Now(),
		mod:      mod,
		limits:   limits,
	}

	if err := p.runInit(ctx); err != nil {
		mod.Close(ctx)
		return nil, err
	}
	p.Version = p.readVersion(ctx)

	log.Info().
		Str("plugin_id", p.ID.String()).
		Str("hash", p.Hash).
		Int32("version", p.Version).
		Int("size_bytes", len(code)).
		Msg("plugin loaded")
	return p, nil
}

// OnEvent asks the plugin to admit or block one event. The bool is
// meaningful only when err is nil; a trap or limit breach is an error
// the engine treats as fail-open.
func (p *Plugin) OnEvent(ctx context.Context, evt *event.Event) (bool, error) {
	res, err := p.invoke(ctx, entryOnEvent, evt,
		api.EncodeI32(int32(evt.SourceID)), api.EncodeI64(int64(evt.SeqNo)))
	if err != nil {
		return false, err
	}
	if len(res) == 0 {
		return false, &sandbox.InvokeError{PluginID: p.ID.String(), Op: entryOnEvent, Err: errors.New("no result")}
	}
	return api.DecodeI32(res[0]) != 0, nil
}

// Close releases the plugin's runtime. The caller must guarantee no
// invocation is in flight.
func (p *Plugin) Close(ctx context.Context) error {
	return p.mod.Close(ctx)
}

func (p *Plugin) runInit(ctx context.Context) error {
	if !p.mod.HasExport(entryInit) {
		return nil
	}
	res, err := p.invoke(ctx, entryInit, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	if len(res) == 0 || api.DecodeI32(res[0]) == 0 {
		return fmt.Errorf("%w: returned 0", ErrInitFailed)
	}
	return nil
}

// readVersion is best-effort; a missing or failing version export
// leaves the version at 0.
func (p *Plugin) readVersion(ctx context.Context) int32 {
	if !p.mod.HasExport(entryVersion) {
		return 0
	}
	res, err := p.invoke(ctx, entryVersion, nil)
	if err != nil || len(res) == 0 {
		return 0
	}
	return api.DecodeI32(res[0])
}

// invoke runs one entry point with fresh limits, a fresh sandbox
// context and a deadline that aborts a runaway guest. evt may be nil
// for lifecycle entry points. Errors come back as InvokeError wrapping
// the most precise cause known: a recorded limit breach beats the
// generic execution failure, and a deadline abort is normalized to the
// timeout sentinel.
func (p *Plugin) invoke(ctx context.Context, fn string, evt *event.Event, params ...uint64) ([]uint64, error) {
	sb := sandbox.NewContext(p.limits)
	inv := hostcall.NewInvocation(sb, evt, p.ID.String())
	cctx, cancel := context.WithTimeout(hostcall.WithInvocation(ctx, inv), p.limits.CPUTimeout)
	defer cancel()

	sb.Start()
	res, err := p.mod.Execute(cctx, fn, params...)
	if err != nil {
		if v := inv.Violation(); v != nil {
			err = v
		} else if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: aborted mid-execution", sandbox.ErrTimeout)
		}
		return nil, &sandbox.InvokeError{PluginID: p.ID.String(), Op: fn, Err: err}
	}
	return res, nil
}
