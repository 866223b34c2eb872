// Package hostcall implements the capability surface exposed to
// plugins: a log sink, a clock and read access to event headers. Every
// call is charged against the invocation quota before any work runs.
package hostcall

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/sluiceio/sluice/internal/event"
	"github.com/sluiceio/sluice/internal/sandbox"
	"github.com/sluiceio/sluice/pkg/validate"
)

// Module is the import namespace plugins link against.
const Module = "sluice"

type ctxKey struct{}

// Invocation carries the per-call state host functions consult. Host
// functions run on the goroutine that called Execute, so these fields
// need no locking; only the aggregate counter on Env is shared.
type Invocation struct {
	Sandbox  *sandbox.Context
	Event    *event.Event
	PluginID string

	violation error
}

func NewInvocation(sb *sandbox.Context, evt *event.Event, pluginID string) *Invocation {
	return &Invocation{Sandbox: sb, Event: evt, PluginID: pluginID}
}

// Violation returns the limit breach that aborted the invocation, or
// nil. Callers check it before interpreting an execution error, since
// the runtime flattens the abort panic into a generic failure.
func (inv *Invocation) Violation() error {
	return inv.violation
}

// WithInvocation binds inv to the context passed into Execute. Host
// functions recover it from the call context.
func WithInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, ctxKey{}, inv)
}

func invocationFrom(ctx context.Context) *Invocation {
	inv, _ := ctx.Value(ctxKey{}).(*Invocation)
	return inv
}

// Env owns the host module definition. One Env serves every plugin in
// an engine; per-invocation state travels on the context.
type Env struct {
	totalCalls atomic.Uint64
}

func NewEnv() *Env {
	return &Env{}
}

// TotalCalls returns the number of host calls served across all
// plugins and invocations.
func (e *Env) TotalCalls() uint64 {
	return e.totalCalls.Load()
}

// Instantiate installs the host module into r.
func (e *Env) Instantiate(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(Module).
		NewFunctionBuilder().WithFunc(e.hostLog).Export("host_log").
		NewFunctionBuilder().WithFunc(e.hostNowNs).Export("host_now_ns").
		NewFunctionBuilder().WithFunc(e.hostEventField).Export("host_event_field").
		Instantiate(ctx)
	return err
}

// meter charges one call against the quota and checks the clock, in
// that order, before any host function does work. A breach is recorded
// on the invocation and the guest aborted by panicking; the runtime
// converts the panic into an execution error at the Call site.
func (e *Env) meter(ctx context.Context) *Invocation {
	e.totalCalls.Add(1)
	inv := invocationFrom(ctx)
	if inv == nil {
		panic("host call outside an invocation")
	}
	if err := inv.Sandbox.RecordHostCall(); err != nil {
		inv.violation = err
		panic(err)
	}
	if err := inv.Sandbox.CheckTimeout(); err != nil {
		inv.violation = err
		panic(err)
	}
	return inv
}

// hostLog surfaces a guest message into the engine log. Level 0 is
// info, 1 is warn, anything else lands at error; an unknown level is
// never an abort.
func (e *Env) hostLog(ctx context.Context, mod api.Module, level, ptr, length uint32) {
	inv := e.meter(ctx)

	var ev *zerolog.Event
	switch level {
	case 0:
		ev = log.Info()
	case 1:
		ev = log.Warn()
	default:
		ev = log.Error()
	}
	ev = ev.Str("plugin_id", inv.PluginID)
	// Lifecycle entry points (init, version) run without an event.
	if inv.Event != nil {
		ev = ev.Uint32("source_id", inv.Event.SourceID).Uint64("seq_no", inv.Event.SeqNo)
	}
	ev.Msg(validate.SanitizeLogMessage(readGuestString(mod, ptr, length)))
}

// hostNowNs returns the host wall clock in nanoseconds. The sandbox
// grants no ambient clock, so this is the only time source a guest
// has.
func (e *Env) hostNowNs(ctx context.Context) int64 {
	e.meter(ctx)
	return time.Now().UnixNano()
}

// hostEventField resolves a named field of the event under processing.
// The capability exposes the header and payload shape only, never
// payload bytes. Unknown names return -1.
func (e *Env) hostEventField(ctx context.Context, mod api.Module, ptr, length uint32) int64 {
	inv := e.meter(ctx)
	if inv.Event == nil {
		return -1
	}

	switch readGuestString(mod, ptr, length) {
	case "source_id":
		return int64(inv.Event.SourceID)
	case "seq_no":
		return int64(inv.Event.SeqNo)
	case "num_rows":
		return inv.Event.NumRows()
	case "num_columns":
		return inv.Event.NumCols()
	}
	return -1
}

// readGuestString copies bytes out of guest memory. An out-of-range
// read yields an empty string rather than an abort; the permissive
// calls treat it as no message.
func readGuestString(mod api.Module, ptr, length uint32) string {
	if length == 0 {
		return ""
	}
	mem := mod.Memory()
	if mem == nil {
		return ""
	}
	b, ok := mem.Read(ptr, length)
	if !ok {
		return ""
	}
	return string(b)
}
