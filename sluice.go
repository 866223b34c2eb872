// Package sluice is the embedding boundary for the event-filtering
// engine. It exposes a handle-based surface with integer status codes
// so callers in any runtime can drive an engine without sharing Go
// error values, plus a Client wrapper for idiomatic Go use.
//
// Every entry point rejects nil arguments before doing anything else
// and converts panics to a status code; nothing unwinds past this
// package.
package sluice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/rs/zerolog/log"

	"github.com/sluiceio/sluice/internal/admin"
	"github.com/sluiceio/sluice/internal/engine"
	"github.com/sluiceio/sluice/internal/event"
	"github.com/sluiceio/sluice/internal/hostcall"
	"github.com/sluiceio/sluice/internal/monitor"
	"github.com/sluiceio/sluice/internal/sandbox"
	"github.com/sluiceio/sluice/internal/storage"
	"github.com/sluiceio/sluice/pkg/validate"
)

// Code is a boundary status. Zero is success; failures are negative
// and stable.
type Code int32

const (
	CodeOK          Code = 0
	CodeNullPointer Code = -1
	// CodeBufferFull doubles as the generic load-failure code, keeping
	// the historical numbering of the embedding surface.
	CodeBufferFull  Code = -2
	CodeFault       Code = -3
	CodeFormatError Code = -4
	CodeInitFailed  Code = -5
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNullPointer:
		return "null_pointer"
	case CodeBufferFull:
		return "buffer_full"
	case CodeFault:
		return "fault"
	case CodeFormatError:
		return "format_error"
	case CodeInitFailed:
		return "init_failed"
	default:
		return "unknown"
	}
}

// Limits re-exports the per-engine execution limits for embedders.
type Limits = sandbox.Limits

// DefaultLimits returns the stock execution limits.
func DefaultLimits() Limits { return sandbox.DefaultLimits() }

// Handle identifies one engine instance. The zero Handle is never
// valid; a freed Handle behaves like zero.
type Handle uint64

// Options configures InitWithOptions beyond the bare queue capacity.
type Options struct {
	QueueCapacity int
	IdlePark      time.Duration
	Limits        Limits

	// ShutdownTimeout bounds how long Free waits for the dispatch loop
	// before escalating. Zero means 5s.
	ShutdownTimeout time.Duration

	// AdminAddr enables the read-only administration server when
	// non-empty. Port 0 picks a free port; see AdminAddr(h).
	AdminAddr         string
	AdminAPIKeys      []string
	AdminReadTimeout  time.Duration
	AdminWriteTimeout time.Duration
	MetricsPath       string
	DisableMetrics    bool

	// DatabaseDSN enables audit storage of plugin loads and security
	// events. Empty keeps the engine purely in-memory.
	DatabaseDSN string
	AuditBuffer int
}

type instance struct {
	eng       *engine.Engine
	metrics   *monitor.Metrics
	inspector *monitor.ModuleInspector
	adminSrv  *admin.Server
	db        *storage.DB
	audit     *storage.AuditWriter
	stopWait  time.Duration
}

var (
	handleMu sync.RWMutex
	handles  = make(map[Handle]*instance)
	nextID   atomic.Uint64
)

func lookup(h Handle) *instance {
	handleMu.RLock()
	defer handleMu.RUnlock()
	return handles[h]
}

const freeTimeout = 5 * time.Second

// Init creates an engine with the given queue capacity, starts its
// dispatch loop and returns its handle. Zero means failure; unlike
// InitWithOptions, a zero capacity is rejected rather than defaulted.
func Init(capacity uint32) Handle {
	if err := validate.New().ValidateBufferSize(int(capacity)); err != nil {
		log.Error().Err(err).Uint32("capacity", capacity).Msg("engine init failed")
		return 0
	}
	h, err := InitWithOptions(Options{QueueCapacity: int(capacity)})
	if err != nil {
		log.Error().Err(err).Uint32("capacity", capacity).Msg("engine init failed")
		return 0
	}
	return h
}

// InitWithOptions creates and starts a fully wired engine instance:
// dispatch loop, optional administration server, optional audit
// storage.
func InitWithOptions(opts Options) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("fault caught in init")
			h, err = 0, &CodeError{Code: CodeFault}
		}
	}()

	inst := &instance{
		metrics:   monitor.NewMetrics(),
		inspector: monitor.NewModuleInspector(hostcall.Module),
		stopWait:  opts.ShutdownTimeout,
	}
	if inst.stopWait <= 0 {
		inst.stopWait = freeTimeout
	}

	limits := opts.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	if opts.DatabaseDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, derr := storage.New(ctx, opts.DatabaseDSN)
		cancel()
		if derr != nil {
			return 0, derr
		}
		inst.db = db
		inst.audit = storage.NewAuditWriter(db, opts.AuditBuffer)
		inst.audit.Start()
	}

	eng, err := engine.New(engine.Config{
		QueueCapacity: opts.QueueCapacity,
		IdlePark:      opts.IdlePark,
		Limits:        limits,
		Metrics:       inst.metrics,
		Tracer:        monitor.NewTracer(),
		FaultHook:     faultHook(inst),
	})
	if err != nil {
		teardown(inst)
		return 0, err
	}
	inst.eng = eng

	if opts.AdminAddr != "" {
		adminMetrics := inst.metrics
		if opts.DisableMetrics {
			adminMetrics = nil
		}
		inst.adminSrv = admin.New(admin.Config{
			Addr:         opts.AdminAddr,
			APIKeys:      opts.AdminAPIKeys,
			ReadTimeout:  opts.AdminReadTimeout,
			WriteTimeout: opts.AdminWriteTimeout,
			MetricsPath:  opts.MetricsPath,
		}, eng, inst.db, adminMetrics)
		if aerr := inst.adminSrv.Start(); aerr != nil {
			teardown(inst)
			return 0, aerr
		}
	}

	eng.Start()

	h = Handle(nextID.Add(1))
	handleMu.Lock()
	handles[h] = inst
	handleMu.Unlock()

	log.Info().
		Uint64("handle", uint64(h)).
		Int("queue_capacity", eng.Stats().QueueCap).
		Msg("engine instance started")
	return h, nil
}

// faultHook forwards dispatch faults to the audit trail.
func faultHook(inst *instance) func(string, event.Header, string) {
	return func(pluginID string, hdr event.Header, reason string) {
		inst.audit.LogEvent(&storage.SecurityEvent{
			PluginID: pluginID,
			Type:     reason,
			Severity: "high",
			Detail:   "plugin invocation aborted",
			SourceID: int64(hdr.SourceID),
			SeqNo:    int64(hdr.SeqNo),
		})
	}
}

func teardown(inst *instance) {
	if inst.audit != nil {
		inst.audit.Flush(time.Second)
	}
	if inst.db != nil {
		inst.db.Close()
	}
}

// Free stops the engine behind h and releases everything it owns.
// A zero, unknown or already freed handle is a no-op.
func Free(h Handle) {
	if h == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("fault caught in free")
		}
	}()

	handleMu.Lock()
	inst := handles[h]
	delete(handles, h)
	handleMu.Unlock()
	if inst == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), inst.stopWait)
	defer cancel()

	if inst.adminSrv != nil {
		if err := inst.adminSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("admin shutdown failed")
		}
	}
	if err := inst.eng.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("engine stop escalated")
	}
	teardown(inst)

	log.Info().Uint64("handle", uint64(h)).Msg("engine instance freed")
}

// Publish hands one event to the engine. Ownership of arr transfers on
// entry: every return except CodeNullPointer means arr has been
// released, including failed conversions and a full queue. On
// CodeNullPointer the arguments were rejected before anything ran and
// the caller keeps ownership.
func Publish(h Handle, arr *array.Struct, schema *arrow.Schema, sourceID uint32, seqNo uint64) (code Code) {
	if h == 0 || arr == nil || schema == nil {
		return CodeNullPointer
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("fault caught in publish")
			code = CodeFault
		}
	}()

	inst := lookup(h)
	if inst == nil {
		// A freed handle is rejected the same way a zero one is.
		return CodeNullPointer
	}

	rec, err := event.FromStruct(arr, schema)
	arr.Release()
	if err != nil {
		return CodeFormatError
	}

	evt := event.New(sourceID, seqNo, rec)
	if err := inst.eng.Publish(evt); err != nil {
		evt.Release()
		return CodeBufferFull
	}
	return CodeOK
}

// LoadPlugin validates, inspects and registers a wasm filter. All load
// failures report CodeBufferFull, matching the embedding surface's
// historical numbering.
func LoadPlugin(h Handle, module []byte) (code Code) {
	if h == 0 || module == nil {
		return CodeNullPointer
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("fault caught in load_plugin")
			code = CodeFault
		}
	}()

	inst := lookup(h)
	if inst == nil {
		return CodeNullPointer
	}

	detections := inst.inspector.Analyze(module)
	for _, d := range detections {
		inst.audit.LogEvent(&storage.SecurityEvent{
			Type:     d.Pattern,
			Severity: d.Severity,
			Detail:   d.Detail,
		})
	}

	p, err := inst.eng.LoadPlugin(context.Background(), module)
	if err != nil {
		inst.audit.LogLoad(&storage.PluginLoad{
			SizeBytes:  len(module),
			Status:     "failed",
			Detections: len(detections),
			Detail:     err.Error(),
			CreatedAt:  time.Now(),
		})
		return CodeBufferFull
	}

	inst.audit.LogLoad(&storage.PluginLoad{
		ID:         p.ID.String(),
		Hash:       p.Hash,
		Version:    p.Version,
		SizeBytes:  len(module),
		Status:     "loaded",
		Detections: len(detections),
		CreatedAt:  p.LoadedAt,
	})
	return CodeOK
}

// Stats is the point-in-time engine view exposed to embedders.
type Stats struct {
	BufferLen       int    `json:"buffer_len"`
	BufferCap       int    `json:"buffer_cap"`
	PluginCount     int    `json:"plugin_count"`
	EventsPublished uint64 `json:"events_published"`
	EventsProcessed uint64 `json:"events_processed"`
	EventsAllowed   uint64 `json:"events_allowed"`
	EventsDropped   uint64 `json:"events_dropped"`
	PluginFaults    uint64 `json:"plugin_faults"`
	HostCalls       uint64 `json:"host_calls"`
}

// GetStats reports engine counters, false for an unknown handle.
func GetStats(h Handle) (Stats, bool) {
	inst := lookup(h)
	if inst == nil {
		return Stats{}, false
	}
	st := inst.eng.Stats()
	return Stats{
		BufferLen:       st.QueueLen,
		BufferCap:       st.QueueCap,
		PluginCount:     st.PluginCount,
		EventsPublished: st.EventsPublished,
		EventsProcessed: st.EventsProcessed,
		EventsAllowed:   st.EventsAllowed,
		EventsDropped:   st.EventsDropped,
		PluginFaults:    st.PluginFaults,
		HostCalls:       st.HostCalls,
	}, true
}

// AdminAddr reports the bound administration address for h, empty when
// the admin server is disabled or the handle is unknown.
func AdminAddr(h Handle) string {
	inst := lookup(h)
	if inst == nil || inst.adminSrv == nil {
		return ""
	}
	return inst.adminSrv.Addr()
}
