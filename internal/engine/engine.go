// Package engine owns the bounded queue, the plugin registry and the
// dispatch loop that pushes every queued event through the plugin
// chain.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/sluiceio/sluice/internal/event"
	"github.com/sluiceio/sluice/internal/hostcall"
	"github.com/sluiceio/sluice/internal/monitor"
	"github.com/sluiceio/sluice/internal/plugin"
	"github.com/sluiceio/sluice/internal/queue"
	"github.com/sluiceio/sluice/internal/sandbox"
)

const (
	// defaultIdlePark bounds the busy-wait when the queue is empty.
	defaultIdlePark = 10 * time.Microsecond

	defaultQueueCapacity = 1024
)

// Config carries engine construction parameters. Zero values fall
// back to defaults; Metrics, Tracer and FaultHook are optional.
type Config struct {
	QueueCapacity int
	IdlePark      time.Duration
	Limits        sandbox.Limits
	Metrics       *monitor.Metrics
	Tracer        *monitor.Tracer

	// FaultHook receives each plugin fault after it is counted and
	// logged. It runs on the consumer goroutine; keep it cheap.
	FaultHook func(pluginID string, hdr event.Header, reason string)
}

// Engine runs one consumer goroutine over a shared queue. Producers
// publish from any goroutine; plugins execute only on the consumer.
type Engine struct {
	queue     *queue.Queue
	registry  *plugin.Registry
	env       *hostcall.Env
	limits    sandbox.Limits
	park      time.Duration
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer
	faultHook func(pluginID string, hdr event.Header, reason string)

	// running is the cooperative shutdown flag, observed once per loop
	// iteration. loopCtx is the escalation path: cancelling it aborts
	// an in-flight guest execution.
	running   atomic.Bool
	started   atomic.Bool
	done      chan struct{}
	loopCtx   context.Context
	loopStop  context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once

	eventsPublished atomic.Uint64
	eventsProcessed atomic.Uint64
	eventsAllowed   atomic.Uint64
	eventsDropped   atomic.Uint64
	pluginFaults    atomic.Uint64
}

// New builds a stopped engine. Call Start to launch the dispatch loop.
func New(cfg Config) (*Engine, error) {
	capacity := cfg.QueueCapacity
	if capacity == 0 {
		capacity = defaultQueueCapacity
	}
	q, err := queue.New(capacity)
	if err != nil {
		return nil, err
	}

	limits := cfg.Limits
	if limits == (sandbox.Limits{}) {
		limits = sandbox.DefaultLimits()
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	park := cfg.IdlePark
	if park <= 0 {
		park = defaultIdlePark
	}

	loopCtx, loopStop := context.WithCancel(context.Background())
	e := &Engine{
		queue:     q,
		registry:  plugin.NewRegistry(),
		env:       hostcall.NewEnv(),
		limits:    limits,
		park:      park,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		faultHook: cfg.FaultHook,
		done:      make(chan struct{}),
		loopCtx:   loopCtx,
		loopStop:  loopStop,
	}
	if e.metrics != nil {
		e.metrics.ObserveEngine(q.Len, q.Cap(), e.env.TotalCalls, e.registry.Len)
	}
	return e, nil
}

// Start launches the dispatch loop. Subsequent calls are no-ops.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.running.Store(true)
		e.started.Store(true)
		go e.run()
	})
}

// Publish offers an event to the queue without blocking. On a full
// queue the caller keeps ownership of the event.
func (e *Engine) Publish(evt *event.Event) error {
	if err := e.queue.Push(evt); err != nil {
		if e.metrics != nil {
			e.metrics.RecordPublish(false)
		}
		return err
	}
	e.eventsPublished.Add(1)
	if e.metrics != nil {
		e.metrics.RecordPublish(true)
	}
	return nil
}

// LoadPlugin compiles, initializes and registers a plugin. The plugin
// takes effect for events dispatched after registration; events
// already mid-chain keep the registry snapshot they started with.
func (e *Engine) LoadPlugin(ctx context.Context, code []byte) (*plugin.Plugin, error) {
	p, err := plugin.Load(ctx, code, e.limits, e.env)
	if err != nil {
		if e.metrics != nil {
			status := "failed"
			if errors.Is(err, sandbox.ErrInvalidModule) {
				status = "rejected"
			}
			e.metrics.RecordLoad(status, len(code))
		}
		return nil, err
	}
	e.registry.Add(p)
	if e.metrics != nil {
		e.metrics.RecordLoad("ok", len(code))
	}
	return p, nil
}

// Plugins returns the current registry snapshot in registration order.
func (e *Engine) Plugins() []*plugin.Plugin {
	return e.registry.Snapshot()
}

// Stop clears the run flag and waits for the loop to finish its
// current iteration. If ctx expires first, Stop escalates: the loop
// context is cancelled, aborting any in-flight guest execution, and
// the ctx error is returned once the loop has exited. Queued events
// are released either way.
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() {
		e.running.Store(false)
		if e.started.Load() {
			select {
			case <-e.done:
			case <-ctx.Done():
				e.loopStop()
				<-e.done
				err = ctx.Err()
			}
		}
		e.loopStop()
		if n := e.queue.Drain(); n > 0 {
			log.Info().Int("events", n).Msg("released queued events on shutdown")
		}
		e.registry.CloseAll(context.Background())
	})
	return err
}

// Stats is a point-in-time view for the admin surface.
type Stats struct {
	QueueLen        int    `json:"queue_len"`
	QueueCap        int    `json:"queue_cap"`
	PluginCount     int    `json:"plugin_count"`
	EventsPublished uint64 `json:"events_published"`
	EventsProcessed uint64 `json:"events_processed"`
	EventsAllowed   uint64 `json:"events_allowed"`
	EventsDropped   uint64 `json:"events_dropped"`
	PluginFaults    uint64 `json:"plugin_faults"`
	HostCalls       uint64 `json:"host_calls"`
	Running         bool   `json:"running"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		QueueLen:        e.queue.Len(),
		QueueCap:        e.queue.Cap(),
		PluginCount:     e.registry.Len(),
		EventsPublished: e.eventsPublished.Load(),
		EventsProcessed: e.eventsProcessed.Load(),
		EventsAllowed:   e.eventsAllowed.Load(),
		EventsDropped:   e.eventsDropped.Load(),
		PluginFaults:    e.pluginFaults.Load(),
		HostCalls:       e.env.TotalCalls(),
		Running:         e.running.Load(),
	}
}

// run is the consumer loop: pop one event at a time, park briefly when
// idle, observe the shutdown flag between iterations.
func (e *Engine) run() {
	defer close(e.done)
	log.Info().
		Int("queue_cap", e.queue.Cap()).
		Dur("idle_park", e.park).
		Msg("dispatch loop started")

	for e.running.Load() {
		evt, ok := e.queue.Pop()
		if !ok {
			time.Sleep(e.park)
			continue
		}
		e.process(evt)
	}

	log.Info().
		Uint64("events_processed", e.eventsProcessed.Load()).
		Uint64("events_dropped", e.eventsDropped.Load()).
		Msg("dispatch loop stopped")
}

// process runs one event through every plugin in registration order.
// A faulting plugin is logged and skipped, never deciding the event
// on its own; only an explicit block drops it. All plugins see every
// event even after a block. The event is released on every path.
func (e *Engine) process(evt *event.Event) {
	defer evt.Release()

	ctx := e.loopCtx
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartSpan(ctx, "engine.process",
			monitor.AttrSourceID.Int64(int64(evt.SourceID)),
			monitor.AttrSeqNo.Int64(int64(evt.SeqNo)))
		defer span.End()
	}

	start := time.Now()
	allowed := true
	for _, p := range e.registry.Snapshot() {
		ok, err := p.OnEvent(ctx, evt)
		if err != nil {
			reason := faultReason(err)
			e.pluginFaults.Add(1)
			if e.metrics != nil {
				e.metrics.RecordFault(reason)
			}
			log.Error().Err(err).
				Str("plugin_id", p.ID.String()).
				Uint32("source_id", evt.SourceID).
				Uint64("seq_no", evt.SeqNo).
				Msg("plugin execution error")
			if e.faultHook != nil {
				e.faultHook(p.ID.String(), evt.Header, reason)
			}
			continue
		}
		if !ok {
			allowed = false
		}
	}

	e.eventsProcessed.Add(1)
	if allowed {
		e.eventsAllowed.Add(1)
	} else {
		e.eventsDropped.Add(1)
	}
	if e.metrics != nil {
		e.metrics.RecordEvent(allowed, time.Since(start).Seconds())
	}
	if span != nil {
		decision := "allowed"
		if !allowed {
			decision = "dropped"
		}
		span.SetAttributes(monitor.AttrDecision.String(decision))
	}
}

// faultReason classifies a plugin error for the fault counter.
func faultReason(err error) string {
	switch {
	case sandbox.IsTimeout(err):
		return "timeout"
	case sandbox.IsQuotaExceeded(err):
		return "quota"
	default:
		return "execution"
	}
}
