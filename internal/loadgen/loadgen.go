// Package loadgen publishes synthetic events at a steady rate, for
// soaking a running engine without an upstream producer.
package loadgen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
)

// Target is the publish surface the generator drives. Publish takes
// ownership of arr on every path.
type Target interface {
	Publish(arr *array.Struct, schema *arrow.Schema, sourceID uint32, seqNo uint64) error
}

// Config sizes the synthetic stream.
type Config struct {
	Sources      int     // distinct source IDs, round-robin
	Rate         float64 // events per second across all sources
	RowsPerBatch int
}

const tickInterval = 10 * time.Millisecond

// Generator drives a Target with synthetic events. Source IDs rotate
// round-robin and each source carries its own sequence numbers.
type Generator struct {
	target Target
	cfg    Config
	mem    memory.Allocator
	schema *arrow.Schema

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	published atomic.Uint64
	rejected  atomic.Uint64
}

func New(target Target, cfg Config) (*Generator, error) {
	if target == nil {
		return nil, fmt.Errorf("loadgen target is nil")
	}
	if cfg.Sources < 1 {
		return nil, fmt.Errorf("loadgen sources must be >= 1, got %d", cfg.Sources)
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("loadgen rate must be positive, got %g", cfg.Rate)
	}
	if cfg.RowsPerBatch < 1 {
		return nil, fmt.Errorf("loadgen rows_per_batch must be >= 1, got %d", cfg.RowsPerBatch)
	}

	return &Generator{
		target: target,
		cfg:    cfg,
		mem:    memory.NewGoAllocator(),
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "ts", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "value", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		}, nil),
	}, nil
}

// Start launches the publishing goroutine.
func (g *Generator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(1)
	go g.run(ctx)

	log.Info().
		Int("sources", g.cfg.Sources).
		Float64("events_per_second", g.cfg.Rate).
		Int("rows_per_batch", g.cfg.RowsPerBatch).
		Msg("load generator started")
}

// Stop halts publishing and waits for the goroutine to exit. Safe to
// call more than once.
func (g *Generator) Stop() {
	g.stopOnce.Do(func() {
		if g.cancel != nil {
			g.cancel()
		}
		g.wg.Wait()
		log.Info().
			Uint64("published", g.published.Load()).
			Uint64("rejected", g.rejected.Load()).
			Msg("load generator stopped")
	})
}

// Published reports events accepted by the target so far.
func (g *Generator) Published() uint64 { return g.published.Load() }

// Rejected reports events the target refused so far.
func (g *Generator) Rejected() uint64 { return g.rejected.Load() }

// run paces publishing with a credit accumulator so fractional and
// sub-tick rates come out right on average.
func (g *Generator) run(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	step := g.cfg.Rate * tickInterval.Seconds()
	seqs := make([]uint64, g.cfg.Sources)
	var next int
	var credit float64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			credit += step
			for credit >= 1 {
				credit--
				src := next % g.cfg.Sources
				next++
				seqs[src]++
				g.publishOne(uint32(src), seqs[src])
			}
		}
	}
}

func (g *Generator) publishOne(sourceID uint32, seqNo uint64) {
	st := g.buildBatch()
	if st == nil {
		return
	}
	if err := g.target.Publish(st, g.schema, sourceID, seqNo); err != nil {
		g.rejected.Add(1)
		return
	}
	g.published.Add(1)
}

func (g *Generator) buildBatch() *array.Struct {
	tb := array.NewInt64Builder(g.mem)
	defer tb.Release()
	vb := array.NewInt64Builder(g.mem)
	defer vb.Release()

	now := time.Now().UnixNano()
	for i := 0; i < g.cfg.RowsPerBatch; i++ {
		tb.Append(now)
		vb.Append(int64(i))
	}

	ts := tb.NewInt64Array()
	defer ts.Release()
	vals := vb.NewInt64Array()
	defer vals.Release()

	st, err := array.NewStructArray([]arrow.Array{ts, vals}, []string{"ts", "value"})
	if err != nil {
		log.Error().Err(err).Msg("synthetic batch build failed")
		return nil
	}
	return st
}
