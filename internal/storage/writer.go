package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditWriter decouples the hot path from the database: records are
// buffered and written by a background goroutine. A full buffer drops
// the record rather than blocking the caller.
type AuditWriter struct {
	db   *DB
	ch   chan any
	wg   sync.WaitGroup
	done chan struct{}
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan any, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// LogLoad queues a plugin load record. Nil-safe on a nil writer.
func (w *AuditWriter) LogLoad(load *PluginLoad) {
	if w == nil {
		return
	}
	select {
	case w.ch <- load:
	default:
		log.Warn().Str("plugin_id", load.ID).Msg("audit buffer full, dropping load record")
	}
}

// LogEvent queues a security event record. Nil-safe on a nil writer.
func (w *AuditWriter) LogEvent(ev *SecurityEvent) {
	if w == nil {
		return
	}
	select {
	case w.ch <- ev:
	default:
		log.Warn().Str("type", ev.Type).Msg("audit buffer full, dropping security event")
	}
}

// Flush stops the writer and drains whatever is buffered, bounded by
// timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.ch:
			w.writeWithRetry(rec)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case rec := <-w.ch:
					w.writeWithRetry(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(rec any) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.writeOne(ctx, rec)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Msg("audit write failed permanently after retries")
		}
	}
}

func (w *AuditWriter) writeOne(ctx context.Context, rec any) error {
	switch r := rec.(type) {
	case *PluginLoad:
		return w.db.LogPluginLoad(ctx, r)
	case *SecurityEvent:
		return w.db.LogSecurityEvent(ctx, r)
	default:
		log.Error().Type("record", rec).Msg("unknown audit record type")
		return nil
	}
}
