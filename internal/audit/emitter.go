// Package audit emits best-effort audit events to the configured sinks
// (Kafka stream, OTel logs). Emission never affects the outcome of the
// operation being audited.
package audit

import (
	"context"
	"log"
	"time"

	"opensase/access-plane/internal/audit/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync
// and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before
// shutting down OTel providers, so in-flight async emits have time to complete.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Emitter emits audit events. Best-effort; callers log and ignore errors.
type Emitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not
// blocked. emitter and event may be nil; EmitAsync then returns immediately.
// The goroutine uses context.Background() with emitTimeout so request
// cancellation does not abort an in-flight emit.
func EmitAsync(emitter Emitter, event *domain.Event) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("audit: async emit failed: %v", err)
		}
	}()
}

// Multi fans one event out to several emitters. A failing sink does not stop the
// others; the first error is returned for logging.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, event *domain.Event) error {
	var firstErr error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
