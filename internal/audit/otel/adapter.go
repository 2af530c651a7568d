package otel

import (
	"context"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"opensase/access-plane/internal/audit"
	"opensase/access-plane/internal/audit/domain"
)

// NewEmitter returns an Emitter that sends audit events as OTel log records via
// the given LoggerProvider. If provider is nil, returns a no-op emitter.
func NewEmitter(provider *sdklog.LoggerProvider) audit.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("accessplane.audit")}
}

// NewEmitterWithLogger returns an Emitter over the given logger. Used by tests
// to capture emitted records.
func NewEmitterWithLogger(logger logEmitter) audit.Emitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

// logEmitter is the subset of otellog.Logger the adapter uses.
type logEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

type otelEmitter struct {
	logger logEmitter
}

// Emit converts the audit event to an OTel log record and emits it. Best-effort.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	if len(event.Reasons) > 0 {
		rec.SetBody(otellog.StringValue(strings.Join(event.Reasons, "; ")))
	}
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.Type != "" {
		rec.AddAttributes(otellog.String("event_type", string(event.Type)))
	}
	if event.Actor != "" {
		rec.AddAttributes(otellog.String("actor", event.Actor))
	}
	if event.DeviceID != "" {
		rec.AddAttributes(otellog.String("device_id", event.DeviceID))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.ResourceID != "" {
		rec.AddAttributes(otellog.String("resource_id", event.ResourceID))
	}
	if event.Decision != "" {
		rec.AddAttributes(otellog.String("decision", event.Decision))
	}
	rec.AddAttributes(otellog.Int64("latency_ms", event.LatencyMS))
	for k, v := range event.Metadata {
		rec.AddAttributes(otellog.String("meta."+k, v))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
