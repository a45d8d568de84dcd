package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// OTelHandler mirrors every record to the OTel log pipeline after the
// wrapped console handler has written it. Handler-level attributes from
// With(...) are carried into the export, and group names prefix the keys.
type OTelHandler struct {
	handler slog.Handler
	logger  log.Logger
	attrs   []log.KeyValue
	prefix  string
}

func NewOTelHandler(handler slog.Handler) *OTelHandler {
	return &OTelHandler{
		handler: handler,
		logger:  global.GetLoggerProvider().Logger("battlescope"),
	}
}

func (h *OTelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *OTelHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.handler.Handle(ctx, record); err != nil {
		return err
	}

	logRecord := log.Record{}
	logRecord.SetTimestamp(record.Time)
	logRecord.SetBody(log.StringValue(record.Message))
	logRecord.SetSeverity(severity(record.Level))

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		logRecord.AddAttributes(
			log.String("trace_id", spanCtx.TraceID().String()),
			log.String("span_id", spanCtx.SpanID().String()),
		)
	}

	logRecord.AddAttributes(h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		logRecord.AddAttributes(h.convert(attr))
		return true
	})

	h.logger.Emit(ctx, logRecord)
	return nil
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]log.KeyValue, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, attr := range attrs {
		merged = append(merged, h.convert(attr))
	}

	return &OTelHandler{
		handler: h.handler.WithAttrs(attrs),
		logger:  h.logger,
		attrs:   merged,
		prefix:  h.prefix,
	}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	prefix := h.prefix
	if name != "" {
		prefix += name + "."
	}

	return &OTelHandler{
		handler: h.handler.WithGroup(name),
		logger:  h.logger,
		attrs:   h.attrs,
		prefix:  prefix,
	}
}

// convert maps one slog attribute to an OTel attribute, keeping scalar
// kinds instead of stringifying everything.
func (h *OTelHandler) convert(attr slog.Attr) log.KeyValue {
	key := h.prefix + attr.Key
	value := attr.Value.Resolve()

	switch value.Kind() {
	case slog.KindBool:
		return log.Bool(key, value.Bool())
	case slog.KindInt64:
		return log.Int64(key, value.Int64())
	case slog.KindUint64:
		return log.Int64(key, int64(value.Uint64()))
	case slog.KindFloat64:
		return log.Float64(key, value.Float64())
	default:
		return log.String(key, value.String())
	}
}

func severity(level slog.Level) log.Severity {
	switch {
	case level >= slog.LevelError:
		return log.SeverityError
	case level >= slog.LevelWarn:
		return log.SeverityWarn
	case level >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}
