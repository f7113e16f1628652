package broadcast

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence-service/domain"
)

const (
	tracerName        = "presence-service/broadcast"
	publishSpanName   = "broadcast.publish"
	publishLogMessage = "broadcast.publish.metrics"
)

type publishMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	eventID    string
	kind       domain.EventKind
	groups     int
	delivered  int
	errorStage string
}

func newPublishMetrics(ctx context.Context, logger *log.Logger, ev domain.Event) (*publishMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, publishSpanName, trace.WithSpanKind(trace.SpanKindProducer))
	return &publishMetrics{
		logger:  logger,
		span:    span,
		start:   time.Now(),
		eventID: ev.ID,
		kind:    ev.Kind,
	}, ctx
}

func (m *publishMetrics) SetGroups(n int) { m.groups = n }

func (m *publishMetrics) SetDelivered(n int) { m.delivered = n }

func (m *publishMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *publishMetrics) Log(err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))

	attrs := []attribute.KeyValue{
		attribute.String("hotel.event.id", m.eventID),
		attribute.String("hotel.event.kind", string(m.kind)),
		attribute.Int("hotel.event.groups", m.groups),
		attribute.Int("hotel.event.delivered", m.delivered),
		attribute.Float64("hotel.event.total_ms", total),
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("hotel.event.error_stage", m.errorStage))
	}
	if m.span != nil {
		m.span.SetAttributes(attrs...)
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event_id":  m.eventID,
		"kind":      m.kind,
		"groups":    m.groups,
		"delivered": m.delivered,
		"total_ms":  total,
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn(publishLogMessage)
		return
	}
	entry.Info(publishLogMessage)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
