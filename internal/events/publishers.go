package events

import (
	"context"
	"log/slog"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/mq"
)

// LogPublisher writes every event to the log. It is the notification sink
// of last resort when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.log.Info("domain event",
		slog.String("event_id", ev.ID.String()),
		slog.String("type", string(ev.Type)),
		slog.String("booking_id", ev.BookingID.String()),
		slog.String("booking_code", ev.Payload.BookingCode),
		slog.String("actor", ev.Actor),
	)
	return nil
}

// AMQPPublisher routes each event to the topic exchange under its type.
type AMQPPublisher struct {
	p *mq.Publisher
}

func NewAMQPPublisher(p *mq.Publisher) *AMQPPublisher {
	return &AMQPPublisher{p: p}
}

func (a *AMQPPublisher) Name() string { return "rabbitmq" }

func (a *AMQPPublisher) Publish(ctx context.Context, ev domain.Event) error {
	return a.p.PublishJSON(ctx, string(ev.Type), ev.ID.String(), ev.OccurredAt, ev)
}
