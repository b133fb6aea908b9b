// Package events moves committed domain events from the outbox to the
// configured publishers. Delivery is at-least-once; consumers dedupe on the
// event id.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/metrics"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/google/uuid"
)

type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev domain.Event) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

type Relay struct {
	outbox repository.Outbox
	pubs   []Publisher
	clock  clock.Clock
	log    *slog.Logger
	cfg    Config
	wake   chan struct{}
}

func NewRelay(outbox repository.Outbox, clk clock.Clock, log *slog.Logger, cfg Config, pubs ...Publisher) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Relay{
		outbox: outbox,
		pubs:   pubs,
		clock:  clk,
		log:    log,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
	}
}

// Nudge asks the relay to drain now instead of waiting for the next tick.
func (r *Relay) Nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("outbox drain failed", slog.Any("err", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Drain publishes one batch of pending events in order. It stops at the first
// event some publisher rejects so later events are not delivered ahead of it.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	const op = "events.Relay.Drain"

	pending, err := r.outbox.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	metrics.OutboxLag.Set(float64(len(pending)))

	done := make([]uuid.UUID, 0, len(pending))
	for _, ev := range pending {
		if !r.publish(ctx, ev) {
			break
		}
		done = append(done, ev.ID)
	}

	if len(done) > 0 {
		if err := r.outbox.MarkPublished(ctx, done, r.clock.Now()); err != nil {
			return 0, err
		}
	}
	metrics.OutboxLag.Set(float64(len(pending) - len(done)))

	if len(done) < len(pending) {
		r.log.Warn("outbox drain stopped early",
			slog.String("op", op),
			slog.Int("published", len(done)),
			slog.Int("pending", len(pending)),
		)
	}

	return len(done), nil
}

func (r *Relay) publish(ctx context.Context, ev domain.Event) bool {
	ok := true
	for _, p := range r.pubs {
		if err := p.Publish(ctx, ev); err != nil {
			ok = false
			metrics.RecordPublish(p.Name(), "error")
			r.log.Warn("publish event failed",
				slog.String("publisher", p.Name()),
				slog.String("event_id", ev.ID.String()),
				slog.String("type", string(ev.Type)),
				slog.Any("err", err),
			)
			continue
		}
		metrics.RecordPublish(p.Name(), "ok")
	}
	return ok
}
