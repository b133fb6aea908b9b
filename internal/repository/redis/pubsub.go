package redisrepo

import (
	"context"
	"encoding/json"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Change is the message broadcast on the booking change channel.
type Change struct {
	Type          domain.EventType     `json:"type"`
	EventID       uuid.UUID            `json:"eventId"`
	BookingID     uuid.UUID            `json:"bookingId"`
	BookingCode   string               `json:"bookingCode"`
	Status        domain.BookingStatus `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	TsUnix        int64                `json:"tsUnix"`
}

// ChangeFeed fans booking changes out to every instance over Redis pub/sub.
type ChangeFeed struct {
	rdb     *redis.Client
	channel string
}

func NewChangeFeed(rdb *redis.Client) *ChangeFeed {
	return &ChangeFeed{
		rdb:     rdb,
		channel: ChannelBookingChanges(),
	}
}

func ChangeOf(ev domain.Event) Change {
	return Change{
		Type:          ev.Type,
		EventID:       ev.ID,
		BookingID:     ev.BookingID,
		BookingCode:   ev.Payload.BookingCode,
		Status:        ev.Payload.Status,
		PaymentStatus: ev.Payload.PaymentStatus,
		TsUnix:        ev.OccurredAt.Unix(),
	}
}

func (f *ChangeFeed) Name() string { return "redis" }

// Publish implements the relay publisher contract.
func (f *ChangeFeed) Publish(ctx context.Context, ev domain.Event) error {
	b, err := json.Marshal(ChangeOf(ev))
	if err != nil {
		return err
	}

	return f.rdb.Publish(ctx, f.channel, string(b)).Err()
}

// Subscribe calls handler for every change until ctx is done.
func (f *ChangeFeed) Subscribe(ctx context.Context, handler func(ctx context.Context, c Change)) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var c Change
			if err := json.Unmarshal([]byte(m.Payload), &c); err == nil &&
				c.BookingID != uuid.Nil {
				handler(ctx, c)
			}
		}
	}
}
