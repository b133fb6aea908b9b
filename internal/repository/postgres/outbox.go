package postgresrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OutboxRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OutboxRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *OutboxRepo) Insert(ctx context.Context, ev domain.Event) error {
	const op = "postgresrepo.OutboxRepo.Insert"

	payload, err := json.Marshal(ev)
	if err != nil {
		return wrapDBErr(op, err)
	}

	_, err = r.handle().Exec(ctx,
		`INSERT INTO outbox (id, event_type, booking_id, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, string(ev.Type), ev.BookingID, payload, ev.OccurredAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// Pending returns unpublished events in emission order.
func (r *OutboxRepo) Pending(ctx context.Context, limit int) ([]domain.Event, error) {
	const op = "postgresrepo.OutboxRepo.Pending"

	rows, err := r.handle().Query(ctx,
		`SELECT payload FROM outbox
		 WHERE published_at IS NULL
		 ORDER BY occurred_at, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapDBErr(op, err)
		}

		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	const op = "postgresrepo.OutboxRepo.MarkPublished"

	if len(ids) == 0 {
		return nil
	}

	_, err := r.handle().Exec(ctx,
		`UPDATE outbox SET published_at = $2
		 WHERE id = ANY($1::text[]::uuid[]) AND published_at IS NULL`,
		uuidStrings(ids), at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
