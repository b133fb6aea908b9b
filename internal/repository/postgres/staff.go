package postgresrepo

import (
	"context"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RosterRepo reads the staff table. The engine never writes it.
type RosterRepo struct {
	pool *pgxpool.Pool
}

var _ repository.Roster = (*RosterRepo)(nil)

func (r *RosterRepo) StaffByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Staff, error) {
	const op = "postgresrepo.RosterRepo.StaffByIDs"

	out := make(map[uuid.UUID]domain.Staff, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, status FROM staff WHERE id = ANY($1::text[]::uuid[])`,
		uuidStrings(ids),
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	for rows.Next() {
		var (
			s      domain.Staff
			status string
		)
		if err := rows.Scan(&s.ID, &s.Name, &status); err != nil {
			return nil, wrapDBErr(op, err)
		}
		s.Status = domain.StaffStatus(status)
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
