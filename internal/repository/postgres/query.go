package postgresrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type QueryRepo struct {
	store *Store
}

// ListBookings returns one page of bookings matching q and the total match
// count.
//
// The count and the page are read inside one REPEATABLE READ, READ ONLY
// transaction so both observe the same snapshot. Rows are ordered by
// (created_at DESC, id DESC), a total order, so pages never overlap.
func (r *QueryRepo) ListBookings(ctx context.Context, q domain.ListQuery) ([]domain.Booking, int, error) {
	const op = "postgresrepo.QueryRepo.ListBookings"

	where, args := buildListFilter(q.Filter)

	var (
		total int
		out   []domain.Booking
	)

	err := r.store.RunTx(ctx, &pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(ctx context.Context, tx DB) error {
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM bookings b`+where,
			args...,
		).Scan(&total); err != nil {
			return err
		}

		out = []domain.Booking{}
		if total == 0 || q.Offset() >= total {
			return nil
		}

		pageArgs := append(append([]any{}, args...), q.PageSize, q.Offset())
		rows, err := tx.Query(ctx,
			fmt.Sprintf(`SELECT %s FROM bookings b%s
			 ORDER BY b.created_at DESC, b.id DESC
			 LIMIT $%d OFFSET $%d`, bookingColumns, where, len(args)+1, len(args)+2),
			pageArgs...,
		)
		if err != nil {
			return err
		}

		defer rows.Close()

		for rows.Next() {
			b, err := scanBooking(rows)
			if err != nil {
				return err
			}
			out = append(out, *b)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		ids := make([]uuid.UUID, len(out))
		for i := range out {
			ids[i] = out[i].ID
		}

		staff, err := loadStaff(ctx, tx, ids)
		if err != nil {
			return err
		}
		for i := range out {
			out[i].AssignedStaff = staff[out[i].ID]
		}

		return nil
	})
	if err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	return out, total, nil
}

// buildListFilter renders f as a WHERE clause with positional arguments.
func buildListFilter(f domain.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("b.status = $%d", len(args)))
	}

	switch {
	case f.Staff.Unassigned:
		conds = append(conds, "NOT EXISTS (SELECT 1 FROM booking_staff bs WHERE bs.booking_id = b.id)")
	case f.Staff.StaffID != nil:
		args = append(args, *f.Staff.StaffID)
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM booking_staff bs WHERE bs.booking_id = b.id AND bs.staff_id = $%d)",
			len(args),
		))
	}

	if term := strings.TrimSpace(f.SearchTerm); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(b.customer_name ILIKE $%[1]d OR b.booking_code ILIKE $%[1]d OR b.service_name ILIKE $%[1]d)",
			n,
		))
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
