package postgresrepo

import (
	"context"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `b.id, b.booking_code, b.customer_id, b.customer_name, b.service_id, b.service_name,
	b.scheduled_date, to_char(b.scheduled_start_time, 'HH24:MI'), to_char(b.scheduled_end_time, 'HH24:MI'),
	b.status, b.payment_status, b.payment_method,
	b.subtotal, b.discount, b.tax, b.total_price,
	b.cancel_reason, b.cancelled_by, b.cancelled_at, b.completed_at,
	b.version, b.created_at, b.updated_at`

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Insert stores a new booking and its initial staff set.
//
// Returns repository.ErrConflict when the id or booking code is taken.
func (r *BookingRepo) Insert(ctx context.Context, b *domain.Booking) error {
	const op = "postgresrepo.BookingRepo.Insert"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO bookings (
			id, booking_code, customer_id, customer_name, service_id, service_name,
			scheduled_date, scheduled_start_time, scheduled_end_time,
			status, payment_status, payment_method,
			subtotal, discount, tax, total_price,
			cancel_reason, cancelled_by, cancelled_at, completed_at,
			version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
			$7::date, $8::text::time, $9::text::time,
			$10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23)`,
		b.ID, b.BookingCode, b.CustomerID, b.CustomerName, b.ServiceID, b.ServiceName,
		b.ScheduledDate, b.ScheduledStartTime, b.ScheduledEndTime,
		string(b.Status), string(b.PaymentStatus), methodArg(b.PaymentMethod),
		b.Subtotal, b.Discount, b.Tax, b.TotalPrice,
		b.CancelReason, b.CancelledBy, b.CancelledAt, b.CompletedAt,
		b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if err := r.replaceStaff(ctx, b); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// Get loads a booking with its staff. With forUpdate the row stays locked
// until the surrounding transaction ends.
//
// Returns repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.Get"

	db := r.handle()

	sql := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	b, err := scanBooking(db.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	staff, err := loadStaff(ctx, db, []uuid.UUID{id})
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	b.AssignedStaff = staff[id]

	return b, nil
}

// Save writes every mutable column of b and replaces its staff set.
func (r *BookingRepo) Save(ctx context.Context, b *domain.Booking) error {
	const op = "postgresrepo.BookingRepo.Save"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings SET
			scheduled_date = $2::date,
			scheduled_start_time = $3::text::time,
			scheduled_end_time = $4::text::time,
			status = $5,
			payment_status = $6,
			payment_method = $7,
			subtotal = $8,
			discount = $9,
			tax = $10,
			total_price = $11,
			cancel_reason = $12,
			cancelled_by = $13,
			cancelled_at = $14,
			completed_at = $15,
			version = $16,
			updated_at = $17
		 WHERE id = $1`,
		b.ID,
		b.ScheduledDate, b.ScheduledStartTime, b.ScheduledEndTime,
		string(b.Status), string(b.PaymentStatus), methodArg(b.PaymentMethod),
		b.Subtotal, b.Discount, b.Tax, b.TotalPrice,
		b.CancelReason, b.CancelledBy, b.CancelledAt, b.CompletedAt,
		b.Version, b.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, pgx.ErrNoRows)
	}

	if err := r.replaceStaff(ctx, b); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// replaceStaff makes booking_staff hold exactly b.AssignedStaff, keeping
// slice order in position.
func (r *BookingRepo) replaceStaff(ctx context.Context, b *domain.Booking) error {
	db := r.handle()

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM booking_staff WHERE booking_id = $1`, b.ID)
	for i, a := range b.AssignedStaff {
		batch.Queue(
			`INSERT INTO booking_staff (booking_id, staff_id, position, assigned_at, assigned_by, notes)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			b.ID, a.StaffID, i, a.AssignedAt, a.AssignedBy, a.Notes,
		)
	}

	br := db.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}

	return br.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b             domain.Booking
		status        string
		paymentStatus string
		method        *string
	)

	if err := row.Scan(
		&b.ID, &b.BookingCode, &b.CustomerID, &b.CustomerName, &b.ServiceID, &b.ServiceName,
		&b.ScheduledDate, &b.ScheduledStartTime, &b.ScheduledEndTime,
		&status, &paymentStatus, &method,
		&b.Subtotal, &b.Discount, &b.Tax, &b.TotalPrice,
		&b.CancelReason, &b.CancelledBy, &b.CancelledAt, &b.CompletedAt,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if method != nil {
		m := domain.PaymentMethod(*method)
		b.PaymentMethod = &m
	}
	b.AssignedStaff = []domain.StaffAssignment{}

	return &b, nil
}

// loadStaff returns the staff sets of the given bookings keyed by booking id.
func loadStaff(ctx context.Context, db DB, ids []uuid.UUID) (map[uuid.UUID][]domain.StaffAssignment, error) {
	out := make(map[uuid.UUID][]domain.StaffAssignment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := db.Query(ctx,
		`SELECT booking_id, staff_id, assigned_at, assigned_by, notes
		 FROM booking_staff
		 WHERE booking_id = ANY($1::text[]::uuid[])
		 ORDER BY booking_id, position`,
		uuidStrings(ids),
	)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var (
			bookingID uuid.UUID
			a         domain.StaffAssignment
		)
		if err := rows.Scan(&bookingID, &a.StaffID, &a.AssignedAt, &a.AssignedBy, &a.Notes); err != nil {
			return nil, err
		}
		out[bookingID] = append(out[bookingID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if out[id] == nil {
			out[id] = []domain.StaffAssignment{}
		}
	}

	return out, nil
}

func methodArg(m *domain.PaymentMethod) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
