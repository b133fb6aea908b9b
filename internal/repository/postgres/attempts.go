package postgresrepo

import (
	"context"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Attempts are read joined with their optional result row; a missing result
// means the attempt is still pending.
const attemptSelect = `SELECT a.id, a.booking_id, a.method, a.gateway_txn_ref, a.redirect_url,
	a.amount, a.created_by, a.created_at, a.expires_at,
	r.response_code, r.result_status, r.resolved_at
	FROM payment_attempts a
	LEFT JOIN payment_attempt_results r ON r.attempt_id = a.id`

type AttemptRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *AttemptRepo) With(db DB) *AttemptRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *AttemptRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Get retrieves a payment attempt by its ID.
//
// Returns:
//   - *domain.PaymentAttempt: the attempt with its outcome applied.
//   - error: repository.ErrNotFound if the attempt is not found.
func (r *AttemptRepo) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentAttempt, error) {
	const op = "postgresrepo.AttemptRepo.Get"

	db := r.handle()

	a, err := scanAttempt(db.QueryRow(ctx, attemptSelect+` WHERE a.id = $1`, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return a, nil
}

// ListByBooking lists the attempts of a booking, oldest first.
func (r *AttemptRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.PaymentAttempt, error) {
	const op = "postgresrepo.AttemptRepo.ListByBooking"

	db := r.handle()

	rows, err := db.Query(ctx,
		attemptSelect+` WHERE a.booking_id = $1 ORDER BY a.created_at, a.id`,
		bookingID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := []domain.PaymentAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *AttemptRepo) Insert(ctx context.Context, a domain.PaymentAttempt) error {
	const op = "postgresrepo.AttemptRepo.Insert"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO payment_attempts (
			id, booking_id, method, gateway_txn_ref, redirect_url,
			amount, created_by, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.BookingID, string(a.Method), a.GatewayTxnRef, a.RedirectURL,
		a.Amount, a.CreatedBy, a.CreatedAt, a.ExpiresAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// InsertResult appends the outcome of an attempt.
//
// Returns repository.ErrConflict if the attempt already has one.
func (r *AttemptRepo) InsertResult(ctx context.Context, o domain.AttemptOutcome) error {
	const op = "postgresrepo.AttemptRepo.InsertResult"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO payment_attempt_results (attempt_id, response_code, result_status, resolved_at)
		 VALUES ($1, $2, $3, $4)`,
		o.AttemptID, o.ResponseCode, string(o.ResultStatus), o.ResolvedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func scanAttempt(row rowScanner) (*domain.PaymentAttempt, error) {
	var (
		a            domain.PaymentAttempt
		method       string
		responseCode *string
		result       *string
		resolvedAt   *time.Time
	)

	if err := row.Scan(
		&a.ID, &a.BookingID, &method, &a.GatewayTxnRef, &a.RedirectURL,
		&a.Amount, &a.CreatedBy, &a.CreatedAt, &a.ExpiresAt,
		&responseCode, &result, &resolvedAt,
	); err != nil {
		return nil, err
	}

	a.Method = domain.PaymentMethod(method)
	a.ResultStatus = domain.ResultPending
	if result != nil {
		a.ResultStatus = domain.AttemptResult(*result)
		a.ResolvedAt = resolvedAt
		if responseCode != nil {
			a.ResponseCode = *responseCode
		}
	}

	return &a, nil
}
