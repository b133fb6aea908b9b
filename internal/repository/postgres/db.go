package postgresrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxTxAttempts = 3

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// runTxRetry runs RunTx again when postgres aborts it with a serialization
// failure or deadlock.
func (s *Store) runTxRetry(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	var err error
	for range maxTxAttempts {
		err = s.RunTx(ctx, opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}

func (s *Store) Bookings() *BookingRepo { return &BookingRepo{pool: s.pool} }

func (s *Store) Attempts() *AttemptRepo { return &AttemptRepo{pool: s.pool} }

func (s *Store) Query() *QueryRepo { return &QueryRepo{store: s} }

func (s *Store) Roster() *RosterRepo { return &RosterRepo{pool: s.pool} }

func (s *Store) Outbox() repository.Outbox { return &OutboxRepo{pool: s.pool} }

// CreateBooking inserts the booking, its staff and the creation event in one
// transaction.
func (s *Store) CreateBooking(ctx context.Context, b *domain.Booking, ev domain.Event) error {
	const op = "postgresrepo.Store.CreateBooking"

	err := s.RunTx(ctx, &pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx DB) error {
		if err := s.Bookings().With(tx).Insert(ctx, b); err != nil {
			return err
		}
		return (&OutboxRepo{db: tx}).Insert(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.Bookings().Get(ctx, id, false)
}

func (s *Store) ListAttempts(ctx context.Context, bookingID uuid.UUID) ([]domain.PaymentAttempt, error) {
	const op = "postgresrepo.Store.ListAttempts"

	var out []domain.PaymentAttempt
	err := s.RunTx(ctx, &pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx DB) error {
		if _, err := s.Bookings().With(tx).Get(ctx, bookingID, false); err != nil {
			return err
		}

		var err error
		out, err = s.Attempts().With(tx).ListByBooking(ctx, bookingID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*domain.PaymentAttempt, error) {
	return s.Attempts().Get(ctx, attemptID)
}

func (s *Store) ListBookings(ctx context.Context, q domain.ListQuery) ([]domain.Booking, int, error) {
	return s.Query().ListBookings(ctx, q)
}

// Update locks the booking row with SELECT ... FOR UPDATE for the duration of
// fn, then writes the booking, its staff set, new attempts, outcomes and the
// event in the same transaction.
func (s *Store) Update(
	ctx context.Context,
	id uuid.UUID,
	fn func(m *repository.Mutation) error,
) (*domain.Booking, error) {
	const op = "postgresrepo.Store.Update"

	var out *domain.Booking

	err := s.runTxRetry(ctx, &pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx DB) error {
		out = nil

		bookings := s.Bookings().With(tx)
		attempts := s.Attempts().With(tx)

		current, err := bookings.Get(ctx, id, true)
		if err != nil {
			return err
		}

		history, err := attempts.ListByBooking(ctx, id)
		if err != nil {
			return err
		}

		m := repository.NewMutation(current, history)
		if err := fn(m); err != nil {
			return err
		}

		if !m.Dirty() {
			out = current
			return nil
		}

		if err := bookings.Save(ctx, m.Booking); err != nil {
			return err
		}

		for _, a := range m.Added() {
			if err := attempts.Insert(ctx, a); err != nil {
				return err
			}
		}

		for _, o := range m.Outcomes() {
			if err := attempts.InsertResult(ctx, o); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return repository.ErrAlreadyResolved
				}
				return err
			}
		}

		if err := (&OutboxRepo{db: tx}).Insert(ctx, *m.Event()); err != nil {
			return err
		}

		out = m.Booking.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}
