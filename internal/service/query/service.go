// Package query serves admin listings and booking reads.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	redisrepo "github.com/cleanhome/bookingd/internal/repository/redis"
	"github.com/google/uuid"
)

type Config struct {
	BookingTTL      time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

type Service struct {
	store repository.Store
	cache *redisrepo.Cache
	cfg   Config
}

// New builds the query service. cache may be nil, in which case every read
// goes to the store.
func New(store repository.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.BookingTTL <= 0 {
		cfg.BookingTTL = 10 * time.Second
	}

	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = domain.DefaultPageSize
	}

	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = domain.MaxPageSize
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

type ListInput struct {
	Page     int
	PageSize int
	Status   string
	// Staff is a staff id or "unassigned".
	Staff  string
	Search string
}

// List returns one page of bookings matching the filters, newest first.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: page is 1-based; a zero page size selects the default and larger
//     sizes are clamped to the maximum.
//
// Returns:
//   - domain.Page: the items of the page with the total match count. A page
//     past the end has no items.
//   - error: domain.ErrInvalidArgument for a bad page, status or staff filter.
func (s *Service) List(ctx context.Context, in ListInput) (domain.Page, error) {
	const op = "service.query.List"

	q, err := s.buildQuery(in)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%s: %w", op, err)
	}

	items, total, err := s.store.ListBookings(ctx, q)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%s: %w", op, err)
	}

	if items == nil {
		items = []domain.Booking{}
	}

	return domain.Page{
		Items:      items,
		TotalCount: total,
		TotalPages: domain.TotalPages(total, q.PageSize),
		Page:       q.Page,
		PageSize:   q.PageSize,
	}, nil
}

func (s *Service) buildQuery(in ListInput) (domain.ListQuery, error) {
	if in.Page == 0 {
		in.Page = 1
	}
	if in.Page < 1 {
		return domain.ListQuery{}, fmt.Errorf("page must be >= 1: %w", domain.ErrInvalidArgument)
	}

	size := in.PageSize
	if size <= 0 {
		size = s.cfg.DefaultPageSize
	}
	if size > s.cfg.MaxPageSize {
		size = s.cfg.MaxPageSize
	}

	var f domain.ListFilter
	if st := strings.TrimSpace(in.Status); st != "" {
		status := domain.BookingStatus(st)
		if !status.IsValid() {
			return domain.ListQuery{}, fmt.Errorf("unknown status %q: %w", st, domain.ErrInvalidArgument)
		}
		f.Status = &status
	}

	staff, err := domain.ParseStaffFilter(in.Staff)
	if err != nil {
		return domain.ListQuery{}, fmt.Errorf("staff filter %q: %w", in.Staff, err)
	}
	f.Staff = staff
	f.SearchTerm = strings.TrimSpace(in.Search)

	return domain.ListQuery{Filter: f, Page: in.Page, PageSize: size}, nil
}

// Get returns a booking, reading through the cache when one is configured.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.query.Get"

	load := func(ctx context.Context) (domain.Booking, error) {
		b, err := s.store.GetBooking(ctx, id)
		if err != nil {
			return domain.Booking{}, repository.BookingErr(err)
		}
		return *b, nil
	}

	var (
		b   domain.Booking
		err error
	)
	if s.cache == nil {
		b, err = load(ctx)
	} else {
		b, err = redisrepo.BookingView(ctx, s.cache, id, redisrepo.ViewBooking, s.cfg.BookingTTL, load)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &b, nil
}

// Attempts lists the payment attempts of a booking, oldest first.
func (s *Service) Attempts(ctx context.Context, bookingID uuid.UUID) ([]domain.PaymentAttempt, error) {
	const op = "service.query.Attempts"

	load := func(ctx context.Context) ([]domain.PaymentAttempt, error) {
		if _, err := s.store.GetBooking(ctx, bookingID); err != nil {
			return nil, repository.BookingErr(err)
		}
		return s.store.ListAttempts(ctx, bookingID)
	}

	var (
		out []domain.PaymentAttempt
		err error
	)
	if s.cache == nil {
		out, err = load(ctx)
	} else {
		out, err = redisrepo.BookingView(ctx, s.cache, bookingID, redisrepo.ViewAttempts, s.cfg.BookingTTL, load)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if out == nil {
		out = []domain.PaymentAttempt{}
	}

	return out, nil
}

// Invalidate retires the cached views of a booking. It is a no-op without a
// cache.
func (s *Service) Invalidate(ctx context.Context, id uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateBooking(ctx, id)
}
