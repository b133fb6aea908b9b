package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/config"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/events"
	"github.com/cleanhome/bookingd/internal/gateway"
	"github.com/cleanhome/bookingd/internal/gateway/vnpay"
	"github.com/cleanhome/bookingd/internal/mq"
	"github.com/cleanhome/bookingd/internal/obs"
	"github.com/cleanhome/bookingd/internal/postgres"
	"github.com/cleanhome/bookingd/internal/redis"
	"github.com/cleanhome/bookingd/internal/repository"
	memoryrepo "github.com/cleanhome/bookingd/internal/repository/memory"
	postgresrepo "github.com/cleanhome/bookingd/internal/repository/postgres"
	redisrepo "github.com/cleanhome/bookingd/internal/repository/redis"
	"github.com/cleanhome/bookingd/internal/service"
	"github.com/cleanhome/bookingd/internal/service/lifecycle"
	"github.com/cleanhome/bookingd/internal/service/payment"
	"github.com/cleanhome/bookingd/internal/service/query"
	httpgin "github.com/cleanhome/bookingd/internal/transport/http/gin"
	"github.com/cleanhome/bookingd/internal/uow"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName = "bookingd"
	version     = "1.0.0"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	relay      *events.Relay

	// closers run in reverse order on shutdown.
	closers []func(context.Context) error
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger}

	shutdownTracer, err := obs.InitTracer(ctx, serviceName, version, cfg.Otel.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	loc, err := cfg.Booking.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load booking timezone: %w", err)
	}

	// Storage
	var (
		store  repository.Store
		roster repository.Roster
	)
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		store = memoryrepo.NewStore()
		roster = memoryrepo.NewRoster()
	default:
		dsn := cfg.Postgres.DSN()
		if err := postgres.Migrate(dsn); err != nil {
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		pool, err := postgres.New(ctx, postgres.Config{DSN: dsn, MaxConns: cfg.Postgres.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })

		pg := postgresrepo.NewStore(pool)
		store = pg
		roster = pg.Roster()
	}

	// Redis backed features
	var (
		cache   *redisrepo.Cache
		idem    *redisrepo.IdempotencyStore
		limiter *redisrepo.PaymentLimiter
		feed    *redisrepo.ChangeFeed
	)
	if cfg.Redis.Enabled() {
		rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })

		cache = redisrepo.NewCache(rdb)
		idem = redisrepo.NewIdempotencyStore(rdb, 24*time.Hour)
		limiter = redisrepo.NewPaymentLimiter(rdb, redisrepo.DefaultPaymentLimits)
		feed = redisrepo.NewChangeFeed(rdb)
	}

	// Event publishers
	pubs := []events.Publisher{events.NewLogPublisher(logger)}
	if cfg.RabbitMQ.Enabled() {
		p, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rabbitmq: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		pubs = append(pubs, events.NewAMQPPublisher(p))
	}
	if feed != nil {
		pubs = append(pubs, feed)
	}

	clk := clock.System{}
	a.relay = events.NewRelay(store.Outbox(), clk, logger, events.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}, pubs...)

	// Payment gateways
	gw := gateway.Router{Default: gateway.Offline{}, ByMethod: map[domain.PaymentMethod]gateway.Gateway{}}
	var verifier httpgin.CallbackVerifier
	if cfg.VNPay.Enabled() {
		vp := vnpay.New(vnpay.Config{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PaymentURL: cfg.VNPay.URL,
			ReturnURL:  cfg.VNPay.ReturnURL,
			Location:   loc,
		})
		gw.ByMethod[domain.MethodGateway] = vp
		verifier = vp
	} else {
		logger.Warn("VNPay is not configured; gateway payments settle offline")
	}

	// Services
	u := uow.NewUoW(store)
	services := service.NewServices(service.Deps{
		Store:   store,
		Roster:  roster,
		UoW:     u,
		Gateway: gw,
		Cache:   cache,
		Clock:   clk,
		IDs:     clock.UUIDv7{},
		Log:     logger,
	}, service.Config{
		Lifecycle: lifecycle.Config{Location: loc},
		Payment:   payment.Config{AttemptTTL: cfg.Booking.AttemptTTL},
		Query:     query.Config{},
	})

	u.OnCommit(func(ctx context.Context, ev domain.Event) {
		if err := services.Query.Invalidate(ctx, ev.BookingID); err != nil {
			logger.Warn("cache invalidation failed",
				slog.String("booking_id", ev.BookingID.String()),
				slog.Any("err", err),
			)
		}
	})
	u.OnCommit(func(context.Context, domain.Event) { a.relay.Nudge() })

	// HTTP
	opts := httpgin.Options{
		Idempotency: idem,
		Limiter:     limiter,
		VNPay:       verifier,
		JWTSecret:   cfg.Auth.JWTSecret,
	}
	if feed != nil {
		opts.Changes = feed
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; trusting actor headers")
	}

	router := httpgin.NewRouter(services, opts, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Outbox relay
	g.Go(func() error {
		return a.relay.Run(gCtx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Flush what the relay can before the connections go away.
	if n, err := a.relay.Drain(ctx); err != nil {
		a.logger.Warn("final outbox drain failed", slog.Any("err", err))
	} else if n > 0 {
		a.logger.Info("flushed outbox", slog.Int("events", n))
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", slog.Any("err", err))
		}
	}
}
