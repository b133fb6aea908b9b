package service

import (
	"log/slog"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/gateway"
	"github.com/cleanhome/bookingd/internal/repository"
	redisrepo "github.com/cleanhome/bookingd/internal/repository/redis"
	"github.com/cleanhome/bookingd/internal/service/assignment"
	"github.com/cleanhome/bookingd/internal/service/booking"
	"github.com/cleanhome/bookingd/internal/service/lifecycle"
	"github.com/cleanhome/bookingd/internal/service/payment"
	"github.com/cleanhome/bookingd/internal/service/query"
	"github.com/cleanhome/bookingd/internal/service/roster"
	"github.com/cleanhome/bookingd/internal/uow"
)

type Services struct {
	Bookings   *booking.Service
	Lifecycle  *lifecycle.Service
	Assignment *assignment.Service
	Payments   *payment.Service
	Query      *query.Service
	Roster     *roster.Service
}

type Config struct {
	Lifecycle lifecycle.Config
	Payment   payment.Config
	Query     query.Config
}

type Deps struct {
	Store   repository.Store
	Roster  repository.Roster
	UoW     *uow.UoW
	Gateway gateway.Gateway
	// Cache is optional.
	Cache *redisrepo.Cache
	Clock clock.Clock
	IDs   clock.IDGen
	Log   *slog.Logger
}

func NewServices(d Deps, cfg Config) *Services {
	rst := roster.New(d.Roster, d.Cache, 0, d.Log)
	pay := payment.New(d.Store, d.UoW, d.Gateway, d.Clock, d.IDs, d.Log, cfg.Payment)

	return &Services{
		Bookings:   booking.New(d.UoW, d.Clock, d.IDs, d.Log),
		Lifecycle:  lifecycle.New(d.UoW, d.Clock, d.IDs, d.Log, cfg.Lifecycle, pay),
		Assignment: assignment.New(d.UoW, rst, d.Clock, d.IDs, d.Log),
		Payments:   pay,
		Query:      query.New(d.Store, d.Cache, cfg.Query),
		Roster:     rst,
	}
}
