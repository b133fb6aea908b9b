package httpgin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	redisrepo "github.com/cleanhome/bookingd/internal/repository/redis"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	streamBuffer    = 64
	streamHeartbeat = 15 * time.Second
)

// @Summary  Stream booking changes (server-sent events)
// @Param    bookingId  query  string  false  "only changes of this booking"
// @Produce  text/event-stream
// @Success  200 {object} redisrepo.Change
// @Failure  503 {object} ErrorResponse
// @Router   /admin/bookings/stream [get]
func handleStream(src ChangeSource, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
				Code:  "UNAVAILABLE",
				Error: "change feed is not configured",
			})
			return
		}

		var only uuid.UUID
		if s := c.Query("bookingId"); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				badRequest(c, "invalid bookingId")
				return
			}
			only = id
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		changes := make(chan redisrepo.Change, streamBuffer)
		errc := make(chan error, 1)
		go func() {
			errc <- src.Subscribe(ctx, func(_ context.Context, ch redisrepo.Change) {
				if only != uuid.Nil && ch.BookingID != only {
					return
				}
				select {
				case changes <- ch:
				default:
					// Slow client; it refetches on the next change it sees.
				}
			})
		}()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case err := <-errc:
				if err != nil && ctx.Err() == nil {
					logger.Warn("change feed ended", slog.String("err", err.Error()))
				}
				return false
			case ch := <-changes:
				c.SSEvent(string(ch.Type), ch)
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", gin.H{"ts": time.Now().Unix()})
				return true
			}
		})
	}
}
