package httpgin

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/metrics"
	redisrepo "github.com/cleanhome/bookingd/internal/repository/redis"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		c.Writer.Header().Set("X-Request-ID", reqID)
		c.Set("request_id", reqID)

		c.Next()
	}
}

func CORS() gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			"GET", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
			headerActorID,
			headerActorRole,
			"Idempotency-Key",
			"If-None-Match",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"ETag",
			"Retry-After",
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	return cors.New(cfg)
}

func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Next()

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		status := c.Writer.Status()
		reqID, _ := c.Get("request_id")

		attrs := []any{
			slog.Int("status", status),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("ip", c.ClientIP()),
			slog.String("ua", c.Request.UserAgent()),
			slog.Any("request_id", reqID),
			slog.String("actor", actorOf(c).ID),
			slog.Duration("latency", latency),
			slog.Int("bytes_out", c.Writer.Size()),
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
			logger.Error("http", slog.Group("http", attrs...))
		} else {
			logger.Info("http", slog.Group("http", attrs...))
		}
	}
}

// MetricsMiddleware records request counts and latency per route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}

// PaymentRateLimit throttles payment attempts on the booking named by the
// :id route parameter, per booking and per caller (actor, or client IP for
// anonymous callers). A nil limiter admits everything. Limiter failures let
// the request through.
func PaymentRateLimit(limiter *redisrepo.PaymentLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		bookingID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			// The handler rejects the id.
			c.Next()
			return
		}

		caller := "ip:" + c.ClientIP()
		if a := actorOf(c); !a.Anonymous() {
			caller = "actor:" + a.ID
		}

		d, err := limiter.Allow(c.Request.Context(), bookingID, caller)
		if err != nil {
			logger.Warn("payment limiter unavailable",
				slog.String("booking_id", bookingID.String()),
				slog.String("err", err.Error()),
			)
			c.Next()
			return
		}
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:  string(domain.CodeRateLimited),
				Error: domain.ErrRateLimited.Message,
			})
			return
		}
		c.Next()
	}
}
