package httpgin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/gateway"
	redisrepo "github.com/cleanhome/bookingd/internal/repository/redis"
	"github.com/cleanhome/bookingd/internal/service"
	"github.com/cleanhome/bookingd/internal/service/assignment"
	"github.com/cleanhome/bookingd/internal/service/booking"
	"github.com/cleanhome/bookingd/internal/service/lifecycle"
	"github.com/cleanhome/bookingd/internal/service/payment"
	"github.com/cleanhome/bookingd/internal/service/query"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const idemLockTTL = 60 * time.Second

// CallbackVerifier authenticates gateway notifications.
type CallbackVerifier interface {
	VerifyCallback(params url.Values) (gateway.Callback, error)
}

// ChangeSource streams committed booking changes.
type ChangeSource interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, c redisrepo.Change)) error
}

// Options carries the optional collaborators of the router. Nil members
// disable the feature they back.
type Options struct {
	Idempotency *redisrepo.IdempotencyStore
	Limiter     *redisrepo.PaymentLimiter
	Changes     ChangeSource
	VNPay       CallbackVerifier
	JWTSecret   string
}

func NewRouter(
	svcs *service.Services,
	opts Options,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	registerValidators()

	r := gin.New()

	r.Use(
		gin.Recovery(),
		RequestIDMiddleware(),
		ActorMiddleware(opts.JWTSecret),
		LoggingMiddleware(logger),
		MetricsMiddleware(),
		CORS(),
	)
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	limited := PaymentRateLimit(opts.Limiter, logger)

	// Public API
	r.POST("/bookings", handleCreateBooking(svcs, opts.Idempotency))
	r.GET("/bookings/:id", handleGetBooking(svcs))
	r.GET("/bookings/:id/payments", handleListAttempts(svcs))
	r.POST("/bookings/:id/payments", limited, handleInitiatePayment(svcs, false))
	r.POST("/bookings/:id/payments/retry", limited, handleInitiatePayment(svcs, true))

	// Gateway callbacks
	r.GET("/payments/vnpay/ipn", handleVNPayIPN(svcs, opts.VNPay, logger))
	r.POST(
		"/payments/attempts/:id/reconcile",
		RequireRole(RoleGateway, RoleAdmin),
		handleReconcile(svcs),
	)

	// Admin API
	admin := r.Group("/admin", RequireRole(RoleAdmin))
	{
		admin.GET("/bookings", handleListBookings(svcs))
		admin.GET("/bookings/stream", handleStream(opts.Changes, logger))
		admin.POST("/bookings/:id/transitions", handleTransition(svcs))
		admin.PUT("/bookings/:id/staff", handleAssignStaff(svcs))
		admin.DELETE("/bookings/:id/staff", handleUnassignStaff(svcs))
		admin.PUT("/bookings/:id/pricing", handleReprice(svcs))
		admin.POST("/bookings/:id/payments/mark-paid", handleMarkPaid(svcs))
		admin.POST("/bookings/:id/payments/refund", handleRecordRefund(svcs))
	}

	return r
}

// @Summary  Create booking (idempotent)
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} domain.Booking
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "idempotency key in progress"
// @Router   /bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		date, err := parseDate(req.ScheduledDate)
		if err != nil {
			respondErr(c, err)
			return
		}

		in := booking.CreateInput{
			CustomerID:    uuid.MustParse(req.CustomerID),
			CustomerName:  req.CustomerName,
			ServiceID:     uuid.MustParse(req.ServiceID),
			ServiceName:   req.ServiceName,
			ScheduledDate: date,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
			Pricing: domain.Pricing{
				Subtotal: req.Subtotal,
				Discount: req.Discount,
				Tax:      req.Tax,
			},
			Actor: actorName(c),
		}
		if req.PaymentMethod != nil {
			m := domain.PaymentMethod(*req.PaymentMethod)
			in.PaymentMethod = &m
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemCreateBooking(actorName(c), idemKey)

			if replayed(c, idem, idemStorageKey, idemKey) {
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if replayed(c, idem, idemStorageKey, idemKey) {
					return
				}
				c.Header("Retry-After", "1")
				c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{
					Code:  "IDEMPOTENCY_IN_PROGRESS",
					Error: "idempotency key in progress",
				})
				return
			}
		}

		b, err := svcs.Bookings.Create(c.Request.Context(), in)
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" {
			payload, _ := json.Marshal(b)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(payload))
			c.Header("Idempotency-Key", idemKey)
		}

		c.Header("Location", "/bookings/"+b.ID.String())
		c.JSON(http.StatusCreated, b)
	}
}

func replayed(c *gin.Context, idem *redisrepo.IdempotencyStore, storageKey, idemKey string) bool {
	payload, ok, _ := idem.GetResult(c.Request.Context(), storageKey)
	if !ok {
		return false
	}
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
	return true
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200  {object}  domain.Booking
// @Failure  404  {object}  ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		b, err := svcs.Query.Get(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, http.StatusOK, b, bookingETag(b))
	}
}

// @Summary  List payment attempts, oldest first
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200  {array}  domain.PaymentAttempt
// @Router   /bookings/{id}/payments [get]
func handleListAttempts(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		attempts, err := svcs.Query.Attempts(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, http.StatusOK, attempts, "")
	}
}

// @Summary  Initiate or retry a payment
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  InitiatePaymentRequest true "payload"
// @Success  201 {object} PaymentResponse "new attempt"
// @Success  200 {object} PaymentResponse "live attempt reused"
// @Failure  409 {object} ErrorResponse
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /bookings/{id}/payments [post]
// @Router   /bookings/{id}/payments/retry [post]
func handleInitiatePayment(svcs *service.Services, retry bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		var req InitiatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		in := payment.InitiateInput{
			BookingID: id,
			Method:    domain.PaymentMethod(req.Method),
			Actor:     actorName(c),
			ClientIP:  c.ClientIP(),
		}

		var (
			res payment.Initiation
			err error
		)
		if retry {
			res, err = svcs.Payments.Retry(c.Request.Context(), in)
		} else {
			res, err = svcs.Payments.Initiate(c.Request.Context(), in)
		}
		if err != nil {
			respondErr(c, err)
			return
		}

		status := http.StatusCreated
		if res.Reused {
			status = http.StatusOK
		}
		c.JSON(status, PaymentResponse{
			AttemptID:     res.Attempt.ID,
			TxnRef:        res.Attempt.GatewayTxnRef,
			RedirectURL:   res.Attempt.RedirectURL,
			Amount:        res.Attempt.Amount,
			ExpiresAt:     res.Attempt.ExpiresAt,
			Reused:        res.Reused,
			PaymentStatus: res.Booking.PaymentStatus,
		})
	}
}

// @Summary  VNPay IPN callback
// @Description Always answers 200 with a VNPay RspCode; the gateway retries on anything else.
// @Success  200 {object} IPNResponse
// @Router   /payments/vnpay/ipn [get]
func handleVNPayIPN(svcs *service.Services, verifier CallbackVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.JSON(http.StatusOK, IPNResponse{RspCode: "99", Message: "Gateway not configured"})
			return
		}

		cb, err := verifier.VerifyCallback(c.Request.URL.Query())
		if err != nil {
			logger.Warn("vnpay callback rejected", slog.String("err", err.Error()))
			c.JSON(http.StatusOK, ipnReply(err))
			return
		}

		_, err = svcs.Payments.Reconcile(c.Request.Context(), payment.ReconcileInput{
			AttemptID:    cb.AttemptID,
			ResponseCode: cb.ResponseCode,
			Result:       cb.Result,
		})
		if err != nil && domain.CodeOf(err) == domain.CodeInternal {
			_ = c.Error(err)
		}
		c.JSON(http.StatusOK, ipnReply(err))
	}
}

// ipnReply maps a reconcile outcome to the VNPay acknowledgement codes.
func ipnReply(err error) IPNResponse {
	if err == nil {
		return IPNResponse{RspCode: "00", Message: "Confirm Success"}
	}

	switch domain.CodeOf(err) {
	case domain.CodeInvalidSignature:
		return IPNResponse{RspCode: "97", Message: "Invalid signature"}
	case domain.CodeUnknownAttempt:
		return IPNResponse{RspCode: "01", Message: "Order not found"}
	case domain.CodeAmountMismatch:
		return IPNResponse{RspCode: "04", Message: "Invalid amount"}
	case domain.CodeInvalidPaymentState:
		return IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	default:
		return IPNResponse{RspCode: "99", Message: "Unknown error"}
	}
}

// @Summary  Report a gateway outcome for one attempt
// @Param    id  path  string  true  "Attempt ID (uuid)"
// @Param    req body  ReconcileRequest true "payload"
// @Success  200 {object} ReconcileResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /payments/attempts/{id}/reconcile [post]
func handleReconcile(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		var req ReconcileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := svcs.Payments.Reconcile(c.Request.Context(), payment.ReconcileInput{
			AttemptID:    id,
			ResponseCode: req.ResponseCode,
			Result:       domain.AttemptResult(req.ResultStatus),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ReconcileResponse{
			Booking: res.Booking,
			Attempt: res.Attempt,
			Applied: res.Applied,
		})
	}
}

// @Summary  List bookings
// @Param    page      query  int     false  "1-based page"
// @Param    pageSize  query  int     false  "page size, at most 100"
// @Param    status    query  string  false  "booking status"
// @Param    staffId   query  string  false  "staff id or 'unassigned'"
// @Param    q         query  string  false  "search customer, code or service"
// @Success  200 {object} domain.Page
// @Router   /admin/bookings [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, ok := parseIntQuery(c, "page", 1)
		if !ok {
			return
		}
		size, ok := parseIntQuery(c, "pageSize", 0)
		if !ok {
			return
		}

		p, err := svcs.Query.List(c.Request.Context(), query.ListInput{
			Page:     page,
			PageSize: size,
			Status:   c.Query("status"),
			Staff:    c.Query("staffId"),
			Search:   c.Query("q"),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// @Summary  Change booking status
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  TransitionRequest true "payload"
// @Success  200 {object} TransitionResponse
// @Failure  409 {object} ErrorResponse
// @Failure  422 {object} ErrorResponse
// @Router   /admin/bookings/{id}/transitions [post]
func handleTransition(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		var req TransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		in := lifecycle.TransitionInput{
			BookingID: id,
			Target:    domain.BookingStatus(req.Status),
			Actor:     actorName(c),
			Reason:    req.Reason,
		}
		if req.ScheduledDate != nil || req.StartTime != nil {
			if req.ScheduledDate == nil || req.StartTime == nil {
				badRequest(c, "scheduledDate and scheduledStartTime go together")
				return
			}
			date, err := parseDate(*req.ScheduledDate)
			if err != nil {
				respondErr(c, err)
				return
			}
			in.Schedule = &lifecycle.Schedule{Date: date, StartTime: *req.StartTime, EndTime: req.EndTime}
		}

		res, err := svcs.Lifecycle.Transition(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, TransitionResponse{Booking: res.Booking, Refund: res.Refund})
	}
}

// @Summary  Replace the staff of a booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  AssignStaffRequest true "the complete staff set"
// @Success  200 {object} AssignmentResponse
// @Failure  409 {object} ErrorResponse
// @Failure  422 {object} ErrorResponse
// @Router   /admin/bookings/{id}/staff [put]
func handleAssignStaff(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		var req AssignStaffRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		staff, err := parseUUIDs(req.StaffIDs)
		if err != nil {
			respondErr(c, err)
			return
		}

		out, err := svcs.Assignment.Assign(c.Request.Context(), assignment.AssignInput{
			BookingID: id,
			StaffIDs:  staff,
			Actor:     actorName(c),
			Notes:     req.Notes,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, AssignmentResponse{BookingID: id, AssignedStaff: out})
	}
}

// @Summary  Remove all staff from a booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  409 {object} ErrorResponse
// @Router   /admin/bookings/{id}/staff [delete]
func handleUnassignStaff(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		b, err := svcs.Assignment.Unassign(c.Request.Context(), id, actorName(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Edit booking pricing
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  PricingRequest true "payload"
// @Success  200 {object} domain.Booking
// @Failure  409 {object} ErrorResponse
// @Router   /admin/bookings/{id}/pricing [put]
func handleReprice(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		var req PricingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		b, err := svcs.Bookings.Reprice(c.Request.Context(), id, domain.Pricing{
			Subtotal: req.Subtotal,
			Discount: req.Discount,
			Tax:      req.Tax,
		}, actorName(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Mark a started or completed booking paid in cash
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  409 {object} ErrorResponse
// @Router   /admin/bookings/{id}/payments/mark-paid [post]
func handleMarkPaid(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		b, err := svcs.Payments.MarkPaid(c.Request.Context(), id, actorName(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Record a refund paid out by the payment collaborator
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  RefundRequest true "payload"
// @Success  200 {object} domain.Booking
// @Failure  409 {object} ErrorResponse
// @Router   /admin/bookings/{id}/payments/refund [post]
func handleRecordRefund(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}
		var req RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		b, err := svcs.Payments.RecordRefund(c.Request.Context(), payment.RefundInput{
			BookingID: id,
			Actor:     actorName(c),
			Amount:    req.Amount,
			Reason:    req.Reason,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// --- Helpers ---

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func parseIntQuery(c *gin.Context, name string, def int) (int, bool) {
	s := c.Query(name)
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
