package redisrepo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// luaPaymentWindows checks every sliding window in KEYS and records the hit
// in all of them only when none is full. Denied hits are not counted.
// ARGV[1] = now_ms, ARGV[2] = window_ms, ARGV[3] = member,
// ARGV[3+i] = limit of KEYS[i].
const luaPaymentWindows = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]
local wait = 0

for i, key in ipairs(KEYS) do
  redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
  if redis.call('ZCARD', key) >= tonumber(ARGV[3 + i]) then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local w = window - (now - tonumber(oldest[2]))
    if w < 1 then w = 1 end
    if w > wait then wait = w end
  end
end

if wait > 0 then
  return {0, wait}
end

for _, key in ipairs(KEYS) do
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
end
return {1, 0}
`

// PaymentLimits caps payment attempts opened for one booking within Window:
// PerBooking across all callers and PerCaller for any single caller.
type PaymentLimits struct {
	PerBooking int
	PerCaller  int
	Window     time.Duration
}

var DefaultPaymentLimits = PaymentLimits{
	PerBooking: 20,
	PerCaller:  5,
	Window:     10 * time.Minute,
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// PaymentLimiter throttles payment initiation per booking. It sits in front
// of the gateway so a client looping on checkout cannot mint attempts.
type PaymentLimiter struct {
	rdb    *redis.Client
	limits PaymentLimits
	script *redis.Script

	now       func() time.Time
	newMember func() string
}

func NewPaymentLimiter(rdb *redis.Client, limits PaymentLimits) *PaymentLimiter {
	if limits.Window <= 0 {
		limits.Window = DefaultPaymentLimits.Window
	}
	if limits.PerBooking <= 0 {
		limits.PerBooking = DefaultPaymentLimits.PerBooking
	}
	if limits.PerCaller <= 0 {
		limits.PerCaller = DefaultPaymentLimits.PerCaller
	}

	return &PaymentLimiter{
		rdb:       rdb,
		limits:    limits,
		script:    redis.NewScript(luaPaymentWindows),
		now:       time.Now,
		newMember: func() string { return randomHex(12) },
	}
}

// Allow records one payment attempt on bookingID by caller when both the
// booking and the caller windows have room.
func (l *PaymentLimiter) Allow(ctx context.Context, bookingID uuid.UUID, caller string) (Decision, error) {
	const op = "redisrepo.PaymentLimiter.Allow"

	res, err := l.script.Run(ctx, l.rdb,
		[]string{KeyPaymentRate(bookingID), KeyPaymentRateCaller(bookingID, caller)},
		l.now().UnixMilli(),
		l.limits.Window.Milliseconds(),
		l.newMember(),
		l.limits.PerBooking,
		l.limits.PerCaller,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%s: unexpected script result %v", op, res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
