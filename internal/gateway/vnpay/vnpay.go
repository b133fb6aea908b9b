// Package vnpay builds signed VNPay checkout URLs and verifies VNPay
// notifications.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/gateway"
	"github.com/google/uuid"
)

const (
	version      = "2.1.0"
	dateLayout   = "20060102150405"
	successCode  = "00"
	paramHash    = "vnp_SecureHash"
	paramHashTyp = "vnp_SecureHashType"
)

type Config struct {
	TmnCode    string
	HashSecret string
	PaymentURL string
	ReturnURL  string
	Location   *time.Location
}

type Client struct {
	cfg Config
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Client{cfg: cfg}
}

// Checkout returns the signed redirect URL. Amounts go out in hundredths
// and the attempt id is the transaction reference.
func (c *Client) Checkout(_ context.Context, req gateway.Request) (gateway.Checkout, error) {
	if req.Amount <= 0 {
		return gateway.Checkout{}, fmt.Errorf("vnpay.Client.Checkout: amount must be positive: %w", domain.ErrInvalidArgument)
	}

	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", version)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", req.AttemptID.String())
	params.Set("vnp_OrderInfo", "Thanh toan don dat lich "+req.BookingCode)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", req.CreatedAt.In(c.cfg.Location).Format(dateLayout))
	params.Set("vnp_ExpireDate", req.ExpiresAt.In(c.cfg.Location).Format(dateLayout))
	params.Set("vnp_Locale", "vn")

	query := canonicalQuery(params)
	u := c.cfg.PaymentURL + "?" + query + "&" + paramHash + "=" + c.sign(query)

	return gateway.Checkout{
		TxnRef:      req.AttemptID.String(),
		RedirectURL: u,
	}, nil
}

// VerifyCallback checks the signature of a notification and maps it to an
// attempt outcome. Only response code 00 with transaction status 00 is a
// success.
func (c *Client) VerifyCallback(params url.Values) (gateway.Callback, error) {
	const op = "vnpay.Client.VerifyCallback"

	got := params.Get(paramHash)
	if got == "" {
		return gateway.Callback{}, fmt.Errorf("%s: missing hash: %w", op, domain.ErrInvalidSignature)
	}

	signed := url.Values{}
	for k, v := range params {
		if k == paramHash || k == paramHashTyp || !strings.HasPrefix(k, "vnp_") {
			continue
		}
		signed[k] = v
	}

	want := c.sign(canonicalQuery(signed))
	if !hmac.Equal([]byte(strings.ToUpper(got)), []byte(want)) {
		return gateway.Callback{}, fmt.Errorf("%s: %w", op, domain.ErrInvalidSignature)
	}

	attemptID, err := uuid.Parse(params.Get("vnp_TxnRef"))
	if err != nil {
		return gateway.Callback{}, fmt.Errorf("%s: bad txn ref: %w", op, domain.ErrUnknownAttempt)
	}

	code := params.Get("vnp_ResponseCode")
	result := domain.ResultFailure
	if code == successCode && params.Get("vnp_TransactionStatus") == successCode {
		result = domain.ResultSuccess
	}

	return gateway.Callback{
		AttemptID:    attemptID,
		ResponseCode: code,
		Result:       result,
	}, nil
}

// Sign returns params with vnp_SecureHash set. Tests and local tooling use
// it to forge notifications.
func (c *Client) Sign(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = v
	}
	out.Set(paramHash, c.sign(canonicalQuery(params)))
	return out
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	mac.Write([]byte(query))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// canonicalQuery renders params sorted by key with form encoding, the byte
// string VNPay signs.
func canonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params.Get(k)))
	}
	return strings.Join(parts, "&")
}
