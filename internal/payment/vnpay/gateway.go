// Package vnpay signs redirect URLs for the VNPay hosted checkout and verifies its
// callbacks.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

const (
	version       = "2.1.0"
	command       = "pay"
	currency      = "VND"
	orderType     = "other"
	timeLayout    = "20060102150405"
	secureHashKey = "vnp_SecureHash"
	hashTypeKey   = "vnp_SecureHashType"
	successCode   = "00"
)

// vnpayZone is the GMT+7 clock VNPay expects timestamps in.
var vnpayZone = time.FixedZone("ICT", 7*60*60)

type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Locale     string
	// ExpireAfter is how long the hosted checkout accepts the redirect.
	ExpireAfter time.Duration
}

func (c Config) Validate() error {
	var errs []error
	if c.TmnCode == "" {
		errs = append(errs, errors.New("vnpay tmn code is required"))
	}
	if c.HashSecret == "" {
		errs = append(errs, errors.New("vnpay hash secret is required"))
	}
	if _, err := url.ParseRequestURI(c.PayURL); err != nil {
		errs = append(errs, fmt.Errorf("vnpay pay url: %w", err))
	}
	if c.ReturnURL == "" {
		errs = append(errs, errors.New("vnpay return url is required"))
	}
	return errors.Join(errs...)
}

type Gateway struct {
	cfg Config
	now func() time.Time
}

func NewGateway(cfg Config) *Gateway {
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	return &Gateway{cfg: cfg, now: time.Now}
}

// CreateRedirectURL returns the signed checkout URL for req.
func (g *Gateway) CreateRedirectURL(_ context.Context, req domain.PaymentRequest) (string, error) {
	if req.OrderID == "" {
		return "", domain.NewValidationError("order_id", "is required")
	}
	if !req.Amount.IsPositive() {
		return "", domain.NewValidationError("amount", "must be positive")
	}

	now := g.now().In(vnpayZone)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	info := "Thanh toan don hang " + req.OrderCode
	if req.OrderCode == "" {
		info = "Thanh toan don hang " + req.OrderID
	}

	params := url.Values{}
	params.Set("vnp_Version", version)
	params.Set("vnp_Command", command)
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_Amount", req.Amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	params.Set("vnp_CurrCode", currency)
	params.Set("vnp_TxnRef", req.OrderID)
	params.Set("vnp_OrderInfo", info)
	params.Set("vnp_OrderType", orderType)
	params.Set("vnp_Locale", g.cfg.Locale)
	params.Set("vnp_ReturnUrl", g.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format(timeLayout))
	params.Set("vnp_ExpireDate", now.Add(g.cfg.ExpireAfter).Format(timeLayout))

	data := canonical(params)
	return g.cfg.PayURL + "?" + data + "&" + secureHashKey + "=" + g.sign(data), nil
}

// VerifyCallback checks vnp_SecureHash and normalizes the callback parameters.
func (g *Gateway) VerifyCallback(_ context.Context, params url.Values) (domain.PaymentCallback, error) {
	got := params.Get(secureHashKey)
	if got == "" {
		return domain.PaymentCallback{}, domain.ErrInvalidSignature
	}

	signed := url.Values{}
	for k, v := range params {
		if strings.HasPrefix(k, "vnp_") && k != secureHashKey && k != hashTypeKey {
			signed[k] = v
		}
	}

	want, err := hex.DecodeString(g.sign(canonical(signed)))
	if err != nil {
		return domain.PaymentCallback{}, fmt.Errorf("decode signature: %w", err)
	}
	gotBytes, err := hex.DecodeString(strings.ToLower(got))
	if err != nil || !hmac.Equal(want, gotBytes) {
		return domain.PaymentCallback{}, domain.ErrInvalidSignature
	}

	orderID := params.Get("vnp_TxnRef")
	if orderID == "" {
		return domain.PaymentCallback{}, domain.NewValidationError("vnp_TxnRef", "is required")
	}

	minor, err := decimal.NewFromString(params.Get("vnp_Amount"))
	if err != nil {
		return domain.PaymentCallback{}, domain.NewValidationError("vnp_Amount", "is not a number")
	}

	responseCode := params.Get("vnp_ResponseCode")
	status := params.Get("vnp_TransactionStatus")

	return domain.PaymentCallback{
		OrderID:       orderID,
		Amount:        minor.Div(decimal.NewFromInt(100)),
		ResponseCode:  responseCode,
		TransactionID: params.Get("vnp_TransactionNo"),
		BankCode:      params.Get("vnp_BankCode"),
		Success:       responseCode == successCode && (status == "" || status == successCode),
	}, nil
}

// Sign computes the vnp_SecureHash for params. Callers building callbacks in tests use it.
func (g *Gateway) Sign(params url.Values) string {
	return g.sign(canonical(params))
}

func (g *Gateway) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonical renders params sorted by key with URL-encoded values, the form VNPay signs.
func canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if len(v) == 0 || v[0] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}
