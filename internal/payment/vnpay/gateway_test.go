package vnpay

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

func newTestGateway() *Gateway {
	g := NewGateway(Config{
		TmnCode:    "TESTTMN",
		HashSecret: "SECRETKEY",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example.com/payment/return",
	})
	g.now = func() time.Time { return time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC) }
	return g
}

func callbackParams(g *Gateway, orderID, amount, responseCode string) url.Values {
	params := url.Values{}
	params.Set("vnp_TmnCode", "TESTTMN")
	params.Set("vnp_TxnRef", orderID)
	params.Set("vnp_Amount", amount)
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionStatus", responseCode)
	params.Set("vnp_TransactionNo", "14000001")
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_OrderInfo", "Thanh toan don hang ORD-20250301-0001")
	params.Set("vnp_SecureHash", g.Sign(params))
	return params
}

func TestCreateRedirectURL(t *testing.T) {
	g := newTestGateway()

	raw, err := g.CreateRedirectURL(context.Background(), domain.PaymentRequest{
		OrderID:   "order-1",
		OrderCode: "ORD-20250301-0001",
		Amount:    decimal.NewFromInt(480_000),
		ClientIP:  "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("CreateRedirectURL() error: %v", err)
	}

	if !strings.HasPrefix(raw, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?") {
		t.Errorf("unexpected base url: %s", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	q := u.Query()

	tests := map[string]string{
		"vnp_Amount":     "48000000",
		"vnp_TxnRef":     "order-1",
		"vnp_TmnCode":    "TESTTMN",
		"vnp_CurrCode":   "VND",
		"vnp_Version":    "2.1.0",
		"vnp_IpAddr":     "10.0.0.1",
		"vnp_CreateDate": "20250301100000",
		"vnp_ExpireDate": "20250301101500",
	}
	for key, want := range tests {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	// the redirect must verify with the same secret
	signed := url.Values{}
	for k, v := range q {
		if k != "vnp_SecureHash" {
			signed[k] = v
		}
	}
	if got := g.Sign(signed); got != q.Get("vnp_SecureHash") {
		t.Errorf("signature mismatch: %s != %s", got, q.Get("vnp_SecureHash"))
	}
}

func TestCreateRedirectURLRejectsZeroAmount(t *testing.T) {
	g := newTestGateway()
	_, err := g.CreateRedirectURL(context.Background(), domain.PaymentRequest{OrderID: "o1", Amount: decimal.Zero})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestVerifyCallback(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	t.Run("valid success", func(t *testing.T) {
		cb, err := g.VerifyCallback(ctx, callbackParams(g, "order-1", "48000000", "00"))
		if err != nil {
			t.Fatalf("VerifyCallback() error: %v", err)
		}
		if !cb.Success || cb.OrderID != "order-1" || cb.TransactionID != "14000001" {
			t.Errorf("unexpected callback: %+v", cb)
		}
		if !cb.Amount.Equal(decimal.NewFromInt(480_000)) {
			t.Errorf("Amount = %s, want 480000", cb.Amount)
		}
	})

	t.Run("valid failure", func(t *testing.T) {
		cb, err := g.VerifyCallback(ctx, callbackParams(g, "order-1", "48000000", "24"))
		if err != nil {
			t.Fatalf("VerifyCallback() error: %v", err)
		}
		if cb.Success {
			t.Error("expected failure callback")
		}
		if cb.ResponseCode != "24" {
			t.Errorf("ResponseCode = %s", cb.ResponseCode)
		}
	})

	t.Run("uppercase hash accepted", func(t *testing.T) {
		params := callbackParams(g, "order-1", "48000000", "00")
		params.Set("vnp_SecureHash", strings.ToUpper(params.Get("vnp_SecureHash")))
		params.Set("vnp_SecureHashType", "HmacSHA512")
		if _, err := g.VerifyCallback(ctx, params); err != nil {
			t.Errorf("VerifyCallback() error: %v", err)
		}
	})

	t.Run("tampered amount", func(t *testing.T) {
		params := callbackParams(g, "order-1", "48000000", "00")
		params.Set("vnp_Amount", "100")
		if _, err := g.VerifyCallback(ctx, params); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("missing hash", func(t *testing.T) {
		params := callbackParams(g, "order-1", "48000000", "00")
		params.Del("vnp_SecureHash")
		if _, err := g.VerifyCallback(ctx, params); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewGateway(Config{TmnCode: "TESTTMN", HashSecret: "OTHER"})
		if _, err := g.VerifyCallback(ctx, callbackParams(other, "order-1", "48000000", "00")); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})
}

func TestCanonicalSkipsEmptyAndEncodes(t *testing.T) {
	params := url.Values{}
	params.Set("vnp_B", "a b")
	params.Set("vnp_A", "x/y")
	params.Set("vnp_Empty", "")

	if got, want := canonical(params), "vnp_A=x%2Fy&vnp_B=a+b"; got != want {
		t.Errorf("canonical() = %q, want %q", got, want)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Error("expected error for empty config")
	}
	valid := Config{TmnCode: "T", HashSecret: "S", PayURL: "https://pay.example.com", ReturnURL: "https://shop.example.com"}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
