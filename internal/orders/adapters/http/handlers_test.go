package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	idemmemory "github.com/dejobratic/orderflow/internal/idempotency/memory"
	"github.com/dejobratic/orderflow/internal/orders/adapters/memory"
	"github.com/dejobratic/orderflow/internal/orders/app"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	ordermetrics "github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/payment/vnpay"
	"github.com/dejobratic/orderflow/internal/retry"
	"github.com/dejobratic/orderflow/internal/scheduler"
)

type discardNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (d *discardNotifier) Enqueue(_ context.Context, n domain.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

type apiHarness struct {
	store    *memory.Store
	carts    *memory.Carts
	jobs     *scheduler.MemoryStore
	gateway  *vnpay.Gateway
	notifier *discardNotifier
	idem     *idemmemory.Store
	router   chi.Router
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &apiHarness{
		store:    memory.NewStore(),
		carts:    memory.NewCarts(),
		jobs:     scheduler.NewMemoryStore(),
		notifier: &discardNotifier{},
		idem:     idemmemory.NewStore(time.Hour),
		gateway: vnpay.NewGateway(vnpay.Config{
			TmnCode:    "TESTTMN",
			HashSecret: "secret",
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ReturnURL:  "https://shop.example.com/payment/return",
		}),
	}

	addresses := memory.NewAddresses()
	addresses.Put(domain.Address{
		ID:            "addr-1",
		UserID:        "user-1",
		RecipientName: "Nguyễn Văn A",
		Phone:         "0900000000",
		Street:        "1 Tràng Tiền",
		District:      "Hoàn Kiếm",
		City:          "Hà Nội",
	})
	h.store.SetStock("p1", "Áo thun", "red", 5)
	h.putLine("line-1", 2)

	deps := commands.Dependencies{
		Store:     h.store,
		Stock:     h.store,
		Carts:     h.carts,
		Addresses: addresses,
		Gateway:   h.gateway,
		Scheduler: scheduler.New(h.jobs, scheduler.Config{}, logger),
		Notifier:  h.notifier,
		Logger:    logger,
	}

	opts := commands.DefaultOptions()
	opts.Retry = retry.Policy{Attempts: 1, InitialInterval: time.Millisecond}

	m, err := ordermetrics.NewMetrics(sdkmetric.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	svc := app.NewService(deps, h.idem, opts, m)

	h.router = chi.NewRouter()
	NewHandler(svc, logger).Register(h.router)
	return h
}

func (h *apiHarness) putLine(id string, quantity int) {
	h.carts.Put("user-1", domain.CartLine{
		ID:          id,
		ProductID:   "p1",
		ProductName: "Áo thun",
		Color:       "red",
		UnitPrice:   decimal.NewFromInt(150_000),
		Quantity:    quantity,
	})
}

func (h *apiHarness) do(t *testing.T, method, target, userID, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) createOrder(t *testing.T, key, line, method string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"cart_line_ids":["` + line + `"],"address_id":"addr-1","payment_method":"` + method + `"}`
	return h.do(t, http.MethodPost, "/v1/orders", "user-1", body, map[string]string{"Idempotency-Key": key})
}

// signedCallback builds IPN parameters the way VNPay sends them.
func (h *apiHarness) signedCallback(orderID string, amount decimal.Decimal, code string) url.Values {
	params := url.Values{}
	params.Set("vnp_TmnCode", "TESTTMN")
	params.Set("vnp_TxnRef", orderID)
	params.Set("vnp_Amount", amount.Mul(decimal.NewFromInt(100)).String())
	params.Set("vnp_ResponseCode", code)
	params.Set("vnp_TransactionStatus", code)
	params.Set("vnp_TransactionNo", "14000001")
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_SecureHash", h.gateway.Sign(params))
	return params
}

type orderEnvelope struct {
	Order struct {
		ID            string `json:"id"`
		Code          string `json:"code"`
		Status        string `json:"order_status"`
		PaymentStatus string `json:"payment_status"`
	} `json:"order"`
	PaymentURL string `json:"payment_url"`
}

type errorEnvelope struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateOrderEndpoint(t *testing.T) {
	t.Run("creates a COD order and replays the stored response for a reused key", func(t *testing.T) {
		h := newAPIHarness(t)

		first := h.createOrder(t, "key-1", "line-1", "cod")
		if first.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", first.Code, first.Body.String())
		}
		created := decode[orderEnvelope](t, first)
		if created.Order.Status != "PENDING" {
			t.Errorf("order_status = %q, want PENDING", created.Order.Status)
		}
		if created.PaymentURL != "" {
			t.Errorf("payment_url = %q, want empty for COD", created.PaymentURL)
		}
		if got := first.Header().Get("Location"); got != "/v1/orders/"+created.Order.ID {
			t.Errorf("Location = %q", got)
		}
		if got := h.store.Stock("p1", "red"); got != 3 {
			t.Errorf("stock = %d, want 3", got)
		}

		replay := h.createOrder(t, "key-1", "line-1", "cod")
		if replay.Code != http.StatusCreated {
			t.Fatalf("replay status = %d", replay.Code)
		}
		if replay.Header().Get("Idempotent-Replayed") != "true" {
			t.Error("expected Idempotent-Replayed header on replay")
		}
		if replay.Body.String() != first.Body.String() {
			t.Errorf("replay body differs:\n%s\n%s", replay.Body.String(), first.Body.String())
		}
		if got := h.store.Stock("p1", "red"); got != 3 {
			t.Errorf("stock after replay = %d, want 3", got)
		}
	})

	t.Run("returns a payment URL and arms auto-cancel for VNPAY", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.createOrder(t, "key-1", "line-1", "VNPAY")
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		created := decode[orderEnvelope](t, rec)
		if !strings.HasPrefix(created.PaymentURL, "https://sandbox.vnpayment.vn/") {
			t.Errorf("payment_url = %q", created.PaymentURL)
		}
		if created.Order.Status != "PENDING" {
			t.Errorf("order_status = %q, want PENDING", created.Order.Status)
		}
		if _, ok := h.jobs.Get(created.Order.ID); !ok {
			t.Error("expected an auto-cancel job")
		}
		if got := h.store.Stock("p1", "red"); got != 5 {
			t.Errorf("stock = %d, want 5 until payment", got)
		}
	})

	t.Run("key held by a running request is rejected", func(t *testing.T) {
		h := newAPIHarness(t)
		if _, reserved, _ := h.idem.Reserve(context.Background(), "user-1", "key-1"); !reserved {
			t.Fatal("could not reserve key")
		}

		rec := h.createOrder(t, "key-1", "line-1", "COD")
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if got := h.store.Stock("p1", "red"); got != 5 {
			t.Errorf("stock = %d, want 5", got)
		}
	})

	t.Run("failed request frees its key", func(t *testing.T) {
		h := newAPIHarness(t)
		h.putLine("line-big", 9)

		if rec := h.createOrder(t, "key-1", "line-big", "COD"); rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}

		rec := h.createOrder(t, "key-1", "line-1", "COD")
		if rec.Code != http.StatusCreated {
			t.Fatalf("retry status = %d, body %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Idempotent-Replayed") != "" {
			t.Error("expected a fresh order, got a replay")
		}
	})

	t.Run("concurrent requests with one key create one order", func(t *testing.T) {
		h := newAPIHarness(t)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var created, replayed, rejected int

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := h.createOrder(t, "key-1", "line-1", "COD")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case rec.Code == http.StatusCreated && rec.Header().Get("Idempotent-Replayed") == "true":
					replayed++
				case rec.Code == http.StatusCreated:
					created++
				case rec.Code == http.StatusConflict:
					rejected++
				}
			}()
		}
		wg.Wait()

		if created != 1 {
			t.Errorf("created = %d, want 1 (replayed %d, rejected %d)", created, replayed, rejected)
		}
		if created+replayed+rejected != 10 {
			t.Errorf("unexpected responses: created %d, replayed %d, rejected %d", created, replayed, rejected)
		}
		if got := h.store.Stock("p1", "red"); got != 3 {
			t.Errorf("stock = %d, want 3", got)
		}
	})

	t.Run("reports the deficient variant on insufficient stock", func(t *testing.T) {
		h := newAPIHarness(t)
		h.putLine("line-big", 9)

		rec := h.createOrder(t, "key-1", "line-big", "COD")
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode[errorEnvelope](t, rec)
		if body.Details["product_id"] != "p1" || body.Details["color"] != "red" {
			t.Errorf("details = %v", body.Details)
		}
		if body.Details["available"] != float64(5) {
			t.Errorf("available = %v, want 5", body.Details["available"])
		}
	})

	tests := []struct {
		name       string
		setup      func(h *apiHarness)
		userID     string
		key        string
		body       string
		wantStatus int
	}{
		{
			name:       "missing user header",
			key:        "key-1",
			body:       `{"cart_line_ids":["line-1"],"address_id":"addr-1","payment_method":"COD"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing idempotency key",
			userID:     "user-1",
			body:       `{"cart_line_ids":["line-1"],"address_id":"addr-1","payment_method":"COD"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			userID:     "user-1",
			key:        "key-1",
			body:       `{"cart_line_ids":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown payment method",
			userID:     "user-1",
			key:        "key-1",
			body:       `{"cart_line_ids":["line-1"],"address_id":"addr-1","payment_method":"BITCOIN"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "cart line of another user",
			userID:     "user-2",
			key:        "key-1",
			body:       `{"cart_line_ids":["line-1"],"address_id":"addr-1","payment_method":"COD"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "address of another user",
			setup: func(h *apiHarness) {
				h.carts.Put("user-2", domain.CartLine{
					ID:        "line-9",
					ProductID: "p1",
					Color:     "red",
					UnitPrice: decimal.NewFromInt(150_000),
					Quantity:  1,
				})
			},
			userID:     "user-2",
			key:        "key-1",
			body:       `{"cart_line_ids":["line-9"],"address_id":"addr-1","payment_method":"COD"}`,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			headers := map[string]string{}
			if tt.key != "" {
				headers["Idempotency-Key"] = tt.key
			}
			rec := h.do(t, http.MethodPost, "/v1/orders", tt.userID, tt.body, headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := h.store.Stock("p1", "red"); got != 5 {
				t.Errorf("stock = %d, want 5", got)
			}
		})
	}
}

func TestOrderReadEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "COD"))

	t.Run("get own order", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/v1/orders/"+created.Order.ID, "user-1", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := decode[orderEnvelope](t, rec).Order.Code; got != created.Order.Code {
			t.Errorf("code = %q, want %q", got, created.Order.Code)
		}
	})

	t.Run("get order of another user", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/v1/orders/"+created.Order.ID, "user-2", "", nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("get unknown order", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/v1/orders/missing", "user-1", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("list filtered by status", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/v1/orders?status=pending&page_size=10", "user-1", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode[struct {
			Orders   []json.RawMessage `json:"orders"`
			Page     int               `json:"page"`
			PageSize int               `json:"page_size"`
		}](t, rec)
		if len(body.Orders) != 1 || body.Page != 1 || body.PageSize != 10 {
			t.Errorf("got %d orders page %d size %d", len(body.Orders), body.Page, body.PageSize)
		}

		rec = h.do(t, http.MethodGet, "/v1/orders?status=cancelled", "user-1", "", nil)
		if n := len(decode[struct {
			Orders []json.RawMessage `json:"orders"`
		}](t, rec).Orders); n != 0 {
			t.Errorf("cancelled orders = %d, want 0", n)
		}
	})

	for _, query := range []string{"status=lost", "page=0", "page_size=abc"} {
		t.Run("list rejects "+query, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, "/v1/orders?"+query, "user-1", "", nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	t.Run("owner cancels a pending order", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "VNPAY"))

		rec := h.do(t, http.MethodPost, "/v1/orders/"+created.Order.ID+"/cancel", "user-1",
			`{"reason":"changed my mind"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if got := decode[orderEnvelope](t, rec).Order.Status; got != "CANCELLED" {
			t.Errorf("order_status = %q, want CANCELLED", got)
		}
		if _, ok := h.jobs.Get(created.Order.ID); ok {
			t.Error("auto-cancel job should be removed")
		}
	})

	t.Run("cancel without a body", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "COD"))

		rec := h.do(t, http.MethodPost, "/v1/orders/"+created.Order.ID+"/cancel", "user-1", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("another user cannot cancel", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "COD"))

		rec := h.do(t, http.MethodPost, "/v1/orders/"+created.Order.ID+"/cancel", "user-2", "", nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	t.Run("operator advances the status", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "COD"))

		rec := h.do(t, http.MethodPatch, "/v1/admin/orders/"+created.Order.ID+"/status", "",
			`{"status":"confirmed"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if got := decode[orderEnvelope](t, rec).Order.Status; got != "CONFIRMED" {
			t.Errorf("order_status = %q, want CONFIRMED", got)
		}
	})

	t.Run("invalid transition reports both ends", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "COD"))

		rec := h.do(t, http.MethodPatch, "/v1/admin/orders/"+created.Order.ID+"/status", "",
			`{"status":"DELIVERED"}`, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode[errorEnvelope](t, rec)
		if body.Details["from"] != "PENDING" || body.Details["to"] != "DELIVERED" {
			t.Errorf("details = %v", body.Details)
		}
	})

	t.Run("unpaid online order cannot be confirmed by hand", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "VNPAY"))

		rec := h.do(t, http.MethodPatch, "/v1/admin/orders/"+created.Order.ID+"/status", "",
			`{"status":"CONFIRMED"}`, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode[errorEnvelope](t, rec)
		if body.Details["reason"] != "awaiting payment confirmation" {
			t.Errorf("details = %v", body.Details)
		}
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		h := newAPIHarness(t)
		rec := h.do(t, http.MethodPatch, "/v1/admin/orders/any/status", "", `{"status":"LOST"}`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("shipping details are recorded", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "COD"))

		rec := h.do(t, http.MethodPatch, "/v1/admin/orders/"+created.Order.ID+"/shipping", "",
			`{"shipping_provider":"GHN","tracking_number":"GHN123"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		order, err := h.store.GetByID(context.Background(), created.Order.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if order.TrackingNumber != "GHN123" || order.ShippingProvider != "GHN" {
			t.Errorf("shipping = %q/%q", order.ShippingProvider, order.TrackingNumber)
		}
	})

	t.Run("empty shipping update is rejected", func(t *testing.T) {
		h := newAPIHarness(t)
		rec := h.do(t, http.MethodPatch, "/v1/admin/orders/any/shipping", "", `{}`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestPaymentIPNEndpoint(t *testing.T) {
	ipn := func(t *testing.T, h *apiHarness, params url.Values) ipnResponse {
		t.Helper()
		rec := h.do(t, http.MethodGet, "/v1/payments/vnpay/ipn?"+params.Encode(), "", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("IPN status = %d, want 200", rec.Code)
		}
		return decode[ipnResponse](t, rec)
	}

	pending := func(t *testing.T, h *apiHarness) *domain.Order {
		t.Helper()
		created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "VNPAY"))
		order, err := h.store.GetByID(context.Background(), created.Order.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		return order
	}

	t.Run("confirms payment then acknowledges the replay", func(t *testing.T) {
		h := newAPIHarness(t)
		order := pending(t, h)
		params := h.signedCallback(order.ID, order.Total, "00")

		if got := ipn(t, h, params); got.RspCode != "00" {
			t.Errorf("first RspCode = %q, want 00", got.RspCode)
		}
		if got := ipn(t, h, params); got.RspCode != "02" {
			t.Errorf("replay RspCode = %q, want 02", got.RspCode)
		}

		stored, _ := h.store.GetByID(context.Background(), order.ID)
		if stored.Status != domain.StatusConfirmed || stored.PaymentStatus != domain.PaymentPaid {
			t.Errorf("order = %s/%s, want CONFIRMED/PAID", stored.Status, stored.PaymentStatus)
		}
		if got := h.store.Stock("p1", "red"); got != 3 {
			t.Errorf("stock = %d, want 3", got)
		}
	})

	t.Run("rejections", func(t *testing.T) {
		h := newAPIHarness(t)
		order := pending(t, h)

		tampered := h.signedCallback(order.ID, order.Total, "00")
		tampered.Set("vnp_Amount", "100")

		tests := []struct {
			name   string
			params url.Values
			want   string
		}{
			{name: "invalid signature", params: tampered, want: "97"},
			{name: "unknown order", params: h.signedCallback("missing", order.Total, "00"), want: "01"},
			{name: "amount mismatch", params: h.signedCallback(order.ID, order.Total.Sub(decimal.NewFromInt(10_000)), "00"), want: "04"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := ipn(t, h, tt.params); got.RspCode != tt.want {
					t.Errorf("RspCode = %q (%s), want %q", got.RspCode, got.Message, tt.want)
				}
			})
		}

		stored, _ := h.store.GetByID(context.Background(), order.ID)
		if stored.PaymentStatus != domain.PaymentPending {
			t.Errorf("payment_status = %s, want PENDING", stored.PaymentStatus)
		}
	})
}

type returnEnvelope struct {
	Order struct {
		PaymentStatus string `json:"payment_status"`
	} `json:"order"`
	Payment struct {
		Success bool `json:"success"`
	} `json:"payment"`
}

func TestPaymentReturnEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	created := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "VNPAY"))
	order, _ := h.store.GetByID(context.Background(), created.Order.ID)

	t.Run("reports the redirect result without changing the order", func(t *testing.T) {
		params := h.signedCallback(order.ID, order.Total, "00")
		rec := h.do(t, http.MethodGet, "/v1/payments/vnpay/return?"+params.Encode(), "", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode[returnEnvelope](t, rec)
		if !body.Payment.Success {
			t.Error("payment.success = false, want true")
		}
		if body.Order.PaymentStatus != "PENDING" {
			t.Errorf("payment_status = %q, want PENDING", body.Order.PaymentStatus)
		}
	})

	t.Run("rejects an unsigned redirect", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/v1/payments/vnpay/return?vnp_TxnRef="+order.ID, "", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestPaymentURLEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	vnpayOrder := decode[orderEnvelope](t, h.createOrder(t, "key-1", "line-1", "VNPAY"))
	h.putLine("line-2", 1)
	codOrder := decode[orderEnvelope](t, h.createOrder(t, "key-2", "line-2", "COD"))

	rec := h.do(t, http.MethodGet, "/v1/orders/"+vnpayOrder.Order.ID+"/payment-url", "user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[orderEnvelope](t, rec).PaymentURL; got == "" {
		t.Error("expected a payment_url")
	}

	rec = h.do(t, http.MethodGet, "/v1/orders/"+codOrder.Order.ID+"/payment-url", "user-1", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("COD status = %d, want 400", rec.Code)
	}
}
