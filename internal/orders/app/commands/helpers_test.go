package commands_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dejobratic/orderflow/internal/orders/adapters/memory"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/retry"
)

var testNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type mockGateway struct {
	createFn func(ctx context.Context, req domain.PaymentRequest) (string, error)
}

func (m *mockGateway) CreateRedirectURL(ctx context.Context, req domain.PaymentRequest) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return "https://pay.example.com/checkout?ref=" + req.OrderID, nil
}

// VerifyCallback accepts params signed with sig=valid and reads the plain fields.
func (m *mockGateway) VerifyCallback(_ context.Context, params url.Values) (domain.PaymentCallback, error) {
	if params.Get("sig") != "valid" {
		return domain.PaymentCallback{}, domain.ErrInvalidSignature
	}
	amount, err := decimal.NewFromString(params.Get("amount"))
	if err != nil {
		return domain.PaymentCallback{}, domain.NewValidationError("amount", "is not a number")
	}
	return domain.PaymentCallback{
		OrderID:       params.Get("order_id"),
		Amount:        amount,
		ResponseCode:  params.Get("code"),
		TransactionID: params.Get("txn"),
		Success:       params.Get("code") == "00",
	}, nil
}

type scheduledJob struct {
	orderCode string
	delay     time.Duration
}

type mockScheduler struct {
	mu          sync.Mutex
	jobs        map[string]scheduledJob
	cancelled   []string
	scheduleErr error
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{jobs: make(map[string]scheduledJob)}
}

func (m *mockScheduler) Schedule(_ context.Context, orderID, orderCode string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduleErr != nil {
		return m.scheduleErr
	}
	m.jobs[orderID] = scheduledJob{orderCode: orderCode, delay: delay}
	return nil
}

func (m *mockScheduler) Cancel(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, orderID)
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockScheduler) job(orderID string) (scheduledJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[orderID]
	return j, ok
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Enqueue(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) types() []domain.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationType, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Type)
	}
	return out
}

type harness struct {
	store     *memory.Store
	carts     *memory.Carts
	addresses *memory.Addresses
	gateway   *mockGateway
	scheduler *mockScheduler
	notifier  *recordingNotifier
	deps      commands.Dependencies
	opts      commands.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     memory.NewStore(),
		carts:     memory.NewCarts(),
		addresses: memory.NewAddresses(),
		gateway:   &mockGateway{},
		scheduler: newMockScheduler(),
		notifier:  &recordingNotifier{},
	}

	h.store.SetStock("p1", "Áo thun", "red", 10)
	h.store.SetStock("p2", "Mũ lưỡi trai", "black", 10)
	h.addresses.Put(domain.Address{
		ID:            "addr-1",
		UserID:        "user-1",
		RecipientName: "Nguyễn Văn A",
		Phone:         "0900000000",
		Street:        "1 Tràng Tiền",
		District:      "Hoàn Kiếm",
		City:          "Hà Nội",
	})
	h.carts.Put("user-1", domain.CartLine{
		ID:          "line-1",
		ProductID:   "p1",
		ProductName: "Áo thun",
		Color:       "red",
		UnitPrice:   decimal.NewFromInt(150_000),
		Quantity:    3,
	})

	h.deps = commands.Dependencies{
		Store:     h.store,
		Stock:     h.store,
		Carts:     h.carts,
		Addresses: h.addresses,
		Gateway:   h.gateway,
		Scheduler: h.scheduler,
		Notifier:  h.notifier,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	h.opts = commands.DefaultOptions()
	h.opts.Clock = func() time.Time { return testNow }
	h.opts.Retry = retry.Policy{Attempts: 1, InitialInterval: time.Millisecond}

	return h
}

func (h *harness) create(t *testing.T, method domain.PaymentMethod) *domain.Order {
	t.Helper()
	result, err := commands.NewCreateOrderCommandHandler(h.deps, h.opts).Handle(context.Background(), commands.CreateOrderCommand{
		UserID:        "user-1",
		CartLineIDs:   []string{"line-1"},
		AddressID:     "addr-1",
		PaymentMethod: method,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return result.Order
}

func (h *harness) reconcile(orderID, amount, code string) (*commands.ReconcileResult, error) {
	params := url.Values{}
	params.Set("sig", "valid")
	params.Set("order_id", orderID)
	params.Set("amount", amount)
	params.Set("code", code)
	params.Set("txn", "TXN-"+code)
	return commands.NewReconcilePaymentCommandHandler(h.deps, h.opts).Handle(context.Background(),
		commands.ReconcilePaymentCommand{Params: params})
}

func (h *harness) stored(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load order %s: %v", id, err)
	}
	return *order
}

func (h *harness) cartHas(t *testing.T, userID, lineID string) bool {
	t.Helper()
	cart, err := h.carts.Snapshot(context.Background(), userID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, l := range cart.Lines {
		if l.ID == lineID {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
