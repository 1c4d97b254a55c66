package commands_test

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"testing"

	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
)

func TestReconcilePayment(t *testing.T) {
	t.Run("successful payment confirms order and settles stock", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		result, err := h.reconcile(order.ID, "480000", "00")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if result.Outcome != domain.OutcomePaid {
			t.Errorf("expected outcome paid, got %s", result.Outcome)
		}
		stored := h.stored(t, order.ID)
		if stored.Status != domain.StatusConfirmed || stored.PaymentStatus != domain.PaymentPaid {
			t.Errorf("expected CONFIRMED/PAID, got %s/%s", stored.Status, stored.PaymentStatus)
		}
		if stored.TransactionRef != "TXN-00" || stored.PaidAt == nil {
			t.Errorf("expected transaction recorded, got ref=%q paid_at=%v", stored.TransactionRef, stored.PaidAt)
		}
		if got := h.store.Stock("p1", "red"); got != 7 {
			t.Errorf("expected stock 7, got %d", got)
		}
		if h.cartHas(t, "user-1", "line-1") {
			t.Error("expected cart line removed after payment")
		}
		if _, ok := h.scheduler.job(order.ID); ok {
			t.Error("expected auto-cancel job removed")
		}
		if got := h.notifier.types(); !slices.Contains(got, domain.NotifyPaymentSuccess) {
			t.Errorf("expected payment success notification, got %v", got)
		}
	})

	t.Run("replayed success is a no-op", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		if _, err := h.reconcile(order.ID, "480000", "00"); err != nil {
			t.Fatalf("first callback: %v", err)
		}
		result, err := h.reconcile(order.ID, "480000", "00")
		if err != nil {
			t.Fatalf("second callback: %v", err)
		}

		if result.Outcome != domain.OutcomeDuplicate {
			t.Errorf("expected outcome duplicate, got %s", result.Outcome)
		}
		if got := h.store.Stock("p1", "red"); got != 7 {
			t.Errorf("expected stock decremented once to 7, got %d", got)
		}
	})

	t.Run("failure keeps order pending and allows a later success", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		result, err := h.reconcile(order.ID, "480000", "24")
		if err != nil {
			t.Fatalf("failure callback: %v", err)
		}
		if result.Outcome != domain.OutcomeFailed {
			t.Errorf("expected outcome failed, got %s", result.Outcome)
		}
		stored := h.stored(t, order.ID)
		if stored.Status != domain.StatusPending || stored.PaymentStatus != domain.PaymentFailed {
			t.Errorf("expected PENDING/FAILED, got %s/%s", stored.Status, stored.PaymentStatus)
		}
		if got := h.store.Stock("p1", "red"); got != 10 {
			t.Errorf("expected stock untouched, got %d", got)
		}
		if _, ok := h.scheduler.job(order.ID); !ok {
			t.Error("expected auto-cancel job kept after failure")
		}

		if _, err := h.reconcile(order.ID, "480000", "00"); err != nil {
			t.Fatalf("success callback: %v", err)
		}
		stored = h.stored(t, order.ID)
		if stored.Status != domain.StatusConfirmed || stored.PaymentStatus != domain.PaymentPaid {
			t.Errorf("expected CONFIRMED/PAID, got %s/%s", stored.Status, stored.PaymentStatus)
		}
	})

	t.Run("repeated failure notifies once", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		for range 2 {
			if _, err := h.reconcile(order.ID, "480000", "24"); err != nil {
				t.Fatalf("failure callback: %v", err)
			}
		}

		var failed int
		for _, typ := range h.notifier.types() {
			if typ == domain.NotifyPaymentFailed {
				failed++
			}
		}
		if failed != 1 {
			t.Errorf("expected one payment failed notification, got %d", failed)
		}
	})

	t.Run("failure after success does not downgrade", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		if _, err := h.reconcile(order.ID, "480000", "00"); err != nil {
			t.Fatalf("success callback: %v", err)
		}
		result, err := h.reconcile(order.ID, "480000", "24")
		if err != nil {
			t.Fatalf("failure callback: %v", err)
		}
		if result.Outcome != domain.OutcomeDuplicate {
			t.Errorf("expected outcome duplicate, got %s", result.Outcome)
		}
		if stored := h.stored(t, order.ID); stored.PaymentStatus != domain.PaymentPaid {
			t.Errorf("expected PAID kept, got %s", stored.PaymentStatus)
		}
	})

	t.Run("amount within tolerance is accepted", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		result, err := h.reconcile(order.ID, "479999", "00")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if result.Outcome != domain.OutcomePaid {
			t.Errorf("expected outcome paid, got %s", result.Outcome)
		}
	})

	t.Run("amount mismatch leaves order unchanged", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		_, err := h.reconcile(order.ID, "470000", "00")

		var mismatch *domain.AmountMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("expected AmountMismatchError, got %v", err)
		}
		if mismatch.Expected.String() != "480000" || mismatch.Paid.String() != "470000" {
			t.Errorf("unexpected mismatch detail: %+v", mismatch)
		}
		stored := h.stored(t, order.ID)
		if stored.PaymentStatus != domain.PaymentPending || stored.Status != domain.StatusPending {
			t.Errorf("expected PENDING/PENDING, got %s/%s", stored.Status, stored.PaymentStatus)
		}
		if got := h.store.Stock("p1", "red"); got != 10 {
			t.Errorf("expected stock untouched, got %d", got)
		}
	})

	t.Run("late payment on cancelled order is recorded without reopening", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		expired, err := commands.NewExpireOrderCommandHandler(h.deps, h.opts).Handle(context.Background(),
			commands.ExpireOrderCommand{OrderID: order.ID, OrderCode: order.Code})
		if err != nil || !expired.Cancelled {
			t.Fatalf("expected order expired, got %+v, %v", expired, err)
		}

		result, err := h.reconcile(order.ID, "480000", "00")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if result.Outcome != domain.OutcomeLatePayment {
			t.Errorf("expected outcome late_payment, got %s", result.Outcome)
		}
		stored := h.stored(t, order.ID)
		if stored.Status != domain.StatusCancelled || stored.PaymentStatus != domain.PaymentPaid {
			t.Errorf("expected CANCELLED/PAID, got %s/%s", stored.Status, stored.PaymentStatus)
		}
		if got := h.store.Stock("p1", "red"); got != 10 {
			t.Errorf("expected stock untouched, got %d", got)
		}
	})
}

func TestReconcilePaymentRejections(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentVNPay)

		params := url.Values{"order_id": {order.ID}, "amount": {"480000"}, "code": {"00"}, "sig": {"forged"}}
		_, err := commands.NewReconcilePaymentCommandHandler(h.deps, h.opts).Handle(context.Background(),
			commands.ReconcilePaymentCommand{Params: params})
		if !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
		if stored := h.stored(t, order.ID); stored.PaymentStatus != domain.PaymentPending {
			t.Errorf("expected payment untouched, got %s", stored.PaymentStatus)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.reconcile("missing", "480000", "00")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("cash on delivery order", func(t *testing.T) {
		h := newHarness(t)
		order := h.create(t, domain.PaymentCOD)
		_, err := h.reconcile(order.ID, "480000", "00")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}
