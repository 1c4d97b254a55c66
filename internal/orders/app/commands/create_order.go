package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type CreateOrderCommand struct {
	UserID        string
	CartLineIDs   []string
	AddressID     string
	PaymentMethod domain.PaymentMethod
	Notes         string
	DiscountCode  string
	ClientIP      string
}

func (c CreateOrderCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return domain.NewValidationError("user_id", "is required")
	}
	if len(c.CartLineIDs) == 0 {
		return domain.NewValidationError("cart_line_ids", "at least one cart line is required")
	}
	seen := make(map[string]struct{}, len(c.CartLineIDs))
	for _, id := range c.CartLineIDs {
		if strings.TrimSpace(id) == "" {
			return domain.NewValidationError("cart_line_ids", "must not contain empty ids")
		}
		if _, dup := seen[id]; dup {
			return domain.NewValidationError("cart_line_ids", fmt.Sprintf("duplicate cart line %s", id))
		}
		seen[id] = struct{}{}
	}
	if strings.TrimSpace(c.AddressID) == "" {
		return domain.NewValidationError("address_id", "is required")
	}
	if !c.PaymentMethod.Valid() {
		return domain.NewValidationError("payment_method", fmt.Sprintf("unsupported payment method %q", c.PaymentMethod))
	}
	return nil
}

// CreateOrderResult carries the created order and, for deferred settlement, the
// redirect the buyer should follow. PaymentURL is empty when it could not be created.
type CreateOrderResult struct {
	Order      *domain.Order
	PaymentURL string
}

type CreateOrderHandler interface {
	Handle(ctx context.Context, cmd CreateOrderCommand) (*CreateOrderResult, error)
}

type CreateOrderCommandHandler struct {
	deps    Dependencies
	opts    Options
	effects sideEffects
}

func NewCreateOrderCommandHandler(deps Dependencies, opts Options) *CreateOrderCommandHandler {
	return &CreateOrderCommandHandler{
		deps:    deps,
		opts:    opts,
		effects: sideEffects{deps: deps, opts: opts},
	}
}

func (h *CreateOrderCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*CreateOrderResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	order, err := h.draft(ctx, cmd)
	if err != nil {
		return nil, err
	}

	err = h.deps.Store.InTx(ctx, func(ctx context.Context, tx ports.OrderTx) error {
		if err := reserveStock(ctx, tx, order); err != nil {
			return err
		}

		seq, err := tx.NextOrderSequence(ctx, order.CreatedAt)
		if err != nil {
			return fmt.Errorf("next order sequence: %w", err)
		}
		order.Code = domain.FormatOrderCode(domain.OrderCodeDay(order.CreatedAt), seq)

		if err := tx.InsertOrder(ctx, *order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CreateOrderResult{Order: order}

	if order.PaymentMethod.SettlesImmediately() {
		h.effects.clearCart(ctx, *order)
	} else {
		result.PaymentURL = h.paymentURL(ctx, *order, cmd.ClientIP)
		h.effects.schedule(ctx, *order)
	}
	h.effects.notify(ctx, domain.NotifyOrderConfirmation, *order)

	return result, nil
}

func (h *CreateOrderCommandHandler) draft(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	cart, err := h.deps.Carts.Snapshot(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	lines, missing := cart.Select(cmd.CartLineIDs)
	if len(missing) > 0 {
		return nil, domain.NewValidationError("cart_line_ids",
			fmt.Sprintf("unknown cart lines: %s", strings.Join(missing, ", ")))
	}

	address, err := h.deps.Addresses.Get(ctx, cmd.AddressID, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	now := h.opts.now()
	order := &domain.Order{
		ID:            uuid.NewString(),
		UserID:        cmd.UserID,
		Shipping:      address.Shipping(),
		Items:         make([]domain.LineItem, 0, len(lines)),
		Discount:      decimal.Zero,
		DiscountCode:  strings.TrimSpace(cmd.DiscountCode),
		Notes:         strings.TrimSpace(cmd.Notes),
		Status:        domain.StatusPending,
		PaymentStatus: domain.PaymentPending,
		PaymentMethod: cmd.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, domain.NewValidationError("cart_line_ids",
				fmt.Sprintf("cart line %s has quantity %d", line.ID, line.Quantity))
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() || line.Discount.GreaterThan(line.UnitPrice) {
			return nil, domain.NewValidationError("cart_line_ids",
				fmt.Sprintf("cart line %s has an invalid price", line.ID))
		}
		order.Items = append(order.Items, domain.LineItem{
			CartLineID:   line.ID,
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			ProductImage: line.ProductImage,
			Color:        line.Color,
			UnitPrice:    line.UnitPrice,
			Discount:     line.Discount,
			Quantity:     line.Quantity,
		})
	}

	h.opts.Pricing.Totals(order)
	return order, nil
}

func (h *CreateOrderCommandHandler) paymentURL(ctx context.Context, order domain.Order, clientIP string) string {
	if h.deps.Gateway == nil {
		return ""
	}
	url, err := h.deps.Gateway.CreateRedirectURL(ctx, domain.PaymentRequest{
		OrderID:   order.ID,
		OrderCode: order.Code,
		Amount:    order.Total,
		ClientIP:  clientIP,
	})
	if err != nil {
		h.effects.logger().WarnContext(ctx, "failed to create payment redirect",
			"error", err,
			"order_id", order.ID,
		)
		return ""
	}
	return url
}

type variantDemand struct {
	productID   string
	productName string
	color       string
	quantity    int
}

// reserveStock locks every variant of the order in (product_id, color) order and checks
// availability. Immediate-settlement orders decrement while the locks are held.
func reserveStock(ctx context.Context, tx ports.OrderTx, order *domain.Order) error {
	demands := aggregateDemand(order.Items)

	for _, d := range demands {
		variant, err := tx.LockVariant(ctx, d.productID, d.color)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewValidationError("cart_line_ids",
					fmt.Sprintf("product %s (%s) is no longer available", d.productName, d.color))
			}
			return fmt.Errorf("lock variant: %w", err)
		}
		if variant.Stock < d.quantity {
			name := variant.ProductName
			if name == "" {
				name = d.productName
			}
			return &domain.InsufficientStockError{
				ProductID:   d.productID,
				ProductName: name,
				Color:       d.color,
				Requested:   d.quantity,
				Available:   variant.Stock,
			}
		}
	}

	if !order.PaymentMethod.SettlesImmediately() {
		return nil
	}

	for _, d := range demands {
		if err := tx.DecrementStock(ctx, d.productID, d.color, d.quantity); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
	}
	return nil
}

func aggregateDemand(items []domain.LineItem) []variantDemand {
	byKey := make(map[[2]string]*variantDemand, len(items))
	for _, item := range items {
		k := [2]string{item.ProductID, item.Color}
		d, ok := byKey[k]
		if !ok {
			d = &variantDemand{productID: item.ProductID, productName: item.ProductName, color: item.Color}
			byKey[k] = d
		}
		d.quantity += item.Quantity
	}

	demands := make([]variantDemand, 0, len(byKey))
	for _, d := range byKey {
		demands = append(demands, *d)
	}
	sort.Slice(demands, func(i, j int) bool {
		if demands[i].productID != demands[j].productID {
			return demands[i].productID < demands[j].productID
		}
		return demands[i].color < demands[j].color
	})
	return demands
}
