package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/account"
	"github.com/xenking/kart-discounts/internal/domain/catalog"
	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// Sentinel errors for order validation and lookup.
var (
	ErrEmptyItems = errors.New("items required")
	ErrNotFound   = errors.New("order not found")
)

// VariantNotFoundError indicates a requested variant does not exist or is no
// longer sold.
type VariantNotFoundError struct {
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("product variant %s not found", e.VariantID)
}

// MaxQuantity bounds a line quantity, including the merged quantity of
// repeated variants. It matches the order_items.quantity column.
const MaxQuantity = math.MaxInt32

// InvalidQuantityError indicates a line item quantity outside 1..MaxQuantity.
type InvalidQuantityError struct {
	VariantID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for variant %s", MaxQuantity, e.VariantID)
}

// VariantSource prices variants.
type VariantSource interface {
	Variants(ctx context.Context, ids []string) (map[string]catalog.Variant, error)
}

// DiscountEngine is the part of discount.Engine used by orders.
type DiscountEngine interface {
	Preview(ctx context.Context, user discount.User, lines []discount.Line, subtotal decimal.Decimal) (*discount.Preview, error)
	Commit(ctx context.Context, order discount.Order) (decimal.Decimal, error)
}

// CheckoutRequest holds the input for placing an order.
type CheckoutRequest struct {
	UserID string
	Items  []Item
}

// Details is an order with its discount attribution.
type Details struct {
	Order     *Order
	Applied   []discount.AppliedDiscount
	Breakdown []ScopeBreakdown
}

// Service encapsulates checkout and order total computation.
type Service struct {
	variants VariantSource
	users    account.Repository
	orders   Repository
	applied  discount.AttributionReader
	engine   DiscountEngine
	tx       Transactor
	now      func() time.Time
	lg       *zap.Logger
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	variants VariantSource,
	users account.Repository,
	orders Repository,
	applied discount.AttributionReader,
	engine DiscountEngine,
	tx Transactor,
	lg *zap.Logger,
) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		variants: variants,
		users:    users,
		orders:   orders,
		applied:  applied,
		engine:   engine,
		tx:       tx,
		now:      time.Now,
		lg:       lg,
	}
}

// Checkout validates items, prices them from the catalog, persists the order
// and computes its totals in one transaction.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Details, error) {
	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	lines, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Status:    StatusCreated,
		Lines:     lines,
		Subtotal:  subtotal(lines),
		Discount:  decimal.Zero,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		return s.recompute(ctx, o, user)
	}); err != nil {
		return nil, err
	}

	s.lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", user.ID),
		zap.Int("lines", len(o.Lines)),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return s.Get(ctx, o.ID)
}

// RecomputeTotals re-runs the discount engine against the stored order and
// writes subtotal, discount and total together with the attribution rows.
func (s *Service) RecomputeTotals(ctx context.Context, id string) (*Order, error) {
	var out *Order
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		user, err := s.users.GetByID(ctx, o.UserID)
		if err != nil {
			return errors.Wrap(err, "get order user")
		}
		if err := s.recompute(ctx, o, user); err != nil {
			return err
		}
		out = o
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) recompute(ctx context.Context, o *Order, user *account.User) error {
	sub := subtotal(o.Lines)
	amount, err := s.engine.Commit(ctx, discount.Order{
		ID:       o.ID,
		User:     discount.User{ID: user.ID, LoyaltyMember: user.LoyaltyMember},
		Lines:    discountLines(o.Lines),
		Subtotal: sub,
	})
	if err != nil {
		return errors.Wrap(err, "commit discounts")
	}

	// Total = subtotal - discount, floored at zero and rounded to 2 decimal places.
	total := sub.Sub(amount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Subtotal = sub.Round(2)
	o.Discount = amount.Round(2)
	o.Total = total.Round(2)

	if err := s.orders.UpdateTotals(ctx, o.ID, o.Subtotal, o.Discount, o.Total); err != nil {
		return errors.Wrap(err, "update order totals")
	}
	return nil
}

// Get returns an order with its discount breakdown.
func (s *Service) Get(ctx context.Context, id string) (*Details, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applied, err := s.applied.AppliedDiscounts(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get applied discounts")
	}
	return &Details{
		Order:     o,
		Applied:   applied,
		Breakdown: Breakdown(applied),
	}, nil
}

// Preview prices cart items and evaluates discounts without persisting
// anything.
func (s *Service) Preview(ctx context.Context, userID string, items []Item) (*discount.Preview, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines, err := s.priceItems(ctx, items)
	if err != nil {
		return nil, err
	}
	return s.engine.Preview(ctx,
		discount.User{ID: user.ID, LoyaltyMember: user.LoyaltyMember},
		discountLines(lines),
		subtotal(lines),
	)
}

// priceItems validates items and prices them from the catalog. Repeated
// variants are merged into one line.
func (s *Service) priceItems(ctx context.Context, items []Item) ([]Line, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	quantities := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return nil, &InvalidQuantityError{VariantID: item.VariantID}
		}
		merged, seen := quantities[item.VariantID]
		if !seen {
			ids = append(ids, item.VariantID)
		}
		// Both operands are at most MaxQuantity, so the sum cannot overflow int.
		if merged+item.Quantity > MaxQuantity {
			return nil, &InvalidQuantityError{VariantID: item.VariantID}
		}
		quantities[item.VariantID] = merged + item.Quantity
	}

	variants, err := s.variants.Variants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}

	lines := make([]Line, 0, len(ids))
	for _, id := range ids {
		v, ok := variants[id]
		if !ok || !v.Active {
			return nil, &VariantNotFoundError{VariantID: id}
		}
		lines = append(lines, Line{
			VariantID:  v.ID,
			CategoryID: v.CategoryID,
			Name:       v.Name,
			Quantity:   quantities[id],
			UnitRate:   v.Price,
		})
	}
	return lines, nil
}

func subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

func discountLines(lines []Line) []discount.Line {
	out := make([]discount.Line, len(lines))
	for i, l := range lines {
		out[i] = discount.Line{
			VariantID:  l.VariantID,
			CategoryID: l.CategoryID,
			Quantity:   l.Quantity,
			Amount:     l.Amount(),
		}
	}
	return out
}
