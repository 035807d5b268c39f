package order

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// Status is the lifecycle state of an order.
type Status string

// StatusCreated is the status of a freshly checked out order.
const StatusCreated Status = "created"

// Order is a persisted customer order with its computed totals.
type Order struct {
	ID        string
	Number    int64
	UserID    string
	Status    Status
	Lines     []Line
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is an order item priced at checkout.
type Line struct {
	VariantID  string
	CategoryID string
	Name       string
	Quantity   int
	UnitRate   decimal.Decimal
}

// Amount is quantity × unit rate.
func (l Line) Amount() decimal.Decimal {
	return l.UnitRate.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Item is a requested variant and quantity.
type Item struct {
	VariantID string
	Quantity  int
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	UpdateTotals(ctx context.Context, id string, subtotal, discount, total decimal.Decimal) error
}

// Transactor runs fn inside a single database transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ScopeBreakdown aggregates an order's applied discounts of one scope.
type ScopeBreakdown struct {
	Scope     discount.Scope
	Total     decimal.Decimal
	Count     int
	Discounts []discount.AppliedDiscount
}

// Breakdown groups applied discounts by scope. Groups follow the
// order-category-item scope order; discounts within a group are sorted by
// descending amount.
func Breakdown(applied []discount.AppliedDiscount) []ScopeBreakdown {
	sorted := append([]discount.AppliedDiscount(nil), applied...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Amount.Equal(sorted[j].Amount) {
			return sorted[i].Amount.GreaterThan(sorted[j].Amount)
		}
		return sorted[i].RuleID < sorted[j].RuleID
	})

	groups := map[discount.Scope]*ScopeBreakdown{}
	for _, a := range sorted {
		g, ok := groups[a.Scope]
		if !ok {
			g = &ScopeBreakdown{Scope: a.Scope, Total: decimal.Zero}
			groups[a.Scope] = g
		}
		g.Total = g.Total.Add(a.Amount)
		g.Count++
		g.Discounts = append(g.Discounts, a)
	}

	out := make([]ScopeBreakdown, 0, len(groups))
	for _, scope := range []discount.Scope{discount.ScopeOrder, discount.ScopeCategory, discount.ScopeItem} {
		if g, ok := groups[scope]; ok {
			out = append(out, *g)
			delete(groups, scope)
		}
	}
	rest := make([]string, 0, len(groups))
	for scope := range groups {
		rest = append(rest, string(scope))
	}
	sort.Strings(rest)
	for _, scope := range rest {
		out = append(out, *groups[discount.Scope(scope)])
	}
	return out
}
