package discount

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scope is the granularity a rule applies to.
type Scope string

const (
	// ScopeOrder discounts the whole order subtotal.
	ScopeOrder Scope = "order"
	// ScopeCategory discounts lines within a category subtree.
	ScopeCategory Scope = "category"
	// ScopeItem discounts lines of a single product variant.
	ScopeItem Scope = "item"
)

// Kind selects how the rule value turns into a currency amount.
type Kind string

const (
	// KindFixed takes a flat amount off the base, never more than the base.
	KindFixed Kind = "fixed"
	// KindPercentage takes a percentage of the base.
	KindPercentage Kind = "percentage"
)

var (
	// ErrRuleNotFound is returned when a discount rule does not exist.
	ErrRuleNotFound = errors.New("discount rule not found")

	hundred = decimal.NewFromInt(100)
)

// Conditions are optional thresholds a rule's base must reach. A nil field
// means the condition does not apply.
type Conditions struct {
	MinOrderAmount *decimal.Decimal
	MinQuantity    *int
}

// Rule is an administratively managed discount rule.
type Rule struct {
	ID              string
	Name            string
	Active          bool
	StartDate       time.Time
	EndDate         *time.Time
	Scope           Scope
	Kind            Kind
	Value           decimal.Decimal
	RequiresLoyalty bool
	Stackable       bool
	Conditions      Conditions
	CategoryID      *string
	VariantID       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// User is the part of a customer account the engine cares about.
type User struct {
	ID            string
	LoyaltyMember bool
}

// Line is a priced order item or cart line.
type Line struct {
	VariantID  string
	CategoryID string
	Quantity   int
	Amount     decimal.Decimal
}

// Order is the engine's view of a persisted order.
type Order struct {
	ID       string
	User     User
	Lines    []Line
	Subtotal decimal.Decimal
}

// Metadata snapshots the rule configuration at the time it was applied.
type Metadata struct {
	RuleName  string
	Kind      Kind
	Value     decimal.Decimal
	Stackable bool
}

// AppliedDiscount attributes part of an order's discount to a single rule.
// There is at most one per (OrderID, RuleID).
type AppliedDiscount struct {
	OrderID  string
	RuleID   string
	Scope    Scope
	Amount   decimal.Decimal
	Metadata Metadata
}

// SubtotalOf sums line amounts.
func SubtotalOf(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	return sum
}

func (r Rule) metadata() Metadata {
	return Metadata{
		RuleName:  r.Name,
		Kind:      r.Kind,
		Value:     r.Value,
		Stackable: r.Stackable,
	}
}
