package discount

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	maxNameLength = 100
	// amountPlaces and maxAmount match the NUMERIC(10,2) rule columns.
	amountPlaces = 2
	maxQuantity  = math.MaxInt32
)

var maxAmount = decimal.New(1, 8) // exclusive

// checkAmount reports why v cannot be stored as a rule amount, or "".
func checkAmount(v decimal.Decimal) string {
	switch {
	case !v.Equal(v.Round(amountPlaces)):
		return fmt.Sprintf("must have at most %d decimal places", amountPlaces)
	case v.GreaterThanOrEqual(maxAmount):
		return "must be less than " + maxAmount.String()
	}
	return ""
}

// ValidationError describes a rule field that violates a configuration
// constraint.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks the rule against the data model invariants: scope targets
// present, value within range for its kind, and a coherent validity window.
func (r *Rule) Validate() error {
	if len(r.Name) > maxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}

	switch r.Scope {
	case ScopeOrder:
	case ScopeCategory:
		if r.CategoryID == nil || *r.CategoryID == "" {
			return &ValidationError{Field: "category_id", Message: "category is required for category-scoped discounts"}
		}
	case ScopeItem:
		if r.VariantID == nil || *r.VariantID == "" {
			return &ValidationError{Field: "variant_id", Message: "product variant is required for item-scoped discounts"}
		}
	default:
		return &ValidationError{Field: "scope", Message: fmt.Sprintf("unsupported scope %q", r.Scope)}
	}

	if r.Value.IsNegative() {
		return &ValidationError{Field: "value", Message: "discount value cannot be negative"}
	}
	if msg := checkAmount(r.Value); msg != "" {
		return &ValidationError{Field: "value", Message: msg}
	}
	switch r.Kind {
	case KindFixed:
	case KindPercentage:
		if r.Value.GreaterThan(hundred) {
			return &ValidationError{Field: "value", Message: "percentage discount must be between 0 and 100"}
		}
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported discount kind %q", r.Kind)}
	}

	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return &ValidationError{Field: "end_date", Message: "end date must be after start date"}
	}

	c := r.Conditions
	if c.MinOrderAmount != nil {
		if c.MinOrderAmount.IsNegative() {
			return &ValidationError{Field: "min_order_amount", Message: "cannot be negative"}
		}
		if msg := checkAmount(*c.MinOrderAmount); msg != "" {
			return &ValidationError{Field: "min_order_amount", Message: msg}
		}
	}
	if c.MinQuantity != nil {
		if *c.MinQuantity < 0 {
			return &ValidationError{Field: "min_quantity", Message: "cannot be negative"}
		}
		if *c.MinQuantity > maxQuantity {
			return &ValidationError{Field: "min_quantity", Message: fmt.Sprintf("must be at most %d", maxQuantity)}
		}
	}
	return nil
}
