package discount

import (
	"github.com/shopspring/decimal"
)

// Reasons reported when a rule does not qualify.
const (
	ReasonBelowMinAmount    = "minimum amount not met"
	ReasonBelowMinQuantity  = "minimum quantity not met"
	ReasonNoMatchingItems   = "no matching items"
	ReasonMissingCategory   = "misconfigured: category scope without category"
	ReasonMissingVariant    = "misconfigured: item scope without product variant"
	ReasonUnsupportedScope  = "misconfigured: unsupported scope"
	ReasonZeroDiscount      = "computed discount is zero"
	ReasonAppliedStackable  = "applied: stackable"
	ReasonAppliedBest       = "applied: best non-stackable discount"
	ReasonOutbidNonStacking = "not applied: a larger non-stackable discount was applied"
)

// View is the part of an order or cart that scope evaluators read.
type View struct {
	User     User
	Subtotal decimal.Decimal
	Lines    []Line
}

// Evaluation is the outcome of evaluating one rule's scope against a view.
type Evaluation struct {
	Base      decimal.Decimal
	Quantity  int
	Qualifies bool
	Reason    string
}

// Misconfigured reports whether the rule failed because of its own
// configuration rather than the order contents.
func (e Evaluation) Misconfigured() bool {
	switch e.Reason {
	case ReasonMissingCategory, ReasonMissingVariant, ReasonUnsupportedScope:
		return true
	}
	return false
}

// Evaluate computes the base amount for the rule's scope and whether the
// rule's conditions pass. It never fails: rules missing a scope target simply
// do not qualify. A nil tree limits category rules to the exact category.
func Evaluate(rule Rule, view View, tree CategoryTree) Evaluation {
	switch rule.Scope {
	case ScopeOrder:
		return evaluateOrder(rule, view)
	case ScopeCategory:
		return evaluateCategory(rule, view, tree)
	case ScopeItem:
		return evaluateItem(rule, view)
	default:
		return Evaluation{Base: decimal.Zero, Reason: ReasonUnsupportedScope}
	}
}

func evaluateOrder(rule Rule, view View) Evaluation {
	ev := Evaluation{Base: view.Subtotal, Quantity: totalQuantity(view.Lines)}
	if floor := rule.Conditions.MinOrderAmount; floor != nil && view.Subtotal.LessThan(*floor) {
		ev.Reason = ReasonBelowMinAmount
		return ev
	}
	ev.Qualifies = true
	return ev
}

func evaluateCategory(rule Rule, view View, tree CategoryTree) Evaluation {
	if rule.CategoryID == nil || *rule.CategoryID == "" {
		return Evaluation{Base: decimal.Zero, Reason: ReasonMissingCategory}
	}

	var closure map[string]struct{}
	if tree != nil {
		closure = tree.DescendantsOf(*rule.CategoryID)
	} else {
		closure = map[string]struct{}{*rule.CategoryID: {}}
	}

	base, qty := sumMatching(view.Lines, func(l Line) bool {
		_, ok := closure[l.CategoryID]
		return ok
	})
	return checkConditions(rule.Conditions, base, qty)
}

func evaluateItem(rule Rule, view View) Evaluation {
	if rule.VariantID == nil || *rule.VariantID == "" {
		return Evaluation{Base: decimal.Zero, Reason: ReasonMissingVariant}
	}

	variant := *rule.VariantID
	base, qty := sumMatching(view.Lines, func(l Line) bool {
		return l.VariantID == variant
	})
	return checkConditions(rule.Conditions, base, qty)
}

// checkConditions applies the category/item qualification logic: something
// must match, then the optional minimums are compared against the matching
// subtotal and quantity.
func checkConditions(c Conditions, base decimal.Decimal, qty int) Evaluation {
	ev := Evaluation{Base: base, Quantity: qty}
	switch {
	case !base.IsPositive():
		ev.Reason = ReasonNoMatchingItems
	case c.MinOrderAmount != nil && base.LessThan(*c.MinOrderAmount):
		ev.Reason = ReasonBelowMinAmount
	case c.MinQuantity != nil && qty < *c.MinQuantity:
		ev.Reason = ReasonBelowMinQuantity
	default:
		ev.Qualifies = true
	}
	return ev
}

func sumMatching(lines []Line, match func(Line) bool) (decimal.Decimal, int) {
	sum := decimal.Zero
	qty := 0
	for _, l := range lines {
		if !match(l) {
			continue
		}
		sum = sum.Add(l.Amount)
		qty += l.Quantity
	}
	return sum, qty
}

func totalQuantity(lines []Line) int {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return total
}
