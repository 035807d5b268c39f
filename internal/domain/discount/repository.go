package discount

import (
	"context"
	"time"
)

// LoyaltyFilter narrows a rule query by the loyalty gate.
type LoyaltyFilter int

const (
	// LoyaltyAny returns rules regardless of RequiresLoyalty.
	LoyaltyAny LoyaltyFilter = iota
	// LoyaltyOnly returns only rules that require loyalty membership.
	LoyaltyOnly
	// LoyaltyExcluded returns only rules open to every user.
	LoyaltyExcluded
)

// RuleFilter selects rules that are active and inside their validity window
// at ActiveOn.
type RuleFilter struct {
	ActiveOn time.Time
	Loyalty  LoyaltyFilter
}

// ListFilter narrows the administrative rule listing. Nil and zero fields are
// ignored.
type ListFilter struct {
	Scope           Scope
	Kind            Kind
	Active          *bool
	RequiresLoyalty *bool
	Stackable       *bool
	Search          string
}

// RuleStore is the read side of the rule store used by the eligibility
// resolver.
type RuleStore interface {
	FetchRules(ctx context.Context, filter RuleFilter) ([]Rule, error)
	RulesByIDs(ctx context.Context, ids []string) ([]Rule, error)
}

// RuleRepository adds administrative operations on top of RuleStore.
type RuleRepository interface {
	RuleStore
	GetByID(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context, filter ListFilter) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Deactivate(ctx context.Context, id string, at time.Time) error
}

// AttributionWriter persists applied discount records for the commit path.
type AttributionWriter interface {
	UpsertAppliedDiscount(ctx context.Context, applied AppliedDiscount) error
	// DeleteAppliedDiscountsExcept removes an order's attribution rows whose
	// rule is not listed in keep.
	DeleteAppliedDiscountsExcept(ctx context.Context, orderID string, keep []string) error
}

// AttributionReader lists the applied discounts of an order.
type AttributionReader interface {
	AppliedDiscounts(ctx context.Context, orderID string) ([]AppliedDiscount, error)
}

// CategoryTree resolves a category to itself plus all of its descendants.
type CategoryTree interface {
	DescendantsOf(id string) map[string]struct{}
}

// CategorySource provides the category tree used by category-scoped rules.
type CategorySource interface {
	CategoryTree(ctx context.Context) (CategoryTree, error)
}

// CategorySourceFunc adapts a function to CategorySource.
type CategorySourceFunc func(ctx context.Context) (CategoryTree, error)

// CategoryTree implements CategorySource.
func (f CategorySourceFunc) CategoryTree(ctx context.Context) (CategoryTree, error) {
	return f(ctx)
}
