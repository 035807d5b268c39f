package discount

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func isActive(r Rule) bool {
	return r.Active
}

func inWindow(r Rule, now time.Time) bool {
	if r.StartDate.After(now) {
		return false
	}
	return r.EndDate == nil || !r.EndDate.Before(now)
}

func loyaltyAllows(r Rule, u User) bool {
	return !r.RequiresLoyalty || u.LoyaltyMember
}

// currentlyValid holds for rules that pass the user-independent filters.
func currentlyValid(r Rule, now time.Time) bool {
	return isActive(r) && inWindow(r, now)
}

// Resolver produces the set of rules a user is eligible for, using the shared
// RuleCache to avoid querying the rule store on every request.
type Resolver struct {
	store RuleStore
	cache *RuleCache
	lg    *zap.Logger
}

// NewResolver creates a Resolver. cache may be nil.
func NewResolver(store RuleStore, cache *RuleCache, lg *zap.Logger) *Resolver {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Resolver{store: store, cache: cache, lg: lg}
}

// EligibleRules returns the rules that are active, inside their validity
// window at now and open to the user's loyalty status, ordered by rule ID.
func (r *Resolver) EligibleRules(ctx context.Context, user User, subtotal decimal.Decimal, now time.Time) ([]Rule, error) {
	rules, err := r.currentRules(ctx, user, now)
	if err != nil {
		return nil, err
	}

	eligible := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if currentlyValid(rule, now) && loyaltyAllows(rule, user) {
			eligible = append(eligible, rule)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].ID < eligible[j].ID
	})

	r.lg.Debug("Resolved eligible discount rules",
		zap.String("user_id", user.ID),
		zap.Bool("loyalty", user.LoyaltyMember),
		zap.String("subtotal", subtotal.StringFixed(2)),
		zap.Int("rules", len(eligible)),
	)
	return eligible, nil
}

// currentRules loads candidate rules either through the cached ID slots or,
// on a miss, with a single store query that also repopulates the cache.
func (r *Resolver) currentRules(ctx context.Context, user User, now time.Time) ([]Rule, error) {
	if activeIDs, loyaltyIDs, ok := r.cache.Load(ctx); ok {
		ids := activeIDs
		if !user.LoyaltyMember {
			ids = difference(activeIDs, loyaltyIDs)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		rules, err := r.store.RulesByIDs(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "load cached rules")
		}
		return rules, nil
	}

	rules, err := r.store.FetchRules(ctx, RuleFilter{ActiveOn: now, Loyalty: LoyaltyAny})
	if err != nil {
		return nil, errors.Wrap(err, "fetch rules")
	}

	active := make([]string, 0, len(rules))
	loyalty := make([]string, 0)
	for _, rule := range rules {
		if !currentlyValid(rule, now) {
			continue
		}
		active = append(active, rule.ID)
		if rule.RequiresLoyalty {
			loyalty = append(loyalty, rule.ID)
		}
	}
	sort.Strings(active)
	sort.Strings(loyalty)
	r.cache.Store(ctx, active, loyalty)

	return rules, nil
}

// difference returns the elements of a that are not in b, keeping a's order.
func difference(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	exclude := make(map[string]struct{}, len(b))
	for _, id := range b {
		exclude[id] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, id := range a {
		if _, ok := exclude[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
