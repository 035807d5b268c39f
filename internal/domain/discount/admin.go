package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Admin manages discount rules. Every successful mutation drops the shared
// rule cache before returning.
type Admin struct {
	repo        RuleRepository
	invalidator Invalidator
	now         func() time.Time
	lg          *zap.Logger
}

// NewAdmin creates an Admin. invalidator may be nil.
func NewAdmin(repo RuleRepository, invalidator Invalidator, lg *zap.Logger) *Admin {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Admin{
		repo:        repo,
		invalidator: invalidator,
		now:         time.Now,
		lg:          lg,
	}
}

// Create validates and stores a new rule. ID and timestamps are assigned here;
// a zero StartDate defaults to now.
func (a *Admin) Create(ctx context.Context, rule Rule) (*Rule, error) {
	now := a.now().UTC()
	rule.ID = uuid.NewString()
	if rule.StartDate.IsZero() {
		rule.StartDate = now
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := a.repo.Create(ctx, &rule); err != nil {
		return nil, errors.Wrap(err, "create rule")
	}
	a.invalidate(ctx, "create", rule.ID)
	return &rule, nil
}

// Update replaces the mutable fields of an existing rule.
func (a *Admin) Update(ctx context.Context, rule Rule) (*Rule, error) {
	existing, err := a.repo.GetByID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if rule.StartDate.IsZero() {
		rule.StartDate = existing.StartDate
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = a.now().UTC()

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := a.repo.Update(ctx, &rule); err != nil {
		return nil, errors.Wrap(err, "update rule")
	}
	a.invalidate(ctx, "update", rule.ID)
	return &rule, nil
}

// Deactivate soft-deletes a rule by clearing its Active flag.
func (a *Admin) Deactivate(ctx context.Context, id string) error {
	if err := a.repo.Deactivate(ctx, id, a.now().UTC()); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return err
		}
		return errors.Wrap(err, "deactivate rule")
	}
	a.invalidate(ctx, "deactivate", id)
	return nil
}

// Get returns a rule by ID.
func (a *Admin) Get(ctx context.Context, id string) (*Rule, error) {
	return a.repo.GetByID(ctx, id)
}

// List returns rules matching filter.
func (a *Admin) List(ctx context.Context, filter ListFilter) ([]Rule, error) {
	rules, err := a.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	return rules, nil
}

// ListActive returns rules that are active and inside their validity window
// at now, for any user.
func (a *Admin) ListActive(ctx context.Context, now time.Time) ([]Rule, error) {
	rules, err := a.repo.FetchRules(ctx, RuleFilter{ActiveOn: now, Loyalty: LoyaltyAny})
	if err != nil {
		return nil, errors.Wrap(err, "fetch active rules")
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if currentlyValid(r, now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *Admin) invalidate(ctx context.Context, op, ruleID string) {
	if a.invalidator == nil {
		return
	}
	if err := a.invalidator.Invalidate(ctx); err != nil {
		a.lg.Warn("Failed to invalidate discount cache",
			zap.String("op", op),
			zap.String("rule_id", ruleID),
			zap.Error(err),
		)
	}
}
