package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// PreviewRule is one evaluated rule in a preview.
type PreviewRule struct {
	RuleID    string
	Name      string
	Scope     Scope
	Kind      Kind
	Value     decimal.Decimal
	Stackable bool
	Base      decimal.Decimal
	Amount    decimal.Decimal
	Applied   bool
	Reason    string
}

// Preview is the side-effect free result of evaluating a cart.
type Preview struct {
	Subtotal          decimal.Decimal
	Total             decimal.Decimal
	Rules             []PreviewRule
	StackableCount    int
	NonStackableCount int
	BestNonStackable  *PreviewRule
	Capped            bool
}

// Applied returns only the rules that contributed to the total.
func (p *Preview) Applied() []PreviewRule {
	out := make([]PreviewRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Applied {
			out = append(out, r)
		}
	}
	return out
}

// Engine evaluates discount rules for carts and orders.
type Engine struct {
	resolver     *Resolver
	cache        *RuleCache
	categories   CategorySource
	attributions AttributionWriter
	now          func() time.Time
	lg           *zap.Logger
	tracer       trace.Tracer
	applied      metric.Int64Counter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(lg *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.lg = lg
	}
}

// WithTracerProvider traces Preview and Commit with the given provider.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		e.tracer = tp.Tracer("kart/discount")
	}
}

// WithMeterProvider counts applied rules with the given provider.
func WithMeterProvider(mp metric.MeterProvider) EngineOption {
	return func(e *Engine) {
		e.applied = newAppliedCounter(mp)
	}
}

// NewEngine wires an Engine. cache may be nil to disable caching; categories
// may be nil, in which case category rules only match their exact category.
func NewEngine(store RuleStore, cache *RuleCache, categories CategorySource, attributions AttributionWriter, opts ...EngineOption) *Engine {
	e := &Engine{
		cache:        cache,
		categories:   categories,
		attributions: attributions,
		now:          time.Now,
		lg:           zap.NewNop(),
		tracer:       tracenoop.NewTracerProvider().Tracer("kart/discount"),
		applied:      newAppliedCounter(noop.NewMeterProvider()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(store, cache, e.lg)
	return e
}

func newAppliedCounter(mp metric.MeterProvider) metric.Int64Counter {
	counter, err := mp.Meter("kart/discount").Int64Counter("discount.rules.applied",
		metric.WithDescription("Discount rules applied by path and scope"),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("kart/discount").Int64Counter("discount.rules.applied")
	}
	return counter
}

// EligibleRules returns the rules the user may receive at now.
func (e *Engine) EligibleRules(ctx context.Context, user User, subtotal decimal.Decimal, now time.Time) ([]Rule, error) {
	return e.resolver.EligibleRules(ctx, user, subtotal, now)
}

// InvalidateCache drops the shared rule cache. Rule mutations must call it.
func (e *Engine) InvalidateCache(ctx context.Context) error {
	return e.cache.Invalidate(ctx)
}

// evaluation is the full outcome of running every eligible rule against a view.
type evaluation struct {
	candidates []Candidate
	rejected   []Candidate
	resolution Resolution
}

func (e *Engine) evaluate(ctx context.Context, view View) (*evaluation, error) {
	rules, err := e.resolver.EligibleRules(ctx, view.User, view.Subtotal, e.now())
	if err != nil {
		return nil, errors.Wrap(err, "eligible rules")
	}

	var tree CategoryTree
	if e.categories != nil && needsTree(rules) {
		tree, err = e.categories.CategoryTree(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "category tree")
		}
	}

	ev := &evaluation{}
	for _, rule := range rules {
		res := Evaluate(rule, view, tree)
		if res.Misconfigured() {
			e.lg.Warn("Discount rule misconfigured",
				zap.String("rule_id", rule.ID),
				zap.String("scope", string(rule.Scope)),
				zap.String("reason", res.Reason),
			)
		}
		c := Candidate{Rule: rule, Evaluation: res, Amount: decimal.Zero}
		if res.Qualifies {
			c.Amount = Calculate(res.Base, rule.Kind, rule.Value)
		}
		if c.Amount.IsPositive() {
			ev.candidates = append(ev.candidates, c)
		} else {
			ev.rejected = append(ev.rejected, c)
		}
	}
	ev.resolution = Resolve(ev.candidates, view.Subtotal)
	return ev, nil
}

func needsTree(rules []Rule) bool {
	for _, r := range rules {
		if r.Scope == ScopeCategory {
			return true
		}
	}
	return false
}

// Preview evaluates cart lines without persisting anything. Every eligible
// rule is reported with whether it was applied and why.
func (e *Engine) Preview(ctx context.Context, user User, lines []Line, subtotal decimal.Decimal) (*Preview, error) {
	ctx, span := e.tracer.Start(ctx, "discount.Preview")
	defer span.End()

	ev, err := e.evaluate(ctx, View{User: user, Subtotal: subtotal, Lines: lines})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res := ev.resolution

	p := &Preview{
		Subtotal:          subtotal,
		Total:             res.Total,
		StackableCount:    res.StackableCount,
		NonStackableCount: res.NonStackableCount,
		Capped:            res.Capped,
		Rules:             make([]PreviewRule, 0, len(ev.candidates)+len(ev.rejected)),
	}
	for _, c := range res.Applied {
		reason := ReasonAppliedStackable
		if !c.Rule.Stackable {
			reason = ReasonAppliedBest
		}
		p.Rules = append(p.Rules, previewRule(c, true, reason))
	}
	for _, c := range res.Outbid {
		p.Rules = append(p.Rules, previewRule(c, false, ReasonOutbidNonStacking))
	}
	for _, c := range ev.rejected {
		reason := c.Evaluation.Reason
		if reason == "" {
			reason = ReasonZeroDiscount
		}
		p.Rules = append(p.Rules, previewRule(c, false, "not applied: "+reason))
	}
	if res.Winner != nil {
		best := previewRule(*res.Winner, true, ReasonAppliedBest)
		p.BestNonStackable = &best
	}

	e.recordApplied(ctx, "preview", res.Applied)
	span.SetAttributes(
		attribute.Int("discount.rules_applied", len(res.Applied)),
		attribute.String("discount.total", res.Total.StringFixed(2)),
	)
	return p, nil
}

func previewRule(c Candidate, applied bool, reason string) PreviewRule {
	return PreviewRule{
		RuleID:    c.Rule.ID,
		Name:      c.Rule.Name,
		Scope:     c.Rule.Scope,
		Kind:      c.Rule.Kind,
		Value:     c.Rule.Value,
		Stackable: c.Rule.Stackable,
		Base:      c.Evaluation.Base,
		Amount:    c.Amount.Round(2),
		Applied:   applied,
		Reason:    reason,
	}
}

// Commit resolves discounts for a persisted order, upserts one attribution
// record per contributing rule and removes records of rules that no longer
// contribute. It returns the capped, rounded total. Callers should run it in
// the same transaction as the order total update; any persistence error is
// returned as is and nothing is retried.
func (e *Engine) Commit(ctx context.Context, order Order) (decimal.Decimal, error) {
	ctx, span := e.tracer.Start(ctx, "discount.Commit",
		trace.WithAttributes(attribute.String("order.id", order.ID)),
	)
	defer span.End()

	ev, err := e.evaluate(ctx, View{User: order.User, Subtotal: order.Subtotal, Lines: order.Lines})
	if err != nil {
		span.RecordError(err)
		return decimal.Zero, err
	}
	res := ev.resolution

	keep := make([]string, 0, len(res.Applied))
	for _, c := range res.Applied {
		applied := AppliedDiscount{
			OrderID:  order.ID,
			RuleID:   c.Rule.ID,
			Scope:    c.Rule.Scope,
			Amount:   c.Amount.Round(2),
			Metadata: c.Rule.metadata(),
		}
		if err := e.attributions.UpsertAppliedDiscount(ctx, applied); err != nil {
			span.RecordError(err)
			return decimal.Zero, errors.Wrapf(err, "upsert applied discount %s", c.Rule.ID)
		}
		keep = append(keep, c.Rule.ID)
	}
	if err := e.attributions.DeleteAppliedDiscountsExcept(ctx, order.ID, keep); err != nil {
		span.RecordError(err)
		return decimal.Zero, errors.Wrap(err, "prune applied discounts")
	}

	e.recordApplied(ctx, "commit", res.Applied)
	e.lg.Info("Order discount committed",
		zap.String("order_id", order.ID),
		zap.String("subtotal", order.Subtotal.StringFixed(2)),
		zap.String("discount", res.Total.StringFixed(2)),
		zap.Int("rules_applied", len(res.Applied)),
		zap.Bool("capped", res.Capped),
	)
	return res.Total, nil
}

func (e *Engine) recordApplied(ctx context.Context, path string, applied []Candidate) {
	for _, c := range applied {
		e.applied.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path", path),
			attribute.String("scope", string(c.Rule.Scope)),
		))
	}
}
