package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

const (
	ruleColumns = `id, name, active, start_date, end_date, scope, discount_type, discount_value,
		requires_loyalty, stackable, min_order_amount, min_quantity, category_id, variant_id,
		created_at, updated_at`

	fetchRulesSQL = `SELECT ` + ruleColumns + ` FROM discount_rules
		WHERE active AND start_date <= $1 AND (end_date IS NULL OR end_date >= $1)
		AND ($2::int = 0 OR requires_loyalty = ($2::int = 1))
		ORDER BY id`

	rulesByIDsSQL = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = ANY($1) ORDER BY id`

	getRuleSQL = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = $1`

	createRuleSQL = `INSERT INTO discount_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	upsertRuleSQL = createRuleSQL + `
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, active = EXCLUDED.active,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			scope = EXCLUDED.scope, discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value, requires_loyalty = EXCLUDED.requires_loyalty,
			stackable = EXCLUDED.stackable, min_order_amount = EXCLUDED.min_order_amount,
			min_quantity = EXCLUDED.min_quantity, category_id = EXCLUDED.category_id,
			variant_id = EXCLUDED.variant_id, updated_at = EXCLUDED.updated_at`

	updateRuleSQL = `UPDATE discount_rules SET
		name = $2, active = $3, start_date = $4, end_date = $5, scope = $6, discount_type = $7,
		discount_value = $8, requires_loyalty = $9, stackable = $10, min_order_amount = $11,
		min_quantity = $12, category_id = $13, variant_id = $14, updated_at = $15
		WHERE id = $1`

	deactivateRuleSQL = `UPDATE discount_rules SET active = FALSE, updated_at = $2 WHERE id = $1`

	foreignKeyViolation = "23503"
)

// ruleTargetError turns a foreign key violation on a rule target into a
// validation error. Other errors yield nil.
func ruleTargetError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "discount_rules_category_id_fkey":
		return &discount.ValidationError{Field: "category_id", Message: "category does not exist"}
	case "discount_rules_variant_id_fkey":
		return &discount.ValidationError{Field: "variant_id", Message: "product variant does not exist"}
	default:
		return &discount.ValidationError{Field: "rule", Message: "references a missing record"}
	}
}

var _ discount.RuleRepository = (*RuleRepository)(nil)

// RuleRepository implements discount.RuleRepository backed by PostgreSQL.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// FetchRules returns rules that are active and inside their window at
// filter.ActiveOn, narrowed by the loyalty filter.
func (r *RuleRepository) FetchRules(ctx context.Context, filter discount.RuleFilter) ([]discount.Rule, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, fetchRulesSQL, filter.ActiveOn, int(filter.Loyalty))
	if err != nil {
		return nil, fmt.Errorf("fetching rules: %w", err)
	}
	return pgx.CollectRows(rows, scanRule)
}

// RulesByIDs returns the rules with the given IDs regardless of state.
func (r *RuleRepository) RulesByIDs(ctx context.Context, ids []string) ([]discount.Rule, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, rulesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting rules by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanRule)
}

// GetByID returns a single rule.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*discount.Rule, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getRuleSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting rule %q: %w", id, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrRuleNotFound
		}
		return nil, fmt.Errorf("getting rule %q: %w", id, err)
	}
	return &rule, nil
}

// List returns rules matching filter ordered by creation time, newest first.
func (r *RuleRepository) List(ctx context.Context, filter discount.ListFilter) ([]discount.Rule, error) {
	query, args := listRulesQuery(filter)
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return pgx.CollectRows(rows, scanRule)
}

func listRulesQuery(filter discount.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if filter.Scope != "" {
		add("scope = ?", string(filter.Scope))
	}
	if filter.Kind != "" {
		add("discount_type = ?", string(filter.Kind))
	}
	if filter.Active != nil {
		add("active = ?", *filter.Active)
	}
	if filter.RequiresLoyalty != nil {
		add("requires_loyalty = ?", *filter.RequiresLoyalty)
	}
	if filter.Stackable != nil {
		add("stackable = ?", *filter.Stackable)
	}
	if filter.Search != "" {
		add("name ILIKE '%' || ? || '%'", filter.Search)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(ruleColumns)
	b.WriteString(" FROM discount_rules")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	return b.String(), args
}

// Create inserts a new rule.
func (r *RuleRepository) Create(ctx context.Context, rule *discount.Rule) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, createRuleSQL, ruleArgs(rule)...); err != nil {
		if vErr := ruleTargetError(err); vErr != nil {
			return vErr
		}
		return fmt.Errorf("creating rule %q: %w", rule.ID, err)
	}
	return nil
}

// Upsert inserts a rule or overwrites the one with the same ID.
func (r *RuleRepository) Upsert(ctx context.Context, rule *discount.Rule) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertRuleSQL, ruleArgs(rule)...); err != nil {
		if vErr := ruleTargetError(err); vErr != nil {
			return vErr
		}
		return fmt.Errorf("upserting rule %q: %w", rule.ID, err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing rule.
func (r *RuleRepository) Update(ctx context.Context, rule *discount.Rule) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateRuleSQL,
		rule.ID, rule.Name, rule.Active, rule.StartDate, rule.EndDate,
		string(rule.Scope), string(rule.Kind), rule.Value,
		rule.RequiresLoyalty, rule.Stackable,
		rule.Conditions.MinOrderAmount, rule.Conditions.MinQuantity,
		rule.CategoryID, rule.VariantID, rule.UpdatedAt,
	)
	if err != nil {
		if vErr := ruleTargetError(err); vErr != nil {
			return vErr
		}
		return fmt.Errorf("updating rule %q: %w", rule.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrRuleNotFound
	}
	return nil
}

// Deactivate clears the active flag of a rule.
func (r *RuleRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, deactivateRuleSQL, id, at)
	if err != nil {
		return fmt.Errorf("deactivating rule %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrRuleNotFound
	}
	return nil
}

func ruleArgs(rule *discount.Rule) []any {
	return []any{
		rule.ID, rule.Name, rule.Active, rule.StartDate, rule.EndDate,
		string(rule.Scope), string(rule.Kind), rule.Value,
		rule.RequiresLoyalty, rule.Stackable,
		rule.Conditions.MinOrderAmount, rule.Conditions.MinQuantity,
		rule.CategoryID, rule.VariantID, rule.CreatedAt, rule.UpdatedAt,
	}
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		rule        discount.Rule
		scope       string
		kind        string
		minAmount   decimal.NullDecimal
		minQuantity *int32
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Active, &rule.StartDate, &rule.EndDate,
		&scope, &kind, &rule.Value, &rule.RequiresLoyalty, &rule.Stackable,
		&minAmount, &minQuantity, &rule.CategoryID, &rule.VariantID,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	rule.Scope = discount.Scope(scope)
	rule.Kind = discount.Kind(kind)
	if minAmount.Valid {
		amount := minAmount.Decimal
		rule.Conditions.MinOrderAmount = &amount
	}
	if minQuantity != nil {
		q := int(*minQuantity)
		rule.Conditions.MinQuantity = &q
	}
	return rule, err
}
