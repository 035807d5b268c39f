package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

const (
	upsertAppliedSQL = `INSERT INTO applied_discounts (order_id, rule_id, scope, discount_amount, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, rule_id) DO UPDATE SET
			scope = EXCLUDED.scope,
			discount_amount = EXCLUDED.discount_amount,
			metadata = EXCLUDED.metadata,
			updated_at = now()`

	deleteAppliedExceptSQL = `DELETE FROM applied_discounts
		WHERE order_id = $1 AND NOT (rule_id = ANY($2))`

	listAppliedSQL = `SELECT order_id, rule_id, scope, discount_amount, metadata
		FROM applied_discounts WHERE order_id = $1
		ORDER BY discount_amount DESC, rule_id`
)

var (
	_ discount.AttributionWriter = (*AppliedDiscountRepository)(nil)
	_ discount.AttributionReader = (*AppliedDiscountRepository)(nil)
)

// AppliedDiscountRepository stores per-rule discount attribution.
type AppliedDiscountRepository struct {
	pool *pgxpool.Pool
}

// NewAppliedDiscountRepository returns an AppliedDiscountRepository that uses
// the given pool.
func NewAppliedDiscountRepository(pool *pgxpool.Pool) *AppliedDiscountRepository {
	return &AppliedDiscountRepository{pool: pool}
}

// UpsertAppliedDiscount creates or overwrites the (order, rule) record.
func (r *AppliedDiscountRepository) UpsertAppliedDiscount(ctx context.Context, a discount.AppliedDiscount) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertAppliedSQL,
		a.OrderID, a.RuleID, string(a.Scope), a.Amount, encodeMetadata(a.Metadata),
	)
	if err != nil {
		return fmt.Errorf("upserting applied discount %q/%q: %w", a.OrderID, a.RuleID, err)
	}
	return nil
}

// DeleteAppliedDiscountsExcept removes the order's records for rules not in keep.
func (r *AppliedDiscountRepository) DeleteAppliedDiscountsExcept(ctx context.Context, orderID string, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	if _, err := conn(ctx, r.pool).Exec(ctx, deleteAppliedExceptSQL, orderID, keep); err != nil {
		return fmt.Errorf("pruning applied discounts of %q: %w", orderID, err)
	}
	return nil
}

// AppliedDiscounts lists an order's records, largest first.
func (r *AppliedDiscountRepository) AppliedDiscounts(ctx context.Context, orderID string) ([]discount.AppliedDiscount, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listAppliedSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing applied discounts of %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanApplied)
}

func scanApplied(row pgx.CollectableRow) (discount.AppliedDiscount, error) {
	var (
		a     discount.AppliedDiscount
		scope string
		meta  []byte
	)
	if err := row.Scan(&a.OrderID, &a.RuleID, &scope, &a.Amount, &meta); err != nil {
		return a, err
	}
	a.Scope = discount.Scope(scope)
	m, err := decodeMetadata(meta)
	if err != nil {
		return a, fmt.Errorf("decoding metadata of %q/%q: %w", a.OrderID, a.RuleID, err)
	}
	a.Metadata = m
	return a, nil
}

func encodeMetadata(m discount.Metadata) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.FieldStart("rule_name")
		e.Str(m.RuleName)
		e.FieldStart("discount_type")
		e.Str(string(m.Kind))
		e.FieldStart("discount_value")
		e.Str(m.Value.String())
		e.FieldStart("is_stackable")
		e.Bool(m.Stackable)
	})
	return append([]byte(nil), e.Bytes()...)
}

func decodeMetadata(data []byte) (discount.Metadata, error) {
	var m discount.Metadata
	if len(data) == 0 {
		return m, nil
	}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "rule_name":
			v, err := d.Str()
			m.RuleName = v
			return err
		case "discount_type":
			v, err := d.Str()
			m.Kind = discount.Kind(v)
			return err
		case "discount_value":
			v, err := d.Str()
			if err != nil {
				return err
			}
			m.Value, err = decimal.NewFromString(v)
			return err
		case "is_stackable":
			v, err := d.Bool()
			m.Stackable = v
			return err
		default:
			return d.Skip()
		}
	})
	return m, err
}
