package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-discounts/internal/domain/catalog"
)

const (
	listCategoriesSQL = `SELECT id, name, parent_id FROM categories ORDER BY id`

	getVariantsByIDsSQL = `SELECT v.id, v.product_id, v.name, p.category_id, v.price, v.active AND p.active
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1)`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Categories returns every category.
func (r *CatalogRepository) Categories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var c catalog.Category
		err := row.Scan(&c.ID, &c.Name, &c.ParentID)
		return c, err
	})
}

// VariantsByIDs returns variants matching any of the given IDs. A variant is
// active only when its product is active too.
func (r *CatalogRepository) VariantsByIDs(ctx context.Context, ids []string) ([]catalog.Variant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getVariantsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants by ids: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Variant, error) {
		var v catalog.Variant
		err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.CategoryID, &v.Price, &v.Active)
		return v, err
	})
}
